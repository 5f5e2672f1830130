// Package metrics provides Prometheus-based metrics collection for portsweep.
// A scan is a short-lived batch run, so metrics are exported once at the end
// through the node-exporter textfile format rather than served over HTTP.
package metrics

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const (
	// Namespace for all portsweep metrics
	namespace = "portsweep"

	// Subsystems
	subsystemScan    = "scan"
	subsystemService = "service"
)

// Host outcomes.
const (
	HostCompleted = "completed"
	HostFailed    = "failed"
	HostCanceled  = "canceled"
)

// Port states.
const (
	PortOpen    = "open"
	PortClosed  = "closed"
	PortExpired = "expired"
)

// Service lookup outcomes.
const (
	LookupIdentified = "identified"
	LookupUnknown    = "unknown"
)

// PrometheusMetrics holds all Prometheus metric collectors. A nil
// *PrometheusMetrics is valid and records nothing.
type PrometheusMetrics struct {
	hostsTotal     *prometheus.CounterVec
	portsTotal     *prometheus.CounterVec
	hostDuration   prometheus.Histogram
	activeHosts    prometheus.Gauge
	openSockets    prometheus.Gauge
	serviceLookups *prometheus.CounterVec
	runDuration    prometheus.Gauge
	lastRun        prometheus.Gauge

	registry *prometheus.Registry
}

// NewPrometheusMetrics creates a new Prometheus metrics instance with all collectors
func NewPrometheusMetrics() *PrometheusMetrics {
	registry := prometheus.NewRegistry()

	pm := &PrometheusMetrics{registry: registry}
	pm.initScanMetrics()
	pm.initServiceMetrics()
	pm.registerMetrics()

	// Standard Go and process collectors for runtime visibility
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	return pm
}

func (pm *PrometheusMetrics) initScanMetrics() {
	pm.hostsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemScan,
			Name:      "hosts_total",
			Help:      "Total number of hosts scanned by outcome",
		},
		[]string{"status"},
	)

	pm.portsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemScan,
			Name:      "ports_total",
			Help:      "Total number of ports attempted by observed state",
		},
		[]string{"state"},
	)

	pm.hostDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystemScan,
			Name:      "host_duration_seconds",
			Help:      "Wall-clock time spent sweeping a single host",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1.0, 2.0, 5.0, 10.0, 30.0, 60.0},
		},
	)

	pm.activeHosts = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystemScan,
			Name:      "active_hosts",
			Help:      "Number of host scans currently running",
		},
	)

	pm.openSockets = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystemScan,
			Name:      "open_sockets",
			Help:      "Number of scan sockets currently held across all hosts",
		},
	)

	pm.runDuration = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystemScan,
			Name:      "run_duration_seconds",
			Help:      "Duration of the last complete scan run",
		},
	)

	pm.lastRun = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystemScan,
			Name:      "last_run_timestamp_seconds",
			Help:      "Unix time at which the last scan run finished",
		},
	)
}

func (pm *PrometheusMetrics) initServiceMetrics() {
	pm.serviceLookups = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemService,
			Name:      "lookups_total",
			Help:      "Total number of service lookups by outcome",
		},
		[]string{"result"},
	)
}

func (pm *PrometheusMetrics) registerMetrics() {
	pm.registry.MustRegister(pm.hostsTotal)
	pm.registry.MustRegister(pm.portsTotal)
	pm.registry.MustRegister(pm.hostDuration)
	pm.registry.MustRegister(pm.activeHosts)
	pm.registry.MustRegister(pm.openSockets)
	pm.registry.MustRegister(pm.runDuration)
	pm.registry.MustRegister(pm.lastRun)
	pm.registry.MustRegister(pm.serviceLookups)
}

// GetRegistry returns the Prometheus registry
func (pm *PrometheusMetrics) GetRegistry() *prometheus.Registry {
	return pm.registry
}

// IncrementHostsScanned counts a finished host by outcome
func (pm *PrometheusMetrics) IncrementHostsScanned(status string) {
	if pm == nil {
		return
	}
	pm.hostsTotal.WithLabelValues(status).Inc()
}

// AddPorts adds count ports observed in state
func (pm *PrometheusMetrics) AddPorts(state string, count int) {
	if pm == nil || count <= 0 {
		return
	}
	pm.portsTotal.WithLabelValues(state).Add(float64(count))
}

// RecordHostDuration records the time spent on one host
func (pm *PrometheusMetrics) RecordHostDuration(duration time.Duration) {
	if pm == nil {
		return
	}
	pm.hostDuration.Observe(duration.Seconds())
}

// HostStarted marks a host scan as running
func (pm *PrometheusMetrics) HostStarted() {
	if pm == nil {
		return
	}
	pm.activeHosts.Inc()
}

// HostFinished marks a host scan as no longer running
func (pm *PrometheusMetrics) HostFinished() {
	if pm == nil {
		return
	}
	pm.activeHosts.Dec()
}

// AddOpenSockets adjusts the open socket gauge by delta
func (pm *PrometheusMetrics) AddOpenSockets(delta int) {
	if pm == nil || delta == 0 {
		return
	}
	pm.openSockets.Add(float64(delta))
}

// IncrementServiceLookups counts one service lookup by outcome
func (pm *PrometheusMetrics) IncrementServiceLookups(result string) {
	if pm == nil {
		return
	}
	pm.serviceLookups.WithLabelValues(result).Inc()
}

// RecordRun records the duration and completion time of a scan run
func (pm *PrometheusMetrics) RecordRun(duration time.Duration, finished time.Time) {
	if pm == nil {
		return
	}
	pm.runDuration.Set(duration.Seconds())
	pm.lastRun.Set(float64(finished.Unix()))
}

// WriteTextfile writes the registry in the Prometheus text exposition format,
// suitable for the node-exporter textfile collector.
func (pm *PrometheusMetrics) WriteTextfile(path string) error {
	if pm == nil {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create metrics directory: %w", err)
	}
	if err := prometheus.WriteToTextfile(path, pm.registry); err != nil {
		return fmt.Errorf("failed to write metrics textfile: %w", err)
	}
	return nil
}
