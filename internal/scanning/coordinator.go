package scanning

import (
	"context"
	"net/netip"
	"runtime"
	"time"

	"github.com/google/uuid"

	"github.com/anstrom/portsweep/internal/errors"
	"github.com/anstrom/portsweep/internal/logging"
	"github.com/anstrom/portsweep/internal/metrics"
	"github.com/anstrom/portsweep/internal/targets"
	"github.com/anstrom/portsweep/internal/workers"
)

const hostJobType = "host_scan"

// hostScanner is the part of HostScanner the coordinator depends on.
type hostScanner interface {
	Scan(ctx context.Context, host netip.Addr, ports targets.PortRange) (*HostResult, error)
}

// hostJob sweeps one host. It owns its result until the coordinator collects it.
type hostJob struct {
	host    netip.Addr
	ports   targets.PortRange
	scanner hostScanner
	metrics *metrics.PrometheusMetrics
	result  *HostResult
}

func (j *hostJob) Execute(ctx context.Context) error {
	j.metrics.HostStarted()
	defer j.metrics.HostFinished()

	result, err := j.scanner.Scan(ctx, j.host, j.ports)
	if err != nil {
		return err
	}
	j.result = result
	return nil
}

func (j *hostJob) ID() string {
	return j.host.String()
}

func (j *hostJob) Type() string {
	return hostJobType
}

// CoordinatorConfig sizes the worker pool.
type CoordinatorConfig struct {
	// Workers is the number of hosts scanned in parallel. Zero selects NumCPU.
	Workers int
	// HostRetries is the number of extra attempts for a failed host.
	HostRetries int
	// RetryDelay separates host attempts.
	RetryDelay time.Duration
	// ScanID tags logs and the report. Empty generates a UUID.
	ScanID string
}

// Coordinator fans hosts out to a fixed worker pool, one job per host, and
// merges their results into a Report.
type Coordinator struct {
	scanner hostScanner
	config  CoordinatorConfig
	logger  *logging.Logger
	metrics *metrics.PrometheusMetrics
}

// NewCoordinator creates a coordinator driving scanner.
func NewCoordinator(scanner hostScanner, config CoordinatorConfig,
	logger *logging.Logger, m *metrics.PrometheusMetrics) *Coordinator {
	if config.Workers <= 0 {
		config.Workers = runtime.NumCPU()
	}
	if config.ScanID == "" {
		config.ScanID = uuid.NewString()
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Coordinator{
		scanner: scanner,
		config:  config,
		logger:  logger.WithComponent("coordinator").WithScanID(config.ScanID),
		metrics: m,
	}
}

// ScanID returns the identifier of the run.
func (c *Coordinator) ScanID() string {
	return c.config.ScanID
}

// Run scans every host against ports. A host whose scan fails is logged,
// recorded in Report.Failures and left out of Report.Hosts; the run goes on.
// When ctx is cancelled Run returns the partial report together with ctx.Err().
func (c *Coordinator) Run(ctx context.Context, hosts []netip.Addr, ports targets.PortRange) (*Report, error) {
	report := NewReport(c.config.ScanID, ports)
	defer func() {
		report.EndTime = time.Now()
		c.metrics.RecordRun(report.Duration(), report.EndTime)
	}()

	if len(hosts) == 0 {
		c.logger.Warn("No hosts to scan")
		return report, nil
	}

	poolSize := min(c.config.Workers, len(hosts))
	c.logger.Info("Starting scan",
		"hosts", len(hosts),
		"ports", ports.Len(),
		"workers", poolSize)

	pool := workers.New(ctx, workers.Config{
		Size:       poolSize,
		QueueSize:  poolSize,
		MaxRetries: c.config.HostRetries,
		RetryDelay: c.config.RetryDelay,
		Logger:     c.logger,
	})
	pool.Start()

	submitted := make(chan error, 1)
	go func() {
		defer pool.Close()
		for _, host := range hosts {
			job := &hostJob{host: host, ports: ports, scanner: c.scanner, metrics: c.metrics}
			if err := pool.Submit(ctx, job); err != nil {
				submitted <- err
				return
			}
		}
		submitted <- nil
	}()

	done := 0
	for r := range pool.Results() {
		job := r.Job.(*hostJob)
		done++
		c.metrics.RecordHostDuration(r.Duration)

		if r.Error != nil {
			if ctx.Err() != nil {
				c.metrics.IncrementHostsScanned(metrics.HostCanceled)
				continue
			}
			err := r.Error
			if !errors.IsCode(err, errors.CodeScanFailed) {
				err = errors.ErrHostScanFailed(job.ID(), err)
			}
			report.Failures[job.host] = err
			c.metrics.IncrementHostsScanned(metrics.HostFailed)
			c.logger.ErrorScan("Error scanning host", job.ID(), err,
				"retries", r.Retries,
				"hosts_done", done,
				"hosts_total", len(hosts))
			continue
		}

		report.Hosts[job.host] = job.result
		c.metrics.IncrementHostsScanned(metrics.HostCompleted)
		c.logger.InfoScan("Host scan complete", job.ID(),
			"open_ports", len(job.result.Ports),
			"duration", job.result.Duration,
			"hosts_done", done,
			"hosts_total", len(hosts))
	}

	if err := ctx.Err(); err != nil {
		c.logger.Warn("Scan cancelled", "hosts_done", len(report.Hosts), "hosts_total", len(hosts))
		return report, err
	}
	if err := <-submitted; err != nil {
		return report, err
	}

	c.logger.Info("Scan complete",
		"hosts_scanned", len(report.Hosts),
		"hosts_failed", len(report.Failures),
		"open_ports", report.OpenPortCount(),
		"duration", time.Since(report.StartTime))
	return report, nil
}
