package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/anstrom/portsweep/internal/config"
	"github.com/anstrom/portsweep/internal/errors"
	"github.com/anstrom/portsweep/internal/logging"
	"github.com/anstrom/portsweep/internal/metrics"
	"github.com/anstrom/portsweep/internal/report"
	"github.com/anstrom/portsweep/internal/scanning"
	"github.com/anstrom/portsweep/internal/targets"
)

// sizeBudget is replaced in tests.
var sizeBudget = scanning.BudgetSize

func runScan(cmd *cobra.Command, opts *options) error {
	cfg, err := loadConfig(cmd, opts)
	if err != nil {
		return err
	}

	logger, err := initLogging(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Close() }()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return executeScan(ctx, cfg, cmd.OutOrStdout(), logger)
}

// executeScan resolves targets, runs the scan and writes its artifacts. All
// input is validated before the first socket is opened.
func executeScan(ctx context.Context, cfg *config.Config, out io.Writer, logger *logging.Logger) error {
	ports, err := targets.ParsePortRange(cfg.Target.PortRange)
	if err != nil {
		return err
	}
	hosts, err := targets.NewResolver().Resolve(targets.Spec{
		Interface: cfg.Target.Interface,
		CIDR:      cfg.Target.IPRange,
	})
	if err != nil {
		return err
	}

	budgetSize, err := sizeBudget(cfg.Scanning.MaxOpenSockets)
	if err != nil {
		return errors.WrapConfigError(errors.CodeConfiguration, "Cannot size socket budget", err)
	}

	var m *metrics.PrometheusMetrics
	if cfg.Metrics.Textfile != "" {
		m = metrics.NewPrometheusMetrics()
	}

	scanner := scanning.NewHostScanner(
		scanning.Options{
			IdleTimeout: cfg.Scanning.IdleTimeout,
			MaxInFlight: cfg.Scanning.MaxInFlight,
		},
		scanning.WithSocketBudget(scanning.NewSocketBudget(budgetSize, m)),
		scanning.WithIdentifier(newIdentifier(cfg.Scanning)),
		scanning.WithLogger(logger),
		scanning.WithMetrics(m),
	)
	coordinator := scanning.NewCoordinator(scanner, scanning.CoordinatorConfig{
		Workers:     cfg.Scanning.Workers,
		HostRetries: cfg.Scanning.HostRetries,
	}, logger, m)

	logger.Info("Starting scan",
		"scan_id", coordinator.ScanID(),
		"hosts", len(hosts),
		"ports", ports.String(),
		"workers", cfg.Scanning.Workers,
		"socket_budget", budgetSize)

	result, err := coordinator.Run(ctx, hosts, ports)
	writeMetrics(m, cfg.Metrics.Textfile, logger)
	if err != nil {
		return errors.WrapScanError(errors.CodeCanceled, "Scan interrupted, no report written", err)
	}

	path, err := report.WriteJSON(cfg.Output.File, result)
	if err != nil {
		return err
	}

	if cfg.Output.Summary {
		if err := report.PrintSummary(out, result); err != nil {
			logger.WithError(err).Warn("Failed to print summary")
		}
	}
	fmt.Fprintf(out, "Scan finished. Results saved in %s\n", path)

	logger.Info("Scan complete",
		"scan_id", result.ScanID,
		"hosts", len(result.Hosts),
		"failed", len(result.Failures),
		"open_ports", result.OpenPortCount(),
		"duration", result.Duration())
	return nil
}

func newIdentifier(cfg config.ScanningConfig) scanning.ServiceIdentifier {
	if cfg.ServiceLookup == config.LookupNone {
		return scanning.NoopIdentifier{}
	}
	return scanning.NewLsofIdentifier(cfg.LookupTimeout)
}

func writeMetrics(m *metrics.PrometheusMetrics, path string, logger *logging.Logger) {
	if m == nil || path == "" {
		return
	}
	if err := m.WriteTextfile(path); err != nil {
		logger.WithError(err).Warn("Failed to write metrics textfile", "path", path)
		return
	}
	logger.Debug("Metrics written", "path", path)
}
