// Package cli provides the portsweep command line. The root command runs a
// scan; subcommands inspect the local machine.
package cli

import (
	stderrors "errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/anstrom/portsweep/internal/config"
	"github.com/anstrom/portsweep/internal/errors"
	"github.com/anstrom/portsweep/internal/logging"
)

const (
	envPrefix         = "PORTSWEEP"
	defaultConfigFile = "config.yaml"

	exitFailure     = 1
	exitConfigError = 2
)

// Build information - these will be set by ldflags during build.
var (
	version   = "dev"
	commit    = "none"
	buildTime = "unknown"
)

// flagKeys maps command line flags to configuration keys.
var flagKeys = map[string]string{
	"interface":      "target.interface",
	"ip-range":       "target.ip_range",
	"port-range":     "target.port_range",
	"output":         "output.file",
	"workers":        "scanning.workers",
	"idle-timeout":   "scanning.idle_timeout",
	"max-in-flight":  "scanning.max_in_flight",
	"service-lookup": "scanning.service_lookup",
	"metrics-file":   "metrics.textfile",
	"verbose":        "verbose",
}

// options carries the state of one command tree.
type options struct {
	cfgFile string
	viper   *viper.Viper
}

// newRootCmd builds the command tree with its own flag and environment bindings.
func newRootCmd() *cobra.Command {
	opts := &options{viper: viper.New()}
	defaults := config.Default()

	cmd := &cobra.Command{
		Use:   "portsweep",
		Short: "Fast TCP connect scanner",
		Long: `portsweep sweeps every host of a subnet for open TCP ports using
non-blocking connects, names the process behind each open port when it can,
and writes the results to a JSON file.

The subnet is either given explicitly with --ip-range or derived as the /24
around the IPv4 address of --interface.`,
		Example: `  portsweep -i eth0 -p 20-80
  portsweep -r 192.168.1.0/24
  portsweep -r 10.0.0.5 -p 22,80,443 -o /tmp/ports.json --service-lookup none`,
		Version:       getVersion(),
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runScan(cmd, opts)
		},
	}
	cmd.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return errors.WrapConfigError(errors.CodeValidation, "invalid flag", err)
	})

	pf := cmd.PersistentFlags()
	pf.StringVar(&opts.cfgFile, "config", "", "config file (default is ./config.yaml)")
	pf.BoolP("verbose", "v", false, "verbose output")

	f := cmd.Flags()
	f.StringP("interface", "i", "", "network interface whose /24 is scanned")
	f.StringP("ip-range", "r", "", "CIDR range or comma-separated targets (wins over --interface)")
	f.StringP("port-range", "p", "", "ports to scan, e.g. '20-80' or '22,80,443' (default all)")
	f.StringP("output", "o", defaults.Output.File, "JSON report path")
	f.Int("workers", defaults.Scanning.Workers, "hosts scanned in parallel")
	f.Duration("idle-timeout", defaults.Scanning.IdleTimeout, "wait after which silent ports are given up on")
	f.Int("max-in-flight", defaults.Scanning.MaxInFlight, "pending connects per host")
	f.String("service-lookup", defaults.Scanning.ServiceLookup, "service lookup backend: lsof or none")
	f.String("metrics-file", "", "write Prometheus metrics to this textfile after the scan")

	cmd.AddCommand(newInterfacesCmd())
	return cmd
}

// Execute runs the root command and exits with a status derived from the error.
// This is called by main.main().
func Execute() {
	cmd := newRootCmd()
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(exitCode(err))
	}
}

// exitCode maps failures that stopped the run before scanning to 2 and
// everything else to 1.
func exitCode(err error) int {
	if errors.IsFatal(err) {
		return exitConfigError
	}
	return exitFailure
}

// loadConfig reads the config file and applies flag and environment overrides.
func loadConfig(cmd *cobra.Command, opts *options) (*config.Config, error) {
	path := opts.cfgFile
	if path != "" {
		if _, err := os.Stat(path); err != nil {
			return nil, errors.WrapConfigError(errors.CodeConfiguration,
				fmt.Sprintf("cannot read config file %s", path), err)
		}
	} else {
		path = defaultConfigFile
	}

	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}

	if err := bindFlags(opts.viper, cmd.Flags()); err != nil {
		return nil, fmt.Errorf("failed to bind flags: %w", err)
	}
	applyOverrides(opts.viper, cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// bindFlags ties flags and PORTSWEEP_* environment variables to config keys.
func bindFlags(v *viper.Viper, flags *pflag.FlagSet) error {
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	for name, key := range flagKeys {
		flag := flags.Lookup(name)
		if flag == nil {
			return fmt.Errorf("unknown flag %q", name)
		}
		if err := v.BindPFlag(key, flag); err != nil {
			return err
		}
	}
	return nil
}

// applyOverrides copies every key that was set on the command line or in the
// environment over the file configuration.
func applyOverrides(v *viper.Viper, cfg *config.Config) {
	strs := map[string]*string{
		"target.interface":        &cfg.Target.Interface,
		"target.ip_range":         &cfg.Target.IPRange,
		"target.port_range":       &cfg.Target.PortRange,
		"output.file":             &cfg.Output.File,
		"scanning.service_lookup": &cfg.Scanning.ServiceLookup,
		"metrics.textfile":        &cfg.Metrics.Textfile,
		"logging.level":           &cfg.Logging.Level,
		"logging.format":          &cfg.Logging.Format,
		"logging.output":          &cfg.Logging.Output,
	}
	for key, dst := range strs {
		if v.IsSet(key) {
			*dst = v.GetString(key)
		}
	}

	ints := map[string]*int{
		"scanning.workers":          &cfg.Scanning.Workers,
		"scanning.max_in_flight":    &cfg.Scanning.MaxInFlight,
		"scanning.max_open_sockets": &cfg.Scanning.MaxOpenSockets,
		"scanning.host_retries":     &cfg.Scanning.HostRetries,
	}
	for key, dst := range ints {
		if v.IsSet(key) {
			*dst = v.GetInt(key)
		}
	}

	if v.IsSet("scanning.idle_timeout") {
		cfg.Scanning.IdleTimeout = v.GetDuration("scanning.idle_timeout")
	}
	if v.IsSet("scanning.lookup_timeout") {
		cfg.Scanning.LookupTimeout = v.GetDuration("scanning.lookup_timeout")
	}
	if v.IsSet("output.summary") {
		cfg.Output.Summary = v.GetBool("output.summary")
	}
	if v.GetBool("verbose") {
		cfg.Logging.Level = string(logging.LevelDebug)
	}
}

// initLogging installs the configured logger as the package default.
func initLogging(cfg *config.Config) (*logging.Logger, error) {
	logger, err := logging.New(logging.Config{
		Level:     logging.LogLevel(cfg.Logging.Level),
		Format:    logging.LogFormat(cfg.Logging.Format),
		Output:    cfg.Logging.Output,
		AddSource: cfg.Logging.Level == string(logging.LevelDebug),
	})
	if err != nil {
		var pathErr *os.PathError
		if stderrors.As(err, &pathErr) {
			return nil, errors.WrapConfigError(errors.CodeConfiguration, "cannot open log output", err)
		}
		return nil, err
	}
	logging.SetDefault(logger)
	return logger, nil
}

// getVersion returns the version string.
func getVersion() string {
	return fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildTime)
}

// SetVersion sets the version information (called from main).
func SetVersion(v, c, bt string) {
	version = v
	commit = c
	buildTime = bt
}
