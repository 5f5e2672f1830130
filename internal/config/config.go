// Package config defines the portsweep configuration file format, its
// defaults, and validation.
package config

import (
	stderrors "errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"runtime"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/anstrom/portsweep/internal/errors"
)

const (
	// DefaultOutputFile is written to the working directory after a successful scan.
	DefaultOutputFile = "open_ports.json"

	defaultIdleTimeout   = time.Second
	defaultMaxInFlight   = 1024
	defaultLookupTimeout = 2 * time.Second
)

// Service lookup backends.
const (
	LookupLsof = "lsof"
	LookupNone = "none"
)

// Config represents the complete scanner configuration
type Config struct {
	// Which hosts and ports to scan
	Target TargetConfig `yaml:"target" json:"target"`

	// Scan engine tuning
	Scanning ScanningConfig `yaml:"scanning" json:"scanning"`

	// Report destination
	Output OutputConfig `yaml:"output" json:"output"`

	// Metrics export
	Metrics MetricsConfig `yaml:"metrics" json:"metrics"`

	// Logging configuration
	Logging LoggingConfig `yaml:"logging" json:"logging"`
}

// TargetConfig selects the scan targets.
type TargetConfig struct {
	// Local interface whose IPv4 address seeds a /24 range
	Interface string `yaml:"interface" json:"interface"`

	// Explicit CIDR range; wins over Interface
	IPRange string `yaml:"ip_range" json:"ip_range"`

	// Inclusive port range such as "20-80"; empty scans all ports
	PortRange string `yaml:"port_range" json:"port_range"`
}

// ScanningConfig holds scan engine settings
type ScanningConfig struct {
	// Number of hosts scanned in parallel
	Workers int `yaml:"workers" json:"workers" validate:"min=1,max=4096"`

	// Wait interval after which silent sockets are considered unreachable
	IdleTimeout time.Duration `yaml:"idle_timeout" json:"idle_timeout" validate:"min=10ms,max=1m"`

	// Maximum pending connects per host
	MaxInFlight int `yaml:"max_in_flight" json:"max_in_flight" validate:"min=1,max=65535"`

	// Cap on sockets open across all hosts; 0 derives it from RLIMIT_NOFILE
	MaxOpenSockets int `yaml:"max_open_sockets" json:"max_open_sockets" validate:"min=0"`

	// Extra attempts for a host whose scan fails outright
	HostRetries int `yaml:"host_retries" json:"host_retries" validate:"min=0,max=10"`

	// Service lookup backend
	ServiceLookup string `yaml:"service_lookup" json:"service_lookup" validate:"oneof=lsof none"`

	// Time limit for one service lookup
	LookupTimeout time.Duration `yaml:"lookup_timeout" json:"lookup_timeout" validate:"min=0"`
}

// OutputConfig holds report settings
type OutputConfig struct {
	// Path of the JSON report
	File string `yaml:"file" json:"file" validate:"required"`

	// Print a summary table to stdout
	Summary bool `yaml:"summary" json:"summary"`
}

// MetricsConfig holds metrics export settings
type MetricsConfig struct {
	// Prometheus textfile written after the scan; empty disables it
	Textfile string `yaml:"textfile" json:"textfile"`
}

// LoggingConfig holds logging settings
type LoggingConfig struct {
	// Log level (debug, info, warn, error)
	Level string `yaml:"level" json:"level" validate:"oneof=debug info warn error"`

	// Log format (text, json)
	Format string `yaml:"format" json:"format" validate:"oneof=text json"`

	// Log output (stdout, stderr, file path)
	Output string `yaml:"output" json:"output"`
}

// Default returns a configuration with sensible defaults
func Default() *Config {
	return &Config{
		Scanning: ScanningConfig{
			Workers:       runtime.NumCPU(),
			IdleTimeout:   defaultIdleTimeout,
			MaxInFlight:   defaultMaxInFlight,
			HostRetries:   0,
			ServiceLookup: LookupLsof,
			LookupTimeout: defaultLookupTimeout,
		},
		Output: OutputConfig{
			File:    DefaultOutputFile,
			Summary: true,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			Output: "stderr",
		},
	}
}

// Load loads configuration from a file. A missing or empty path yields the
// defaults. The result is not validated: callers layer flag and environment
// overrides on top and call Validate on the final configuration.
func Load(path string) (*Config, error) {
	config := Default()

	if path == "" {
		return config, nil
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return config, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.WrapConfigError(errors.CodeConfiguration, "failed to read config file", err)
	}

	// YAML is a superset of JSON, so one decoder covers both extensions
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, errors.WrapConfigError(errors.CodeConfiguration,
			fmt.Sprintf("failed to parse %s config", configKind(path)), err)
	}

	return config, nil
}

func configKind(path string) string {
	switch filepath.Ext(path) {
	case ".json":
		return "JSON"
	default:
		return "YAML"
	}
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	// Report fields by their config file names.
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name := strings.SplitN(field.Tag.Get("yaml"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var fieldErrs validator.ValidationErrors
		if stderrors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
			fe := fieldErrs[0]
			field := strings.TrimPrefix(fe.Namespace(), "Config.")
			cfgErr := errors.NewConfigFieldError(errors.CodeValidation,
				fmt.Sprintf("failed %q constraint", fe.Tag()), field, fe.Value())
			cfgErr.Cause = err
			return cfgErr
		}
		return errors.WrapConfigError(errors.CodeValidation, "invalid configuration", err)
	}

	if c.Scanning.MaxOpenSockets > 0 && c.Scanning.MaxOpenSockets < c.Scanning.MaxInFlight {
		return errors.NewConfigFieldError(errors.CodeValidation,
			"max open sockets must be at least max in flight",
			"scanning.max_open_sockets", c.Scanning.MaxOpenSockets)
	}

	return nil
}
