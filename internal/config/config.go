package config

import (
	"fmt"
	"strings"
	"time"
)

// TraceProtocol selects the OTLP transport used for span export.
type TraceProtocol string

const (
	TraceProtocolGRPC TraceProtocol = "grpc"
	TraceProtocolHTTP TraceProtocol = "http"
)

// Config holds one benchmark run's settings.
type Config struct {
	Target     string `mapstructure:"target"`
	NetDir     string `mapstructure:"net_dir"`
	OutputDir  string `mapstructure:"output_dir"`
	Samples    int    `mapstructure:"samples"`
	ConfigFile string `mapstructure:"-"`

	// External collaborator binaries.
	ProvisionerCmd string `mapstructure:"provisioner_cmd"`
	ClientCmd      string `mapstructure:"client_cmd"`
	BenchCmd       string `mapstructure:"bench_cmd"`

	ProvisionTimeout time.Duration `mapstructure:"provision_timeout"`
	StartTimeout     time.Duration `mapstructure:"start_timeout"`
	StopTimeout      time.Duration `mapstructure:"stop_timeout"`
	BenchTimeout     time.Duration `mapstructure:"bench_timeout"`
	TeardownTimeout  time.Duration `mapstructure:"teardown_timeout"`

	BenchLogLevel string   `mapstructure:"bench_log"`
	LogLevel      string   `mapstructure:"log_level"`
	JSONOutput    bool     `mapstructure:"json_output"`
	Thresholds    []string `mapstructure:"thresholds"`

	Tracing TracingConfig `mapstructure:"tracing"`
}

// TracingConfig controls OTLP span export for the run pipeline.
type TracingConfig struct {
	Enabled    bool          `mapstructure:"enabled"`
	Endpoint   string        `mapstructure:"endpoint"`
	Protocol   TraceProtocol `mapstructure:"protocol"`
	Insecure   bool          `mapstructure:"insecure"`
	SampleRate float64       `mapstructure:"sample_rate"`
}

type ValidationError struct {
	issues []string
}

func (e ValidationError) Error() string {
	if len(e.issues) == 0 {
		return "validation failed"
	}
	return fmt.Sprintf("validation failed: %s", strings.Join(e.issues, "; "))
}

func (e ValidationError) Issues() []string {
	return append([]string(nil), e.issues...)
}

func (c Config) Validate() error {
	var issues []string

	if strings.TrimSpace(c.Target) == "" {
		issues = append(issues, "target is required (use --help for usage information)")
	}
	if strings.TrimSpace(c.OutputDir) == "" {
		issues = append(issues, "output-dir is required")
	}
	if c.Samples < 1 {
		issues = append(issues, "samples must be >= 1")
	}
	if strings.TrimSpace(c.ProvisionerCmd) == "" {
		issues = append(issues, "provisioner-cmd is required")
	}
	if strings.TrimSpace(c.ClientCmd) == "" {
		issues = append(issues, "client-cmd is required")
	}
	if strings.TrimSpace(c.BenchCmd) == "" {
		issues = append(issues, "bench-cmd is required")
	}
	if c.ProvisionTimeout < 0 {
		issues = append(issues, "provision-timeout must be >= 0")
	}
	if c.StartTimeout <= 0 {
		issues = append(issues, "start-timeout must be > 0")
	}
	if c.StopTimeout <= 0 {
		issues = append(issues, "stop-timeout must be > 0")
	}
	if c.BenchTimeout < 0 {
		issues = append(issues, "bench-timeout must be >= 0")
	}
	if c.TeardownTimeout < 0 {
		issues = append(issues, "teardown-timeout must be >= 0")
	}

	switch strings.ToLower(strings.TrimSpace(c.LogLevel)) {
	case "", "debug", "info", "warn", "error":
	default:
		issues = append(issues, fmt.Sprintf("log-level must be 'debug', 'info', 'warn', or 'error', got %q", c.LogLevel))
	}

	issues = append(issues, validateTracingConfig(c.Tracing)...)

	if len(issues) > 0 {
		return ValidationError{issues: issues}
	}

	return nil
}

func validateTracingConfig(tc TracingConfig) []string {
	var issues []string
	if !tc.Enabled {
		return nil
	}
	switch tc.Protocol {
	case TraceProtocolGRPC, TraceProtocolHTTP:
	default:
		issues = append(issues, fmt.Sprintf("trace-protocol must be 'grpc' or 'http', got %q", tc.Protocol))
	}
	if tc.SampleRate < 0 || tc.SampleRate > 1 {
		issues = append(issues, "trace-sample-rate must be between 0 and 1")
	}
	return issues
}
