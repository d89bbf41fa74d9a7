package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// RegisterFlags registers all CLI flags to a cobra command.
func RegisterFlags(cmd *cobra.Command) {
	configureFlags(cmd.Flags())
}

// newFlagCommand creates a cobra command with all flags configured.
func newFlagCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "overbench [target]",
		SilenceErrors: true,
		SilenceUsage:  true,
	}
	cmd.SetOut(os.Stdout)
	configureFlags(cmd.Flags())
	return cmd
}

// configureFlags sets up all CLI flags on the provided flag set.
func configureFlags(flags *pflag.FlagSet) {
	// Run selection flags
	flags.String("target", "", "Benchmark target name (default: reference)")
	flags.String("net-dir", "", "Topology working directory (defaults to $OVERBENCH_NET_DIR)")
	flags.StringP("output-dir", "o", "results", "Directory for benchmark artifacts and reports")
	flags.IntP("samples", "n", 1, "Number of benchmark samples to collect")

	// Collaborator binaries
	flags.String("provisioner-cmd", "latticesim", "Topology provisioner binary")
	flags.String("client-cmd", "latticed", "Overlay client binary")
	flags.String("bench-cmd", "lattice-bench", "Workload generator binary")

	// Timeouts
	flags.Duration("provision-timeout", 2*time.Minute, "Max time for topology setup")
	flags.Duration("start-timeout", time.Minute, "Max time to wait for the client proxy to accept connections")
	flags.Duration("stop-timeout", 10*time.Second, "Max time to wait for the client to exit after SIGTERM")
	flags.Duration("bench-timeout", 0, "Max time for one benchmark sample (0 means unlimited)")
	flags.Duration("teardown-timeout", time.Minute, "Max time for topology teardown")

	// Output flags
	flags.String("bench-log", "", "Workload generator log verbosity (defaults to $OVERBENCH_BENCH_LOG)")
	flags.String("log-level", "info", "Harness log level: debug, info, warn, or error")
	flags.Bool("json-output", false, "Emit JSON formatted output")
	flags.String("config", "", "Path to configuration file (JSON or YAML)")

	// Threshold flags
	flags.StringSlice("threshold", nil, "Performance thresholds (repeatable, e.g., 'bench_duration:p99 < 30000')")

	// Tracing flags
	flags.Bool("trace", false, "Export pipeline stage spans via OTLP")
	flags.String("trace-endpoint", "", "OTLP collector endpoint (host:port)")
	flags.String("trace-protocol", "grpc", "OTLP transport: 'grpc' or 'http'")
	flags.Bool("trace-insecure", false, "Disable TLS for OTLP export")
	flags.Float64("trace-sample-rate", 1, "Trace sampling rate between 0 and 1")
}

// displayHelp prints the help message for a command.
func displayHelp(cmd *cobra.Command) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Usage: %s\n\nFlags:\n", cmd.UseLine())
	fs := cmd.Flags()
	fs.SetOutput(out)
	fs.PrintDefaults()
}

// applyFlagOverrides applies command-line flag values to the config, overriding
// values from the config file and environment.
func applyFlagOverrides(cfg *Config, fs *pflag.FlagSet) error {
	if fs.Changed("target") {
		val, err := fs.GetString("target")
		if err != nil {
			return err
		}
		cfg.Target = strings.TrimSpace(val)
	}
	if fs.Changed("net-dir") {
		val, err := fs.GetString("net-dir")
		if err != nil {
			return err
		}
		cfg.NetDir = strings.TrimSpace(val)
	}
	if fs.Changed("output-dir") {
		val, err := fs.GetString("output-dir")
		if err != nil {
			return err
		}
		cfg.OutputDir = strings.TrimSpace(val)
	}
	if fs.Changed("samples") {
		val, err := fs.GetInt("samples")
		if err != nil {
			return err
		}
		cfg.Samples = val
	}
	if fs.Changed("provisioner-cmd") {
		val, err := fs.GetString("provisioner-cmd")
		if err != nil {
			return err
		}
		cfg.ProvisionerCmd = strings.TrimSpace(val)
	}
	if fs.Changed("client-cmd") {
		val, err := fs.GetString("client-cmd")
		if err != nil {
			return err
		}
		cfg.ClientCmd = strings.TrimSpace(val)
	}
	if fs.Changed("bench-cmd") {
		val, err := fs.GetString("bench-cmd")
		if err != nil {
			return err
		}
		cfg.BenchCmd = strings.TrimSpace(val)
	}
	if fs.Changed("provision-timeout") {
		val, err := fs.GetDuration("provision-timeout")
		if err != nil {
			return err
		}
		cfg.ProvisionTimeout = val
	}
	if fs.Changed("start-timeout") {
		val, err := fs.GetDuration("start-timeout")
		if err != nil {
			return err
		}
		cfg.StartTimeout = val
	}
	if fs.Changed("stop-timeout") {
		val, err := fs.GetDuration("stop-timeout")
		if err != nil {
			return err
		}
		cfg.StopTimeout = val
	}
	if fs.Changed("bench-timeout") {
		val, err := fs.GetDuration("bench-timeout")
		if err != nil {
			return err
		}
		cfg.BenchTimeout = val
	}
	if fs.Changed("teardown-timeout") {
		val, err := fs.GetDuration("teardown-timeout")
		if err != nil {
			return err
		}
		cfg.TeardownTimeout = val
	}
	if fs.Changed("bench-log") {
		val, err := fs.GetString("bench-log")
		if err != nil {
			return err
		}
		cfg.BenchLogLevel = strings.TrimSpace(val)
	}
	if fs.Changed("log-level") {
		val, err := fs.GetString("log-level")
		if err != nil {
			return err
		}
		cfg.LogLevel = strings.ToLower(strings.TrimSpace(val))
	}
	if fs.Changed("json-output") {
		val, err := fs.GetBool("json-output")
		if err != nil {
			return err
		}
		cfg.JSONOutput = val
	}
	if fs.Changed("threshold") {
		val, err := fs.GetStringSlice("threshold")
		if err != nil {
			return err
		}
		cfg.Thresholds = val
	}
	if fs.Changed("trace") {
		val, err := fs.GetBool("trace")
		if err != nil {
			return err
		}
		cfg.Tracing.Enabled = val
	}
	if fs.Changed("trace-endpoint") {
		val, err := fs.GetString("trace-endpoint")
		if err != nil {
			return err
		}
		cfg.Tracing.Endpoint = strings.TrimSpace(val)
	}
	if fs.Changed("trace-protocol") {
		val, err := fs.GetString("trace-protocol")
		if err != nil {
			return err
		}
		cfg.Tracing.Protocol = TraceProtocol(strings.ToLower(strings.TrimSpace(val)))
	}
	if fs.Changed("trace-insecure") {
		val, err := fs.GetBool("trace-insecure")
		if err != nil {
			return err
		}
		cfg.Tracing.Insecure = val
	}
	if fs.Changed("trace-sample-rate") {
		val, err := fs.GetFloat64("trace-sample-rate")
		if err != nil {
			return err
		}
		cfg.Tracing.SampleRate = val
	}

	return nil
}
