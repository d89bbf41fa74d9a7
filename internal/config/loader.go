package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Loader handles loading configuration from files and command-line arguments.
type Loader struct{}

// ErrHelpRequested is returned when the user requests help via --help flag.
var ErrHelpRequested = errors.New("help requested")

// NewLoader creates a new configuration Loader.
func NewLoader() *Loader {
	return &Loader{}
}

// Load parses command-line arguments and configuration files to produce a
// Config. Precedence from lowest to highest: built-in defaults, environment
// variables, config file, command-line flags.
func (Loader) Load(args []string) (*Config, error) {
	cmd := newFlagCommand()
	if err := cmd.Flags().Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			displayHelp(cmd)
			return nil, ErrHelpRequested
		}
		return nil, err
	}

	flagSet := cmd.Flags()
	if helpFlag := flagSet.Lookup("help"); helpFlag != nil {
		if wantsHelp, err := strconv.ParseBool(helpFlag.Value.String()); err == nil && wantsHelp {
			displayHelp(cmd)
			return nil, ErrHelpRequested
		}
	}

	configPath := flagSet.Lookup("config").Value.String()
	cfgViper := viper.New()
	if configPath != "" {
		cfgViper.SetConfigFile(configPath)
		if err := cfgViper.ReadInConfig(); err != nil {
			return nil, err
		}
	}

	settings := cfgViper.AllSettings()

	cfg := &Config{
		Target:           "reference",
		OutputDir:        "results",
		Samples:          1,
		ConfigFile:       configPath,
		ProvisionerCmd:   "latticesim",
		ClientCmd:        "latticed",
		BenchCmd:         "lattice-bench",
		ProvisionTimeout: 2 * time.Minute,
		StartTimeout:     time.Minute,
		StopTimeout:      10 * time.Second,
		TeardownTimeout:  time.Minute,
		LogLevel:         "info",
		Tracing: TracingConfig{
			Protocol:   TraceProtocolGRPC,
			SampleRate: 1,
		},
	}

	applyEnvironment(cfg)

	if err := applyConfigSettings(cfg, settings); err != nil {
		return nil, err
	}

	if err := applyFlagOverrides(cfg, flagSet); err != nil {
		return nil, err
	}

	// A bare positional argument names the target.
	if rest := flagSet.Args(); len(rest) > 0 {
		if len(rest) > 1 {
			return nil, fmt.Errorf("unexpected arguments after target: %s", strings.Join(rest[1:], " "))
		}
		cfg.Target = strings.TrimSpace(rest[0])
	}

	cfg.Target = strings.TrimSpace(cfg.Target)
	cfg.NetDir = strings.TrimSpace(cfg.NetDir)
	cfg.OutputDir = strings.TrimSpace(cfg.OutputDir)

	return cfg, nil
}

// applyEnvironment applies environment variable fallbacks. Flags and config
// file entries both take precedence over the environment.
func applyEnvironment(cfg *Config) {
	if dir := os.Getenv("OVERBENCH_NET_DIR"); dir != "" {
		cfg.NetDir = dir
	}
	if level := os.Getenv("OVERBENCH_BENCH_LOG"); level != "" {
		cfg.BenchLogLevel = level
	}
}

// applyConfigSettings applies settings from a config file to the Config struct.
func applyConfigSettings(cfg *Config, settings map[string]interface{}) error {
	if len(settings) == 0 {
		return nil
	}

	if raw, ok := lookupSetting(settings, "target"); ok {
		val, err := asString(raw)
		if err != nil {
			return fmt.Errorf("target: %w", err)
		}
		if val != "" {
			cfg.Target = strings.TrimSpace(val)
		}
	}

	if raw, ok := lookupSetting(settings, "netdir", "net_dir", "net-dir"); ok {
		val, err := asString(raw)
		if err != nil {
			return fmt.Errorf("netDir: %w", err)
		}
		cfg.NetDir = strings.TrimSpace(val)
	}

	if raw, ok := lookupSetting(settings, "outputdir", "output_dir", "output-dir"); ok {
		val, err := asString(raw)
		if err != nil {
			return fmt.Errorf("outputDir: %w", err)
		}
		cfg.OutputDir = strings.TrimSpace(val)
	}

	if raw, ok := lookupSetting(settings, "samples"); ok {
		val, err := asInt(raw)
		if err != nil {
			return fmt.Errorf("samples: %w", err)
		}
		cfg.Samples = val
	}

	if raw, ok := lookupSetting(settings, "provisionercmd", "provisioner_cmd", "provisioner-cmd"); ok {
		val, err := asString(raw)
		if err != nil {
			return fmt.Errorf("provisionerCmd: %w", err)
		}
		cfg.ProvisionerCmd = strings.TrimSpace(val)
	}

	if raw, ok := lookupSetting(settings, "clientcmd", "client_cmd", "client-cmd"); ok {
		val, err := asString(raw)
		if err != nil {
			return fmt.Errorf("clientCmd: %w", err)
		}
		cfg.ClientCmd = strings.TrimSpace(val)
	}

	if raw, ok := lookupSetting(settings, "benchcmd", "bench_cmd", "bench-cmd"); ok {
		val, err := asString(raw)
		if err != nil {
			return fmt.Errorf("benchCmd: %w", err)
		}
		cfg.BenchCmd = strings.TrimSpace(val)
	}

	if raw, ok := lookupSetting(settings, "provisiontimeout", "provision_timeout", "provision-timeout"); ok {
		dur, err := asDuration(raw)
		if err != nil {
			return fmt.Errorf("provisionTimeout: %w", err)
		}
		cfg.ProvisionTimeout = dur
	}

	if raw, ok := lookupSetting(settings, "starttimeout", "start_timeout", "start-timeout"); ok {
		dur, err := asDuration(raw)
		if err != nil {
			return fmt.Errorf("startTimeout: %w", err)
		}
		cfg.StartTimeout = dur
	}

	if raw, ok := lookupSetting(settings, "stoptimeout", "stop_timeout", "stop-timeout"); ok {
		dur, err := asDuration(raw)
		if err != nil {
			return fmt.Errorf("stopTimeout: %w", err)
		}
		cfg.StopTimeout = dur
	}

	if raw, ok := lookupSetting(settings, "benchtimeout", "bench_timeout", "bench-timeout"); ok {
		dur, err := asDuration(raw)
		if err != nil {
			return fmt.Errorf("benchTimeout: %w", err)
		}
		cfg.BenchTimeout = dur
	}

	if raw, ok := lookupSetting(settings, "teardowntimeout", "teardown_timeout", "teardown-timeout"); ok {
		dur, err := asDuration(raw)
		if err != nil {
			return fmt.Errorf("teardownTimeout: %w", err)
		}
		cfg.TeardownTimeout = dur
	}

	if raw, ok := lookupSetting(settings, "benchlog", "bench_log", "bench-log"); ok {
		val, err := asString(raw)
		if err != nil {
			return fmt.Errorf("benchLog: %w", err)
		}
		cfg.BenchLogLevel = strings.TrimSpace(val)
	}

	if raw, ok := lookupSetting(settings, "loglevel", "log_level", "log-level"); ok {
		val, err := asString(raw)
		if err != nil {
			return fmt.Errorf("logLevel: %w", err)
		}
		if val != "" {
			cfg.LogLevel = strings.ToLower(strings.TrimSpace(val))
		}
	}

	if raw, ok := lookupSetting(settings, "jsonoutput", "json_output", "json-output"); ok {
		val, err := asBool(raw)
		if err != nil {
			return fmt.Errorf("jsonOutput: %w", err)
		}
		cfg.JSONOutput = val
	}

	if raw, ok := lookupSetting(settings, "thresholds"); ok {
		thresholds, err := asStringSlice(raw)
		if err != nil {
			return fmt.Errorf("thresholds: %w", err)
		}
		cfg.Thresholds = thresholds
	}

	if raw, ok := lookupSetting(settings, "tracing"); ok {
		tracing, err := parseTracing(raw, cfg.Tracing)
		if err != nil {
			return fmt.Errorf("tracing: %w", err)
		}
		cfg.Tracing = tracing
	}

	return nil
}

func parseTracing(value interface{}, base TracingConfig) (TracingConfig, error) {
	if value == nil {
		return base, nil
	}
	entry, err := toStringKeyMap(value)
	if err != nil {
		return TracingConfig{}, err
	}
	tc := base
	if raw, ok := lookupSetting(entry, "enabled"); ok {
		val, err := asBool(raw)
		if err != nil {
			return TracingConfig{}, fmt.Errorf("enabled: %w", err)
		}
		tc.Enabled = val
	}
	if raw, ok := lookupSetting(entry, "endpoint"); ok {
		val, err := asString(raw)
		if err != nil {
			return TracingConfig{}, fmt.Errorf("endpoint: %w", err)
		}
		tc.Endpoint = strings.TrimSpace(val)
	}
	if raw, ok := lookupSetting(entry, "protocol"); ok {
		val, err := asString(raw)
		if err != nil {
			return TracingConfig{}, fmt.Errorf("protocol: %w", err)
		}
		if val != "" {
			tc.Protocol = TraceProtocol(strings.ToLower(strings.TrimSpace(val)))
		}
	}
	if raw, ok := lookupSetting(entry, "insecure"); ok {
		val, err := asBool(raw)
		if err != nil {
			return TracingConfig{}, fmt.Errorf("insecure: %w", err)
		}
		tc.Insecure = val
	}
	if raw, ok := lookupSetting(entry, "samplerate", "sample_rate", "sample-rate"); ok {
		val, err := asFloat64(raw)
		if err != nil {
			return TracingConfig{}, fmt.Errorf("sample_rate: %w", err)
		}
		tc.SampleRate = val
	}
	return tc, nil
}
