package main

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestRunHelp(t *testing.T) {
	if err := run([]string{"--help"}); err != nil {
		t.Errorf("run(--help) error = %v, want nil", err)
	}
}

func TestRunInvalidFlag(t *testing.T) {
	if err := run([]string{"--no-such-flag"}); err == nil {
		t.Error("run() = nil error, want flag parse failure")
	}
}

func TestRunValidationError(t *testing.T) {
	err := run([]string{"--samples", "0", "--output-dir", t.TempDir()})
	if err == nil {
		t.Fatal("run() = nil error, want validation failure")
	}
	if !strings.Contains(err.Error(), "samples must be >= 1") {
		t.Errorf("error = %v, want samples validation issue", err)
	}
}

func TestRunBadThreshold(t *testing.T) {
	err := run([]string{
		"--net-dir", t.TempDir(),
		"--output-dir", t.TempDir(),
		"--threshold", "not a threshold",
	})
	if err == nil {
		t.Fatal("run() = nil error, want threshold parse failure")
	}
	if !strings.Contains(err.Error(), "threshold") {
		t.Errorf("error = %v, want threshold parse issue", err)
	}
}

func TestRunUnknownTarget(t *testing.T) {
	outDir := t.TempDir()
	err := run([]string{
		"prod-maybe",
		"--net-dir", t.TempDir(),
		"--output-dir", outDir,
		"--json-output",
		"--log-level", "error",
	})
	if err == nil {
		t.Fatal("run() = nil error, want unknown-target failure")
	}
	if !strings.Contains(err.Error(), "prod-maybe") {
		t.Errorf("error = %v, want offending target name", err)
	}

	// A manifest is still written for failed runs.
	entries, derr := os.ReadDir(outDir)
	if derr != nil {
		t.Fatal(derr)
	}
	foundManifest := false
	for _, entry := range entries {
		if strings.HasPrefix(entry.Name(), "run-") && filepath.Ext(entry.Name()) == ".yaml" {
			foundManifest = true
		}
	}
	if !foundManifest {
		t.Errorf("no run manifest written to %s", outDir)
	}
}

func TestRunMissingNetDir(t *testing.T) {
	t.Setenv("OVERBENCH_NET_DIR", "")
	err := run([]string{
		"--output-dir", t.TempDir(),
		"--json-output",
		"--log-level", "error",
	})
	if err == nil {
		t.Fatal("run() = nil error, want precondition failure")
	}
	if !strings.Contains(err.Error(), "OVERBENCH_NET_DIR") {
		t.Errorf("error = %v, want hint about OVERBENCH_NET_DIR", err)
	}
}

func TestNewLogger(t *testing.T) {
	tests := []struct {
		level string
		want  slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"error", slog.LevelError},
		{"bogus", slog.LevelInfo},
	}
	for _, tt := range tests {
		logger := newLogger(tt.level)
		ctx := t.Context()
		if !logger.Enabled(ctx, tt.want) {
			t.Errorf("newLogger(%q) does not enable %v", tt.level, tt.want)
		}
		if tt.want > slog.LevelDebug && logger.Enabled(ctx, tt.want-4) {
			t.Errorf("newLogger(%q) enables %v, want disabled", tt.level, tt.want-4)
		}
	}
}
