package bench

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/overbench/overbench/internal/proc"
	"github.com/overbench/overbench/internal/target"
	"github.com/overbench/overbench/internal/topology"
)

func discard() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func testRequest(t *testing.T, samples int) Request {
	t.Helper()
	return Request{
		Handle:       topology.Handle{Dir: t.TempDir()},
		Proxy:        target.ProxyEndpoint,
		Reference:    target.Endpoint{Host: "127.0.0.1", Port: 9008},
		ArtifactPath: filepath.Join(t.TempDir(), "bench-01ARZ3.json"),
		Samples:      samples,
	}
}

func TestSampleArtifactPaths(t *testing.T) {
	req := Request{ArtifactPath: "results/bench-01ARZ3.json", Samples: 3}

	got := req.Artifacts()
	want := []string{
		"results/bench-01ARZ3.json",
		"results/bench-01ARZ3-s2.json",
		"results/bench-01ARZ3-s3.json",
	}
	if len(got) != len(want) {
		t.Fatalf("Artifacts() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Artifacts()[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestArtifactsDefaultsToOneSample(t *testing.T) {
	req := Request{ArtifactPath: "out.json"}
	if got := req.Artifacts(); len(got) != 1 || got[0] != "out.json" {
		t.Errorf("Artifacts() = %v, want [out.json]", got)
	}
}

// fakeGenerator writes an executable script standing in for the
// workload generator. $8 is the value of --output given the fixed
// argument order.
func fakeGenerator(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "lattice-bench")
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0o755); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestExecuteWritesArtifact(t *testing.T) {
	req := testRequest(t, 1)
	r := NewRunner(Options{
		Bin:    fakeGenerator(t, `echo '{"summary":{"streams":4}}' > "$8"`),
		Logger: discard(),
	})

	if err := r.Execute(context.Background(), req, 0); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if _, err := os.Stat(req.ArtifactPath); err != nil {
		t.Errorf("artifact missing: %v", err)
	}
}

func TestExecuteNonzeroExit(t *testing.T) {
	req := testRequest(t, 1)
	r := NewRunner(Options{
		Bin:    fakeGenerator(t, "exit 7"),
		Logger: discard(),
	})

	err := r.Execute(context.Background(), req, 0)
	var exit *proc.ExitError
	if !errors.As(err, &exit) {
		t.Fatalf("error = %T, want *proc.ExitError", err)
	}
	if exit.ExitCode != 7 {
		t.Errorf("ExitCode = %d, want 7", exit.ExitCode)
	}
}

func TestExecuteMissingArtifact(t *testing.T) {
	req := testRequest(t, 1)
	r := NewRunner(Options{
		Bin:    fakeGenerator(t, "exit 0"),
		Logger: discard(),
	})

	err := r.Execute(context.Background(), req, 0)
	if err == nil {
		t.Fatal("Execute() = nil error, want missing-artifact failure")
	}
	var exit *proc.ExitError
	if errors.As(err, &exit) {
		t.Errorf("missing artifact misreported as process failure: %v", err)
	}
}

func TestHeadline(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bench.json")
	artifact := `{"summary":{"upload_bps":1048576,"ttfb_ms":{"p50":420.5},"extra":"ignored"}}`
	if err := os.WriteFile(path, []byte(artifact), 0o600); err != nil {
		t.Fatal(err)
	}

	got := Headline(path)
	if got["summary.upload_bps"] != "1048576" {
		t.Errorf("upload_bps = %q, want 1048576", got["summary.upload_bps"])
	}
	if got["summary.ttfb_ms.p50"] != "420.5" {
		t.Errorf("ttfb p50 = %q, want 420.5", got["summary.ttfb_ms.p50"])
	}
	if _, ok := got["summary.streams"]; ok {
		t.Error("absent key reported present")
	}
}

func TestHeadlineToleratesGarbage(t *testing.T) {
	if got := Headline(filepath.Join(t.TempDir(), "missing.json")); got != nil {
		t.Errorf("Headline(missing) = %v, want nil", got)
	}

	path := filepath.Join(t.TempDir(), "bad.json")
	if err := os.WriteFile(path, []byte("not json"), 0o600); err != nil {
		t.Fatal(err)
	}
	if got := Headline(path); got != nil {
		t.Errorf("Headline(garbage) = %v, want nil", got)
	}
}
