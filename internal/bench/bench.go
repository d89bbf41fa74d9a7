// Package bench drives the external workload generator against the
// client under test and tracks its result artifacts.
package bench

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/overbench/overbench/internal/proc"
	"github.com/overbench/overbench/internal/target"
	"github.com/overbench/overbench/internal/topology"
)

// Request is the immutable description of one benchmark run: where the
// workload enters the overlay (the client's proxy), which reference peer
// it measures against, and where results land.
type Request struct {
	Handle    topology.Handle
	Proxy     target.Endpoint
	Reference target.Endpoint
	// ArtifactPath is the result file for the first sample; later
	// samples land in numbered siblings.
	ArtifactPath string
	Samples      int
}

// SampleArtifact returns the artifact path for the given zero-based
// sample index.
func (r Request) SampleArtifact(i int) string {
	if i == 0 {
		return r.ArtifactPath
	}
	ext := filepath.Ext(r.ArtifactPath)
	base := strings.TrimSuffix(r.ArtifactPath, ext)
	return fmt.Sprintf("%s-s%d%s", base, i+1, ext)
}

// Artifacts lists the artifact paths for all samples of the request.
func (r Request) Artifacts() []string {
	n := r.Samples
	if n < 1 {
		n = 1
	}
	paths := make([]string, n)
	for i := range paths {
		paths[i] = r.SampleArtifact(i)
	}
	return paths
}

// Options configures a Runner.
type Options struct {
	// Bin is the workload generator executable.
	Bin string
	// LogLevel is passed through to the generator's own diagnostics; the
	// harness does not interpret the generator's output.
	LogLevel string
	// Timeout bounds one sample when > 0. Zero means no bound.
	Timeout time.Duration

	Logger *slog.Logger
}

// Runner executes benchmark samples via the external workload generator.
type Runner struct {
	opt    Options
	logger *slog.Logger
}

// NewRunner returns a Runner for the given options.
func NewRunner(opt Options) *Runner {
	logger := opt.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		opt:    opt,
		logger: logger.With(slog.String("component", "bench")),
	}
}

// Execute runs one benchmark sample and verifies the artifact was
// written. A nonzero exit from the generator surfaces as a
// *proc.ExitError.
func (r *Runner) Execute(ctx context.Context, req Request, sample int) error {
	artifact := req.SampleArtifact(sample)

	cmd := &proc.Cmd{
		Name: "workload generator",
		Path: r.opt.Bin,
		Args: []string{
			"--proxy", req.Proxy.Addr(),
			"--reference", req.Reference.Addr(),
			"--net-dir", req.Handle.Dir,
			"--output", artifact,
		},
		Timeout: r.opt.Timeout,
		Logger:  r.logger,
	}
	if r.opt.LogLevel != "" {
		cmd.Env = []string{"LATTICE_BENCH_LOG=" + r.opt.LogLevel}
	}

	r.logger.Info("running workload",
		slog.Int("sample", sample+1),
		slog.String("artifact", artifact),
	)

	if err := cmd.Run(ctx); err != nil {
		return err
	}

	if _, err := os.Stat(artifact); err != nil {
		return fmt.Errorf("workload generator exited cleanly but wrote no artifact: %w", err)
	}
	return nil
}
