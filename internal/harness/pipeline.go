// Package harness sequences one benchmark run: provision a private
// overlay topology, start the client, drive the workload generator, and
// release everything again no matter how the run ends.
package harness

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/overbench/overbench/internal/bench"
	"github.com/overbench/overbench/internal/metrics"
	"github.com/overbench/overbench/internal/target"
	"github.com/overbench/overbench/internal/topology"
	"github.com/overbench/overbench/internal/tracing"
)

// Pipeline stage names, in execution order.
const (
	StageResolveTarget  = "resolve-target"
	StageProvision      = "provision"
	StageVerifyTopology = "verify-topology"
	StageClientStart    = "client-start"
	StageBenchmark      = "benchmark"
	StageClientStop     = "client-stop"
	StageTeardown       = "teardown"
)

// lockFileName is created inside the output directory to keep
// concurrent runs from sharing one workspace.
const lockFileName = ".overbench.lock"

// Provisioner builds and releases the private overlay topology.
type Provisioner interface {
	Setup(ctx context.Context) (topology.Handle, error)
	Teardown(ctx context.Context, h topology.Handle) error
}

// ClientSupervisor owns the overlay client process for the run.
type ClientSupervisor interface {
	Start(ctx context.Context, h topology.Handle) error
	Stop(ctx context.Context) error
}

// BenchRunner drives one workload generator invocation.
type BenchRunner interface {
	Execute(ctx context.Context, req bench.Request, sample int) error
}

// Options configures a Pipeline.
type Options struct {
	RunID     string // generated when empty
	Target    string
	NetDir    string
	OutputDir string
	Samples   int

	BenchTimeout    time.Duration // per sample, 0 means unlimited
	StopTimeout     time.Duration
	TeardownTimeout time.Duration

	Provisioner Provisioner
	Client      ClientSupervisor
	Bench       BenchRunner
	Collector   *metrics.Collector
	Logger      *slog.Logger
	Tracer      trace.Tracer
}

// Summary is the machine-readable outcome of one run.
type Summary struct {
	RunID     string            `json:"run_id" yaml:"run_id"`
	Target    string            `json:"target" yaml:"target"`
	Proxy     string            `json:"proxy,omitempty" yaml:"proxy,omitempty"`
	Reference string            `json:"reference,omitempty" yaml:"reference,omitempty"`
	StartedAt time.Time         `json:"started_at" yaml:"started_at"`
	Artifacts []string          `json:"artifacts,omitempty" yaml:"artifacts,omitempty"`
	Headline  map[string]string `json:"headline,omitempty" yaml:"headline,omitempty"`
	Stats     metrics.Stats     `json:"stats" yaml:"stats"`

	Failed      bool   `json:"failed" yaml:"failed"`
	FailureKind string `json:"failure_kind,omitempty" yaml:"failure_kind,omitempty"`
	Error       string `json:"error,omitempty" yaml:"error,omitempty"`
}

// Pipeline runs the benchmark stages in order, failing fast on the first
// stage error while still releasing everything that was acquired.
type Pipeline struct {
	opts      Options
	collector *metrics.Collector
	logger    *slog.Logger
	tracer    trace.Tracer
}

// New creates a Pipeline from options. Collector, Logger, and Tracer
// default to working no-op implementations when unset.
func New(opts Options) *Pipeline {
	p := &Pipeline{
		opts:      opts,
		collector: opts.Collector,
		logger:    opts.Logger,
		tracer:    opts.Tracer,
	}
	if p.collector == nil {
		p.collector = metrics.NewCollector()
	}
	if p.logger == nil {
		p.logger = slog.New(slog.DiscardHandler)
	}
	if p.tracer == nil {
		p.tracer = noop.NewTracerProvider().Tracer("overbench")
	}
	if p.opts.Samples < 1 {
		p.opts.Samples = 1
	}
	return p
}

// Collector returns the metrics collector observed by this pipeline.
func (p *Pipeline) Collector() *metrics.Collector {
	return p.collector
}

// Run executes the pipeline. The returned Summary is always non-nil and
// carries stage timings for failed runs too.
func (p *Pipeline) Run(ctx context.Context) (*Summary, error) {
	runID := p.opts.RunID
	if runID == "" {
		runID = ulid.Make().String()
	}

	summary := &Summary{
		RunID:     runID,
		Target:    p.opts.Target,
		StartedAt: time.Now(),
	}
	p.collector.Start()

	err := p.run(ctx, runID, summary)

	summary.Stats = p.collector.Stats(time.Since(p.collector.Started()))
	if err != nil {
		summary.Failed = true
		summary.FailureKind = Classify(err)
		summary.Error = err.Error()
	}
	return summary, err
}

// run holds the stage sequence. Cleanup stages are registered as defers
// as soon as their resource exists, so they execute exactly once on
// every exit path, in reverse acquisition order.
func (p *Pipeline) run(ctx context.Context, runID string, summary *Summary) (err error) {
	if p.opts.NetDir == "" {
		return &PreconditionError{Reason: "topology directory is not set: pass --net-dir or export OVERBENCH_NET_DIR"}
	}

	if err := os.MkdirAll(p.opts.OutputDir, 0o755); err != nil {
		return fmt.Errorf("output dir: %w", err)
	}

	lock := flock.New(filepath.Join(p.opts.OutputDir, lockFileName))
	locked, lockErr := lock.TryLock()
	if lockErr != nil {
		return fmt.Errorf("workspace lock: %w", lockErr)
	}
	if !locked {
		return &PreconditionError{Reason: fmt.Sprintf("workspace %s is in use by another run", p.opts.OutputDir)}
	}
	defer func() {
		if uerr := lock.Unlock(); uerr != nil {
			p.logger.Warn("workspace unlock failed", "error", uerr)
		}
	}()

	p.logger.Info("run starting",
		"run_id", runID,
		"target", p.opts.Target,
		"net_dir", p.opts.NetDir,
		"samples", p.opts.Samples,
	)

	var reference target.Endpoint
	if err := p.step(ctx, StageResolveTarget, func(context.Context) error {
		ep, rerr := target.Resolve(p.opts.Target)
		reference = ep
		return rerr
	}); err != nil {
		return err
	}
	summary.Proxy = target.ProxyEndpoint.Addr()
	summary.Reference = reference.Addr()

	var handle topology.Handle
	if err := p.step(ctx, StageProvision, func(c context.Context) error {
		h, serr := p.opts.Provisioner.Setup(c)
		handle = h
		return serr
	}); err != nil {
		return err
	}

	// The topology now exists; release it on every exit path. Cleanup
	// runs under a fresh deadline so an interrupted run still tears down.
	defer func() {
		cctx, cancel := p.cleanupContext(ctx, p.opts.TeardownTimeout)
		defer cancel()
		terr := p.step(cctx, StageTeardown, func(c context.Context) error {
			return p.opts.Provisioner.Teardown(c, handle)
		})
		if terr != nil {
			err = p.attachCleanup(err, &TeardownError{Err: terr})
		}
	}()

	if err := p.step(ctx, StageVerifyTopology, func(context.Context) error {
		return verifyHandle(handle)
	}); err != nil {
		return err
	}

	if err := p.step(ctx, StageClientStart, func(c context.Context) error {
		return p.opts.Client.Start(c, handle)
	}); err != nil {
		return err
	}

	// Stop the client before the topology is torn down (defers are LIFO).
	defer func() {
		cctx, cancel := p.cleanupContext(ctx, p.opts.StopTimeout+5*time.Second)
		defer cancel()
		serr := p.step(cctx, StageClientStop, func(c context.Context) error {
			return p.opts.Client.Stop(c)
		})
		if serr != nil {
			err = p.attachCleanup(err, serr)
		}
	}()

	req := bench.Request{
		Handle:       handle,
		Proxy:        target.ProxyEndpoint,
		Reference:    reference,
		ArtifactPath: filepath.Join(p.opts.OutputDir, "bench-"+runID+".json"),
		Samples:      p.opts.Samples,
	}

	if err := p.step(ctx, StageBenchmark, func(c context.Context) error {
		return p.runSamples(c, req)
	}); err != nil {
		return err
	}

	summary.Artifacts = req.Artifacts()
	summary.Headline = bench.Headline(req.ArtifactPath)

	return nil
}

// runSamples executes the workload generator once per requested sample,
// failing fast on the first sample error.
func (p *Pipeline) runSamples(ctx context.Context, req bench.Request) error {
	for i := 0; i < p.opts.Samples; i++ {
		sctx := ctx
		var cancel context.CancelFunc
		if p.opts.BenchTimeout > 0 {
			sctx, cancel = context.WithTimeout(ctx, p.opts.BenchTimeout)
		}

		p.logger.Info("sample starting", "sample", i+1, "of", p.opts.Samples)
		start := time.Now()
		err := p.opts.Bench.Execute(sctx, req, i)
		elapsed := time.Since(start)
		if cancel != nil {
			cancel()
		}

		p.collector.RecordSample(elapsed, err)
		if err != nil {
			return fmt.Errorf("sample %d: %w", i+1, err)
		}
		p.logger.Info("sample complete", "sample", i+1, "duration", elapsed)
	}
	return nil
}

// step runs one pipeline stage with logging, tracing, and timing.
func (p *Pipeline) step(ctx context.Context, stage string, fn func(context.Context) error) error {
	p.collector.SetStage(stage)
	sctx, span := tracing.StartStageSpan(ctx, p.tracer, stage)

	p.logger.Debug("stage starting", "stage", stage)
	start := time.Now()
	err := fn(sctx)
	elapsed := time.Since(start)

	p.collector.RecordStage(stage, elapsed, err != nil)
	tracing.EndSpan(span, err)

	if err != nil {
		p.logger.Error("stage failed", "stage", stage, "duration", elapsed, "error", err)
		return fmt.Errorf("%s: %w", stage, err)
	}
	p.logger.Info("stage complete", "stage", stage, "duration", elapsed)
	return nil
}

// cleanupContext detaches cleanup work from the (possibly canceled) run
// context while still bounding it.
func (p *Pipeline) cleanupContext(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	base := context.WithoutCancel(ctx)
	if timeout <= 0 {
		return context.WithCancel(base)
	}
	return context.WithTimeout(base, timeout)
}

// attachCleanup folds a cleanup failure into the run's error without
// masking the primary failure.
func (p *Pipeline) attachCleanup(primary, cleanup error) error {
	if primary == nil {
		return cleanup
	}
	return &RunError{Primary: primary, Cleanup: cleanup}
}

func verifyHandle(h topology.Handle) error {
	if !h.Valid() {
		return &PreconditionError{Reason: "topology handle is empty"}
	}
	if _, err := os.Stat(h.ClientConfig()); err != nil {
		return fmt.Errorf("client config: %w", err)
	}
	return nil
}
