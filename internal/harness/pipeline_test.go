package harness

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gofrs/flock"

	"github.com/overbench/overbench/internal/bench"
	"github.com/overbench/overbench/internal/proc"
	"github.com/overbench/overbench/internal/target"
	"github.com/overbench/overbench/internal/topology"
)

type stubProvisioner struct {
	handle      topology.Handle
	setupErr    error
	teardownErr error

	setupCalls    int
	teardownCalls int
}

func (s *stubProvisioner) Setup(context.Context) (topology.Handle, error) {
	s.setupCalls++
	if s.setupErr != nil {
		return topology.Handle{}, s.setupErr
	}
	return s.handle, nil
}

func (s *stubProvisioner) Teardown(context.Context, topology.Handle) error {
	s.teardownCalls++
	return s.teardownErr
}

type stubClient struct {
	startErr error
	stopErr  error

	startCalls int
	stopCalls  int
}

func (s *stubClient) Start(context.Context, topology.Handle) error {
	s.startCalls++
	return s.startErr
}

func (s *stubClient) Stop(context.Context) error {
	s.stopCalls++
	return s.stopErr
}

type stubBench struct {
	perSample func(sample int) error
	calls     int
}

func (s *stubBench) Execute(_ context.Context, _ bench.Request, sample int) error {
	s.calls++
	if s.perSample != nil {
		return s.perSample(sample)
	}
	return nil
}

// provisionedHandle builds a topology directory holding the client
// config the verify stage checks for.
func provisionedHandle(t *testing.T) topology.Handle {
	t.Helper()
	dir := t.TempDir()
	if err := os.MkdirAll(filepath.Join(dir, "conf"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "conf", "latticed.toml"), []byte("# conf\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	return topology.Handle{Dir: dir}
}

func testOptions(t *testing.T, prov *stubProvisioner, cl *stubClient, b *stubBench) Options {
	t.Helper()
	return Options{
		Target:      "reference",
		NetDir:      t.TempDir(),
		OutputDir:   t.TempDir(),
		Samples:     1,
		StopTimeout: time.Second,
		Provisioner: prov,
		Client:      cl,
		Bench:       b,
		Logger:      slog.New(slog.DiscardHandler),
	}
}

func stageNames(s *Summary) []string {
	names := make([]string, 0, len(s.Stats.Stages))
	for _, st := range s.Stats.Stages {
		names = append(names, st.Stage)
	}
	return names
}

func TestRunSuccess(t *testing.T) {
	prov := &stubProvisioner{handle: provisionedHandle(t)}
	cl := &stubClient{}
	b := &stubBench{}

	p := New(testOptions(t, prov, cl, b))
	summary, err := p.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if summary.Failed {
		t.Errorf("summary.Failed = true, want false")
	}
	if summary.RunID == "" {
		t.Error("summary.RunID is empty")
	}
	if summary.Proxy != "127.0.0.1:9150" {
		t.Errorf("summary.Proxy = %q, want 127.0.0.1:9150", summary.Proxy)
	}
	if summary.Reference != "127.0.0.1:9008" {
		t.Errorf("summary.Reference = %q, want 127.0.0.1:9008", summary.Reference)
	}
	if prov.setupCalls != 1 || prov.teardownCalls != 1 {
		t.Errorf("provisioner calls = %d setup, %d teardown, want 1 and 1", prov.setupCalls, prov.teardownCalls)
	}
	if cl.startCalls != 1 || cl.stopCalls != 1 {
		t.Errorf("client calls = %d start, %d stop, want 1 and 1", cl.startCalls, cl.stopCalls)
	}
	if b.calls != 1 {
		t.Errorf("bench calls = %d, want 1", b.calls)
	}

	want := []string{
		StageResolveTarget,
		StageProvision,
		StageVerifyTopology,
		StageClientStart,
		StageBenchmark,
		StageClientStop,
		StageTeardown,
	}
	got := stageNames(summary)
	if len(got) != len(want) {
		t.Fatalf("stages = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("stage[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestRunMissingNetDir(t *testing.T) {
	prov := &stubProvisioner{handle: provisionedHandle(t)}
	opts := testOptions(t, prov, &stubClient{}, &stubBench{})
	opts.NetDir = ""

	summary, err := New(opts).Run(context.Background())

	var precond *PreconditionError
	if !errors.As(err, &precond) {
		t.Fatalf("error = %T (%v), want *PreconditionError", err, err)
	}
	if prov.setupCalls != 0 {
		t.Errorf("setup called %d times before precondition check", prov.setupCalls)
	}
	if summary.FailureKind != KindPrecondition {
		t.Errorf("FailureKind = %q, want %q", summary.FailureKind, KindPrecondition)
	}
}

func TestRunUnknownTarget(t *testing.T) {
	prov := &stubProvisioner{handle: provisionedHandle(t)}
	opts := testOptions(t, prov, &stubClient{}, &stubBench{})
	opts.Target = "prod-maybe"

	summary, err := New(opts).Run(context.Background())

	var unknown *target.UnknownTargetError
	if !errors.As(err, &unknown) {
		t.Fatalf("error = %T (%v), want *UnknownTargetError", err, err)
	}
	if prov.setupCalls != 0 {
		t.Error("provisioner ran before the target was resolved")
	}
	if prov.teardownCalls != 0 {
		t.Error("teardown ran without a provisioned topology")
	}
	if summary.FailureKind != KindConfiguration {
		t.Errorf("FailureKind = %q, want %q", summary.FailureKind, KindConfiguration)
	}
}

func TestRunProvisionFailureSkipsTeardown(t *testing.T) {
	prov := &stubProvisioner{setupErr: errors.New("ports already bound")}
	cl := &stubClient{}
	b := &stubBench{}

	_, err := New(testOptions(t, prov, cl, b)).Run(context.Background())
	if err == nil {
		t.Fatal("Run() = nil error, want provision failure")
	}
	if prov.teardownCalls != 0 {
		t.Errorf("teardown calls = %d, want 0 when provisioning failed", prov.teardownCalls)
	}
	if cl.startCalls != 0 {
		t.Error("client started after provisioning failed")
	}
	if b.calls != 0 {
		t.Error("benchmark ran after provisioning failed")
	}
}

func TestRunEmptyTopologyHandle(t *testing.T) {
	// Provisioner reports success but hands back an empty handle.
	prov := &stubProvisioner{handle: topology.Handle{}}
	cl := &stubClient{}

	summary, err := New(testOptions(t, prov, cl, &stubBench{})).Run(context.Background())

	var precond *PreconditionError
	if !errors.As(err, &precond) {
		t.Fatalf("error = %T (%v), want *PreconditionError", err, err)
	}
	if summary.FailureKind != KindPrecondition {
		t.Errorf("FailureKind = %q, want %q", summary.FailureKind, KindPrecondition)
	}
	if cl.startCalls != 0 {
		t.Error("client started against an empty topology handle")
	}
	if prov.teardownCalls != 1 {
		t.Errorf("teardown calls = %d, want exactly 1", prov.teardownCalls)
	}
}

func TestRunBenchFailureStillTearsDown(t *testing.T) {
	prov := &stubProvisioner{handle: provisionedHandle(t)}
	cl := &stubClient{}
	b := &stubBench{perSample: func(int) error {
		return &proc.ExitError{Name: "lattice-bench", ExitCode: 7}
	}}

	summary, err := New(testOptions(t, prov, cl, b)).Run(context.Background())

	var exit *proc.ExitError
	if !errors.As(err, &exit) {
		t.Fatalf("error = %T (%v), want *proc.ExitError", err, err)
	}
	if prov.teardownCalls != 1 {
		t.Errorf("teardown calls = %d, want exactly 1", prov.teardownCalls)
	}
	if cl.stopCalls != 1 {
		t.Errorf("stop calls = %d, want exactly 1", cl.stopCalls)
	}
	if summary.FailureKind != KindExternal {
		t.Errorf("FailureKind = %q, want %q", summary.FailureKind, KindExternal)
	}
	if summary.Stats.Failures != 1 {
		t.Errorf("Stats.Failures = %d, want 1", summary.Stats.Failures)
	}
}

func TestRunClientStartFailure(t *testing.T) {
	prov := &stubProvisioner{handle: provisionedHandle(t)}
	cl := &stubClient{startErr: errors.New("proxy never came up")}
	b := &stubBench{}

	_, err := New(testOptions(t, prov, cl, b)).Run(context.Background())
	if err == nil {
		t.Fatal("Run() = nil error, want client-start failure")
	}
	if b.calls != 0 {
		t.Error("benchmark ran after client start failed")
	}
	if cl.stopCalls != 0 {
		t.Error("stop called for a client that never started")
	}
	if prov.teardownCalls != 1 {
		t.Errorf("teardown calls = %d, want exactly 1", prov.teardownCalls)
	}
}

func TestRunTeardownFailureAfterSuccess(t *testing.T) {
	prov := &stubProvisioner{
		handle:      provisionedHandle(t),
		teardownErr: errors.New("network still referenced"),
	}

	summary, err := New(testOptions(t, prov, &stubClient{}, &stubBench{})).Run(context.Background())

	var teardown *TeardownError
	if !errors.As(err, &teardown) {
		t.Fatalf("error = %T (%v), want *TeardownError", err, err)
	}
	if !summary.Failed {
		t.Error("summary.Failed = false, want true when teardown fails")
	}
	if summary.FailureKind != KindTeardown {
		t.Errorf("FailureKind = %q, want %q", summary.FailureKind, KindTeardown)
	}
}

func TestRunTeardownFailureKeepsPrimaryError(t *testing.T) {
	prov := &stubProvisioner{
		handle:      provisionedHandle(t),
		teardownErr: errors.New("network still referenced"),
	}
	b := &stubBench{perSample: func(int) error {
		return &proc.ExitError{Name: "lattice-bench", ExitCode: 1}
	}}

	summary, err := New(testOptions(t, prov, &stubClient{}, b)).Run(context.Background())

	var exit *proc.ExitError
	if !errors.As(err, &exit) {
		t.Errorf("primary *proc.ExitError not reachable from %v", err)
	}
	var teardown *TeardownError
	if !errors.As(err, &teardown) {
		t.Errorf("cleanup *TeardownError not reachable from %v", err)
	}
	// The primary failure wins classification.
	if summary.FailureKind != KindExternal {
		t.Errorf("FailureKind = %q, want %q", summary.FailureKind, KindExternal)
	}
}

func TestRunSamplesFailFast(t *testing.T) {
	prov := &stubProvisioner{handle: provisionedHandle(t)}
	b := &stubBench{perSample: func(sample int) error {
		if sample == 1 {
			return &proc.ExitError{Name: "lattice-bench", ExitCode: 2}
		}
		return nil
	}}
	opts := testOptions(t, prov, &stubClient{}, b)
	opts.Samples = 3

	summary, err := New(opts).Run(context.Background())
	if err == nil {
		t.Fatal("Run() = nil error, want sample failure")
	}
	if b.calls != 2 {
		t.Errorf("bench calls = %d, want fail-fast after 2", b.calls)
	}
	if summary.Stats.Samples != 2 {
		t.Errorf("Stats.Samples = %d, want 2", summary.Stats.Samples)
	}
	if summary.Stats.Successes != 1 || summary.Stats.Failures != 1 {
		t.Errorf("Stats = %d ok / %d failed, want 1 / 1", summary.Stats.Successes, summary.Stats.Failures)
	}
}

func TestRunWorkspaceInUse(t *testing.T) {
	prov := &stubProvisioner{handle: provisionedHandle(t)}
	opts := testOptions(t, prov, &stubClient{}, &stubBench{})

	other := flock.New(filepath.Join(opts.OutputDir, lockFileName))
	locked, err := other.TryLock()
	if err != nil || !locked {
		t.Fatalf("could not pre-lock workspace: locked=%v err=%v", locked, err)
	}
	defer func() { _ = other.Unlock() }()

	_, runErr := New(opts).Run(context.Background())
	var precond *PreconditionError
	if !errors.As(runErr, &precond) {
		t.Fatalf("error = %T (%v), want *PreconditionError", runErr, runErr)
	}
	if prov.setupCalls != 0 {
		t.Error("provisioner ran while the workspace was locked")
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"nil", nil, ""},
		{"precondition", &PreconditionError{Reason: "x"}, KindPrecondition},
		{"unknown target", &target.UnknownTargetError{Name: "x"}, KindConfiguration},
		{"process exit", &proc.ExitError{Name: "x", ExitCode: 1}, KindExternal},
		{"teardown", &TeardownError{Err: errors.New("x")}, KindTeardown},
		{"deadline", context.DeadlineExceeded, KindTimeout},
		{"canceled", context.Canceled, KindCanceled},
		{
			"interrupted collaborator is canceled",
			&proc.ExitError{Name: "x", ExitCode: -1, Err: context.Canceled},
			KindCanceled,
		},
		{
			"timed-out collaborator is a timeout",
			&proc.ExitError{Name: "x", ExitCode: -1, Err: context.DeadlineExceeded},
			KindTimeout,
		},
		{"plain", errors.New("x"), KindInternal},
		{
			"run error classifies by primary",
			&RunError{
				Primary: &proc.ExitError{Name: "x", ExitCode: 1},
				Cleanup: &TeardownError{Err: errors.New("y")},
			},
			KindExternal,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Classify(tt.err); got != tt.want {
				t.Errorf("Classify() = %q, want %q", got, tt.want)
			}
		})
	}
}
