// Package client supervises the long-lived overlay-routing client under
// test.
package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/exec"
	"syscall"
	"time"

	"golang.org/x/time/rate"

	"github.com/overbench/overbench/internal/proc"
	"github.com/overbench/overbench/internal/target"
	"github.com/overbench/overbench/internal/topology"
)

// probeRate paces readiness dials against the client's proxy endpoint.
const probeRate = 10 // dials per second

// Options configures a Supervisor.
type Options struct {
	// Bin is the client executable.
	Bin string
	// Proxy is the local endpoint the client must start listening on
	// before Start returns.
	Proxy target.Endpoint
	// LogPath receives the client's combined stdout/stderr.
	LogPath string
	// StartTimeout bounds the wait for proxy readiness.
	StartTimeout time.Duration
	// StopTimeout bounds the wait after SIGTERM before the process is
	// killed.
	StopTimeout time.Duration

	Logger *slog.Logger
}

// Supervisor starts and stops the client-under-test as a background
// process. It is not safe for concurrent use; one supervisor manages one
// client instance.
type Supervisor struct {
	opt    Options
	logger *slog.Logger

	cmd     *exec.Cmd
	logFile *os.File
	waitCh  chan error
	stopped bool
}

// NewSupervisor returns a Supervisor for the given options.
func NewSupervisor(opt Options) *Supervisor {
	logger := opt.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Supervisor{
		opt:    opt,
		logger: logger.With(slog.String("component", "client")),
	}
}

// Start launches the client against the provisioned topology and returns
// once its proxy endpoint accepts TCP connections. An early process exit
// or a readiness timeout is an error; Start never blocks indefinitely.
func (s *Supervisor) Start(ctx context.Context, handle topology.Handle) error {
	if s.cmd != nil {
		return errors.New("client already started")
	}

	configPath := handle.ClientConfig()
	if _, err := os.Stat(configPath); err != nil {
		return fmt.Errorf("client config: %w", err)
	}

	// Deliberately not CommandContext: shutdown is Stop's job, with
	// SIGTERM before SIGKILL.
	cmd := exec.Command(s.opt.Bin, "--config", configPath)

	if s.opt.LogPath != "" {
		f, err := os.OpenFile(s.opt.LogPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return fmt.Errorf("open client log: %w", err)
		}
		s.logFile = f
		cmd.Stdout = f
		cmd.Stderr = f
	} else {
		cmd.Stdout = os.Stderr
		cmd.Stderr = os.Stderr
	}

	s.logger.Info("starting client",
		slog.String("bin", s.opt.Bin),
		slog.String("config", configPath),
	)

	if err := cmd.Start(); err != nil {
		s.closeLog()
		return &proc.ExitError{Name: "client", Path: s.opt.Bin, ExitCode: -1, Err: err}
	}
	s.cmd = cmd

	s.waitCh = make(chan error, 1)
	go func() {
		s.waitCh <- cmd.Wait()
	}()

	if err := s.awaitReady(ctx); err != nil {
		// Best effort: don't leave the half-started client behind.
		stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.stopTimeout())
		defer cancel()
		if stopErr := s.Stop(stopCtx); stopErr != nil {
			s.logger.Warn("failed to stop client after readiness failure",
				slog.String("error", stopErr.Error()),
			)
		}
		return err
	}

	s.logger.Info("client ready", slog.String("proxy", s.opt.Proxy.Addr()))
	return nil
}

// Stop requests termination and waits for the process to exit, killing
// it after the stop timeout. Stopping a never-started or already-stopped
// supervisor is a no-op.
func (s *Supervisor) Stop(ctx context.Context) error {
	if s.cmd == nil || s.stopped {
		return nil
	}
	s.stopped = true
	defer s.closeLog()

	s.logger.Info("stopping client")
	if err := s.cmd.Process.Signal(syscall.SIGTERM); err != nil {
		// Already gone; collect the exit below.
		s.logger.Debug("SIGTERM failed", slog.String("error", err.Error()))
	}

	timer := time.NewTimer(s.stopTimeout())
	defer timer.Stop()

	select {
	case err := <-s.waitCh:
		return s.exitResult(err)
	case <-timer.C:
	case <-ctx.Done():
	}

	s.logger.Warn("client did not exit in time, killing")
	if err := s.cmd.Process.Kill(); err != nil {
		return fmt.Errorf("kill client: %w", err)
	}
	return s.exitResult(<-s.waitCh)
}

// awaitReady dials the proxy endpoint until it accepts a connection,
// pacing attempts with a rate limiter. It fails fast if the client
// process exits first.
func (s *Supervisor) awaitReady(ctx context.Context) error {
	timeout := s.opt.StartTimeout
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	limiter := rate.NewLimiter(rate.Limit(probeRate), 1)
	dialer := &net.Dialer{Timeout: time.Second}
	addr := s.opt.Proxy.Addr()

	for {
		select {
		case err := <-s.waitCh:
			// Re-arm so Stop still observes the exit.
			s.waitCh <- err
			return &proc.ExitError{
				Name:     "client",
				Path:     s.opt.Bin,
				ExitCode: exitCode(err),
				Err:      fmt.Errorf("client exited before becoming ready: %w", orRunning(err)),
			}
		default:
		}

		// A canceled or expired context is the caller's interrupt or the
		// start timeout, not a client failure. Propagate it as such.
		if err := limiter.Wait(ctx); err != nil {
			if cerr := ctx.Err(); cerr != nil {
				return fmt.Errorf("waiting for proxy %s: %w", addr, cerr)
			}
			return fmt.Errorf("waiting for proxy %s: %w", addr, err)
		}

		conn, err := dialer.DialContext(ctx, "tcp", addr)
		if err == nil {
			conn.Close()
			return nil
		}
	}
}

// exitResult maps the client's exit status after a stop request. A death
// by our own SIGTERM/SIGKILL is a clean stop.
func (s *Supervisor) exitResult(err error) error {
	if err == nil {
		return nil
	}
	var exit *exec.ExitError
	if errors.As(err, &exit) {
		if status, ok := exit.Sys().(syscall.WaitStatus); ok && status.Signaled() {
			switch status.Signal() {
			case syscall.SIGTERM, syscall.SIGKILL:
				return nil
			}
		}
		return &proc.ExitError{
			Name:     "client",
			Path:     s.opt.Bin,
			ExitCode: exit.ExitCode(),
			Err:      err,
		}
	}
	return fmt.Errorf("wait for client: %w", err)
}

func (s *Supervisor) stopTimeout() time.Duration {
	if s.opt.StopTimeout > 0 {
		return s.opt.StopTimeout
	}
	return 10 * time.Second
}

func (s *Supervisor) closeLog() {
	if s.logFile != nil {
		s.logFile.Close()
		s.logFile = nil
	}
}

func exitCode(err error) int {
	var exit *exec.ExitError
	if errors.As(err, &exit) {
		return exit.ExitCode()
	}
	return -1
}

func orRunning(err error) error {
	if err == nil {
		return errors.New("exited cleanly")
	}
	return err
}
