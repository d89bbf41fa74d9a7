// Package proc runs external collaborator processes to completion and
// normalizes their failures.
package proc

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"time"
)

// maxStderrTail bounds how much collaborator stderr is kept for error
// reporting.
const maxStderrTail = 4096

// Cmd describes one invocation of an external collaborator.
type Cmd struct {
	// Name labels the collaborator in logs and errors (e.g. "provisioner").
	Name string
	// Path is the executable to run; resolved via PATH if not absolute.
	Path string
	Args []string
	// Env entries are appended to the inherited environment.
	Env []string
	Dir string
	// Timeout bounds the invocation when > 0.
	Timeout time.Duration

	Logger *slog.Logger
}

// ExitError reports a collaborator that exited nonzero or could not run.
type ExitError struct {
	Name     string
	Path     string
	ExitCode int
	Stderr   string
	Err      error
}

func (e *ExitError) Error() string {
	msg := fmt.Sprintf("%s (%s) failed", e.Name, e.Path)
	if e.ExitCode > 0 {
		msg = fmt.Sprintf("%s with exit code %d", msg, e.ExitCode)
	}
	if e.Err != nil && e.ExitCode <= 0 {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	if e.Stderr != "" {
		msg = fmt.Sprintf("%s\nstderr: %s", msg, e.Stderr)
	}
	return msg
}

func (e *ExitError) Unwrap() error { return e.Err }

// Run executes the command and waits for it to exit. A nonzero exit, a
// start failure, or a context/timeout cancellation all surface as an
// *ExitError so callers classify them uniformly.
func (c *Cmd) Run(ctx context.Context) error {
	if c.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, c.Path, c.Args...)
	if len(c.Env) > 0 {
		cmd.Env = append(os.Environ(), c.Env...)
	}
	cmd.Dir = c.Dir

	var stderr bytes.Buffer
	cmd.Stdout = os.Stderr
	cmd.Stderr = &stderr

	logger := c.logger()
	logger.Debug("spawning collaborator",
		slog.String("path", c.Path),
		slog.Any("args", c.Args),
	)

	start := time.Now()
	err := cmd.Run()
	elapsed := time.Since(start)

	if err != nil {
		// Prefer reporting the timeout/interrupt over the resulting kill.
		if ctxErr := ctx.Err(); ctxErr != nil {
			err = ctxErr
		}
		return &ExitError{
			Name:     c.Name,
			Path:     c.Path,
			ExitCode: exitCode(err),
			Stderr:   tail(stderr.String()),
			Err:      err,
		}
	}

	logger.Debug("collaborator finished",
		slog.Duration("elapsed", elapsed),
	)
	return nil
}

func (c *Cmd) logger() *slog.Logger {
	if c.Logger == nil {
		return slog.Default()
	}
	return c.Logger.With(slog.String("collaborator", c.Name))
}

func exitCode(err error) int {
	var exit *exec.ExitError
	if errors.As(err, &exit) {
		return exit.ExitCode()
	}
	return -1
}

func tail(s string) string {
	s = strings.TrimSpace(s)
	if len(s) > maxStderrTail {
		s = s[len(s)-maxStderrTail:]
	}
	return s
}
