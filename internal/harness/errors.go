package harness

import (
	"context"
	"errors"
	"fmt"

	"github.com/overbench/overbench/internal/proc"
	"github.com/overbench/overbench/internal/target"
)

// PreconditionError reports a missing runtime requirement, such as an
// unset topology directory or a workspace already in use.
type PreconditionError struct {
	Reason string
}

func (e *PreconditionError) Error() string {
	return "precondition not met: " + e.Reason
}

// TeardownError reports a failure to release the provisioned topology.
type TeardownError struct {
	Err error
}

func (e *TeardownError) Error() string {
	return fmt.Sprintf("teardown failed: %v", e.Err)
}

func (e *TeardownError) Unwrap() error { return e.Err }

// RunError pairs a primary pipeline failure with any cleanup failure that
// followed it. The primary error determines how the run is classified.
type RunError struct {
	Primary error
	Cleanup error
}

func (e *RunError) Error() string {
	return fmt.Sprintf("%v (cleanup also failed: %v)", e.Primary, e.Cleanup)
}

func (e *RunError) Unwrap() []error {
	return []error{e.Primary, e.Cleanup}
}

// Failure kinds reported in run summaries and used for exit codes.
const (
	KindPrecondition  = "precondition"
	KindConfiguration = "configuration"
	KindExternal      = "external-process"
	KindTeardown      = "teardown"
	KindCanceled      = "canceled"
	KindTimeout       = "timeout"
	KindInternal      = "internal"
)

// Classify maps a pipeline error to a failure kind. A RunError is
// classified by its primary error, not the cleanup failure that trailed it.
func Classify(err error) string {
	if err == nil {
		return ""
	}

	var rerr *RunError
	if errors.As(err, &rerr) && rerr.Primary != nil {
		return Classify(rerr.Primary)
	}

	var precond *PreconditionError
	if errors.As(err, &precond) {
		return KindPrecondition
	}
	var unknown *target.UnknownTargetError
	if errors.As(err, &unknown) {
		return KindConfiguration
	}
	var teardown *TeardownError
	if errors.As(err, &teardown) {
		return KindTeardown
	}
	// Context errors win over ExitError: a collaborator killed by an
	// interrupt or deadline wraps the context error, and that cause is
	// the one worth reporting.
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	if errors.Is(err, context.Canceled) {
		return KindCanceled
	}
	var exit *proc.ExitError
	if errors.As(err, &exit) {
		return KindExternal
	}
	return KindInternal
}
