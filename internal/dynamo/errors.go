package dynamo

import (
	"errors"
	"fmt"
	"strings"
)

// Domain errors for driver operations.
var (
	// ErrConfiguration indicates bad tolerances, a mismatched batch size or
	// any other invalid setting.
	ErrConfiguration = errors.New("dynamo: invalid configuration")

	// ErrEngineAllocation indicates the stiff engine could not be allocated.
	ErrEngineAllocation = errors.New("dynamo: engine allocation failed")

	// ErrIntegration indicates an interval did not converge.
	ErrIntegration = errors.New("dynamo: integration failed")

	// ErrInvalidSchedule indicates a non-monotonic or malformed time grid.
	ErrInvalidSchedule = errors.New("dynamo: invalid schedule")

	// ErrUseAfterFinalize indicates a session was used after Finalize.
	ErrUseAfterFinalize = errors.New("dynamo: session used after finalize")
)

// IntegrationFailure reports one system that did not converge over the
// absolute interval [T0, T1].
type IntegrationFailure struct {
	System int
	T0, T1 float64
	Err    error
}

func (e *IntegrationFailure) Error() string {
	msg := fmt.Sprintf("system %d: integration failed on [%.7e, %.7e] s", e.System, e.T0, e.T1)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *IntegrationFailure) Unwrap() error { return e.Err }

func (e *IntegrationFailure) Is(target error) bool { return target == ErrIntegration }

// BatchError collects every failure of one Solve call, in system order.
type BatchError struct {
	Failures []*IntegrationFailure
}

func (e *BatchError) Error() string {
	if len(e.Failures) == 1 {
		return e.Failures[0].Error()
	}
	parts := make([]string, 0, len(e.Failures))
	for _, f := range e.Failures {
		parts = append(parts, fmt.Sprint(f.System))
	}
	return fmt.Sprintf("%d systems failed to integrate (%s)", len(e.Failures), strings.Join(parts, ", "))
}

func (e *BatchError) Unwrap() []error {
	errs := make([]error, len(e.Failures))
	for i, f := range e.Failures {
		errs[i] = f
	}
	return errs
}

// FailedSystems extracts the failing system indices from an error chain.
// It returns nil when err carries no integration failure.
func FailedSystems(err error) []int {
	var be *BatchError
	if errors.As(err, &be) {
		idx := make([]int, len(be.Failures))
		for i, f := range be.Failures {
			idx[i] = f.System
		}
		return idx
	}
	var f *IntegrationFailure
	if errors.As(err, &f) {
		return []int{f.System}
	}
	return nil
}

// StageError wraps an abort with the driver stage that produced it. System is
// -1 when the failure is not tied to one system.
type StageError struct {
	Stage  string
	System int
	Err    error
}

func (e *StageError) Error() string {
	if e.System >= 0 {
		return fmt.Sprintf("%s (system %d): %v", e.Stage, e.System, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }
