package dynamo

import (
	"errors"
	"fmt"
	"testing"
)

func TestIntegrationFailure(t *testing.T) {
	cause := errors.New("newton diverged")
	f := &IntegrationFailure{System: 3, T0: 0, T1: 3.1536e8, Err: cause}

	if !errors.Is(f, ErrIntegration) {
		t.Error("IntegrationFailure should match ErrIntegration")
	}
	if !errors.Is(f, cause) {
		t.Error("IntegrationFailure should unwrap to its cause")
	}
	want := "system 3: integration failed on [0.0000000e+00, 3.1536000e+08] s: newton diverged"
	if f.Error() != want {
		t.Errorf("Error() = %q, want %q", f.Error(), want)
	}
}

func TestBatchError_FailedSystems(t *testing.T) {
	be := &BatchError{Failures: []*IntegrationFailure{
		{System: 1, Err: errors.New("a")},
		{System: 5, Err: errors.New("b")},
	}}
	wrapped := fmt.Errorf("solve: %w", be)

	if !errors.Is(wrapped, ErrIntegration) {
		t.Error("BatchError should match ErrIntegration through Unwrap() []error")
	}

	got := FailedSystems(wrapped)
	if len(got) != 2 || got[0] != 1 || got[1] != 5 {
		t.Errorf("FailedSystems() = %v, want [1 5]", got)
	}

	if FailedSystems(errors.New("other")) != nil {
		t.Error("FailedSystems on unrelated error should be nil")
	}
}

func TestStageError(t *testing.T) {
	err := &StageError{Stage: "solve", System: 7, Err: ErrIntegration}
	if err.Error() != "solve (system 7): dynamo: integration failed" {
		t.Errorf("unexpected message %q", err.Error())
	}
	if !errors.Is(err, ErrIntegration) {
		t.Error("StageError should unwrap")
	}

	noSys := &StageError{Stage: "init", System: -1, Err: ErrEngineAllocation}
	if noSys.Error() != "init: dynamo: engine allocation failed" {
		t.Errorf("unexpected message %q", noSys.Error())
	}
}
