package driver

import (
	"errors"
	"fmt"

	"github.com/qcserestipy/gopi/pkg/workerpool"
)

var (
	ErrUnknownMode = errors.New("unknown execution mode")
	ErrBadMessage  = errors.New("malformed worker message")
)

// ConfigError reports invalid run parameters. Nothing has been started.
type ConfigError struct {
	Field string
	Err   error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid configuration: %s: %v", e.Field, e.Err)
}

func (e *ConfigError) Unwrap() error { return e.Err }

// ResourceInitError reports a failure to set up the accumulator or its
// backing memory. No worker has been started.
type ResourceInitError struct {
	Resource string
	Err      error
}

func (e *ResourceInitError) Error() string {
	return fmt.Sprintf("initialize %s: %v", e.Resource, e.Err)
}

func (e *ResourceInitError) Unwrap() error { return e.Err }

// Phase is where in its life a worker failed.
type Phase string

const (
	PhaseSpawn   Phase = "spawn"
	PhaseExit    Phase = "exit"
	PhaseMessage Phase = "report"
	PhaseRun     Phase = "run"
)

// WorkerFailure aborts the run. Index is the worker's position, which is
// also the index of its range.
type WorkerFailure struct {
	Index  int
	Phase  Phase
	Stderr string
	Err    error
}

func (e *WorkerFailure) Error() string {
	msg := fmt.Sprintf("worker %d failed to %s: %v", e.Index, e.Phase, e.Err)
	if e.Stderr != "" {
		msg += ": " + e.Stderr
	}
	return msg
}

func (e *WorkerFailure) Unwrap() error { return e.Err }

// TeardownError reports a failure to release run resources after the
// workers finished.
type TeardownError struct {
	Resource string
	Err      error
}

func (e *TeardownError) Error() string {
	return fmt.Sprintf("tear down %s: %v", e.Resource, e.Err)
}

func (e *TeardownError) Unwrap() error { return e.Err }

func asResourceInit(resource string, err error) error {
	var rie *ResourceInitError
	if errors.As(err, &rie) {
		return err
	}
	return &ResourceInitError{Resource: resource, Err: err}
}

func asTeardown(resource string, err error) *TeardownError {
	if te, ok := err.(*TeardownError); ok {
		return te
	}
	return &TeardownError{Resource: resource, Err: err}
}

func asWorkerFailure(err error) error {
	var wf *WorkerFailure
	if errors.As(err, &wf) {
		return wf
	}
	var we *workerpool.WorkerError
	if errors.As(err, &we) {
		return &WorkerFailure{Index: we.Index, Phase: PhaseRun, Err: we.Err}
	}
	return &WorkerFailure{Index: -1, Phase: PhaseRun, Err: err}
}
