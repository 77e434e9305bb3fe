package pipeline

import (
	"context"
	"errors"
	"fmt"

	"telemetry-pipeline/core/scheduler"
)

// FailureKind classifies a stage or item failure. Not-found and
// validation failures are terminal: retrying cannot produce a missing
// file or a non-empty path.
type FailureKind string

const (
	FailureNotFound   FailureKind = "not_found"
	FailureTool       FailureKind = "tool"
	FailureTimeout    FailureKind = "timeout"
	FailureDecode     FailureKind = "decode"
	FailureValidation FailureKind = "validation"
)

// Failure pairs an error with its classification.
type Failure struct {
	Kind FailureKind
	Err  error
}

func (f *Failure) Error() string { return fmt.Sprintf("%s: %v", f.Kind, f.Err) }

// Unwrap returns the underlying error
func (f *Failure) Unwrap() error { return f.Err }

// Retryable reports whether another attempt could change the outcome.
func (f *Failure) Retryable() bool {
	return f.Kind != FailureNotFound && f.Kind != FailureValidation
}

// fail builds a classified failure, wrapped as permanent when the kind
// is not retryable so the scheduler will not re-run it.
func fail(kind FailureKind, err error) error {
	f := &Failure{Kind: kind, Err: err}
	if !f.Retryable() {
		return scheduler.Permanent(f)
	}
	return f
}

func failf(kind FailureKind, format string, args ...interface{}) error {
	return fail(kind, fmt.Errorf(format, args...))
}

// classifyExternal separates timeouts from other external-tool
// failures.
func classifyExternal(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fail(FailureTimeout, err)
	}
	return fail(FailureTool, err)
}
