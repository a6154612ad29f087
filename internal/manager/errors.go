package manager

import (
	"context"
	"errors"
	"fmt"
	"time"

	"chatd/internal/llm"
)

// validationError rejects a request before any resource is touched (400).
type validationError struct{ msg string }

func (e validationError) Error() string { return "invalid request: " + e.msg }

// ErrValidation constructs a validation error.
func ErrValidation(msg string) error { return validationError{msg: msg} }

// IsValidation reports whether err is a request validation failure.
func IsValidation(err error) bool {
	var e validationError
	return errors.As(err, &e)
}

// modelLoadError covers missing, malformed, unsupported or unloadable model files.
type modelLoadError struct {
	path string
	err  error
}

func (e modelLoadError) Error() string { return fmt.Sprintf("load model %s: %v", e.path, e.err) }
func (e modelLoadError) Unwrap() error { return e.err }

// ErrModelLoad wraps err as a model load failure for path.
func ErrModelLoad(path string, err error) error { return modelLoadError{path: path, err: err} }

// IsModelLoad reports whether err is a model load failure.
func IsModelLoad(err error) bool {
	var e modelLoadError
	return errors.As(err, &e)
}

// sessionBusyError signals that the model's session could not be entered:
// non-blocking mode while busy, a full queue, or MaxWait elapsed.
type sessionBusyError struct {
	path   string
	reason string
}

func (e sessionBusyError) Error() string { return "session busy: " + e.path + " (" + e.reason + ")" }

// ErrSessionBusy constructs a session busy error.
func ErrSessionBusy(path, reason string) error { return sessionBusyError{path: path, reason: reason} }

// IsSessionBusy reports whether err indicates backpressure on a model session.
func IsSessionBusy(err error) bool {
	var e sessionBusyError
	return errors.As(err, &e)
}

// timeoutError signals that the request deadline elapsed.
type timeoutError struct {
	path  string
	after time.Duration
}

func (e timeoutError) Error() string {
	if e.after > 0 {
		return fmt.Sprintf("request for %s timed out after %s", e.path, e.after)
	}
	return "request for " + e.path + " timed out"
}
func (e timeoutError) Unwrap() error { return context.DeadlineExceeded }

// ErrTimeout constructs a timeout error.
func ErrTimeout(path string, after time.Duration) error {
	return timeoutError{path: path, after: after}
}

// IsTimeout reports whether err is a request timeout.
func IsTimeout(err error) bool {
	var e timeoutError
	return errors.As(err, &e)
}

// inferenceError is any failure raised by the engine during generation.
// Generation is not idempotent, so these are never retried.
type inferenceError struct {
	path string
	err  error
}

func (e inferenceError) Error() string { return fmt.Sprintf("inference on %s: %v", e.path, e.err) }
func (e inferenceError) Unwrap() error { return e.err }

// ErrInference wraps err as an engine failure for path.
func ErrInference(path string, err error) error { return inferenceError{path: path, err: err} }

// IsInference reports whether err is an engine failure.
func IsInference(err error) bool {
	var e inferenceError
	return errors.As(err, &e)
}

// ErrDependencyUnavailable is returned when the binary was built without llama support.
var ErrDependencyUnavailable = llm.ErrNotBuilt

// IsDependencyUnavailable reports whether err comes from a binary built without llama support.
func IsDependencyUnavailable(err error) bool { return errors.Is(err, ErrDependencyUnavailable) }

// errPoolClosed is returned when work is submitted after Close.
var errPoolClosed = errors.New("worker pool closed")

// Kind returns a short label for err, used in logs and metrics.
func Kind(err error) string {
	switch {
	case err == nil:
		return "ok"
	case IsValidation(err):
		return "validation"
	case IsDependencyUnavailable(err):
		return "dependency_unavailable"
	case IsModelLoad(err):
		return "model_load"
	case IsSessionBusy(err):
		return "session_busy"
	case IsTimeout(err):
		return "timeout"
	case IsInference(err):
		return "inference"
	case errors.Is(err, context.Canceled):
		return "canceled"
	default:
		return "internal"
	}
}
