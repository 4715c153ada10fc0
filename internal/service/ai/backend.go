package ai

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Request is a backend-agnostic generation request. It is built once and never mutated.
type Request struct {
	SystemPrompt string
	UserText     string
	MaxTokens    int
	Temperature  float64
}

// Backend generates reply text from a model. Generate returns either non-empty
// text or a *GenError, never both.
type Backend interface {
	Name() string
	Generate(ctx context.Context, req Request) (string, error)
	IsAvailable(ctx context.Context) bool
	Close() error
}

// ModelLister is implemented by backends that can enumerate served models.
type ModelLister interface {
	Models(ctx context.Context) ([]string, error)
}

// Describer is implemented by backends that can summarize their configuration.
// The description never includes credentials.
type Describer interface {
	Describe() string
}

// Kind classifies generation failures.
type Kind string

const (
	KindUnavailable       Kind = "unavailable"
	KindTimeout           Kind = "timeout"
	KindEmptyResponse     Kind = "empty_response"
	KindMalformedResponse Kind = "malformed_response"
	KindUnknown           Kind = "unknown"
)

// GenError is the only error type returned by Backend.Generate.
type GenError struct {
	Kind    Kind
	Backend string
	Err     error
}

func (e *GenError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s backend: %s", e.Backend, e.Kind)
	}
	return fmt.Sprintf("%s backend: %s: %v", e.Backend, e.Kind, e.Err)
}

func (e *GenError) Unwrap() error {
	return e.Err
}

func newGenError(backend string, kind Kind, err error) *GenError {
	return &GenError{Kind: kind, Backend: backend, Err: err}
}

// KindOf extracts the failure kind from err, or KindUnknown if err is not a *GenError.
func KindOf(err error) Kind {
	var genErr *GenError
	if errors.As(err, &genErr) {
		return genErr.Kind
	}
	return KindUnknown
}

// withTimeout bounds ctx by timeout when one is configured.
func withTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, timeout)
}

// recoverGenError converts a panic inside a backend call into a KindUnknown failure.
func recoverGenError(backend string, text *string, err *error) {
	if r := recover(); r != nil {
		*text = ""
		*err = newGenError(backend, KindUnknown, fmt.Errorf("panic: %v", r))
	}
}
