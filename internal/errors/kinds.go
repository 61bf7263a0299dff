package errors

import (
	"context"
	"errors"
)

// Kind classifies an error for reporting and propagation policy.
type Kind string

const (
	KindConfiguration Kind = "configuration"
	KindPermission    Kind = "permission"
	KindHook          Kind = "hook"
	KindProvider      Kind = "provider"
	KindTool          Kind = "tool"
	KindStorage       Kind = "storage"
	KindCancellation  Kind = "cancellation"
	KindInternal      Kind = "internal"
)

// KindError tags an error with its taxonomy kind.
type KindError struct {
	Kind Kind
	Err  error
}

func (e *KindError) Error() string {
	return string(e.Kind) + ": " + e.Err.Error()
}

func (e *KindError) Unwrap() error {
	return e.Err
}

// WithKind tags err with kind; nil errors stay nil.
func WithKind(kind Kind, err error) error {
	if err == nil {
		return nil
	}
	return &KindError{Kind: kind, Err: err}
}

// KindOf returns the taxonomy kind for err, defaulting to internal.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var kindErr *KindError
	if errors.As(err, &kindErr) {
		return kindErr.Kind
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return KindCancellation
	}
	var transientErr *TransientError
	var permanentErr *PermanentError
	if errors.As(err, &transientErr) || errors.As(err, &permanentErr) {
		return KindProvider
	}
	return KindInternal
}
