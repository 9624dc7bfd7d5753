package pipeline

import (
	"errors"
	"fmt"
)

// Kind classifies a stage failure for callers.
type Kind int

// Failure kinds surfaced by stages.
const (
	KindInternal Kind = iota
	KindNotFound
	KindPrecondition
	KindIllegalTransition
	KindTransient
	KindNonRetryable
	KindPersistence
)

func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "not_found"
	case KindPrecondition:
		return "precondition_failed"
	case KindIllegalTransition:
		return "illegal_transition"
	case KindTransient:
		return "transient_external_failure"
	case KindNonRetryable:
		return "non_retryable_external_failure"
	case KindPersistence:
		return "persistence_failure"
	default:
		return "internal"
	}
}

// Error is a classified stage failure.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Errorf builds a classified error with a formatted cause.
func Errorf(kind Kind, op string, format string, args ...any) error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

// Wrap classifies err. A nil err stays nil.
func Wrap(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf returns the kind of the outermost classified error in err's chain.
// Store lookups that miss are NotFound and bad transitions are IllegalTransition.
func KindOf(err error) Kind {
	var classified *Error
	if errors.As(err, &classified) {
		return classified.Kind
	}
	switch {
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrIllegalTransition):
		return KindIllegalTransition
	}
	return KindInternal
}
