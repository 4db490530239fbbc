package engine

import (
	"errors"
	"fmt"
)

// Kind classifies evaluation failures. The distinction matters to the
// caller: validation failures reject the operation, invariant failures
// abort the enclosing transaction, and internal errors indicate an engine
// bug and should be fatal to block processing.
type Kind uint8

const (
	// KindValidation marks a precondition failure in evaluate.
	KindValidation Kind = iota

	// KindInvariant marks an apply-time postcondition failure: either an
	// evaluator bug or a market-state race within the block. The
	// transaction is rolled back as if it never ran.
	KindInvariant

	// KindInternal marks a consistency check failure inside the engine
	// itself.
	KindInternal
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindInvariant:
		return "invariant"
	default:
		return "internal"
	}
}

// Error is an evaluation failure tagged with its kind and operation.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s error: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Validationf wraps a precondition failure.
func Validationf(op string, format string, args ...any) error {
	return &Error{Kind: KindValidation, Op: op, Err: fmt.Errorf(format, args...)}
}

// Invariantf wraps an apply-time postcondition failure.
func Invariantf(op string, format string, args ...any) error {
	return &Error{Kind: KindInvariant, Op: op, Err: fmt.Errorf(format, args...)}
}

// Internalf wraps an engine-internal consistency failure.
func Internalf(op string, format string, args ...any) error {
	return &Error{Kind: KindInternal, Op: op, Err: fmt.Errorf(format, args...)}
}

// KindOf extracts the failure kind; unrecognized errors are internal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}
