package vlur

import (
	"fmt"

	"github.com/pkg/errors"
)

// Kind classifies processor failures.
type Kind uint8

const (
	// KindInit means the processor could not be built and must not be used.
	KindInit Kind = iota + 1
	// KindConfigure means a slot could not be configured; it is left absent.
	KindConfigure
	// KindParam means a blur parameter was rejected before any GPU work. Retrying
	// with a corrected value is allowed.
	KindParam
	// KindMisuse means an operation named a slot that is not configured.
	KindMisuse
	// KindGPU means a driver call failed while recording or submitting.
	KindGPU
)

func (k Kind) String() string {
	switch k {
	case KindInit:
		return "init"
	case KindConfigure:
		return "configure"
	case KindParam:
		return "param"
	case KindMisuse:
		return "misuse"
	case KindGPU:
		return "gpu"
	}
	return fmt.Sprintf("Kind(%d)", uint8(k))
}

var (
	// ErrRadiusOutOfRange is returned for radii outside [MinRadius, MaxRadius].
	ErrRadiusOutOfRange = errors.New("radius out of range [1, 25]")
	// ErrNotConfigured is returned for slot ids without resources.
	ErrNotConfigured = errors.New("slot not configured")
	// ErrClosed is returned once the processor has been closed.
	ErrClosed = errors.New("processor closed")
)

// Error is the error type returned by Processor operations.
type Error struct {
	Kind Kind
	Op   string
	ID   int
	Err  error
}

func (e *Error) Error() string {
	if e.Op == "new" {
		return fmt.Sprintf("vlur: %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("vlur: %s id %d: %v", e.Op, e.ID, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func fail(kind Kind, op string, id int, err error) error {
	return &Error{Kind: kind, Op: op, ID: id, Err: err}
}

// KindOf returns the Kind of err, or 0 when err was not produced by a Processor.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return 0
}

// Recoverable reports whether the caller may retry with corrected input.
func Recoverable(err error) bool {
	return KindOf(err) == KindParam
}
