// Package fault classifies rendering failures.
//
// Failures are tagged where they are detected instead of being reconstructed
// later from message text. A context-loss fault is environmental and may be
// retried automatically; everything else needs an explicit retry.
package fault

import (
	"errors"
	"fmt"

	"github.com/timzifer/ctxguard/registry"
)

// Kind tags the origin of a failure.
type Kind int

const (
	// KindGeneric marks failures with no known environmental cause.
	KindGeneric Kind = iota
	// KindContextLost marks a driver-reported loss of a rendering context.
	KindContextLost
	// KindRegistration marks a failure while attaching to a surface.
	KindRegistration
)

// String returns the label used in logs and metrics.
func (k Kind) String() string {
	switch k {
	case KindContextLost:
		return "context_lost"
	case KindRegistration:
		return "registration"
	default:
		return "generic"
	}
}

// ErrContextLost matches every context-loss fault through errors.Is.
var ErrContextLost = errors.New("rendering context lost")

// Error is a tagged failure.
type Error struct {
	Kind   Kind
	Op     string
	Handle registry.Handle
	Err    error
}

func (e *Error) Error() string {
	var msg string
	switch {
	case e.Op != "" && e.Err != nil:
		msg = fmt.Sprintf("%s: %v", e.Op, e.Err)
	case e.Err != nil:
		msg = e.Err.Error()
	case e.Op != "":
		msg = e.Op
	default:
		msg = e.Kind.String()
	}
	if e.Kind == KindContextLost {
		return fmt.Sprintf("%s (%s)", msg, e.Handle)
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is lets errors.Is(err, ErrContextLost) match any context-loss fault.
func (e *Error) Is(target error) bool {
	return target == ErrContextLost && e.Kind == KindContextLost
}

// ContextLost builds the fault raised when the driver drops the context bound
// to handle. A nil cause defaults to ErrContextLost.
func ContextLost(handle registry.Handle, cause error) error {
	if cause == nil {
		cause = ErrContextLost
	}
	return &Error{Kind: KindContextLost, Op: "render", Handle: handle, Err: cause}
}

// Registration wraps a surface attachment failure.
func Registration(op string, cause error) error {
	return &Error{Kind: KindRegistration, Op: op, Err: cause}
}

// Generic tags err as an ordinary failure. Since KindOf looks at the
// outermost tag, this also downgrades a wrapped context loss so a boundary
// waits for a manual retry instead of recovering on its own.
func Generic(err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: KindGeneric, Err: err}
}

// KindOf reports the kind of the outermost tagged fault in err's chain.
// Untagged errors are generic.
func KindOf(err error) Kind {
	var tagged *Error
	if errors.As(err, &tagged) {
		return tagged.Kind
	}
	return KindGeneric
}

// IsContextLost reports whether err is a recoverable environmental failure.
func IsContextLost(err error) bool {
	return err != nil && KindOf(err) == KindContextLost
}
