// Package surface abstracts the drawing surfaces that own rendering contexts
// and the driver signals they emit.
package surface

import (
	"errors"
	"reflect"
	"sync"
)

// ErrNilSurface is returned when a nil surface is handed to a consumer.
var ErrNilSurface = errors.New("surface is nil")

// ErrUncomparable is returned for a surface whose dynamic type cannot be
// compared for identity. Implement Surface on a pointer type.
var ErrUncomparable = errors.New("surface type is not comparable")

// Comparable reports whether s can be tracked by identity.
func Comparable(s Surface) bool {
	return s != nil && reflect.TypeOf(s).Comparable()
}

// LossEvent is delivered when the driver drops a surface's context. Listeners
// call PreventDefault to signal that they will handle recovery themselves;
// without it the driver would not attempt to restore the context.
type LossEvent struct {
	prevented bool
}

// PreventDefault acknowledges the loss and suppresses default handling.
func (e *LossEvent) PreventDefault() {
	if e != nil {
		e.prevented = true
	}
}

// DefaultPrevented reports whether a listener acknowledged the loss.
func (e *LossEvent) DefaultPrevented() bool {
	return e != nil && e.prevented
}

// Listener receives driver signals for one surface.
type Listener interface {
	ContextLost(ev *LossEvent)
	ContextRestored()
}

// Surface is a drawing surface backed by an expensive rendering context.
type Surface interface {
	// ID identifies the surface in logs.
	ID() string
	// Listen attaches l to the surface's loss and restore signals. The
	// returned func detaches it again.
	Listen(l Listener) (detach func(), err error)
	// Release forces the underlying context to be dropped.
	Release() error
}

// Set tracks the surfaces that currently hold a live context so that a global
// cleanup can release them. It is safe for concurrent use.
type Set struct {
	mu    sync.Mutex
	order []Surface
}

// Add starts tracking s. Adding a surface twice keeps one entry. Surfaces
// that are not Comparable are ignored.
func (s *Set) Add(surf Surface) {
	if !Comparable(surf) {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.order {
		if existing == surf {
			return
		}
	}
	s.order = append(s.order, surf)
}

// Remove stops tracking s.
func (s *Set) Remove(surf Surface) {
	if !Comparable(surf) {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, existing := range s.order {
		if existing == surf {
			s.order = append(s.order[:i], s.order[i+1:]...)
			return
		}
	}
}

// Len returns the number of tracked surfaces.
func (s *Set) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.order)
}

// Snapshot returns the tracked surfaces in the order they were added.
func (s *Set) Snapshot() []Surface {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Surface, len(s.order))
	copy(out, s.order)
	return out
}
