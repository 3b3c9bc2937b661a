// Package boundary contains rendering failures of a widget subtree.
//
// A Boundary mounts its subtree through a factory, renders it and catches any
// error or panic that escapes. Failures tagged as context loss are treated as
// environmental: the boundary resets the whole context pool and retries on its
// own after a delay. Every other failure waits for an explicit Retry, so a
// persistent bug cannot spin in an automatic retry loop. No failure propagates
// past a boundary.
package boundary

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/timzifer/ctxguard/fault"
	"github.com/timzifer/ctxguard/recovery"
	"github.com/timzifer/ctxguard/runtime/eventloop"
	"github.com/timzifer/ctxguard/telemetry"
)

// DefaultRetryDelay is the pause before a context-loss failure is retried
// automatically.
const DefaultRetryDelay = time.Second

// DefaultMessage is shown when a failure carries no message of its own.
const DefaultMessage = "rendering error occurred"

// Widget is a mounted subtree.
type Widget interface {
	Render() error
	Close()
}

// Factory mounts a fresh subtree. It runs on every (re)mount.
type Factory func() (Widget, error)

// State is the boundary's health.
type State int

const (
	StateHealthy State = iota
	StateFailed
)

func (s State) String() string {
	if s == StateFailed {
		return "failed"
	}
	return "healthy"
}

// Status is the externally visible boundary state.
type Status struct {
	Name           string     `json:"name"`
	State          State      `json:"-"`
	StateLabel     string     `json:"state"`
	Message        string     `json:"message,omitempty"`
	Kind           fault.Kind `json:"-"`
	KindLabel      string     `json:"kind,omitempty"`
	RetryScheduled bool       `json:"retry_scheduled"`
	Mounts         int        `json:"mounts"`
}

// Dependencies are the shared collaborators of every boundary.
type Dependencies struct {
	Cleaner   recovery.Cleaner
	Scheduler eventloop.Scheduler
	Telemetry telemetry.Collector
	Logger    zerolog.Logger
}

// Option customises a Boundary.
type Option func(*Boundary)

// WithRetryDelay overrides DefaultRetryDelay.
func WithRetryDelay(d time.Duration) Option {
	return func(b *Boundary) {
		if d >= 0 {
			b.retryDelay = d
		}
	}
}

// WithStateListener registers fn to observe every state transition.
func WithStateListener(fn func(Status)) Option {
	return func(b *Boundary) {
		b.onChange = fn
	}
}

// Boundary supervises one widget subtree.
type Boundary struct {
	name       string
	logger     zerolog.Logger
	factory    Factory
	deps       Dependencies
	retryDelay time.Duration
	onChange   func(Status)

	widget  Widget
	state   State
	message string
	kind    fault.Kind
	retry   eventloop.Timer
	mounts  int
	closed  bool
}

// New creates a healthy boundary. The subtree is mounted on the first Render.
func New(name string, factory Factory, deps Dependencies, opts ...Option) *Boundary {
	if deps.Telemetry == nil {
		deps.Telemetry = telemetry.Noop()
	}
	b := &Boundary{
		name:       name,
		logger:     deps.Logger.With().Str("component", "boundary").Str("boundary", name).Logger(),
		factory:    factory,
		deps:       deps,
		retryDelay: DefaultRetryDelay,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(b)
		}
	}
	return b
}

// Status returns a snapshot of the boundary state.
func (b *Boundary) Status() Status {
	st := Status{
		Name:           b.name,
		State:          b.state,
		StateLabel:     b.state.String(),
		Message:        b.message,
		RetryScheduled: b.retry != nil,
		Mounts:         b.mounts,
	}
	if b.state == StateFailed {
		st.Kind = b.kind
		st.KindLabel = b.kind.String()
	}
	return st
}

// Render mounts the subtree if needed and renders it. While failed the subtree
// is not rendered; the returned status carries the message to display.
func (b *Boundary) Render() Status {
	if b.closed || b.state == StateFailed {
		return b.Status()
	}
	if b.widget == nil {
		widget, err := b.mount()
		if err != nil {
			b.fail(err)
			return b.Status()
		}
		b.widget = widget
	}
	if err := renderSafely(b.widget); err != nil {
		b.fail(err)
	}
	return b.Status()
}

// Retry moves a failed boundary back to healthy and re-mounts the subtree
// from scratch. It is a no-op while healthy.
func (b *Boundary) Retry() Status {
	if b.closed || b.state != StateFailed {
		return b.Status()
	}
	b.deps.Telemetry.IncBoundaryRetry("manual")
	b.logger.Info().Msg("manual retry")
	b.reset()
	return b.Render()
}

// Close unmounts the subtree and cancels a pending automatic retry.
func (b *Boundary) Close() {
	if b.closed {
		return
	}
	b.closed = true
	b.stopRetry()
	b.unmount()
}

func (b *Boundary) mount() (w Widget, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = panicError("mount", r)
		}
	}()
	b.mounts++
	w, err = b.factory()
	if err == nil && w == nil {
		err = fmt.Errorf("factory returned no widget")
	}
	return w, err
}

func (b *Boundary) fail(err error) {
	b.unmount()
	b.state = StateFailed
	b.kind = fault.KindOf(err)
	b.message = err.Error()
	if b.message == "" {
		b.message = DefaultMessage
	}
	b.deps.Telemetry.IncBoundaryFailure(b.kind.String())
	b.logger.Error().Err(err).Stringer("kind", b.kind).Msg("boundary caught a rendering error")

	if b.kind == fault.KindContextLost {
		b.logger.Warn().Dur("retry_in", b.retryDelay).Msg("rendering context was lost, attempting to recover")
		if b.deps.Cleaner != nil {
			b.deps.Cleaner.ForceGlobalCleanup()
		}
		b.stopRetry()
		b.retry = b.deps.Scheduler.AfterFunc(b.retryDelay, b.autoRetry)
	}
	b.notify()
}

func (b *Boundary) autoRetry() {
	b.retry = nil
	if b.closed || b.state != StateFailed {
		return
	}
	b.deps.Telemetry.IncBoundaryRetry("auto")
	b.logger.Info().Msg("automatic retry")
	b.reset()
	b.Render()
}

func (b *Boundary) reset() {
	b.stopRetry()
	b.state = StateHealthy
	b.message = ""
	b.kind = fault.KindGeneric
	b.notify()
}

func (b *Boundary) unmount() {
	if b.widget == nil {
		return
	}
	w := b.widget
	b.widget = nil
	func() {
		defer func() {
			if r := recover(); r != nil {
				b.logger.Error().Err(fmt.Errorf("panic: %v", r)).Msg("widget close panicked")
			}
		}()
		w.Close()
	}()
}

func (b *Boundary) stopRetry() {
	if b.retry != nil {
		b.retry.Stop()
		b.retry = nil
	}
}

func (b *Boundary) notify() {
	if b.onChange != nil {
		b.onChange(b.Status())
	}
}

func renderSafely(w Widget) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = panicError("render", r)
		}
	}()
	return w.Render()
}

// panicError keeps a panicked error in the chain so its fault tag survives.
func panicError(op string, r interface{}) error {
	if rerr, ok := r.(error); ok {
		return fmt.Errorf("%s panicked: %w", op, rerr)
	}
	return fmt.Errorf("%s panicked: %v", op, r)
}
