// Package lifecycle binds one widget to the shared context pool.
//
// A widget owns exactly one Adapter. It acquires a handle when it is created,
// checks ShouldRender before creating or keeping its rendering context,
// registers the surface once the context exists and closes the adapter when it
// unmounts.
package lifecycle

import (
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/timzifer/ctxguard/fault"
	"github.com/timzifer/ctxguard/registry"
	"github.com/timzifer/ctxguard/runtime/eventloop"
	"github.com/timzifer/ctxguard/surface"
	"github.com/timzifer/ctxguard/telemetry"
)

// DefaultReconcileDelay is how long after a loss the adapter checks whether
// the pool would admit a fresh context.
const DefaultReconcileDelay = 100 * time.Millisecond

// ErrClosed is returned by operations on an adapter whose widget unmounted.
var ErrClosed = errors.New("adapter closed")

// State describes the adapter's relation to its rendering context.
type State int

const (
	// StateIdle means no context is registered.
	StateIdle State = iota
	// StateActive means the handle holds a claim in the registry.
	StateActive
	// StateLost means the driver dropped the context and no restore arrived yet.
	StateLost
)

func (s State) String() string {
	switch s {
	case StateActive:
		return "active"
	case StateLost:
		return "lost"
	default:
		return "idle"
	}
}

// Dependencies are the process-wide collaborators shared by every adapter.
type Dependencies struct {
	Registry  *registry.Registry
	Sequence  *registry.Sequence
	Surfaces  *surface.Set
	Scheduler eventloop.Scheduler
	Telemetry telemetry.Collector
	Logger    zerolog.Logger
}

// Option customises an Adapter.
type Option func(*Adapter)

// WithReconcileDelay overrides DefaultReconcileDelay.
func WithReconcileDelay(d time.Duration) Option {
	return func(a *Adapter) {
		if d >= 0 {
			a.reconcileDelay = d
		}
	}
}

// WithRecreatable installs a hook that runs when, after a loss, the pool has
// room for this widget to create a new context.
func WithRecreatable(fn func()) Option {
	return func(a *Adapter) {
		a.onRecreatable = fn
	}
}

// Adapter is the per-widget facade over the registry.
type Adapter struct {
	deps           Dependencies
	logger         zerolog.Logger
	name           string
	reconcileDelay time.Duration
	onRecreatable  func()

	handle   registry.Handle
	acquired bool
	state    State
	lostErr  error

	surface    surface.Surface
	detach     func()
	generation uint64
	reconcile  eventloop.Timer
	closed     bool
}

// New creates an adapter for the named widget. The handle is not acquired
// until AcquireID is called.
func New(name string, deps Dependencies, opts ...Option) *Adapter {
	if deps.Telemetry == nil {
		deps.Telemetry = telemetry.Noop()
	}
	if deps.Sequence == nil {
		deps.Sequence = &registry.Sequence{}
	}
	if deps.Surfaces == nil {
		deps.Surfaces = &surface.Set{}
	}
	a := &Adapter{
		deps:           deps,
		name:           name,
		logger:         deps.Logger.With().Str("component", "lifecycle").Str("widget", name).Logger(),
		reconcileDelay: DefaultReconcileDelay,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(a)
		}
	}
	return a
}

// Name returns the widget name.
func (a *Adapter) Name() string {
	return a.name
}

// AcquireID returns this widget's handle, creating it on first use.
func (a *Adapter) AcquireID() registry.Handle {
	if !a.acquired {
		a.handle = a.deps.Sequence.Next()
		a.acquired = true
		a.logger = a.logger.With().Stringer("handle", a.handle).Logger()
	}
	return a.handle
}

// Handle returns the handle and whether it has been acquired.
func (a *Adapter) Handle() (registry.Handle, bool) {
	return a.handle, a.acquired
}

// State reports the adapter state. An active adapter whose claim was evicted
// or cleared reports StateIdle.
func (a *Adapter) State() State {
	if a.state == StateActive && !a.IsActive() {
		return StateIdle
	}
	return a.state
}

// Err returns the context-loss fault raised by the driver, or nil while the
// context is usable. Widgets return it from their render path so the
// enclosing failure boundary can classify it.
func (a *Adapter) Err() error {
	return a.lostErr
}

// RegisterContext records that the widget created its rendering context on s.
// It must be called after the context exists, and s must be Comparable
// (typically a pointer). At capacity the oldest claim is evicted to admit
// this one. On failure the registry is left untouched.
func (a *Adapter) RegisterContext(s surface.Surface) error {
	if a.closed {
		return fault.Registration("register context", ErrClosed)
	}
	if s == nil {
		err := fault.Registration("register context", surface.ErrNilSurface)
		a.logger.Error().Err(err).Msg("error registering rendering context")
		return err
	}
	if !surface.Comparable(s) {
		err := fault.Registration("register context", surface.ErrUncomparable)
		a.logger.Error().Err(err).Str("surface", s.ID()).Msg("error registering rendering context")
		return err
	}
	h := a.AcquireID()

	if a.surface != s {
		a.generation++
		gen := a.generation
		detach, err := s.Listen(&lossListener{adapter: a, generation: gen})
		if err != nil {
			a.generation--
			err = fault.Registration("register context", err)
			a.logger.Error().Err(err).Str("surface", s.ID()).Msg("error registering rendering context")
			return err
		}
		a.releaseSurface()
		a.surface = s
		a.detach = detach
		a.deps.Surfaces.Add(s)
	}

	a.stopReconcile()
	a.deps.Registry.Insert(h)
	a.state = StateActive
	a.lostErr = nil
	a.deps.Telemetry.IncRegistration()
	a.logger.Info().Str("surface", s.ID()).Int("total", a.deps.Registry.Len()).Msg("registered rendering context")
	return nil
}

// UnregisterContext releases this widget's claim. Calling it repeatedly is safe.
func (a *Adapter) UnregisterContext() {
	if !a.acquired {
		return
	}
	if a.deps.Registry.Remove(a.handle) {
		a.logger.Info().Int("total", a.deps.Registry.Len()).Msg("unregistered rendering context")
	}
	if a.state == StateActive {
		a.state = StateIdle
	}
}

// IsActive reports whether this widget holds a claim.
func (a *Adapter) IsActive() bool {
	return a.acquired && a.deps.Registry.Contains(a.handle)
}

// ActiveContexts returns how many contexts hold a claim in the shared pool.
func (a *Adapter) ActiveContexts() int {
	return a.deps.Registry.Len()
}

// CanCreateContext reports whether the pool has room without evicting.
func (a *Adapter) CanCreateContext() bool {
	return a.deps.Registry.CanAdmit()
}

// ShouldRender is the admission gate: a widget may create or keep its
// context only when it is already active or the pool has room. Otherwise it
// renders a placeholder.
func (a *Adapter) ShouldRender() bool {
	return a.CanCreateContext() || a.IsActive()
}

// ForceCleanup drops every claim in the pool. It is meant for global recovery,
// not for per-widget teardown.
func (a *Adapter) ForceCleanup() {
	count := a.deps.Registry.Clear()
	a.logger.Warn().Int("cleared", count).Msg("forced cleanup of all rendering contexts")
}

// Close unmounts the widget: the claim is released, driver listeners are
// detached and pending reconciliation is cancelled. Close is idempotent.
func (a *Adapter) Close() {
	if a.closed {
		return
	}
	a.UnregisterContext()
	a.stopReconcile()
	a.releaseSurface()
	a.closed = true
	a.state = StateIdle
}

func (a *Adapter) releaseSurface() {
	if a.detach != nil {
		a.detach()
		a.detach = nil
	}
	if a.surface != nil {
		a.deps.Surfaces.Remove(a.surface)
		a.surface = nil
	}
}

func (a *Adapter) stopReconcile() {
	if a.reconcile != nil {
		a.reconcile.Stop()
		a.reconcile = nil
	}
}
