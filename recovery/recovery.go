// Package recovery fans a process-wide recovery notification out to
// independent subscribers after the context pool has been reset.
package recovery

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/timzifer/ctxguard/registry"
	"github.com/timzifer/ctxguard/runtime/eventloop"
	"github.com/timzifer/ctxguard/surface"
	"github.com/timzifer/ctxguard/telemetry"
)

// DefaultSettleDelay is the pause between a global cleanup and the recovery
// broadcast that follows it.
const DefaultSettleDelay = 100 * time.Millisecond

// Callback is invoked on every recovery broadcast.
type Callback func() error

// Cleaner is the narrow view failure boundaries depend on.
type Cleaner interface {
	ForceGlobalCleanup()
}

type subscription struct {
	id uint64
	fn Callback
}

// Broadcaster owns the recovery subscriber list and the global cleanup entry
// point. Like the registry it is confined to the scheduler thread.
type Broadcaster struct {
	logger    zerolog.Logger
	registry  *registry.Registry
	surfaces  *surface.Set
	sched     eventloop.Scheduler
	collector telemetry.Collector
	settle    time.Duration

	nextID  uint64
	subs    []subscription
	pending map[eventloop.Timer]struct{}
	closed  bool
}

// Option customises a Broadcaster.
type Option func(*Broadcaster)

// WithSettleDelay overrides DefaultSettleDelay.
func WithSettleDelay(d time.Duration) Option {
	return func(b *Broadcaster) {
		if d >= 0 {
			b.settle = d
		}
	}
}

// WithTelemetry attaches a metrics collector.
func WithTelemetry(c telemetry.Collector) Option {
	return func(b *Broadcaster) {
		if c != nil {
			b.collector = c
		}
	}
}

// New builds a broadcaster operating on reg and surfaces.
func New(reg *registry.Registry, surfaces *surface.Set, sched eventloop.Scheduler, logger zerolog.Logger, opts ...Option) *Broadcaster {
	b := &Broadcaster{
		logger:    logger.With().Str("component", "recovery").Logger(),
		registry:  reg,
		surfaces:  surfaces,
		sched:     sched,
		collector: telemetry.Noop(),
		settle:    DefaultSettleDelay,
		pending:   make(map[eventloop.Timer]struct{}),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(b)
		}
	}
	return b
}

// Subscribe adds cb to the broadcast list and returns a func that removes
// exactly this subscription. Subscribing the same func twice yields two
// independent subscriptions.
func (b *Broadcaster) Subscribe(cb Callback) (unsubscribe func()) {
	if cb == nil {
		return func() {}
	}
	id := b.nextID
	b.nextID++
	b.subs = append(b.subs, subscription{id: id, fn: cb})
	return func() {
		for i, sub := range b.subs {
			if sub.id == id {
				b.subs = append(b.subs[:i:i], b.subs[i+1:]...)
				return
			}
		}
	}
}

// Subscribers returns the number of active subscriptions.
func (b *Broadcaster) Subscribers() int {
	return len(b.subs)
}

// Trigger invokes every subscriber in subscription order. A subscriber that
// fails or panics is logged and does not stop the remaining ones. The number
// of failed subscribers is returned.
func (b *Broadcaster) Trigger() int {
	b.logger.Info().Int("subscribers", len(b.subs)).Msg("triggering context recovery")
	b.collector.IncRecoveryTrigger()
	subs := make([]subscription, len(b.subs))
	copy(subs, b.subs)
	failed := 0
	for _, sub := range subs {
		if err := invoke(sub.fn); err != nil {
			failed++
			b.collector.IncRecoveryCallbackFailure()
			b.logger.Error().Err(err).Uint64("subscription", sub.id).Msg("recovery callback failed")
		}
	}
	return failed
}

// ForceGlobalCleanup drops every claim, asks each live surface to release its
// context and schedules Trigger after the settle delay.
func (b *Broadcaster) ForceGlobalCleanup() {
	if b.closed {
		return
	}
	cleared := b.registry.Clear()
	released := 0
	for _, s := range b.surfaces.Snapshot() {
		if err := s.Release(); err != nil {
			b.logger.Warn().Err(err).Str("surface", s.ID()).Msg("could not force context loss")
			continue
		}
		released++
	}
	b.logger.Warn().Int("cleared", cleared).Int("released", released).Msg("forced cleanup of all rendering contexts")

	var timer eventloop.Timer
	timer = b.sched.AfterFunc(b.settle, func() {
		delete(b.pending, timer)
		if b.closed {
			return
		}
		b.Trigger()
	})
	b.pending[timer] = struct{}{}
}

// Close cancels scheduled broadcasts.
func (b *Broadcaster) Close() {
	b.closed = true
	for timer := range b.pending {
		timer.Stop()
	}
	b.pending = make(map[eventloop.Timer]struct{})
}

func invoke(cb Callback) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("recovery callback panicked: %v", r)
		}
	}()
	return cb()
}
