// Package eventloop serialises every registry mutation onto one logical thread.
//
// Lifecycle events (mount, unmount, context loss, context restore) and timer
// callbacks are delivered as plain funcs. A Scheduler runs them one at a time
// in delivery order, so components built on top of it need no locking of their
// own. Two schedulers are provided: Loop for production use and Manual for
// deterministic tests and offline simulation.
package eventloop

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// ErrClosed is returned when work is submitted to a loop that stopped running.
var ErrClosed = errors.New("event loop closed")

// Timer is a cancellable delayed action.
type Timer interface {
	// Stop prevents the callback from running. It reports whether the call
	// cancelled a pending callback.
	Stop() bool
}

// Scheduler executes callbacks on a single logical thread.
type Scheduler interface {
	Post(fn func())
	AfterFunc(d time.Duration, fn func()) Timer
}

// Loop is a Scheduler backed by one goroutine draining a FIFO queue.
type Loop struct {
	logger zerolog.Logger

	mu     sync.Mutex
	queue  []func()
	closed bool

	wake chan struct{}
	done chan struct{}
}

// New creates a loop. Call Run to start processing.
func New(logger zerolog.Logger) *Loop {
	return &Loop{
		logger: logger.With().Str("component", "eventloop").Logger(),
		wake:   make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
}

// Post enqueues fn. Callbacks posted after the loop stopped are dropped.
func (l *Loop) Post(fn func()) {
	if fn == nil {
		return
	}
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return
	}
	l.queue = append(l.queue, fn)
	l.mu.Unlock()
	select {
	case l.wake <- struct{}{}:
	default:
	}
}

// Do posts fn and waits until it has run on the loop.
func (l *Loop) Do(ctx context.Context, fn func()) error {
	if ctx == nil {
		ctx = context.Background()
	}
	finished := make(chan struct{})
	l.mu.Lock()
	closed := l.closed
	l.mu.Unlock()
	if closed {
		return ErrClosed
	}
	l.Post(func() {
		defer close(finished)
		fn()
	})
	select {
	case <-finished:
		return nil
	case <-l.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// AfterFunc schedules fn to run on the loop once d has elapsed.
func (l *Loop) AfterFunc(d time.Duration, fn func()) Timer {
	t := &loopTimer{}
	t.timer = time.AfterFunc(d, func() {
		l.Post(func() {
			if !t.fired.CompareAndSwap(false, true) {
				return
			}
			fn()
		})
	})
	return t
}

// Run processes callbacks until ctx is cancelled.
func (l *Loop) Run(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	defer l.shutdown()
	for {
		for {
			fn, ok := l.next()
			if !ok {
				break
			}
			l.invoke(fn)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-l.wake:
		}
	}
}

// Done is closed once the loop stopped.
func (l *Loop) Done() <-chan struct{} {
	return l.done
}

func (l *Loop) next() (func(), bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.queue) == 0 {
		return nil, false
	}
	fn := l.queue[0]
	l.queue[0] = nil
	l.queue = l.queue[1:]
	return fn, true
}

func (l *Loop) invoke(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			l.logger.Error().Err(fmt.Errorf("panic: %v", r)).Msg("event loop callback panicked")
		}
	}()
	fn()
}

func (l *Loop) shutdown() {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return
	}
	l.closed = true
	l.queue = nil
	l.mu.Unlock()
	close(l.done)
}

type loopTimer struct {
	timer *time.Timer
	// fired doubles as the stopped flag: whoever flips it first wins.
	fired atomic.Bool
}

func (t *loopTimer) Stop() bool {
	t.timer.Stop()
	return t.fired.CompareAndSwap(false, true)
}
