package boundary

import (
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/timzifer/ctxguard/fault"
	"github.com/timzifer/ctxguard/runtime/eventloop"
)

type countingCleaner struct {
	calls int
}

func (c *countingCleaner) ForceGlobalCleanup() { c.calls++ }

type scriptedWidget struct {
	render func() error
	closed *int
}

func (w *scriptedWidget) Render() error {
	if w.render == nil {
		return nil
	}
	return w.render()
}

func (w *scriptedWidget) Close() { *w.closed++ }

type harness struct {
	sched   *eventloop.Manual
	cleaner *countingCleaner
	mounts  int
	closes  int
	errs    []error
}

func (h *harness) factory() (Widget, error) {
	h.mounts++
	var err error
	if len(h.errs) > 0 {
		err = h.errs[0]
		h.errs = h.errs[1:]
	}
	return &scriptedWidget{
		render: func() error { return err },
		closed: &h.closes,
	}, nil
}

func newHarness(errs ...error) *harness {
	return &harness{sched: eventloop.NewManual(), cleaner: &countingCleaner{}, errs: errs}
}

func (h *harness) boundary(opts ...Option) *Boundary {
	return New("earth", h.factory, Dependencies{
		Cleaner:   h.cleaner,
		Scheduler: h.sched,
		Logger:    zerolog.Nop(),
	}, opts...)
}

func TestHealthyRenderMountsOnce(t *testing.T) {
	h := newHarness()
	b := h.boundary()
	require.Equal(t, StateHealthy, b.Render().State)
	require.Equal(t, StateHealthy, b.Render().State)
	require.Equal(t, 1, h.mounts)
	require.Equal(t, 1, b.Status().Mounts)
}

func TestContextLossAutoRetries(t *testing.T) {
	h := newHarness(fault.ContextLost(7, nil))
	var transitions []State
	b := h.boundary(WithStateListener(func(s Status) { transitions = append(transitions, s.State) }))

	st := b.Render()
	require.Equal(t, StateFailed, st.State)
	require.Equal(t, fault.KindContextLost, st.Kind)
	require.True(t, st.RetryScheduled)
	require.Contains(t, st.Message, "context lost")
	require.Equal(t, 1, h.cleaner.calls)
	require.Equal(t, 1, h.closes, "failed subtree is unmounted")

	h.sched.Advance(DefaultRetryDelay - time.Millisecond)
	require.Equal(t, StateFailed, b.Status().State)

	h.sched.Advance(time.Millisecond)
	st = b.Status()
	require.Equal(t, StateHealthy, st.State)
	require.Empty(t, st.Message)
	require.Equal(t, 2, h.mounts, "retry re-mounts from scratch")
	require.Equal(t, 1, h.cleaner.calls, "cleanup runs exactly once")
	require.Equal(t, []State{StateFailed, StateHealthy}, transitions)
}

func TestGenericFailureWaitsForManualRetry(t *testing.T) {
	h := newHarness(errors.New("shader compile failed"))
	b := h.boundary()

	st := b.Render()
	require.Equal(t, StateFailed, st.State)
	require.Equal(t, fault.KindGeneric, st.Kind)
	require.Equal(t, "shader compile failed", st.Message)
	require.False(t, st.RetryScheduled)

	h.sched.Advance(time.Minute)
	require.Equal(t, StateFailed, b.Status().State)
	require.Zero(t, h.cleaner.calls)

	require.Equal(t, StateFailed, b.Render().State, "failed boundary does not render the subtree")
	require.Equal(t, 1, h.mounts)

	st = b.Retry()
	require.Equal(t, StateHealthy, st.State)
	require.Equal(t, 2, h.mounts)
}

func TestManualRetryCancelsAutoRetry(t *testing.T) {
	h := newHarness(fault.ContextLost(1, nil))
	b := h.boundary()
	b.Render()
	b.Retry()
	require.Zero(t, h.sched.Pending())
	h.sched.Advance(2 * DefaultRetryDelay)
	require.Equal(t, 2, h.mounts)
}

func TestRetryWhileHealthyIsNoop(t *testing.T) {
	h := newHarness()
	b := h.boundary()
	b.Render()
	b.Retry()
	require.Equal(t, 1, h.mounts)
}

func TestPanicsAreContained(t *testing.T) {
	h := newHarness()
	b := New("stars", func() (Widget, error) {
		return &scriptedWidget{render: func() error { panic("nil mesh") }, closed: &h.closes}, nil
	}, Dependencies{Scheduler: h.sched, Logger: zerolog.Nop()})

	st := b.Render()
	require.Equal(t, StateFailed, st.State)
	require.Contains(t, st.Message, "nil mesh")
}

func TestPanickingContextLossIsStillClassified(t *testing.T) {
	h := newHarness()
	b := New("ball", func() (Widget, error) {
		return &scriptedWidget{render: func() error { panic(fault.ContextLost(2, nil)) }, closed: &h.closes}, nil
	}, Dependencies{Cleaner: h.cleaner, Scheduler: h.sched, Logger: zerolog.Nop()})

	require.Equal(t, fault.KindContextLost, b.Render().Kind)
	require.Equal(t, 1, h.cleaner.calls)
}

func TestContextLossDuringMountAutoRetries(t *testing.T) {
	h := newHarness()
	b := New("earth", func() (Widget, error) {
		h.mounts++
		if h.mounts == 1 {
			panic(fault.ContextLost(3, nil))
		}
		return &scriptedWidget{closed: &h.closes}, nil
	}, Dependencies{Cleaner: h.cleaner, Scheduler: h.sched, Logger: zerolog.Nop()})

	st := b.Render()
	require.Equal(t, StateFailed, st.State)
	require.Equal(t, fault.KindContextLost, st.Kind)
	require.True(t, st.RetryScheduled)
	require.Contains(t, st.Message, "mount panicked")
	require.Equal(t, 1, h.cleaner.calls)

	h.sched.Advance(DefaultRetryDelay)
	require.Equal(t, StateHealthy, b.Status().State)
	require.Equal(t, 2, h.mounts)
	require.Equal(t, 1, h.cleaner.calls)
}

func TestMountPanicWithoutErrorIsGeneric(t *testing.T) {
	h := newHarness()
	b := New("stars", func() (Widget, error) {
		panic("no canvas")
	}, Dependencies{Cleaner: h.cleaner, Scheduler: h.sched, Logger: zerolog.Nop()})

	st := b.Render()
	require.Equal(t, fault.KindGeneric, st.Kind)
	require.Equal(t, "mount panicked: no canvas", st.Message)
	require.False(t, st.RetryScheduled)
	require.Zero(t, h.cleaner.calls)
}

func TestMountFailure(t *testing.T) {
	h := newHarness()
	b := New("computers", func() (Widget, error) {
		return nil, errors.New("")
	}, Dependencies{Scheduler: h.sched, Logger: zerolog.Nop()})

	st := b.Render()
	require.Equal(t, StateFailed, st.State)
	require.Equal(t, DefaultMessage, st.Message)
}

func TestCloseCancelsAutoRetry(t *testing.T) {
	h := newHarness(fault.ContextLost(1, nil))
	b := h.boundary(WithRetryDelay(50 * time.Millisecond))
	b.Render()
	b.Close()
	h.sched.Advance(time.Second)
	require.Equal(t, StateFailed, b.Status().State)
	require.Equal(t, 1, h.mounts)
	require.Equal(t, StateFailed, b.Retry().State)
}

func TestRepeatedContextLossKeepsRetrying(t *testing.T) {
	h := newHarness(fault.ContextLost(1, nil), fault.ContextLost(2, nil))
	b := h.boundary()
	b.Render()
	h.sched.Advance(DefaultRetryDelay)
	require.Equal(t, StateFailed, b.Status().State)
	require.Equal(t, 2, h.cleaner.calls)
	h.sched.Advance(DefaultRetryDelay)
	require.Equal(t, StateHealthy, b.Status().State)
	require.Equal(t, 3, h.mounts)
}
