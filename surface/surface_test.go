package surface

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/timzifer/ctxguard/runtime/eventloop"
)

type countingListener struct {
	lost     int
	restored int
	prevent  bool
}

func (c *countingListener) ContextLost(ev *LossEvent) {
	c.lost++
	if c.prevent {
		ev.PreventDefault()
	}
}

func (c *countingListener) ContextRestored() { c.restored++ }

func TestSimulatedDeliversOnScheduler(t *testing.T) {
	sched := eventloop.NewManual()
	s := NewSimulated("earth", sched)
	l := &countingListener{prevent: true}
	detach, err := s.Listen(l)
	require.NoError(t, err)

	s.Lose()
	require.Zero(t, l.lost, "delivery waits for the scheduler")
	sched.Flush()
	require.Equal(t, 1, l.lost)
	require.Equal(t, 1, s.PreventedLosses())
	require.True(t, s.Lost())

	s.Lose()
	sched.Flush()
	require.Equal(t, 1, l.lost, "already lost")

	s.Restore()
	sched.Flush()
	require.Equal(t, 1, l.restored)

	detach()
	detach()
	require.Zero(t, s.Listeners())
	s.Lose()
	sched.Flush()
	require.Equal(t, 1, l.lost)
}

func TestSimulatedReleaseAndFailures(t *testing.T) {
	sched := eventloop.NewManual()
	s := NewSimulated("stars", sched)

	require.NoError(t, s.Release())
	require.ErrorIs(t, s.Release(), ErrReleased)

	boom := errors.New("driver refused")
	s.FailRelease(boom)
	require.ErrorIs(t, s.Release(), boom)

	s.FailListen(boom)
	_, err := s.Listen(&countingListener{})
	require.ErrorIs(t, err, boom)

	_, err = NewSimulated("x", sched).Listen(nil)
	require.Error(t, err)
}

func TestSetKeepsInsertionOrder(t *testing.T) {
	sched := eventloop.NewManual()
	a := NewSimulated("a", sched)
	b := NewSimulated("b", sched)
	var set Set
	set.Add(a)
	set.Add(b)
	set.Add(a)
	set.Add(nil)
	require.Equal(t, 2, set.Len())
	require.Equal(t, []Surface{a, b}, set.Snapshot())

	set.Remove(a)
	require.Equal(t, []Surface{b}, set.Snapshot())
}

type sliceSurface struct{ ids []string }

func (s sliceSurface) ID() string { return "slice" }

func (s sliceSurface) Listen(Listener) (func(), error) { return func() {}, nil }

func (s sliceSurface) Release() error { return nil }

func TestSetIgnoresUncomparableSurfaces(t *testing.T) {
	var set Set
	s := sliceSurface{ids: []string{"x"}}
	require.False(t, Comparable(s))
	require.False(t, Comparable(nil))
	require.True(t, Comparable(NewSimulated("a", eventloop.NewManual())))
	require.NotPanics(t, func() {
		set.Add(s)
		set.Add(s)
		set.Remove(s)
	})
	require.Zero(t, set.Len())
}

func TestLossEventNilSafe(t *testing.T) {
	var ev *LossEvent
	ev.PreventDefault()
	require.False(t, ev.DefaultPrevented())
}
