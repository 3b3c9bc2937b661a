package recovery

import (
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/timzifer/ctxguard/registry"
	"github.com/timzifer/ctxguard/runtime/eventloop"
	"github.com/timzifer/ctxguard/surface"
)

func newBroadcaster(t *testing.T) (*Broadcaster, *registry.Registry, *surface.Set, *eventloop.Manual) {
	t.Helper()
	sched := eventloop.NewManual()
	reg := registry.New(4, nil)
	set := &surface.Set{}
	return New(reg, set, sched, zerolog.Nop()), reg, set, sched
}

func TestSubscribeTriggerUnsubscribe(t *testing.T) {
	b, _, _, _ := newBroadcaster(t)
	calls := 0
	unsubscribe := b.Subscribe(func() error {
		calls++
		return nil
	})

	b.Trigger()
	require.Equal(t, 1, calls)

	unsubscribe()
	unsubscribe()
	b.Trigger()
	require.Equal(t, 1, calls)
	require.Zero(t, b.Subscribers())
}

func TestTriggerIsolatesFailingSubscribers(t *testing.T) {
	b, _, _, _ := newBroadcaster(t)
	var order []string
	b.Subscribe(func() error {
		order = append(order, "panics")
		panic("scene exploded")
	})
	b.Subscribe(func() error {
		order = append(order, "errors")
		return errors.New("refused")
	})
	counter := 0
	b.Subscribe(func() error {
		order = append(order, "counts")
		counter++
		return nil
	})

	failed := b.Trigger()
	require.Equal(t, 2, failed)
	require.Equal(t, 1, counter)
	require.Equal(t, []string{"panics", "errors", "counts"}, order)
}

func TestSameFuncSubscribedTwiceIsRemovedIndividually(t *testing.T) {
	b, _, _, _ := newBroadcaster(t)
	calls := 0
	cb := func() error {
		calls++
		return nil
	}
	first := b.Subscribe(cb)
	b.Subscribe(cb)
	first()
	b.Trigger()
	require.Equal(t, 1, calls)
}

func TestUnsubscribeDuringTrigger(t *testing.T) {
	b, _, _, _ := newBroadcaster(t)
	calls := 0
	var unsubscribe func()
	unsubscribe = b.Subscribe(func() error {
		calls++
		unsubscribe()
		return nil
	})
	b.Subscribe(func() error {
		calls++
		return nil
	})
	b.Trigger()
	require.Equal(t, 2, calls)
	b.Trigger()
	require.Equal(t, 3, calls)
}

func TestForceGlobalCleanup(t *testing.T) {
	b, reg, set, sched := newBroadcaster(t)
	reg.Insert(1)
	reg.Insert(2)

	healthy := surface.NewSimulated("a", sched)
	broken := surface.NewSimulated("b", sched)
	broken.FailRelease(errors.New("no lose_context extension"))
	set.Add(healthy)
	set.Add(broken)

	triggered := 0
	b.Subscribe(func() error {
		triggered++
		return nil
	})

	b.ForceGlobalCleanup()
	require.Zero(t, reg.Len())
	require.True(t, healthy.Lost())
	require.False(t, broken.Lost())
	require.Zero(t, triggered, "broadcast waits for the settle delay")

	sched.Advance(DefaultSettleDelay - time.Millisecond)
	require.Zero(t, triggered)
	sched.Advance(time.Millisecond)
	require.Equal(t, 1, triggered)
}

func TestCloseCancelsPendingBroadcast(t *testing.T) {
	b, _, _, sched := newBroadcaster(t)
	triggered := 0
	b.Subscribe(func() error {
		triggered++
		return nil
	})
	b.ForceGlobalCleanup()
	b.Close()
	sched.Advance(time.Second)
	require.Zero(t, triggered)
	require.Zero(t, sched.Pending())

	b.ForceGlobalCleanup()
	require.Zero(t, sched.Pending())
}

func TestWithSettleDelay(t *testing.T) {
	sched := eventloop.NewManual()
	b := New(registry.New(1, nil), &surface.Set{}, sched, zerolog.Nop(), WithSettleDelay(time.Second))
	triggered := false
	b.Subscribe(func() error {
		triggered = true
		return nil
	})
	b.ForceGlobalCleanup()
	sched.Advance(500 * time.Millisecond)
	require.False(t, triggered)
	sched.Advance(500 * time.Millisecond)
	require.True(t, triggered)
}
