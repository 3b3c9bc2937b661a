package surface

import (
	"testing"

	"github.com/gogpu/gpucontext"
	"github.com/stretchr/testify/require"

	"github.com/timzifer/ctxguard/runtime/eventloop"
)

// fakeProvider satisfies gpucontext.DeviceProvider without a GPU; none of its
// methods are called.
type fakeProvider struct {
	gpucontext.DeviceProvider
	name string
}

func TestDeviceLossAndRestore(t *testing.T) {
	sched := eventloop.NewManual()
	first := &fakeProvider{name: "first"}
	d, err := NewDevice("canvas", first, sched)
	require.NoError(t, err)

	l := &countingListener{prevent: true}
	detach, err := d.Listen(l)
	require.NoError(t, err)
	defer detach()

	p, ok := d.Provider()
	require.True(t, ok)
	require.Same(t, first, p)

	d.DeviceLost()
	d.DeviceLost()
	_, ok = d.Provider()
	require.False(t, ok)
	require.Zero(t, l.lost, "signals wait for the scheduler")
	sched.Flush()
	require.Equal(t, 1, l.lost)
	require.Equal(t, 1, d.PreventedLosses())

	second := &fakeProvider{name: "second"}
	require.NoError(t, d.DeviceRestored(second))
	sched.Flush()
	require.Equal(t, 1, l.restored)
	p, ok = d.Provider()
	require.True(t, ok)
	require.Same(t, second, p)

	require.NoError(t, d.DeviceRestored(second))
	sched.Flush()
	require.Equal(t, 1, l.restored, "restore while live is silent")
	require.ErrorIs(t, d.DeviceRestored(nil), ErrNoDevice)
}

func TestDeviceRelease(t *testing.T) {
	sched := eventloop.NewManual()
	d, err := NewDevice("canvas", &fakeProvider{}, sched)
	require.NoError(t, err)
	l := &countingListener{}
	_, err = d.Listen(l)
	require.NoError(t, err)
	require.Equal(t, 1, d.Listeners())

	require.NoError(t, d.Release())
	require.ErrorIs(t, d.Release(), ErrReleased)
	sched.Flush()
	require.Equal(t, 1, l.lost)
	require.Zero(t, d.PreventedLosses())

	var s Surface = d
	require.Equal(t, "canvas", s.ID())

	_, err = NewDevice("empty", nil, sched)
	require.ErrorIs(t, err, ErrNoDevice)
}
