package surface

import (
	"errors"
	"sync"

	"github.com/gogpu/gpucontext"

	"github.com/timzifer/ctxguard/runtime/eventloop"
)

// ErrNoDevice is returned when a device surface is given no provider.
var ErrNoDevice = errors.New("device provider is nil")

// Device is a surface backed by a GPU device from the host windowing layer.
// The host calls DeviceLost when the driver drops the device and
// DeviceRestored once a replacement is available. While lost, Provider
// reports no device.
type Device struct {
	hub
	id string

	mu       sync.Mutex
	provider gpucontext.DeviceProvider
}

// NewDevice wraps provider. Signals are delivered on sched.
func NewDevice(id string, provider gpucontext.DeviceProvider, sched eventloop.Scheduler) (*Device, error) {
	if provider == nil {
		return nil, ErrNoDevice
	}
	return &Device{id: id, provider: provider, hub: hub{sched: sched}}, nil
}

// ID implements Surface.
func (d *Device) ID() string {
	return d.id
}

// Listen implements Surface.
func (d *Device) Listen(l Listener) (func(), error) {
	return d.listen(l)
}

// Provider returns the live device provider.
func (d *Device) Provider() (gpucontext.DeviceProvider, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.provider, d.provider != nil
}

// Release implements Surface: the device reference is dropped and listeners
// see a context loss.
func (d *Device) Release() error {
	if !d.drop() {
		return ErrReleased
	}
	d.notifyLost()
	return nil
}

// DeviceLost reports a driver-side device loss.
func (d *Device) DeviceLost() {
	if d.drop() {
		d.notifyLost()
	}
}

// DeviceRestored installs the replacement device and notifies listeners.
func (d *Device) DeviceRestored(provider gpucontext.DeviceProvider) error {
	if provider == nil {
		return ErrNoDevice
	}
	d.mu.Lock()
	wasLost := d.provider == nil
	d.provider = provider
	d.mu.Unlock()
	if wasLost {
		d.notifyRestored()
	}
	return nil
}

func (d *Device) drop() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.provider == nil {
		return false
	}
	d.provider = nil
	return true
}
