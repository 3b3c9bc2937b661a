package lifecycle

import (
	"github.com/timzifer/ctxguard/fault"
	"github.com/timzifer/ctxguard/surface"
)

// lossListener reconciles the registry with driver loss and restore signals
// for one surface attachment. Signals from a superseded attachment or after
// the widget unmounted are ignored.
type lossListener struct {
	adapter    *Adapter
	generation uint64
}

func (l *lossListener) stale() bool {
	a := l.adapter
	return a.closed || a.generation != l.generation
}

func (l *lossListener) ContextLost(ev *surface.LossEvent) {
	ev.PreventDefault()
	if l.stale() {
		return
	}
	a := l.adapter
	h := a.handle
	a.deps.Registry.Remove(h)
	a.state = StateLost
	a.lostErr = fault.ContextLost(h, nil)
	a.deps.Telemetry.IncContextLost()
	a.logger.Warn().Int("total", a.deps.Registry.Len()).Msg("rendering context lost")

	a.stopReconcile()
	a.reconcile = a.deps.Scheduler.AfterFunc(a.reconcileDelay, func() {
		a.reconcile = nil
		if a.closed {
			return
		}
		if a.deps.Registry.CanAdmit() {
			a.logger.Info().Msg("rendering context can be recreated")
			if a.onRecreatable != nil {
				a.onRecreatable()
			}
		}
	})
}

func (l *lossListener) ContextRestored() {
	if l.stale() {
		return
	}
	a := l.adapter
	a.lostErr = nil
	if a.deps.Registry.Contains(a.handle) {
		a.state = StateActive
		return
	}
	if !a.deps.Registry.CanAdmit() {
		a.state = StateIdle
		a.deps.Telemetry.IncContextRestored(false)
		a.logger.Warn().Int("total", a.deps.Registry.Len()).Msg("rendering context restored but pool is full")
		return
	}
	a.deps.Registry.Insert(a.handle)
	a.state = StateActive
	a.deps.Telemetry.IncContextRestored(true)
	a.logger.Info().Int("total", a.deps.Registry.Len()).Msg("rendering context restored")
}
