package surface

import (
	"errors"
	"sort"
	"sync"

	"github.com/timzifer/ctxguard/runtime/eventloop"
)

// hub fans driver signals out to the attached listeners. Signals are queued
// on the scheduler and delivered in attach order.
type hub struct {
	sched eventloop.Scheduler

	mu        sync.Mutex
	listeners map[int]Listener
	nextID    int
	prevented int
}

func (h *hub) listen(l Listener) (func(), error) {
	if l == nil {
		return nil, errors.New("listener is nil")
	}
	h.mu.Lock()
	if h.listeners == nil {
		h.listeners = make(map[int]Listener)
	}
	id := h.nextID
	h.nextID++
	h.listeners[id] = l
	h.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.listeners, id)
			h.mu.Unlock()
		})
	}, nil
}

func (h *hub) notifyLost() {
	h.dispatch(func(l Listener) bool {
		ev := &LossEvent{}
		l.ContextLost(ev)
		return ev.DefaultPrevented()
	})
}

func (h *hub) notifyRestored() {
	h.dispatch(func(l Listener) bool {
		l.ContextRestored()
		return false
	})
}

// Listeners reports how many listeners are attached.
func (h *hub) Listeners() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.listeners)
}

// PreventedLosses counts loss events a listener acknowledged.
func (h *hub) PreventedLosses() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.prevented
}

func (h *hub) dispatch(deliver func(Listener) bool) {
	h.sched.Post(func() {
		h.mu.Lock()
		ids := make([]int, 0, len(h.listeners))
		for id := range h.listeners {
			ids = append(ids, id)
		}
		h.mu.Unlock()
		sort.Ints(ids)
		for _, id := range ids {
			h.mu.Lock()
			l, ok := h.listeners[id]
			h.mu.Unlock()
			if !ok {
				continue
			}
			if deliver(l) {
				h.mu.Lock()
				h.prevented++
				h.mu.Unlock()
			}
		}
	})
}
