// Package registry tracks which handles currently hold one of the scarce
// rendering contexts.
//
// A Registry is an insertion-ordered set with a fixed capacity. Registering a
// new handle always succeeds: when the registry is full the earliest inserted
// handle is evicted first. Eviction is strictly FIFO by registration order and
// ignores how recently a handle was used.
//
// A Registry performs no locking. It must only be touched from the scheduler
// thread that owns it (see runtime/eventloop).
package registry

import (
	"fmt"
	"strconv"
)

// DefaultCapacity is the number of simultaneously active contexts allowed
// when no capacity is configured.
const DefaultCapacity = 4

// Handle identifies one widget's claim on the context pool.
type Handle uint64

// String renders the handle the way it appears in logs and diagnostics.
func (h Handle) String() string {
	return "ctx-" + strconv.FormatUint(uint64(h), 10)
}

// Sequence hands out handles from a monotonic counter. Handles are never reused
// for the lifetime of the sequence. The zero value is ready to use.
type Sequence struct {
	next uint64
}

// Next returns a fresh handle.
func (s *Sequence) Next() Handle {
	h := Handle(s.next)
	s.next++
	return h
}

// Observer receives registry mutations. All methods are optional no-ops in
// NopObserver.
type Observer interface {
	Inserted(h Handle, size int)
	Evicted(h Handle, size int)
	Removed(h Handle, size int)
	Cleared(count int)
}

// NopObserver ignores every notification.
type NopObserver struct{}

func (NopObserver) Inserted(Handle, int) {}
func (NopObserver) Evicted(Handle, int)  {}
func (NopObserver) Removed(Handle, int)  {}
func (NopObserver) Cleared(int)          {}

type entry struct {
	handle     Handle
	prev, next *entry
}

// Registry is the bounded, insertion-ordered set of active handles.
type Registry struct {
	capacity   int
	index      map[Handle]*entry
	head, tail *entry
	observer   Observer
}

// New creates a registry with the given capacity. Non-positive capacities fall
// back to DefaultCapacity.
func New(capacity int, observer Observer) *Registry {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	if observer == nil {
		observer = NopObserver{}
	}
	return &Registry{
		capacity: capacity,
		index:    make(map[Handle]*entry, capacity),
		observer: observer,
	}
}

// Capacity returns the maximum number of active handles.
func (r *Registry) Capacity() int {
	return r.capacity
}

// Len returns the number of active handles.
func (r *Registry) Len() int {
	return len(r.index)
}

// CanAdmit reports whether a handle could be inserted without evicting.
func (r *Registry) CanAdmit() bool {
	return len(r.index) < r.capacity
}

// Contains reports whether h holds a claim.
func (r *Registry) Contains(h Handle) bool {
	_, ok := r.index[h]
	return ok
}

// Insert registers h as the most recent claim. When the registry is full the
// oldest claim is evicted first and returned with evicted set to true.
// Inserting a handle that is already present keeps its original position.
func (r *Registry) Insert(h Handle) (victim Handle, evicted bool) {
	if _, ok := r.index[h]; ok {
		return 0, false
	}
	if len(r.index) >= r.capacity {
		victim = r.head.handle
		r.unlink(r.head)
		evicted = true
		r.observer.Evicted(victim, len(r.index))
	}
	e := &entry{handle: h, prev: r.tail}
	if r.tail != nil {
		r.tail.next = e
	} else {
		r.head = e
	}
	r.tail = e
	r.index[h] = e
	r.observer.Inserted(h, len(r.index))
	return victim, evicted
}

// Remove drops h if present. It reports whether anything was removed.
func (r *Registry) Remove(h Handle) bool {
	e, ok := r.index[h]
	if !ok {
		return false
	}
	r.unlink(e)
	r.observer.Removed(h, len(r.index))
	return true
}

// Clear drops every claim and returns how many were dropped.
func (r *Registry) Clear() int {
	count := len(r.index)
	r.index = make(map[Handle]*entry, r.capacity)
	r.head, r.tail = nil, nil
	r.observer.Cleared(count)
	return count
}

// SetCapacity changes the capacity. When shrinking below the current size the
// oldest claims are evicted until the size fits. The evicted handles are
// returned oldest first.
func (r *Registry) SetCapacity(capacity int) ([]Handle, error) {
	if capacity <= 0 {
		return nil, fmt.Errorf("capacity must be positive, got %d", capacity)
	}
	r.capacity = capacity
	var evicted []Handle
	for len(r.index) > r.capacity {
		victim := r.head.handle
		r.unlink(r.head)
		evicted = append(evicted, victim)
		r.observer.Evicted(victim, len(r.index))
	}
	return evicted, nil
}

// Handles lists the active handles, oldest first.
func (r *Registry) Handles() []Handle {
	out := make([]Handle, 0, len(r.index))
	for e := r.head; e != nil; e = e.next {
		out = append(out, e.handle)
	}
	return out
}

func (r *Registry) unlink(e *entry) {
	if e.prev != nil {
		e.prev.next = e.next
	} else {
		r.head = e.next
	}
	if e.next != nil {
		e.next.prev = e.prev
	} else {
		r.tail = e.prev
	}
	e.prev, e.next = nil, nil
	delete(r.index, e.handle)
}
