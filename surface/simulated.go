package surface

import (
	"errors"
	"sync"

	"github.com/timzifer/ctxguard/runtime/eventloop"
)

// ErrReleased is returned by Release when the context was already dropped.
var ErrReleased = errors.New("context already released")

// Simulated is an in-process surface. Driver signals raised through Lose,
// Restore and Release are delivered to listeners on the scheduler, the same way
// a real driver queues its events behind the current task.
type Simulated struct {
	hub
	id string

	mu         sync.Mutex
	lost       bool
	listenErr  error
	releaseErr error
}

// NewSimulated creates a surface with a live context.
func NewSimulated(id string, sched eventloop.Scheduler) *Simulated {
	return &Simulated{id: id, hub: hub{sched: sched}}
}

// ID implements Surface.
func (s *Simulated) ID() string {
	return s.id
}

// Listen implements Surface.
func (s *Simulated) Listen(l Listener) (func(), error) {
	s.mu.Lock()
	err := s.listenErr
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return s.listen(l)
}

// Release implements Surface by dropping the context.
func (s *Simulated) Release() error {
	s.mu.Lock()
	err := s.releaseErr
	lost := s.lost
	s.mu.Unlock()
	if err != nil {
		return err
	}
	if lost {
		return ErrReleased
	}
	s.Lose()
	return nil
}

// Lose simulates a driver-side context loss.
func (s *Simulated) Lose() {
	s.mu.Lock()
	if s.lost {
		s.mu.Unlock()
		return
	}
	s.lost = true
	s.mu.Unlock()
	s.notifyLost()
}

// Restore simulates the driver handing the context back.
func (s *Simulated) Restore() {
	s.mu.Lock()
	if !s.lost {
		s.mu.Unlock()
		return
	}
	s.lost = false
	s.mu.Unlock()
	s.notifyRestored()
}

// Lost reports whether the context is currently dropped.
func (s *Simulated) Lost() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lost
}

// FailListen makes subsequent Listen calls fail with err. A nil err clears it.
func (s *Simulated) FailListen(err error) {
	s.mu.Lock()
	s.listenErr = err
	s.mu.Unlock()
}

// FailRelease makes subsequent Release calls fail with err. A nil err clears it.
func (s *Simulated) FailRelease(err error) {
	s.mu.Lock()
	s.releaseErr = err
	s.mu.Unlock()
}
