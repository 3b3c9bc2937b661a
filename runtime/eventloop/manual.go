package eventloop

import (
	"sort"
	"time"
)

// Manual is a deterministic Scheduler whose clock only moves when Advance is
// called. Posted callbacks run on Flush or Advance.
type Manual struct {
	now    time.Duration
	seq    uint64
	timers []*manualTimer
	posted []func()
}

// NewManual returns a manual scheduler positioned at zero elapsed time.
func NewManual() *Manual {
	return &Manual{}
}

// Post queues fn until the next Flush or Advance.
func (m *Manual) Post(fn func()) {
	if fn == nil {
		return
	}
	m.posted = append(m.posted, fn)
}

// AfterFunc schedules fn at the current manual time plus d.
func (m *Manual) AfterFunc(d time.Duration, fn func()) Timer {
	if d < 0 {
		d = 0
	}
	t := &manualTimer{owner: m, due: m.now + d, seq: m.seq, fn: fn}
	m.seq++
	m.timers = append(m.timers, t)
	return t
}

// Flush runs every posted callback, including callbacks posted while flushing.
func (m *Manual) Flush() {
	for len(m.posted) > 0 {
		batch := m.posted
		m.posted = nil
		for _, fn := range batch {
			fn()
		}
	}
}

// Advance moves the clock forward by d, running due timers in due order.
// Timers with equal due times run in the order they were scheduled.
func (m *Manual) Advance(d time.Duration) {
	target := m.now + d
	m.Flush()
	for {
		t := m.popDue(target)
		if t == nil {
			break
		}
		m.now = t.due
		t.fn()
		m.Flush()
	}
	m.now = target
}

// Elapsed reports the manual time.
func (m *Manual) Elapsed() time.Duration {
	return m.now
}

// Pending reports the number of timers that have neither fired nor been stopped.
func (m *Manual) Pending() int {
	return len(m.timers)
}

func (m *Manual) popDue(target time.Duration) *manualTimer {
	if len(m.timers) == 0 {
		return nil
	}
	sort.SliceStable(m.timers, func(i, j int) bool {
		if m.timers[i].due == m.timers[j].due {
			return m.timers[i].seq < m.timers[j].seq
		}
		return m.timers[i].due < m.timers[j].due
	})
	first := m.timers[0]
	if first.due > target {
		return nil
	}
	m.timers = m.timers[1:]
	first.done = true
	return first
}

func (m *Manual) remove(t *manualTimer) {
	for i, candidate := range m.timers {
		if candidate == t {
			m.timers = append(m.timers[:i], m.timers[i+1:]...)
			return
		}
	}
}

type manualTimer struct {
	owner *Manual
	due   time.Duration
	seq   uint64
	fn    func()
	done  bool
}

func (t *manualTimer) Stop() bool {
	if t.done {
		return false
	}
	t.done = true
	t.owner.remove(t)
	return true
}
