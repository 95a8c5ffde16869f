// Package clocktest provides a hand-driven clock and scheduler for tests.
package clocktest

import (
	"sync"
	"time"
)

type task struct {
	at      time.Time
	every   time.Duration
	fn      func()
	stopped bool
}

// Manual implements clock.Clock and clock.Scheduler. Time only moves on Advance,
// which runs due callbacks synchronously in time order.
type Manual struct {
	mu    sync.Mutex
	now   time.Time
	tasks []*task
}

func New(start time.Time) *Manual {
	return &Manual{now: start}
}

func (m *Manual) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

func (m *Manual) Every(interval time.Duration, fn func()) func() {
	return m.add(&task{at: m.Now().Add(interval), every: interval, fn: fn})
}

func (m *Manual) After(delay time.Duration, fn func()) func() {
	return m.add(&task{at: m.Now().Add(delay), fn: fn})
}

func (m *Manual) add(t *task) func() {
	m.mu.Lock()
	m.tasks = append(m.tasks, t)
	m.mu.Unlock()

	return func() {
		m.mu.Lock()
		t.stopped = true
		m.mu.Unlock()
	}
}

// Advance moves the clock forward by d, firing every callback that falls due on the way.
func (m *Manual) Advance(d time.Duration) {
	m.mu.Lock()
	target := m.now.Add(d)

	for {
		next := m.nextDue(target)
		if next == nil {
			break
		}

		m.now = next.at
		if next.every > 0 {
			next.at = next.at.Add(next.every)
		} else {
			next.stopped = true
		}

		m.mu.Unlock()
		next.fn()
		m.mu.Lock()
	}

	m.now = target
	m.prune()
	m.mu.Unlock()
}

// Pending reports how many callbacks are still scheduled.
func (m *Manual) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.prune()
	return len(m.tasks)
}

func (m *Manual) nextDue(target time.Time) *task {
	var next *task
	for _, t := range m.tasks {
		if t.stopped || t.at.After(target) {
			continue
		}
		if next == nil || t.at.Before(next.at) {
			next = t
		}
	}
	return next
}

func (m *Manual) prune() {
	alive := m.tasks[:0]
	for _, t := range m.tasks {
		if !t.stopped {
			alive = append(alive, t)
		}
	}
	m.tasks = alive
}
