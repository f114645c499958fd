// Package scheduler provides run-once deferred callbacks for offer expiry and
// no-show detection. Firing is best-effort: callbacks re-check entity state
// before acting, so a late or duplicate fire is a safe no-op.
package scheduler

import (
	"sync"
	"time"
)

type Scheduler interface {
	// After runs fn once, no earlier than d from now.
	After(d time.Duration, fn func())
}

// TimerScheduler schedules on stdlib timers.
type TimerScheduler struct {
	mu      sync.Mutex
	stopped bool
	timers  map[*time.Timer]struct{}
}

func New() *TimerScheduler {
	return &TimerScheduler{timers: make(map[*time.Timer]struct{})}
}

func (s *TimerScheduler) After(d time.Duration, fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	var t *time.Timer
	t = time.AfterFunc(d, func() {
		s.mu.Lock()
		delete(s.timers, t)
		stopped := s.stopped
		s.mu.Unlock()
		if !stopped {
			fn()
		}
	})
	s.timers[t] = struct{}{}
}

// Stop drops all pending callbacks. Timeouts lost on shutdown are tolerated:
// a later match trigger or admin redispatch recovers a stuck offer.
func (s *TimerScheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = true
	for t := range s.timers {
		t.Stop()
	}
	s.timers = map[*time.Timer]struct{}{}
}

// Manual is the test scheduler: callbacks queue until Fire.
type Manual struct {
	mu      sync.Mutex
	pending []func()
}

func NewManual() *Manual { return &Manual{} }

func (m *Manual) After(_ time.Duration, fn func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pending = append(m.pending, fn)
}

// Fire runs every queued callback once, in scheduling order.
func (m *Manual) Fire() {
	m.mu.Lock()
	fns := m.pending
	m.pending = nil
	m.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

// Pending reports how many callbacks are queued.
func (m *Manual) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pending)
}
