package sched

import (
	"sync"
	"time"
)

// FakeEventScheduler keeps its own notion of time, which tests move
// explicitly with AdvanceTo or AdvanceBy.
type FakeEventScheduler struct {
	mu  sync.Mutex
	now time.Time
	q   queue
}

// NewFakeEventScheduler creates a fake scheduler starting at start.
func NewFakeEventScheduler(start time.Time) *FakeEventScheduler {
	return &FakeEventScheduler{now: start, q: newQueue("fake-ev")}
}

func (s *FakeEventScheduler) Now() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.now
}

func (s *FakeEventScheduler) Schedule(at time.Time, f func()) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.q.push(at, f)
}

func (s *FakeEventScheduler) Cancel(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.q.cancel(id)
}

func (s *FakeEventScheduler) Next() (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.q.next()
}

// Pending returns the number of live events.
func (s *FakeEventScheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.q.pending()
}

func (s *FakeEventScheduler) RunDue() {
	for {
		s.mu.Lock()
		ev := s.q.popDue(s.now)
		s.mu.Unlock()
		if ev == nil {
			return
		}
		if ev.f != nil {
			ev.f()
		}
	}
}

// AdvanceTo moves fake time to t and runs everything due. Time never goes
// backwards.
func (s *FakeEventScheduler) AdvanceTo(t time.Time) {
	s.mu.Lock()
	if t.After(s.now) {
		s.now = t
	}
	s.mu.Unlock()
	s.RunDue()
}

// AdvanceBy is AdvanceTo(Now()+d).
func (s *FakeEventScheduler) AdvanceBy(d time.Duration) {
	s.AdvanceTo(s.Now().Add(d))
}

// Step jumps to the next pending event and runs it along with anything
// else due at that instant. It returns false when nothing is pending.
func (s *FakeEventScheduler) Step() bool {
	next, ok := s.Next()
	if !ok {
		return false
	}
	s.AdvanceTo(next)
	return true
}
