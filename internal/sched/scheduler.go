// Package sched provides the single-shot timer primitive the routing
// engine reschedules itself with.
package sched

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"golang.org/x/exp/slices"

	"github.com/signalsfoundry/leo-router/timectrl"
)

// EventScheduler runs callbacks at simulation times read from a SimClock.
//
// The simulation loop advances the clock and then calls RunDue. Callbacks
// run outside the scheduler lock, so they may Schedule or Cancel.
type EventScheduler interface {
	// Schedule registers f to run at 'at' and returns an ID for Cancel.
	Schedule(at time.Time, f func()) (id string)

	// Cancel drops a pending event. Unknown or already-run IDs are ignored.
	Cancel(id string)

	// Now returns the current simulation time.
	Now() time.Time

	// RunDue executes every pending event scheduled at or before Now().
	RunDue()

	// Next returns the time of the earliest pending event.
	Next() (time.Time, bool)
}

type event struct {
	id        string
	when      time.Time
	f         func()
	cancelled bool
}

// queue keeps events ordered by (when, seq). It is shared by the clock
// backed scheduler and the fake. Callers hold the owning mutex.
type queue struct {
	counter uint64
	prefix  string
	events  []*event
	index   map[string]*event
}

func newQueue(prefix string) queue {
	return queue{prefix: prefix, index: make(map[string]*event)}
}

func (q *queue) push(at time.Time, f func()) string {
	q.counter++
	ev := &event{
		id:   fmt.Sprintf("%s-%d", q.prefix, q.counter),
		when: at,
		f:    f,
	}
	// Equal times keep insertion order.
	idx := sort.Search(len(q.events), func(i int) bool {
		return q.events[i].when.After(at)
	})
	q.events = slices.Insert(q.events, idx, ev)
	q.index[ev.id] = ev
	return ev.id
}

func (q *queue) cancel(id string) {
	ev, ok := q.index[id]
	if !ok {
		return
	}
	// Removal from events is lazy.
	ev.cancelled = true
	delete(q.index, id)
}

// popDue removes and returns the earliest live event due at now.
func (q *queue) popDue(now time.Time) *event {
	for len(q.events) > 0 {
		ev := q.events[0]
		if ev.cancelled {
			q.events = q.events[1:]
			continue
		}
		if ev.when.After(now) {
			return nil
		}
		q.events = q.events[1:]
		delete(q.index, ev.id)
		return ev
	}
	return nil
}

func (q *queue) next() (time.Time, bool) {
	for _, ev := range q.events {
		if !ev.cancelled {
			return ev.when, true
		}
	}
	return time.Time{}, false
}

func (q *queue) pending() int { return len(q.index) }

// eventScheduler is the SimClock backed EventScheduler.
type eventScheduler struct {
	clock timectrl.SimClock

	mu sync.Mutex
	q  queue
}

// NewEventScheduler creates a scheduler that reads time from clock. The
// simulation passes its TimeController; tests usually use
// FakeEventScheduler instead.
func NewEventScheduler(clock timectrl.SimClock) EventScheduler {
	return &eventScheduler{clock: clock, q: newQueue("ev")}
}

func (s *eventScheduler) Schedule(at time.Time, f func()) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.q.push(at, f)
}

func (s *eventScheduler) Cancel(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.q.cancel(id)
}

func (s *eventScheduler) Now() time.Time { return s.clock.Now() }

func (s *eventScheduler) Next() (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.q.next()
}

// Pending returns the number of live events.
func (s *eventScheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.q.pending()
}

func (s *eventScheduler) RunDue() {
	for {
		s.mu.Lock()
		ev := s.q.popDue(s.clock.Now())
		s.mu.Unlock()
		if ev == nil {
			return
		}
		if ev.f != nil {
			ev.f()
		}
	}
}
