package sim

import (
	"container/heap"
	"errors"
	"fmt"
)

var (
	// ErrPastTime is returned when an event is scheduled before the
	// current simulated time.
	ErrPastTime = errors.New("schedule time precedes current simulated time")
	// ErrQueueEmpty is returned by Advance when no events remain. It is
	// the normal termination signal, not a failure.
	ErrQueueEmpty = errors.New("event queue is empty")
)

// Scheduled is a handle to an enqueued event. Cancelling it removes the
// event from the dispatch stream without disturbing heap order.
type Scheduled struct {
	event     Event
	cancelled bool
}

// Time returns the simulated time the event will dispatch at.
func (s *Scheduled) Time() float64 { return s.event.Time }

// Clock orders pending events by (timestamp, insertion sequence) and owns
// the current simulated time. The sequence tie-break keeps replay
// reproducible: two runs issuing identical Schedule calls dispatch in
// identical order.
type Clock struct {
	now    float64
	seq    uint64
	events eventHeap
	live   int
}

func NewClock() *Clock {
	return &Clock{}
}

// Now returns the current simulated time in seconds.
func (c *Clock) Now() float64 { return c.now }

// Pending returns the number of live (non-cancelled) events.
func (c *Clock) Pending() int { return c.live }

// Schedule enqueues ev for dispatch at the given time and returns a
// cancellable handle. Scheduling into the past fails with ErrPastTime.
func (c *Clock) Schedule(ev Event, at float64) (*Scheduled, error) {
	if at < c.now {
		return nil, fmt.Errorf("%w: %v < %v", ErrPastTime, at, c.now)
	}
	ev.Time = at
	ev.Seq = c.seq
	c.seq++
	s := &Scheduled{event: ev}
	heap.Push(&c.events, s)
	c.live++
	return s, nil
}

// Cancel marks a previously scheduled event so Advance will skip it.
func (c *Clock) Cancel(s *Scheduled) {
	if s == nil || s.cancelled {
		return
	}
	s.cancelled = true
	c.live--
}

// Advance pops the earliest live event, moves the current time forward to
// its timestamp and returns it. When nothing remains it fails with
// ErrQueueEmpty.
func (c *Clock) Advance() (Event, error) {
	for c.events.Len() > 0 {
		s := heap.Pop(&c.events).(*Scheduled)
		if s.cancelled {
			continue
		}
		c.live--
		c.now = s.event.Time
		return s.event, nil
	}
	return Event{}, ErrQueueEmpty
}

type eventHeap []*Scheduled

func (h eventHeap) Len() int { return len(h) }

func (h eventHeap) Less(i, j int) bool {
	if h[i].event.Time != h[j].event.Time {
		return h[i].event.Time < h[j].event.Time
	}
	return h[i].event.Seq < h[j].event.Seq
}

func (h eventHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
}

func (h *eventHeap) Push(x any) {
	*h = append(*h, x.(*Scheduled))
}

func (h *eventHeap) Pop() any {
	old := *h
	n := len(old)
	s := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return s
}
