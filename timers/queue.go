// Package timers implements the isolate's timer queue and the drain hook the
// host calls when the global timer fires.
package timers

import (
	"container/heap"
	"time"
)

// ID identifies a scheduled timer. Zero is never issued.
type ID uint64

type timer struct {
	id    ID
	due   time.Time
	seq   uint64
	fn    func()
	index int
}

type timerHeap []*timer

func (h timerHeap) Len() int { return len(h) }

func (h timerHeap) Less(i, j int) bool {
	if h[i].due.Equal(h[j].due) {
		return h[i].seq < h[j].seq
	}
	return h[i].due.Before(h[j].due)
}

func (h timerHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *timerHeap) Push(x any) {
	t := x.(*timer)
	t.index = len(*h)
	*h = append(*h, t)
}

func (h *timerHeap) Pop() any {
	old := *h
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	t.index = -1
	*h = old[:n-1]
	return t
}

// Option configures a Queue.
type Option func(*Queue)

// WithClock sets the time source. Defaults to time.Now.
func WithClock(now func() time.Time) Option {
	return func(q *Queue) {
		q.now = now
	}
}

// WithArm sets the callback asked to wake the queue after d.
func WithArm(fn func(d time.Duration)) Option {
	return func(q *Queue) {
		q.arm = fn
	}
}

// WithDisarm sets the callback invoked when no timers remain.
func WithDisarm(fn func()) Option {
	return func(q *Queue) {
		q.disarm = fn
	}
}

// Queue is a set of one-shot timers ordered by due time, then by
// registration order. It is not safe for concurrent use.
type Queue struct {
	now    func() time.Time
	arm    func(time.Duration)
	disarm func()

	heap   timerHeap
	byID   map[ID]*timer
	nextID ID
	seq    uint64

	draining bool
	armedAt  time.Time
	armed    bool
}

// New creates an empty queue.
func New(opts ...Option) *Queue {
	q := &Queue{
		now:  time.Now,
		byID: make(map[ID]*timer),
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Set schedules fn to run after delay. A negative delay is treated as zero.
func (q *Queue) Set(delay time.Duration, fn func()) ID {
	if delay < 0 {
		delay = 0
	}
	q.nextID++
	q.seq++
	t := &timer{
		id:  q.nextID,
		due: q.now().Add(delay),
		seq: q.seq,
		fn:  fn,
	}
	heap.Push(&q.heap, t)
	q.byID[t.id] = t

	if !q.draining {
		q.rearm()
	}
	return t.id
}

// Clear cancels a timer. It reports false if the timer already ran or was
// never scheduled.
func (q *Queue) Clear(id ID) bool {
	t, ok := q.byID[id]
	if !ok {
		return false
	}
	delete(q.byID, id)
	if t.index >= 0 {
		heap.Remove(&q.heap, t.index)
	}
	if !q.draining {
		q.rearm()
	}
	return true
}

// Len returns the number of scheduled timers.
func (q *Queue) Len() int {
	return len(q.byID)
}

// Next returns the due time of the earliest timer.
func (q *Queue) Next() (time.Time, bool) {
	if len(q.heap) == 0 {
		return time.Time{}, false
	}
	return q.heap[0].due, true
}

// Drain runs every timer due at the moment Drain was called, in due order.
// Timers scheduled by the callbacks wait for a later drain even if already
// due. It re-arms for the earliest remaining timer and reports whether any
// remain.
func (q *Queue) Drain() bool {
	now := q.now()

	var due []*timer
	for len(q.heap) > 0 && !q.heap[0].due.After(now) {
		due = append(due, heap.Pop(&q.heap).(*timer))
	}

	q.draining = true
	for _, t := range due {
		// Cleared by an earlier callback in this drain.
		if _, ok := q.byID[t.id]; !ok {
			continue
		}
		delete(q.byID, t.id)
		t.fn()
	}
	q.draining = false

	// The wakeup that triggered this drain is spent; always tell the host
	// what comes next.
	q.armed = false
	if len(q.heap) == 0 {
		if q.disarm != nil {
			q.disarm()
		}
		return false
	}
	q.rearm()
	return true
}

func (q *Queue) rearm() {
	next, ok := q.Next()
	if !ok {
		if q.armed && q.disarm != nil {
			q.disarm()
		}
		q.armed = false
		return
	}
	if q.armed && q.armedAt.Equal(next) {
		return
	}
	q.armed = true
	q.armedAt = next
	if q.arm != nil {
		d := next.Sub(q.now())
		if d < 0 {
			d = 0
		}
		q.arm(d)
	}
}
