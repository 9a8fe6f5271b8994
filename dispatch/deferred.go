package dispatch

import "errors"

// ErrPending is returned by Result before a Deferred has settled.
var ErrPending = errors.New("deferred not settled")

// Scheduler queues callbacks to run after the current task completes.
type Scheduler interface {
	Enqueue(fn func())
}

// Microtasks is a FIFO callback queue. Callbacks queued while the queue is
// running are run in the same Run call.
type Microtasks struct {
	queue []func()
}

// Enqueue appends fn to the queue.
func (m *Microtasks) Enqueue(fn func()) {
	m.queue = append(m.queue, fn)
}

// Run drains the queue and returns the number of callbacks run.
func (m *Microtasks) Run() int {
	n := 0
	for len(m.queue) > 0 {
		fn := m.queue[0]
		m.queue[0] = nil
		m.queue = m.queue[1:]
		fn()
		n++
	}
	return n
}

// Len returns the number of queued callbacks.
func (m *Microtasks) Len() int {
	return len(m.queue)
}

// Deferred is a value that is resolved or rejected exactly once, later.
type Deferred[T any] struct {
	sched   Scheduler
	done    chan struct{}
	settled bool
	value   T
	err     error
	thens   []func(T, error)
}

// NewDeferred creates an unsettled Deferred whose Then callbacks are queued
// on sched. It panics if sched is nil.
func NewDeferred[T any](sched Scheduler) *Deferred[T] {
	if sched == nil {
		panic("dispatch: NewDeferred with nil scheduler")
	}
	return &Deferred[T]{sched: sched, done: make(chan struct{})}
}

// Rejected returns a Deferred already rejected with err.
func Rejected[T any](sched Scheduler, err error) *Deferred[T] {
	d := NewDeferred[T](sched)
	d.Reject(err)
	return d
}

// Resolve settles d with v. It reports false if d was already settled.
func (d *Deferred[T]) Resolve(v T) bool {
	return d.settle(v, nil)
}

// Reject settles d with err. It reports false if d was already settled.
func (d *Deferred[T]) Reject(err error) bool {
	var zero T
	return d.settle(zero, err)
}

func (d *Deferred[T]) settle(v T, err error) bool {
	if d.settled {
		return false
	}
	d.settled = true
	d.value = v
	d.err = err
	close(d.done)

	thens := d.thens
	d.thens = nil
	for _, fn := range thens {
		d.schedule(fn)
	}
	return true
}

func (d *Deferred[T]) schedule(fn func(T, error)) {
	v, err := d.value, d.err
	d.sched.Enqueue(func() { fn(v, err) })
}

// Then registers fn to receive the outcome. fn is never called before
// settlement and never called inline by Then.
func (d *Deferred[T]) Then(fn func(T, error)) {
	if d.settled {
		d.schedule(fn)
		return
	}
	d.thens = append(d.thens, fn)
}

// Done is closed when d settles.
func (d *Deferred[T]) Done() <-chan struct{} {
	return d.done
}

// Settled reports whether d has been resolved or rejected.
func (d *Deferred[T]) Settled() bool {
	return d.settled
}

// Result returns the outcome, or ErrPending if d has not settled.
func (d *Deferred[T]) Result() (T, error) {
	if !d.settled {
		var zero T
		return zero, ErrPending
	}
	return d.value, d.err
}

type pendingCall[T any] struct {
	op uint32
	d  *Deferred[T]
}

// promiseTable tracks in-flight calls by promise id.
type promiseTable[T any] struct {
	calls map[uint64]pendingCall[T]
}

func newPromiseTable[T any]() promiseTable[T] {
	return promiseTable[T]{calls: make(map[uint64]pendingCall[T])}
}

func (p *promiseTable[T]) add(id uint64, op uint32, d *Deferred[T]) {
	p.calls[id] = pendingCall[T]{op: op, d: d}
}

func (p *promiseTable[T]) take(id uint64) (*Deferred[T], bool) {
	c, ok := p.calls[id]
	if !ok {
		return nil, false
	}
	delete(p.calls, id)
	return c.d, true
}

// takeSole removes and returns the only pending call for op. It fails when
// zero or several calls for op are in flight.
func (p *promiseTable[T]) takeSole(op uint32) (*Deferred[T], bool) {
	var (
		found uint64
		n     int
	)
	for id, c := range p.calls {
		if c.op == op {
			found = id
			n++
		}
	}
	if n != 1 {
		return nil, false
	}
	return p.take(found)
}

func (p *promiseTable[T]) len() int {
	return len(p.calls)
}
