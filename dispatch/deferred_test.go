package dispatch

import (
	"errors"
	"testing"
)

func TestDeferredSettlesOnce(t *testing.T) {
	var mt Microtasks
	d := NewDeferred[int](&mt)

	if _, err := d.Result(); !errors.Is(err, ErrPending) {
		t.Fatalf("Result before settle = %v, want ErrPending", err)
	}
	if !d.Resolve(1) {
		t.Fatal("first Resolve should report true")
	}
	if d.Resolve(2) {
		t.Error("second Resolve should report false")
	}
	if d.Reject(errors.New("late")) {
		t.Error("Reject after Resolve should report false")
	}

	v, err := d.Result()
	if err != nil || v != 1 {
		t.Errorf("Result = %d, %v; want 1, nil", v, err)
	}
	select {
	case <-d.Done():
	default:
		t.Error("Done should be closed")
	}
}

func TestDeferredThenRunsOnScheduler(t *testing.T) {
	var mt Microtasks
	d := NewDeferred[string](&mt)

	var got []string
	d.Then(func(v string, err error) { got = append(got, "first:"+v) })
	d.Resolve("x")

	if len(got) != 0 {
		t.Fatal("Then callback must not run inline")
	}
	if mt.Len() != 1 {
		t.Fatalf("queued = %d, want 1", mt.Len())
	}

	// Registered after settlement: still queued, not inline.
	d.Then(func(v string, err error) { got = append(got, "second:"+v) })
	if len(got) != 0 {
		t.Fatal("late Then callback must not run inline")
	}

	if n := mt.Run(); n != 2 {
		t.Errorf("Run = %d, want 2", n)
	}
	if len(got) != 2 || got[0] != "first:x" || got[1] != "second:x" {
		t.Errorf("callbacks = %v", got)
	}
}

func TestMicrotasksRunNestedEnqueues(t *testing.T) {
	var mt Microtasks
	var order []int
	mt.Enqueue(func() {
		order = append(order, 1)
		mt.Enqueue(func() { order = append(order, 3) })
	})
	mt.Enqueue(func() { order = append(order, 2) })

	mt.Run()
	if len(order) != 3 || order[0] != 1 || order[1] != 2 || order[2] != 3 {
		t.Errorf("order = %v, want [1 2 3]", order)
	}
	if mt.Len() != 0 {
		t.Errorf("queue not drained: %d", mt.Len())
	}
}

func TestRejectedDeferred(t *testing.T) {
	boom := errors.New("boom")
	var mt Microtasks
	d := Rejected[int](&mt, boom)
	if !d.Settled() {
		t.Fatal("expected settled")
	}
	_, err := d.Result()
	if !errors.Is(err, boom) {
		t.Errorf("err = %v", err)
	}

	called := false
	d.Then(func(_ int, err error) { called = err == boom })
	if called {
		t.Fatal("Then ran inline on a settled deferred")
	}
	mt.Run()
	if !called {
		t.Error("Then did not run on the scheduler")
	}
}

func TestNewDeferredRequiresScheduler(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("expected panic for nil scheduler")
		}
	}()
	NewDeferred[int](nil)
}
