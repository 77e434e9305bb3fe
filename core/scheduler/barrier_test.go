package scheduler

import (
	"sync"
	"sync/atomic"
	"testing"
)

func TestBarrierArrivesOnce(t *testing.T) {
	b := NewBarrier()
	b.Register(1, 3)

	if b.Arrive(1) {
		t.Error("barrier released after 1 of 3 arrivals")
	}
	if b.Arrive(1) {
		t.Error("barrier released after 2 of 3 arrivals")
	}
	if !b.Arrive(1) {
		t.Error("barrier not released after final arrival")
	}
	// The key is consumed on release.
	if b.Arrive(1) {
		t.Error("released barrier must not fire again")
	}
}

func TestBarrierUnknownKey(t *testing.T) {
	b := NewBarrier()
	if b.Arrive(99) {
		t.Error("arrival on unregistered key must not release")
	}
}

func TestBarrierIndependentKeys(t *testing.T) {
	b := NewBarrier()
	b.Register(1, 1)
	b.Register(2, 2)

	if !b.Arrive(1) {
		t.Error("single-arrival barrier should release immediately")
	}
	if b.Arrive(2) {
		t.Error("key 2 released early")
	}
	if !b.Arrive(2) {
		t.Error("key 2 not released at count")
	}
}

func TestBarrierConcurrentArrivals(t *testing.T) {
	const n = 64
	b := NewBarrier()
	b.Register(5, n)

	var released int64
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if b.Arrive(5) {
				atomic.AddInt64(&released, 1)
			}
		}()
	}
	wg.Wait()

	if released != 1 {
		t.Errorf("barrier released %d times, want exactly once", released)
	}
}
