package scheduler

import "sync"

// Barrier implements fan-out/join as an explicit counter per job:
// register the fan-out size, then each item's terminal transition
// arrives exactly once, and the arrival that brings the count to zero
// reports true so the caller can trigger the join step.
type Barrier struct {
	counts map[int64]int
	mu     sync.Mutex
}

// NewBarrier creates an empty barrier registry
func NewBarrier() *Barrier {
	return &Barrier{counts: make(map[int64]int)}
}

// Register sets the number of arrivals expected for a key
func (b *Barrier) Register(key int64, n int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.counts[key] = n
}

// Arrive records one terminal transition and reports whether the
// barrier for the key is now complete. Arrivals for unknown keys report
// false.
func (b *Barrier) Arrive(key int64) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	n, ok := b.counts[key]
	if !ok {
		return false
	}
	n--
	if n <= 0 {
		delete(b.counts, key)
		return true
	}
	b.counts[key] = n
	return false
}
