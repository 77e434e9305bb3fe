package scheduler

import (
	"container/heap"
	"context"
	"sync"
	"time"
)

// Queue is a delayed-delivery work queue. Tasks become visible once
// their ready time has passed; delivery order among ready tasks follows
// ready time. Payloads travel as opaque encoded bytes, so the queue
// knows nothing about task semantics.
type Queue struct {
	items delayHeap
	mu    sync.Mutex
	wake  chan struct{}
}

type queuedTask struct {
	payload []byte
	readyAt time.Time
	index   int
}

// NewQueue creates an empty queue
func NewQueue() *Queue {
	q := &Queue{wake: make(chan struct{}, 1)}
	heap.Init(&q.items)
	return q
}

// Enqueue schedules a task for immediate delivery
func (q *Queue) Enqueue(t Task) error {
	return q.EnqueueAfter(t, 0)
}

// EnqueueAfter schedules a task to become deliverable after delay
func (q *Queue) EnqueueAfter(t Task, delay time.Duration) error {
	payload, err := t.Encode()
	if err != nil {
		return err
	}

	q.mu.Lock()
	heap.Push(&q.items, &queuedTask{payload: payload, readyAt: time.Now().Add(delay)})
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
	return nil
}

// Dequeue blocks until a task is ready or the context is cancelled
func (q *Queue) Dequeue(ctx context.Context) (Task, error) {
	for {
		q.mu.Lock()
		var wait time.Duration
		if q.items.Len() > 0 {
			head := q.items[0]
			now := time.Now()
			if !head.readyAt.After(now) {
				item := heap.Pop(&q.items).(*queuedTask)
				q.mu.Unlock()
				return DecodeTask(item.payload)
			}
			wait = head.readyAt.Sub(now)
		}
		q.mu.Unlock()

		if wait > 0 {
			timer := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				timer.Stop()
				return Task{}, ctx.Err()
			case <-q.wake:
				timer.Stop()
			case <-timer.C:
			}
		} else {
			select {
			case <-ctx.Done():
				return Task{}, ctx.Err()
			case <-q.wake:
			}
		}
	}
}

// Len returns the number of queued tasks, ready or not
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.items.Len()
}

// delayHeap orders tasks by ready time
type delayHeap []*queuedTask

func (h delayHeap) Len() int { return len(h) }

// Less compares ready times
func (h delayHeap) Less(i, j int) bool {
	return h[i].readyAt.Before(h[j].readyAt)
}

// Swap swaps two tasks
func (h delayHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

// Push implements heap.Interface
func (h *delayHeap) Push(x interface{}) {
	item := x.(*queuedTask)
	item.index = len(*h)
	*h = append(*h, item)
}

// Pop implements heap.Interface
func (h *delayHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	item.index = -1
	*h = old[0 : n-1]
	return item
}
