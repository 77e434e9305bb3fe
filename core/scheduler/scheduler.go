package scheduler

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"
)

// HandlerFunc processes one task and returns the follow-up tasks to
// enqueue. Returning an error triggers the kind's retry policy unless
// the error is permanent.
type HandlerFunc func(ctx context.Context, task Task) ([]Task, error)

// TerminalFunc runs after a task's last failed attempt (permanent error
// or exhausted retries) and returns follow-up tasks, letting workflows
// join on failures as well as successes.
type TerminalFunc func(task Task, err error) []Task

// RetryPolicy caps attempts per task kind. Backoff grows linearly:
// the delay before attempt n+1 is Backoff * n.
type RetryPolicy struct {
	MaxAttempts int
	Backoff     time.Duration
}

// PermanentError marks a failure that retrying cannot fix.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return e.Err.Error() }

// Unwrap returns the wrapped error
func (e *PermanentError) Unwrap() error { return e.Err }

// Permanent wraps err so the scheduler will not retry it.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

type registration struct {
	handler  HandlerFunc
	policy   RetryPolicy
	terminal TerminalFunc
}

// Scheduler runs a worker pool over the task queue, routing each task
// to its registered handler and owning retry and follow-up delivery.
// Handlers never enqueue work themselves.
type Scheduler struct {
	queue    *Queue
	handlers map[Kind]registration
	workers  int
	wg       sync.WaitGroup
}

// NewScheduler creates a scheduler with the given worker count
func NewScheduler(queue *Queue, workers int) *Scheduler {
	if workers < 1 {
		workers = 1
	}
	return &Scheduler{
		queue:    queue,
		handlers: make(map[Kind]registration),
		workers:  workers,
	}
}

// Handle registers the handler and retry policy for a task kind
func (s *Scheduler) Handle(kind Kind, fn HandlerFunc, policy RetryPolicy) {
	s.HandleWithTerminal(kind, fn, policy, nil)
}

// HandleWithTerminal registers a handler together with a terminal-
// failure hook
func (s *Scheduler) HandleWithTerminal(kind Kind, fn HandlerFunc, policy RetryPolicy, terminal TerminalFunc) {
	if policy.MaxAttempts < 1 {
		policy.MaxAttempts = 1
	}
	s.handlers[kind] = registration{handler: fn, policy: policy, terminal: terminal}
}

// Submit schedules a task for execution
func (s *Scheduler) Submit(task Task) error {
	return s.queue.Enqueue(task)
}

// Start launches the worker pool. Workers exit when ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) {
	for i := 0; i < s.workers; i++ {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.run(ctx)
		}()
	}
}

// Wait blocks until every worker has exited
func (s *Scheduler) Wait() {
	s.wg.Wait()
}

func (s *Scheduler) run(ctx context.Context) {
	for {
		task, err := s.queue.Dequeue(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return
			}
			log.Printf("Failed to dequeue task: %v", err)
			continue
		}
		s.process(ctx, task)
	}
}

func (s *Scheduler) process(ctx context.Context, task Task) {
	reg, ok := s.handlers[task.Kind]
	if !ok {
		log.Printf("No handler registered for task kind %q, dropping task %s", task.Kind, task.ID)
		return
	}

	next, err := reg.handler(ctx, task)
	if err == nil {
		s.enqueueAll(next)
		return
	}

	var perm *PermanentError
	if errors.As(err, &perm) {
		log.Printf("Task %s (%s) failed permanently: %v", task.ID, task.Kind, err)
		if reg.terminal != nil {
			s.enqueueAll(reg.terminal(task, err))
		}
		return
	}

	if task.Attempt < reg.policy.MaxAttempts {
		delay := reg.policy.Backoff * time.Duration(task.Attempt)
		log.Printf("Task %s (%s) attempt %d failed, retrying in %v: %v",
			task.ID, task.Kind, task.Attempt, delay, err)
		if qerr := s.queue.EnqueueAfter(task.Retry(), delay); qerr != nil {
			log.Printf("Failed to enqueue retry for task %s: %v", task.ID, qerr)
		}
		return
	}

	log.Printf("Task %s (%s) failed after %d attempts: %v", task.ID, task.Kind, task.Attempt, err)
	if reg.terminal != nil {
		s.enqueueAll(reg.terminal(task, err))
	}
}

func (s *Scheduler) enqueueAll(tasks []Task) {
	for _, t := range tasks {
		if err := s.queue.Enqueue(t); err != nil {
			log.Printf("Failed to enqueue follow-up task %s (%s): %v", t.ID, t.Kind, err)
		}
	}
}
