package scheduler

import (
	"context"
	"errors"
	"sync"
)

// #region errors
var (
	// ErrFitInFlight is returned by Submit while an earlier task has not been awaited.
	ErrFitInFlight = errors.New("refit already in flight")

	// ErrClosed is returned by Submit after Close.
	ErrClosed = errors.New("scheduler closed")
)
// #endregion errors

// #region scheduler
// Task is one unit of background work. It must return promptly once ctx is done.
type Task func(ctx context.Context) error

type handle struct {
	done chan struct{}
	err  error
}

// Scheduler runs at most one task at a time on a background goroutine. A
// submitted task occupies the slot until a caller has awaited it with Wait,
// so nobody can queue a second refit behind one whose result has not been
// consumed.
type Scheduler struct {
	mu      sync.Mutex
	pending *handle
	closed  bool

	ctx    context.Context
	cancel context.CancelFunc
}

// New creates an idle scheduler.
func New() *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{ctx: ctx, cancel: cancel}
}
// #endregion scheduler

// #region submit
// Submit starts task in the background. It fails with ErrFitInFlight if the
// slot is occupied and ErrClosed after Close.
func (s *Scheduler) Submit(task Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	if s.pending != nil {
		return ErrFitInFlight
	}

	h := &handle{done: make(chan struct{})}
	s.pending = h
	go func() {
		defer close(h.done)
		h.err = task(s.ctx)
	}()
	return nil
}
// #endregion submit

// #region wait
// Wait blocks until the pending task finishes, frees the slot, and returns
// the task's error. It returns nil immediately when nothing is pending. If
// ctx ends first, Wait returns ctx's error and the slot stays occupied.
func (s *Scheduler) Wait(ctx context.Context) error {
	s.mu.Lock()
	h := s.pending
	s.mu.Unlock()
	if h == nil {
		return nil
	}

	select {
	case <-h.done:
	case <-ctx.Done():
		return ctx.Err()
	}

	s.mu.Lock()
	if s.pending == h {
		s.pending = nil
	}
	s.mu.Unlock()
	return h.err
}

// Pending reports whether a task occupies the slot, running or finished but
// not yet awaited.
func (s *Scheduler) Pending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pending != nil
}
// #endregion wait

// #region close
// Close cancels any in-flight task and waits for it to return. Later
// submissions fail with ErrClosed. Close is idempotent.
func (s *Scheduler) Close() {
	s.mu.Lock()
	s.closed = true
	h := s.pending
	s.pending = nil
	s.mu.Unlock()

	s.cancel()
	if h != nil {
		<-h.done
	}
}
// #endregion close
