package poller

import (
	"context"
	"errors"
	"sync"
	"time"
)

// TickHandler is called each time the scheduler fires.
type TickHandler func(ctx context.Context)

// Scheduler drives a single fixed-interval timer.
type Scheduler struct {
	interval time.Duration
	handler  TickHandler

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	stopped bool
}

// NewScheduler creates a scheduler. It does nothing until Start.
func NewScheduler(interval time.Duration, handler TickHandler) *Scheduler {
	return &Scheduler{interval: interval, handler: handler}
}

// Start launches the timer goroutine. The first tick fires one interval
// after Start.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return errors.New("scheduler is stopped")
	}
	if s.cancel != nil {
		return errors.New("scheduler already started")
	}

	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	go s.run(runCtx, s.done)
	return nil
}

func (s *Scheduler) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.handler(ctx)
		}
	}
}

// Stop halts the timer and waits for the timer goroutine to exit. It does
// not wait for work the handler started in the background.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	s.stopped = true
	cancel, done := s.cancel, s.done
	s.cancel = nil
	s.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}
