// Package schedule runs keyed, delayed tasks against an injectable clock.
//
// The file store and the status table each own a Scheduler and use it for every
// retention policy they enforce, so deletions are centralized in one place and can be
// driven by a fake clock in tests.
package schedule

import (
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// Scheduler runs at most one pending task per key
type Scheduler struct {
	clock  clockwork.Clock
	logger *slog.Logger

	mu      sync.Mutex
	pending map[string]clockwork.Timer
	stopped bool
	wg      sync.WaitGroup
}

// New creates a scheduler. A nil clock means the real wall clock.
func New(clock clockwork.Clock, logger *slog.Logger) *Scheduler {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Scheduler{
		clock:   clock,
		logger:  logger,
		pending: make(map[string]clockwork.Timer),
	}
}

// Clock returns the clock the scheduler measures delays with
func (s *Scheduler) Clock() clockwork.Clock {
	return s.clock
}

// Once schedules fn to run once after at least delay has elapsed.
// It returns false without scheduling when a task for key is already pending
// or the scheduler was stopped.
func (s *Scheduler) Once(key string, delay time.Duration, fn func()) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return false
	}
	if _, exists := s.pending[key]; exists {
		return false
	}

	// Zero delay runs inline instead of going through a timer
	if delay <= 0 {
		s.mu.Unlock()
		s.run(key, fn)
		s.mu.Lock()
		return true
	}

	s.wg.Add(1)
	var timer clockwork.Timer
	timer = s.clock.AfterFunc(delay, func() {
		defer s.wg.Done()

		s.mu.Lock()
		current, ok := s.pending[key]
		if !ok || current != timer {
			s.mu.Unlock()
			return
		}
		delete(s.pending, key)
		s.mu.Unlock()

		s.run(key, fn)
	})
	s.pending[key] = timer

	s.logger.Debug("Task scheduled",
		slog.String("key", key),
		slog.Duration("delay", delay),
	)

	return true
}

// Cancel drops the pending task for key. It reports whether a task was dropped.
func (s *Scheduler) Cancel(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	timer, ok := s.pending[key]
	if !ok {
		return false
	}
	delete(s.pending, key)
	if timer.Stop() {
		s.wg.Done()
	}
	return true
}

// IsPending reports whether a task is waiting for key
func (s *Scheduler) IsPending(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.pending[key]
	return ok
}

// Pending returns the number of tasks waiting to run
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// Stop cancels every pending task and waits for running ones to return
func (s *Scheduler) Stop() {
	s.mu.Lock()
	s.stopped = true
	dropped := 0
	for key, timer := range s.pending {
		delete(s.pending, key)
		if timer.Stop() {
			s.wg.Done()
			dropped++
		}
	}
	s.mu.Unlock()

	s.wg.Wait()

	s.logger.Debug("Scheduler stopped",
		slog.Int("dropped_tasks", dropped),
	)
}

// run executes fn and keeps a panicking task from taking the process down
func (s *Scheduler) run(key string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("Scheduled task panicked",
				slog.String("key", key),
				slog.Any("panic", r),
			)
		}
	}()

	fn()
}
