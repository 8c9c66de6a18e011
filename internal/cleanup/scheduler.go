// Package cleanup schedules deferred, best-effort deletion of deployed
// actions.
package cleanup

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/narvanalabs/functions/internal/platform"
)

// Default delays before a deployed action is deleted.
const (
	DefaultDelay       = 5 * time.Minute
	DefaultRetainDelay = 30 * time.Minute
)

// DefaultDeleteTimeout bounds a single platform delete.
const DefaultDeleteTimeout = 30 * time.Second

// Deleter removes deployed actions.
type Deleter interface {
	Delete(ctx context.Context, name string) error
}

// Task is a pending deletion. It is returned by Schedule as a handle.
type Task struct {
	ID         string
	ActionName string
	DueAt      time.Time

	timer *time.Timer
	s     *Scheduler
}

// Cancel stops the task if it has not started. It reports whether the
// task was still pending.
func (t *Task) Cancel() bool {
	if t == nil || t.s == nil {
		return false
	}
	return t.s.remove(t)
}

// Scheduler runs deletions after a delay on background timers. Scheduling
// never blocks the caller and deletion failures are only logged.
type Scheduler struct {
	deleter       Deleter
	logger        *slog.Logger
	deleteTimeout time.Duration

	mu       sync.Mutex
	tasks    map[string]*Task         // action name -> task
	inflight map[string]chan struct{} // action name -> closed when its delete returns
	closed   bool
	running  sync.WaitGroup
}

// NewScheduler creates a new cleanup scheduler.
func NewScheduler(deleter Deleter, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		deleter:       deleter,
		logger:        logger,
		deleteTimeout: DefaultDeleteTimeout,
		tasks:         make(map[string]*Task),
		inflight:      make(map[string]chan struct{}),
	}
}

// Schedule deletes actionName after delay. A pending task for the same
// action is replaced. After Shutdown it returns nil and schedules nothing.
func (s *Scheduler) Schedule(actionName string, delay time.Duration) *Task {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		s.logger.Warn("cleanup scheduled after shutdown, action will be orphaned",
			"action", actionName,
			"error_type", "CleanupError",
		)
		return nil
	}

	if prev, ok := s.tasks[actionName]; ok {
		prev.timer.Stop()
	}

	task := &Task{
		ID:         uuid.New().String(),
		ActionName: actionName,
		DueAt:      time.Now().Add(delay),
		s:          s,
	}
	task.timer = time.AfterFunc(delay, func() { s.fire(task) })
	s.tasks[actionName] = task

	s.logger.Debug("cleanup scheduled", "action", actionName, "delay", delay, "task_id", task.ID)
	return task
}

// Pending returns the number of tasks that have not started.
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tasks)
}

// Cancel drops the pending task for actionName and reports whether there
// was one. If a delete of that action is already running, Cancel waits for
// it to return so the caller can redeploy safely.
func (s *Scheduler) Cancel(actionName string) bool {
	s.mu.Lock()
	cancelled := false
	if t, ok := s.tasks[actionName]; ok {
		t.timer.Stop()
		delete(s.tasks, actionName)
		cancelled = true
	}
	done := s.inflight[actionName]
	s.mu.Unlock()

	if done != nil {
		s.logger.Debug("waiting for running cleanup", "action", actionName)
		<-done
	}
	if cancelled {
		s.logger.Debug("cleanup cancelled", "action", actionName)
	}
	return cancelled
}

// remove drops t if it is still the current task for its action.
func (s *Scheduler) remove(t *Task) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if cur, ok := s.tasks[t.ActionName]; ok && cur == t {
		t.timer.Stop()
		delete(s.tasks, t.ActionName)
		return true
	}
	return false
}

// claim removes t from the pending set and marks it running.
func (s *Scheduler) claim(t *Task) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if cur, ok := s.tasks[t.ActionName]; !ok || cur != t {
		return false
	}
	delete(s.tasks, t.ActionName)
	s.startLocked(t.ActionName)
	s.running.Add(1)
	return true
}

// startLocked records a running delete of name. s.mu must be held.
func (s *Scheduler) startLocked(name string) {
	s.inflight[name] = make(chan struct{})
}

// finish releases callers waiting on the delete of name.
func (s *Scheduler) finish(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if done, ok := s.inflight[name]; ok {
		close(done)
		delete(s.inflight, name)
	}
}

func (s *Scheduler) fire(t *Task) {
	if !s.claim(t) {
		return
	}
	defer s.running.Done()
	defer s.finish(t.ActionName)

	ctx, cancel := context.WithTimeout(context.Background(), s.deleteTimeout)
	defer cancel()
	s.delete(ctx, t)
}

func (s *Scheduler) delete(ctx context.Context, t *Task) {
	err := s.deleter.Delete(ctx, t.ActionName)
	switch {
	case err == nil:
		s.logger.Info("action deleted", "action", t.ActionName, "task_id", t.ID)
	case errors.Is(err, platform.ErrActionNotFound):
		s.logger.Debug("action already deleted", "action", t.ActionName)
	default:
		s.logger.Warn("failed to delete action",
			"action", t.ActionName,
			"task_id", t.ID,
			"error_type", "CleanupError",
			"error", err,
		)
	}
}

// Shutdown stops accepting tasks and runs every pending deletion now,
// then waits for in-flight deletions. Deletions not reached before ctx is
// done are logged as orphaned.
func (s *Scheduler) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	pending := make([]*Task, 0, len(s.tasks))
	for name, t := range s.tasks {
		t.timer.Stop()
		pending = append(pending, t)
		delete(s.tasks, name)
		s.startLocked(name)
	}
	s.mu.Unlock()

	s.logger.Info("draining cleanup tasks", "pending", len(pending))

	for i, t := range pending {
		if ctx.Err() != nil {
			for _, left := range pending[i:] {
				s.logger.Warn("cleanup not run before shutdown, action orphaned",
					"action", left.ActionName,
					"error_type", "CleanupError",
				)
				s.finish(left.ActionName)
			}
			return ctx.Err()
		}
		dctx, cancel := context.WithTimeout(ctx, s.deleteTimeout)
		s.delete(dctx, t)
		cancel()
		s.finish(t.ActionName)
	}

	done := make(chan struct{})
	go func() {
		s.running.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
