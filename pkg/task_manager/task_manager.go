// Package task_manager supervises named long-running background jobs —
// goroutines that are not one of the per-host worker pools hostruntime
// already restarts on panic, but process-level background loops such as
// the control plane's HTTP listener or a hot-reload watcher. It tracks
// each job's state and last heartbeat and can stop one on demand.
package task_manager

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Config controls heartbeat timeout detection and stale-task cleanup.
type Config struct {
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
	TaskTimeout       time.Duration `yaml:"task_timeout"`
	CleanupInterval   time.Duration `yaml:"cleanup_interval"`
}

// State is a task's lifecycle state.
type State string

const (
	StateRunning   State = "running"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
	StateStopped   State = "stopped"
)

// Status reports one task's current state, grounded on the teacher's own
// GetTaskStatus/GetAllTasks shape.
type Status struct {
	ID            string    `json:"id"`
	State         State     `json:"state"`
	StartedAt     time.Time `json:"started_at"`
	LastHeartbeat time.Time `json:"last_heartbeat"`
	ErrorCount    int64     `json:"error_count"`
	LastError     string    `json:"last_error,omitempty"`
}

type task struct {
	id            string
	fn            func(context.Context) error
	state         State
	startedAt     time.Time
	lastHeartbeat time.Time
	errorCount    int64
	lastError     string
	cancel        context.CancelFunc
	done          chan struct{}
}

// Supervisor runs named background jobs and tracks their liveness.
type Supervisor struct {
	cfg    Config
	logger *logrus.Logger

	mu    sync.RWMutex
	tasks map[string]*task

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New builds a Supervisor and starts its background cleanup loop.
func New(cfg Config, logger *logrus.Logger) *Supervisor {
	if logger == nil {
		logger = logrus.New()
	}
	if cfg.HeartbeatInterval == 0 {
		cfg.HeartbeatInterval = 30 * time.Second
	}
	if cfg.TaskTimeout == 0 {
		cfg.TaskTimeout = 5 * time.Minute
	}
	if cfg.CleanupInterval == 0 {
		cfg.CleanupInterval = time.Minute
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Supervisor{cfg: cfg, logger: logger, tasks: make(map[string]*task), ctx: ctx, cancel: cancel}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.cleanupLoop()
	}()

	return s
}

// StartTask runs fn in its own goroutine under id. Replaces any previous
// task registered under the same id that is no longer running.
func (s *Supervisor) StartTask(ctx context.Context, id string, fn func(context.Context) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.tasks[id]; ok {
		if existing.state == StateRunning {
			return fmt.Errorf("task %q is already running", id)
		}
		existing.cancel()
		<-existing.done
	}

	taskCtx, cancel := context.WithCancel(ctx)
	t := &task{
		id:            id,
		fn:            fn,
		state:         StateRunning,
		startedAt:     time.Now(),
		lastHeartbeat: time.Now(),
		cancel:        cancel,
		done:          make(chan struct{}),
	}
	s.tasks[id] = t

	go s.run(taskCtx, t)

	s.logger.WithField("task_id", id).Info("task started")
	return nil
}

func (s *Supervisor) run(ctx context.Context, t *task) {
	defer close(t.done)

	defer func() {
		if r := recover(); r != nil {
			s.mu.Lock()
			t.state = StateFailed
			t.errorCount++
			t.lastError = fmt.Sprintf("panic: %v", r)
			s.mu.Unlock()
			s.logger.WithFields(logrus.Fields{"task_id": t.id, "error": r}).Error("task panicked")
		}
	}()

	err := t.fn(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		t.state = StateFailed
		t.errorCount++
		t.lastError = err.Error()
		s.logger.WithFields(logrus.Fields{"task_id": t.id, "error": err}).Error("task failed")
		return
	}
	t.state = StateCompleted
	t.lastError = ""
	s.logger.WithField("task_id", t.id).Info("task completed")
}

// StopTask cancels a running task and waits up to 10s for it to exit.
func (s *Supervisor) StopTask(id string) error {
	s.mu.Lock()
	t, ok := s.tasks[id]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("task %q not found", id)
	}

	s.mu.RLock()
	running := t.state == StateRunning
	s.mu.RUnlock()
	if !running {
		return fmt.Errorf("task %q is not running", id)
	}

	t.cancel()
	select {
	case <-t.done:
		s.mu.Lock()
		t.state = StateStopped
		s.mu.Unlock()
		s.logger.WithField("task_id", id).Info("task stopped")
	case <-time.After(10 * time.Second):
		s.mu.Lock()
		t.state = StateFailed
		t.lastError = "stop timeout"
		s.mu.Unlock()
		s.logger.WithField("task_id", id).Warn("task stop timeout")
	}
	return nil
}

// Heartbeat records that id is still making progress. Long-running jobs
// call this periodically from within their fn so cleanupLoop can detect
// a hang (TaskTimeout with no heartbeat) versus a clean long run.
func (s *Supervisor) Heartbeat(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tasks[id]
	if !ok {
		return fmt.Errorf("task %q not found", id)
	}
	t.lastHeartbeat = time.Now()
	return nil
}

// GetTaskStatus reports one task's current status.
func (s *Supervisor) GetTaskStatus(id string) Status {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.tasks[id]
	if !ok {
		return Status{ID: id, State: "not_found"}
	}
	return statusOf(t)
}

// GetAllTasks reports every tracked task's current status.
func (s *Supervisor) GetAllTasks() map[string]Status {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]Status, len(s.tasks))
	for id, t := range s.tasks {
		out[id] = statusOf(t)
	}
	return out
}

func statusOf(t *task) Status {
	return Status{
		ID:            t.id,
		State:         t.state,
		StartedAt:     t.startedAt,
		LastHeartbeat: t.lastHeartbeat,
		ErrorCount:    t.errorCount,
		LastError:     t.lastError,
	}
}

func (s *Supervisor) cleanupLoop() {
	ticker := time.NewTicker(s.cfg.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.cleanupTasks()
		}
	}
}

func (s *Supervisor) cleanupTasks() {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	var stale []string

	for id, t := range s.tasks {
		if t.state == StateRunning && now.Sub(t.lastHeartbeat) > s.cfg.TaskTimeout {
			s.logger.WithField("task_id", id).Warn("task heartbeat timeout, stopping")
			t.cancel()
			t.state = StateFailed
			t.lastError = "heartbeat timeout"
		}
		if t.state != StateRunning && now.Sub(t.startedAt) > time.Hour {
			stale = append(stale, id)
		}
	}

	for _, id := range stale {
		delete(s.tasks, id)
		s.logger.WithField("task_id", id).Debug("task record cleaned up")
	}
}

// Cleanup cancels every running task and stops the cleanup loop. Call at
// process shutdown, after the owner has stopped driving its own tasks.
func (s *Supervisor) Cleanup() {
	s.cancel()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		s.logger.Info("task supervisor cleanup loop stopped")
	case <-time.After(10 * time.Second):
		s.logger.Warn("timeout waiting for task supervisor cleanup loop")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for id, t := range s.tasks {
		if t.state != StateRunning {
			continue
		}
		t.cancel()
		select {
		case <-t.done:
		case <-time.After(5 * time.Second):
			s.logger.WithField("task_id", id).Warn("task cleanup timeout")
		}
	}
	s.logger.Info("task supervisor cleanup completed")
}
