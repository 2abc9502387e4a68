package task

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/scribeflow/scribeflow/core"
	"github.com/scribeflow/scribeflow/logging"
	"github.com/scribeflow/scribeflow/session"
)

const (
	// DefaultScanInterval is how often the runner polls for processing tasks.
	DefaultScanInterval = time.Second
	// DefaultTaskTimeout bounds a single task execution; a task started
	// longer ago than this is considered stale and failed.
	DefaultTaskTimeout = 5 * time.Minute
)

// Handler executes one task type. A returned error fails the task; the
// returned payload becomes the task output on success.
type Handler interface {
	Handle(ctx context.Context, task *core.Task) (json.RawMessage, error)
}

// HandlerFunc adapts a plain function to the Handler interface.
type HandlerFunc func(ctx context.Context, task *core.Task) (json.RawMessage, error)

func (f HandlerFunc) Handle(ctx context.Context, task *core.Task) (json.RawMessage, error) {
	return f(ctx, task)
}

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithScanInterval overrides the polling interval.
func WithScanInterval(d time.Duration) RunnerOption {
	return func(r *Runner) {
		if d > 0 {
			r.scanInterval = d
		}
	}
}

// WithTaskTimeout overrides the per-task execution bound.
func WithTaskTimeout(d time.Duration) RunnerOption {
	return func(r *Runner) {
		if d > 0 {
			r.taskTimeout = d
		}
	}
}

// WithClock overrides the time source. Tests use it to simulate staleness.
func WithClock(now func() time.Time) RunnerOption {
	return func(r *Runner) {
		if now != nil {
			r.now = now
		}
	}
}

// Runner is the single-goroutine polling worker that claims processing tasks,
// acquires the session lock, dispatches the registered handler and persists
// the outcome. One scan runs at a time; kicks received mid-scan coalesce into
// at most one follow-up scan.
type Runner struct {
	store  core.Store
	state  *session.StateMachine
	logger logging.Logger

	scanInterval time.Duration
	taskTimeout  time.Duration
	now          func() time.Time

	mu       sync.RWMutex
	handlers map[string]Handler

	kickCh    chan struct{}
	stopCh    chan struct{}
	doneCh    chan struct{}
	started   atomic.Bool
	startOnce sync.Once
	stopOnce  sync.Once
}

// NewRunner constructs a runner over the store and session state machine.
func NewRunner(store core.Store, state *session.StateMachine, logger logging.Logger, opts ...RunnerOption) *Runner {
	if logger == nil {
		logger = logging.NoOpLogger{}
	}
	r := &Runner{
		store:        store,
		state:        state,
		logger:       logger,
		scanInterval: DefaultScanInterval,
		taskTimeout:  DefaultTaskTimeout,
		now:          time.Now,
		handlers:     map[string]Handler{},
		kickCh:       make(chan struct{}, 1),
		stopCh:       make(chan struct{}),
		doneCh:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register binds a handler to a task type, replacing any previous binding.
func (r *Runner) Register(taskType string, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[taskType] = h
}

func (r *Runner) handler(taskType string) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[taskType]
	return h, ok
}

// Start launches the polling loop. It returns immediately; Stop shuts the
// loop down and waits for the in-flight scan to finish.
func (r *Runner) Start(ctx context.Context) {
	r.startOnce.Do(func() {
		r.started.Store(true)
		go r.run(ctx)
	})
}

// Stop terminates the polling loop and blocks until it has exited. Safe to
// call on a runner that was never started.
func (r *Runner) Stop() {
	r.stopOnce.Do(func() { close(r.stopCh) })
	if !r.started.Load() {
		return
	}
	<-r.doneCh
}

// Kick requests a prompt scan, bypassing the poll interval. Kicks arriving
// while one is already pending coalesce.
func (r *Runner) Kick() {
	select {
	case r.kickCh <- struct{}{}:
	default:
	}
}

func (r *Runner) run(ctx context.Context) {
	defer close(r.doneCh)
	ticker := time.NewTicker(r.scanInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-r.stopCh:
			return
		case <-ticker.C:
		case <-r.kickCh:
		}
		if err := r.Scan(ctx); err != nil {
			r.logger.Error("task scan failed", "error", err)
		}
	}
}

// Scan processes every task currently in processing status: stale tasks are
// failed and their session locks force-released; unstarted tasks are
// dispatched if their session lock can be acquired. A task whose session is
// not idle is left untouched for a later scan.
func (r *Runner) Scan(ctx context.Context) error {
	tasks, err := r.store.ListTasksByStatus(ctx, core.TaskStatusProcessing)
	if err != nil {
		return fmt.Errorf("list processing tasks: %w", err)
	}
	for _, t := range tasks {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-r.stopCh:
			return nil
		default:
		}
		if err := r.process(ctx, t); err != nil {
			r.logger.Error("task processing failed", "task_id", t.ID, "type", t.Type, "error", err)
		}
	}
	return nil
}

func (r *Runner) process(ctx context.Context, t *core.Task) error {
	if !t.Started.IsZero() {
		if r.now().Sub(t.Started) > r.taskTimeout {
			return r.reclaimStale(ctx, t)
		}
		// Started but not stale: an execution from before a crash may
		// still be within its window. Leave it for a later scan.
		return nil
	}

	h, ok := r.handler(t.Type)
	if !ok {
		return r.fail(ctx, t, "UNKNOWN_TASK_TYPE", fmt.Sprintf("no handler registered for task type %q", t.Type), false)
	}

	acquired, err := r.state.TransitionStatus(ctx, t.SessionID,
		[]core.SessionStatus{core.StatusIdle}, core.StatusHandoffProcessing, t.ID)
	if err != nil {
		return fmt.Errorf("acquire session %s: %w", t.SessionID, err)
	}
	if !acquired {
		r.logger.Debug("session busy, deferring task", "task_id", t.ID, "session_id", t.SessionID)
		return nil
	}

	if _, err := r.store.UpdateTask(ctx, t.ID, func(rec *core.Task) error {
		rec.Started = r.now().UTC()
		return nil
	}); err != nil {
		_ = r.state.ReleaseTaskStatus(ctx, t.SessionID, t.ID)
		return fmt.Errorf("mark task started: %w", err)
	}

	out, handleErr := r.dispatch(ctx, h, t)
	if handleErr != nil {
		code := core.ErrorCode(handleErr)
		if code == "" {
			code = "HANDLER_ERROR"
		}
		if errors.Is(handleErr, context.DeadlineExceeded) {
			code = core.CodeTaskTimeout
		}
		return r.fail(ctx, t, code, handleErr.Error(), true)
	}

	if _, err := r.store.UpdateTask(ctx, t.ID, func(rec *core.Task) error {
		rec.Status = core.TaskStatusSuccess
		rec.Output = out
		rec.Finished = r.now().UTC()
		return nil
	}); err != nil {
		_ = r.state.ReleaseTaskStatus(ctx, t.SessionID, t.ID)
		return fmt.Errorf("record task success: %w", err)
	}
	r.logger.Info("task succeeded", "task_id", t.ID, "type", t.Type)
	return r.state.ReleaseTaskStatus(ctx, t.SessionID, t.ID)
}

// dispatch runs the handler under the task timeout, converting a panic into
// an error so one misbehaving handler cannot take down the scan loop.
func (r *Runner) dispatch(ctx context.Context, h Handler, t *core.Task) (out json.RawMessage, err error) {
	hctx, cancel := context.WithTimeout(ctx, r.taskTimeout)
	defer cancel()
	defer func() {
		if rec := recover(); rec != nil {
			out, err = nil, fmt.Errorf("handler panic: %v", rec)
		}
	}()
	return h.Handle(hctx, t)
}

// reclaimStale fails a task whose execution window has lapsed and
// force-releases the session lock it held, so a crashed execution cannot
// wedge the session forever.
func (r *Runner) reclaimStale(ctx context.Context, t *core.Task) error {
	r.logger.Warn("reclaiming stale task", "task_id", t.ID, "type", t.Type, "started", t.Started)
	return r.fail(ctx, t, core.CodeTaskTimeout,
		fmt.Sprintf("task exceeded its %s execution window", r.taskTimeout), true)
}

func (r *Runner) fail(ctx context.Context, t *core.Task, code, message string, release bool) error {
	if _, err := r.store.UpdateTask(ctx, t.ID, func(rec *core.Task) error {
		rec.Status = core.TaskStatusFail
		rec.Error = &core.TaskError{Code: code, Message: message}
		rec.Finished = r.now().UTC()
		return nil
	}); err != nil {
		return fmt.Errorf("record task failure: %w", err)
	}
	r.logger.Warn("task failed", "task_id", t.ID, "type", t.Type, "code", code)
	if release {
		return r.state.ReleaseTaskStatus(ctx, t.SessionID, t.ID)
	}
	return nil
}
