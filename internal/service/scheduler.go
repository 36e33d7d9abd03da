// Package service implements the application services: the continuation
// scheduler that drains the task backlog in budget-bounded windows, and the
// evaluate entry point the add-on's custom function calls once per cell.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"sync"
	"time"

	"github.com/google/uuid"

	sgotel "github.com/Remy-Larroye/gemini-palm-google-sheet/internal/adapter/otel"
	"github.com/Remy-Larroye/gemini-palm-google-sheet/internal/adapter/ws"
	"github.com/Remy-Larroye/gemini-palm-google-sheet/internal/config"
	"github.com/Remy-Larroye/gemini-palm-google-sheet/internal/domain/task"
	"github.com/Remy-Larroye/gemini-palm-google-sheet/internal/port/auth"
	"github.com/Remy-Larroye/gemini-palm-google-sheet/internal/port/broadcast"
	"github.com/Remy-Larroye/gemini-palm-google-sheet/internal/port/grid"
	"github.com/Remy-Larroye/gemini-palm-google-sheet/internal/port/kvstore"
	"github.com/Remy-Larroye/gemini-palm-google-sheet/internal/port/timer"
	"github.com/Remy-Larroye/gemini-palm-google-sheet/internal/taskqueue"
)

// runningKey is the KV entry holding the scheduler's running flag. The flag
// is durable so a restarted service resumes in the state the user left it.
const runningKey = "scheduler.running"

// rearmTrigger names the deferred trigger that continues draining after a
// window exhausts its budget. A single name means at most one continuation
// chain is ever armed.
const rearmTrigger = "scheduler.window"

// genaiSignature matches formula text that still invokes the custom
// function. A popped task whose cell no longer matches is stale: the user
// deleted or rewrote the cell, and the task is discarded without processing.
var genaiSignature = regexp.MustCompile(`^=\s*GENAI\s*\(`)

// SchedulerService drives the continuation chain: it drains the task
// backlog in wall-clock-bounded windows and re-arms itself through a
// deferred trigger until a window finds nothing left to process.
//
// The scheduler never calls the model endpoint itself. It forces the host
// to recompute each task's cell, which makes the add-on call Evaluate again
// for that cell; Evaluate owns the single-flight remote call.
type SchedulerService struct {
	store   kvstore.Store
	queue   *taskqueue.Queue
	sheet   grid.Grid
	tokens  auth.TokenSource
	timers  timer.Deferred
	hub     broadcast.Broadcaster
	metrics *sgotel.Metrics
	cfg     config.Scheduler

	// Injected clock and sleep so window budgets are testable without
	// burning wall time.
	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration)

	mu           sync.Mutex
	windowActive bool
}

// NewSchedulerService creates a SchedulerService.
func NewSchedulerService(
	store kvstore.Store,
	queue *taskqueue.Queue,
	sheet grid.Grid,
	tokens auth.TokenSource,
	timers timer.Deferred,
	cfg config.Scheduler,
) *SchedulerService {
	return &SchedulerService{
		store:  store,
		queue:  queue,
		sheet:  sheet,
		tokens: tokens,
		timers: timers,
		cfg:    cfg,
		now:    time.Now,
		sleep:  sleepContext,
	}
}

// SetHub attaches the WebSocket broadcaster for lifecycle events.
func (s *SchedulerService) SetHub(hub broadcast.Broadcaster) {
	s.hub = hub
}

// SetMetrics attaches the metric instruments.
func (s *SchedulerService) SetMetrics(m *sgotel.Metrics) {
	s.metrics = m
}

// Start begins a scheduling window: set the running flag, cancel any
// pending re-arm trigger, refresh the API token, then drain the backlog
// asynchronously. Calling Start while a window is already draining only
// renews the flag and the token.
func (s *SchedulerService) Start(ctx context.Context) error {
	if err := s.begin(ctx); err != nil {
		return err
	}
	s.spawnWindow()
	return nil
}

// Stop clears the running flag and cancels any pending re-arm trigger. An
// in-flight window finishes its budget but will not re-arm afterwards.
func (s *SchedulerService) Stop(ctx context.Context) error {
	s.timers.Cancel(rearmTrigger)
	if err := s.setRunning(ctx, false); err != nil {
		return err
	}
	slog.Info("scheduler stopped")
	return nil
}

// IsRunning reports whether the scheduler is active.
func (s *SchedulerService) IsRunning(ctx context.Context) (bool, error) {
	_, found, err := s.store.Get(ctx, runningKey)
	if err != nil {
		return false, fmt.Errorf("read running flag: %w", err)
	}
	return found, nil
}

// Pending reports the number of tasks waiting in the backlog.
func (s *SchedulerService) Pending(ctx context.Context) (int, error) {
	return s.queue.Len(ctx)
}

// begin performs the STARTING phase: flag up, one continuation chain, fresh
// token for the window ahead.
func (s *SchedulerService) begin(ctx context.Context) error {
	if err := s.setRunning(ctx, true); err != nil {
		return err
	}
	s.timers.Cancel(rearmTrigger)

	if err := s.tokens.Refresh(ctx); err != nil {
		return fmt.Errorf("refresh token: %w", err)
	}
	return nil
}

// spawnWindow launches the drain loop unless one is already active.
func (s *SchedulerService) spawnWindow() {
	s.mu.Lock()
	if s.windowActive {
		s.mu.Unlock()
		slog.Info("scheduler window already draining")
		return
	}
	s.windowActive = true
	s.mu.Unlock()

	go s.runWindow(context.Background())
}

// runWindow drains the backlog until the wall-clock budget expires. Tasks
// are popped in row order; each cell's formula is re-read and, when it
// still invokes the custom function, recomputed so the host calls the
// evaluate endpoint again for that cell. A window that processed at least
// one task arms the re-arm trigger; a window that processed none clears
// the running flag instead. Individual task failures never end a window.
func (s *SchedulerService) runWindow(ctx context.Context) {
	defer func() {
		s.mu.Lock()
		s.windowActive = false
		s.mu.Unlock()
	}()

	windowID := uuid.NewString()
	ctx, span := sgotel.StartWindowSpan(ctx, windowID)
	defer span.End()

	start := s.now()
	processed := 0
	discarded := 0

	slog.Info("scheduler window started", "window_id", windowID, "budget", s.cfg.WindowBudget)
	if s.hub != nil {
		s.hub.BroadcastEvent(ctx, ws.EventWindowStarted, ws.WindowEvent{
			WindowID:  windowID,
			Timestamp: start.UTC(),
		})
	}

	for s.now().Sub(start) < s.cfg.WindowBudget {
		t, ok, err := s.queue.DequeueLowest(ctx)
		if err != nil {
			slog.Error("dequeue failed", "window_id", windowID, "error", err)
			s.sleep(ctx, s.cfg.IdleInterval)
			continue
		}
		if !ok {
			s.sleep(ctx, s.cfg.IdleInterval)
			continue
		}

		wasProcessed, err := s.processTask(ctx, windowID, t)
		if err != nil {
			slog.Warn("task requeued", "window_id", windowID, "cell", t.Cell.ID(), "error", err)
			s.sleep(ctx, s.cfg.IdleInterval)
			continue
		}
		if wasProcessed {
			processed++
		} else {
			discarded++
		}
	}

	// Drop the window guard before arming so the next window can start
	// even when the re-arm delay is short.
	s.mu.Lock()
	s.windowActive = false
	s.mu.Unlock()

	elapsed := s.now().Sub(start)
	rearmed := false
	if processed >= 1 {
		running, err := s.IsRunning(ctx)
		if err != nil {
			slog.Error("read running flag", "window_id", windowID, "error", err)
		}
		if running {
			s.timers.Arm(rearmTrigger, s.cfg.RearmDelay, s.continueChain)
			rearmed = true
		}
	} else {
		if err := s.setRunning(ctx, false); err != nil {
			slog.Error("clear running flag", "window_id", windowID, "error", err)
		}
	}

	if s.metrics != nil {
		s.metrics.WindowsRun.Add(ctx, 1)
		s.metrics.WindowDuration.Record(ctx, elapsed.Seconds())
	}
	if s.hub != nil {
		s.hub.BroadcastEvent(ctx, ws.EventWindowFinished, ws.WindowEvent{
			WindowID:  windowID,
			Processed: processed,
			Rearmed:   rearmed,
			Timestamp: s.now().UTC(),
		})
	}
	slog.Info("scheduler window finished",
		"window_id", windowID,
		"processed", processed,
		"discarded", discarded,
		"rearmed", rearmed,
		"elapsed", elapsed,
	)
}

// processTask re-reads the cell's formula and, when it still invokes the
// custom function, forces its recomputation. It reports whether the task
// counted as processed; stale cells are discarded and report false. On a
// grid error the task is requeued and the error returned so the caller can
// back off before the next pop.
func (s *SchedulerService) processTask(ctx context.Context, windowID string, t task.Task) (bool, error) {
	formula, err := s.sheet.Formula(ctx, t.Cell)
	if err != nil {
		s.requeue(ctx, t)
		return false, fmt.Errorf("read formula for %s: %w", t.Cell.ID(), err)
	}

	if !genaiSignature.MatchString(formula) {
		// Deliberate user edit, not an error.
		slog.Info("stale task discarded", "window_id", windowID, "cell", t.Cell.ID())
		if s.metrics != nil {
			s.metrics.TasksDiscarded.Add(ctx, 1)
		}
		if s.hub != nil {
			s.hub.BroadcastEvent(ctx, ws.EventTaskDiscarded, ws.TaskEvent{
				Row:       t.Cell.Row,
				Column:    t.Cell.Col,
				Timestamp: s.now().UTC(),
			})
		}
		return false, nil
	}

	if err := s.sheet.Recompute(ctx, t.Cell); err != nil {
		s.requeue(ctx, t)
		return false, fmt.Errorf("recompute %s: %w", t.Cell.ID(), err)
	}

	slog.Debug("cell recomputed", "window_id", windowID, "cell", t.Cell.ID())
	return true, nil
}

// requeue puts a popped task back so a later pass can retry it.
func (s *SchedulerService) requeue(ctx context.Context, t task.Task) {
	if err := s.queue.Enqueue(ctx, t.Cell, t.Prompt); err != nil {
		slog.Error("requeue failed, task lost", "cell", t.Cell.ID(), "error", err)
	}
}

// continueChain is the deferred-trigger callback for the next window. Going
// through Start re-runs the full STARTING sequence, so every window begins
// with a fresh token.
func (s *SchedulerService) continueChain() {
	if err := s.Start(context.Background()); err != nil {
		slog.Error("re-armed window failed to start", "error", err)
	}
}

func (s *SchedulerService) setRunning(ctx context.Context, running bool) error {
	if running {
		if err := s.store.Set(ctx, runningKey, []byte("true")); err != nil {
			return fmt.Errorf("set running flag: %w", err)
		}
		return nil
	}
	if err := s.store.Delete(ctx, runningKey); err != nil {
		return fmt.Errorf("clear running flag: %w", err)
	}
	return nil
}

// sleepContext sleeps for d or until ctx is done, whichever comes first.
func sleepContext(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
