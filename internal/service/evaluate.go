package service

import (
	"context"
	"fmt"
	"hash/fnv"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel/codes"

	sgotel "github.com/Remy-Larroye/gemini-palm-google-sheet/internal/adapter/otel"
	"github.com/Remy-Larroye/gemini-palm-google-sheet/internal/adapter/vertex"
	"github.com/Remy-Larroye/gemini-palm-google-sheet/internal/adapter/ws"
	"github.com/Remy-Larroye/gemini-palm-google-sheet/internal/config"
	"github.com/Remy-Larroye/gemini-palm-google-sheet/internal/domain"
	"github.com/Remy-Larroye/gemini-palm-google-sheet/internal/domain/task"
	"github.com/Remy-Larroye/gemini-palm-google-sheet/internal/flight"
	"github.com/Remy-Larroye/gemini-palm-google-sheet/internal/port/broadcast"
	"github.com/Remy-Larroye/gemini-palm-google-sheet/internal/port/cache"
	"github.com/Remy-Larroye/gemini-palm-google-sheet/internal/taskqueue"
)

// Fixed user-visible strings. The add-on displays these verbatim in the
// originating cell, so they are part of the API contract.
const (
	// AdvisoryNotStarted is returned when the scheduler is inactive.
	AdvisoryNotStarted = "Start the GenAI process from the add-on menu to compute this cell."
	// PendingPlaceholder is returned while the answer is not yet available.
	PendingPlaceholder = "Generating …"
)

// Status classifies an evaluation outcome.
type Status string

const (
	StatusOK         Status = "ok"
	StatusPending    Status = "pending"
	StatusNotStarted Status = "not_started"
)

// Options carries the per-cell generation options. Zero values fall back to
// the configured defaults, matching the host formula's optional config
// argument (an explicit temperature of 0 therefore also falls back).
type Options struct {
	Project     string  `json:"project,omitempty"`
	Region      string  `json:"region,omitempty"`
	Model       string  `json:"model,omitempty"`
	Temperature float64 `json:"temperature,omitempty"`
}

// EvaluateRequest is one synchronous evaluation of a cell's formula.
type EvaluateRequest struct {
	Cell    task.Key `json:"cell"`
	Prompt  string   `json:"prompt"`
	Options Options  `json:"options"`
}

// EvaluateResult is what the add-on writes back into the cell.
type EvaluateResult struct {
	Status Status `json:"status"`
	Text   string `json:"text"`
}

// EvaluateService is the entry point invoked once per cell evaluation. It
// registers the cell's task, attempts one immediate single-flight remote
// call, and degrades to the pending placeholder when the answer cannot be
// produced synchronously.
type EvaluateService struct {
	queue *taskqueue.Queue
	sched *SchedulerService
	lock  *flight.Lock
	llm   *vertex.Client
	cfg   config.Vertex

	answers   cache.Cache
	answerTTL time.Duration
	hub       broadcast.Broadcaster
	metrics   *sgotel.Metrics
}

// NewEvaluateService creates an EvaluateService. cfg supplies the defaults
// applied to requests that omit project, region, model, or temperature.
func NewEvaluateService(
	queue *taskqueue.Queue,
	sched *SchedulerService,
	lock *flight.Lock,
	llm *vertex.Client,
	cfg config.Vertex,
) *EvaluateService {
	return &EvaluateService{
		queue: queue,
		sched: sched,
		lock:  lock,
		llm:   llm,
		cfg:   cfg,
	}
}

// SetAnswerCache attaches the answer cache. Cached answers short-circuit
// the remote call for identical prompt and options.
func (s *EvaluateService) SetAnswerCache(c cache.Cache, ttl time.Duration) {
	s.answers = c
	s.answerTTL = ttl
}

// SetHub attaches the WebSocket broadcaster for task lifecycle events.
func (s *EvaluateService) SetHub(hub broadcast.Broadcaster) {
	s.hub = hub
}

// SetMetrics attaches the metric instruments.
func (s *EvaluateService) SetMetrics(m *sgotel.Metrics) {
	s.metrics = m
}

// Evaluate runs one synchronous evaluation:
//
//  1. a cached answer returns immediately, removing any leftover task;
//  2. otherwise the task is upserted (re-registering overwrites the prompt,
//     which is how prompt edits propagate);
//  3. with the scheduler inactive, the advisory string is returned;
//  4. the single-flight lock is tried with a bounded wait, yielding the
//     pending placeholder under contention;
//  5. on acquisition one remote call runs; the lock is always released;
//  6. a non-empty answer removes the task, fills the cache, and is
//     returned; an empty one (retries exhausted) leaves the task for the
//     scheduler and yields the pending placeholder.
//
// Fatal remote errors propagate to the caller after the lock is released;
// the task stays queued for a later pass.
func (s *EvaluateService) Evaluate(ctx context.Context, req EvaluateRequest) (EvaluateResult, error) {
	ctx, span := sgotel.StartEvaluateSpan(ctx, req.Cell.Row, req.Cell.Col)
	defer span.End()

	if err := req.Cell.Validate(); err != nil {
		return EvaluateResult{}, err
	}
	if strings.TrimSpace(req.Prompt) == "" {
		return EvaluateResult{}, fmt.Errorf("%w: prompt must not be empty", domain.ErrValidation)
	}
	opts := s.withDefaults(req.Options)
	cacheKey := answerKey(req.Cell, req.Prompt, opts)

	if s.answers != nil {
		data, ok, err := s.answers.Get(ctx, cacheKey)
		if err != nil {
			slog.Warn("answer cache read failed", "cell", req.Cell.ID(), "error", err)
		} else if ok {
			if err := s.queue.Remove(ctx, req.Cell); err != nil {
				slog.Warn("task cleanup failed", "cell", req.Cell.ID(), "error", err)
			}
			slog.Debug("answer served from cache", "cell", req.Cell.ID())
			return EvaluateResult{Status: StatusOK, Text: string(data)}, nil
		}
	}

	if err := s.queue.Enqueue(ctx, req.Cell, req.Prompt); err != nil {
		return EvaluateResult{}, fmt.Errorf("enqueue task: %w", err)
	}
	if s.metrics != nil {
		s.metrics.TasksQueued.Add(ctx, 1)
	}
	if s.hub != nil {
		s.hub.BroadcastEvent(ctx, ws.EventTaskQueued, ws.TaskEvent{
			Row:       req.Cell.Row,
			Column:    req.Cell.Col,
			Timestamp: time.Now().UTC(),
		})
	}

	running, err := s.sched.IsRunning(ctx)
	if err != nil {
		return EvaluateResult{}, err
	}
	if !running {
		return EvaluateResult{Status: StatusNotStarted, Text: AdvisoryNotStarted}, nil
	}

	if !s.lock.TryAcquire(ctx) {
		// Expected under contention: the scheduler or another evaluation
		// holds the lock. The task stays queued.
		return EvaluateResult{Status: StatusPending, Text: PendingPlaceholder}, nil
	}
	defer s.lock.Release()

	if s.metrics != nil {
		s.metrics.RemoteCalls.Add(ctx, 1)
	}
	callCtx, callSpan := sgotel.StartRemoteCallSpan(ctx, opts.Model)
	text, err := s.llm.Generate(callCtx, vertex.GenerateRequest{
		Prompt:      req.Prompt,
		Project:     opts.Project,
		Region:      opts.Region,
		Model:       opts.Model,
		Temperature: opts.Temperature,
	})
	if err != nil {
		callSpan.SetStatus(codes.Error, err.Error())
		callSpan.End()
		span.SetStatus(codes.Error, "remote call failed")
		return EvaluateResult{}, fmt.Errorf("generate for %s: %w", req.Cell.ID(), err)
	}
	callSpan.End()

	if text == "" {
		// Every attempt was rate-limited. The task stays queued for the
		// scheduler's next pass over this cell.
		slog.Info("generation still pending", "cell", req.Cell.ID(), "model", opts.Model)
		return EvaluateResult{Status: StatusPending, Text: PendingPlaceholder}, nil
	}

	if err := s.queue.Remove(ctx, req.Cell); err != nil {
		slog.Warn("task cleanup failed", "cell", req.Cell.ID(), "error", err)
	}
	if s.answers != nil {
		if err := s.answers.Set(ctx, cacheKey, []byte(text), s.answerTTL); err != nil {
			slog.Warn("answer cache write failed", "cell", req.Cell.ID(), "error", err)
		}
	}
	if s.metrics != nil {
		s.metrics.TasksCompleted.Add(ctx, 1)
	}
	if s.hub != nil {
		s.hub.BroadcastEvent(ctx, ws.EventTaskCompleted, ws.TaskEvent{
			Row:       req.Cell.Row,
			Column:    req.Cell.Col,
			Timestamp: time.Now().UTC(),
		})
	}

	slog.Info("cell answered", "cell", req.Cell.ID(), "model", opts.Model)
	return EvaluateResult{Status: StatusOK, Text: text}, nil
}

// withDefaults fills zero-valued options from the configured defaults.
func (s *EvaluateService) withDefaults(o Options) Options {
	if o.Project == "" {
		o.Project = s.cfg.Project
	}
	if o.Region == "" {
		o.Region = s.cfg.Region
	}
	if o.Model == "" {
		o.Model = s.cfg.Model
	}
	if o.Temperature == 0 {
		o.Temperature = s.cfg.Temperature
	}
	return o
}

// answerKey derives the cache key for a cell's answer. The fingerprint
// covers prompt and effective options, so an edited prompt or changed model
// never serves a stale answer.
func answerKey(cell task.Key, prompt string, o Options) string {
	h := fnv.New64a()
	fmt.Fprintf(h, "%s\x00%s\x00%s\x00%s\x00%g", prompt, o.Project, o.Region, o.Model, o.Temperature)
	return fmt.Sprintf("answers.%s.%x", cell.ID(), h.Sum64())
}
