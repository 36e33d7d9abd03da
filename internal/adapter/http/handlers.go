package http

import (
	"context"
	"net/http"
	"strconv"

	"github.com/Remy-Larroye/gemini-palm-google-sheet/internal/domain/task"
	"github.com/Remy-Larroye/gemini-palm-google-sheet/internal/service"
	"github.com/Remy-Larroye/gemini-palm-google-sheet/internal/taskqueue"
)

// Handlers holds the HTTP handler dependencies.
type Handlers struct {
	Evaluate  *service.EvaluateService
	Scheduler *service.SchedulerService
	Tasks     *taskqueue.Queue
}

type evaluateResponse struct {
	Status service.Status `json:"status"`
	Text   string         `json:"text"`
	Cell   task.Key       `json:"cell"`
}

type schedulerState struct {
	Running bool `json:"running"`
	Pending int  `json:"pending"`
}

// HandleEvaluate handles POST /v1/evaluate
func (h *Handlers) HandleEvaluate(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[service.EvaluateRequest](w, r)
	if !ok {
		return
	}

	res, err := h.Evaluate.Evaluate(r.Context(), req)
	if err != nil {
		writeDomainError(w, err, "evaluate failed")
		return
	}
	writeJSON(w, http.StatusOK, evaluateResponse{Status: res.Status, Text: res.Text, Cell: req.Cell})
}

// StartScheduler handles POST /v1/scheduler/start
//
// The drain window runs asynchronously, so success is 202. Starting an
// already-running scheduler renews its state and is not an error.
func (h *Handlers) StartScheduler(w http.ResponseWriter, r *http.Request) {
	if err := h.Scheduler.Start(r.Context()); err != nil {
		writeInternalError(w, err)
		return
	}
	h.writeSchedulerState(r.Context(), w, http.StatusAccepted)
}

// StopScheduler handles POST /v1/scheduler/stop
func (h *Handlers) StopScheduler(w http.ResponseWriter, r *http.Request) {
	if err := h.Scheduler.Stop(r.Context()); err != nil {
		writeInternalError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GetScheduler handles GET /v1/scheduler
func (h *Handlers) GetScheduler(w http.ResponseWriter, r *http.Request) {
	h.writeSchedulerState(r.Context(), w, http.StatusOK)
}

func (h *Handlers) writeSchedulerState(ctx context.Context, w http.ResponseWriter, status int) {
	running, err := h.Scheduler.IsRunning(ctx)
	if err != nil {
		writeInternalError(w, err)
		return
	}
	pending, err := h.Scheduler.Pending(ctx)
	if err != nil {
		writeInternalError(w, err)
		return
	}
	writeJSON(w, status, schedulerState{Running: running, Pending: pending})
}

// ListTasks handles GET /v1/tasks
func (h *Handlers) ListTasks(w http.ResponseWriter, r *http.Request) {
	tasks, err := h.Tasks.PeekAll(r.Context())
	if err != nil {
		writeInternalError(w, err)
		return
	}
	if tasks == nil {
		tasks = []task.Task{}
	}
	writeJSON(w, http.StatusOK, tasks)
}

// DeleteTask handles DELETE /v1/tasks/{row}/{col}
//
// Removal is idempotent: deleting an absent task still returns 204. The
// sidebar uses this to abandon cells whose formulas were cut without a
// recalculation.
func (h *Handlers) DeleteTask(w http.ResponseWriter, r *http.Request) {
	row, err := strconv.Atoi(urlParam(r, "row"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "row must be an integer")
		return
	}
	col, err := strconv.Atoi(urlParam(r, "col"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "col must be an integer")
		return
	}

	cell := task.Key{Row: row, Col: col}
	if err := cell.Validate(); err != nil {
		writeDomainError(w, err, "invalid cell")
		return
	}

	if err := h.Tasks.Remove(r.Context(), cell); err != nil {
		writeInternalError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
