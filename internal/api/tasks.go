package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/seantiz/taskgate/internal/engine"
	"github.com/seantiz/taskgate/internal/job"
	"github.com/seantiz/taskgate/internal/model"
)

const (
	defaultListLimit = 20
	maxListLimit     = 100
	maxBodySize      = 1 << 20 // 1 MB
)

// submitTaskRequest is the JSON body for POST /v1/tasks.
type submitTaskRequest struct {
	Key       string          `json:"key"`
	Job       string          `json:"job"`
	TimeoutMS *int64          `json:"timeout_ms"`
	Params    json.RawMessage `json:"params"`

	// Start defaults to true. When false the task is only registered and
	// runs on the next POST /v1/tasks/start.
	Start *bool `json:"start"`
}

// outcomeResponse is the JSON view of a terminal run.
type outcomeResponse struct {
	RunID      string     `json:"run_id"`
	Status     string     `json:"status"`
	Message    string     `json:"message"`
	Error      string     `json:"error,omitempty"`
	Value      string     `json:"value,omitempty"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt time.Time  `json:"finished_at"`
	DurationMS int64      `json:"duration_ms"`
}

// taskResponse is the JSON view of a single task.
type taskResponse struct {
	Key     string           `json:"key"`
	Status  string           `json:"status"`
	Outcome *outcomeResponse `json:"outcome,omitempty"`
}

type parallelismRequest struct {
	Max *int `json:"max"`
}

type parallelismResponse struct {
	Max    int `json:"max"`
	Queued int `json:"queued"`
}

func newOutcomeResponse(o engine.Outcome[[]byte]) *outcomeResponse {
	resp := &outcomeResponse{
		RunID:      o.RunID,
		Status:     o.Status,
		Message:    o.Message,
		Value:      string(o.Value),
		FinishedAt: o.FinishedAt,
		DurationMS: o.Duration().Milliseconds(),
	}
	if o.Err != nil {
		resp.Error = o.Err.Error()
	}
	if !o.StartedAt.IsZero() {
		started := o.StartedAt
		resp.StartedAt = &started
	}
	return resp
}

func (s *Server) handleListJobs(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, s.jobs.List())
}

func (s *Server) handleSubmitTask(w http.ResponseWriter, r *http.Request) {
	var req submitTaskRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	if req.Key == "" {
		s.writeError(w, http.StatusBadRequest, "key is required")
		return
	}
	if req.Job == "" {
		s.writeError(w, http.StatusBadRequest, "job is required")
		return
	}

	j, err := s.jobs.Resolve(req.Job)
	if errors.Is(err, job.ErrUnknownJob) {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err != nil {
		s.logger.Error("resolve job", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to resolve job")
		return
	}

	timeout := s.defaultTimeout
	if req.TimeoutMS != nil {
		timeout = time.Duration(*req.TimeoutMS) * time.Millisecond
	}

	def := engine.Definition[string, []byte]{
		Key:     req.Key,
		Work:    job.Work(j, req.Params),
		Timeout: timeout,
		OnTimeout: func(key string) {
			s.logger.Warn("task timed out", "key", key, "job", req.Job)
		},
	}

	if req.Start != nil && !*req.Start {
		s.engine.RegisterTask(def)
		s.writeJSON(w, http.StatusCreated, taskResponse{Key: req.Key, Status: model.StatusQueued})
		return
	}

	s.engine.RegisterAndRunTask(def)
	status, err := s.engine.GetTaskStatus(req.Key)
	if err != nil {
		s.logger.Error("get submitted task status", "key", req.Key, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to get task status")
		return
	}
	s.writeJSON(w, http.StatusAccepted, taskResponse{Key: req.Key, Status: status})
}

// handleStartAll starts every registered task and returns without waiting
// for them to finish.
func (s *Server) handleStartAll(w http.ResponseWriter, _ *http.Request) {
	queued := s.engine.Len()
	go func() {
		if err := s.engine.StartAll(context.Background()); err != nil {
			s.logger.Error("start all tasks", "error", err)
		}
	}()
	s.writeJSON(w, http.StatusAccepted, map[string]int{"started": queued})
}

func (s *Server) handleListTasks(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, s.engine.GetAllTaskStatuses())
}

// handleGetTask returns a task's status and, once terminal, its outcome.
// With ?wait=true it blocks until the latest run ends or the client goes away.
func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")

	status, err := s.engine.GetTaskStatus(key)
	if errors.Is(err, engine.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "task not found")
		return
	}
	if err != nil {
		s.logger.Error("get task status", "key", key, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to get task")
		return
	}

	wait, _ := strconv.ParseBool(r.URL.Query().Get("wait"))
	if !model.IsTerminal(status) && (!wait || status == model.StatusQueued) {
		s.writeJSON(w, http.StatusOK, taskResponse{Key: key, Status: status})
		return
	}

	outcome, err := s.engine.GetResult(r.Context(), key)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return
		}
		s.logger.Error("get task result", "key", key, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to get task result")
		return
	}

	s.writeJSON(w, http.StatusOK, taskResponse{
		Key:     key,
		Status:  outcome.Status,
		Outcome: newOutcomeResponse(outcome),
	})
}

func (s *Server) handleCancelTask(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")

	if !s.engine.ContainsTask(key) {
		s.writeError(w, http.StatusNotFound, "task not started")
		return
	}

	s.engine.CancelTask(key)

	status, err := s.engine.GetTaskStatus(key)
	if err != nil {
		s.logger.Error("get cancelled task status", "key", key, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to get task status")
		return
	}
	s.writeJSON(w, http.StatusAccepted, taskResponse{Key: key, Status: status})
}

// handleCancelAll cancels every run and waits for them to settle, bounded by
// the request context.
func (s *Server) handleCancelAll(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.CancelAll(r.Context()); err != nil {
		s.logger.Warn("cancel all tasks", "error", err)
		s.writeError(w, http.StatusGatewayTimeout, "tasks still settling")
		return
	}
	s.writeJSON(w, http.StatusOK, s.engine.GetAllTaskStatuses())
}

func (s *Server) handleGetParallelism(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, parallelismResponse{
		Max:    s.engine.MaxDegreeOfParallelism(),
		Queued: s.engine.Len(),
	})
}

func (s *Server) handleSetParallelism(w http.ResponseWriter, r *http.Request) {
	var req parallelismRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Max == nil {
		s.writeError(w, http.StatusBadRequest, "max is required")
		return
	}

	s.engine.SetMaxDegreeOfParallelism(*req.Max)
	s.handleGetParallelism(w, r)
}

// writeJSON writes a JSON response with the given status code.
func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("encode response", "error", err)
	}
}

// writeError writes a JSON error response.
func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}

// parseIntQuery parses an integer query parameter with a default value.
func parseIntQuery(r *http.Request, key string, defaultVal int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return defaultVal
	}
	return v
}
