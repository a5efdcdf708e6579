package server

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/evalgate/evalgate/internal/jobs"
	"github.com/evalgate/evalgate/internal/metrics"
	"github.com/evalgate/evalgate/internal/ratelimit"
	"github.com/evalgate/evalgate/internal/sched"
	"github.com/evalgate/evalgate/internal/store"
)

type JobQueue interface {
	Enqueue(ctx context.Context, payload jobs.EvalPayload, priority int) (string, error)
	Status(ctx context.Context, jobID string) (store.Job, error)
	Latest(ctx context.Context, itemID string) (store.Job, error)
}

type SchedulerStatus interface {
	Status() sched.Status
}

// Stats counts admission outcomes at the API edge for the health surface.
type Stats struct {
	Accepted atomic.Int64
	Rejected atomic.Int64
}

type APIHandlers struct {
	callerLimiter *ratelimit.Limiter
	globalLimiter *ratelimit.Limiter
	queue         JobQueue
	scheduler     SchedulerStatus
	collector     *metrics.Collector
	stats         *Stats
}

func NewAPIHandlers(callerLimiter, globalLimiter *ratelimit.Limiter, queue JobQueue, scheduler SchedulerStatus, collector *metrics.Collector, stats *Stats) *APIHandlers {
	if stats == nil {
		stats = &Stats{}
	}
	return &APIHandlers{
		callerLimiter: callerLimiter,
		globalLimiter: globalLimiter,
		queue:         queue,
		scheduler:     scheduler,
		collector:     collector,
		stats:         stats,
	}
}

type evaluationRequest struct {
	ItemID      string `json:"item_id"`
	Requirement string `json:"requirement"`
	Evidence    string `json:"evidence"`
	Model       string `json:"model"`
	Priority    string `json:"priority"`
}

type jobResponse struct {
	JobID       string          `json:"job_id"`
	ItemID      string          `json:"item_id"`
	Status      string          `json:"status"`
	Priority    int             `json:"priority"`
	Attempts    int             `json:"attempts"`
	MaxAttempts int             `json:"max_attempts"`
	Result      json.RawMessage `json:"result,omitempty"`
	LastError   string          `json:"last_error,omitempty"`
	CreatedAt   int64           `json:"created_at"`
	StartedAt   *int64          `json:"started_at"`
	CompletedAt *int64          `json:"completed_at"`
	NextRetryAt *int64          `json:"next_retry_at"`
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]string{"error": code, "message": message})
}

// callerIdentifier keys the per-caller admission budget by originating
// address.
func callerIdentifier(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// PostEvaluation admits the caller through the per-identity limiter, then
// accepts the work for background execution. A denial carries a
// Retry-After hint instead of an opaque failure; transient provider
// trouble is never surfaced here.
func (h *APIHandlers) PostEvaluation(w http.ResponseWriter, r *http.Request) {
	caller := callerIdentifier(r)
	if !h.callerLimiter.Admit(caller) {
		st := h.callerLimiter.Status(caller)
		retryAfter := time.Until(st.ResetAt)
		if retryAfter < time.Second {
			retryAfter = time.Second
		}
		seconds := int(retryAfter.Round(time.Second).Seconds())
		h.stats.Rejected.Add(1)
		w.Header().Set("Retry-After", strconv.Itoa(seconds))
		writeJSON(w, http.StatusTooManyRequests, map[string]any{
			"error":               "too_many_requests",
			"message":             "rate limit exceeded, retry later",
			"retry_after_seconds": seconds,
		})
		return
	}

	var req evaluationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "request body is not valid JSON")
		return
	}
	if req.ItemID == "" || req.Requirement == "" {
		writeError(w, http.StatusBadRequest, "missing_fields", "item_id and requirement are required")
		return
	}
	priority, ok := sched.ParsePriority(req.Priority)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid_priority", "priority must be high, medium or low")
		return
	}

	jobID, err := h.queue.Enqueue(r.Context(), jobs.EvalPayload{
		ItemID:      req.ItemID,
		Requirement: req.Requirement,
		Evidence:    req.Evidence,
		Model:       req.Model,
	}, int(priority))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "enqueue_failed", "could not accept evaluation")
		return
	}

	h.stats.Accepted.Add(1)
	writeJSON(w, http.StatusAccepted, map[string]string{
		"job_id": jobID,
		"status": "accepted",
	})
}

func (h *APIHandlers) GetJob(w http.ResponseWriter, r *http.Request) {
	h.writeJob(w, r, func(ctx context.Context) (store.Job, error) {
		return h.queue.Status(ctx, r.PathValue("id"))
	})
}

func (h *APIHandlers) GetLatestItemJob(w http.ResponseWriter, r *http.Request) {
	h.writeJob(w, r, func(ctx context.Context) (store.Job, error) {
		return h.queue.Latest(ctx, r.PathValue("id"))
	})
}

func (h *APIHandlers) writeJob(w http.ResponseWriter, r *http.Request, lookup func(context.Context) (store.Job, error)) {
	job, err := lookup(r.Context())
	if errors.Is(err, store.ErrJobNotFound) {
		writeError(w, http.StatusNotFound, "not_found", "no such job")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "lookup_failed", "job lookup failed")
		return
	}

	resp := jobResponse{
		JobID:       job.JobID,
		ItemID:      job.ItemID,
		Status:      string(job.Status),
		Priority:    job.Priority,
		Attempts:    job.Attempts,
		MaxAttempts: job.MaxAttempts,
		LastError:   job.LastError,
		CreatedAt:   job.CreatedAt,
		StartedAt:   job.StartedAt,
		CompletedAt: job.CompletedAt,
		NextRetryAt: job.NextRetryAt,
	}
	if job.Result != "" {
		resp.Result = json.RawMessage(job.Result)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *APIHandlers) GetQueueStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.scheduler.Status())
}

// GetRateLimitStatus reports remaining budget. With no id parameter the
// shared provider budget is reported.
func (h *APIHandlers) GetRateLimitStatus(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("id")
	if id == "" {
		writeJSON(w, http.StatusOK, h.globalLimiter.Status("global"))
		return
	}
	writeJSON(w, http.StatusOK, h.callerLimiter.Status(id))
}

func (h *APIHandlers) GetMetricsSummary(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.collector.Summary())
}

func (h *APIHandlers) GetMetricsExport(w http.ResponseWriter, r *http.Request) {
	rangeLabel := r.URL.Query().Get("range")
	if rangeLabel == "" {
		rangeLabel = "day"
	}
	records := h.collector.ByRange(rangeLabel)

	switch r.URL.Query().Get("format") {
	case "", "csv":
		w.Header().Set("Content-Type", "text/csv")
		w.WriteHeader(http.StatusOK)
		_ = metrics.WriteCSV(w, records)
	case "json":
		writeJSON(w, http.StatusOK, records)
	default:
		writeError(w, http.StatusBadRequest, "invalid_format", "format must be csv or json")
	}
}
