package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/evalgate/evalgate/internal/store"
)

const (
	retryBaseDelay = time.Minute
	retryMaxDelay  = 10 * time.Minute
)

// Worker runs one evaluation. Wired in the composition root to the
// limiter/scheduler/retry pipeline in front of the provider.
type Worker func(ctx context.Context, jobID string, payload EvalPayload) (EvalResult, error)

// ItemUpdater propagates a completed evaluation to the checklist item
// record. Applied exactly once per completed job.
type ItemUpdater interface {
	UpdateItem(ctx context.Context, itemID string, result EvalResult) error
}

type Notifier interface {
	Send(payload any) bool
}

type FailureNotice struct {
	Event     string `json:"event"`
	JobID     string `json:"job_id"`
	ItemID    string `json:"item_id"`
	Attempts  int    `json:"attempts"`
	LastError string `json:"last_error"`
}

// Runner drives durable background evaluations: enqueue returns
// immediately, a timer loop claims due batches and executes them, retry
// scheduling is coarse exponential backoff persisted on the job row.
type Runner struct {
	logger      *slog.Logger
	store       *store.Manager
	worker      Worker
	updater     ItemUpdater
	notifier    Notifier
	interval    time.Duration
	batchSize   int
	maxAttempts int

	draining atomic.Bool
	now      func() time.Time
}

func NewRunner(st *store.Manager, worker Worker, updater ItemUpdater, notifier Notifier, interval time.Duration, batchSize, maxAttempts int, logger *slog.Logger) *Runner {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	if batchSize <= 0 {
		batchSize = 5
	}
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	return &Runner{
		logger:      logger,
		store:       st,
		worker:      worker,
		updater:     updater,
		notifier:    notifier,
		interval:    interval,
		batchSize:   batchSize,
		maxAttempts: maxAttempts,
		now:         time.Now,
	}
}

// SetClock overrides the time source, for tests.
func (r *Runner) SetClock(now func() time.Time) {
	r.now = now
}

// Enqueue persists a pending job and returns its id without waiting for
// execution.
func (r *Runner) Enqueue(ctx context.Context, payload EvalPayload, priority int) (string, error) {
	if payload.ItemID == "" {
		return "", fmt.Errorf("enqueue: item id is required")
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("enqueue: marshal payload: %w", err)
	}

	jobID := uuid.NewString()
	err = r.store.InsertJob(ctx, store.Job{
		JobID:       jobID,
		ItemID:      payload.ItemID,
		Priority:    priority,
		Payload:     string(raw),
		MaxAttempts: r.maxAttempts,
		CreatedAt:   r.now().UnixMilli(),
	})
	if err != nil {
		return "", err
	}
	r.logger.Info("evaluation job enqueued", "job_id", jobID, "item_id", payload.ItemID, "priority", priority)
	return jobID, nil
}

func (r *Runner) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			r.DrainOnce(ctx)
		}
	}
}

// DrainOnce claims and executes one batch of due jobs. The single-flight
// guard makes overlapping timer firings a no-op. Returns how many jobs
// were processed.
func (r *Runner) DrainOnce(ctx context.Context) int {
	if !r.draining.CompareAndSwap(false, true) {
		return 0
	}
	defer r.draining.Store(false)

	claimed, err := r.store.ClaimDueJobs(ctx, r.batchSize, r.now().UnixMilli())
	if err != nil {
		r.logger.Error("job claim failed", "error", err)
		return 0
	}
	for _, job := range claimed {
		r.process(ctx, job)
	}
	return len(claimed)
}

func (r *Runner) process(ctx context.Context, job store.Job) {
	var payload EvalPayload
	if err := json.Unmarshal([]byte(job.Payload), &payload); err != nil {
		// Malformed payloads can never succeed; fail terminally.
		r.finalizeFailure(ctx, job, fmt.Errorf("decode payload: %w", err), true)
		return
	}

	result, err := r.worker(ctx, job.JobID, payload)
	if err != nil {
		r.finalizeFailure(ctx, job, err, job.Attempts >= job.MaxAttempts)
		return
	}

	raw, err := json.Marshal(result)
	if err != nil {
		r.finalizeFailure(ctx, job, fmt.Errorf("encode result: %w", err), true)
		return
	}
	if err := r.store.CompleteJob(ctx, job.JobID, string(raw), r.now().UnixMilli()); err != nil {
		r.logger.Error("job completion write failed", "job_id", job.JobID, "error", err)
		return
	}
	if r.updater != nil {
		if err := r.updater.UpdateItem(ctx, job.ItemID, result); err != nil {
			r.logger.Error("item update failed", "job_id", job.JobID, "item_id", job.ItemID, "error", err)
		}
	}
	r.logger.Info("evaluation job completed",
		"job_id", job.JobID,
		"item_id", job.ItemID,
		"attempts", job.Attempts,
		"verdict", string(result.Verdict),
	)
}

func (r *Runner) finalizeFailure(ctx context.Context, job store.Job, cause error, terminal bool) {
	if !terminal {
		delay := RetryDelay(job.Attempts)
		nextRetryAt := r.now().Add(delay).UnixMilli()
		if err := r.store.RescheduleJob(ctx, job.JobID, cause.Error(), nextRetryAt); err != nil {
			r.logger.Error("job reschedule failed", "job_id", job.JobID, "error", err)
			return
		}
		r.logger.Warn("evaluation job attempt failed",
			"job_id", job.JobID,
			"attempts", job.Attempts,
			"max_attempts", job.MaxAttempts,
			"retry_in", delay.String(),
			"error", cause,
		)
		return
	}

	if err := r.store.FailJob(ctx, job.JobID, cause.Error(), r.now().UnixMilli()); err != nil {
		r.logger.Error("job failure write failed", "job_id", job.JobID, "error", err)
		return
	}
	r.logger.Error("evaluation job failed terminally",
		"job_id", job.JobID,
		"item_id", job.ItemID,
		"attempts", job.Attempts,
		"error", cause,
	)
	if r.notifier != nil {
		r.notifier.Send(FailureNotice{
			Event:     "evaluation_job_failed",
			JobID:     job.JobID,
			ItemID:    job.ItemID,
			Attempts:  job.Attempts,
			LastError: cause.Error(),
		})
	}
}

// RetryDelay is the coarse between-claim backoff after the n-th failed
// attempt (1-based): min(1m * 2^(n-1), 10m).
func RetryDelay(attempts int) time.Duration {
	if attempts < 1 {
		attempts = 1
	}
	delay := retryBaseDelay << (attempts - 1)
	if delay > retryMaxDelay || delay <= 0 {
		delay = retryMaxDelay
	}
	return delay
}

// Status returns the durable record for a job id.
func (r *Runner) Status(ctx context.Context, jobID string) (store.Job, error) {
	return r.store.JobByID(ctx, jobID)
}

// Latest returns the most recent job for a checklist item.
func (r *Runner) Latest(ctx context.Context, itemID string) (store.Job, error) {
	return r.store.LatestJobByItem(ctx, itemID)
}
