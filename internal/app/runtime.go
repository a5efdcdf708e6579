package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/evalgate/evalgate/internal/alert"
	"github.com/evalgate/evalgate/internal/config"
	"github.com/evalgate/evalgate/internal/jobs"
	"github.com/evalgate/evalgate/internal/metrics"
	"github.com/evalgate/evalgate/internal/notify"
	"github.com/evalgate/evalgate/internal/provider"
	"github.com/evalgate/evalgate/internal/ratelimit"
	"github.com/evalgate/evalgate/internal/retry"
	"github.com/evalgate/evalgate/internal/sched"
	"github.com/evalgate/evalgate/internal/server"
	"github.com/evalgate/evalgate/internal/store"
)

// globalLimiterID keys the shared provider-call budget.
const globalLimiterID = "global"

type Runtime struct {
	cfg       *config.Config
	logger    *slog.Logger
	version   string
	startedAt time.Time

	call    provider.CallFunc
	updater jobs.ItemUpdater

	dbm           *store.Manager
	httpServer    *http.Server
	callerLimiter *ratelimit.Limiter
	globalLimiter *ratelimit.Limiter
	scheduler     *sched.Scheduler
	collector     *metrics.Collector
	webhook       *notify.Webhook
	runner        *jobs.Runner
	apiStats      *server.Stats

	lastAlert atomic.Int64
	bgCancel  context.CancelFunc
	bgWG      sync.WaitGroup
}

func New(cfg *config.Config, logger *slog.Logger, version string) *Runtime {
	return &Runtime{
		cfg:       cfg,
		logger:    logger,
		version:   version,
		startedAt: time.Now(),
		apiStats:  &server.Stats{},
	}
}

// SetProviderCall overrides the inference call. Must be set before Run;
// the default speaks the Anthropic HTTP API with the configured key.
func (r *Runtime) SetProviderCall(call provider.CallFunc) {
	r.call = call
}

// SetItemUpdater overrides the checklist-item sink. The default logs the
// verdict; the surrounding system supplies a real store.
func (r *Runtime) SetItemUpdater(u jobs.ItemUpdater) {
	r.updater = u
}

func (r *Runtime) Run(ctx context.Context) error {
	dbm, err := store.Open(r.cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	r.dbm = dbm
	r.logger.Info("SQLite opened", "path", r.cfg.DBPath, "tables", 2)

	r.wire()

	bgCtx, bgCancel := context.WithCancel(context.Background())
	r.bgCancel = bgCancel
	r.startBackgroundLoops(bgCtx)

	healthHandler := server.NewHealthHandler(r.dbm, r.startedAt, r.version, r)
	api := server.NewAPIHandlers(r.callerLimiter, r.globalLimiter, r.runner, r.scheduler, r.collector, r.apiStats)
	r.httpServer = server.New(":"+r.cfg.Port, healthHandler.ServeHTTP, api)

	serverErr := make(chan error, 1)
	go func() {
		r.logger.Info("Listening", "addr", ":"+r.cfg.Port)
		if err := r.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
			return
		}
		serverErr <- nil
	}()

	select {
	case err := <-serverErr:
		if err != nil {
			return fmt.Errorf("http server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
		r.logger.Info("SIGTERM received, shutting down...")
		return r.shutdown(context.Background())
	}
}

// wire constructs every service once and connects them. Requires dbm.
func (r *Runtime) wire() {
	cfg := r.cfg

	r.callerLimiter = ratelimit.New(cfg.CallerRateLimit, cfg.CallerRateInterval, cfg.MaxTrackedCallers)
	r.globalLimiter = ratelimit.New(cfg.GlobalRateLimit, cfg.GlobalRateInterval, 1)
	r.scheduler = sched.New(cfg.MaxConcurrent, r.logger)
	r.collector = metrics.NewCollector(cfg.MetricsCapacity, cfg.MetricsFlushEvery, r.dbm, r.logger)
	r.webhook = notify.NewWebhook(cfg.AlertWebhook, r.logger)

	if r.call == nil {
		r.call = provider.NewHTTPCallFunc(cfg.ProviderBaseURL, cfg.ProviderAPIKey, nil)
	}
	if r.updater == nil {
		r.updater = verdictLog{logger: r.logger}
	}

	client := provider.NewClient(r.call, cfg.ProviderTimeout)
	executor := &retry.Executor{
		MaxRetries:   cfg.RetryMax,
		InitialDelay: cfg.RetryInitialDelay,
		MaxDelay:     cfg.RetryMaxDelay,
		Multiplier:   2,
	}

	r.runner = jobs.NewRunner(
		r.dbm,
		r.evalWorker(client, executor),
		r.updater,
		r.webhook,
		cfg.JobPollInterval,
		cfg.JobBatchSize,
		cfg.JobMaxAttempts,
		r.logger,
	)
}

// evalWorker builds the pipeline one evaluation travels: a scheduler slot
// bounds provider concurrency, inside it the retry executor re-runs the
// rate-limited provider call, and every attempt that reaches the provider
// is recorded as a metric.
func (r *Runtime) evalWorker(client *provider.Client, executor *retry.Executor) jobs.Worker {
	return func(ctx context.Context, jobID string, payload jobs.EvalPayload) (jobs.EvalResult, error) {
		model := payload.Model
		if model == "" {
			model = r.cfg.ProviderModel
		}
		priority := sched.PriorityMedium
		if job, err := r.dbm.JobByID(ctx, jobID); err == nil {
			priority = sched.Priority(job.Priority)
		}

		var resp provider.Response
		err := r.scheduler.Submit(ctx, jobID, priority, func(ctx context.Context) error {
			return executor.Do(ctx, func(ctx context.Context) error {
				if !r.globalLimiter.Admit(globalLimiterID) {
					st := r.globalLimiter.Status(globalLimiterID)
					return &provider.Error{
						Kind:       provider.KindRateLimit,
						Message:    "shared provider budget exhausted",
						RetryAfter: time.Until(st.ResetAt),
					}
				}

				start := time.Now()
				got, callErr := client.Call(ctx, provider.Request{
					Endpoint:  "v1/messages",
					Model:     model,
					Prompt:    evalPrompt(payload),
					MaxTokens: r.cfg.ProviderMaxTokens,
				})
				r.recordAttempt(model, got, time.Since(start), callErr)
				if callErr != nil {
					return callErr
				}
				resp = got
				return nil
			}, func(attempt int, err error) {
				r.logger.Warn("provider call retrying", "job_id", jobID, "attempt", attempt, "error", err)
			})
		})
		if err != nil {
			return jobs.EvalResult{}, err
		}

		return jobs.EvalResult{
			Verdict:    jobs.ParseVerdict(resp.Text),
			Reasoning:  resp.Text,
			TokensUsed: resp.InputTokens + resp.OutputTokens,
			CostUSD:    metrics.CostUSD(model, resp.InputTokens, resp.OutputTokens, resp.CachedTokens),
		}, nil
	}
}

// recordAttempt stores one completed provider attempt. Admission denials
// never reach here; no call was made.
func (r *Runtime) recordAttempt(model string, resp provider.Response, duration time.Duration, callErr error) {
	m := metrics.Metric{
		Endpoint:  "v1/messages",
		RequestID: uuid.NewString(),
		Duration:  duration,
		Status:    metrics.StatusSuccess,
	}
	if callErr != nil {
		m.Status = metrics.StatusError
		var perr *provider.Error
		if errors.As(callErr, &perr) {
			m.ErrorCode = string(perr.Kind)
		} else {
			m.ErrorCode = string(provider.KindUnknown)
		}
	} else {
		m.InputTokens = resp.InputTokens
		m.OutputTokens = resp.OutputTokens
		m.CachedTokens = resp.CachedTokens
		m.TotalTokens = resp.InputTokens + resp.OutputTokens
		m.CostUSD = metrics.CostUSD(model, resp.InputTokens, resp.OutputTokens, resp.CachedTokens)
	}
	r.collector.Record(m)
}

func evalPrompt(payload jobs.EvalPayload) string {
	return fmt.Sprintf(
		"Requirement: %s\n\nEvidence:\n%s\n\nState COMPLIANT, NON_COMPLIANT or NEEDS_REVIEW on the first line, then explain.",
		payload.Requirement, payload.Evidence,
	)
}

func (r *Runtime) Snapshot() server.RuntimeSnapshot {
	var lastAlert *int64
	if ts := r.lastAlert.Load(); ts > 0 {
		t := ts
		lastAlert = &t
	}
	globalStatus := r.globalLimiter.Status(globalLimiterID)

	return server.RuntimeSnapshot{
		Scheduler:       r.scheduler.Status(),
		GlobalRateUsed:  globalStatus.Used,
		GlobalRateLimit: globalStatus.Limit,
		JobsAccepted:    r.apiStats.Accepted.Load(),
		CallsRejected:   r.apiStats.Rejected.Load(),
		LastAlertTime:   lastAlert,
		NotifierEnabled: r.webhook.Enabled(),
	}
}

func (r *Runtime) startBackgroundLoops(ctx context.Context) {
	r.bgWG.Add(1)
	go func() {
		defer r.bgWG.Done()
		if err := r.scheduler.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			r.logger.Warn("scheduler stopped", "error", err)
		}
	}()

	r.bgWG.Add(1)
	go func() {
		defer r.bgWG.Done()
		if err := r.runner.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			r.logger.Warn("job runner stopped", "error", err)
		}
	}()

	cfg := r.cfg
	alerts := alert.NewService(
		r.collector,
		r.scheduler.QueueDepth,
		recordingNotifier{inner: r.webhook, last: &r.lastAlert},
		alert.ThresholdsFromLimits(
			cfg.AlertRPMWarn, cfg.AlertRPMCrit,
			cfg.AlertTPMWarn, cfg.AlertTPMCrit,
			cfg.AlertCostWarn, cfg.AlertCostCrit,
			cfg.AlertErrorRateWarn, cfg.AlertErrorRateCrit,
			cfg.AlertQueueWarn, cfg.AlertQueueCrit,
		),
		cfg.AlertCooldown,
		cfg.AlertInterval,
		r.logger,
	)
	r.bgWG.Add(1)
	go func() {
		defer r.bgWG.Done()
		if err := alerts.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			r.logger.Warn("alert loop stopped", "error", err)
		}
	}()

	r.bgWG.Add(1)
	go func() {
		defer r.bgWG.Done()
		ticker := time.NewTicker(cfg.WALCheckpointInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				cpCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
				err := r.dbm.Checkpoint(cpCtx)
				cancel()
				if err != nil {
					r.logger.Warn("wal checkpoint loop failed", "error", err)
				}
			}
		}
	}()
}

func (r *Runtime) shutdown(ctx context.Context) error {
	var joined error

	if r.httpServer != nil {
		httpCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		if err := r.httpServer.Shutdown(httpCtx); err != nil {
			joined = errors.Join(joined, fmt.Errorf("http shutdown: %w", err))
		}
	}

	if r.bgCancel != nil {
		r.bgCancel()
		done := make(chan struct{})
		go func() {
			r.bgWG.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-time.After(15 * time.Second):
			joined = errors.Join(joined, errors.New("background loop shutdown timeout"))
		}
	}

	if r.dbm != nil {
		cpCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		defer cancel()
		if err := r.dbm.Checkpoint(cpCtx); err != nil {
			r.logger.Warn("WAL checkpoint failed", "error", err)
			joined = errors.Join(joined, fmt.Errorf("wal checkpoint: %w", err))
		}
		if err := r.dbm.Close(); err != nil {
			joined = errors.Join(joined, fmt.Errorf("db close: %w", err))
		}
	}

	r.logger.Info("Shutdown complete",
		"jobs_accepted", r.apiStats.Accepted.Load(),
		"uptime", time.Since(r.startedAt).String(),
	)
	return joined
}

// verdictLog is the default ItemUpdater. The checklist record store lives
// outside this service; absent one, completed verdicts are surfaced in the
// log and remain queryable through the jobs API.
type verdictLog struct {
	logger *slog.Logger
}

func (v verdictLog) UpdateItem(_ context.Context, itemID string, result jobs.EvalResult) error {
	v.logger.Info("checklist item evaluated",
		"item_id", itemID,
		"verdict", string(result.Verdict),
		"tokens", result.TokensUsed,
		"cost_usd", result.CostUSD,
	)
	return nil
}

type recordingNotifier struct {
	inner *notify.Webhook
	last  *atomic.Int64
}

func (n recordingNotifier) Send(payload any) bool {
	if !n.inner.Send(payload) {
		return false
	}
	n.last.Store(time.Now().UnixMilli())
	return true
}
