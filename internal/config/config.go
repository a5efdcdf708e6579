package config

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/sethvargo/go-envconfig"
)

type Config struct {
	Port     string `env:"EG_PORT,default=8080"`
	DBPath   string `env:"EG_DB_PATH,default=/data/evalgate.db"`
	LogLevel string `env:"EG_LOG_LEVEL,default=info"`

	ProviderTimeout   time.Duration `env:"EG_PROVIDER_TIMEOUT,default=90s"`
	ProviderModel     string        `env:"EG_PROVIDER_MODEL,default=claude-sonnet-4"`
	ProviderBaseURL   string        `env:"EG_PROVIDER_BASE_URL,default=https://api.anthropic.com"`
	ProviderAPIKey    string        `env:"EG_PROVIDER_API_KEY"`
	ProviderMaxTokens int           `env:"EG_PROVIDER_MAX_TOKENS,default=1024"`

	CallerRateLimit    int           `env:"EG_CALLER_RATE_LIMIT,default=10"`
	CallerRateInterval time.Duration `env:"EG_CALLER_RATE_INTERVAL,default=1m"`
	GlobalRateLimit    int           `env:"EG_GLOBAL_RATE_LIMIT,default=50"`
	GlobalRateInterval time.Duration `env:"EG_GLOBAL_RATE_INTERVAL,default=1m"`
	MaxTrackedCallers  int           `env:"EG_MAX_TRACKED_CALLERS,default=1024"`

	MaxConcurrent int `env:"EG_MAX_CONCURRENT,default=3"`

	RetryMax          int           `env:"EG_RETRY_MAX,default=3"`
	RetryInitialDelay time.Duration `env:"EG_RETRY_INITIAL_DELAY,default=2s"`
	RetryMaxDelay     time.Duration `env:"EG_RETRY_MAX_DELAY,default=10s"`

	MetricsCapacity   int `env:"EG_METRICS_CAPACITY,default=10000"`
	MetricsFlushEvery int `env:"EG_METRICS_FLUSH_EVERY,default=100"`

	AlertWebhook       string        `env:"EG_ALERT_WEBHOOK"`
	AlertInterval      time.Duration `env:"EG_ALERT_INTERVAL,default=1m"`
	AlertCooldown      time.Duration `env:"EG_ALERT_COOLDOWN,default=5m"`
	AlertRPMWarn       float64       `env:"EG_ALERT_RPM_WARN,default=40"`
	AlertRPMCrit       float64       `env:"EG_ALERT_RPM_CRIT,default=48"`
	AlertTPMWarn       float64       `env:"EG_ALERT_TPM_WARN,default=80000"`
	AlertTPMCrit       float64       `env:"EG_ALERT_TPM_CRIT,default=95000"`
	AlertCostWarn      float64       `env:"EG_ALERT_COST_WARN,default=50"`
	AlertCostCrit      float64       `env:"EG_ALERT_COST_CRIT,default=100"`
	AlertErrorRateWarn float64       `env:"EG_ALERT_ERROR_RATE_WARN,default=0.1"`
	AlertErrorRateCrit float64       `env:"EG_ALERT_ERROR_RATE_CRIT,default=0.25"`
	AlertQueueWarn     float64       `env:"EG_ALERT_QUEUE_WARN,default=20"`
	AlertQueueCrit     float64       `env:"EG_ALERT_QUEUE_CRIT,default=50"`

	JobPollInterval time.Duration `env:"EG_JOB_POLL_INTERVAL,default=30s"`
	JobBatchSize    int           `env:"EG_JOB_BATCH_SIZE,default=5"`
	JobMaxAttempts  int           `env:"EG_JOB_MAX_ATTEMPTS,default=3"`

	WALCheckpointInterval time.Duration `env:"EG_WAL_CHECKPOINT_INTERVAL,default=10m"`
}

func Load(ctx context.Context) (*Config, error) {
	var cfg Config
	if err := envconfig.Process(ctx, &cfg); err != nil {
		return nil, fmt.Errorf("load env config: %w", err)
	}
	return &cfg, nil
}

func WriteHelp(w io.Writer, version string) {
	fmt.Fprintf(w, "evalgated %s\n\n", version)
	fmt.Fprintln(w, "Environment variables:")
	fmt.Fprintln(w, "  EG_PORT=8080")
	fmt.Fprintln(w, "  EG_DB_PATH=/data/evalgate.db")
	fmt.Fprintln(w, "  EG_LOG_LEVEL=info")
	fmt.Fprintln(w, "  EG_PROVIDER_TIMEOUT=90s")
	fmt.Fprintln(w, "  EG_PROVIDER_MODEL=claude-sonnet-4")
	fmt.Fprintln(w, "  EG_PROVIDER_BASE_URL=https://api.anthropic.com")
	fmt.Fprintln(w, "  EG_PROVIDER_API_KEY=")
	fmt.Fprintln(w, "  EG_PROVIDER_MAX_TOKENS=1024")
	fmt.Fprintln(w, "  EG_CALLER_RATE_LIMIT=10")
	fmt.Fprintln(w, "  EG_CALLER_RATE_INTERVAL=1m")
	fmt.Fprintln(w, "  EG_GLOBAL_RATE_LIMIT=50")
	fmt.Fprintln(w, "  EG_GLOBAL_RATE_INTERVAL=1m")
	fmt.Fprintln(w, "  EG_MAX_TRACKED_CALLERS=1024")
	fmt.Fprintln(w, "  EG_MAX_CONCURRENT=3")
	fmt.Fprintln(w, "  EG_RETRY_MAX=3")
	fmt.Fprintln(w, "  EG_RETRY_INITIAL_DELAY=2s")
	fmt.Fprintln(w, "  EG_RETRY_MAX_DELAY=10s")
	fmt.Fprintln(w, "  EG_METRICS_CAPACITY=10000")
	fmt.Fprintln(w, "  EG_METRICS_FLUSH_EVERY=100")
	fmt.Fprintln(w, "  EG_ALERT_WEBHOOK=")
	fmt.Fprintln(w, "  EG_ALERT_INTERVAL=1m")
	fmt.Fprintln(w, "  EG_ALERT_COOLDOWN=5m")
	fmt.Fprintln(w, "  EG_JOB_POLL_INTERVAL=30s")
	fmt.Fprintln(w, "  EG_JOB_BATCH_SIZE=5")
	fmt.Fprintln(w, "  EG_JOB_MAX_ATTEMPTS=3")
	fmt.Fprintln(w, "  EG_WAL_CHECKPOINT_INTERVAL=10m")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Flags:")
	fmt.Fprintln(w, "  --help")
	fmt.Fprintln(w, "  --version")
}
