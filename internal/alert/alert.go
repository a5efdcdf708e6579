package alert

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/evalgate/evalgate/internal/metrics"
)

type MetricType string

const (
	TypeRPM         MetricType = "rpm"
	TypeTPM         MetricType = "tpm"
	TypeCost        MetricType = "cost"
	TypeErrorRate   MetricType = "error_rate"
	TypeQueueLength MetricType = "queue_length"
)

type Severity string

const (
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Threshold is static configuration; never mutated after construction.
type Threshold struct {
	Type     MetricType
	Value    float64
	Severity Severity
}

type Message struct {
	Type             MetricType      `json:"type"`
	Severity         Severity        `json:"severity"`
	Value            float64         `json:"value"`
	Threshold        float64         `json:"threshold"`
	PercentThreshold float64         `json:"percent_of_threshold"`
	Summary          metrics.Summary `json:"summary"`
	FiredAt          time.Time       `json:"fired_at"`
}

type Notifier interface {
	Send(payload any) bool
}

type suppressionKey struct {
	t MetricType
	s Severity
}

// Service compares live values against thresholds on a timer and notifies
// on breach, with per-(type, severity) cooldown suppression.
type Service struct {
	logger     *slog.Logger
	collector  *metrics.Collector
	queueDepth func() int
	notifier   Notifier
	thresholds []Threshold
	cooldown   time.Duration
	interval   time.Duration

	mu        sync.Mutex
	lastFired map[suppressionKey]time.Time
	now       func() time.Time
}

func NewService(collector *metrics.Collector, queueDepth func() int, notifier Notifier, thresholds []Threshold, cooldown, interval time.Duration, logger *slog.Logger) *Service {
	if cooldown <= 0 {
		cooldown = 5 * time.Minute
	}
	if interval <= 0 {
		interval = time.Minute
	}
	return &Service{
		logger:     logger,
		collector:  collector,
		queueDepth: queueDepth,
		notifier:   notifier,
		thresholds: thresholds,
		cooldown:   cooldown,
		interval:   interval,
		lastFired:  make(map[suppressionKey]time.Time),
		now:        time.Now,
	}
}

// SetClock overrides the time source, for tests.
func (s *Service) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

func (s *Service) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.CheckAndAlert()
		}
	}
}

// CheckAndAlert evaluates every threshold against the current summary.
// Each (type, severity) pair is independent: a warning and a critical for
// the same type may both fire in one check. Returns how many alerts fired.
func (s *Service) CheckAndAlert() int {
	summary := s.collector.Summary()
	fired := 0
	for _, th := range s.thresholds {
		value, ok := s.liveValue(th.Type, summary)
		if !ok || value < th.Value {
			continue
		}
		if !s.shouldFire(th) {
			continue
		}
		msg := Message{
			Type:             th.Type,
			Severity:         th.Severity,
			Value:            value,
			Threshold:        th.Value,
			PercentThreshold: value / th.Value * 100,
			Summary:          summary,
			FiredAt:          s.currentTime(),
		}
		if !s.notifier.Send(msg) && s.logger != nil {
			s.logger.Warn("alert notification failed",
				"type", string(th.Type),
				"severity", string(th.Severity),
				"value", value,
				"threshold", th.Value,
			)
		}
		fired++
	}
	return fired
}

func (s *Service) liveValue(t MetricType, summary metrics.Summary) (float64, bool) {
	switch t {
	case TypeRPM:
		return float64(summary.RequestsLastMinute), true
	case TypeTPM:
		return float64(summary.TokensLastMinute), true
	case TypeCost:
		return summary.TotalCostUSD, true
	case TypeErrorRate:
		return summary.ErrorRate, true
	case TypeQueueLength:
		if s.queueDepth == nil {
			return 0, false
		}
		return float64(s.queueDepth()), true
	}
	return 0, false
}

// shouldFire checks and updates the suppression window atomically.
func (s *Service) shouldFire(th Threshold) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := suppressionKey{t: th.Type, s: th.Severity}
	now := s.now()
	if last, ok := s.lastFired[key]; ok && now.Sub(last) < s.cooldown {
		return false
	}
	s.lastFired[key] = now
	return true
}

func (s *Service) currentTime() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.now()
}

// ThresholdsFromLimits builds the standard warning/critical pairs.
func ThresholdsFromLimits(rpmWarn, rpmCrit, tpmWarn, tpmCrit, costWarn, costCrit, errWarn, errCrit, queueWarn, queueCrit float64) []Threshold {
	return []Threshold{
		{Type: TypeRPM, Value: rpmWarn, Severity: SeverityWarning},
		{Type: TypeRPM, Value: rpmCrit, Severity: SeverityCritical},
		{Type: TypeTPM, Value: tpmWarn, Severity: SeverityWarning},
		{Type: TypeTPM, Value: tpmCrit, Severity: SeverityCritical},
		{Type: TypeCost, Value: costWarn, Severity: SeverityWarning},
		{Type: TypeCost, Value: costCrit, Severity: SeverityCritical},
		{Type: TypeErrorRate, Value: errWarn, Severity: SeverityWarning},
		{Type: TypeErrorRate, Value: errCrit, Severity: SeverityCritical},
		{Type: TypeQueueLength, Value: queueWarn, Severity: SeverityWarning},
		{Type: TypeQueueLength, Value: queueCrit, Severity: SeverityCritical},
	}
}

func (t MetricType) Describe() string {
	switch t {
	case TypeRPM:
		return "requests per minute"
	case TypeTPM:
		return "tokens per minute"
	case TypeCost:
		return "daily cost (USD)"
	case TypeErrorRate:
		return "error rate (last day)"
	case TypeQueueLength:
		return "scheduler queue depth"
	}
	return fmt.Sprintf("unknown metric %q", string(t))
}
