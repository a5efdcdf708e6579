package metrics

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

type CallStatus string

const (
	StatusSuccess CallStatus = "success"
	StatusError   CallStatus = "error"
)

// Metric is one external-call attempt. Immutable once recorded.
type Metric struct {
	Timestamp    time.Time     `json:"timestamp"`
	Endpoint     string        `json:"endpoint"`
	RequestID    string        `json:"request_id"`
	InputTokens  int           `json:"input_tokens"`
	OutputTokens int           `json:"output_tokens"`
	TotalTokens  int           `json:"total_tokens"`
	CachedTokens int           `json:"cached_tokens"`
	CostUSD      float64       `json:"cost_usd"`
	Duration     time.Duration `json:"duration_ns"`
	Status       CallStatus    `json:"status"`
	ErrorCode    string        `json:"error_code,omitempty"`
}

type Summary struct {
	RequestsLastMinute int     `json:"requests_last_minute"`
	RequestsLastHour   int     `json:"requests_last_hour"`
	TokensLastMinute   int     `json:"tokens_last_minute"`
	TokensLastHour     int     `json:"tokens_last_hour"`
	TotalCalls         int     `json:"total_calls"`
	SuccessCalls       int     `json:"success_calls"`
	FailedCalls        int     `json:"failed_calls"`
	ErrorRate          float64 `json:"error_rate"`
	InputTokens        int     `json:"input_tokens"`
	OutputTokens       int     `json:"output_tokens"`
	CachedTokens       int     `json:"cached_tokens"`
	TotalTokens        int     `json:"total_tokens"`
	TotalCostUSD       float64 `json:"total_cost_usd"`
	AvgDurationMS      float64 `json:"avg_duration_ms"`
}

// Flusher receives full chunks of recorded metrics for durable storage.
// Flush failures are logged and dropped; the ring stays authoritative.
type Flusher interface {
	FlushMetrics(ctx context.Context, records []Metric) error
}

// Collector holds call outcomes in a bounded ring, oldest evicted first.
// Summaries are computed strictly from timestamps present in the ring.
type Collector struct {
	logger     *slog.Logger
	capacity   int
	flushEvery int
	flusher    Flusher

	mu           sync.Mutex
	buf          []Metric
	start        int
	count        int
	sinceFlush   int
	pendingFlush []Metric
	now          func() time.Time
}

func NewCollector(capacity, flushEvery int, flusher Flusher, logger *slog.Logger) *Collector {
	if capacity <= 0 {
		capacity = 10000
	}
	if flushEvery <= 0 {
		flushEvery = 100
	}
	return &Collector{
		logger:     logger,
		capacity:   capacity,
		flushEvery: flushEvery,
		flusher:    flusher,
		buf:        make([]Metric, capacity),
		now:        time.Now,
	}
}

// SetClock overrides the time source, for tests.
func (c *Collector) SetClock(now func() time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = now
}

func (c *Collector) Record(m Metric) {
	c.mu.Lock()
	if m.Timestamp.IsZero() {
		m.Timestamp = c.now()
	}
	idx := (c.start + c.count) % c.capacity
	c.buf[idx] = m
	if c.count < c.capacity {
		c.count++
	} else {
		c.start = (c.start + 1) % c.capacity
	}

	var chunk []Metric
	if c.flusher != nil {
		c.pendingFlush = append(c.pendingFlush, m)
		c.sinceFlush++
		if c.sinceFlush >= c.flushEvery {
			chunk = c.pendingFlush
			c.pendingFlush = nil
			c.sinceFlush = 0
		}
	}
	c.mu.Unlock()

	if chunk != nil {
		c.flush(chunk)
	}
}

func (c *Collector) flush(chunk []Metric) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := c.flusher.FlushMetrics(ctx, chunk); err != nil && c.logger != nil {
		c.logger.Warn("metrics flush failed", "records", len(chunk), "error", err)
	}
}

// snapshot returns the ring in chronological order. Caller holds mu.
func (c *Collector) snapshot() []Metric {
	out := make([]Metric, 0, c.count)
	for i := 0; i < c.count; i++ {
		out = append(out, c.buf[(c.start+i)%c.capacity])
	}
	return out
}

var rangeDurations = map[string]time.Duration{
	"hour": time.Hour,
	"day":  24 * time.Hour,
	"week": 7 * 24 * time.Hour,
}

// ByRange returns metrics within now minus the named window. Unknown
// labels fall back to "day".
func (c *Collector) ByRange(label string) []Metric {
	c.mu.Lock()
	defer c.mu.Unlock()

	dur, ok := rangeDurations[label]
	if !ok {
		dur = rangeDurations["day"]
	}
	cutoff := c.now().Add(-dur)
	out := make([]Metric, 0)
	for _, m := range c.snapshot() {
		if m.Timestamp.After(cutoff) {
			out = append(out, m)
		}
	}
	return out
}

func (c *Collector) Summary() Summary {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	minuteCutoff := now.Add(-time.Minute)
	hourCutoff := now.Add(-time.Hour)
	dayCutoff := now.Add(-24 * time.Hour)

	var s Summary
	var successDuration time.Duration
	for _, m := range c.snapshot() {
		if !m.Timestamp.After(dayCutoff) {
			continue
		}
		s.TotalCalls++
		if m.Status == StatusSuccess {
			s.SuccessCalls++
			successDuration += m.Duration
		} else {
			s.FailedCalls++
		}
		s.InputTokens += m.InputTokens
		s.OutputTokens += m.OutputTokens
		s.CachedTokens += m.CachedTokens
		s.TotalTokens += m.TotalTokens
		s.TotalCostUSD += m.CostUSD

		if m.Timestamp.After(hourCutoff) {
			s.RequestsLastHour++
			s.TokensLastHour += m.TotalTokens
			if m.Timestamp.After(minuteCutoff) {
				s.RequestsLastMinute++
				s.TokensLastMinute += m.TotalTokens
			}
		}
	}
	if s.TotalCalls > 0 {
		s.ErrorRate = float64(s.FailedCalls) / float64(s.TotalCalls)
	}
	if s.SuccessCalls > 0 {
		s.AvgDurationMS = float64(successDuration.Milliseconds()) / float64(s.SuccessCalls)
	}
	return s
}

// Len reports how many metrics the ring currently holds.
func (c *Collector) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.count
}
