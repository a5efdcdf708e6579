package metrics

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func discard() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

func TestSummaryWindowsAndErrorRate(t *testing.T) {
	t.Parallel()

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	c := NewCollector(100, 1000, nil, discard())
	c.SetClock(func() time.Time { return base })

	record := func(age time.Duration, status CallStatus, tokens int, dur time.Duration) {
		c.Record(Metric{
			Timestamp:   base.Add(-age),
			Endpoint:    "evaluate",
			TotalTokens: tokens,
			Status:      status,
			Duration:    dur,
			CostUSD:     0.5,
		})
	}

	record(10*time.Second, StatusSuccess, 100, 200*time.Millisecond)
	record(30*time.Second, StatusError, 50, 900*time.Millisecond)
	record(10*time.Minute, StatusSuccess, 200, 400*time.Millisecond)
	record(3*time.Hour, StatusSuccess, 1000, 600*time.Millisecond)
	record(48*time.Hour, StatusError, 9999, time.Second) // outside last day

	got := c.Summary()
	want := Summary{
		RequestsLastMinute: 2,
		RequestsLastHour:   3,
		TokensLastMinute:   150,
		TokensLastHour:     350,
		TotalCalls:         4,
		SuccessCalls:       3,
		FailedCalls:        1,
		ErrorRate:          0.25,
		TotalTokens:        1350,
		TotalCostUSD:       2.0,
		AvgDurationMS:      400,
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("summary mismatch (-want +got):\n%s", diff)
	}
}

func TestSummaryEmptyRingYieldsZeroes(t *testing.T) {
	t.Parallel()

	c := NewCollector(10, 100, nil, discard())
	got := c.Summary()
	if got.ErrorRate != 0 || got.AvgDurationMS != 0 || got.TotalCalls != 0 {
		t.Fatalf("empty summary = %+v, want zeroes", got)
	}
}

func TestAvgDurationCountsSuccessesOnly(t *testing.T) {
	t.Parallel()

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	c := NewCollector(10, 100, nil, discard())
	c.SetClock(func() time.Time { return base })

	c.Record(Metric{Timestamp: base, Status: StatusError, Duration: 10 * time.Second})
	c.Record(Metric{Timestamp: base, Status: StatusError, Duration: 10 * time.Second})
	if got := c.Summary().AvgDurationMS; got != 0 {
		t.Fatalf("avg duration with no successes = %v, want 0", got)
	}

	c.Record(Metric{Timestamp: base, Status: StatusSuccess, Duration: 300 * time.Millisecond})
	if got := c.Summary().AvgDurationMS; got != 300 {
		t.Fatalf("avg duration = %v, want 300", got)
	}
}

func TestRingEvictsOldestAtCapacity(t *testing.T) {
	t.Parallel()

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	c := NewCollector(3, 1000, nil, discard())
	c.SetClock(func() time.Time { return base })

	for i := 0; i < 5; i++ {
		c.Record(Metric{
			Timestamp: base.Add(time.Duration(i) * time.Second),
			RequestID: string(rune('a' + i)),
			Status:    StatusSuccess,
		})
	}
	if c.Len() != 3 {
		t.Fatalf("ring length = %d, want 3", c.Len())
	}
	got := c.ByRange("day")
	if len(got) != 3 || got[0].RequestID != "c" || got[2].RequestID != "e" {
		t.Fatalf("ring contents = %+v, want c..e", got)
	}
}

func TestByRangeFiltersRelativeWindow(t *testing.T) {
	t.Parallel()

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	c := NewCollector(100, 1000, nil, discard())
	c.SetClock(func() time.Time { return base })

	c.Record(Metric{Timestamp: base.Add(-30 * time.Minute), RequestID: "recent", Status: StatusSuccess})
	c.Record(Metric{Timestamp: base.Add(-5 * time.Hour), RequestID: "today", Status: StatusSuccess})
	c.Record(Metric{Timestamp: base.Add(-3 * 24 * time.Hour), RequestID: "thisweek", Status: StatusSuccess})

	if got := len(c.ByRange("hour")); got != 1 {
		t.Fatalf("hour range = %d records, want 1", got)
	}
	if got := len(c.ByRange("day")); got != 2 {
		t.Fatalf("day range = %d records, want 2", got)
	}
	if got := len(c.ByRange("week")); got != 3 {
		t.Fatalf("week range = %d records, want 3", got)
	}
	if got := len(c.ByRange("bogus")); got != 2 {
		t.Fatalf("unknown range should behave as day, got %d", got)
	}
}

type captureFlusher struct {
	chunks [][]Metric
	err    error
}

func (f *captureFlusher) FlushMetrics(_ context.Context, records []Metric) error {
	cp := append([]Metric(nil), records...)
	f.chunks = append(f.chunks, cp)
	return f.err
}

func TestFlushFiresEveryNRecords(t *testing.T) {
	t.Parallel()

	f := &captureFlusher{}
	c := NewCollector(1000, 10, f, discard())
	for i := 0; i < 25; i++ {
		c.Record(Metric{Status: StatusSuccess, RequestID: "r"})
	}
	if len(f.chunks) != 2 {
		t.Fatalf("flush chunks = %d, want 2", len(f.chunks))
	}
	if len(f.chunks[0]) != 10 || len(f.chunks[1]) != 10 {
		t.Fatalf("chunk sizes = %d,%d, want 10,10", len(f.chunks[0]), len(f.chunks[1]))
	}
}

func TestFlushFailureIsSwallowed(t *testing.T) {
	t.Parallel()

	f := &captureFlusher{err: errors.New("disk full")}
	c := NewCollector(1000, 5, f, discard())
	for i := 0; i < 20; i++ {
		c.Record(Metric{Status: StatusError})
	}
	if c.Len() != 20 {
		t.Fatalf("ring must keep records despite flush failures, len = %d", c.Len())
	}
}

func TestWriteCSVFixedColumnOrder(t *testing.T) {
	t.Parallel()

	var sb strings.Builder
	err := WriteCSV(&sb, []Metric{{
		Timestamp:    time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		Endpoint:     "evaluate",
		RequestID:    "req-1",
		InputTokens:  100,
		OutputTokens: 50,
		TotalTokens:  150,
		CachedTokens: 25,
		CostUSD:      0.0123,
		Duration:     1500 * time.Millisecond,
		Status:       StatusSuccess,
	}})
	if err != nil {
		t.Fatalf("WriteCSV error = %v", err)
	}

	lines := strings.Split(strings.TrimSpace(sb.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("lines = %d, want header + 1 record", len(lines))
	}
	wantHeader := "timestamp,endpoint,request_id,input_tokens,output_tokens,total_tokens,cached_tokens,cost,duration,status,error_code"
	if lines[0] != wantHeader {
		t.Fatalf("header = %q", lines[0])
	}
	wantRow := "2026-03-01T12:00:00Z,evaluate,req-1,100,50,150,25,0.0123,1500,success,"
	if lines[1] != wantRow {
		t.Fatalf("row = %q, want %q", lines[1], wantRow)
	}
}

func TestCostUSDBillsCachedTokensSeparately(t *testing.T) {
	t.Parallel()

	got := CostUSD("claude-sonnet-4", 1000, 1000, 0)
	if want := 0.003 + 0.015; got != want {
		t.Fatalf("cost = %v, want %v", got, want)
	}

	cached := CostUSD("claude-sonnet-4", 1000, 0, 1000)
	if want := 0.0003; cached != want {
		t.Fatalf("fully cached cost = %v, want %v", cached, want)
	}

	if CostUSD("never-heard-of-it", 1000, 0, 0) != 0.003 {
		t.Fatalf("unknown model should bill at the default rate")
	}
}
