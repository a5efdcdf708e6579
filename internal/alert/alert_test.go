package alert

import (
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/evalgate/evalgate/internal/metrics"
)

type captureNotifier struct {
	mu       sync.Mutex
	messages []Message
	fail     bool
}

func (n *captureNotifier) Send(payload any) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	if msg, ok := payload.(Message); ok {
		n.messages = append(n.messages, msg)
	}
	return !n.fail
}

func (n *captureNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.messages)
}

func discard() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

func collectorWith(base time.Time, requestsLastMinute int, errorEvery int) *metrics.Collector {
	c := metrics.NewCollector(1000, 10000, nil, discard())
	c.SetClock(func() time.Time { return base })
	for i := 0; i < requestsLastMinute; i++ {
		status := metrics.StatusSuccess
		if errorEvery > 0 && i%errorEvery == 0 {
			status = metrics.StatusError
		}
		c.Record(metrics.Metric{
			Timestamp:   base.Add(-10 * time.Second),
			TotalTokens: 100,
			Status:      status,
		})
	}
	return c
}

func TestBreachFiresWithStructuredMessage(t *testing.T) {
	t.Parallel()

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	collector := collectorWith(base, 10, 0)
	n := &captureNotifier{}
	svc := NewService(collector, nil, n, []Threshold{
		{Type: TypeRPM, Value: 5, Severity: SeverityWarning},
	}, 5*time.Minute, time.Minute, discard())
	svc.SetClock(func() time.Time { return base })

	if fired := svc.CheckAndAlert(); fired != 1 {
		t.Fatalf("fired = %d, want 1", fired)
	}
	msg := n.messages[0]
	if msg.Type != TypeRPM || msg.Severity != SeverityWarning {
		t.Fatalf("message = %+v", msg)
	}
	if msg.Value != 10 || msg.Threshold != 5 || msg.PercentThreshold != 200 {
		t.Fatalf("value/threshold/percent = %v/%v/%v", msg.Value, msg.Threshold, msg.PercentThreshold)
	}
	if msg.Summary.RequestsLastMinute != 10 {
		t.Fatalf("summary snapshot missing: %+v", msg.Summary)
	}
}

func TestCooldownSuppressesRepeatFiring(t *testing.T) {
	t.Parallel()

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	current := base
	collector := collectorWith(base, 10, 0)
	collector.SetClock(func() time.Time { return current })

	n := &captureNotifier{}
	svc := NewService(collector, nil, n, []Threshold{
		{Type: TypeRPM, Value: 5, Severity: SeverityWarning},
	}, 5*time.Minute, time.Minute, discard())
	svc.SetClock(func() time.Time { return current })

	svc.CheckAndAlert()
	current = current.Add(time.Minute)
	svc.CheckAndAlert()
	if n.count() != 1 {
		t.Fatalf("alerts = %d, want 1 (second check inside cooldown)", n.count())
	}

	// Past the cooldown the same breach may fire again. The breaching
	// records must still be inside the last-minute window, so re-record.
	current = base.Add(6 * time.Minute)
	refreshed := collectorWith(current, 10, 0)
	svc2 := NewService(refreshed, nil, n, []Threshold{
		{Type: TypeRPM, Value: 5, Severity: SeverityWarning},
	}, 5*time.Minute, time.Minute, discard())
	svc2.mu.Lock()
	svc2.lastFired[suppressionKey{t: TypeRPM, s: SeverityWarning}] = base
	svc2.mu.Unlock()
	svc2.SetClock(func() time.Time { return current })
	if fired := svc2.CheckAndAlert(); fired != 1 {
		t.Fatalf("expected re-fire after cooldown, fired = %d", fired)
	}
}

func TestWarningAndCriticalFireIndependently(t *testing.T) {
	t.Parallel()

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	collector := collectorWith(base, 20, 0)
	n := &captureNotifier{}
	svc := NewService(collector, nil, n, []Threshold{
		{Type: TypeRPM, Value: 5, Severity: SeverityWarning},
		{Type: TypeRPM, Value: 15, Severity: SeverityCritical},
	}, 5*time.Minute, time.Minute, discard())
	svc.SetClock(func() time.Time { return base })

	if fired := svc.CheckAndAlert(); fired != 2 {
		t.Fatalf("fired = %d, want both severities", fired)
	}
}

func TestQueueLengthUsesLiveSchedulerDepth(t *testing.T) {
	t.Parallel()

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	collector := collectorWith(base, 0, 0)
	n := &captureNotifier{}
	svc := NewService(collector, func() int { return 42 }, n, []Threshold{
		{Type: TypeQueueLength, Value: 40, Severity: SeverityCritical},
	}, 5*time.Minute, time.Minute, discard())
	svc.SetClock(func() time.Time { return base })

	if fired := svc.CheckAndAlert(); fired != 1 {
		t.Fatalf("fired = %d, want 1", fired)
	}
	if n.messages[0].Value != 42 {
		t.Fatalf("queue depth value = %v, want 42", n.messages[0].Value)
	}
}

func TestNotifierFailureDoesNotPanicOrRetry(t *testing.T) {
	t.Parallel()

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	collector := collectorWith(base, 10, 0)
	n := &captureNotifier{fail: true}
	svc := NewService(collector, nil, n, []Threshold{
		{Type: TypeRPM, Value: 5, Severity: SeverityWarning},
	}, 5*time.Minute, time.Minute, discard())
	svc.SetClock(func() time.Time { return base })

	if fired := svc.CheckAndAlert(); fired != 1 {
		t.Fatalf("breach should count as fired even when delivery fails, got %d", fired)
	}
	// Failed delivery still consumes the cooldown slot.
	if fired := svc.CheckAndAlert(); fired != 0 {
		t.Fatalf("cooldown should suppress, got %d", fired)
	}
}

func TestNoBreachNoAlert(t *testing.T) {
	t.Parallel()

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	collector := collectorWith(base, 3, 0)
	n := &captureNotifier{}
	svc := NewService(collector, nil, n, ThresholdsFromLimits(40, 48, 80000, 95000, 50, 100, 0.1, 0.25, 20, 50), 5*time.Minute, time.Minute, discard())
	svc.SetClock(func() time.Time { return base })

	if fired := svc.CheckAndAlert(); fired != 0 {
		t.Fatalf("fired = %d, want 0", fired)
	}
	if n.count() != 0 {
		t.Fatalf("messages = %d, want 0", n.count())
	}
}
