package notify

import (
	"bytes"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"sync/atomic"
	"testing"
)

type stubTransport struct {
	statusCode int
	err        error
	requests   int64
	lastBody   atomic.Value
}

func (s *stubTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	atomic.AddInt64(&s.requests, 1)
	body, _ := io.ReadAll(req.Body)
	s.lastBody.Store(body)
	if s.err != nil {
		return nil, s.err
	}
	return &http.Response{
		StatusCode: s.statusCode,
		Body:       io.NopCloser(bytes.NewReader([]byte(`{}`))),
		Header:     make(http.Header),
	}, nil
}

func discard() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

func TestSendPostsJSON(t *testing.T) {
	t.Parallel()

	transport := &stubTransport{statusCode: http.StatusOK}
	w := NewWebhook("http://alerts.local/hook", discard())
	w.SetHTTPClient(&http.Client{Transport: transport})

	ok := w.Send(map[string]string{"type": "rpm", "severity": "warning"})
	if !ok {
		t.Fatalf("Send() = false, want true")
	}
	body, _ := transport.lastBody.Load().([]byte)
	if !bytes.Contains(body, []byte(`"severity":"warning"`)) {
		t.Fatalf("payload = %s", body)
	}
}

func TestSendFailuresReturnFalseNotError(t *testing.T) {
	t.Parallel()

	transport := &stubTransport{err: errors.New("connection refused")}
	w := NewWebhook("http://alerts.local/hook", discard())
	w.SetHTTPClient(&http.Client{Transport: transport})
	if w.Send(map[string]string{"k": "v"}) {
		t.Fatalf("transport failure must report false")
	}

	rejected := &stubTransport{statusCode: http.StatusBadGateway}
	w2 := NewWebhook("http://alerts.local/hook", discard())
	w2.SetHTTPClient(&http.Client{Transport: rejected})
	if w2.Send(map[string]string{"k": "v"}) {
		t.Fatalf("non-2xx must report false")
	}
}

func TestDisabledWebhookNeverSends(t *testing.T) {
	t.Parallel()

	transport := &stubTransport{statusCode: http.StatusOK}
	w := NewWebhook("", discard())
	w.SetHTTPClient(&http.Client{Transport: transport})

	if w.Enabled() {
		t.Fatalf("empty endpoint should be disabled")
	}
	if w.Send(map[string]string{"k": "v"}) {
		t.Fatalf("disabled webhook must report false")
	}
	if atomic.LoadInt64(&transport.requests) != 0 {
		t.Fatalf("disabled webhook must not hit the transport")
	}
}
