package analytics

import (
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vitwit/x402-facilitator/logger"
)

type batchRequest struct {
	APIKey string           `json:"api_key"`
	Batch  []map[string]any `json:"batch"`
}

func readBatch(t *testing.T, r *http.Request) batchRequest {
	t.Helper()
	var body io.Reader = r.Body
	if r.Header.Get("Content-Encoding") == "gzip" {
		gz, err := gzip.NewReader(r.Body)
		require.NoError(t, err)
		defer gz.Close()
		body = gz
	}
	var b batchRequest
	require.NoError(t, json.NewDecoder(body).Decode(&b))
	return b
}

func TestPostHog_Capture(t *testing.T) {
	var (
		mu      sync.Mutex
		batches []batchRequest
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b := readBatch(t, r)
		mu.Lock()
		batches = append(batches, b)
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	ph, err := NewPostHog("phc_test", PostHogOptions{Host: srv.URL, Environment: "testnet", Interval: time.Hour})
	require.NoError(t, err)
	ph.clockNow = func() time.Time { return time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC) }

	err = ph.Capture(context.Background(), "https://shop.example", EventSettleSuccess, map[string]any{
		"requestId":       "req-1",
		"transactionHash": "0xabc",
	})
	require.NoError(t, err)
	require.NoError(t, ph.Close())

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, batches, 1)
	assert.Equal(t, "phc_test", batches[0].APIKey)
	require.Len(t, batches[0].Batch, 1)

	msg := batches[0].Batch[0]
	assert.Equal(t, EventSettleSuccess, msg["event"])
	assert.Equal(t, "https://shop.example", msg["distinct_id"])
	assert.Contains(t, msg["timestamp"], "2025-01-02T03:04:05")
	props, ok := msg["properties"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "testnet", props["environment"])
	assert.Equal(t, "0xabc", props["transactionHash"])
	assert.Equal(t, "req-1", props["requestId"])
}

func TestDeliveryLog(t *testing.T) {
	log := &recordingLogger{}
	d := deliveryLog{log: log}

	d.Success(nil)
	assert.Empty(t, log.messages())

	d.Failure(nil, errors.New("401 Unauthorized"))
	assert.Equal(t, []string{"analytics delivery failed"}, log.messages())
}

type recordingLogger struct {
	logger.NoopLogger
	mu   sync.Mutex
	warn []string
}

func (l *recordingLogger) Warn(msg string, _ map[string]any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.warn = append(l.warn, msg)
}

func (l *recordingLogger) messages() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.warn...)
}

type recordingSink struct {
	mu     sync.Mutex
	events []string
	ctxErr []error
	err    error
}

func (s *recordingSink) Capture(ctx context.Context, _, event string, _ map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	s.ctxErr = append(s.ctxErr, ctx.Err())
	return s.err
}

func TestTracker_DeliversAfterRequestCancelled(t *testing.T) {
	sink := &recordingSink{err: errors.New("posthog down")}
	log := &recordingLogger{}
	tr := NewTracker(sink, log)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	tr.Capture(ctx, "unknown", EventVerifyRequest, nil)
	tr.Capture(ctx, "unknown", EventVerifyFailure, nil)

	assert.Equal(t, []string{EventVerifyRequest, EventVerifyFailure}, sink.events)
	for _, err := range sink.ctxErr {
		assert.NoError(t, err)
	}
	assert.Equal(t, []string{"analytics capture failed", "analytics capture failed"}, log.messages())
}

type closingSink struct {
	Noop
	closed bool
}

func (s *closingSink) Close() error {
	s.closed = true
	return nil
}

func TestTracker_Close(t *testing.T) {
	sink := &closingSink{}
	require.NoError(t, NewTracker(sink, nil).Close())
	assert.True(t, sink.closed)

	require.NoError(t, NewTracker(Noop{}, nil).Close())

	var nilTracker *Tracker
	nilTracker.Capture(context.Background(), "unknown", EventHealthCheck, nil)
	assert.NoError(t, nilTracker.Close())
}

func TestRequestContext(t *testing.T) {
	r := httptest.NewRequest(http.MethodPost, "http://facilitator.example/verify", nil)
	r.Header.Set("Origin", "https://shop.example")
	r.Header.Set("User-Agent", "x402-client/1.0")

	rc := RequestContextFrom(r)
	assert.Equal(t, "https://shop.example", rc.DistinctID())

	props := rc.Properties(map[string]any{"requestId": "req-9"})
	assert.Equal(t, "https://shop.example", props["origin"])
	assert.Nil(t, props["referer"])
	assert.Equal(t, "x402-client/1.0", props["userAgent"])
	assert.Equal(t, "facilitator.example", props["serviceDomain"])
	assert.Equal(t, "req-9", props["requestId"])

	assert.Equal(t, "unknown", RequestContext{}.DistinctID())
}
