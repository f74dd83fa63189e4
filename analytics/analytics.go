// Package analytics captures product events about facilitator traffic.
package analytics

import (
	"context"
	"io"
	"net/http"

	"github.com/vitwit/x402-facilitator/logger"
)

const (
	EventVerifyRequest  = "x402_facilitator.verify_request"
	EventVerifySuccess  = "x402_facilitator.verify_success"
	EventVerifyFailure  = "x402_facilitator.verify_failure"
	EventSettleRequest  = "x402_facilitator.settle_request"
	EventSettleSuccess  = "x402_facilitator.settle_success"
	EventSettleFailure  = "x402_facilitator.settle_failure"
	EventSupportedQuery = "x402_facilitator.supported_query"
	EventHealthCheck    = "x402_facilitator.health_check"
)

// Sink delivers one event.
type Sink interface {
	Capture(ctx context.Context, distinctID, event string, props map[string]any) error
}

type Noop struct{}

func (Noop) Capture(context.Context, string, string, map[string]any) error { return nil }

// Tracker hands events to a Sink without ever failing the caller.
// Delivery errors are logged and dropped.
type Tracker struct {
	sink   Sink
	logger logger.Logger
}

func NewTracker(sink Sink, log logger.Logger) *Tracker {
	if sink == nil {
		sink = Noop{}
	}
	if log == nil {
		log = logger.NoopLogger{}
	}
	return &Tracker{sink: sink, logger: log}
}

// Capture forwards one event. The event outlives ctx's cancellation but
// keeps its values.
func (t *Tracker) Capture(ctx context.Context, distinctID, event string, props map[string]any) {
	if t == nil {
		return
	}
	if err := t.sink.Capture(context.WithoutCancel(ctx), distinctID, event, props); err != nil {
		t.logger.Warn("analytics capture failed", map[string]any{
			"event": event,
			"error": err.Error(),
		})
	}
}

// Close flushes the sink when it buffers events.
func (t *Tracker) Close() error {
	if t == nil {
		return nil
	}
	if c, ok := t.sink.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// RequestContext is the per-request property set attached to every event.
type RequestContext struct {
	Origin        string
	Referer       string
	UserAgent     string
	ServiceDomain string
}

func RequestContextFrom(r *http.Request) RequestContext {
	return RequestContext{
		Origin:        r.Header.Get("Origin"),
		Referer:       r.Header.Get("Referer"),
		UserAgent:     r.Header.Get("User-Agent"),
		ServiceDomain: r.Host,
	}
}

// DistinctID identifies the caller by origin.
func (rc RequestContext) DistinctID() string {
	if rc.Origin == "" {
		return "unknown"
	}
	return rc.Origin
}

// Properties merges rc with extra. Missing headers are reported as null.
func (rc RequestContext) Properties(extra map[string]any) map[string]any {
	props := map[string]any{
		"origin":        nullable(rc.Origin),
		"referer":       nullable(rc.Referer),
		"userAgent":     nullable(rc.UserAgent),
		"serviceDomain": rc.ServiceDomain,
	}
	for k, v := range extra {
		props[k] = v
	}
	return props
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
