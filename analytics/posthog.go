package analytics

import (
	"context"
	"fmt"
	"time"

	"github.com/posthog/posthog-go"

	"github.com/vitwit/x402-facilitator/logger"
)

const DefaultPostHogHost = "https://us.i.posthog.com"

type PostHogOptions struct {
	Host        string
	Environment string

	// Interval and BatchSize tune the client's flush loop. Zero keeps the
	// library defaults.
	Interval  time.Duration
	BatchSize int

	Logger logger.Logger
}

// PostHog enqueues events on a posthog-go client, which batches them and
// delivers them off the request path.
type PostHog struct {
	client      posthog.Client
	environment string
	clockNow    func() time.Time
}

var _ Sink = (*PostHog)(nil)

func NewPostHog(apiKey string, opts PostHogOptions) (*PostHog, error) {
	if opts.Host == "" {
		opts.Host = DefaultPostHogHost
	}
	if opts.Logger == nil {
		opts.Logger = logger.NoopLogger{}
	}

	client, err := posthog.NewWithConfig(apiKey, posthog.Config{
		Endpoint:  opts.Host,
		Interval:  opts.Interval,
		BatchSize: opts.BatchSize,
		Callback:  deliveryLog{log: opts.Logger},
	})
	if err != nil {
		return nil, fmt.Errorf("posthog client: %w", err)
	}
	return &PostHog{
		client:      client,
		environment: opts.Environment,
		clockNow:    time.Now,
	}, nil
}

func (p *PostHog) Capture(_ context.Context, distinctID, event string, props map[string]any) error {
	properties := posthog.NewProperties().Set("environment", p.environment)
	for k, v := range props {
		properties.Set(k, v)
	}
	return p.client.Enqueue(posthog.Capture{
		DistinctId: distinctID,
		Event:      event,
		Timestamp:  p.clockNow().UTC(),
		Properties: properties,
	})
}

// Close flushes queued events and stops the client.
func (p *PostHog) Close() error {
	return p.client.Close()
}

// deliveryLog reports batches the client gave up on.
type deliveryLog struct {
	log logger.Logger
}

func (deliveryLog) Success(posthog.APIMessage) {}

func (d deliveryLog) Failure(_ posthog.APIMessage, err error) {
	d.log.Warn("analytics delivery failed", map[string]any{"error": err.Error()})
}
