package x402

import (
	"time"

	"github.com/vitwit/x402-facilitator/logger"
	"github.com/vitwit/x402-facilitator/metrics"
)

type Option func(*Facilitator)

func WithLogger(l logger.Logger) Option {
	return func(f *Facilitator) {
		if l != nil {
			f.logger = l
		}
	}
}

func WithMetrics(r metrics.Recorder) Option {
	return func(f *Facilitator) {
		if r != nil {
			f.metrics = r
		}
	}
}

// WithTimeout bounds a single verification, including its RPC reads.
func WithTimeout(t time.Duration) Option {
	return func(f *Facilitator) {
		if t > 0 {
			f.timeout = t
		}
	}
}

// WithSettleTimeout bounds verification plus broadcast.
func WithSettleTimeout(t time.Duration) Option {
	return func(f *Facilitator) {
		if t > 0 {
			f.settleTimeout = t
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(f *Facilitator) {
		if now != nil {
			f.now = now
		}
	}
}
