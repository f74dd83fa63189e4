package settlement

import (
	"context"
	"time"

	"github.com/vitwit/x402-facilitator/logger"
	"github.com/vitwit/x402-facilitator/metrics"
	"github.com/vitwit/x402-facilitator/types"
	"github.com/vitwit/x402-facilitator/verification"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Settler verifies and broadcasts a payment.
type Settler interface {
	Settle(ctx context.Context, payload *types.PaymentPayload) (*types.SettleResult, error)
}

type Config struct {
	Timeout time.Duration
	Logger  logger.Logger
	Metrics metrics.Recorder
}

// SettlementService re-verifies a payload and broadcasts it with the fee
// payer's sponsorship. Duplicate requests for the same transaction are
// broadcast again.
type SettlementService struct {
	verifier    verification.Verifier
	broadcaster *Broadcaster
	network     types.Network
	timeout     time.Duration
	logger      logger.Logger
	metrics     metrics.Recorder
	tracer      trace.Tracer
}

var _ Settler = (*SettlementService)(nil)

// NewSettlementService creates a new settlement service
func NewSettlementService(verifier verification.Verifier, broadcaster *Broadcaster, network types.Network, cfg Config) *SettlementService {
	s := &SettlementService{
		verifier:    verifier,
		broadcaster: broadcaster,
		network:     network,
		timeout:     cfg.Timeout,
		logger:      cfg.Logger,
		metrics:     cfg.Metrics,
		tracer:      otel.Tracer("github.com/vitwit/x402-facilitator/settlement"),
	}
	if s.timeout <= 0 {
		s.timeout = 60 * time.Second
	}
	if s.logger == nil {
		s.logger = logger.NoopLogger{}
	}
	if s.metrics == nil {
		s.metrics = metrics.NoopRecorder{}
	}
	return s
}

// Settle verifies payload and broadcasts it. A non-nil error is always a
// *types.VerificationError; BROADCAST_FAILED means verification passed.
//
// The broadcast is not abandoned when ctx is cancelled: a submission that
// looks timed out to the caller may still land on chain.
func (s *SettlementService) Settle(ctx context.Context, payload *types.PaymentPayload) (*types.SettleResult, error) {
	start := time.Now()
	labels := map[string]string{"network": s.network.String()}

	settleCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.timeout)
	defer cancel()

	settleCtx, span := s.tracer.Start(settleCtx, "x402.settle",
		trace.WithAttributes(attribute.String("x402.network", s.network.String())))
	defer span.End()

	fail := func(err error) (*types.SettleResult, error) {
		ve := types.AsVerificationError(err, types.ErrBroadcastFailed)
		labels["code"] = string(ve.Code)
		s.metrics.IncCounter("settle_failure", labels)
		s.metrics.ObserveLatency("settle", time.Since(start), labels)
		span.RecordError(ve)
		span.SetStatus(codes.Error, string(ve.Code))
		return nil, ve
	}

	verified, err := s.verifier.Verify(settleCtx, payload)
	if err != nil {
		return fail(err)
	}

	hash, err := s.broadcaster.Broadcast(settleCtx, verified.Tx)
	if err != nil {
		s.logger.Error("broadcast failed", map[string]any{
			"network": s.network.String(),
			"payer":   verified.Payer.Hex(),
			"tx":      verified.Tx.Hash.Hex(),
			"error":   err.Error(),
		})
		return fail(err)
	}

	s.metrics.IncCounter("settle_success", labels)
	s.metrics.ObserveLatency("settle", time.Since(start), labels)
	span.SetAttributes(attribute.String("x402.tx_hash", hash.Hex()))
	s.logger.Info("payment settled", map[string]any{
		"network": s.network.String(),
		"payer":   verified.Payer.Hex(),
		"tx":      hash.Hex(),
	})

	return &types.SettleResult{
		Payer:       verified.Payer,
		Transaction: hash,
		Network:     s.network.String(),
	}, nil
}
