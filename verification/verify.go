package verification

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/vitwit/x402-facilitator/clients"
	"github.com/vitwit/x402-facilitator/logger"
	"github.com/vitwit/x402-facilitator/metrics"
	"github.com/vitwit/x402-facilitator/types"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/vitwit/x402-facilitator/verification"

// Verifier checks a payment payload without changing chain state.
type Verifier interface {
	Verify(ctx context.Context, payload *types.PaymentPayload) (*types.VerifyResult, error)
}

// Config tunes a VerificationService. Zero values fall back to defaults.
type Config struct {
	Timeout time.Duration
	Logger  logger.Logger
	Metrics metrics.Recorder
	Now     func() time.Time
}

// VerificationService runs the full verification pipeline against one chain.
type VerificationService struct {
	reader   clients.ChainReader
	feePayer common.Address
	timeout  time.Duration
	now      func() time.Time
	logger   logger.Logger
	metrics  metrics.Recorder
	tracer   trace.Tracer
}

var _ Verifier = (*VerificationService)(nil)

// NewVerificationService creates a new verification service
func NewVerificationService(reader clients.ChainReader, feePayer common.Address, cfg Config) *VerificationService {
	s := &VerificationService{
		reader:   reader,
		feePayer: feePayer,
		timeout:  cfg.Timeout,
		now:      cfg.Now,
		logger:   cfg.Logger,
		metrics:  cfg.Metrics,
		tracer:   otel.Tracer(tracerName),
	}
	if s.timeout <= 0 {
		s.timeout = 30 * time.Second
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.logger == nil {
		s.logger = logger.NoopLogger{}
	}
	if s.metrics == nil {
		s.metrics = metrics.NoopRecorder{}
	}
	return s
}

// FeePayer is the sponsor address the pipeline checks against.
func (s *VerificationService) FeePayer() common.Address { return s.feePayer }

// Verify runs timeout, parse, decode, requirement, balance and simulation
// checks in that order. A non-nil error is always a *types.VerificationError.
//
// Cancellation of ctx does not abort in-flight RPC calls; they are bounded
// by the service timeout instead.
func (s *VerificationService) Verify(ctx context.Context, payload *types.PaymentPayload) (*types.VerifyResult, error) {
	start := time.Now()
	network := payload.Accepted.Network

	verifyCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.timeout)
	defer cancel()

	verifyCtx, span := s.tracer.Start(verifyCtx, "x402.verify",
		trace.WithAttributes(
			attribute.String("x402.network", network),
			attribute.String("x402.asset", payload.Accepted.Asset),
		))
	defer span.End()

	result, err := s.verify(verifyCtx, payload)

	labels := map[string]string{"network": network}
	s.metrics.ObserveLatency("verify", time.Since(start), labels)

	if err != nil {
		ve := types.AsVerificationError(err, types.ErrInvalidTransaction)
		labels["code"] = string(ve.Code)
		s.metrics.IncCounter("verify_failure", labels)

		span.RecordError(ve)
		span.SetStatus(codes.Error, string(ve.Code))
		s.logger.Info("payment verification failed", map[string]any{
			"network": network,
			"code":    ve.Code,
			"message": ve.Message,
		})
		return nil, ve
	}

	s.metrics.IncCounter("verify_success", labels)
	span.SetAttributes(attribute.String("x402.payer", result.Payer.Hex()))
	s.logger.Debug("payment verified", map[string]any{
		"network": network,
		"payer":   result.Payer.Hex(),
		"tx":      result.Tx.Hash.Hex(),
	})
	return result, nil
}

func (s *VerificationService) verify(ctx context.Context, payload *types.PaymentPayload) (*types.VerifyResult, error) {
	req := &payload.Accepted

	if err := ValidateTimeout(payload.CreatedAt, req.MaxTimeoutSeconds, s.now()); err != nil {
		return nil, err
	}

	tx, err := ParseSignedTransaction(payload.Payload.SignedTransaction)
	if err != nil {
		return nil, err
	}

	transfer, err := DecodeTransferCalldata(tx.Data)
	if err != nil {
		return nil, err
	}

	if err := ValidatePaymentRequirements(tx, transfer, req, s.feePayer); err != nil {
		return nil, err
	}

	token := common.HexToAddress(req.Asset)
	if err := CheckOnChain(ctx, s.reader, token, tx, transfer.Amount); err != nil {
		return nil, err
	}

	return &types.VerifyResult{
		Tx:       tx,
		Transfer: transfer,
		Payer:    tx.From,
	}, nil
}
