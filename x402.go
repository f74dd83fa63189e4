// Package x402 wires the verification and settlement services of an x402
// "exact" scheme facilitator for a single EVM chain.
package x402

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/vitwit/x402-facilitator/clients"
	"github.com/vitwit/x402-facilitator/logger"
	"github.com/vitwit/x402-facilitator/metrics"
	"github.com/vitwit/x402-facilitator/settlement"
	"github.com/vitwit/x402-facilitator/types"
	"github.com/vitwit/x402-facilitator/verification"
)

// Version information
const (
	Version         = "2.0.0"
	ProtocolVersion = int(types.X402Version2)
)

// Facilitator verifies and settles exact payments on one chain, sponsoring
// network fees from its fee payer.
type Facilitator struct {
	client   clients.Client
	feePayer settlement.FeePayer
	network  types.Network

	verificationService *verification.VerificationService
	settlementService   *settlement.SettlementService

	logger        logger.Logger
	metrics       metrics.Recorder
	timeout       time.Duration
	settleTimeout time.Duration
	now           func() time.Time
}

// New creates a Facilitator for chainID backed by client.
func New(client clients.Client, feePayer settlement.FeePayer, chainID uint64, opts ...Option) *Facilitator {
	f := &Facilitator{
		client:        client,
		feePayer:      feePayer,
		network:       types.NetworkFor(chainID),
		logger:        logger.NoopLogger{},
		metrics:       metrics.NoopRecorder{},
		timeout:       30 * time.Second,
		settleTimeout: 60 * time.Second,
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(f)
	}

	f.verificationService = verification.NewVerificationService(client, feePayer.Address(), verification.Config{
		Timeout: f.timeout,
		Logger:  f.logger,
		Metrics: f.metrics,
		Now:     f.now,
	})
	f.settlementService = settlement.NewSettlementService(
		f.verificationService,
		settlement.NewBroadcaster(client, feePayer),
		f.network,
		settlement.Config{
			Timeout: f.settleTimeout,
			Logger:  f.logger,
			Metrics: f.metrics,
		},
	)
	return f
}

// Verify verifies a payment without broadcasting it.
func (f *Facilitator) Verify(ctx context.Context, payload *types.PaymentPayload) (*types.VerifyResult, error) {
	return f.verificationService.Verify(ctx, payload)
}

// Settle re-verifies a payment and broadcasts it with fee sponsorship.
func (f *Facilitator) Settle(ctx context.Context, payload *types.PaymentPayload) (*types.SettleResult, error) {
	return f.settlementService.Settle(ctx, payload)
}

// Supported lists the single scheme/network pair this facilitator settles
// and the address that signs sponsorships on it.
func (f *Facilitator) Supported() *types.SupportedResponse {
	network := f.network.String()
	return &types.SupportedResponse{
		Kinds: []types.SupportedItem{{
			X402Version: ProtocolVersion,
			Scheme:      string(types.SchemeExact),
			Network:     network,
		}},
		Extensions: []string{},
		Signers: map[string][]string{
			network: {f.feePayer.Address().Hex()},
		},
	}
}

func (f *Facilitator) FeePayer() common.Address { return f.feePayer.Address() }

func (f *Facilitator) Network() types.Network { return f.network }

// Close closes the chain client.
func (f *Facilitator) Close() {
	f.client.Close()
}
