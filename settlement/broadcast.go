package settlement

import (
	"context"
	"errors"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/vitwit/x402-facilitator/clients"
	"github.com/vitwit/x402-facilitator/types"
)

// Broadcaster submits fee-sponsored transactions.
type Broadcaster struct {
	sender   clients.RawSender
	feePayer FeePayer
}

func NewBroadcaster(sender clients.RawSender, feePayer FeePayer) *Broadcaster {
	return &Broadcaster{sender: sender, feePayer: feePayer}
}

// Broadcast co-signs tx and submits it. Every failure is reported as
// BROADCAST_FAILED.
func (b *Broadcaster) Broadcast(ctx context.Context, tx *types.ParsedTransaction) (common.Hash, error) {
	raw, err := b.feePayer.Sponsor(ctx, tx)
	if err != nil {
		return common.Hash{}, types.NewVerificationError(types.ErrBroadcastFailed,
			"Failed to broadcast transaction: %v", err)
	}

	hash, err := b.sender.SendRawTransactionSync(ctx, raw)
	if err != nil {
		return common.Hash{}, broadcastError(err)
	}
	return hash, nil
}

func broadcastError(err error) *types.VerificationError {
	if errors.Is(err, clients.ErrNoTransactionHash) {
		return types.NewVerificationError(types.ErrBroadcastFailed, "No transaction hash returned from RPC")
	}

	var rpcErr rpc.Error
	if errors.As(err, &rpcErr) {
		msg := rpcErr.Error()
		if msg == "" {
			msg = "Transaction broadcast failed"
		}
		return types.NewVerificationError(types.ErrBroadcastFailed, "%s", msg)
	}

	return types.NewVerificationError(types.ErrBroadcastFailed,
		"Failed to broadcast transaction: %v", err)
}
