package clients

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
)

// ChainReader is the read side of the chain used during verification.
type ChainReader interface {
	BalanceOf(ctx context.Context, token, owner common.Address) (*big.Int, error)
	Call(ctx context.Context, msg ethereum.CallMsg) ([]byte, error)
}

// RawSender submits a fully signed transaction and waits for its hash.
type RawSender interface {
	SendRawTransactionSync(ctx context.Context, raw []byte) (common.Hash, error)
}

// Client is everything the facilitator needs from a chain node.
type Client interface {
	ChainReader
	RawSender
	ChainID(ctx context.Context) (*big.Int, error)
	Close()
}
