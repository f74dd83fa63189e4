package verification

import (
	"github.com/ethereum/go-ethereum/common/hexutil"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/vitwit/x402-facilitator/types"
)

// ParseSignedTransaction decodes a hex-encoded signed transaction and
// recovers its sender from the signature.
func ParseSignedTransaction(signed string) (*types.ParsedTransaction, error) {
	raw, err := hexutil.Decode(signed)
	if err != nil {
		return nil, types.NewVerificationError(types.ErrInvalidTransaction,
			"Failed to parse transaction: %v", err)
	}

	tx := new(ethtypes.Transaction)
	if err := tx.UnmarshalBinary(raw); err != nil {
		return nil, types.NewVerificationError(types.ErrInvalidTransaction,
			"Failed to parse transaction: %v", err)
	}

	if tx.To() == nil {
		return nil, types.NewVerificationError(types.ErrInvalidTransaction,
			`Transaction missing "to" field`)
	}
	if len(tx.Data()) == 0 {
		return nil, types.NewVerificationError(types.ErrInvalidTransaction,
			`Transaction missing "data" field`)
	}
	if !tx.Protected() || tx.ChainId() == nil || tx.ChainId().Sign() == 0 {
		return nil, types.NewVerificationError(types.ErrInvalidTransaction,
			"Transaction missing chain ID")
	}

	from, err := ethtypes.Sender(ethtypes.LatestSignerForChainID(tx.ChainId()), tx)
	if err != nil {
		return nil, types.NewVerificationError(types.ErrInvalidTransaction,
			"Failed to recover transaction sender: %v", err)
	}

	return &types.ParsedTransaction{
		To:         *tx.To(),
		Value:      tx.Value(),
		Data:       tx.Data(),
		ChainID:    tx.ChainId(),
		From:       from,
		Hash:       tx.Hash(),
		Serialized: raw,
	}, nil
}
