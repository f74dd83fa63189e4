package verification

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/vitwit/x402-facilitator/clients"
	"github.com/vitwit/x402-facilitator/types"
	"golang.org/x/sync/errgroup"
)

// CheckSenderBalance fails when sender holds less than required of token.
func CheckSenderBalance(ctx context.Context, reader clients.ChainReader, token, sender common.Address, required *big.Int) error {
	balance, err := reader.BalanceOf(ctx, token, sender)
	if err != nil {
		return types.NewVerificationError(types.ErrInsufficientBalance,
			"Failed to check balance: %v", err)
	}
	if balance.Cmp(required) < 0 {
		return types.NewVerificationError(types.ErrInsufficientBalance,
			"Sender balance %s is less than required %s", balance, required)
	}
	return nil
}

// SimulateTransaction dry-runs tx as its recovered sender.
func SimulateTransaction(ctx context.Context, reader clients.ChainReader, tx *types.ParsedTransaction) error {
	to := tx.To
	_, err := reader.Call(ctx, ethereum.CallMsg{
		From:  tx.From,
		To:    &to,
		Data:  tx.Data,
		Value: tx.Value,
	})
	if err != nil {
		return types.NewVerificationError(types.ErrSimulationFailed,
			"Transaction simulation failed: %v", err)
	}
	return nil
}

// CheckOnChain runs the balance read and the simulation concurrently. Both
// calls always run to completion; a balance failure is reported ahead of a
// simulation failure.
func CheckOnChain(ctx context.Context, reader clients.ChainReader, token common.Address, tx *types.ParsedTransaction, amount *big.Int) error {
	var balanceErr, simErr error

	var g errgroup.Group
	g.Go(func() error {
		balanceErr = CheckSenderBalance(ctx, reader, token, tx.From, amount)
		return nil
	})
	g.Go(func() error {
		simErr = SimulateTransaction(ctx, reader, tx)
		return nil
	})
	_ = g.Wait()

	if balanceErr != nil {
		return balanceErr
	}
	return simErr
}
