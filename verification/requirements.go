package verification

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/vitwit/x402-facilitator/types"
	"github.com/vitwit/x402-facilitator/utils"
)

type requirementCheck func(tx *types.ParsedTransaction, transfer *types.TransferParams, req *types.PaymentRequirements, feePayer common.Address) error

// Order matters: the first failing check decides the reported code.
var requirementChecks = []requirementCheck{
	checkAssetFormat,
	checkAssetTarget,
	checkZeroValue,
	checkRecipient,
	checkAmount,
	checkChainID,
	checkFeePayer,
}

// ValidatePaymentRequirements checks a parsed transfer against what the
// merchant asked for and returns the first mismatch.
func ValidatePaymentRequirements(
	tx *types.ParsedTransaction,
	transfer *types.TransferParams,
	req *types.PaymentRequirements,
	feePayer common.Address,
) error {
	for _, check := range requirementChecks {
		if err := check(tx, transfer, req, feePayer); err != nil {
			return err
		}
	}
	return nil
}

func checkAssetFormat(_ *types.ParsedTransaction, _ *types.TransferParams, req *types.PaymentRequirements, _ common.Address) error {
	if !utils.HasTIP20Prefix(req.Asset) {
		return types.NewVerificationError(types.ErrInvalidAssetFormat,
			"Asset must start with TIP-20 prefix %s", utils.TIP20Prefix)
	}
	return nil
}

func checkAssetTarget(tx *types.ParsedTransaction, _ *types.TransferParams, req *types.PaymentRequirements, _ common.Address) error {
	if !utils.AddressEqual(tx.To.Hex(), req.Asset) {
		return types.NewVerificationError(types.ErrAssetMismatch,
			"Transaction target %s does not match asset %s", tx.To.Hex(), req.Asset)
	}
	return nil
}

func checkZeroValue(tx *types.ParsedTransaction, _ *types.TransferParams, _ *types.PaymentRequirements, _ common.Address) error {
	if tx.Value != nil && tx.Value.Sign() != 0 {
		return types.NewVerificationError(types.ErrNonzeroValue,
			"Transaction value must be 0 for TIP-20 transfers")
	}
	return nil
}

func checkRecipient(_ *types.ParsedTransaction, transfer *types.TransferParams, req *types.PaymentRequirements, _ common.Address) error {
	if !utils.AddressEqual(transfer.Recipient.Hex(), req.PayTo) {
		return types.NewVerificationError(types.ErrRecipientMismatch,
			"Transfer recipient %s does not match payTo %s", transfer.Recipient.Hex(), req.PayTo)
	}
	return nil
}

func checkAmount(_ *types.ParsedTransaction, transfer *types.TransferParams, req *types.PaymentRequirements, _ common.Address) error {
	expected, err := uint256.FromDecimal(req.Amount)
	if err != nil {
		return types.NewVerificationError(types.ErrAmountMismatch,
			"Required amount %s is not a valid uint256", req.Amount)
	}
	if transfer.Amount.Cmp(expected.ToBig()) != 0 {
		return types.NewVerificationError(types.ErrAmountMismatch,
			"Transfer amount %s does not match expected %s", transfer.Amount, expected.Dec())
	}
	return nil
}

func checkChainID(tx *types.ParsedTransaction, _ *types.TransferParams, req *types.PaymentRequirements, _ common.Address) error {
	expected, ok := types.ParseNetworkChainID(req.Network)
	if !ok {
		return types.NewVerificationError(types.ErrChainIDMismatch,
			"Invalid network format: %s", req.Network)
	}
	if !tx.ChainID.IsUint64() || tx.ChainID.Uint64() != expected {
		return types.NewVerificationError(types.ErrChainIDMismatch,
			"Transaction chain ID %s does not match network %s", tx.ChainID, req.Network)
	}
	return nil
}

func checkFeePayer(tx *types.ParsedTransaction, transfer *types.TransferParams, _ *types.PaymentRequirements, feePayer common.Address) error {
	if tx.From == feePayer {
		return types.NewVerificationError(types.ErrFeePayerConflict,
			"Fee payer cannot be the transaction sender")
	}
	if transfer.Recipient == feePayer {
		return types.NewVerificationError(types.ErrFeePayerConflict,
			"Fee payer cannot be the transfer recipient")
	}
	return nil
}
