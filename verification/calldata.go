package verification

import (
	"bytes"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/vitwit/x402-facilitator/clients"
	"github.com/vitwit/x402-facilitator/types"
)

// DecodeTransferCalldata accepts only transfer(address,uint256) calldata.
func DecodeTransferCalldata(data []byte) (*types.TransferParams, error) {
	selector := data[:min(len(data), 4)]
	if !bytes.Equal(selector, clients.TransferSelector) {
		return nil, types.NewVerificationError(types.ErrInvalidFunctionCall,
			"Expected transfer function selector %s, got %s",
			hexutil.Encode(clients.TransferSelector), hexutil.Encode(selector))
	}

	args := data[4:]
	if len(args) < 64 {
		return nil, types.NewVerificationError(types.ErrInvalidFunctionCall,
			"Transfer calldata missing required arguments")
	}
	// The address word must be left-padded with zeros.
	if !isZero(args[:12]) {
		return nil, types.NewVerificationError(types.ErrInvalidFunctionCall,
			"Failed to decode transfer calldata: recipient is not a 20-byte address")
	}

	values, err := clients.TIP20ABI.Methods["transfer"].Inputs.Unpack(args)
	if err != nil {
		return nil, types.NewVerificationError(types.ErrInvalidFunctionCall,
			"Failed to decode transfer calldata: %v", err)
	}
	recipient, ok := values[0].(common.Address)
	if !ok {
		return nil, types.NewVerificationError(types.ErrInvalidFunctionCall,
			"Failed to decode transfer calldata: unexpected recipient type %T", values[0])
	}
	amount, ok := values[1].(*big.Int)
	if !ok {
		return nil, types.NewVerificationError(types.ErrInvalidFunctionCall,
			"Failed to decode transfer calldata: unexpected amount type %T", values[1])
	}

	return &types.TransferParams{Recipient: recipient, Amount: amount}, nil
}

// EncodeTransferCalldata is the inverse of DecodeTransferCalldata.
func EncodeTransferCalldata(recipient common.Address, amount *big.Int) ([]byte, error) {
	return clients.PackTransfer(recipient, amount)
}

func isZero(b []byte) bool {
	for _, c := range b {
		if c != 0 {
			return false
		}
	}
	return true
}
