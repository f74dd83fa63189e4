package verification

import (
	"context"
	"crypto/ecdsa"
	"math/big"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"
	"github.com/vitwit/x402-facilitator/types"
)

const testChainID = 42429

var (
	senderKey   = mustKey("59c6995e998f97a5a0044966f0945389dc9e86dae88c7a8412f4603b6b78690d")
	senderAddr  = crypto.PubkeyToAddress(senderKey.PublicKey)
	feePayerKey = mustKey("ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80")
	feePayer    = crypto.PubkeyToAddress(feePayerKey.PublicKey)

	assetAddr = common.HexToAddress("0x20c0000000000000000000000000000000000001")
	payToAddr = common.HexToAddress("0x1111111111111111111111111111111111111111")
)

func mustKey(hex string) *ecdsa.PrivateKey {
	k, err := crypto.HexToECDSA(hex)
	if err != nil {
		panic(err)
	}
	return k
}

type txFields struct {
	to      *common.Address
	value   *big.Int
	data    []byte
	chainID int64
}

func defaultTx(t *testing.T) txFields {
	return txFields{
		to:      &assetAddr,
		value:   big.NewInt(0),
		data:    transferData(t, payToAddr, big.NewInt(1_000_000)),
		chainID: testChainID,
	}
}

func transferData(t *testing.T, to common.Address, amount *big.Int) []byte {
	t.Helper()
	data, err := EncodeTransferCalldata(to, amount)
	require.NoError(t, err)
	return data
}

func signTx(t *testing.T, key *ecdsa.PrivateKey, fields txFields) string {
	t.Helper()

	chainID := big.NewInt(fields.chainID)
	tx := ethtypes.NewTx(&ethtypes.DynamicFeeTx{
		ChainID:   chainID,
		Nonce:     7,
		GasTipCap: big.NewInt(1),
		GasFeeCap: big.NewInt(2_000_000_000),
		Gas:       100_000,
		To:        fields.to,
		Value:     fields.value,
		Data:      fields.data,
	})
	signed, err := ethtypes.SignTx(tx, ethtypes.LatestSignerForChainID(chainID), key)
	require.NoError(t, err)

	raw, err := signed.MarshalBinary()
	require.NoError(t, err)
	return hexutil.Encode(raw)
}

func newPayload(signed string) *types.PaymentPayload {
	return &types.PaymentPayload{
		X402Version: 2,
		Resource: types.ResourceInfo{
			URL:         "https://api.example.com/weather",
			Description: "Weather data",
			MimeType:    "application/json",
		},
		Accepted: types.PaymentRequirements{
			Scheme:            "exact",
			Network:           "eip155:42429",
			Amount:            "1000000",
			Asset:             assetAddr.Hex(),
			PayTo:             payToAddr.Hex(),
			MaxTimeoutSeconds: 60,
		},
		Payload: types.TransactionPayload{SignedTransaction: signed},
	}
}

type fakeChain struct {
	mu sync.Mutex

	balance    *big.Int
	balanceErr error
	callErr    error

	balanceReads int
	calls        []ethereum.CallMsg
	ctxErrs      []error
}

func (f *fakeChain) BalanceOf(ctx context.Context, _, _ common.Address) (*big.Int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.balanceReads++
	f.ctxErrs = append(f.ctxErrs, ctx.Err())
	if f.balanceErr != nil {
		return nil, f.balanceErr
	}
	return f.balance, nil
}

func (f *fakeChain) Call(ctx context.Context, msg ethereum.CallMsg) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, msg)
	f.ctxErrs = append(f.ctxErrs, ctx.Err())
	if f.callErr != nil {
		return nil, f.callErr
	}
	return []byte{0x01}, nil
}

func requireCode(t *testing.T, err error, code types.ErrorCode) *types.VerificationError {
	t.Helper()
	require.Error(t, err)
	var ve *types.VerificationError
	require.ErrorAs(t, err, &ve)
	require.Equal(t, code, ve.Code, ve.Message)
	return ve
}
