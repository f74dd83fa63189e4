package settlement

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vitwit/x402-facilitator/clients"
	"github.com/vitwit/x402-facilitator/types"
	"github.com/vitwit/x402-facilitator/verification"
)

const (
	sponsorKeyHex = "0xac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"
	senderKeyHex  = "59c6995e998f97a5a0044966f0945389dc9e86dae88c7a8412f4603b6b78690d"
)

var (
	assetAddr = common.HexToAddress("0x20c0000000000000000000000000000000000001")
	payToAddr = common.HexToAddress("0x1111111111111111111111111111111111111111")
	feeToken  = common.HexToAddress("0x20c0000000000000000000000000000000000002")
)

func signedTransfer(t *testing.T) *types.ParsedTransaction {
	t.Helper()

	key, err := crypto.HexToECDSA(senderKeyHex)
	require.NoError(t, err)

	data, err := verification.EncodeTransferCalldata(payToAddr, big.NewInt(1_000_000))
	require.NoError(t, err)

	chainID := big.NewInt(42429)
	tx, err := ethtypes.SignTx(ethtypes.NewTx(&ethtypes.DynamicFeeTx{
		ChainID:   chainID,
		GasTipCap: big.NewInt(1),
		GasFeeCap: big.NewInt(1_000_000_000),
		Gas:       80_000,
		To:        &assetAddr,
		Value:     big.NewInt(0),
		Data:      data,
	}), ethtypes.LatestSignerForChainID(chainID), key)
	require.NoError(t, err)

	raw, err := tx.MarshalBinary()
	require.NoError(t, err)

	parsed, err := verification.ParseSignedTransaction(hexutil.Encode(raw))
	require.NoError(t, err)
	return parsed
}

func newFeePayer(t *testing.T) *KeyFeePayer {
	t.Helper()
	fp, err := NewKeyFeePayer(sponsorKeyHex, feeToken)
	require.NoError(t, err)
	return fp
}

type stubVerifier struct {
	result *types.VerifyResult
	err    error
	calls  int
}

func (s *stubVerifier) Verify(context.Context, *types.PaymentPayload) (*types.VerifyResult, error) {
	s.calls++
	return s.result, s.err
}

type fakeSender struct {
	mu   sync.Mutex
	hash common.Hash
	err  error
	sent [][]byte
}

func (f *fakeSender) SendRawTransactionSync(_ context.Context, raw []byte) (common.Hash, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, raw)
	return f.hash, f.err
}

type rpcFailure struct{ msg string }

func (e rpcFailure) Error() string  { return e.msg }
func (e rpcFailure) ErrorCode() int { return -32000 }

func TestKeyFeePayer_SponsorEnvelope(t *testing.T) {
	fp := newFeePayer(t)
	assert.Equal(t, "0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266", fp.Address().Hex())
	assert.Equal(t, feeToken, fp.FeeToken())

	tx := signedTransfer(t)
	raw, err := fp.Sponsor(context.Background(), tx)
	require.NoError(t, err)
	require.Equal(t, SponsoredTxType, raw[0])

	var env sponsoredEnvelope
	require.NoError(t, rlp.DecodeBytes(raw[1:], &env))
	assert.Equal(t, tx.Serialized, env.Transaction)
	assert.Equal(t, fp.Address(), env.FeePayer)
	assert.Equal(t, fp.FeeToken(), env.FeeToken)

	digest, err := SponsorshipHash(tx, fp.Address(), feeToken)
	require.NoError(t, err)

	sig := make([]byte, 65)
	env.R.FillBytes(sig[:32])
	env.S.FillBytes(sig[32:64])
	sig[64] = byte(env.V)

	pub, err := crypto.SigToPub(digest.Bytes(), sig)
	require.NoError(t, err)
	assert.Equal(t, fp.Address(), crypto.PubkeyToAddress(*pub))
}

func TestKeyFeePayer_ConcurrentSponsorship(t *testing.T) {
	fp := newFeePayer(t)
	tx := signedTransfer(t)

	want, err := fp.Sponsor(context.Background(), tx)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got, err := fp.Sponsor(context.Background(), tx)
			assert.NoError(t, err)
			assert.Equal(t, want, got)
		}()
	}
	wg.Wait()
}

func TestNewKeyFeePayer_InvalidKey(t *testing.T) {
	_, err := NewKeyFeePayer("0x1234", common.Address{})
	require.Error(t, err)
}

func TestBroadcaster_ErrorMapping(t *testing.T) {
	tx := signedTransfer(t)

	cases := []struct {
		name string
		err  error
		msg  string
	}{
		{"no hash", clients.ErrNoTransactionHash, "No transaction hash returned from RPC"},
		{"rpc error", rpcFailure{msg: "insufficient funds for gas"}, "insufficient funds for gas"},
		{"rpc error without message", rpcFailure{}, "Transaction broadcast failed"},
		{"transport", errors.New("dial tcp: connection refused"), "Failed to broadcast transaction: dial tcp: connection refused"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			b := NewBroadcaster(&fakeSender{err: tc.err}, newFeePayer(t))
			_, err := b.Broadcast(context.Background(), tx)

			var ve *types.VerificationError
			require.ErrorAs(t, err, &ve)
			assert.Equal(t, types.ErrBroadcastFailed, ve.Code)
			assert.Equal(t, tc.msg, ve.Message)
		})
	}
}

func TestSettle_Success(t *testing.T) {
	tx := signedTransfer(t)
	hash := common.HexToHash("0xabc123")
	sender := &fakeSender{hash: hash}
	verifier := &stubVerifier{result: &types.VerifyResult{Tx: tx, Payer: tx.From}}

	svc := NewSettlementService(verifier, NewBroadcaster(sender, newFeePayer(t)), types.NetworkFor(42429), Config{})

	res, err := svc.Settle(context.Background(), &types.PaymentPayload{})
	require.NoError(t, err)
	assert.Equal(t, tx.From, res.Payer)
	assert.Equal(t, hash, res.Transaction)
	assert.Equal(t, "eip155:42429", res.Network)
	require.Len(t, sender.sent, 1)
	assert.Equal(t, SponsoredTxType, sender.sent[0][0])
}

func TestSettle_VerificationFailureSkipsBroadcast(t *testing.T) {
	sender := &fakeSender{}
	verifier := &stubVerifier{err: types.NewVerificationError(types.ErrAmountMismatch, "Transfer amount 1 does not match expected 2")}

	svc := NewSettlementService(verifier, NewBroadcaster(sender, newFeePayer(t)), types.NetworkFor(42429), Config{})

	_, err := svc.Settle(context.Background(), &types.PaymentPayload{})
	var ve *types.VerificationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, types.ErrAmountMismatch, ve.Code)
	assert.Empty(t, sender.sent)
}

func TestSettle_DuplicateRequestsBroadcastTwice(t *testing.T) {
	tx := signedTransfer(t)
	sender := &fakeSender{hash: common.HexToHash("0x01")}
	verifier := &stubVerifier{result: &types.VerifyResult{Tx: tx, Payer: tx.From}}

	svc := NewSettlementService(verifier, NewBroadcaster(sender, newFeePayer(t)), types.NetworkFor(42429), Config{})

	for i := 0; i < 2; i++ {
		_, err := svc.Settle(context.Background(), &types.PaymentPayload{})
		require.NoError(t, err)
	}
	assert.Equal(t, 2, verifier.calls)
	assert.Len(t, sender.sent, 2)
}
