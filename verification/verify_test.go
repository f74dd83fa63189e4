package verification

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vitwit/x402-facilitator/types"
)

func newTestService(chain *fakeChain, now time.Time) *VerificationService {
	return NewVerificationService(chain, feePayer, Config{
		Timeout: time.Second,
		Now:     func() time.Time { return now },
	})
}

func TestVerify_Success(t *testing.T) {
	chain := &fakeChain{balance: big.NewInt(5_000_000)}
	svc := newTestService(chain, time.Now())

	res, err := svc.Verify(context.Background(), newPayload(signTx(t, senderKey, defaultTx(t))))
	require.NoError(t, err)

	assert.Equal(t, senderAddr, res.Payer)
	assert.Equal(t, payToAddr, res.Transfer.Recipient)
	assert.Equal(t, int64(1_000_000), res.Transfer.Amount.Int64())
	assert.Equal(t, 1, chain.balanceReads)
	assert.Len(t, chain.calls, 1)
}

func TestVerify_AmountMismatch(t *testing.T) {
	chain := &fakeChain{balance: big.NewInt(5_000_000)}
	svc := newTestService(chain, time.Now())

	fields := defaultTx(t)
	fields.data = transferData(t, payToAddr, big.NewInt(999_999))

	_, err := svc.Verify(context.Background(), newPayload(signTx(t, senderKey, fields)))
	ve := requireCode(t, err, types.ErrAmountMismatch)
	assert.Equal(t, "[AMOUNT_MISMATCH] Transfer amount 999999 does not match expected 1000000", ve.Reason())
	assert.Zero(t, chain.balanceReads, "chain must not be queried after a requirement failure")
}

func TestVerify_ApproveSelector(t *testing.T) {
	chain := &fakeChain{balance: big.NewInt(5_000_000)}
	svc := newTestService(chain, time.Now())

	fields := defaultTx(t)
	copy(fields.data[:4], []byte{0x09, 0x5e, 0xa7, 0xb3})

	_, err := svc.Verify(context.Background(), newPayload(signTx(t, senderKey, fields)))
	requireCode(t, err, types.ErrInvalidFunctionCall)
}

func TestVerify_InsufficientBalance(t *testing.T) {
	chain := &fakeChain{balance: big.NewInt(10)}
	svc := newTestService(chain, time.Now())

	_, err := svc.Verify(context.Background(), newPayload(signTx(t, senderKey, defaultTx(t))))
	requireCode(t, err, types.ErrInsufficientBalance)
}

func TestVerify_FeePayerAsSender(t *testing.T) {
	chain := &fakeChain{balance: big.NewInt(5_000_000)}
	svc := newTestService(chain, time.Now())

	_, err := svc.Verify(context.Background(), newPayload(signTx(t, feePayerKey, defaultTx(t))))
	requireCode(t, err, types.ErrFeePayerConflict)
}

func TestVerify_TimeoutCheckedBeforeParsing(t *testing.T) {
	now := time.Unix(1_700_001_000, 0)
	svc := newTestService(&fakeChain{}, now)

	payload := newPayload("0xdeadbeef")
	createdAt := int64(1_700_000_000)
	payload.CreatedAt = &createdAt

	_, err := svc.Verify(context.Background(), payload)
	requireCode(t, err, types.ErrTimeoutExceeded)

	payload.CreatedAt = nil
	_, err = svc.Verify(context.Background(), payload)
	requireCode(t, err, types.ErrInvalidTransaction)
}

func TestVerify_CallerCancellationDoesNotAbortRPC(t *testing.T) {
	chain := &fakeChain{balance: big.NewInt(5_000_000)}
	svc := newTestService(chain, time.Now())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := svc.Verify(ctx, newPayload(signTx(t, senderKey, defaultTx(t))))
	require.NoError(t, err)
	for _, ctxErr := range chain.ctxErrs {
		assert.NoError(t, ctxErr)
	}
}

func TestVerify_Deterministic(t *testing.T) {
	chain := &fakeChain{balance: big.NewInt(5_000_000)}
	svc := newTestService(chain, time.Now())

	fields := defaultTx(t)
	fields.value = big.NewInt(3)
	fields.chainID = 1
	payload := newPayload(signTx(t, senderKey, fields))

	for i := 0; i < 5; i++ {
		_, err := svc.Verify(context.Background(), payload)
		requireCode(t, err, types.ErrNonzeroValue)
	}
}
