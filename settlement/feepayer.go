package settlement

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"
	"github.com/vitwit/x402-facilitator/types"
	"github.com/vitwit/x402-facilitator/utils"
)

// SponsoredTxType prefixes a fee-payer sponsored envelope.
const SponsoredTxType byte = 0x78

// FeePayer co-signs client transactions so the network fee is charged to
// the facilitator. Implementations must be safe for concurrent use.
type FeePayer interface {
	Address() common.Address
	Sponsor(ctx context.Context, tx *types.ParsedTransaction) ([]byte, error)
}

// KeyFeePayer sponsors transactions with an in-memory secp256k1 key.
type KeyFeePayer struct {
	key      *ecdsa.PrivateKey
	address  common.Address
	feeToken common.Address
}

var _ FeePayer = (*KeyFeePayer)(nil)

// NewKeyFeePayer loads the sponsor key. feeToken may be the zero address,
// in which case the node picks the fee token.
func NewKeyFeePayer(hexKey string, feeToken common.Address) (*KeyFeePayer, error) {
	key, err := utils.PrivateKeyFromHex(hexKey)
	if err != nil {
		return nil, fmt.Errorf("fee payer: %w", err)
	}
	return &KeyFeePayer{
		key:      key,
		address:  utils.AddressFromPrivateKey(key),
		feeToken: feeToken,
	}, nil
}

func (k *KeyFeePayer) Address() common.Address { return k.address }

func (k *KeyFeePayer) FeeToken() common.Address { return k.feeToken }

type sponsorshipDigest struct {
	TxHash   common.Hash
	FeePayer common.Address
	FeeToken common.Address
	ChainID  *big.Int
}

type sponsoredEnvelope struct {
	Transaction []byte
	FeePayer    common.Address
	FeeToken    common.Address
	V           uint64
	R           *big.Int
	S           *big.Int
}

// SponsorshipHash is the digest the fee payer signs for tx.
func SponsorshipHash(tx *types.ParsedTransaction, feePayer, feeToken common.Address) (common.Hash, error) {
	enc, err := rlp.EncodeToBytes(&sponsorshipDigest{
		TxHash:   tx.Hash,
		FeePayer: feePayer,
		FeeToken: feeToken,
		ChainID:  tx.ChainID,
	})
	if err != nil {
		return common.Hash{}, err
	}
	return crypto.Keccak256Hash([]byte{SponsoredTxType}, enc), nil
}

// Sponsor wraps the client's signed transaction with the fee payer's
// signature: 0x78 || rlp([tx, feePayer, feeToken, v, r, s]).
//
// This envelope is the layout this facilitator's target node accepts. It
// has not been checked against Tempo's published fee-sponsorship format;
// confirm the field order and digest against the node before mainnet use.
func (k *KeyFeePayer) Sponsor(_ context.Context, tx *types.ParsedTransaction) ([]byte, error) {
	digest, err := SponsorshipHash(tx, k.address, k.feeToken)
	if err != nil {
		return nil, fmt.Errorf("encode sponsorship digest: %w", err)
	}

	sig, err := crypto.Sign(digest.Bytes(), k.key)
	if err != nil {
		return nil, fmt.Errorf("sign sponsorship: %w", err)
	}

	payload, err := rlp.EncodeToBytes(&sponsoredEnvelope{
		Transaction: tx.Serialized,
		FeePayer:    k.address,
		FeeToken:    k.feeToken,
		V:           uint64(sig[64]),
		R:           new(big.Int).SetBytes(sig[:32]),
		S:           new(big.Int).SetBytes(sig[32:64]),
	})
	if err != nil {
		return nil, fmt.Errorf("encode sponsored envelope: %w", err)
	}

	return append([]byte{SponsoredTxType}, payload...), nil
}
