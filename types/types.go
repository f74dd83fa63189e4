package types

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// X402Version represents the version of the x402 protocol
type X402Version int

const (
	X402Version2 X402Version = 2
)

// PaymentScheme represents the payment schemes this facilitator settles
type PaymentScheme string

const (
	SchemeExact PaymentScheme = "exact"
)

// ResourceInfo describes the resource being paid for.
type ResourceInfo struct {
	URL         string `json:"url" validate:"required,url"`
	Description string `json:"description" validate:"min=1,max=500"`
	MimeType    string `json:"mimeType" validate:"required"`
}

// Extra carries optional display metadata for the asset.
type Extra struct {
	Name     *string `json:"name,omitempty"`
	Decimals *int    `json:"decimals,omitempty" validate:"omitempty,min=0,max=18"`
}

// PaymentRequirements defines what the resource server accepts for payment.
type PaymentRequirements struct {
	// Scheme of the payment protocol. Only "exact" is accepted.
	Scheme string `json:"scheme" validate:"required,eq=exact"`

	// Network in CAIP-2 form, e.g. "eip155:42429".
	Network string `json:"network" validate:"required,caip2evm"`

	// Exact amount in atomic units of the asset, as a decimal string.
	Amount string `json:"amount" validate:"required,uintstr"`

	// TIP-20 token contract address.
	Asset string `json:"asset" validate:"required,tip20"`

	// Address that must receive the transfer.
	PayTo string `json:"payTo" validate:"required,evmaddr"`

	MaxTimeoutSeconds int `json:"maxTimeoutSeconds" validate:"gt=0"`

	Extra *Extra `json:"extra,omitempty"`
}

// TransactionPayload wraps the client-signed transaction.
type TransactionPayload struct {
	SignedTransaction string `json:"signedTransaction" validate:"required,hexstr"`
}

// PaymentPayload is the body of /verify and /settle.
type PaymentPayload struct {
	X402Version int                 `json:"x402Version" validate:"eq=2"`
	Resource    ResourceInfo        `json:"resource"`
	Accepted    PaymentRequirements `json:"accepted"`
	Payload     TransactionPayload  `json:"payload"`

	// Unix seconds at which the client created the payload.
	CreatedAt *int64 `json:"createdAt,omitempty" validate:"omitempty,gt=0"`
}

// ParsedTransaction is a decoded signed transaction. From is always the
// address recovered from the signature.
type ParsedTransaction struct {
	To         common.Address
	Value      *big.Int
	Data       []byte
	ChainID    *big.Int
	From       common.Address
	Hash       common.Hash
	Serialized []byte
}

// TransferParams are the decoded arguments of transfer(address,uint256).
type TransferParams struct {
	Recipient common.Address
	Amount    *big.Int
}

// VerifyResult is the outcome of a successful verification.
type VerifyResult struct {
	Tx       *ParsedTransaction
	Transfer *TransferParams
	Payer    common.Address
}

// SettleResult is the outcome of a successful settlement.
type SettleResult struct {
	Payer       common.Address
	Transaction common.Hash
	Network     string
}

// VerifyResponse is the /verify response body.
type VerifyResponse struct {
	IsValid       bool   `json:"isValid"`
	InvalidReason string `json:"invalidReason,omitempty"`
	Payer         string `json:"payer,omitempty"`
	RequestID     string `json:"requestId,omitempty"`
}

// SettleResponse is the /settle response body.
type SettleResponse struct {
	Success     bool   `json:"success"`
	ErrorReason string `json:"errorReason,omitempty"`
	Payer       string `json:"payer,omitempty"`
	Transaction string `json:"transaction"`
	Network     string `json:"network"`
	RequestID   string `json:"requestId,omitempty"`
}

type SupportedItem struct {
	X402Version int    `json:"x402Version"`
	Scheme      string `json:"scheme"`
	Network     string `json:"network"`
}

type SupportedResponse struct {
	Kinds      []SupportedItem     `json:"kinds"`
	Extensions []string            `json:"extensions"`
	Signers    map[string][]string `json:"signers"`
}

type FacilitatorInfo struct {
	Address string `json:"address"`
	RPCURL  string `json:"rpcUrl"`
}

// HealthResponse is the /health response body.
type HealthResponse struct {
	Status      string          `json:"status"`
	Timestamp   string          `json:"timestamp"`
	RequestID   string          `json:"requestId"`
	Facilitator FacilitatorInfo `json:"facilitator"`
}
