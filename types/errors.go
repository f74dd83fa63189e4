package types

import (
	"errors"
	"fmt"
)

// ErrorCode is the closed set of reasons a payment can be rejected.
type ErrorCode string

const (
	ErrInvalidTransaction  ErrorCode = "INVALID_TRANSACTION"
	ErrInvalidFunctionCall ErrorCode = "INVALID_FUNCTION_CALL"
	ErrInvalidAssetFormat  ErrorCode = "INVALID_ASSET_FORMAT"
	ErrAssetMismatch       ErrorCode = "ASSET_MISMATCH"
	ErrNonzeroValue        ErrorCode = "NONZERO_VALUE"
	ErrRecipientMismatch   ErrorCode = "RECIPIENT_MISMATCH"
	ErrAmountMismatch      ErrorCode = "AMOUNT_MISMATCH"
	ErrChainIDMismatch     ErrorCode = "CHAIN_ID_MISMATCH"
	ErrFeePayerConflict    ErrorCode = "FEE_PAYER_CONFLICT"
	ErrInsufficientBalance ErrorCode = "INSUFFICIENT_BALANCE"
	ErrTimeoutExceeded     ErrorCode = "TIMEOUT_EXCEEDED"
	ErrSimulationFailed    ErrorCode = "SIMULATION_FAILED"
	ErrBroadcastFailed     ErrorCode = "BROADCAST_FAILED"

	// Raised by the HTTP layer only.
	ErrInvalidPayload ErrorCode = "INVALID_PAYLOAD"
	ErrRateLimited    ErrorCode = "RATE_LIMITED"
)

// VerificationError is returned by every pipeline stage.
type VerificationError struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
}

func (e *VerificationError) Error() string {
	return e.Reason()
}

// Reason renders the error as "[CODE] message".
func (e *VerificationError) Reason() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// NewVerificationError builds a VerificationError with a formatted message.
func NewVerificationError(code ErrorCode, format string, args ...any) *VerificationError {
	return &VerificationError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// AsVerificationError unwraps err into a VerificationError. Errors of any
// other kind are reported under fallback.
func AsVerificationError(err error, fallback ErrorCode) *VerificationError {
	var ve *VerificationError
	if errors.As(err, &ve) {
		return ve
	}
	return &VerificationError{Code: fallback, Message: err.Error()}
}

// X402Error reports configuration and request-shape problems.
type X402Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e X402Error) Error() string {
	return e.Message
}

const (
	ErrCodeInvalidPayload = string(ErrInvalidPayload)
	ErrCodeConfig         = "CONFIG_ERROR"
)
