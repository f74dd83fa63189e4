package utils

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/vitwit/x402-facilitator/types"
)

var validate *validator.Validate

func init() {
	validate = validator.New(validator.WithRequiredStructEnabled())

	validate.RegisterTagNameFunc(fieldName)
	mustRegister("caip2evm", IsCAIP2EVM)
	mustRegister("uintstr", IsUintString)
	mustRegister("tip20", IsTIP20Address)
	mustRegister("evmaddr", IsEVMAddress)
	mustRegister("hexstr", IsHexString)
}

func mustRegister(tag string, fn func(string) bool) {
	err := validate.RegisterValidation(tag, func(fl validator.FieldLevel) bool {
		return fn(fl.Field().String())
	})
	if err != nil {
		panic(err)
	}
}

// fieldName reports a field by its json name, falling back to yaml for
// config structs.
func fieldName(f reflect.StructField) string {
	for _, key := range []string{"json", "yaml"} {
		name := strings.SplitN(f.Tag.Get(key), ",", 2)[0]
		if name == "-" {
			return ""
		}
		if name != "" {
			return name
		}
	}
	return ""
}

// ParsePaymentPayload decodes and validates a /verify or /settle body.
func ParsePaymentPayload(data []byte) (*types.PaymentPayload, error) {
	var payload types.PaymentPayload

	dec := json.NewDecoder(bytes.NewReader(data))
	if err := dec.Decode(&payload); err != nil {
		return nil, &types.X402Error{
			Code:    types.ErrCodeInvalidPayload,
			Message: fmt.Sprintf("failed to parse payment payload: %v", err),
		}
	}

	if err := ValidateStruct(&payload); err != nil {
		return nil, &types.X402Error{
			Code:    types.ErrCodeInvalidPayload,
			Message: err.Error(),
		}
	}

	return &payload, nil
}

// ValidateStruct runs the struct tag validators and flattens the result
// into a single readable error.
func ValidateStruct(v any) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("validation failed: %w", err)
	}

	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, describeFieldError(fe))
	}
	return fmt.Errorf("validation failed: %s", strings.Join(msgs, "; "))
}

func describeFieldError(fe validator.FieldError) string {
	field := trimNamespace(fe.Namespace())
	switch fe.Tag() {
	case "required":
		return field + " is required"
	case "eq":
		return fmt.Sprintf("%s must be %s", field, fe.Param())
	case "gt":
		return field + " must be a positive integer"
	case "min", "max":
		return fmt.Sprintf("%s must satisfy %s=%s", field, fe.Tag(), fe.Param())
	case "url":
		return field + " must be a valid URL"
	case "caip2evm":
		return field + " must match eip155:<chainId>"
	case "uintstr":
		return field + " must be a non-negative integer string"
	case "tip20":
		return field + " must be a TIP-20 address (0x20c000000...)"
	case "evmaddr":
		return field + " must be a 0x-prefixed 20-byte hex address"
	case "hexstr":
		return field + " must be a 0x-prefixed hex string"
	default:
		return fmt.Sprintf("%s failed %s", field, fe.Tag())
	}
}

// trimNamespace drops the root struct name from "PaymentPayload.accepted.amount".
func trimNamespace(ns string) string {
	if i := strings.IndexByte(ns, '.'); i >= 0 {
		return ns[i+1:]
	}
	return ns
}
