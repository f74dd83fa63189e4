package utils

import (
	"math/big"
	"regexp"
	"strings"

	"github.com/shopspring/decimal"
)

// TIP20Prefix is the address prefix shared by every TIP-20 token.
const TIP20Prefix = "0x20c000000"

var (
	evmAddressRe   = regexp.MustCompile(`^0x[a-fA-F0-9]{40}$`)
	tip20AddressRe = regexp.MustCompile(`(?i)^0x20c000000[a-f0-9]{31}$`)
	hexStringRe    = regexp.MustCompile(`^0x[a-fA-F0-9]+$`)
	uintStringRe   = regexp.MustCompile(`^\d+$`)
	caip2EVMRe     = regexp.MustCompile(`^eip155:\d+$`)
)

// IsEVMAddress reports whether s is a 0x-prefixed 20-byte hex address.
func IsEVMAddress(s string) bool { return evmAddressRe.MatchString(s) }

// IsTIP20Address reports whether s is an address in the TIP-20 token range.
func IsTIP20Address(s string) bool { return tip20AddressRe.MatchString(s) }

// HasTIP20Prefix checks only the prefix, case-insensitively.
func HasTIP20Prefix(s string) bool {
	return strings.HasPrefix(strings.ToLower(s), TIP20Prefix)
}

func IsHexString(s string) bool  { return hexStringRe.MatchString(s) }
func IsUintString(s string) bool { return uintStringRe.MatchString(s) }
func IsCAIP2EVM(s string) bool   { return caip2EVMRe.MatchString(s) }

// AddressEqual compares two hex addresses ignoring case.
func AddressEqual(a, b string) bool {
	return strings.EqualFold(a, b)
}

// FormatAmount renders atomic units as a human amount. A nil decimals
// leaves the value in atomic units.
func FormatAmount(amount *big.Int, decimals *int) string {
	if amount == nil {
		return "0"
	}
	if decimals == nil {
		return amount.String()
	}
	return decimal.NewFromBigInt(amount, int32(-*decimals)).String()
}
