package types

import (
	"fmt"
	"regexp"
	"strconv"
)

// Network is a CAIP-2 network identifier such as "eip155:42429".
type Network string

var caip2EVM = regexp.MustCompile(`^eip155:(\d+)$`)

// NetworkFor returns the CAIP-2 identifier of an EVM chain.
func NetworkFor(chainID uint64) Network {
	return Network(fmt.Sprintf("eip155:%d", chainID))
}

// ParseNetworkChainID extracts the chain id from "eip155:<id>".
func ParseNetworkChainID(network string) (uint64, bool) {
	m := caip2EVM.FindStringSubmatch(network)
	if m == nil {
		return 0, false
	}
	id, err := strconv.ParseUint(m[1], 10, 64)
	if err != nil {
		return 0, false
	}
	return id, true
}

func (n Network) String() string {
	return string(n)
}
