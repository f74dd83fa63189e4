package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
)

// ErrNoTransactionHash is returned when the node accepts a raw transaction
// but does not report its hash.
var ErrNoTransactionHash = errors.New("no transaction hash returned from RPC")

// EVMClient talks JSON-RPC to a single EVM node.
type EVMClient struct {
	rpcURL string
	rpc    *rpc.Client
	eth    *ethclient.Client
}

var _ Client = (*EVMClient)(nil)

// DialEVMClient connects to rpcURL.
func DialEVMClient(ctx context.Context, rpcURL string) (*EVMClient, error) {
	rc, err := rpc.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("ethereum rpc dial: %w", err)
	}
	return NewEVMClient(rc, rpcURL), nil
}

// NewEVMClient wraps an existing RPC connection.
func NewEVMClient(rc *rpc.Client, rpcURL string) *EVMClient {
	return &EVMClient{
		rpcURL: rpcURL,
		rpc:    rc,
		eth:    ethclient.NewClient(rc),
	}
}

func (c *EVMClient) RPCURL() string { return c.rpcURL }

func (c *EVMClient) ChainID(ctx context.Context) (*big.Int, error) {
	return c.eth.ChainID(ctx)
}

// BalanceOf reads balanceOf(owner) on a TIP-20 token.
func (c *EVMClient) BalanceOf(ctx context.Context, token, owner common.Address) (*big.Int, error) {
	data, err := TIP20ABI.Pack("balanceOf", owner)
	if err != nil {
		return nil, fmt.Errorf("pack balanceOf: %w", err)
	}

	out, err := c.eth.CallContract(ctx, ethereum.CallMsg{To: &token, Data: data}, nil)
	if err != nil {
		return nil, err
	}

	values, err := TIP20ABI.Unpack("balanceOf", out)
	if err != nil {
		return nil, fmt.Errorf("unpack balanceOf: %w", err)
	}
	balance, ok := values[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("unexpected balanceOf result %T", values[0])
	}
	return balance, nil
}

// Call executes msg against the latest block without creating a transaction.
func (c *EVMClient) Call(ctx context.Context, msg ethereum.CallMsg) ([]byte, error) {
	return c.eth.CallContract(ctx, msg, nil)
}

// SendRawTransactionSync submits raw with eth_sendRawTransactionSync, which
// returns once the transaction is included.
func (c *EVMClient) SendRawTransactionSync(ctx context.Context, raw []byte) (common.Hash, error) {
	var result json.RawMessage
	if err := c.rpc.CallContext(ctx, &result, "eth_sendRawTransactionSync", hexutil.Bytes(raw)); err != nil {
		return common.Hash{}, err
	}
	return ParseBroadcastResult(result)
}

// ParseBroadcastResult accepts either a bare hash string or a receipt-like
// object carrying transactionHash.
func ParseBroadcastResult(result json.RawMessage) (common.Hash, error) {
	trimmed := bytes.TrimSpace(result)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return common.Hash{}, ErrNoTransactionHash
	}

	var hash string
	switch trimmed[0] {
	case '"':
		if err := json.Unmarshal(trimmed, &hash); err != nil {
			return common.Hash{}, fmt.Errorf("decode transaction hash: %w", err)
		}
	case '{':
		var receipt struct {
			TransactionHash string `json:"transactionHash"`
		}
		if err := json.Unmarshal(trimmed, &receipt); err != nil {
			return common.Hash{}, fmt.Errorf("decode transaction receipt: %w", err)
		}
		hash = receipt.TransactionHash
	default:
		return common.Hash{}, fmt.Errorf("unexpected broadcast result %s", trimmed)
	}

	if hash == "" {
		return common.Hash{}, ErrNoTransactionHash
	}
	b, err := hexutil.Decode(hash)
	if err != nil || len(b) != common.HashLength {
		return common.Hash{}, fmt.Errorf("malformed transaction hash %q", hash)
	}
	return common.BytesToHash(b), nil
}

func (c *EVMClient) Close() {
	c.rpc.Close()
}
