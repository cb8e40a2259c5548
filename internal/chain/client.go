// Package chain is a read-only façade over an Ethereum JSON-RPC node plus
// sendRaw: dialing, nonce/balance lookups, signing-adjacent helpers, and
// event-log filtering. The calls most exposed to transient RPC failure —
// sendRaw and tx-by-hash — go through a bounded retry.
package chain

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/avast/retry-go"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/toshi-network/eth-gateway/internal/erc20"
)

// Client wraps *ethclient.Client with the bounded retry and small receipt
// cache the gateway's reconciliation paths need.
type Client struct {
	eth *ethclient.Client

	receiptCache *lru.Cache[common.Hash, *types.Receipt]
}

// Dial connects to the node at rawurl with a bounded context.
func Dial(ctx context.Context, rawurl string) (*Client, error) {
	dctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	c, err := ethclient.DialContext(dctx, rawurl)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", rawurl, err)
	}
	cache, _ := lru.New[common.Hash, *types.Receipt](1024)
	return &Client{eth: c, receiptCache: cache}, nil
}

func (c *Client) Close() { c.eth.Close() }

// Raw exposes the underlying ethclient for call sites that need operations
// this façade doesn't wrap.
func (c *Client) Raw() *ethclient.Client { return c.eth }

// BalanceAt returns the account balance at the given block number, or the
// latest block if block is nil.
func (c *Client) BalanceAt(ctx context.Context, addr common.Address, block *big.Int) (*big.Int, error) {
	bal, err := c.eth.BalanceAt(ctx, addr, block)
	if err != nil {
		return nil, fmt.Errorf("balance at %s: %w", addr.Hex(), err)
	}
	return bal, nil
}

// NonceAt returns the confirmed transaction count at the given block.
func (c *Client) NonceAt(ctx context.Context, addr common.Address, block *big.Int) (uint64, error) {
	n, err := c.eth.NonceAt(ctx, addr, block)
	if err != nil {
		return 0, fmt.Errorf("nonce at %s: %w", addr.Hex(), err)
	}
	return n, nil
}

// PendingNonceAt returns the next nonce including pending mempool
// transactions.
func (c *Client) PendingNonceAt(ctx context.Context, addr common.Address) (uint64, error) {
	n, err := c.eth.PendingNonceAt(ctx, addr)
	if err != nil {
		return 0, fmt.Errorf("pending nonce at %s: %w", addr.Hex(), err)
	}
	return n, nil
}

// SuggestGasPrice returns the node's recommended legacy gas price.
func (c *Client) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	p, err := c.eth.SuggestGasPrice(ctx)
	if err != nil {
		return nil, fmt.Errorf("suggest gas price: %w", err)
	}
	return p, nil
}

// EstimateGas estimates the gas an arbitrary call message would consume,
// used when building a skeleton for a transaction that carries non-empty data.
func (c *Client) EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error) {
	g, err := c.eth.EstimateGas(ctx, msg)
	if err != nil {
		return 0, fmt.Errorf("estimate gas: %w", err)
	}
	return g, nil
}

// ChainID returns the network's chain ID for EIP-155 signing.
func (c *Client) ChainID(ctx context.Context) (*big.Int, error) {
	id, err := c.eth.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("chain id: %w", err)
	}
	return id, nil
}

// SendRawTransaction submits an already-signed transaction, making up to 3
// attempts on transient RPC failures. "nonce too low" and "already
// imported" responses are not retried — the caller treats those as signals
// to reconcile rather than as failures.
func (c *Client) SendRawTransaction(ctx context.Context, tx *types.Transaction) error {
	err := retry.Do(
		func() error { return c.eth.SendTransaction(ctx, tx) },
		retry.Attempts(3),
		retry.Delay(200*time.Millisecond),
		retry.RetryIf(func(err error) bool { return !IsKnownTxError(err) }),
	)
	if err != nil {
		return fmt.Errorf("send raw transaction %s: %w", tx.Hash().Hex(), err)
	}
	return nil
}

// TransactionByHash returns the node's view of a transaction, or
// (nil, false, nil) if the node does not know about it. Transient RPC
// failures get up to 3 attempts in all; ethereum.NotFound is not a failure
// and returns immediately.
func (c *Client) TransactionByHash(ctx context.Context, hash common.Hash) (*types.Transaction, bool, error) {
	var tx *types.Transaction
	found := true
	err := retry.Do(
		func() error {
			var err error
			tx, _, err = c.eth.TransactionByHash(ctx, hash)
			if err == ethereum.NotFound {
				found = false
				return nil
			}
			return err
		},
		retry.Attempts(3),
		retry.Delay(200*time.Millisecond),
	)
	if err != nil {
		return nil, false, fmt.Errorf("transaction by hash %s: %w", hash.Hex(), err)
	}
	if !found {
		return nil, false, nil
	}
	return tx, true, nil
}

// TransactionReceipt returns the receipt for hash, caching successful
// lookups since a confirmed transaction's receipt never changes.
func (c *Client) TransactionReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	if r, ok := c.receiptCache.Get(hash); ok {
		return r, nil
	}
	r, err := c.eth.TransactionReceipt(ctx, hash)
	if err == ethereum.NotFound {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("transaction receipt %s: %w", hash.Hex(), err)
	}
	c.receiptCache.Add(hash, r)
	return r, nil
}

// BlockNumber returns the latest block number known to the node.
func (c *Client) BlockNumber(ctx context.Context) (uint64, error) {
	n, err := c.eth.BlockNumber(ctx)
	if err != nil {
		return 0, fmt.Errorf("block number: %w", err)
	}
	return n, nil
}

// BlockByNumber returns the full block (with transaction bodies) at num.
func (c *Client) BlockByNumber(ctx context.Context, num *big.Int) (*types.Block, error) {
	b, err := c.eth.BlockByNumber(ctx, num)
	if err != nil {
		return nil, fmt.Errorf("block by number %v: %w", num, err)
	}
	return b, nil
}

// FilterLogs runs an event-log query against the node.
func (c *Client) FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error) {
	logs, err := c.eth.FilterLogs(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("filter logs: %w", err)
	}
	return logs, nil
}

// CallContract runs a read-only call against the latest state.
func (c *Client) CallContract(ctx context.Context, to common.Address, data []byte) ([]byte, error) {
	out, err := c.eth.CallContract(ctx, ethereum.CallMsg{To: &to, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("call contract %s: %w", to.Hex(), err)
	}
	return out, nil
}

// ERC20BalanceOf reads owner's balance of an ERC20-compatible contract.
func (c *Client) ERC20BalanceOf(ctx context.Context, contract, owner common.Address) (*big.Int, error) {
	data, err := erc20.PackBalanceOf(owner)
	if err != nil {
		return nil, fmt.Errorf("pack balanceOf: %w", err)
	}
	out, err := c.CallContract(ctx, contract, data)
	if err != nil {
		return nil, err
	}
	return erc20.UnpackBalanceOf(out)
}

// ERC20Metadata reads symbol/name/decimals from an ERC20-compatible
// contract, tolerating non-conforming tokens that revert on name/symbol by
// falling back to empty strings.
func (c *Client) ERC20Metadata(ctx context.Context, contract common.Address) (symbol, name string, decimals uint8, err error) {
	if data, perr := erc20.PackSymbol(); perr == nil {
		if out, cerr := c.CallContract(ctx, contract, data); cerr == nil {
			symbol, _ = erc20.UnpackSymbol(out)
		}
	}
	if data, perr := erc20.PackName(); perr == nil {
		if out, cerr := c.CallContract(ctx, contract, data); cerr == nil {
			name, _ = erc20.UnpackName(out)
		}
	}
	data, perr := erc20.PackDecimals()
	if perr != nil {
		return symbol, name, 0, fmt.Errorf("pack decimals: %w", perr)
	}
	out, cerr := c.CallContract(ctx, contract, data)
	if cerr != nil {
		return symbol, name, 0, cerr
	}
	decimals, err = erc20.UnpackDecimals(out)
	return symbol, name, decimals, err
}

// IsKnownTxError reports whether err is a sendRaw response that should
// trigger a reconciliation probe instead of being surfaced as a failure:
// "nonce too low" or "already imported" and their close variants.
func IsKnownTxError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, s := range []string{"nonce too low", "nonce is too low", "already known", "already imported", "replacement transaction underpriced"} {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}
