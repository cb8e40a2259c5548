// Package intake validates and admits transactions from clients: skeleton
// construction for the client to sign, and admission of an already-signed
// transaction onto the chain and into the state store.
package intake

import (
	"context"
	"fmt"
	"math/big"
	"time"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/rs/zerolog"

	"github.com/toshi-network/eth-gateway/internal/apierr"
	"github.com/toshi-network/eth-gateway/internal/cache"
	"github.com/toshi-network/eth-gateway/internal/chain"
	"github.com/toshi-network/eth-gateway/internal/domain"
	"github.com/toshi-network/eth-gateway/internal/store"
	"github.com/toshi-network/eth-gateway/internal/wire"
)

// Notifier is the subset of the notification fan-out Intake depends on. It
// lives here as a narrow interface so intake does not import the notify
// package directly; cmd/gatewayd wires the concrete implementation in.
type Notifier interface {
	NotifyAsync(tx *domain.Transaction, prevStatus domain.Status)
}

// QueueTrigger requests a processor pass for an address; implemented by the
// queue package and wired in at startup for the same reason as Notifier.
type QueueTrigger interface {
	Trigger(addr common.Address)
}

// Config carries the defaults and lock TTLs Intake needs.
type Config struct {
	DefaultGas         uint64
	DefaultGasPriceWei *big.Int
	SubmissionLockTTL  time.Duration
}

// Intake wires the chain client, state store, cache, and notifier together
// to implement skeleton construction and signed-transaction admission.
type Intake struct {
	chain    *chain.Client
	store    *store.Store
	cache    *cache.Cache
	notifier Notifier
	queue    QueueTrigger
	cfg      Config
	log      zerolog.Logger

	signerInit signerOnce
}

func New(c *chain.Client, s *store.Store, ch *cache.Cache, notifier Notifier, queue QueueTrigger, cfg Config, log zerolog.Logger) *Intake {
	return &Intake{chain: c, store: s, cache: ch, notifier: notifier, queue: queue, cfg: cfg, log: log}
}

// SkeletonRequest is the client's desired transaction shape, in the same
// forgiving hex-or-decimal string encoding the HTTP layer accepts.
type SkeletonRequest struct {
	From     string
	To       string
	Value    string // "", a decimal/hex integer, or "max"
	Nonce    string // "" to let the server pick
	Gas      string // "" to estimate/default
	GasPrice string // "" to use the configured default
	Data     string // "" or 0x-hex
}

// BuildSkeleton assembles an unsigned transaction envelope per req, ready
// for the client to sign. It never writes to the state store (a "max" value
// only reads it): a skeleton is not persisted until it comes back signed.
func (ix *Intake) BuildSkeleton(ctx context.Context, req SkeletonRequest) (*types.Transaction, error) {
	from, err := wire.ParseAddress(req.From)
	if err != nil {
		return nil, apierr.Wrap(apierr.InvalidAddress, "malformed from address", err)
	}
	var to *common.Address
	isCreation := req.To == "" || req.To == "0x"
	if !isCreation {
		addr, err := wire.ParseAddress(req.To)
		if err != nil {
			return nil, apierr.Wrap(apierr.InvalidAddress, "malformed to address", err)
		}
		to = &addr
	}

	data, err := wire.ParseData(req.Data)
	if err != nil {
		return nil, apierr.Wrap(apierr.InvalidData, "malformed data", err)
	}

	nonce, err := ix.resolveNonce(ctx, from, req.Nonce)
	if err != nil {
		return nil, err
	}

	gas, err := ix.resolveGas(ctx, from, to, data, req.Gas)
	if err != nil {
		return nil, err
	}

	gasPrice, err := ix.resolveGasPrice(req.GasPrice)
	if err != nil {
		return nil, err
	}

	value, err := ix.resolveValue(ctx, from, gas, gasPrice, req.Value)
	if err != nil {
		return nil, err
	}

	if err := checkIntrinsicGas(data, isCreation, gas); err != nil {
		return nil, err
	}

	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		To:       to,
		Value:    value,
		Gas:      gas,
		GasPrice: gasPrice,
		Data:     data,
	})
	return tx, nil
}

func (ix *Intake) resolveNonce(ctx context.Context, from common.Address, requested string) (uint64, error) {
	if requested != "" {
		n, err := wire.ParseUint64(requested)
		if err != nil {
			return 0, apierr.Wrap(apierr.InvalidNonce, "malformed nonce", err)
		}
		return n, nil
	}
	return ix.nextNonce(ctx, from)
}

// nextNonce is max(cached hint, chain pending nonce): the cache remembers
// what this gateway itself last assigned, which can outrun a node that has
// not yet seen the pending transaction.
func (ix *Intake) nextNonce(ctx context.Context, from common.Address) (uint64, error) {
	chainNonce, err := ix.chain.PendingNonceAt(ctx, from)
	if err != nil {
		return 0, apierr.Wrap(apierr.InternalError, "read chain nonce", err)
	}
	hint, ok, err := ix.cache.NonceHint(ctx, from.Hex())
	if err != nil {
		return 0, apierr.Wrap(apierr.InternalError, "read cached nonce hint", err)
	}
	if ok && hint > chainNonce {
		return hint, nil
	}
	return chainNonce, nil
}

func (ix *Intake) resolveGas(ctx context.Context, from common.Address, to *common.Address, data []byte, requested string) (uint64, error) {
	if requested != "" {
		g, err := wire.ParseUint64(requested)
		if err != nil {
			return 0, apierr.Wrap(apierr.InvalidGas, "malformed gas", err)
		}
		return g, nil
	}
	if len(data) == 0 {
		return ix.cfg.DefaultGas, nil
	}
	g, err := ix.chain.EstimateGas(ctx, ethereum.CallMsg{From: from, To: to, Data: data})
	if err != nil {
		return 0, apierr.Wrap(apierr.InvalidTransaction, "estimate gas", err)
	}
	return g, nil
}

func (ix *Intake) resolveGasPrice(requested string) (*big.Int, error) {
	if requested == "" {
		return new(big.Int).Set(ix.cfg.DefaultGasPriceWei), nil
	}
	p, err := wire.ParseBigInt(requested)
	if err != nil {
		return nil, apierr.Wrap(apierr.InvalidGasPrice, "malformed gas price", err)
	}
	return p, nil
}

func (ix *Intake) resolveValue(ctx context.Context, from common.Address, gas uint64, gasPrice *big.Int, requested string) (*big.Int, error) {
	if requested == "" {
		return big.NewInt(0), nil
	}
	if requested != "max" {
		v, err := wire.ParseBigInt(requested)
		if err != nil {
			return nil, apierr.Wrap(apierr.InvalidValue, "malformed value", err)
		}
		return v, nil
	}
	available, err := ix.availableBalance(ctx, from)
	if err != nil {
		return nil, err
	}
	fee := new(big.Int).Mul(new(big.Int).SetUint64(gas), gasPrice)
	max := new(big.Int).Sub(available, fee)
	if max.Sign() < 0 {
		return nil, apierr.New(apierr.InsufficientFunds, "balance does not cover fees")
	}
	return max, nil
}

// availableBalance is the chain-confirmed balance minus the cost of this
// sender's own still-outstanding outgoing transactions. Unlike the
// "unconfirmed" half of GET /balance, it does not add inbound value still
// in flight.
func (ix *Intake) availableBalance(ctx context.Context, from common.Address) (*big.Int, error) {
	confirmed, err := ix.chain.BalanceAt(ctx, from, nil)
	if err != nil {
		return nil, apierr.Wrap(apierr.InternalError, "read balance", err)
	}
	lastBlock, err := ix.store.LastBlockNumber(ctx)
	if err != nil {
		return nil, apierr.Wrap(apierr.InternalError, "read last block", err)
	}
	outstanding, err := ix.store.UnconfirmedOutbound(ctx, from, lastBlock)
	if err != nil {
		return nil, apierr.Wrap(apierr.InternalError, "read outstanding outbound", err)
	}
	balance := new(big.Int).Set(confirmed)
	for _, t := range outstanding {
		balance.Sub(balance, t.Cost())
	}
	return balance, nil
}

// checkIntrinsicGas rejects at skeleton time a gas limit too low for the
// data payload, so a client can never construct a transaction the network
// would refuse outright.
func checkIntrinsicGas(data []byte, isCreation bool, gas uint64) error {
	intrinsic, err := core.IntrinsicGas(data, nil, isCreation, true, true, false)
	if err != nil {
		return apierr.Wrap(apierr.InvalidTransaction, "compute intrinsic gas", err)
	}
	if gas < intrinsic {
		return apierr.New(apierr.InvalidTransaction, fmt.Sprintf("intrinsic gas too low: have %d, need %d", gas, intrinsic))
	}
	return nil
}
