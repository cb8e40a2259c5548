package queue

import (
	"context"
	"errors"
	"math/big"
	"time"

	"github.com/avast/retry-go"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/toshi-network/eth-gateway/internal/chain"
	"github.com/toshi-network/eth-gateway/internal/domain"
	"github.com/toshi-network/eth-gateway/internal/metrics"
	"github.com/toshi-network/eth-gateway/internal/store"
)

// errReceiptNotYetAvailable marks a reconcile attempt that found no
// receipt yet, distinct from a real RPC failure, so retry.Do keeps
// polling instead of aborting.
var errReceiptNotYetAvailable = errors.New("receipt not yet available")

// runPass runs passes for addr until one completes without an
// overwrite-collision restart, returning the set of recipient addresses
// whose rows changed status (so the caller can retrigger them) and, when
// the gas-price floor deferred the whole queue, how long to wait before
// trying again.
func (p *Processor) runPass(ctx context.Context, addr common.Address) ([]common.Address, time.Duration, error) {
	var touched []common.Address
	for {
		restart, newlyTouched, retryAfter, err := p.onePass(ctx, addr, touched)
		touched = newlyTouched
		if err != nil {
			return touched, 0, err
		}
		if restart {
			continue
		}
		return touched, retryAfter, nil
	}
}

func (p *Processor) onePass(ctx context.Context, addr common.Address, touched []common.Address) (restart bool, _ []common.Address, retryAfter time.Duration, err error) {
	candidates, err := p.store.PendingOutbound(ctx, addr)
	if err != nil {
		return false, touched, 0, err
	}
	lastBlock, err := p.store.LastBlockNumber(ctx)
	if err != nil {
		return false, touched, 0, err
	}
	var blockArg *big.Int
	if lastBlock > 0 {
		blockArg = new(big.Int).SetUint64(lastBlock)
	}

	balance, err := p.chain.BalanceAt(ctx, addr, blockArg)
	if err != nil {
		return false, touched, 0, err
	}
	chainNonce, err := p.chain.NonceAt(ctx, addr, blockArg)
	if err != nil {
		return false, touched, 0, err
	}

	unconfirmed, err := p.store.UnconfirmedOutbound(ctx, addr, lastBlock)
	if err != nil {
		return false, touched, 0, err
	}
	nextNonce := chainNonce
	for _, t := range unconfirmed {
		balance.Sub(balance, t.Cost())
		if t.Nonce+1 > nextNonce {
			nextNonce = t.Nonce + 1
		}
	}

	safeLow, haveSafeLow, err := p.cache.GasSafeLow(ctx)
	if err != nil {
		return false, touched, 0, err
	}

	failedPrior := false
	for _, tx := range candidates {
		if failedPrior {
			p.failRow(ctx, tx, &touched)
			continue
		}

		if tx.Nonce != nextNonce {
			didRestart, err := p.resolveOutOfOrder(ctx, addr, tx, &touched, &failedPrior)
			if err != nil {
				return false, touched, 0, err
			}
			if didRestart {
				return true, touched, 0, nil
			}
			if failedPrior {
				continue
			}
			// neither an overwrite nor a broken queued sequence: log and abort
			p.log.Warn().Str("addr", addr.Hex()).Uint64("nonce", tx.Nonce).Uint64("expected", nextNonce).
				Msg("unexpected nonce gap, aborting pass")
			return false, touched, 0, nil
		}

		if haveSafeLow && tx.GasPrice.Cmp(big.NewInt(safeLow)) < 0 {
			if tx.Status == domain.StatusNew {
				p.transition(ctx, tx, domain.StatusQueued, nil, &touched)
			}
			return false, touched, p.cfg.GasFloorRetry, nil
		}

		cost := tx.Cost()
		if balance.Cmp(cost) >= 0 {
			if err := p.send(ctx, tx); err != nil {
				if chain.IsKnownTxError(err) {
					p.reconcile(ctx, tx, &touched)
					nextNonce++
					balance.Sub(balance, cost)
					continue
				}
				failedPrior = true
				p.failRow(ctx, tx, &touched)
				continue
			}
			p.transition(ctx, tx, domain.StatusUnconfirmed, nil, &touched)
			balance.Sub(balance, cost)
			nextNonce++
			continue
		}

		inbound, err := p.store.ActiveInbound(ctx, addr, lastBlock)
		if err != nil {
			return false, touched, 0, err
		}
		pendingReceived := big.NewInt(0)
		for _, in := range inbound {
			pendingReceived.Add(pendingReceived, in.Value)
		}
		if new(big.Int).Add(balance, pendingReceived).Cmp(cost) < 0 {
			failedPrior = true
			p.failRow(ctx, tx, &touched)
			continue
		}
		if tx.Status == domain.StatusNew {
			p.transition(ctx, tx, domain.StatusQueued, nil, &touched)
		}
		return false, touched, 0, nil
	}

	return false, touched, 0, nil
}

// resolveOutOfOrder handles a candidate whose nonce doesn't match
// next_nonce: either an overwrite collision (resolved and the caller
// restarts the whole pass) or a broken `queued` sequence (cascaded to
// error). It reports via failedPrior whether the candidate itself was
// failed so the caller's loop can `continue` instead of aborting.
func (p *Processor) resolveOutOfOrder(ctx context.Context, addr common.Address, tx *domain.Transaction, touched *[]common.Address, failedPrior *bool) (restarted bool, err error) {
	if tx.Status == domain.StatusNew {
		other, err := p.store.OtherAtNonce(ctx, addr, tx.Nonce, tx.Hash)
		if err == nil {
			// higher gas price wins, except an unconfirmed/confirmed incumbent
			// always beats an incoming `new` row regardless of price
			loser := tx
			if tx.GasPrice.Cmp(other.GasPrice) > 0 {
				loser = other
			}
			if other.Status == domain.StatusUnconfirmed || other.Status == domain.StatusConfirmed {
				loser = tx
			}
			p.failRow(ctx, loser, touched)
			return true, nil
		}
		if !errors.Is(err, store.ErrNotFound) {
			return false, err
		}
	}
	if tx.Status == domain.StatusQueued {
		*failedPrior = true
		p.failRow(ctx, tx, touched)
		return false, nil
	}
	return false, nil
}

// send re-encodes a persisted, already-signed row and submits it.
func (p *Processor) send(ctx context.Context, tx *domain.Transaction) error {
	var to *common.Address
	if !tx.IsContractCreation() {
		addr := tx.ToAddress
		to = &addr
	}
	signed := types.NewTx(&types.LegacyTx{
		Nonce:    tx.Nonce,
		To:       to,
		Value:    tx.Value,
		Gas:      tx.Gas,
		GasPrice: tx.GasPrice,
		Data:     tx.Data,
		V:        tx.Signature.V,
		R:        tx.Signature.R,
		S:        tx.Signature.S,
	})
	return p.chain.SendRawTransaction(ctx, signed)
}

// failRow cascades a candidate to error and records its recipient as
// touched, since downstream processors waiting on this funding should stop
// waiting rather than block forever.
func (p *Processor) failRow(ctx context.Context, tx *domain.Transaction, touched *[]common.Address) {
	p.transition(ctx, tx, domain.StatusError, nil, touched)
}

// transition applies a status change, notifies, and records the
// recipient as touched when the row actually changed (a contract creation
// has no recipient to record).
func (p *Processor) transition(ctx context.Context, tx *domain.Transaction, to domain.Status, blockNumber *uint64, touched *[]common.Address) {
	before, changed, err := p.store.UpdateStatus(ctx, tx.TransactionID, to, blockNumber)
	if err != nil {
		p.log.Error().Err(err).Str("tx", tx.TransactionID).Str("to", string(to)).Msg("update transaction status")
		return
	}
	if !changed {
		return
	}
	tx.Status = to
	metrics.TransactionsByStatus.WithLabelValues(string(to)).Inc()
	if p.notifier != nil {
		p.notifier.NotifyAsync(tx, before.Status)
	}
	if !tx.IsContractCreation() {
		*touched = append(*touched, tx.ToAddress)
	}
}

// reconcile probes the chain for a hash the node reported as already
// known (nonce too low / already imported) instead of treating it as a
// failure, and reconciles local status to match. The node having told us
// the hash is known but not yet returning a receipt for it is a brief
// catch-up window, not an error, so the receipt lookup retries with
// jittered backoff for up to about a minute before giving up and falling
// back to unconfirmed.
func (p *Processor) reconcile(ctx context.Context, tx *domain.Transaction, touched *[]common.Address) {
	var receipt *types.Receipt
	err := retry.Do(
		func() error {
			r, err := p.chain.TransactionReceipt(ctx, tx.Hash)
			if err != nil {
				return retry.Unrecoverable(err)
			}
			if r == nil {
				return errReceiptNotYetAvailable
			}
			receipt = r
			return nil
		},
		retry.Context(ctx),
		retry.Attempts(60),
		retry.DelayType(retry.RandomDelay),
		retry.MaxJitter(1*time.Second),
		retry.LastErrorOnly(true),
	)
	if err != nil && !errors.Is(err, errReceiptNotYetAvailable) {
		p.log.Warn().Err(err).Str("hash", tx.Hash.Hex()).Msg("reconcile: receipt lookup failed")
		return
	}
	if receipt != nil {
		bn := receipt.BlockNumber.Uint64()
		p.transition(ctx, tx, domain.StatusConfirmed, &bn, touched)
		return
	}
	if tx.Status != domain.StatusUnconfirmed {
		p.transition(ctx, tx, domain.StatusUnconfirmed, nil, touched)
	}
}
