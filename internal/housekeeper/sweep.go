package housekeeper

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/toshi-network/eth-gateway/internal/domain"
	"github.com/toshi-network/eth-gateway/internal/metrics"
)

// SanitySweep resurrects senders whose queue has gone quiet: a stale
// unconfirmed hash gets re-probed and either reconciled or rebroadcast,
// and a stuck queue with nothing in flight gets a fresh pass triggered.
func (h *Housekeeper) SanitySweep(ctx context.Context) {
	stale, err := h.store.StaleSenders(ctx, h.cfg.StaleAfter)
	if err != nil {
		h.log.Error().Err(err).Msg("load stale senders")
		return
	}
	lastBlock, err := h.store.LastBlockNumber(ctx)
	if err != nil {
		h.log.Error().Err(err).Msg("load last block for sweep")
		return
	}
	for _, addr := range stale {
		h.reconcileSender(ctx, addr, lastBlock)
	}

	stuck, err := h.store.SendersWithQueuedButNoUnconfirmed(ctx)
	if err != nil {
		h.log.Error().Err(err).Msg("load stuck senders")
		return
	}
	for _, addr := range stuck {
		h.queue.Trigger(addr)
	}
}

func (h *Housekeeper) reconcileSender(ctx context.Context, addr common.Address, lastBlock uint64) {
	rows, err := h.store.UnconfirmedOutbound(ctx, addr, lastBlock)
	if err != nil {
		h.log.Error().Err(err).Str("addr", addr.Hex()).Msg("load unconfirmed outbound for sweep")
		return
	}
	for _, row := range rows {
		h.reconcileRow(ctx, row)
	}
}

func (h *Housekeeper) reconcileRow(ctx context.Context, row *domain.Transaction) {
	receipt, err := h.chain.TransactionReceipt(ctx, row.Hash)
	if err == nil && receipt != nil {
		bn := receipt.BlockNumber.Uint64()
		if _, _, err := h.store.UpdateStatus(ctx, row.TransactionID, domain.StatusConfirmed, &bn); err != nil {
			h.log.Error().Err(err).Str("tx", row.TransactionID).Msg("reconcile to confirmed")
		}
		return
	}

	_, found, err := h.chain.TransactionByHash(ctx, row.Hash)
	if err != nil {
		h.log.Warn().Err(err).Str("hash", row.Hash.Hex()).Msg("sweep: probe transaction by hash failed")
		return
	}
	if found {
		return
	}

	h.rebroadcast(ctx, row)
}

// rebroadcast re-encodes a stale row exactly as the queue processor would
// and resends it. A hash mismatch after re-encoding means the row's fields
// no longer reproduce the original signed envelope; that can't be
// resubmitted safely, so it is only logged.
func (h *Housekeeper) rebroadcast(ctx context.Context, row *domain.Transaction) {
	var to *common.Address
	if !row.IsContractCreation() {
		addr := row.ToAddress
		to = &addr
	}
	signed := types.NewTx(&types.LegacyTx{
		Nonce:    row.Nonce,
		To:       to,
		Value:    row.Value,
		Gas:      row.Gas,
		GasPrice: row.GasPrice,
		Data:     row.Data,
		V:        row.Signature.V,
		R:        row.Signature.R,
		S:        row.Signature.S,
	})
	if signed.Hash() != row.Hash {
		h.log.Error().Str("tx", row.TransactionID).Msg("sweep: re-encoded hash does not match stored hash, skipping rebroadcast")
		return
	}
	if err := h.chain.SendRawTransaction(ctx, signed); err != nil {
		h.log.Warn().Err(err).Str("tx", row.TransactionID).Msg("sweep: rebroadcast failed")
		return
	}
	metrics.HousekeeperRebroadcasts.Inc()
}
