// Package monitor polls for new blocks, confirms pending transactions
// against them, extracts ERC20/WETH transfer events, and advances the
// last-processed-block marker only once every side effect for a block has
// been committed.
package monitor

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/rs/zerolog"

	"github.com/toshi-network/eth-gateway/internal/domain"
	"github.com/toshi-network/eth-gateway/internal/erc20"
	"github.com/toshi-network/eth-gateway/internal/metrics"
	"github.com/toshi-network/eth-gateway/internal/store"
)

// Notifier is told about every transaction whose status changed.
type Notifier interface {
	NotifyAsync(tx *domain.Transaction, prevStatus domain.Status)
}

// ChainReader is the subset of *chain.Client the monitor depends on. It
// lives here as a narrow interface, the same way Notifier and QueueTrigger
// do, so the ingestion logic can be exercised against a fake node in tests.
type ChainReader interface {
	BlockNumber(ctx context.Context) (uint64, error)
	BlockByNumber(ctx context.Context, num *big.Int) (*types.Block, error)
	FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error)
	ERC20BalanceOf(ctx context.Context, contract, owner common.Address) (*big.Int, error)
	TransactionByHash(ctx context.Context, hash common.Hash) (*types.Transaction, bool, error)
	ChainID(ctx context.Context) (*big.Int, error)
}

// QueueTrigger requests a processor pass for an address that may now be
// unblocked — a confirmation can fund a downstream send.
type QueueTrigger interface {
	Trigger(addr common.Address)
}

// Config bounds how much work a single tick may do.
type Config struct {
	PollInterval time.Duration
	BatchSize    uint64
}

// Monitor drives the block-ingestion loop.
type Monitor struct {
	chain    ChainReader
	store    *store.Store
	notifier Notifier
	queue    QueueTrigger
	cfg      Config
	log      zerolog.Logger

	lastSeenHash common.Hash

	signerInit struct {
		once   sync.Once
		signer types.Signer
		err    error
	}
}

func New(c ChainReader, s *store.Store, notifier Notifier, queue QueueTrigger, cfg Config, log zerolog.Logger) *Monitor {
	return &Monitor{chain: c, store: s, notifier: notifier, queue: queue, cfg: cfg, log: log}
}

// recoverSender resolves the sender of a transaction this gateway did not
// itself sign. It uses the latest signer for the node's chain ID rather than
// a fixed EIP-155 signer, since an externally-originated transaction may be
// of any type, not just legacy.
func (m *Monitor) recoverSender(ctx context.Context, tx *types.Transaction) (common.Address, error) {
	m.signerInit.once.Do(func() {
		id, err := m.chain.ChainID(ctx)
		if err != nil {
			m.signerInit.err = err
			return
		}
		m.signerInit.signer = types.LatestSignerForChainID(id)
	})
	if m.signerInit.err != nil {
		return common.Address{}, m.signerInit.err
	}
	return types.Sender(m.signerInit.signer, tx)
}

// Run polls on cfg.PollInterval until ctx is canceled.
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.cfg.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := m.Tick(ctx); err != nil {
				m.log.Error().Err(err).Msg("block monitor tick failed")
			}
		}
	}
}

// Tick ingests blocks in (last_block, latest] up to cfg.BatchSize. On any
// RPC failure it aborts without advancing last_block; the next tick
// retries from the same point.
func (m *Monitor) Tick(ctx context.Context) error {
	lastBlock, err := m.store.LastBlockNumber(ctx)
	if err != nil {
		return err
	}
	latest, err := m.chain.BlockNumber(ctx)
	if err != nil {
		return err
	}
	metrics.BlockMonitorLag.Set(float64(latest - lastBlock))
	if latest <= lastBlock {
		return nil
	}

	end := latest
	if end-lastBlock > m.cfg.BatchSize {
		end = lastBlock + m.cfg.BatchSize
	}

	for n := lastBlock + 1; n <= end; n++ {
		touched, err := m.ingestBlock(ctx, n)
		if err != nil {
			return err
		}
		if err := m.store.SetLastBlockNumber(ctx, n); err != nil {
			return err
		}
		metrics.BlocksIngested.Inc()
		for _, addr := range touched {
			if m.queue != nil {
				m.queue.Trigger(addr)
			}
		}
	}
	return nil
}

// ingestBlock processes block n: confirmations first, then token-transfer
// logs. Re-reading a block whose parent hash has changed (a shallow reorg)
// is safe because every write here is an idempotent upsert.
func (m *Monitor) ingestBlock(ctx context.Context, n uint64) ([]common.Address, error) {
	block, err := m.chain.BlockByNumber(ctx, new(big.Int).SetUint64(n))
	if err != nil {
		return nil, err
	}

	if m.lastSeenHash != (common.Hash{}) && block.ParentHash() != m.lastSeenHash {
		m.log.Warn().Uint64("block", n).Msg("parent hash mismatch, possible reorg")
	}
	m.lastSeenHash = block.Hash()

	var touched []common.Address

	for _, tx := range block.Transactions() {
		addr, changed, err := m.confirmIfKnown(ctx, tx, n)
		if err != nil {
			return nil, err
		}
		if changed {
			touched = append(touched, addr)
		}
	}

	logs, err := m.chain.FilterLogs(ctx, ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(n),
		ToBlock:   new(big.Int).SetUint64(n),
		Topics:    [][]common.Hash{{erc20.TransferTopic, erc20.DepositTopic, erc20.WithdrawalTopic}},
	})
	if err != nil {
		return nil, err
	}
	for _, lg := range logs {
		affected, err := m.ingestLog(ctx, lg, n)
		if err != nil {
			return nil, err
		}
		touched = append(touched, affected...)
	}

	return touched, nil
}

// confirmIfKnown promotes a block's transaction to confirmed if we have a
// row for its hash still awaiting confirmation.
func (m *Monitor) confirmIfKnown(ctx context.Context, tx *types.Transaction, blockNumber uint64) (common.Address, bool, error) {
	row, err := m.store.GetByHash(ctx, tx.Hash())
	if errors.Is(err, store.ErrNotFound) {
		return common.Address{}, false, nil
	}
	if err != nil {
		return common.Address{}, false, err
	}
	switch row.Status {
	case domain.StatusUnconfirmed, domain.StatusNew, domain.StatusQueued:
	default:
		return common.Address{}, false, nil
	}

	before, changed, err := m.store.UpdateStatus(ctx, row.TransactionID, domain.StatusConfirmed, &blockNumber)
	if err != nil {
		return common.Address{}, false, err
	}
	if !changed {
		return common.Address{}, false, nil
	}
	if m.notifier != nil {
		row.Status = domain.StatusConfirmed
		row.BlockNumber = &blockNumber
		m.notifier.NotifyAsync(row, before.Status)
	}
	return row.ToAddress, true, nil
}
