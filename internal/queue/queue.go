// Package queue implements the per-sender serial engine that advances a
// sender's pending transactions through the status state machine: nonce
// ordering, overwrite-collision resolution, gas-price floor deferral, and
// balance-aware scheduling with inbound-funding lookahead.
//
// Mutual exclusion across replicas is a redis lock (internal/cache); the
// in-process worker map below is purely a local dispatcher so a burst of
// triggers for the same address coalesces onto one goroutine instead of
// spawning one per trigger. This mirrors the "per-key goroutine spawned on
// demand, retired when idle" shape used for per-account broadcaster loops
// in production tx-relay systems.
package queue

import (
	"context"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/rs/zerolog"

	"github.com/toshi-network/eth-gateway/internal/domain"
	"github.com/toshi-network/eth-gateway/internal/metrics"
	"github.com/toshi-network/eth-gateway/internal/store"
)

// Notifier is the narrow slice of the notification fan-out the queue
// processor needs: told about a transition so it can render and dispatch.
type Notifier interface {
	NotifyAsync(tx *domain.Transaction, prevStatus domain.Status)
}

// ChainReader is the subset of *chain.Client the processor depends on. It
// lives here, the same way Notifier does, so a pass can be driven against a
// fake node in tests.
type ChainReader interface {
	BalanceAt(ctx context.Context, addr common.Address, block *big.Int) (*big.Int, error)
	NonceAt(ctx context.Context, addr common.Address, block *big.Int) (uint64, error)
	SendRawTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error)
}

// LockCache is the subset of *cache.Cache the processor depends on for
// distributed mutual exclusion and the cached gas-price floor.
type LockCache interface {
	AcquireProcessing(ctx context.Context, addr string, ttl time.Duration) (bool, error)
	RefreshProcessing(ctx context.Context, addr string, ttl time.Duration) error
	ReleaseProcessing(ctx context.Context, addr string) error
	RequestRerun(ctx context.Context, addr string) error
	TakeRerun(ctx context.Context, addr string) (bool, error)
	GasSafeLow(ctx context.Context) (int64, bool, error)
}

// Config carries the lock TTLs and deferral interval the processor needs.
type Config struct {
	ProcessingLockTTL time.Duration
	GasFloorRetry     time.Duration
}

// Processor runs passes for addresses on demand.
type Processor struct {
	chain    ChainReader
	store    *store.Store
	cache    LockCache
	notifier Notifier
	cfg      Config
	log      zerolog.Logger

	mu      sync.Mutex
	workers map[common.Address]chan struct{}
}

func New(c ChainReader, s *store.Store, ch LockCache, notifier Notifier, cfg Config, log zerolog.Logger) *Processor {
	return &Processor{
		chain:    c,
		store:    s,
		cache:    ch,
		notifier: notifier,
		cfg:      cfg,
		log:      log,
		workers:  make(map[common.Address]chan struct{}),
	}
}

const workerIdleTimeout = 2 * time.Minute

// Trigger requests a pass for addr. It never blocks: if a worker for addr
// is already awake, the request coalesces into its next iteration.
func (p *Processor) Trigger(addr common.Address) {
	p.mu.Lock()
	ch, ok := p.workers[addr]
	if !ok {
		ch = make(chan struct{}, 1)
		p.workers[addr] = ch
		go p.run(addr, ch)
	}
	p.mu.Unlock()

	select {
	case ch <- struct{}{}:
	default:
	}
}

func (p *Processor) run(addr common.Address, trigger chan struct{}) {
	idle := time.NewTimer(workerIdleTimeout)
	defer idle.Stop()
	for {
		select {
		case <-trigger:
			if !idle.Stop() {
				<-idle.C
			}
			idle.Reset(workerIdleTimeout)
			p.processUntilQuiet(context.Background(), addr)
		case <-idle.C:
			p.mu.Lock()
			delete(p.workers, addr)
			p.mu.Unlock()
			return
		}
	}
}

// processUntilQuiet acquires the distributed processing lock, runs passes
// until the rerun flag comes back clear, and retriggers every affected
// downstream recipient.
func (p *Processor) processUntilQuiet(ctx context.Context, addr common.Address) {
	acquired, err := p.cache.AcquireProcessing(ctx, addr.Hex(), p.cfg.ProcessingLockTTL)
	if err != nil {
		p.log.Error().Err(err).Str("addr", addr.Hex()).Msg("acquire processing lock")
		return
	}
	if !acquired {
		if err := p.cache.RequestRerun(ctx, addr.Hex()); err != nil {
			p.log.Error().Err(err).Str("addr", addr.Hex()).Msg("request rerun")
		}
		return
	}
	defer func() {
		if err := p.cache.ReleaseProcessing(ctx, addr.Hex()); err != nil {
			p.log.Error().Err(err).Str("addr", addr.Hex()).Msg("release processing lock")
		}
	}()

	for {
		touched, retryAfter, err := p.runPass(ctx, addr)
		if err != nil {
			p.log.Error().Err(err).Str("addr", addr.Hex()).Msg("queue pass failed")
			metrics.QueuePassesTotal.WithLabelValues("error").Inc()
		} else {
			metrics.QueuePassesTotal.WithLabelValues("ok").Inc()
		}
		for _, a := range touched {
			p.Trigger(a)
		}
		if retryAfter > 0 {
			time.AfterFunc(retryAfter, func() { p.Trigger(addr) })
		}
		if err := p.cache.RefreshProcessing(ctx, addr.Hex(), p.cfg.ProcessingLockTTL); err != nil {
			p.log.Error().Err(err).Str("addr", addr.Hex()).Msg("refresh processing lock")
		}
		rerun, err := p.cache.TakeRerun(ctx, addr.Hex())
		if err != nil {
			p.log.Error().Err(err).Str("addr", addr.Hex()).Msg("take rerun flag")
			return
		}
		if !rerun {
			return
		}
	}
}
