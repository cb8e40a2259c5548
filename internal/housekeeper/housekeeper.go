// Package housekeeper runs the periodic sanity sweep and gas-price oracle
// refresh: the backstop that resurrects transactions a normal pass
// wouldn't revisit and keeps the cached gas-price floor current.
package housekeeper

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"

	"github.com/toshi-network/eth-gateway/internal/cache"
	"github.com/toshi-network/eth-gateway/internal/chain"
	"github.com/toshi-network/eth-gateway/internal/store"
)

// QueueTrigger requests a processor pass for an address; satisfied
// structurally by *queue.Processor.
type QueueTrigger interface {
	Trigger(addr common.Address)
}

// Config carries the sweep thresholds and oracle endpoint.
type Config struct {
	Interval      time.Duration
	StaleAfter    time.Duration
	OracleURL     string
	OracleTimeout time.Duration
}

// Housekeeper wires the store, chain client, cache, and queue trigger
// together for the two periodic jobs.
type Housekeeper struct {
	store *store.Store
	chain *chain.Client
	cache *cache.Cache
	queue QueueTrigger
	cfg   Config
	log   zerolog.Logger
}

func New(s *store.Store, c *chain.Client, ch *cache.Cache, queue QueueTrigger, cfg Config, log zerolog.Logger) *Housekeeper {
	return &Housekeeper{store: s, chain: c, cache: ch, queue: queue, cfg: cfg, log: log}
}

// Run ticks the sanity sweep and gas-price refresh every cfg.Interval
// until ctx is canceled.
func (h *Housekeeper) Run(ctx context.Context) {
	ticker := time.NewTicker(h.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.SanitySweep(ctx)
			if err := h.RefreshGasPrices(ctx); err != nil {
				h.log.Error().Err(err).Msg("gas price oracle refresh failed")
			}
		}
	}
}
