package store

import (
	"context"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// StaleSenders returns distinct from_addresses with a signed transaction
// older than olderThan still in unconfirmed/queued/new — candidates for a
// housekeeping sanity sweep.
func (s *Store) StaleSenders(ctx context.Context, olderThan time.Duration) ([]common.Address, error) {
	cutoff := time.Now().UTC().Add(-olderThan)
	var addrs []string
	err := s.db.SelectContext(ctx, &addrs, s.db.Rebind(`
		SELECT DISTINCT from_address FROM transactions
		WHERE (status = 'unconfirmed' OR status = 'queued' OR status = 'new')
		AND r IS NOT NULL AND created < ?`), cutoff)
	if err != nil {
		return nil, fmt.Errorf("stale senders: %w", err)
	}
	return toAddresses(addrs), nil
}

// SendersWithQueuedButNoUnconfirmed returns senders whose queue has a
// new/queued row but no matching unconfirmed row: a queue stuck with
// nothing in flight to unblock it.
func (s *Store) SendersWithQueuedButNoUnconfirmed(ctx context.Context) ([]common.Address, error) {
	var addrs []string
	err := s.db.SelectContext(ctx, &addrs, `
		WITH queued_senders AS (
			SELECT DISTINCT from_address FROM transactions WHERE (status = 'new' OR status = 'queued') AND r IS NOT NULL
		), unconfirmed_counts AS (
			SELECT from_address, COUNT(*) AS c FROM transactions WHERE status = 'unconfirmed' AND r IS NOT NULL GROUP BY from_address
		)
		SELECT qs.from_address FROM queued_senders qs
		LEFT JOIN unconfirmed_counts uc ON qs.from_address = uc.from_address
		WHERE uc.c IS NULL`)
	if err != nil {
		return nil, fmt.Errorf("senders with queued but no unconfirmed: %w", err)
	}
	return toAddresses(addrs), nil
}

func toAddresses(hexes []string) []common.Address {
	out := make([]common.Address, len(hexes))
	for i, h := range hexes {
		out[i] = common.HexToAddress(h)
	}
	return out
}
