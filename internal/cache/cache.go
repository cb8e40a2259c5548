// Package cache implements the coordination state kept in redis: the
// per-sender processing lock, the rerun flag, the per-(sender,nonce)
// submission lock, the cached nonce hint, and the gas-price floor. Every
// value held here is a hint reconstructible from the state store or the
// chain itself — nothing here is the system of record.
package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Cache wraps a redis client with the gateway's coordination primitives.
type Cache struct {
	rdb *redis.Client
}

// New dials redis lazily (the client is created eagerly but connections are
// established on first use, matching go-redis's own behavior).
func New(url string) (*Cache, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	return &Cache{rdb: redis.NewClient(opts)}, nil
}

func (c *Cache) Close() error { return c.rdb.Close() }

func processingKey(addr string) string { return "processing:" + addr }
func rerunKey(addr string) string      { return "processing:" + addr + ":rerun" }
func submissionKey(addr string, nonce uint64) string {
	return fmt.Sprintf("submitting:%s:%d", addr, nonce)
}

// AcquireProcessing attempts to take the per-address processing lock with
// the given TTL. It returns true if the caller now owns the lock.
func (c *Cache) AcquireProcessing(ctx context.Context, addr string, ttl time.Duration) (bool, error) {
	ok, err := c.rdb.SetNX(ctx, processingKey(addr), 1, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("acquire processing lock for %s: %w", addr, err)
	}
	return ok, nil
}

// RefreshProcessing resets the TTL on an already-held processing lock, used
// between passes of a rerun loop so a long queue doesn't lose its lock
// mid-sweep.
func (c *Cache) RefreshProcessing(ctx context.Context, addr string, ttl time.Duration) error {
	if err := c.rdb.Set(ctx, processingKey(addr), 1, ttl).Err(); err != nil {
		return fmt.Errorf("refresh processing lock for %s: %w", addr, err)
	}
	return nil
}

// ReleaseProcessing drops the processing lock unconditionally. Safe to call
// even if the lock already expired.
func (c *Cache) ReleaseProcessing(ctx context.Context, addr string) error {
	if err := c.rdb.Del(ctx, processingKey(addr)).Err(); err != nil {
		return fmt.Errorf("release processing lock for %s: %w", addr, err)
	}
	return nil
}

// RequestRerun records that a pass is needed for addr once the current
// holder of the processing lock finishes.
func (c *Cache) RequestRerun(ctx context.Context, addr string) error {
	if err := c.rdb.Set(ctx, rerunKey(addr), 1, 0).Err(); err != nil {
		return fmt.Errorf("request rerun for %s: %w", addr, err)
	}
	return nil
}

// TakeRerun atomically reads and clears the rerun flag, returning whether
// it was set, pipelined into a single round trip.
func (c *Cache) TakeRerun(ctx context.Context, addr string) (bool, error) {
	pipe := c.rdb.TxPipeline()
	getCmd := pipe.Get(ctx, rerunKey(addr))
	pipe.Del(ctx, rerunKey(addr))
	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return false, fmt.Errorf("take rerun for %s: %w", addr, err)
	}
	val, err := getCmd.Result()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("take rerun for %s: %w", addr, err)
	}
	return val == "1", nil
}

// AcquireSubmission takes the short-lived (sender, nonce) submission lock
// guarding the admission window between nonce validation and the row insert.
func (c *Cache) AcquireSubmission(ctx context.Context, addr string, nonce uint64, ttl time.Duration) (bool, error) {
	ok, err := c.rdb.SetNX(ctx, submissionKey(addr, nonce), 1, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("acquire submission lock for %s/%d: %w", addr, nonce, err)
	}
	return ok, nil
}

// ReleaseSubmission drops the submission lock once Intake has finished
// admitting (or rejecting) the transaction.
func (c *Cache) ReleaseSubmission(ctx context.Context, addr string, nonce uint64) error {
	if err := c.rdb.Del(ctx, submissionKey(addr, nonce)).Err(); err != nil {
		return fmt.Errorf("release submission lock for %s/%d: %w", addr, nonce, err)
	}
	return nil
}

const nonceHintKey = "nonce_hint:"

// NonceHint returns the cached next-nonce hint for addr, or (0, false) if
// none is cached.
func (c *Cache) NonceHint(ctx context.Context, addr string) (uint64, bool, error) {
	val, err := c.rdb.Get(ctx, nonceHintKey+addr).Uint64()
	if err == redis.Nil {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("get nonce hint for %s: %w", addr, err)
	}
	return val, true, nil
}

// SetNonceHint records the next nonce Intake expects for addr.
func (c *Cache) SetNonceHint(ctx context.Context, addr string, nonce uint64) error {
	if err := c.rdb.Set(ctx, nonceHintKey+addr, nonce, 0).Err(); err != nil {
		return fmt.Errorf("set nonce hint for %s: %w", addr, err)
	}
	return nil
}

const (
	gasSafeLowKey  = "gas_station_safelow_gas_price"
	gasStandardKey = "gas_station_standard_gas_price"
)

// GasSafeLow returns the cached safe-low gas-price floor in wei. Its second
// result is false if the Housekeeper has not populated it yet (callers
// should then fall back to the configured default).
func (c *Cache) GasSafeLow(ctx context.Context) (int64, bool, error) {
	val, err := c.rdb.Get(ctx, gasSafeLowKey).Int64()
	if err == redis.Nil {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("get gas safe-low: %w", err)
	}
	return val, true, nil
}

// SetGasPrices stores the gas oracle's refreshed safe-low/standard prices.
func (c *Cache) SetGasPrices(ctx context.Context, safeLowWei, standardWei int64) error {
	pipe := c.rdb.TxPipeline()
	pipe.Set(ctx, gasSafeLowKey, safeLowWei, 0)
	pipe.Set(ctx, gasStandardKey, standardWei, 0)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("set gas prices: %w", err)
	}
	return nil
}
