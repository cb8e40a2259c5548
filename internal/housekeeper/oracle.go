package housekeeper

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/toshi-network/eth-gateway/internal/metrics"
)

// oracleResponse mirrors the subset of a typical gas-price oracle's JSON
// body this gateway consumes: average/safeLow in Gwei*10 units.
type oracleResponse struct {
	Average float64 `json:"average"`
	SafeLow float64 `json:"safeLow"`
}

const gweiToWei = 1e8 // average/safeLow are Gwei*10; *1e8 converts to wei

// RefreshGasPrices fetches the configured oracle, derives safe-low and
// standard gas prices in wei, and stores them in the cache.
func (h *Housekeeper) RefreshGasPrices(ctx context.Context) error {
	if h.cfg.OracleURL == "" {
		return nil
	}
	reqCtx, cancel := context.WithTimeout(ctx, h.cfg.OracleTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, h.cfg.OracleURL, nil)
	if err != nil {
		return fmt.Errorf("build oracle request: %w", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("fetch gas oracle: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("gas oracle returned status %d", resp.StatusCode)
	}

	var body oracleResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return fmt.Errorf("decode gas oracle response: %w", err)
	}

	safeLow, standard := deriveGasPrices(body)
	if err := h.cache.SetGasPrices(ctx, safeLow, standard); err != nil {
		return fmt.Errorf("store gas prices: %w", err)
	}
	metrics.GasPriceFloorWei.Set(float64(safeLow))
	return nil
}

// deriveGasPrices converts the oracle's Gwei*10 units to wei and enforces
// that standard never sits below the safe-low floor: when safe-low exceeds
// it, standard becomes safe-low plus 1 Gwei.
func deriveGasPrices(body oracleResponse) (safeLow, standard int64) {
	safeLow = int64(body.SafeLow * gweiToWei)
	standard = int64(body.Average * gweiToWei)
	const oneGwei = 1_000_000_000
	if safeLow > standard {
		standard = safeLow + oneGwei
	}
	return safeLow, standard
}
