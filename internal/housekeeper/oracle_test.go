package housekeeper

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDeriveGasPricesNormal(t *testing.T) {
	safeLow, standard := deriveGasPrices(oracleResponse{Average: 40, SafeLow: 20})
	assert.Equal(t, int64(20*gweiToWei), safeLow)
	assert.Equal(t, int64(40*gweiToWei), standard)
}

func TestDeriveGasPricesSafeLowAboveStandard(t *testing.T) {
	safeLow, standard := deriveGasPrices(oracleResponse{Average: 10, SafeLow: 50})
	assert.Equal(t, int64(50*gweiToWei), safeLow)
	assert.Equal(t, safeLow+1_000_000_000, standard)
}
