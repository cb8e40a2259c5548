package domain

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidTransition(t *testing.T) {
	cases := []struct {
		from, to Status
		want     bool
	}{
		{StatusNew, StatusQueued, true},
		{StatusNew, StatusUnconfirmed, true},
		{StatusNew, StatusError, true},
		{StatusQueued, StatusUnconfirmed, true},
		{StatusQueued, StatusNew, false},
		{StatusUnconfirmed, StatusConfirmed, true},
		{StatusUnconfirmed, StatusQueued, false},
		{StatusConfirmed, StatusConfirmed, true},
		{StatusConfirmed, StatusError, false},
		{StatusConfirmed, StatusUnconfirmed, false},
		{StatusError, StatusNew, false},
		{StatusError, StatusQueued, false},
	}
	for _, c := range cases {
		assert.Equalf(t, c.want, ValidTransition(c.from, c.to), "%s->%s", c.from, c.to)
	}
}

func TestTransactionCost(t *testing.T) {
	tx := &Transaction{
		Value:    big.NewInt(1_000_000_000_000),
		Gas:      21000,
		GasPrice: big.NewInt(20_000_000_000),
	}
	want := new(big.Int).Add(tx.Value, big.NewInt(21000*20_000_000_000))
	assert.Equal(t, want, tx.Cost())
}
