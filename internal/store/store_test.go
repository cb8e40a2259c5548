package store

import (
	"context"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/toshi-network/eth-gateway/internal/domain"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewSQLite(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func sampleTx(from, to common.Address, nonce uint64, status domain.Status) *domain.Transaction {
	return &domain.Transaction{
		Hash:        common.BytesToHash([]byte{byte(nonce), byte(nonce >> 8)}),
		FromAddress: from,
		ToAddress:   to,
		Nonce:       nonce,
		Value:       big.NewInt(1_000_000_000_000),
		Gas:         21000,
		GasPrice:    big.NewInt(20_000_000_000),
		Status:      status,
		Signature:   &domain.Signature{V: big.NewInt(27), R: big.NewInt(1), S: big.NewInt(2)},
	}
}

func TestInsertAndGet(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	from := common.HexToAddress("0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa")
	to := common.HexToAddress("0xbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb")
	tx := sampleTx(from, to, 0, domain.StatusUnconfirmed)

	require.NoError(t, s.InsertTransaction(ctx, tx))

	got, err := s.GetByID(ctx, tx.TransactionID)
	require.NoError(t, err)
	assert.Equal(t, tx.Hash, got.Hash)
	assert.Equal(t, tx.Value.String(), got.Value.String())

	byHash, err := s.GetByHash(ctx, tx.Hash)
	require.NoError(t, err)
	assert.Equal(t, tx.TransactionID, byHash.TransactionID)

	_, err = s.GetByID(ctx, "does-not-exist")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestActiveAtNonceExcludesError(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	from := common.HexToAddress("0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa")
	to := common.HexToAddress("0xbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb")

	tx := sampleTx(from, to, 5, domain.StatusNew)
	require.NoError(t, s.InsertTransaction(ctx, tx))

	active, err := s.ActiveAtNonce(ctx, from, 5)
	require.NoError(t, err)
	assert.Equal(t, tx.TransactionID, active.TransactionID)

	_, _, err = s.UpdateStatus(ctx, tx.TransactionID, domain.StatusError, nil)
	require.NoError(t, err)

	_, err = s.ActiveAtNonce(ctx, from, 5)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestUpdateStatusRejectsInvalidTransition(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	from := common.HexToAddress("0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa")
	to := common.HexToAddress("0xbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb")

	tx := sampleTx(from, to, 0, domain.StatusConfirmed)
	bn := uint64(100)
	tx.BlockNumber = &bn
	require.NoError(t, s.InsertTransaction(ctx, tx))

	_, changed, err := s.UpdateStatus(ctx, tx.TransactionID, domain.StatusConfirmed, &bn)
	require.NoError(t, err)
	assert.False(t, changed, "confirmed->confirmed must be a no-op, not an error")

	_, _, err = s.UpdateStatus(ctx, tx.TransactionID, domain.StatusUnconfirmed, nil)
	assert.Error(t, err)
}

func TestLastBlockNumberRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	n, err := s.LastBlockNumber(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), n)

	require.NoError(t, s.SetLastBlockNumber(ctx, 42))
	n, err = s.LastBlockNumber(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(42), n)

	require.NoError(t, s.SetLastBlockNumber(ctx, 43))
	n, err = s.LastBlockNumber(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(43), n)
}

func TestTokenBalanceRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	addr := common.HexToAddress("0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa")
	contract := common.HexToAddress("0xcccccccccccccccccccccccccccccccccccccc")

	require.NoError(t, s.RegisterToken(ctx, addr, contract, "TOK", "Token", 18))

	ok, err := s.HasTrackedBalance(ctx, addr, contract)
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, s.UpsertTokenBalance(ctx, &domain.TokenBalance{EthAddress: addr, ContractAddress: contract, Balance: big.NewInt(500)}))

	balances, err := s.TokenBalancesByAddress(ctx, addr)
	require.NoError(t, err)
	require.Len(t, balances, 1)
	assert.Equal(t, "500", balances[0].Balance.String())

	require.NoError(t, s.DeregisterToken(ctx, addr, contract))
	ok, err = s.HasTrackedBalance(ctx, addr, contract)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSubscriptionRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	addr := common.HexToAddress("0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa")

	require.NoError(t, s.AddSubscription(ctx, "tok1", addr, domain.ServiceWS))
	require.NoError(t, s.AddSubscription(ctx, "tok1", addr, domain.ServiceGCM))

	services, err := s.ServicesForAddress(ctx, addr)
	require.NoError(t, err)
	assert.ElementsMatch(t, []domain.SubscriptionService{domain.ServiceWS, domain.ServiceGCM}, services)

	require.NoError(t, s.RemoveSubscription(ctx, "tok1", addr, domain.ServiceGCM))
	services, err = s.ServicesForAddress(ctx, addr)
	require.NoError(t, err)
	assert.Equal(t, []domain.SubscriptionService{domain.ServiceWS}, services)
}
