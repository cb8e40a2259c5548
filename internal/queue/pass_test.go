package queue

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/toshi-network/eth-gateway/internal/domain"
	"github.com/toshi-network/eth-gateway/internal/store"
)

// fakeChain implements ChainReader with canned responses and call counters,
// so tests can assert a deferred pass never reaches send/receipt lookups.
type fakeChain struct {
	balance      *big.Int
	nonce        uint64
	sendErr      error
	sendCalls    int
	receiptCalls int
}

func (f *fakeChain) BalanceAt(ctx context.Context, addr common.Address, block *big.Int) (*big.Int, error) {
	return f.balance, nil
}
func (f *fakeChain) NonceAt(ctx context.Context, addr common.Address, block *big.Int) (uint64, error) {
	return f.nonce, nil
}
func (f *fakeChain) SendRawTransaction(ctx context.Context, tx *types.Transaction) error {
	f.sendCalls++
	return f.sendErr
}
func (f *fakeChain) TransactionReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	f.receiptCalls++
	return nil, nil
}

// fakeCache implements LockCache with a fixed gas floor; the locking
// methods are unused by onePass/resolveOutOfOrder directly and are only
// here to satisfy the interface.
type fakeCache struct {
	safeLow      int64
	haveSafeLow  bool
	safeLowCalls int
}

func (f *fakeCache) AcquireProcessing(ctx context.Context, addr string, ttl time.Duration) (bool, error) {
	return true, nil
}
func (f *fakeCache) RefreshProcessing(ctx context.Context, addr string, ttl time.Duration) error {
	return nil
}
func (f *fakeCache) ReleaseProcessing(ctx context.Context, addr string) error { return nil }
func (f *fakeCache) RequestRerun(ctx context.Context, addr string) error     { return nil }
func (f *fakeCache) TakeRerun(ctx context.Context, addr string) (bool, error) {
	return false, nil
}
func (f *fakeCache) GasSafeLow(ctx context.Context) (int64, bool, error) {
	f.safeLowCalls++
	return f.safeLow, f.haveSafeLow, nil
}

type recordingNotifier struct {
	calls []*domain.Transaction
}

func (n *recordingNotifier) NotifyAsync(tx *domain.Transaction, prevStatus domain.Status) {
	n.calls = append(n.calls, tx)
}

func newTestProcessor(t *testing.T, ch *fakeChain, c *fakeCache) (*Processor, *store.Store, *recordingNotifier) {
	t.Helper()
	s, err := store.NewSQLite(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	notifier := &recordingNotifier{}
	p := New(ch, s, c, notifier, Config{GasFloorRetry: 30 * time.Second}, zerolog.Nop())
	return p, s, notifier
}

func signedRow(from, to common.Address, hash common.Hash, nonce uint64, gasPrice int64, status domain.Status) *domain.Transaction {
	return &domain.Transaction{
		Hash:        hash,
		FromAddress: from,
		ToAddress:   to,
		Nonce:       nonce,
		Value:       big.NewInt(0),
		Gas:         21000,
		GasPrice:    big.NewInt(gasPrice),
		Signature:   &domain.Signature{V: big.NewInt(27), R: big.NewInt(1), S: big.NewInt(1)},
		Status:      status,
	}
}

func TestResolveOutOfOrderHigherGasPriceWins(t *testing.T) {
	p, s, _ := newTestProcessor(t, &fakeChain{}, &fakeCache{})
	ctx := context.Background()
	from := common.HexToAddress("0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa")
	to := common.HexToAddress("0xbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb")

	low := signedRow(from, to, common.HexToHash("0x01"), 5, 1, domain.StatusNew)
	high := signedRow(from, to, common.HexToHash("0x02"), 5, 10, domain.StatusNew)
	require.NoError(t, s.InsertTransaction(ctx, low))
	require.NoError(t, s.InsertTransaction(ctx, high))

	var touched []common.Address
	var failedPrior bool
	restarted, err := p.resolveOutOfOrder(ctx, from, low, &touched, &failedPrior)
	require.NoError(t, err)
	assert.True(t, restarted)
	assert.False(t, failedPrior)

	row, err := s.GetByID(ctx, low.TransactionID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusError, row.Status, "the lower gas price candidate should lose the collision")

	row, err = s.GetByID(ctx, high.TransactionID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusNew, row.Status, "the higher gas price candidate should survive untouched")
}

func TestResolveOutOfOrderIncumbentAlwaysWinsOverNewRegardlessOfPrice(t *testing.T) {
	p, s, _ := newTestProcessor(t, &fakeChain{}, &fakeCache{})
	ctx := context.Background()
	from := common.HexToAddress("0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa")
	to := common.HexToAddress("0xbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb")

	incumbent := signedRow(from, to, common.HexToHash("0x01"), 9, 1, domain.StatusUnconfirmed)
	incoming := signedRow(from, to, common.HexToHash("0x02"), 9, 100, domain.StatusNew)
	require.NoError(t, s.InsertTransaction(ctx, incumbent))
	require.NoError(t, s.InsertTransaction(ctx, incoming))

	var touched []common.Address
	var failedPrior bool
	restarted, err := p.resolveOutOfOrder(ctx, from, incoming, &touched, &failedPrior)
	require.NoError(t, err)
	assert.True(t, restarted)

	row, err := s.GetByID(ctx, incoming.TransactionID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusError, row.Status, "an incoming new row must lose to an already-unconfirmed incumbent even at a far higher price")

	row, err = s.GetByID(ctx, incumbent.TransactionID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusUnconfirmed, row.Status)
}

func TestOnePassDefersWholeQueueBelowGasFloor(t *testing.T) {
	ch := &fakeChain{balance: big.NewInt(1_000_000_000_000_000_000), nonce: 0}
	c := &fakeCache{safeLow: 10, haveSafeLow: true}
	p, s, notifier := newTestProcessor(t, ch, c)
	ctx := context.Background()
	from := common.HexToAddress("0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa")
	to := common.HexToAddress("0xbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb")

	tx := signedRow(from, to, common.HexToHash("0x01"), 0, 1, domain.StatusNew)
	require.NoError(t, s.InsertTransaction(ctx, tx))

	restart, touched, retryAfter, err := p.onePass(ctx, from, nil)
	require.NoError(t, err)
	assert.False(t, restart)
	assert.Equal(t, 30*time.Second, retryAfter)
	assert.Equal(t, 0, ch.sendCalls, "a pass below the gas floor must never submit")

	row, err := s.GetByID(ctx, tx.TransactionID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusQueued, row.Status)
	assert.Equal(t, []common.Address{to}, touched, "a new->queued transition still marks its recipient touched")
	require.Len(t, notifier.calls, 1)
	assert.Equal(t, domain.StatusQueued, notifier.calls[0].Status)
}

func TestOnePassSendsWhenAboveGasFloorAndFunded(t *testing.T) {
	ch := &fakeChain{balance: big.NewInt(1_000_000_000_000_000_000), nonce: 0}
	c := &fakeCache{safeLow: 1, haveSafeLow: true}
	p, s, _ := newTestProcessor(t, ch, c)
	ctx := context.Background()
	from := common.HexToAddress("0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa")
	to := common.HexToAddress("0xbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb")

	tx := signedRow(from, to, common.HexToHash("0x01"), 0, 5, domain.StatusNew)
	require.NoError(t, s.InsertTransaction(ctx, tx))

	restart, _, retryAfter, err := p.onePass(ctx, from, nil)
	require.NoError(t, err)
	assert.False(t, restart)
	assert.Zero(t, retryAfter)
	assert.Equal(t, 1, ch.sendCalls)

	row, err := s.GetByID(ctx, tx.TransactionID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusUnconfirmed, row.Status)
}
