package notify

import (
	"context"
	"math/big"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/toshi-network/eth-gateway/internal/domain"
	"github.com/toshi-network/eth-gateway/internal/store"
)

type recordingTransport struct {
	mu        sync.Mutex
	delivered []delivered
}

type delivered struct {
	service domain.SubscriptionService
	addr    common.Address
	payload any
}

func (t *recordingTransport) Deliver(_ context.Context, service domain.SubscriptionService, addr common.Address, payload any) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.delivered = append(t.delivered, delivered{service, addr, payload})
}

func newTestNotifier(t *testing.T) (*Notifier, *recordingTransport, *store.Store) {
	t.Helper()
	s, err := store.NewSQLite(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	transport := &recordingTransport{}
	n := New(s, transport, 1, zerolog.Nop())
	return n, transport, s
}

func sampleTx(from, to common.Address, status domain.Status) *domain.Transaction {
	return &domain.Transaction{
		TransactionID: "tx-1",
		Hash:          common.HexToHash("0x01"),
		FromAddress:   from,
		ToAddress:     to,
		Value:         big.NewInt(100),
		Status:        status,
	}
}

func TestNotifyBothEndpointsOnConfirm(t *testing.T) {
	n, transport, s := newTestNotifier(t)
	from := common.HexToAddress("0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa")
	to := common.HexToAddress("0xbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb")
	require.NoError(t, s.AddSubscription(context.Background(), "tok-a", from, domain.ServiceWS))
	require.NoError(t, s.AddSubscription(context.Background(), "tok-b", to, domain.ServiceWS))

	tx := sampleTx(from, to, domain.StatusConfirmed)
	n.NotifyAsync(tx, domain.StatusUnconfirmed)
	n.Wait()

	transport.mu.Lock()
	defer transport.mu.Unlock()
	assert.Len(t, transport.delivered, 2)
}

func TestNotifyErrorAfterNewOnlyNotifiesSender(t *testing.T) {
	n, transport, s := newTestNotifier(t)
	from := common.HexToAddress("0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa")
	to := common.HexToAddress("0xbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb")
	require.NoError(t, s.AddSubscription(context.Background(), "tok-a", from, domain.ServiceWS))
	require.NoError(t, s.AddSubscription(context.Background(), "tok-b", to, domain.ServiceWS))

	tx := sampleTx(from, to, domain.StatusError)
	n.NotifyAsync(tx, domain.StatusNew)
	n.Wait()

	transport.mu.Lock()
	defer transport.mu.Unlock()
	require.Len(t, transport.delivered, 1)
	assert.Equal(t, from, transport.delivered[0].addr)
}

func TestQueuedToUnconfirmedSuppressesDuplicate(t *testing.T) {
	n, transport, s := newTestNotifier(t)
	from := common.HexToAddress("0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa")
	to := common.HexToAddress("0xbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb")
	require.NoError(t, s.AddSubscription(context.Background(), "tok-a", from, domain.ServiceWS))

	tx := sampleTx(from, to, domain.StatusUnconfirmed)
	n.NotifyAsync(tx, domain.StatusQueued)
	n.Wait()

	transport.mu.Lock()
	defer transport.mu.Unlock()
	assert.Empty(t, transport.delivered)
}

func TestDuplicateNotificationForSameStatusIsSuppressed(t *testing.T) {
	n, transport, s := newTestNotifier(t)
	from := common.HexToAddress("0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa")
	to := common.HexToAddress("0xbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb")
	require.NoError(t, s.AddSubscription(context.Background(), "tok-a", from, domain.ServiceWS))

	tx := sampleTx(from, to, domain.StatusConfirmed)
	n.NotifyAsync(tx, domain.StatusUnconfirmed)
	n.Wait()
	n.NotifyAsync(tx, domain.StatusUnconfirmed)
	n.Wait()

	transport.mu.Lock()
	defer transport.mu.Unlock()
	assert.Len(t, transport.delivered, 1)
}
