// Package notify renders Payment/TokenPayment messages for a transaction
// whose status changed and fans them out to every transport a recipient
// has subscribed on. Dispatch runs on its own goroutine per call so the
// caller (Intake, Queue Processor, Block Monitor) never blocks on it.
package notify

import (
	"context"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rs/zerolog"

	"github.com/toshi-network/eth-gateway/internal/domain"
	"github.com/toshi-network/eth-gateway/internal/erc20"
	"github.com/toshi-network/eth-gateway/internal/metrics"
	"github.com/toshi-network/eth-gateway/internal/store"
)

// Transport delivers a rendered payload to every subscriber of addr on a
// given service. Implementations (ws hub, APN, GCM) live outside this
// package; Notifier only picks which ones apply.
type Transport interface {
	Deliver(ctx context.Context, service domain.SubscriptionService, addr common.Address, payload any)
}

// Payment is the message shape for a plain value transfer.
type Payment struct {
	Type      string `json:"type"`
	TxHash    string `json:"txHash"`
	From      string `json:"fromAddress"`
	To        string `json:"toAddress"`
	Value     string `json:"value"`
	Status    string `json:"status"`
	NetworkID int64  `json:"networkId"`
}

// TokenPayment adds the contract address to a Payment.
type TokenPayment struct {
	Payment
	ContractAddress string `json:"contractAddress"`
}

// Notifier wires a transport and the subscription lookup together, and
// suppresses the duplicate/coalesced notifications the status pipeline
// would otherwise produce.
type Notifier struct {
	store     *store.Store
	transport Transport
	networkID int64
	log       zerolog.Logger

	recent *lru.Cache[string, struct{}]
	wg     sync.WaitGroup
}

func New(s *store.Store, transport Transport, networkID int64, log zerolog.Logger) *Notifier {
	recent, _ := lru.New[string, struct{}](4096)
	return &Notifier{store: s, transport: transport, networkID: networkID, log: log, recent: recent}
}

// NotifyAsync schedules rendering and dispatch on a background goroutine
// so the caller's request/pass is never delayed by transport latency.
func (n *Notifier) NotifyAsync(tx *domain.Transaction, prevStatus domain.Status) {
	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		n.notify(context.Background(), tx, prevStatus)
	}()
}

// Wait blocks until every scheduled notification has been dispatched;
// useful in tests and at shutdown.
func (n *Notifier) Wait() { n.wg.Wait() }

func (n *Notifier) notify(ctx context.Context, tx *domain.Transaction, prevStatus domain.Status) {
	effective, skip := coalesce(prevStatus, tx.Status)
	if skip {
		return
	}
	if !n.claimOnce(tx.TransactionID, effective) {
		return
	}

	payment := Payment{
		Type:      "Payment",
		TxHash:    tx.Hash.Hex(),
		From:      tx.FromAddress.Hex(),
		To:        tx.ToAddress.Hex(),
		Value:     tx.Value.String(),
		Status:    string(effective),
		NetworkID: n.networkID,
	}

	if effective == domain.StatusError && prevStatus == domain.StatusNew {
		n.dispatchTo(ctx, tx.FromAddress, payment)
		return
	}

	n.dispatchTo(ctx, tx.FromAddress, payment)
	if tx.ToAddress != tx.FromAddress && !tx.IsContractCreation() {
		n.dispatchTo(ctx, tx.ToAddress, payment)
	}

	transfers, err := n.store.TokenTransfersByTransaction(ctx, tx.TransactionID)
	if err != nil {
		n.log.Warn().Err(err).Str("tx", tx.TransactionID).Msg("load token transfers for notification")
		return
	}
	for _, tt := range transfers {
		n.notifyTokenTransfer(ctx, tx.Hash.Hex(), tt, effective)
	}
}

func (n *Notifier) notifyTokenTransfer(ctx context.Context, txHash string, tt *domain.TokenTransfer, status domain.Status) {
	tp := TokenPayment{
		Payment: Payment{
			Type:      "TokenPayment",
			TxHash:    txHash,
			From:      tt.FromAddress.Hex(),
			To:        tt.ToAddress.Hex(),
			Value:     tt.Value.String(),
			Status:    string(status),
			NetworkID: n.networkID,
		},
		ContractAddress: tt.ContractAddress.Hex(),
	}
	n.dispatchTo(ctx, tt.FromAddress, tp)
	if tt.ToAddress != tt.FromAddress {
		n.dispatchTo(ctx, tt.ToAddress, tp)
	}

	// Only WETH's Deposit (from the zero address) and Withdrawal (to the
	// zero address) move ether; a plain WETH Transfer does not.
	zero := common.Address{}
	if tt.ContractAddress != erc20.WETHContractAddress || (tt.FromAddress != zero && tt.ToAddress != zero) {
		return
	}
	underlying := Payment{
		Type:      "Payment",
		TxHash:    txHash,
		From:      tt.FromAddress.Hex(),
		To:        tt.ToAddress.Hex(),
		Value:     tt.Value.String(),
		Status:    string(status),
		NetworkID: n.networkID,
	}
	n.dispatchTo(ctx, tt.FromAddress, underlying)
	if tt.ToAddress != tt.FromAddress {
		n.dispatchTo(ctx, tt.ToAddress, underlying)
	}
}

func (n *Notifier) dispatchTo(ctx context.Context, addr common.Address, payload any) {
	services, err := n.store.ServicesForAddress(ctx, addr)
	if err != nil {
		n.log.Warn().Err(err).Str("addr", addr.Hex()).Msg("load subscriptions for notification")
		return
	}
	for _, svc := range services {
		n.transport.Deliver(ctx, svc, addr, payload)
		metrics.NotificationsDispatched.WithLabelValues(string(svc)).Inc()
	}
}

// coalesce folds queued into unconfirmed and drops the resulting duplicate
// when the previous notification already reported unconfirmed.
func coalesce(prev, to domain.Status) (effective domain.Status, skip bool) {
	effective = to
	if effective == domain.StatusQueued {
		effective = domain.StatusUnconfirmed
	}
	if prev == domain.StatusQueued && effective == domain.StatusUnconfirmed {
		return effective, true
	}
	if prev == effective {
		return effective, true
	}
	return effective, false
}

// claimOnce reports whether (txID, status) has not been notified yet,
// guarding against duplicate dispatch when a pass revisits an unchanged row.
func (n *Notifier) claimOnce(txID string, status domain.Status) bool {
	key := txID + ":" + string(status)
	if _, seen := n.recent.Get(key); seen {
		return false
	}
	n.recent.Add(key, struct{}{})
	return true
}
