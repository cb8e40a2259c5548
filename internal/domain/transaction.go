// Package domain holds the core entities: transactions, token transfers,
// balances, subscriptions, and the last-processed-block marker, plus the
// status state machine that governs transaction lifecycle.
package domain

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Status is a closed enumeration of the transaction lifecycle states. It is
// encoded as a tagged variant rather than a free string so that invalid
// transitions are rejected at the data layer instead of scattered across
// callers.
type Status string

const (
	StatusNew         Status = "new"
	StatusQueued      Status = "queued"
	StatusUnconfirmed Status = "unconfirmed"
	StatusConfirmed   Status = "confirmed"
	StatusError       Status = "error"
)

// ValidTransition reports whether moving a transaction from 'from' to 'to'
// is allowed. Transitions are monotone through the lifecycle; confirmed is
// terminal except for the idempotent confirmed->confirmed no-op, and
// confirmed->anything else is always rejected.
func ValidTransition(from, to Status) bool {
	if from == StatusConfirmed {
		return to == StatusConfirmed
	}
	if from == StatusError {
		return false
	}
	switch from {
	case StatusNew:
		return to == StatusQueued || to == StatusUnconfirmed || to == StatusError || to == StatusConfirmed
	case StatusQueued:
		return to == StatusUnconfirmed || to == StatusError || to == StatusConfirmed
	case StatusUnconfirmed:
		return to == StatusConfirmed || to == StatusError
	default:
		return false
	}
}

// ContractCreationAddress is the sentinel "to" address used for transactions
// that deploy a contract rather than transfer to an existing address. Both
// the queue processor and the notifier must not chase this as a real
// recipient.
var ContractCreationAddress = common.Address{}

// Signature is the (v, r, s) triple of an ECDSA signature over a
// transaction hash. It is nil-able as a whole: a skeleton transaction has
// no signature until the client signs it.
type Signature struct {
	V *big.Int
	R *big.Int
	S *big.Int
}

// Transaction mirrors the `transactions` table.
type Transaction struct {
	TransactionID string
	Hash          common.Hash
	FromAddress   common.Address
	ToAddress     common.Address
	Nonce         uint64
	Value         *big.Int
	Gas           uint64
	GasPrice      *big.Int
	Data          []byte
	Signature     *Signature
	Status        Status
	BlockNumber   *uint64
	SenderTokenID *string
	Created       time.Time
	Updated       time.Time
}

// Cost returns value + gas*gasPrice, the maximum wei this transaction can
// consume — the figure balance accounting works against, not just Value.
func (t *Transaction) Cost() *big.Int {
	gasCost := new(big.Int).Mul(new(big.Int).SetUint64(t.Gas), t.GasPrice)
	return new(big.Int).Add(t.Value, gasCost)
}

// IsContractCreation reports whether this transaction's recipient is the
// contract-creation sentinel.
func (t *Transaction) IsContractCreation() bool {
	return t.ToAddress == ContractCreationAddress
}

// TokenTransfer mirrors the `token_transactions` table.
type TokenTransfer struct {
	TransactionID       string
	TransactionLogIndex int
	ContractAddress     common.Address
	FromAddress         common.Address
	ToAddress           common.Address
	Value               *big.Int
	Status              Status
}

// TokenBalance mirrors the `token_balances` table.
type TokenBalance struct {
	EthAddress      common.Address
	ContractAddress common.Address
	Balance         *big.Int
}

// SubscriptionService is the transport a subscription is registered for.
type SubscriptionService string

const (
	ServiceWS  SubscriptionService = "ws"
	ServiceGCM SubscriptionService = "gcm"
	ServiceAPN SubscriptionService = "apn"
)

// Subscription mirrors the `notification_registrations` table.
type Subscription struct {
	TokenID    string
	EthAddress common.Address
	Service    SubscriptionService
}

// Token mirrors the `tokens` table: a contract a user has asked to track.
type Token struct {
	ContractAddress common.Address
	Symbol          string
	Name            string
	Decimals        uint8
}
