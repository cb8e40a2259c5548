package store

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/toshi-network/eth-gateway/internal/domain"
)

type tokenTxRow struct {
	TransactionID       string `db:"transaction_id"`
	TransactionLogIndex int64  `db:"transaction_log_index"`
	ContractAddress     string `db:"contract_address"`
	FromAddress         string `db:"from_address"`
	ToAddress           string `db:"to_address"`
	Value               string `db:"value"`
	Status              string `db:"status"`
}

func (r *tokenTxRow) toDomain() *domain.TokenTransfer {
	return &domain.TokenTransfer{
		TransactionID:       r.TransactionID,
		TransactionLogIndex: int(r.TransactionLogIndex),
		ContractAddress:     common.HexToAddress(r.ContractAddress),
		FromAddress:         common.HexToAddress(r.FromAddress),
		ToAddress:           common.HexToAddress(r.ToAddress),
		Value:               bigIntOrZero(r.Value),
		Status:              domain.Status(r.Status),
	}
}

// UpsertTokenTransfer inserts or replaces a token-transfer row keyed by
// (transaction_id, transaction_log_index).
func (s *Store) UpsertTokenTransfer(ctx context.Context, tt *domain.TokenTransfer) error {
	_, err := s.db.ExecContext(ctx, s.db.Rebind(`
		INSERT INTO token_transactions (transaction_id, transaction_log_index, contract_address, from_address, to_address, value, status)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (transaction_id, transaction_log_index) DO UPDATE SET
			contract_address = excluded.contract_address,
			from_address = excluded.from_address,
			to_address = excluded.to_address,
			value = excluded.value,
			status = excluded.status`),
		tt.TransactionID, int64(tt.TransactionLogIndex), tt.ContractAddress.Hex(),
		tt.FromAddress.Hex(), tt.ToAddress.Hex(), tt.Value.String(), string(tt.Status))
	if err != nil {
		return fmt.Errorf("upsert token transfer %s/%d: %w", tt.TransactionID, tt.TransactionLogIndex, err)
	}
	return nil
}

// TokenTransfersByTransaction returns every token-transfer row owned by the
// given parent transaction.
func (s *Store) TokenTransfersByTransaction(ctx context.Context, transactionID string) ([]*domain.TokenTransfer, error) {
	var rows []tokenTxRow
	err := s.db.SelectContext(ctx, &rows, s.db.Rebind(
		`SELECT * FROM token_transactions WHERE transaction_id = ? ORDER BY transaction_log_index`), transactionID)
	if err != nil {
		return nil, fmt.Errorf("token transfers for %s: %w", transactionID, err)
	}
	out := make([]*domain.TokenTransfer, len(rows))
	for i := range rows {
		out[i] = rows[i].toDomain()
	}
	return out, nil
}

// UpdateTokenTransferStatus sets a token transfer's status independently of
// its parent transaction — a transfer can end up in error even when the
// transaction that carried it confirmed.
func (s *Store) UpdateTokenTransferStatus(ctx context.Context, transactionID string, logIndex int, status domain.Status) error {
	_, err := s.db.ExecContext(ctx, s.db.Rebind(
		`UPDATE token_transactions SET status = ? WHERE transaction_id = ? AND transaction_log_index = ?`),
		string(status), transactionID, int64(logIndex))
	if err != nil {
		return fmt.Errorf("update token transfer status %s/%d: %w", transactionID, logIndex, err)
	}
	return nil
}

// UpsertTokenBalance stores the authoritative balance of (addr, contract)
// as of the last processed block.
func (s *Store) UpsertTokenBalance(ctx context.Context, tb *domain.TokenBalance) error {
	_, err := s.db.ExecContext(ctx, s.db.Rebind(`
		INSERT INTO token_balances (eth_address, contract_address, balance)
		VALUES (?, ?, ?)
		ON CONFLICT (eth_address, contract_address) DO UPDATE SET balance = excluded.balance`),
		tb.EthAddress.Hex(), tb.ContractAddress.Hex(), tb.Balance.String())
	if err != nil {
		return fmt.Errorf("upsert token balance %s/%s: %w", tb.EthAddress.Hex(), tb.ContractAddress.Hex(), err)
	}
	return nil
}

// TokenBalancesByAddress lists every tracked contract balance for addr,
// backing GET /tokens/{address}.
func (s *Store) TokenBalancesByAddress(ctx context.Context, addr common.Address) ([]*domain.TokenBalance, error) {
	type row struct {
		EthAddress      string `db:"eth_address"`
		ContractAddress string `db:"contract_address"`
		Balance         string `db:"balance"`
	}
	var rows []row
	err := s.db.SelectContext(ctx, &rows, s.db.Rebind(
		`SELECT * FROM token_balances WHERE eth_address = ?`), addr.Hex())
	if err != nil {
		return nil, fmt.Errorf("token balances for %s: %w", addr.Hex(), err)
	}
	out := make([]*domain.TokenBalance, len(rows))
	for i, r := range rows {
		out[i] = &domain.TokenBalance{
			EthAddress:      common.HexToAddress(r.EthAddress),
			ContractAddress: common.HexToAddress(r.ContractAddress),
			Balance:         bigIntOrZero(r.Balance),
		}
	}
	return out, nil
}

// HasTrackedBalance reports whether (addr, contract) has a row in
// token_balances, i.e. some user has registered interest in it — the
// block monitor only recomputes balances for rows that already exist.
func (s *Store) HasTrackedBalance(ctx context.Context, addr, contract common.Address) (bool, error) {
	var n int
	err := s.db.GetContext(ctx, &n, s.db.Rebind(
		`SELECT COUNT(*) FROM token_balances WHERE eth_address = ? AND contract_address = ?`),
		addr.Hex(), contract.Hex())
	if err != nil {
		return false, fmt.Errorf("has tracked balance %s/%s: %w", addr.Hex(), contract.Hex(), err)
	}
	return n > 0, nil
}

// RegisterToken records that ethAddress wants contract tracked.
func (s *Store) RegisterToken(ctx context.Context, ethAddress, contract common.Address, symbol, name string, decimals uint8) error {
	_, err := s.db.ExecContext(ctx, s.db.Rebind(`
		INSERT INTO tokens (contract_address, eth_address, symbol, name, decimals)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (contract_address) DO UPDATE SET symbol = excluded.symbol, name = excluded.name, decimals = excluded.decimals`),
		contract.Hex(), ethAddress.Hex(), symbol, name, int(decimals))
	if err != nil {
		return fmt.Errorf("register token %s for %s: %w", contract.Hex(), ethAddress.Hex(), err)
	}
	if _, err := s.db.ExecContext(ctx, s.db.Rebind(`
		INSERT INTO token_balances (eth_address, contract_address, balance)
		VALUES (?, ?, '0')
		ON CONFLICT (eth_address, contract_address) DO NOTHING`),
		ethAddress.Hex(), contract.Hex()); err != nil {
		return fmt.Errorf("seed token balance %s/%s: %w", ethAddress.Hex(), contract.Hex(), err)
	}
	return nil
}

// DeregisterToken removes a user's interest in a contract.
func (s *Store) DeregisterToken(ctx context.Context, ethAddress, contract common.Address) error {
	_, err := s.db.ExecContext(ctx, s.db.Rebind(
		`DELETE FROM token_balances WHERE eth_address = ? AND contract_address = ?`),
		ethAddress.Hex(), contract.Hex())
	if err != nil {
		return fmt.Errorf("deregister token %s for %s: %w", contract.Hex(), ethAddress.Hex(), err)
	}
	return nil
}

// --- subscriptions ----------------------------------------------------------

// AddSubscription registers (tokenID, addr, service) idempotently.
func (s *Store) AddSubscription(ctx context.Context, tokenID string, addr common.Address, service domain.SubscriptionService) error {
	_, err := s.db.ExecContext(ctx, s.db.Rebind(`
		INSERT INTO notification_registrations (token_id, eth_address, service) VALUES (?, ?, ?)
		ON CONFLICT (token_id, eth_address, service) DO NOTHING`),
		tokenID, addr.Hex(), string(service))
	if err != nil {
		return fmt.Errorf("add subscription %s/%s/%s: %w", tokenID, addr.Hex(), service, err)
	}
	return nil
}

// RemoveSubscription deregisters (tokenID, addr, service).
func (s *Store) RemoveSubscription(ctx context.Context, tokenID string, addr common.Address, service domain.SubscriptionService) error {
	_, err := s.db.ExecContext(ctx, s.db.Rebind(
		`DELETE FROM notification_registrations WHERE token_id = ? AND eth_address = ? AND service = ?`),
		tokenID, addr.Hex(), string(service))
	if err != nil {
		return fmt.Errorf("remove subscription %s/%s/%s: %w", tokenID, addr.Hex(), service, err)
	}
	return nil
}

// SubscriptionsByToken lists every address/service a client token is
// subscribed to.
func (s *Store) SubscriptionsByToken(ctx context.Context, tokenID string) ([]*domain.Subscription, error) {
	type row struct {
		TokenID    string `db:"token_id"`
		EthAddress string `db:"eth_address"`
		Service    string `db:"service"`
	}
	var rows []row
	err := s.db.SelectContext(ctx, &rows, s.db.Rebind(
		`SELECT * FROM notification_registrations WHERE token_id = ?`), tokenID)
	if err != nil {
		return nil, fmt.Errorf("subscriptions for %s: %w", tokenID, err)
	}
	out := make([]*domain.Subscription, len(rows))
	for i, r := range rows {
		out[i] = &domain.Subscription{TokenID: r.TokenID, EthAddress: common.HexToAddress(r.EthAddress), Service: domain.SubscriptionService(r.Service)}
	}
	return out, nil
}

// ServicesForAddress returns the distinct set of transports subscribed to
// addr's activity, used by the notifier to pick transports to fan out to.
func (s *Store) ServicesForAddress(ctx context.Context, addr common.Address) ([]domain.SubscriptionService, error) {
	var services []string
	err := s.db.SelectContext(ctx, &services, s.db.Rebind(
		`SELECT DISTINCT service FROM notification_registrations WHERE eth_address = ?`), addr.Hex())
	if err != nil {
		return nil, fmt.Errorf("services for %s: %w", addr.Hex(), err)
	}
	out := make([]domain.SubscriptionService, len(services))
	for i, s := range services {
		out[i] = domain.SubscriptionService(s)
	}
	return out, nil
}
