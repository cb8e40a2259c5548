// Package store is the durable system of record: transactions, token
// transfers, balances, subscriptions, and the last-processed-block marker.
// It is a thin *sqlx.DB plus hand-written SQL, no ORM.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/toshi-network/eth-gateway/internal/apierr"
	"github.com/toshi-network/eth-gateway/internal/domain"
)

// ErrNotFound is returned by single-row lookups that find nothing.
var ErrNotFound = errors.New("store: not found")

// Store wraps a *sqlx.DB with the gateway's schema and queries. The same
// Store works against Postgres (production, via lib/pq) or sqlite (test
// harness, via modernc.org/sqlite); see NewPostgres and NewSQLite.
type Store struct {
	db *sqlx.DB
}

// NewPostgres opens a Postgres-backed Store using the given DSN and applies
// the schema.
func NewPostgres(dsn string) (*Store, error) {
	db, err := sqlx.Connect("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		return nil, err
	}
	return s, nil
}

// NewSQLite opens a sqlite-backed Store, used by the test suite in place of
// a live Postgres instance.
func NewSQLite(path string) (*Store, error) {
	db, err := sqlx.Connect("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("connect sqlite: %w", err)
	}
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) migrate() error {
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

func (s *Store) Close() error { return s.db.Close() }

// --- row <-> domain conversion -------------------------------------------------

type txRow struct {
	TransactionID string         `db:"transaction_id"`
	Hash          string         `db:"hash"`
	FromAddress   string         `db:"from_address"`
	ToAddress     string         `db:"to_address"`
	Nonce         int64          `db:"nonce"`
	Value         string         `db:"value"`
	Gas           int64          `db:"gas"`
	GasPrice      string         `db:"gas_price"`
	Data          sql.NullString `db:"data"`
	V             sql.NullString `db:"v"`
	R             sql.NullString `db:"r"`
	S             sql.NullString `db:"s"`
	Status        string         `db:"status"`
	BlockNumber   sql.NullInt64  `db:"blocknumber"`
	SenderTokenID sql.NullString `db:"sender_token_id"`
	Created       time.Time      `db:"created"`
	Updated       time.Time      `db:"updated"`
}

func bigIntOrZero(s string) *big.Int {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return big.NewInt(0)
	}
	return v
}

func (r *txRow) toDomain() *domain.Transaction {
	t := &domain.Transaction{
		TransactionID: r.TransactionID,
		Hash:          common.HexToHash(r.Hash),
		FromAddress:   common.HexToAddress(r.FromAddress),
		ToAddress:     common.HexToAddress(r.ToAddress),
		Nonce:         uint64(r.Nonce),
		Value:         bigIntOrZero(r.Value),
		Gas:           uint64(r.Gas),
		GasPrice:      bigIntOrZero(r.GasPrice),
		Status:        domain.Status(r.Status),
		Created:       r.Created,
		Updated:       r.Updated,
	}
	if r.Data.Valid {
		t.Data = []byte(r.Data.String)
	}
	if r.V.Valid && r.R.Valid && r.S.Valid {
		t.Signature = &domain.Signature{
			V: bigIntOrZero(r.V.String),
			R: bigIntOrZero(r.R.String),
			S: bigIntOrZero(r.S.String),
		}
	}
	if r.BlockNumber.Valid {
		bn := uint64(r.BlockNumber.Int64)
		t.BlockNumber = &bn
	}
	if r.SenderTokenID.Valid {
		t.SenderTokenID = &r.SenderTokenID.String
	}
	return t
}

// InsertTransaction admits a new row, typically with status "unconfirmed"
// (intake sent it immediately) or "new" (it arrived already signed but has
// not been sent yet; an unsigned skeleton is never persisted).
func (s *Store) InsertTransaction(ctx context.Context, t *domain.Transaction) error {
	if t.TransactionID == "" {
		t.TransactionID = uuid.NewString()
	}
	now := time.Now().UTC()
	t.Created, t.Updated = now, now

	var data, v, r, sv, senderTokenID any
	if t.Data != nil {
		data = string(t.Data)
	}
	if t.Signature != nil {
		v, r, sv = t.Signature.V.String(), t.Signature.R.String(), t.Signature.S.String()
	}
	if t.SenderTokenID != nil {
		senderTokenID = *t.SenderTokenID
	}
	var blockNumber any
	if t.BlockNumber != nil {
		blockNumber = int64(*t.BlockNumber)
	}

	_, err := s.db.ExecContext(ctx, s.db.Rebind(`
		INSERT INTO transactions
			(transaction_id, hash, from_address, to_address, nonce, value, gas, gas_price, data, v, r, s, status, blocknumber, sender_token_id, created, updated)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		t.TransactionID, t.Hash.Hex(), t.FromAddress.Hex(), t.ToAddress.Hex(), int64(t.Nonce),
		t.Value.String(), int64(t.Gas), t.GasPrice.String(), data, v, r, sv,
		string(t.Status), blockNumber, senderTokenID, t.Created, t.Updated)
	if err != nil {
		return fmt.Errorf("insert transaction %s: %w", t.Hash.Hex(), err)
	}
	return nil
}

// GetByID returns a transaction by surrogate id.
func (s *Store) GetByID(ctx context.Context, id string) (*domain.Transaction, error) {
	var row txRow
	err := s.db.GetContext(ctx, &row, s.db.Rebind(`SELECT * FROM transactions WHERE transaction_id = ?`), id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get transaction %s: %w", id, err)
	}
	return row.toDomain(), nil
}

// GetByHash returns a transaction by its canonical hash.
func (s *Store) GetByHash(ctx context.Context, hash common.Hash) (*domain.Transaction, error) {
	var row txRow
	err := s.db.GetContext(ctx, &row, s.db.Rebind(`SELECT * FROM transactions WHERE hash = ?`), hash.Hex())
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get transaction by hash %s: %w", hash.Hex(), err)
	}
	return row.toDomain(), nil
}

// ActiveAtNonce returns the non-error row at (from, nonce), if any. Callers
// consult this before inserting to keep at most one live row per nonce.
func (s *Store) ActiveAtNonce(ctx context.Context, from common.Address, nonce uint64) (*domain.Transaction, error) {
	var row txRow
	err := s.db.GetContext(ctx, &row, s.db.Rebind(
		`SELECT * FROM transactions WHERE from_address = ? AND nonce = ? AND status != 'error' LIMIT 1`),
		from.Hex(), int64(nonce))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("active at nonce %s/%d: %w", from.Hex(), nonce, err)
	}
	return row.toDomain(), nil
}

// OtherAtNonce returns a row at (from, nonce) with a different hash than
// exclude, used by the queue processor's overwrite-collision detection.
func (s *Store) OtherAtNonce(ctx context.Context, from common.Address, nonce uint64, exclude common.Hash) (*domain.Transaction, error) {
	var row txRow
	err := s.db.GetContext(ctx, &row, s.db.Rebind(
		`SELECT * FROM transactions WHERE from_address = ? AND nonce = ? AND hash != ? LIMIT 1`),
		from.Hex(), int64(nonce), exclude.Hex())
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("other at nonce %s/%d: %w", from.Hex(), nonce, err)
	}
	return row.toDomain(), nil
}

// PendingOutbound returns from's new/queued signed rows ordered by nonce
// ascending — the queue processor's candidate set for a pass.
func (s *Store) PendingOutbound(ctx context.Context, from common.Address) ([]*domain.Transaction, error) {
	var rows []txRow
	err := s.db.SelectContext(ctx, &rows, s.db.Rebind(
		`SELECT * FROM transactions WHERE from_address = ? AND (status = 'new' OR status = 'queued') AND r IS NOT NULL ORDER BY nonce ASC`),
		from.Hex())
	if err != nil {
		return nil, fmt.Errorf("pending outbound for %s: %w", from.Hex(), err)
	}
	return toDomainSlice(rows), nil
}

// UnconfirmedOutbound returns from's unconfirmed rows, plus rows confirmed
// after lastBlock — still counted against working balance since the queue
// processor reads a stable snapshot as of the last fully-ingested block.
func (s *Store) UnconfirmedOutbound(ctx context.Context, from common.Address, lastBlock uint64) ([]*domain.Transaction, error) {
	var rows []txRow
	err := s.db.SelectContext(ctx, &rows, s.db.Rebind(
		`SELECT * FROM transactions WHERE from_address = ? AND (status = 'unconfirmed' OR (status = 'confirmed' AND blocknumber > ?)) ORDER BY nonce ASC`),
		from.Hex(), int64(lastBlock))
	if err != nil {
		return nil, fmt.Errorf("unconfirmed outbound for %s: %w", from.Hex(), err)
	}
	return toDomainSlice(rows), nil
}

// ActiveInbound returns rows targeting `to` that are still in flight (not
// yet settled against `to`'s balance beyond lastBlock), used to credit a
// sender's funding chain with money still on its way in.
func (s *Store) ActiveInbound(ctx context.Context, to common.Address, lastBlock uint64) ([]*domain.Transaction, error) {
	var rows []txRow
	err := s.db.SelectContext(ctx, &rows, s.db.Rebind(
		`SELECT * FROM transactions WHERE to_address = ? AND ((status = 'new' OR status = 'queued' OR status = 'unconfirmed') OR (status = 'confirmed' AND blocknumber > ?))`),
		to.Hex(), int64(lastBlock))
	if err != nil {
		return nil, fmt.Errorf("active inbound for %s: %w", to.Hex(), err)
	}
	return toDomainSlice(rows), nil
}

// UpdateStatus transitions a transaction's status (and, for 'confirmed',
// its block number), enforcing domain.ValidTransition and treating
// confirmed->confirmed as a no-op rather than an error. It returns the
// row's state before the update so callers can decide what, if anything,
// to notify.
func (s *Store) UpdateStatus(ctx context.Context, id string, to domain.Status, blockNumber *uint64) (before *domain.Transaction, changed bool, err error) {
	before, err = s.GetByID(ctx, id)
	if err != nil {
		return nil, false, err
	}
	if before.Status == to {
		return before, false, nil
	}
	if !domain.ValidTransition(before.Status, to) {
		return before, false, apierr.New(apierr.InternalError, fmt.Sprintf("invalid transition %s->%s for %s", before.Status, to, id))
	}

	now := time.Now().UTC()
	if blockNumber != nil {
		_, err = s.db.ExecContext(ctx, s.db.Rebind(
			`UPDATE transactions SET status = ?, blocknumber = ?, updated = ? WHERE transaction_id = ?`),
			string(to), int64(*blockNumber), now, id)
	} else {
		_, err = s.db.ExecContext(ctx, s.db.Rebind(
			`UPDATE transactions SET status = ?, updated = ? WHERE transaction_id = ?`),
			string(to), now, id)
	}
	if err != nil {
		return nil, false, fmt.Errorf("update status of %s to %s: %w", id, to, err)
	}
	return before, true, nil
}

func toDomainSlice(rows []txRow) []*domain.Transaction {
	out := make([]*domain.Transaction, len(rows))
	for i := range rows {
		out[i] = rows[i].toDomain()
	}
	return out
}

// --- last_blocknumber -----------------------------------------------------

// LastBlockNumber returns the greatest fully-ingested block, or 0 if none
// has been recorded yet.
func (s *Store) LastBlockNumber(ctx context.Context) (uint64, error) {
	var n sql.NullInt64
	err := s.db.GetContext(ctx, &n, `SELECT blocknumber FROM last_blocknumber WHERE id = 1`)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("last block number: %w", err)
	}
	if !n.Valid {
		return 0, nil
	}
	return uint64(n.Int64), nil
}

// SetLastBlockNumber advances the marker. Only the block monitor calls
// this. ON CONFLICT DO UPDATE is supported by both the Postgres and sqlite
// drivers this Store targets.
func (s *Store) SetLastBlockNumber(ctx context.Context, n uint64) error {
	_, err := s.db.ExecContext(ctx, s.db.Rebind(`
		INSERT INTO last_blocknumber (id, blocknumber) VALUES (1, ?)
		ON CONFLICT (id) DO UPDATE SET blocknumber = excluded.blocknumber`),
		int64(n))
	if err != nil {
		return fmt.Errorf("set last block number: %w", err)
	}
	return nil
}
