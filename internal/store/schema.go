package store

// schema is applied with CREATE TABLE IF NOT EXISTS, an idempotent bootstrap
// safe to re-run on every startup. Wei amounts (value, gas_price, balance)
// are stored as decimal TEXT (parsed back into big.Int) rather than a dialect-specific
// numeric type, so the same schema works unchanged against both the
// production Postgres driver and the sqlite driver used by the test harness.
const schema = `
CREATE TABLE IF NOT EXISTS transactions (
	transaction_id   TEXT PRIMARY KEY,
	hash             TEXT NOT NULL,
	from_address     TEXT NOT NULL,
	to_address       TEXT NOT NULL,
	nonce            BIGINT NOT NULL,
	value            TEXT NOT NULL,
	gas              BIGINT NOT NULL,
	gas_price        TEXT NOT NULL,
	data             TEXT,
	v                TEXT,
	r                TEXT,
	s                TEXT,
	status           TEXT NOT NULL,
	blocknumber      BIGINT,
	sender_token_id  TEXT,
	created          TIMESTAMP NOT NULL,
	updated          TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_transactions_from_nonce ON transactions(from_address, nonce);
CREATE INDEX IF NOT EXISTS idx_transactions_hash ON transactions(hash);
CREATE INDEX IF NOT EXISTS idx_transactions_to ON transactions(to_address);

CREATE TABLE IF NOT EXISTS token_transactions (
	transaction_id        TEXT NOT NULL,
	transaction_log_index BIGINT NOT NULL,
	contract_address      TEXT NOT NULL,
	from_address          TEXT NOT NULL,
	to_address            TEXT NOT NULL,
	value                 TEXT NOT NULL,
	status                TEXT NOT NULL,
	PRIMARY KEY (transaction_id, transaction_log_index)
);

CREATE TABLE IF NOT EXISTS token_balances (
	eth_address      TEXT NOT NULL,
	contract_address TEXT NOT NULL,
	balance          TEXT NOT NULL,
	PRIMARY KEY (eth_address, contract_address)
);

CREATE TABLE IF NOT EXISTS tokens (
	contract_address TEXT PRIMARY KEY,
	eth_address      TEXT NOT NULL,
	symbol           TEXT,
	name             TEXT,
	decimals         INTEGER
);

CREATE TABLE IF NOT EXISTS notification_registrations (
	token_id    TEXT NOT NULL,
	eth_address TEXT NOT NULL,
	service     TEXT NOT NULL,
	PRIMARY KEY (token_id, eth_address, service)
);

CREATE TABLE IF NOT EXISTS last_blocknumber (
	id          INTEGER PRIMARY KEY,
	blocknumber BIGINT NOT NULL
);
`
