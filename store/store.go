// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package store persists the coordinator's authoritative view of users,
// pools, and liquidity positions in Postgres. Amount columns are
// NUMERIC(78,0) and travel through the API as decimal strings; addresses
// are stored lowercased.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	log "github.com/luxfi/log"
)

var (
	ErrNotFound          = errors.New("record not found")
	ErrInvalidTransition = errors.New("position status transition not allowed")
	ErrBadAmount         = errors.New("amount is not a decimal string")
)

// Position status values. Transitions only advance:
// PendingExecution -> Active | Failed, Active -> Liquidated.
const (
	StatusPendingExecution = "PendingExecution"
	StatusActive           = "Active"
	StatusLiquidated       = "Liquidated"
	StatusFailed           = "Failed"
)

const schema = `
CREATE TABLE IF NOT EXISTS users (
	id             UUID PRIMARY KEY,
	wallet_address TEXT NOT NULL UNIQUE,
	is_active      BOOLEAN NOT NULL DEFAULT true,
	created_at     TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS deposits (
	id           UUID PRIMARY KEY,
	user_id      UUID NOT NULL REFERENCES users(id),
	amount       NUMERIC(78,0) NOT NULL,
	tx_hash      TEXT NOT NULL,
	block_number BIGINT NOT NULL,
	created_at   TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS pools (
	id         UUID PRIMARY KEY,
	address    TEXT NOT NULL UNIQUE,
	token0     TEXT NOT NULL,
	token1     TEXT NOT NULL,
	chain_id   BIGINT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS positions (
	id                UUID PRIMARY KEY,
	vault_position_id TEXT NOT NULL UNIQUE,
	user_id           UUID NOT NULL REFERENCES users(id),
	pool_id           UUID REFERENCES pools(id),
	amount            NUMERIC(78,0) NOT NULL,
	chain_id          BIGINT NOT NULL,
	tick_lower        INTEGER NOT NULL,
	tick_upper        INTEGER NOT NULL,
	status            TEXT NOT NULL,
	proxy_position_id TEXT,
	liquidity         NUMERIC(78,0),
	returned_amount   NUMERIC(78,0),
	executed_at       TIMESTAMPTZ,
	liquidated_at     TIMESTAMPTZ,
	created_at        TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at        TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS positions_user_idx ON positions(user_id);
CREATE INDEX IF NOT EXISTS positions_status_idx ON positions(status);
`

// User is a custodial-chain account known to the coordinator. New users
// are active; the flag flips only through support tooling.
type User struct {
	ID            string    `db:"id"`
	WalletAddress string    `db:"wallet_address"`
	IsActive      bool      `db:"is_active"`
	CreatedAt     time.Time `db:"created_at"`
}

// Pool is LP pool read-model metadata, populated by an external indexer.
type Pool struct {
	ID        string    `db:"id"`
	Address   string    `db:"address"`
	Token0    string    `db:"token0"`
	Token1    string    `db:"token1"`
	ChainID   int64     `db:"chain_id"`
	CreatedAt time.Time `db:"created_at"`
}

// Position is the coordinator-local view of one liquidity position.
type Position struct {
	ID              string         `db:"id"`
	VaultPositionID string         `db:"vault_position_id"`
	UserID          string         `db:"user_id"`
	PoolID          sql.NullString `db:"pool_id"`
	Amount          string         `db:"amount"`
	ChainID         int64          `db:"chain_id"`
	TickLower       int32          `db:"tick_lower"`
	TickUpper       int32          `db:"tick_upper"`
	Status          string         `db:"status"`
	ProxyPositionID sql.NullString `db:"proxy_position_id"`
	Liquidity       sql.NullString `db:"liquidity"`
	ReturnedAmount  sql.NullString `db:"returned_amount"`
	ExecutedAt      sql.NullTime   `db:"executed_at"`
	LiquidatedAt    sql.NullTime   `db:"liquidated_at"`
	CreatedAt       time.Time      `db:"created_at"`
	UpdatedAt       time.Time      `db:"updated_at"`
}

// Store is the repository facade handed to the persister and settlement
// paths.
type Store struct {
	db  *sqlx.DB
	log log.Logger
}

// Open connects to Postgres and applies the schema.
func Open(ctx context.Context, databaseURL string, logger log.Logger) (*Store, error) {
	db, err := sqlx.ConnectContext(ctx, "postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	s := &Store{db: db, log: logger}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return s, nil
}

// NewWithDB wraps an existing connection. Used by tests with sqlmock.
func NewWithDB(db *sql.DB, driverName string, logger log.Logger) *Store {
	return &Store{db: sqlx.NewDb(db, driverName), log: logger}
}

// Close releases the connection pool.
func (s *Store) Close() error { return s.db.Close() }

// checkDecimal rejects amounts that are not plain base-10 integers
// before they reach a NUMERIC column.
func checkDecimal(amount string) error {
	if amount == "" {
		return ErrBadAmount
	}
	for i, r := range amount {
		if r == '-' && i == 0 {
			continue
		}
		if r < '0' || r > '9' {
			return fmt.Errorf("%w: %q", ErrBadAmount, amount)
		}
	}
	return nil
}

// ============================================================
// Users
// ============================================================

// UpsertUser inserts a user for the wallet address if absent and
// returns the row either way. Addresses are lowercased on write.
func (s *Store) UpsertUser(ctx context.Context, walletAddress string) (User, error) {
	var u User
	addr := strings.ToLower(walletAddress)
	err := s.db.GetContext(ctx, &u, `
		INSERT INTO users (id, wallet_address) VALUES ($1, $2)
		ON CONFLICT (wallet_address) DO UPDATE SET wallet_address = EXCLUDED.wallet_address
		RETURNING id, wallet_address, is_active, created_at`,
		uuid.New().String(), addr)
	if err != nil {
		return u, fmt.Errorf("upsert user %s: %w", addr, err)
	}
	return u, nil
}

// GetUserByWallet looks a user up by address, case-insensitively.
func (s *Store) GetUserByWallet(ctx context.Context, walletAddress string) (User, error) {
	var u User
	err := s.db.GetContext(ctx, &u, `
		SELECT id, wallet_address, is_active, created_at FROM users WHERE wallet_address = $1`,
		strings.ToLower(walletAddress))
	if errors.Is(err, sql.ErrNoRows) {
		return u, ErrNotFound
	}
	return u, err
}

// RecordDeposit appends a deposit row for analytics.
func (s *Store) RecordDeposit(ctx context.Context, userID, amount, txHash string, blockNumber uint64) error {
	if err := checkDecimal(amount); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO deposits (id, user_id, amount, tx_hash, block_number)
		VALUES ($1, $2, $3, $4, $5)`,
		uuid.New().String(), userID, amount, strings.ToLower(txHash), blockNumber)
	if err != nil {
		return fmt.Errorf("record deposit for %s: %w", userID, err)
	}
	return nil
}

// ============================================================
// Pools
// ============================================================

// GetPoolByAddress looks a pool up by contract address.
func (s *Store) GetPoolByAddress(ctx context.Context, address string) (Pool, error) {
	var p Pool
	err := s.db.GetContext(ctx, &p, `
		SELECT id, address, token0, token1, chain_id, created_at
		FROM pools WHERE address = $1`,
		strings.ToLower(address))
	if errors.Is(err, sql.ErrNoRows) {
		return p, ErrNotFound
	}
	return p, err
}

// UpsertPool inserts or refreshes pool metadata.
func (s *Store) UpsertPool(ctx context.Context, address, token0, token1 string, chainID int64) (Pool, error) {
	var p Pool
	err := s.db.GetContext(ctx, &p, `
		INSERT INTO pools (id, address, token0, token1, chain_id)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (address) DO UPDATE
			SET token0 = EXCLUDED.token0, token1 = EXCLUDED.token1, chain_id = EXCLUDED.chain_id
		RETURNING id, address, token0, token1, chain_id, created_at`,
		uuid.New().String(), strings.ToLower(address),
		strings.ToLower(token0), strings.ToLower(token1), chainID)
	if err != nil {
		return p, fmt.Errorf("upsert pool %s: %w", address, err)
	}
	return p, nil
}
