// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

const positionColumns = `
	id, vault_position_id, user_id, pool_id, amount, chain_id,
	tick_lower, tick_upper, status, proxy_position_id, liquidity,
	returned_amount, executed_at, liquidated_at, created_at, updated_at`

// NewPositionParams carries everything needed to create a position in
// PendingExecution.
type NewPositionParams struct {
	VaultPositionID string
	UserID          string
	PoolID          string // empty when the pool is unknown
	Amount          string
	ChainID         int64
	TickLower       int32
	TickUpper       int32
}

// CreatePosition inserts a new position in PendingExecution.
func (s *Store) CreatePosition(ctx context.Context, params NewPositionParams) (Position, error) {
	var p Position
	if err := checkDecimal(params.Amount); err != nil {
		return p, err
	}
	poolID := sql.NullString{String: params.PoolID, Valid: params.PoolID != ""}
	err := s.db.GetContext(ctx, &p, `
		INSERT INTO positions
			(id, vault_position_id, user_id, pool_id, amount, chain_id, tick_lower, tick_upper, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING`+positionColumns,
		uuid.New().String(), strings.ToLower(params.VaultPositionID),
		params.UserID, poolID, params.Amount, params.ChainID,
		params.TickLower, params.TickUpper, StatusPendingExecution)
	if err != nil {
		return p, fmt.Errorf("create position %s: %w", params.VaultPositionID, err)
	}
	return p, nil
}

// GetPositionByVaultID fetches a position by its cross-chain key.
func (s *Store) GetPositionByVaultID(ctx context.Context, vaultPositionID string) (Position, error) {
	var p Position
	err := s.db.GetContext(ctx, &p,
		`SELECT`+positionColumns+` FROM positions WHERE vault_position_id = $1`,
		strings.ToLower(vaultPositionID))
	if errors.Is(err, sql.ErrNoRows) {
		return p, ErrNotFound
	}
	return p, err
}

// GetPositionByProxyID fetches a position by the execution-chain id
// recorded at execution time. Used by the range watcher, which only
// sees proxy-side ids.
func (s *Store) GetPositionByProxyID(ctx context.Context, proxyPositionID string) (Position, error) {
	var p Position
	err := s.db.GetContext(ctx, &p,
		`SELECT`+positionColumns+` FROM positions WHERE proxy_position_id = $1`,
		proxyPositionID)
	if errors.Is(err, sql.ErrNoRows) {
		return p, ErrNotFound
	}
	return p, err
}

// ListUserPositions pages a user's positions, newest first. A user with
// none yields an empty slice.
func (s *Store) ListUserPositions(ctx context.Context, userID string, offset, limit int) ([]Position, error) {
	if limit <= 0 {
		return []Position{}, nil
	}
	positions := []Position{}
	err := s.db.SelectContext(ctx, &positions,
		`SELECT`+positionColumns+` FROM positions
		 WHERE user_id = $1 ORDER BY created_at DESC OFFSET $2 LIMIT $3`,
		userID, offset, limit)
	return positions, err
}

// ResetToPending rewinds a replayed position to PendingExecution. Used
// when the dispatch event for an existing key is observed again.
func (s *Store) ResetToPending(ctx context.Context, vaultPositionID string) error {
	return s.guardedUpdate(ctx, vaultPositionID, `
		UPDATE positions SET status = $2, updated_at = now()
		WHERE vault_position_id = $1`,
		StatusPendingExecution)
}

// MarkActive advances PendingExecution -> Active with the execution
// results.
func (s *Store) MarkActive(ctx context.Context, vaultPositionID, proxyPositionID, liquidity string) error {
	if err := checkDecimal(liquidity); err != nil {
		return err
	}
	return s.guardedUpdate(ctx, vaultPositionID, `
		UPDATE positions
		SET status = $2, proxy_position_id = $3, liquidity = $4,
		    executed_at = now(), updated_at = now()
		WHERE vault_position_id = $1 AND status = '`+StatusPendingExecution+`'`,
		StatusActive, proxyPositionID, liquidity)
}

// MarkLiquidated advances Active -> Liquidated with the returned amount.
func (s *Store) MarkLiquidated(ctx context.Context, vaultPositionID, returnedAmount string) error {
	if err := checkDecimal(returnedAmount); err != nil {
		return err
	}
	return s.guardedUpdate(ctx, vaultPositionID, `
		UPDATE positions
		SET status = $2, returned_amount = $3, liquidated_at = now(), updated_at = now()
		WHERE vault_position_id = $1 AND status = '`+StatusActive+`'`,
		StatusLiquidated, returnedAmount)
}

// MarkFailed advances PendingExecution -> Failed after a cancelled
// transfer.
func (s *Store) MarkFailed(ctx context.Context, vaultPositionID string) error {
	return s.guardedUpdate(ctx, vaultPositionID, `
		UPDATE positions SET status = $2, updated_at = now()
		WHERE vault_position_id = $1 AND status = '`+StatusPendingExecution+`'`,
		StatusFailed)
}

// UpdateProxyInfo records execution-chain observations without touching
// status. Best-effort path for events arriving from the proxy side.
func (s *Store) UpdateProxyInfo(ctx context.Context, vaultPositionID, proxyPositionID, liquidity string) error {
	if err := checkDecimal(liquidity); err != nil {
		return err
	}
	return s.guardedUpdate(ctx, vaultPositionID, `
		UPDATE positions
		SET proxy_position_id = $2, liquidity = $3, updated_at = now()
		WHERE vault_position_id = $1`,
		proxyPositionID, liquidity)
}

// guardedUpdate runs an UPDATE keyed by vault position id and maps zero
// affected rows to the proper sentinel: ErrNotFound when the key is
// absent, ErrInvalidTransition when present in a disallowed status.
func (s *Store) guardedUpdate(ctx context.Context, vaultPositionID, query string, args ...interface{}) error {
	key := strings.ToLower(vaultPositionID)
	all := append([]interface{}{key}, args...)
	res, err := s.db.ExecContext(ctx, query, all...)
	if err != nil {
		return fmt.Errorf("update position %s: %w", key, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}
	var exists bool
	if err := s.db.GetContext(ctx, &exists,
		`SELECT EXISTS (SELECT 1 FROM positions WHERE vault_position_id = $1)`, key); err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("%w: position %s", ErrNotFound, key)
	}
	return fmt.Errorf("%w: position %s", ErrInvalidTransition, key)
}
