// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package store

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	log "github.com/luxfi/log"
	"github.com/stretchr/testify/require"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewWithDB(db, "sqlmock", log.NewTestLogger(log.InfoLevel)), mock
}

func userRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{"id", "wallet_address", "is_active", "created_at"}).
		AddRow("7a6edac2-0000-0000-0000-000000000001", "0x1111111111111111111111111111111111111111", true, time.Now())
}

func TestUpsertUserLowercasesAddress(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery("INSERT INTO users").
		WithArgs(sqlmock.AnyArg(), "0x1111111111111111111111111111111111111111").
		WillReturnRows(userRows())

	u, err := s.UpsertUser(context.Background(), "0x1111111111111111111111111111111111111111")
	require.NoError(t, err)
	require.Equal(t, "0x1111111111111111111111111111111111111111", u.WalletAddress)
	require.True(t, u.IsActive)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertUserMixedCaseInput(t *testing.T) {
	s, mock := newMockStore(t)

	// The store must pass the lowercased form to the database.
	mock.ExpectQuery("INSERT INTO users").
		WithArgs(sqlmock.AnyArg(), "0xabcdef1111111111111111111111111111111111").
		WillReturnRows(userRows())

	_, err := s.UpsertUser(context.Background(), "0xABCDEF1111111111111111111111111111111111")
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetUserByWalletNotFound(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery("SELECT id, wallet_address").
		WithArgs("0x2222222222222222222222222222222222222222").
		WillReturnError(sql.ErrNoRows)

	_, err := s.GetUserByWallet(context.Background(), "0x2222222222222222222222222222222222222222")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestRecordDepositRejectsBadAmount(t *testing.T) {
	s, _ := newMockStore(t)

	err := s.RecordDeposit(context.Background(), "user-1", "12.5", "0xhash", 1)
	require.ErrorIs(t, err, ErrBadAmount)

	err = s.RecordDeposit(context.Background(), "user-1", "", "0xhash", 1)
	require.ErrorIs(t, err, ErrBadAmount)
}

func TestCreatePositionValidatesAmount(t *testing.T) {
	s, _ := newMockStore(t)

	_, err := s.CreatePosition(context.Background(), NewPositionParams{
		VaultPositionID: "pos-123",
		UserID:          "user-1",
		Amount:          "1e18",
	})
	require.ErrorIs(t, err, ErrBadAmount)
}

func TestMarkActiveTransition(t *testing.T) {
	s, mock := newMockStore(t)
	ctx := context.Background()

	t.Run("allowed", func(t *testing.T) {
		mock.ExpectExec("UPDATE positions").
			WithArgs("pos-123", StatusActive, "mb-456", "1000000000000000000").
			WillReturnResult(sqlmock.NewResult(0, 1))
		require.NoError(t, s.MarkActive(ctx, "pos-123", "mb-456", "1000000000000000000"))
	})

	t.Run("wrong status", func(t *testing.T) {
		mock.ExpectExec("UPDATE positions").
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectQuery("SELECT EXISTS").
			WithArgs("pos-123").
			WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
		err := s.MarkActive(ctx, "pos-123", "mb-456", "1000000000000000000")
		require.ErrorIs(t, err, ErrInvalidTransition)
	})

	t.Run("missing position", func(t *testing.T) {
		mock.ExpectExec("UPDATE positions").
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectQuery("SELECT EXISTS").
			WithArgs("pos-404").
			WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
		err := s.MarkActive(ctx, "pos-404", "mb-456", "1")
		require.ErrorIs(t, err, ErrNotFound)
	})

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkLiquidatedRequiresActive(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectExec("UPDATE positions").
		WithArgs("pos-123", StatusLiquidated, "1200000000000000000").
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, s.MarkLiquidated(context.Background(), "pos-123", "1200000000000000000"))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkFailed(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectExec("UPDATE positions").
		WithArgs("pos-123", StatusFailed).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, s.MarkFailed(context.Background(), "pos-123"))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetPositionByProxyIDNotFound(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery("FROM positions WHERE proxy_position_id").
		WithArgs("42").
		WillReturnError(sql.ErrNoRows)

	_, err := s.GetPositionByProxyID(context.Background(), "42")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestListUserPositionsEmptyLimit(t *testing.T) {
	s, _ := newMockStore(t)

	// Zero limit short-circuits to an empty page without touching the
	// database.
	positions, err := s.ListUserPositions(context.Background(), "user-1", 0, 0)
	require.NoError(t, err)
	require.Empty(t, positions)
}

func TestCheckDecimal(t *testing.T) {
	require.NoError(t, checkDecimal("0"))
	require.NoError(t, checkDecimal("1200000000000000000"))
	require.NoError(t, checkDecimal("-5"))
	require.Error(t, checkDecimal(""))
	require.Error(t, checkDecimal("1.5"))
	require.Error(t, checkDecimal("0x10"))
	require.Error(t, checkDecimal("1e18"))
}
