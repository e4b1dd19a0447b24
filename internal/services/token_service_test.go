package services

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
)

func TestTokenLedgerService_Pull(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	service := NewTokenLedgerService(db)
	ctx := context.Background()

	t.Run("successful pull into custody", func(t *testing.T) {
		owner := "alice"
		token := "GOLD"
		amount := int64(400)
		reference := "a1b2c3"

		mock.ExpectBegin()

		// Consume allowance
		mock.ExpectQuery("SELECT amount FROM allowances").
			WithArgs(owner, DefaultCustodyPrincipal, token).
			WillReturnRows(sqlmock.NewRows([]string{"amount"}).AddRow(1000))
		mock.ExpectExec("UPDATE allowances SET amount = amount - \\$1").
			WithArgs(amount, sqlmock.AnyArg(), owner, DefaultCustodyPrincipal, token).
			WillReturnResult(sqlmock.NewResult(0, 1))

		// Seed and lock owner account (alice sorts before escrow-custody)
		mock.ExpectExec("INSERT INTO accounts").
			WithArgs(owner, token, sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectQuery("SELECT balance, version FROM accounts").
			WithArgs(owner, token).
			WillReturnRows(sqlmock.NewRows([]string{"balance", "version"}).AddRow(1000, 1))

		// Seed and lock custody account
		mock.ExpectExec("INSERT INTO accounts").
			WithArgs(DefaultCustodyPrincipal, token, sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectQuery("SELECT balance, version FROM accounts").
			WithArgs(DefaultCustodyPrincipal, token).
			WillReturnRows(sqlmock.NewRows([]string{"balance", "version"}).AddRow(0, 0))

		// Double-entry pair
		mock.ExpectExec("INSERT INTO ledger_entries").
			WithArgs(reference, owner, token, -amount, "DEBIT", 600, sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectExec("INSERT INTO ledger_entries").
			WithArgs(reference, DefaultCustodyPrincipal, token, amount, "CREDIT", 400, sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(2, 1))

		// Balance updates with optimistic version check
		mock.ExpectExec("UPDATE accounts").
			WithArgs(600, sqlmock.AnyArg(), owner, token, 1).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec("UPDATE accounts").
			WithArgs(400, sqlmock.AnyArg(), DefaultCustodyPrincipal, token, 0).
			WillReturnResult(sqlmock.NewResult(0, 1))

		mock.ExpectCommit()

		err := service.Pull(ctx, owner, token, amount, reference)
		assert.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("allowance shortfall", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectQuery("SELECT amount FROM allowances").
			WithArgs("alice", DefaultCustodyPrincipal, "GOLD").
			WillReturnRows(sqlmock.NewRows([]string{"amount"}).AddRow(50))
		mock.ExpectRollback()

		err := service.Pull(ctx, "alice", "GOLD", 400, "a1b2c3")
		assert.ErrorIs(t, err, ErrInsufficientAuthorization)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("no allowance row", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectQuery("SELECT amount FROM allowances").
			WithArgs("alice", DefaultCustodyPrincipal, "GOLD").
			WillReturnRows(sqlmock.NewRows([]string{"amount"}))
		mock.ExpectRollback()

		err := service.Pull(ctx, "alice", "GOLD", 400, "a1b2c3")
		assert.ErrorIs(t, err, ErrInsufficientAuthorization)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("insufficient balance", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectQuery("SELECT amount FROM allowances").
			WithArgs("alice", DefaultCustodyPrincipal, "GOLD").
			WillReturnRows(sqlmock.NewRows([]string{"amount"}).AddRow(1000))
		mock.ExpectExec("UPDATE allowances SET amount = amount - \\$1").
			WithArgs(int64(400), sqlmock.AnyArg(), "alice", DefaultCustodyPrincipal, "GOLD").
			WillReturnResult(sqlmock.NewResult(0, 1))

		mock.ExpectExec("INSERT INTO accounts").
			WithArgs("alice", "GOLD", sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectQuery("SELECT balance, version FROM accounts").
			WithArgs("alice", "GOLD").
			WillReturnRows(sqlmock.NewRows([]string{"balance", "version"}).AddRow(100, 1))

		mock.ExpectExec("INSERT INTO accounts").
			WithArgs(DefaultCustodyPrincipal, "GOLD", sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectQuery("SELECT balance, version FROM accounts").
			WithArgs(DefaultCustodyPrincipal, "GOLD").
			WillReturnRows(sqlmock.NewRows([]string{"balance", "version"}).AddRow(0, 0))

		mock.ExpectRollback()

		err := service.Pull(ctx, "alice", "GOLD", 400, "a1b2c3")
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "insufficient balance")
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestTokenLedgerService_Push(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	service := NewTokenLedgerService(db)
	ctx := context.Background()

	t.Run("successful release from custody", func(t *testing.T) {
		recipient := "bob"
		token := "GOLD"
		amount := int64(400)
		reference := "a1b2c3"

		mock.ExpectBegin()

		// bob sorts before escrow-custody, so the recipient locks first
		mock.ExpectExec("INSERT INTO accounts").
			WithArgs(recipient, token, sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectQuery("SELECT balance, version FROM accounts").
			WithArgs(recipient, token).
			WillReturnRows(sqlmock.NewRows([]string{"balance", "version"}).AddRow(0, 0))

		mock.ExpectExec("INSERT INTO accounts").
			WithArgs(DefaultCustodyPrincipal, token, sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectQuery("SELECT balance, version FROM accounts").
			WithArgs(DefaultCustodyPrincipal, token).
			WillReturnRows(sqlmock.NewRows([]string{"balance", "version"}).AddRow(400, 2))

		mock.ExpectExec("INSERT INTO ledger_entries").
			WithArgs(reference, DefaultCustodyPrincipal, token, -amount, "DEBIT", 0, sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectExec("INSERT INTO ledger_entries").
			WithArgs(reference, recipient, token, amount, "CREDIT", 400, sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(2, 1))

		mock.ExpectExec("UPDATE accounts").
			WithArgs(0, sqlmock.AnyArg(), DefaultCustodyPrincipal, token, 2).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec("UPDATE accounts").
			WithArgs(400, sqlmock.AnyArg(), recipient, token, 0).
			WillReturnResult(sqlmock.NewResult(0, 1))

		mock.ExpectCommit()

		err := service.Push(ctx, recipient, token, amount, reference)
		assert.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("optimistic lock failure rolls back", func(t *testing.T) {
		mock.ExpectBegin()

		mock.ExpectExec("INSERT INTO accounts").
			WithArgs("bob", "GOLD", sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectQuery("SELECT balance, version FROM accounts").
			WithArgs("bob", "GOLD").
			WillReturnRows(sqlmock.NewRows([]string{"balance", "version"}).AddRow(0, 0))

		mock.ExpectExec("INSERT INTO accounts").
			WithArgs(DefaultCustodyPrincipal, "GOLD", sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectQuery("SELECT balance, version FROM accounts").
			WithArgs(DefaultCustodyPrincipal, "GOLD").
			WillReturnRows(sqlmock.NewRows([]string{"balance", "version"}).AddRow(400, 2))

		mock.ExpectExec("INSERT INTO ledger_entries").
			WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectExec("INSERT INTO ledger_entries").
			WillReturnResult(sqlmock.NewResult(2, 1))

		// concurrent writer bumped the version
		mock.ExpectExec("UPDATE accounts").
			WithArgs(0, sqlmock.AnyArg(), DefaultCustodyPrincipal, "GOLD", 2).
			WillReturnResult(sqlmock.NewResult(0, 0))

		mock.ExpectRollback()

		err := service.Push(ctx, "bob", "GOLD", 400, "a1b2c3")
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "optimistic lock failed")
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestTokenLedgerService_Approve(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	service := NewTokenLedgerService(db)
	ctx := context.Background()

	t.Run("upserts the allowance", func(t *testing.T) {
		mock.ExpectExec("INSERT INTO allowances").
			WithArgs("alice", DefaultCustodyPrincipal, "GOLD", int64(500), sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(1, 1))

		err := service.Approve(ctx, "alice", "GOLD", 500)
		assert.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("rejects negative amount", func(t *testing.T) {
		err := service.Approve(ctx, "alice", "GOLD", -1)
		assert.ErrorIs(t, err, ErrInvalidAmount)
	})
}

func TestTokenLedgerService_Balance(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	service := NewTokenLedgerService(db)
	ctx := context.Background()

	t.Run("existing account", func(t *testing.T) {
		mock.ExpectQuery("SELECT balance FROM accounts").
			WithArgs("alice", "GOLD").
			WillReturnRows(sqlmock.NewRows([]string{"balance"}).AddRow(750))

		balance, err := service.Balance(ctx, "alice", "GOLD")
		assert.NoError(t, err)
		assert.Equal(t, int64(750), balance)
	})

	t.Run("missing account reads as zero", func(t *testing.T) {
		mock.ExpectQuery("SELECT balance FROM accounts").
			WithArgs("nobody", "GOLD").
			WillReturnRows(sqlmock.NewRows([]string{"balance"}))

		balance, err := service.Balance(ctx, "nobody", "GOLD")
		assert.NoError(t, err)
		assert.Equal(t, int64(0), balance)
	})
}

func TestTokenLedgerService_GetAccount(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	service := NewTokenLedgerService(db)
	ctx := context.Background()

	t.Run("existing account", func(t *testing.T) {
		mock.ExpectQuery("SELECT balance, version, updated_at FROM accounts").
			WithArgs("alice", "GOLD").
			WillReturnRows(sqlmock.NewRows([]string{"balance", "version", "updated_at"}).
				AddRow(750, 3, time.Now()))

		account, err := service.GetAccount(ctx, "alice", "GOLD")
		assert.NoError(t, err)
		assert.Equal(t, int64(750), account.Balance)
		assert.Equal(t, 3, account.Version)
	})

	t.Run("missing account is zero-valued", func(t *testing.T) {
		mock.ExpectQuery("SELECT balance, version, updated_at FROM accounts").
			WithArgs("nobody", "GOLD").
			WillReturnRows(sqlmock.NewRows([]string{"balance", "version", "updated_at"}))

		account, err := service.GetAccount(ctx, "nobody", "GOLD")
		assert.NoError(t, err)
		assert.Equal(t, "nobody", account.Principal)
		assert.Zero(t, account.Balance)
	})
}

func TestTokenLedgerService_Statement(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	service := NewTokenLedgerService(db)
	ctx := context.Background()

	columns := []string{"id", "reference", "principal", "token", "amount",
		"entry_type", "balance", "created_at"}

	t.Run("returns entries newest first", func(t *testing.T) {
		mock.ExpectQuery("SELECT id, reference, principal, token").
			WithArgs("alice", "GOLD", 10).
			WillReturnRows(sqlmock.NewRows(columns).
				AddRow(2, "a1b2c3", "alice", "GOLD", -400, "DEBIT", 600, time.Now()).
				AddRow(1, "seed", "alice", "GOLD", 1000, "CREDIT", 1000, time.Now()))

		entries, err := service.Statement(ctx, "alice", "GOLD", 10)
		assert.NoError(t, err)
		assert.Len(t, entries, 2)
		assert.Equal(t, "DEBIT", entries[0].EntryType)
	})

	t.Run("defaults an out-of-range limit", func(t *testing.T) {
		mock.ExpectQuery("SELECT id, reference, principal, token").
			WithArgs("alice", "GOLD", 50).
			WillReturnRows(sqlmock.NewRows(columns))

		entries, err := service.Statement(ctx, "alice", "GOLD", 0)
		assert.NoError(t, err)
		assert.Empty(t, entries)
	})
}
