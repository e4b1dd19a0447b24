package services

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/lockpool/escrow/internal/models"
)

// DefaultCustodyPrincipal is the ledger-owned account that holds escrowed
// funds between create and settlement.
const DefaultCustodyPrincipal = "escrow-custody"

// TokenLedgerService is the postgres-backed asset-transfer collaborator. Every
// movement is a double-entry pair inside one database transaction: Pull
// consumes the owner's allowance and moves funds into custody, Push releases
// custody to the recipient. Account rows use optimistic version locking on
// top of ordered FOR UPDATE row locks.
type TokenLedgerService struct {
	db      *sql.DB
	custody string
}

func NewTokenLedgerService(db *sql.DB) *TokenLedgerService {
	custody := DefaultCustodyPrincipal
	if envCustody := os.Getenv("ESCROW_CUSTODY_PRINCIPAL"); envCustody != "" {
		custody = envCustody
	}
	return &TokenLedgerService{
		db:      db,
		custody: custody,
	}
}

// Custody returns the principal that holds escrowed funds.
func (s *TokenLedgerService) Custody() string {
	return s.custody
}

// Approve grants the custody principal the right to pull up to amount of
// token from owner. Re-approving replaces the previous allowance.
func (s *TokenLedgerService) Approve(ctx context.Context, owner, token string, amount int64) error {
	if amount < 0 {
		return ErrInvalidAmount
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO allowances (owner, spender, token, amount, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (owner, spender, token)
		DO UPDATE SET amount = $4, updated_at = $5`,
		owner, s.custody, token, amount, time.Now())
	return err
}

// Allowance returns the remaining pull authorization for owner.
func (s *TokenLedgerService) Allowance(ctx context.Context, owner, token string) (int64, error) {
	var amount int64
	err := s.db.QueryRowContext(ctx, `
		SELECT amount FROM allowances
		WHERE owner = $1 AND spender = $2 AND token = $3`,
		owner, s.custody, token).Scan(&amount)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	return amount, err
}

// Balance returns the principal's token balance.
func (s *TokenLedgerService) Balance(ctx context.Context, principal, token string) (int64, error) {
	var balance int64
	err := s.db.QueryRowContext(ctx, `
		SELECT balance FROM accounts
		WHERE principal = $1 AND token = $2`,
		principal, token).Scan(&balance)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	return balance, err
}

// GetAccount returns the principal's account row. A principal that has never
// held the token gets a zero-valued row rather than an error.
func (s *TokenLedgerService) GetAccount(ctx context.Context, principal, token string) (*models.Account, error) {
	account := &models.Account{Principal: principal, Token: token}
	err := s.db.QueryRowContext(ctx, `
		SELECT balance, version, updated_at FROM accounts
		WHERE principal = $1 AND token = $2`,
		principal, token).Scan(&account.Balance, &account.Version, &account.UpdatedAt)
	if err == sql.ErrNoRows {
		return account, nil
	}
	if err != nil {
		return nil, fmt.Errorf("fetch account: %w", err)
	}
	return account, nil
}

// Statement returns the principal's most recent ledger entries, newest first.
func (s *TokenLedgerService) Statement(ctx context.Context, principal, token string, limit int) ([]models.LedgerEntry, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, reference, principal, token, amount, entry_type, balance, created_at
		FROM ledger_entries
		WHERE principal = $1 AND token = $2
		ORDER BY created_at DESC
		LIMIT $3`, principal, token, limit)
	if err != nil {
		return nil, fmt.Errorf("fetch ledger entries: %w", err)
	}
	defer rows.Close()

	entries := []models.LedgerEntry{}
	for rows.Next() {
		var entry models.LedgerEntry
		if err := rows.Scan(&entry.ID, &entry.Reference, &entry.Principal,
			&entry.Token, &entry.Amount, &entry.EntryType, &entry.Balance,
			&entry.CreatedAt); err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

// Pull moves amount of token from the owner into custody, consuming the
// owner's allowance. The allowance check, both account updates and the
// ledger entries commit atomically or not at all.
func (s *TokenLedgerService) Pull(ctx context.Context, from, token string, amount int64, reference string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := s.consumeAllowance(tx, from, token, amount); err != nil {
		return err
	}

	if err := s.transferTx(tx, from, s.custody, token, amount, reference); err != nil {
		return err
	}

	return tx.Commit()
}

// Push releases amount of token from custody to the recipient.
func (s *TokenLedgerService) Push(ctx context.Context, to, token string, amount int64, reference string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := s.transferTx(tx, s.custody, to, token, amount, reference); err != nil {
		return err
	}

	return tx.Commit()
}

func (s *TokenLedgerService) consumeAllowance(tx *sql.Tx, owner, token string, amount int64) error {
	var remaining int64
	err := tx.QueryRow(`
		SELECT amount FROM allowances
		WHERE owner = $1 AND spender = $2 AND token = $3
		FOR UPDATE`, owner, s.custody, token).Scan(&remaining)
	if err == sql.ErrNoRows || (err == nil && remaining < amount) {
		return ErrInsufficientAuthorization
	}
	if err != nil {
		return err
	}

	_, err = tx.Exec(`
		UPDATE allowances SET amount = amount - $1, updated_at = $2
		WHERE owner = $3 AND spender = $4 AND token = $5`,
		amount, time.Now(), owner, s.custody, token)
	return err
}

func (s *TokenLedgerService) transferTx(tx *sql.Tx, from, to, token string, amount int64, reference string) error {
	// Lock accounts in consistent order to prevent deadlocks
	firstLock, secondLock := from, to
	if from > to {
		firstLock, secondLock = to, from
	}

	fromAccount, err := s.lockAccount(tx, firstLock, token)
	if err != nil {
		return err
	}

	toAccount, err := s.lockAccount(tx, secondLock, token)
	if err != nil {
		return err
	}

	if firstLock != from {
		fromAccount, toAccount = toAccount, fromAccount
	}

	if fromAccount.balance < amount {
		return fmt.Errorf("insufficient balance for %s", from)
	}

	if err := s.createLedgerEntry(tx, reference, from, token, -amount, "DEBIT", fromAccount.balance-amount); err != nil {
		return err
	}

	if err := s.createLedgerEntry(tx, reference, to, token, amount, "CREDIT", toAccount.balance+amount); err != nil {
		return err
	}

	if err := s.updateAccountBalance(tx, from, token, fromAccount.balance-amount, fromAccount.version); err != nil {
		return err
	}

	return s.updateAccountBalance(tx, to, token, toAccount.balance+amount, toAccount.version)
}

type lockedAccount struct {
	principal string
	balance   int64
	version   int
}

func (s *TokenLedgerService) lockAccount(tx *sql.Tx, principal, token string) (*lockedAccount, error) {
	// Recipients may not have a row yet; seed a zero balance before locking.
	if _, err := tx.Exec(`
		INSERT INTO accounts (principal, token, balance, version, updated_at)
		VALUES ($1, $2, 0, 0, $3)
		ON CONFLICT (principal, token) DO NOTHING`,
		principal, token, time.Now()); err != nil {
		return nil, err
	}

	account := lockedAccount{principal: principal}
	err := tx.QueryRow(`
		SELECT balance, version FROM accounts
		WHERE principal = $1 AND token = $2
		FOR UPDATE`, principal, token).Scan(&account.balance, &account.version)
	if err != nil {
		return nil, err
	}
	return &account, nil
}

func (s *TokenLedgerService) createLedgerEntry(tx *sql.Tx, reference, principal, token string, amount int64, entryType string, balance int64) error {
	_, err := tx.Exec(`
		INSERT INTO ledger_entries (reference, principal, token, amount, entry_type, balance, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		reference, principal, token, amount, entryType, balance, time.Now())
	return err
}

func (s *TokenLedgerService) updateAccountBalance(tx *sql.Tx, principal, token string, newBalance int64, version int) error {
	result, err := tx.Exec(`
		UPDATE accounts
		SET balance = $1, version = version + 1, updated_at = $2
		WHERE principal = $3 AND token = $4 AND version = $5`,
		newBalance, time.Now(), principal, token, version)
	if err != nil {
		return err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}

	if rowsAffected == 0 {
		return fmt.Errorf("optimistic lock failed for account %s", principal)
	}

	return nil
}

// MemoryAssetLedger is an in-process AssetTransfer for isolated ledgers in
// tests and local development. Same semantics as TokenLedgerService without
// the database.
type MemoryAssetLedger struct {
	mu         sync.Mutex
	balances   map[string]int64
	allowances map[string]int64
	custody    string
}

func NewMemoryAssetLedger() *MemoryAssetLedger {
	return &MemoryAssetLedger{
		balances:   make(map[string]int64),
		allowances: make(map[string]int64),
		custody:    DefaultCustodyPrincipal,
	}
}

func accountKey(principal, token string) string {
	return principal + "/" + token
}

// SetBalance seeds a principal's balance.
func (l *MemoryAssetLedger) SetBalance(principal, token string, amount int64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.balances[accountKey(principal, token)] = amount
}

// Approve grants the custody principal a pull allowance.
func (l *MemoryAssetLedger) Approve(_ context.Context, owner, token string, amount int64) error {
	if amount < 0 {
		return ErrInvalidAmount
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.allowances[accountKey(owner, token)] = amount
	return nil
}

func (l *MemoryAssetLedger) Balance(_ context.Context, principal, token string) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.balances[accountKey(principal, token)], nil
}

func (l *MemoryAssetLedger) Allowance(_ context.Context, owner, token string) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.allowances[accountKey(owner, token)], nil
}

// CustodyBalance returns the funds currently held in escrow custody.
func (l *MemoryAssetLedger) CustodyBalance(token string) int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.balances[accountKey(l.custody, token)]
}

func (l *MemoryAssetLedger) Pull(_ context.Context, from, token string, amount int64, _ string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.allowances[accountKey(from, token)] < amount {
		return ErrInsufficientAuthorization
	}
	if l.balances[accountKey(from, token)] < amount {
		return fmt.Errorf("insufficient balance for %s", from)
	}

	l.allowances[accountKey(from, token)] -= amount
	l.balances[accountKey(from, token)] -= amount
	l.balances[accountKey(l.custody, token)] += amount
	return nil
}

func (l *MemoryAssetLedger) Push(_ context.Context, to, token string, amount int64, _ string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.balances[accountKey(l.custody, token)] < amount {
		return fmt.Errorf("custody balance underflow for %s", token)
	}

	l.balances[accountKey(l.custody, token)] -= amount
	l.balances[accountKey(to, token)] += amount
	return nil
}
