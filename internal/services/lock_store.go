package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"

	"github.com/lib/pq"
	"github.com/lockpool/escrow/internal/models"
)

// LockStore owns the hashlock -> LockContract mapping. The escrow service is
// the only writer; records are inserted once, updated only to set a terminal
// flag, and never deleted.
type LockStore interface {
	Get(ctx context.Context, hashlock string) (*models.LockContract, error)
	Insert(ctx context.Context, lock *models.LockContract) error
	Update(ctx context.Context, lock *models.LockContract) error
	List(ctx context.Context, filter LockFilter) ([]models.LockContract, error)
}

// LockFilter narrows List results. Zero values mean "any".
type LockFilter struct {
	Sender   string
	Receiver string
	Status   string
	Limit    int
}

const uniqueViolation = "23505"

// PostgresLockStore persists lock contracts in the lock_contracts table.
type PostgresLockStore struct {
	db *sql.DB
}

func NewPostgresLockStore(db *sql.DB) *PostgresLockStore {
	return &PostgresLockStore{db: db}
}

func (s *PostgresLockStore) Get(ctx context.Context, hashlock string) (*models.LockContract, error) {
	var lock models.LockContract
	var preimage sql.NullString
	var settledAt sql.NullTime

	err := s.db.QueryRowContext(ctx, `
		SELECT hashlock, sender, receiver, token_contract, amount, timelock,
		       withdrawn, refunded, preimage, created_at, settled_at
		FROM lock_contracts
		WHERE hashlock = $1`, hashlock).
		Scan(&lock.Hashlock, &lock.Sender, &lock.Receiver, &lock.TokenContract,
			&lock.Amount, &lock.Timelock, &lock.Withdrawn, &lock.Refunded,
			&preimage, &lock.CreatedAt, &settledAt)
	if err == sql.ErrNoRows {
		return nil, ErrNoSuchContract
	}
	if err != nil {
		return nil, fmt.Errorf("fetch lock contract: %w", err)
	}

	lock.Preimage = preimage.String
	if settledAt.Valid {
		t := settledAt.Time
		lock.SettledAt = &t
	}
	return &lock, nil
}

func (s *PostgresLockStore) Insert(ctx context.Context, lock *models.LockContract) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO lock_contracts
			(hashlock, sender, receiver, token_contract, amount, timelock,
			 withdrawn, refunded, preimage, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		lock.Hashlock, lock.Sender, lock.Receiver, lock.TokenContract,
		lock.Amount, lock.Timelock, lock.Withdrawn, lock.Refunded,
		lock.Preimage, lock.CreatedAt)

	var pqErr *pq.Error
	if errors.As(err, &pqErr) && string(pqErr.Code) == uniqueViolation {
		return ErrDuplicateHashlock
	}
	if err != nil {
		return fmt.Errorf("insert lock contract: %w", err)
	}
	return nil
}

func (s *PostgresLockStore) Update(ctx context.Context, lock *models.LockContract) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE lock_contracts
		SET withdrawn = $1, refunded = $2, preimage = $3, settled_at = $4
		WHERE hashlock = $5`,
		lock.Withdrawn, lock.Refunded, lock.Preimage, lock.SettledAt,
		lock.Hashlock)
	if err != nil {
		return fmt.Errorf("update lock contract: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrNoSuchContract
	}
	return nil
}

func (s *PostgresLockStore) List(ctx context.Context, filter LockFilter) ([]models.LockContract, error) {
	query := `
		SELECT hashlock, sender, receiver, token_contract, amount, timelock,
		       withdrawn, refunded, preimage, created_at, settled_at
		FROM lock_contracts WHERE 1=1`
	args := []any{}

	if filter.Sender != "" {
		args = append(args, filter.Sender)
		query += fmt.Sprintf(" AND sender = $%d", len(args))
	}
	if filter.Receiver != "" {
		args = append(args, filter.Receiver)
		query += fmt.Sprintf(" AND receiver = $%d", len(args))
	}
	switch filter.Status {
	case models.LockStatusActive:
		query += " AND NOT withdrawn AND NOT refunded"
	case models.LockStatusWithdrawn:
		query += " AND withdrawn"
	case models.LockStatusRefunded:
		query += " AND refunded"
	}

	limit := filter.Limit
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	args = append(args, limit)
	query += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d", len(args))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list lock contracts: %w", err)
	}
	defer rows.Close()

	locks := []models.LockContract{}
	for rows.Next() {
		var lock models.LockContract
		var preimage sql.NullString
		var settledAt sql.NullTime
		if err := rows.Scan(&lock.Hashlock, &lock.Sender, &lock.Receiver,
			&lock.TokenContract, &lock.Amount, &lock.Timelock,
			&lock.Withdrawn, &lock.Refunded, &preimage, &lock.CreatedAt,
			&settledAt); err != nil {
			return nil, err
		}
		lock.Preimage = preimage.String
		if settledAt.Valid {
			t := settledAt.Time
			lock.SettledAt = &t
		}
		locks = append(locks, lock)
	}
	return locks, rows.Err()
}

// MemoryLockStore keeps records in a mutex-guarded map. Used for isolated
// ledgers in tests; behavior matches the postgres store.
type MemoryLockStore struct {
	mu    sync.RWMutex
	locks map[string]models.LockContract
	order []string
}

func NewMemoryLockStore() *MemoryLockStore {
	return &MemoryLockStore{locks: make(map[string]models.LockContract)}
}

func (s *MemoryLockStore) Get(_ context.Context, hashlock string) (*models.LockContract, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	lock, ok := s.locks[hashlock]
	if !ok {
		return nil, ErrNoSuchContract
	}
	return &lock, nil
}

func (s *MemoryLockStore) Insert(_ context.Context, lock *models.LockContract) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.locks[lock.Hashlock]; ok {
		return ErrDuplicateHashlock
	}
	s.locks[lock.Hashlock] = *lock
	s.order = append(s.order, lock.Hashlock)
	return nil
}

func (s *MemoryLockStore) Update(_ context.Context, lock *models.LockContract) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.locks[lock.Hashlock]; !ok {
		return ErrNoSuchContract
	}
	s.locks[lock.Hashlock] = *lock
	return nil
}

func (s *MemoryLockStore) List(_ context.Context, filter LockFilter) ([]models.LockContract, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	limit := filter.Limit
	if limit <= 0 || limit > 100 {
		limit = 50
	}

	locks := []models.LockContract{}
	// newest first, matching the postgres ordering
	for i := len(s.order) - 1; i >= 0 && len(locks) < limit; i-- {
		lock := s.locks[s.order[i]]
		if filter.Sender != "" && lock.Sender != filter.Sender {
			continue
		}
		if filter.Receiver != "" && lock.Receiver != filter.Receiver {
			continue
		}
		if filter.Status != "" && lock.Status() != filter.Status {
			continue
		}
		locks = append(locks, lock)
	}
	return locks, nil
}
