package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/lightningnetwork/lnd/clock"
	"github.com/lockpool/escrow/internal/models"
)

// AssetTransfer moves the escrowed token between principals and the custody
// account. Pull requires a prior allowance from the owner. Either call may
// invoke arbitrary third-party logic, so the escrow service never holds its
// own state lock while calling into this interface.
type AssetTransfer interface {
	// Pull moves amount of token from the owner into custody. Fails with
	// ErrInsufficientAuthorization when the owner's allowance does not cover
	// the amount.
	Pull(ctx context.Context, from, token string, amount int64, reference string) error

	// Push releases amount of token from custody to the recipient.
	Push(ctx context.Context, to, token string, amount int64, reference string) error
}

// EventSink is the append-only, externally observable escrow log. Sink
// failures never roll back a committed settlement; they are logged and the
// watcher catches up from the audit table.
type EventSink interface {
	Emit(ctx context.Context, event models.EscrowEvent) error
}

// EscrowService is the HTLC escrow ledger. It owns the record mapping
// exclusively: a record is created once, settles through exactly one of
// withdraw or refund, and is never deleted.
//
// State-changing calls on the same hashlock never interleave: each call holds
// a per-record in-flight guard for its whole duration, including the outbound
// asset transfer. Terminal flags are committed to the store strictly before
// the transfer, so a reentrant call made from a transfer callback observes
// the record already settled (and is rejected by the guard before that).
type EscrowService struct {
	store  LockStore
	assets AssetTransfer
	events EventSink
	clock  clock.Clock

	mu       sync.Mutex
	inFlight map[string]bool
}

func NewEscrowService(store LockStore, assets AssetTransfer, events EventSink, clk clock.Clock) *EscrowService {
	if clk == nil {
		clk = clock.NewDefaultClock()
	}
	return &EscrowService{
		store:    store,
		assets:   assets,
		events:   events,
		clock:    clk,
		inFlight: make(map[string]bool),
	}
}

// Create opens a new escrow: pulls amount of token from the caller into
// custody and inserts an ACTIVE record keyed by hashlock. The caller becomes
// the record's sender. All failures leave the ledger unchanged.
func (s *EscrowService) Create(ctx context.Context, caller, receiver, hashlock string, timelock time.Time, token string, amount int64) (*models.LockContract, error) {
	hashlock = strings.ToLower(hashlock)
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}
	if _, err := decodeDigest(hashlock); err != nil {
		return nil, ErrInvalidHashlock
	}
	if !timelock.After(s.clock.Now()) {
		return nil, ErrTimelockNotInFuture
	}

	if err := s.acquire(hashlock); err != nil {
		return nil, err
	}
	defer s.release(hashlock)

	if _, err := s.store.Get(ctx, hashlock); err == nil {
		return nil, ErrDuplicateHashlock
	} else if err != ErrNoSuchContract {
		return nil, err
	}

	// Take custody before committing the record; a failed pull aborts the
	// whole call with no record inserted.
	if err := s.assets.Pull(ctx, caller, token, amount, hashlock); err != nil {
		return nil, err
	}

	lock := &models.LockContract{
		Hashlock:      hashlock,
		Sender:        caller,
		Receiver:      receiver,
		TokenContract: token,
		Amount:        amount,
		Timelock:      timelock,
		CreatedAt:     s.clock.Now(),
	}

	if err := s.store.Insert(ctx, lock); err != nil {
		// Custody was taken but the record did not commit; hand the funds
		// straight back so no value is stranded.
		if pushErr := s.assets.Push(ctx, caller, token, amount, hashlock); pushErr != nil {
			log.Printf("[ESCROW] CRITICAL: failed to return custody for %s after insert failure: %v", hashlock, pushErr)
		}
		return nil, err
	}

	s.emit(ctx, models.EscrowEvent{
		ID:            uuid.New().String(),
		EventType:     models.EventTypeLockCreated,
		Hashlock:      hashlock,
		Sender:        caller,
		Receiver:      receiver,
		TokenContract: token,
		Amount:        amount,
		Timelock:      timelock,
		CreatedAt:     s.clock.Now(),
	})

	log.Printf("[ESCROW] lock created: hashlock=%s sender=%s receiver=%s amount=%d", hashlock, caller, receiver, amount)
	return lock, nil
}

// Withdraw settles the escrow to the receiver in exchange for the preimage.
// The record is marked withdrawn and the preimage stored before the outbound
// transfer; if the transfer fails, the record mutation is reverted and the
// whole call fails.
func (s *EscrowService) Withdraw(ctx context.Context, caller, hashlock, preimage string) error {
	hashlock = strings.ToLower(hashlock)
	if err := s.acquire(hashlock); err != nil {
		return err
	}
	defer s.release(hashlock)

	lock, err := s.store.Get(ctx, hashlock)
	if err != nil {
		return err
	}
	if caller != lock.Receiver {
		return ErrNotReceiver
	}
	if lock.Settled() {
		return ErrAlreadySettled
	}
	if !preimageMatches(preimage, hashlock) {
		return ErrHashMismatch
	}

	settledAt := s.clock.Now()
	lock.Withdrawn = true
	lock.Preimage = preimage
	lock.SettledAt = &settledAt

	// Commit the terminal state before moving value: anything the transfer
	// calls back into must already see the record settled.
	if err := s.store.Update(ctx, lock); err != nil {
		return err
	}

	if err := s.assets.Push(ctx, lock.Receiver, lock.TokenContract, lock.Amount, hashlock); err != nil {
		s.revert(ctx, lock)
		return fmt.Errorf("withdraw transfer failed: %w", err)
	}

	s.emit(ctx, models.EscrowEvent{
		ID:        uuid.New().String(),
		EventType: models.EventTypeLockWithdrawn,
		Hashlock:  hashlock,
		Receiver:  lock.Receiver,
		Preimage:  preimage,
		Amount:    lock.Amount,
		CreatedAt: settledAt,
	})

	log.Printf("[ESCROW] lock withdrawn: hashlock=%s receiver=%s", hashlock, lock.Receiver)
	return nil
}

// Refund returns the escrowed amount to the sender once the timelock has
// expired and the record is still unclaimed. Same commit-then-transfer
// ordering as Withdraw.
func (s *EscrowService) Refund(ctx context.Context, caller, hashlock string) error {
	hashlock = strings.ToLower(hashlock)
	if err := s.acquire(hashlock); err != nil {
		return err
	}
	defer s.release(hashlock)

	lock, err := s.store.Get(ctx, hashlock)
	if err != nil {
		return err
	}
	if caller != lock.Sender {
		return ErrNotSender
	}
	if lock.Settled() {
		return ErrAlreadySettled
	}
	if s.clock.Now().Before(lock.Timelock) {
		return ErrTimelockNotExpired
	}

	settledAt := s.clock.Now()
	lock.Refunded = true
	lock.SettledAt = &settledAt

	if err := s.store.Update(ctx, lock); err != nil {
		return err
	}

	if err := s.assets.Push(ctx, lock.Sender, lock.TokenContract, lock.Amount, hashlock); err != nil {
		s.revert(ctx, lock)
		return fmt.Errorf("refund transfer failed: %w", err)
	}

	s.emit(ctx, models.EscrowEvent{
		ID:        uuid.New().String(),
		EventType: models.EventTypeLockRefunded,
		Hashlock:  hashlock,
		Sender:    lock.Sender,
		Amount:    lock.Amount,
		CreatedAt: settledAt,
	})

	log.Printf("[ESCROW] lock refunded: hashlock=%s sender=%s", hashlock, lock.Sender)
	return nil
}

// Query returns a read-only snapshot of the record. An unused hashlock
// returns a zeroed snapshot with Exists=false rather than an error, so
// callers can probe existence cheaply.
func (s *EscrowService) Query(ctx context.Context, hashlock string) (models.LockSnapshot, error) {
	lock, err := s.store.Get(ctx, strings.ToLower(hashlock))
	if err == ErrNoSuchContract {
		return models.LockSnapshot{}, nil
	}
	if err != nil {
		return models.LockSnapshot{}, err
	}
	return models.LockSnapshot{
		Exists:       true,
		Status:       lock.Status(),
		LockContract: *lock,
	}, nil
}

// List returns lock contracts matching the filter, newest first.
func (s *EscrowService) List(ctx context.Context, filter LockFilter) ([]models.LockContract, error) {
	return s.store.List(ctx, filter)
}

// acquire marks a record as having a state-changing call in flight. A second
// call against the same hashlock, nested or concurrent, is rejected instead
// of interleaving.
func (s *EscrowService) acquire(hashlock string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.inFlight[hashlock] {
		return ErrLedgerBusy
	}
	s.inFlight[hashlock] = true
	return nil
}

func (s *EscrowService) release(hashlock string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.inFlight, hashlock)
}

// revert undoes a terminal-flag commit after a failed outbound transfer so
// the caller observes all-or-nothing semantics.
func (s *EscrowService) revert(ctx context.Context, lock *models.LockContract) {
	lock.Withdrawn = false
	lock.Refunded = false
	lock.Preimage = ""
	lock.SettledAt = nil
	if err := s.store.Update(ctx, lock); err != nil {
		log.Printf("[ESCROW] CRITICAL: failed to revert %s after transfer failure: %v", lock.Hashlock, err)
	}
}

func (s *EscrowService) emit(ctx context.Context, event models.EscrowEvent) {
	if s.events == nil {
		return
	}
	if err := s.events.Emit(ctx, event); err != nil {
		log.Printf("[ESCROW] event emit failed for %s: %v", event.Hashlock, err)
	}
}

// decodeDigest parses a hex-encoded SHA-256 digest.
func decodeDigest(hashlock string) ([]byte, error) {
	digest, err := hex.DecodeString(hashlock)
	if err != nil {
		return nil, err
	}
	if len(digest) != sha256.Size {
		return nil, fmt.Errorf("digest is %d bytes, want %d", len(digest), sha256.Size)
	}
	return digest, nil
}

// preimageMatches reports whether sha256(preimage) equals the hashlock. The
// preimage travels hex-encoded; a malformed encoding can never match.
func preimageMatches(preimage, hashlock string) bool {
	secret, err := hex.DecodeString(preimage)
	if err != nil {
		return false
	}
	sum := sha256.Sum256(secret)
	return hex.EncodeToString(sum[:]) == hashlock
}

// HashPreimage returns the hashlock for a hex-encoded preimage. Exposed for
// clients and tests constructing lock contracts.
func HashPreimage(preimage string) (string, error) {
	secret, err := hex.DecodeString(preimage)
	if err != nil {
		return "", fmt.Errorf("decode preimage: %w", err)
	}
	sum := sha256.Sum256(secret)
	return hex.EncodeToString(sum[:]), nil
}
