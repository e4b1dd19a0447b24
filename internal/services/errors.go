package services

import (
	"errors"
)

// Escrow ledger failures. Every state-changing operation detects these
// synchronously and leaves the ledger unchanged; callers match with errors.Is.
var (
	// ErrInvalidAmount is returned by create when amount is not strictly
	// positive.
	ErrInvalidAmount = errors.New("amount must be greater than zero")

	// ErrInsufficientAuthorization is returned by create when the sender has
	// not pre-authorized the custody principal to pull the full amount.
	ErrInsufficientAuthorization = errors.New("insufficient transfer authorization")

	// ErrTimelockNotInFuture is returned by create when the deadline is at or
	// before current ledger time.
	ErrTimelockNotInFuture = errors.New("timelock must be in the future")

	// ErrDuplicateHashlock is returned by create when the hashlock key has
	// already been used. Hashlocks are single-use for their whole lifetime.
	ErrDuplicateHashlock = errors.New("hashlock already in use")

	// ErrNoSuchContract is returned by withdraw and refund when no record
	// exists for the hashlock.
	ErrNoSuchContract = errors.New("no contract for hashlock")

	// ErrNotReceiver is returned by withdraw when the caller is not the
	// record's receiver.
	ErrNotReceiver = errors.New("caller is not the receiver")

	// ErrNotSender is returned by refund when the caller is not the record's
	// sender.
	ErrNotSender = errors.New("caller is not the sender")

	// ErrAlreadySettled is returned when the record has already reached a
	// terminal state via withdraw or refund.
	ErrAlreadySettled = errors.New("contract already settled")

	// ErrHashMismatch is returned by withdraw when the supplied preimage does
	// not hash to the record's hashlock.
	ErrHashMismatch = errors.New("preimage does not match hashlock")

	// ErrTimelockNotExpired is returned by refund before the deadline.
	ErrTimelockNotExpired = errors.New("timelock not yet expired")

	// ErrLedgerBusy is returned when a call targets a record that already has
	// a state-changing call in flight, including reentrant calls made from a
	// transfer callback.
	ErrLedgerBusy = errors.New("contract has a call in flight")

	// ErrInvalidHashlock is returned by create when the hashlock is not a
	// hex-encoded SHA-256 digest.
	ErrInvalidHashlock = errors.New("hashlock must be a hex sha256 digest")
)
