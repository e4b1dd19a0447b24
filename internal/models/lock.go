package models

import (
	"time"
)

// Lock contract lifecycle states as reported to API consumers. A record is
// created ACTIVE and moves to exactly one of WITHDRAWN or REFUNDED.
const (
	LockStatusActive    = "ACTIVE"
	LockStatusWithdrawn = "WITHDRAWN"
	LockStatusRefunded  = "REFUNDED"
)

// LockContract is a single hash-time-locked escrow record. Records are keyed
// by hashlock, are never deleted, and keep their full history (including the
// revealed preimage) as an audit trail.
type LockContract struct {
	Hashlock      string     `json:"hashlock" db:"hashlock"`
	Sender        string     `json:"sender" db:"sender"`
	Receiver      string     `json:"receiver" db:"receiver"`
	TokenContract string     `json:"token_contract" db:"token_contract"`
	Amount        int64      `json:"amount" db:"amount"`
	Timelock      time.Time  `json:"timelock" db:"timelock"`
	Withdrawn     bool       `json:"withdrawn" db:"withdrawn"`
	Refunded      bool       `json:"refunded" db:"refunded"`
	Preimage      string     `json:"preimage,omitempty" db:"preimage"`
	CreatedAt     time.Time  `json:"created_at" db:"created_at"`
	SettledAt     *time.Time `json:"settled_at,omitempty" db:"settled_at"`
}

// Status derives the lifecycle state from the terminal flags.
func (lc *LockContract) Status() string {
	switch {
	case lc.Withdrawn:
		return LockStatusWithdrawn
	case lc.Refunded:
		return LockStatusRefunded
	default:
		return LockStatusActive
	}
}

// Settled reports whether the record has reached a terminal state.
func (lc *LockContract) Settled() bool {
	return lc.Withdrawn || lc.Refunded
}

// LockSnapshot is the read-only view returned by query operations. Probing a
// hashlock that was never used returns a zeroed snapshot with Exists=false
// instead of an error, so callers can check existence without branching on an
// error channel.
type LockSnapshot struct {
	Exists bool   `json:"exists"`
	Status string `json:"status,omitempty"`
	LockContract
}
