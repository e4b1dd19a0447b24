package models

import (
	"time"
)

// Escrow event types written to the notification sink. Off-chain watchers
// consume lock_withdrawn events to learn revealed preimages for chained swaps,
// and lock_refunded / lock_created events to track expirable custody.
const (
	EventTypeLockCreated   = "lock_created"
	EventTypeLockWithdrawn = "lock_withdrawn"
	EventTypeLockRefunded  = "lock_refunded"
)

// EscrowEvent is one entry in the append-only escrow event log.
type EscrowEvent struct {
	ID            string    `json:"id" db:"id"`
	EventType     string    `json:"event_type" db:"event_type"`
	Hashlock      string    `json:"hashlock" db:"hashlock"`
	Sender        string    `json:"sender,omitempty" db:"sender"`
	Receiver      string    `json:"receiver,omitempty" db:"receiver"`
	TokenContract string    `json:"token_contract,omitempty" db:"token_contract"`
	Amount        int64     `json:"amount,omitempty" db:"amount"`
	Timelock      time.Time `json:"timelock,omitempty" db:"timelock"`
	Preimage      string    `json:"preimage,omitempty" db:"preimage"`
	CreatedAt     time.Time `json:"created_at" db:"created_at"`
}
