package models

import (
	"time"
)

// Account is a per-principal, per-token balance row. Version is bumped on
// every balance change for optimistic locking.
type Account struct {
	Principal string    `json:"principal" db:"principal"`
	Token     string    `json:"token" db:"token"`
	Balance   int64     `json:"balance" db:"balance"` // in base units
	Version   int       `json:"version" db:"version"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// Allowance is a spending grant from Owner to Spender for a token. The escrow
// custody principal is the only spender the service itself ever acts as; a
// pull consumes the allowance it uses.
type Allowance struct {
	Owner     string    `json:"owner" db:"owner"`
	Spender   string    `json:"spender" db:"spender"`
	Token     string    `json:"token" db:"token"`
	Amount    int64     `json:"amount" db:"amount"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// LedgerEntry is one side of a double-entry token movement.
type LedgerEntry struct {
	ID        int       `json:"id" db:"id"`
	Reference string    `json:"reference" db:"reference"` // hashlock or external ref
	Principal string    `json:"principal" db:"principal"`
	Token     string    `json:"token" db:"token"`
	Amount    int64     `json:"amount" db:"amount"`
	EntryType string    `json:"entry_type" db:"entry_type"` // DEBIT or CREDIT
	Balance   int64     `json:"balance" db:"balance"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}
