// Package billing defines the account and hold entities of the balance ledger.
package billing

import "time"

// HoldState represents the lifecycle state of a reservation.
type HoldState string

const (
	HoldHeld      HoldState = "held"
	HoldCommitted HoldState = "committed"
	HoldReleased  HoldState = "released"
)

// Account is a per-user balance aggregate. Balance is in micro-credits and
// never goes negative; it is mutated only through ledger operations, guarded
// by the version column. Coefficient scales catalog prices for this user.
type Account struct {
	UserID      string    `json:"user_id"`
	Balance     int64     `json:"balance"`
	Coefficient float64   `json:"coefficient"`
	Version     int       `json:"version"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Hold is a provisional debit against an account. A hold transitions from
// held to committed or released at most once; both transitions are idempotent
// keyed by the hold ID. ActualAmount is set on commit and may be lower than
// Amount, in which case the difference was refunded.
type Hold struct {
	ID           string     `json:"id"`
	UserID       string     `json:"user_id"`
	TaskID       string     `json:"task_id"`
	Amount       int64      `json:"amount"`
	ActualAmount int64      `json:"actual_amount,omitempty"`
	State        HoldState  `json:"state"`
	CreatedAt    time.Time  `json:"created_at"`
	ResolvedAt   *time.Time `json:"resolved_at,omitempty"`
}
