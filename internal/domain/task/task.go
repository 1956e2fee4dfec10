// Package task defines the Task domain entity and its state machine.
package task

import (
	"encoding/json"
	"time"
)

// Status represents the current state of a task.
type Status string

const (
	StatusPending      Status = "pending"
	StatusInProgress   Status = "in_progress"
	StatusCompleted    Status = "completed"
	StatusFailed       Status = "failed"
	StatusDeadLettered Status = "dead_lettered"
)

// Terminal reports whether the status is final. Terminal tasks are never
// processed again; redeliveries for them are acknowledged and dropped.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusDeadLettered
}

// Task represents a unit of billable generation work. The payload is
// immutable after admission; only status, attempts and worker fields change.
// Amounts are in micro-credits.
type Task struct {
	ID            string          `json:"id"`
	UserID        string          `json:"user_id"`
	Model         string          `json:"model"`
	Payload       json.RawMessage `json:"payload"`
	Status        Status          `json:"status"`
	EstimatedCost int64           `json:"estimated_cost"`
	PrimeCost     int64           `json:"prime_cost"`
	ReservationID string          `json:"reservation_id"`
	Attempts      int             `json:"attempts"`
	ProcessedBy   string          `json:"processed_by,omitempty"`
	Version       int             `json:"version"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// Result holds the terminal outcome of a task. Exactly one of Output or
// Error is meaningful. Results are written once and never updated; the first
// write also fixes ActualCost, so a redelivered message settles the ledger
// with the same amount.
type Result struct {
	TaskID      string          `json:"task_id"`
	Output      json.RawMessage `json:"output,omitempty"`
	Error       string          `json:"error,omitempty"`
	ActualCost  int64           `json:"actual_cost"`
	CompletedAt time.Time       `json:"completed_at"`
}

// Message is the queue payload published at admission. Workers load the
// authoritative task row by ID rather than trusting queued state.
type Message struct {
	TaskID string `json:"task_id"`
}

// SubmitRequest holds the fields needed to admit a new task.
type SubmitRequest struct {
	UserID  string          `json:"user_id"`
	Model   string          `json:"model"`
	Payload json.RawMessage `json:"payload"`
}
