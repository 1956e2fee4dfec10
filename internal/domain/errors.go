// Package domain provides shared domain-level sentinel errors.
package domain

import "errors"

// ErrNotFound indicates the requested entity does not exist.
var ErrNotFound = errors.New("not found")

// ErrConflict indicates a concurrent modification conflict (optimistic locking).
var ErrConflict = errors.New("conflict: resource was modified by another request")

// ErrInsufficientFunds indicates the account balance cannot cover a reservation.
var ErrInsufficientFunds = errors.New("insufficient funds")

// ErrHoldResolved indicates a commit or release attempt on a hold that was
// already resolved the other way, or with a different amount. This signals a
// logic fault rather than a user error.
var ErrHoldResolved = errors.New("hold already resolved")

// ErrCostExceedsHold indicates a provider reported an actual cost above the
// reserved amount. Charging past a hold is rejected by policy.
var ErrCostExceedsHold = errors.New("actual cost exceeds reserved amount")

// ErrPriceNotSet indicates no price row exists for the requested model.
var ErrPriceNotSet = errors.New("price not set for model")

// ErrModelDisabled indicates the model exists but was disabled by an administrator.
var ErrModelDisabled = errors.New("model is disabled")

// ErrTaskNotCancellable indicates a cancellation attempt on a task that a
// worker already picked up or that already finished.
var ErrTaskNotCancellable = errors.New("task is not cancellable")

// ErrQueueUnavailable indicates the message queue rejected a publish. The
// submission is rolled back; clients may retry.
var ErrQueueUnavailable = errors.New("message queue unavailable")
