// Package provider defines the generation provider port (interface).
//
// Every external generation API is wrapped in an adapter implementing the
// single Execute capability. Adapters are selected by model reference through
// the registry; the pipeline is otherwise indifferent to the provider.
package provider

import (
	"context"
	"encoding/json"
)

// Result is a successful provider response. ActualCost is in micro-credits
// and may be lower than the admission estimate, in which case the ledger
// refunds the difference on commit.
type Result struct {
	Output     json.RawMessage
	ActualCost int64
}

// Provider executes one generation request. Execute must honor the context
// deadline; the worker bounds every call with a timeout. Any returned error
// is treated as retryable up to the task's retry budget.
type Provider interface {
	Execute(ctx context.Context, payload json.RawMessage) (*Result, error)
}
