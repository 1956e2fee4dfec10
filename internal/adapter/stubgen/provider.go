// Package stubgen provides a deterministic in-house generation provider used
// for local development and smoke tests. It echoes the request payload back
// as output after a configurable delay, and can simulate failures.
package stubgen

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/avolkov-dev/genrelay/internal/port/provider"
)

func init() {
	provider.Register("stubgen", func(options map[string]string) (provider.Provider, error) {
		return NewFromOptions(options)
	})
}

// Provider is the stub generation backend.
type Provider struct {
	delay     time.Duration
	cost      int64
	failEvery int64 // every Nth call fails; 0 disables
	calls     atomic.Int64
}

// NewFromOptions builds a stub provider from registry options.
// Recognized options: delay (duration), cost (micro-credits), fail_every (int).
func NewFromOptions(options map[string]string) (*Provider, error) {
	p := &Provider{cost: 1_000_000}

	if v, ok := options["delay"]; ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			return nil, fmt.Errorf("stubgen: invalid delay %q: %w", v, err)
		}
		p.delay = d
	}
	if v, ok := options["cost"]; ok {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("stubgen: invalid cost %q: %w", v, err)
		}
		p.cost = n
	}
	if v, ok := options["fail_every"]; ok {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("stubgen: invalid fail_every %q: %w", v, err)
		}
		p.failEvery = n
	}
	return p, nil
}

// Execute returns the payload wrapped in a stub result.
func (p *Provider) Execute(ctx context.Context, payload json.RawMessage) (*provider.Result, error) {
	if p.delay > 0 {
		select {
		case <-time.After(p.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	n := p.calls.Add(1)
	if p.failEvery > 0 && n%p.failEvery == 0 {
		return nil, errors.New("stubgen: simulated provider failure")
	}

	output, err := json.Marshal(map[string]any{
		"echo":         json.RawMessage(payload),
		"generated_at": time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return nil, fmt.Errorf("stubgen: marshal output: %w", err)
	}

	return &provider.Result{Output: output, ActualCost: p.cost}, nil
}
