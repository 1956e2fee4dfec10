// Package fluxpix provides an HTTP generation provider adapter for
// FluxPix-compatible image and video APIs. One instance is configured per
// model; the payload is forwarded as-is and the upstream reports the actual
// cost of the finished generation.
package fluxpix

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/avolkov-dev/genrelay/internal/port/provider"
	"github.com/avolkov-dev/genrelay/internal/resilience"
)

func init() {
	provider.Register("fluxpix", func(options map[string]string) (provider.Provider, error) {
		return NewFromOptions(options)
	})
}

// Provider talks to a FluxPix-compatible generation endpoint.
type Provider struct {
	baseURL    string
	apiKey     string
	model      string
	httpClient *http.Client
	breaker    *resilience.Breaker
}

// NewFromOptions builds a provider from registry options.
// Required options: base_url, model. Optional: api_key.
func NewFromOptions(options map[string]string) (*Provider, error) {
	baseURL := options["base_url"]
	if baseURL == "" {
		return nil, errors.New("fluxpix: base_url option is required")
	}
	model := options["model"]
	if model == "" {
		return nil, errors.New("fluxpix: model option is required")
	}

	return &Provider{
		baseURL: baseURL,
		apiKey:  options["api_key"],
		model:   model,
		// No client-level timeout: the worker bounds each call through the
		// request context, and generations routinely run for minutes.
		httpClient: &http.Client{},
	}, nil
}

// SetBreaker attaches a circuit breaker to all outgoing HTTP calls.
func (p *Provider) SetBreaker(b *resilience.Breaker) {
	p.breaker = b
}

// generateRequest is the upstream request body.
type generateRequest struct {
	Model  string          `json:"model"`
	Params json.RawMessage `json:"params"`
}

// generateResponse is the upstream response body. CostMicro is the actual
// cost of the generation in micro-credits.
type generateResponse struct {
	Output    json.RawMessage `json:"output"`
	CostMicro int64           `json:"cost_micro"`
}

// Execute forwards the payload to the generation endpoint.
func (p *Provider) Execute(ctx context.Context, payload json.RawMessage) (*provider.Result, error) {
	body, err := json.Marshal(generateRequest{Model: p.model, Params: payload})
	if err != nil {
		return nil, fmt.Errorf("fluxpix: marshal request: %w", err)
	}

	data, err := p.doRequest(ctx, "/v1/generate", body)
	if err != nil {
		return nil, err
	}

	var resp generateResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("fluxpix: unmarshal response: %w", err)
	}

	return &provider.Result{Output: resp.Output, ActualCost: resp.CostMicro}, nil
}

func (p *Provider) doRequest(ctx context.Context, path string, body []byte) ([]byte, error) {
	var result []byte
	call := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+path, bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("create request: %w", err)
		}

		req.Header.Set("Content-Type", "application/json")
		if p.apiKey != "" {
			req.Header.Set("Authorization", "Bearer "+p.apiKey)
		}

		resp, err := p.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("http request: %w", err)
		}
		defer func() { _ = resp.Body.Close() }()

		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("read response: %w", err)
		}

		if resp.StatusCode >= 400 {
			return fmt.Errorf("fluxpix API error %d: %s", resp.StatusCode, string(data))
		}

		result = data
		return nil
	}

	if p.breaker != nil {
		if err := p.breaker.Execute(call); err != nil {
			return nil, err
		}
		return result, nil
	}

	if err := call(); err != nil {
		return nil, err
	}
	return result, nil
}
