package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/avolkov-dev/genrelay/internal/domain"
	"github.com/avolkov-dev/genrelay/internal/domain/billing"
	"github.com/avolkov-dev/genrelay/internal/domain/price"
	"github.com/avolkov-dev/genrelay/internal/port/cache"
	"github.com/avolkov-dev/genrelay/internal/port/database"
)

// PricingService quotes admission estimates from the price catalog.
// Catalog rows are cached in-process; user overrides are read through.
type PricingService struct {
	store    database.Store
	cache    cache.Cache
	priceTTL time.Duration
	group    singleflight.Group
}

// NewPricingService creates a new PricingService. The cache may be nil, in
// which case every quote reads the catalog from the store.
func NewPricingService(store database.Store, c cache.Cache, priceTTL time.Duration) *PricingService {
	return &PricingService{store: store, cache: c, priceTTL: priceTTL}
}

// quantityParams are the payload fields that scale the price.
type quantityParams struct {
	Duration   int `json:"duration"`
	NumOutputs int `json:"num_outputs"`
}

// Quote prices a submission for the given account. Duration-billed models
// multiply by the requested duration, others by the requested output count.
// A per-user override replaces the base cost and skips the account
// coefficient.
func (s *PricingService) Quote(ctx context.Context, acct *billing.Account, model string, payload json.RawMessage) (*price.Quote, error) {
	p, err := s.lookupPrice(ctx, model)
	if err != nil {
		return nil, err
	}
	if !p.Active {
		return nil, fmt.Errorf("quote %s: %w", model, domain.ErrModelDisabled)
	}

	qty := quantity(p, payload)

	override, err := s.store.GetUserPrice(ctx, acct.UserID, model)
	switch {
	case err == nil:
		return &price.Quote{
			Model:     model,
			Quantity:  qty,
			Estimate:  override.CustomCost * int64(qty),
			PrimeCost: p.PrimeCost * int64(qty),
		}, nil
	case !errors.Is(err, domain.ErrNotFound):
		return nil, err
	}

	estimate := int64(math.Round(float64(p.Cost*int64(qty)) * acct.Coefficient))
	return &price.Quote{
		Model:     model,
		Quantity:  qty,
		Estimate:  estimate,
		PrimeCost: p.PrimeCost * int64(qty),
	}, nil
}

// InvalidatePrice drops a model's cached catalog row after an admin update.
func (s *PricingService) InvalidatePrice(ctx context.Context, model string) {
	if s.cache != nil {
		_ = s.cache.Delete(ctx, priceCacheKey(model))
	}
}

// lookupPrice reads the catalog row through the cache. A missing row maps to
// domain.ErrPriceNotSet.
func (s *PricingService) lookupPrice(ctx context.Context, model string) (*price.Price, error) {
	key := priceCacheKey(model)

	if s.cache != nil {
		if data, ok, _ := s.cache.Get(ctx, key); ok {
			var p price.Price
			if err := json.Unmarshal(data, &p); err == nil {
				return &p, nil
			}
		}
	}

	// Collapse concurrent misses for the same model into one catalog read.
	v, err, _ := s.group.Do(key, func() (any, error) {
		p, err := s.store.GetPrice(ctx, model)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				return nil, fmt.Errorf("quote %s: %w", model, domain.ErrPriceNotSet)
			}
			return nil, err
		}
		if s.cache != nil {
			if data, err := json.Marshal(p); err == nil {
				_ = s.cache.Set(ctx, key, data, s.priceTTL)
			}
		}
		return p, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*price.Price), nil
}

func quantity(p *price.Price, payload json.RawMessage) int {
	var params quantityParams
	_ = json.Unmarshal(payload, &params)

	if p.DurationBilled {
		if params.Duration > 0 {
			return params.Duration
		}
		return 1
	}
	if params.NumOutputs > 0 {
		return params.NumOutputs
	}
	return 1
}

func priceCacheKey(model string) string {
	return "price:" + model
}
