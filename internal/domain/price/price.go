// Package price defines the model price catalog entities.
package price

import "time"

// Price is the catalog entry for one model. Cost and PrimeCost are per unit
// in micro-credits: per output for count-billed models, per second for
// duration-billed ones. Inactive models are rejected at admission.
type Price struct {
	Model          string    `json:"model"`
	Cost           int64     `json:"cost"`
	PrimeCost      int64     `json:"prime_cost"`
	DurationBilled bool      `json:"duration_billed"`
	Active         bool      `json:"active"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// UserPrice is a per-user override of the catalog price for one model.
// Overrides replace the base cost and skip the account coefficient.
type UserPrice struct {
	UserID     string `json:"user_id"`
	Model      string `json:"model"`
	CustomCost int64  `json:"custom_cost"`
}

// Quote is a priced admission estimate. Estimate is what gets reserved;
// PrimeCost is the upstream cost recorded for margin reporting.
type Quote struct {
	Model     string `json:"model"`
	Quantity  int    `json:"quantity"`
	Estimate  int64  `json:"estimate"`
	PrimeCost int64  `json:"prime_cost"`
}
