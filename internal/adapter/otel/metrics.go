package otel

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "genrelay"

// Metrics holds all genrelay metric instruments.
type Metrics struct {
	TasksAdmitted     metric.Int64Counter
	TasksCompleted    metric.Int64Counter
	TasksFailed       metric.Int64Counter
	TasksDeadLettered metric.Int64Counter
	TaskRetries       metric.Int64Counter
	ProviderDuration  metric.Float64Histogram
	CreditsCharged    metric.Int64Counter
	CreditsRefunded   metric.Int64Counter
}

// NewMetrics creates all metric instruments.
func NewMetrics() (*Metrics, error) {
	meter := otel.Meter(meterName)
	m := &Metrics{}
	var err error

	m.TasksAdmitted, err = meter.Int64Counter("genrelay.tasks.admitted",
		metric.WithDescription("Number of tasks accepted at admission"))
	if err != nil {
		return nil, err
	}

	m.TasksCompleted, err = meter.Int64Counter("genrelay.tasks.completed",
		metric.WithDescription("Number of tasks completed"))
	if err != nil {
		return nil, err
	}

	m.TasksFailed, err = meter.Int64Counter("genrelay.tasks.failed",
		metric.WithDescription("Number of tasks failed"))
	if err != nil {
		return nil, err
	}

	m.TasksDeadLettered, err = meter.Int64Counter("genrelay.tasks.deadlettered",
		metric.WithDescription("Number of tasks that exhausted their retry budget"))
	if err != nil {
		return nil, err
	}

	m.TaskRetries, err = meter.Int64Counter("genrelay.tasks.retries",
		metric.WithDescription("Number of provider retries scheduled"))
	if err != nil {
		return nil, err
	}

	m.ProviderDuration, err = meter.Float64Histogram("genrelay.provider.duration_seconds",
		metric.WithDescription("Provider call duration in seconds"))
	if err != nil {
		return nil, err
	}

	m.CreditsCharged, err = meter.Int64Counter("genrelay.credits.charged",
		metric.WithDescription("Micro-credits charged on commit"))
	if err != nil {
		return nil, err
	}

	m.CreditsRefunded, err = meter.Int64Counter("genrelay.credits.refunded",
		metric.WithDescription("Micro-credits refunded on commit delta and release"))
	if err != nil {
		return nil, err
	}

	return m, nil
}
