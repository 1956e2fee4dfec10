package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/avolkov-dev/genrelay/internal/config"
	"github.com/avolkov-dev/genrelay/internal/domain"
	"github.com/avolkov-dev/genrelay/internal/domain/task"
	"github.com/avolkov-dev/genrelay/internal/port/database"
	"github.com/avolkov-dev/genrelay/internal/port/ledger"
	"github.com/avolkov-dev/genrelay/internal/port/messagequeue"
	"github.com/avolkov-dev/genrelay/internal/port/provider"

	otelmetrics "github.com/avolkov-dev/genrelay/internal/adapter/otel"
)

// WorkerService consumes admitted tasks from the queue, executes them against
// their provider and settles the reservation. Handlers are idempotent:
// redelivered messages for settled tasks are acknowledged without side
// effects, and crash recovery replays the settlement from the stored result
// instead of re-running the provider.
type WorkerService struct {
	store     database.Store
	ledger    ledger.Ledger
	queue     messagequeue.Queue
	providers map[string]provider.Provider
	cfg       config.Worker
	metrics   *otelmetrics.Metrics
	logger    *slog.Logger

	cancels []func()
}

// NewWorkerService creates a new WorkerService. metrics may be nil.
func NewWorkerService(store database.Store, l ledger.Ledger, q messagequeue.Queue, providers map[string]provider.Provider, cfg config.Worker, metrics *otelmetrics.Metrics, logger *slog.Logger) *WorkerService {
	return &WorkerService{
		store:     store,
		ledger:    l,
		queue:     q,
		providers: providers,
		cfg:       cfg,
		metrics:   metrics,
		logger:    logger,
	}
}

// Start attaches cfg.Count competing consumers to the task subject.
func (s *WorkerService) Start(ctx context.Context) error {
	for i := 0; i < s.cfg.Count; i++ {
		cancel, err := s.queue.Subscribe(ctx, messagequeue.SubjectTaskCreated, s.Handle)
		if err != nil {
			s.Stop()
			return fmt.Errorf("start worker %d: %w", i, err)
		}
		s.cancels = append(s.cancels, cancel)
	}
	s.logger.Info("workers started", "count", s.cfg.Count, "worker_id", s.cfg.ID)
	return nil
}

// Stop cancels all consumer subscriptions. In-flight handlers finish.
func (s *WorkerService) Stop() {
	for _, cancel := range s.cancels {
		cancel()
	}
	s.cancels = nil
}

// Handle processes one queue delivery. Returning nil acknowledges the
// message; a *messagequeue.RetryError schedules a backed-off redelivery.
func (s *WorkerService) Handle(ctx context.Context, d messagequeue.Delivery) error {
	var msg task.Message
	if err := json.Unmarshal(d.Data, &msg); err != nil {
		s.logger.Error("dropping malformed task message", "error", err)
		return nil
	}

	log := s.logger.With("task_id", msg.TaskID, "attempt", d.Attempt)

	t, err := s.store.GetTask(ctx, msg.TaskID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			log.Warn("dropping message for unknown task")
			return nil
		}
		return err
	}

	// Duplicate delivery for a settled task: acknowledge and drop.
	if t.Status.Terminal() {
		log.Debug("task already terminal, dropping duplicate delivery", "status", t.Status)
		return nil
	}

	redelivered := t.Status == task.StatusInProgress || d.Attempt > 1

	if err := s.store.MarkInProgress(ctx, t.ID, s.cfg.ID, d.Attempt); err != nil {
		if errors.Is(err, domain.ErrConflict) {
			// Lost the race to a concurrent settlement.
			return nil
		}
		return err
	}

	// A redelivery may follow a crash that happened after the result was
	// written. Settle from the stored result; never run the provider twice.
	if redelivered {
		if r, err := s.store.GetResult(ctx, t.ID); err == nil {
			return s.settle(ctx, log, t, r)
		} else if !errors.Is(err, domain.ErrNotFound) {
			return err
		}
	}

	if d.Attempt > s.cfg.MaxAttempts {
		return s.deadLetter(ctx, log, t, "retry budget exhausted")
	}

	prov, ok := s.providers[t.Model]
	if !ok {
		// No backend is configured for this model; retrying cannot help.
		return s.failTask(ctx, log, t, fmt.Sprintf("no provider for model %q", t.Model))
	}

	provCtx, cancel := context.WithTimeout(ctx, s.cfg.ProviderTimeout)
	defer cancel()

	started := time.Now()
	res, err := prov.Execute(provCtx, t.Payload)
	if s.metrics != nil {
		s.metrics.ProviderDuration.Record(ctx, time.Since(started).Seconds())
	}
	if err != nil {
		if d.Attempt < s.cfg.MaxAttempts {
			delay := s.backoff(d.Attempt)
			log.Warn("provider call failed, scheduling retry", "error", err, "delay", delay)
			if s.metrics != nil {
				s.metrics.TaskRetries.Add(ctx, 1)
			}
			return &messagequeue.RetryError{After: delay, Err: err}
		}
		log.Error("provider call failed on final attempt", "error", err)
		return s.deadLetter(ctx, log, t, err.Error())
	}

	if res.ActualCost > t.EstimatedCost {
		// Charging past the reservation is rejected by policy. Refund in
		// full and park the task for operator review.
		log.Error("provider reported cost above reservation",
			"actual", res.ActualCost, "reserved", t.EstimatedCost)
		return s.deadLetter(ctx, log, t, "actual cost exceeds reserved amount")
	}

	stored, err := s.store.PutResult(ctx, &task.Result{
		TaskID:     t.ID,
		Output:     res.Output,
		ActualCost: res.ActualCost,
	})
	if err != nil {
		return err
	}
	return s.settle(ctx, log, t, stored)
}

// settle drives a task with a stored result to its terminal state. The
// result row is the source of truth, so settling twice charges once.
func (s *WorkerService) settle(ctx context.Context, log *slog.Logger, t *task.Task, r *task.Result) error {
	if r.Error != "" {
		// The failure path crashed between writing the result and
		// finishing; replay the release and dead-letter steps.
		return s.deadLetter(ctx, log, t, r.Error)
	}

	if err := s.ledger.Commit(ctx, t.ReservationID, r.ActualCost); err != nil {
		if errors.Is(err, domain.ErrHoldResolved) || errors.Is(err, domain.ErrCostExceedsHold) {
			log.Error("ledger refused commit; settling task without charge adjustment", "error", err)
		} else {
			return err
		}
	}

	if err := s.finalize(ctx, t.ID, task.StatusCompleted); err != nil {
		return err
	}

	if s.metrics != nil {
		s.metrics.TasksCompleted.Add(ctx, 1)
		s.metrics.CreditsCharged.Add(ctx, r.ActualCost)
		if refund := t.EstimatedCost - r.ActualCost; refund > 0 {
			s.metrics.CreditsRefunded.Add(ctx, refund)
		}
	}
	log.Info("task completed", "actual_cost", r.ActualCost, "reserved", t.EstimatedCost)
	return nil
}

// deadLetter releases the reservation, records the failure and parks the
// task on the dead-letter subject. Every step is idempotent, so this path
// is safe to replay after a crash.
func (s *WorkerService) deadLetter(ctx context.Context, log *slog.Logger, t *task.Task, reason string) error {
	if err := s.ledger.Release(ctx, t.ReservationID); err != nil {
		if errors.Is(err, domain.ErrHoldResolved) {
			log.Error("reservation already committed for dead-lettered task", "error", err)
		} else {
			return err
		}
	}

	if _, err := s.store.PutResult(ctx, &task.Result{TaskID: t.ID, Error: reason}); err != nil {
		return err
	}
	if err := s.finalize(ctx, t.ID, task.StatusDeadLettered); err != nil {
		return err
	}

	if data, err := json.Marshal(task.Message{TaskID: t.ID}); err == nil {
		if err := s.queue.Publish(ctx, messagequeue.SubjectTaskDeadLetter, data); err != nil {
			log.Error("dead-letter publish failed", "error", err)
		}
	}

	if s.metrics != nil {
		s.metrics.TasksDeadLettered.Add(ctx, 1)
		s.metrics.CreditsRefunded.Add(ctx, t.EstimatedCost)
	}
	log.Error("task dead-lettered", "reason", reason)
	return nil
}

// failTask settles a task that can never succeed regardless of retries.
func (s *WorkerService) failTask(ctx context.Context, log *slog.Logger, t *task.Task, reason string) error {
	if err := s.ledger.Release(ctx, t.ReservationID); err != nil && !errors.Is(err, domain.ErrHoldResolved) {
		return err
	}
	if _, err := s.store.PutResult(ctx, &task.Result{TaskID: t.ID, Error: reason}); err != nil {
		return err
	}
	if err := s.finalize(ctx, t.ID, task.StatusFailed); err != nil {
		return err
	}
	if s.metrics != nil {
		s.metrics.TasksFailed.Add(ctx, 1)
	}
	log.Error("task failed", "reason", reason)
	return nil
}

// finalize transitions the task, tolerating a concurrent settlement that
// already moved it to a terminal state.
func (s *WorkerService) finalize(ctx context.Context, taskID string, status task.Status) error {
	err := s.store.FinalizeTask(ctx, taskID, status)
	if err != nil && !errors.Is(err, domain.ErrConflict) {
		return err
	}
	return nil
}

// backoff returns the redelivery delay for the given attempt, doubling from
// the base and capped at the configured maximum.
func (s *WorkerService) backoff(attempt int) time.Duration {
	delay := s.cfg.RetryBackoff
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= s.cfg.RetryBackoffMax {
			return s.cfg.RetryBackoffMax
		}
	}
	return delay
}
