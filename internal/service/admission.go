package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/avolkov-dev/genrelay/internal/domain"
	"github.com/avolkov-dev/genrelay/internal/domain/task"
	"github.com/avolkov-dev/genrelay/internal/port/database"
	"github.com/avolkov-dev/genrelay/internal/port/ledger"
	"github.com/avolkov-dev/genrelay/internal/port/messagequeue"

	otelmetrics "github.com/avolkov-dev/genrelay/internal/adapter/otel"
)

// AdmissionService admits, tracks and cancels tasks. Admission reserves the
// estimated cost before a task becomes visible to workers, so a pending or
// running task always has an open hold covering it.
type AdmissionService struct {
	store   database.Store
	ledger  ledger.Ledger
	queue   messagequeue.Queue
	pricing *PricingService
	metrics *otelmetrics.Metrics
	logger  *slog.Logger
}

// NewAdmissionService creates a new AdmissionService. metrics may be nil.
func NewAdmissionService(store database.Store, l ledger.Ledger, q messagequeue.Queue, pricing *PricingService, metrics *otelmetrics.Metrics, logger *slog.Logger) *AdmissionService {
	return &AdmissionService{
		store:   store,
		ledger:  l,
		queue:   q,
		pricing: pricing,
		metrics: metrics,
		logger:  logger,
	}
}

// Submit admits a task: quote the estimate, reserve it against the user's
// balance, persist the task and publish it to the work queue. Each step rolls
// back the previous ones on failure, so a returned error means no charge and
// no queued work.
func (s *AdmissionService) Submit(ctx context.Context, req task.SubmitRequest) (*task.Task, error) {
	acct, err := s.store.GetAccount(ctx, req.UserID)
	if err != nil {
		return nil, err
	}

	quote, err := s.pricing.Quote(ctx, acct, req.Model, req.Payload)
	if err != nil {
		return nil, err
	}

	taskID := uuid.NewString()
	msg, err := json.Marshal(task.Message{TaskID: taskID})
	if err != nil {
		return nil, fmt.Errorf("marshal task message: %w", err)
	}

	holdID, err := s.ledger.Reserve(ctx, req.UserID, quote.Estimate, taskID)
	if err != nil {
		return nil, err
	}

	t := &task.Task{
		ID:            taskID,
		UserID:        req.UserID,
		Model:         req.Model,
		Payload:       req.Payload,
		Status:        task.StatusPending,
		EstimatedCost: quote.Estimate,
		PrimeCost:     quote.PrimeCost,
		ReservationID: holdID,
	}
	if len(t.Payload) == 0 {
		t.Payload = json.RawMessage(`{}`)
	}

	if err := s.store.CreateTask(ctx, t); err != nil {
		if relErr := s.ledger.Release(ctx, holdID); relErr != nil {
			s.logger.Error("rollback release failed; hold left open",
				"task_id", taskID, "hold_id", holdID, "error", relErr)
		}
		return nil, err
	}

	if err := s.queue.Publish(ctx, messagequeue.SubjectTaskCreated, msg); err != nil {
		s.logger.Error("publish failed, rolling back admission",
			"task_id", taskID, "error", err)
		if cancelErr := s.store.CancelPending(ctx, taskID); cancelErr != nil {
			s.logger.Error("rollback cancel failed", "task_id", taskID, "error", cancelErr)
		} else if resolveErr := s.resolveCancelled(ctx, t, resultPublishFailed); resolveErr != nil {
			// The task is terminal but the hold is still open. A Cancel
			// call for this task replays the resolution.
			s.logger.Error("rollback resolution incomplete",
				"task_id", taskID, "hold_id", holdID, "error", resolveErr)
		}
		return nil, fmt.Errorf("publish task %s: %w", taskID, domain.ErrQueueUnavailable)
	}

	if s.metrics != nil {
		s.metrics.TasksAdmitted.Add(ctx, 1)
	}
	s.logger.Info("task admitted",
		"task_id", taskID,
		"user_id", req.UserID,
		"model", req.Model,
		"estimate", quote.Estimate)
	return t, nil
}

// Status returns the task and, once the task is terminal, its result.
// Non-terminal tasks return a nil result.
func (s *AdmissionService) Status(ctx context.Context, taskID string) (*task.Task, *task.Result, error) {
	t, err := s.store.GetTask(ctx, taskID)
	if err != nil {
		return nil, nil, err
	}
	if !t.Status.Terminal() {
		return t, nil, nil
	}

	r, err := s.store.GetResult(ctx, taskID)
	if err != nil {
		// A cancelled-at-admission task can be terminal without a result row.
		if errors.Is(err, domain.ErrNotFound) {
			return t, nil, nil
		}
		return nil, nil, err
	}
	return t, r, nil
}

// List returns the user's most recent tasks.
func (s *AdmissionService) List(ctx context.Context, userID string, limit int) ([]task.Task, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	return s.store.ListTasksByUser(ctx, userID, limit)
}

// Result errors written on the cancellation paths. A failed task carrying one
// of these had its hold resolved by resolveCancelled, not by a worker.
const (
	resultCancelled     = "cancelled by user"
	resultPublishFailed = "cancelled: task publish failed"
)

// Cancel aborts a pending task and returns its reservation. A task that a
// worker already picked up cannot be cancelled; callers get
// domain.ErrTaskNotCancellable and should poll for the outcome instead.
//
// Cancellation is replayable: if a previous call flipped the task but failed
// before releasing the hold, calling Cancel again finishes the resolution.
func (s *AdmissionService) Cancel(ctx context.Context, taskID string) error {
	t, err := s.store.GetTask(ctx, taskID)
	if err != nil {
		return err
	}

	if err := s.store.CancelPending(ctx, taskID); err != nil {
		if errors.Is(err, domain.ErrTaskNotCancellable) {
			return s.replayCancel(ctx, taskID)
		}
		return err
	}
	if err := s.resolveCancelled(ctx, t, resultCancelled); err != nil {
		return err
	}

	s.logger.Info("task cancelled", "task_id", taskID, "user_id", t.UserID)
	return nil
}

// replayCancel finishes a cancellation that moved the task to failed but did
// not resolve the hold. A failed task always carries a result row, written
// before the status flip, except on that interrupted path; a missing row
// means the release is still owed. Tasks failed by a worker keep the
// not-cancellable error.
func (s *AdmissionService) replayCancel(ctx context.Context, taskID string) error {
	t, err := s.store.GetTask(ctx, taskID)
	if err != nil {
		return err
	}
	if t.Status != task.StatusFailed {
		return fmt.Errorf("cancel task %s: %w", taskID, domain.ErrTaskNotCancellable)
	}

	r, err := s.store.GetResult(ctx, taskID)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		if err := s.resolveCancelled(ctx, t, resultCancelled); err != nil {
			return err
		}
		s.logger.Info("task cancellation replayed", "task_id", taskID, "user_id", t.UserID)
		return nil
	case err != nil:
		return err
	case r.Error == resultCancelled || r.Error == resultPublishFailed:
		// Fully cancelled already.
		return nil
	}
	return fmt.Errorf("cancel task %s: %w", taskID, domain.ErrTaskNotCancellable)
}

// resolveCancelled releases the reservation of a cancelled task and records
// the cancellation result. Release before PutResult: an existing result row
// proves the hold was resolved, so a crash between the two steps leaves the
// replay marker in place.
func (s *AdmissionService) resolveCancelled(ctx context.Context, t *task.Task, reason string) error {
	if err := s.ledger.Release(ctx, t.ReservationID); err != nil && !errors.Is(err, domain.ErrHoldResolved) {
		return fmt.Errorf("release reservation for cancelled task %s: %w", t.ID, err)
	}
	if _, err := s.store.PutResult(ctx, &task.Result{TaskID: t.ID, Error: reason}); err != nil {
		return err
	}
	return nil
}
