package service_test

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/avolkov-dev/genrelay/internal/domain"
	"github.com/avolkov-dev/genrelay/internal/domain/billing"
	"github.com/avolkov-dev/genrelay/internal/domain/price"
	"github.com/avolkov-dev/genrelay/internal/domain/task"
	"github.com/avolkov-dev/genrelay/internal/port/messagequeue"
	"github.com/avolkov-dev/genrelay/internal/port/provider"
)

// mockStore is an in-memory database.Store with the same transition rules as
// the postgres adapter.
type mockStore struct {
	mu         sync.Mutex
	accounts   map[string]*billing.Account
	tasks      map[string]*task.Task
	results    map[string]*task.Result
	prices     map[string]*price.Price
	userPrices map[string]*price.UserPrice

	failCreateTask error
}

func newMockStore() *mockStore {
	return &mockStore{
		accounts:   make(map[string]*billing.Account),
		tasks:      make(map[string]*task.Task),
		results:    make(map[string]*task.Result),
		prices:     make(map[string]*price.Price),
		userPrices: make(map[string]*price.UserPrice),
	}
}

func (m *mockStore) CreateAccount(_ context.Context, userID string, balance int64, coefficient float64) (*billing.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.accounts[userID]; ok {
		return nil, domain.ErrConflict
	}
	a := &billing.Account{UserID: userID, Balance: balance, Coefficient: coefficient, Version: 1}
	m.accounts[userID] = a
	cp := *a
	return &cp, nil
}

func (m *mockStore) GetAccount(_ context.Context, userID string) (*billing.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.accounts[userID]
	if !ok {
		return nil, fmt.Errorf("account %s: %w", userID, domain.ErrNotFound)
	}
	cp := *a
	return &cp, nil
}

func (m *mockStore) ListAccounts(_ context.Context) ([]billing.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []billing.Account
	for _, a := range m.accounts {
		out = append(out, *a)
	}
	return out, nil
}

func (m *mockStore) TopUp(_ context.Context, userID string, amount int64) (*billing.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.accounts[userID]
	if !ok {
		return nil, fmt.Errorf("account %s: %w", userID, domain.ErrNotFound)
	}
	a.Balance += amount
	a.Version++
	cp := *a
	return &cp, nil
}

func (m *mockStore) CreateTask(_ context.Context, t *task.Task) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failCreateTask != nil {
		return m.failCreateTask
	}
	t.Version = 1
	t.CreatedAt = time.Now()
	t.UpdatedAt = t.CreatedAt
	cp := *t
	m.tasks[t.ID] = &cp
	return nil
}

func (m *mockStore) GetTask(_ context.Context, id string) (*task.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[id]
	if !ok {
		return nil, fmt.Errorf("task %s: %w", id, domain.ErrNotFound)
	}
	cp := *t
	return &cp, nil
}

func (m *mockStore) ListTasksByUser(_ context.Context, userID string, limit int) ([]task.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []task.Task
	for _, t := range m.tasks {
		if t.UserID == userID && len(out) < limit {
			out = append(out, *t)
		}
	}
	return out, nil
}

func (m *mockStore) MarkInProgress(_ context.Context, id, workerID string, attempt int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[id]
	if !ok {
		return fmt.Errorf("task %s: %w", id, domain.ErrNotFound)
	}
	if t.Status != task.StatusPending && t.Status != task.StatusInProgress {
		return domain.ErrConflict
	}
	t.Status = task.StatusInProgress
	t.ProcessedBy = workerID
	t.Attempts = attempt
	t.Version++
	return nil
}

func (m *mockStore) FinalizeTask(_ context.Context, id string, status task.Status) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[id]
	if !ok {
		return fmt.Errorf("task %s: %w", id, domain.ErrNotFound)
	}
	if t.Status != task.StatusInProgress {
		return domain.ErrConflict
	}
	t.Status = status
	t.Version++
	return nil
}

func (m *mockStore) CancelPending(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[id]
	if !ok {
		return fmt.Errorf("task %s: %w", id, domain.ErrNotFound)
	}
	if t.Status != task.StatusPending {
		return domain.ErrTaskNotCancellable
	}
	t.Status = task.StatusFailed
	t.Version++
	return nil
}

func (m *mockStore) PutResult(_ context.Context, r *task.Result) (*task.Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.results[r.TaskID]; ok {
		cp := *existing
		return &cp, nil
	}
	cp := *r
	cp.CompletedAt = time.Now()
	m.results[r.TaskID] = &cp
	out := cp
	return &out, nil
}

func (m *mockStore) GetResult(_ context.Context, taskID string) (*task.Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.results[taskID]
	if !ok {
		return nil, fmt.Errorf("result %s: %w", taskID, domain.ErrNotFound)
	}
	cp := *r
	return &cp, nil
}

func (m *mockStore) GetPrice(_ context.Context, model string) (*price.Price, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.prices[model]
	if !ok {
		return nil, fmt.Errorf("price %s: %w", model, domain.ErrNotFound)
	}
	cp := *p
	return &cp, nil
}

func (m *mockStore) ListPrices(_ context.Context) ([]price.Price, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []price.Price
	for _, p := range m.prices {
		out = append(out, *p)
	}
	return out, nil
}

func (m *mockStore) UpsertPrice(_ context.Context, p *price.Price) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *p
	m.prices[p.Model] = &cp
	return nil
}

func (m *mockStore) GetUserPrice(_ context.Context, userID, model string) (*price.UserPrice, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	up, ok := m.userPrices[userID+"/"+model]
	if !ok {
		return nil, fmt.Errorf("user price %s/%s: %w", userID, model, domain.ErrNotFound)
	}
	cp := *up
	return &cp, nil
}

func (m *mockStore) SetUserPrice(_ context.Context, up *price.UserPrice) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *up
	m.userPrices[up.UserID+"/"+up.Model] = &cp
	return nil
}

// mockLedger implements ledger.Ledger against the mockStore's accounts, with
// the same idempotency rules as the postgres adapter.
type mockLedger struct {
	mu    sync.Mutex
	store *mockStore
	holds map[string]*billing.Hold
	seq   int

	failReserve error
	failRelease error // returned by the next Release call, then cleared
}

func newMockLedger(store *mockStore) *mockLedger {
	return &mockLedger{store: store, holds: make(map[string]*billing.Hold)}
}

func (m *mockLedger) Reserve(_ context.Context, userID string, amount int64, taskID string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failReserve != nil {
		return "", m.failReserve
	}
	m.store.mu.Lock()
	defer m.store.mu.Unlock()
	a, ok := m.store.accounts[userID]
	if !ok {
		return "", fmt.Errorf("account %s: %w", userID, domain.ErrNotFound)
	}
	if a.Balance < amount {
		return "", fmt.Errorf("reserve %d for %s: %w", amount, userID, domain.ErrInsufficientFunds)
	}
	a.Balance -= amount
	m.seq++
	id := fmt.Sprintf("hold-%d", m.seq)
	m.holds[id] = &billing.Hold{ID: id, UserID: userID, TaskID: taskID, Amount: amount, State: billing.HoldHeld}
	return id, nil
}

func (m *mockLedger) Commit(_ context.Context, holdID string, actualAmount int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	h, ok := m.holds[holdID]
	if !ok {
		return fmt.Errorf("hold %s: %w", holdID, domain.ErrNotFound)
	}
	switch h.State {
	case billing.HoldCommitted:
		if h.ActualAmount == actualAmount {
			return nil
		}
		return domain.ErrHoldResolved
	case billing.HoldReleased:
		return domain.ErrHoldResolved
	}
	if actualAmount > h.Amount {
		return domain.ErrCostExceedsHold
	}
	m.store.mu.Lock()
	m.store.accounts[h.UserID].Balance += h.Amount - actualAmount
	m.store.mu.Unlock()
	h.State = billing.HoldCommitted
	h.ActualAmount = actualAmount
	return nil
}

func (m *mockLedger) Release(_ context.Context, holdID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failRelease != nil {
		err := m.failRelease
		m.failRelease = nil
		return err
	}
	h, ok := m.holds[holdID]
	if !ok {
		return fmt.Errorf("hold %s: %w", holdID, domain.ErrNotFound)
	}
	switch h.State {
	case billing.HoldReleased:
		return nil
	case billing.HoldCommitted:
		return domain.ErrHoldResolved
	}
	m.store.mu.Lock()
	m.store.accounts[h.UserID].Balance += h.Amount
	m.store.mu.Unlock()
	h.State = billing.HoldReleased
	return nil
}

func (m *mockLedger) GetHold(_ context.Context, holdID string) (*billing.Hold, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	h, ok := m.holds[holdID]
	if !ok {
		return nil, fmt.Errorf("hold %s: %w", holdID, domain.ErrNotFound)
	}
	cp := *h
	return &cp, nil
}

type published struct {
	subject string
	data    []byte
}

// mockQueue records publishes and hands out subscriptions that are driven
// manually from tests.
type mockQueue struct {
	mu        sync.Mutex
	published []published
	handlers  map[string]messagequeue.Handler

	failPublish error
}

func newMockQueue() *mockQueue {
	return &mockQueue{handlers: make(map[string]messagequeue.Handler)}
}

func (m *mockQueue) Publish(_ context.Context, subject string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failPublish != nil {
		return m.failPublish
	}
	m.published = append(m.published, published{subject: subject, data: data})
	return nil
}

func (m *mockQueue) Subscribe(_ context.Context, subject string, h messagequeue.Handler) (func(), error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[subject] = h
	return func() {}, nil
}

func (m *mockQueue) Drain() error       { return nil }
func (m *mockQueue) Close() error       { return nil }
func (m *mockQueue) IsConnected() bool  { return true }

func (m *mockQueue) bySubject(subject string) []published {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []published
	for _, p := range m.published {
		if p.subject == subject {
			out = append(out, p)
		}
	}
	return out
}

// mockProvider counts calls and returns a fixed result or error.
type mockProvider struct {
	mu     sync.Mutex
	calls  int
	result *provider.Result
	err    error
}

func (m *mockProvider) Execute(_ context.Context, _ json.RawMessage) (*provider.Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.err != nil {
		return nil, m.err
	}
	return m.result, nil
}

func (m *mockProvider) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// mapCache is a trivial port/cache.Cache for read-through tests. TTLs are
// ignored.
type mapCache struct {
	mu   sync.Mutex
	data map[string][]byte
}

func newMapCache() *mapCache { return &mapCache{data: make(map[string][]byte)} }

func (c *mapCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.data[key]
	return v, ok, nil
}

func (c *mapCache) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[key] = value
	return nil
}

func (c *mapCache) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.data, key)
	return nil
}

func (c *mapCache) Close() {}
