package http

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/avolkov-dev/genrelay/internal/domain/price"
	"github.com/avolkov-dev/genrelay/internal/domain/task"
	"github.com/avolkov-dev/genrelay/internal/port/database"
	"github.com/avolkov-dev/genrelay/internal/port/messagequeue"
	"github.com/avolkov-dev/genrelay/internal/service"
)

// Handlers holds the HTTP handler dependencies.
type Handlers struct {
	Admission *service.AdmissionService
	Accounts  *service.AccountService
	Pricing   *service.PricingService
	Store     database.Store
	Queue     messagequeue.Queue
	DB        interface{ Ping(ctx context.Context) error }
}

// ---------------------------------------------------------------------------
// Tasks
// ---------------------------------------------------------------------------

type submitTaskRequest struct {
	UserID  string          `json:"user_id"`
	Model   string          `json:"model"`
	Payload json.RawMessage `json:"payload"`
}

func (h *Handlers) SubmitTask(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[submitTaskRequest](w, r)
	if !ok {
		return
	}
	if !requireField(w, req.UserID, "user_id") || !requireField(w, req.Model, "model") {
		return
	}

	t, err := h.Admission.Submit(r.Context(), task.SubmitRequest{
		UserID:  req.UserID,
		Model:   req.Model,
		Payload: req.Payload,
	})
	if err != nil {
		writeDomainError(w, err, "account not found")
		return
	}
	writeJSON(w, http.StatusAccepted, t)
}

type taskStatusResponse struct {
	Task   *task.Task   `json:"task"`
	Result *task.Result `json:"result,omitempty"`
}

func (h *Handlers) GetTask(w http.ResponseWriter, r *http.Request) {
	t, res, err := h.Admission.Status(r.Context(), urlParam(r, "id"))
	if err != nil {
		writeDomainError(w, err, "task not found")
		return
	}
	writeJSON(w, http.StatusOK, taskStatusResponse{Task: t, Result: res})
}

func (h *Handlers) ListTasks(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	if !requireField(w, userID, "user_id") {
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	tasks, err := h.Admission.List(r.Context(), userID, limit)
	if err != nil {
		writeDomainError(w, err, "tasks not found")
		return
	}
	if tasks == nil {
		tasks = []task.Task{}
	}
	writeJSON(w, http.StatusOK, tasks)
}

func (h *Handlers) CancelTask(w http.ResponseWriter, r *http.Request) {
	if err := h.Admission.Cancel(r.Context(), urlParam(r, "id")); err != nil {
		writeDomainError(w, err, "task not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ---------------------------------------------------------------------------
// Accounts
// ---------------------------------------------------------------------------

type createAccountRequest struct {
	UserID      string  `json:"user_id"`
	Balance     int64   `json:"balance"`
	Coefficient float64 `json:"coefficient"`
}

func (h *Handlers) CreateAccount(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[createAccountRequest](w, r)
	if !ok {
		return
	}
	if !requireField(w, req.UserID, "user_id") {
		return
	}

	acct, err := h.Accounts.Create(r.Context(), req.UserID, req.Balance, req.Coefficient)
	if err != nil {
		writeDomainError(w, err, "account not found")
		return
	}
	writeJSON(w, http.StatusCreated, acct)
}

func (h *Handlers) GetAccount(w http.ResponseWriter, r *http.Request) {
	acct, err := h.Accounts.Get(r.Context(), urlParam(r, "id"))
	if err != nil {
		writeDomainError(w, err, "account not found")
		return
	}
	writeJSON(w, http.StatusOK, acct)
}

func (h *Handlers) ListAccounts(w http.ResponseWriter, r *http.Request) {
	accounts, err := h.Accounts.List(r.Context())
	if err != nil {
		writeDomainError(w, err, "accounts not found")
		return
	}
	writeJSON(w, http.StatusOK, accounts)
}

type topUpRequest struct {
	Amount int64 `json:"amount"`
}

func (h *Handlers) TopUpAccount(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[topUpRequest](w, r)
	if !ok {
		return
	}
	if req.Amount <= 0 {
		writeError(w, http.StatusBadRequest, "amount must be positive")
		return
	}

	acct, err := h.Accounts.TopUp(r.Context(), urlParam(r, "id"), req.Amount)
	if err != nil {
		writeDomainError(w, err, "account not found")
		return
	}
	writeJSON(w, http.StatusOK, acct)
}

// ---------------------------------------------------------------------------
// Prices
// ---------------------------------------------------------------------------

func (h *Handlers) ListPrices(w http.ResponseWriter, r *http.Request) {
	prices, err := h.Store.ListPrices(r.Context())
	if err != nil {
		writeDomainError(w, err, "prices not found")
		return
	}
	if prices == nil {
		prices = []price.Price{}
	}
	writeJSON(w, http.StatusOK, prices)
}

type upsertPriceRequest struct {
	Cost           int64 `json:"cost"`
	PrimeCost      int64 `json:"prime_cost"`
	DurationBilled bool  `json:"duration_billed"`
	Active         bool  `json:"active"`
}

func (h *Handlers) UpsertPrice(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[upsertPriceRequest](w, r)
	if !ok {
		return
	}
	model := urlParam(r, "model")
	if req.Cost < 0 {
		writeError(w, http.StatusBadRequest, "cost must not be negative")
		return
	}

	p := &price.Price{
		Model:          model,
		Cost:           req.Cost,
		PrimeCost:      req.PrimeCost,
		DurationBilled: req.DurationBilled,
		Active:         req.Active,
	}
	if err := h.Store.UpsertPrice(r.Context(), p); err != nil {
		writeDomainError(w, err, "price not found")
		return
	}
	h.Pricing.InvalidatePrice(r.Context(), model)
	writeJSON(w, http.StatusOK, p)
}

type setUserPriceRequest struct {
	CustomCost int64 `json:"custom_cost"`
}

func (h *Handlers) SetUserPrice(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[setUserPriceRequest](w, r)
	if !ok {
		return
	}
	if req.CustomCost < 0 {
		writeError(w, http.StatusBadRequest, "custom_cost must not be negative")
		return
	}
	userID, model := urlParam(r, "id"), urlParam(r, "model")

	// The account must exist before an override is attached to it.
	if _, err := h.Accounts.Get(r.Context(), userID); err != nil {
		writeDomainError(w, err, "account not found")
		return
	}

	up := &price.UserPrice{UserID: userID, Model: model, CustomCost: req.CustomCost}
	if err := h.Store.SetUserPrice(r.Context(), up); err != nil {
		writeDomainError(w, err, "price not found")
		return
	}
	writeJSON(w, http.StatusOK, up)
}

// ---------------------------------------------------------------------------
// Health
// ---------------------------------------------------------------------------

type healthResponse struct {
	Status   string `json:"status"`
	Database string `json:"database"`
	Queue    string `json:"queue"`
}

func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{Status: "ok", Database: "ok", Queue: "ok"}
	status := http.StatusOK

	if h.DB != nil {
		if err := h.DB.Ping(r.Context()); err != nil {
			resp.Status, resp.Database = "degraded", "unreachable"
			status = http.StatusServiceUnavailable
		}
	}
	if h.Queue != nil && !h.Queue.IsConnected() {
		resp.Status, resp.Queue = "degraded", "disconnected"
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, resp)
}
