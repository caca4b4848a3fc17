package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/minukim/paysync/internal/api/middleware"
	"github.com/minukim/paysync/internal/credentials"
	"github.com/minukim/paysync/internal/domain"
	"github.com/minukim/paysync/internal/ledger"
	"github.com/minukim/paysync/internal/progress"
	"github.com/minukim/paysync/internal/runs"
	"github.com/rs/zerolog"
)

// AccountsHandler handles account-related endpoints.
type AccountsHandler struct {
	repo ledger.AccountRepository
	log  zerolog.Logger
}

// NewAccountsHandler creates a new accounts handler.
func NewAccountsHandler(repo ledger.AccountRepository, log zerolog.Logger) *AccountsHandler {
	return &AccountsHandler{
		repo: repo,
		log:  log,
	}
}

// CreateAccount handles POST /api/accounts
func (h *AccountsHandler) CreateAccount(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Provider string `json:"provider"`
		Alias    string `json:"alias"`
		Curl     string `json:"curl"`
	}

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if !domain.ValidProvider(req.Provider) {
		middleware.WriteError(w, http.StatusBadRequest, "Unknown provider")
		return
	}
	if req.Curl == "" {
		middleware.WriteError(w, http.StatusBadRequest, "curl is required")
		return
	}

	headers, err := credentials.ParseCurlHeaders(req.Curl)
	if err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "Invalid curl command: "+err.Error())
		return
	}

	ctx := r.Context()

	account := &domain.Account{
		ID:       uuid.NewString(),
		Provider: req.Provider,
		Alias:    req.Alias,
		Curl:     req.Curl,
	}

	if err := h.repo.CreateAccount(ctx, account); err != nil {
		h.log.Error().Err(err).Msg("Failed to create account")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to create account")
		return
	}

	if err := h.repo.SaveHeaders(ctx, account.ID, headers); err != nil {
		h.log.Error().Err(err).Msg("Failed to save credentials")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to save credentials")
		return
	}

	h.log.Info().
		Str("account_id", account.ID).
		Str("provider", account.Provider).
		Int("headers", len(headers)).
		Msg("Account created")

	middleware.WriteJSON(w, http.StatusCreated, account)
}

// ListAccounts handles GET /api/accounts
func (h *AccountsHandler) ListAccounts(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	accounts, err := h.repo.ListAccounts(ctx)
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to list accounts")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to list accounts")
		return
	}

	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"accounts": accounts,
		"count":    len(accounts),
	})
}

// GetAccount handles GET /api/accounts/{id}
func (h *AccountsHandler) GetAccount(w http.ResponseWriter, r *http.Request, accountID string) {
	ctx := r.Context()

	account, err := h.repo.GetAccount(ctx, accountID)
	if err != nil {
		if errors.Is(err, ledger.ErrNotFound) {
			middleware.WriteError(w, http.StatusNotFound, "Account not found")
			return
		}
		h.log.Error().Err(err).Str("account_id", accountID).Msg("Failed to get account")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to get account")
		return
	}

	middleware.WriteJSON(w, http.StatusOK, account)
}

// UpdateAccount handles PUT /api/accounts/{id}
//
// Alias and curl are both optional; a non-empty curl replaces the stored
// header set as well.
func (h *AccountsHandler) UpdateAccount(w http.ResponseWriter, r *http.Request, accountID string) {
	var req struct {
		Alias string `json:"alias"`
		Curl  string `json:"curl"`
	}

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	ctx := r.Context()

	account, err := h.repo.GetAccount(ctx, accountID)
	if err != nil {
		if errors.Is(err, ledger.ErrNotFound) {
			middleware.WriteError(w, http.StatusNotFound, "Account not found")
			return
		}
		h.log.Error().Err(err).Str("account_id", accountID).Msg("Failed to get account")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to update account")
		return
	}

	if req.Alias != "" {
		account.Alias = req.Alias
	}

	if req.Curl != "" {
		headers, err := credentials.ParseCurlHeaders(req.Curl)
		if err != nil {
			middleware.WriteError(w, http.StatusBadRequest, "Invalid curl command: "+err.Error())
			return
		}
		if err := h.repo.SaveHeaders(ctx, accountID, headers); err != nil {
			h.log.Error().Err(err).Str("account_id", accountID).Msg("Failed to save credentials")
			middleware.WriteError(w, http.StatusInternalServerError, "Failed to save credentials")
			return
		}
		account.Curl = req.Curl
	}

	if err := h.repo.UpdateAccount(ctx, account); err != nil {
		h.log.Error().Err(err).Str("account_id", accountID).Msg("Failed to update account")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to update account")
		return
	}

	middleware.WriteJSON(w, http.StatusOK, account)
}

// DeleteAccount handles DELETE /api/accounts/{id}
func (h *AccountsHandler) DeleteAccount(w http.ResponseWriter, r *http.Request, accountID string) {
	ctx := r.Context()

	if err := h.repo.DeleteAccount(ctx, accountID); err != nil {
		if errors.Is(err, ledger.ErrNotFound) {
			middleware.WriteError(w, http.StatusNotFound, "Account not found")
			return
		}
		h.log.Error().Err(err).Str("account_id", accountID).Msg("Failed to delete account")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to delete account")
		return
	}

	h.log.Info().Str("account_id", accountID).Msg("Account deleted")

	middleware.WriteJSON(w, http.StatusNoContent, nil)
}

// PaymentsHandler handles payment query endpoints.
type PaymentsHandler struct {
	repo ledger.PaymentRepository
	log  zerolog.Logger
}

// NewPaymentsHandler creates a new payments handler.
func NewPaymentsHandler(repo ledger.PaymentRepository, log zerolog.Logger) *PaymentsHandler {
	return &PaymentsHandler{
		repo: repo,
		log:  log,
	}
}

// ListPayments handles GET /api/payments
func (h *PaymentsHandler) ListPayments(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	query := r.URL.Query()
	filter := ledger.ListFilter{
		AccountID: query.Get("account_id"),
		Provider:  query.Get("provider"),
	}

	if limitStr := query.Get("limit"); limitStr != "" {
		if limit, err := strconv.Atoi(limitStr); err == nil {
			filter.Limit = limit
		}
	}

	if offsetStr := query.Get("offset"); offsetStr != "" {
		if offset, err := strconv.Atoi(offsetStr); err == nil {
			filter.Offset = offset
		}
	}

	payments, err := h.repo.ListPayments(ctx, filter)
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to list payments")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to list payments")
		return
	}

	// Return array directly for frontend compatibility
	if payments == nil {
		payments = []domain.Payment{}
	}
	middleware.WriteJSON(w, http.StatusOK, payments)
}

// SearchItems handles GET /api/payments/search
func (h *PaymentsHandler) SearchItems(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	query := r.URL.Query()
	q := query.Get("q")
	if q == "" {
		middleware.WriteError(w, http.StatusBadRequest, "q is required")
		return
	}

	limit := 0
	if limitStr := query.Get("limit"); limitStr != "" {
		if parsed, err := strconv.Atoi(limitStr); err == nil {
			limit = parsed
		}
	}

	hits, err := h.repo.SearchItems(ctx, q, limit)
	if err != nil {
		h.log.Error().Err(err).Str("query", q).Msg("Failed to search items")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to search items")
		return
	}

	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"results": hits,
		"count":   len(hits),
	})
}

// Status handles GET /api/status
func (h *PaymentsHandler) Status(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	stats, err := h.repo.Stats(ctx)
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to read ledger stats")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to read ledger stats")
		return
	}

	middleware.WriteJSON(w, http.StatusOK, stats)
}

// RunManager is the slice of the run manager the sync endpoints use.
type RunManager interface {
	Start(ctx context.Context, accountID, mode string) (runs.RunInfo, error)
	RequestStop(accountID string) error
	Status(accountID string) runs.RunStatus
	Events(accountID string) []progress.Event
	Active() []runs.RunInfo
}

// SyncHandler handles collection run endpoints.
type SyncHandler struct {
	runs RunManager
	log  zerolog.Logger
}

// NewSyncHandler creates a new sync handler.
func NewSyncHandler(runs RunManager, log zerolog.Logger) *SyncHandler {
	return &SyncHandler{
		runs: runs,
		log:  log,
	}
}

// StartSync handles POST /api/sync
func (h *SyncHandler) StartSync(w http.ResponseWriter, r *http.Request) {
	var req struct {
		AccountID string `json:"account_id"`
		Mode      string `json:"mode"`
	}

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if req.AccountID == "" {
		middleware.WriteError(w, http.StatusBadRequest, "account_id is required")
		return
	}

	ctx := r.Context()

	info, err := h.runs.Start(ctx, req.AccountID, req.Mode)
	if err != nil {
		switch {
		case errors.Is(err, runs.ErrAlreadyRunning):
			middleware.WriteError(w, http.StatusConflict, "Collection already running for account")
		case errors.Is(err, ledger.ErrNotFound):
			middleware.WriteError(w, http.StatusNotFound, "Account not found")
		default:
			h.log.Error().Err(err).Str("account_id", req.AccountID).Msg("Failed to start collection")
			middleware.WriteError(w, http.StatusBadRequest, err.Error())
		}
		return
	}

	middleware.WriteJSON(w, http.StatusAccepted, info)
}

// StopSync handles POST /api/sync/stop
//
// The stop is a request, not a kill: the run finishes its in-flight call
// and stops at the next polling point.
func (h *SyncHandler) StopSync(w http.ResponseWriter, r *http.Request) {
	var req struct {
		AccountID string `json:"account_id"`
	}

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if req.AccountID == "" {
		middleware.WriteError(w, http.StatusBadRequest, "account_id is required")
		return
	}

	if err := h.runs.RequestStop(req.AccountID); err != nil {
		middleware.WriteError(w, http.StatusConflict, "No collection running for account")
		return
	}

	h.log.Info().Str("account_id", req.AccountID).Msg("Stop requested")

	middleware.WriteJSON(w, http.StatusAccepted, map[string]string{
		"account_id": req.AccountID,
		"status":     "stopping",
	})
}

// SyncStatus handles GET /api/sync/status
//
// With account_id it reports that account's latest run; without it, the
// list of currently active runs.
func (h *SyncHandler) SyncStatus(w http.ResponseWriter, r *http.Request) {
	accountID := r.URL.Query().Get("account_id")
	if accountID == "" {
		active := h.runs.Active()
		middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
			"active": active,
			"count":  len(active),
		})
		return
	}

	middleware.WriteJSON(w, http.StatusOK, h.runs.Status(accountID))
}

// SyncEvents handles GET /api/sync/events
func (h *SyncHandler) SyncEvents(w http.ResponseWriter, r *http.Request) {
	accountID := r.URL.Query().Get("account_id")
	if accountID == "" {
		middleware.WriteError(w, http.StatusBadRequest, "account_id is required")
		return
	}

	events := h.runs.Events(accountID)
	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"events": events,
		"count":  len(events),
	})
}
