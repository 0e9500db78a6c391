// Copyright 2026 Quillworks
// SPDX-License-Identifier: BUSL-1.1

package credits

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
)

// TransactionLister pages archived ledger entries for the transactions
// endpoint. Implemented by the SQL archive.
type TransactionLister interface {
	ListTransactions(ctx context.Context, workspaceID string, since, until time.Time, limit int) ([]CreditTransaction, error)
}

// Handler provides HTTP handlers for the credit APIs.
type Handler struct {
	mgr          *Manager
	transactions TransactionLister
}

// NewHandler creates a credits handler. transactions may be nil when no
// archive is configured; the transactions endpoint then returns 404.
func NewHandler(mgr *Manager, transactions TransactionLister) *Handler {
	return &Handler{mgr: mgr, transactions: transactions}
}

// RegisterRoutes registers the credit routes with a gorilla/mux router.
func (h *Handler) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/api/v1/workspaces/{id}/credits", h.GetBalance).Methods("GET", "OPTIONS")
	r.HandleFunc("/api/v1/workspaces/{id}/credits/grants", h.GrantCredits).Methods("POST", "OPTIONS")
	r.HandleFunc("/api/v1/workspaces/{id}/credits/transactions", h.ListTransactions).Methods("GET", "OPTIONS")
}

// BalanceResponse is the wire shape of a balance read.
type BalanceResponse struct {
	WorkspaceID   string  `json:"workspace_id"`
	CreditBalance int64   `json:"credit_balance_micros"`
	Credits       float64 `json:"credits"`
	Currency      string  `json:"currency"`
	Version       int64   `json:"version"`
}

// GetBalance handles GET /api/v1/workspaces/{id}/credits
func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	h.setCORSHeaders(w)
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusOK)
		return
	}

	workspaceID := mux.Vars(r)["id"]
	balance, err := h.mgr.store.GetBalance(r.Context(), workspaceID)
	if err != nil {
		if errors.Is(err, ErrWorkspaceNotFound) {
			h.writeError(w, "Workspace balance not found", http.StatusNotFound)
			return
		}
		h.writeError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	h.writeJSON(w, http.StatusOK, BalanceResponse{
		WorkspaceID:   balance.WorkspaceID,
		CreditBalance: balance.CreditBalance,
		Credits:       FromMicros(balance.CreditBalance),
		Currency:      balance.Currency,
		Version:       balance.Version,
	})
}

// GrantRequest is the request body for an admin credit grant.
type GrantRequest struct {
	AmountMicros int64  `json:"amount_micros"`
	Description  string `json:"description,omitempty"`
}

// GrantCredits handles POST /api/v1/workspaces/{id}/credits/grants. Grants
// flow through the same ledger path as settlements so they are archived and
// version-checked like any other balance mutation.
func (h *Handler) GrantCredits(w http.ResponseWriter, r *http.Request) {
	h.setCORSHeaders(w)
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusOK)
		return
	}

	workspaceID := mux.Vars(r)["id"]

	var req GrantRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.AmountMicros <= 0 {
		h.writeError(w, "amount_micros must be positive", http.StatusBadRequest)
		return
	}
	if req.Description == "" {
		req.Description = "credit grant"
	}

	var archive Archiver
	if a, ok := h.transactions.(Archiver); ok {
		archive = a
	}
	ledger := h.mgr.NewLedger(archive)
	ledger.Append(CreditTransaction{
		ID:                 uuid.NewString(),
		WorkspaceID:        workspaceID,
		Source:             SourceGrant,
		Supplier:           "internal",
		Description:        req.Description,
		AmountMillionthUSD: -req.AmountMicros, // negative = credit
		CreatedAt:          time.Now().UTC(),
	})

	balances, err := ledger.Commit(r.Context())
	if err != nil {
		if errors.Is(err, ErrWorkspaceNotFound) {
			h.writeError(w, "Workspace balance not found", http.StatusNotFound)
			return
		}
		h.writeError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	balance := balances[workspaceID]
	h.writeJSON(w, http.StatusOK, BalanceResponse{
		WorkspaceID:   balance.WorkspaceID,
		CreditBalance: balance.CreditBalance,
		Credits:       FromMicros(balance.CreditBalance),
		Currency:      balance.Currency,
		Version:       balance.Version,
	})
}

// ListTransactions handles GET /api/v1/workspaces/{id}/credits/transactions
func (h *Handler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	h.setCORSHeaders(w)
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusOK)
		return
	}

	if h.transactions == nil {
		h.writeError(w, "Transaction archive not configured", http.StatusNotFound)
		return
	}

	workspaceID := mux.Vars(r)["id"]

	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 1000 {
			limit = n
		}
	}

	until := time.Now().UTC()
	since := until.AddDate(0, -1, 0)
	if v := r.URL.Query().Get("since"); v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			since = t
		}
	}
	if v := r.URL.Query().Get("until"); v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			until = t
		}
	}

	entries, err := h.transactions.ListTransactions(r.Context(), workspaceID, since, until, limit)
	if err != nil {
		h.writeError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"workspace_id": workspaceID,
		"transactions": entries,
		"count":        len(entries),
	})
}

// Helper functions

func (h *Handler) setCORSHeaders(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func (h *Handler) writeError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"error":   http.StatusText(status),
		"message": message,
	})
}
