// Copyright 2026 Quillworks
// SPDX-License-Identifier: BUSL-1.1

package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	"quillworks/platform/billing/credits"
	"quillworks/platform/secrets"
)

// meterHandler is the metering surface for the execution plane. Agents
// running in-process use credits.Manager directly; remote executors reserve
// and settle over these endpoints instead. Settlement commits immediately
// through a single-entry ledger since remote callers hold no turn state here.
type meterHandler struct {
	mgr      *credits.Manager
	resolver secrets.KeyResolver
	archive  credits.Archiver
}

func newMeterHandler(mgr *credits.Manager, resolver secrets.KeyResolver, archive credits.Archiver) *meterHandler {
	return &meterHandler{mgr: mgr, resolver: resolver, archive: archive}
}

func (h *meterHandler) registerRoutes(r *mux.Router) {
	r.HandleFunc("/internal/v1/reservations", h.reserve).Methods("POST")
	r.HandleFunc("/internal/v1/reservations/{id}/settle", h.settle).Methods("POST")
	r.HandleFunc("/internal/v1/reservations/{id}/refund", h.refund).Methods("POST")
}

type reserveRequest struct {
	WorkspaceID         string `json:"workspace_id"`
	EstimatedCostMicros int64  `json:"estimated_cost_micros"`
	Supplier            string `json:"supplier"`
}

func (h *meterHandler) reserve(w http.ResponseWriter, r *http.Request) {
	var req reserveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeMeterError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}
	if req.WorkspaceID == "" {
		writeMeterError(w, http.StatusBadRequest, "invalid_request", "workspace_id is required")
		return
	}

	byok := false
	if req.Supplier != "" {
		var err error
		byok, err = h.resolver.HasOwnKey(r.Context(), req.WorkspaceID, req.Supplier)
		if err != nil {
			// Fail closed: without a key answer the call is metered.
			byok = false
		}
	}

	res, err := h.mgr.Reserve(r.Context(), req.WorkspaceID, req.EstimatedCostMicros, credits.DefaultMaxRetries, byok)
	if err != nil {
		writeMeterFailure(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(res)
}

type settleRequest struct {
	WorkspaceID      string `json:"workspace_id"`
	ActualCostMicros int64  `json:"actual_cost_micros"`
	AgentID          string `json:"agent_id,omitempty"`
	ConversationID   string `json:"conversation_id,omitempty"`
	Source           string `json:"source"`
	Supplier         string `json:"supplier"`
	ToolCall         string `json:"tool_call,omitempty"`
	Description      string `json:"description,omitempty"`
}

func (req *settleRequest) meta() credits.TransactionMeta {
	return credits.TransactionMeta{
		AgentID:        req.AgentID,
		ConversationID: req.ConversationID,
		Source:         credits.TransactionSource(req.Source),
		Supplier:       req.Supplier,
		ToolCall:       req.ToolCall,
		Description:    req.Description,
	}
}

func (h *meterHandler) settle(w http.ResponseWriter, r *http.Request) {
	reservationID := mux.Vars(r)["id"]

	var req settleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeMeterError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}
	if req.WorkspaceID == "" {
		writeMeterError(w, http.StatusBadRequest, "invalid_request", "workspace_id is required")
		return
	}

	ledger := h.mgr.NewLedger(h.archive)
	if err := h.mgr.Adjust(r.Context(), reservationID, req.WorkspaceID, req.ActualCostMicros, req.meta(), ledger); err != nil {
		writeMeterFailure(w, err)
		return
	}
	h.commitAndReply(w, r, ledger, req.WorkspaceID)
}

func (h *meterHandler) refund(w http.ResponseWriter, r *http.Request) {
	reservationID := mux.Vars(r)["id"]

	var req settleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeMeterError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}
	if req.WorkspaceID == "" {
		writeMeterError(w, http.StatusBadRequest, "invalid_request", "workspace_id is required")
		return
	}

	ledger := h.mgr.NewLedger(h.archive)
	if err := h.mgr.Refund(r.Context(), reservationID, req.WorkspaceID, req.meta(), ledger); err != nil {
		writeMeterFailure(w, err)
		return
	}
	h.commitAndReply(w, r, ledger, req.WorkspaceID)
}

func (h *meterHandler) commitAndReply(w http.ResponseWriter, r *http.Request, ledger *credits.TurnLedger, workspaceID string) {
	balances, err := ledger.Commit(r.Context())
	if err != nil {
		writeMeterFailure(w, err)
		return
	}

	resp := map[string]interface{}{"workspace_id": workspaceID}
	if balance, ok := balances[workspaceID]; ok {
		resp["credit_balance"] = balance.CreditBalance
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(resp)
}

func writeMeterFailure(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, credits.ErrInsufficientCredits):
		writeMeterError(w, http.StatusPaymentRequired, "insufficient_credits", err.Error())
	case errors.Is(err, credits.ErrWorkspaceNotFound):
		writeMeterError(w, http.StatusNotFound, "workspace_not_found", err.Error())
	case errors.Is(err, credits.ErrConcurrencyExhausted):
		writeMeterError(w, http.StatusServiceUnavailable, "concurrency_exhausted", err.Error())
	default:
		writeMeterError(w, http.StatusInternalServerError, "internal_error", err.Error())
	}
}

func writeMeterError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"error":   code,
		"message": message,
	})
}
