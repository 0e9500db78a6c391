// Copyright 2026 Quillworks
// SPDX-License-Identifier: BUSL-1.1

package limits

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
)

// Handler provides HTTP handlers for the plan-limit APIs.
type Handler struct {
	checker *Checker
}

// NewHandler creates a limits handler.
func NewHandler(checker *Checker) *Handler {
	return &Handler{checker: checker}
}

// RegisterRoutes registers the limit routes with a gorilla/mux router.
func (h *Handler) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/api/v1/subscriptions/{id}/limits", h.GetUsageReport).Methods("GET", "OPTIONS")
	r.HandleFunc("/api/v1/subscriptions/{id}/limits/check", h.CheckLimit).Methods("GET", "OPTIONS")
}

// GetUsageReport handles GET /api/v1/subscriptions/{id}/limits
func (h *Handler) GetUsageReport(w http.ResponseWriter, r *http.Request) {
	h.setCORSHeaders(w)
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusOK)
		return
	}

	subscriptionID := mux.Vars(r)["id"]
	report, err := h.checker.Report(r.Context(), subscriptionID)
	if err != nil {
		switch {
		case errors.Is(err, ErrSubscriptionNotFound):
			h.writeError(w, "Subscription not found", http.StatusNotFound)
		case errors.Is(err, ErrInvalidPlan):
			h.writeError(w, err.Error(), http.StatusConflict)
		default:
			h.writeError(w, err.Error(), http.StatusInternalServerError)
		}
		return
	}

	h.writeJSON(w, http.StatusOK, report)
}

// CheckLimit handles GET /api/v1/subscriptions/{id}/limits/check?kind=agentKey&additional=1
func (h *Handler) CheckLimit(w http.ResponseWriter, r *http.Request) {
	h.setCORSHeaders(w)
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusOK)
		return
	}

	subscriptionID := mux.Vars(r)["id"]
	kind := ResourceKind(r.URL.Query().Get("kind"))
	if kind == "" {
		h.writeError(w, "kind query parameter is required", http.StatusBadRequest)
		return
	}

	additional := 0
	if v := r.URL.Query().Get("additional"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			h.writeError(w, "additional must be a non-negative integer", http.StatusBadRequest)
			return
		}
		additional = n
	}

	err := h.checker.CheckLimit(r.Context(), subscriptionID, kind, additional)
	if err != nil {
		var exceeded *LimitExceededError
		switch {
		case errors.As(err, &exceeded):
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusForbidden)
			_ = json.NewEncoder(w).Encode(map[string]interface{}{
				"error":   "limit_exceeded",
				"message": exceeded.Error(),
				"detail":  exceeded,
			})
		case errors.Is(err, ErrSubscriptionNotFound):
			h.writeError(w, "Subscription not found", http.StatusNotFound)
		case errors.Is(err, ErrInvalidPlan), errors.Is(err, ErrUnknownResourceKind):
			h.writeError(w, err.Error(), http.StatusConflict)
		default:
			h.writeError(w, err.Error(), http.StatusInternalServerError)
		}
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"allowed":         true,
		"subscription_id": subscriptionID,
		"resource_kind":   kind,
		"additional":      additional,
	})
}

// Helper functions

func (h *Handler) setCORSHeaders(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
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
