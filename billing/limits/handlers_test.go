// Copyright 2026 Quillworks
// SPDX-License-Identifier: BUSL-1.1

package limits

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quillworks/platform/shared/logger"
)

func newLimitsTestRouter(t *testing.T) (*mux.Router, *mockDirectory) {
	t.Helper()
	dir := newMockDirectory()
	checker := NewChecker(DefaultPlans(), dir, dir, logger.New("test"))

	r := mux.NewRouter()
	NewHandler(checker).RegisterRoutes(r)
	return r, dir
}

func TestCheckLimitHandlerAllowed(t *testing.T) {
	r, dir := newLimitsTestRouter(t)
	dir.set("sub-1", "starter", ResourceAgentKey, 3)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/subscriptions/sub-1/limits/check?kind=agentKey&additional=1", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, true, resp["allowed"])
}

func TestCheckLimitHandlerDenied(t *testing.T) {
	r, dir := newLimitsTestRouter(t)
	dir.set("sub-1", "starter", ResourceAgentKey, 5)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/subscriptions/sub-1/limits/check?kind=agentKey&additional=1", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	require.Equal(t, http.StatusForbidden, rec.Code)
	var resp struct {
		Error   string             `json:"error"`
		Message string             `json:"message"`
		Detail  LimitExceededError `json:"detail"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "limit_exceeded", resp.Error)
	assert.Contains(t, resp.Message, "starter")
	assert.Contains(t, resp.Message, "5")
	assert.Equal(t, 5, resp.Detail.Cap)
	assert.Equal(t, 5, resp.Detail.Current)
}

func TestCheckLimitHandlerValidation(t *testing.T) {
	r, dir := newLimitsTestRouter(t)
	dir.set("sub-1", "starter", ResourceAgentKey, 0)

	// Missing kind.
	req := httptest.NewRequest(http.MethodGet, "/api/v1/subscriptions/sub-1/limits/check", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// Negative additional.
	req = httptest.NewRequest(http.MethodGet, "/api/v1/subscriptions/sub-1/limits/check?kind=agentKey&additional=-1", nil)
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCheckLimitHandlerUnknownSubscription(t *testing.T) {
	r, _ := newLimitsTestRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/subscriptions/sub-missing/limits/check?kind=agentKey", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCheckLimitHandlerInvalidPlan(t *testing.T) {
	r, dir := newLimitsTestRouter(t)
	dir.set("sub-1", "legacy-gold", ResourceAgentKey, 0)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/subscriptions/sub-1/limits/check?kind=agentKey", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestUsageReportHandler(t *testing.T) {
	r, dir := newLimitsTestRouter(t)
	dir.set("sub-1", "starter", ResourceAgentKey, 4)
	dir.set("sub-1", "starter", ResourceChannel, 2)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/subscriptions/sub-1/limits", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var report UsageReport
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
	assert.Equal(t, "starter", report.Plan)
	assert.Len(t, report.Usage, len(AllKinds))
}

func TestUsageReportHandlerUnknownSubscription(t *testing.T) {
	r, _ := newLimitsTestRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/subscriptions/sub-missing/limits", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}
