package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/songzhibin97/quantaguard/internal/models"
	"github.com/songzhibin97/quantaguard/internal/risk"
	"github.com/songzhibin97/quantaguard/internal/scheduler"
)

func newTestServer(ready Readiness) (*Server, *risk.BasicRiskManager) {
	rm := risk.NewBasicRiskManager(risk.NewEngine(risk.DefaultConfig(), risk.DefaultRules(), nil), nil)
	return New(rm, ready, nil), rm
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	barrier := scheduler.NewBarrier("storage", "risk")
	s, _ := newTestServer(barrier)
	h := s.Router()

	rec := do(t, h, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "storage")

	barrier.Ready("storage")
	barrier.Ready("risk")
	rec = do(t, h, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestMetrics(t *testing.T) {
	s, _ := newTestServer(nil)
	rec := do(t, s.Router(), http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "quantaguard_")
}

func TestRisk(t *testing.T) {
	s, rm := newTestServer(nil)
	rm.RecordTradeResult(-25, 1000)
	rm.Assess(models.PortfolioState{TotalValueUSD: 1000, BaseBalance: 1}, models.Hold("test"))

	rec := do(t, s.Router(), http.MethodGet, "/risk", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var view riskView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &view))
	assert.Equal(t, risk.DefaultConfig(), view.Config)
	assert.Equal(t, -25.0, view.Context.DailyPnl)
	assert.Equal(t, 1, view.Context.ConsecutiveLosses)
	require.NotNil(t, view.LastAssessment)
	assert.True(t, view.LastAssessment.Allowed)
	assert.NotNil(t, view.AssessedAt)
}

func TestRiskConfigUpdate(t *testing.T) {
	tests := []struct {
		name        string
		body        string
		wantCode    int
		wantLevered float64
	}{
		{name: "partial update", body: `{"max_leverage": 5}`, wantCode: http.StatusOK, wantLevered: 5},
		{name: "invalid value", body: `{"max_leverage": 0}`, wantCode: http.StatusUnprocessableEntity, wantLevered: 20},
		{name: "malformed body", body: `{"max_leverage":`, wantCode: http.StatusBadRequest, wantLevered: 20},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, rm := newTestServer(nil)
			rec := do(t, s.Router(), http.MethodPut, "/risk/config", tt.body)
			assert.Equal(t, tt.wantCode, rec.Code)
			assert.Equal(t, tt.wantLevered, rm.Config().MaxLeverage)
			assert.Equal(t, 0.25, rm.Config().MaxPositionSizePct)
		})
	}
}
