package health

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/cs-shadowbq/falcon-policy-scoring/pkg/models/api"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockStatus struct {
	mock.Mock
}

func (m *mockStatus) Health(now time.Time) api.HealthResponse {
	return m.Called(now).Get(0).(api.HealthResponse)
}

func (m *mockStatus) Ready(now time.Time) api.ReadyResponse {
	return m.Called(now).Get(0).(api.ReadyResponse)
}

func (m *mockStatus) Metrics(now time.Time) api.MetricsResponse {
	return m.Called(now).Get(0).(api.MetricsResponse)
}

var fixedNow = time.Date(2025, 6, 2, 12, 0, 0, 0, time.UTC)

func newTestHandler(status StatusProvider) *Handler {
	h := NewHandler(status)
	h.now = func() time.Time { return fixedNow }
	return h
}

func TestHandler_Health(t *testing.T) {
	status := new(mockStatus)
	status.On("Health", fixedNow).Return(api.HealthResponse{Status: api.StatusAlive, Timestamp: fixedNow, UptimeSeconds: 30})

	rec := httptest.NewRecorder()
	newTestHandler(status).Health(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	var got api.HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, api.StatusAlive, got.Status)
	assert.Equal(t, 30.0, got.UptimeSeconds)
}

func TestHandler_Ready(t *testing.T) {
	tests := []struct {
		name     string
		status   string
		wantCode int
	}{
		{name: "healthy", status: api.StatusHealthy, wantCode: http.StatusOK},
		{name: "degraded still serves", status: api.StatusDegraded, wantCode: http.StatusOK},
		{name: "unhealthy", status: api.StatusUnhealthy, wantCode: http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status := new(mockStatus)
			status.On("Ready", fixedNow).Return(api.ReadyResponse{
				Status:              tt.status,
				Timestamp:           fixedNow,
				ConsecutiveFailures: 2,
			})

			rec := httptest.NewRecorder()
			newTestHandler(status).Ready(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))

			assert.Equal(t, tt.wantCode, rec.Code)
			var got api.ReadyResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
			assert.Equal(t, tt.status, got.Status)
			assert.Equal(t, 2, got.ConsecutiveFailures)
		})
	}
}

func metricsSnapshot() api.MetricsResponse {
	return api.MetricsResponse{
		State:         "RUNNING",
		Timestamp:     fixedNow,
		UptimeSeconds: 120,
		Runs: api.RunCounters{
			TotalRuns:      3,
			SuccessfulRuns: 2,
			FailedRuns:     1,
			PoliciesGraded: 40,
			APICalls:       12,
		},
		RateLimiter: api.RateLimiterStats{TotalRequests: 12, TokensAvailable: 4.5},
		Tasks:       []api.TaskStatus{{Name: "fetch_and_grade", Cron: "0 * * * *"}},
	}
}

func TestHandler_Metrics(t *testing.T) {
	status := new(mockStatus)
	status.On("Metrics", fixedNow).Return(metricsSnapshot())

	rec := httptest.NewRecorder()
	newTestHandler(status).Metrics(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	var got api.MetricsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, metricsSnapshot(), got)
}

func TestPrometheusHandler(t *testing.T) {
	status := new(mockStatus)
	status.On("Metrics", mock.Anything).Return(metricsSnapshot())

	handler, err := PrometheusHandler(status)
	require.NoError(t, err)
	srv := httptest.NewServer(handler)
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	text := string(body)
	for _, line := range []string{
		"policy_audit_runs_total 3",
		"policy_audit_runs_failed_total 1",
		"policy_audit_policies_graded_total 40",
		"policy_audit_api_calls_total 12",
		"policy_audit_ratelimit_tokens_available 4.5",
		"policy_audit_uptime_seconds 120",
	} {
		assert.True(t, strings.Contains(text, line), "missing %q", line)
	}
}
