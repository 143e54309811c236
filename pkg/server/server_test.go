package server

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/cs-shadowbq/falcon-policy-scoring/pkg/models/api"
	"github.com/rs/zerolog"
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

func TestHealthServer_Endpoints(t *testing.T) {
	logger := zerolog.New(zerolog.NewTestWriter(t))
	status := new(mockStatus)
	status.On("Health", mock.Anything).Return(api.HealthResponse{Status: api.StatusAlive, UptimeSeconds: 5})
	status.On("Ready", mock.Anything).Return(api.ReadyResponse{Status: api.StatusUnhealthy, ConsecutiveFailures: 5})
	status.On("Metrics", mock.Anything).Return(api.MetricsResponse{State: "RUNNING", Runs: api.RunCounters{TotalRuns: 7}})

	router, err := ConfigureRouter(logger, Config{Dependencies: Dependencies{Status: status}})
	require.NoError(t, err)
	testServer := httptest.NewServer(router)
	defer testServer.Close()

	tests := []struct {
		name           string
		path           string
		expectedStatus int
		expected       interface{}
		parseResponse  func([]byte) (interface{}, error)
	}{
		{
			name:           "Health",
			path:           "/health",
			expectedStatus: http.StatusOK,
			expected:       api.HealthResponse{Status: api.StatusAlive, UptimeSeconds: 5},
			parseResponse:  unmarshalResponse[api.HealthResponse](),
		},
		{
			name:           "HealthzAlias",
			path:           "/healthz",
			expectedStatus: http.StatusOK,
			expected:       api.HealthResponse{Status: api.StatusAlive, UptimeSeconds: 5},
			parseResponse:  unmarshalResponse[api.HealthResponse](),
		},
		{
			name:           "ReadyUnhealthy",
			path:           "/ready",
			expectedStatus: http.StatusServiceUnavailable,
			expected:       api.ReadyResponse{Status: api.StatusUnhealthy, ConsecutiveFailures: 5},
			parseResponse:  unmarshalResponse[api.ReadyResponse](),
		},
		{
			name:           "ReadinessAlias",
			path:           "/readiness",
			expectedStatus: http.StatusServiceUnavailable,
			expected:       api.ReadyResponse{Status: api.StatusUnhealthy, ConsecutiveFailures: 5},
			parseResponse:  unmarshalResponse[api.ReadyResponse](),
		},
		{
			name:           "Metrics",
			path:           "/metrics",
			expectedStatus: http.StatusOK,
			expected:       api.MetricsResponse{State: "RUNNING", Runs: api.RunCounters{TotalRuns: 7}},
			parseResponse:  unmarshalResponse[api.MetricsResponse](),
		},
		{
			name:           "UnknownPath",
			path:           "/api/v1/unknown",
			expectedStatus: http.StatusNotFound,
			expected:       "404 page not found\n",
			parseResponse: func(data []byte) (interface{}, error) {
				return string(data), nil
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := http.Get(testServer.URL + tt.path)
			require.NoError(t, err)
			defer resp.Body.Close()

			assert.Equal(t, tt.expectedStatus, resp.StatusCode)

			body, err := io.ReadAll(resp.Body)
			require.NoError(t, err)

			got, err := tt.parseResponse(body)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, got)
		})
	}
}

func TestHealthServer_PrometheusRoute(t *testing.T) {
	status := new(mockStatus)
	status.On("Metrics", mock.Anything).Return(api.MetricsResponse{Runs: api.RunCounters{TotalRuns: 2}})

	router, err := ConfigureRouter(zerolog.Nop(), Config{Dependencies: Dependencies{Status: status}})
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics/prometheus", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "policy_audit_runs_total 2")
}

func TestHealthServer_StartStop(t *testing.T) {
	status := new(mockStatus)
	status.On("Health", mock.Anything).Return(api.HealthResponse{Status: api.StatusAlive})

	srv, err := New(zerolog.Nop(), Config{
		Addr:            "127.0.0.1:0",
		ShutdownTimeout: time.Second,
		Dependencies:    Dependencies{Status: status},
	})
	require.NoError(t, err)
	require.NoError(t, srv.Start())

	resp, err := http.Get("http://" + srv.Addr() + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	assert.NoError(t, srv.Stop(context.Background()))
}

func TestHealthServer_PortInUse(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	srv, err := New(zerolog.Nop(), Config{
		Addr:         ln.Addr().String(),
		Dependencies: Dependencies{Status: new(mockStatus)},
	})
	require.NoError(t, err)

	err = srv.Start()
	assert.ErrorContains(t, err, "failed to bind health server")
	assert.NoError(t, srv.Stop(context.Background()))
}

func unmarshalResponse[T any]() func([]byte) (interface{}, error) {
	return func(data []byte) (interface{}, error) {
		var result T
		err := json.Unmarshal(data, &result)
		return result, err
	}
}
