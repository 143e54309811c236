package health

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/cs-shadowbq/falcon-policy-scoring/pkg/models/api"
	"github.com/rs/zerolog"
)

// StatusProvider is implemented by the daemon. Each call returns a
// consistent view taken at now.
type StatusProvider interface {
	Health(now time.Time) api.HealthResponse
	Ready(now time.Time) api.ReadyResponse
	Metrics(now time.Time) api.MetricsResponse
}

type Handler struct {
	status StatusProvider
	now    func() time.Time
}

func NewHandler(status StatusProvider) *Handler {
	return &Handler{status: status, now: time.Now}
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, h.status.Health(h.now()))
}

// Ready answers 503 only when unhealthy; a degraded daemon still serves.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	resp := h.status.Ready(h.now())
	code := http.StatusOK
	if resp.Status == api.StatusUnhealthy {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, r, code, resp)
}

func (h *Handler) Metrics(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, h.status.Metrics(h.now()))
}

func writeJSON(w http.ResponseWriter, r *http.Request, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zerolog.Ctx(r.Context()).Error().
			Err(err).
			Str("path", r.URL.Path).
			Msg("failed to encode response")
	}
}
