package api

import "time"

const (
	StatusAlive     = "alive"
	StatusHealthy   = "healthy"
	StatusDegraded  = "degraded"
	StatusUnhealthy = "unhealthy"
)

type HealthResponse struct {
	Status        string    `json:"status"`
	Timestamp     time.Time `json:"timestamp"`
	UptimeSeconds float64   `json:"uptime_seconds"`
}

type ReadyResponse struct {
	Status              string     `json:"status"`
	Timestamp           time.Time  `json:"timestamp"`
	LastSuccessfulRun   *time.Time `json:"last_successful_run"`
	LastFailedRun       *time.Time `json:"last_failed_run"`
	NextScheduledRun    *time.Time `json:"next_scheduled_run"`
	ConsecutiveFailures int        `json:"consecutive_failures"`
	ErrorMessage        string     `json:"error_message,omitempty"`
}

type RunCounters struct {
	TotalRuns              int64   `json:"total_runs"`
	SuccessfulRuns         int64   `json:"successful_runs"`
	FailedRuns             int64   `json:"failed_runs"`
	HostsProcessed         int64   `json:"hosts_processed"`
	PoliciesGraded         int64   `json:"policies_graded"`
	PoliciesPassed         int64   `json:"policies_passed"`
	PoliciesFailed         int64   `json:"policies_failed"`
	APICalls               int64   `json:"api_calls"`
	APIErrors              int64   `json:"api_errors"`
	LastRunDurationSeconds float64 `json:"last_run_duration_seconds"`
}

type RateLimiterStats struct {
	TotalRequests     int64   `json:"total_requests"`
	ThrottledRequests int64   `json:"throttled_requests"`
	FailedRequests    int64   `json:"failed_requests"`
	TotalWaitSeconds  float64 `json:"total_wait_seconds"`
	CurrentRPM        int     `json:"current_rpm"`
	TokensAvailable   float64 `json:"tokens_available"`
	BackoffAttempt    int     `json:"backoff_attempt"`
	InBackoff         bool    `json:"in_backoff"`
}

type TaskStatus struct {
	Name    string     `json:"name"`
	Cron    string     `json:"cron"`
	LastRun *time.Time `json:"last_run"`
	NextRun *time.Time `json:"next_run"`
	Running bool       `json:"running"`
}

type MetricsResponse struct {
	State         string           `json:"state"`
	Timestamp     time.Time        `json:"timestamp"`
	UptimeSeconds float64          `json:"uptime_seconds"`
	Runs          RunCounters      `json:"runs"`
	RateLimiter   RateLimiterStats `json:"rate_limiter"`
	Tasks         []TaskStatus     `json:"tasks"`
}
