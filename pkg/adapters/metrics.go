package adapters

import (
	"time"

	"github.com/cs-shadowbq/falcon-policy-scoring/pkg/models/api"
	"github.com/cs-shadowbq/falcon-policy-scoring/pkg/ratelimit"
	"github.com/cs-shadowbq/falcon-policy-scoring/pkg/scheduler"
)

func MapLimiterStatsToApi(s ratelimit.Stats) api.RateLimiterStats {
	return api.RateLimiterStats{
		TotalRequests:     s.TotalRequests,
		ThrottledRequests: s.ThrottledRequests,
		FailedRequests:    s.FailedRequests,
		TotalWaitSeconds:  s.TotalWait.Seconds(),
		CurrentRPM:        s.CurrentRPM,
		TokensAvailable:   s.Tokens,
		BackoffAttempt:    s.BackoffAttempt,
		InBackoff:         s.InBackoff,
	}
}

func MapTaskStatusesToApi(statuses []scheduler.TaskStatus) []api.TaskStatus {
	res := make([]api.TaskStatus, 0, len(statuses))
	for _, s := range statuses {
		res = append(res, api.TaskStatus{
			Name:    s.Name,
			Cron:    s.Cron,
			LastRun: timePtr(s.LastRunAt),
			NextRun: timePtr(s.NextRunAt),
			Running: s.Running,
		})
	}
	return res
}

// timePtr maps the zero time to null.
func timePtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	t = t.UTC()
	return &t
}

func TimePtr(t time.Time) *time.Time {
	return timePtr(t)
}
