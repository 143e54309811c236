package daemon

import (
	"sync"
	"time"

	"github.com/cs-shadowbq/falcon-policy-scoring/pkg/models/api"
	"github.com/cs-shadowbq/falcon-policy-scoring/pkg/services/audit"
)

type Lifecycle string

const (
	Initializing Lifecycle = "INITIALIZING"
	Running      Lifecycle = "RUNNING"
	ShuttingDown Lifecycle = "SHUTTING_DOWN"
	Stopped      Lifecycle = "STOPPED"
)

// Thresholds decide readiness from the run history.
type Thresholds struct {
	DegradedAfter  int
	UnhealthyAfter int
	// StaleFactor times the fetch interval is the longest tolerated gap
	// since the last successful run.
	StaleFactor float64
}

// State is shared between the orchestrator, which writes it, and the
// health server, which reads snapshots of it.
type State struct {
	mu   sync.Mutex
	snap Snapshot
}

type Snapshot struct {
	Lifecycle           Lifecycle
	StartedAt           time.Time
	ConsecutiveFailures int
	LastSuccess         time.Time
	LastFailure         time.Time
	LastError           string
	NextRun             time.Time
	FetchInterval       time.Duration
	Counters            api.RunCounters
}

func NewState(startedAt time.Time) *State {
	return &State{snap: Snapshot{Lifecycle: Initializing, StartedAt: startedAt}}
}

func (s *State) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snap
}

func (s *State) SetLifecycle(l Lifecycle) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snap.Lifecycle = l
}

func (s *State) SetSchedule(next time.Time, fetchInterval time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snap.NextRun = next
	s.snap.FetchInterval = fetchInterval
}

// RecordRun folds one fetch and grade run into the counters. res may be nil
// when the run never started.
func (s *State) RecordRun(res *audit.Result, err error, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := &s.snap.Counters
	c.TotalRuns++
	if res != nil {
		c.HostsProcessed += int64(res.HostsProcessed)
		c.PoliciesGraded += int64(res.PoliciesGraded())
		c.PoliciesPassed += int64(res.PoliciesPassed())
		c.PoliciesFailed += int64(res.PoliciesFailed())
		c.APICalls += int64(res.APICalls)
		c.APIErrors += int64(res.APIErrors)
		c.LastRunDurationSeconds = res.Duration().Seconds()
	}

	if err != nil {
		c.FailedRuns++
		s.snap.ConsecutiveFailures++
		s.snap.LastFailure = at
		s.snap.LastError = err.Error()
		return
	}
	c.SuccessfulRuns++
	s.snap.ConsecutiveFailures = 0
	s.snap.LastSuccess = at
	s.snap.LastError = ""
}

// Readiness is unhealthy after UnhealthyAfter consecutive failures and
// degraded after DegradedAfter, or when no run has succeeded for
// StaleFactor fetch intervals.
func (s Snapshot) Readiness(now time.Time, th Thresholds) string {
	switch {
	case th.UnhealthyAfter > 0 && s.ConsecutiveFailures >= th.UnhealthyAfter:
		return api.StatusUnhealthy
	case th.DegradedAfter > 0 && s.ConsecutiveFailures >= th.DegradedAfter:
		return api.StatusDegraded
	}

	if s.FetchInterval > 0 && th.StaleFactor > 0 {
		since := s.LastSuccess
		if since.IsZero() {
			since = s.StartedAt
		}
		limit := time.Duration(float64(s.FetchInterval) * th.StaleFactor)
		if now.Sub(since) > limit {
			return api.StatusDegraded
		}
	}
	return api.StatusHealthy
}

func (s Snapshot) Uptime(now time.Time) time.Duration {
	return now.Sub(s.StartedAt)
}
