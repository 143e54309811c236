package adapters

import (
	"testing"
	"time"

	"github.com/cs-shadowbq/falcon-policy-scoring/pkg/grading"
	"github.com/cs-shadowbq/falcon-policy-scoring/pkg/models/domain"
	"github.com/cs-shadowbq/falcon-policy-scoring/pkg/ratelimit"
	"github.com/cs-shadowbq/falcon-policy-scoring/pkg/scheduler"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMapSummaries(t *testing.T) {
	p := MapPolicySummaryToApi(grading.PolicySummary{Total: 4, Passed: 3, Failed: 1, OverallScore: 75})
	assert.Equal(t, 75.0, p.OverallScore)
	assert.Equal(t, 1, p.Failed)

	h := MapHostSummaryToApi(grading.HostSummary{Total: 2, AllPassed: 1, AnyFailed: 1, NoPolicyAssigned: 1})
	assert.Equal(t, 2, h.TotalHosts)
	assert.Equal(t, 1, h.NoPolicyAssigned)

	ids := MapHostIDs([]domain.HostComplianceView{{HostID: "b"}, {HostID: "a"}})
	assert.Equal(t, []string{"b", "a"}, ids)
}

func TestMapLimiterStats(t *testing.T) {
	s := MapLimiterStatsToApi(ratelimit.Stats{TotalRequests: 7, TotalWait: 1500 * time.Millisecond, InBackoff: true})
	assert.Equal(t, int64(7), s.TotalRequests)
	assert.Equal(t, 1.5, s.TotalWaitSeconds)
	assert.True(t, s.InBackoff)
}

func TestMapTaskStatuses(t *testing.T) {
	next := time.Date(2025, 6, 2, 12, 0, 0, 0, time.UTC)
	res := MapTaskStatusesToApi([]scheduler.TaskStatus{{Name: "cleanup", Cron: "0 2 * * *", NextRunAt: next}})

	require.Len(t, res, 1)
	assert.Nil(t, res[0].LastRun)
	require.NotNil(t, res[0].NextRun)
	assert.Equal(t, next, *res[0].NextRun)
}
