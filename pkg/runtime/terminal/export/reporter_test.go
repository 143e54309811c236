package export

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/cs-shadowbq/falcon-policy-scoring/pkg/grading"
	"github.com/cs-shadowbq/falcon-policy-scoring/pkg/models/domain"
	"github.com/cs-shadowbq/falcon-policy-scoring/pkg/services/audit"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var graded = map[domain.PolicyType][]domain.PolicyGradeResult{
	domain.PolicyTypeFirewall: {
		{PolicyID: "fw-1", PolicyName: "Servers", Platform: "Windows", Passed: true, ChecksTotal: 2, ScorePercentage: 100},
		{PolicyID: "fw-2", Platform: "Linux", ChecksTotal: 2, ChecksFailed: 1, ScorePercentage: 50},
	},
	domain.PolicyTypePrevention: {
		{PolicyID: "pv-1", PolicyName: "Default", Platform: "Mac", Passed: true, ChecksTotal: 1, ScorePercentage: 100},
	},
}

func TestPolicySections(t *testing.T) {
	sections := PolicySections(graded, false)

	require.Len(t, sections, 2)
	assert.Equal(t, domain.PolicyTypePrevention, sections[0].Type, "sections follow policy type order")
	assert.Equal(t, domain.PolicyTypeFirewall, sections[1].Type)
	assert.Equal(t, grading.PolicySummary{Total: 2, Passed: 1, Failed: 1, OverallScore: 50}, sections[1].Summary)

	failed := PolicySections(graded, true)
	require.Len(t, failed, 2)
	assert.Empty(t, failed[0].Results)
	require.Len(t, failed[1].Results, 1)
	assert.Equal(t, "fw-2", failed[1].Results[0].PolicyID)
	assert.Equal(t, 2, failed[1].Summary.Total, "summary still counts every policy")
}

func TestReporter_Policies(t *testing.T) {
	var buf bytes.Buffer
	r := NewReporter(&buf)

	require.NoError(t, r.Policies(PolicySections(graded, false)))

	out := buf.String()
	assert.Contains(t, out, "=== firewall: 1/2 passed, score 50.00% ===")
	assert.Contains(t, out, "| Servers ")
	assert.Contains(t, out, "| fw-2 ")
	assert.Contains(t, out, "50.00% (1/2 checks failed)")
	assert.Contains(t, out, "FAILED")
}

func TestReporter_Hosts(t *testing.T) {
	var buf bytes.Buffer
	r := NewReporter(&buf)
	views := []domain.HostComplianceView{
		{HostID: "h1", Hostname: "web-01", Platform: "Windows", AllPassed: true, Statuses: map[domain.PolicyType]domain.ComplianceStatus{
			domain.PolicyTypeFirewall: domain.StatusPassed,
		}},
		{HostID: "h3", Hostname: "app-01", Platform: "Windows", AllPassed: true, Statuses: map[domain.PolicyType]domain.ComplianceStatus{
			domain.PolicyTypeFirewall: domain.StatusPassed,
		}, ZeroTrust: &domain.ZeroTrustAssessment{DeviceID: "h3", SensorConfig: 90, OS: 60, Overall: 78}},
		{HostID: "h2", Platform: "Linux", AnyFailed: true, Statuses: map[domain.PolicyType]domain.ComplianceStatus{
			domain.PolicyTypeFirewall:     domain.StatusFailed,
			domain.PolicyTypeSensorUpdate: domain.StatusNoPolicyAssigned,
		}},
	}

	require.NoError(t, r.Hosts(HostSection{Summary: grading.SummarizeHosts(views), Hosts: views}))

	out := buf.String()
	assert.Contains(t, out, "Hosts: 3  all passed: 2  any failed: 1")
	lines := strings.Split(out, "\n")
	var web, app, h2 string
	for _, l := range lines {
		if strings.Contains(l, "web-01") {
			web = l
		}
		if strings.Contains(l, "app-01") {
			app = l
		}
		if strings.HasPrefix(l, "| h2 ") {
			h2 = l
		}
	}
	assert.Contains(t, web, "PASSED")
	assert.Contains(t, web, "| -")
	assert.NotContains(t, web, "zta")
	assert.Contains(t, app, "| -  zta (90/60) 78")
	assert.Contains(t, h2, "firewall=FAILED sensor-update=NO_POLICY_ASSIGNED")
}

func TestReporter_Run(t *testing.T) {
	var buf bytes.Buffer
	start := time.Date(2025, 6, 2, 10, 0, 0, 0, time.UTC)
	res := &audit.Result{
		RunID:          "run-9",
		StartedAt:      start,
		FinishedAt:     start.Add(3 * time.Second),
		HostsProcessed: 2,
		APICalls:       3,
		Graded:         graded,
		Reports:        []string{"output/policy-audit.json"},
	}

	require.NoError(t, NewReporter(&buf).Run(res))

	out := buf.String()
	assert.Contains(t, out, "Run run-9 finished in 3s")
	assert.Contains(t, out, "policies graded: 3  passed: 2  failed: 1")
	assert.Contains(t, out, "Report: output/policy-audit.json")
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "abcd~", truncate("abcdefgh", 5))
}
