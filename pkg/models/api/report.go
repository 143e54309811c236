package api

import (
	"time"

	"github.com/cs-shadowbq/falcon-policy-scoring/pkg/models/domain"
)

const (
	ReportPolicyAudit = "policy-audit"
	ReportHostSummary = "host-summary"
	ReportHostDetails = "host-details"
	ReportMetrics     = "metrics"
)

type ReportMetadata struct {
	Version      string    `json:"version"`
	Timestamp    time.Time `json:"timestamp"`
	ReportType   string    `json:"report_type"`
	Tenant       string    `json:"tenant"`
	CacheBackend string    `json:"cache_backend"`
	RunID        string    `json:"run_id,omitempty"`
}

// Report is a persisted document. Metadata is stamped by the writer.
type Report interface {
	ReportType() string
	Stamp(ReportMetadata)
}

type Header struct {
	Metadata ReportMetadata `json:"metadata"`
}

func (h *Header) Stamp(m ReportMetadata) {
	h.Metadata = m
}

type PolicyTypeSummary struct {
	Total        int     `json:"total_policies"`
	Passed       int     `json:"passed_policies"`
	Failed       int     `json:"failed_policies"`
	OverallScore float64 `json:"overall_score"`
	Stale        bool    `json:"stale,omitempty"`
	Error        string  `json:"error,omitempty"`
}

type PolicyAuditReport struct {
	Header
	Summary  map[domain.PolicyType]PolicyTypeSummary          `json:"summary"`
	Policies map[domain.PolicyType][]domain.PolicyGradeResult `json:"policies"`
}

func (*PolicyAuditReport) ReportType() string { return ReportPolicyAudit }

type HostSummary struct {
	TotalHosts       int `json:"total_hosts"`
	AllPassed        int `json:"hosts_all_passed"`
	AnyFailed        int `json:"hosts_any_failed"`
	NotGraded        int `json:"hosts_not_graded"`
	NoPolicyAssigned int `json:"hosts_no_policy_assigned"`
}

type HostSummaryReport struct {
	Header
	Summary HostSummary `json:"summary"`
	Hosts   []string    `json:"hosts"`
}

func (*HostSummaryReport) ReportType() string { return ReportHostSummary }

type HostDetailsReport struct {
	Header
	Summary HostSummary                 `json:"summary"`
	Hosts   []domain.HostComplianceView `json:"hosts"`
}

func (*HostDetailsReport) ReportType() string { return ReportHostDetails }

type MetricsReport struct {
	Header
	MetricsResponse
}

func (*MetricsReport) ReportType() string { return ReportMetrics }
