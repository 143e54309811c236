package adapters

import (
	"github.com/cs-shadowbq/falcon-policy-scoring/pkg/grading"
	"github.com/cs-shadowbq/falcon-policy-scoring/pkg/models/api"
	"github.com/cs-shadowbq/falcon-policy-scoring/pkg/models/domain"
)

func MapPolicySummaryToApi(s grading.PolicySummary) api.PolicyTypeSummary {
	return api.PolicyTypeSummary{
		Total:        s.Total,
		Passed:       s.Passed,
		Failed:       s.Failed,
		OverallScore: s.OverallScore,
	}
}

func MapHostSummaryToApi(s grading.HostSummary) api.HostSummary {
	return api.HostSummary{
		TotalHosts:       s.Total,
		AllPassed:        s.AllPassed,
		AnyFailed:        s.AnyFailed,
		NotGraded:        s.NotGraded,
		NoPolicyAssigned: s.NoPolicyAssigned,
	}
}

// MapHostIDs keeps the input order.
func MapHostIDs(views []domain.HostComplianceView) []string {
	ids := make([]string, 0, len(views))
	for _, v := range views {
		ids = append(ids, v.HostID)
	}
	return ids
}
