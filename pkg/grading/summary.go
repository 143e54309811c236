package grading

import (
	"github.com/cs-shadowbq/falcon-policy-scoring/pkg/models/domain"
)

type PolicySummary struct {
	Total        int     `json:"total_policies"`
	Passed       int     `json:"passed_policies"`
	Failed       int     `json:"failed_policies"`
	OverallScore float64 `json:"overall_score"`
}

type HostSummary struct {
	Total            int `json:"total_hosts"`
	AllPassed        int `json:"all_passed"`
	AnyFailed        int `json:"any_failed"`
	NotGraded        int `json:"not_graded"`
	NoPolicyAssigned int `json:"no_policy_assigned"`
}

// Summarize counts verdicts. OverallScore is the share of passing policies;
// an empty batch scores 100.
func Summarize(results []domain.PolicyGradeResult) PolicySummary {
	s := PolicySummary{Total: len(results)}
	for _, r := range results {
		if r.Passed {
			s.Passed++
		} else {
			s.Failed++
		}
	}
	s.OverallScore = score(float64(s.Passed), float64(s.Total))
	return s
}

// SummarizeHosts counts a host once per bucket it falls in.
func SummarizeHosts(views []domain.HostComplianceView) HostSummary {
	s := HostSummary{Total: len(views)}
	for _, v := range views {
		if v.AllPassed {
			s.AllPassed++
		}
		if v.AnyFailed {
			s.AnyFailed++
		}

		var notGraded, unassigned bool
		for _, status := range v.Statuses {
			switch status {
			case domain.StatusNotGraded:
				notGraded = true
			case domain.StatusNoPolicyAssigned:
				unassigned = true
			}
		}
		if notGraded {
			s.NotGraded++
		}
		if unassigned {
			s.NoPolicyAssigned++
		}
	}
	return s
}
