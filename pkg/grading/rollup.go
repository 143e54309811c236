package grading

import (
	"github.com/cs-shadowbq/falcon-policy-scoring/pkg/models/domain"
)

// Rollup derives the compliance view of a host from its assigned policy ids
// and the grade results of the current run, keyed by policy id.
func Rollup(
	host domain.HostRecord,
	types []domain.PolicyType,
	results map[string]domain.PolicyGradeResult,
) domain.HostComplianceView {
	view := domain.HostComplianceView{
		HostID:   host.DeviceID,
		Hostname: host.Hostname,
		Platform: host.Platform,
		Statuses: make(map[domain.PolicyType]domain.ComplianceStatus, len(types)),
	}

	notGraded := false
	for _, t := range types {
		status := statusFor(host.Policies[t], results)
		view.Statuses[t] = status

		switch status {
		case domain.StatusFailed:
			view.AnyFailed = true
		case domain.StatusNotGraded:
			notGraded = true
		}
	}

	view.AllPassed = !view.AnyFailed && !notGraded
	return view
}

func statusFor(policyID string, results map[string]domain.PolicyGradeResult) domain.ComplianceStatus {
	if policyID == "" {
		return domain.StatusNoPolicyAssigned
	}

	result, ok := results[policyID]
	switch {
	case !ok:
		return domain.StatusNotGraded
	case result.Passed:
		return domain.StatusPassed
	default:
		return domain.StatusFailed
	}
}

// RollupAll keeps host order.
func RollupAll(
	hosts []domain.HostRecord,
	types []domain.PolicyType,
	results map[string]domain.PolicyGradeResult,
) []domain.HostComplianceView {
	views := make([]domain.HostComplianceView, 0, len(hosts))
	for _, h := range hosts {
		views = append(views, Rollup(h, types, results))
	}
	return views
}

// IndexResults keys grade results by policy id.
func IndexResults(results ...[]domain.PolicyGradeResult) map[string]domain.PolicyGradeResult {
	index := make(map[string]domain.PolicyGradeResult)
	for _, batch := range results {
		for _, r := range batch {
			index[r.PolicyID] = r
		}
	}
	return index
}
