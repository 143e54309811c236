package audit

import (
	"github.com/cs-shadowbq/falcon-policy-scoring/pkg/adapters"
	"github.com/cs-shadowbq/falcon-policy-scoring/pkg/grading"
	"github.com/cs-shadowbq/falcon-policy-scoring/pkg/models/api"
	"github.com/cs-shadowbq/falcon-policy-scoring/pkg/models/domain"
)

func (r *Runner) reports(res *Result) []api.Report {
	audit := &api.PolicyAuditReport{
		Summary:  map[domain.PolicyType]api.PolicyTypeSummary{},
		Policies: map[domain.PolicyType][]domain.PolicyGradeResult{},
	}
	for _, t := range r.settings.PolicyTypes {
		results, graded := res.Graded[t]
		summary := adapters.MapPolicySummaryToApi(grading.Summarize(results))
		summary.Stale = res.Stale[string(t)]
		if err, ok := res.Errors[string(t)]; ok {
			summary.Error = err.Error()
		}
		if !graded && summary.Error == "" {
			continue
		}
		audit.Summary[t] = summary
		audit.Policies[t] = results
	}

	hostSummary := adapters.MapHostSummaryToApi(grading.SummarizeHosts(res.Hosts))
	return []api.Report{
		audit,
		&api.HostSummaryReport{
			Summary: hostSummary,
			Hosts:   adapters.MapHostIDs(res.Hosts),
		},
		&api.HostDetailsReport{
			Summary: hostSummary,
			Hosts:   res.Hosts,
		},
	}
}
