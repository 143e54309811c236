package audit

import (
	"fmt"
	"sort"
	"time"

	"github.com/cs-shadowbq/falcon-policy-scoring/pkg/models/domain"
)

type Result struct {
	RunID      string
	StartedAt  time.Time
	FinishedAt time.Time

	HostsProcessed int
	APICalls       int
	APIErrors      int
	CacheHits      int

	Graded map[domain.PolicyType][]domain.PolicyGradeResult
	Hosts  []domain.HostComplianceView

	// Stale and Errors are keyed by entity: "hosts", a policy type, or
	// "graded:<type>" and "report:<type>" for write failures.
	Stale   map[string]bool
	Errors  map[string]error
	Reports []string
}

func (r *Result) recordError(entity string, err error) {
	if _, ok := r.Errors[entity]; !ok {
		r.Errors[entity] = err
	}
}

func (r *Result) Failed() bool {
	return len(r.Errors) > 0
}

func (r *Result) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

func (r *Result) PoliciesGraded() int {
	n := 0
	for _, results := range r.Graded {
		n += len(results)
	}
	return n
}

func (r *Result) PoliciesPassed() int {
	n := 0
	for _, results := range r.Graded {
		for _, g := range results {
			if g.Passed {
				n++
			}
		}
	}
	return n
}

func (r *Result) PoliciesFailed() int {
	return r.PoliciesGraded() - r.PoliciesPassed()
}

// ErrorMessages is sorted by entity.
func (r *Result) ErrorMessages() []string {
	entities := make([]string, 0, len(r.Errors))
	for e := range r.Errors {
		entities = append(entities, e)
	}
	sort.Strings(entities)

	msgs := make([]string, 0, len(entities))
	for _, e := range entities {
		msg := fmt.Sprintf("%s: %v", e, r.Errors[e])
		if r.Stale[e] {
			msg += " (served stale cache)"
		}
		msgs = append(msgs, msg)
	}
	return msgs
}
