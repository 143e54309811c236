package export

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"text/template"

	"github.com/cs-shadowbq/falcon-policy-scoring/pkg/grading"
	"github.com/cs-shadowbq/falcon-policy-scoring/pkg/models/domain"
	"github.com/cs-shadowbq/falcon-policy-scoring/pkg/services/audit"
)

type TableConfig struct {
	NameWidth     int
	PlatformWidth int
	StatusWidth   int
	DetailWidth   int
}

func DefaultTableConfig() TableConfig {
	return TableConfig{
		NameWidth:     40,
		PlatformWidth: 10,
		StatusWidth:   10,
		DetailWidth:   60,
	}
}

type Reporter struct {
	writer io.Writer
	config TableConfig
}

func NewReporter(writer io.Writer) *Reporter {
	if writer == nil {
		writer = os.Stdout
	}
	return &Reporter{
		writer: writer,
		config: DefaultTableConfig(),
	}
}

type PolicySection struct {
	Type    domain.PolicyType          `json:"policy_type"`
	Summary grading.PolicySummary      `json:"summary"`
	Results []domain.PolicyGradeResult `json:"results"`
}

type HostSection struct {
	Summary grading.HostSummary         `json:"summary"`
	Hosts   []domain.HostComplianceView `json:"hosts"`
}

// PolicySections orders graded batches by policy type.
func PolicySections(graded map[domain.PolicyType][]domain.PolicyGradeResult, failedOnly bool) []PolicySection {
	sections := make([]PolicySection, 0, len(graded))
	for _, t := range domain.PolicyTypes {
		results, ok := graded[t]
		if !ok {
			continue
		}
		shown := results
		if failedOnly {
			shown = nil
			for _, r := range results {
				if !r.Passed {
					shown = append(shown, r)
				}
			}
		}
		sections = append(sections, PolicySection{Type: t, Summary: grading.Summarize(results), Results: shown})
	}
	return sections
}

func (c *Reporter) funcs() template.FuncMap {
	return template.FuncMap{
		"formatRow": func(name, platform, status string, detail interface{}) string {
			return fmt.Sprintf("| %-*s | %-*s | %-*s | %-*v |",
				c.config.NameWidth, truncate(name, c.config.NameWidth),
				c.config.PlatformWidth, truncate(platform, c.config.PlatformWidth),
				c.config.StatusWidth, status,
				c.config.DetailWidth, detail)
		},
		"separator": func() string {
			return fmt.Sprintf("+%s+%s+%s+%s+",
				strings.Repeat("-", c.config.NameWidth+2),
				strings.Repeat("-", c.config.PlatformWidth+2),
				strings.Repeat("-", c.config.StatusWidth+2),
				strings.Repeat("-", c.config.DetailWidth+2))
		},
		"verdict": func(passed bool) string {
			if passed {
				return "PASSED"
			}
			return "FAILED"
		},
		"policyName": func(r domain.PolicyGradeResult) string {
			if r.PolicyName != "" {
				return r.PolicyName
			}
			return r.PolicyID
		},
		"score": func(r domain.PolicyGradeResult) string {
			return fmt.Sprintf("%.2f%% (%d/%d checks failed)", r.ScorePercentage, r.ChecksFailed, r.ChecksTotal)
		},
		"hostName": func(v domain.HostComplianceView) string {
			if v.Hostname != "" {
				return v.Hostname
			}
			return v.HostID
		},
		"hostVerdict": func(v domain.HostComplianceView) string {
			switch {
			case v.AnyFailed:
				return "FAILED"
			case v.AllPassed:
				return "PASSED"
			}
			return "PARTIAL"
		},
		"hostDetail": func(v domain.HostComplianceView) string {
			detail := formatStatuses(v.Statuses)
			if v.ZeroTrust == nil {
				return detail
			}
			return detail + "  " + formatZeroTrust(*v.ZeroTrust)
		},
	}
}

const policiesTemplate = `{{range .}}
=== {{.Type.CLIName}}: {{.Summary.Passed}}/{{.Summary.Total}} passed, score {{printf "%.2f" .Summary.OverallScore}}% ===
{{separator}}
{{formatRow "Policy" "Platform" "Status" "Score"}}
{{separator}}
{{range .Results}}{{formatRow (policyName .) .Platform (verdict .Passed) (score .)}}
{{end}}{{separator}}
{{end}}`

const hostsTemplate = `
Hosts: {{.Summary.Total}}  all passed: {{.Summary.AllPassed}}  any failed: {{.Summary.AnyFailed}}  not graded: {{.Summary.NotGraded}}  no policy: {{.Summary.NoPolicyAssigned}}

{{separator}}
{{formatRow "Host" "Platform" "Status" "Policies"}}
{{separator}}
{{range .Hosts}}{{formatRow (hostName .) .Platform (hostVerdict .) (hostDetail .)}}
{{end}}{{separator}}
`

const runTemplate = `
Run {{.RunID}} finished in {{.Duration}}
Hosts processed: {{.HostsProcessed}}  policies graded: {{.PoliciesGraded}}  passed: {{.PoliciesPassed}}  failed: {{.PoliciesFailed}}
API calls: {{.APICalls}}  errors: {{.APIErrors}}  cache hits: {{.CacheHits}}
{{range .Reports}}Report: {{.}}
{{end}}{{range .ErrorMessages}}Error: {{.}}
{{end}}`

func (c *Reporter) Policies(sections []PolicySection) error {
	return c.execute("policies", policiesTemplate, sections)
}

func (c *Reporter) Hosts(section HostSection) error {
	return c.execute("hosts", hostsTemplate, section)
}

func (c *Reporter) Run(res *audit.Result) error {
	return c.execute("run", runTemplate, res)
}

func (c *Reporter) JSON(v any) error {
	enc := json.NewEncoder(c.writer)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func (c *Reporter) execute(name, tmpl string, data any) error {
	t, err := template.New(name).Funcs(c.funcs()).Parse(tmpl)
	if err != nil {
		return fmt.Errorf("failed to parse template: %w", err)
	}
	return t.Execute(c.writer, data)
}

func formatStatuses(statuses map[domain.PolicyType]domain.ComplianceStatus) string {
	parts := make([]string, 0, len(statuses))
	for t, s := range statuses {
		if s == domain.StatusPassed {
			continue
		}
		parts = append(parts, t.CLIName()+"="+string(s))
	}
	sort.Strings(parts)
	if len(parts) == 0 {
		return "-"
	}
	return strings.Join(parts, " ")
}

// formatZeroTrust renders "zta (sensor_config/os) overall".
func formatZeroTrust(a domain.ZeroTrustAssessment) string {
	return fmt.Sprintf("zta (%d/%d) %d", a.SensorConfig, a.OS, a.Overall)
}

func truncate(s string, width int) string {
	if len(s) <= width {
		return s
	}
	return s[:width-1] + "~"
}
