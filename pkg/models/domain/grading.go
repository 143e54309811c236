package domain

// Comparison is the closed set of rule kinds. ComparisonMissing only ever
// appears on results, never on rules.
type Comparison string

const (
	ComparisonNumericMin    Comparison = "numeric_min"
	ComparisonBooleanEquals Comparison = "boolean_equals"
	ComparisonStringInSet   Comparison = "string_in_set"
	ComparisonPresence      Comparison = "presence"
	ComparisonMissing       Comparison = "missing"
)

func (c Comparison) Valid() bool {
	switch c {
	case ComparisonNumericMin, ComparisonBooleanEquals, ComparisonStringInSet, ComparisonPresence:
		return true
	}
	return false
}

// GradingRule is immutable once loaded into a standard.
type GradingRule struct {
	SettingID  string
	Comparison Comparison
	// Required is normalised at load time: a level name or float64 for
	// numeric_min, bool for boolean_equals, []string for string_in_set and
	// nil for presence.
	Required any
	Weight   float64
	// Platform restricts the rule; empty applies to every platform.
	Platform string
	// Scale selects the ordinal table used by numeric_min.
	Scale string
}

type SettingCheckResult struct {
	SettingID  string     `json:"setting_id"`
	Passed     bool       `json:"passed"`
	Actual     any        `json:"actual"`
	Expected   any        `json:"expected"`
	Comparison Comparison `json:"comparison"`
}

type PolicyGradeResult struct {
	PolicyID        string               `json:"policy_id"`
	PolicyName      string               `json:"policy_name"`
	PolicyType      PolicyType           `json:"policy_type"`
	Platform        string               `json:"platform"`
	Passed          bool                 `json:"passed"`
	ChecksTotal     int                  `json:"checks_total"`
	ChecksFailed    int                  `json:"checks_failed"`
	ScorePercentage float64              `json:"score_percentage"`
	Checks          []SettingCheckResult `json:"checks"`
}

type ComplianceStatus string

const (
	StatusPassed           ComplianceStatus = "PASSED"
	StatusFailed           ComplianceStatus = "FAILED"
	StatusNotGraded        ComplianceStatus = "NOT_GRADED"
	StatusNoPolicyAssigned ComplianceStatus = "NO_POLICY_ASSIGNED"
)

// HostComplianceView is derived from grade results and assignments and is
// never stored on its own.
type HostComplianceView struct {
	HostID    string                          `json:"host_id"`
	Hostname  string                          `json:"hostname"`
	Platform  string                          `json:"platform"`
	Statuses  map[PolicyType]ComplianceStatus `json:"statuses"`
	AllPassed bool                            `json:"all_passed"`
	AnyFailed bool                            `json:"any_failed"`
	ZeroTrust *ZeroTrustAssessment            `json:"zero_trust,omitempty"`
}
