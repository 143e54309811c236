package grading

import (
	"encoding/json"
	"fmt"
	"math"
	"slices"
	"strconv"
	"strings"

	"github.com/cs-shadowbq/falcon-policy-scoring/pkg/models/domain"
)

const (
	ScaleMLSlider = "mlslider"
	ScaleNLevel   = "n_level"
)

var scales = map[string]map[string]float64{
	ScaleMLSlider: {
		"disabled":         0,
		"cautious":         1,
		"moderate":         2,
		"aggressive":       3,
		"extra_aggressive": 4,
	},
	// sensor build tiers, newest last
	ScaleNLevel: {
		"disabled": -1,
		"other":    0,
		"pinned":   1,
		"n-2":      2,
		"n-1":      3,
		"n":        4,
	},
}

// Grade evaluates a policy against the standard. It is pure: the same
// policy and standard always produce an identical result.
func Grade(policy domain.PolicyRecord, standard *Standard) domain.PolicyGradeResult {
	rules := standard.Rules(policy.Platform)

	result := domain.PolicyGradeResult{
		PolicyID:    policy.ID,
		PolicyName:  policy.Name,
		PolicyType:  policy.Type,
		Platform:    policy.Platform,
		ChecksTotal: len(rules),
		Checks:      make([]domain.SettingCheckResult, 0, len(rules)),
	}

	var totalWeight, passedWeight float64
	for _, rule := range rules {
		check := evaluate(rule, policy)
		result.Checks = append(result.Checks, check)

		totalWeight += rule.Weight
		if check.Passed {
			passedWeight += rule.Weight
		} else {
			result.ChecksFailed++
		}
	}

	result.Passed = result.ChecksFailed == 0
	result.ScorePercentage = score(passedWeight, totalWeight)
	return result
}

// GradeAll grades policies in input order.
func GradeAll(policies []domain.PolicyRecord, standard *Standard) []domain.PolicyGradeResult {
	results := make([]domain.PolicyGradeResult, 0, len(policies))
	for _, p := range policies {
		results = append(results, Grade(p, standard))
	}
	return results
}

func score(passed, total float64) float64 {
	if total <= 0 {
		return 100
	}
	return roundHalfEven(passed / total * 100)
}

func roundHalfEven(v float64) float64 {
	return math.RoundToEven(v*100) / 100
}

func evaluate(rule domain.GradingRule, policy domain.PolicyRecord) domain.SettingCheckResult {
	check := domain.SettingCheckResult{
		SettingID:  rule.SettingID,
		Expected:   expected(rule),
		Comparison: rule.Comparison,
	}

	actual, ok := policy.Setting(rule.SettingID)
	if !ok {
		check.Comparison = domain.ComparisonMissing
		return check
	}
	check.Actual = actual

	switch rule.Comparison {
	case domain.ComparisonNumericMin:
		passed, known := numericMin(rule, actual)
		check.Passed = passed
		if !known {
			check.Comparison = domain.ComparisonMissing
		}
	case domain.ComparisonBooleanEquals:
		b, ok := toBool(actual)
		check.Passed = ok && b == rule.Required.(bool)
	case domain.ComparisonStringInSet:
		check.Passed = stringInSet(rule.Required.([]string), actual)
	case domain.ComparisonPresence:
		check.Passed = present(actual)
	}

	return check
}

func expected(rule domain.GradingRule) any {
	if rule.Comparison == domain.ComparisonPresence {
		return true
	}
	return rule.Required
}

// numericMin reports whether actual ranks at or above the required level.
// known is false when actual is not a level of the rule's scale.
func numericMin(rule domain.GradingRule, actual any) (passed bool, known bool) {
	levels := scales[rule.Scale]

	required, ok := rule.Required.(float64)
	if !ok {
		required = levels[rule.Required.(string)]
	}

	rank, ok := toFloat(actual)
	if !ok {
		s, isString := actual.(string)
		if !isString {
			return false, false
		}
		rank, ok = levels[normalizeLevel(s)]
		if !ok {
			return false, false
		}
	}

	return rank >= required, true
}

func stringInSet(set []string, actual any) bool {
	var value string
	switch v := actual.(type) {
	case string:
		value = v
	case fmt.Stringer:
		value = v.String()
	default:
		value = fmt.Sprint(v)
	}
	return slices.Contains(set, value)
}

func present(actual any) bool {
	switch v := actual.(type) {
	case map[string]any:
		if len(v) == 0 {
			return false
		}
		if enabled, ok := v["enabled"]; ok {
			b, ok := toBool(enabled)
			return ok && b
		}
		return true
	case []any:
		return len(v) > 0
	case []string:
		return len(v) > 0
	case string:
		return strings.TrimSpace(v) != ""
	case bool:
		return v
	default:
		return actual != nil
	}
}

func normalizeLevel(level string) string {
	level = strings.ToLower(strings.TrimSpace(level))
	return strings.ReplaceAll(level, " ", "_")
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}

func toBool(v any) (bool, bool) {
	switch b := v.(type) {
	case bool:
		return b, true
	case string:
		parsed, err := strconv.ParseBool(strings.TrimSpace(b))
		return parsed, err == nil
	}
	if n, ok := toFloat(v); ok {
		switch n {
		case 0:
			return false, true
		case 1:
			return true, true
		}
	}
	return false, false
}
