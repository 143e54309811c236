package grading

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/cs-shadowbq/falcon-policy-scoring/pkg/models/domain"
	"gopkg.in/yaml.v3"
)

// Standard is the ordered rule set for one policy type. It is loaded once
// per grading run and never mutated afterwards.
type Standard struct {
	PolicyType domain.PolicyType
	Version    string
	Checksum   string
	rules      []domain.GradingRule
}

type ruleDocument struct {
	PolicyType string      `yaml:"policy_type"`
	Version    string      `yaml:"version"`
	Rules      []ruleEntry `yaml:"rules"`
}

type ruleEntry struct {
	SettingID  string   `yaml:"setting_id"`
	Comparison string   `yaml:"comparison"`
	Required   any      `yaml:"required"`
	Weight     *float64 `yaml:"weight"`
	Platform   string   `yaml:"platform"`
	Scale      string   `yaml:"scale"`
}

var standardExtensions = []string{".yaml", ".yml", ".json"}

// NewStandard validates and normalises rules. The slice is copied.
func NewStandard(policyType domain.PolicyType, rules []domain.GradingRule) (*Standard, error) {
	normalized := make([]domain.GradingRule, 0, len(rules))
	seen := make(map[string]bool, len(rules))

	for i, rule := range rules {
		r, err := normalizeRule(rule)
		if err != nil {
			return nil, fmt.Errorf("rule %d (%s): %w", i, rule.SettingID, err)
		}

		key := r.SettingID + "\x00" + strings.ToLower(r.Platform)
		if seen[key] {
			return nil, fmt.Errorf("rule %d: duplicate setting %q for platform %q", i, r.SettingID, r.Platform)
		}
		seen[key] = true
		normalized = append(normalized, r)
	}

	return &Standard{PolicyType: policyType, rules: normalized}, nil
}

// ParseStandard decodes a YAML or JSON rule document.
func ParseStandard(data []byte) (*Standard, error) {
	var doc ruleDocument
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse grading document: %w", err)
	}

	policyType, err := domain.ParsePolicyType(doc.PolicyType)
	if err != nil {
		return nil, err
	}

	rules := make([]domain.GradingRule, 0, len(doc.Rules))
	for i, entry := range doc.Rules {
		weight := 1.0
		if entry.Weight != nil {
			weight = *entry.Weight
		}
		comparison := domain.Comparison(strings.ToLower(strings.TrimSpace(entry.Comparison)))
		if !comparison.Valid() {
			return nil, fmt.Errorf("rule %d (%s): unknown comparison %q", i, entry.SettingID, entry.Comparison)
		}
		rules = append(rules, domain.GradingRule{
			SettingID:  strings.TrimSpace(entry.SettingID),
			Comparison: comparison,
			Required:   entry.Required,
			Weight:     weight,
			Platform:   strings.TrimSpace(entry.Platform),
			Scale:      strings.ToLower(strings.TrimSpace(entry.Scale)),
		})
	}

	standard, err := NewStandard(policyType, rules)
	if err != nil {
		return nil, err
	}

	sum := sha256.Sum256(data)
	standard.Version = doc.Version
	standard.Checksum = hex.EncodeToString(sum[:])
	return standard, nil
}

// LoadStandard reads one rule document. Any problem is a ConfigError.
func LoadStandard(path string) (*Standard, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &domain.ConfigError{Source: path, Err: err}
	}

	standard, err := ParseStandard(data)
	if err != nil {
		return nil, &domain.ConfigError{Source: path, Err: err}
	}
	return standard, nil
}

// LoadStandards loads <dir>/<policy_type>.{yaml,yml,json} for every
// requested type. A type without a document is a ConfigError.
func LoadStandards(dir string, types []domain.PolicyType) (map[domain.PolicyType]*Standard, error) {
	standards := make(map[domain.PolicyType]*Standard, len(types))

	for _, t := range types {
		path, err := findStandardFile(dir, t)
		if err != nil {
			return nil, err
		}

		standard, err := LoadStandard(path)
		if err != nil {
			return nil, err
		}
		if standard.PolicyType != t {
			return nil, domain.NewConfigError(path, "document declares policy type %q, expected %q", standard.PolicyType, t)
		}
		standards[t] = standard
	}

	return standards, nil
}

func findStandardFile(dir string, t domain.PolicyType) (string, error) {
	for _, name := range []string{string(t), t.CLIName()} {
		for _, ext := range standardExtensions {
			path := filepath.Join(dir, name+ext)
			_, err := os.Stat(path)
			if err == nil {
				return path, nil
			}
			if !errors.Is(err, os.ErrNotExist) {
				return "", &domain.ConfigError{Source: path, Err: err}
			}
		}
	}
	return "", domain.NewConfigError(dir, "no grading document for policy type %q", t)
}

// Rules returns the rules that apply to platform, in document order.
func (s *Standard) Rules(platform string) []domain.GradingRule {
	if s == nil {
		return nil
	}

	rules := make([]domain.GradingRule, 0, len(s.rules))
	for _, r := range s.rules {
		if r.Platform == "" || strings.EqualFold(r.Platform, platform) {
			rules = append(rules, r)
		}
	}
	return rules
}

func (s *Standard) Len() int {
	if s == nil {
		return 0
	}
	return len(s.rules)
}

func normalizeRule(rule domain.GradingRule) (domain.GradingRule, error) {
	if rule.SettingID == "" {
		return rule, errors.New("setting_id is required")
	}
	if rule.Weight < 0 {
		return rule, fmt.Errorf("weight must not be negative, got %v", rule.Weight)
	}

	switch rule.Comparison {
	case domain.ComparisonNumericMin:
		if rule.Scale == "" {
			rule.Scale = ScaleMLSlider
		}
		if _, ok := scales[rule.Scale]; !ok {
			return rule, fmt.Errorf("unknown scale %q", rule.Scale)
		}
		if n, ok := toFloat(rule.Required); ok {
			rule.Required = n
			return rule, nil
		}
		level, ok := rule.Required.(string)
		if !ok {
			return rule, fmt.Errorf("numeric_min requires a level name or number, got %T", rule.Required)
		}
		level = normalizeLevel(level)
		if _, ok := scales[rule.Scale][level]; !ok {
			return rule, fmt.Errorf("unknown level %q for scale %s", level, rule.Scale)
		}
		rule.Required = level

	case domain.ComparisonBooleanEquals:
		b, ok := toBool(rule.Required)
		if !ok {
			return rule, fmt.Errorf("boolean_equals requires a boolean, got %v", rule.Required)
		}
		rule.Required = b

	case domain.ComparisonStringInSet:
		set, err := toStringSet(rule.Required)
		if err != nil {
			return rule, err
		}
		rule.Required = set

	case domain.ComparisonPresence:
		rule.Required = nil

	default:
		return rule, fmt.Errorf("unknown comparison %q", rule.Comparison)
	}

	return rule, nil
}

func toStringSet(v any) ([]string, error) {
	switch val := v.(type) {
	case string:
		return []string{val}, nil
	case []string:
		if len(val) == 0 {
			return nil, errors.New("string_in_set requires at least one value")
		}
		return append([]string{}, val...), nil
	case []any:
		set := make([]string, 0, len(val))
		for _, item := range val {
			s, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("string_in_set values must be strings, got %T", item)
			}
			set = append(set, s)
		}
		if len(set) == 0 {
			return nil, errors.New("string_in_set requires at least one value")
		}
		return set, nil
	default:
		return nil, fmt.Errorf("string_in_set requires a string or a list of strings, got %T", v)
	}
}
