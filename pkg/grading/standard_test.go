package grading

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/cs-shadowbq/falcon-policy-scoring/pkg/models/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const preventionDoc = `policy_type: prevention
version: "2"
rules:
  - setting_id: CloudAntiMalware.detection
    comparison: numeric_min
    required: Moderate
    weight: 2
  - setting_id: ScriptBasedExecutionMonitoring
    comparison: boolean_equals
    required: true
    platform: Windows
  - setting_id: mode
    comparison: string_in_set
    required: [block, monitor]
`

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadStandard_ValidDocument(t *testing.T) {
	// Given
	path := writeFile(t, t.TempDir(), "prevention.yaml", preventionDoc)

	// When
	s, err := LoadStandard(path)

	// Then
	require.NoError(t, err)
	assert.Equal(t, domain.PolicyTypePrevention, s.PolicyType)
	assert.Equal(t, "2", s.Version)
	assert.Len(t, s.Checksum, 64)
	assert.Equal(t, 3, s.Len())

	windows := s.Rules("windows")
	require.Len(t, windows, 3)
	assert.Equal(t, "CloudAntiMalware.detection", windows[0].SettingID)
	assert.Equal(t, "moderate", windows[0].Required)
	assert.Equal(t, 2.0, windows[0].Weight)
	assert.Equal(t, ScaleMLSlider, windows[0].Scale)
	assert.Equal(t, 1.0, windows[1].Weight)
	assert.Equal(t, []string{"block", "monitor"}, windows[2].Required)

	assert.Len(t, s.Rules("Linux"), 2)
}

func TestLoadStandard_JSONDocument(t *testing.T) {
	path := writeFile(t, t.TempDir(), "firewall.json",
		`{"policy_type": "firewall", "rules": [{"setting_id": "enforce", "comparison": "boolean_equals", "required": true}]}`)

	s, err := LoadStandard(path)

	require.NoError(t, err)
	assert.Equal(t, domain.PolicyTypeFirewall, s.PolicyType)
	assert.Equal(t, true, s.Rules("")[0].Required)
}

func TestLoadStandard_Malformed(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"not yaml", "policy_type: [prevention"},
		{"unknown policy type", "policy_type: antivirus\nrules: []"},
		{"unknown comparison", "policy_type: prevention\nrules:\n  - setting_id: a\n    comparison: greater_than\n    required: 1"},
		{"empty setting id", "policy_type: prevention\nrules:\n  - comparison: presence"},
		{"negative weight", "policy_type: prevention\nrules:\n  - setting_id: a\n    comparison: presence\n    weight: -1"},
		{"unknown level", "policy_type: prevention\nrules:\n  - setting_id: a\n    comparison: numeric_min\n    required: paranoid"},
		{"boolean mismatch", "policy_type: prevention\nrules:\n  - setting_id: a\n    comparison: boolean_equals\n    required: sometimes"},
		{"duplicate", "policy_type: prevention\nrules:\n  - setting_id: a\n    comparison: presence\n  - setting_id: a\n    comparison: presence"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			path := writeFile(t, t.TempDir(), "prevention.yaml", tc.content)

			_, err := LoadStandard(path)

			var cfgErr *domain.ConfigError
			require.Error(t, err)
			assert.True(t, errors.As(err, &cfgErr), "expected ConfigError, got %T", err)
		})
	}
}

func TestLoadStandards(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "prevention.yaml", preventionDoc)
	writeFile(t, dir, "sensor-update.yml", "policy_type: sensor_update\nrules:\n  - setting_id: build\n    comparison: numeric_min\n    scale: n_level\n    required: n-1\n")

	t.Run("all present", func(t *testing.T) {
		standards, err := LoadStandards(dir, []domain.PolicyType{domain.PolicyTypePrevention, domain.PolicyTypeSensorUpdate})
		require.NoError(t, err)
		assert.Len(t, standards, 2)
		assert.Equal(t, ScaleNLevel, standards[domain.PolicyTypeSensorUpdate].Rules("")[0].Scale)
	})

	t.Run("missing document", func(t *testing.T) {
		_, err := LoadStandards(dir, []domain.PolicyType{domain.PolicyTypeFirewall})
		var cfgErr *domain.ConfigError
		assert.ErrorAs(t, err, &cfgErr)
	})

	t.Run("type mismatch", func(t *testing.T) {
		other := t.TempDir()
		writeFile(t, other, "firewall.yaml", "policy_type: prevention\nrules: []")
		_, err := LoadStandards(other, []domain.PolicyType{domain.PolicyTypeFirewall})
		var cfgErr *domain.ConfigError
		assert.ErrorAs(t, err, &cfgErr)
	})
}
