package domain

import (
	"fmt"
	"strings"
)

type PolicyType string

const (
	PolicyTypePrevention    PolicyType = "prevention"
	PolicyTypeSensorUpdate  PolicyType = "sensor_update"
	PolicyTypeContentUpdate PolicyType = "content_update"
	PolicyTypeFirewall      PolicyType = "firewall"
	PolicyTypeDeviceControl PolicyType = "device_control"
	PolicyTypeITAutomation  PolicyType = "it_automation"
)

// PolicyTypes lists every supported type in report order.
var PolicyTypes = []PolicyType{
	PolicyTypePrevention,
	PolicyTypeSensorUpdate,
	PolicyTypeContentUpdate,
	PolicyTypeFirewall,
	PolicyTypeDeviceControl,
	PolicyTypeITAutomation,
}

// ParsePolicyType accepts both the storage form (sensor_update) and the
// command-line form (sensor-update).
func ParsePolicyType(name string) (PolicyType, error) {
	normalized := PolicyType(strings.ReplaceAll(strings.ToLower(strings.TrimSpace(name)), "-", "_"))
	for _, t := range PolicyTypes {
		if t == normalized {
			return t, nil
		}
	}
	return "", fmt.Errorf("unknown policy type %q", name)
}

func ParsePolicyTypes(names []string) ([]PolicyType, error) {
	types := make([]PolicyType, 0, len(names))
	seen := make(map[PolicyType]bool, len(names))
	for _, name := range names {
		t, err := ParsePolicyType(name)
		if err != nil {
			return nil, err
		}
		if seen[t] {
			continue
		}
		seen[t] = true
		types = append(types, t)
	}
	return types, nil
}

func (t PolicyType) CLIName() string {
	return strings.ReplaceAll(string(t), "_", "-")
}

// PolicyRecord is a policy as returned by the management API, with its
// settings flattened to setting id -> value.
type PolicyRecord struct {
	ID       string         `json:"id"`
	Name     string         `json:"name"`
	Type     PolicyType     `json:"policy_type"`
	Platform string         `json:"platform"`
	Enabled  bool           `json:"enabled"`
	Settings map[string]any `json:"settings"`
}

// Setting looks a setting up by id. A present key with a nil value counts as absent.
func (p PolicyRecord) Setting(id string) (any, bool) {
	v, ok := p.Settings[id]
	if !ok || v == nil {
		return nil, false
	}
	return v, true
}

// PolicyContainer holds the enforcement settings a firewall policy keeps
// outside the policy record itself (enforce, test_mode, default_inbound).
type PolicyContainer struct {
	PolicyID string         `json:"policy_id"`
	Settings map[string]any `json:"settings"`
}

// WithContainer returns a copy of p whose settings include the container's.
// Container values win on conflict.
func (p PolicyRecord) WithContainer(c PolicyContainer) PolicyRecord {
	settings := make(map[string]any, len(p.Settings)+len(c.Settings))
	for k, v := range p.Settings {
		settings[k] = v
	}
	for k, v := range c.Settings {
		settings[k] = v
	}
	p.Settings = settings
	return p
}

// HostRecord carries the fully inherited policy assignment of a device.
type HostRecord struct {
	DeviceID    string                `json:"device_id"`
	Hostname    string                `json:"hostname"`
	Platform    string                `json:"platform"`
	ProductType string                `json:"product_type"`
	Policies    map[PolicyType]string `json:"policies"`
}

// Snapshot is the consistent set of raw records a grading pass works on.
type Snapshot struct {
	Hosts     []HostRecord
	Policies  map[PolicyType][]PolicyRecord
	// ZeroTrust is keyed by device id; nil when assessments are not fetched.
	ZeroTrust map[string]ZeroTrustAssessment
}
