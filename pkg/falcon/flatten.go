package falcon

import (
	"strings"
	"time"

	"github.com/cs-shadowbq/falcon-policy-scoring/pkg/models/domain"
)

// flattenPolicy turns a combined-policy resource into a PolicyRecord.
//
//   - prevention_settings categories become one setting per id; sliders
//     split into <id>.detection and <id>.prevention and toggles into a bool
//   - a settings object is flattened to dotted keys, keeping every
//     intermediate object under its own key for presence rules
//   - the sensor build string adds a build_level in n_level terms
func flattenPolicy(policyType domain.PolicyType, raw map[string]any) domain.PolicyRecord {
	p := domain.PolicyRecord{
		ID:       stringField(raw, "id"),
		Name:     stringField(raw, "name"),
		Type:     policyType,
		Platform: stringField(raw, "platform_name"),
		Settings: map[string]any{},
	}
	if enabled, ok := raw["enabled"].(bool); ok {
		p.Enabled = enabled
		p.Settings["enabled"] = enabled
	}

	if categories, ok := raw["prevention_settings"].([]any); ok {
		for _, c := range categories {
			category, _ := c.(map[string]any)
			settings, _ := category["settings"].([]any)
			for _, s := range settings {
				flattenPreventionSetting(p.Settings, s)
			}
		}
	}

	if settings, ok := raw["settings"].(map[string]any); ok {
		flattenMap(p.Settings, "", settings)
		if build, ok := settings["build"].(string); ok {
			p.Settings["build_level"] = buildLevel(build)
		}
	}

	return p
}

// containerMetadata are container fields that describe the record rather
// than configure the firewall.
var containerMetadata = map[string]bool{
	"policy_id":   true,
	"created_by":  true,
	"created_on":  true,
	"modified_by": true,
	"modified_on": true,
	"tracking":    true,
}

// flattenContainer keeps every configuration field of a firewall policy
// container under its own key, with nested objects flattened to dotted keys.
func flattenContainer(raw map[string]any) domain.PolicyContainer {
	c := domain.PolicyContainer{
		PolicyID: stringField(raw, "policy_id"),
		Settings: map[string]any{},
	}
	for k, v := range raw {
		if containerMetadata[k] {
			continue
		}
		c.Settings[k] = v
		if nested, ok := v.(map[string]any); ok {
			flattenMap(c.Settings, k, nested)
		}
	}
	return c
}

// flattenAssessment keeps the scores of a zero trust assessment. Missing
// scores stay zero.
func flattenAssessment(raw map[string]any) domain.ZeroTrustAssessment {
	a := domain.ZeroTrustAssessment{DeviceID: stringField(raw, "aid")}
	if scores, ok := raw["assessment"].(map[string]any); ok {
		a.SensorConfig = intField(scores, "sensor_config")
		a.OS = intField(scores, "os")
		a.Overall = intField(scores, "overall")
		a.Version = stringField(scores, "version")
	}
	if ts := stringField(raw, "modified_time"); ts != "" {
		if t, err := time.Parse(time.RFC3339, ts); err == nil {
			a.ModifiedTime = t
		}
	}
	return a
}

func intField(m map[string]any, key string) int {
	if n, ok := m[key].(float64); ok {
		return int(n)
	}
	return 0
}

func flattenPreventionSetting(out map[string]any, s any) {
	setting, ok := s.(map[string]any)
	if !ok {
		return
	}
	id := stringField(setting, "id")
	if id == "" {
		return
	}

	value, ok := setting["value"].(map[string]any)
	if !ok {
		out[id] = setting["value"]
		return
	}

	detection, hasDetection := value["detection"]
	prevention, hasPrevention := value["prevention"]
	switch {
	case hasDetection || hasPrevention:
		if hasDetection {
			out[id+".detection"] = detection
		}
		if hasPrevention {
			out[id+".prevention"] = prevention
		}
	case len(value) == 1 && value["enabled"] != nil:
		out[id] = value["enabled"]
	default:
		out[id] = value
	}
}

func flattenMap(out map[string]any, prefix string, m map[string]any) {
	for k, v := range m {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		out[key] = v
		if nested, ok := v.(map[string]any); ok {
			flattenMap(out, key, nested)
		}
	}
}

// buildLevel maps a sensor build string such as "18110|n-1|tagged|5" to its
// tier. An empty build means auto updates are off; a build without a tier
// is pinned to a specific version.
func buildLevel(build string) string {
	build = strings.TrimSpace(build)
	if build == "" {
		return "disabled"
	}
	parts := strings.Split(build, "|")
	if len(parts) < 2 {
		return "pinned"
	}
	switch tier := strings.ToLower(parts[1]); tier {
	case "n", "n-1", "n-2":
		return tier
	default:
		return "other"
	}
}

func stringField(m map[string]any, key string) string {
	s, _ := m[key].(string)
	return s
}

// flattenHost reads a device resource. device_policies keys come with
// either underscores or dashes.
func flattenHost(raw map[string]any) domain.HostRecord {
	h := domain.HostRecord{
		DeviceID:    stringField(raw, "device_id"),
		Hostname:    stringField(raw, "hostname"),
		Platform:    stringField(raw, "platform_name"),
		ProductType: stringField(raw, "product_type_desc"),
		Policies:    map[domain.PolicyType]string{},
	}

	policies, _ := raw["device_policies"].(map[string]any)
	for key, v := range policies {
		t, err := domain.ParsePolicyType(key)
		if err != nil {
			continue
		}
		info, _ := v.(map[string]any)
		id := stringField(info, "policy_id")
		if id == "" {
			id = stringField(info, "policy")
		}
		if id != "" {
			h.Policies[t] = id
		}
	}
	return h
}
