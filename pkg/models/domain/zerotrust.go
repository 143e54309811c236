package domain

import "time"

// ZeroTrustAssessment holds the zero trust scores of one device, each 0-100.
type ZeroTrustAssessment struct {
	DeviceID     string    `json:"aid"`
	SensorConfig int       `json:"sensor_config"`
	OS           int       `json:"os"`
	Overall      int       `json:"overall"`
	Version      string    `json:"version,omitempty"`
	ModifiedTime time.Time `json:"modified_time"`
}

// IndexAssessments keys assessments by device id.
func IndexAssessments(assessments []ZeroTrustAssessment) map[string]ZeroTrustAssessment {
	idx := make(map[string]ZeroTrustAssessment, len(assessments))
	for _, a := range assessments {
		idx[a.DeviceID] = a
	}
	return idx
}

// AttachZeroTrust sets the assessment of every view whose host has one.
func AttachZeroTrust(views []HostComplianceView, idx map[string]ZeroTrustAssessment) {
	for i := range views {
		if a, ok := idx[views[i].HostID]; ok {
			views[i].ZeroTrust = &a
		}
	}
}
