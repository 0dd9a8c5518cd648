package sentinel

import (
	"encoding/json"
	"fmt"
)

// Open-ended maps (Context, Metadata) hold decoded JSON values: nil, bool,
// float64, string, []any or map[string]any. A nil map is absent on the wire;
// a non-nil empty map is sent as {}.

// ThreatAnalysisRequest is the body of POST /api/v1/analyze.
type ThreatAnalysisRequest struct {
	Prompt    string         `json:"prompt"`
	UserID    *string        `json:"user_id,omitempty"`
	SessionID *string        `json:"session_id,omitempty"`
	Context   map[string]any `json:"context,omitzero"`
}

// ThreatAnalysisResponse is the verdict returned by the analyze endpoint.
type ThreatAnalysisResponse struct {
	ThreatScore     float64  `json:"threat_score"`
	IsSafe          bool     `json:"is_safe"`
	ThreatType      *string  `json:"threat_type,omitempty"`
	Confidence      float64  `json:"confidence"`
	Explanation     string   `json:"explanation"`
	Recommendations []string `json:"recommendations"`
	RequestID       string   `json:"request_id"`
}

// PolicyValidationRequest is the body of POST /api/v1/policy/validate.
type PolicyValidationRequest struct {
	Content    string         `json:"content"`
	PolicyType string         `json:"policy_type"`
	Metadata   map[string]any `json:"metadata,omitzero"`
}

// PolicyValidationResponse reports compliance of content against a policy.
type PolicyValidationResponse struct {
	IsCompliant     bool              `json:"is_compliant"`
	Violations      []PolicyViolation `json:"violations"`
	Score           float64           `json:"score"`
	Recommendations []string          `json:"recommendations"`
}

// PolicyViolation is a single rule broken by validated content.
type PolicyViolation struct {
	RuleID      string `json:"rule_id"`
	Severity    string `json:"severity"`
	Description string `json:"description"`
	Suggestion  string `json:"suggestion"`
}

// VersionInfo describes the deployed service build.
type VersionInfo struct {
	Version string `json:"version"`
	Commit  string `json:"commit,omitempty"`
	Build   string `json:"build,omitempty"`
}

// String returns a pointer to s, for optional request fields.
func String(s string) *string { return &s }

// UnmarshalJSON rejects bodies missing any required field.
func (r *ThreatAnalysisResponse) UnmarshalJSON(data []byte) error {
	var wire struct {
		ThreatScore     *float64  `json:"threat_score"`
		IsSafe          *bool     `json:"is_safe"`
		ThreatType      *string   `json:"threat_type"`
		Confidence      *float64  `json:"confidence"`
		Explanation     *string   `json:"explanation"`
		Recommendations *[]string `json:"recommendations"`
		RequestID       *string   `json:"request_id"`
	}
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	if err := requireFields(
		field{"threat_score", wire.ThreatScore != nil},
		field{"is_safe", wire.IsSafe != nil},
		field{"confidence", wire.Confidence != nil},
		field{"explanation", wire.Explanation != nil},
		field{"recommendations", wire.Recommendations != nil},
		field{"request_id", wire.RequestID != nil},
	); err != nil {
		return err
	}
	*r = ThreatAnalysisResponse{
		ThreatScore:     *wire.ThreatScore,
		IsSafe:          *wire.IsSafe,
		ThreatType:      wire.ThreatType,
		Confidence:      *wire.Confidence,
		Explanation:     *wire.Explanation,
		Recommendations: *wire.Recommendations,
		RequestID:       *wire.RequestID,
	}
	return nil
}

// UnmarshalJSON rejects bodies missing any required field.
func (r *PolicyValidationResponse) UnmarshalJSON(data []byte) error {
	var wire struct {
		IsCompliant     *bool              `json:"is_compliant"`
		Violations      *[]PolicyViolation `json:"violations"`
		Score           *float64           `json:"score"`
		Recommendations *[]string          `json:"recommendations"`
	}
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	if err := requireFields(
		field{"is_compliant", wire.IsCompliant != nil},
		field{"violations", wire.Violations != nil},
		field{"score", wire.Score != nil},
		field{"recommendations", wire.Recommendations != nil},
	); err != nil {
		return err
	}
	*r = PolicyValidationResponse{
		IsCompliant:     *wire.IsCompliant,
		Violations:      *wire.Violations,
		Score:           *wire.Score,
		Recommendations: *wire.Recommendations,
	}
	return nil
}

// UnmarshalJSON rejects violations missing any field.
func (v *PolicyViolation) UnmarshalJSON(data []byte) error {
	var wire struct {
		RuleID      *string `json:"rule_id"`
		Severity    *string `json:"severity"`
		Description *string `json:"description"`
		Suggestion  *string `json:"suggestion"`
	}
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	if err := requireFields(
		field{"rule_id", wire.RuleID != nil},
		field{"severity", wire.Severity != nil},
		field{"description", wire.Description != nil},
		field{"suggestion", wire.Suggestion != nil},
	); err != nil {
		return err
	}
	*v = PolicyViolation{
		RuleID:      *wire.RuleID,
		Severity:    *wire.Severity,
		Description: *wire.Description,
		Suggestion:  *wire.Suggestion,
	}
	return nil
}

type field struct {
	name    string
	present bool
}

func requireFields(fields ...field) error {
	for _, f := range fields {
		if !f.present {
			return fmt.Errorf("missing field %q", f.name)
		}
	}
	return nil
}
