package domain

import "time"

// Item kinds.
const (
	KindThreat = "threat"
	KindPolicy = "policy"
)

// ScanItem is a single unit of work for the scanner: a prompt to analyze or
// content to validate. Text is resolved from Prompt/Content or fetched from URL.
type ScanItem struct {
	ID         string
	Kind       string
	Text       string
	URL        string
	PolicyType string
	UserID     string
	SessionID  string
	Attributes map[string]any
}

// Verdict is the outcome recorded for a scanned item.
type Verdict struct {
	ItemID      string      `json:"item_id"`
	Kind        string      `json:"kind"`
	CacheKey    string      `json:"cache_key"`
	Safe        bool        `json:"safe"`
	Score       float64     `json:"score"`
	Confidence  float64     `json:"confidence,omitempty"`
	ThreatType  string      `json:"threat_type,omitempty"`
	Explanation string      `json:"explanation,omitempty"`
	RequestID   string      `json:"request_id,omitempty"`
	Violations  []Violation `json:"violations,omitempty"`
	CheckedAt   time.Time   `json:"checked_at"`
	Cached      bool        `json:"cached,omitempty"`
}

// Violation mirrors a policy rule broken by scanned content.
type Violation struct {
	RuleID      string `json:"rule_id"`
	Severity    string `json:"severity"`
	Description string `json:"description"`
	Suggestion  string `json:"suggestion"`
}
