package publishers

import (
	"time"

	"github.com/samvad-hq/sentinel-go/internal/domain"
)

// Alert types.
const (
	EventThreatDetected  = "threat_detected"
	EventPolicyViolation = "policy_violation"
)

// Event represents the alert payload published downstream.
type Event struct {
	Type       string         `json:"type"`
	ItemID     string         `json:"item_id"`
	Verdict    domain.Verdict `json:"verdict"`
	DetectedAt time.Time      `json:"detected_at"`
}

// NewEvent constructs an alert Event for the given verdict.
func NewEvent(typ string, verdict domain.Verdict) Event {
	return Event{
		Type:       typ,
		ItemID:     verdict.ItemID,
		Verdict:    verdict,
		DetectedAt: time.Now().UTC(),
	}
}

// attributes are the routing attributes attached to queue/topic messages.
func (e Event) attributes() map[string]string {
	return map[string]string{
		"event_type": e.Type,
		"item_id":    e.ItemID,
	}
}
