package scanner

import (
	"context"

	"github.com/samvad-hq/sentinel-go/internal/domain"
	"github.com/samvad-hq/sentinel-go/pkg/publishers"
	"github.com/samvad-hq/sentinel-go/pkg/sentinel"
)

// SentinelAPI is the subset of the SDK client the scanner calls.
type SentinelAPI interface {
	AnalyzeThreat(ctx context.Context, req sentinel.ThreatAnalysisRequest) (*sentinel.ThreatAnalysisResponse, error)
	ValidatePolicy(ctx context.Context, req sentinel.PolicyValidationRequest) (*sentinel.PolicyValidationResponse, error)
}

// VerdictStore caches verdicts by content key.
type VerdictStore interface {
	LookupVerdict(key string) (domain.Verdict, bool, error)
	SaveVerdict(key string, v domain.Verdict) error
}

// AlertPublisher delivers alerts downstream. It returns the number of sinks
// that accepted the event.
type AlertPublisher interface {
	Publish(ctx context.Context, evt publishers.Event) (int, error)
}

// TextExtractor resolves a page URL into plain text.
type TextExtractor interface {
	Extract(ctx context.Context, url string) (string, error)
}
