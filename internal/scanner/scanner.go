package scanner

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"maps"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/samvad-hq/sentinel-go/internal/domain"
	"github.com/samvad-hq/sentinel-go/internal/logger"
	"github.com/samvad-hq/sentinel-go/pkg/publishers"
	"github.com/samvad-hq/sentinel-go/pkg/sentinel"
)

const (
	defaultMaxRetries     = 3
	defaultInitialBackoff = 500 * time.Millisecond
)

// Options tunes a Service. Zero values fall back to defaults; a nil Store,
// Publisher or Extractor disables caching, alerting or URL items.
type Options struct {
	Store     VerdictStore
	Publisher AlertPublisher
	Extractor TextExtractor
	Logger    logger.Logger

	// MaxRetries bounds retries of rate limited calls. Negative disables retry.
	MaxRetries     int
	InitialBackoff time.Duration
}

// Summary reports the outcome of a scan pass.
type Summary struct {
	Scanned      int              `json:"scanned"`
	Cached       int              `json:"cached"`
	Unsafe       int              `json:"unsafe"`
	NonCompliant int              `json:"non_compliant"`
	Failed       int              `json:"failed"`
	Verdicts     []domain.Verdict `json:"verdicts"`
}

// Service runs scan items through the Sentinel API one at a time.
type Service struct {
	api        SentinelAPI
	store      VerdictStore
	pub        AlertPublisher
	extractor  TextExtractor
	log        logger.Logger
	maxRetries int
	backoff    time.Duration
	now        func() time.Time
}

// NewService wires a scanner around the SDK client.
func NewService(api SentinelAPI, opts Options) *Service {
	retries := opts.MaxRetries
	if retries == 0 {
		retries = defaultMaxRetries
	}
	if retries < 0 {
		retries = 0
	}
	wait := opts.InitialBackoff
	if wait <= 0 {
		wait = defaultInitialBackoff
	}
	return &Service{
		api:        api,
		store:      opts.Store,
		pub:        opts.Publisher,
		extractor:  opts.Extractor,
		log:        logger.Ensure(opts.Logger),
		maxRetries: retries,
		backoff:    wait,
		now:        time.Now,
	}
}

// Run scans every item in order. Per-item failures are counted and joined
// into the returned error; the summary is always populated.
func (s *Service) Run(ctx context.Context, items []domain.ScanItem) (Summary, error) {
	if s == nil || s.api == nil {
		return Summary{}, errors.New("scanner service is not initialized")
	}
	if len(items) == 0 {
		return Summary{}, errors.New("no items configured for scanning")
	}

	var (
		sum  Summary
		errs []error
	)
	for _, item := range items {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}

		v, err := s.scanItem(ctx, item)
		if err != nil {
			sum.Failed++
			errs = append(errs, fmt.Errorf("item %s: %w", item.ID, err))
			s.log.ErrorObj("scan item failed", "scan_error", map[string]any{
				"item_id": item.ID,
				"kind":    item.Kind,
				"error":   err.Error(),
			})
			continue
		}

		sum.Scanned++
		sum.Verdicts = append(sum.Verdicts, v)
		if v.Cached {
			sum.Cached++
		}
		if !v.Safe {
			if v.Kind == domain.KindPolicy {
				sum.NonCompliant++
			} else {
				sum.Unsafe++
			}
		}
		if !v.Cached && !v.Safe {
			if err := s.alert(ctx, v); err != nil {
				errs = append(errs, fmt.Errorf("alert %s: %w", item.ID, err))
			}
		}
	}

	s.log.InfoObj("scan pass completed", "scan_summary", map[string]any{
		"scanned":       sum.Scanned,
		"cached":        sum.Cached,
		"unsafe":        sum.Unsafe,
		"non_compliant": sum.NonCompliant,
		"failed":        sum.Failed,
	})
	return sum, errors.Join(errs...)
}

func (s *Service) scanItem(ctx context.Context, item domain.ScanItem) (domain.Verdict, error) {
	text, err := s.resolveText(ctx, item)
	if err != nil {
		return domain.Verdict{}, err
	}

	key := CacheKey(item.Kind, item.PolicyType, text)
	if v, ok := s.lookup(key); ok {
		v.ItemID = item.ID
		v.Cached = true
		return v, nil
	}

	var v domain.Verdict
	switch item.Kind {
	case domain.KindThreat:
		v, err = s.analyze(ctx, item, text)
	case domain.KindPolicy:
		v, err = s.validate(ctx, item, text)
	default:
		err = fmt.Errorf("unsupported item kind %q", item.Kind)
	}
	if err != nil {
		return domain.Verdict{}, err
	}

	v.ItemID = item.ID
	v.Kind = item.Kind
	v.CacheKey = key
	v.CheckedAt = s.now().UTC()
	s.save(key, v)
	return v, nil
}

func (s *Service) resolveText(ctx context.Context, item domain.ScanItem) (string, error) {
	if item.Text != "" {
		return item.Text, nil
	}
	if item.URL == "" {
		return "", errors.New("item has no text or url")
	}
	if s.extractor == nil {
		return "", errors.New("url items require a page extractor")
	}
	text, err := s.extractor.Extract(ctx, item.URL)
	if err != nil {
		return "", fmt.Errorf("extract %s: %w", item.URL, err)
	}
	return text, nil
}

func (s *Service) analyze(ctx context.Context, item domain.ScanItem, text string) (domain.Verdict, error) {
	req := sentinel.ThreatAnalysisRequest{
		Prompt:    text,
		UserID:    optional(item.UserID),
		SessionID: optional(item.SessionID),
		Context:   withSource(item.Attributes, item.URL),
	}

	var resp *sentinel.ThreatAnalysisResponse
	err := s.retry(ctx, func() error {
		var err error
		resp, err = s.api.AnalyzeThreat(ctx, req)
		return err
	})

	var serr *sentinel.Error
	switch {
	case err == nil:
		return threatVerdict(resp), nil
	case errors.As(err, &serr) && serr.Kind == sentinel.KindThreatDetected:
		if serr.Analysis != nil {
			return threatVerdict(serr.Analysis), nil
		}
		return domain.Verdict{Safe: false, Explanation: serr.Explanation}, nil
	default:
		return domain.Verdict{}, err
	}
}

func (s *Service) validate(ctx context.Context, item domain.ScanItem, text string) (domain.Verdict, error) {
	req := sentinel.PolicyValidationRequest{
		Content:    text,
		PolicyType: item.PolicyType,
		Metadata:   withSource(item.Attributes, item.URL),
	}

	var resp *sentinel.PolicyValidationResponse
	err := s.retry(ctx, func() error {
		var err error
		resp, err = s.api.ValidatePolicy(ctx, req)
		return err
	})
	if err != nil {
		return domain.Verdict{}, err
	}
	return policyVerdict(resp), nil
}

// retry repeats op while it fails with a rate limit. A detected threat is a
// result, not a failure, and ends the loop.
func (s *Service) retry(ctx context.Context, op func() error) error {
	var last error
	operation := func() error {
		last = op()
		switch {
		case last == nil, errors.Is(last, sentinel.ErrThreatDetected):
			return nil
		case errors.Is(last, sentinel.ErrRateLimit):
			return last
		default:
			return backoff.Permanent(last)
		}
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.backoff
	b.MaxElapsedTime = 0
	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(s.maxRetries)), ctx)

	notify := func(err error, wait time.Duration) {
		s.log.WarnObj("sentinel rate limited, backing off", "rate_limit", map[string]any{
			"wait_ms": wait.Milliseconds(),
			"error":   err.Error(),
		})
	}
	if err := backoff.RetryNotify(operation, policy, notify); err != nil {
		return err
	}
	return last
}

func (s *Service) lookup(key string) (domain.Verdict, bool) {
	if s.store == nil {
		return domain.Verdict{}, false
	}
	v, ok, err := s.store.LookupVerdict(key)
	if err != nil {
		s.log.WarnObj("verdict cache lookup failed", "cache_error", map[string]any{
			"cache_key": key,
			"error":     err.Error(),
		})
		return domain.Verdict{}, false
	}
	return v, ok
}

func (s *Service) save(key string, v domain.Verdict) {
	if s.store == nil {
		return
	}
	if err := s.store.SaveVerdict(key, v); err != nil {
		s.log.WarnObj("verdict cache save failed", "cache_error", map[string]any{
			"cache_key": key,
			"error":     err.Error(),
		})
	}
}

func (s *Service) alert(ctx context.Context, v domain.Verdict) error {
	if s.pub == nil {
		return nil
	}
	typ := publishers.EventThreatDetected
	if v.Kind == domain.KindPolicy {
		typ = publishers.EventPolicyViolation
	}
	delivered, err := s.pub.Publish(ctx, publishers.NewEvent(typ, v))
	s.log.InfoObj("alert published", "alert_result", map[string]any{
		"item_id":   v.ItemID,
		"type":      typ,
		"delivered": delivered,
	})
	return err
}

// CacheKey identifies a verdict by what was sent for analysis.
func CacheKey(kind, policyType, text string) string {
	h := sha256.New()
	h.Write([]byte(kind))
	h.Write([]byte{0})
	h.Write([]byte(policyType))
	h.Write([]byte{0})
	h.Write([]byte(text))
	return hex.EncodeToString(h.Sum(nil))
}

func threatVerdict(r *sentinel.ThreatAnalysisResponse) domain.Verdict {
	v := domain.Verdict{
		Safe:        r.IsSafe,
		Score:       r.ThreatScore,
		Confidence:  r.Confidence,
		Explanation: r.Explanation,
		RequestID:   r.RequestID,
	}
	if r.ThreatType != nil {
		v.ThreatType = *r.ThreatType
	}
	return v
}

func policyVerdict(r *sentinel.PolicyValidationResponse) domain.Verdict {
	v := domain.Verdict{
		Safe:  r.IsCompliant,
		Score: r.Score,
	}
	for _, pv := range r.Violations {
		v.Violations = append(v.Violations, domain.Violation{
			RuleID:      pv.RuleID,
			Severity:    pv.Severity,
			Description: pv.Description,
			Suggestion:  pv.Suggestion,
		})
	}
	return v
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return sentinel.String(s)
}

// withSource returns attrs with the page URL recorded under "source_url".
// The caller's map is never mutated.
func withSource(attrs map[string]any, url string) map[string]any {
	if url == "" {
		return attrs
	}
	out := make(map[string]any, len(attrs)+1)
	maps.Copy(out, attrs)
	out["source_url"] = url
	return out
}
