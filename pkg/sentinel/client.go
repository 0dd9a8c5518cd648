package sentinel

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/samvad-hq/sentinel-go/pkg/httpclient"
)

const (
	// Version is the SDK release reported in the default User-Agent.
	Version = "0.1.0"

	defaultTimeout   = 30 * time.Second
	defaultUserAgent = "sentinel-go-sdk/" + Version

	analyzePath  = "/api/v1/analyze"
	validatePath = "/api/v1/policy/validate"
	healthPath   = "/health"
	versionPath  = "/version"

	maxErrorBodyBytes = 512
)

// Client talks to a Sentinel deployment. It is safe for concurrent use.
type Client struct {
	baseURL   string
	apiKey    string
	userAgent string
	timeout   time.Duration
	tenant    string
	http      httpclient.Client
}

// New builds a Client for baseURL authenticated with apiKey.
// An empty apiKey is rejected before baseURL is looked at.
func New(baseURL, apiKey string, opts ...Option) (*Client, error) {
	if apiKey == "" {
		return nil, invalidConfig("API key cannot be empty")
	}
	base, err := normalizeBaseURL(baseURL)
	if err != nil {
		return nil, err
	}

	c := &Client{
		baseURL:   base,
		apiKey:    apiKey,
		userAgent: defaultUserAgent,
		timeout:   defaultTimeout,
	}
	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, err
		}
	}
	if c.http == nil {
		c.http = httpclient.NewRestyClient(c.timeout)
	}
	return c, nil
}

// BaseURL returns the normalized service root.
func (c *Client) BaseURL() string { return c.baseURL }

// AnalyzeThreat classifies a prompt. A prompt judged unsafe is returned as a
// KindThreatDetected error carrying the explanation and the full analysis.
func (c *Client) AnalyzeThreat(ctx context.Context, req ThreatAnalysisRequest) (*ThreatAnalysisResponse, error) {
	const op = "analyze"

	resp, err := c.post(ctx, op, analyzePath, req)
	if err != nil {
		return nil, err
	}
	switch status := resp.StatusCode(); {
	case status == http.StatusUnauthorized:
		return nil, &Error{Kind: KindAuthentication, Op: op, StatusCode: status}
	case status == http.StatusTooManyRequests:
		return nil, &Error{Kind: KindRateLimit, Op: op, StatusCode: status}
	case !httpclient.IsSuccess(status):
		return nil, unexpectedStatus(op, resp)
	}

	var analysis ThreatAnalysisResponse
	if err := decode(op, resp, &analysis); err != nil {
		return nil, err
	}
	if !analysis.IsSafe {
		return nil, &Error{
			Kind:        KindThreatDetected,
			Op:          op,
			StatusCode:  resp.StatusCode(),
			Explanation: analysis.Explanation,
			Analysis:    &analysis,
		}
	}
	return &analysis, nil
}

// ValidatePolicy checks content against a named policy. Non-compliance is
// reported in the response, not as an error.
func (c *Client) ValidatePolicy(ctx context.Context, req PolicyValidationRequest) (*PolicyValidationResponse, error) {
	const op = "validate_policy"

	resp, err := c.post(ctx, op, validatePath, req)
	if err != nil {
		return nil, err
	}
	switch status := resp.StatusCode(); {
	case status == http.StatusUnauthorized:
		return nil, &Error{Kind: KindAuthentication, Op: op, StatusCode: status}
	case !httpclient.IsSuccess(status):
		return nil, unexpectedStatus(op, resp)
	}

	var result PolicyValidationResponse
	if err := decode(op, resp, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// HealthCheck reports whether GET /health answered with a 2xx status.
// Only transport failures produce an error.
func (c *Client) HealthCheck(ctx context.Context) (bool, error) {
	const op = "health"

	resp, err := c.http.Get(ctx, c.baseURL+healthPath, c.headers(false))
	if err != nil {
		return false, &Error{Kind: KindHTTP, Op: op, Err: err}
	}
	return httpclient.IsSuccess(resp.StatusCode()), nil
}

// Version fetches build information from GET /version.
func (c *Client) Version(ctx context.Context) (*VersionInfo, error) {
	const op = "version"

	resp, err := c.http.Get(ctx, c.baseURL+versionPath, c.headers(false))
	if err != nil {
		return nil, &Error{Kind: KindHTTP, Op: op, Err: err}
	}
	if !httpclient.IsSuccess(resp.StatusCode()) {
		return nil, unexpectedStatus(op, resp)
	}
	var info VersionInfo
	if err := decode(op, resp, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

func (c *Client) post(ctx context.Context, op, path string, payload any) (httpclient.Response, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, &Error{Kind: KindJSON, Op: op, Err: err}
	}
	resp, err := c.http.Do(ctx, http.MethodPost, c.baseURL+path, c.headers(true), body)
	if err != nil {
		return nil, &Error{Kind: KindHTTP, Op: op, Err: err}
	}
	return resp, nil
}

func (c *Client) headers(authenticated bool) map[string]string {
	h := map[string]string{
		"Accept":     "application/json",
		"User-Agent": c.userAgent,
	}
	if authenticated {
		h["Authorization"] = "Bearer " + c.apiKey
		h["Content-Type"] = "application/json"
	}
	return h
}

func decode(op string, resp httpclient.Response, out any) error {
	if err := json.Unmarshal(resp.Body(), out); err != nil {
		return &Error{Kind: KindJSON, Op: op, StatusCode: resp.StatusCode(), Err: err}
	}
	return nil
}

func unexpectedStatus(op string, resp httpclient.Response) error {
	return &Error{
		Kind:       KindHTTP,
		Op:         op,
		StatusCode: resp.StatusCode(),
		Body:       bodySnippet(resp.Body()),
	}
}

func bodySnippet(body []byte) string {
	if len(body) > maxErrorBodyBytes {
		body = body[:maxErrorBodyBytes]
	}
	return strings.TrimSpace(string(body))
}

func normalizeBaseURL(raw string) (string, error) {
	trimmed := strings.TrimRight(strings.TrimSpace(raw), "/")
	if trimmed == "" {
		return "", invalidConfig("base URL cannot be empty")
	}
	if _, err := url.Parse(trimmed); err != nil {
		return "", invalidConfig("base URL is not a valid URL: " + err.Error())
	}
	return trimmed, nil
}
