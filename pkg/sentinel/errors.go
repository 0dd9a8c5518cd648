package sentinel

import (
	"errors"
	"fmt"
)

// Kind classifies a failure returned by the client.
type Kind int

const (
	// KindHTTP is a transport failure or an unexpected non-2xx status.
	KindHTTP Kind = iota + 1
	// KindJSON is a request that could not be encoded or a response body
	// that does not match the expected schema.
	KindJSON
	// KindAuthentication is a 401 from the service.
	KindAuthentication
	// KindThreatDetected is a successful analysis that flagged the prompt unsafe.
	KindThreatDetected
	// KindRateLimit is a 429 from the analyze endpoint.
	KindRateLimit
	// KindInvalidConfig is a rejected constructor argument.
	KindInvalidConfig
)

func (k Kind) String() string {
	switch k {
	case KindHTTP:
		return "http"
	case KindJSON:
		return "json"
	case KindAuthentication:
		return "authentication"
	case KindThreatDetected:
		return "threat_detected"
	case KindRateLimit:
		return "rate_limit"
	case KindInvalidConfig:
		return "invalid_config"
	default:
		return "unknown"
	}
}

// Sentinel values for errors.Is. They compare by Kind only.
var (
	ErrHTTP           = &Error{Kind: KindHTTP}
	ErrJSON           = &Error{Kind: KindJSON}
	ErrAuthentication = &Error{Kind: KindAuthentication}
	ErrThreatDetected = &Error{Kind: KindThreatDetected}
	ErrRateLimit      = &Error{Kind: KindRateLimit}
	ErrInvalidConfig  = &Error{Kind: KindInvalidConfig}
)

// Error is the single error type returned by Client methods.
type Error struct {
	Kind Kind
	// Op names the client operation, e.g. "analyze".
	Op string
	// StatusCode is the HTTP status when one was received.
	StatusCode int
	// Explanation is the service's explanation for KindThreatDetected, or a
	// short description for KindInvalidConfig.
	Explanation string
	// Analysis holds the parsed response for KindThreatDetected.
	Analysis *ThreatAnalysisResponse
	// Body is a truncated copy of an unexpected response body.
	Body string
	Err  error
}

func (e *Error) Error() string {
	var msg string
	switch e.Kind {
	case KindHTTP:
		switch {
		case e.Err != nil:
			msg = fmt.Sprintf("http request failed: %v", e.Err)
		case e.Body != "":
			msg = fmt.Sprintf("http request failed: status %d: %s", e.StatusCode, e.Body)
		default:
			msg = fmt.Sprintf("http request failed: status %d", e.StatusCode)
		}
	case KindJSON:
		msg = fmt.Sprintf("json serialization failed: %v", e.Err)
	case KindAuthentication:
		msg = "authentication failed"
	case KindThreatDetected:
		msg = fmt.Sprintf("threat detected: %s", e.Explanation)
	case KindRateLimit:
		msg = "rate limit exceeded"
	case KindInvalidConfig:
		msg = fmt.Sprintf("invalid configuration: %s", e.Explanation)
	default:
		msg = "unknown error"
	}
	if e.Op != "" {
		return "sentinel " + e.Op + ": " + msg
	}
	return "sentinel: " + msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error with the same Kind, which makes the Err* values usable
// with errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// KindOf returns the Kind of err, or 0 when err is not a *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return 0
}

// ThreatExplanation returns the explanation carried by a threat detection.
func ThreatExplanation(err error) (string, bool) {
	var e *Error
	if errors.As(err, &e) && e.Kind == KindThreatDetected {
		return e.Explanation, true
	}
	return "", false
}

func invalidConfig(msg string) error {
	return &Error{Kind: KindInvalidConfig, Op: "new", Explanation: msg}
}
