// Package sentinel is a Go client for the Sentinel security-analysis service.
//
// A Client issues one HTTP round trip per call and keeps no per-call state, so
// a single Client may be shared across goroutines:
//
//	client, err := sentinel.New("https://api.sentinel.example.com", os.Getenv("SENTINEL_API_KEY"))
//	if err != nil {
//		log.Fatal(err)
//	}
//
//	analysis, err := client.AnalyzeThreat(ctx, sentinel.ThreatAnalysisRequest{Prompt: prompt})
//	switch {
//	case errors.Is(err, sentinel.ErrThreatDetected):
//		// the prompt was flagged; analysis is nil, details are on *sentinel.Error
//	case err != nil:
//		// transport, auth, rate limit or decoding failure
//	}
//
// AnalyzeThreat reports an unsafe prompt as an error, so a detection cannot be
// dropped by forgetting to check a flag. ValidatePolicy returns non-compliance
// as ordinary data.
//
// ChatCompletion sends an OpenAI-style conversation through the gateway's
// guarded endpoint; it needs a tenant from WithTenant or the request.
//
// The client never logs and never retries. Every failure is returned as a
// *Error whose Kind says what went wrong; match kinds with errors.Is against
// ErrHTTP, ErrJSON, ErrAuthentication, ErrThreatDetected, ErrRateLimit and
// ErrInvalidConfig.
package sentinel
