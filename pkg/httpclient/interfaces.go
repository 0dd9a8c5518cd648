package httpclient

import "context"

// Response is a minimal HTTP response contract.
type Response interface {
	Body() []byte
	StatusCode() int
}

// Client abstracts HTTP calls so callers can inject mocks or different transports.
// Implementations return an error only for transport failures; non-2xx statuses
// are reported through Response.StatusCode.
type Client interface {
	Get(ctx context.Context, url string, headers map[string]string) (Response, error)
	Do(ctx context.Context, method, url string, headers map[string]string, body []byte) (Response, error)
}

// IsSuccess reports whether the status code is in the 2xx range.
func IsSuccess(status int) bool {
	return status >= 200 && status <= 299
}
