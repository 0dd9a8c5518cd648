package sentinel

import (
	"context"

	"github.com/samvad-hq/sentinel-go/pkg/httpclient"
)

type stubResponse struct {
	status int
	body   []byte
}

func (s stubResponse) Body() []byte    { return s.body }
func (s stubResponse) StatusCode() int { return s.status }

// recordingTransport captures the last request and replays a fixed response.
type recordingTransport struct {
	status  int
	body    []byte
	err     error
	method  string
	url     string
	headers map[string]string
	sent    []byte
}

func (r *recordingTransport) Get(ctx context.Context, url string, headers map[string]string) (httpclient.Response, error) {
	return r.Do(ctx, "GET", url, headers, nil)
}

func (r *recordingTransport) Do(_ context.Context, method, url string, headers map[string]string, body []byte) (httpclient.Response, error) {
	r.method, r.url, r.headers, r.sent = method, url, headers, body
	if r.err != nil {
		return nil, r.err
	}
	return stubResponse{status: r.status, body: r.body}, nil
}
