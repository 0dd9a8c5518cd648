package publishers

import (
	"context"
	"encoding/json"
	"fmt"
	"maps"
	"strings"
	"time"

	"github.com/samvad-hq/sentinel-go/pkg/httpclient"
)

// webhookPublisher posts alert JSON to an HTTP endpoint.
type webhookPublisher struct {
	id      string
	method  string
	url     string
	headers map[string]string
	client  httpclient.Client
	log     Logger
}

func newHTTPPublisher(_ context.Context, cfg PublisherConfig, log Logger) (Publisher, error) {
	if cfg.HTTP == nil {
		return nil, fmt.Errorf("publisher %q missing http configuration", cfg.ID)
	}

	headers := map[string]string{"Content-Type": "application/json"}
	maps.Copy(headers, cfg.HTTP.Headers)

	return &webhookPublisher{
		id:      cfg.ID,
		method:  cfg.HTTP.Method,
		url:     cfg.HTTP.URL,
		headers: headers,
		client:  httpclient.NewRestyClient(time.Duration(cfg.HTTP.TimeoutSeconds) * time.Second),
		log:     ensureLogger(log),
	}, nil
}

func (w *webhookPublisher) ID() string   { return w.id }
func (w *webhookPublisher) Type() string { return TypeHTTP }

// Publish sends the event as the request body. Any non-2xx reply is an error.
func (w *webhookPublisher) Publish(ctx context.Context, evt Event) error {
	payload, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	resp, err := w.client.Do(ctx, w.method, w.url, w.headers, payload)
	if err != nil {
		return fmt.Errorf("http request: %w", err)
	}
	if !httpclient.IsSuccess(resp.StatusCode()) {
		return fmt.Errorf("http response status %d: %s", resp.StatusCode(), bodySnippet(resp.Body()))
	}
	w.log.DebugObj("http publisher delivered event", "publisher_http_delivery", map[string]any{
		"publisher_id": w.id,
		"item_id":      evt.ItemID,
		"event_type":   evt.Type,
		"status":       resp.StatusCode(),
	})
	return nil
}

func bodySnippet(body []byte) string {
	const limit = 512
	if len(body) > limit {
		body = body[:limit]
	}
	return strings.TrimSpace(string(body))
}
