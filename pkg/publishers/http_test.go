package publishers

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/samvad-hq/sentinel-go/internal/domain"
)

// recordingLogger keeps every entry for assertions.
type recordingLogger struct {
	mu      sync.Mutex
	entries []logEntry
}

type logEntry struct {
	level, msg, key string
	obj             any
}

func (r *recordingLogger) add(level, msg, key string, obj any) {
	r.mu.Lock()
	r.entries = append(r.entries, logEntry{level: level, msg: msg, key: key, obj: obj})
	r.mu.Unlock()
}

func (r *recordingLogger) InfoObj(msg, key string, obj interface{})  { r.add("info", msg, key, obj) }
func (r *recordingLogger) DebugObj(msg, key string, obj interface{}) { r.add("debug", msg, key, obj) }
func (r *recordingLogger) WarnObj(msg, key string, obj interface{})  { r.add("warn", msg, key, obj) }
func (r *recordingLogger) ErrorObj(msg, key string, obj interface{}) { r.add("error", msg, key, obj) }

func (r *recordingLogger) find(key string) (logEntry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.entries {
		if e.key == key {
			return e, true
		}
	}
	return logEntry{}, false
}

func TestWebhookPublisherSendsAlertJSON(t *testing.T) {
	var (
		gotMethod, gotHeader, gotType string
		gotBody                       map[string]any
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotHeader = r.Header.Get("X-Source")
		gotType = r.Header.Get("Content-Type")
		raw, _ := io.ReadAll(r.Body)
		if err := json.Unmarshal(raw, &gotBody); err != nil {
			t.Errorf("decode body %q: %v", raw, err)
		}
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	rec := &recordingLogger{}
	pub, err := newHTTPPublisher(context.Background(), PublisherConfig{
		ID:   "compliance-hook",
		Type: TypeHTTP,
		HTTP: &HTTPPublisherConfig{
			URL:            srv.URL,
			Method:         http.MethodPut,
			Headers:        map[string]string{"X-Source": "sentinel-scanner"},
			TimeoutSeconds: 2,
		},
	}, rec)
	if err != nil {
		t.Fatalf("newHTTPPublisher: %v", err)
	}

	evt := NewEvent(EventPolicyViolation, domain.Verdict{
		ItemID: "signup-form",
		Kind:   domain.KindPolicy,
		Score:  0.3,
		Violations: []domain.Violation{
			{RuleID: "pii-email", Severity: "high", Description: "email address", Suggestion: "redact"},
		},
	})
	if err := pub.Publish(context.Background(), evt); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	if gotMethod != http.MethodPut {
		t.Fatalf("method = %s, want PUT", gotMethod)
	}
	if gotHeader != "sentinel-scanner" {
		t.Fatalf("configured header missing, got %q", gotHeader)
	}
	if gotType != "application/json" {
		t.Fatalf("Content-Type = %q", gotType)
	}
	if gotBody["type"] != EventPolicyViolation || gotBody["item_id"] != "signup-form" {
		t.Fatalf("unexpected alert envelope %v", gotBody)
	}
	verdict, _ := gotBody["verdict"].(map[string]any)
	violations, _ := verdict["violations"].([]any)
	if len(violations) != 1 {
		t.Fatalf("verdict.violations = %v", verdict["violations"])
	}
	if v, _ := violations[0].(map[string]any); v["rule_id"] != "pii-email" {
		t.Fatalf("violation = %v", violations[0])
	}

	entry, ok := rec.find("publisher_http_delivery")
	if !ok || entry.level != "debug" {
		t.Fatalf("delivery not logged: %+v", rec.entries)
	}
	fields, _ := entry.obj.(map[string]any)
	if fields["publisher_id"] != "compliance-hook" || fields["status"] != http.StatusAccepted {
		t.Fatalf("delivery fields = %v", fields)
	}
}

func TestWebhookPublisherHeaderOverridesContentType(t *testing.T) {
	var gotType string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotType = r.Header.Get("Content-Type")
	}))
	defer srv.Close()

	pub, err := newHTTPPublisher(context.Background(), PublisherConfig{
		ID:   "hook",
		Type: TypeHTTP,
		HTTP: &HTTPPublisherConfig{
			URL:     srv.URL,
			Method:  http.MethodPost,
			Headers: map[string]string{"Content-Type": "application/cloudevents+json"},
		},
	}, nil)
	if err != nil {
		t.Fatalf("newHTTPPublisher: %v", err)
	}
	if err := pub.Publish(context.Background(), Event{Type: EventThreatDetected}); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if gotType != "application/cloudevents+json" {
		t.Fatalf("Content-Type = %q", gotType)
	}
}

func TestWebhookPublisherRejectsNon2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "quota exceeded", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	rec := &recordingLogger{}
	pub, err := newHTTPPublisher(context.Background(), PublisherConfig{
		ID:   "hook",
		Type: TypeHTTP,
		HTTP: &HTTPPublisherConfig{URL: srv.URL, Method: http.MethodPost, TimeoutSeconds: 1},
	}, rec)
	if err != nil {
		t.Fatalf("newHTTPPublisher: %v", err)
	}

	err = pub.Publish(context.Background(), Event{ItemID: "x"})
	if err == nil || !strings.Contains(err.Error(), "429") || !strings.Contains(err.Error(), "quota exceeded") {
		t.Fatalf("expected status error with body, got %v", err)
	}
	if _, ok := rec.find("publisher_http_delivery"); ok {
		t.Fatalf("failed delivery must not be logged as delivered")
	}
}

func TestWebhookPublisherRequiresConfig(t *testing.T) {
	if _, err := newHTTPPublisher(context.Background(), PublisherConfig{ID: "hook", Type: TypeHTTP}, nil); err == nil {
		t.Fatalf("expected error without http block")
	}
}
