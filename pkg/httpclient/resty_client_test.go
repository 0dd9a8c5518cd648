package httpclient

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestRestyClientDoSendsBodyAndHeaders(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}
		if got := r.Header.Get("X-Test"); got != "1" {
			t.Errorf("missing header, got %q", got)
		}
		body, _ := io.ReadAll(r.Body)
		if string(body) != `{"a":1}` {
			t.Errorf("unexpected body %q", body)
		}
		w.WriteHeader(http.StatusAccepted)
		_, _ = w.Write([]byte("ok"))
	}))
	defer srv.Close()

	client := NewRestyClient(2 * time.Second)
	resp, err := client.Do(context.Background(), http.MethodPost, srv.URL, map[string]string{"X-Test": "1"}, []byte(`{"a":1}`))
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	if resp.StatusCode() != http.StatusAccepted {
		t.Fatalf("status = %d", resp.StatusCode())
	}
	if string(resp.Body()) != "ok" {
		t.Fatalf("body = %q", resp.Body())
	}
}

func TestRestyClientDoesNotErrorOnNon2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "nope", http.StatusInternalServerError)
	}))
	defer srv.Close()

	resp, err := NewRestyClient(time.Second).Get(context.Background(), srv.URL, nil)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if resp.StatusCode() != http.StatusInternalServerError {
		t.Fatalf("status = %d", resp.StatusCode())
	}
}

func TestRestyClientTransportError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	url := srv.URL
	srv.Close()

	if _, err := NewRestyClient(time.Second).Get(context.Background(), url, nil); err == nil {
		t.Fatalf("expected transport error for closed server")
	}
}

func TestIsSuccess(t *testing.T) {
	cases := map[int]bool{199: false, 200: true, 204: true, 299: true, 300: false, 401: false}
	for code, want := range cases {
		if got := IsSuccess(code); got != want {
			t.Fatalf("IsSuccess(%d) = %v, want %v", code, got, want)
		}
	}
}
