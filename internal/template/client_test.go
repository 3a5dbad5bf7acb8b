package template

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
)

func fastBackOff() backoff.BackOff {
	return backoff.WithMaxRetries(backoff.NewConstantBackOff(time.Millisecond), 4)
}

func TestClientLoadSendsHeaders(t *testing.T) {
	var gotPath string
	var gotHeader http.Header
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotHeader = r.Header.Clone()
		_, _ = w.Write([]byte(`{"name":"Spring","steps":[{"title":"Only"}]}`))
	}))
	defer srv.Close()

	client := NewClient(srv.URL+"/api", "acme", WithAPIKey("secret"), WithBackOff(fastBackOff))
	tmpl, err := client.Load(context.Background(), "t1")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if gotPath != "/api/acme/templates/t1" {
		t.Fatalf("path = %s", gotPath)
	}
	if gotHeader.Get("Authorization") != "Token secret" || gotHeader.Get("Culture") != "en-US" {
		t.Fatalf("headers = %v", gotHeader)
	}
	if gotHeader.Get("Cache-Control") != "no-cache" || gotHeader.Get("Pragma") != "no-cache" {
		t.Fatalf("cache headers = %v", gotHeader)
	}
	if tmpl.ID != "t1" || len(tmpl.Steps) != 1 {
		t.Fatalf("template = %+v", tmpl)
	}
}

func TestClientRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			http.Error(w, "unavailable", http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"name":"Retry"}`))
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "acme", WithBackOff(fastBackOff))
	tmpl, err := client.Load(context.Background(), "t1")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if calls.Load() != 3 || tmpl.Name != "Retry" {
		t.Fatalf("calls = %d, template = %+v", calls.Load(), tmpl)
	}
}

func TestClientDoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "missing", http.StatusNotFound)
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "acme", WithBackOff(fastBackOff))
	_, err := client.Load(context.Background(), "nope")
	var statusErr *StatusError
	if !errors.As(err, &statusErr) || statusErr.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 status error, got %v", err)
	}
	if calls.Load() != 1 {
		t.Fatalf("calls = %d, want 1", calls.Load())
	}
}

func TestClientRequiresTemplateID(t *testing.T) {
	client := NewClient("http://example.invalid", "acme")
	if _, err := client.Load(context.Background(), " "); err == nil {
		t.Fatalf("expected error for blank template id")
	}
}
