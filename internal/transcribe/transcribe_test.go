package transcribe

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/BashkirovN/MiniStateAffairs/internal/retry"
)

func fastRetry() retry.Options {
	return retry.Options{MaxAttempts: 1, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond}
}

func TestTranscribeDecodesVendorPayload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer secret" {
			t.Errorf("got auth header %q", got)
		}
		if got := r.Header.Get("Content-Type"); got != "application/json" {
			t.Errorf("got content type %q", got)
		}
		body, _ := io.ReadAll(r.Body)
		var req struct {
			MediaURL string `json:"media_url"`
		}
		if err := json.Unmarshal(body, &req); err != nil || req.MediaURL != "https://m/1.mp4" {
			t.Errorf("got request body %s", body)
		}
		w.Write([]byte(`{"text":"the committee will come to order","language":"en","segments":[{"start":0}]}`))
	}))
	defer srv.Close()

	p := &HTTPProvider{Endpoint: srv.URL, APIKey: "secret", Client: srv.Client(), Retry: fastRetry()}
	res, err := p.Transcribe(context.Background(), "https://m/1.mp4")
	if err != nil {
		t.Fatal(err)
	}
	if res.Text != "the committee will come to order" {
		t.Errorf("got text %q", res.Text)
	}
	if res.Language != "en" {
		t.Errorf("got language %q", res.Language)
	}
	if !strings.Contains(string(res.Raw), "segments") {
		t.Error("raw payload should be preserved verbatim")
	}
}

func TestTranscribeRejectsEmptyText(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`{"text":"","language":"en"}`))
	}))
	defer srv.Close()

	p := &HTTPProvider{Endpoint: srv.URL, Client: srv.Client(), Retry: fastRetry()}
	_, err := p.Transcribe(context.Background(), "https://m/1.mp4")
	if err == nil || !strings.Contains(err.Error(), "no text") {
		t.Fatalf("got %v, want empty-text rejection", err)
	}
}

func TestTranscribeSurfacesVendorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	p := &HTTPProvider{Endpoint: srv.URL, Client: srv.Client(), Retry: fastRetry()}
	_, err := p.Transcribe(context.Background(), "https://m/1.mp4")
	var he *retry.HTTPError
	if !errors.As(err, &he) || he.StatusCode != http.StatusUnauthorized {
		t.Fatalf("got %v, want HTTPError 401", err)
	}
}

func TestName(t *testing.T) {
	if got := (&HTTPProvider{}).Name(); got != "http" {
		t.Errorf("got %q, want http", got)
	}
	if got := (&HTTPProvider{ProviderName: "statescribe"}).Name(); got != "statescribe" {
		t.Errorf("got %q, want statescribe", got)
	}
}

func TestReady(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodHead {
			t.Errorf("got method %s, want HEAD", r.Method)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	p := &HTTPProvider{Endpoint: srv.URL, Client: srv.Client()}
	if err := p.Ready(context.Background()); err != nil {
		t.Errorf("ready probe failed: %v", err)
	}
}

func TestReadyServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	p := &HTTPProvider{Endpoint: srv.URL, Client: srv.Client()}
	if err := p.Ready(context.Background()); err == nil {
		t.Error("expected error for 503 probe")
	}
}
