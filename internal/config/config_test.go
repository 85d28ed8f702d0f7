package config

import (
	"strings"
	"testing"
	"time"
)

func setRequired(t *testing.T) {
	t.Helper()
	t.Setenv("POSTGRES_DSN", "postgres://localhost/test")
	t.Setenv("S3_BUCKET", "media")
	t.Setenv("S3_REGION", "us-west-2")
	t.Setenv("TRANSCRIBE_URL", "https://vendor.example/v1/transcribe")
	t.Setenv("TRANSCRIBE_API_KEY", "secret")
}

func TestLoadDefaults(t *testing.T) {
	setRequired(t)
	cfg := Load()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
	if cfg.FetchBinary != "yt-dlp" {
		t.Errorf("got fetch binary %q", cfg.FetchBinary)
	}
	if cfg.FirstByteTimeout != 45*time.Second {
		t.Errorf("got first byte timeout %v", cfg.FirstByteTimeout)
	}
	if cfg.MinObjectBytes != 5*1024*1024 {
		t.Errorf("got min object bytes %d", cfg.MinObjectBytes)
	}
	if cfg.RetryCeiling != 5 {
		t.Errorf("got retry ceiling %d", cfg.RetryCeiling)
	}
	if cfg.BackoffBase != 500*time.Millisecond || cfg.BackoffMax != 10*time.Second {
		t.Errorf("got backoff %v/%v", cfg.BackoffBase, cfg.BackoffMax)
	}
	if cfg.StuckAfter != 6*time.Hour {
		t.Errorf("got stuck threshold %v", cfg.StuckAfter)
	}
}

func TestLoadOverrides(t *testing.T) {
	setRequired(t)
	t.Setenv("FETCH_BINARY", "/opt/bin/yt-dlp")
	t.Setenv("FIRST_BYTE_TIMEOUT", "90s")
	t.Setenv("RETRY_CEILING", "3")
	t.Setenv("S3_PATH_STYLE", "true")
	t.Setenv("RATE_LIMIT_REFILL_PER_SEC", "0.5")

	cfg := Load()
	if cfg.FetchBinary != "/opt/bin/yt-dlp" {
		t.Errorf("got fetch binary %q", cfg.FetchBinary)
	}
	if cfg.FirstByteTimeout != 90*time.Second {
		t.Errorf("got first byte timeout %v", cfg.FirstByteTimeout)
	}
	if cfg.RetryCeiling != 3 {
		t.Errorf("got retry ceiling %d", cfg.RetryCeiling)
	}
	if !cfg.S3PathStyle {
		t.Error("path style override ignored")
	}
	if cfg.RateLimitRefill != 0.5 {
		t.Errorf("got refill %v", cfg.RateLimitRefill)
	}
}

func TestValidateNamesAllMissing(t *testing.T) {
	err := Config{}.Validate()
	if err == nil {
		t.Fatal("empty config should not validate")
	}
	for _, want := range []string{"POSTGRES_DSN", "S3_BUCKET", "S3_REGION", "TRANSCRIBE_URL", "TRANSCRIBE_API_KEY"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q does not name %s", err.Error(), want)
		}
	}
}

func TestDiscoverySourcesParsing(t *testing.T) {
	setRequired(t)
	t.Setenv("DISCOVERY_SOURCES", "wa/house=https://wa.example/feed, or/senate=https://or.example/feed,broken")

	cfg := Load()
	if len(cfg.DiscoverySources) != 2 {
		t.Fatalf("got %d sources, want 2: %v", len(cfg.DiscoverySources), cfg.DiscoverySources)
	}
	if cfg.DiscoverySources["wa/house"] != "https://wa.example/feed" {
		t.Errorf("got %q for wa/house", cfg.DiscoverySources["wa/house"])
	}
	if cfg.DiscoverySources["or/senate"] != "https://or.example/feed" {
		t.Errorf("got %q for or/senate", cfg.DiscoverySources["or/senate"])
	}
}

func TestInvalidEnvValuesFallBack(t *testing.T) {
	setRequired(t)
	t.Setenv("RETRY_CEILING", "lots")
	t.Setenv("FIRST_BYTE_TIMEOUT", "soon")

	cfg := Load()
	if cfg.RetryCeiling != 5 {
		t.Errorf("got retry ceiling %d, want default 5", cfg.RetryCeiling)
	}
	if cfg.FirstByteTimeout != 45*time.Second {
		t.Errorf("got first byte timeout %v, want default", cfg.FirstByteTimeout)
	}
}
