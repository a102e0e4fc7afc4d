package config

import (
	"errors"
	"testing"
	"time"
)

func setRequired(t *testing.T) {
	t.Helper()
	t.Setenv("SPOTIFY_ID", "client-id")
	t.Setenv("SPOTIFY_SECRET", "client-secret")
	t.Setenv("DATABASE_URL", "postgres://localhost/beatscore")
	t.Setenv("JWT_SECRET", "sekrit")
}

func TestLoadDefaults(t *testing.T) {
	setRequired(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Addr != "127.0.0.1:8080" {
		t.Errorf("Addr = %q, want default", cfg.Addr)
	}
	if cfg.RedirectURL != "http://127.0.0.1:8080/callback" {
		t.Errorf("RedirectURL = %q, want the default derived from Addr", cfg.RedirectURL)
	}
	if cfg.Poll.Interval != 5*time.Minute {
		t.Errorf("Poll.Interval = %v, want 5m", cfg.Poll.Interval)
	}
	if cfg.Poll.RateLimitDelay != 100*time.Millisecond {
		t.Errorf("Poll.RateLimitDelay = %v, want 100ms", cfg.Poll.RateLimitDelay)
	}
	if cfg.Poll.RetentionDays != 30 {
		t.Errorf("Poll.RetentionDays = %d, want 30", cfg.Poll.RetentionDays)
	}
	if cfg.Cache.Capacity != 1024 || cfg.Cache.TTL != 5*time.Minute {
		t.Errorf("Cache = %+v, want capacity 1024 TTL 5m", cfg.Cache)
	}
}

func TestLoadOverrides(t *testing.T) {
	setRequired(t)
	t.Setenv("BEATSCORE_ADDR", "0.0.0.0:9000")
	t.Setenv("SPOTIFY_REDIRECT_URL", "https://example.com/callback")
	t.Setenv("POLL_INTERVAL", "1m")
	t.Setenv("CACHE_CAPACITY", "64")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Addr != "0.0.0.0:9000" {
		t.Errorf("Addr = %q, want the override", cfg.Addr)
	}
	if cfg.RedirectURL != "https://example.com/callback" {
		t.Errorf("RedirectURL = %q, want the override", cfg.RedirectURL)
	}
	if cfg.Poll.Interval != time.Minute {
		t.Errorf("Poll.Interval = %v, want 1m", cfg.Poll.Interval)
	}
	if cfg.Cache.Capacity != 64 {
		t.Errorf("Cache.Capacity = %d, want 64", cfg.Cache.Capacity)
	}
}

func TestLoadMissingCredentials(t *testing.T) {
	t.Setenv("SPOTIFY_ID", "")
	t.Setenv("SPOTIFY_SECRET", "")
	t.Setenv("DATABASE_URL", "postgres://localhost/beatscore")
	t.Setenv("JWT_SECRET", "sekrit")

	if _, err := Load(); !errors.Is(err, ErrMissingCredentials) {
		t.Errorf("err = %v, want ErrMissingCredentials", err)
	}
}

func TestLoadMissingDatabaseURL(t *testing.T) {
	t.Setenv("SPOTIFY_ID", "client-id")
	t.Setenv("SPOTIFY_SECRET", "client-secret")
	t.Setenv("DATABASE_URL", "")
	t.Setenv("JWT_SECRET", "sekrit")

	if _, err := Load(); err == nil {
		t.Error("Load succeeded without DATABASE_URL")
	}
}

func TestParseDurFallback(t *testing.T) {
	if got := parseDur("not-a-duration"); got != time.Second {
		t.Errorf("parseDur fallback = %v, want 1s", got)
	}
	if got := parseDur("250ms"); got != 250*time.Millisecond {
		t.Errorf("parseDur = %v, want 250ms", got)
	}
}
