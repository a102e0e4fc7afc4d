// Package config loads process configuration from the environment.
package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/charmbracelet/log"
	"github.com/joho/godotenv"
)

// ErrMissingCredentials is returned when SPOTIFY_ID or SPOTIFY_SECRET is not set.
var ErrMissingCredentials = errors.New("missing SPOTIFY_ID or SPOTIFY_SECRET environment variable")

// Config holds the full process configuration.
type Config struct {
	Addr        string
	DatabaseURL string

	SpotifyClientID     string
	SpotifyClientSecret string
	RedirectURL         string

	JWTSecret string

	Poll  PollConfig
	Cache CacheConfig
}

// PollConfig controls the recurring sweeps.
type PollConfig struct {
	Interval       time.Duration // recent-plays sweep cadence
	RateLimitDelay time.Duration // enforced delay between per-user upstream calls
	UserTimeout    time.Duration // upper bound on one user's work within a sweep
	RetentionDays  int           // play ledger retention window
	RetentionHour  int           // local wall-clock hour of the daily prune
}

// CacheConfig controls the in-process cache layer.
type CacheConfig struct {
	Capacity int
	TTL      time.Duration
}

// Load reads configuration from the environment, loading a .env file first
// when one is present. Returns ErrMissingCredentials if the Spotify client
// credentials are not set.
func Load() (*Config, error) {
	// Missing .env is fine; real deployments set the environment directly.
	_ = godotenv.Load()

	clientID := os.Getenv("SPOTIFY_ID")
	clientSecret := os.Getenv("SPOTIFY_SECRET")
	if clientID == "" || clientSecret == "" {
		return nil, ErrMissingCredentials
	}

	databaseURL := os.Getenv("DATABASE_URL")
	if databaseURL == "" {
		return nil, errors.New("missing DATABASE_URL environment variable")
	}

	jwtSecret := os.Getenv("JWT_SECRET")
	if jwtSecret == "" {
		return nil, errors.New("missing JWT_SECRET environment variable")
	}

	addr := getenv("BEATSCORE_ADDR", "127.0.0.1:8080")

	cfg := &Config{
		Addr:                addr,
		DatabaseURL:         databaseURL,
		SpotifyClientID:     clientID,
		SpotifyClientSecret: clientSecret,
		RedirectURL:         getenv("SPOTIFY_REDIRECT_URL", fmt.Sprintf("http://%s/callback", addr)),
		JWTSecret:           jwtSecret,
		Poll: PollConfig{
			Interval:       parseDur(getenv("POLL_INTERVAL", "5m")),
			RateLimitDelay: parseDur(getenv("RATE_LIMIT_DELAY", "100ms")),
			UserTimeout:    parseDur(getenv("POLL_USER_TIMEOUT", "30s")),
			RetentionDays:  atoi(getenv("PLAY_RETENTION_DAYS", "30")),
			RetentionHour:  atoi(getenv("PLAY_RETENTION_HOUR", "0")),
		},
		Cache: CacheConfig{
			Capacity: atoi(getenv("CACHE_CAPACITY", "1024")),
			TTL:      parseDur(getenv("CACHE_TTL", "5m")),
		},
	}

	return cfg, nil
}

// NewLogger creates the process logger, writing to w (os.Stderr when nil).
// The level is taken from LOG_LEVEL when parseable.
func NewLogger(w io.Writer) *log.Logger {
	if w == nil {
		w = os.Stderr
	}
	logger := log.NewWithOptions(w, log.Options{ReportTimestamp: true})
	if lvl, err := log.ParseLevel(os.Getenv("LOG_LEVEL")); err == nil {
		logger.SetLevel(lvl)
	}
	return logger
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func atoi(s string) int {
	i, _ := strconv.Atoi(s)
	return i
}

func parseDur(s string) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil {
		return time.Second
	}
	return d
}
