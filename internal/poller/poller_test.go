package poller

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/oauth2"

	"github.com/beatscore/beatscore/internal/cache"
	"github.com/beatscore/beatscore/internal/db"
	"github.com/beatscore/beatscore/internal/spotify"
)

type mockUsers struct {
	users []db.User
	err   error
}

func (m *mockUsers) List(_ context.Context) ([]db.User, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.users, nil
}

type mockFetcher struct {
	plays map[string][]spotify.PlayedTrack // per user
	errs  map[string]error
	calls []string
}

// RecentPlays identifies the user under sweep via the access token the
// creds mock minted for them.
func (m *mockFetcher) RecentPlays(_ context.Context, tok *oauth2.Token, _ time.Time, _ int) ([]spotify.PlayedTrack, error) {
	userID := tok.AccessToken
	m.calls = append(m.calls, userID)
	if err := m.errs[userID]; err != nil {
		return nil, err
	}
	return m.plays[userID], nil
}

type mockIngester struct {
	ingested map[string]int
	pruned   int64
	pruneErr error
}

func (m *mockIngester) Ingest(_ context.Context, userID string, candidates []spotify.PlayedTrack) (int, error) {
	if m.ingested == nil {
		m.ingested = make(map[string]int)
	}
	m.ingested[userID] += len(candidates)
	return len(candidates), nil
}

func (m *mockIngester) Prune(_ context.Context) (int64, error) {
	if m.pruneErr != nil {
		return 0, m.pruneErr
	}
	return m.pruned, nil
}

type mockCreds struct {
	refreshes int
	tokenErrs map[string]error
}

// Token mints the user ID as the access token so the fetcher mock can
// tell users apart.
func (c *mockCreds) Token(_ context.Context, userID string) (*oauth2.Token, error) {
	if err := c.tokenErrs[userID]; err != nil {
		return nil, err
	}
	return &oauth2.Token{AccessToken: userID}, nil
}

func (c *mockCreds) Refresh(_ context.Context, userID string) (*oauth2.Token, error) {
	c.refreshes++
	return &oauth2.Token{AccessToken: userID}, nil
}

func testCache(t *testing.T) *cache.Cache {
	t.Helper()
	c, err := cache.New(16)
	if err != nil {
		t.Fatalf("cache.New: %v", err)
	}
	return c
}

func newTestPoller(users *mockUsers, fetcher *mockFetcher, ingester *mockIngester, creds *mockCreds, c *cache.Cache) *Poller {
	return New(users, fetcher, ingester, creds, c, log.New(io.Discard), Config{
		Interval:       5 * time.Minute,
		RateLimitDelay: time.Millisecond,
		UserTimeout:    time.Second,
	})
}

func played(id string) spotify.PlayedTrack {
	return spotify.PlayedTrack{
		Track:    spotify.Track{ID: id, DurationMs: 180_000},
		PlayedAt: time.Now().Add(-time.Minute),
	}
}

func TestSweepIngestsAllUsers(t *testing.T) {
	users := &mockUsers{users: []db.User{{ID: "u1"}, {ID: "u2"}}}
	fetcher := &mockFetcher{plays: map[string][]spotify.PlayedTrack{
		"u1": {played("t1"), played("t2")},
		"u2": {played("t3")},
	}}
	ingester := &mockIngester{}
	p := newTestPoller(users, fetcher, ingester, &mockCreds{}, testCache(t))

	p.Sweep(context.Background())

	if got := ingester.ingested["u1"]; got != 2 {
		t.Errorf("u1 ingested %d plays, want 2", got)
	}
	if got := ingester.ingested["u2"]; got != 1 {
		t.Errorf("u2 ingested %d plays, want 1", got)
	}
}

func TestSweepContinuesPastFailingUser(t *testing.T) {
	users := &mockUsers{users: []db.User{{ID: "u-bad"}, {ID: "u-good"}}}
	fetcher := &mockFetcher{plays: map[string][]spotify.PlayedTrack{
		"u-good": {played("t1")},
	}}
	ingester := &mockIngester{}
	creds := &mockCreds{tokenErrs: map[string]error{"u-bad": errors.New("no credentials")}}
	p := newTestPoller(users, fetcher, ingester, creds, testCache(t))

	p.Sweep(context.Background())

	if got := ingester.ingested["u-good"]; got != 1 {
		t.Errorf("u-good ingested %d plays, want 1 despite u-bad failing", got)
	}
	if _, ok := ingester.ingested["u-bad"]; ok {
		t.Error("failing user reached the ledger")
	}
}

func TestSweepInvalidatesScoreOnNewPlays(t *testing.T) {
	users := &mockUsers{users: []db.User{{ID: "u1"}, {ID: "u2"}}}
	fetcher := &mockFetcher{plays: map[string][]spotify.PlayedTrack{
		"u1": {played("t1")},
		// u2 has nothing new.
	}}
	ingester := &mockIngester{}
	c := testCache(t)
	c.Set(cache.UserScoreKey("u1"), "memo", time.Minute)
	c.Set(cache.UserScoreKey("u2"), "memo", time.Minute)
	p := newTestPoller(users, fetcher, ingester, &mockCreds{}, c)

	p.Sweep(context.Background())

	if _, ok := c.Get(cache.UserScoreKey("u1")); ok {
		t.Error("score memo for u1 survived new plays")
	}
	if _, ok := c.Get(cache.UserScoreKey("u2")); !ok {
		t.Error("score memo for u2 was invalidated without new plays")
	}
}

func TestSweepListFailure(t *testing.T) {
	users := &mockUsers{err: errors.New("db down")}
	ingester := &mockIngester{}
	p := newTestPoller(users, &mockFetcher{}, ingester, &mockCreds{}, testCache(t))

	p.Sweep(context.Background())

	if len(ingester.ingested) != 0 {
		t.Error("sweep ran despite the user list failing")
	}
}

func TestRetention(t *testing.T) {
	ingester := &mockIngester{pruned: 7}
	p := newTestPoller(&mockUsers{}, &mockFetcher{}, ingester, &mockCreds{}, testCache(t))

	p.Retention(context.Background())

	ingester.pruneErr = errors.New("db down")
	p.Retention(context.Background()) // must not panic or abort
}

func TestUntilNextPrune(t *testing.T) {
	p := newTestPoller(&mockUsers{}, &mockFetcher{}, &mockIngester{}, &mockCreds{}, testCache(t))
	p.cfg.RetentionHour = 3

	tests := []struct {
		name string
		now  time.Time
		want time.Duration
	}{
		{"before today's run", time.Date(2026, 8, 28, 1, 0, 0, 0, time.UTC), 2 * time.Hour},
		{"after today's run", time.Date(2026, 8, 28, 4, 0, 0, 0, time.UTC), 23 * time.Hour},
		{"exactly at the run", time.Date(2026, 8, 28, 3, 0, 0, 0, time.UTC), 24 * time.Hour},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p.now = func() time.Time { return tt.now }
			if got := p.untilNextPrune(); got != tt.want {
				t.Errorf("untilNextPrune = %v, want %v", got, tt.want)
			}
		})
	}
}
