// Package score computes daily listening scores and keeps membership
// track snapshots fresh.
package score

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"golang.org/x/oauth2"

	"github.com/beatscore/beatscore/internal/auth"
	"github.com/beatscore/beatscore/internal/cache"
	"github.com/beatscore/beatscore/internal/db"
	"github.com/beatscore/beatscore/internal/spotify"
)

// MemberStore is the slice of the store the engine needs for memberships.
type MemberStore interface {
	Get(ctx context.Context, id uuid.UUID) (*db.Member, error)
	ListByUser(ctx context.Context, userID string) ([]db.Member, error)
	UpdateScore(ctx context.Context, id uuid.UUID, score int) error
	UpdateCurrentTrack(ctx context.Context, id uuid.UUID, snap db.TrackSnapshot, at time.Time) error
	UpdateTopTrack(ctx context.Context, id uuid.UUID, snap db.TrackSnapshot) error
}

// PlayStore is the slice of the play ledger the engine reads.
type PlayStore interface {
	SumSince(ctx context.Context, userID string, since time.Time) (int64, int, error)
}

// Upstream is the slice of the provider client the engine needs.
type Upstream interface {
	CurrentlyPlaying(ctx context.Context, tok *oauth2.Token) (*spotify.Track, error)
	RecentPlays(ctx context.Context, tok *oauth2.Token, after time.Time, limit int) ([]spotify.PlayedTrack, error)
	TopTrack(ctx context.Context, tok *oauth2.Token) (*spotify.Track, error)
}

// Result is the outcome of a score computation.
type Result struct {
	Score              int
	TotalMinutes       float64
	TotalTracks        int
	UpdatedMemberships int
}

// Service is the score engine and track-state reconciler.
type Service struct {
	members  MemberStore
	plays    PlayStore
	upstream Upstream
	creds    auth.CredentialProvider
	cache    *cache.Cache
	logger   *log.Logger
	ttl      time.Duration
	now      func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithTTL sets the cache TTL for computed scores and snapshots.
func WithTTL(d time.Duration) Option {
	return func(s *Service) {
		s.ttl = d
	}
}

// New creates a score Service.
func New(members MemberStore, plays PlayStore, upstream Upstream, creds auth.CredentialProvider, c *cache.Cache, logger *log.Logger, opts ...Option) *Service {
	s := &Service{
		members:  members,
		plays:    plays,
		upstream: upstream,
		creds:    creds,
		cache:    c,
		logger:   logger.With("component", "score"),
		ttl:      cache.DefaultTTL,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ComputeAndApply derives the user's listening score for today and writes
// it to every membership the user holds. Results are memoized; ingestion
// of new plays for the user invalidates the memo.
//
// A failed snapshot refresh on one membership never blocks the score
// writes to the others.
func (s *Service) ComputeAndApply(ctx context.Context, userID string) (*Result, error) {
	key := cache.UserScoreKey(userID)
	if v, ok := s.cache.Get(key); ok {
		if result, ok := v.(*Result); ok {
			return result, nil
		}
	}

	now := s.now()
	startOfDay := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())

	totalMs, totalTracks, err := s.plays.SumSince(ctx, userID, startOfDay)
	if err != nil {
		return nil, fmt.Errorf("summing today's plays: %w", err)
	}

	totalMinutes := float64(totalMs) / 60_000
	points := int(math.Round(totalMinutes))

	members, err := s.members.ListByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("listing memberships: %w", err)
	}

	// Snapshot refreshes touch disjoint fields, so they run concurrently
	// per membership; all are joined before any score is written.
	var wg sync.WaitGroup
	for _, m := range members {
		wg.Add(1)
		go func(id uuid.UUID) {
			defer wg.Done()
			if err := s.RefreshTopTrack(ctx, id); err != nil {
				s.logger.Warn("top track refresh failed", "member", id, "err", err)
			}
			if _, err := s.RefreshCurrentTrack(ctx, id); err != nil {
				s.logger.Warn("current track refresh failed", "member", id, "err", err)
			}
		}(m.ID)
	}
	wg.Wait()

	updated := 0
	for _, m := range members {
		if err := s.members.UpdateScore(ctx, m.ID, points); err != nil {
			s.logger.Error("score write failed", "member", m.ID, "err", err)
			continue
		}
		updated++
	}

	result := &Result{
		Score:              points,
		TotalMinutes:       totalMinutes,
		TotalTracks:        totalTracks,
		UpdatedMemberships: updated,
	}
	s.cache.Set(key, result, s.ttl)

	s.logger.Debug("score computed",
		"user", userID, "score", points, "minutes", totalMinutes, "tracks", totalTracks)
	return result, nil
}
