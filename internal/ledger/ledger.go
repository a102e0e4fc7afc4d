// Package ledger maintains the append-only log of observed track plays.
package ledger

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/beatscore/beatscore/internal/db"
	"github.com/beatscore/beatscore/internal/spotify"
)

const (
	// DefaultLookback matches the poll cadence: ingestion dedupes against
	// plays already recorded within this window.
	DefaultLookback = 5 * time.Minute

	// DefaultRetentionDays is how long plays are kept before pruning.
	DefaultRetentionDays = 30

	// minPlayMs is the floor estimate used when the provider does not
	// report the actually listened duration.
	minPlayMs = 30_000
)

// Store is the slice of the play store the ledger needs.
type Store interface {
	KeysSince(ctx context.Context, userID string, since time.Time) ([]db.PlayKey, error)
	InsertBatch(ctx context.Context, plays []db.Play) (int, error)
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// Ledger ingests and prunes play events.
type Ledger struct {
	store         Store
	lookback      time.Duration
	retentionDays int
	now           func() time.Time
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithLookback sets the dedupe lookback window.
func WithLookback(d time.Duration) Option {
	return func(l *Ledger) {
		l.lookback = d
	}
}

// WithRetention sets the retention window in days.
func WithRetention(days int) Option {
	return func(l *Ledger) {
		l.retentionDays = days
	}
}

// New creates a Ledger.
func New(store Store, opts ...Option) *Ledger {
	l := &Ledger{
		store:         store,
		lookback:      DefaultLookback,
		retentionDays: DefaultRetentionDays,
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Ingest records candidate plays for a user, skipping any whose
// (track, played-at) key was already observed within the lookback window.
// Re-running the same poll window therefore inserts nothing new. Returns
// the number of plays actually inserted.
func (l *Ledger) Ingest(ctx context.Context, userID string, candidates []spotify.PlayedTrack) (int, error) {
	if len(candidates) == 0 {
		return 0, nil
	}

	existing, err := l.store.KeysSince(ctx, userID, l.now().Add(-l.lookback))
	if err != nil {
		return 0, fmt.Errorf("listing existing play keys: %w", err)
	}

	seen := make(map[string]struct{}, len(existing))
	for _, k := range existing {
		seen[playKey(k.TrackID, k.PlayedAt)] = struct{}{}
	}

	var plays []db.Play
	for _, c := range candidates {
		key := playKey(c.Track.ID, c.PlayedAt)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{} // dedupe within the batch too

		plays = append(plays, db.Play{
			UserID:     userID,
			TrackID:    c.Track.ID,
			TrackName:  c.Track.Name,
			PlayedAt:   c.PlayedAt,
			DurationMs: effectiveDuration(c.Track.DurationMs, c.PlayedMs),
		})
	}

	if len(plays) == 0 {
		return 0, nil
	}

	// The store's uniqueness key is the backstop for concurrent ingestion
	// of the same user from two sources.
	inserted, err := l.store.InsertBatch(ctx, plays)
	if err != nil {
		return 0, fmt.Errorf("inserting plays: %w", err)
	}
	return inserted, nil
}

// Prune deletes plays older than the retention window and returns the
// number removed.
func (l *Ledger) Prune(ctx context.Context) (int64, error) {
	cutoff := l.now().AddDate(0, 0, -l.retentionDays)
	deleted, err := l.store.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("pruning plays: %w", err)
	}
	return deleted, nil
}

// effectiveDuration clamps the listened duration: it never exceeds the
// track's nominal duration, and when the provider does not report the
// listened duration a floor estimate of 30s (capped by the nominal
// duration) stands in.
func effectiveDuration(durationMs, playedMs int) int {
	if playedMs <= 0 {
		playedMs = max(minPlayMs, durationMs)
	}
	return min(durationMs, playedMs)
}

func playKey(trackID string, playedAt time.Time) string {
	return trackID + "-" + strconv.FormatInt(playedAt.UnixMilli(), 10)
}
