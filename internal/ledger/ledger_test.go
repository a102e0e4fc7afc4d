package ledger

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/beatscore/beatscore/internal/db"
	"github.com/beatscore/beatscore/internal/spotify"
)

// mockStore implements Store with the same dedupe semantics as the real
// play table: the uniqueness key silently drops colliding inserts.
type mockStore struct {
	plays map[string]db.Play // keyed by trackID-playedAtMillis

	keysErr   error
	insertErr error
	deleteErr error

	deleteCutoff time.Time
}

func newMockStore() *mockStore {
	return &mockStore{plays: make(map[string]db.Play)}
}

func (m *mockStore) KeysSince(_ context.Context, userID string, since time.Time) ([]db.PlayKey, error) {
	if m.keysErr != nil {
		return nil, m.keysErr
	}
	var keys []db.PlayKey
	for _, p := range m.plays {
		if p.UserID == userID && !p.PlayedAt.Before(since) {
			keys = append(keys, db.PlayKey{TrackID: p.TrackID, PlayedAt: p.PlayedAt})
		}
	}
	return keys, nil
}

func (m *mockStore) InsertBatch(_ context.Context, plays []db.Play) (int, error) {
	if m.insertErr != nil {
		return 0, m.insertErr
	}
	inserted := 0
	for _, p := range plays {
		key := playKey(p.TrackID, p.PlayedAt)
		if _, ok := m.plays[key]; ok {
			continue
		}
		m.plays[key] = p
		inserted++
	}
	return inserted, nil
}

func (m *mockStore) DeleteOlderThan(_ context.Context, cutoff time.Time) (int64, error) {
	if m.deleteErr != nil {
		return 0, m.deleteErr
	}
	m.deleteCutoff = cutoff
	var deleted int64
	for key, p := range m.plays {
		if p.PlayedAt.Before(cutoff) {
			delete(m.plays, key)
			deleted++
		}
	}
	return deleted, nil
}

func playedTrack(id string, playedAt time.Time, durationMs, playedMs int) spotify.PlayedTrack {
	return spotify.PlayedTrack{
		Track:    spotify.Track{ID: id, Name: "track " + id, DurationMs: durationMs},
		PlayedAt: playedAt,
		PlayedMs: playedMs,
	}
}

func TestIngestIdempotent(t *testing.T) {
	store := newMockStore()
	l := New(store)

	now := time.Now()
	batch := []spotify.PlayedTrack{
		playedTrack("t1", now.Add(-time.Minute), 200_000, 0),
		playedTrack("t2", now.Add(-2*time.Minute), 180_000, 0),
	}

	inserted, err := l.Ingest(context.Background(), "u1", batch)
	if err != nil {
		t.Fatalf("first Ingest: %v", err)
	}
	if inserted != 2 {
		t.Errorf("first Ingest inserted %d, want 2", inserted)
	}

	// The identical batch again inserts nothing.
	inserted, err = l.Ingest(context.Background(), "u1", batch)
	if err != nil {
		t.Fatalf("second Ingest: %v", err)
	}
	if inserted != 0 {
		t.Errorf("second Ingest inserted %d, want 0", inserted)
	}
}

func TestIngestDedupesWithinBatch(t *testing.T) {
	store := newMockStore()
	l := New(store)

	at := time.Now().Add(-time.Minute)
	batch := []spotify.PlayedTrack{
		playedTrack("t1", at, 200_000, 0),
		playedTrack("t1", at, 200_000, 0),
	}

	inserted, err := l.Ingest(context.Background(), "u1", batch)
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if inserted != 1 {
		t.Errorf("Ingest inserted %d, want 1", inserted)
	}
}

func TestIngestEmptyBatch(t *testing.T) {
	store := newMockStore()
	store.keysErr = errors.New("store should not be touched")
	l := New(store)

	inserted, err := l.Ingest(context.Background(), "u1", nil)
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if inserted != 0 {
		t.Errorf("Ingest inserted %d, want 0", inserted)
	}
}

func TestEffectiveDuration(t *testing.T) {
	tests := []struct {
		name       string
		durationMs int
		playedMs   int
		want       int
	}{
		{"reported within track length", 200_000, 150_000, 150_000},
		{"reported exceeds track length", 200_000, 250_000, 200_000},
		{"unreported uses full duration", 200_000, 0, 200_000},
		{"unreported short track keeps its duration", 20_000, 0, 20_000},
		{"reported on short track clamped", 20_000, 25_000, 20_000},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := effectiveDuration(tt.durationMs, tt.playedMs); got != tt.want {
				t.Errorf("effectiveDuration(%d, %d) = %d, want %d",
					tt.durationMs, tt.playedMs, got, tt.want)
			}
		})
	}
}

func TestIngestClampsDuration(t *testing.T) {
	store := newMockStore()
	l := New(store)

	at := time.Now().Add(-time.Minute)
	_, err := l.Ingest(context.Background(), "u1", []spotify.PlayedTrack{
		playedTrack("t1", at, 200_000, 250_000),
	})
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}

	p, ok := store.plays[playKey("t1", at)]
	if !ok {
		t.Fatal("play was not inserted")
	}
	if p.DurationMs != 200_000 {
		t.Errorf("stored duration %d, want clamped 200000", p.DurationMs)
	}
}

func TestPrune(t *testing.T) {
	store := newMockStore()
	now := time.Now()
	l := New(store, WithRetention(30))
	l.now = func() time.Time { return now }

	old := playedTrack("old", now.AddDate(0, 0, -31), 100_000, 0)
	fresh := playedTrack("fresh", now.Add(-time.Hour), 100_000, 0)
	store.InsertBatch(context.Background(), []db.Play{
		{UserID: "u1", TrackID: old.Track.ID, PlayedAt: old.PlayedAt, DurationMs: 100_000},
		{UserID: "u1", TrackID: fresh.Track.ID, PlayedAt: fresh.PlayedAt, DurationMs: 100_000},
	})

	deleted, err := l.Prune(context.Background())
	if err != nil {
		t.Fatalf("Prune: %v", err)
	}
	if deleted != 1 {
		t.Errorf("Prune deleted %d, want 1", deleted)
	}

	want := now.AddDate(0, 0, -30)
	if !store.deleteCutoff.Equal(want) {
		t.Errorf("prune cutoff %v, want %v", store.deleteCutoff, want)
	}
}

func TestPruneError(t *testing.T) {
	store := newMockStore()
	store.deleteErr = errors.New("db down")
	l := New(store)

	if _, err := l.Prune(context.Background()); err == nil {
		t.Error("Prune returned nil error on store failure")
	}
}
