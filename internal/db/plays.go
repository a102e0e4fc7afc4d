package db

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PlayRepository handles play ledger database operations.
type PlayRepository struct {
	pool *pgxpool.Pool
}

// KeysSince returns the dedupe keys of a user's plays observed at or after
// the given time.
func (r *PlayRepository) KeysSince(ctx context.Context, userID string, since time.Time) ([]PlayKey, error) {
	query := `
		SELECT track_id, played_at
		FROM track_plays
		WHERE user_id = $1 AND played_at >= $2
	`
	rows, err := r.pool.Query(ctx, query, userID, since)
	if err != nil {
		return nil, fmt.Errorf("querying play keys: %w", err)
	}
	defer rows.Close()

	var keys []PlayKey
	for rows.Next() {
		var k PlayKey
		if err := rows.Scan(&k.TrackID, &k.PlayedAt); err != nil {
			return nil, fmt.Errorf("scanning play key: %w", err)
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

// InsertBatch inserts plays, skipping any that collide with the
// (user_id, track_id, played_at) uniqueness key. Returns the number of
// rows actually inserted.
func (r *PlayRepository) InsertBatch(ctx context.Context, plays []Play) (int, error) {
	if len(plays) == 0 {
		return 0, nil
	}

	query := `
		INSERT INTO track_plays (user_id, track_id, track_name, played_at, duration_ms)
		SELECT * FROM unnest($1::text[], $2::text[], $3::text[], $4::timestamptz[], $5::int[])
		ON CONFLICT (user_id, track_id, played_at) DO NOTHING
	`

	userIDs := make([]string, len(plays))
	trackIDs := make([]string, len(plays))
	trackNames := make([]string, len(plays))
	playedAts := make([]time.Time, len(plays))
	durations := make([]int, len(plays))

	for i, p := range plays {
		userIDs[i] = p.UserID
		trackIDs[i] = p.TrackID
		trackNames[i] = p.TrackName
		playedAts[i] = p.PlayedAt
		durations[i] = p.DurationMs
	}

	result, err := r.pool.Exec(ctx, query, userIDs, trackIDs, trackNames, playedAts, durations)
	if err != nil {
		return 0, fmt.Errorf("inserting plays: %w", err)
	}
	return int(result.RowsAffected()), nil
}

// SumSince returns the total effective listened duration in milliseconds
// and the number of plays for a user at or after the given time.
func (r *PlayRepository) SumSince(ctx context.Context, userID string, since time.Time) (int64, int, error) {
	query := `
		SELECT COALESCE(SUM(duration_ms), 0), COUNT(*)
		FROM track_plays
		WHERE user_id = $1 AND played_at >= $2
	`
	var totalMs int64
	var count int
	if err := r.pool.QueryRow(ctx, query, userID, since).Scan(&totalMs, &count); err != nil {
		return 0, 0, fmt.Errorf("summing plays: %w", err)
	}
	return totalMs, count, nil
}

// DeleteOlderThan removes plays observed before the cutoff and returns the
// number of rows deleted.
func (r *PlayRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := r.pool.Exec(ctx, `DELETE FROM track_plays WHERE played_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("deleting old plays: %w", err)
	}
	return result.RowsAffected(), nil
}
