package db

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// RecommendationRepository handles track recommendation database operations.
type RecommendationRepository struct {
	pool *pgxpool.Pool
}

// Create appends a recommendation for a membership. Recommendations are
// deliberately not deduplicated.
func (r *RecommendationRepository) Create(ctx context.Context, rec *Recommendation) error {
	rec.ID = uuid.New()
	query := `
		INSERT INTO recommendations (id, member_id, track_id, track_name, track_artist, track_image, track_url, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NOW())
		RETURNING created_at
	`
	err := r.pool.QueryRow(ctx, query,
		rec.ID,
		rec.MemberID,
		rec.TrackID,
		rec.TrackName,
		rec.TrackArtist,
		rec.TrackImage,
		rec.TrackURL,
	).Scan(&rec.CreatedAt)
	if err != nil {
		return fmt.Errorf("inserting recommendation: %w", err)
	}
	return nil
}

// ListByMember returns a membership's recommendations, most recent first.
func (r *RecommendationRepository) ListByMember(ctx context.Context, memberID uuid.UUID) ([]Recommendation, error) {
	query := `
		SELECT id, member_id, track_id, track_name, track_artist, track_image, track_url, created_at
		FROM recommendations
		WHERE member_id = $1
		ORDER BY created_at DESC
	`
	rows, err := r.pool.Query(ctx, query, memberID)
	if err != nil {
		return nil, fmt.Errorf("querying recommendations: %w", err)
	}
	defer rows.Close()

	var recs []Recommendation
	for rows.Next() {
		var rec Recommendation
		err := rows.Scan(
			&rec.ID,
			&rec.MemberID,
			&rec.TrackID,
			&rec.TrackName,
			&rec.TrackArtist,
			&rec.TrackImage,
			&rec.TrackURL,
			&rec.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scanning recommendation: %w", err)
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}
