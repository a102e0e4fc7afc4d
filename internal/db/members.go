package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// MemberRepository handles group membership database operations.
type MemberRepository struct {
	pool *pgxpool.Pool
}

const memberColumns = `id, group_id, user_id, score,
	current_track_id, current_track_name, current_track_artist, current_track_image,
	current_track_updated_at,
	top_track_id, top_track_name, top_track_artist, top_track_image,
	created_at`

func scanMember(row pgx.Row) (*Member, error) {
	var (
		m                      Member
		curID, curName         *string
		curArtist, curImage    *string
		topID, topName         *string
		topArtist, topImage    *string
	)
	err := row.Scan(
		&m.ID,
		&m.GroupID,
		&m.UserID,
		&m.Score,
		&curID, &curName, &curArtist, &curImage,
		&m.CurrentTrackUpdatedAt,
		&topID, &topName, &topArtist, &topImage,
		&m.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning member: %w", err)
	}
	m.CurrentTrack = buildSnapshot(curID, curName, curArtist, curImage)
	m.TopTrack = buildSnapshot(topID, topName, topArtist, topImage)
	return &m, nil
}

func buildSnapshot(id, name, artist, image *string) *TrackSnapshot {
	if id == nil {
		return nil
	}
	snap := TrackSnapshot{ID: *id}
	if name != nil {
		snap.Name = *name
	}
	if artist != nil {
		snap.Artist = *artist
	}
	if image != nil {
		snap.Image = *image
	}
	return &snap
}

// Create inserts a new membership. Returns ErrConflict if the user is
// already a member of the group.
func (r *MemberRepository) Create(ctx context.Context, member *Member) error {
	member.ID = uuid.New()
	query := `
		INSERT INTO group_members (id, group_id, user_id, score, created_at)
		VALUES ($1, $2, $3, 0, NOW())
		RETURNING created_at
	`
	err := r.pool.QueryRow(ctx, query, member.ID, member.GroupID, member.UserID).Scan(&member.CreatedAt)
	if isUniqueViolation(err) {
		return ErrConflict
	}
	if err != nil {
		return fmt.Errorf("inserting member: %w", err)
	}
	return nil
}

// Get retrieves a membership by ID.
func (r *MemberRepository) Get(ctx context.Context, id uuid.UUID) (*Member, error) {
	query := `SELECT ` + memberColumns + ` FROM group_members WHERE id = $1`
	return scanMember(r.pool.QueryRow(ctx, query, id))
}

// GetByGroupAndUser retrieves the membership of a user in a group.
func (r *MemberRepository) GetByGroupAndUser(ctx context.Context, groupID uuid.UUID, userID string) (*Member, error) {
	query := `SELECT ` + memberColumns + ` FROM group_members WHERE group_id = $1 AND user_id = $2`
	return scanMember(r.pool.QueryRow(ctx, query, groupID, userID))
}

// ListByUser returns all memberships a user holds.
func (r *MemberRepository) ListByUser(ctx context.Context, userID string) ([]Member, error) {
	query := `SELECT ` + memberColumns + ` FROM group_members WHERE user_id = $1 ORDER BY created_at`
	rows, err := r.pool.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("querying memberships: %w", err)
	}
	defer rows.Close()

	var members []Member
	for rows.Next() {
		m, err := scanMember(rows)
		if err != nil {
			return nil, err
		}
		members = append(members, *m)
	}
	return members, rows.Err()
}

// ListByGroup returns all memberships of a group with user display fields,
// ordered by join time. Ranking is computed by the caller.
func (r *MemberRepository) ListByGroup(ctx context.Context, groupID uuid.UUID) ([]MemberWithUser, error) {
	query := `
		SELECT m.id, m.group_id, m.user_id, m.score,
			m.current_track_id, m.current_track_name, m.current_track_artist, m.current_track_image,
			m.current_track_updated_at,
			m.top_track_id, m.top_track_name, m.top_track_artist, m.top_track_image,
			m.created_at,
			u.display_name, u.photo_url
		FROM group_members m
		JOIN users u ON u.id = m.user_id
		WHERE m.group_id = $1
		ORDER BY m.created_at
	`
	rows, err := r.pool.Query(ctx, query, groupID)
	if err != nil {
		return nil, fmt.Errorf("querying group members: %w", err)
	}
	defer rows.Close()

	var members []MemberWithUser
	for rows.Next() {
		var (
			mw                  MemberWithUser
			curID, curName      *string
			curArtist, curImage *string
			topID, topName      *string
			topArtist, topImage *string
		)
		err := rows.Scan(
			&mw.ID, &mw.GroupID, &mw.UserID, &mw.Score,
			&curID, &curName, &curArtist, &curImage,
			&mw.CurrentTrackUpdatedAt,
			&topID, &topName, &topArtist, &topImage,
			&mw.CreatedAt,
			&mw.DisplayName, &mw.PhotoURL,
		)
		if err != nil {
			return nil, fmt.Errorf("scanning group member: %w", err)
		}
		mw.CurrentTrack = buildSnapshot(curID, curName, curArtist, curImage)
		mw.TopTrack = buildSnapshot(topID, topName, topArtist, topImage)
		members = append(members, mw)
	}
	return members, rows.Err()
}

// UpdateScore writes the derived score for a membership.
func (r *MemberRepository) UpdateScore(ctx context.Context, id uuid.UUID, score int) error {
	result, err := r.pool.Exec(ctx, `UPDATE group_members SET score = $2 WHERE id = $1`, id, score)
	if err != nil {
		return fmt.Errorf("updating score: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateCurrentTrack overwrites the current-track snapshot for a membership.
func (r *MemberRepository) UpdateCurrentTrack(ctx context.Context, id uuid.UUID, snap TrackSnapshot, at time.Time) error {
	query := `
		UPDATE group_members
		SET current_track_id = $2, current_track_name = $3,
			current_track_artist = $4, current_track_image = $5,
			current_track_updated_at = $6
		WHERE id = $1
	`
	result, err := r.pool.Exec(ctx, query, id, snap.ID, snap.Name, snap.Artist, snap.Image, at)
	if err != nil {
		return fmt.Errorf("updating current track: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateTopTrack overwrites the top-track snapshot for a membership.
func (r *MemberRepository) UpdateTopTrack(ctx context.Context, id uuid.UUID, snap TrackSnapshot) error {
	query := `
		UPDATE group_members
		SET top_track_id = $2, top_track_name = $3,
			top_track_artist = $4, top_track_image = $5
		WHERE id = $1
	`
	result, err := r.pool.Exec(ctx, query, id, snap.ID, snap.Name, snap.Artist, snap.Image)
	if err != nil {
		return fmt.Errorf("updating top track: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
