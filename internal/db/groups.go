package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// GroupRepository handles group database operations.
type GroupRepository struct {
	pool *pgxpool.Pool
}

// Create inserts a new group. The ID and CreatedAt fields are filled in.
func (r *GroupRepository) Create(ctx context.Context, group *Group) error {
	group.ID = uuid.New()
	query := `
		INSERT INTO groups (id, name, created_at)
		VALUES ($1, $2, NOW())
		RETURNING created_at
	`
	err := r.pool.QueryRow(ctx, query, group.ID, group.Name).Scan(&group.CreatedAt)
	if err != nil {
		return fmt.Errorf("inserting group: %w", err)
	}
	return nil
}

// Get retrieves a group by ID.
func (r *GroupRepository) Get(ctx context.Context, id uuid.UUID) (*Group, error) {
	query := `SELECT id, name, invite_code, created_at FROM groups WHERE id = $1`
	var g Group
	err := r.pool.QueryRow(ctx, query, id).Scan(&g.ID, &g.Name, &g.InviteCode, &g.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying group: %w", err)
	}
	return &g, nil
}

// GetByInviteCode retrieves a group by its invite code.
func (r *GroupRepository) GetByInviteCode(ctx context.Context, code string) (*Group, error) {
	query := `SELECT id, name, invite_code, created_at FROM groups WHERE invite_code = $1`
	var g Group
	err := r.pool.QueryRow(ctx, query, code).Scan(&g.ID, &g.Name, &g.InviteCode, &g.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying group by invite code: %w", err)
	}
	return &g, nil
}

// ListByUser returns all groups the user is a member of, oldest first.
func (r *GroupRepository) ListByUser(ctx context.Context, userID string) ([]Group, error) {
	query := `
		SELECT g.id, g.name, g.invite_code, g.created_at
		FROM groups g
		JOIN group_members m ON m.group_id = g.id
		WHERE m.user_id = $1
		ORDER BY g.created_at
	`
	rows, err := r.pool.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("querying user groups: %w", err)
	}
	defer rows.Close()

	var groups []Group
	for rows.Next() {
		var g Group
		if err := rows.Scan(&g.ID, &g.Name, &g.InviteCode, &g.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning group: %w", err)
		}
		groups = append(groups, g)
	}
	return groups, rows.Err()
}

// SetInviteCode persists the invite code for a group.
func (r *GroupRepository) SetInviteCode(ctx context.Context, id uuid.UUID, code string) error {
	result, err := r.pool.Exec(ctx, `UPDATE groups SET invite_code = $2 WHERE id = $1`, id, code)
	if err != nil {
		return fmt.Errorf("setting invite code: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
