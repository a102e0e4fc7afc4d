// Package groups manages listening groups, memberships, and rankings.
package groups

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"slices"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"

	"github.com/beatscore/beatscore/internal/cache"
	"github.com/beatscore/beatscore/internal/db"
	"github.com/beatscore/beatscore/internal/score"
	"github.com/beatscore/beatscore/internal/spotify"
)

// GroupStore is the slice of the store for groups.
type GroupStore interface {
	Create(ctx context.Context, group *db.Group) error
	Get(ctx context.Context, id uuid.UUID) (*db.Group, error)
	GetByInviteCode(ctx context.Context, code string) (*db.Group, error)
	ListByUser(ctx context.Context, userID string) ([]db.Group, error)
	SetInviteCode(ctx context.Context, id uuid.UUID, code string) error
}

// MemberStore is the slice of the store for memberships.
type MemberStore interface {
	Create(ctx context.Context, member *db.Member) error
	Get(ctx context.Context, id uuid.UUID) (*db.Member, error)
	GetByGroupAndUser(ctx context.Context, groupID uuid.UUID, userID string) (*db.Member, error)
	ListByGroup(ctx context.Context, groupID uuid.UUID) ([]db.MemberWithUser, error)
}

// RecommendationStore is the slice of the store for recommendations.
type RecommendationStore interface {
	Create(ctx context.Context, rec *db.Recommendation) error
	ListByMember(ctx context.Context, memberID uuid.UUID) ([]db.Recommendation, error)
}

// ScoreEngine recomputes a user's score across their memberships.
type ScoreEngine interface {
	ComputeAndApply(ctx context.Context, userID string) (*score.Result, error)
}

// RankedMember is a membership with its computed rank and display fields.
type RankedMember struct {
	db.MemberWithUser
	Rank            int
	Live            bool // current-track snapshot fresh enough to show as now playing
	Recommendations []db.Recommendation
}

// GroupView is a group with its ranked members.
type GroupView struct {
	db.Group
	Members []RankedMember
}

// Service implements group operations.
type Service struct {
	groups  GroupStore
	members MemberStore
	recs    RecommendationStore
	engine  ScoreEngine
	cache   *cache.Cache
	logger  *log.Logger
	ttl     time.Duration
	now     func() time.Time
}

// New creates a groups Service.
func New(groups GroupStore, members MemberStore, recs RecommendationStore, engine ScoreEngine, c *cache.Cache, logger *log.Logger) *Service {
	return &Service{
		groups:  groups,
		members: members,
		recs:    recs,
		engine:  engine,
		cache:   c,
		logger:  logger.With("component", "groups"),
		ttl:     cache.DefaultTTL,
		now:     time.Now,
	}
}

// Create creates a group and joins the creator to it.
func (s *Service) Create(ctx context.Context, name, userID string) (*db.Group, error) {
	group := &db.Group{Name: name}
	if err := s.groups.Create(ctx, group); err != nil {
		return nil, fmt.Errorf("creating group: %w", err)
	}

	member := &db.Member{GroupID: group.ID, UserID: userID}
	if err := s.members.Create(ctx, member); err != nil {
		return nil, fmt.Errorf("joining creator: %w", err)
	}

	s.logger.Info("group created", "group", group.ID, "name", name, "owner", userID)
	return group, nil
}

// UserGroups returns the groups the user belongs to.
func (s *Service) UserGroups(ctx context.Context, userID string) ([]db.Group, error) {
	return s.groups.ListByUser(ctx, userID)
}

// GetWithMembers returns the group with its members ranked by score.
// Scores are recomputed first (per-member failures are logged and that
// member keeps its previous state). The view is cached; a missing group
// is a hard db.ErrNotFound.
func (s *Service) GetWithMembers(ctx context.Context, groupID uuid.UUID) (*GroupView, error) {
	key := cache.GroupKey(groupID.String())
	if v, ok := s.cache.Get(key); ok {
		if view, ok := v.(*GroupView); ok {
			return view, nil
		}
	}

	group, err := s.groups.Get(ctx, groupID)
	if err != nil {
		return nil, fmt.Errorf("getting group: %w", err)
	}

	members, err := s.members.ListByGroup(ctx, groupID)
	if err != nil {
		return nil, fmt.Errorf("listing members: %w", err)
	}

	for _, m := range members {
		if _, err := s.engine.ComputeAndApply(ctx, m.UserID); err != nil {
			s.logger.Warn("score update failed", "user", m.UserID, "err", err)
		}
	}

	// Re-read for the fresh scores and snapshots.
	members, err = s.members.ListByGroup(ctx, groupID)
	if err != nil {
		return nil, fmt.Errorf("listing members: %w", err)
	}

	view := &GroupView{Group: *group, Members: rankMembers(members, s.now())}
	for i := range view.Members {
		recs, err := s.recs.ListByMember(ctx, view.Members[i].ID)
		if err != nil {
			return nil, fmt.Errorf("listing recommendations: %w", err)
		}
		view.Members[i].Recommendations = recs
	}

	s.cache.Set(key, view, s.ttl)
	return view, nil
}

// rankMembers orders members by score descending and assigns ranks.
// Input comes ordered by join time; the stable sort makes the earlier
// member win ties, deterministically.
func rankMembers(members []db.MemberWithUser, now time.Time) []RankedMember {
	sorted := slices.Clone(members)
	slices.SortStableFunc(sorted, func(a, b db.MemberWithUser) int {
		return b.Score - a.Score
	})

	ranked := make([]RankedMember, len(sorted))
	for i, m := range sorted {
		ranked[i] = RankedMember{
			MemberWithUser: m,
			Rank:           i + 1,
			Live:           score.CurrentTrackLive(&m.Member, now),
		}
	}
	return ranked
}

// Join adds the user to the group. Returns db.ErrNotFound when the group
// does not exist and db.ErrConflict when the user is already a member.
func (s *Service) Join(ctx context.Context, groupID uuid.UUID, userID string) (*db.Member, error) {
	if _, err := s.groups.Get(ctx, groupID); err != nil {
		return nil, fmt.Errorf("getting group: %w", err)
	}

	member := &db.Member{GroupID: groupID, UserID: userID}
	if err := s.members.Create(ctx, member); err != nil {
		return nil, fmt.Errorf("joining group: %w", err)
	}

	s.cache.Invalidate(cache.GroupKey(groupID.String()))
	s.logger.Info("user joined group", "group", groupID, "user", userID)
	return member, nil
}

// InviteCode returns the group's invite code, generating and persisting
// one on first use.
func (s *Service) InviteCode(ctx context.Context, groupID uuid.UUID) (string, error) {
	group, err := s.groups.Get(ctx, groupID)
	if err != nil {
		return "", fmt.Errorf("getting group: %w", err)
	}
	if group.InviteCode != nil {
		return *group.InviteCode, nil
	}

	sum := md5.Sum(fmt.Appendf(nil, "%s-%d", groupID, s.now().UnixMilli()))
	code := hex.EncodeToString(sum[:])[:8]

	if err := s.groups.SetInviteCode(ctx, groupID, code); err != nil {
		return "", fmt.Errorf("persisting invite code: %w", err)
	}
	return code, nil
}

// JoinByCode resolves an invite code and joins the user to its group.
func (s *Service) JoinByCode(ctx context.Context, code, userID string) (*db.Member, error) {
	group, err := s.groups.GetByInviteCode(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("resolving invite code: %w", err)
	}
	return s.Join(ctx, group.ID, userID)
}

// MemberOf returns the user's membership in the group.
func (s *Service) MemberOf(ctx context.Context, groupID uuid.UUID, userID string) (*db.Member, error) {
	return s.members.GetByGroupAndUser(ctx, groupID, userID)
}

// Recommend appends a track recommendation for a membership.
// Recommendations are append-only and deliberately not deduplicated.
func (s *Service) Recommend(ctx context.Context, memberID uuid.UUID, track spotify.Track) (*db.Recommendation, error) {
	member, err := s.members.Get(ctx, memberID)
	if err != nil {
		return nil, fmt.Errorf("getting member: %w", err)
	}

	rec := &db.Recommendation{
		MemberID:    memberID,
		TrackID:     track.ID,
		TrackName:   track.Name,
		TrackArtist: track.Artist,
		TrackImage:  track.Image,
		TrackURL:    track.URL,
	}
	if err := s.recs.Create(ctx, rec); err != nil {
		return nil, fmt.Errorf("creating recommendation: %w", err)
	}

	s.cache.Invalidate(cache.GroupKey(member.GroupID.String()))
	return rec, nil
}

// Recommendations returns a membership's recommendations, newest first.
func (s *Service) Recommendations(ctx context.Context, memberID uuid.UUID) ([]db.Recommendation, error) {
	if _, err := s.members.Get(ctx, memberID); err != nil {
		return nil, fmt.Errorf("getting member: %w", err)
	}
	return s.recs.ListByMember(ctx, memberID)
}
