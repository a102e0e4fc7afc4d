package db

import (
	"time"

	"github.com/google/uuid"
)

// User represents a Spotify user with their current credentials.
type User struct {
	ID           string
	SpotifyID    string
	DisplayName  string
	Email        string
	PhotoURL     *string // nullable
	AccessToken  string
	RefreshToken string
	TokenExpiry  time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Group represents a listening group.
type Group struct {
	ID         uuid.UUID
	Name       string
	InviteCode *string // nullable until generated
	CreatedAt  time.Time
}

// TrackSnapshot is the denormalized track tuple cached on a membership
// for display.
type TrackSnapshot struct {
	ID     string
	Name   string
	Artist string
	Image  string
}

// Member represents a user's membership in a group.
// Score is the derived daily listening score; rank is never persisted.
type Member struct {
	ID                    uuid.UUID
	GroupID               uuid.UUID
	UserID                string
	Score                 int
	CurrentTrack          *TrackSnapshot
	CurrentTrackUpdatedAt *time.Time
	TopTrack              *TrackSnapshot
	CreatedAt             time.Time
}

// MemberWithUser joins a membership with the display fields of its user.
type MemberWithUser struct {
	Member
	DisplayName string
	PhotoURL    *string
}

// Play represents one observed listen of a track.
// (UserID, TrackID, PlayedAt) is the uniqueness key.
type Play struct {
	ID         int64
	UserID     string
	TrackID    string
	TrackName  string
	PlayedAt   time.Time
	DurationMs int // effective listened duration, already clamped
}

// PlayKey is the dedupe key of a play.
type PlayKey struct {
	TrackID  string
	PlayedAt time.Time
}

// Recommendation is a track recommended by a group member.
type Recommendation struct {
	ID          uuid.UUID
	MemberID    uuid.UUID
	TrackID     string
	TrackName   string
	TrackArtist string
	TrackImage  string
	TrackURL    string
	CreatedAt   time.Time
}
