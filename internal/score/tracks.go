package score

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/oauth2"

	"github.com/beatscore/beatscore/internal/auth"
	"github.com/beatscore/beatscore/internal/cache"
	"github.com/beatscore/beatscore/internal/db"
	"github.com/beatscore/beatscore/internal/spotify"
)

// LiveWindow is how long a current-track snapshot counts as "live /
// now playing"; older snapshots are "recently played".
const LiveWindow = 5 * time.Minute

// CurrentTrackLive reports whether a membership's current-track snapshot
// is fresh enough to show as now playing.
func CurrentTrackLive(m *db.Member, now time.Time) bool {
	return m.CurrentTrack != nil &&
		m.CurrentTrackUpdatedAt != nil &&
		now.Sub(*m.CurrentTrackUpdatedAt) <= LiveWindow
}

// RefreshCurrentTrack reconciles what "current track" to show for a
// membership: an active playback session is authoritative; otherwise the
// most recent play stands in; when neither is available the prior snapshot
// is left untouched. Returns the snapshot now on record, which may be nil
// for a membership that never played anything.
func (s *Service) RefreshCurrentTrack(ctx context.Context, memberID uuid.UUID) (*db.TrackSnapshot, error) {
	key := cache.CurrentTrackKey(memberID.String())
	if v, ok := s.cache.Get(key); ok {
		if snap, ok := v.(*db.TrackSnapshot); ok {
			return snap, nil
		}
	}

	member, err := s.members.Get(ctx, memberID)
	if err != nil {
		return nil, fmt.Errorf("getting member: %w", err)
	}

	var track *spotify.Track
	err = auth.Do(ctx, s.creds, member.UserID, func(tok *oauth2.Token) error {
		current, err := s.upstream.CurrentlyPlaying(ctx, tok)
		if err != nil {
			return err
		}
		if current != nil {
			track = current
			return nil
		}

		// Nothing actively playing; fall back to the last play.
		recent, err := s.upstream.RecentPlays(ctx, tok, time.Time{}, 1)
		if err != nil {
			return err
		}
		if len(recent) > 0 {
			track = &recent[0].Track
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if track == nil {
		// Never null out a previously-known track.
		return member.CurrentTrack, nil
	}

	snap := db.TrackSnapshot{
		ID:     track.ID,
		Name:   track.Name,
		Artist: track.Artist,
		Image:  track.Image,
	}
	if err := s.members.UpdateCurrentTrack(ctx, memberID, snap, s.now()); err != nil {
		return nil, fmt.Errorf("writing current track: %w", err)
	}

	s.cache.Set(key, &snap, s.ttl)
	return &snap, nil
}

// RefreshTopTrack fetches the user's short-term top track and overwrites
// the membership snapshot only when the provider returns one.
func (s *Service) RefreshTopTrack(ctx context.Context, memberID uuid.UUID) error {
	member, err := s.members.Get(ctx, memberID)
	if err != nil {
		return fmt.Errorf("getting member: %w", err)
	}

	var track *spotify.Track
	err = auth.Do(ctx, s.creds, member.UserID, func(tok *oauth2.Token) error {
		var err error
		track, err = s.upstream.TopTrack(ctx, tok)
		return err
	})
	if err != nil {
		return err
	}

	if track == nil {
		return nil
	}

	snap := db.TrackSnapshot{
		ID:     track.ID,
		Name:   track.Name,
		Artist: track.Artist,
		Image:  track.Image,
	}
	if err := s.members.UpdateTopTrack(ctx, memberID, snap); err != nil {
		return fmt.Errorf("writing top track: %w", err)
	}
	return nil
}
