// Package spotify provides a thin, retrying wrapper around the Spotify Web API.
package spotify

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/zmb3/spotify/v2"
	"golang.org/x/oauth2"
)

// ErrTokenExpired is returned when the provider rejects the bearer
// credential. Callers refresh the credential and retry exactly once.
var ErrTokenExpired = errors.New("spotify token expired")

const requestTimeout = 10 * time.Second

// retryDelays bound retries of transient failures.
var retryDelays = []time.Duration{1 * time.Second, 2 * time.Second, 4 * time.Second}

// Client wraps the Spotify Web API. It is stateless: every call is
// authenticated with the token passed in, so one Client serves all users.
type Client struct {
	timeout time.Duration
}

// New creates a Client.
func New() *Client {
	return &Client{timeout: requestTimeout}
}

// api builds an authenticated API client for one call.
func (c *Client) api(ctx context.Context, tok *oauth2.Token) *spotify.Client {
	httpClient := oauth2.NewClient(ctx, oauth2.StaticTokenSource(tok))
	httpClient.Timeout = c.timeout
	return spotify.New(httpClient, spotify.WithRetry(true))
}

// RecentPlays fetches the user's play history after the given time,
// newest first, up to limit items.
func (c *Client) RecentPlays(ctx context.Context, tok *oauth2.Token, after time.Time, limit int) ([]PlayedTrack, error) {
	opts := &spotify.RecentlyPlayedOptions{Limit: spotify.Numeric(limit)}
	if !after.IsZero() {
		opts.AfterEpochMs = after.UnixMilli()
	}

	var items []spotify.RecentlyPlayedItem
	err := c.withRetry(ctx, func() error {
		var err error
		items, err = c.api(ctx, tok).PlayerRecentlyPlayedOpt(ctx, opts)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("fetching recent plays: %w", err)
	}

	plays := make([]PlayedTrack, len(items))
	for i, item := range items {
		plays[i] = PlayedTrack{
			Track:    convertSimpleTrack(item.Track),
			PlayedAt: item.PlayedAt,
		}
	}
	return plays, nil
}

// CurrentlyPlaying returns the track the user is actively playing, or
// (nil, nil) when there is no active session. The provider signals the
// latter with a no-content response, which is not an error.
func (c *Client) CurrentlyPlaying(ctx context.Context, tok *oauth2.Token) (*Track, error) {
	var playing *spotify.CurrentlyPlaying
	err := c.withRetry(ctx, func() error {
		var err error
		playing, err = c.api(ctx, tok).PlayerCurrentlyPlaying(ctx)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("fetching currently playing: %w", err)
	}

	if playing == nil || playing.Item == nil || !playing.Playing {
		return nil, nil
	}
	track := convertFullTrack(playing.Item)
	return &track, nil
}

// TopTrack returns the user's top track over the short-term window
// (roughly the last 4 weeks), or (nil, nil) when there is none.
func (c *Client) TopTrack(ctx context.Context, tok *oauth2.Token) (*Track, error) {
	var page *spotify.FullTrackPage
	err := c.withRetry(ctx, func() error {
		var err error
		page, err = c.api(ctx, tok).CurrentUsersTopTracks(ctx,
			spotify.Limit(1),
			spotify.Timerange(spotify.ShortTermRange),
		)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("fetching top track: %w", err)
	}

	if page == nil || len(page.Tracks) == 0 {
		return nil, nil
	}
	track := convertFullTrack(&page.Tracks[0])
	return &track, nil
}

// SearchTracks searches the catalog for tracks matching the query.
func (c *Client) SearchTracks(ctx context.Context, tok *oauth2.Token, query string, limit int) ([]Track, error) {
	var result *spotify.SearchResult
	err := c.withRetry(ctx, func() error {
		var err error
		result, err = c.api(ctx, tok).Search(ctx, query, spotify.SearchTypeTrack, spotify.Limit(limit))
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("searching tracks: %w", err)
	}

	if result == nil || result.Tracks == nil {
		return []Track{}, nil
	}
	tracks := make([]Track, len(result.Tracks.Tracks))
	for i := range result.Tracks.Tracks {
		tracks[i] = convertFullTrack(&result.Tracks.Tracks[i])
	}
	return tracks, nil
}

// GetTrack fetches track metadata by ID.
func (c *Client) GetTrack(ctx context.Context, tok *oauth2.Token, id string) (*Track, error) {
	var full *spotify.FullTrack
	err := c.withRetry(ctx, func() error {
		var err error
		full, err = c.api(ctx, tok).GetTrack(ctx, spotify.ID(id))
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("fetching track %s: %w", id, err)
	}
	track := convertFullTrack(full)
	return &track, nil
}

// GetArtist fetches artist metadata by ID.
func (c *Client) GetArtist(ctx context.Context, tok *oauth2.Token, id string) (*Artist, error) {
	var full *spotify.FullArtist
	err := c.withRetry(ctx, func() error {
		var err error
		full, err = c.api(ctx, tok).GetArtist(ctx, spotify.ID(id))
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("fetching artist %s: %w", id, err)
	}
	return &Artist{
		ID:     full.ID.String(),
		Name:   full.Name,
		Genres: full.Genres,
	}, nil
}

// withRetry runs fn, retrying transient failures with backoff. An
// authorization failure is surfaced immediately as ErrTokenExpired; other
// errors propagate unchanged.
func (c *Client) withRetry(ctx context.Context, fn func() error) error {
	var lastErr error
	for attempt := 0; attempt <= len(retryDelays); attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(retryDelays[attempt-1]):
			}
		}

		err := fn()
		if err == nil {
			return nil
		}
		if isUnauthorized(err) {
			return ErrTokenExpired
		}
		if !isTransient(err) {
			return err
		}
		lastErr = err
	}
	return lastErr
}

func isUnauthorized(err error) bool {
	var apiErr spotify.Error
	return errors.As(err, &apiErr) && apiErr.Status == http.StatusUnauthorized
}

func isTransient(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var apiErr spotify.Error
	if errors.As(err, &apiErr) {
		return apiErr.Status >= http.StatusInternalServerError ||
			apiErr.Status == http.StatusTooManyRequests
	}
	// Anything that never reached the API (DNS, connect, reset) is
	// worth another attempt.
	return true
}
