package spotify

import "time"

// Track is the normalized track shape used across the system. Provider
// responses are flattened to it at this package's boundary so no other
// component branches on provider-specific optional fields.
type Track struct {
	ID         string
	Name       string
	Artist     string // primary artist name
	ArtistID   string
	Image      string // album art URL, largest size
	URL        string // external Spotify URL
	DurationMs int    // nominal track length
}

// PlayedTrack is one item of a user's play history.
type PlayedTrack struct {
	Track    Track
	PlayedAt time.Time
	PlayedMs int // actually listened duration; 0 when the provider does not report it
}

// Artist is normalized artist metadata.
type Artist struct {
	ID     string
	Name   string
	Genres []string
}
