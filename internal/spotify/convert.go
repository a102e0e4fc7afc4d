package spotify

import "github.com/zmb3/spotify/v2"

// convertSimpleTrack flattens a provider track into the local shape.
func convertSimpleTrack(t spotify.SimpleTrack) Track {
	track := Track{
		ID:         t.ID.String(),
		Name:       t.Name,
		URL:        t.ExternalURLs["spotify"],
		DurationMs: int(t.Duration),
	}
	if len(t.Artists) > 0 {
		track.Artist = t.Artists[0].Name
		track.ArtistID = t.Artists[0].ID.String()
	}
	if len(t.Album.Images) > 0 {
		track.Image = t.Album.Images[0].URL
	}
	return track
}

// convertFullTrack flattens a full provider track, preferring the album
// metadata carried at the top level.
func convertFullTrack(t *spotify.FullTrack) Track {
	track := convertSimpleTrack(t.SimpleTrack)
	if len(t.Album.Images) > 0 {
		track.Image = t.Album.Images[0].URL
	}
	return track
}
