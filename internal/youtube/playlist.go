// Package youtube lists the metadata and videos of a YouTube playlist, either
// through the Data API v3 or, without an API key, through the public feed.
package youtube

import (
	"context"
	"errors"
	"net/url"
	"regexp"
	"strings"

	"github.com/kalambet/ytreader/internal/catalog"
)

var (
	ErrInvalidPlaylist  = errors.New("invalid playlist reference")
	ErrPlaylistNotFound = errors.New("playlist not found")
)

// Source lists one playlist.
type Source interface {
	Name() string
	Fetch(ctx context.Context, playlistID string, max int) (catalog.Playlist, []catalog.Video, error)
}

var playlistIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{2,64}$`)

// ParsePlaylistID accepts a bare playlist id or a YouTube URL carrying a
// list= query parameter.
func ParsePlaylistID(ref string) (string, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return "", ErrInvalidPlaylist
	}

	if !strings.Contains(ref, "/") && !strings.Contains(ref, "?") {
		if playlistIDPattern.MatchString(ref) {
			return ref, nil
		}
		return "", ErrInvalidPlaylist
	}

	raw := ref
	if !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", ErrInvalidPlaylist
	}
	host := strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
	host = strings.TrimPrefix(host, "m.")
	switch host {
	case "youtube.com", "music.youtube.com", "youtu.be":
	default:
		return "", ErrInvalidPlaylist
	}

	id := u.Query().Get("list")
	if !playlistIDPattern.MatchString(id) {
		return "", ErrInvalidPlaylist
	}
	return id, nil
}

// PlaylistURL returns the canonical URL of a playlist.
func PlaylistURL(id string) string {
	return "https://www.youtube.com/playlist?list=" + url.QueryEscape(id)
}

func skippedTitle(title string) bool {
	return title == "Private video" || title == "Deleted video"
}
