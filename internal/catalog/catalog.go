// Package catalog holds the in-memory view of the mirrored playlist. Every
// mutation is written through to SQLite first so a restart reloads the same
// snapshot.
package catalog

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/kalambet/ytreader/internal/storage"
)

// ErrNotFound is returned for video ids the catalog does not know about.
var ErrNotFound = errors.New("video not found")

// Transcript status values.
const (
	StatusPending     = storage.TranscriptPending
	StatusFetched     = storage.TranscriptFetched
	StatusUnavailable = storage.TranscriptUnavailable
)

// Video is one playlist entry. Transcript is nil until a fetcher stores one.
type Video struct {
	ID               string    `json:"id"`
	PlaylistID       string    `json:"playlist_id"`
	Title            string    `json:"title"`
	Description      string    `json:"description"`
	ChannelTitle     string    `json:"channel_title,omitempty"`
	PublishedAt      time.Time `json:"published_at"`
	Tags             []string  `json:"tags"`
	Position         int       `json:"position"`
	Duration         string    `json:"duration,omitempty"`
	ThumbnailURL     string    `json:"thumbnail_url,omitempty"`
	Transcript       *string   `json:"-"`
	TranscriptSource string    `json:"transcript_source,omitempty"`
	TranscriptStatus string    `json:"transcript_status"`
}

// HasTranscript reports whether a non-empty transcript is stored.
func (v Video) HasTranscript() bool {
	return v.Transcript != nil && strings.TrimSpace(*v.Transcript) != ""
}

// HasText reports whether the video carries any text a question could be
// answered from.
func (v Video) HasText() bool {
	return strings.TrimSpace(v.Description) != "" || v.HasTranscript()
}

// URL returns the watch page URL.
func (v Video) URL() string {
	return "https://www.youtube.com/watch?v=" + v.ID
}

type Playlist struct {
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	Description  string    `json:"description"`
	ChannelTitle string    `json:"channel_title"`
	VideoCount   int       `json:"video_count"`
	PublishedAt  time.Time `json:"published_at"`
	SyncedAt     time.Time `json:"synced_at"`
}

// Store is the persistence the Catalog writes through to.
// Implemented by storage.Store.
type Store interface {
	SavePlaylist(p storage.Playlist) error
	GetPlaylist(id string) (storage.Playlist, error)
	UpsertVideos(videos []storage.Video) error
	ListVideos() ([]storage.Video, error)
	GetVideo(id string) (storage.Video, error)
	SetTranscript(id, text, source string) (bool, error)
	MarkTranscriptUnavailable(id, reason string) error
}

// Catalog is safe for concurrent use. Readers always receive copies.
type Catalog struct {
	store  Store
	logger *slog.Logger

	mu         sync.RWMutex
	playlistID string
	playlist   *Playlist
	videos     map[string]Video
}

// Open loads every stored video into memory. playlistID selects which stored
// playlist metadata is exposed; it may be empty before the first sync.
func Open(store Store, playlistID string) (*Catalog, error) {
	c := &Catalog{
		store:      store,
		logger:     slog.Default(),
		playlistID: playlistID,
		videos:     make(map[string]Video),
	}

	rows, err := store.ListVideos()
	if err != nil {
		return nil, fmt.Errorf("loading videos: %w", err)
	}
	for _, row := range rows {
		if playlistID != "" && row.PlaylistID != playlistID {
			continue
		}
		c.videos[row.ID] = fromRow(row)
	}

	if playlistID != "" {
		p, err := store.GetPlaylist(playlistID)
		switch {
		case err == nil:
			pl := playlistFromRow(p)
			c.playlist = &pl
		case errors.Is(err, storage.ErrNotFound):
		default:
			return nil, fmt.Errorf("loading playlist %s: %w", playlistID, err)
		}
	}

	c.logger.Debug("catalog loaded", "videos", len(c.videos), "playlist_id", playlistID)
	return c, nil
}

// SetLogger replaces the default logger.
func (c *Catalog) SetLogger(l *slog.Logger) {
	if l != nil {
		c.logger = l
	}
}

// Playlist returns the playlist metadata, if a sync has stored it.
func (c *Catalog) Playlist() (Playlist, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.playlist == nil {
		return Playlist{}, false
	}
	return *c.playlist, true
}

// Videos returns a snapshot of every video, newest first.
func (c *Catalog) Videos() []Video {
	c.mu.RLock()
	out := make([]Video, 0, len(c.videos))
	for _, v := range c.videos {
		out = append(out, copyVideo(v))
	}
	c.mu.RUnlock()

	SortNewestFirst(out)
	return out
}

// Get returns one video.
func (c *Catalog) Get(id string) (Video, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.videos[id]
	if !ok {
		return Video{}, false
	}
	return copyVideo(v), true
}

// Len returns the number of videos and how many of them have a transcript.
func (c *Catalog) Len() (videos, transcripts int) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, v := range c.videos {
		if v.HasTranscript() {
			transcripts++
		}
	}
	return len(c.videos), transcripts
}

// Upsert stores playlist metadata and refreshes video metadata. Transcripts
// already held for a video are kept.
func (c *Catalog) Upsert(p Playlist, videos []Video) error {
	if p.SyncedAt.IsZero() {
		p.SyncedAt = time.Now().UTC()
	}
	if err := c.store.SavePlaylist(playlistToRow(p)); err != nil {
		return fmt.Errorf("saving playlist %s: %w", p.ID, err)
	}

	fresh := make([]Video, len(videos))
	rows := make([]storage.Video, len(videos))
	for i, v := range videos {
		if v.PlaylistID == "" {
			v.PlaylistID = p.ID
		}
		fresh[i] = copyVideo(v)
		rows[i] = toRow(v)
	}
	if err := c.store.UpsertVideos(rows); err != nil {
		return fmt.Errorf("saving videos: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.playlistID = p.ID
	pl := p
	c.playlist = &pl
	for _, v := range fresh {
		if existing, ok := c.videos[v.ID]; ok {
			v.Transcript = existing.Transcript
			v.TranscriptSource = existing.TranscriptSource
			v.TranscriptStatus = existing.TranscriptStatus
		} else {
			v.Transcript = nil
			v.TranscriptSource = ""
			v.TranscriptStatus = StatusPending
		}
		c.videos[v.ID] = v
	}
	return nil
}

// Transcript returns the stored transcript for id.
func (c *Catalog) Transcript(id string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.videos[id]
	if !ok || v.Transcript == nil {
		return "", false
	}
	return *v.Transcript, true
}

// SetTranscript stores text as the transcript of id if none is stored yet. It
// returns the transcript that is stored after the call and whether this call
// was the one that wrote it.
func (c *Catalog) SetTranscript(id, text, source string) (string, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	v, ok := c.videos[id]
	if !ok {
		return "", false, ErrNotFound
	}
	if v.Transcript != nil {
		return *v.Transcript, false, nil
	}

	stored, err := c.store.SetTranscript(id, text, source)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return "", false, ErrNotFound
		}
		return "", false, fmt.Errorf("storing transcript for %s: %w", id, err)
	}
	if !stored {
		// Another process wrote it first; the in-memory copy is stale.
		row, err := c.store.GetVideo(id)
		if err != nil {
			return "", false, fmt.Errorf("reloading video %s: %w", id, err)
		}
		c.logger.Warn("transcript already stored by another writer", "video_id", id)
		c.videos[id] = fromRow(row)
		if row.Transcript == nil {
			return "", false, nil
		}
		return *row.Transcript, false, nil
	}

	t := text
	v.Transcript = &t
	v.TranscriptSource = source
	v.TranscriptStatus = StatusFetched
	c.videos[id] = v
	return text, stored, nil
}

// MarkTranscriptUnavailable records that no transcript could be fetched.
func (c *Catalog) MarkTranscriptUnavailable(id, reason string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	v, ok := c.videos[id]
	if !ok {
		return ErrNotFound
	}
	if v.Transcript != nil {
		return nil
	}
	if err := c.store.MarkTranscriptUnavailable(id, reason); err != nil {
		return fmt.Errorf("marking transcript unavailable for %s: %w", id, err)
	}
	v.TranscriptStatus = StatusUnavailable
	c.videos[id] = v
	return nil
}

// SortNewestFirst orders videos by publish date descending, then by id.
func SortNewestFirst(videos []Video) {
	sort.SliceStable(videos, func(i, j int) bool {
		if !videos[i].PublishedAt.Equal(videos[j].PublishedAt) {
			return videos[i].PublishedAt.After(videos[j].PublishedAt)
		}
		return videos[i].ID < videos[j].ID
	})
}

func copyVideo(v Video) Video {
	if v.Tags != nil {
		tags := make([]string, len(v.Tags))
		copy(tags, v.Tags)
		v.Tags = tags
	}
	return v
}

func fromRow(r storage.Video) Video {
	var tags []string
	if r.Tags != "" {
		if err := json.Unmarshal([]byte(r.Tags), &tags); err != nil {
			slog.Warn("ignoring malformed tags", "video_id", r.ID, "error", err)
			tags = nil
		}
	}
	status := r.TranscriptStatus
	if status == "" {
		status = StatusPending
	}
	return Video{
		ID:               r.ID,
		PlaylistID:       r.PlaylistID,
		Title:            r.Title,
		Description:      r.Description,
		ChannelTitle:     r.ChannelTitle,
		PublishedAt:      r.PublishedAt,
		Tags:             tags,
		Position:         r.Position,
		Duration:         r.Duration,
		ThumbnailURL:     r.ThumbnailURL,
		Transcript:       r.Transcript,
		TranscriptSource: r.TranscriptSource,
		TranscriptStatus: status,
	}
}

func toRow(v Video) storage.Video {
	tags := "[]"
	if len(v.Tags) > 0 {
		if b, err := json.Marshal(v.Tags); err == nil {
			tags = string(b)
		}
	}
	return storage.Video{
		ID:           v.ID,
		PlaylistID:   v.PlaylistID,
		Title:        v.Title,
		Description:  v.Description,
		ChannelTitle: v.ChannelTitle,
		PublishedAt:  v.PublishedAt,
		Tags:         tags,
		Position:     v.Position,
		Duration:     v.Duration,
		ThumbnailURL: v.ThumbnailURL,
	}
}

func playlistFromRow(p storage.Playlist) Playlist {
	return Playlist{
		ID:           p.ID,
		Title:        p.Title,
		Description:  p.Description,
		ChannelTitle: p.ChannelTitle,
		VideoCount:   p.VideoCount,
		PublishedAt:  p.PublishedAt,
		SyncedAt:     p.SyncedAt,
	}
}

func playlistToRow(p Playlist) storage.Playlist {
	return storage.Playlist{
		ID:           p.ID,
		Title:        p.Title,
		Description:  p.Description,
		ChannelTitle: p.ChannelTitle,
		VideoCount:   p.VideoCount,
		PublishedAt:  p.PublishedAt,
		SyncedAt:     p.SyncedAt,
	}
}
