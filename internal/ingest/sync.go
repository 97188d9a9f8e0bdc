// Package ingest mirrors a playlist into the catalog and drives background
// transcript fetching through the SQLite job queue.
package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/kalambet/ytreader/internal/catalog"
	"github.com/kalambet/ytreader/internal/storage"
	"github.com/kalambet/ytreader/internal/youtube"
)

// Catalog is the part of catalog.Catalog a sync writes to.
type Catalog interface {
	Get(id string) (catalog.Video, bool)
	Upsert(p catalog.Playlist, videos []catalog.Video) error
}

// JobQueue accepts transcript jobs.
type JobQueue interface {
	EnqueueJob(job storage.Job) (bool, error)
}

// SyncResult summarizes one sync run.
type SyncResult struct {
	PlaylistID    string        `json:"playlist_id"`
	PlaylistTitle string        `json:"playlist_title"`
	Source        string        `json:"source"`
	Videos        int           `json:"videos"`
	NewVideos     int           `json:"new_videos"`
	Enqueued      int           `json:"transcript_jobs_enqueued"`
	Duration      time.Duration `json:"-"`
	DurationMs    int64         `json:"duration_ms"`
}

// Syncer lists a playlist from a source and upserts it into the catalog.
// Runs are serialized.
type Syncer struct {
	source      youtube.Source
	catalog     Catalog
	jobs        JobQueue
	maxVideos   int
	transcripts bool
	logger      *slog.Logger

	mu sync.Mutex
}

// SyncOptions tune a Syncer.
type SyncOptions struct {
	// MaxVideos caps the number of listed videos. Zero lists all of them.
	MaxVideos int
	// FetchTranscripts enqueues transcript jobs for videos without one.
	FetchTranscripts bool
}

// NewSyncer creates a Syncer. jobs may be nil when transcripts are disabled.
func NewSyncer(source youtube.Source, cat Catalog, jobs JobQueue, opts SyncOptions) *Syncer {
	return &Syncer{
		source:      source,
		catalog:     cat,
		jobs:        jobs,
		maxVideos:   opts.MaxVideos,
		transcripts: opts.FetchTranscripts && jobs != nil,
		logger:      slog.Default(),
	}
}

// SetLogger replaces the default logger.
func (s *Syncer) SetLogger(l *slog.Logger) {
	if l != nil {
		s.logger = l
	}
}

// Sync lists the playlist referenced by ref (an id or URL), stores it and
// queues transcript jobs for videos that still need one.
func (s *Syncer) Sync(ctx context.Context, ref string) (SyncResult, error) {
	id, err := youtube.ParsePlaylistID(ref)
	if err != nil {
		return SyncResult{}, fmt.Errorf("%w: %q", err, ref)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	start := time.Now()
	playlist, videos, err := s.source.Fetch(ctx, id, s.maxVideos)
	if err != nil {
		return SyncResult{}, fmt.Errorf("listing playlist %s: %w", id, err)
	}
	playlist.SyncedAt = time.Now().UTC()

	result := SyncResult{
		PlaylistID:    id,
		PlaylistTitle: playlist.Title,
		Source:        s.source.Name(),
		Videos:        len(videos),
	}
	for _, v := range videos {
		if _, ok := s.catalog.Get(v.ID); !ok {
			result.NewVideos++
		}
	}

	if err := s.catalog.Upsert(playlist, videos); err != nil {
		return SyncResult{}, fmt.Errorf("storing playlist %s: %w", id, err)
	}

	if s.transcripts {
		for _, v := range videos {
			stored, ok := s.catalog.Get(v.ID)
			if !ok || stored.Transcript != nil || stored.TranscriptStatus == catalog.StatusUnavailable {
				continue
			}
			added, err := s.jobs.EnqueueJob(TranscriptJob(v.ID))
			if err != nil {
				return result, fmt.Errorf("queueing transcript job for %s: %w", v.ID, err)
			}
			if added {
				result.Enqueued++
			}
		}
	}

	result.Duration = time.Since(start)
	result.DurationMs = result.Duration.Milliseconds()
	s.logger.Info("playlist synced",
		"playlist_id", id,
		"source", result.Source,
		"videos", result.Videos,
		"new_videos", result.NewVideos,
		"jobs_enqueued", result.Enqueued,
		"duration_ms", result.DurationMs,
	)
	return result, nil
}

// RunPeriodic re-syncs every interval until ctx is cancelled. Failures are
// logged and the next tick tries again.
func (s *Syncer) RunPeriodic(ctx context.Context, ref string, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.Sync(ctx, ref); err != nil && ctx.Err() == nil {
				s.logger.Warn("periodic sync failed", "error", err)
			}
		}
	}
}
