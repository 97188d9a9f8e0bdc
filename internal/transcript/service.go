// Package transcript obtains video transcripts from YouTube and stores them
// in the catalog exactly once.
package transcript

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"github.com/kalambet/ytreader/internal/catalog"
)

// Source retrieves the transcript text of one video.
type Source interface {
	Name() string
	Fetch(ctx context.Context, videoID string) (string, error)
}

// Store is where transcripts are kept. Implemented by catalog.Catalog.
type Store interface {
	Get(id string) (catalog.Video, bool)
	Transcript(id string) (string, bool)
	SetTranscript(id, text, source string) (string, bool, error)
	MarkTranscriptUnavailable(id, reason string) error
}

type Service struct {
	store   Store
	sources []Source
	limiter *rate.Limiter
	group   singleflight.Group
	logger  *slog.Logger
}

// NewLimiter returns a limiter allowing perSecond fetches with no burst.
// Non-positive values disable limiting.
func NewLimiter(perSecond float64) *rate.Limiter {
	if perSecond <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	return rate.NewLimiter(rate.Limit(perSecond), 1)
}

// NewService tries sources in order. limiter may be nil.
func NewService(store Store, limiter *rate.Limiter, sources ...Source) *Service {
	if limiter == nil {
		limiter = NewLimiter(0)
	}
	return &Service{
		store:   store,
		sources: sources,
		limiter: limiter,
		logger:  slog.Default(),
	}
}

// SetLogger replaces the default logger.
func (s *Service) SetLogger(l *slog.Logger) {
	if l != nil {
		s.logger = l
	}
}

// Fetch returns the transcript of videoID. A stored transcript is returned
// without touching the network. Concurrent calls for the same video share one
// fetch. Failures are *UnavailableError; the video is marked unavailable
// unless the failure was rate limiting.
func (s *Service) Fetch(ctx context.Context, videoID string) (string, error) {
	if text, ok := s.store.Transcript(videoID); ok {
		return text, nil
	}
	if _, ok := s.store.Get(videoID); !ok {
		return "", fmt.Errorf("fetching transcript for %s: %w", videoID, catalog.ErrNotFound)
	}

	ch := s.group.DoChan(videoID, func() (any, error) {
		return s.fetch(ctx, videoID)
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (s *Service) fetch(ctx context.Context, videoID string) (string, error) {
	if text, ok := s.store.Transcript(videoID); ok {
		return text, nil
	}
	if err := s.limiter.Wait(ctx); err != nil {
		return "", err
	}

	start := time.Now()
	var errs []error
	rateLimited := false
	for _, src := range s.sources {
		text, err := src.Fetch(ctx, videoID)
		if err == nil && strings.TrimSpace(text) != "" {
			stored, wrote, err := s.store.SetTranscript(videoID, text, src.Name())
			if err != nil {
				return "", fmt.Errorf("storing transcript for %s: %w", videoID, err)
			}
			s.logger.Info("transcript fetched",
				"video_id", videoID,
				"source", src.Name(),
				"chars", len(stored),
				"stored", wrote,
				"duration_ms", time.Since(start).Milliseconds(),
			)
			return stored, nil
		}
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		if err == nil {
			err = errors.New("empty transcript")
		}
		if errors.Is(err, ErrRateLimited) {
			rateLimited = true
		}
		s.logger.Debug("transcript source failed", "video_id", videoID, "source", src.Name(), "error", err)
		errs = append(errs, fmt.Errorf("%s: %w", src.Name(), err))
	}

	if len(errs) == 0 {
		errs = append(errs, errors.New("no transcript sources configured"))
	}
	joined := errors.Join(errs...)

	if rateLimited {
		s.logger.Warn("transcript fetch rate limited", "video_id", videoID)
		return "", unavailable(videoID, "rate limited", joined)
	}

	reason := reasonOf(errs)
	if err := s.store.MarkTranscriptUnavailable(videoID, reason); err != nil {
		s.logger.Warn("failed to mark transcript unavailable", "video_id", videoID, "error", err)
	}
	return "", unavailable(videoID, reason, joined)
}

// reasonOf summarizes source failures for storage, preferring the reason a
// source reported over raw error text.
func reasonOf(errs []error) string {
	for _, err := range errs {
		var ue *UnavailableError
		if errors.As(err, &ue) && ue.Reason != "" {
			return ue.Reason
		}
	}
	return errs[0].Error()
}
