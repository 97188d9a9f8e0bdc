package youtube

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	yt "google.golang.org/api/youtube/v3"

	"github.com/kalambet/ytreader/internal/catalog"
	"github.com/kalambet/ytreader/internal/retry"
)

const pageSize = 50

// Cache stores raw API payloads. Implemented by storage.Store.
type Cache interface {
	GetCachedPayload(key string) ([]byte, bool, error)
	PutCachedPayload(key string, payload []byte, ttl time.Duration) error
}

// APIConfig configures an APISource. Endpoint and HTTPClient are only set
// by tests.
type APIConfig struct {
	APIKey     string
	Endpoint   string
	HTTPClient *http.Client
	Cache      Cache
	CacheTTL   time.Duration
	Retry      retry.Policy
}

// APISource lists playlists through the YouTube Data API v3.
type APISource struct {
	svc      *yt.Service
	cache    Cache
	cacheTTL time.Duration
	policy   retry.Policy
	logger   *slog.Logger
}

// NewAPISource builds a Data API client. An API key is required.
func NewAPISource(ctx context.Context, cfg APIConfig) (*APISource, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("youtube api key required")
	}
	opts := []option.ClientOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.Endpoint != "" {
		opts = append(opts, option.WithEndpoint(cfg.Endpoint))
	}
	if cfg.HTTPClient != nil {
		opts = append(opts, option.WithHTTPClient(cfg.HTTPClient))
	}
	svc, err := yt.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating youtube service: %w", err)
	}

	policy := cfg.Retry
	if policy.Backoff == nil && policy.MaxRetries == 0 {
		policy = retry.Policy{
			MaxRetries: 3,
			Backoff:    retry.Exponential(time.Second, 30*time.Second, 2, 0.1),
		}
	}
	policy.Retryable = isRetryableAPI

	return &APISource{
		svc:      svc,
		cache:    cfg.Cache,
		cacheTTL: cfg.CacheTTL,
		policy:   policy,
		logger:   slog.Default(),
	}, nil
}

// SetLogger replaces the default logger.
func (a *APISource) SetLogger(l *slog.Logger) {
	if l != nil {
		a.logger = l
	}
}

func (a *APISource) Name() string { return "youtube_api" }

// Fetch returns playlist metadata and up to max videos (all when max <= 0).
func (a *APISource) Fetch(ctx context.Context, playlistID string, max int) (catalog.Playlist, []catalog.Video, error) {
	p, err := a.Playlist(ctx, playlistID)
	if err != nil {
		return catalog.Playlist{}, nil, err
	}
	videos, err := a.ListVideos(ctx, playlistID, max)
	if err != nil {
		return catalog.Playlist{}, nil, err
	}
	return p, videos, nil
}

// Playlist returns playlist metadata from playlists.list.
func (a *APISource) Playlist(ctx context.Context, playlistID string) (catalog.Playlist, error) {
	resp, err := cachedCall(ctx, a, "youtube:playlists:"+playlistID, func(ctx context.Context) (*yt.PlaylistListResponse, error) {
		return a.svc.Playlists.List([]string{"snippet", "contentDetails"}).
			Id(playlistID).
			Context(ctx).
			Do()
	})
	if err != nil {
		return catalog.Playlist{}, wrapAPIError("playlists.list", playlistID, err)
	}
	if len(resp.Items) == 0 {
		return catalog.Playlist{}, fmt.Errorf("%w: %s", ErrPlaylistNotFound, playlistID)
	}

	item := resp.Items[0]
	p := catalog.Playlist{ID: playlistID}
	if s := item.Snippet; s != nil {
		p.Title = s.Title
		p.Description = s.Description
		p.ChannelTitle = s.ChannelTitle
		p.PublishedAt = parseRFC3339(s.PublishedAt)
	}
	if cd := item.ContentDetails; cd != nil {
		p.VideoCount = int(cd.ItemCount)
	}
	return p, nil
}

// ListVideos pages through playlistItems.list and enriches the result with
// tags and durations from videos.list.
func (a *APISource) ListVideos(ctx context.Context, playlistID string, max int) ([]catalog.Video, error) {
	var videos []catalog.Video
	pageToken := ""
	for {
		token := pageToken
		resp, err := cachedCall(ctx, a, "youtube:playlistItems:"+playlistID+":"+token, func(ctx context.Context) (*yt.PlaylistItemListResponse, error) {
			return a.svc.PlaylistItems.List([]string{"snippet", "contentDetails"}).
				PlaylistId(playlistID).
				MaxResults(pageSize).
				PageToken(token).
				Context(ctx).
				Do()
		})
		if err != nil {
			return nil, wrapAPIError("playlistItems.list", playlistID, err)
		}

		for _, item := range resp.Items {
			v, ok := videoFromItem(playlistID, item)
			if !ok {
				continue
			}
			videos = append(videos, v)
		}

		pageToken = resp.NextPageToken
		if pageToken == "" || (max > 0 && len(videos) >= max) {
			break
		}
	}
	if max > 0 && len(videos) > max {
		videos = videos[:max]
	}

	if err := a.enrich(ctx, videos); err != nil {
		return nil, err
	}

	a.logger.Debug("playlist listed", "playlist_id", playlistID, "videos", len(videos))
	return videos, nil
}

func videoFromItem(playlistID string, item *yt.PlaylistItem) (catalog.Video, bool) {
	if item == nil || item.Snippet == nil || item.ContentDetails == nil {
		return catalog.Video{}, false
	}
	s := item.Snippet
	if skippedTitle(s.Title) || item.ContentDetails.VideoId == "" {
		return catalog.Video{}, false
	}

	v := catalog.Video{
		ID:           item.ContentDetails.VideoId,
		PlaylistID:   playlistID,
		Title:        s.Title,
		Description:  s.Description,
		ChannelTitle: s.VideoOwnerChannelTitle,
		Position:     int(s.Position),
		PublishedAt:  parseRFC3339(item.ContentDetails.VideoPublishedAt),
	}
	if v.PublishedAt.IsZero() {
		v.PublishedAt = parseRFC3339(s.PublishedAt)
	}
	if t := s.Thumbnails; t != nil {
		switch {
		case t.High != nil:
			v.ThumbnailURL = t.High.Url
		case t.Medium != nil:
			v.ThumbnailURL = t.Medium.Url
		case t.Default != nil:
			v.ThumbnailURL = t.Default.Url
		}
	}
	return v, true
}

// enrich fills tags and durations with videos.list, fifty ids per call.
func (a *APISource) enrich(ctx context.Context, videos []catalog.Video) error {
	if len(videos) == 0 {
		return nil
	}
	index := make(map[string]int, len(videos))
	for i, v := range videos {
		index[v.ID] = i
	}

	var batches [][]string
	for start := 0; start < len(videos); start += pageSize {
		end := min(start+pageSize, len(videos))
		ids := make([]string, 0, end-start)
		for _, v := range videos[start:end] {
			ids = append(ids, v.ID)
		}
		batches = append(batches, ids)
	}

	results := make([]*yt.VideoListResponse, len(batches))
	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for i, ids := range batches {
		g.Go(func() error {
			resp, err := cachedCall(gCtx, a, videosCacheKey(ids), func(ctx context.Context) (*yt.VideoListResponse, error) {
				return a.svc.Videos.List([]string{"snippet", "contentDetails"}).
					Id(ids...).
					Context(ctx).
					Do()
			})
			if err != nil {
				return wrapAPIError("videos.list", "", err)
			}
			results[i] = resp
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	for _, resp := range results {
		for _, item := range resp.Items {
			i, ok := index[item.Id]
			if !ok {
				continue
			}
			if item.Snippet != nil {
				videos[i].Tags = item.Snippet.Tags
				if videos[i].ChannelTitle == "" {
					videos[i].ChannelTitle = item.Snippet.ChannelTitle
				}
			}
			if item.ContentDetails != nil {
				videos[i].Duration = item.ContentDetails.Duration
			}
		}
	}
	return nil
}

// cachedCall serves a response from the payload cache or performs call under
// the retry policy and caches the result.
func cachedCall[T any](ctx context.Context, a *APISource, key string, call func(context.Context) (*T, error)) (*T, error) {
	if a.cache != nil && a.cacheTTL > 0 {
		payload, ok, err := a.cache.GetCachedPayload(key)
		if err != nil {
			a.logger.Warn("api cache read failed", "key", key, "error", err)
		}
		if ok {
			var cached T
			if err := json.Unmarshal(payload, &cached); err == nil {
				return &cached, nil
			}
		}
	}

	var resp *T
	_, err := a.policy.Do(ctx, func(ctx context.Context, attempt int) error {
		r, err := call(ctx)
		if err != nil {
			a.logger.Debug("youtube api call failed", "key", key, "attempt", attempt, "error", err)
			return err
		}
		resp = r
		return nil
	})
	if err != nil {
		return nil, err
	}

	if a.cache != nil && a.cacheTTL > 0 {
		if payload, err := json.Marshal(resp); err == nil {
			if err := a.cache.PutCachedPayload(key, payload, a.cacheTTL); err != nil {
				a.logger.Warn("api cache write failed", "key", key, "error", err)
			}
		}
	}
	return resp, nil
}

// isRetryableAPI treats quota, auth and not-found responses as permanent and
// server errors, throttling and transport failures as transient.
func isRetryableAPI(err error) bool {
	if !retry.DefaultRetryable(err) {
		return false
	}
	var gerr *googleapi.Error
	if !errors.As(err, &gerr) {
		return true
	}
	switch {
	case gerr.Code == http.StatusTooManyRequests, gerr.Code >= 500:
		return true
	case gerr.Code == http.StatusForbidden:
		for _, item := range gerr.Errors {
			if item.Reason == "rateLimitExceeded" || item.Reason == "userRateLimitExceeded" {
				return true
			}
		}
		return false
	default:
		return false
	}
}

func wrapAPIError(call, playlistID string, err error) error {
	var exhausted *retry.ExhaustedError
	if errors.As(err, &exhausted) {
		err = exhausted.Err
	}
	var gerr *googleapi.Error
	if errors.As(err, &gerr) && gerr.Code == http.StatusNotFound && playlistID != "" {
		return fmt.Errorf("%s: %w: %s", call, ErrPlaylistNotFound, playlistID)
	}
	return fmt.Errorf("%s: %w", call, err)
}

// videosCacheKey hashes a batch of ids into a fixed-size key.
func videosCacheKey(ids []string) string {
	sum := sha256.Sum256([]byte(strings.Join(ids, ",")))
	return "youtube:videos:" + hex.EncodeToString(sum[:16])
}

func parseRFC3339(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}
	}
	return t.UTC()
}
