package youtube

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"
	ext "github.com/mmcdole/gofeed/extensions"

	"github.com/kalambet/ytreader/internal/catalog"
	"github.com/kalambet/ytreader/internal/retry"
)

const defaultFeedBaseURL = "https://www.youtube.com/feeds/videos.xml"

// FeedSource reads the public Atom feed of a playlist. The feed only carries
// the 15 most recent entries and no tags or durations, so it is the fallback
// when no API key is configured.
type FeedSource struct {
	BaseURL string
	parser  *gofeed.Parser
	policy  retry.Policy
	logger  *slog.Logger
}

// NewFeedSource returns a feed source using client for requests.
func NewFeedSource(client *http.Client) *FeedSource {
	p := gofeed.NewParser()
	p.Client = client
	p.UserAgent = "ytreader/1.0"
	return &FeedSource{
		BaseURL: defaultFeedBaseURL,
		parser:  p,
		policy: retry.Policy{
			MaxRetries: 2,
			Backoff:    retry.Exponential(time.Second, 10*time.Second, 2, 0.1),
			Retryable:  feedRetryable,
		},
		logger: slog.Default(),
	}
}

// SetLogger replaces the default logger.
func (f *FeedSource) SetLogger(l *slog.Logger) {
	if l != nil {
		f.logger = l
	}
}

func (f *FeedSource) Name() string { return "youtube_feed" }

func (f *FeedSource) Fetch(ctx context.Context, playlistID string, max int) (catalog.Playlist, []catalog.Video, error) {
	feedURL := f.BaseURL + "?playlist_id=" + url.QueryEscape(playlistID)

	var feed *gofeed.Feed
	_, err := f.policy.Do(ctx, func(ctx context.Context, attempt int) error {
		parsed, err := f.parser.ParseURLWithContext(feedURL, ctx)
		if err != nil {
			f.logger.Debug("playlist feed request failed", "playlist_id", playlistID, "attempt", attempt, "error", err)
			return err
		}
		feed = parsed
		return nil
	})
	if err != nil {
		var exhausted *retry.ExhaustedError
		if errors.As(err, &exhausted) {
			err = exhausted.Err
		}
		var herr gofeed.HTTPError
		if errors.As(err, &herr) && herr.StatusCode == http.StatusNotFound {
			return catalog.Playlist{}, nil, fmt.Errorf("%w: %s", ErrPlaylistNotFound, playlistID)
		}
		return catalog.Playlist{}, nil, fmt.Errorf("reading playlist feed: %w", err)
	}

	p := catalog.Playlist{
		ID:    playlistID,
		Title: feed.Title,
	}
	if len(feed.Authors) > 0 && feed.Authors[0] != nil {
		p.ChannelTitle = feed.Authors[0].Name
	}
	if feed.PublishedParsed != nil {
		p.PublishedAt = feed.PublishedParsed.UTC()
	}

	videos := make([]catalog.Video, 0, len(feed.Items))
	for i, item := range feed.Items {
		v, ok := videoFromEntry(playlistID, i, item)
		if !ok {
			continue
		}
		if v.ChannelTitle == "" {
			v.ChannelTitle = p.ChannelTitle
		}
		videos = append(videos, v)
		if max > 0 && len(videos) == max {
			break
		}
	}
	p.VideoCount = len(videos)

	return p, videos, nil
}

func videoFromEntry(playlistID string, pos int, item *gofeed.Item) (catalog.Video, bool) {
	if item == nil || skippedTitle(item.Title) {
		return catalog.Video{}, false
	}
	id := extensionValue(item.Extensions, "yt", "videoId")
	if id == "" {
		id = strings.TrimPrefix(item.GUID, "yt:video:")
	}
	if id == "" {
		return catalog.Video{}, false
	}

	v := catalog.Video{
		ID:         id,
		PlaylistID: playlistID,
		Title:      item.Title,
		Position:   pos,
	}
	if item.PublishedParsed != nil {
		v.PublishedAt = item.PublishedParsed.UTC()
	}
	if len(item.Authors) > 0 && item.Authors[0] != nil {
		v.ChannelTitle = item.Authors[0].Name
	}

	if group := firstExtension(item.Extensions, "media", "group"); group != nil {
		if d := group.Children["description"]; len(d) > 0 {
			v.Description = strings.TrimSpace(d[0].Value)
		}
		if th := group.Children["thumbnail"]; len(th) > 0 {
			v.ThumbnailURL = th[0].Attrs["url"]
		}
	}
	if v.Description == "" {
		v.Description = strings.TrimSpace(item.Description)
	}
	return v, true
}

func firstExtension(exts ext.Extensions, ns, name string) *ext.Extension {
	if exts == nil {
		return nil
	}
	list := exts[ns][name]
	if len(list) == 0 {
		return nil
	}
	return &list[0]
}

func extensionValue(exts ext.Extensions, ns, name string) string {
	if e := firstExtension(exts, ns, name); e != nil {
		return strings.TrimSpace(e.Value)
	}
	return ""
}

func feedRetryable(err error) bool {
	if !retry.DefaultRetryable(err) {
		return false
	}
	var herr gofeed.HTTPError
	if errors.As(err, &herr) {
		return herr.StatusCode == http.StatusTooManyRequests || herr.StatusCode >= 500
	}
	return !errors.Is(err, gofeed.ErrFeedTypeNotDetected)
}
