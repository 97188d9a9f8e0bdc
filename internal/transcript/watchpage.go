package transcript

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

const (
	defaultWatchBaseURL = "https://www.youtube.com"
	userAgent           = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0 Safari/537.36"
	playerResponseVar   = "ytInitialPlayerResponse"
)

// WatchPageSource reads the caption track list embedded in a video's watch
// page and downloads the preferred track.
type WatchPageSource struct {
	Client    *http.Client
	BaseURL   string
	Languages []string
}

// NewWatchPageSource returns a source preferring tracks in languages.
func NewWatchPageSource(client *http.Client, languages []string) *WatchPageSource {
	if client == nil {
		client = http.DefaultClient
	}
	return &WatchPageSource{Client: client, BaseURL: defaultWatchBaseURL, Languages: languages}
}

func (w *WatchPageSource) Name() string { return "watch_page" }

type captionTrack struct {
	BaseURL      string `json:"baseUrl"`
	LanguageCode string `json:"languageCode"`
	Kind         string `json:"kind"`
}

type playerResponse struct {
	PlayabilityStatus struct {
		Status string `json:"status"`
		Reason string `json:"reason"`
	} `json:"playabilityStatus"`
	Captions struct {
		Renderer struct {
			CaptionTracks []captionTrack `json:"captionTracks"`
		} `json:"playerCaptionsTracklistRenderer"`
	} `json:"captions"`
}

func (w *WatchPageSource) Fetch(ctx context.Context, videoID string) (string, error) {
	base := strings.TrimRight(w.BaseURL, "/")
	if base == "" {
		base = defaultWatchBaseURL
	}
	page, err := w.get(ctx, base+"/watch?v="+url.QueryEscape(videoID))
	if err != nil {
		return "", fmt.Errorf("loading watch page: %w", err)
	}

	player, err := extractPlayerResponse(page)
	if err != nil {
		return "", unavailable(videoID, "player response not found", err)
	}
	if s := player.PlayabilityStatus.Status; s != "" && s != "OK" {
		reason := player.PlayabilityStatus.Reason
		if reason == "" {
			reason = strings.ToLower(s)
		}
		return "", unavailable(videoID, reason, nil)
	}

	track, ok := pickTrack(player.Captions.Renderer.CaptionTracks, w.Languages)
	if !ok {
		return "", unavailable(videoID, "no captions", nil)
	}

	body, err := w.get(ctx, track.BaseURL)
	if err != nil {
		return "", fmt.Errorf("loading caption track %s: %w", track.LanguageCode, err)
	}
	text := ParseTimedText(body)
	if text == "" {
		return "", unavailable(videoID, "empty caption track", nil)
	}
	return text, nil
}

func (w *WatchPageSource) get(ctx context.Context, rawURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")

	resp, err := w.Client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, ErrRateLimited
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return io.ReadAll(io.LimitReader(resp.Body, 16<<20))
}

// extractPlayerResponse finds the script assigning ytInitialPlayerResponse
// and decodes the object literal.
func extractPlayerResponse(page []byte) (playerResponse, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(string(page)))
	if err != nil {
		return playerResponse{}, fmt.Errorf("parsing watch page: %w", err)
	}

	var raw string
	doc.Find("script").EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		text := sel.Text()
		idx := strings.Index(text, playerResponseVar)
		if idx < 0 {
			return true
		}
		if obj, ok := balancedObject(text[idx+len(playerResponseVar):]); ok {
			raw = obj
			return false
		}
		return true
	})
	if raw == "" {
		return playerResponse{}, errors.New("no ytInitialPlayerResponse script")
	}

	var pr playerResponse
	if err := json.Unmarshal([]byte(raw), &pr); err != nil {
		return playerResponse{}, fmt.Errorf("decoding player response: %w", err)
	}
	return pr, nil
}

// balancedObject returns the first {...} object in s, honoring JSON string
// quoting and escapes.
func balancedObject(s string) (string, bool) {
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return "", false
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[start : i+1], true
			}
		}
	}
	return "", false
}

// pickTrack prefers a manual track in one of languages, then an automatic
// one, then whatever is listed first.
func pickTrack(tracks []captionTrack, languages []string) (captionTrack, bool) {
	if len(tracks) == 0 {
		return captionTrack{}, false
	}
	matches := func(t captionTrack, lang string) bool {
		return t.LanguageCode == lang || strings.HasPrefix(t.LanguageCode, lang+"-")
	}
	for _, lang := range languages {
		for _, t := range tracks {
			if t.Kind != "asr" && matches(t, lang) {
				return t, true
			}
		}
	}
	for _, lang := range languages {
		for _, t := range tracks {
			if t.Kind == "asr" && matches(t, lang) {
				return t, true
			}
		}
	}
	return tracks[0], true
}
