package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/kalambet/ytreader/internal/catalog"
	"github.com/kalambet/ytreader/internal/qa"
	"github.com/kalambet/ytreader/internal/storage"
	"github.com/kalambet/ytreader/internal/transcript"
	"github.com/kalambet/ytreader/internal/youtube"
)

// statusClientClosedRequest is the nginx convention for a request the
// client abandoned.
const statusClientClosedRequest = 499

type askRequest struct {
	Question  string `json:"question"`
	MaxVideos int    `json:"max_videos"`
}

type source struct {
	VideoID string `json:"video_id"`
	Title   string `json:"title"`
	URL     string `json:"url"`
}

type askResponse struct {
	qa.Answer
	Sources []source `json:"sources"`
}

type searchRequest struct {
	Query      string `json:"query"`
	MaxResults int    `json:"max_results"`
}

type feedbackRequest struct {
	Score int    `json:"score"`
	Notes string `json:"notes"`
}

func handleHealth(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ollama := deps.Health != nil && deps.Health.IsRunning(r.Context())
		videos, transcripts := deps.Catalog.Len()
		status := "healthy"
		if !ollama {
			status = "degraded"
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"status":      status,
			"ollama":      ollama,
			"youtube_api": deps.YouTubeAPI,
			"videos":      videos,
			"transcripts": transcripts,
		})
	}
}

func handleAsk(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req askRequest
		if !decodeBody(w, r, &req) {
			return
		}
		ans, err := deps.QA.Answer(r.Context(), qa.Question{Text: req.Question, MaxContextChunks: req.MaxVideos})
		if err != nil {
			qaError(w, deps, err)
			return
		}
		writeJSON(w, http.StatusOK, askResponse{Answer: ans, Sources: sourcesFor(deps.Catalog, ans.SourceVideoIDs)})
	}
}

func handleSummary(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ans, err := deps.QA.Summarize(r.Context())
		if err != nil {
			qaError(w, deps, err)
			return
		}
		p, _ := deps.Catalog.Playlist()
		writeJSON(w, http.StatusOK, map[string]any{
			"playlist": p,
			"summary":  askResponse{Answer: ans, Sources: sourcesFor(deps.Catalog, ans.SourceVideoIDs)},
		})
	}
}

func handleSearch(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req searchRequest
		if !decodeBody(w, r, &req) {
			return
		}
		if strings.TrimSpace(req.Query) == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "query is required")
			return
		}
		limit := req.MaxResults
		if limit <= 0 {
			limit = 10
		}
		if limit > 50 {
			limit = 50
		}

		hits := deps.QA.Search(req.Query, limit)
		if hits == nil {
			hits = []qa.SearchHit{}
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"query":   req.Query,
			"results": hits,
		})
	}
}

func handleGetPlaylist(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, ok := deps.Catalog.Playlist()
		if !ok {
			httpError(w, http.StatusNotFound, "not_found", "playlist has not been synced yet")
			return
		}
		videos, transcripts := deps.Catalog.Len()
		writeJSON(w, http.StatusOK, map[string]any{
			"playlist":    p,
			"videos":      videos,
			"transcripts": transcripts,
		})
	}
}

func handleListVideos(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := parseIntParam(r, "limit", 20, 200)

		videos := deps.Catalog.Videos()
		catalog.SortNewestFirst(videos)
		if limit > 0 && len(videos) > limit {
			videos = videos[:limit]
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"videos": videos,
			"count":  len(videos),
		})
	}
}

func handleGetVideo(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		v, ok := deps.Catalog.Get(id)
		if !ok {
			httpError(w, http.StatusNotFound, "not_found", "video %s not found", id)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"video":          v,
			"url":            v.URL(),
			"has_transcript": v.HasTranscript(),
		})
	}
}

func handleGetTranscript(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		v, ok := deps.Catalog.Get(id)
		if !ok {
			httpError(w, http.StatusNotFound, "not_found", "video %s not found", id)
			return
		}
		if v.HasTranscript() {
			writeJSON(w, http.StatusOK, map[string]any{
				"video_id":   id,
				"source":     v.TranscriptSource,
				"transcript": *v.Transcript,
			})
			return
		}
		if deps.Transcripts == nil {
			httpError(w, http.StatusNotFound, "not_found", "no transcript stored for video %s", id)
			return
		}

		text, err := deps.Transcripts.Fetch(r.Context(), id)
		switch {
		case err == nil:
		case errors.Is(err, transcript.ErrRateLimited):
			httpError(w, http.StatusServiceUnavailable, "api_error", "transcript fetch rate limited, try again later")
			return
		case errors.Is(err, transcript.ErrUnavailable), errors.Is(err, catalog.ErrNotFound):
			httpError(w, http.StatusNotFound, "not_found", "%v", err)
			return
		default:
			deps.Logger.Error("transcript fetch failed", "video_id", id, "error", err)
			httpError(w, http.StatusBadGateway, "api_error", "transcript fetch failed")
			return
		}

		src := ""
		if v, ok := deps.Catalog.Get(id); ok {
			src = v.TranscriptSource
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"video_id":   id,
			"source":     src,
			"transcript": text,
		})
	}
}

func handleSync(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if deps.Syncer == nil {
			httpError(w, http.StatusServiceUnavailable, "api_error", "sync is not configured")
			return
		}
		res, err := deps.Syncer.Sync(r.Context(), deps.PlaylistRef)
		switch {
		case err == nil:
			writeJSON(w, http.StatusOK, res)
		case errors.Is(err, youtube.ErrInvalidPlaylist):
			httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
		case errors.Is(err, youtube.ErrPlaylistNotFound):
			httpError(w, http.StatusNotFound, "not_found", "%v", err)
		default:
			deps.Logger.Error("sync failed", "error", err)
			httpError(w, http.StatusBadGateway, "api_error", "sync failed: %v", err)
		}
	}
}

func handleListInteractions(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := parseIntParam(r, "limit", 20, 100)
		offset := parseIntParam(r, "offset", 0, 0)

		items, err := deps.Interactions.ListInteractions(limit, offset)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "listing interactions: %v", err)
			return
		}
		if items == nil {
			items = []storage.Interaction{}
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"interactions": items,
			"limit":        limit,
			"offset":       offset,
		})
	}
}

func handleGetInteraction(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		item, err := deps.Interactions.GetInteraction(id)
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "interaction %s not found", id)
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "loading interaction: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, item)
	}
}

func handleFeedback(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		var req feedbackRequest
		if !decodeBody(w, r, &req) {
			return
		}
		if req.Score < -1 || req.Score > 1 {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "score must be -1, 0 or 1")
			return
		}

		err := deps.Interactions.UpdateFeedback(id, req.Score, req.Notes)
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "interaction %s not found", id)
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "saving feedback: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"id": id, "score": req.Score})
	}
}

// statusForKind maps a qa failure to the HTTP status and envelope type.
func statusForKind(k qa.Kind) (int, string) {
	switch k {
	case qa.KindInvalidQuestion, qa.KindPromptBudget:
		return http.StatusBadRequest, "invalid_request_error"
	case qa.KindUpstreamUnavailable, qa.KindUpstreamMalformedResponse:
		return http.StatusBadGateway, "upstream_error"
	case qa.KindUpstreamTimeout:
		return http.StatusGatewayTimeout, "upstream_error"
	case qa.KindCanceled:
		return statusClientClosedRequest, "canceled"
	default:
		return http.StatusInternalServerError, "api_error"
	}
}

func qaError(w http.ResponseWriter, deps Deps, err error) {
	kind := qa.KindOf(err)
	code, errType := statusForKind(kind)
	msg := "internal error"
	var qe *qa.Error
	if errors.As(err, &qe) {
		msg = qe.Message
	}
	if code >= http.StatusInternalServerError {
		deps.Logger.Warn("question failed", "kind", kind, "error", err)
	}
	httpError(w, code, errType, "%s", msg)
}

func sourcesFor(cat Catalog, ids []string) []source {
	out := make([]source, 0, len(ids))
	for _, id := range ids {
		s := source{VideoID: id, URL: "https://www.youtube.com/watch?v=" + id}
		if v, ok := cat.Get(id); ok {
			s.Title = v.Title
			s.URL = v.URL()
		}
		out = append(out, s)
	}
	return out
}
