package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/kalambet/ytreader/internal/catalog"
	"github.com/kalambet/ytreader/internal/ingest"
	"github.com/kalambet/ytreader/internal/qa"
	"github.com/kalambet/ytreader/internal/storage"
)

const maxRequestBodySize = 1 << 20 // 1MB

// QA answers and searches. Implemented by qa.Service.
type QA interface {
	Answer(ctx context.Context, q qa.Question) (qa.Answer, error)
	Summarize(ctx context.Context) (qa.Answer, error)
	Search(query string, limit int) []qa.SearchHit
}

// Catalog exposes the mirrored playlist. Implemented by catalog.Catalog.
type Catalog interface {
	Playlist() (catalog.Playlist, bool)
	Videos() []catalog.Video
	Get(id string) (catalog.Video, bool)
	Len() (videos, transcripts int)
}

// TranscriptFetcher returns a stored transcript or fetches it on demand.
type TranscriptFetcher interface {
	Fetch(ctx context.Context, videoID string) (string, error)
}

// Syncer re-lists the playlist.
type Syncer interface {
	Sync(ctx context.Context, ref string) (ingest.SyncResult, error)
}

// InteractionStore holds the Q&A history. Implemented by storage.Store.
type InteractionStore interface {
	ListInteractions(limit, offset int) ([]storage.Interaction, error)
	GetInteraction(id string) (storage.Interaction, error)
	UpdateFeedback(id string, score int, notes string) error
}

// HealthChecker reports whether the language model backend is reachable.
type HealthChecker interface {
	IsRunning(ctx context.Context) bool
}

// Deps holds everything the HTTP API serves from. Transcripts, Syncer and
// Health may be nil.
type Deps struct {
	QA             QA
	Catalog        Catalog
	Transcripts    TranscriptFetcher
	Syncer         Syncer
	PlaylistRef    string
	Interactions   InteractionStore
	Health         HealthChecker
	YouTubeAPI     bool
	RequestTimeout time.Duration
	Logger         *slog.Logger
}

// NewHandler returns the HTTP API router.
func NewHandler(deps Deps) http.Handler {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.RequestTimeout <= 0 {
		deps.RequestTimeout = 120 * time.Second
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger(deps.Logger))

	r.Get("/health", handleHealth(deps))

	r.Route("/api", func(r chi.Router) {
		r.Use(middleware.Timeout(deps.RequestTimeout))

		r.Post("/ask", handleAsk(deps))
		r.Post("/search", handleSearch(deps))
		r.Get("/summary", handleSummary(deps))
		r.Get("/playlist", handleGetPlaylist(deps))
		r.Get("/playlist/videos", handleListVideos(deps))
		r.Get("/videos/{id}", handleGetVideo(deps))
		r.Get("/videos/{id}/transcript", handleGetTranscript(deps))
		r.Post("/sync", handleSync(deps))
		r.Get("/interactions", handleListInteractions(deps))
		r.Get("/interactions/{id}", handleGetInteraction(deps))
		r.Post("/interactions/{id}/feedback", handleFeedback(deps))
	})

	return r
}

// requestLogger logs one line per request at debug level.
func requestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			logger.Debug("http request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"bytes", ww.BytesWritten(),
				"request_id", middleware.GetReqID(r.Context()),
				"duration_ms", time.Since(start).Milliseconds(),
			)
		})
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	msg := fmt.Sprintf(format, args...)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    errType,
		},
	})
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
		return false
	}
	return true
}

func parseIntParam(r *http.Request, key string, defaultVal, maxVal int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(s)
	if err != nil || v < 0 {
		return defaultVal
	}
	if maxVal > 0 && v > maxVal {
		return maxVal
	}
	return v
}
