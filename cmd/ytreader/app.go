package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/kalambet/ytreader/internal/api"
	"github.com/kalambet/ytreader/internal/catalog"
	"github.com/kalambet/ytreader/internal/config"
	"github.com/kalambet/ytreader/internal/generator"
	"github.com/kalambet/ytreader/internal/ingest"
	"github.com/kalambet/ytreader/internal/ollama"
	"github.com/kalambet/ytreader/internal/prompt"
	"github.com/kalambet/ytreader/internal/qa"
	"github.com/kalambet/ytreader/internal/selector"
	"github.com/kalambet/ytreader/internal/storage"
	"github.com/kalambet/ytreader/internal/transcript"
	"github.com/kalambet/ytreader/internal/youtube"
)

// app is the wired component graph shared by the server and the MCP command.
type app struct {
	cfg         config.Config
	playlistID  string
	store       *storage.Store
	catalog     *catalog.Catalog
	ollama      *ollama.Client
	qa          *qa.Service
	transcripts *transcript.Service
	source      youtube.Source
	syncer      *ingest.Syncer
	worker      *ingest.Worker
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: lvl}))
}

func buildApp(ctx context.Context, cfg config.Config, logger *slog.Logger) (*app, error) {
	playlistID, err := youtube.ParsePlaylistID(cfg.YouTube.PlaylistURL)
	if err != nil {
		return nil, fmt.Errorf("youtube.playlist_url: %w", err)
	}

	store, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		return nil, fmt.Errorf("opening storage: %w", err)
	}
	if n, err := store.PurgeExpiredPayloads(); err != nil {
		logger.Warn("purging api cache failed", "error", err)
	} else if n > 0 {
		logger.Debug("purged expired api cache entries", "count", n)
	}

	cat, err := catalog.Open(store, playlistID)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("loading catalog: %w", err)
	}
	cat.SetLogger(logger)

	gen, err := generator.New(generator.Config{
		Model:      cfg.Ollama.Model,
		BaseURL:    cfg.Ollama.BaseURL,
		Timeout:    cfg.Ollama.Timeout,
		MaxRetries: cfg.Ollama.MaxRetries,
		NumPredict: cfg.Ollama.NumPredict,
	})
	if err != nil {
		store.Close()
		return nil, err
	}
	gen.SetLogger(logger)

	svc := qa.NewService(cat, selector.New(cfg.QA.ExcerptWords), prompt.New(cfg.QA.PromptBudget), gen, qa.Options{
		MaxContextChunks: cfg.QA.MaxContextChunks,
		NoContextPolicy:  qa.NoContextPolicy(cfg.QA.NoContextPolicy),
		Recorder:         store,
		Logger:           logger,
		OnTransition: func(from, to qa.Stage) {
			logger.Debug("qa transition", "from", from, "to", to)
		},
	})

	httpClient := &http.Client{Timeout: 30 * time.Second}
	sources := []transcript.Source{transcript.NewWatchPageSource(httpClient, cfg.Transcript.Languages)}
	if ytdlp := transcript.NewYtdlpSource(cfg.Transcript.YtdlpPath, cfg.Transcript.Languages); ytdlp.Available() {
		sources = append(sources, ytdlp)
	} else {
		logger.Info("yt-dlp not found, transcripts come from the watch page only", "path", cfg.Transcript.YtdlpPath)
	}
	transcripts := transcript.NewService(cat, transcript.NewLimiter(cfg.Transcript.RatePerSecond), sources...)
	transcripts.SetLogger(logger)

	var source youtube.Source
	if cfg.YouTube.APIKey != "" {
		apiSrc, err := youtube.NewAPISource(ctx, youtube.APIConfig{
			APIKey:   cfg.YouTube.APIKey,
			Cache:    store,
			CacheTTL: cfg.Cache.TTL,
		})
		if err != nil {
			store.Close()
			return nil, err
		}
		apiSrc.SetLogger(logger)
		source = apiSrc
	} else {
		feedSrc := youtube.NewFeedSource(httpClient)
		feedSrc.SetLogger(logger)
		source = feedSrc
		logger.Info("no youtube api key configured, using the playlist feed (latest 15 videos only)")
	}

	syncer := ingest.NewSyncer(source, cat, store, ingest.SyncOptions{
		MaxVideos:        cfg.YouTube.MaxVideos,
		FetchTranscripts: cfg.Transcript.Enabled,
	})
	syncer.SetLogger(logger)

	worker := ingest.NewWorker(store, transcripts, 500*time.Millisecond)
	worker.SetLogger(logger)

	return &app{
		cfg:         cfg,
		playlistID:  playlistID,
		store:       store,
		catalog:     cat,
		ollama:      ollama.New(cfg.Ollama.BaseURL),
		qa:          svc,
		transcripts: transcripts,
		source:      source,
		syncer:      syncer,
		worker:      worker,
	}, nil
}

func (a *app) Close() error {
	return a.store.Close()
}

func (a *app) handler(logger *slog.Logger) http.Handler {
	return api.NewHandler(api.Deps{
		QA:             a.qa,
		Catalog:        a.catalog,
		Transcripts:    a.transcripts,
		Syncer:         a.syncer,
		PlaylistRef:    a.playlistID,
		Interactions:   a.store,
		Health:         a.ollama,
		YouTubeAPI:     a.cfg.YouTube.APIKey != "",
		RequestTimeout: a.cfg.Server.RequestTimeout,
		Logger:         logger,
	})
}

func (a *app) mcpDeps() api.MCPDeps {
	return api.MCPDeps{
		QA:           a.qa,
		Catalog:      a.catalog,
		Transcripts:  a.transcripts,
		Interactions: a.store,
	}
}
