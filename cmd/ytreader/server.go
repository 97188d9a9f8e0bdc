package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/kalambet/ytreader/internal/api"
	"github.com/kalambet/ytreader/internal/config"
	"github.com/kalambet/ytreader/internal/ollama"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the ytreader server (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServer()
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running ytreader server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return stopServer()
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show ytreader system status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return showStatus()
	},
}

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve the playlist over MCP on stdin/stdout",
	Long: `Serve the playlist over the Model Context Protocol using the stdio transport.

The catalog is read from the local data directory; run "ytreader start" or
"ytreader sync" first so it holds the playlist.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runMCP()
	},
}

func pidFilePath(dataDir string) string {
	return filepath.Join(dataDir, "ytreader.pid")
}

func writePIDFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0o644)
}

func readPIDFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(strings.TrimSpace(string(data)))
}

func removePIDFile(path string) {
	os.Remove(path)
}

func runServer() error {
	fmt.Fprintf(stderr, "ytreader version %s\n", version)

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logger := newLogger(cfg.Log.Level)
	slog.SetDefault(logger)

	// Refuse to start twice.
	pidPath := pidFilePath(cfg.Storage.DataDir)
	healthURL := fmt.Sprintf("http://127.0.0.1:%d/health", cfg.Server.Port)
	healthClient := &http.Client{Timeout: 2 * time.Second}
	if resp, err := healthClient.Get(healthURL); err == nil {
		resp.Body.Close()
		if pid, pidErr := readPIDFile(pidPath); pidErr == nil {
			printWarning("ytreader is already running (PID %d)", pid)
			return fmt.Errorf("server already running (PID %d)", pid)
		}
		printWarning("ytreader is already running on port %d", cfg.Server.Port)
		return fmt.Errorf("server already running on port %d", cfg.Server.Port)
	}
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("writing PID file: %w", err)
	}
	defer removePIDFile(pidPath)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := buildApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			fmt.Fprintf(stderr, "warning: closing storage: %v\n", err)
		}
	}()

	// A missing Ollama is not fatal: questions fail with 502 until it is up.
	printStep("Checking Ollama at %s", cfg.Ollama.BaseURL)
	if err := ollama.EnsureReady(ctx, a.ollama, cfg.Ollama.Model, stderr); err != nil {
		if errors.Is(err, ollama.ErrNotRunning) {
			printWarning("Ollama is not running at %s; start it with `ollama serve`", cfg.Ollama.BaseURL)
		} else {
			printWarning("Ollama is not ready: %v", err)
		}
	}

	printStep("Syncing playlist %s", a.playlistID)
	if res, err := a.syncer.Sync(ctx, a.playlistID); err != nil {
		videos, _ := a.catalog.Len()
		if videos == 0 {
			return fmt.Errorf("initial sync failed and no videos are stored: %w", err)
		}
		printWarning("Sync failed, serving %d stored videos: %v", videos, err)
	} else {
		printSuccess("Synced %q: %d videos (%d new), %d transcript jobs queued",
			res.PlaylistTitle, res.Videos, res.NewVideos, res.Enqueued)
	}

	addr := fmt.Sprintf("127.0.0.1:%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           a.handler(logger),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext: func(_ net.Listener) context.Context {
			return ctx
		},
	}

	g, gCtx := errgroup.WithContext(ctx)
	if cfg.Transcript.Enabled {
		g.Go(func() error {
			return a.worker.RunPool(gCtx, cfg.Transcript.Concurrency)
		})
	}
	if cfg.YouTube.SyncInterval > 0 {
		g.Go(func() error {
			a.syncer.RunPeriodic(gCtx, a.playlistID, cfg.YouTube.SyncInterval)
			return nil
		})
	}
	g.Go(func() error {
		fmt.Fprintf(stderr, "ytreader listening on %s\n", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gCtx.Done()
		fmt.Fprintln(stderr, "shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

func runMCP() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	// stdout carries the protocol; logs go to stderr.
	logger := newLogger(cfg.Log.Level)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := buildApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	if videos, _ := a.catalog.Len(); videos == 0 {
		if _, err := a.syncer.Sync(ctx, a.playlistID); err != nil {
			logger.Warn("initial sync failed", "error", err)
		}
	}

	mcpSrv := api.NewMCPServer(a.mcpDeps())
	stdioSrv := server.NewStdioServer(mcpSrv)
	logger.Info("MCP server started (stdio transport)")
	if err := stdioSrv.Listen(ctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("MCP stdio server: %w", err)
	}
	return nil
}

func stopServer() error {
	cfg, err := config.LoadUnvalidated()
	if err != nil {
		printError("could not load config: %v", err)
		return err
	}

	pidPath := pidFilePath(cfg.Storage.DataDir)
	pid, err := readPIDFile(pidPath)
	if err != nil {
		printError("ytreader is not running (no PID file)")
		return fmt.Errorf("not running: %w", err)
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		printError("could not find process %d", pid)
		return err
	}

	if err := process.Signal(syscall.SIGTERM); err != nil {
		printError("could not stop ytreader (PID %d): %v", pid, err)
		removePIDFile(pidPath)
		return err
	}

	printSuccess("Sent stop signal to ytreader (PID %d)", pid)
	return nil
}

func showStatus() error {
	cfg, err := config.LoadUnvalidated()
	if err != nil {
		printError("config error: %v", err)
		return nil
	}

	serverURL := fmt.Sprintf("http://127.0.0.1:%d", cfg.Server.Port)
	client := &http.Client{Timeout: 2 * time.Second}

	var health struct {
		Status      string `json:"status"`
		Videos      int    `json:"videos"`
		Transcripts int    `json:"transcripts"`
		YouTubeAPI  bool   `json:"youtube_api"`
	}
	resp, err := client.Get(serverURL + "/health")
	running := false
	if err != nil {
		printStatus("Server", "stopped")
	} else {
		if resp.StatusCode == http.StatusOK && json.NewDecoder(resp.Body).Decode(&health) == nil {
			running = true
			printStatus("Server", "running on port %d (%s)", cfg.Server.Port, health.Status)
		} else {
			printStatus("Server", "error (HTTP %d)", resp.StatusCode)
		}
		resp.Body.Close()
	}

	oc := ollama.New(cfg.Ollama.BaseURL)
	statusCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if oc.IsRunning(statusCtx) {
		printStatus("Ollama", "running at %s", cfg.Ollama.BaseURL)
		if oc.HasModel(statusCtx, cfg.Ollama.Model) {
			printStatus("Model", "%s", cfg.Ollama.Model)
		} else {
			printStatus("Model", "%s (not pulled)", cfg.Ollama.Model)
		}
	} else {
		printStatus("Ollama", "not running")
		printStatus("Model", "%s", cfg.Ollama.Model)
	}

	printStatus("Playlist", "%s", orNone(cfg.YouTube.PlaylistURL))
	if running {
		printStatus("Videos", "%d (%d with transcripts)", health.Videos, health.Transcripts)
		source := "playlist feed"
		if health.YouTubeAPI {
			source = "YouTube Data API"
		}
		printStatus("Source", "%s", source)
	}
	printStatus("Data dir", "%s", cfg.Storage.DataDir)
	printStatus("Config", "%s", config.ConfigPath())
	return nil
}

func orNone(s string) string {
	if s == "" {
		return "(not set)"
	}
	return s
}
