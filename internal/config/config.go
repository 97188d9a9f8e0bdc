package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/kalambet/ytreader/internal/youtube"
)

type Config struct {
	Server     ServerConfig
	YouTube    YouTubeConfig
	Transcript TranscriptConfig
	Ollama     OllamaConfig
	QA         QAConfig
	Cache      CacheConfig
	Storage    StorageConfig
	Log        LogConfig
}

type ServerConfig struct {
	Port           int
	RequestTimeout time.Duration
}

type YouTubeConfig struct {
	PlaylistURL  string
	APIKey       string
	MaxVideos    int
	SyncInterval time.Duration
}

type TranscriptConfig struct {
	Enabled       bool
	Languages     []string
	YtdlpPath     string
	RatePerSecond float64
	Concurrency   int
}

type OllamaConfig struct {
	BaseURL    string
	Model      string
	Timeout    time.Duration
	MaxRetries int
	NumPredict int
}

type QAConfig struct {
	MaxContextChunks int
	PromptBudget     int
	ExcerptWords     int
	NoContextPolicy  string
}

type CacheConfig struct {
	TTL time.Duration
}

type StorageConfig struct {
	DataDir string
}

type LogConfig struct {
	Level string
}

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Port:           8000,
			RequestTimeout: 120 * time.Second,
		},
		Transcript: TranscriptConfig{
			Enabled:       true,
			Languages:     []string{"en"},
			YtdlpPath:     "yt-dlp",
			RatePerSecond: 1.0,
			Concurrency:   2,
		},
		Ollama: OllamaConfig{
			BaseURL:    "http://localhost:11434",
			Model:      "llama3.2",
			Timeout:    60 * time.Second,
			MaxRetries: 2,
			NumPredict: 300,
		},
		QA: QAConfig{
			MaxContextChunks: 5,
			PromptBudget:     8000,
			ExcerptWords:     120,
			NoContextPolicy:  "fallback",
		},
		Cache: CacheConfig{
			TTL: 6 * time.Hour,
		},
		Storage: StorageConfig{
			DataDir: defaultDataDir(),
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load reads configuration from the JSON file at
// $XDG_CONFIG_HOME/ytreader/config.json, applies YTREADER_* environment
// overrides and reads the YouTube API key from the secrets file when no
// environment variable provides it.
func Load() (Config, error) {
	return loadFromPath(configFilePath(), secretsFile{path: secretsFilePath()})
}

// LoadUnvalidated is Load without the validation step, for commands that
// only display or edit configuration.
func LoadUnvalidated() (Config, error) {
	return loadWith(newFileBackend(configFilePath()), secretsFile{path: secretsFilePath()})
}

// secretReader abstracts the secrets store for testing.
type secretReader interface {
	Get(service, account string) (string, error)
}

func loadFromPath(path string, secrets secretReader) (Config, error) {
	cfg, err := loadWith(newFileBackend(path), secrets)
	if err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func loadWith(b ConfigBackend, secrets secretReader) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}

	applyEnvOverrides(&cfg)

	if cfg.YouTube.APIKey == "" {
		if key, err := secrets.Get(secretsService, apiKeyAccount); err == nil && key != "" {
			cfg.YouTube.APIKey = strings.TrimSpace(key)
		}
	}

	return cfg, nil
}

// Validate reports every invalid value at once.
func (c Config) Validate() error {
	var errs []error

	if strings.TrimSpace(c.YouTube.PlaylistURL) == "" {
		errs = append(errs, errors.New("missing required config: youtube.playlist_url. "+
			"Set it with `ytreader config set youtube.playlist_url <url>` or YTREADER_PLAYLIST_URL"))
	} else if _, err := youtube.ParsePlaylistID(c.YouTube.PlaylistURL); err != nil {
		errs = append(errs, fmt.Errorf("youtube.playlist_url %q: must be a playlist id or a URL containing list=", c.YouTube.PlaylistURL))
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d is out of range", c.Server.Port))
	}
	if c.Server.RequestTimeout <= 0 {
		errs = append(errs, errors.New("server.request_timeout must be positive"))
	}
	if c.Ollama.Timeout <= 0 {
		errs = append(errs, errors.New("ollama.timeout must be positive"))
	}
	if c.Ollama.MaxRetries < 0 {
		errs = append(errs, errors.New("ollama.max_retries must not be negative"))
	}
	if c.YouTube.MaxVideos < 0 {
		errs = append(errs, errors.New("youtube.max_videos must not be negative"))
	}
	if c.YouTube.SyncInterval < 0 {
		errs = append(errs, errors.New("youtube.sync_interval must not be negative"))
	}
	if c.QA.PromptBudget <= 0 {
		errs = append(errs, errors.New("qa.prompt_budget must be positive"))
	}
	if c.QA.MaxContextChunks <= 0 {
		errs = append(errs, errors.New("qa.max_context_chunks must be positive"))
	}
	if c.QA.ExcerptWords <= 0 {
		errs = append(errs, errors.New("qa.excerpt_words must be positive"))
	}
	switch c.QA.NoContextPolicy {
	case "fallback", "refuse":
	default:
		errs = append(errs, fmt.Errorf("qa.no_context_policy %q must be fallback or refuse", c.QA.NoContextPolicy))
	}
	if c.Transcript.Concurrency <= 0 {
		errs = append(errs, errors.New("transcript.concurrency must be positive"))
	}
	if c.Transcript.RatePerSecond < 0 {
		errs = append(errs, errors.New("transcript.rate_per_second must not be negative"))
	}
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("log.level %q must be debug, info, warn or error", c.Log.Level))
	}

	return errors.Join(errs...)
}
