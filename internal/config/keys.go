package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type keyType int

const (
	kString keyType = iota
	kInt
	kBool
	kFloat
	kDuration
	kList
)

type keySpec struct {
	key     string
	typ     keyType
	env     string
	secret  bool
	apply   func(cfg *Config, v any)
	extract func(cfg Config) any
}

var specs = []keySpec{
	{
		key: "server.port", typ: kInt, env: "YTREADER_SERVER_PORT",
		apply:   func(cfg *Config, v any) { cfg.Server.Port = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.Port },
	},
	{
		key: "server.request_timeout", typ: kDuration, env: "YTREADER_SERVER_REQUEST_TIMEOUT",
		apply:   func(cfg *Config, v any) { cfg.Server.RequestTimeout = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Server.RequestTimeout },
	},
	{
		key: "youtube.playlist_url", typ: kString, env: "YTREADER_PLAYLIST_URL",
		apply:   func(cfg *Config, v any) { cfg.YouTube.PlaylistURL = v.(string) },
		extract: func(cfg Config) any { return cfg.YouTube.PlaylistURL },
	},
	{
		key: "youtube.api_key", typ: kString, env: "YTREADER_YOUTUBE_API_KEY",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.YouTube.APIKey = v.(string) },
		extract: func(cfg Config) any { return cfg.YouTube.APIKey },
	},
	{
		key: "youtube.max_videos", typ: kInt, env: "YTREADER_YOUTUBE_MAX_VIDEOS",
		apply:   func(cfg *Config, v any) { cfg.YouTube.MaxVideos = v.(int) },
		extract: func(cfg Config) any { return cfg.YouTube.MaxVideos },
	},
	{
		key: "youtube.sync_interval", typ: kDuration, env: "YTREADER_YOUTUBE_SYNC_INTERVAL",
		apply:   func(cfg *Config, v any) { cfg.YouTube.SyncInterval = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.YouTube.SyncInterval },
	},
	{
		key: "transcript.enabled", typ: kBool, env: "YTREADER_TRANSCRIPT_ENABLED",
		apply:   func(cfg *Config, v any) { cfg.Transcript.Enabled = v.(bool) },
		extract: func(cfg Config) any { return cfg.Transcript.Enabled },
	},
	{
		key: "transcript.languages", typ: kList, env: "YTREADER_TRANSCRIPT_LANGUAGES",
		apply:   func(cfg *Config, v any) { cfg.Transcript.Languages = v.([]string) },
		extract: func(cfg Config) any { return strings.Join(cfg.Transcript.Languages, ",") },
	},
	{
		key: "transcript.ytdlp_path", typ: kString, env: "YTREADER_TRANSCRIPT_YTDLP_PATH",
		apply:   func(cfg *Config, v any) { cfg.Transcript.YtdlpPath = v.(string) },
		extract: func(cfg Config) any { return cfg.Transcript.YtdlpPath },
	},
	{
		key: "transcript.rate_per_second", typ: kFloat, env: "YTREADER_TRANSCRIPT_RATE_PER_SECOND",
		apply:   func(cfg *Config, v any) { cfg.Transcript.RatePerSecond = v.(float64) },
		extract: func(cfg Config) any { return cfg.Transcript.RatePerSecond },
	},
	{
		key: "transcript.concurrency", typ: kInt, env: "YTREADER_TRANSCRIPT_CONCURRENCY",
		apply:   func(cfg *Config, v any) { cfg.Transcript.Concurrency = v.(int) },
		extract: func(cfg Config) any { return cfg.Transcript.Concurrency },
	},
	{
		key: "ollama.base_url", typ: kString, env: "YTREADER_OLLAMA_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.Ollama.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Ollama.BaseURL },
	},
	{
		key: "ollama.model", typ: kString, env: "YTREADER_OLLAMA_MODEL",
		apply:   func(cfg *Config, v any) { cfg.Ollama.Model = v.(string) },
		extract: func(cfg Config) any { return cfg.Ollama.Model },
	},
	{
		key: "ollama.timeout", typ: kDuration, env: "YTREADER_OLLAMA_TIMEOUT",
		apply:   func(cfg *Config, v any) { cfg.Ollama.Timeout = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Ollama.Timeout },
	},
	{
		key: "ollama.max_retries", typ: kInt, env: "YTREADER_OLLAMA_MAX_RETRIES",
		apply:   func(cfg *Config, v any) { cfg.Ollama.MaxRetries = v.(int) },
		extract: func(cfg Config) any { return cfg.Ollama.MaxRetries },
	},
	{
		key: "ollama.num_predict", typ: kInt, env: "YTREADER_OLLAMA_NUM_PREDICT",
		apply:   func(cfg *Config, v any) { cfg.Ollama.NumPredict = v.(int) },
		extract: func(cfg Config) any { return cfg.Ollama.NumPredict },
	},
	{
		key: "qa.max_context_chunks", typ: kInt, env: "YTREADER_QA_MAX_CONTEXT_CHUNKS",
		apply:   func(cfg *Config, v any) { cfg.QA.MaxContextChunks = v.(int) },
		extract: func(cfg Config) any { return cfg.QA.MaxContextChunks },
	},
	{
		key: "qa.prompt_budget", typ: kInt, env: "YTREADER_QA_PROMPT_BUDGET",
		apply:   func(cfg *Config, v any) { cfg.QA.PromptBudget = v.(int) },
		extract: func(cfg Config) any { return cfg.QA.PromptBudget },
	},
	{
		key: "qa.excerpt_words", typ: kInt, env: "YTREADER_QA_EXCERPT_WORDS",
		apply:   func(cfg *Config, v any) { cfg.QA.ExcerptWords = v.(int) },
		extract: func(cfg Config) any { return cfg.QA.ExcerptWords },
	},
	{
		key: "qa.no_context_policy", typ: kString, env: "YTREADER_QA_NO_CONTEXT_POLICY",
		apply:   func(cfg *Config, v any) { cfg.QA.NoContextPolicy = v.(string) },
		extract: func(cfg Config) any { return cfg.QA.NoContextPolicy },
	},
	{
		key: "cache.ttl", typ: kDuration, env: "YTREADER_CACHE_TTL",
		apply:   func(cfg *Config, v any) { cfg.Cache.TTL = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Cache.TTL },
	},
	{
		key: "storage.data_dir", typ: kString, env: "YTREADER_STORAGE_DATA_DIR",
		apply:   func(cfg *Config, v any) { cfg.Storage.DataDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.DataDir },
	},
	{
		key: "log.level", typ: kString, env: "YTREADER_LOG_LEVEL",
		apply:   func(cfg *Config, v any) { cfg.Log.Level = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Level },
	},
}

func findSpec(key string) (keySpec, bool) {
	for _, s := range specs {
		if s.key == key {
			return s, true
		}
	}
	return keySpec{}, false
}

// parseValue converts raw into the Go type of s.
func parseValue(s keySpec, raw string) (any, error) {
	switch s.typ {
	case kInt:
		return strconv.Atoi(raw)
	case kBool:
		return strconv.ParseBool(raw)
	case kFloat:
		return strconv.ParseFloat(raw, 64)
	case kDuration:
		return time.ParseDuration(raw)
	case kList:
		return splitList(raw), nil
	default:
		return raw, nil
	}
}

func splitList(raw string) []string {
	var out []string
	for _, p := range strings.Split(raw, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func applyBackend(cfg *Config, b ConfigBackend) error {
	for _, s := range specs {
		if s.secret {
			continue
		}
		switch s.typ {
		case kString:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		case kInt:
			v, ok, err := b.GetInt(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		case kDuration:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok && v != "" {
				d, err := time.ParseDuration(v)
				if err != nil {
					return fmt.Errorf("invalid duration for %s: %w", s.key, err)
				}
				s.apply(cfg, d)
			}
		case kBool, kFloat, kList:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok && v != "" {
				if pv, err := parseValue(s, v); err == nil {
					s.apply(cfg, pv)
				} else {
					fmt.Fprintf(os.Stderr, "[WARN] could not parse config key %s=%q: %v. Using default value.\n", s.key, v, err)
				}
			}
		}
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	for _, s := range specs {
		if s.env == "" {
			continue
		}
		raw := os.Getenv(s.env)
		if raw == "" {
			continue
		}
		v, err := parseValue(s, raw)
		if err != nil {
			fmt.Fprintf(os.Stderr, "[WARN] could not parse env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			continue
		}
		s.apply(cfg, v)
	}
}
