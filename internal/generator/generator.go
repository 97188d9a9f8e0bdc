// Package generator turns a finished prompt into model output through a local
// Ollama instance, with a per-attempt timeout and bounded retries.
package generator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/kalambet/ytreader/internal/ollama"
	"github.com/kalambet/ytreader/internal/retry"
)

var (
	ErrUpstreamUnavailable       = errors.New("language model unavailable")
	ErrUpstreamTimeout           = errors.New("language model timed out")
	ErrUpstreamMalformedResponse = errors.New("language model returned a malformed response")
)

// UpstreamError describes a failed generation. Kind is one of the ErrUpstream
// sentinels and is matched by errors.Is.
type UpstreamError struct {
	Kind     error
	Attempts int
	Err      error
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("%v after %d attempt(s): %v", e.Kind, e.Attempts, e.Err)
}

func (e *UpstreamError) Unwrap() error { return e.Err }

func (e *UpstreamError) Is(target error) bool { return target == e.Kind }

// Upstream is the completion endpoint. Implemented by ollama.Client.
type Upstream interface {
	Generate(ctx context.Context, req ollama.GenerateRequest) (ollama.GenerateResult, error)
}

type Config struct {
	Model      string
	BaseURL    string
	Timeout    time.Duration // per attempt
	MaxRetries int
	NumPredict int
	// Backoff between attempts. Nil selects exponential backoff from 500ms
	// to 8s with 20% jitter.
	Backoff retry.BackoffFunc
}

// Generation is one successful completion.
type Generation struct {
	Text     string
	Model    string
	Latency  time.Duration
	Attempts int
}

type Generator struct {
	cfg      Config
	upstream Upstream
	logger   *slog.Logger
}

// New validates cfg and returns a Generator backed by an Ollama client at
// cfg.BaseURL.
func New(cfg Config) (*Generator, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("generator: base URL is required")
	}
	return NewWithUpstream(cfg, ollama.New(cfg.BaseURL))
}

// NewWithUpstream returns a Generator using up for completions.
func NewWithUpstream(cfg Config, up Upstream) (*Generator, error) {
	if cfg.Model == "" {
		return nil, errors.New("generator: model is required")
	}
	if cfg.Timeout <= 0 {
		return nil, fmt.Errorf("generator: timeout must be positive, got %s", cfg.Timeout)
	}
	if cfg.MaxRetries < 0 {
		return nil, fmt.Errorf("generator: max retries must not be negative, got %d", cfg.MaxRetries)
	}
	if up == nil {
		return nil, errors.New("generator: upstream is required")
	}
	if cfg.Backoff == nil {
		cfg.Backoff = retry.Exponential(500*time.Millisecond, 8*time.Second, 2.0, 0.2)
	}
	return &Generator{cfg: cfg, upstream: up, logger: slog.Default()}, nil
}

// SetLogger replaces the default logger.
func (g *Generator) SetLogger(l *slog.Logger) {
	if l != nil {
		g.logger = l
	}
}

// Model returns the configured model name.
func (g *Generator) Model() string { return g.cfg.Model }

// attemptTimeout marks an attempt that hit the per-attempt deadline while the
// caller's context was still live.
type attemptTimeout struct {
	err error
}

func (e *attemptTimeout) Error() string { return "attempt timed out: " + e.err.Error() }
func (e *attemptTimeout) Unwrap() error { return e.err }

// Generate sends prompt to the model. If ctx is canceled, ctx.Err() is
// returned as-is. Otherwise failures are *UpstreamError.
func (g *Generator) Generate(ctx context.Context, prompt string) (Generation, error) {
	req := ollama.GenerateRequest{Model: g.cfg.Model, Prompt: prompt}
	if g.cfg.NumPredict > 0 {
		req.Options = &ollama.Options{NumPredict: g.cfg.NumPredict}
	}

	start := time.Now()
	var result ollama.GenerateResult
	timeouts := 0

	policy := retry.Policy{
		MaxRetries: g.cfg.MaxRetries,
		Backoff:    g.cfg.Backoff,
		Retryable:  isTransient,
	}
	attempts, err := policy.Do(ctx, func(ctx context.Context, attempt int) error {
		attemptCtx, cancel := context.WithTimeout(ctx, g.cfg.Timeout)
		defer cancel()

		res, err := g.upstream.Generate(attemptCtx, req)
		if err == nil {
			result = res
			return nil
		}
		if ctx.Err() == nil && errors.Is(attemptCtx.Err(), context.DeadlineExceeded) {
			timeouts++
			err = &attemptTimeout{err: err}
		}
		g.logger.Debug("generate attempt failed", "attempt", attempt, "model", g.cfg.Model, "error", err)
		return err
	})

	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Generation{}, ctxErr
		}

		var exhausted *retry.ExhaustedError
		if errors.As(err, &exhausted) {
			err = exhausted.Err
		}

		kind := ErrUpstreamUnavailable
		switch {
		case errors.Is(err, ollama.ErrMalformedResponse):
			kind = ErrUpstreamMalformedResponse
		case attempts > 0 && timeouts == attempts:
			kind = ErrUpstreamTimeout
		}
		g.logger.Warn("generation failed", "model", g.cfg.Model, "attempts", attempts, "kind", kind, "error", err)
		return Generation{}, &UpstreamError{Kind: kind, Attempts: attempts, Err: err}
	}

	latency := time.Since(start)
	g.logger.Debug("generation completed",
		"model", result.Model,
		"attempts", attempts,
		"duration_ms", latency.Milliseconds(),
		"prompt_chars", len(prompt),
	)
	return Generation{
		Text:     result.Text,
		Model:    result.Model,
		Latency:  latency,
		Attempts: attempts,
	}, nil
}

// isTransient reports whether a failed attempt may succeed when repeated.
func isTransient(err error) bool {
	var timeout *attemptTimeout
	if errors.As(err, &timeout) {
		return true
	}
	if errors.Is(err, ollama.ErrMalformedResponse) {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}

	var status *ollama.StatusError
	if errors.As(err, &status) {
		return status.Code >= http.StatusInternalServerError || status.Code == http.StatusTooManyRequests
	}

	// Transport failures: refused, reset, EOF, DNS.
	return true
}
