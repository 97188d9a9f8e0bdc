// Package qa answers questions about the playlist: it selects context from
// the catalog, renders a bounded prompt and asks the language model.
package qa

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/kalambet/ytreader/internal/catalog"
	"github.com/kalambet/ytreader/internal/generator"
	"github.com/kalambet/ytreader/internal/prompt"
	"github.com/kalambet/ytreader/internal/selector"
	"github.com/kalambet/ytreader/internal/storage"
)

// Stage is a step of the answer state machine.
type Stage string

const (
	StageReceived        Stage = "Received"
	StageContextSelected Stage = "ContextSelected"
	StagePromptBuilt     Stage = "PromptBuilt"
	StageAnswerGenerated Stage = "AnswerGenerated"
	StageCompleted       Stage = "Completed"
	StageFailed          Stage = "Failed"
)

// NoContextPolicy decides what happens when no video matches a question.
type NoContextPolicy string

const (
	// PolicyFallback asks the model without context and flags the answer.
	PolicyFallback NoContextPolicy = "fallback"
	// PolicyRefuse answers with RefusalText without calling the model.
	PolicyRefuse NoContextPolicy = "refuse"
)

// RefusalText is the answer under PolicyRefuse.
const RefusalText = "No relevant content found in the playlist."

// MaxQuestionRunes bounds the accepted question length.
const MaxQuestionRunes = 2000

const summaryQuestion = "Please provide a summary of this YouTube playlist. " +
	"What type of content is it? What can viewers expect? " +
	"Mention key themes, the creator, and overall style."

type Question struct {
	Text             string
	MaxContextChunks int
}

type Answer struct {
	Text                string   `json:"answer"`
	SourceVideoIDs      []string `json:"source_video_ids"`
	GenerationLatencyMs int64    `json:"generation_latency_ms"`
	NoRelevantContext   bool     `json:"no_relevant_context"`
	InteractionID       string   `json:"interaction_id,omitempty"`
	Model               string   `json:"model,omitempty"`
}

// SearchHit is one ranked video returned by Search.
type SearchHit struct {
	VideoID     string    `json:"video_id"`
	Title       string    `json:"title"`
	Excerpt     string    `json:"excerpt"`
	Score       float64   `json:"score"`
	PublishedAt time.Time `json:"published_at"`
	URL         string    `json:"url"`
}

// Corpus supplies the video snapshot. Implemented by catalog.Catalog.
type Corpus interface {
	Videos() []catalog.Video
}

// Generator produces model output. Implemented by generator.Generator.
type Generator interface {
	Generate(ctx context.Context, prompt string) (generator.Generation, error)
	Model() string
}

// Recorder persists interactions. Implemented by storage.Store.
type Recorder interface {
	SaveInteraction(i storage.Interaction) error
}

type Options struct {
	// MaxContextChunks applies when a Question does not set its own bound.
	MaxContextChunks int
	NoContextPolicy  NoContextPolicy
	// OnTransition is called for every stage change, starting with
	// ("", StageReceived).
	OnTransition func(from, to Stage)
	// Recorder stores every answered or failed question. Optional.
	Recorder Recorder
	Logger   *slog.Logger
}

type Service struct {
	corpus   Corpus
	selector *selector.Selector
	builder  *prompt.Builder
	gen      Generator
	opts     Options
	logger   *slog.Logger
}

// NewService wires the answer pipeline.
func NewService(corpus Corpus, sel *selector.Selector, builder *prompt.Builder, gen Generator, opts Options) *Service {
	if sel == nil {
		sel = selector.New(0)
	}
	if builder == nil {
		builder = prompt.New(0)
	}
	if opts.MaxContextChunks <= 0 {
		opts.MaxContextChunks = selector.DefaultMaxChunks
	}
	if opts.NoContextPolicy == "" {
		opts.NoContextPolicy = PolicyFallback
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		corpus:   corpus,
		selector: sel,
		builder:  builder,
		gen:      gen,
		opts:     opts,
		logger:   logger,
	}
}

// Answer runs Received → ContextSelected → PromptBuilt → AnswerGenerated →
// Completed. Any failure ends in Failed and returns a *Error. Finding no
// relevant context is not a failure; see NoContextPolicy.
func (s *Service) Answer(ctx context.Context, q Question) (Answer, error) {
	limit := q.MaxContextChunks
	if limit <= 0 {
		limit = s.opts.MaxContextChunks
	}
	return s.run(ctx, q.Text, func(question string, videos []catalog.Video) []selector.ContextChunk {
		return s.selector.Select(question, limit, videos)
	})
}

// Summarize answers a fixed summary question over the newest videos.
func (s *Service) Summarize(ctx context.Context) (Answer, error) {
	return s.run(ctx, summaryQuestion, func(_ string, videos []catalog.Video) []selector.ContextChunk {
		return s.selector.Recent(videos, s.opts.MaxContextChunks)
	})
}

// Search ranks videos against query without calling the model.
func (s *Service) Search(query string, limit int) []SearchHit {
	ranked := s.selector.Rank(query, limit, s.corpus.Videos())
	hits := make([]SearchHit, len(ranked))
	for i, r := range ranked {
		hits[i] = SearchHit{
			VideoID:     r.VideoID,
			Title:       r.Title,
			Excerpt:     r.Text,
			Score:       r.Score,
			PublishedAt: r.PublishedAt,
			URL:         catalog.Video{ID: r.VideoID}.URL(),
		}
	}
	return hits
}

// attempt tracks one pass through the state machine.
type attempt struct {
	svc      *Service
	id       string
	started  time.Time
	stage    Stage
	question string
	prompt   string
}

func (a *attempt) advance(to Stage) {
	from := a.stage
	a.stage = to
	if a.svc.opts.OnTransition != nil {
		a.svc.opts.OnTransition(from, to)
	}
}

func (a *attempt) fail(kind Kind, message string, err error, noContext bool) *Error {
	qe := &Error{Kind: kind, Stage: a.stage, Message: message, Err: err}
	a.advance(StageFailed)
	a.svc.logger.Warn("question failed",
		"interaction_id", a.id,
		"kind", kind,
		"stage", qe.Stage,
		"error", err,
	)
	a.svc.record(storage.Interaction{
		ID:                a.id,
		CreatedAt:         a.started,
		Question:          a.question,
		Prompt:            a.prompt,
		Model:             a.svc.gen.Model(),
		Status:            "failed",
		ErrorKind:         string(kind),
		NoRelevantContext: noContext,
		LatencyMs:         time.Since(a.started).Milliseconds(),
	})
	return qe
}

func (s *Service) run(ctx context.Context, text string, pick func(string, []catalog.Video) []selector.ContextChunk) (Answer, error) {
	a := &attempt{svc: s, id: uuid.NewString(), started: time.Now().UTC()}
	a.advance(StageReceived)

	question := strings.TrimSpace(text)
	a.question = question
	if question == "" {
		return Answer{}, a.fail(KindInvalidQuestion, "question is empty", nil, false)
	}
	if n := utf8.RuneCountInString(question); n > MaxQuestionRunes {
		return Answer{}, a.fail(KindInvalidQuestion, fmt.Sprintf("question is %d characters, limit is %d", n, MaxQuestionRunes), nil, false)
	}
	if err := ctx.Err(); err != nil {
		kind, msg := contextKind(err)
		return Answer{}, a.fail(kind, msg, err, false)
	}

	chunks := pick(question, s.corpus.Videos())
	noContext := len(chunks) == 0
	a.advance(StageContextSelected)

	refuse := noContext && s.opts.NoContextPolicy == PolicyRefuse
	if !refuse {
		var err error
		if noContext {
			a.prompt, err = s.builder.BuildUnconditioned(question)
		} else {
			a.prompt, err = s.builder.Build(question, chunks)
		}
		if err != nil {
			kind, msg := classify(ctx, err)
			return Answer{}, a.fail(kind, msg, err, noContext)
		}
	}
	a.advance(StagePromptBuilt)

	answer := Answer{
		InteractionID:     a.id,
		NoRelevantContext: noContext,
		SourceVideoIDs:    make([]string, 0, len(chunks)),
	}
	for _, ch := range chunks {
		answer.SourceVideoIDs = append(answer.SourceVideoIDs, ch.VideoID)
	}

	if refuse {
		answer.Text = RefusalText
	} else {
		s.logger.Debug("prompt built",
			"interaction_id", a.id,
			"chunks", len(chunks),
			"prompt_tokens_est", prompt.EstimateTokens(a.prompt),
		)
		gen, err := s.gen.Generate(ctx, a.prompt)
		if err != nil {
			kind, msg := classify(ctx, err)
			return Answer{}, a.fail(kind, msg, err, noContext)
		}
		answer.Text = strings.TrimSpace(gen.Text)
		answer.Model = gen.Model
		answer.GenerationLatencyMs = gen.Latency.Milliseconds()
	}
	a.advance(StageAnswerGenerated)

	sources, _ := json.Marshal(answer.SourceVideoIDs)
	model := answer.Model
	if model == "" {
		model = s.gen.Model()
	}
	s.record(storage.Interaction{
		ID:                a.id,
		CreatedAt:         a.started,
		Question:          question,
		Prompt:            a.prompt,
		Model:             model,
		Answer:            answer.Text,
		SourceVideoIDs:    string(sources),
		Status:            "completed",
		LatencyMs:         answer.GenerationLatencyMs,
		NoRelevantContext: noContext,
	})
	a.advance(StageCompleted)

	s.logger.Info("question answered",
		"interaction_id", a.id,
		"sources", len(answer.SourceVideoIDs),
		"no_relevant_context", noContext,
		"duration_ms", time.Since(a.started).Milliseconds(),
	)
	return answer, nil
}

func (s *Service) record(i storage.Interaction) {
	if s.opts.Recorder == nil {
		return
	}
	if err := s.opts.Recorder.SaveInteraction(i); err != nil {
		s.logger.Warn("failed to record interaction", "interaction_id", i.ID, "error", err)
	}
}
