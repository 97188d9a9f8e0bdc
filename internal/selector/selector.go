// Package selector ranks playlist videos against a question by lexical
// overlap and cuts short excerpts from the best matches.
package selector

import (
	"sort"
	"strings"
	"time"
	"unicode"

	"github.com/kalambet/ytreader/internal/catalog"
)

const (
	DefaultMaxChunks    = 5
	MaxChunksLimit      = 20
	DefaultExcerptWords = 120

	// Words kept in front of the first transcript hit.
	leadWords = 8

	titleWeight = 2
	bodyWeight  = 1
)

// ContextChunk is an excerpt of one video used to ground an answer.
type ContextChunk struct {
	VideoID     string    `json:"video_id"`
	Title       string    `json:"title"`
	Text        string    `json:"text"`
	Score       float64   `json:"score"`
	PublishedAt time.Time `json:"published_at"`
}

type Selector struct {
	ExcerptWords int
}

// New returns a Selector cutting excerpts of at most excerptWords words per
// section. Non-positive values select DefaultExcerptWords.
func New(excerptWords int) *Selector {
	if excerptWords <= 0 {
		excerptWords = DefaultExcerptWords
	}
	return &Selector{ExcerptWords: excerptWords}
}

var defaultSelector = New(DefaultExcerptWords)

// Select ranks corpus with the default excerpt size.
func Select(question string, maxChunks int, corpus []catalog.Video) []ContextChunk {
	return defaultSelector.Select(question, maxChunks, corpus)
}

// Select returns at most maxChunks chunks for the videos that share at least
// one token with question, best first. Videos without description or
// transcript text never produce a chunk.
func (s *Selector) Select(question string, maxChunks int, corpus []catalog.Video) []ContextChunk {
	maxChunks = clampChunks(maxChunks)
	terms := distinct(Tokenize(question))
	if len(terms) == 0 {
		return nil
	}

	var chunks []ContextChunk
	for _, v := range corpus {
		if !v.HasText() {
			continue
		}
		score := Score(terms, v)
		if score == 0 {
			continue
		}
		chunks = append(chunks, ContextChunk{
			VideoID:     v.ID,
			Title:       v.Title,
			Text:        s.excerpt(v, terms),
			Score:       score,
			PublishedAt: v.PublishedAt,
		})
	}

	sortChunks(chunks)
	if len(chunks) > maxChunks {
		chunks = chunks[:maxChunks]
	}
	return chunks
}

// Rank scores every video against query, including videos that only match
// by title, and returns the best limit results. Text holds the description
// excerpt.
func (s *Selector) Rank(query string, limit int, corpus []catalog.Video) []ContextChunk {
	if limit <= 0 {
		limit = DefaultMaxChunks
	}
	terms := distinct(Tokenize(query))
	if len(terms) == 0 {
		return nil
	}

	var ranked []ContextChunk
	for _, v := range corpus {
		score := Score(terms, v)
		if score == 0 {
			continue
		}
		ranked = append(ranked, ContextChunk{
			VideoID:     v.ID,
			Title:       v.Title,
			Text:        truncateWords(collapse(v.Description), s.ExcerptWords),
			Score:       score,
			PublishedAt: v.PublishedAt,
		})
	}

	sortChunks(ranked)
	if len(ranked) > limit {
		ranked = ranked[:limit]
	}
	return ranked
}

// Recent returns chunks for the n newest videos that carry text, newest
// first. Scores are zero.
func (s *Selector) Recent(corpus []catalog.Video, n int) []ContextChunk {
	n = clampChunks(n)
	videos := make([]catalog.Video, 0, len(corpus))
	for _, v := range corpus {
		if v.HasText() {
			videos = append(videos, v)
		}
	}
	catalog.SortNewestFirst(videos)
	if len(videos) > n {
		videos = videos[:n]
	}

	chunks := make([]ContextChunk, len(videos))
	for i, v := range videos {
		chunks[i] = ContextChunk{
			VideoID:     v.ID,
			Title:       v.Title,
			Text:        s.excerpt(v, nil),
			PublishedAt: v.PublishedAt,
		}
	}
	return chunks
}

// Tokenize lowercases s, treats every rune that is not a letter or digit as
// a separator and splits on the result.
func Tokenize(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// Score weighs each distinct term: two points for a title match plus one for
// a match in the description, tags or transcript.
func Score(terms []string, v catalog.Video) float64 {
	title := tokenSet(v.Title)
	body := tokenSet(v.Description)
	for _, tag := range v.Tags {
		for _, t := range Tokenize(tag) {
			body[t] = struct{}{}
		}
	}
	if v.Transcript != nil {
		for _, t := range Tokenize(*v.Transcript) {
			body[t] = struct{}{}
		}
	}

	var score float64
	for _, term := range terms {
		if _, ok := title[term]; ok {
			score += titleWeight
		}
		if _, ok := body[term]; ok {
			score += bodyWeight
		}
	}
	return score
}

// excerpt is the truncated description followed by a transcript window
// around the first hit of terms.
func (s *Selector) excerpt(v catalog.Video, terms []string) string {
	desc := truncateWords(collapse(v.Description), s.ExcerptWords)
	if !v.HasTranscript() {
		return desc
	}

	window := transcriptWindow(*v.Transcript, terms, s.ExcerptWords)
	if desc == "" {
		return "Transcript: " + window
	}
	return desc + " Transcript: " + window
}

func transcriptWindow(transcript string, terms []string, size int) string {
	words := strings.Fields(transcript)
	want := make(map[string]struct{}, len(terms))
	for _, t := range terms {
		want[t] = struct{}{}
	}

	start := 0
	if len(want) > 0 {
	search:
		for i, w := range words {
			for _, t := range Tokenize(w) {
				if _, ok := want[t]; ok {
					start = max(0, i-leadWords)
					break search
				}
			}
		}
	}

	end := min(len(words), start+size)
	window := strings.Join(words[start:end], " ")
	if start > 0 {
		window = "..." + window
	}
	if end < len(words) {
		window += "..."
	}
	return window
}

func sortChunks(chunks []ContextChunk) {
	sort.SliceStable(chunks, func(i, j int) bool {
		a, b := chunks[i], chunks[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if !a.PublishedAt.Equal(b.PublishedAt) {
			return a.PublishedAt.After(b.PublishedAt)
		}
		return a.VideoID < b.VideoID
	})
}

func clampChunks(n int) int {
	if n <= 0 {
		return DefaultMaxChunks
	}
	return min(n, MaxChunksLimit)
}

func tokenSet(s string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, t := range Tokenize(s) {
		set[t] = struct{}{}
	}
	return set
}

func distinct(tokens []string) []string {
	seen := make(map[string]struct{}, len(tokens))
	out := tokens[:0]
	for _, t := range tokens {
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func truncateWords(s string, n int) string {
	words := strings.Fields(s)
	if len(words) <= n {
		return s
	}
	return strings.Join(words[:n], " ") + "..."
}
