// Package prompt renders the text sent to the language model from a question
// and its selected context, within a fixed size budget.
package prompt

import (
	"errors"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/kalambet/ytreader/internal/selector"
)

const defaultBudget = 8000

const ellipsis = "..."

// Preamble opens every context-grounded prompt.
const Preamble = "You are an assistant answering questions about the videos of a YouTube playlist. " +
	"Answer using only the context below. Mention the video titles you rely on. " +
	"If the context does not contain the answer, say that the playlist does not cover it.\n\n"

// UnconditionedPreamble opens the prompt used when no video matched.
const UnconditionedPreamble = "You are an assistant answering questions about a YouTube playlist. " +
	"None of the playlist's videos matched this question. Answer briefly from general knowledge " +
	"and state clearly that the playlist itself does not cover the topic.\n"

// ErrBudgetTooSmall is returned when the preamble, every title and the
// question do not fit the budget even with all excerpts removed.
var ErrBudgetTooSmall = errors.New("prompt budget too small for titles and question")

// Builder assembles prompts. Budget is measured in runes.
type Builder struct {
	Budget int
}

// New creates a Builder with the given rune budget. If budget <= 0, the
// default (8000) is used.
func New(budget int) *Builder {
	if budget <= 0 {
		budget = defaultBudget
	}
	return &Builder{Budget: budget}
}

// Build renders the preamble, one "Video: <title> — <excerpt>" line per chunk
// in the given order, and the question last. When the result would exceed
// the budget, excerpts are shortened using a fair share of the remaining
// room; titles are never cut. With no chunks, Build falls back to
// BuildUnconditioned.
func (b *Builder) Build(question string, chunks []selector.ContextChunk) (string, error) {
	if len(chunks) == 0 {
		return b.BuildUnconditioned(question)
	}

	head := Preamble + "Context:\n"
	tail := "\nQuestion: " + oneLine(question) + "\nAnswer:"

	prefixes := make([]string, len(chunks))
	excerpts := make([]string, len(chunks))
	fixed := runes(head) + runes(tail)
	for i, ch := range chunks {
		prefixes[i] = "Video: " + oneLine(ch.Title) + " — "
		excerpts[i] = oneLine(ch.Text)
		fixed += runes(prefixes[i]) + 1 // trailing newline
	}
	if fixed > b.Budget {
		return "", ErrBudgetTooSmall
	}

	allowed := fairShare(excerpts, b.Budget-fixed)

	var sb strings.Builder
	sb.WriteString(head)
	for i := range chunks {
		text := truncate(excerpts[i], allowed[i])
		if text == "" {
			sb.WriteString(strings.TrimSuffix(prefixes[i], " — "))
		} else {
			sb.WriteString(prefixes[i])
			sb.WriteString(text)
		}
		sb.WriteByte('\n')
	}
	sb.WriteString(tail)
	return sb.String(), nil
}

// BuildUnconditioned renders the prompt used when no context matched.
func (b *Builder) BuildUnconditioned(question string) (string, error) {
	out := UnconditionedPreamble + "\nQuestion: " + oneLine(question) + "\nAnswer:"
	if runes(out) > b.Budget {
		return "", ErrBudgetTooSmall
	}
	return out, nil
}

// fairShare splits room among excerpts. Short excerpts keep their full
// length and the rest is divided evenly among the longer ones.
func fairShare(excerpts []string, room int) []int {
	lengths := make([]int, len(excerpts))
	order := make([]int, len(excerpts))
	for i, e := range excerpts {
		lengths[i] = runes(e)
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool { return lengths[order[a]] < lengths[order[b]] })

	allowed := make([]int, len(excerpts))
	left := len(excerpts)
	for _, idx := range order {
		share := room / left
		allowed[idx] = min(lengths[idx], share)
		room -= allowed[idx]
		left--
	}
	return allowed
}

// truncate cuts s to at most n runes, marking the cut with an ellipsis. A
// cut that would leave nothing but the ellipsis yields "".
func truncate(s string, n int) string {
	if runes(s) <= n {
		return s
	}
	if n <= len(ellipsis) {
		return ""
	}
	r := []rune(s)
	kept := strings.TrimRight(string(r[:n-len(ellipsis)]), " ")
	return kept + ellipsis
}

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func runes(s string) int {
	return utf8.RuneCountInString(s)
}

// EstimateTokens provides a rough token count using 4 chars per token heuristic.
func EstimateTokens(text string) int {
	return (len(text) + 3) / 4
}
