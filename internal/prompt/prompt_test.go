package prompt

import (
	"errors"
	"fmt"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/kalambet/ytreader/internal/selector"
)

func chunk(id, title, text string) selector.ContextChunk {
	return selector.ContextChunk{VideoID: id, Title: title, Text: text, Score: 1}
}

func TestBuild_Format(t *testing.T) {
	b := New(8000)

	out, err := b.Build("What racing games?", []selector.ContextChunk{
		chunk("abc", "Speedrun Tips", "tricks for racing games"),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !strings.HasPrefix(out, Preamble+"Context:\n") {
		t.Errorf("prompt should start with preamble and context header, got %q", out)
	}
	if !strings.Contains(out, "Video: Speedrun Tips — tricks for racing games\n") {
		t.Errorf("prompt missing video line: %q", out)
	}
	if !strings.HasSuffix(out, "\nQuestion: What racing games?\nAnswer:") {
		t.Errorf("prompt should end with the question, got %q", out)
	}
}

func TestBuild_PreservesChunkOrder(t *testing.T) {
	b := New(8000)

	out, err := b.Build("q", []selector.ContextChunk{
		chunk("2", "Second Best", "b"),
		chunk("1", "Best", "a"),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	first := strings.Index(out, "Video: Second Best")
	second := strings.Index(out, "Video: Best")
	if first < 0 || second < 0 || first > second {
		t.Errorf("chunks not rendered in input order: %q", out)
	}
}

func TestBuild_NoTruncationWhenFits(t *testing.T) {
	b := New(8000)
	text := strings.Repeat("word ", 100)

	out, err := b.Build("q", []selector.ContextChunk{chunk("1", "T", text)})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if strings.Contains(out, "...") {
		t.Error("excerpt should not be truncated when within budget")
	}
}

func TestBuild_OverBudgetTruncatesExcerpts(t *testing.T) {
	var chunks []selector.ContextChunk
	for i := 0; i < 5; i++ {
		chunks = append(chunks, chunk(fmt.Sprint(i), fmt.Sprintf("Title %d", i), strings.Repeat("lorem ipsum ", 200)))
	}

	b := New(1500)
	out, err := b.Build("What is this about?", chunks)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if n := utf8.RuneCountInString(out); n > 1500 {
		t.Errorf("prompt is %d runes, want <= 1500", n)
	}
	for i := 0; i < 5; i++ {
		if !strings.Contains(out, fmt.Sprintf("Video: Title %d", i)) {
			t.Errorf("title %d missing from truncated prompt", i)
		}
	}
	if strings.Count(out, "...\n") != 5 {
		t.Errorf("expected every excerpt truncated with ellipsis, got %q", out)
	}
	if !strings.HasSuffix(out, "\nQuestion: What is this about?\nAnswer:") {
		t.Error("question must survive truncation")
	}
}

func TestBuild_FairShareKeepsShortExcerpts(t *testing.T) {
	chunks := []selector.ContextChunk{
		chunk("short", "Short", "tiny excerpt"),
		chunk("long", "Long", strings.Repeat("x", 5000)),
	}

	b := New(1200)
	out, err := b.Build("q", chunks)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !strings.Contains(out, "Video: Short — tiny excerpt\n") {
		t.Errorf("short excerpt should be kept whole: %q", out)
	}
	if !strings.Contains(out, "Video: Long — xxx") || !strings.Contains(out, "...\n") {
		t.Errorf("long excerpt should be truncated with ellipsis: %q", out)
	}
	if n := utf8.RuneCountInString(out); n > 1200 {
		t.Errorf("prompt is %d runes, want <= 1200", n)
	}
}

func TestBuild_MultibyteBudget(t *testing.T) {
	chunks := []selector.ContextChunk{
		chunk("1", "日本語のタイトル", strings.Repeat("音楽", 2000)),
	}

	b := New(1000)
	out, err := b.Build("これは何？", chunks)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n := utf8.RuneCountInString(out); n > 1000 {
		t.Errorf("prompt is %d runes, want <= 1000", n)
	}
	if !utf8.ValidString(out) {
		t.Error("truncation produced invalid UTF-8")
	}
}

func TestBuild_BudgetTooSmall(t *testing.T) {
	b := New(100)

	_, err := b.Build("q", []selector.ContextChunk{chunk("1", "Title", "text")})
	if !errors.Is(err, ErrBudgetTooSmall) {
		t.Errorf("error = %v, want ErrBudgetTooSmall", err)
	}
}

func TestBuild_TitlesOnlyWhenNoRoomForExcerpts(t *testing.T) {
	chunks := []selector.ContextChunk{
		chunk("1", "Alpha", strings.Repeat("a", 500)),
		chunk("2", "Beta", strings.Repeat("b", 500)),
	}
	head := Preamble + "Context:\n"
	tail := "\nQuestion: q\nAnswer:"
	fixed := utf8.RuneCountInString(head) + utf8.RuneCountInString(tail) +
		utf8.RuneCountInString("Video: Alpha — \n") + utf8.RuneCountInString("Video: Beta — \n")

	b := New(fixed + 2)
	out, err := b.Build("q", chunks)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(out, "Video: Alpha\n") || !strings.Contains(out, "Video: Beta\n") {
		t.Errorf("expected bare titles, got %q", out)
	}
}

func TestBuild_EmptyChunksUsesUnconditioned(t *testing.T) {
	b := New(8000)

	out, err := b.Build("What racing games?", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.HasPrefix(out, UnconditionedPreamble) {
		t.Errorf("expected unconditioned prompt, got %q", out)
	}
	if strings.Contains(out, "Video:") {
		t.Error("unconditioned prompt must not contain video lines")
	}
}

func TestBuildUnconditioned(t *testing.T) {
	b := New(8000)

	out, err := b.BuildUnconditioned("  multi\nline   question ")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.HasSuffix(out, "\nQuestion: multi line question\nAnswer:") {
		t.Errorf("question not normalized: %q", out)
	}

	if _, err := New(10).BuildUnconditioned("q"); !errors.Is(err, ErrBudgetTooSmall) {
		t.Errorf("error = %v, want ErrBudgetTooSmall", err)
	}
}

func TestNew_DefaultBudget(t *testing.T) {
	if b := New(0); b.Budget != 8000 {
		t.Errorf("Budget = %d, want 8000", b.Budget)
	}
}

func TestEstimateTokens(t *testing.T) {
	tests := []struct {
		input string
		want  int
	}{
		{"hello world", 3},
		{"", 0},
		{"abcd", 1},
		{"abcde", 2},
	}

	for _, tt := range tests {
		got := EstimateTokens(tt.input)
		if got != tt.want {
			t.Errorf("EstimateTokens(%q) = %d, want %d", tt.input, got, tt.want)
		}
	}
}
