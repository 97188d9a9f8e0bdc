package transcript

import (
	"bufio"
	"bytes"
	"fmt"
	"regexp"
	"strings"

	"golang.org/x/net/html"
)

// ParseTimedText extracts the caption text from a YouTube timedtext document.
// Both the classic format (<text> cues) and srv3 (<p> cues with <s> segments)
// are understood. Entities are decoded, including the double-escaped ones
// YouTube emits, and consecutive duplicate cues are dropped.
func ParseTimedText(doc []byte) string {
	z := html.NewTokenizer(bytes.NewReader(doc))

	var cues []string
	var cur strings.Builder
	inCue := false

	for {
		tt := z.Next()
		switch tt {
		case html.ErrorToken:
			if inCue {
				cues = append(cues, cur.String())
			}
			return joinCues(cues)
		case html.StartTagToken:
			name, _ := z.TagName()
			if isCueTag(string(name)) {
				if inCue {
					cues = append(cues, cur.String())
				}
				cur.Reset()
				inCue = true
			}
		case html.EndTagToken:
			name, _ := z.TagName()
			if isCueTag(string(name)) && inCue {
				cues = append(cues, cur.String())
				cur.Reset()
				inCue = false
			}
		case html.TextToken:
			if inCue {
				cur.Write(z.Text())
			}
		}
	}
}

func isCueTag(name string) bool {
	return name == "text" || name == "p"
}

var tagPattern = regexp.MustCompile(`<[^>]*>`)

// cleanCue decodes leftover entities, strips inline markup and collapses
// whitespace.
func cleanCue(s string) string {
	s = html.UnescapeString(s)
	s = tagPattern.ReplaceAllString(s, "")
	return strings.Join(strings.Fields(s), " ")
}

func joinCues(raw []string) string {
	var out []string
	for _, c := range raw {
		c = cleanCue(c)
		if c == "" {
			continue
		}
		if len(out) > 0 && out[len(out)-1] == c {
			continue
		}
		out = append(out, c)
	}
	return strings.Join(out, " ")
}

var vttTimingPattern = regexp.MustCompile(`<\d{2}:\d{2}:\d{2}\.\d{3}>`)

// ParseVTT extracts plain text from a WebVTT subtitle file. Headers, cue
// timings, numeric cue identifiers and styling tags are removed, and the
// rolling duplicate lines of automatic captions are collapsed. A cue line
// longer than 1 MiB is an error.
func ParseVTT(content string) (string, error) {
	var lines []string
	sc := bufio.NewScanner(strings.NewReader(content))
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		switch {
		case line == "",
			strings.HasPrefix(line, "WEBVTT"),
			strings.HasPrefix(line, "NOTE"),
			strings.HasPrefix(line, "Kind:"),
			strings.HasPrefix(line, "Language:"),
			strings.HasPrefix(line, "STYLE"),
			strings.Contains(line, "-->"),
			isDigits(line):
			continue
		}
		lines = append(lines, vttTimingPattern.ReplaceAllString(line, ""))
	}
	if err := sc.Err(); err != nil {
		return "", fmt.Errorf("reading vtt: %w", err)
	}
	return joinCues(lines), nil
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return s != ""
}
