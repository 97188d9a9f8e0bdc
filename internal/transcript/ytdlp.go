package transcript

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// YtdlpSource shells out to yt-dlp to download subtitles.
type YtdlpSource struct {
	Path      string
	Languages []string
	Timeout   time.Duration
}

// NewYtdlpSource returns a source running the yt-dlp binary at path.
func NewYtdlpSource(path string, languages []string) *YtdlpSource {
	if path == "" {
		path = "yt-dlp"
	}
	return &YtdlpSource{Path: path, Languages: languages, Timeout: 60 * time.Second}
}

func (y *YtdlpSource) Name() string { return "yt-dlp" }

// Available reports whether the binary can be found.
func (y *YtdlpSource) Available() bool {
	_, err := exec.LookPath(y.Path)
	return err == nil
}

func (y *YtdlpSource) Fetch(ctx context.Context, videoID string) (string, error) {
	bin, err := exec.LookPath(y.Path)
	if err != nil {
		return "", unavailable(videoID, "yt-dlp not installed", err)
	}

	dir, err := os.MkdirTemp("", "ytreader-subs-")
	if err != nil {
		return "", fmt.Errorf("creating temp dir: %w", err)
	}
	defer os.RemoveAll(dir)

	if y.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, y.Timeout)
		defer cancel()
	}

	langs := strings.Join(y.Languages, ",")
	if langs == "" {
		langs = "en"
	}
	cmd := exec.CommandContext(ctx, bin,
		"--skip-download",
		"--write-subs",
		"--write-auto-subs",
		"--sub-langs", langs,
		"--sub-format", "vtt",
		"-o", "%(id)s.%(ext)s",
		"https://www.youtube.com/watch?v="+videoID,
	)
	cmd.Dir = dir
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		msg := strings.TrimSpace(stderr.String())
		if strings.Contains(msg, "HTTP Error 429") {
			return "", ErrRateLimited
		}
		return "", fmt.Errorf("yt-dlp: %w: %s", err, lastLine(msg))
	}

	files, err := filepath.Glob(filepath.Join(dir, "*.vtt"))
	if err != nil {
		return "", err
	}
	if len(files) == 0 {
		return "", unavailable(videoID, "no subtitles", nil)
	}
	sort.Strings(files)

	content, err := os.ReadFile(pickSubtitleFile(files, y.Languages))
	if err != nil {
		return "", fmt.Errorf("reading subtitles: %w", err)
	}
	text, err := ParseVTT(string(content))
	if err != nil {
		return "", err
	}
	if text == "" {
		return "", unavailable(videoID, "empty subtitles", errors.New("no cue text in vtt"))
	}
	return text, nil
}

// pickSubtitleFile prefers files named <id>.<lang>.vtt for the first matching
// preferred language.
func pickSubtitleFile(files, languages []string) string {
	for _, lang := range languages {
		for _, f := range files {
			if strings.HasSuffix(f, "."+lang+".vtt") {
				return f
			}
		}
	}
	return files[0]
}

func lastLine(s string) string {
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		return s[i+1:]
	}
	return s
}
