package resolver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// YTDLP resolves queries and URLs through the yt-dlp binary. Free-text input
// is searched via ytsearch, matching the binary's default_search contract.
type YTDLP struct {
	Path string
}

func NewYTDLP(path string) *YTDLP {
	if path == "" {
		path = "yt-dlp"
	}
	return &YTDLP{Path: path}
}

func (y *YTDLP) Resolve(ctx context.Context, query string) (*Track, error) {
	cmd := exec.CommandContext(ctx, y.Path,
		"-j",
		"-f", "bestaudio",
		"--no-playlist",
		"--no-warnings",
		"--default-search", "ytsearch",
		query,
	)

	output, err := cmd.Output()
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("yt-dlp: %w", ctx.Err())
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && len(exitErr.Stderr) > 0 {
			return nil, fmt.Errorf("yt-dlp: %s", firstLine(exitErr.Stderr))
		}
		return nil, fmt.Errorf("yt-dlp: %w", err)
	}

	return parseInfo(output, query)
}

type ytdlpFragment struct {
	Duration float64 `json:"duration"`
}

type ytdlpFormat struct {
	URL       string          `json:"url"`
	Fragments []ytdlpFragment `json:"fragments,omitempty"`
}

type ytdlpInfo struct {
	Title      string        `json:"title"`
	WebpageURL string        `json:"webpage_url"`
	URL        string        `json:"url"`
	Duration   float64       `json:"duration"`
	Formats    []ytdlpFormat `json:"formats"`
}

// parseInfo builds a Track from yt-dlp -j output. The stream URL comes from
// the root url field or the first selected format; duration falls back to the
// first fragment for fragmented formats.
func parseInfo(output []byte, query string) (*Track, error) {
	var info ytdlpInfo
	if err := json.Unmarshal(output, &info); err != nil {
		return nil, fmt.Errorf("yt-dlp json unmarshal: %w", err)
	}

	streamURL := strings.TrimSpace(info.URL)
	if streamURL == "" && len(info.Formats) > 0 {
		streamURL = strings.TrimSpace(info.Formats[0].URL)
	}
	if streamURL == "" {
		return nil, ErrNoStreamURL
	}

	if info.Duration == 0 && len(info.Formats) > 0 && len(info.Formats[0].Fragments) > 0 {
		info.Duration = info.Formats[0].Fragments[0].Duration
	}

	title := info.Title
	if title == "" {
		title = "Unknown title"
	}

	sourceURL := info.WebpageURL
	if sourceURL == "" {
		sourceURL = query
	}

	return &Track{
		Title:     title,
		SourceURL: sourceURL,
		StreamURL: streamURL,
		Duration:  time.Duration(info.Duration * float64(time.Second)),
	}, nil
}

func firstLine(b []byte) string {
	s := strings.TrimSpace(string(b))
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	return s
}
