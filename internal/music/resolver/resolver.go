package resolver

import (
	"context"
	"errors"
	"log"
	"net/url"
	"strings"
	"time"
)

// Track is a resolved playable unit. Immutable once constructed; the stream
// URL is ephemeral and must be re-resolved when stale.
type Track struct {
	Title       string
	SourceURL   string
	StreamURL   string
	Duration    time.Duration
	RequestedBy string
	AddedAt     time.Time
}

// Resolver turns a user query or URL into a playable Track.
type Resolver interface {
	Resolve(ctx context.Context, query string) (*Track, error)
}

var ErrNoStreamURL = errors.New("no audio stream URL found")

// Auto tries the native YouTube client for direct YouTube links and falls
// back to yt-dlp for everything else, including failed fast-path attempts.
type Auto struct {
	YouTube *YouTube
	YTDLP   *YTDLP
}

// NewAuto builds the default resolver chain.
func NewAuto(ytdlpPath string) *Auto {
	return &Auto{
		YouTube: NewYouTube(),
		YTDLP:   NewYTDLP(ytdlpPath),
	}
}

func (a *Auto) Resolve(ctx context.Context, query string) (*Track, error) {
	if id, ok := youtubeVideoID(query); ok {
		track, err := a.YouTube.ResolveID(ctx, id, query)
		if err == nil {
			return track, nil
		}
		log.Printf("[Resolver] YouTube fast path failed for %q: %v, falling back to yt-dlp", query, err)
	}
	return a.YTDLP.Resolve(ctx, query)
}

// youtubeVideoID extracts the video id from watch, short-link and shorts URLs.
func youtubeVideoID(input string) (string, bool) {
	if !isURL(input) {
		return "", false
	}

	u, err := url.Parse(input)
	if err != nil {
		return "", false
	}

	host := strings.TrimPrefix(u.Hostname(), "www.")
	switch host {
	case "youtube.com", "m.youtube.com", "music.youtube.com":
		if u.Path == "/watch" {
			if id := u.Query().Get("v"); id != "" {
				return id, true
			}
		}
		if rest, ok := strings.CutPrefix(u.Path, "/shorts/"); ok && rest != "" {
			return strings.Trim(rest, "/"), true
		}
	case "youtu.be":
		if id := strings.Trim(u.Path, "/"); id != "" {
			return id, true
		}
	}
	return "", false
}

func isURL(input string) bool {
	return strings.HasPrefix(input, "http://") || strings.HasPrefix(input, "https://")
}
