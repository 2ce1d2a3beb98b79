package resolver

import (
	"context"
	"errors"
	"fmt"

	youtube "github.com/kkdai/youtube/v2"
)

// YouTube resolves direct YouTube links with the native client, skipping the
// yt-dlp subprocess round trip.
type YouTube struct {
	client *youtube.Client
}

func NewYouTube() *YouTube {
	return &YouTube{client: &youtube.Client{}}
}

// ResolveID fetches video metadata and picks the first audio format.
func (y *YouTube) ResolveID(ctx context.Context, videoID, sourceURL string) (*Track, error) {
	video, err := y.client.GetVideoContext(ctx, videoID)
	if err != nil {
		return nil, fmt.Errorf("youtube client: %w", err)
	}

	formats := video.Formats.WithAudioChannels()
	if len(formats) == 0 {
		return nil, errors.New("no audio formats found for video")
	}

	streamURL, err := y.client.GetStreamURLContext(ctx, video, &formats[0])
	if err != nil {
		return nil, fmt.Errorf("get stream URL: %w", err)
	}

	return &Track{
		Title:     video.Title,
		SourceURL: sourceURL,
		StreamURL: streamURL,
		Duration:  video.Duration,
	}, nil
}
