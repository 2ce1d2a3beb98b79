package session

import (
	"log"

	"groovebot/internal/music/resolver"
)

// EventKind classifies session notifications.
type EventKind string

const (
	EventNowPlaying    EventKind = "now_playing"
	EventPlaybackError EventKind = "playback_error"
	EventDisconnected  EventKind = "disconnected"
)

// Event is an observable session notification, consumed by the chat surface
// to post now-playing and error messages.
type Event struct {
	Kind          EventKind
	GuildID       string
	TextChannelID string
	Track         *resolver.Track
	Err           error
}

// emit sends without blocking the worker; a full consumer drops the event.
func (s *Session) emit(evt Event) {
	if s.deps.Events == nil {
		return
	}
	select {
	case s.deps.Events <- evt:
	default:
		log.Printf("[Session] Event dropped (channel full) | guild=%s kind=%s", evt.GuildID, evt.Kind)
	}
}
