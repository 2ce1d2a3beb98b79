package session

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"
)

// Registry is the process-wide map from guild id to session. Sessions are
// created lazily and reclaimed on leave or after idling past the timeout.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	deps     Deps
}

func NewRegistry(deps Deps) *Registry {
	return &Registry{
		sessions: make(map[string]*Session),
		deps:     deps,
	}
}

// GetOrCreate returns the guild's session, creating it on first reference.
func (r *Registry) GetOrCreate(guildID string) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()

	if s, ok := r.sessions[guildID]; ok {
		return s
	}

	s := New(guildID, r.deps)
	r.sessions[guildID] = s
	log.Printf("[Registry] Created session | guild=%s total=%d", guildID, len(r.sessions))
	return s
}

// Get returns the guild's session without creating one.
func (r *Registry) Get(guildID string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[guildID]
	return s, ok
}

// Remove closes and drops the guild's session. Callers must drive the
// session to an empty, disconnected state first; removing live state is a
// programming error.
func (r *Registry) Remove(guildID string) {
	if !r.tryRemove(guildID) {
		panic(fmt.Sprintf("registry: removing session with live state (guild=%s)", guildID))
	}
}

// tryRemove drops the session only if it holds no live state.
func (r *Registry) tryRemove(guildID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[guildID]
	if !ok {
		return true
	}

	snap := s.Snapshot()
	if snap.Connected || snap.NowPlaying != nil || len(snap.Queue) > 0 {
		return false
	}

	s.Close()
	delete(r.sessions, guildID)
	log.Printf("[Registry] Removed session | guild=%s total=%d", guildID, len(r.sessions))
	return true
}

// Count returns the number of tracked sessions.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// ConnectedCount returns how many sessions hold a voice connection.
func (r *Registry) ConnectedCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n := 0
	for _, s := range r.sessions {
		if s.Snapshot().Connected {
			n++
		}
	}
	return n
}

// Sweep reclaims idle sessions until ctx is cancelled; run in a goroutine.
func (r *Registry) Sweep(ctx context.Context, idleTimeout time.Duration) {
	if idleTimeout <= 0 {
		idleTimeout = 5 * time.Minute
	}
	interval := idleTimeout / 2
	if interval > time.Minute {
		interval = time.Minute
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.sweepOnce(idleTimeout)
		}
	}
}

func (r *Registry) sweepOnce(idleTimeout time.Duration) {
	cutoff := time.Now().Add(-idleTimeout)

	r.mu.RLock()
	var idle []string
	for guildID, s := range r.sessions {
		snap := s.Snapshot()
		if snap.Status == StatusIdle && !snap.Connected &&
			snap.NowPlaying == nil && len(snap.Queue) == 0 &&
			snap.LastActive.Before(cutoff) {
			idle = append(idle, guildID)
		}
	}
	r.mu.RUnlock()

	for _, guildID := range idle {
		// the session may have gone live again since the scan; skip it
		if r.tryRemove(guildID) {
			log.Printf("[Registry] Reclaimed idle session | guild=%s", guildID)
		}
	}
}
