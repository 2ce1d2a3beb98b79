package api

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"

	"groovebot/internal/music/resolver"
	"groovebot/internal/music/session"
)

// ErrUnknownGuild maps to 404 on every guild-scoped route.
var ErrUnknownGuild = errors.New("guild has no session")

// Controller is the guild-session surface the HTTP handlers drive. The
// registry-backed implementation is the production one; tests use a stub.
type Controller interface {
	Play(ctx context.Context, guildID, query, requestedBy, voiceChannelID, textChannelID string) (*session.PlayResult, error)
	Pause(ctx context.Context, guildID string) error
	Resume(ctx context.Context, guildID string) error
	Skip(ctx context.Context, guildID string) (*resolver.Track, error)
	Stop(ctx context.Context, guildID string) error
	Leave(ctx context.Context, guildID string) error
	SetVolume(ctx context.Context, guildID string, percent int) error
	Queue(guildID string) (session.Snapshot, error)
	ConnectedCount() int
}

// HealthSource reports gateway readiness for the health endpoint.
type HealthSource interface {
	Ready() bool
	BotUserID() string
}

// Server is the HTTP control surface, a remote-control parity layer over the
// same session commands the chat surface uses.
type Server struct {
	addr   string
	token  string
	ctrl   Controller
	health HealthSource
}

func NewServer(addr, token string, ctrl Controller, health HealthSource) *Server {
	return &Server{addr: addr, token: token, ctrl: ctrl, health: health}
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{Addr: s.addr, Handler: s.Handler()}

	go func() {
		<-ctx.Done()
		log.Println("[API] Shutting down control server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Printf("[API] Control server listening on %s", s.addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Handler builds the route table. Exposed for httptest.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.handleHealth)
	mux.Handle("GET /guilds/{guildID}/queue", s.auth(s.handleQueue))
	mux.Handle("POST /guilds/{guildID}/play", s.auth(s.handlePlay))
	mux.Handle("POST /guilds/{guildID}/pause", s.auth(s.signal("Paused.", s.ctrl.Pause)))
	mux.Handle("POST /guilds/{guildID}/resume", s.auth(s.signal("Resumed.", s.ctrl.Resume)))
	mux.Handle("POST /guilds/{guildID}/skip", s.auth(s.handleSkip))
	mux.Handle("POST /guilds/{guildID}/stop", s.auth(s.signal("Stopped and cleared the queue.", s.ctrl.Stop)))
	mux.Handle("POST /guilds/{guildID}/leave", s.auth(s.signal("Left the voice channel.", s.ctrl.Leave)))
	mux.Handle("POST /guilds/{guildID}/volume", s.auth(s.handleVolume))

	return mux
}

// auth checks X-API-Key when a token is configured.
func (s *Server) auth(next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.token != "" && r.Header.Get("X-API-Key") != s.token {
			writeError(w, http.StatusUnauthorized, errors.New("invalid or missing API key"))
			return
		}
		next(w, r)
	})
}

type trackPayload struct {
	Title       string `json:"title"`
	WebpageURL  string `json:"webpage_url"`
	RequestedBy string `json:"requested_by"`
}

func toPayload(t *resolver.Track) *trackPayload {
	if t == nil {
		return nil
	}
	return &trackPayload{Title: t.Title, WebpageURL: t.SourceURL, RequestedBy: t.RequestedBy}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ready, botUserID := false, ""
	if s.health != nil {
		ready = s.health.Ready()
		botUserID = s.health.BotUserID()
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":          "ok",
		"discord_ready":   ready,
		"bot_user_id":     botUserID,
		"connected_count": s.ctrl.ConnectedCount(),
	})
}

func (s *Server) handleQueue(w http.ResponseWriter, r *http.Request) {
	guildID := r.PathValue("guildID")

	snap, err := s.ctrl.Queue(guildID)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}

	queue := make([]*trackPayload, 0, len(snap.Queue))
	for i := range snap.Queue {
		queue = append(queue, toPayload(&snap.Queue[i]))
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"guild_id":       guildID,
		"status":         snap.Status,
		"volume_percent": snap.VolumePercent,
		"now_playing":    toPayload(snap.NowPlaying),
		"queue":          queue,
	})
}

func (s *Server) handlePlay(w http.ResponseWriter, r *http.Request) {
	guildID := r.PathValue("guildID")

	var req struct {
		Query          string `json:"query"`
		RequestedBy    string `json:"requested_by"`
		VoiceChannelID string `json:"voice_channel_id"`
		TextChannelID  string `json:"text_channel_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, errors.New("invalid JSON body"))
		return
	}
	if req.RequestedBy == "" {
		req.RequestedBy = "Control Panel"
	}

	res, err := s.ctrl.Play(r.Context(), guildID, req.Query, req.RequestedBy, req.VoiceChannelID, req.TextChannelID)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"message":      "Track queued.",
		"guild_id":     guildID,
		"queue_length": res.QueueLength,
		"track":        toPayload(res.Track),
	})
}

func (s *Server) handleSkip(w http.ResponseWriter, r *http.Request) {
	guildID := r.PathValue("guildID")

	next, err := s.ctrl.Skip(r.Context(), guildID)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"message":     "Skipped.",
		"now_playing": toPayload(next),
	})
}

func (s *Server) handleVolume(w http.ResponseWriter, r *http.Request) {
	guildID := r.PathValue("guildID")

	var req struct {
		Percent int `json:"percent"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, errors.New("invalid JSON body"))
		return
	}

	if err := s.ctrl.SetVolume(r.Context(), guildID, req.Percent); err != nil {
		writeError(w, statusFor(err), err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"message":        "Volume updated.",
		"volume_percent": req.Percent,
	})
}

// signal builds a handler for the body-less verb routes.
func (s *Server) signal(message string, op func(ctx context.Context, guildID string) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := op(r.Context(), r.PathValue("guildID")); err != nil {
			writeError(w, statusFor(err), err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"message": message})
	}
}

// statusFor maps the session error taxonomy onto HTTP statuses.
func statusFor(err error) int {
	var (
		valErr   *session.ValidationError
		conflict *session.StateConflictError
		resErr   *session.ResolutionError
		connErr  *session.ConnectionError
		pipeErr  *session.PipelineError
	)

	switch {
	case errors.Is(err, ErrUnknownGuild):
		return http.StatusNotFound
	case errors.As(err, &valErr):
		return http.StatusBadRequest
	case errors.As(err, &conflict):
		return http.StatusConflict
	case errors.As(err, &resErr):
		return http.StatusUnprocessableEntity
	case errors.As(err, &connErr):
		return http.StatusBadGateway
	case errors.As(err, &pipeErr):
		return http.StatusInternalServerError
	case errors.Is(err, session.ErrSessionClosed):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Printf("[API] Failed to encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
