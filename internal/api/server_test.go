package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"groovebot/internal/music/resolver"
	"groovebot/internal/music/session"
)

type stubController struct {
	playResult *session.PlayResult
	playErr    error
	signalErr  error
	skipTrack  *resolver.Track
	skipErr    error
	snap       session.Snapshot
	snapErr    error
	connected  int

	lastGuild  string
	lastQuery  string
	lastVolume int
}

func (c *stubController) Play(ctx context.Context, guildID, query, requestedBy, voiceChannelID, textChannelID string) (*session.PlayResult, error) {
	c.lastGuild, c.lastQuery = guildID, query
	return c.playResult, c.playErr
}

func (c *stubController) Pause(ctx context.Context, guildID string) error {
	c.lastGuild = guildID
	return c.signalErr
}

func (c *stubController) Resume(ctx context.Context, guildID string) error {
	c.lastGuild = guildID
	return c.signalErr
}

func (c *stubController) Skip(ctx context.Context, guildID string) (*resolver.Track, error) {
	c.lastGuild = guildID
	return c.skipTrack, c.skipErr
}

func (c *stubController) Stop(ctx context.Context, guildID string) error {
	c.lastGuild = guildID
	return c.signalErr
}

func (c *stubController) Leave(ctx context.Context, guildID string) error {
	c.lastGuild = guildID
	return c.signalErr
}

func (c *stubController) SetVolume(ctx context.Context, guildID string, percent int) error {
	c.lastGuild, c.lastVolume = guildID, percent
	return c.signalErr
}

func (c *stubController) Queue(guildID string) (session.Snapshot, error) {
	c.lastGuild = guildID
	return c.snap, c.snapErr
}

func (c *stubController) ConnectedCount() int { return c.connected }

type stubHealth struct {
	ready bool
	id    string
}

func (h *stubHealth) Ready() bool       { return h.ready }
func (h *stubHealth) BotUserID() string { return h.id }

func do(t *testing.T, handler http.Handler, method, path, body string, header map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var r *http.Request
	if body != "" {
		r = httptest.NewRequest(method, path, strings.NewReader(body))
	} else {
		r = httptest.NewRequest(method, path, nil)
	}
	for k, v := range header {
		r.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, r)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var m map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &m))
	return m
}

func TestHealth(t *testing.T) {
	ctrl := &stubController{connected: 3}
	srv := NewServer(":0", "", ctrl, &stubHealth{ready: true, id: "bot-1"})

	w := do(t, srv.Handler(), http.MethodGet, "/health", "", nil)
	require.Equal(t, http.StatusOK, w.Code)

	body := decode(t, w)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, true, body["discord_ready"])
	assert.Equal(t, "bot-1", body["bot_user_id"])
	assert.Equal(t, float64(3), body["connected_count"])
}

func TestAuthRequiredWhenTokenSet(t *testing.T) {
	srv := NewServer(":0", "secret", &stubController{}, nil)
	h := srv.Handler()

	w := do(t, h, http.MethodPost, "/guilds/g1/pause", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = do(t, h, http.MethodPost, "/guilds/g1/pause", "", map[string]string{"X-API-Key": "wrong"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = do(t, h, http.MethodPost, "/guilds/g1/pause", "", map[string]string{"X-API-Key": "secret"})
	assert.Equal(t, http.StatusOK, w.Code)

	w = do(t, h, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, w.Code, "health stays open")
}

func TestPlay(t *testing.T) {
	ctrl := &stubController{
		playResult: &session.PlayResult{
			Track:       &resolver.Track{Title: "song", SourceURL: "https://yt/1", RequestedBy: "alice"},
			QueueLength: 2,
		},
	}
	srv := NewServer(":0", "", ctrl, nil)

	w := do(t, srv.Handler(), http.MethodPost, "/guilds/g1/play",
		`{"query":"song","requested_by":"alice","voice_channel_id":"vc-1"}`, nil)
	require.Equal(t, http.StatusOK, w.Code)

	body := decode(t, w)
	assert.Equal(t, "g1", ctrl.lastGuild)
	assert.Equal(t, "song", ctrl.lastQuery)
	assert.Equal(t, float64(2), body["queue_length"])
	track := body["track"].(map[string]any)
	assert.Equal(t, "song", track["title"])
	assert.Equal(t, "https://yt/1", track["webpage_url"])
}

func TestPlayBadBody(t *testing.T) {
	srv := NewServer(":0", "", &stubController{}, nil)

	w := do(t, srv.Handler(), http.MethodPost, "/guilds/g1/play", "{not json", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestQueue(t *testing.T) {
	ctrl := &stubController{snap: session.Snapshot{
		Status:        session.StatusPlaying,
		VolumePercent: 80,
		NowPlaying:    &resolver.Track{Title: "current", SourceURL: "https://yt/1"},
		Queue:         []resolver.Track{{Title: "next", SourceURL: "https://yt/2"}},
	}}
	srv := NewServer(":0", "", ctrl, nil)

	w := do(t, srv.Handler(), http.MethodGet, "/guilds/g1/queue", "", nil)
	require.Equal(t, http.StatusOK, w.Code)

	body := decode(t, w)
	assert.Equal(t, "Playing", body["status"])
	assert.Equal(t, float64(80), body["volume_percent"])
	assert.Equal(t, "current", body["now_playing"].(map[string]any)["title"])
	queue := body["queue"].([]any)
	require.Len(t, queue, 1)
	assert.Equal(t, "next", queue[0].(map[string]any)["title"])
}

func TestVolume(t *testing.T) {
	ctrl := &stubController{}
	srv := NewServer(":0", "", ctrl, nil)

	w := do(t, srv.Handler(), http.MethodPost, "/guilds/g1/volume", `{"percent":150}`, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 150, ctrl.lastVolume)
}

func TestSkip(t *testing.T) {
	ctrl := &stubController{skipTrack: &resolver.Track{Title: "promoted"}}
	srv := NewServer(":0", "", ctrl, nil)

	w := do(t, srv.Handler(), http.MethodPost, "/guilds/g1/skip", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "promoted", decode(t, w)["now_playing"].(map[string]any)["title"])
}

func TestSkipToEmptyQueue(t *testing.T) {
	srv := NewServer(":0", "", &stubController{}, nil)

	w := do(t, srv.Handler(), http.MethodPost, "/guilds/g1/skip", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Nil(t, decode(t, w)["now_playing"])
}

func TestErrorStatusMapping(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want int
	}{
		{"validation", &session.ValidationError{Reason: "bad"}, http.StatusBadRequest},
		{"conflict", &session.StateConflictError{Reason: "busy"}, http.StatusConflict},
		{"resolution", &session.ResolutionError{Query: "q"}, http.StatusUnprocessableEntity},
		{"connection", &session.ConnectionError{ChannelID: "vc"}, http.StatusBadGateway},
		{"pipeline", &session.PipelineError{Title: "t"}, http.StatusInternalServerError},
		{"unknown guild", ErrUnknownGuild, http.StatusNotFound},
		{"closed", session.ErrSessionClosed, http.StatusNotFound},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := NewServer(":0", "", &stubController{signalErr: tc.err}, nil)
			w := do(t, srv.Handler(), http.MethodPost, "/guilds/g1/stop", "", nil)
			assert.Equal(t, tc.want, w.Code)

			body := decode(t, w)
			assert.NotEmpty(t, body["error"])
		})
	}
}

func TestUnknownRoute(t *testing.T) {
	srv := NewServer(":0", "", &stubController{}, nil)

	w := do(t, srv.Handler(), http.MethodGet, "/guilds/g1/unknown", "", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}
