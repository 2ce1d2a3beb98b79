package session

import (
	"context"
	"log"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"groovebot/internal/music/resolver"
)

// Status is the guild session state machine state.
type Status string

const (
	StatusIdle         Status = "Idle"
	StatusConnecting   Status = "Connecting"
	StatusPlaying      Status = "Playing"
	StatusPaused       Status = "Paused"
	StatusStopping     Status = "Stopping"
	StatusDisconnected Status = "Disconnected"
)

// Pipeline is the session-facing audio pipeline handle.
type Pipeline interface {
	Frames() <-chan []byte
	Done() <-chan struct{}
	Err() error
	Pause()
	Resume()
	SetVolume(percent int)
	Cancel()
}

// PipelineFactory starts one pipeline per promoted track.
type PipelineFactory interface {
	Start(ctx context.Context, track *resolver.Track, volumePercent int) (Pipeline, error)
}

// VoiceConn is a live voice transport for one guild.
type VoiceConn interface {
	ChannelID() string
	// Play pumps frames until the channel closes, ctx is cancelled or the
	// connection is lost.
	Play(ctx context.Context, frames <-chan []byte)
	// Lost closes once the reconnect budget is exhausted.
	Lost() <-chan struct{}
	Disconnect() error
}

// VoiceConnector dials voice transports.
type VoiceConnector interface {
	Connect(ctx context.Context, guildID, voiceChannelID string) (VoiceConn, error)
}

// Deps are the session's external collaborators.
type Deps struct {
	Resolver       resolver.Resolver
	Pipelines      PipelineFactory
	Voice          VoiceConnector
	ResolveTimeout time.Duration
	ConnectTimeout time.Duration
	Events         chan<- Event
}

// Snapshot is a consistent read-only view of one session, safe for any
// number of concurrent readers.
type Snapshot struct {
	GuildID        string
	Status         Status
	NowPlaying     *resolver.Track
	Queue          []resolver.Track
	VolumePercent  int
	Connected      bool
	VoiceChannelID string
	LastActive     time.Time
}

// PlayResult is the successful outcome of a play command.
type PlayResult struct {
	Track       *resolver.Track
	QueueLength int
}

type cmdKind int

const (
	cmdJoin cmdKind = iota
	cmdPlay
	cmdPause
	cmdResume
	cmdSkip
	cmdStop
	cmdLeave
	cmdSetVolume

	// internal events posted back to the worker
	cmdResolved
	cmdPipelineDone
	cmdVoiceLost
)

type command struct {
	kind cmdKind

	voiceChannelID string
	volume         int
	play           *playRequest

	// internal event payloads
	track      *resolver.Track
	err        error
	resolveGen int
	pipe       Pipeline
	conn       VoiceConn

	reply chan result
}

type playRequest struct {
	query          string
	requestedBy    string
	voiceChannelID string
	textChannelID  string
	reply          chan result
}

type result struct {
	track    *resolver.Track
	queueLen int
	err      error
}

// Session owns one guild's queue and playback state. All mutations happen on
// a single worker goroutine consuming the command channel; commands for the
// same guild are applied in submission order.
type Session struct {
	guildID string
	deps    Deps

	cmds      chan command
	closed    chan struct{}
	closeOnce sync.Once
	ctx       context.Context
	cancel    context.CancelFunc

	snap atomic.Pointer[Snapshot]

	// worker-owned state below; never touched outside the worker goroutine.
	status        Status
	queue         []resolver.Track
	nowPlaying    *resolver.Track
	volume        int
	textChannelID string

	conn        VoiceConn
	pipe        Pipeline
	watchCancel context.CancelFunc

	resolving     bool
	resolveGen    int
	resolveCancel context.CancelFunc
	pending       []*playRequest

	lastActive time.Time
}

// New creates a session for the guild and starts its worker.
func New(guildID string, deps Deps) *Session {
	if deps.ResolveTimeout == 0 {
		deps.ResolveTimeout = 20 * time.Second
	}
	if deps.ConnectTimeout == 0 {
		deps.ConnectTimeout = 15 * time.Second
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		guildID:    guildID,
		deps:       deps,
		cmds:       make(chan command, 32),
		closed:     make(chan struct{}),
		ctx:        ctx,
		cancel:     cancel,
		status:     StatusIdle,
		volume:     100,
		lastActive: time.Now(),
	}
	s.publish()

	go s.loop()
	return s
}

// GuildID returns the owning guild id.
func (s *Session) GuildID() string { return s.guildID }

// Snapshot returns the last published view. Never blocks.
func (s *Session) Snapshot() Snapshot { return *s.snap.Load() }

// Join connects to the given voice channel.
func (s *Session) Join(ctx context.Context, voiceChannelID string) error {
	if voiceChannelID == "" {
		return &ValidationError{Reason: "voice channel id is required"}
	}
	_, err := s.submit(ctx, command{kind: cmdJoin, voiceChannelID: voiceChannelID})
	return err
}

// Play resolves the query and appends the track to the queue, starting
// playback if idle. Connects to voiceChannelID first when not connected.
func (s *Session) Play(ctx context.Context, query, requestedBy, voiceChannelID, textChannelID string) (*PlayResult, error) {
	if query == "" {
		return nil, &ValidationError{Reason: "query is required"}
	}
	if requestedBy == "" {
		requestedBy = "unknown"
	}
	r, err := s.submit(ctx, command{kind: cmdPlay, play: &playRequest{
		query:          query,
		requestedBy:    requestedBy,
		voiceChannelID: voiceChannelID,
		textChannelID:  textChannelID,
	}})
	if err != nil {
		return nil, err
	}
	return &PlayResult{Track: r.track, QueueLength: r.queueLen}, nil
}

// Pause suspends frame delivery. Pausing an already paused session succeeds.
func (s *Session) Pause(ctx context.Context) error {
	_, err := s.submit(ctx, command{kind: cmdPause})
	return err
}

// Resume restarts a paused session. Resuming while playing succeeds.
func (s *Session) Resume(ctx context.Context) error {
	_, err := s.submit(ctx, command{kind: cmdResume})
	return err
}

// Skip cancels the current track and promotes the next queued one.
func (s *Session) Skip(ctx context.Context) (*resolver.Track, error) {
	r, err := s.submit(ctx, command{kind: cmdSkip})
	return r.track, err
}

// Stop cancels playback and clears the queue. Voice stays connected.
func (s *Session) Stop(ctx context.Context) error {
	_, err := s.submit(ctx, command{kind: cmdStop})
	return err
}

// Leave stops playback and tears down the voice connection.
func (s *Session) Leave(ctx context.Context) error {
	_, err := s.submit(ctx, command{kind: cmdLeave})
	return err
}

// SetVolume validates and applies the volume, live when a pipeline is active.
func (s *Session) SetVolume(ctx context.Context, percent int) error {
	_, err := s.submit(ctx, command{kind: cmdSetVolume, volume: percent})
	return err
}

// Close stops the worker and releases any live resources. Safe to call more
// than once. Used by the registry; commands submitted afterwards fail with
// ErrSessionClosed.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.cancel()
		close(s.closed)
	})
}

func (s *Session) submit(ctx context.Context, cmd command) (result, error) {
	cmd.reply = make(chan result, 1)
	select {
	case s.cmds <- cmd:
	case <-s.closed:
		return result{}, ErrSessionClosed
	case <-ctx.Done():
		return result{}, ctx.Err()
	}

	select {
	case r := <-cmd.reply:
		return r, r.err
	case <-s.closed:
		return result{}, ErrSessionClosed
	case <-ctx.Done():
		return result{}, ctx.Err()
	}
}

// post delivers an internal event to the worker.
func (s *Session) post(cmd command) {
	select {
	case s.cmds <- cmd:
	case <-s.closed:
	}
}

func (s *Session) loop() {
	for {
		select {
		case cmd := <-s.cmds:
			s.apply(cmd)
		case <-s.closed:
			s.shutdown()
			return
		}
	}
}

func (s *Session) apply(cmd command) {
	switch cmd.kind {
	case cmdJoin:
		s.lastActive = time.Now()
		err := s.connectTo(cmd.voiceChannelID)
		if err == nil && s.nowPlaying == nil && len(s.queue) > 0 {
			s.advance()
		}
		s.publish()
		cmd.reply <- result{err: err}

	case cmdPlay:
		s.lastActive = time.Now()
		cmd.play.reply = cmd.reply
		s.handlePlay(cmd.play)
		s.publish()

	case cmdPause:
		s.lastActive = time.Now()
		cmd.reply <- result{err: s.handlePause()}
		s.publish()

	case cmdResume:
		s.lastActive = time.Now()
		cmd.reply <- result{err: s.handleResume()}
		s.publish()

	case cmdSkip:
		s.lastActive = time.Now()
		if s.nowPlaying == nil {
			cmd.reply <- result{err: &StateConflictError{Reason: "nothing is currently playing"}}
			return
		}
		skipped := s.nowPlaying
		s.stopPipeline()
		s.nowPlaying = nil
		s.advance()
		log.Printf("[Session] Skipped %q | guild=%s queueLen=%d", skipped.Title, s.guildID, len(s.queue))
		s.publish()
		cmd.reply <- result{track: s.nowPlaying}

	case cmdStop:
		s.lastActive = time.Now()
		s.handleStop()
		cmd.reply <- result{}

	case cmdLeave:
		s.lastActive = time.Now()
		s.handleStop()
		if s.conn != nil {
			if err := s.conn.Disconnect(); err != nil {
				log.Printf("[Session] Voice disconnect error | guild=%s: %v", s.guildID, err)
			}
			s.conn = nil
		}
		s.publish()
		cmd.reply <- result{}

	case cmdSetVolume:
		s.lastActive = time.Now()
		if cmd.volume < 0 || cmd.volume > 200 {
			cmd.reply <- result{err: &ValidationError{Reason: "volume must be between 0 and 200"}}
			return
		}
		s.volume = cmd.volume
		if s.pipe != nil {
			s.pipe.SetVolume(cmd.volume)
		}
		s.publish()
		cmd.reply <- result{}

	case cmdResolved:
		s.handleResolved(cmd)
		s.publish()

	case cmdPipelineDone:
		s.handlePipelineDone(cmd)
		s.publish()

	case cmdVoiceLost:
		s.handleVoiceLost(cmd)
		s.publish()
	}
}

// connectTo establishes the voice connection, reusing a live one to the same
// channel. Moving channels while playing is a conflict.
func (s *Session) connectTo(channelID string) error {
	if s.conn != nil {
		if channelID == "" || s.conn.ChannelID() == channelID {
			return nil
		}
		if s.status == StatusPlaying || s.status == StatusPaused {
			return &StateConflictError{Reason: "already playing in another voice channel"}
		}
		_ = s.conn.Disconnect()
		s.conn = nil
	}

	if channelID == "" {
		return &ValidationError{Reason: "not connected: voice channel id is required"}
	}

	s.status = StatusConnecting
	s.publish()

	ctx, cancel := context.WithTimeout(s.ctx, s.deps.ConnectTimeout)
	defer cancel()

	conn, err := s.deps.Voice.Connect(ctx, s.guildID, channelID)
	if err != nil {
		s.status = StatusIdle
		return &ConnectionError{ChannelID: channelID, Err: err}
	}

	log.Printf("[Session] Joined voice channel %s | guild=%s", channelID, s.guildID)
	s.conn = conn
	s.status = StatusIdle
	return nil
}

func (s *Session) handlePlay(req *playRequest) {
	if err := s.connectTo(req.voiceChannelID); err != nil {
		req.reply <- result{err: err}
		return
	}
	if req.textChannelID != "" {
		s.textChannelID = req.textChannelID
	}

	// a queue left over from a disconnect resumes as soon as voice is back
	if s.nowPlaying == nil && len(s.queue) > 0 {
		s.advance()
	}

	if s.resolving {
		// keep queue order equal to call order: one resolution at a time
		s.pending = append(s.pending, req)
		return
	}
	s.startResolve(req)
}

// startResolve runs resolution off the worker so signal commands stay
// responsive; the outcome is posted back as an internal event.
func (s *Session) startResolve(req *playRequest) {
	s.resolving = true
	gen := s.resolveGen

	ctx, cancel := context.WithTimeout(s.ctx, s.deps.ResolveTimeout)
	s.resolveCancel = cancel

	go func() {
		track, err := s.deps.Resolver.Resolve(ctx, req.query)
		cancel()
		s.post(command{
			kind:       cmdResolved,
			track:      track,
			err:        err,
			resolveGen: gen,
			play:       req,
		})
	}()
}

func (s *Session) handleResolved(cmd command) {
	req := cmd.play

	if cmd.resolveGen != s.resolveGen {
		// resolution was cancelled by a stop/leave issued after the play
		req.reply <- result{err: &ResolutionError{Query: req.query, Err: context.Canceled}}
		return
	}

	s.resolving = false
	s.resolveCancel = nil

	if cmd.err != nil {
		req.reply <- result{err: &ResolutionError{Query: req.query, Err: cmd.err}}
		s.startNextResolve()
		return
	}

	track := *cmd.track
	track.RequestedBy = req.requestedBy
	track.AddedAt = time.Now()

	s.queue = append(s.queue, track)
	log.Printf("[Session] Queued %q | guild=%s queueLen=%d", track.Title, s.guildID, len(s.queue))

	// the caller's reply already confirms the queued track; only a later
	// promotion to now-playing is worth announcing
	if s.nowPlaying == nil && s.conn != nil {
		s.advance()
	}

	// publish before replying so the caller's next Snapshot sees this state
	s.publish()
	req.reply <- result{track: &track, queueLen: len(s.queue)}
	s.startNextResolve()
}

func (s *Session) startNextResolve() {
	if s.resolving || len(s.pending) == 0 {
		return
	}
	next := s.pending[0]
	s.pending = slices.Delete(s.pending, 0, 1)
	s.startResolve(next)
}

func (s *Session) handlePause() error {
	switch s.status {
	case StatusPlaying:
		s.pipe.Pause()
		s.status = StatusPaused
		return nil
	case StatusPaused:
		return nil // idempotent
	default:
		return &StateConflictError{Reason: "nothing is currently playing"}
	}
}

func (s *Session) handleResume() error {
	switch s.status {
	case StatusPaused:
		s.pipe.Resume()
		s.status = StatusPlaying
		return nil
	case StatusPlaying:
		return nil // idempotent
	default:
		return &StateConflictError{Reason: "nothing is paused"}
	}
}

func (s *Session) handleStop() {
	s.status = StatusStopping
	s.publish()

	s.cancelResolves()
	s.stopPipeline()
	s.nowPlaying = nil
	s.queue = nil
	s.status = StatusIdle
	s.publish()
}

// cancelResolves aborts the in-flight resolution and fails the backlog.
func (s *Session) cancelResolves() {
	s.resolveGen++
	s.resolving = false
	if s.resolveCancel != nil {
		s.resolveCancel()
		s.resolveCancel = nil
	}
	for _, req := range s.pending {
		req.reply <- result{err: &ResolutionError{Query: req.query, Err: context.Canceled}}
	}
	s.pending = nil
}

// advance promotes queue heads until one starts playing or the queue drains.
func (s *Session) advance() {
	for s.nowPlaying == nil && len(s.queue) > 0 && s.conn != nil {
		track := s.queue[0]
		s.queue = slices.Delete(s.queue, 0, 1)

		if !s.startPipeline(&track) {
			log.Printf("[Session] Skipping unplayable track %q | guild=%s", track.Title, s.guildID)
			continue
		}

		s.nowPlaying = &track
		s.status = StatusPlaying
		log.Printf("[Session] Now playing %q | guild=%s queueLen=%d", track.Title, s.guildID, len(s.queue))
		s.emit(Event{Kind: EventNowPlaying, GuildID: s.guildID, TextChannelID: s.textChannelID, Track: &track})
		return
	}

	if s.nowPlaying == nil {
		s.status = StatusIdle
	}
}

func (s *Session) startPipeline(track *resolver.Track) bool {
	p, err := s.deps.Pipelines.Start(s.ctx, track, s.volume)
	if err != nil {
		s.emit(Event{
			Kind:          EventPlaybackError,
			GuildID:       s.guildID,
			TextChannelID: s.textChannelID,
			Track:         track,
			Err:           &PipelineError{Title: track.Title, Err: err},
		})
		return false
	}

	s.pipe = p

	wctx, wcancel := context.WithCancel(s.ctx)
	s.watchCancel = wcancel

	go s.conn.Play(wctx, p.Frames())
	go func(p Pipeline, conn VoiceConn) {
		select {
		case <-p.Done():
			s.post(command{kind: cmdPipelineDone, pipe: p})
		case <-conn.Lost():
			s.post(command{kind: cmdVoiceLost, conn: conn})
		case <-wctx.Done():
		}
	}(p, s.conn)

	return true
}

// stopPipeline cancels the active pipeline and waits for its resources to be
// released before returning.
func (s *Session) stopPipeline() {
	if s.pipe == nil {
		return
	}
	if s.watchCancel != nil {
		s.watchCancel()
		s.watchCancel = nil
	}
	s.pipe.Cancel()
	<-s.pipe.Done()
	s.pipe = nil
}

// handlePipelineDone advances the queue on natural end or mid-stream failure.
func (s *Session) handlePipelineDone(cmd command) {
	if cmd.pipe != s.pipe {
		return // stale event from an already replaced pipeline
	}
	if s.watchCancel != nil {
		s.watchCancel()
		s.watchCancel = nil
	}
	s.pipe = nil

	finished := s.nowPlaying
	s.nowPlaying = nil

	if err := cmd.pipe.Err(); err != nil && finished != nil {
		log.Printf("[Session] Playback of %q failed | guild=%s: %v", finished.Title, s.guildID, err)
		s.emit(Event{
			Kind:          EventPlaybackError,
			GuildID:       s.guildID,
			TextChannelID: s.textChannelID,
			Track:         finished,
			Err:           &PipelineError{Title: finished.Title, Err: err},
		})
	}

	s.advance()
}

// handleVoiceLost tears the session down to Disconnected after the
// supervisor exhausted its reconnect budget.
func (s *Session) handleVoiceLost(cmd command) {
	if cmd.conn != s.conn {
		return
	}
	log.Printf("[Session] Voice connection lost | guild=%s", s.guildID)

	s.stopPipeline()
	_ = s.conn.Disconnect()
	s.conn = nil
	s.nowPlaying = nil
	s.status = StatusDisconnected
	s.emit(Event{Kind: EventDisconnected, GuildID: s.guildID, TextChannelID: s.textChannelID})
}

func (s *Session) shutdown() {
	s.cancelResolves()
	if s.pipe != nil {
		s.pipe.Cancel()
		s.pipe = nil
	}
	if s.conn != nil {
		_ = s.conn.Disconnect()
		s.conn = nil
	}
}

// publish swaps in a fresh snapshot for concurrent readers.
func (s *Session) publish() {
	var now *resolver.Track
	if s.nowPlaying != nil {
		t := *s.nowPlaying
		now = &t
	}

	var channelID string
	if s.conn != nil {
		channelID = s.conn.ChannelID()
	}

	s.snap.Store(&Snapshot{
		GuildID:        s.guildID,
		Status:         s.status,
		NowPlaying:     now,
		Queue:          slices.Clone(s.queue),
		VolumePercent:  s.volume,
		Connected:      s.conn != nil,
		VoiceChannelID: channelID,
		LastActive:     s.lastActive,
	})
}
