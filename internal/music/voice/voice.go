package voice

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"
)

const (
	// a frame is 20ms of audio; a send blocked this long means the
	// underlying UDP writer is stuck and the connection is gone
	stallTimeout = 2 * time.Second

	initialBackoff = time.Second
)

var errSendStalled = errors.New("voice send stalled")

// Transport is a live channel-level voice link, one per join.
type Transport interface {
	Speaking(on bool) error
	// Send delivers one opus frame, failing when the link is stalled or dead.
	Send(ctx context.Context, frame []byte) error
	Close() error
}

// Dialer establishes voice transports. The Discord implementation wraps the
// gateway session; tests substitute a fake.
type Dialer interface {
	Dial(ctx context.Context, guildID, channelID string) (Transport, error)
}

// Supervisor dials supervised voice connections that survive transient
// drops by redialing with bounded backoff.
type Supervisor struct {
	dialer   Dialer
	attempts int
}

func NewSupervisor(dialer Dialer, reconnectAttempts int) *Supervisor {
	if reconnectAttempts <= 0 {
		reconnectAttempts = 4
	}
	return &Supervisor{dialer: dialer, attempts: reconnectAttempts}
}

// Connect joins the voice channel and returns the supervised connection.
func (s *Supervisor) Connect(ctx context.Context, guildID, channelID string) (*Conn, error) {
	t, err := s.dialer.Dial(ctx, guildID, channelID)
	if err != nil {
		return nil, fmt.Errorf("failed to join voice channel: %w", err)
	}

	return &Conn{
		guildID:   guildID,
		channelID: channelID,
		dialer:    s.dialer,
		attempts:  s.attempts,
		transport: t,
		lost:      make(chan struct{}),
	}, nil
}

// Conn is one guild's supervised voice connection. Frame pumping, reconnects
// and teardown all happen here; callers only observe Lost.
type Conn struct {
	guildID   string
	channelID string
	dialer    Dialer
	attempts  int
	backoff   time.Duration

	mu        sync.Mutex
	transport Transport

	lost     chan struct{}
	lostOnce sync.Once
}

// ChannelID returns the joined voice channel id.
func (c *Conn) ChannelID() string { return c.channelID }

// Lost closes once the reconnect budget is exhausted.
func (c *Conn) Lost() <-chan struct{} { return c.lost }

// Play pumps frames to the voice transport until the channel closes or ctx is
// cancelled. A dead transport triggers reconnection; when that fails Play
// marks the connection lost and returns.
func (c *Conn) Play(ctx context.Context, frames <-chan []byte) {
	t := c.current()
	if t == nil {
		return
	}
	if err := t.Speaking(true); err != nil {
		log.Printf("[Voice] Speaking on failed | guild=%s: %v", c.guildID, err)
	}
	defer func() {
		if t := c.current(); t != nil {
			_ = t.Speaking(false)
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case frame, ok := <-frames:
			if !ok {
				return
			}
			if err := c.send(ctx, frame); err != nil {
				if ctx.Err() != nil {
					return
				}
				log.Printf("[Voice] Send failed, reconnecting | guild=%s: %v", c.guildID, err)
				if !c.reconnect(ctx) {
					c.markLost()
					return
				}
				// the frame that hit the dead link is dropped; a 20ms
				// gap is inaudible next to the reconnect pause
			}
		}
	}
}

// Disconnect tears down the transport. Safe to call more than once.
func (c *Conn) Disconnect() error {
	c.mu.Lock()
	t := c.transport
	c.transport = nil
	c.mu.Unlock()

	if t == nil {
		return nil
	}
	return t.Close()
}

func (c *Conn) current() Transport {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.transport
}

func (c *Conn) send(ctx context.Context, frame []byte) error {
	t := c.current()
	if t == nil {
		return errors.New("transport closed")
	}
	return t.Send(ctx, frame)
}

// reconnect redials with exponential backoff until a dial succeeds or the
// attempt budget runs out.
func (c *Conn) reconnect(ctx context.Context) bool {
	backoff := c.backoff
	if backoff <= 0 {
		backoff = initialBackoff
	}

	for attempt := 1; attempt <= c.attempts; attempt++ {
		select {
		case <-ctx.Done():
			return false
		case <-time.After(backoff):
		}

		t, err := c.dialer.Dial(ctx, c.guildID, c.channelID)
		if err == nil {
			c.mu.Lock()
			old := c.transport
			c.transport = t
			c.mu.Unlock()
			if old != nil {
				_ = old.Close()
			}
			_ = t.Speaking(true)
			log.Printf("[Voice] Reconnected after %d attempt(s) | guild=%s", attempt, c.guildID)
			return true
		}

		log.Printf("[Voice] Reconnect attempt %d/%d failed | guild=%s: %v", attempt, c.attempts, c.guildID, err)
		backoff *= 2
	}
	return false
}

func (c *Conn) markLost() {
	c.lostOnce.Do(func() {
		log.Printf("[Voice] Connection lost, reconnect budget exhausted | guild=%s", c.guildID)
		close(c.lost)
	})
}
