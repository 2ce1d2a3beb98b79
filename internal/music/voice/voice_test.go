package voice

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeTransport struct {
	mu       sync.Mutex
	sent     [][]byte
	sendErr  error
	speaking []bool
	closed   bool
}

func (t *fakeTransport) Speaking(on bool) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.speaking = append(t.speaking, on)
	return nil
}

func (t *fakeTransport) Send(ctx context.Context, frame []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.sendErr != nil {
		return t.sendErr
	}
	t.sent = append(t.sent, frame)
	return nil
}

func (t *fakeTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	return nil
}

func (t *fakeTransport) sentCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.sent)
}

func (t *fakeTransport) isClosed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

func (t *fakeTransport) failSends(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sendErr = err
}

type fakeDialer struct {
	mu         sync.Mutex
	transports []*fakeTransport
	dialErrs   []error // consumed per dial; nil entry means success
	dials      int
}

func (d *fakeDialer) Dial(ctx context.Context, guildID, channelID string) (Transport, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dials++
	if len(d.dialErrs) > 0 {
		err := d.dialErrs[0]
		d.dialErrs = d.dialErrs[1:]
		if err != nil {
			return nil, err
		}
	}
	t := &fakeTransport{}
	d.transports = append(d.transports, t)
	return t, nil
}

func (d *fakeDialer) dialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

func (d *fakeDialer) transport(i int) *fakeTransport {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.transports[i]
}

func connect(t *testing.T, dialer *fakeDialer, attempts int) *Conn {
	t.Helper()
	sup := NewSupervisor(dialer, attempts)
	conn, err := sup.Connect(context.Background(), "g1", "vc-1")
	require.NoError(t, err)
	conn.backoff = time.Millisecond
	return conn
}

func TestConnectDialFailure(t *testing.T) {
	dialer := &fakeDialer{dialErrs: []error{errors.New("gateway down")}}
	sup := NewSupervisor(dialer, 4)

	_, err := sup.Connect(context.Background(), "g1", "vc-1")
	require.Error(t, err)
}

func TestPlayPumpsFramesUntilClose(t *testing.T) {
	dialer := &fakeDialer{}
	conn := connect(t, dialer, 4)

	frames := make(chan []byte, 3)
	frames <- []byte{1}
	frames <- []byte{2}
	frames <- []byte{3}
	close(frames)

	done := make(chan struct{})
	go func() {
		conn.Play(context.Background(), frames)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("play did not return after frames closed")
	}

	tr := dialer.transport(0)
	assert.Equal(t, 3, tr.sentCount())
	assert.Equal(t, []bool{true, false}, tr.speaking, "speaking toggled around playback")
}

func TestPlayStopsOnContextCancel(t *testing.T) {
	dialer := &fakeDialer{}
	conn := connect(t, dialer, 4)

	ctx, cancel := context.WithCancel(context.Background())
	frames := make(chan []byte) // never fed

	done := make(chan struct{})
	go func() {
		conn.Play(ctx, frames)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("play did not return on cancel")
	}
}

func TestPlayReconnectsOnSendFailure(t *testing.T) {
	dialer := &fakeDialer{}
	conn := connect(t, dialer, 4)
	dialer.transport(0).failSends(errors.New("udp writer stuck"))

	frames := make(chan []byte, 2)
	frames <- []byte{1}
	frames <- []byte{2}
	close(frames)

	conn.Play(context.Background(), frames)

	require.Equal(t, 2, dialer.dialCount(), "one redial after the failed send")
	assert.True(t, dialer.transport(0).isClosed(), "dead transport released")
	assert.Equal(t, 1, dialer.transport(1).sentCount(), "pump resumed on the new transport")

	select {
	case <-conn.Lost():
		t.Fatal("connection wrongly marked lost after successful reconnect")
	default:
	}
}

func TestPlayMarksLostAfterBudgetExhausted(t *testing.T) {
	dialer := &fakeDialer{}
	conn := connect(t, dialer, 2)
	dialer.transport(0).failSends(errors.New("udp writer stuck"))

	dialer.mu.Lock()
	dialer.dialErrs = []error{errors.New("still down"), errors.New("still down")}
	dialer.mu.Unlock()

	frames := make(chan []byte, 1)
	frames <- []byte{1}

	done := make(chan struct{})
	go func() {
		conn.Play(context.Background(), frames)
		close(done)
	}()

	select {
	case <-conn.Lost():
	case <-time.After(time.Second):
		t.Fatal("lost never signalled")
	}
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("play did not return after giving up")
	}

	assert.Equal(t, 3, dialer.dialCount(), "initial dial plus two reconnect attempts")
}

func TestDisconnectClosesTransport(t *testing.T) {
	dialer := &fakeDialer{}
	conn := connect(t, dialer, 4)

	require.NoError(t, conn.Disconnect())
	assert.True(t, dialer.transport(0).isClosed())
	require.NoError(t, conn.Disconnect(), "second disconnect is a no-op")
}

func TestReconnectBackoffDoubles(t *testing.T) {
	dialer := &fakeDialer{}
	conn := connect(t, dialer, 3)
	conn.backoff = 10 * time.Millisecond

	dialer.mu.Lock()
	dialer.dialErrs = []error{errors.New("down"), errors.New("down"), errors.New("down")}
	dialer.mu.Unlock()

	start := time.Now()
	ok := conn.reconnect(context.Background())
	elapsed := time.Since(start)

	assert.False(t, ok)
	// 10ms + 20ms + 40ms of backoff
	assert.GreaterOrEqual(t, elapsed, 70*time.Millisecond)
}
