package pipeline

import (
	"bytes"
	"context"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeEncoder struct{}

func (fakeEncoder) Encode(pcm []int16, frameSize, maxBytes int) ([]byte, error) {
	out := make([]byte, 4)
	return out, nil
}

func newTestPipeline() *Pipeline {
	return &Pipeline{
		frames:  make(chan []byte, frameBuffer),
		done:    make(chan struct{}),
		pauseCh: make(chan bool),
	}
}

func pcmFrames(n int) io.Reader {
	return bytes.NewReader(make([]byte, n*pcmFrameBytes))
}

func TestApplyGain(t *testing.T) {
	samples := []int16{100, -100, 32000, -32000}

	applyGain(samples, 50)
	assert.Equal(t, []int16{50, -50, 16000, -16000}, samples)

	samples = []int16{100, 32000, -32000}
	applyGain(samples, 200)
	assert.Equal(t, []int16{200, 32767, -32768}, samples, "doubling clamps to the int16 range")

	samples = []int16{100, -100}
	applyGain(samples, 0)
	assert.Equal(t, []int16{0, 0}, samples)

	samples = []int16{123, -456}
	applyGain(samples, 100)
	assert.Equal(t, []int16{123, -456}, samples, "unity gain leaves samples untouched")
}

func TestRunProducesFramesUntilEOF(t *testing.T) {
	p := newTestPipeline()
	p.gain.Store(100)

	errCh := make(chan error, 1)
	go func() { errCh <- p.run(context.Background(), pcmFrames(3), fakeEncoder{}) }()

	var got int
	for range 3 {
		select {
		case <-p.frames:
			got++
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for frame")
		}
	}
	assert.Equal(t, 3, got)

	require.NoError(t, <-errCh, "EOF is a natural end, not an error")
}

func TestRunStopsOnCancel(t *testing.T) {
	p := newTestPipeline()
	p.gain.Store(100)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- p.run(ctx, pcmFrames(1000), fakeEncoder{}) }()

	<-p.frames
	cancel()

	select {
	case err := <-errCh:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("run did not exit after cancel")
	}
}

func TestRunPauseGatesDelivery(t *testing.T) {
	p := newTestPipeline()
	p.gain.Store(100)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errCh := make(chan error, 1)
	go func() { errCh <- p.run(ctx, pcmFrames(1000), fakeEncoder{}) }()

	<-p.frames
	p.Pause()

	// Drain whatever was buffered before the pause landed; after that no new
	// frames may arrive.
	deadline := time.After(200 * time.Millisecond)
drain:
	for {
		select {
		case <-p.frames:
		case <-deadline:
			break drain
		}
	}

	select {
	case <-p.frames:
		t.Fatal("frame delivered while paused")
	case <-time.After(100 * time.Millisecond):
	}

	p.Resume()
	select {
	case <-p.frames:
	case <-time.After(time.Second):
		t.Fatal("no frame after resume")
	}

	cancel()
	require.NoError(t, <-errCh)
}

func TestPauseAfterDoneDoesNotBlock(t *testing.T) {
	p := newTestPipeline()
	close(p.done)

	done := make(chan struct{})
	go func() {
		p.Pause()
		p.Resume()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("signal blocked after pipeline completion")
	}
}
