package pipeline

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log"
	"os/exec"
	"sync/atomic"

	"layeh.com/gopus"

	"groovebot/internal/music/resolver"
)

const (
	channels   = 2
	sampleRate = 48000
	frameSize  = 960 // 20ms at 48kHz

	pcmFrameBytes = frameSize * channels * 2
	frameBuffer   = 4
)

// encoder is the opus encoding seam; satisfied by *gopus.Encoder.
type encoder interface {
	Encode(pcm []int16, frameSize, maxBytes int) ([]byte, error)
}

// Factory starts pipelines bound to one ffmpeg binary path.
type Factory struct {
	FFmpegPath string
}

func NewFactory(ffmpegPath string) *Factory {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	return &Factory{FFmpegPath: ffmpegPath}
}

// Pipeline decodes one track into 20ms opus frames. It owns the transcoding
// subprocess and guarantees its release on every exit path.
type Pipeline struct {
	track  *resolver.Track
	cancel context.CancelFunc

	frames chan []byte
	done   chan struct{}

	gain    atomic.Int32
	pauseCh chan bool

	err atomic.Value // error
}

// Start launches ffmpeg against the track's stream URL and begins producing
// frames at the given volume. The returned pipeline must be consumed via
// Frames() until the channel closes.
func (f *Factory) Start(ctx context.Context, track *resolver.Track, volumePercent int) (*Pipeline, error) {
	ctx, cancel := context.WithCancel(ctx)

	cmd := exec.CommandContext(ctx, f.FFmpegPath,
		"-reconnect", "1",
		"-reconnect_streamed", "1",
		"-reconnect_delay_max", "5",
		"-i", track.StreamURL,
		"-vn",
		"-f", "s16le",
		"-ar", fmt.Sprintf("%d", sampleRate),
		"-ac", fmt.Sprintf("%d", channels),
		"-loglevel", "warning",
		"pipe:1",
	)

	stderr, err := cmd.StderrPipe()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("ffmpeg stderr pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("ffmpeg stdout pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		cancel()
		return nil, fmt.Errorf("ffmpeg start: %w", err)
	}

	enc, err := gopus.NewEncoder(sampleRate, channels, gopus.Audio)
	if err != nil {
		cancel()
		_ = cmd.Wait()
		return nil, fmt.Errorf("opus encoder: %w", err)
	}

	p := &Pipeline{
		track:   track,
		cancel:  cancel,
		frames:  make(chan []byte, frameBuffer),
		done:    make(chan struct{}),
		pauseCh: make(chan bool),
	}
	p.gain.Store(int32(volumePercent))

	go consumeStderr(stderr)

	go func() {
		runErr := p.run(ctx, stdout, enc)

		cancel()
		if waitErr := cmd.Wait(); waitErr != nil && runErr == nil && ctx.Err() == nil {
			runErr = fmt.Errorf("ffmpeg exited: %w", waitErr)
		}

		if runErr != nil {
			p.err.Store(runErr)
			log.Printf("[Pipeline] Track %q finished with error: %v", track.Title, runErr)
		}
		close(p.frames)
		close(p.done)
	}()

	return p, nil
}

// run is the frame loop: read PCM, apply gain, encode, deliver. It exits on
// natural end, cancellation or a stream error.
func (p *Pipeline) run(ctx context.Context, r io.Reader, enc encoder) error {
	pcmBuf := make([]byte, pcmFrameBytes)
	intBuf := make([]int16, frameSize*channels)
	paused := false

	for {
		select {
		case paused = <-p.pauseCh:
		case <-ctx.Done():
			return nil
		default:
		}

		for paused {
			select {
			case paused = <-p.pauseCh:
			case <-ctx.Done():
				return nil
			}
		}

		if _, err := io.ReadFull(r, pcmBuf); err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) || ctx.Err() != nil {
				return nil // natural end or cancelled
			}
			return fmt.Errorf("pcm read: %w", err)
		}

		for i := range intBuf {
			intBuf[i] = int16(binary.LittleEndian.Uint16(pcmBuf[i*2 : i*2+2]))
		}
		applyGain(intBuf, p.gain.Load())

		opus, err := enc.Encode(intBuf, frameSize, pcmFrameBytes)
		if err != nil {
			return fmt.Errorf("opus encode: %w", err)
		}

	deliver:
		for {
			if paused {
				select {
				case paused = <-p.pauseCh:
				case <-ctx.Done():
					return nil
				}
				continue
			}
			select {
			case p.frames <- opus:
				break deliver
			case paused = <-p.pauseCh:
			case <-ctx.Done():
				return nil
			}
		}
	}
}

// Frames delivers encoded opus frames; closed when the pipeline exits.
func (p *Pipeline) Frames() <-chan []byte { return p.frames }

// Done closes once the subprocess is released and no more frames will arrive.
func (p *Pipeline) Done() <-chan struct{} { return p.done }

// Err reports a mid-stream failure; nil after a natural end or cancel.
// Valid once Done is closed.
func (p *Pipeline) Err() error {
	if err, ok := p.err.Load().(error); ok {
		return err
	}
	return nil
}

// Track returns the track this pipeline is playing.
func (p *Pipeline) Track() *resolver.Track { return p.track }

// Pause suspends frame production at the next frame boundary.
func (p *Pipeline) Pause() { p.signal(true) }

// Resume restarts frame production.
func (p *Pipeline) Resume() { p.signal(false) }

func (p *Pipeline) signal(pause bool) {
	select {
	case p.pauseCh <- pause:
	case <-p.done:
	}
}

// SetVolume swaps the gain applied to subsequent frames without interrupting
// the decode position.
func (p *Pipeline) SetVolume(percent int) {
	p.gain.Store(int32(percent))
}

// Cancel stops the pipeline and kills the subprocess. The caller may wait on
// Done for the resources to be fully released.
func (p *Pipeline) Cancel() {
	p.cancel()
}

// applyGain scales samples by percent/100, clamping to the int16 range.
func applyGain(samples []int16, percent int32) {
	if percent == 100 {
		return
	}
	for i, s := range samples {
		v := int32(s) * percent / 100
		if v > 32767 {
			v = 32767
		} else if v < -32768 {
			v = -32768
		}
		samples[i] = int16(v)
	}
}

func consumeStderr(stderr io.ReadCloser) {
	defer stderr.Close()
	buf := make([]byte, 1024)
	for {
		if _, err := stderr.Read(buf); err != nil {
			return
		}
	}
}
