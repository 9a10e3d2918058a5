// Package device provides audio.Microphone and audio.OutputDevice on the
// local sound card: capture through miniaudio (malgo) and playback through
// oto.
//
// Both sides exchange mono 32-bit float samples with the driver, so PCM
// conversion only happens in the audio package's codec.
package device

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/gen2brain/malgo"

	"github.com/fit4rcex/coach/pkg/audio"
)

var (
	_ audio.Microphone    = (*Microphone)(nil)
	_ audio.CaptureStream = (*captureStream)(nil)
)

// DefaultFrameSize is the number of samples per capture frame (256ms at 16kHz).
const DefaultFrameSize = 4096

var errClosed = errors.New("device: already closed")

// Microphone captures from the system default input device. The zero value
// is ready to use.
type Microphone struct {
	// FrameSize is the number of samples per delivered frame.
	FrameSize int

	// Period is the driver callback period. Default 20ms.
	Period time.Duration
}

// Open initialises a capture device at sampleRate and starts it. A device
// that cannot be opened or started is reported as
// [audio.ErrPermissionDenied]: miniaudio does not tell a refused
// permission apart from other driver failures.
func (m *Microphone) Open(ctx context.Context, sampleRate int) (audio.CaptureStream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	mctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return nil, fmt.Errorf("device: init audio context: %w", err)
	}
	release := func() {
		_ = mctx.Uninit()
		mctx.Free()
	}

	frameSize := m.FrameSize
	if frameSize <= 0 {
		frameSize = DefaultFrameSize
	}
	period := m.Period
	if period <= 0 {
		period = 20 * time.Millisecond
	}

	cfg := malgo.DefaultDeviceConfig(malgo.Capture)
	cfg.Capture.Format = malgo.FormatF32
	cfg.Capture.Channels = 1
	cfg.SampleRate = uint32(sampleRate)
	cfg.PeriodSizeInMilliseconds = uint32(period.Milliseconds())

	s := newCaptureStream(sampleRate, frameSize, release)
	dev, err := malgo.InitDevice(mctx.Context, cfg, malgo.DeviceCallbacks{Data: s.onData})
	if err != nil {
		release()
		return nil, fmt.Errorf("%w: open capture device: %v", audio.ErrPermissionDenied, err)
	}
	if err := s.start(dev); err != nil {
		return nil, err
	}
	return s, nil
}

// captureDevice is the part of *malgo.Device the stream drives.
type captureDevice interface {
	Start() error
	Stop() error
	Uninit()
}

type captureStream struct {
	frames  chan audio.Frame
	release func()

	mu      sync.Mutex
	dev     captureDevice
	asm     assembler
	stopped bool
	closed  bool
	dropped int
}

func newCaptureStream(rate, frameSize int, release func()) *captureStream {
	return &captureStream{
		frames:  make(chan audio.Frame, 16),
		release: release,
		asm:     assembler{rate: rate, size: frameSize},
	}
}

func (s *captureStream) start(dev captureDevice) error {
	s.mu.Lock()
	s.dev = dev
	s.mu.Unlock()
	if err := dev.Start(); err != nil {
		dev.Uninit()
		s.release()
		return fmt.Errorf("%w: start capture device: %v", audio.ErrPermissionDenied, err)
	}
	return nil
}

// onData runs on the driver's audio thread and must not block: frames the
// consumer is not ready for are dropped.
func (s *captureStream) onData(_, input []byte, _ uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	for _, f := range s.asm.push(input) {
		select {
		case s.frames <- f:
		default:
			s.dropped++
		}
	}
}

func (s *captureStream) Frames() <-chan audio.Frame { return s.frames }

// Stop halts the device and closes Frames.
func (s *captureStream) Stop() error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil
	}
	s.stopped = true
	dev := s.dev
	s.mu.Unlock()

	// Stop waits for a running callback, which takes s.mu.
	var err error
	if dev != nil {
		err = dev.Stop()
	}

	s.mu.Lock()
	close(s.frames)
	if s.dropped > 0 {
		slog.Debug("device: capture frames dropped", "count", s.dropped)
	}
	s.mu.Unlock()
	if err != nil {
		return fmt.Errorf("device: stop capture: %w", err)
	}
	return nil
}

// Close stops the stream if needed and releases the driver.
func (s *captureStream) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return errClosed
	}
	s.closed = true
	s.mu.Unlock()

	_ = s.Stop()
	if s.dev != nil {
		s.dev.Uninit()
	}
	s.release()
	return nil
}

// assembler cuts little-endian float32 bytes into fixed-size mono frames.
// Partial samples and partial frames carry over to the next push.
type assembler struct {
	rate int
	size int

	tail    []byte
	pending []float32
	pos     time.Duration
}

func (a *assembler) push(data []byte) []audio.Frame {
	if len(a.tail) > 0 {
		data = append(a.tail, data...)
		a.tail = nil
	}
	n := len(data) / 4
	for i := range n {
		a.pending = append(a.pending, math.Float32frombits(binary.LittleEndian.Uint32(data[i*4:])))
	}
	if rest := data[n*4:]; len(rest) > 0 {
		a.tail = append([]byte(nil), rest...)
	}

	var out []audio.Frame
	for len(a.pending) >= a.size {
		f := audio.MonoFrame(append([]float32(nil), a.pending[:a.size]...), a.rate)
		f.Timestamp = a.pos
		a.pos += f.Duration()
		out = append(out, f)
		a.pending = a.pending[a.size:]
	}
	return out
}
