package device

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"sync"
	"time"

	"github.com/ebitengine/oto/v3"

	"github.com/fit4rcex/coach/pkg/audio"
)

var (
	_ audio.OutputDevice = (*Speaker)(nil)
	_ audio.OutputGraph  = (*output)(nil)
)

// oto allows a single context per process. It is created on the first Open
// at that Open's sample rate; later graphs at other rates resample to it.
var shared struct {
	once sync.Once
	ctx  *oto.Context
	rate int
	err  error
	done chan struct{}
}

// Speaker plays through the system default output device. The zero value
// is ready to use.
type Speaker struct {
	// BufferSize is the driver buffer length. Zero lets oto choose.
	BufferSize time.Duration
}

// Open returns an output graph whose clock starts at zero now.
func (s *Speaker) Open(ctx context.Context, sampleRate int) (audio.OutputGraph, error) {
	shared.once.Do(func() {
		shared.rate = sampleRate
		shared.ctx, shared.done, shared.err = oto.NewContext(&oto.NewContextOptions{
			SampleRate:   sampleRate,
			ChannelCount: 1,
			Format:       oto.FormatFloat32LE,
			BufferSize:   s.BufferSize,
		})
	})
	if shared.err != nil {
		return nil, fmt.Errorf("device: open output: %w", shared.err)
	}
	select {
	case <-shared.done:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	octx := shared.ctx
	return newOutput(shared.rate, func(r io.Reader) voice {
		return octx.NewPlayer(r)
	}, time.Now, afterFunc), nil
}

// voice is the part of *oto.Player the output drives.
type voice interface {
	Play()
	Pause()
	SetVolume(volume float64)
	Close() error
}

type stopper interface {
	Stop() bool
}

func afterFunc(d time.Duration, f func()) stopper { return time.AfterFunc(d, f) }

// queued is one started buffer: a voice that begins at its start timer and
// is retired by its end timer.
type queued struct {
	v          voice
	start, end stopper
	done       func()
}

// output plays each buffer on its own voice. Overlap is prevented by the
// scheduler's cursor, not here.
type output struct {
	newVoice   func(io.Reader) voice
	after      func(time.Duration, func()) stopper
	epoch      time.Time
	wall       func() time.Time
	deviceRate int

	mu     sync.Mutex
	gain   float32
	closed bool
	seq    uint64
	active map[uint64]*queued
}

func newOutput(deviceRate int, newVoice func(io.Reader) voice, wall func() time.Time, after func(time.Duration, func()) stopper) *output {
	return &output{
		newVoice:   newVoice,
		after:      after,
		epoch:      wall(),
		wall:       wall,
		deviceRate: deviceRate,
		gain:       audio.NominalGain,
		active:     make(map[uint64]*queued),
	}
}

// Now is the time elapsed since the graph was opened.
func (o *output) Now() time.Duration { return o.wall().Sub(o.epoch) }

// Start plays buf at position at. A position already in the past plays
// immediately.
func (o *output) Start(buf audio.Frame, at time.Duration, done func()) error {
	samples := buf.Mono()
	if buf.SampleRate > 0 && buf.SampleRate != o.deviceRate {
		samples = audio.ResampleLinear(samples, buf.SampleRate, o.deviceRate)
	}
	dur := buf.Duration()

	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return errClosed
	}
	o.seq++
	id := o.seq
	q := &queued{v: o.newVoice(bytes.NewReader(encodeFloat32(samples))), done: done}
	q.v.SetVolume(float64(o.gain))
	o.active[id] = q

	now := o.Now()
	q.start = o.after(max(at-now, 0), func() {
		o.mu.Lock()
		defer o.mu.Unlock()
		if _, ok := o.active[id]; ok {
			q.v.Play()
		}
	})
	q.end = o.after(max(at+dur-now, 0), func() { o.retire(id) })
	return nil
}

func (o *output) retire(id uint64) {
	o.mu.Lock()
	q, ok := o.active[id]
	delete(o.active, id)
	o.mu.Unlock()
	if !ok {
		return
	}
	_ = q.v.Close()
	q.done()
}

// SetGain applies gain to every queued and playing voice.
func (o *output) SetGain(gain float32) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.gain = gain
	for _, q := range o.active {
		q.v.SetVolume(float64(gain))
	}
}

// Flush silences every voice, including the one currently audible.
func (o *output) Flush() {
	o.mu.Lock()
	flushed := o.active
	o.active = make(map[uint64]*queued)
	o.mu.Unlock()

	for _, q := range flushed {
		q.start.Stop()
		q.end.Stop()
		q.v.Pause()
		_ = q.v.Close()
		q.done()
	}
}

func (o *output) Close() error {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return errClosed
	}
	o.closed = true
	o.mu.Unlock()
	o.Flush()
	return nil
}

func encodeFloat32(samples []float32) []byte {
	out := make([]byte, 4*len(samples))
	for i, s := range samples {
		binary.LittleEndian.PutUint32(out[i*4:], math.Float32bits(s))
	}
	return out
}
