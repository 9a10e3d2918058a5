package device

import (
	"encoding/binary"
	"errors"
	"io"
	"math"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/fit4rcex/coach/pkg/audio"
)

func f32le(samples ...float32) []byte {
	out := make([]byte, 4*len(samples))
	for i, s := range samples {
		binary.LittleEndian.PutUint32(out[i*4:], math.Float32bits(s))
	}
	return out
}

func TestAssembler_Push(t *testing.T) {
	t.Parallel()

	a := assembler{rate: 4, size: 2}
	data := f32le(0.1, 0.2, 0.3, 0.4, 0.5)

	// Split mid-sample: the first push carries 1.5 samples.
	if got := a.push(data[:6]); len(got) != 0 {
		t.Fatalf("first push returned %d frames, want 0", len(got))
	}
	got := a.push(data[6:])
	if len(got) != 2 {
		t.Fatalf("second push returned %d frames, want 2", len(got))
	}

	tests := []struct {
		want []float32
		ts   time.Duration
	}{
		{[]float32{0.1, 0.2}, 0},
		{[]float32{0.3, 0.4}, 500 * time.Millisecond},
	}
	for i, tt := range tests {
		if !slices.Equal(got[i].Mono(), tt.want) {
			t.Errorf("frame %d = %v, want %v", i, got[i].Mono(), tt.want)
		}
		if got[i].Timestamp != tt.ts {
			t.Errorf("frame %d timestamp = %v, want %v", i, got[i].Timestamp, tt.ts)
		}
		if got[i].SampleRate != 4 {
			t.Errorf("frame %d rate = %d, want 4", i, got[i].SampleRate)
		}
	}
	if !slices.Equal(a.pending, []float32{0.5}) {
		t.Errorf("pending = %v, want [0.5]", a.pending)
	}
}

type fakeDevice struct {
	startErr error
	stops    int
	uninits  int
}

func (d *fakeDevice) Start() error { return d.startErr }
func (d *fakeDevice) Stop() error  { d.stops++; return nil }
func (d *fakeDevice) Uninit()      { d.uninits++ }

func TestCaptureStream_StartFailureIsPermissionDenied(t *testing.T) {
	t.Parallel()

	released := 0
	s := newCaptureStream(16000, 2, func() { released++ })
	dev := &fakeDevice{startErr: errors.New("access refused")}

	err := s.start(dev)
	if !errors.Is(err, audio.ErrPermissionDenied) {
		t.Fatalf("start err = %v, want ErrPermissionDenied", err)
	}
	if dev.uninits != 1 || released != 1 {
		t.Errorf("uninits = %d, released = %d, want 1, 1", dev.uninits, released)
	}
}

func TestCaptureStream_DeliversUntilStopped(t *testing.T) {
	t.Parallel()

	released := 0
	s := newCaptureStream(16000, 2, func() { released++ })
	dev := &fakeDevice{}
	if err := s.start(dev); err != nil {
		t.Fatalf("start: %v", err)
	}

	s.onData(nil, f32le(0.1, 0.2, 0.3, 0.4), 4)
	for range 2 {
		select {
		case f := <-s.Frames():
			if f.Len() != 2 {
				t.Errorf("frame len = %d, want 2", f.Len())
			}
		default:
			t.Fatal("expected a frame")
		}
	}

	if err := s.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	s.onData(nil, f32le(0.5, 0.6), 2)
	if _, ok := <-s.Frames(); ok {
		t.Error("frame delivered after Stop")
	}
	if err := s.Stop(); err != nil {
		t.Errorf("second Stop: %v", err)
	}
	if dev.stops != 1 {
		t.Errorf("device stops = %d, want 1", dev.stops)
	}

	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := s.Close(); !errors.Is(err, errClosed) {
		t.Errorf("second Close = %v, want errClosed", err)
	}
	if dev.uninits != 1 || released != 1 {
		t.Errorf("uninits = %d, released = %d, want 1, 1", dev.uninits, released)
	}
}

func TestCaptureStream_DropsWhenConsumerIsSlow(t *testing.T) {
	t.Parallel()

	s := newCaptureStream(16000, 1, func() {})
	if err := s.start(&fakeDevice{}); err != nil {
		t.Fatalf("start: %v", err)
	}
	samples := make([]float32, cap(s.frames)+3)
	s.onData(nil, f32le(samples...), uint32(len(samples)))

	if got := len(s.frames); got != cap(s.frames) {
		t.Errorf("queued = %d, want %d", got, cap(s.frames))
	}
	if s.dropped != 3 {
		t.Errorf("dropped = %d, want 3", s.dropped)
	}
}

type fakeVoice struct {
	mu      sync.Mutex
	data    []byte
	playing bool
	paused  bool
	closed  bool
	volume  float64
}

func (v *fakeVoice) Play()                 { v.mu.Lock(); v.playing = true; v.mu.Unlock() }
func (v *fakeVoice) Pause()                { v.mu.Lock(); v.paused = true; v.mu.Unlock() }
func (v *fakeVoice) SetVolume(vol float64) { v.mu.Lock(); v.volume = vol; v.mu.Unlock() }
func (v *fakeVoice) Close() error          { v.mu.Lock(); v.closed = true; v.mu.Unlock(); return nil }

type fakeTimer struct {
	d       time.Duration
	f       func()
	stopped bool
}

func (t *fakeTimer) Stop() bool { t.stopped = true; return true }

type outputHarness struct {
	out    *output
	now    time.Time
	voices []*fakeVoice
	timers []*fakeTimer
}

func newOutputHarness(deviceRate int) *outputHarness {
	h := &outputHarness{now: time.Unix(1000, 0)}
	h.out = newOutput(deviceRate,
		func(r io.Reader) voice {
			data, _ := io.ReadAll(r)
			v := &fakeVoice{data: data}
			h.voices = append(h.voices, v)
			return v
		},
		func() time.Time { return h.now },
		func(d time.Duration, f func()) stopper {
			t := &fakeTimer{d: d, f: f}
			h.timers = append(h.timers, t)
			return t
		},
	)
	return h
}

func frame(d time.Duration, rate int) audio.Frame {
	return audio.MonoFrame(make([]float32, int(d*time.Duration(rate)/time.Second)), rate)
}

func TestOutput_StartSchedulesAtPosition(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		at        time.Duration
		wantStart time.Duration
		wantEnd   time.Duration
	}{
		{"future", 300 * time.Millisecond, 200 * time.Millisecond, 300 * time.Millisecond},
		{"now", 100 * time.Millisecond, 0, 100 * time.Millisecond},
		{"past", 0, 0, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			h := newOutputHarness(24000)
			h.now = h.now.Add(100 * time.Millisecond)

			done := 0
			if err := h.out.Start(frame(100*time.Millisecond, 24000), tt.at, func() { done++ }); err != nil {
				t.Fatalf("Start: %v", err)
			}
			if len(h.timers) != 2 {
				t.Fatalf("timers = %d, want 2", len(h.timers))
			}
			if h.timers[0].d != tt.wantStart || h.timers[1].d != tt.wantEnd {
				t.Errorf("timers = %v, %v, want %v, %v", h.timers[0].d, h.timers[1].d, tt.wantStart, tt.wantEnd)
			}

			v := h.voices[0]
			if len(v.data) != 4*2400 {
				t.Errorf("voice bytes = %d, want %d", len(v.data), 4*2400)
			}
			h.timers[0].f()
			if !v.playing {
				t.Error("voice not playing after start timer")
			}
			h.timers[1].f()
			if !v.closed || done != 1 {
				t.Errorf("closed = %v, done = %d, want true, 1", v.closed, done)
			}
		})
	}
}

func TestOutput_ResamplesToDeviceRate(t *testing.T) {
	t.Parallel()
	h := newOutputHarness(48000)

	if err := h.out.Start(frame(10*time.Millisecond, 24000), 0, func() {}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if got, want := len(h.voices[0].data), 4*480; got != want {
		t.Errorf("voice bytes = %d, want %d", got, want)
	}
	// Duration is taken from the source frame, not the resampled one.
	if h.timers[1].d != 10*time.Millisecond {
		t.Errorf("end timer = %v, want 10ms", h.timers[1].d)
	}
}

func TestOutput_GainAppliesToQueuedVoices(t *testing.T) {
	t.Parallel()
	h := newOutputHarness(24000)

	h.out.Start(frame(100*time.Millisecond, 24000), 0, func() {})
	h.out.Start(frame(100*time.Millisecond, 24000), 100*time.Millisecond, func() {})
	for i, v := range h.voices {
		if v.volume != 1 {
			t.Errorf("voice %d volume = %v, want 1", i, v.volume)
		}
	}

	h.out.SetGain(0)
	for i, v := range h.voices {
		if v.volume != 0 {
			t.Errorf("voice %d volume after mute = %v, want 0", i, v.volume)
		}
	}

	// Voices started while muted stay silent.
	h.out.Start(frame(100*time.Millisecond, 24000), 200*time.Millisecond, func() {})
	if v := h.voices[2]; v.volume != 0 {
		t.Errorf("new voice volume = %v, want 0", v.volume)
	}
}

func TestOutput_FlushSilencesEverything(t *testing.T) {
	t.Parallel()
	h := newOutputHarness(24000)

	done := 0
	for i := range 3 {
		h.out.Start(frame(100*time.Millisecond, 24000), time.Duration(i)*100*time.Millisecond, func() { done++ })
	}
	h.timers[0].f() // first buffer is audible

	h.out.Flush()
	if done != 3 {
		t.Errorf("done calls = %d, want 3", done)
	}
	for i, v := range h.voices {
		if !v.paused || !v.closed {
			t.Errorf("voice %d paused = %v, closed = %v, want both", i, v.paused, v.closed)
		}
	}
	for i, tm := range h.timers {
		if !tm.stopped {
			t.Errorf("timer %d not stopped", i)
		}
	}

	// A late timer firing after the flush neither plays nor finishes again.
	h.timers[2].f()
	h.timers[3].f()
	if h.voices[1].playing || done != 3 {
		t.Errorf("late timer: playing = %v, done = %d", h.voices[1].playing, done)
	}
}

func TestOutput_Close(t *testing.T) {
	t.Parallel()
	h := newOutputHarness(24000)

	done := 0
	h.out.Start(frame(100*time.Millisecond, 24000), 0, func() { done++ })
	if err := h.out.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if done != 1 {
		t.Errorf("done = %d, want 1", done)
	}
	if err := h.out.Close(); !errors.Is(err, errClosed) {
		t.Errorf("second Close = %v, want errClosed", err)
	}
	if err := h.out.Start(frame(10*time.Millisecond, 24000), 0, func() {}); !errors.Is(err, errClosed) {
		t.Errorf("Start after Close = %v, want errClosed", err)
	}
}

func TestOutput_Now(t *testing.T) {
	t.Parallel()
	h := newOutputHarness(24000)
	h.now = h.now.Add(1500 * time.Millisecond)
	if got := h.out.Now(); got != 1500*time.Millisecond {
		t.Errorf("Now = %v, want 1.5s", got)
	}
}
