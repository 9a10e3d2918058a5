// Package mock provides test doubles for the audio package interfaces.
//
// Use Clock to control the output timeline, Output to inspect scheduled
// buffers and gain changes, and Microphone to feed capture frames and to
// simulate permission denial.
//
// All types record the order in which lifecycle methods were called in a
// shared Log so teardown ordering can be asserted across doubles.
package mock

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/fit4rcex/coach/pkg/audio"
)

var (
	_ audio.Microphone    = (*Microphone)(nil)
	_ audio.CaptureStream = (*CaptureStream)(nil)
	_ audio.OutputDevice  = (*OutputDevice)(nil)
	_ audio.OutputGraph   = (*Output)(nil)
)

// ErrAlreadyClosed is returned by Output.Close and CaptureStream.Close on the
// second and later calls.
var ErrAlreadyClosed = errors.New("mock: already closed")

// Log records lifecycle calls in order. The zero value is ready to use.
type Log struct {
	mu    sync.Mutex
	calls []string
}

// Add appends name to the log.
func (l *Log) Add(name string) {
	if l == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls = append(l.calls, name)
}

// Calls returns a copy of the recorded calls.
func (l *Log) Calls() []string {
	if l == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]string, len(l.calls))
	copy(out, l.calls)
	return out
}

// ── Clock ─────────────────────────────────────────────────────────────────────

// Clock is a manually advanced audio clock.
type Clock struct {
	mu  sync.Mutex
	now time.Duration
}

// Now returns the current clock position.
func (c *Clock) Now() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Set moves the clock to d.
func (c *Clock) Set(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = d
}

// Advance moves the clock forward by d.
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now += d
}

// ── Output ────────────────────────────────────────────────────────────────────

// StartCall records one invocation of Output.Start.
type StartCall struct {
	Buf  audio.Frame
	At   time.Duration
	done func()
}

// Output is a recording audio.OutputGraph. Started buffers stay pending until
// FinishAll or FinishNext is called.
type Output struct {
	Clock

	// StartErr, if non-nil, is returned from Start.
	StartErr error

	// Log, if non-nil, receives "output.close".
	Log *Log

	mu         sync.Mutex
	starts     []StartCall
	pending    []StartCall
	gains      []float32
	flushes    int
	closeCalls int
}

// Start records the call. The done callback is held until finished.
func (o *Output) Start(buf audio.Frame, at time.Duration, done func()) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.StartErr != nil {
		return o.StartErr
	}
	call := StartCall{Buf: buf, At: at, done: done}
	o.starts = append(o.starts, call)
	o.pending = append(o.pending, call)
	return nil
}

// Flush discards every pending buffer, calling its done, and counts the call.
func (o *Output) Flush() {
	o.mu.Lock()
	dropped := o.pending
	o.pending = nil
	o.flushes++
	o.mu.Unlock()
	for _, call := range dropped {
		call.done()
	}
}

// Flushes returns how many times Flush was called.
func (o *Output) Flushes() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.flushes
}

// Pending returns the number of started buffers not yet finished or flushed.
func (o *Output) Pending() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.pending)
}

// SetGain records the gain value.
func (o *Output) SetGain(g float32) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.gains = append(o.gains, g)
}

// Close records the call. The second and later calls return ErrAlreadyClosed.
func (o *Output) Close() error {
	o.mu.Lock()
	o.closeCalls++
	n := o.closeCalls
	o.mu.Unlock()
	o.Log.Add("output.close")
	if n > 1 {
		return ErrAlreadyClosed
	}
	return nil
}

// Starts returns every recorded Start call.
func (o *Output) Starts() []StartCall {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]StartCall, len(o.starts))
	copy(out, o.starts)
	return out
}

// Gains returns every gain passed to SetGain, in order.
func (o *Output) Gains() []float32 {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]float32, len(o.gains))
	copy(out, o.gains)
	return out
}

// Gain returns the most recent gain, or -1 if SetGain was never called.
func (o *Output) Gain() float32 {
	o.mu.Lock()
	defer o.mu.Unlock()
	if len(o.gains) == 0 {
		return -1
	}
	return o.gains[len(o.gains)-1]
}

// CloseCalls returns how many times Close was called.
func (o *Output) CloseCalls() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.closeCalls
}

// FinishNext completes the oldest pending buffer. It reports whether there
// was one.
func (o *Output) FinishNext() bool {
	o.mu.Lock()
	if len(o.pending) == 0 {
		o.mu.Unlock()
		return false
	}
	call := o.pending[0]
	o.pending = o.pending[1:]
	o.mu.Unlock()
	call.done()
	return true
}

// FinishAll completes every pending buffer in start order.
func (o *Output) FinishAll() {
	for o.FinishNext() {
	}
}

// OutputDevice hands out a fixed Output.
type OutputDevice struct {
	// Output is returned by Open. If nil, a new Output is created.
	Output *Output

	// OpenErr, if non-nil, is returned from Open.
	OpenErr error

	mu        sync.Mutex
	openRates []int
}

// Open records the sample rate and returns Output.
func (d *OutputDevice) Open(_ context.Context, sampleRate int) (audio.OutputGraph, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.openRates = append(d.openRates, sampleRate)
	if d.OpenErr != nil {
		return nil, d.OpenErr
	}
	if d.Output == nil {
		d.Output = &Output{}
	}
	return d.Output, nil
}

// OpenCalls returns the sample rates passed to Open.
func (d *OutputDevice) OpenCalls() []int {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]int, len(d.openRates))
	copy(out, d.openRates)
	return out
}

// ── Microphone ────────────────────────────────────────────────────────────────

// Microphone is a scriptable audio.Microphone.
type Microphone struct {
	// Stream is returned by Open. If nil, a new CaptureStream is created.
	Stream *CaptureStream

	// OpenErr, if non-nil, is returned from Open (e.g. audio.ErrPermissionDenied).
	OpenErr error

	mu        sync.Mutex
	openCalls int
}

// Open returns Stream or OpenErr.
func (m *Microphone) Open(_ context.Context, _ int) (audio.CaptureStream, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.openCalls++
	if m.OpenErr != nil {
		return nil, m.OpenErr
	}
	if m.Stream == nil {
		m.Stream = NewCaptureStream(nil)
	}
	return m.Stream, nil
}

// OpenCalls returns how many times Open was called.
func (m *Microphone) OpenCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.openCalls
}

// CaptureStream is a channel-backed audio.CaptureStream. Tests push frames
// with Push; Stop closes the frame channel.
type CaptureStream struct {
	frames chan audio.Frame
	log    *Log

	mu         sync.Mutex
	stopped    bool
	stopCalls  int
	closeCalls int
}

// NewCaptureStream returns a stream with a buffered frame channel. log may
// be nil.
func NewCaptureStream(log *Log) *CaptureStream {
	return &CaptureStream{frames: make(chan audio.Frame, 64), log: log}
}

// Push delivers a frame. It reports false if the stream was stopped.
func (s *CaptureStream) Push(f audio.Frame) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return false
	}
	s.frames <- f
	return true
}

// Frames returns the frame channel.
func (s *CaptureStream) Frames() <-chan audio.Frame { return s.frames }

// Stop closes the frame channel. Idempotent.
func (s *CaptureStream) Stop() error {
	s.mu.Lock()
	s.stopCalls++
	first := !s.stopped
	if first {
		s.stopped = true
		close(s.frames)
	}
	s.mu.Unlock()
	if first {
		s.log.Add("capture.stop")
	}
	return nil
}

// Close records the call. The second and later calls return ErrAlreadyClosed.
func (s *CaptureStream) Close() error {
	s.mu.Lock()
	s.closeCalls++
	n := s.closeCalls
	s.mu.Unlock()
	s.log.Add("capture.close")
	if n > 1 {
		return ErrAlreadyClosed
	}
	return nil
}

// Stopped reports whether Stop was called.
func (s *CaptureStream) Stopped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopped
}

// CloseCalls returns how many times Close was called.
func (s *CaptureStream) CloseCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closeCalls
}
