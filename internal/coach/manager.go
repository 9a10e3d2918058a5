// Package coach implements the realtime voice session behind the coach
// overlay.
//
// A [Manager] owns exactly one streaming session with the voice service. It
// requests the microphone, opens the playback graph, connects the service and
// then runs a single event loop that forwards captured frames, schedules
// received audio, tracks transcripts and drives the workout tool-call handoff.
//
// Every failure ends in a user-facing status string. Nothing is retried: a new
// session needs a new Manager.
package coach

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/fit4rcex/coach/internal/observe"
	"github.com/fit4rcex/coach/pkg/audio"
	"github.com/fit4rcex/coach/pkg/provider/s2s"
)

// ErrNotIdle is returned by Open on a Manager that was already opened.
var ErrNotIdle = errors.New("coach: session already started")

// ErrTornDown is returned by Open when Close ran while it was connecting.
var ErrTornDown = errors.New("coach: session closed while connecting")

// Handoff receives the deferred actions of an honoured workout call. Both
// methods are called from timer goroutines after the session may already be
// gone.
type Handoff interface {
	// CloseOverlay hides the voice overlay.
	CloseOverlay()

	// StartWorkout sends req to the workout generator and switches the
	// active screen to the workout view.
	StartWorkout(req WorkoutRequest)
}

// Default handoff delays.
const (
	DefaultCloseDelay  = 3000 * time.Millisecond
	DefaultSwitchDelay = 100 * time.Millisecond
)

// Option configures a [Manager].
type Option func(*Manager)

// WithMetrics sets the metric instruments. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(mgr *Manager) { mgr.metrics = m }
}

// WithAfterFunc replaces the timer used for the workout handoff. Tests pass a
// fake to fire the delays deterministically.
func WithAfterFunc(fn func(d time.Duration, f func())) Option {
	return func(mgr *Manager) { mgr.afterFunc = fn }
}

// WithHandoffDelays overrides the overlay close delay and the additional delay
// before the screen switch.
func WithHandoffDelays(closeDelay, switchDelay time.Duration) Option {
	return func(mgr *Manager) {
		mgr.closeDelay = closeDelay
		mgr.switchDelay = switchDelay
	}
}

// WithCaptureGain overrides the microphone gain. Defaults to [audio.CaptureGain].
func WithCaptureGain(g float32) Option {
	return func(mgr *Manager) { mgr.captureGain = g }
}

// WithVoice selects the provider voice.
func WithVoice(voice string) Option {
	return func(mgr *Manager) { mgr.voice = voice }
}

// WithLanguage sets the conversation language code. Defaults to "en".
func WithLanguage(lang string) Option {
	return func(mgr *Manager) { mgr.language = lang }
}

// WithInstructions replaces [DefaultInstructions] as the system prompt.
func WithInstructions(text string) Option {
	return func(mgr *Manager) { mgr.instructions = text }
}

// WithPlaybackRate sets the rate the output graph is opened at. Defaults to
// [audio.PlaybackSampleRate].
func WithPlaybackRate(rate int) Option {
	return func(mgr *Manager) { mgr.playbackRate = rate }
}

// resources is everything a live session holds. It is published in one
// assignment once the service is connected and released in teardown order.
type resources struct {
	session   s2s.Session
	capture   audio.CaptureStream
	output    audio.OutputGraph
	scheduler *audio.Scheduler
	inRate    *audio.Resampler
	outRate   *audio.Resampler

	cancel   context.CancelFunc
	loopDone chan struct{}
	once     sync.Once
}

// release closes the session, stops the microphone, stops the event loop and
// closes both audio graphs. Errors from already-closed resources are
// dropped. When wait is true it blocks until the event loop has returned.
func (r *resources) release(wait bool) {
	r.once.Do(func() {
		if err := r.session.Close(); err != nil {
			slog.Debug("coach: close session", "err", err)
		}
		if err := r.capture.Stop(); err != nil {
			slog.Debug("coach: stop microphone", "err", err)
		}
		r.cancel()
		if wait {
			<-r.loopDone
		}
		_ = r.capture.Close()
		_ = r.output.Close()
	})
}

// Manager runs one voice session. All exported methods are safe for
// concurrent use. OnChange listeners run on internal goroutines and must not
// call Close.
type Manager struct {
	provider s2s.Provider
	mic      audio.Microphone
	speaker  audio.OutputDevice
	handoff  Handoff

	metrics      *observe.Metrics
	afterFunc    func(time.Duration, func())
	closeDelay   time.Duration
	switchDelay  time.Duration
	captureGain  float32
	playbackRate int
	voice        string
	language     string
	instructions string

	// toolFired guards the workout handoff for the lifetime of the Manager.
	toolFired atomic.Bool

	mu        sync.Mutex
	view      View
	live      bool
	res       *resources
	listeners []func(View)
}

// New creates an idle Manager. provider, mic, speaker and handoff are
// required.
func New(provider s2s.Provider, mic audio.Microphone, speaker audio.OutputDevice, handoff Handoff, opts ...Option) *Manager {
	m := &Manager{
		provider:     provider,
		mic:          mic,
		speaker:      speaker,
		handoff:      handoff,
		afterFunc:    func(d time.Duration, f func()) { time.AfterFunc(d, f) },
		closeDelay:   DefaultCloseDelay,
		switchDelay:  DefaultSwitchDelay,
		captureGain:  audio.CaptureGain,
		playbackRate: audio.PlaybackSampleRate,
		language:     "en",
		view:         View{State: StateIdle},
	}
	for _, o := range opts {
		o(m)
	}
	if m.metrics == nil {
		m.metrics = observe.DefaultMetrics()
	}
	if m.instructions == "" {
		m.instructions = DefaultInstructions(m.language)
	}
	return m
}

// OnChange registers fn to receive a snapshot after every visible change.
func (m *Manager) OnChange(fn func(View)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners = append(m.listeners, fn)
}

// Snapshot returns the current view.
func (m *Manager) Snapshot() View {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.view
}

// Open moves the session from Idle to Open: it requests the microphone, opens
// the playback graph and connects to the voice service. On failure the
// session ends Errored with a status that tells the user what went wrong, and
// everything acquired so far is released.
func (m *Manager) Open(ctx context.Context) error {
	m.mu.Lock()
	if m.view.State != StateIdle {
		m.mu.Unlock()
		return ErrNotIdle
	}
	m.live = true
	m.view.SessionID = uuid.NewString()
	m.view.State = StateConnecting
	m.view.Status = StatusInitializing
	id := m.view.SessionID
	snap := m.view
	m.mu.Unlock()
	m.notify(snap)

	start := time.Now()
	ctx, span := observe.StartSpan(ctx, "coach.connect")
	defer span.End()
	log := observe.Logger(ctx).With("session_id", id)

	capture, err := m.mic.Open(ctx, audio.CaptureSampleRate)
	if err != nil {
		observe.FailSpan(span, err)
		if errors.Is(err, audio.ErrPermissionDenied) {
			log.Warn("coach: microphone permission denied", "err", err)
			m.fail(StatusPermissionDenied)
		} else {
			log.Error("coach: open microphone", "err", err)
			m.fail(StatusError)
		}
		return fmt.Errorf("coach: open microphone: %w", err)
	}
	if !m.update(func(v *View) { v.Status = StatusConnecting }) {
		releaseCapture(capture)
		return ErrTornDown
	}

	output, err := m.speaker.Open(ctx, m.playbackRate)
	if err != nil {
		observe.FailSpan(span, err)
		log.Error("coach: open output", "err", err)
		releaseCapture(capture)
		m.fail(StatusError)
		return fmt.Errorf("coach: open output: %w", err)
	}

	session, err := m.provider.Connect(ctx, s2s.SessionConfig{
		Voice:               m.voice,
		Instructions:        m.instructions,
		Tools:               []s2s.ToolDeclaration{StartWorkoutGenerationTool()},
		InputTranscription:  true,
		OutputTranscription: true,
	})
	if err != nil {
		observe.FailSpan(span, err)
		log.Error("coach: connect voice service", "err", err)
		releaseCapture(capture)
		_ = output.Close()
		m.fail(StatusConnectionFailed)
		return fmt.Errorf("coach: connect: %w", err)
	}

	loopCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	res := &resources{
		session:  session,
		capture:  capture,
		output:   output,
		inRate:   &audio.Resampler{TargetRate: audio.CaptureSampleRate},
		outRate:  &audio.Resampler{TargetRate: m.playbackRate},
		cancel:   cancel,
		loopDone: make(chan struct{}),
	}
	res.scheduler = audio.NewScheduler(output, output, func(active bool) {
		m.update(func(v *View) { v.AISpeaking = active })
	})

	m.mu.Lock()
	if !m.live {
		m.mu.Unlock()
		res.release(false)
		return ErrTornDown
	}
	m.res = res
	m.view.State = StateOpen
	m.view.Status = StatusConnected
	gain := m.outputGainLocked()
	snap = m.view
	m.mu.Unlock()

	output.SetGain(gain)
	m.metrics.ActiveSessions.Add(ctx, 1)
	m.metrics.ConnectDuration.Record(ctx, time.Since(start).Seconds())
	log.Info("coach: session open", "elapsed", time.Since(start))

	go m.run(loopCtx, res)
	m.notify(snap)
	return nil
}

// Close tears the session down. It is idempotent and safe to call in any
// state. A session that has not already ended becomes Closed/Disconnected.
func (m *Manager) Close() error {
	m.teardown(StateClosed, StatusDisconnected, true)
	return nil
}

// SetMuted sets the mute flag. While muted, captured frames are dropped and
// the output gain is 0.
func (m *Manager) SetMuted(muted bool) {
	m.mu.Lock()
	m.view.Muted = muted
	gain := m.outputGainLocked()
	var output audio.OutputGraph
	if m.res != nil {
		output = m.res.output
	}
	snap := m.view
	m.mu.Unlock()

	if output != nil {
		output.SetGain(gain)
	}
	m.notify(snap)
}

func (m *Manager) outputGainLocked() float32 {
	if m.view.Muted {
		return 0
	}
	return audio.NominalGain
}

func (m *Manager) muted() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.view.Muted
}

// update applies fn to the view if the session is still live and notifies
// listeners. It reports whether the session was live.
func (m *Manager) update(fn func(v *View)) bool {
	m.mu.Lock()
	if !m.live {
		m.mu.Unlock()
		return false
	}
	fn(&m.view)
	snap := m.view
	m.mu.Unlock()
	m.notify(snap)
	return true
}

func (m *Manager) notify(v View) {
	m.mu.Lock()
	listeners := append([]func(View){}, m.listeners...)
	m.mu.Unlock()
	for _, fn := range listeners {
		fn(v)
	}
}

// fail ends a session that never reached Open.
func (m *Manager) fail(status string) {
	m.mu.Lock()
	if !m.live {
		m.mu.Unlock()
		return
	}
	m.live = false
	m.view.State = StateErrored
	m.view.Status = status
	snap := m.view
	m.mu.Unlock()

	m.metrics.RecordConnectFailure(context.Background(), status)
	m.notify(snap)
}

// teardown marks the session non-live, records the final state unless one is
// already set, and releases the session resources. wait must be false when
// called from the event loop.
func (m *Manager) teardown(state State, status string, wait bool) {
	m.mu.Lock()
	m.live = false
	res := m.res
	m.res = nil
	changed := false
	if !m.view.State.Terminal() {
		m.view.State = state
		m.view.Status = status
		m.view.AISpeaking = false
		m.view.UserSpeaking = false
		changed = true
	}
	snap := m.view
	m.mu.Unlock()

	if res != nil {
		res.release(wait)
		m.metrics.RecordSessionEnd(context.Background(), snap.Status)
		slog.Info("coach: session ended", "session_id", snap.SessionID, "status", snap.Status)
	}
	if changed {
		m.notify(snap)
	}
}

// run is the session event loop. Microphone frames and service events are
// handled one at a time, each stream in arrival order.
func (m *Manager) run(ctx context.Context, res *resources) {
	defer close(res.loopDone)

	frames := res.capture.Frames()
	events := res.session.Events()
	for {
		select {
		case <-ctx.Done():
			return
		case f, ok := <-frames:
			if !ok {
				slog.Debug("coach: microphone stream ended")
				frames = nil
				continue
			}
			m.handleFrame(ctx, res, f)
		case evt, ok := <-events:
			if !ok {
				if err := res.session.Err(); err != nil {
					slog.Error("coach: voice session failed", "err", err)
					m.teardown(StateErrored, StatusError, false)
				} else {
					m.teardown(StateClosed, StatusDisconnected, false)
				}
				return
			}
			if !m.handleEvent(ctx, res, evt) {
				return
			}
		}
	}
}

func (m *Manager) handleFrame(ctx context.Context, res *resources, f audio.Frame) {
	if m.muted() {
		m.metrics.FramesMuted.Add(ctx, 1)
		return
	}
	blob := audio.EncodeOutgoingFrame(res.inRate.Convert(f), m.captureGain)
	if err := res.session.SendRealtimeInput(blob); err != nil {
		slog.Debug("coach: send audio", "err", err)
		return
	}
	m.metrics.FramesSent.Add(ctx, 1)
}

// handleEvent reports false when the event ended the session.
func (m *Manager) handleEvent(ctx context.Context, res *resources, evt s2s.Event) bool {
	switch e := evt.(type) {
	case s2s.InputTranscript:
		m.update(func(v *View) {
			v.UserTranscript += e.Text
			v.UserSpeaking = true
		})
	case s2s.OutputTranscript:
		m.update(func(v *View) { v.AITranscript += e.Text })
	case s2s.AudioChunk:
		m.playChunk(ctx, res, e)
	case s2s.Interrupted:
		res.scheduler.Reset()
	case s2s.TurnComplete:
		m.update(func(v *View) {
			v.UserTranscript = ""
			v.AITranscript = ""
			v.UserSpeaking = false
			v.AISpeaking = false
		})
	case s2s.ToolCall:
		m.handleToolCall(ctx, res, e)
	case s2s.ServiceError:
		slog.Error("coach: service error", "code", e.Code, "status", e.Status, "message", e.Message)
		m.teardown(StateErrored, StatusError, false)
		return false
	default:
		slog.Debug("coach: unhandled event", "kind", evt.Kind())
	}
	return true
}

func (m *Manager) playChunk(ctx context.Context, res *resources, chunk s2s.AudioChunk) {
	rate := chunk.SampleRate
	if rate <= 0 {
		rate = m.playbackRate
	}
	frame := audio.DecodeIncomingFrame(chunk.Data, rate, chunk.Channels)
	if frame.Len() == 0 {
		return
	}
	if frame.Channels() != 1 || rate != m.playbackRate {
		frame = audio.MonoFrame(res.outRate.Convert(frame), m.playbackRate)
	}
	if _, err := res.scheduler.Schedule(frame); err != nil {
		slog.Warn("coach: schedule playback", "err", err)
		return
	}
	m.metrics.BuffersScheduled.Add(ctx, 1)
}

// releaseCapture stops and closes a stream that never made it into a live
// session.
func releaseCapture(c audio.CaptureStream) {
	if err := c.Stop(); err != nil {
		slog.Debug("coach: stop microphone", "err", err)
	}
	_ = c.Close()
}
