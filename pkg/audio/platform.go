// Package audio implements the audio bridge between local capture/playback
// devices and the realtime streaming voice service.
//
// The package has three parts:
//
//   - [EncodeOutgoingFrame] and [DecodeIncomingFrame] convert between float
//     samples and the 16-bit PCM wire format.
//   - [Scheduler] queues decoded buffers back-to-back on an output clock.
//   - [Microphone] and [OutputDevice] abstract the platform primitives so the
//     session manager can run against real devices (see audio/device) or
//     test doubles (see audio/mock).
package audio

import (
	"context"
	"errors"
	"time"
)

// ErrPermissionDenied is returned by [Microphone.Open] when the user or the
// operating system refuses access to the capture device.
var ErrPermissionDenied = errors.New("audio: microphone permission denied")

// Microphone is the platform capture primitive.
type Microphone interface {
	// Open requests access to the capture device and starts delivering
	// frames at approximately sampleRate. Implementations wrap
	// [ErrPermissionDenied] when access is refused.
	Open(ctx context.Context, sampleRate int) (CaptureStream, error)
}

// CaptureStream is a live microphone input.
//
// Frames is closed once the stream has stopped. Stop halts the underlying
// tracks; Close releases the capture context. Both are idempotent.
type CaptureStream interface {
	Frames() <-chan Frame
	Stop() error
	Close() error
}

// Clock reports the current position of an output device's timeline.
type Clock interface {
	Now() time.Duration
}

// Player starts a buffer at an absolute position on its clock. done is called
// exactly once when the buffer has finished playing or was discarded.
type Player interface {
	Start(buf Frame, at time.Duration, done func()) error

	// Flush silences and discards every started buffer that has not
	// finished, calling its done.
	Flush()
}

// OutputGraph is an open playback context: a clock, a buffer player and a
// gain stage in front of the output device.
type OutputGraph interface {
	Clock
	Player

	// SetGain sets the output gain. 0 silences playback.
	SetGain(gain float32)

	// Close releases the playback context. Calling Close on an already
	// closed graph returns an error that callers may ignore.
	Close() error
}

// OutputDevice opens playback contexts.
type OutputDevice interface {
	Open(ctx context.Context, sampleRate int) (OutputGraph, error)
}
