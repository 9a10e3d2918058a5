package audio

import "time"

const (
	// CaptureSampleRate is the rate the streaming service expects for
	// microphone input.
	CaptureSampleRate = 16000

	// PlaybackSampleRate is the rate of synthesised speech returned by the
	// streaming service.
	PlaybackSampleRate = 24000

	// CaptureGain is the fixed multiplier applied to microphone samples
	// before encoding. Typical laptop microphones deliver very quiet input.
	CaptureGain float32 = 5.0

	// NominalGain is the output gain when the coach is not muted.
	NominalGain float32 = 1.0

	// CaptureMIMEType tags outgoing PCM payloads.
	CaptureMIMEType = "audio/pcm;rate=16000"
)

// Frame is a block of floating-point audio samples in the range [-1, 1].
// Samples are stored planar: Data[c] holds every sample for channel c and all
// channel slices have the same length.
type Frame struct {
	Data [][]float32

	// SampleRate in Hz (16000 for capture, 24000 for playback).
	SampleRate int

	// Timestamp marks when this frame was captured, relative to stream start.
	// Zero for frames decoded from the network.
	Timestamp time.Duration
}

// MonoFrame wraps a single-channel sample slice in a Frame.
func MonoFrame(samples []float32, sampleRate int) Frame {
	return Frame{Data: [][]float32{samples}, SampleRate: sampleRate}
}

// Channels returns the number of channels in f.
func (f Frame) Channels() int { return len(f.Data) }

// Len returns the number of samples per channel.
func (f Frame) Len() int {
	if len(f.Data) == 0 {
		return 0
	}
	return len(f.Data[0])
}

// Duration returns the playback length of f. A frame without a sample rate
// has zero duration.
func (f Frame) Duration() time.Duration {
	if f.SampleRate <= 0 {
		return 0
	}
	return time.Duration(f.Len()) * time.Second / time.Duration(f.SampleRate)
}

// Mono returns the frame as a single channel, averaging when there are more.
// A mono frame's sample slice is returned without copying.
func (f Frame) Mono() []float32 {
	switch len(f.Data) {
	case 0:
		return nil
	case 1:
		return f.Data[0]
	}
	out := make([]float32, f.Len())
	scale := 1 / float32(len(f.Data))
	for _, ch := range f.Data {
		for i, s := range ch {
			out[i] += s * scale
		}
	}
	return out
}

// Interleave returns the samples of f in interleaved order (L R L R ...).
func (f Frame) Interleave() []float32 {
	n, c := f.Len(), len(f.Data)
	if c == 1 {
		return f.Data[0]
	}
	out := make([]float32, n*c)
	for ch, samples := range f.Data {
		for i, s := range samples {
			out[i*c+ch] = s
		}
	}
	return out
}

// Blob is an encoded audio payload ready for transmission to the streaming
// service.
type Blob struct {
	MIMEType   string
	SampleRate int
	Data       []byte
}
