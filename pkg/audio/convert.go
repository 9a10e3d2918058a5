package audio

import (
	"log/slog"
	"sync"
)

// Resampler converts captured frames to a fixed target rate, downmixing to
// mono first. It logs a warning on the first rate mismatch.
// Create one per stream; not designed for shared use across goroutines.
type Resampler struct {
	TargetRate     int
	warnedMismatch sync.Once
}

// Convert returns the mono samples of frame at the target rate. If the
// source already matches, the samples are returned unchanged.
func (r *Resampler) Convert(frame Frame) []float32 {
	mono := frame.Mono()
	if frame.SampleRate == r.TargetRate || frame.SampleRate <= 0 {
		return mono
	}
	r.warnedMismatch.Do(func() {
		slog.Warn("audio: capture rate mismatch, resampling",
			"from", frame.SampleRate,
			"to", r.TargetRate,
		)
	})
	return ResampleLinear(mono, frame.SampleRate, r.TargetRate)
}

// ResampleLinear resamples mono float samples from srcRate to dstRate using
// linear interpolation. If srcRate == dstRate the input is returned unchanged.
func ResampleLinear(samples []float32, srcRate, dstRate int) []float32 {
	if srcRate <= 0 || dstRate <= 0 {
		return samples
	}
	if srcRate == dstRate || len(samples) == 0 {
		return samples
	}
	dstLen := int(int64(len(samples)) * int64(dstRate) / int64(srcRate))
	if dstLen == 0 {
		return nil
	}

	out := make([]float32, dstLen)
	ratio := float64(srcRate) / float64(dstRate)
	for i := range dstLen {
		pos := float64(i) * ratio
		idx := int(pos)
		frac := float32(pos - float64(idx))

		s0 := samples[idx]
		s1 := s0
		if idx+1 < len(samples) {
			s1 = samples[idx+1]
		}
		out[i] = s0*(1-frac) + s1*frac
	}
	return out
}

// ApplyGain returns a copy of samples multiplied by gain.
func ApplyGain(samples []float32, gain float32) []float32 {
	out := make([]float32, len(samples))
	for i, s := range samples {
		out[i] = s * gain
	}
	return out
}
