package audio

import (
	"encoding/binary"
	"mime"
	"strconv"
	"strings"
)

// EncodeOutgoingFrame converts captured float samples into little-endian
// 16-bit PCM. Each sample is multiplied by gain, hard-clipped to [-1, 1] and
// scaled asymmetrically (negative by 32768, non-negative by 32767). NaN maps
// to 0. The result is tagged as 16 kHz PCM.
func EncodeOutgoingFrame(samples []float32, gain float32) Blob {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(FloatToPCM16(s*gain)))
	}
	return Blob{
		MIMEType:   CaptureMIMEType,
		SampleRate: CaptureSampleRate,
		Data:       out,
	}
}

// FloatToPCM16 clamps v to [-1, 1] and converts it to a signed 16-bit sample.
func FloatToPCM16(v float32) int16 {
	switch {
	case v != v: // NaN
		return 0
	case v >= 1:
		return 32767
	case v <= -1:
		return -32768
	case v < 0:
		return int16(v * 32768)
	default:
		return int16(v * 32767)
	}
}

// DecodeIncomingFrame interprets data as interleaved little-endian 16-bit
// PCM with the given channel count and returns planar float samples divided
// by 32768. A trailing partial frame (or odd trailing byte) is dropped.
func DecodeIncomingFrame(data []byte, sampleRate, channels int) Frame {
	if channels <= 0 {
		channels = 1
	}
	perChannel := len(data) / 2 / channels
	out := make([][]float32, channels)
	for c := range out {
		out[c] = make([]float32, perChannel)
	}
	for i := range perChannel {
		for c := range channels {
			off := (i*channels + c) * 2
			s := int16(binary.LittleEndian.Uint16(data[off:]))
			out[c][i] = float32(s) / 32768
		}
	}
	return Frame{Data: out, SampleRate: sampleRate}
}

// RateFromMIME extracts the "rate" parameter from a PCM MIME type such as
// "audio/pcm;rate=24000". It returns fallback when the parameter is missing
// or malformed.
func RateFromMIME(mimeType string, fallback int) int {
	_, params, err := mime.ParseMediaType(strings.ReplaceAll(mimeType, " ", ""))
	if err != nil {
		return fallback
	}
	rate, err := strconv.Atoi(params["rate"])
	if err != nil || rate <= 0 {
		return fallback
	}
	return rate
}
