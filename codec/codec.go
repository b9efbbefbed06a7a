package codec

import (
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"math"
)

// DecodeError reports a malformed transport-encoded payload.
type DecodeError struct {
	Len int
	Err error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode %d byte payload: %v", e.Len, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// EncodeBinary returns the transport-safe text form of b.
func EncodeBinary(b []byte) string {
	return base64.StdEncoding.EncodeToString(b)
}

// DecodeBinary is the inverse of EncodeBinary.
func DecodeBinary(s string) ([]byte, error) {
	b, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, &DecodeError{Len: len(s), Err: err}
	}
	return b, nil
}

// Buffer holds de-interleaved normalized samples, one slice per channel.
type Buffer struct {
	SampleRate int
	Channels   [][]float32
}

func (b *Buffer) Frames() int {
	if b == nil || len(b.Channels) == 0 {
		return 0
	}
	return len(b.Channels[0])
}

// Duration is the buffer length in seconds.
func (b *Buffer) Duration() float64 {
	if b == nil || b.SampleRate <= 0 {
		return 0
	}
	return float64(b.Frames()) / float64(b.SampleRate)
}

// PCMToFloat de-interleaves signed 16-bit little-endian PCM into a Buffer.
// sampleRate and channels are taken on trust; a mismatch with the real
// stream yields wrong audio, not an error. A trailing partial frame is dropped.
func PCMToFloat(data []byte, sampleRate, channels int) (*Buffer, error) {
	if channels < 1 {
		return nil, fmt.Errorf("invalid channel count %d", channels)
	}
	if sampleRate < 1 {
		return nil, fmt.Errorf("invalid sample rate %d", sampleRate)
	}

	frames := len(data) / 2 / channels
	buf := &Buffer{SampleRate: sampleRate, Channels: make([][]float32, channels)}
	for ch := range buf.Channels {
		buf.Channels[ch] = make([]float32, frames)
	}
	for i := 0; i < frames; i++ {
		for ch := 0; ch < channels; ch++ {
			off := (i*channels + ch) * 2
			s := int16(binary.LittleEndian.Uint16(data[off:]))
			buf.Channels[ch][i] = float32(s) / 32768.0
		}
	}
	return buf, nil
}

// FloatToPCM16 scales mono samples by 32768 and truncates to signed 16-bit
// little-endian. Out-of-range input saturates.
func FloatToPCM16(samples []float32) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(toInt16(float64(s)*32768)))
	}
	return out
}

func toInt16(v float64) int16 {
	if math.IsNaN(v) {
		return 0
	}
	v = math.Trunc(v)
	if v > math.MaxInt16 {
		return math.MaxInt16
	}
	if v < math.MinInt16 {
		return math.MinInt16
	}
	return int16(v)
}

// Int16s reinterprets little-endian PCM16 bytes as samples.
func Int16s(data []byte) []int16 {
	out := make([]int16, len(data)/2)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(data[i*2:]))
	}
	return out
}
