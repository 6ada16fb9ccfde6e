package audio

import (
	"fmt"
	"math"
	"time"
)

// Chunk is one fixed-size buffer of microphone samples. The capture side owns
// the buffer until Feed; the aggregator consumes it exactly once.
type Chunk struct {
	// Samples is mono floating-point PCM in [-1, 1]
	Samples []float32

	// SampleRate is the capture rate in Hz
	SampleRate int

	// Timestamp is the capture time of the first sample
	Timestamp time.Time

	// Sequence is a monotonically increasing chunk id within a session
	Sequence uint64
}

// Duration returns the play time covered by the chunk's samples
func (c *Chunk) Duration() time.Duration {
	if c.SampleRate <= 0 {
		return 0
	}
	return time.Duration(float64(len(c.Samples)) / float64(c.SampleRate) * float64(time.Second))
}

// DecodePCM16 converts 16-bit signed little-endian PCM bytes to float32
// samples in [-1, 1]
func DecodePCM16(data []byte) ([]float32, error) {
	if len(data)%2 != 0 {
		return nil, fmt.Errorf("PCM data length must be even (16-bit samples), got %d", len(data))
	}

	samples := make([]float32, len(data)/2)
	for i := 0; i < len(samples); i++ {
		// Little-endian 16-bit signed integer
		s := int16(data[i*2]) | int16(data[i*2+1])<<8
		samples[i] = float32(s) / 32768.0
	}

	return samples, nil
}

// EncodePCM16 converts float32 samples in [-1, 1] back to 16-bit signed
// little-endian PCM bytes, clipping out-of-range values
func EncodePCM16(samples []float32) []byte {
	data := make([]byte, len(samples)*2)
	for i, sample := range samples {
		v := sample * 32767.0
		if v > 32767 {
			v = 32767
		} else if v < -32768 {
			v = -32768
		}
		s := int16(v)
		data[i*2] = byte(s)
		data[i*2+1] = byte(s >> 8)
	}
	return data
}

// RMS calculates the root-mean-square level of the samples, a cheap proxy
// for perceived loudness used by level reporting
func RMS(samples []float32) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		sum += float64(s) * float64(s)
	}
	return math.Sqrt(sum / float64(len(samples)))
}
