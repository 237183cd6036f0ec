package audio

import (
	"math"
	"time"

	"voice-reservation-assistant/internal/engine/capture"
)

// SineWAV synthesizes a mono 16-bit sine tone wrapped in a WAV container.
// The development backend uses it in place of real speech synthesis.
func SineWAV(freqHz float64, dur time.Duration, sampleRate int) []byte {
	if sampleRate <= 0 {
		sampleRate = 16000
	}
	n := int(float64(sampleRate) * dur.Seconds())
	pcm := make([]byte, n*2)
	for i := 0; i < n; i++ {
		v := math.Sin(2 * math.Pi * freqHz * float64(i) / float64(sampleRate))
		s := int16(v * 0.3 * math.MaxInt16)
		pcm[2*i] = byte(uint16(s))
		pcm[2*i+1] = byte(uint16(s) >> 8)
	}
	return capture.EncodeWAV(pcm, sampleRate, 1)
}
