// Package vad implements energy-based endpoint detection for a live PCM
// frame stream. It classifies frames into speech and silence by RMS
// amplitude and raises a one-shot end-of-turn signal after a sustained
// silence interval.
package vad

import (
	"math"
	"time"
)

// Config holds the endpoint detector tunables.
type Config struct {
	// Threshold is the normalized RMS amplitude in [0,1] at or above which a
	// frame counts as speech.
	Threshold float64
	// SilenceWindow is how long RMS must stay below Threshold before the
	// caller is considered done speaking.
	SilenceWindow time.Duration
	// Debounce is an extra hold appended to SilenceWindow so brief dips in
	// level do not trigger end-of-turn.
	Debounce time.Duration
}

// DefaultConfig returns tunables suited to 16kHz mono capture.
func DefaultConfig() Config {
	return Config{
		Threshold:     0.015,
		SilenceWindow: 1600 * time.Millisecond,
		Debounce:      400 * time.Millisecond,
	}
}

// Decision reports what the detector concluded from one frame.
type Decision struct {
	Speaking  bool
	EndOfTurn bool
}

// Detector tracks silence across successive PCM frames. Timing is derived
// from sample counts rather than the wall clock, so decisions are
// deterministic regardless of callback scheduling. A detector serves one
// capture take at a time; re-arm it with Reset before the next take.
//
// End-of-turn is raised at most once per take, and never before the first
// frame has been observed. A take whose silence window never completes is
// ended by the capture controller's maximum-duration bound instead.
type Detector struct {
	cfg        Config
	sampleRate int

	speaking bool
	silence  time.Duration
	fired    bool
}

// New creates a detector for PCM frames at the given sample rate. Zero
// config fields fall back to DefaultConfig values.
func New(cfg Config, sampleRate int) *Detector {
	def := DefaultConfig()
	if cfg.Threshold <= 0 {
		cfg.Threshold = def.Threshold
	}
	if cfg.SilenceWindow <= 0 {
		cfg.SilenceWindow = def.SilenceWindow
	}
	if cfg.Debounce < 0 {
		cfg.Debounce = def.Debounce
	}
	if sampleRate <= 0 {
		sampleRate = 16000
	}
	return &Detector{cfg: cfg, sampleRate: sampleRate}
}

// ProcessFrame consumes one frame of samples and returns the updated
// decision for the take.
func (d *Detector) ProcessFrame(frame []int16) Decision {
	if len(frame) == 0 {
		return Decision{Speaking: d.speaking}
	}

	if RMS(frame) >= d.cfg.Threshold {
		d.speaking = true
		d.silence = 0
		return Decision{Speaking: true}
	}

	d.silence += time.Duration(len(frame)) * time.Second / time.Duration(d.sampleRate)
	if d.silence >= d.cfg.SilenceWindow+d.cfg.Debounce {
		d.speaking = false
		if !d.fired {
			d.fired = true
			return Decision{EndOfTurn: true}
		}
	}
	return Decision{Speaking: d.speaking}
}

// Speaking returns whether the most recent frames were classified as speech.
func (d *Detector) Speaking() bool {
	return d.speaking
}

// Reset re-arms the detector for a new take.
func (d *Detector) Reset() {
	d.speaking = false
	d.silence = 0
	d.fired = false
}

// RMS returns the normalized root-mean-square amplitude of a PCM frame.
func RMS(frame []int16) float64 {
	if len(frame) == 0 {
		return 0
	}
	var sum float64
	for _, s := range frame {
		v := float64(s)
		sum += v * v
	}
	return math.Sqrt(sum/float64(len(frame))) / 32768.0
}
