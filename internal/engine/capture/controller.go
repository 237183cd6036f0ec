// Package capture owns the microphone for the duration of one recording
// take. It feeds live frames to the endpoint detector, enforces a
// maximum-duration safety bound, and delivers exactly one result per take.
package capture

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"voice-reservation-assistant/internal/engine/vad"
	"voice-reservation-assistant/internal/observability/metrics"
)

// Device abstracts platform microphone access. Start returns a live PCM
// stream (s16le mono at the configured sample rate), or a *PermissionError
// when the platform denies access or the hardware is unavailable.
type Device interface {
	Start() (Take, error)
}

// Take is one live capture stream. Stop halts the hardware feed and
// releases the microphone; it must be safe to call more than once.
type Take interface {
	io.Reader
	Stop() error
}

// PermissionError reports that the microphone was denied or unavailable.
// It is recoverable: the caller may retry the capture.
type PermissionError struct {
	Reason string
}

func (e *PermissionError) Error() string {
	return fmt.Sprintf("microphone unavailable: %s", e.Reason)
}

// ErrTakeInProgress is returned when a capture is started while a previous
// take still holds the microphone. Two concurrent open captures is a
// programming error, not a supported state.
var ErrTakeInProgress = errors.New("a capture take is already in progress")

// FinishReason records which of the converging paths ended a take.
type FinishReason string

const (
	FinishEndOfTurn   FinishReason = "end_of_turn"
	FinishMaxDuration FinishReason = "max_duration"
	FinishManualStop  FinishReason = "manual_stop"
	FinishStreamEnded FinishReason = "stream_ended"
)

// Result is delivered exactly once per take, after the microphone has been
// released. Segment is nil when the take produced no audio; such takes are
// discarded by the caller without further processing.
type Result struct {
	Segment []byte
	Reason  FinishReason
}

// Config holds capture tunables.
type Config struct {
	SampleRate int
	// FrameSize is the number of samples fed to the detector per analysis
	// callback.
	FrameSize int
	// MaxTakeDuration bounds a single take; long enough for multi-word
	// utterances such as phone numbers.
	MaxTakeDuration time.Duration
	Endpoint        vad.Config
}

// DefaultConfig returns capture defaults for 16kHz mono speech.
func DefaultConfig() Config {
	return Config{
		SampleRate:      16000,
		FrameSize:       2048,
		MaxTakeDuration: 15 * time.Second,
		Endpoint:        vad.DefaultConfig(),
	}
}

// Controller runs at most one recording take at a time. The result callback
// passed to Start is invoked exactly once per take, from the take's reader
// goroutine, after finalize has stopped the hardware feed.
type Controller struct {
	dev Device
	cfg Config
	log zerolog.Logger

	mu     sync.Mutex
	active *take
}

func NewController(dev Device, cfg Config, log zerolog.Logger) *Controller {
	def := DefaultConfig()
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = def.SampleRate
	}
	if cfg.FrameSize <= 0 {
		cfg.FrameSize = def.FrameSize
	}
	if cfg.MaxTakeDuration <= 0 {
		cfg.MaxTakeDuration = def.MaxTakeDuration
	}
	return &Controller{dev: dev, cfg: cfg, log: log}
}

// Start requests the microphone and begins a new take. A *PermissionError
// from the device is passed through untouched so callers can surface it as
// an advisory rather than a crash; in that case no take is active and no
// result will be delivered.
func (c *Controller) Start(deliver func(Result)) error {
	c.mu.Lock()
	if c.active != nil {
		c.mu.Unlock()
		return ErrTakeInProgress
	}
	// Reserve the slot before the (potentially slow) device open so a second
	// Start cannot race in while the permission prompt is pending.
	t := &take{ctl: c, deliver: deliver}
	c.active = t
	c.mu.Unlock()

	stream, err := c.dev.Start()
	if err != nil {
		c.clear(t)
		var perm *PermissionError
		if errors.As(err, &perm) {
			metrics.DefaultMetrics.RecordPermissionError()
			return err
		}
		return fmt.Errorf("start capture device: %w", err)
	}

	t.mu.Lock()
	if t.finished {
		// Stopped while the device open was still pending. The take never ran;
		// release the microphone and deliver an empty result.
		reason := t.reason
		t.mu.Unlock()
		stream.Stop()
		c.clear(t)
		deliver(Result{Reason: reason})
		return nil
	}
	t.stream = stream
	t.det = vad.New(c.cfg.Endpoint, c.cfg.SampleRate)
	t.startedAt = time.Now()
	t.maxTimer = time.AfterFunc(c.cfg.MaxTakeDuration, func() {
		t.finish(FinishMaxDuration)
	})
	t.mu.Unlock()

	metrics.DefaultMetrics.RecordCaptureStarted()
	go t.run(c.cfg)
	return nil
}

// Stop finalizes the active take manually. Safe to call when no take is
// active, and while the device open is still pending; a take stopped before
// its stream arrives resolves as an empty manual stop.
func (c *Controller) Stop() {
	c.mu.Lock()
	t := c.active
	c.mu.Unlock()
	if t != nil {
		t.finish(FinishManualStop)
	}
}

// Active reports whether a take currently holds the microphone.
func (c *Controller) Active() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active != nil
}

func (c *Controller) clear(t *take) {
	c.mu.Lock()
	if c.active == t {
		c.active = nil
	}
	c.mu.Unlock()
}

type take struct {
	ctl     *Controller
	deliver func(Result)

	// Guarded by mu until the device open resolves; afterwards stream, det
	// and startedAt are read only by the reader goroutine.
	mu        sync.Mutex
	stream    Take
	det       *vad.Detector
	startedAt time.Time
	maxTimer  *time.Timer
	finished  bool
	reason    FinishReason
}

// finish converges the three take-ending paths. The first caller wins; the
// reader goroutine observes the stopped stream, assembles the segment and
// delivers the result.
func (t *take) finish(reason FinishReason) {
	t.mu.Lock()
	if t.finished {
		t.mu.Unlock()
		return
	}
	t.finished = true
	t.reason = reason
	stream, timer := t.stream, t.maxTimer
	t.mu.Unlock()

	if timer != nil {
		timer.Stop()
	}
	// A nil stream means the device open is still pending; Start observes the
	// finished flag and discards the stream when it arrives.
	if stream == nil {
		return
	}
	// Releasing the microphone unblocks the reader goroutine.
	if err := stream.Stop(); err != nil {
		t.ctl.log.Warn().Err(err).Msg("capture device did not stop cleanly")
	}
}

// run is the take's reader loop. It owns the audio buffer: no other
// goroutine touches it, so finalize never races frame appends.
func (t *take) run(cfg Config) {
	frameBytes := cfg.FrameSize * 2
	frame := make([]byte, frameBytes)
	var pcm []byte

	for {
		n, err := io.ReadFull(t.stream, frame)
		if n > 0 {
			pcm = append(pcm, frame[:n]...)
			if dec := t.det.ProcessFrame(decodePCM16(frame[:n])); dec.EndOfTurn {
				t.finish(FinishEndOfTurn)
				break
			}
		}
		if err != nil {
			t.finish(FinishStreamEnded)
			break
		}
	}

	t.ctl.clear(t)

	t.mu.Lock()
	reason := t.reason
	t.mu.Unlock()

	var segment []byte
	if len(pcm) > 0 {
		segment = EncodeWAV(pcm, cfg.SampleRate, 1)
	}
	took := time.Since(t.startedAt)
	metrics.DefaultMetrics.RecordCaptureFinished(string(reason), took.Seconds(), len(pcm))
	t.ctl.log.Debug().
		Str("reason", string(reason)).
		Dur("duration", took).
		Int("pcmBytes", len(pcm)).
		Msg("capture take finished")

	t.deliver(Result{Segment: segment, Reason: reason})
}

func decodePCM16(b []byte) []int16 {
	samples := make([]int16, len(b)/2)
	for i := range samples {
		samples[i] = int16(uint16(b[2*i]) | uint16(b[2*i+1])<<8)
	}
	return samples
}
