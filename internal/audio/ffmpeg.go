// Package audio provides the platform microphone and speaker adapters,
// implemented on top of the ffmpeg toolchain so the engine stays free of
// cgo audio bindings.
package audio

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	"voice-reservation-assistant/internal/engine/capture"
)

// FFmpegDevice captures microphone PCM by shelling out to ffmpeg.
type FFmpegDevice struct {
	Command     string
	InputFormat string
	InputDevice string
	SampleRate  int
	Channels    int
}

// NewFFmpegDevice returns a device reading s16le mono from the default
// microphone. Empty fields fall back to ffmpeg/pulse defaults.
func NewFFmpegDevice(sampleRate int) *FFmpegDevice {
	return &FFmpegDevice{SampleRate: sampleRate}
}

func (d *FFmpegDevice) Start() (capture.Take, error) {
	command := d.Command
	if command == "" {
		command = "ffmpeg"
	}
	format := d.InputFormat
	if format == "" {
		format = "pulse"
	}
	device := d.InputDevice
	if device == "" {
		device = "default"
	}
	sampleRate := d.SampleRate
	if sampleRate <= 0 {
		sampleRate = 16000
	}
	channels := d.Channels
	if channels <= 0 {
		channels = 1
	}

	args := []string{
		"-nostdin",
		"-hide_banner",
		"-loglevel", "warning",
		"-f", format,
		"-i", device,
		"-ac", strconv.Itoa(channels),
		"-ar", strconv.Itoa(sampleRate),
		"-f", "s16le",
		"-",
	}

	cmd := exec.Command(command, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("create ffmpeg stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, &capture.PermissionError{Reason: fmt.Sprintf("could not launch %s: %v", command, err)}
	}

	waitErr := make(chan error, 1)
	go func() {
		waitErr <- cmd.Wait()
		close(waitErr)
	}()

	// ffmpeg failing within the first moments means the device was denied or
	// does not exist, not that capture ran and stopped.
	select {
	case err := <-waitErr:
		reason := strings.TrimSpace(stderr.String())
		if reason == "" && err != nil {
			reason = err.Error()
		}
		if reason == "" {
			reason = "capture process exited immediately"
		}
		return nil, &capture.PermissionError{Reason: reason}
	case <-time.After(250 * time.Millisecond):
	}

	return &ffmpegTake{
		stdout:  stdout,
		stderr:  &stderr,
		process: cmd.Process,
		waitErr: waitErr,
	}, nil
}

type ffmpegTake struct {
	stdout io.ReadCloser
	stderr *bytes.Buffer

	process *os.Process
	waitErr <-chan error

	stopOnce sync.Once
	stopErr  error
}

func (t *ffmpegTake) Read(p []byte) (int, error) {
	return t.stdout.Read(p)
}

func (t *ffmpegTake) Stop() error {
	t.stopOnce.Do(func() {
		if t.process != nil {
			_ = t.process.Signal(os.Interrupt)
		}

		select {
		case err, ok := <-t.waitErr:
			if ok {
				t.stopErr = normalizeExit(err)
			}
		case <-time.After(1200 * time.Millisecond):
			if t.process != nil {
				_ = t.process.Kill()
			}
			if err, ok := <-t.waitErr; ok {
				t.stopErr = normalizeExit(err)
			}
		}

		if closeErr := t.stdout.Close(); closeErr != nil && !errors.Is(closeErr, os.ErrClosed) {
			if t.stopErr == nil {
				t.stopErr = closeErr
			}
		}

		if t.stopErr != nil && t.stderr.Len() > 0 {
			t.stopErr = fmt.Errorf("%w: %s", t.stopErr, strings.TrimSpace(t.stderr.String()))
		}
	})
	return t.stopErr
}

// normalizeExit treats a nonzero exit after an interrupt as a clean stop.
func normalizeExit(err error) error {
	if err == nil {
		return nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return nil
	}
	return err
}
