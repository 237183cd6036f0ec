package audio

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// FFplayPlayer renders one audio segment per ffplay invocation. Cancelling
// the context kills the player mid-segment.
type FFplayPlayer struct {
	Command string
}

func NewFFplayPlayer() *FFplayPlayer {
	return &FFplayPlayer{}
}

func (p *FFplayPlayer) Play(ctx context.Context, segment []byte) error {
	command := p.Command
	if command == "" {
		command = "ffplay"
	}

	cmd := exec.CommandContext(ctx, command,
		"-nodisp",
		"-autoexit",
		"-hide_banner",
		"-loglevel", "error",
		"-i", "-",
	)
	cmd.Stdin = bytes.NewReader(segment)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return fmt.Errorf("ffplay: %w: %s", err, msg)
		}
		return fmt.Errorf("ffplay: %w", err)
	}
	return nil
}
