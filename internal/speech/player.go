package speech

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"time"

	shellwords "github.com/mattn/go-shellwords"

	"github.com/boothworks/booth-core/internal/wavio"
)

// Player pushes one utterance of PCM to the audio output and returns when
// playback finished. Completion of Play is what makes a speech turn done.
type Player interface {
	Play(ctx context.Context, pcm []byte, sampleRate, channels int) error
}

// execPlayer writes the utterance to a temp WAV and hands it to a player
// command (aplay, paplay, afplay) with the path appended.
type execPlayer struct {
	cmd []string
}

func NewExecPlayer(command string) (Player, error) {
	parser := shellwords.NewParser()
	args, err := parser.Parse(command)
	if err != nil {
		return nil, fmt.Errorf("parse player command: %w", err)
	}
	if len(args) == 0 {
		return nil, errors.New("player command empty")
	}
	return &execPlayer{cmd: args}, nil
}

func (p *execPlayer) Play(ctx context.Context, pcm []byte, sampleRate, channels int) error {
	if len(pcm) == 0 {
		return nil
	}

	tmp, err := os.CreateTemp("", "booth-say-*.wav")
	if err != nil {
		return fmt.Errorf("create temp wav: %w", err)
	}
	tmpPath := tmp.Name()
	tmp.Close()
	defer os.Remove(tmpPath)

	if err := wavio.WriteFile(tmpPath, pcm, sampleRate, channels); err != nil {
		return err
	}

	args := append(append([]string{}, p.cmd[1:]...), tmpPath)
	cmd := exec.CommandContext(ctx, p.cmd[0], args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("player command failed: %w (stderr: %s)", err, stderr.String())
	}
	return nil
}

// discardPlayer plays to nowhere but takes as long as the audio would, so
// done events keep honest timing on boxes without speakers.
type discardPlayer struct{}

func NewDiscardPlayer() Player {
	return discardPlayer{}
}

func (discardPlayer) Play(ctx context.Context, pcm []byte, sampleRate, channels int) error {
	d := pcmDuration(len(pcm), sampleRate, channels)
	if d <= 0 {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}

func pcmDuration(byteLen, sampleRate, channels int) time.Duration {
	if sampleRate <= 0 || channels <= 0 {
		return 0
	}
	samples := byteLen / 2 / channels
	return time.Duration(samples) * time.Second / time.Duration(sampleRate)
}
