package listen

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"time"

	shellwords "github.com/mattn/go-shellwords"

	"github.com/boothworks/booth-core/internal/config"
	"github.com/boothworks/booth-core/internal/wavio"
)

// Capturer records one utterance window from the microphone as raw PCM.
type Capturer interface {
	Record(ctx context.Context, maxDuration time.Duration) (pcm []byte, sampleRate, channels int, err error)
}

// execCapturer shells out to a recorder (arecord, sox, ffmpeg) that writes
// WAV to stdout; the window length is appended as --duration seconds.
type execCapturer struct {
	cmd []string
}

func NewExecCapturer(cfg config.ListenConfig) (Capturer, error) {
	parser := shellwords.NewParser()
	args, err := parser.Parse(cfg.CaptureCommand)
	if err != nil {
		return nil, fmt.Errorf("parse capture command: %w", err)
	}
	if len(args) == 0 {
		return nil, errors.New("capture command is empty")
	}
	return &execCapturer{cmd: args}, nil
}

func (c *execCapturer) Record(ctx context.Context, maxDuration time.Duration) ([]byte, int, int, error) {
	seconds := int(maxDuration.Round(time.Second).Seconds())
	if seconds < 1 {
		seconds = 1
	}

	// leave the recorder a little slack before forcing the context
	ctx, cancel := context.WithTimeout(ctx, maxDuration+5*time.Second)
	defer cancel()

	args := append(append([]string{}, c.cmd[1:]...), "--duration", strconv.Itoa(seconds))
	cmd := exec.CommandContext(ctx, c.cmd[0], args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, 0, 0, fmt.Errorf("capture command failed: %w (stderr: %s)", err, stderr.String())
	}

	pcm, rate, channels, err := wavio.Decode(bytes.NewReader(stdout.Bytes()))
	if err != nil {
		return nil, 0, 0, fmt.Errorf("decode captured audio: %w", err)
	}
	return pcm, rate, channels, nil
}

// mockCapturer returns a short window of silence.
type mockCapturer struct {
	sampleRate int
	channels   int
}

func NewMockCapturer(cfg config.ListenConfig) Capturer {
	return &mockCapturer{sampleRate: cfg.SampleRate, channels: cfg.Channels}
}

func (m *mockCapturer) Record(ctx context.Context, maxDuration time.Duration) ([]byte, int, int, error) {
	if err := ctx.Err(); err != nil {
		return nil, 0, 0, err
	}
	samples := m.sampleRate * m.channels // one second of silence
	return make([]byte, samples*2), m.sampleRate, m.channels, nil
}
