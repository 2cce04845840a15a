package camera

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"time"

	"github.com/boothworks/booth-core/internal/config"
	shellwords "github.com/mattn/go-shellwords"
)

// execSource shells out to a capture command (fswebcam, libcamera-still,
// ffmpeg one-shot) that writes a single encoded frame to stdout.
type execSource struct {
	args    []string
	timeout time.Duration
}

func newExecSource(cfg config.CameraConfig) (*execSource, error) {
	parser := shellwords.NewParser()
	args, err := parser.Parse(cfg.Command)
	if err != nil {
		return nil, fmt.Errorf("parse camera command: %w", err)
	}
	if len(args) == 0 {
		return nil, errors.New("camera command is empty")
	}
	return &execSource{
		args:    args,
		timeout: time.Duration(cfg.TimeoutMS) * time.Millisecond,
	}, nil
}

func (s *execSource) Grab(ctx context.Context) (Frame, error) {
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, s.args[0], s.args[1:]...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	started := time.Now()
	if err := cmd.Run(); err != nil {
		return Frame{}, fmt.Errorf("camera command failed: %w (stderr: %s)", err, stderr.String())
	}
	if stdout.Len() == 0 {
		return Frame{}, errors.New("camera command produced no frame")
	}

	return frameFromEncoded(stdout.Bytes(), started)
}
