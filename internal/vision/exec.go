package vision

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"time"

	"github.com/boothworks/booth-core/internal/camera"
	"github.com/boothworks/booth-core/internal/config"
	"github.com/boothworks/booth-core/internal/protocol"
	shellwords "github.com/mattn/go-shellwords"
)

// execLocator writes the frame to a temp file and runs a detector command
// with the file path appended. The command prints the detection JSON on
// stdout and exits.
type execLocator struct {
	args     []string
	minScore float64
	timeout  time.Duration
}

func newExecLocator(cfg config.DetectorConfig) (*execLocator, error) {
	parser := shellwords.NewParser()
	args, err := parser.Parse(cfg.Command)
	if err != nil {
		return nil, fmt.Errorf("parse detector command: %w", err)
	}
	if len(args) == 0 {
		return nil, errors.New("detector command is empty")
	}
	return &execLocator{
		args:     args,
		minScore: cfg.MinScore,
		timeout:  time.Duration(cfg.TimeoutMS) * time.Millisecond,
	}, nil
}

func (l *execLocator) Locate(ctx context.Context, frame camera.Frame) ([]protocol.Box, error) {
	if l.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, l.timeout)
		defer cancel()
	}

	tmp, err := os.CreateTemp("", "booth-frame-*.jpg")
	if err != nil {
		return nil, fmt.Errorf("create temp frame: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(frame.Data); err != nil {
		tmp.Close()
		return nil, fmt.Errorf("write temp frame: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return nil, fmt.Errorf("close temp frame: %w", err)
	}

	cmdArgs := append(append([]string{}, l.args[1:]...), tmp.Name())
	cmd := exec.CommandContext(ctx, l.args[0], cmdArgs...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("detector command failed: %w (stderr: %s)", err, stderr.String())
	}

	var parsed detectorResponse
	if err := json.Unmarshal(stdout.Bytes(), &parsed); err != nil {
		return nil, fmt.Errorf("parse detector output: %w", err)
	}

	return boxesFromResponse(parsed, l.minScore), nil
}
