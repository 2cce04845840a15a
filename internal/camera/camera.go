// Package camera provides the kiosk frame source. Backends share one
// contract: grab a single encoded frame on demand. The poller and the
// gallery are the only callers; neither holds a frame longer than one
// detection tick or one capture.
package camera

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"time"

	_ "image/jpeg"
	_ "image/png"

	"github.com/boothworks/booth-core/internal/config"
)

// ErrUnavailable marks the camera as missing or unusable. Fatal at startup;
// transient grab failures during operation are handled per tick instead.
var ErrUnavailable = errors.New("camera unavailable")

// Frame is one encoded still image plus the dimensions overlay math needs.
type Frame struct {
	Data    []byte
	Width   int
	Height  int
	TakenAt time.Time
}

// Source produces frames on demand.
type Source interface {
	Grab(ctx context.Context) (Frame, error)
}

// New builds the configured frame source.
func New(cfg config.CameraConfig) (Source, error) {
	switch cfg.Mode {
	case "mock":
		return newMockSource(cfg)
	case "exec":
		return newExecSource(cfg)
	case "http":
		return newHTTPSource(cfg)
	default:
		return nil, fmt.Errorf("unknown camera mode %q", cfg.Mode)
	}
}

// Probe grabs one frame to verify the device before the booth goes live.
func Probe(ctx context.Context, src Source) error {
	if _, err := src.Grab(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// frameFromEncoded wraps encoded image bytes in a Frame, reading the
// dimensions from the image header.
func frameFromEncoded(data []byte, takenAt time.Time) (Frame, error) {
	cfgImg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return Frame{}, fmt.Errorf("decode frame header: %w", err)
	}
	return Frame{
		Data:    data,
		Width:   cfgImg.Width,
		Height:  cfgImg.Height,
		TakenAt: takenAt,
	}, nil
}
