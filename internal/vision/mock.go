package vision

import (
	"context"

	"github.com/boothworks/booth-core/internal/camera"
	"github.com/boothworks/booth-core/internal/config"
	"github.com/boothworks/booth-core/internal/protocol"
)

// mockLocator reports a single centered face on every frame, or none,
// depending on configuration. Lets the full interaction flow run on a
// box with no detector installed.
type mockLocator struct {
	present bool
}

func newMockLocator(cfg config.DetectorConfig) *mockLocator {
	return &mockLocator{present: cfg.MockPresent}
}

func (l *mockLocator) Locate(ctx context.Context, frame camera.Frame) ([]protocol.Box, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !l.present {
		return nil, nil
	}
	w := frame.Width / 3
	h := frame.Height / 2
	return []protocol.Box{{
		X:      (frame.Width - w) / 2,
		Y:      (frame.Height - h) / 2,
		Width:  w,
		Height: h,
		Score:  0.99,
	}}, nil
}
