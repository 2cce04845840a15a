package camera

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"time"

	"github.com/boothworks/booth-core/internal/config"
)

// mockSource serves one synthetic frame, encoded once at construction.
// Useful for development boxes without a camera and for tests.
type mockSource struct {
	frame []byte
	w, h  int
}

func newMockSource(cfg config.CameraConfig) (*mockSource, error) {
	img := image.NewRGBA(image.Rect(0, 0, cfg.FrameWidth, cfg.FrameHeight))
	for y := 0; y < cfg.FrameHeight; y++ {
		for x := 0; x < cfg.FrameWidth; x++ {
			img.Set(x, y, color.RGBA{
				R: uint8(x * 255 / cfg.FrameWidth),
				G: uint8(y * 255 / cfg.FrameHeight),
				B: 0x80,
				A: 0xff,
			})
		}
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 80}); err != nil {
		return nil, fmt.Errorf("encode mock frame: %w", err)
	}

	return &mockSource{frame: buf.Bytes(), w: cfg.FrameWidth, h: cfg.FrameHeight}, nil
}

func (m *mockSource) Grab(ctx context.Context) (Frame, error) {
	if err := ctx.Err(); err != nil {
		return Frame{}, err
	}
	return Frame{
		Data:    m.frame,
		Width:   m.w,
		Height:  m.h,
		TakenAt: time.Now(),
	}, nil
}
