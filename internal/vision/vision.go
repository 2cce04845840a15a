// Package vision wraps the face detector behind one contract: given a
// frame, return scored bounding boxes. The model itself is a black box
// reached over HTTP or a one-shot command.
package vision

import (
	"context"
	"fmt"

	"github.com/boothworks/booth-core/internal/camera"
	"github.com/boothworks/booth-core/internal/config"
	"github.com/boothworks/booth-core/internal/protocol"
)

// Locator finds faces in a single frame. Implementations are safe for
// sequential use by the poller; the poller never issues overlapping calls.
type Locator interface {
	Locate(ctx context.Context, frame camera.Frame) ([]protocol.Box, error)
}

// New builds the configured locator.
func New(cfg config.DetectorConfig) (Locator, error) {
	switch cfg.Mode {
	case "mock":
		return newMockLocator(cfg), nil
	case "exec":
		return newExecLocator(cfg)
	case "http":
		return newHTTPLocator(cfg)
	default:
		return nil, fmt.Errorf("unknown detector mode %q", cfg.Mode)
	}
}

// detectorResponse is the wire shape shared by the http and exec backends:
// the InsightFace-style detector payload.
type detectorResponse struct {
	FacesCount int             `json:"faces_count"`
	Faces      []faceDetection `json:"faces"`
}

type faceDetection struct {
	BBox     []float64 `json:"bbox"` // [x1, y1, x2, y2] in frame pixels
	DetScore float64   `json:"det_score"`
}

// boxesFromResponse converts corner-format detections to Box, dropping
// malformed entries and anything under the score threshold.
func boxesFromResponse(resp detectorResponse, minScore float64) []protocol.Box {
	var boxes []protocol.Box
	for _, f := range resp.Faces {
		if len(f.BBox) != 4 {
			continue
		}
		if f.DetScore < minScore {
			continue
		}
		w := f.BBox[2] - f.BBox[0]
		h := f.BBox[3] - f.BBox[1]
		if w <= 0 || h <= 0 {
			continue
		}
		boxes = append(boxes, protocol.Box{
			X:      int(f.BBox[0]),
			Y:      int(f.BBox[1]),
			Width:  int(w),
			Height: int(h),
			Score:  f.DetScore,
		})
	}
	return boxes
}
