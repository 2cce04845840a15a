package vision

import "github.com/boothworks/booth-core/internal/protocol"

// Normalize converts pixel boxes to [0,1] display-relative coordinates for
// the presentation overlay. Boxes are clamped to the frame so a detector
// that reports slightly out-of-frame corners still renders sanely.
func Normalize(boxes []protocol.Box, frameWidth, frameHeight int) []protocol.RelativeBox {
	if frameWidth <= 0 || frameHeight <= 0 || len(boxes) == 0 {
		return nil
	}
	out := make([]protocol.RelativeBox, 0, len(boxes))
	for _, b := range boxes {
		out = append(out, protocol.RelativeBox{
			X:      clamp01(float64(b.X) / float64(frameWidth)),
			Y:      clamp01(float64(b.Y) / float64(frameHeight)),
			Width:  clamp01(float64(b.Width) / float64(frameWidth)),
			Height: clamp01(float64(b.Height) / float64(frameHeight)),
		})
	}
	return out
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
