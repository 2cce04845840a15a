package gallery

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"image"
	"image/jpeg"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/boothworks/booth-core/internal/camera"
	"github.com/boothworks/booth-core/internal/protocol"
)

type fakeSource struct {
	frame camera.Frame
	err   error
}

func (f fakeSource) Grab(ctx context.Context) (camera.Frame, error) {
	if f.err != nil {
		return camera.Frame{}, f.err
	}
	return f.frame, nil
}

type recordingPublisher struct {
	mu       sync.Mutex
	subjects []string
	payloads [][]byte
}

func (r *recordingPublisher) Publish(subject string, data []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.subjects = append(r.subjects, subject)
	r.payloads = append(r.payloads, data)
	return nil
}

func (r *recordingPublisher) saves(t *testing.T) []protocol.CaptureSaved {
	t.Helper()
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []protocol.CaptureSaved
	for i, subj := range r.subjects {
		if subj != protocol.SubjectCaptureSaved {
			continue
		}
		var s protocol.CaptureSaved
		if err := json.Unmarshal(r.payloads[i], &s); err != nil {
			t.Fatalf("unmarshal capture saved: %v", err)
		}
		out = append(out, s)
	}
	return out
}

func testFrame(t *testing.T) camera.Frame {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 64, 48))
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 85}); err != nil {
		t.Fatalf("encode test frame: %v", err)
	}
	return camera.Frame{Data: buf.Bytes(), Width: 64, Height: 48, TakenAt: time.Now()}
}

func newTestService(t *testing.T, source camera.Source) (*Service, *recordingPublisher) {
	t.Helper()
	cfg := testStoreConfig(t)
	cfg.MaxCaptures = 10
	store, err := Open(context.Background(), cfg, newLogger())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	pub := &recordingPublisher{}
	s := newService(context.Background(), cfg, pub, store, source, newLogger())
	t.Cleanup(s.Close)
	return s, pub
}

func TestProcessSavesCapture(t *testing.T) {
	s, pub := newTestService(t, fakeSource{frame: testFrame(t)})

	s.process(protocol.CaptureConfirmed{CaptureID: "cap-42", VisitID: "visit-7"})

	saves := pub.saves(t)
	if len(saves) != 1 {
		t.Fatalf("capture saved events = %d, want 1", len(saves))
	}
	if saves[0].Error != "" {
		t.Fatalf("unexpected save error: %s", saves[0].Error)
	}
	if saves[0].CaptureID != "cap-42" || saves[0].VisitID != "visit-7" {
		t.Fatalf("saved event ids wrong: %+v", saves[0])
	}
	if _, err := os.Stat(saves[0].Path); err != nil {
		t.Fatalf("photo not on disk: %v", err)
	}
	if _, err := os.Stat(saves[0].ThumbPath); err != nil {
		t.Fatalf("thumbnail not on disk: %v", err)
	}

	capture, err := s.store.Get(context.Background(), "cap-42")
	if err != nil {
		t.Fatalf("get capture: %v", err)
	}
	if capture.Width != 64 || capture.Height != 48 {
		t.Fatalf("capture dims = %dx%d, want 64x48", capture.Width, capture.Height)
	}

	thumbData, err := os.ReadFile(saves[0].ThumbPath)
	if err != nil {
		t.Fatalf("read thumbnail: %v", err)
	}
	thumbCfg, _, err := image.DecodeConfig(bytes.NewReader(thumbData))
	if err != nil {
		t.Fatalf("decode thumbnail: %v", err)
	}
	if thumbCfg.Width > 32 || thumbCfg.Height > 32 {
		t.Fatalf("thumbnail too large: %dx%d", thumbCfg.Width, thumbCfg.Height)
	}
}

func TestProcessGrabErrorReportsFailure(t *testing.T) {
	s, pub := newTestService(t, fakeSource{err: errors.New("device busy")})

	s.process(protocol.CaptureConfirmed{CaptureID: "cap-9", VisitID: "visit-9"})

	saves := pub.saves(t)
	if len(saves) != 1 {
		t.Fatalf("capture saved events = %d, want 1", len(saves))
	}
	if saves[0].Error == "" || saves[0].Path != "" {
		t.Fatalf("expected failed save, got %+v", saves[0])
	}
	if _, err := s.store.Get(context.Background(), "cap-9"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("failed capture must not be indexed, got %v", err)
	}
}

func TestProcessUndecodableFrameReportsFailure(t *testing.T) {
	s, pub := newTestService(t, fakeSource{frame: camera.Frame{Data: []byte("not an image")}})

	s.process(protocol.CaptureConfirmed{CaptureID: "cap-bad"})

	saves := pub.saves(t)
	if len(saves) != 1 || saves[0].Error == "" {
		t.Fatalf("expected failed save, got %+v", saves)
	}
}

func TestThumbnailKeepsAspect(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 640, 480))
	th := thumbnail(img, 32)
	bounds := th.Bounds()
	if bounds.Dx() != 32 || bounds.Dy() != 24 {
		t.Fatalf("thumbnail = %dx%d, want 32x24", bounds.Dx(), bounds.Dy())
	}

	small := image.NewRGBA(image.Rect(0, 0, 16, 16))
	if got := thumbnail(small, 32); got != small {
		t.Fatal("small image should pass through untouched")
	}
}
