package camera

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/jpeg"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/boothworks/booth-core/internal/config"
)

func TestMockSourceGrab(t *testing.T) {
	src, err := New(config.CameraConfig{Mode: "mock", FrameWidth: 320, FrameHeight: 240})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	frame, err := src.Grab(context.Background())
	if err != nil {
		t.Fatalf("grab: %v", err)
	}
	if frame.Width != 320 || frame.Height != 240 {
		t.Fatalf("expected 320x240 frame, got %dx%d", frame.Width, frame.Height)
	}

	img, err := jpeg.Decode(bytes.NewReader(frame.Data))
	if err != nil {
		t.Fatalf("mock frame is not a decodable jpeg: %v", err)
	}
	if got := img.Bounds().Dx(); got != 320 {
		t.Fatalf("expected decoded width 320, got %d", got)
	}
}

func TestHTTPSourceGrab(t *testing.T) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 64, 48)), nil); err != nil {
		t.Fatalf("encode fixture: %v", err)
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/jpeg")
		_, _ = w.Write(buf.Bytes())
	}))
	t.Cleanup(srv.Close)

	src, err := New(config.CameraConfig{Mode: "http", SnapshotURL: srv.URL, TimeoutMS: 2000})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	frame, err := src.Grab(context.Background())
	if err != nil {
		t.Fatalf("grab: %v", err)
	}
	if frame.Width != 64 || frame.Height != 48 {
		t.Fatalf("expected 64x48 frame, got %dx%d", frame.Width, frame.Height)
	}
}

func TestHTTPSourceRejectsErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "camera offline", http.StatusServiceUnavailable)
	}))
	t.Cleanup(srv.Close)

	src, err := New(config.CameraConfig{Mode: "http", SnapshotURL: srv.URL, TimeoutMS: 2000})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := src.Grab(context.Background()); err == nil {
		t.Fatal("expected error for non-200 snapshot response")
	}
}

func TestProbeWrapsUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusNotFound)
	}))
	t.Cleanup(srv.Close)

	src, err := New(config.CameraConfig{Mode: "http", SnapshotURL: srv.URL, TimeoutMS: 2000})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	probeErr := Probe(context.Background(), src)
	if probeErr == nil {
		t.Fatal("expected probe failure")
	}
	if !errors.Is(probeErr, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", probeErr)
	}
}
