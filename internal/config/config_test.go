package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Bus.Servers[0] != "nats://localhost:4222" {
		t.Fatalf("expected default server, got %v", cfg.Bus.Servers)
	}
	if cfg.Detector.PollIntervalMS != 500 {
		t.Fatalf("expected default poll interval 500, got %d", cfg.Detector.PollIntervalMS)
	}
	if cfg.Camera.Mode != "mock" || cfg.Detector.Mode != "mock" {
		t.Fatalf("expected mock camera and detector by default")
	}
	if cfg.Interaction.TurnTimeoutMS != 30000 {
		t.Fatalf("expected default turn timeout 30000, got %d", cfg.Interaction.TurnTimeoutMS)
	}
}

func TestLoadFile(t *testing.T) {
	const raw = `
runtime_name: kiosk-7
camera:
  mode: http
  snapshot_url: http://127.0.0.1:8089/snapshot.jpg
detector:
  mode: http
  endpoint: http://127.0.0.1:8090/detect
  poll_interval_ms: 250
gallery:
  directory: ./photos
  index_path: ./photos/index.db
`
	path := filepath.Join(t.TempDir(), "booth.yaml")
	if err := os.WriteFile(path, []byte(raw), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.RuntimeName != "kiosk-7" {
		t.Fatalf("expected runtime name override, got %q", cfg.RuntimeName)
	}
	if cfg.Camera.Mode != "http" || cfg.Camera.SnapshotURL == "" {
		t.Fatalf("expected http camera config, got %+v", cfg.Camera)
	}
	if cfg.Detector.PollIntervalMS != 250 {
		t.Fatalf("expected poll interval 250, got %d", cfg.Detector.PollIntervalMS)
	}
	if cfg.Gallery.Directory != "./photos" {
		t.Fatalf("expected gallery directory override, got %q", cfg.Gallery.Directory)
	}
	// untouched sections keep their defaults
	if cfg.Speech.SampleRate != 22050 {
		t.Fatalf("expected default speech sample rate, got %d", cfg.Speech.SampleRate)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("BOOTH_BUS_SERVERS", "nats://one:4222, nats://two:4222")
	t.Setenv("BOOTH_BUS_USERNAME", "alice")
	t.Setenv("BOOTH_BUS_PASSWORD", "secret")
	t.Setenv("BOOTH_BUS_TLS_INSECURE", "true")
	t.Setenv("BOOTH_BUS_CONNECT_TIMEOUT_MS", "5000")
	t.Setenv("BOOTH_DETECTOR_POLL_INTERVAL_MS", "750")
	t.Setenv("BOOTH_DETECTOR_MIN_SCORE", "0.8")
	t.Setenv("BOOTH_DETECTOR_MOCK_PRESENT", "false")
	t.Setenv("BOOTH_LISTEN_MOCK_TRANSCRIPT", "no thanks")
	t.Setenv("BOOTH_INTERACTION_AWAIT_CAPTURE_TIMEOUT_MS", "0")
	t.Setenv("BOOTH_GALLERY_MAX_CAPTURES", "42")
	t.Setenv("BOOTH_GALLERY_VACUUM_ON_START", "true")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(cfg.Bus.Servers) != 2 {
		t.Fatalf("expected 2 servers, got %v", cfg.Bus.Servers)
	}
	if cfg.Bus.Username != "alice" || cfg.Bus.Password != "secret" {
		t.Fatalf("expected credentials override")
	}
	if !cfg.Bus.TLSInsecure {
		t.Fatal("expected tls insecure override true")
	}
	if cfg.Bus.ConnectTimeout != 5000 {
		t.Fatalf("expected timeout 5000, got %d", cfg.Bus.ConnectTimeout)
	}
	if cfg.Detector.PollIntervalMS != 750 {
		t.Fatalf("expected poll interval override, got %d", cfg.Detector.PollIntervalMS)
	}
	if cfg.Detector.MinScore != 0.8 {
		t.Fatalf("expected min score override, got %v", cfg.Detector.MinScore)
	}
	if cfg.Detector.MockPresent {
		t.Fatal("expected mock present override false")
	}
	if cfg.Listen.MockTranscript != "no thanks" {
		t.Fatalf("expected mock transcript override, got %q", cfg.Listen.MockTranscript)
	}
	if cfg.Interaction.AwaitCaptureTimeoutMS != 0 {
		t.Fatalf("expected await capture timeout 0, got %d", cfg.Interaction.AwaitCaptureTimeoutMS)
	}
	if cfg.Gallery.MaxCaptures != 42 {
		t.Fatalf("expected max captures override, got %d", cfg.Gallery.MaxCaptures)
	}
	if !cfg.Gallery.VacuumOnStart {
		t.Fatalf("expected gallery vacuum flag override")
	}
}

func TestValidateRejectsBadModes(t *testing.T) {
	t.Setenv("BOOTH_CAMERA_MODE", "webcam")
	if _, err := Load(""); err == nil {
		t.Fatal("expected error for unknown camera mode")
	}

	t.Setenv("BOOTH_CAMERA_MODE", "exec")
	if _, err := Load(""); err == nil {
		t.Fatal("expected error for exec camera without command")
	}

	t.Setenv("BOOTH_CAMERA_MODE", "mock")
	t.Setenv("BOOTH_DETECTOR_POLL_INTERVAL_MS", "0")
	if _, err := Load(""); err == nil {
		t.Fatal("expected error for zero poll interval")
	}
}
