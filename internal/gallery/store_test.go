package gallery

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/boothworks/booth-core/internal/config"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func testStoreConfig(t *testing.T) config.GalleryConfig {
	t.Helper()
	tmp := t.TempDir()
	return config.GalleryConfig{
		Directory:      filepath.Join(tmp, "captures"),
		IndexPath:      filepath.Join(tmp, "captures.db"),
		ThumbnailMaxPx: 32,
	}
}

func TestInsertGetList(t *testing.T) {
	cfg := testStoreConfig(t)
	store, err := Open(context.Background(), cfg, newLogger())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	first := Capture{
		ID: "cap-1", VisitID: "visit-1", Path: "/photos/cap-1.jpg",
		Width: 1280, Height: 720,
		TakenAt: time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC),
	}
	second := Capture{
		ID: "cap-2", VisitID: "visit-2", Path: "/photos/cap-2.jpg",
		TakenAt: time.Date(2026, 3, 1, 11, 0, 0, 0, time.UTC),
	}
	for _, c := range []Capture{first, second} {
		if err := store.Insert(context.Background(), c); err != nil {
			t.Fatalf("insert %s: %v", c.ID, err)
		}
	}

	got, err := store.Get(context.Background(), "cap-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.VisitID != "visit-1" || got.Width != 1280 || got.Path != first.Path {
		t.Fatalf("unexpected capture: %+v", got)
	}

	list, err := store.List(context.Background(), 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("expected 2 captures, got %d", len(list))
	}
	if list[0].ID != "cap-2" {
		t.Fatalf("list not newest first: %s", list[0].ID)
	}

	if _, err := store.Get(context.Background(), "no-such"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestPruneByAgeAndCount(t *testing.T) {
	cfg := testStoreConfig(t)
	cfg.RetentionDays = 1
	cfg.MaxCaptures = 1
	store, err := Open(context.Background(), cfg, newLogger())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	if err := os.MkdirAll(cfg.Directory, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	oldPath := filepath.Join(cfg.Directory, "old.jpg")
	if err := os.WriteFile(oldPath, []byte("jpeg"), 0o644); err != nil {
		t.Fatalf("write file: %v", err)
	}

	old := Capture{ID: "old", Path: oldPath, TakenAt: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	fresh := Capture{ID: "fresh", Path: filepath.Join(cfg.Directory, "fresh.jpg"), TakenAt: time.Date(2026, 1, 3, 0, 0, 0, 0, time.UTC)}
	for _, c := range []Capture{old, fresh} {
		if err := store.Insert(context.Background(), c); err != nil {
			t.Fatalf("insert %s: %v", c.ID, err)
		}
	}

	store.clock = func() time.Time { return time.Date(2026, 1, 3, 6, 0, 0, 0, time.UTC) }
	if err := store.Prune(context.Background()); err != nil {
		t.Fatalf("prune: %v", err)
	}

	list, err := store.List(context.Background(), 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 1 || list[0].ID != "fresh" {
		t.Fatalf("expected only fresh capture, got %+v", list)
	}
	if _, err := os.Stat(oldPath); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("pruned file still on disk: %v", err)
	}
}

func TestPruneKeepsNewestWithinLimit(t *testing.T) {
	cfg := testStoreConfig(t)
	cfg.MaxCaptures = 2
	store, err := Open(context.Background(), cfg, newLogger())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	base := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	for i, id := range []string{"a", "b", "c"} {
		c := Capture{ID: id, Path: "/photos/" + id + ".jpg", TakenAt: base.Add(time.Duration(i) * time.Hour)}
		if err := store.Insert(context.Background(), c); err != nil {
			t.Fatalf("insert %s: %v", id, err)
		}
	}

	if err := store.Prune(context.Background()); err != nil {
		t.Fatalf("prune: %v", err)
	}
	list, err := store.List(context.Background(), 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("expected 2 captures after prune, got %d", len(list))
	}
	if list[0].ID != "c" || list[1].ID != "b" {
		t.Fatalf("wrong captures survived: %+v", list)
	}
}
