// Package gallery keeps the booth's photos: JPEG files on disk plus a
// SQLite index over them. Photos are the product; everything else about a
// visit is ephemeral and never lands here.
package gallery

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/boothworks/booth-core/internal/config"
)

// ErrNotFound is returned when a capture id has no row.
var ErrNotFound = errors.New("capture not found")

// Capture is one saved photo.
type Capture struct {
	ID        string
	VisitID   string
	Path      string
	ThumbPath string
	Width     int
	Height    int
	TakenAt   time.Time
}

// Store wraps the SQLite capture index.
type Store struct {
	db    *sql.DB
	cfg   config.GalleryConfig
	log   *slog.Logger
	clock func() time.Time
}

// Open prepares the capture directory and index according to config.
func Open(ctx context.Context, cfg config.GalleryConfig, log *slog.Logger) (*Store, error) {
	if err := os.MkdirAll(cfg.Directory, 0o755); err != nil {
		return nil, fmt.Errorf("create capture dir: %w", err)
	}
	if dir := filepath.Dir(cfg.IndexPath); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create index dir: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)", cfg.IndexPath)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	s := &Store{db: db, cfg: cfg, log: log, clock: time.Now}

	if err := s.initSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}

	if cfg.VacuumOnStart {
		if err := s.vacuum(ctx); err != nil {
			log.Warn("capture index vacuum failed", slog.String("error", err.Error()))
		}
	}

	if err := s.Prune(ctx); err != nil {
		log.Warn("capture prune on start failed", slog.String("error", err.Error()))
	}

	return s, nil
}

func (s *Store) initSchema(ctx context.Context) error {
	ddl := `
CREATE TABLE IF NOT EXISTS captures (
    id TEXT PRIMARY KEY,
    visit_id TEXT,
    path TEXT NOT NULL,
    thumb_path TEXT,
    width INTEGER,
    height INTEGER,
    taken_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_captures_taken ON captures(taken_at);
`
	_, err := s.db.ExecContext(ctx, ddl)
	return err
}

func (s *Store) vacuum(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, "VACUUM")
	return err
}

// Close releases the index.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Insert records one saved capture.
func (s *Store) Insert(ctx context.Context, c Capture) error {
	if c.TakenAt.IsZero() {
		c.TakenAt = s.clock().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO captures(id, visit_id, path, thumb_path, width, height, taken_at)
		 VALUES(?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.VisitID, c.Path, c.ThumbPath, c.Width, c.Height, c.TakenAt)
	return err
}

// Get returns one capture by id.
func (s *Store) Get(ctx context.Context, id string) (Capture, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, visit_id, path, thumb_path, width, height, taken_at
		 FROM captures WHERE id = ?`, id)
	c, err := scanCapture(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return Capture{}, ErrNotFound
	}
	return c, err
}

// List returns up to limit captures, newest first.
func (s *Store) List(ctx context.Context, limit int) ([]Capture, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, visit_id, path, thumb_path, width, height, taken_at
		 FROM captures ORDER BY taken_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var captures []Capture
	for rows.Next() {
		c, err := scanCapture(rows.Scan)
		if err != nil {
			return nil, err
		}
		captures = append(captures, c)
	}
	return captures, rows.Err()
}

func scanCapture(scan func(...any) error) (Capture, error) {
	var c Capture
	var taken string
	if err := scan(&c.ID, &c.VisitID, &c.Path, &c.ThumbPath, &c.Width, &c.Height, &taken); err != nil {
		return Capture{}, err
	}
	if ts, err := time.Parse(time.RFC3339Nano, taken); err == nil {
		c.TakenAt = ts
	}
	return c, nil
}

// Prune applies retention: drop captures older than RetentionDays, then
// everything beyond the newest MaxCaptures. Files belonging to dropped rows
// are removed best effort after the index commits.
func (s *Store) Prune(ctx context.Context) error {
	var stale []Capture

	if s.cfg.RetentionDays > 0 {
		cutoff := s.clock().UTC().Add(-time.Duration(s.cfg.RetentionDays) * 24 * time.Hour)
		old, err := s.selectWhere(ctx, `taken_at < ?`, cutoff)
		if err != nil {
			return err
		}
		stale = append(stale, old...)
	}
	if s.cfg.MaxCaptures > 0 {
		over, err := s.selectWhere(ctx, `id IN (
			SELECT id FROM captures ORDER BY taken_at DESC, id DESC LIMIT -1 OFFSET ?
		)`, s.cfg.MaxCaptures)
		if err != nil {
			return err
		}
		stale = append(stale, over...)
	}
	if len(stale) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	for _, c := range stale {
		if _, err := tx.ExecContext(ctx, `DELETE FROM captures WHERE id = ?`, c.ID); err != nil {
			tx.Rollback()
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return err
	}

	for _, c := range stale {
		removeQuiet(s.log, c.Path)
		removeQuiet(s.log, c.ThumbPath)
	}
	s.log.Info("pruned captures", slog.Int("count", len(stale)))
	return nil
}

func (s *Store) selectWhere(ctx context.Context, where string, arg any) ([]Capture, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, visit_id, path, thumb_path, width, height, taken_at
		 FROM captures WHERE `+where, arg)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var captures []Capture
	for rows.Next() {
		c, err := scanCapture(rows.Scan)
		if err != nil {
			return nil, err
		}
		captures = append(captures, c)
	}
	return captures, rows.Err()
}

func removeQuiet(log *slog.Logger, path string) {
	if path == "" {
		return
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warn("failed to remove pruned capture file",
			slog.String("path", path), slog.String("error", err.Error()))
	}
}
