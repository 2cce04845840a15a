package gallery

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	"image/jpeg"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"golang.org/x/image/draw"

	"github.com/boothworks/booth-core/internal/bus"
	"github.com/boothworks/booth-core/internal/camera"
	"github.com/boothworks/booth-core/internal/config"
	"github.com/boothworks/booth-core/internal/protocol"
)

// saveBudget caps one grab+encode+index round.
const saveBudget = 15 * time.Second

const jpegQuality = 85

// Service snapshots a frame for every confirmed capture and reports the
// outcome on the bus. A failed save never takes the booth down; the visitor
// already got their farewell.
type Service struct {
	cfg     config.GalleryConfig
	bus     *bus.Client
	publish protocol.Publisher
	store   *Store
	source  camera.Source
	sub     *nats.Subscription
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	logger  *slog.Logger
}

func NewService(parent context.Context, cfg config.GalleryConfig, busClient *bus.Client, store *Store, source camera.Source, log *slog.Logger) *Service {
	s := newService(parent, cfg, busClient, store, source, log)
	s.bus = busClient
	return s
}

func newService(parent context.Context, cfg config.GalleryConfig, publish protocol.Publisher, store *Store, source camera.Source, log *slog.Logger) *Service {
	ctx, cancel := context.WithCancel(parent)
	return &Service{
		cfg:     cfg,
		publish: publish,
		store:   store,
		source:  source,
		ctx:     ctx,
		cancel:  cancel,
		logger:  log.With(slog.String("component", "gallery")),
	}
}

func (s *Service) Start() error {
	sub, err := s.bus.Subscribe(protocol.SubjectCaptureConfirmed, s.handleConfirmed)
	if err != nil {
		return err
	}
	s.sub = sub
	return nil
}

func (s *Service) Close() {
	s.cancel()
	if s.sub != nil {
		_ = s.sub.Drain()
	}
	s.wg.Wait()
}

func (s *Service) Healthy() bool { return s.sub != nil }

// Store exposes the capture index to the HTTP bridge.
func (s *Service) Store() *Store { return s.store }

func (s *Service) handleConfirmed(msg *nats.Msg) {
	var confirmed protocol.CaptureConfirmed
	if err := json.Unmarshal(msg.Data, &confirmed); err != nil {
		s.logger.Warn("failed to decode capture confirmation", slogError(err))
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.process(confirmed)
	}()
}

// process grabs the frame for one confirmed capture, writes the photo and
// its thumbnail, indexes them, and reports the outcome.
func (s *Service) process(confirmed protocol.CaptureConfirmed) {
	ctx, cancel := context.WithTimeout(s.ctx, saveBudget)
	defer cancel()

	saved := protocol.CaptureSaved{
		CaptureID: confirmed.CaptureID,
		VisitID:   confirmed.VisitID,
		Timestamp: time.Now().UTC(),
	}

	capture, err := s.save(ctx, confirmed)
	if err != nil {
		if s.ctx.Err() != nil {
			return
		}
		s.logger.Warn("capture save failed",
			slog.String("capture_id", confirmed.CaptureID), slogError(err))
		saved.Error = err.Error()
		s.publishSaved(saved)
		return
	}

	saved.Path = capture.Path
	saved.ThumbPath = capture.ThumbPath
	s.logger.Info("capture saved",
		slog.String("capture_id", capture.ID),
		slog.String("path", capture.Path))
	s.publishSaved(saved)

	if err := s.store.Prune(s.ctx); err != nil {
		s.logger.Warn("capture prune failed", slogError(err))
	}
}

func (s *Service) save(ctx context.Context, confirmed protocol.CaptureConfirmed) (Capture, error) {
	frame, err := s.source.Grab(ctx)
	if err != nil {
		return Capture{}, fmt.Errorf("grab frame: %w", err)
	}

	img, _, err := image.Decode(bytes.NewReader(frame.Data))
	if err != nil {
		return Capture{}, fmt.Errorf("decode frame: %w", err)
	}
	bounds := img.Bounds()

	path := filepath.Join(s.cfg.Directory, confirmed.CaptureID+".jpg")
	thumbPath := filepath.Join(s.cfg.Directory, confirmed.CaptureID+"_thumb.jpg")

	if err := writeJPEG(path, img); err != nil {
		return Capture{}, fmt.Errorf("write photo: %w", err)
	}
	if err := writeJPEG(thumbPath, thumbnail(img, s.cfg.ThumbnailMaxPx)); err != nil {
		removeQuiet(s.logger, path)
		return Capture{}, fmt.Errorf("write thumbnail: %w", err)
	}

	capture := Capture{
		ID:        confirmed.CaptureID,
		VisitID:   confirmed.VisitID,
		Path:      path,
		ThumbPath: thumbPath,
		Width:     bounds.Dx(),
		Height:    bounds.Dy(),
		TakenAt:   time.Now().UTC(),
	}
	if err := s.store.Insert(ctx, capture); err != nil {
		removeQuiet(s.logger, path)
		removeQuiet(s.logger, thumbPath)
		return Capture{}, fmt.Errorf("index capture: %w", err)
	}
	return capture, nil
}

func (s *Service) publishSaved(saved protocol.CaptureSaved) {
	data, err := json.Marshal(saved)
	if err != nil {
		s.logger.Warn("failed to marshal capture saved", slogError(err))
		return
	}
	if err := s.publish.Publish(protocol.SubjectCaptureSaved, data); err != nil {
		s.logger.Warn("failed to publish capture saved", slogError(err))
	}
}

func writeJPEG(path string, img image.Image) error {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: jpegQuality}); err != nil {
		return err
	}
	return os.WriteFile(path, buf.Bytes(), 0o644)
}

// thumbnail scales img to fit maxPx on its longer side, keeping aspect.
// Small frames pass through untouched.
func thumbnail(img image.Image, maxPx int) image.Image {
	bounds := img.Bounds()
	width := bounds.Dx()
	height := bounds.Dy()
	if maxPx <= 0 || (width <= maxPx && height <= maxPx) {
		return img
	}

	var newWidth, newHeight int
	if width > height {
		newWidth = maxPx
		newHeight = int(float64(height) * float64(maxPx) / float64(width))
	} else {
		newHeight = maxPx
		newWidth = int(float64(width) * float64(maxPx) / float64(height))
	}
	if newWidth < 1 {
		newWidth = 1
	}
	if newHeight < 1 {
		newHeight = 1
	}

	resized := image.NewRGBA(image.Rect(0, 0, newWidth, newHeight))
	draw.CatmullRom.Scale(resized, resized.Bounds(), img, bounds, draw.Over, nil)
	return resized
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
