// Package detect runs the fixed-cadence face polling loop. It is the only
// caller of the locator, and by construction never issues overlapping
// locate calls and never polls while a conversation is in flight.
package detect

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"

	"github.com/boothworks/booth-core/internal/camera"
	"github.com/boothworks/booth-core/internal/config"
	"github.com/boothworks/booth-core/internal/protocol"
	"github.com/boothworks/booth-core/internal/vision"
)

// Poller grabs a frame and runs the locator on a fixed interval, publishing
// one DetectionEvent per completed poll. The gate callback decides whether a
// tick does any work at all; the interaction machine supplies one that is
// true only while it sits in Idle.
type Poller struct {
	cfg     config.DetectorConfig
	source  camera.Source
	locator vision.Locator
	publish protocol.Publisher
	gate    func() bool
	log     *slog.Logger

	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	inflight atomic.Bool
	running  atomic.Bool

	metrics pollerMetrics
}

type pollerMetrics struct {
	ticks        metric.Int64Counter
	skippedGate  metric.Int64Counter
	skippedBusy  metric.Int64Counter
	grabErrors   metric.Int64Counter
	locateErrors metric.Int64Counter
	facesSeen    metric.Int64Counter
}

func newPollerMetrics(log *slog.Logger) pollerMetrics {
	meter := otel.Meter("booth.detect")
	var m pollerMetrics
	var err error
	if m.ticks, err = meter.Int64Counter("booth.poller.ticks"); err != nil {
		log.Warn("failed to register poller metric", slog.String("error", err.Error()))
	}
	if m.skippedGate, err = meter.Int64Counter("booth.poller.skipped_gated"); err != nil {
		log.Warn("failed to register poller metric", slog.String("error", err.Error()))
	}
	if m.skippedBusy, err = meter.Int64Counter("booth.poller.skipped_inflight"); err != nil {
		log.Warn("failed to register poller metric", slog.String("error", err.Error()))
	}
	if m.grabErrors, err = meter.Int64Counter("booth.poller.grab_errors"); err != nil {
		log.Warn("failed to register poller metric", slog.String("error", err.Error()))
	}
	if m.locateErrors, err = meter.Int64Counter("booth.poller.locate_errors"); err != nil {
		log.Warn("failed to register poller metric", slog.String("error", err.Error()))
	}
	if m.facesSeen, err = meter.Int64Counter("booth.poller.faces_seen"); err != nil {
		log.Warn("failed to register poller metric", slog.String("error", err.Error()))
	}
	return m
}

func (m pollerMetrics) add(ctx context.Context, c metric.Int64Counter, n int64) {
	if c != nil {
		c.Add(ctx, n)
	}
}

// NewPoller wires a poller; Start launches the loop.
func NewPoller(parent context.Context, cfg config.DetectorConfig, source camera.Source, locator vision.Locator, publish protocol.Publisher, gate func() bool, log *slog.Logger) *Poller {
	ctx, cancel := context.WithCancel(parent)
	return &Poller{
		cfg:     cfg,
		source:  source,
		locator: locator,
		publish: publish,
		gate:    gate,
		log:     log.With(slog.String("component", "detect.poller")),
		ctx:     ctx,
		cancel:  cancel,
		metrics: newPollerMetrics(log),
	}
}

func (p *Poller) Start() error {
	interval := time.Duration(p.cfg.PollIntervalMS) * time.Millisecond
	p.running.Store(true)
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-p.ctx.Done():
				return
			case <-ticker.C:
				p.tick()
			}
		}
	}()
	p.log.Info("detection poller started", slog.Int("interval_ms", p.cfg.PollIntervalMS))
	return nil
}

// Close stops the loop and waits for any in-flight poll to finish.
func (p *Poller) Close() {
	p.cancel()
	p.wg.Wait()
	p.running.Store(false)
}

func (p *Poller) Healthy() bool {
	return p.running.Load()
}

// tick decides whether this cadence slot does any work. Skips are cheap:
// no frame is grabbed and the locator is never touched.
func (p *Poller) tick() {
	p.metrics.add(p.ctx, p.metrics.ticks, 1)

	if !p.gate() {
		p.metrics.add(p.ctx, p.metrics.skippedGate, 1)
		return
	}
	if !p.inflight.CompareAndSwap(false, true) {
		p.metrics.add(p.ctx, p.metrics.skippedBusy, 1)
		p.log.Debug("locate still in flight, skipping tick")
		return
	}

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer p.inflight.Store(false)
		p.poll()
	}()
}

// poll performs one grab+locate round. Errors are logged and degrade to an
// empty detection; the poller itself never dies mid-session.
func (p *Poller) poll() {
	event := protocol.DetectionEvent{Timestamp: time.Now()}

	frame, err := p.source.Grab(p.ctx)
	if err != nil {
		if p.ctx.Err() != nil {
			return
		}
		p.metrics.add(p.ctx, p.metrics.grabErrors, 1)
		p.log.Warn("frame grab failed, treating as no detection", slog.String("error", err.Error()))
		p.emit(event)
		return
	}
	event.FrameWidth = frame.Width
	event.FrameHeight = frame.Height

	boxes, err := p.locator.Locate(p.ctx, frame)
	if err != nil {
		if p.ctx.Err() != nil {
			return
		}
		p.metrics.add(p.ctx, p.metrics.locateErrors, 1)
		p.log.Warn("locate failed, treating as no detection", slog.String("error", err.Error()))
		p.emit(event)
		return
	}

	event.Present = len(boxes) > 0
	event.Boxes = boxes
	p.metrics.add(p.ctx, p.metrics.facesSeen, int64(len(boxes)))
	p.emit(event)
}

func (p *Poller) emit(event protocol.DetectionEvent) {
	data, err := json.Marshal(event)
	if err != nil {
		p.log.Error("failed to marshal detection event", slog.String("error", err.Error()))
		return
	}
	if err := p.publish.Publish(protocol.SubjectDetectionEvent, data); err != nil {
		p.log.Warn("failed to publish detection event", slog.String("error", err.Error()))
	}
}
