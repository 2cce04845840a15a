// Package listen is the input half of the conversation: record one
// utterance window, transcribe it, publish the result. One session at a
// time; a new request aborts whatever is still recording. A booth with no
// microphone answers every request immediately with an error result, so
// the interaction machine can route to its fail-safe instead of hanging.
package listen

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/boothworks/booth-core/internal/bus"
	"github.com/boothworks/booth-core/internal/config"
	"github.com/boothworks/booth-core/internal/protocol"
)

// sessionGrace pads the session budget past the utterance window so the
// recognizer has time to run on the recorded audio.
const sessionGrace = 15 * time.Second

type Service struct {
	cfg        config.ListenConfig
	bus        *bus.Client
	publish    protocol.Publisher
	capturer   Capturer
	recognizer Recognizer
	sub        *nats.Subscription
	ctx        context.Context
	cancel     context.CancelFunc
	wg         sync.WaitGroup
	logger     *slog.Logger

	mu          sync.Mutex
	sessionStop context.CancelFunc

	degradedOnce sync.Once
}

// NewService wires the speech input service. A nil capturer or recognizer
// puts it in degraded mode: every request fails fast.
func NewService(parent context.Context, cfg config.ListenConfig, busClient *bus.Client, capturer Capturer, recognizer Recognizer, log *slog.Logger) *Service {
	s := newService(parent, cfg, busClient, capturer, recognizer, log)
	s.bus = busClient
	return s
}

func newService(parent context.Context, cfg config.ListenConfig, publish protocol.Publisher, capturer Capturer, recognizer Recognizer, log *slog.Logger) *Service {
	ctx, cancel := context.WithCancel(parent)
	return &Service{
		cfg:        cfg,
		publish:    publish,
		capturer:   capturer,
		recognizer: recognizer,
		ctx:        ctx,
		cancel:     cancel,
		logger:     log.With(slog.String("component", "listen-service")),
	}
}

func (s *Service) Start() error {
	sub, err := s.bus.Subscribe(protocol.SubjectListenStart, s.handleRequest)
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

func (s *Service) handleRequest(msg *nats.Msg) {
	var req protocol.ListenRequest
	if err := json.Unmarshal(msg.Data, &req); err != nil {
		s.logger.Warn("failed to decode listen request", slogError(err))
		return
	}
	s.listen(req)
}

func (s *Service) listen(req protocol.ListenRequest) {
	if s.capturer == nil || s.recognizer == nil {
		s.degradedOnce.Do(func() {
			s.logger.Warn("microphone unavailable, failing listen requests fast")
		})
		s.publishResult(req, TranscriptResult{}, errors.New("microphone unavailable"))
		return
	}

	maxDur := time.Duration(s.cfg.MaxUtteranceMS) * time.Millisecond
	if req.MaxDurationMS > 0 {
		maxDur = time.Duration(req.MaxDurationMS) * time.Millisecond
	}

	ctx := s.beginSession(maxDur + sessionGrace)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.run(ctx, req, maxDur)
	}()
}

// beginSession aborts the previous session and opens the next one.
func (s *Service) beginSession(budget time.Duration) context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sessionStop != nil {
		s.sessionStop()
	}
	ctx, cancel := context.WithTimeout(s.ctx, budget)
	s.sessionStop = cancel
	return ctx
}

func (s *Service) run(ctx context.Context, req protocol.ListenRequest, maxDur time.Duration) {
	pcm, rate, channels, err := s.capturer.Record(ctx, maxDur)
	if err != nil {
		if errors.Is(ctx.Err(), context.Canceled) {
			return // aborted by a newer session or shutdown
		}
		s.logger.Warn("audio capture failed", slogError(err))
		s.publishResult(req, TranscriptResult{}, err)
		return
	}

	result, err := s.recognizer.Transcribe(ctx, pcm, rate, channels)
	if err != nil {
		if errors.Is(ctx.Err(), context.Canceled) {
			return
		}
		s.logger.Warn("transcription failed", slogError(err))
		s.publishResult(req, TranscriptResult{}, err)
		return
	}

	s.publishResult(req, result, nil)
}

func (s *Service) publishResult(req protocol.ListenRequest, result TranscriptResult, resultErr error) {
	out := protocol.ListenResult{
		TurnID:     req.TurnID,
		VisitID:    req.VisitID,
		Transcript: result.Text,
		Confidence: result.Confidence,
		Timestamp:  time.Now().UTC(),
	}
	if resultErr != nil {
		out.Error = resultErr.Error()
	}
	data, err := json.Marshal(out)
	if err != nil {
		s.logger.Warn("failed to marshal listen result", slogError(err))
		return
	}
	if err := s.publish.Publish(protocol.SubjectListenResult, data); err != nil {
		s.logger.Warn("failed to publish listen result", slogError(err))
	}
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
