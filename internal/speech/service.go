// Package speech is the output half of the conversation: it turns text into
// audio and reports, as a bus event, the moment the utterance finished.
// Completion is always signalled, never assumed; a booth with no speaker
// still completes every turn so the interaction machine never stalls.
package speech

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

// turnBudget caps a single synthesize+play round.
const turnBudget = 45 * time.Second

type Service struct {
	cfg     config.SpeechConfig
	bus     *bus.Client
	publish protocol.Publisher
	synth   Synthesizer
	player  Player
	sub     *nats.Subscription
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	logger  *slog.Logger

	mu         sync.Mutex
	turnCancel context.CancelFunc

	unavailableOnce sync.Once
}

// NewService wires the speech output service. A nil synth or player puts the
// service in unavailable mode: every request completes instantly.
func NewService(parent context.Context, cfg config.SpeechConfig, busClient *bus.Client, synth Synthesizer, player Player, log *slog.Logger) *Service {
	s := newService(parent, cfg, busClient, synth, player, log)
	s.bus = busClient
	return s
}

func newService(parent context.Context, cfg config.SpeechConfig, publish protocol.Publisher, synth Synthesizer, player Player, log *slog.Logger) *Service {
	ctx, cancel := context.WithCancel(parent)
	return &Service{
		cfg:     cfg,
		publish: publish,
		synth:   synth,
		player:  player,
		ctx:     ctx,
		cancel:  cancel,
		logger:  log.With(slog.String("component", "speech-service")),
	}
}

func (s *Service) Start() error {
	sub, err := s.bus.Subscribe(protocol.SubjectSpeechSay, s.handleRequest)
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
	var req protocol.SpeechRequest
	if err := json.Unmarshal(msg.Data, &req); err != nil {
		s.logger.Warn("failed to decode speech request", slogError(err))
		return
	}
	s.speak(req)
}

// speak starts one utterance, superseding whatever was still playing. The
// superseded turn's done event is suppressed; its turn id is stale anyway.
func (s *Service) speak(req protocol.SpeechRequest) {
	if s.synth == nil || s.player == nil {
		s.unavailableOnce.Do(func() {
			s.logger.Warn("speech output unavailable, completing turns instantly")
		})
		s.publishDone(req, false, "speech output unavailable")
		return
	}

	ctx := s.beginTurn()
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.run(ctx, req)
	}()
}

// beginTurn cancels the previous utterance and opens the context for the
// next one. At most one turn is live at a time.
func (s *Service) beginTurn() context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.turnCancel != nil {
		s.turnCancel()
	}
	ctx, cancel := context.WithTimeout(s.ctx, turnBudget)
	s.turnCancel = cancel
	return ctx
}

func (s *Service) run(ctx context.Context, req protocol.SpeechRequest) {
	chunks, errs := s.synth.Synthesize(ctx, SynthRequest{
		TurnID: req.TurnID,
		Text:   req.Text,
		Voice:  s.cfg.Voice,
	})

	var pcm []byte
	sampleRate := s.cfg.SampleRate
	channels := s.cfg.Channels
	var synthErr error

	for {
		select {
		case chunk, ok := <-chunks:
			if !ok {
				chunks = nil
				continue
			}
			if chunk.SampleRate > 0 {
				sampleRate = chunk.SampleRate
			}
			if chunk.Channels > 0 {
				channels = chunk.Channels
			}
			pcm = append(pcm, chunk.PCM...)
		case err, ok := <-errs:
			if ok && err != nil && synthErr == nil {
				synthErr = err
			}
			errs = nil
		case <-ctx.Done():
			return
		}
		if chunks == nil && errs == nil {
			break
		}
	}

	// a superseded or shut-down turn stays silent; its id is stale. A turn
	// that ran out of budget still reports, so the machine moves on now
	// rather than at its guard timer.
	if errors.Is(ctx.Err(), context.Canceled) {
		return
	}
	if synthErr == nil && ctx.Err() != nil {
		synthErr = ctx.Err()
	}
	if synthErr != nil {
		s.logger.Warn("speech synthesis failed", slogError(synthErr))
		s.publishDone(req, false, synthErr.Error())
		return
	}

	if err := s.player.Play(ctx, pcm, sampleRate, channels); err != nil {
		if errors.Is(ctx.Err(), context.Canceled) {
			return
		}
		s.logger.Warn("speech playback failed", slogError(err))
		s.publishDone(req, false, err.Error())
		return
	}

	s.publishDone(req, true, "")
}

func (s *Service) publishDone(req protocol.SpeechRequest, ok bool, errMsg string) {
	done := protocol.SpeechDone{
		TurnID:    req.TurnID,
		VisitID:   req.VisitID,
		OK:        ok,
		Error:     errMsg,
		Timestamp: time.Now().UTC(),
	}
	data, err := json.Marshal(done)
	if err != nil {
		s.logger.Warn("failed to marshal speech done", slogError(err))
		return
	}
	if err := s.publish.Publish(protocol.SubjectSpeechDone, data); err != nil {
		s.logger.Warn("failed to publish speech done", slogError(err))
	}
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
