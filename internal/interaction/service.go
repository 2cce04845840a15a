package interaction

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/nats-io/nats.go"

	"github.com/boothworks/booth-core/internal/bus"
	"github.com/boothworks/booth-core/internal/config"
	"github.com/boothworks/booth-core/internal/phrases"
	"github.com/boothworks/booth-core/internal/protocol"
)

// Service puts the machine on the bus: it decodes the four inbound subjects
// and posts them to the loop.
type Service struct {
	machine *Machine
	bus     *bus.Client
	logger  *slog.Logger
	subs    []*nats.Subscription
}

func NewService(parent context.Context, cfg config.InteractionConfig, busClient *bus.Client, catalog phrases.Catalog, log *slog.Logger) *Service {
	return &Service{
		machine: newMachine(parent, cfg, catalog, busClient, log),
		bus:     busClient,
		logger:  log.With(slog.String("component", "interaction")),
	}
}

func (s *Service) Start() error {
	s.machine.Start()

	inbound := []struct {
		subject string
		handler nats.MsgHandler
	}{
		{protocol.SubjectDetectionEvent, s.handleDetection},
		{protocol.SubjectSpeechDone, s.handleSpeechDone},
		{protocol.SubjectListenResult, s.handleListenResult},
		{protocol.SubjectCaptureRequest, s.handleCaptureRequest},
	}
	for _, in := range inbound {
		sub, err := s.bus.Subscribe(in.subject, in.handler)
		if err != nil {
			s.Close()
			return err
		}
		s.subs = append(s.subs, sub)
	}
	return nil
}

// Close drains the subscriptions first so in-flight handlers finish against
// a live loop, then stops the machine.
func (s *Service) Close() {
	for _, sub := range s.subs {
		_ = sub.Drain()
	}
	s.subs = nil
	s.machine.Close()
}

func (s *Service) Healthy() bool {
	return s.machine.Healthy() && len(s.subs) == 4
}

// Idle reports whether the booth is between visits; the detection poller
// uses it as its gate.
func (s *Service) Idle() bool { return s.machine.Idle() }

// Snapshot returns the last published render projection, for the HTTP
// bridge's initial state.
func (s *Service) Snapshot() protocol.StateUpdate { return s.machine.Snapshot() }

func (s *Service) handleDetection(msg *nats.Msg) {
	var ev protocol.DetectionEvent
	if err := json.Unmarshal(msg.Data, &ev); err != nil {
		s.logger.Warn("failed to decode detection event", slogError(err))
		return
	}
	s.machine.post(detectionMsg{ev})
}

func (s *Service) handleSpeechDone(msg *nats.Msg) {
	var done protocol.SpeechDone
	if err := json.Unmarshal(msg.Data, &done); err != nil {
		s.logger.Warn("failed to decode speech done", slogError(err))
		return
	}
	s.machine.post(speechDoneMsg{done})
}

func (s *Service) handleListenResult(msg *nats.Msg) {
	var result protocol.ListenResult
	if err := json.Unmarshal(msg.Data, &result); err != nil {
		s.logger.Warn("failed to decode listen result", slogError(err))
		return
	}
	s.machine.post(listenResultMsg{result})
}

func (s *Service) handleCaptureRequest(msg *nats.Msg) {
	var req protocol.CaptureRequest
	if err := json.Unmarshal(msg.Data, &req); err != nil {
		s.logger.Warn("failed to decode capture request", slogError(err))
		return
	}
	s.machine.post(captureMsg{req})
}
