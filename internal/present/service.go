// Package present is the kiosk UI bridge: a small local HTTP API over the
// booth's state plus a websocket that pushes every projection change and
// capture outcome to the screen. The UI and the booth share the machine;
// nothing here is reachable from outside the kiosk by default.
package present

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/nats-io/nats.go"

	"github.com/boothworks/booth-core/internal/bus"
	"github.com/boothworks/booth-core/internal/gallery"
	"github.com/boothworks/booth-core/internal/protocol"
)

// StateSource hands out the current render projection; the interaction
// service satisfies it.
type StateSource interface {
	Snapshot() protocol.StateUpdate
}

// wsEnvelope wraps every websocket push so the UI can switch on type.
type wsEnvelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

type subscriber struct {
	conn *websocket.Conn
	send chan []byte
}

type Service struct {
	bus     *bus.Client
	publish protocol.Publisher
	source  StateSource
	store   *gallery.Store
	logger  *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	subs   []*nats.Subscription

	mu    sync.Mutex
	conns map[*subscriber]struct{}
}

func NewService(parent context.Context, busClient *bus.Client, source StateSource, store *gallery.Store, log *slog.Logger) *Service {
	s := newService(parent, busClient, source, store, log)
	s.bus = busClient
	return s
}

func newService(parent context.Context, publish protocol.Publisher, source StateSource, store *gallery.Store, log *slog.Logger) *Service {
	ctx, cancel := context.WithCancel(parent)
	return &Service{
		publish: publish,
		source:  source,
		store:   store,
		logger:  log.With(slog.String("component", "present")),
		ctx:     ctx,
		cancel:  cancel,
		conns:   make(map[*subscriber]struct{}),
	}
}

func (s *Service) Start() error {
	inbound := []struct {
		subject string
		handler nats.MsgHandler
	}{
		{protocol.SubjectStateChanged, s.handleStateChanged},
		{protocol.SubjectCaptureSaved, s.handleCaptureSaved},
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

func (s *Service) Close() {
	s.cancel()
	for _, sub := range s.subs {
		_ = sub.Drain()
	}
	s.subs = nil

	s.mu.Lock()
	for sub := range s.conns {
		sub.conn.Close()
	}
	s.mu.Unlock()
	s.wg.Wait()
}

func (s *Service) Healthy() bool { return len(s.subs) == 2 }

func (s *Service) handleStateChanged(msg *nats.Msg) {
	s.broadcast("state", msg.Data)
}

func (s *Service) handleCaptureSaved(msg *nats.Msg) {
	s.broadcast("capture", msg.Data)
}

// broadcast fans one envelope out to every connected screen. A subscriber
// whose buffer is full loses this message, not its connection; the UI
// resyncs from GET /state whenever it falls behind.
func (s *Service) broadcast(kind string, data []byte) {
	msg, err := json.Marshal(wsEnvelope{Type: kind, Data: data})
	if err != nil {
		s.logger.Warn("failed to marshal push envelope", slogError(err))
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for sub := range s.conns {
		select {
		case sub.send <- msg:
		default:
			s.logger.Debug("dropping push to slow subscriber")
		}
	}
}

func (s *Service) register(sub *subscriber) {
	s.mu.Lock()
	s.conns[sub] = struct{}{}
	s.mu.Unlock()
}

func (s *Service) unregister(sub *subscriber) {
	s.mu.Lock()
	delete(s.conns, sub)
	s.mu.Unlock()
	sub.conn.Close()
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
