package present

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/boothworks/booth-core/internal/gallery"
	"github.com/boothworks/booth-core/internal/protocol"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512
)

// the UI is served off the same box; cross-origin checks buy nothing here
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

type captureResponse struct {
	ID       string    `json:"id"`
	VisitID  string    `json:"visit_id,omitempty"`
	TakenAt  time.Time `json:"taken_at"`
	Width    int       `json:"width"`
	Height   int       `json:"height"`
	ImageURL string    `json:"image_url"`
	ThumbURL string    `json:"thumb_url,omitempty"`
}

// Routes returns the UI-facing API; the runtime mounts it under /v1.
func (s *Service) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/state", s.handleState)
	r.Post("/capture", s.handleCapture)
	r.Get("/captures", s.handleListCaptures)
	r.Get("/captures/{id}/image", s.handleCaptureImage)
	r.Get("/captures/{id}/thumb", s.handleCaptureThumb)
	r.Get("/events", s.handleEvents)
	return r
}

func (s *Service) handleState(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, s.source.Snapshot())
}

// handleCapture is the shutter button. The machine decides whether the
// press counts; the bridge only forwards it.
func (s *Service) handleCapture(w http.ResponseWriter, r *http.Request) {
	req := protocol.CaptureRequest{Source: "ui", Timestamp: time.Now().UTC()}
	data, err := json.Marshal(req)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "encode capture request")
		return
	}
	if err := s.publish.Publish(protocol.SubjectCaptureRequest, data); err != nil {
		s.logger.Warn("failed to publish capture request", slogError(err))
		respondError(w, http.StatusServiceUnavailable, "capture request not delivered")
		return
	}
	respondJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

func (s *Service) handleListCaptures(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			respondError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	captures, err := s.store.List(r.Context(), limit)
	if err != nil {
		s.logger.Warn("failed to list captures", slogError(err))
		respondError(w, http.StatusInternalServerError, "list captures")
		return
	}

	out := make([]captureResponse, 0, len(captures))
	for _, c := range captures {
		resp := captureResponse{
			ID:       c.ID,
			VisitID:  c.VisitID,
			TakenAt:  c.TakenAt,
			Width:    c.Width,
			Height:   c.Height,
			ImageURL: "/v1/captures/" + c.ID + "/image",
		}
		if c.ThumbPath != "" {
			resp.ThumbURL = "/v1/captures/" + c.ID + "/thumb"
		}
		out = append(out, resp)
	}
	respondJSON(w, http.StatusOK, out)
}

func (s *Service) handleCaptureImage(w http.ResponseWriter, r *http.Request) {
	s.serveCaptureFile(w, r, func(c gallery.Capture) string { return c.Path })
}

func (s *Service) handleCaptureThumb(w http.ResponseWriter, r *http.Request) {
	s.serveCaptureFile(w, r, func(c gallery.Capture) string { return c.ThumbPath })
}

func (s *Service) serveCaptureFile(w http.ResponseWriter, r *http.Request, pick func(gallery.Capture) string) {
	id := chi.URLParam(r, "id")
	capture, err := s.store.Get(r.Context(), id)
	if errors.Is(err, gallery.ErrNotFound) {
		respondError(w, http.StatusNotFound, "capture not found")
		return
	}
	if err != nil {
		s.logger.Warn("failed to load capture", slogError(err))
		respondError(w, http.StatusInternalServerError, "load capture")
		return
	}
	path := pick(capture)
	if path == "" {
		respondError(w, http.StatusNotFound, "capture has no file")
		return
	}
	http.ServeFile(w, r, path)
}

// handleEvents upgrades to a websocket and streams envelopes. The first
// message is always the current projection so a reconnecting screen renders
// correctly before the next transition.
func (s *Service) handleEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", slogError(err))
		return
	}

	sub := &subscriber{conn: conn, send: make(chan []byte, 32)}

	snapshot, err := json.Marshal(s.source.Snapshot())
	if err == nil {
		if hello, err := json.Marshal(wsEnvelope{Type: "state", Data: snapshot}); err == nil {
			sub.send <- hello
		}
	}

	s.register(sub)
	s.wg.Add(2)
	go s.writePump(sub)
	go s.readPump(sub)
}

func (s *Service) writePump(sub *subscriber) {
	defer s.wg.Done()
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	defer s.unregister(sub)

	for {
		select {
		case msg := <-sub.send:
			sub.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := sub.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			sub.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := sub.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-s.ctx.Done():
			sub.conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = sub.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "booth shutting down"))
			return
		}
	}
}

// readPump exists to notice the peer going away; the UI never sends data.
func (s *Service) readPump(sub *subscriber) {
	defer s.wg.Done()
	defer s.unregister(sub)

	sub.conn.SetReadLimit(maxMessageSize)
	sub.conn.SetReadDeadline(time.Now().Add(pongWait))
	sub.conn.SetPongHandler(func(string) error {
		sub.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	for {
		if _, _, err := sub.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}
