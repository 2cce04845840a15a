package protocol

import "time"

// Box is a face bounding box in frame pixel coordinates.
type Box struct {
	X      int     `json:"x"`
	Y      int     `json:"y"`
	Width  int     `json:"width"`
	Height int     `json:"height"`
	Score  float64 `json:"score,omitempty"`
}

// RelativeBox is a bounding box normalized to [0,1] of the frame, the
// shape the presentation overlay consumes regardless of camera resolution.
type RelativeBox struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// DetectionEvent is the poller's per-tick verdict. Present is true when at
// least one face cleared the score threshold. Boxes are ephemeral and never
// persisted.
type DetectionEvent struct {
	Present     bool      `json:"present"`
	Boxes       []Box     `json:"boxes,omitempty"`
	FrameWidth  int       `json:"frame_width"`
	FrameHeight int       `json:"frame_height"`
	Timestamp   time.Time `json:"timestamp"`
}

// SpeechRequest asks the speech output service to say one utterance.
// TurnID ties the eventual SpeechDone back to the requesting turn.
type SpeechRequest struct {
	TurnID    string    `json:"turn_id"`
	VisitID   string    `json:"visit_id"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// SpeechDone signals that an utterance finished playing (or was skipped
// because no output device is available). It is published exactly once per
// request that was not superseded.
type SpeechDone struct {
	TurnID    string    `json:"turn_id"`
	VisitID   string    `json:"visit_id"`
	OK        bool      `json:"ok"`
	Error     string    `json:"error,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// ListenRequest asks the speech input service for one utterance. A new
// request aborts any session still in flight.
type ListenRequest struct {
	TurnID        string    `json:"turn_id"`
	VisitID       string    `json:"visit_id"`
	MaxDurationMS int       `json:"max_duration_ms,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
}

// ListenResult carries the transcript for a listen turn, or the error that
// prevented one. Empty transcript with empty error means silence.
type ListenResult struct {
	TurnID     string    `json:"turn_id"`
	VisitID    string    `json:"visit_id"`
	Transcript string    `json:"transcript"`
	Confidence float64   `json:"confidence,omitempty"`
	Error      string    `json:"error,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// CaptureRequest is the visitor pressing the capture control. Only honored
// while the machine is awaiting a capture; otherwise dropped.
type CaptureRequest struct {
	Source    string    `json:"source,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// CaptureConfirmed is the machine accepting a capture request and assigning
// it an id. The gallery snapshots the frame in response.
type CaptureConfirmed struct {
	CaptureID string    `json:"capture_id"`
	VisitID   string    `json:"visit_id"`
	Timestamp time.Time `json:"timestamp"`
}

// CaptureSaved reports the outcome of a confirmed capture.
type CaptureSaved struct {
	CaptureID string    `json:"capture_id"`
	VisitID   string    `json:"visit_id"`
	Path      string    `json:"path,omitempty"`
	ThumbPath string    `json:"thumb_path,omitempty"`
	Error     string    `json:"error,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// StateUpdate is the render projection published after every transition:
// everything the presentation layer needs, nothing it doesn't.
type StateUpdate struct {
	State          string        `json:"state"`
	VisitID        string        `json:"visit_id,omitempty"`
	Boxes          []RelativeBox `json:"boxes,omitempty"`
	CaptureVisible bool          `json:"capture_visible"`
	ChangedAt      time.Time     `json:"changed_at"`
}

const (
	SubjectDetectionEvent   = "booth.detection.event"
	SubjectSpeechSay        = "booth.speech.say"
	SubjectSpeechDone       = "booth.speech.done"
	SubjectListenStart      = "booth.listen.start"
	SubjectListenResult     = "booth.listen.result"
	SubjectCaptureRequest   = "booth.capture.request"
	SubjectCaptureConfirmed = "booth.capture.confirmed"
	SubjectCaptureSaved     = "booth.capture.saved"
	SubjectStateChanged     = "booth.state.changed"
)

// Publisher is the outbound half of the bus as services see it; satisfied
// by bus.Client and by recording fakes in tests.
type Publisher interface {
	Publish(subject string, data []byte) error
}
