package interaction

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/boothworks/booth-core/internal/config"
	"github.com/boothworks/booth-core/internal/phrases"
	"github.com/boothworks/booth-core/internal/protocol"
)

type recordingPublisher struct {
	mu       sync.Mutex
	subjects []string
	payloads [][]byte
}

func (r *recordingPublisher) Publish(subject string, data []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.subjects = append(r.subjects, subject)
	r.payloads = append(r.payloads, data)
	return nil
}

// says returns every speech request published so far, oldest first.
func (r *recordingPublisher) says(t *testing.T) []protocol.SpeechRequest {
	t.Helper()
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []protocol.SpeechRequest
	for i, subj := range r.subjects {
		if subj != protocol.SubjectSpeechSay {
			continue
		}
		var req protocol.SpeechRequest
		if err := json.Unmarshal(r.payloads[i], &req); err != nil {
			t.Fatalf("unmarshal speech request: %v", err)
		}
		out = append(out, req)
	}
	return out
}

func (r *recordingPublisher) listens(t *testing.T) []protocol.ListenRequest {
	t.Helper()
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []protocol.ListenRequest
	for i, subj := range r.subjects {
		if subj != protocol.SubjectListenStart {
			continue
		}
		var req protocol.ListenRequest
		if err := json.Unmarshal(r.payloads[i], &req); err != nil {
			t.Fatalf("unmarshal listen request: %v", err)
		}
		out = append(out, req)
	}
	return out
}

func (r *recordingPublisher) confirms(t *testing.T) []protocol.CaptureConfirmed {
	t.Helper()
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []protocol.CaptureConfirmed
	for i, subj := range r.subjects {
		if subj != protocol.SubjectCaptureConfirmed {
			continue
		}
		var c protocol.CaptureConfirmed
		if err := json.Unmarshal(r.payloads[i], &c); err != nil {
			t.Fatalf("unmarshal capture confirmation: %v", err)
		}
		out = append(out, c)
	}
	return out
}

func (r *recordingPublisher) states(t *testing.T) []protocol.StateUpdate {
	t.Helper()
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []protocol.StateUpdate
	for i, subj := range r.subjects {
		if subj != protocol.SubjectStateChanged {
			continue
		}
		var u protocol.StateUpdate
		if err := json.Unmarshal(r.payloads[i], &u); err != nil {
			t.Fatalf("unmarshal state update: %v", err)
		}
		out = append(out, u)
	}
	return out
}

func lastSay(t *testing.T, pub *recordingPublisher) protocol.SpeechRequest {
	t.Helper()
	says := pub.says(t)
	if len(says) == 0 {
		t.Fatal("no speech request published")
	}
	return says[len(says)-1]
}

func lastListen(t *testing.T, pub *recordingPublisher) protocol.ListenRequest {
	t.Helper()
	listens := pub.listens(t)
	if len(listens) == 0 {
		t.Fatal("no listen request published")
	}
	return listens[len(listens)-1]
}

func lastState(t *testing.T, pub *recordingPublisher) protocol.StateUpdate {
	t.Helper()
	states := pub.states(t)
	if len(states) == 0 {
		t.Fatal("no state update published")
	}
	return states[len(states)-1]
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition never held")
		}
		time.Sleep(time.Millisecond)
	}
}

func newTestMachine(t *testing.T) (*Machine, *recordingPublisher) {
	t.Helper()
	pub := &recordingPublisher{}
	cfg := config.InteractionConfig{TurnTimeoutMS: 30000, AwaitCaptureTimeoutMS: 60000}
	m := newMachine(context.Background(), cfg, phrases.Default(), pub,
		slog.New(slog.NewTextHandler(io.Discard, nil)))
	t.Cleanup(m.Close)
	return m, pub
}

func presence() protocol.DetectionEvent {
	return protocol.DetectionEvent{
		Present:     true,
		Boxes:       []protocol.Box{{X: 320, Y: 90, Width: 256, Height: 288, Score: 0.93}},
		FrameWidth:  1280,
		FrameHeight: 720,
		Timestamp:   time.Now().UTC(),
	}
}

// toListening walks a fresh machine through greeting into listening and
// returns the listen turn id.
func toListening(t *testing.T, m *Machine, pub *recordingPublisher) string {
	t.Helper()
	m.step(detectionMsg{presence()})
	say := lastSay(t, pub)
	m.step(speechDoneMsg{protocol.SpeechDone{TurnID: say.TurnID, VisitID: say.VisitID, OK: true}})
	if got := m.State(); got != StateListening {
		t.Fatalf("state = %s, want listening", got)
	}
	return lastListen(t, pub).TurnID
}

// toAwaitingCapture continues through an affirmative reply.
func toAwaitingCapture(t *testing.T, m *Machine, pub *recordingPublisher) {
	t.Helper()
	turnID := toListening(t, m, pub)
	m.step(listenResultMsg{protocol.ListenResult{TurnID: turnID, Transcript: "yes please"}})
	if got := m.State(); got != StateAwaitingCapture {
		t.Fatalf("state = %s, want awaiting_capture", got)
	}
}

func TestPresenceStartsGreeting(t *testing.T) {
	m, pub := newTestMachine(t)

	m.step(detectionMsg{presence()})

	if got := m.State(); got != StateGreeting {
		t.Fatalf("state = %s, want greeting", got)
	}
	says := pub.says(t)
	if len(says) != 1 {
		t.Fatalf("speech requests = %d, want 1", len(says))
	}
	if says[0].Text != phrases.Default().Greetings[0] {
		t.Fatalf("greeting text = %q", says[0].Text)
	}
	if says[0].VisitID == "" || says[0].TurnID == "" {
		t.Fatal("greeting missing visit or turn id")
	}

	update := lastState(t, pub)
	if update.State != "greeting" || update.CaptureVisible {
		t.Fatalf("projection = %+v", update)
	}
	if len(update.Boxes) != 1 {
		t.Fatalf("projection boxes = %d, want 1", len(update.Boxes))
	}
	if update.Boxes[0].X <= 0 || update.Boxes[0].X >= 1 {
		t.Fatalf("box not normalized: %+v", update.Boxes[0])
	}

	// further detections mid-visit are stale and must not greet again
	m.step(detectionMsg{presence()})
	if got := len(pub.says(t)); got != 1 {
		t.Fatalf("speech requests after second detection = %d, want 1", got)
	}
}

func TestAbsenceKeepsIdle(t *testing.T) {
	m, pub := newTestMachine(t)

	m.step(detectionMsg{protocol.DetectionEvent{Present: false, FrameWidth: 1280, FrameHeight: 720}})

	if got := m.State(); got != StateIdle {
		t.Fatalf("state = %s, want idle", got)
	}
	if n := len(pub.says(t)) + len(pub.states(t)); n != 0 {
		t.Fatalf("published %d messages from an empty frame", n)
	}
}

func TestGreetingDoneStartsListening(t *testing.T) {
	m, pub := newTestMachine(t)

	m.step(detectionMsg{presence()})
	say := lastSay(t, pub)
	m.step(speechDoneMsg{protocol.SpeechDone{TurnID: say.TurnID, VisitID: say.VisitID, OK: true}})

	if got := m.State(); got != StateListening {
		t.Fatalf("state = %s, want listening", got)
	}
	listen := lastListen(t, pub)
	if listen.VisitID != say.VisitID {
		t.Fatalf("listen visit = %s, want %s", listen.VisitID, say.VisitID)
	}
	if listen.TurnID == say.TurnID {
		t.Fatal("listen turn id must differ from the speech turn")
	}
}

func TestStaleSpeechDoneIgnored(t *testing.T) {
	m, pub := newTestMachine(t)

	m.step(detectionMsg{presence()})
	m.step(speechDoneMsg{protocol.SpeechDone{TurnID: "not-the-pending-turn", OK: true}})

	if got := m.State(); got != StateGreeting {
		t.Fatalf("state = %s, want greeting", got)
	}
	if n := len(pub.listens(t)); n != 0 {
		t.Fatalf("listen requests = %d, want 0", n)
	}
}

func TestFailedSpeechStillAdvances(t *testing.T) {
	m, pub := newTestMachine(t)

	m.step(detectionMsg{presence()})
	say := lastSay(t, pub)
	m.step(speechDoneMsg{protocol.SpeechDone{TurnID: say.TurnID, OK: false, Error: "speech output unavailable"}})

	if got := m.State(); got != StateListening {
		t.Fatalf("state = %s, want listening", got)
	}
}

func TestNonAffirmativeRepliesEndVisit(t *testing.T) {
	cases := []struct {
		name   string
		result protocol.ListenResult
	}{
		{"negative", protocol.ListenResult{Transcript: "no thanks"}},
		{"silence", protocol.ListenResult{Transcript: ""}},
		{"unrecognized", protocol.ListenResult{Transcript: "quel beau temps"}},
		{"error", protocol.ListenResult{Error: "microphone unavailable"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			m, pub := newTestMachine(t)
			turnID := toListening(t, m, pub)

			tc.result.TurnID = turnID
			m.step(listenResultMsg{tc.result})

			if got := m.State(); got != StateFarewell {
				t.Fatalf("state = %s, want farewell", got)
			}
			if got := lastSay(t, pub).Text; got != phrases.Default().ThanksDecline {
				t.Fatalf("farewell text = %q", got)
			}
			if n := len(pub.confirms(t)); n != 0 {
				t.Fatalf("capture confirmations = %d, want 0", n)
			}
		})
	}
}

func TestAffirmativeOpensCaptureWindow(t *testing.T) {
	m, pub := newTestMachine(t)
	turnID := toListening(t, m, pub)

	m.step(listenResultMsg{protocol.ListenResult{TurnID: turnID, Transcript: "Yes, I would love that"}})

	if got := m.State(); got != StateAwaitingCapture {
		t.Fatalf("state = %s, want awaiting_capture", got)
	}
	if got := lastSay(t, pub).Text; got != phrases.Default().Instructions {
		t.Fatalf("instructions text = %q", got)
	}
	update := lastState(t, pub)
	if !update.CaptureVisible {
		t.Fatal("capture control must be visible while awaiting capture")
	}
}

func TestStaleListenResultIgnored(t *testing.T) {
	m, pub := newTestMachine(t)
	toListening(t, m, pub)

	m.step(listenResultMsg{protocol.ListenResult{TurnID: "long-gone-turn", Transcript: "yes"}})

	if got := m.State(); got != StateListening {
		t.Fatalf("state = %s, want listening", got)
	}
	if n := len(pub.confirms(t)); n != 0 {
		t.Fatalf("capture confirmations = %d, want 0", n)
	}
}

func TestCaptureConfirmsAndThanks(t *testing.T) {
	m, pub := newTestMachine(t)
	toAwaitingCapture(t, m, pub)

	m.step(captureMsg{protocol.CaptureRequest{Source: "ui"}})

	confirms := pub.confirms(t)
	if len(confirms) != 1 {
		t.Fatalf("capture confirmations = %d, want 1", len(confirms))
	}
	if confirms[0].CaptureID == "" || confirms[0].VisitID == "" {
		t.Fatalf("confirmation missing ids: %+v", confirms[0])
	}
	if got := m.State(); got != StateFarewell {
		t.Fatalf("state = %s, want farewell", got)
	}
	if got := lastSay(t, pub).Text; got != phrases.Default().ThanksCapture {
		t.Fatalf("farewell text = %q", got)
	}
	if lastState(t, pub).CaptureVisible {
		t.Fatal("capture control must hide once the photo is taken")
	}
}

func TestCaptureIgnoredOutsideWindow(t *testing.T) {
	m, pub := newTestMachine(t)

	m.step(captureMsg{protocol.CaptureRequest{Source: "ui"}})
	if got := m.State(); got != StateIdle {
		t.Fatalf("state after idle capture = %s, want idle", got)
	}

	m.step(detectionMsg{presence()})
	m.step(captureMsg{protocol.CaptureRequest{Source: "ui"}})
	if got := m.State(); got != StateGreeting {
		t.Fatalf("state after greeting capture = %s, want greeting", got)
	}

	if n := len(pub.confirms(t)); n != 0 {
		t.Fatalf("capture confirmations = %d, want 0", n)
	}
}

func TestFarewellDoneResetsForNextVisit(t *testing.T) {
	m, pub := newTestMachine(t)
	turnID := toListening(t, m, pub)
	firstVisit := lastListen(t, pub).VisitID

	m.step(listenResultMsg{protocol.ListenResult{TurnID: turnID, Transcript: "nope"}})
	bye := lastSay(t, pub)
	m.step(speechDoneMsg{protocol.SpeechDone{TurnID: bye.TurnID, VisitID: bye.VisitID, OK: true}})

	if got := m.State(); got != StateIdle {
		t.Fatalf("state = %s, want idle", got)
	}
	update := lastState(t, pub)
	if update.State != "idle" || update.VisitID != "" || len(update.Boxes) != 0 || update.CaptureVisible {
		t.Fatalf("idle projection not cleared: %+v", update)
	}

	// the next visitor gets a fresh visit and the next greeting variant
	m.step(detectionMsg{presence()})
	say := lastSay(t, pub)
	if say.VisitID == firstVisit {
		t.Fatal("second visit reused the first visit id")
	}
	if say.Text != phrases.Default().Greetings[1] {
		t.Fatalf("second greeting = %q, want rotation", say.Text)
	}
}

func TestHappyPathEndToEnd(t *testing.T) {
	m, pub := newTestMachine(t)

	m.step(detectionMsg{presence()})
	greet := lastSay(t, pub)
	m.step(speechDoneMsg{protocol.SpeechDone{TurnID: greet.TurnID, OK: true}})
	listen := lastListen(t, pub)
	m.step(listenResultMsg{protocol.ListenResult{TurnID: listen.TurnID, Transcript: "sure!"}})
	instructions := lastSay(t, pub)
	m.step(speechDoneMsg{protocol.SpeechDone{TurnID: instructions.TurnID, OK: true}})
	if got := m.State(); got != StateAwaitingCapture {
		t.Fatalf("instructions done must not leave awaiting_capture, got %s", got)
	}
	m.step(captureMsg{protocol.CaptureRequest{Source: "ui"}})
	thanks := lastSay(t, pub)
	m.step(speechDoneMsg{protocol.SpeechDone{TurnID: thanks.TurnID, OK: true}})

	var sequence []string
	for _, u := range pub.states(t) {
		sequence = append(sequence, u.State)
	}
	want := []string{"greeting", "listening", "awaiting_capture", "farewell", "idle"}
	if len(sequence) != len(want) {
		t.Fatalf("state sequence = %v, want %v", sequence, want)
	}
	for i := range want {
		if sequence[i] != want[i] {
			t.Fatalf("state sequence = %v, want %v", sequence, want)
		}
	}
	if n := len(pub.confirms(t)); n != 1 {
		t.Fatalf("capture confirmations = %d, want 1", n)
	}
}

// TestTurnGuardAdvancesStalledTurns walks a visit where speech and listen
// never report back: the guard alone must carry the machine to idle.
func TestTurnGuardAdvancesStalledTurns(t *testing.T) {
	m, pub := newTestMachine(t)

	m.step(detectionMsg{presence()})
	m.step(turnTimeoutMsg{gen: m.turnGen})
	if got := m.State(); got != StateListening {
		t.Fatalf("state after greeting stall = %s, want listening", got)
	}
	if n := len(pub.listens(t)); n != 1 {
		t.Fatalf("listen requests = %d, want 1", n)
	}

	m.step(turnTimeoutMsg{gen: m.turnGen})
	if got := m.State(); got != StateFarewell {
		t.Fatalf("state after listen stall = %s, want farewell", got)
	}

	m.step(turnTimeoutMsg{gen: m.turnGen})
	if got := m.State(); got != StateIdle {
		t.Fatalf("state after farewell stall = %s, want idle", got)
	}
}

func TestStaleTurnTimeoutIgnored(t *testing.T) {
	m, pub := newTestMachine(t)

	m.step(detectionMsg{presence()})
	staleGen := m.turnGen
	say := lastSay(t, pub)
	m.step(speechDoneMsg{protocol.SpeechDone{TurnID: say.TurnID, OK: true}})

	m.step(turnTimeoutMsg{gen: staleGen})

	if got := m.State(); got != StateListening {
		t.Fatalf("state = %s, want listening", got)
	}
	if n := len(pub.listens(t)); n != 1 {
		t.Fatalf("listen requests = %d, want 1", n)
	}
}

func TestAwaitTimeoutClosesWindow(t *testing.T) {
	m, pub := newTestMachine(t)
	toAwaitingCapture(t, m, pub)

	gen := m.awaitGen
	m.step(awaitTimeoutMsg{gen: gen})

	if got := m.State(); got != StateFarewell {
		t.Fatalf("state = %s, want farewell", got)
	}
	if got := lastSay(t, pub).Text; got != phrases.Default().ThanksDecline {
		t.Fatalf("farewell text = %q", got)
	}

	// the same timer firing again is stale
	m.step(awaitTimeoutMsg{gen: gen})
	if got := m.State(); got != StateFarewell {
		t.Fatalf("state after stale window timeout = %s, want farewell", got)
	}
}

func TestAwaitTimerDisabledByZeroTimeout(t *testing.T) {
	pub := &recordingPublisher{}
	cfg := config.InteractionConfig{TurnTimeoutMS: 30000, AwaitCaptureTimeoutMS: 0}
	m := newMachine(context.Background(), cfg, phrases.Default(), pub,
		slog.New(slog.NewTextHandler(io.Discard, nil)))
	t.Cleanup(m.Close)

	toAwaitingCapture(t, m, pub)
	if m.awaitTimer != nil {
		t.Fatal("await timer armed despite zero timeout")
	}
}

func TestLoopProcessesPostedEvents(t *testing.T) {
	m, pub := newTestMachine(t)
	m.Start()

	m.post(detectionMsg{presence()})
	waitFor(t, func() bool { return m.State() == StateGreeting })

	waitFor(t, func() bool { return len(pub.says(t)) == 1 })
	if got := m.Snapshot().State; got != "greeting" {
		t.Fatalf("snapshot state = %q, want greeting", got)
	}
	if !m.Healthy() {
		t.Fatal("machine should report healthy while running")
	}
}
