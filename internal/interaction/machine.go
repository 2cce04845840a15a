// Package interaction owns the visitor state machine: one visit at a time,
// one pending turn at a time, every decision made on a single goroutine.
// Detection, speech, listen and capture events arrive over the bus; the
// machine answers with speech requests, listen requests, capture
// confirmations and a render projection after every transition.
package interaction

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/boothworks/booth-core/internal/config"
	"github.com/boothworks/booth-core/internal/phrases"
	"github.com/boothworks/booth-core/internal/protocol"
	"github.com/boothworks/booth-core/internal/vision"
)

// State is where the booth sits in the visitor conversation. The zero value
// is Idle, the only state in which the detection poller runs.
type State int

const (
	StateIdle State = iota
	StateGreeting
	StateListening
	StateAwaitingCapture
	StateFarewell
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateGreeting:
		return "greeting"
	case StateListening:
		return "listening"
	case StateAwaitingCapture:
		return "awaiting_capture"
	case StateFarewell:
		return "farewell"
	default:
		return "unknown"
	}
}

// Visit outcomes recorded on the per-visit span and the closing log line.
const (
	outcomeCaptured     = "captured"
	outcomeDeclined     = "declined"
	outcomeUnrecognized = "unrecognized"
	outcomeError        = "error"
	outcomeTimeout      = "timeout"
	outcomeShutdown     = "shutdown"
)

// event is the machine's internal message union; everything that can change
// state funnels through one channel and one goroutine.
type event interface{ isEvent() }

type detectionMsg struct{ protocol.DetectionEvent }
type speechDoneMsg struct{ protocol.SpeechDone }
type listenResultMsg struct{ protocol.ListenResult }
type captureMsg struct{ protocol.CaptureRequest }
type turnTimeoutMsg struct{ gen uint64 }
type awaitTimeoutMsg struct{ gen uint64 }

func (detectionMsg) isEvent()    {}
func (speechDoneMsg) isEvent()   {}
func (listenResultMsg) isEvent() {}
func (captureMsg) isEvent()      {}
func (turnTimeoutMsg) isEvent()  {}
func (awaitTimeoutMsg) isEvent() {}

// Machine runs the conversation. All fields below the channel are owned by
// the loop goroutine; State, Idle and Snapshot are the only concurrent reads
// and go through an atomic and a mutex respectively.
type Machine struct {
	cfg     config.InteractionConfig
	catalog phrases.Catalog
	publish protocol.Publisher
	log     *slog.Logger

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	events  chan event
	state   atomic.Int32
	running atomic.Bool

	visitID     string
	visitCount  int
	visitSpan   trace.Span
	boxes       []protocol.RelativeBox
	outcome     string
	pendingTurn string

	turnGen    uint64
	turnTimer  *time.Timer
	awaitGen   uint64
	awaitTimer *time.Timer

	mu         sync.Mutex
	lastUpdate protocol.StateUpdate

	tracer  trace.Tracer
	metrics machineMetrics
}

type machineMetrics struct {
	visits          metric.Int64Counter
	transitions     metric.Int64Counter
	captures        metric.Int64Counter
	capturesIgnored metric.Int64Counter
	turnTimeouts    metric.Int64Counter
	awaitTimeouts   metric.Int64Counter
}

func newMachineMetrics(log *slog.Logger) machineMetrics {
	meter := otel.Meter("booth.interaction")
	var m machineMetrics
	var err error
	if m.visits, err = meter.Int64Counter("booth.visits"); err != nil {
		log.Warn("failed to register interaction metric", slogError(err))
	}
	if m.transitions, err = meter.Int64Counter("booth.state.transitions"); err != nil {
		log.Warn("failed to register interaction metric", slogError(err))
	}
	if m.captures, err = meter.Int64Counter("booth.captures.confirmed"); err != nil {
		log.Warn("failed to register interaction metric", slogError(err))
	}
	if m.capturesIgnored, err = meter.Int64Counter("booth.captures.ignored"); err != nil {
		log.Warn("failed to register interaction metric", slogError(err))
	}
	if m.turnTimeouts, err = meter.Int64Counter("booth.turn_timeouts"); err != nil {
		log.Warn("failed to register interaction metric", slogError(err))
	}
	if m.awaitTimeouts, err = meter.Int64Counter("booth.capture_window_timeouts"); err != nil {
		log.Warn("failed to register interaction metric", slogError(err))
	}
	return m
}

func (mm machineMetrics) add(ctx context.Context, c metric.Int64Counter, n int64, opts ...metric.AddOption) {
	if c != nil {
		c.Add(ctx, n, opts...)
	}
}

func newMachine(parent context.Context, cfg config.InteractionConfig, catalog phrases.Catalog, publish protocol.Publisher, log *slog.Logger) *Machine {
	ctx, cancel := context.WithCancel(parent)
	return &Machine{
		cfg:     cfg,
		catalog: catalog,
		publish: publish,
		log:     log.With(slog.String("component", "interaction")),
		ctx:     ctx,
		cancel:  cancel,
		events:  make(chan event, 64),
		tracer:  otel.Tracer("booth.interaction"),
		metrics: newMachineMetrics(log),
	}
}

// Start publishes the initial idle projection and launches the event loop.
func (m *Machine) Start() {
	m.publishState()
	m.running.Store(true)
	m.wg.Add(1)
	go m.loop()
	m.log.Info("interaction machine started",
		slog.Int("turn_timeout_ms", m.cfg.TurnTimeoutMS),
		slog.Int("await_capture_timeout_ms", m.cfg.AwaitCaptureTimeoutMS))
}

// Close stops the loop and ends any live visit span. Safe to call twice.
func (m *Machine) Close() {
	m.cancel()
	m.wg.Wait()
	if m.turnTimer != nil {
		m.turnTimer.Stop()
	}
	if m.awaitTimer != nil {
		m.awaitTimer.Stop()
	}
	if m.visitSpan != nil {
		m.visitSpan.SetAttributes(attribute.String("booth.outcome", outcomeShutdown))
		m.visitSpan.End()
		m.visitSpan = nil
	}
	m.running.Store(false)
}

func (m *Machine) Healthy() bool { return m.running.Load() }

// State reports the current conversation state.
func (m *Machine) State() State { return State(m.state.Load()) }

// Idle is the detection poller's gate: polling happens only between visits.
func (m *Machine) Idle() bool { return m.State() == StateIdle }

// Snapshot returns the last published render projection.
func (m *Machine) Snapshot() protocol.StateUpdate {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastUpdate
}

// post hands an event to the loop. Blocks until the loop takes it or the
// machine shuts down, so bus handlers apply natural backpressure instead of
// dropping conversation events.
func (m *Machine) post(ev event) {
	select {
	case m.events <- ev:
	case <-m.ctx.Done():
	}
}

func (m *Machine) loop() {
	defer m.wg.Done()
	for {
		select {
		case <-m.ctx.Done():
			return
		case ev := <-m.events:
			m.step(ev)
		}
	}
}

// step applies one event. Only the loop goroutine (and white-box tests)
// calls it.
func (m *Machine) step(ev event) {
	switch ev := ev.(type) {
	case detectionMsg:
		m.onDetection(ev.DetectionEvent)
	case speechDoneMsg:
		m.onSpeechDone(ev.SpeechDone)
	case listenResultMsg:
		m.onListenResult(ev.ListenResult)
	case captureMsg:
		m.onCapture(ev.CaptureRequest)
	case turnTimeoutMsg:
		m.onTurnTimeout(ev.gen)
	case awaitTimeoutMsg:
		m.onAwaitTimeout(ev.gen)
	}
}

// onDetection starts a visit on the first positive verdict while idle.
// Anything arriving mid-visit raced the poller gate and is stale.
func (m *Machine) onDetection(ev protocol.DetectionEvent) {
	if m.State() != StateIdle {
		return
	}
	if !ev.Present {
		return
	}

	m.visitID = uuid.NewString()
	m.boxes = vision.Normalize(ev.Boxes, ev.FrameWidth, ev.FrameHeight)
	m.outcome = outcomeError
	_, m.visitSpan = m.tracer.Start(m.ctx, "visit",
		trace.WithAttributes(attribute.String("booth.visit_id", m.visitID)))
	n := m.visitCount
	m.visitCount++
	m.metrics.add(m.ctx, m.metrics.visits, 1)
	m.log.Info("visitor detected, starting visit",
		slog.String("visit_id", m.visitID),
		slog.Int("faces", len(ev.Boxes)))

	m.transition(StateGreeting)
	m.say(m.catalog.Greeting(n))
}

// onSpeechDone advances whichever state was waiting on the utterance. A
// failed turn advances exactly like a successful one: a mute booth must
// still walk visitors through the flow.
func (m *Machine) onSpeechDone(done protocol.SpeechDone) {
	if done.TurnID == "" || done.TurnID != m.pendingTurn {
		m.log.Debug("ignoring stale speech done", slog.String("turn_id", done.TurnID))
		return
	}
	m.pendingTurn = ""
	m.disarmTurnTimer()
	if !done.OK {
		m.log.Warn("speech turn failed, continuing", slog.String("error", done.Error))
	}

	switch m.State() {
	case StateGreeting:
		m.transition(StateListening)
		m.listen()
	case StateAwaitingCapture:
		// instructions finished; the capture window stays open
	case StateFarewell:
		m.endVisit()
	default:
		m.log.Warn("speech done in unexpected state", slog.String("state", m.State().String()))
	}
}

// onListenResult classifies the visitor's reply. Errors and unrecognized
// replies both end in a polite farewell; the shutter arms only on a clear
// yes.
func (m *Machine) onListenResult(result protocol.ListenResult) {
	if m.State() != StateListening || result.TurnID != m.pendingTurn {
		m.log.Debug("ignoring stale listen result", slog.String("turn_id", result.TurnID))
		return
	}
	m.pendingTurn = ""
	m.disarmTurnTimer()

	if result.Error != "" {
		m.log.Warn("listen turn failed", slog.String("error", result.Error))
		m.farewell(m.catalog.ThanksDecline, outcomeError)
		return
	}

	reply := m.catalog.Classify(result.Transcript)
	m.log.Info("visitor replied",
		slog.String("transcript", result.Transcript),
		slog.String("reply", reply.String()))

	switch reply {
	case phrases.ReplyAffirmative:
		m.transition(StateAwaitingCapture)
		m.say(m.catalog.Instructions)
		m.armAwaitTimer()
	case phrases.ReplyNegative:
		m.farewell(m.catalog.ThanksDecline, outcomeDeclined)
	default:
		m.farewell(m.catalog.ThanksDecline, outcomeUnrecognized)
	}
}

// onCapture confirms the shutter press, but only while the machine is
// actually awaiting one; everything else is a stray press and is dropped.
func (m *Machine) onCapture(req protocol.CaptureRequest) {
	if m.State() != StateAwaitingCapture {
		m.metrics.add(m.ctx, m.metrics.capturesIgnored, 1)
		m.log.Info("capture request ignored",
			slog.String("state", m.State().String()),
			slog.String("source", req.Source))
		return
	}

	confirmed := protocol.CaptureConfirmed{
		CaptureID: uuid.NewString(),
		VisitID:   m.visitID,
		Timestamp: time.Now().UTC(),
	}
	m.metrics.add(m.ctx, m.metrics.captures, 1)
	m.log.Info("capture confirmed",
		slog.String("capture_id", confirmed.CaptureID),
		slog.String("visit_id", confirmed.VisitID))
	m.publishJSON(protocol.SubjectCaptureConfirmed, confirmed, "capture confirmation")
	m.farewell(m.catalog.ThanksCapture, outcomeCaptured)
}

// onTurnTimeout is the backstop for a speech or listen service that never
// reported back: the machine advances as if the turn had completed.
func (m *Machine) onTurnTimeout(gen uint64) {
	if gen != m.turnGen || m.pendingTurn == "" {
		return
	}
	m.metrics.add(m.ctx, m.metrics.turnTimeouts, 1)
	m.log.Warn("turn guard expired, advancing",
		slog.String("state", m.State().String()),
		slog.String("turn_id", m.pendingTurn))
	m.pendingTurn = ""

	switch m.State() {
	case StateGreeting:
		m.transition(StateListening)
		m.listen()
	case StateListening:
		m.farewell(m.catalog.ThanksDecline, outcomeTimeout)
	case StateAwaitingCapture:
		// the capture window has its own guard
	case StateFarewell:
		m.endVisit()
	}
}

// onAwaitTimeout closes a capture window nobody used.
func (m *Machine) onAwaitTimeout(gen uint64) {
	if gen != m.awaitGen || m.State() != StateAwaitingCapture {
		return
	}
	m.metrics.add(m.ctx, m.metrics.awaitTimeouts, 1)
	m.log.Info("capture window expired", slog.String("visit_id", m.visitID))
	m.farewell(m.catalog.ThanksDecline, outcomeTimeout)
}

// say requests one utterance and arms the turn guard. The new turn id
// supersedes whatever the speech service was still playing.
func (m *Machine) say(text string) {
	req := protocol.SpeechRequest{
		TurnID:    uuid.NewString(),
		VisitID:   m.visitID,
		Text:      text,
		Timestamp: time.Now().UTC(),
	}
	m.pendingTurn = req.TurnID
	m.armTurnTimer()
	m.publishJSON(protocol.SubjectSpeechSay, req, "speech request")
	m.log.Info("speaking", slog.String("turn_id", req.TurnID), slog.String("text", text))
}

// listen requests one utterance from the visitor. Duration is left to the
// listen service's configured default.
func (m *Machine) listen() {
	req := protocol.ListenRequest{
		TurnID:    uuid.NewString(),
		VisitID:   m.visitID,
		Timestamp: time.Now().UTC(),
	}
	m.pendingTurn = req.TurnID
	m.armTurnTimer()
	m.publishJSON(protocol.SubjectListenStart, req, "listen request")
	m.log.Info("listening for reply", slog.String("turn_id", req.TurnID))
}

func (m *Machine) farewell(line, outcome string) {
	m.outcome = outcome
	m.disarmAwaitTimer()
	m.transition(StateFarewell)
	m.say(line)
}

// endVisit returns the booth to idle: span closed, projection cleared,
// polling resumes via the gate.
func (m *Machine) endVisit() {
	if m.visitSpan != nil {
		m.visitSpan.SetAttributes(attribute.String("booth.outcome", m.outcome))
		m.visitSpan.End()
		m.visitSpan = nil
	}
	m.log.Info("visit finished",
		slog.String("visit_id", m.visitID),
		slog.String("outcome", m.outcome))
	m.visitID = ""
	m.boxes = nil
	m.outcome = ""
	m.pendingTurn = ""
	m.disarmTurnTimer()
	m.disarmAwaitTimer()
	m.transition(StateIdle)
}

func (m *Machine) transition(to State) {
	from := m.State()
	if from == to {
		return
	}
	m.state.Store(int32(to))
	m.metrics.add(m.ctx, m.metrics.transitions, 1, metric.WithAttributes(
		attribute.String("from", from.String()),
		attribute.String("to", to.String())))
	m.log.Info("state changed",
		slog.String("from", from.String()),
		slog.String("to", to.String()),
		slog.String("visit_id", m.visitID))
	m.publishState()
}

// publishState refreshes the snapshot and pushes the projection to the bus.
// The capture control is visible exactly while a capture is awaited.
func (m *Machine) publishState() {
	update := protocol.StateUpdate{
		State:          m.State().String(),
		VisitID:        m.visitID,
		Boxes:          m.boxes,
		CaptureVisible: m.State() == StateAwaitingCapture,
		ChangedAt:      time.Now().UTC(),
	}
	m.mu.Lock()
	m.lastUpdate = update
	m.mu.Unlock()
	m.publishJSON(protocol.SubjectStateChanged, update, "state update")
}

func (m *Machine) publishJSON(subject string, v any, what string) {
	data, err := json.Marshal(v)
	if err != nil {
		m.log.Error("failed to marshal "+what, slogError(err))
		return
	}
	if err := m.publish.Publish(subject, data); err != nil {
		m.log.Warn("failed to publish "+what, slogError(err))
	}
}

// armTurnTimer (re)arms the pending-turn guard. The generation token makes
// a timer that fires after its turn already resolved a no-op.
func (m *Machine) armTurnTimer() {
	m.turnGen++
	gen := m.turnGen
	if m.turnTimer != nil {
		m.turnTimer.Stop()
	}
	d := time.Duration(m.cfg.TurnTimeoutMS) * time.Millisecond
	m.turnTimer = time.AfterFunc(d, func() { m.post(turnTimeoutMsg{gen: gen}) })
}

func (m *Machine) disarmTurnTimer() {
	m.turnGen++
	if m.turnTimer != nil {
		m.turnTimer.Stop()
		m.turnTimer = nil
	}
}

// armAwaitTimer bounds the capture window. A zero timeout leaves the window
// open until the visitor acts.
func (m *Machine) armAwaitTimer() {
	if m.cfg.AwaitCaptureTimeoutMS <= 0 {
		return
	}
	m.awaitGen++
	gen := m.awaitGen
	if m.awaitTimer != nil {
		m.awaitTimer.Stop()
	}
	d := time.Duration(m.cfg.AwaitCaptureTimeoutMS) * time.Millisecond
	m.awaitTimer = time.AfterFunc(d, func() { m.post(awaitTimeoutMsg{gen: gen}) })
}

func (m *Machine) disarmAwaitTimer() {
	m.awaitGen++
	if m.awaitTimer != nil {
		m.awaitTimer.Stop()
		m.awaitTimer = nil
	}
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
