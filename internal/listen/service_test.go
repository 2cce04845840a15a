package listen

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/boothworks/booth-core/internal/config"
	"github.com/boothworks/booth-core/internal/protocol"
)

type stubCapturer struct {
	err   error
	block chan struct{} // when set, first Record call waits for ctx
	calls atomic.Int32
}

func (c *stubCapturer) Record(ctx context.Context, maxDuration time.Duration) ([]byte, int, int, error) {
	if c.calls.Add(1) == 1 && c.block != nil {
		close(c.block)
		<-ctx.Done()
		return nil, 0, 0, ctx.Err()
	}
	if c.err != nil {
		return nil, 0, 0, c.err
	}
	return make([]byte, 3200), 16000, 1, nil
}

type stubRecognizer struct {
	text string
	err  error
}

func (r *stubRecognizer) Transcribe(ctx context.Context, pcm []byte, sampleRate, channels int) (TranscriptResult, error) {
	if r.err != nil {
		return TranscriptResult{}, r.err
	}
	return TranscriptResult{Text: r.text, Confidence: 0.9}, nil
}

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

func (r *recordingPublisher) results(t *testing.T) []protocol.ListenResult {
	t.Helper()
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []protocol.ListenResult
	for i, subj := range r.subjects {
		if subj != protocol.SubjectListenResult {
			continue
		}
		var res protocol.ListenResult
		if err := json.Unmarshal(r.payloads[i], &res); err != nil {
			t.Fatalf("unmarshal result: %v", err)
		}
		out = append(out, res)
	}
	return out
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

func newTestService(t *testing.T, capturer Capturer, recognizer Recognizer, pub protocol.Publisher) *Service {
	t.Helper()
	cfg := config.ListenConfig{Mode: "mock", SampleRate: 16000, Channels: 1, MaxUtteranceMS: 100}
	s := newService(context.Background(), cfg, pub, capturer, recognizer, slog.New(slog.NewTextHandler(io.Discard, nil)))
	t.Cleanup(s.Close)
	return s
}

func TestListenPublishesTranscript(t *testing.T) {
	pub := &recordingPublisher{}
	s := newTestService(t, &stubCapturer{}, &stubRecognizer{text: "yes I would"}, pub)

	s.listen(protocol.ListenRequest{TurnID: "turn-1", VisitID: "visit-1"})
	waitFor(t, func() bool { return len(pub.results(t)) == 1 })

	res := pub.results(t)[0]
	if res.TurnID != "turn-1" || res.VisitID != "visit-1" {
		t.Fatalf("result ids wrong: %+v", res)
	}
	if res.Transcript != "yes I would" || res.Error != "" {
		t.Fatalf("expected clean transcript, got %+v", res)
	}
}

func TestDegradedModeFailsFast(t *testing.T) {
	pub := &recordingPublisher{}
	s := newTestService(t, nil, nil, pub)

	s.listen(protocol.ListenRequest{TurnID: "turn-1"})
	s.listen(protocol.ListenRequest{TurnID: "turn-2"})

	results := pub.results(t)
	if len(results) != 2 {
		t.Fatalf("expected two fast failures, got %d", len(results))
	}
	for _, res := range results {
		if res.Error == "" || res.Transcript != "" {
			t.Fatalf("expected error result, got %+v", res)
		}
	}
}

func TestCaptureErrorProducesErrorResult(t *testing.T) {
	pub := &recordingPublisher{}
	s := newTestService(t, &stubCapturer{err: errors.New("device wedged")}, &stubRecognizer{}, pub)

	s.listen(protocol.ListenRequest{TurnID: "turn-1"})
	waitFor(t, func() bool { return len(pub.results(t)) == 1 })

	res := pub.results(t)[0]
	if res.Error == "" {
		t.Fatalf("expected error on result, got %+v", res)
	}
}

func TestTranscribeErrorProducesErrorResult(t *testing.T) {
	pub := &recordingPublisher{}
	s := newTestService(t, &stubCapturer{}, &stubRecognizer{err: errors.New("model not loaded")}, pub)

	s.listen(protocol.ListenRequest{TurnID: "turn-1"})
	waitFor(t, func() bool { return len(pub.results(t)) == 1 })

	if res := pub.results(t)[0]; res.Error != "model not loaded" {
		t.Fatalf("expected recognizer error, got %+v", res)
	}
}

func TestNewRequestAbortsPriorSession(t *testing.T) {
	pub := &recordingPublisher{}
	capturer := &stubCapturer{block: make(chan struct{})}
	s := newTestService(t, capturer, &stubRecognizer{text: "sure"}, pub)

	s.listen(protocol.ListenRequest{TurnID: "turn-old"})
	select {
	case <-capturer.block:
	case <-time.After(2 * time.Second):
		t.Fatal("first session never started recording")
	}

	s.listen(protocol.ListenRequest{TurnID: "turn-new"})
	waitFor(t, func() bool { return len(pub.results(t)) >= 1 })

	for _, res := range pub.results(t) {
		if res.TurnID == "turn-old" {
			t.Fatalf("aborted session must not publish: %+v", pub.results(t))
		}
	}
	last := pub.results(t)[len(pub.results(t))-1]
	if last.TurnID != "turn-new" || last.Transcript != "sure" {
		t.Fatalf("expected result for the new session, got %+v", last)
	}
}
