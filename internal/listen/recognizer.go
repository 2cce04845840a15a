package listen

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"sync"

	shellwords "github.com/mattn/go-shellwords"

	"github.com/boothworks/booth-core/internal/config"
	"github.com/boothworks/booth-core/internal/wavio"
)

// TranscriptResult captures recognizer output for one utterance.
type TranscriptResult struct {
	Text       string
	Confidence float64
}

// Recognizer abstracts the speech-to-text backend. The booth transcribes
// whole utterances; there are no partial results.
type Recognizer interface {
	Transcribe(ctx context.Context, pcm []byte, sampleRate, channels int) (TranscriptResult, error)
}

type execRecognizer struct {
	cmd []string
	cfg config.ListenConfig
	mu  sync.Mutex
}

type execResult struct {
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
}

// NewExecRecognizer shells out to a whisper-style CLI: WAV in via --audio,
// JSON result on stdout.
func NewExecRecognizer(cfg config.ListenConfig) (Recognizer, error) {
	parser := shellwords.NewParser()
	args, err := parser.Parse(cfg.Command)
	if err != nil {
		return nil, fmt.Errorf("parse recognizer command: %w", err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("recognizer command is empty")
	}
	return &execRecognizer{cmd: args, cfg: cfg}, nil
}

func (r *execRecognizer) Transcribe(ctx context.Context, pcm []byte, sampleRate, channels int) (TranscriptResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(pcm)%2 != 0 {
		return TranscriptResult{}, fmt.Errorf("pcm payload not aligned")
	}

	file, err := os.CreateTemp("", "booth_listen_*.wav")
	if err != nil {
		return TranscriptResult{}, fmt.Errorf("temp file: %w", err)
	}
	path := file.Name()
	file.Close()
	defer os.Remove(path)

	if err := wavio.WriteFile(path, pcm, sampleRate, channels); err != nil {
		return TranscriptResult{}, err
	}

	cmdArgs := append([]string{}, r.cmd[1:]...)
	cmdArgs = append(cmdArgs, "--audio", path)
	if r.cfg.ModelPath != "" {
		cmdArgs = append(cmdArgs, "--model", r.cfg.ModelPath)
	}
	if r.cfg.Language != "" {
		cmdArgs = append(cmdArgs, "--language", r.cfg.Language)
	}

	command := exec.CommandContext(ctx, r.cmd[0], cmdArgs...)
	var stdout bytes.Buffer
	var stderr bytes.Buffer
	command.Stdout = &stdout
	command.Stderr = &stderr

	if err := command.Run(); err != nil {
		return TranscriptResult{}, fmt.Errorf("recognizer command failed: %w: %s", err, stderr.String())
	}

	var resp execResult
	if err := json.Unmarshal(stdout.Bytes(), &resp); err != nil {
		return TranscriptResult{}, fmt.Errorf("decode recognizer response: %w", err)
	}
	return TranscriptResult{Text: resp.Text, Confidence: resp.Confidence}, nil
}

type mockRecognizer struct {
	transcript string
}

// NewMockRecognizer answers every utterance with a fixed transcript,
// steering the conversation deterministically on dev boxes.
func NewMockRecognizer(transcript string) Recognizer {
	return &mockRecognizer{transcript: transcript}
}

func (m *mockRecognizer) Transcribe(_ context.Context, _ []byte, _ int, _ int) (TranscriptResult, error) {
	return TranscriptResult{Text: m.transcript, Confidence: 1}, nil
}
