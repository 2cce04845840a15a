package speech

import "context"

// SynthRequest contains parameters to synthesize one utterance.
type SynthRequest struct {
	TurnID string
	Text   string
	Voice  string
}

// SynthChunk contains PCM data.
type SynthChunk struct {
	TurnID     string
	Sequence   int
	SampleRate int
	Channels   int
	PCM        []byte
	Final      bool
}

// Synthesizer is the contract for producing audio.
type Synthesizer interface {
	Synthesize(ctx context.Context, req SynthRequest) (<-chan SynthChunk, <-chan error)
}
