package speech

import (
	"context"
	"time"
)

// mockSynth emits one chunk of silence roughly the configured chunk length,
// so the rest of the pipeline (player, done event) behaves as if a real
// voice had spoken.
type mockSynth struct {
	sampleRate int
	channels   int
	chunkDur   time.Duration
}

func NewMockSynth(sampleRate, channels, chunkDurationMS int) Synthesizer {
	if chunkDurationMS <= 0 {
		chunkDurationMS = 300
	}
	return &mockSynth{
		sampleRate: sampleRate,
		channels:   channels,
		chunkDur:   time.Duration(chunkDurationMS) * time.Millisecond,
	}
}

func (m *mockSynth) Synthesize(ctx context.Context, req SynthRequest) (<-chan SynthChunk, <-chan error) {
	chunks := make(chan SynthChunk, 1)
	errs := make(chan error, 1)
	go func() {
		defer close(chunks)
		defer close(errs)
		select {
		case <-ctx.Done():
			errs <- ctx.Err()
			return
		case <-time.After(m.chunkDur / 4):
		}
		samples := int(m.chunkDur.Seconds() * float64(m.sampleRate) * float64(m.channels))
		chunks <- SynthChunk{
			TurnID:     req.TurnID,
			Sequence:   0,
			SampleRate: m.sampleRate,
			Channels:   m.channels,
			PCM:        make([]byte, samples*2), // 16-bit silence
			Final:      true,
		}
	}()
	return chunks, errs
}
