package wavio

import (
	"bytes"
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"
)

func TestWriteAndDecodeRoundTrip(t *testing.T) {
	pcm := make([]byte, 256)
	for i := 0; i < len(pcm)/2; i++ {
		binary.LittleEndian.PutUint16(pcm[i*2:], uint16(int16(i*100-6000)))
	}

	path := filepath.Join(t.TempDir(), "turn.wav")
	if err := WriteFile(path, pcm, 16000, 1); err != nil {
		t.Fatalf("write wav: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read wav: %v", err)
	}

	got, rate, channels, err := Decode(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("decode wav: %v", err)
	}
	if rate != 16000 || channels != 1 {
		t.Fatalf("expected 16000/1, got %d/%d", rate, channels)
	}
	if !bytes.Equal(got, pcm) {
		t.Fatal("decoded PCM differs from source")
	}
}

func TestDecodeRejectsGarbage(t *testing.T) {
	if _, _, _, err := Decode(bytes.NewReader([]byte("definitely not audio"))); err == nil {
		t.Fatal("expected error for non-wav input")
	}
}
