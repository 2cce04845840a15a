package camera

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/boothworks/booth-core/internal/config"
)

// maxFrameBytes bounds a single snapshot read; anything larger than this is
// not a still frame.
const maxFrameBytes = 32 << 20

// httpSource pulls stills from a local snapshot endpoint (IP camera or a
// USB cam gateway on the same box).
type httpSource struct {
	url    string
	client *http.Client
}

func newHTTPSource(cfg config.CameraConfig) (*httpSource, error) {
	return &httpSource{
		url: cfg.SnapshotURL,
		client: &http.Client{
			Timeout: time.Duration(cfg.TimeoutMS) * time.Millisecond,
		},
	}, nil
}

func (s *httpSource) Grab(ctx context.Context) (Frame, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return Frame{}, fmt.Errorf("build snapshot request: %w", err)
	}

	started := time.Now()
	resp, err := s.client.Do(req)
	if err != nil {
		return Frame{}, fmt.Errorf("fetch snapshot: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Frame{}, fmt.Errorf("snapshot endpoint returned %s", resp.Status)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxFrameBytes))
	if err != nil {
		return Frame{}, fmt.Errorf("read snapshot body: %w", err)
	}

	return frameFromEncoded(data, started)
}
