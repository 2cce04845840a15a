package vision

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/boothworks/booth-core/internal/camera"
	"github.com/boothworks/booth-core/internal/config"
	"github.com/boothworks/booth-core/internal/protocol"
)

// httpLocator posts frames to a local detector server (InsightFace or
// compatible) as multipart form data and reads scored boxes back.
type httpLocator struct {
	endpoint string
	minScore float64
	client   *http.Client
}

func newHTTPLocator(cfg config.DetectorConfig) (*httpLocator, error) {
	return &httpLocator{
		endpoint: strings.TrimSuffix(cfg.Endpoint, "/"),
		minScore: cfg.MinScore,
		client: &http.Client{
			Timeout: time.Duration(cfg.TimeoutMS) * time.Millisecond,
		},
	}, nil
}

func (l *httpLocator) Locate(ctx context.Context, frame camera.Frame) ([]protocol.Box, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	part, err := writer.CreateFormFile("file", "frame.jpg")
	if err != nil {
		return nil, fmt.Errorf("create form file: %w", err)
	}
	if _, err := part.Write(frame.Data); err != nil {
		return nil, fmt.Errorf("write frame data: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, l.endpoint, &buf)
	if err != nil {
		return nil, fmt.Errorf("create detector request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := l.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("detector request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read detector response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("detector error (status %d): %s", resp.StatusCode, string(body))
	}

	var parsed detectorResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("parse detector response: %w", err)
	}

	return boxesFromResponse(parsed, l.minScore), nil
}
