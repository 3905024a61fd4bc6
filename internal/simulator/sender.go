package simulator

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/xerrors"

	"github.com/PratikDhanave/wheel-activity-tracker/internal/models"
)

// HTTPSender posts events to a tracker's /events endpoint.
type HTTPSender struct {
	url    string
	apiKey string
	client *http.Client
}

func NewHTTPSender(baseURL, apiKey string, timeout time.Duration) *HTTPSender {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &HTTPSender{
		url:    strings.TrimRight(baseURL, "/") + "/events",
		apiKey: apiKey,
		client: &http.Client{Timeout: timeout},
	}
}

func (s *HTTPSender) Send(ctx context.Context, sensorID string, ev models.Event) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return xerrors.Errorf("marshal event: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return xerrors.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-API-Key", s.apiKey)
	req.Header.Set("X-Sensor-Id", sensorID)

	resp, err := s.client.Do(req)
	if err != nil {
		return xerrors.Errorf("post event: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusAccepted {
		return xerrors.Errorf("post event: unexpected status %d", resp.StatusCode)
	}
	return nil
}

// Close releases idle connections.
func (s *HTTPSender) Close() {
	s.client.CloseIdleConnections()
}
