// Package webhook posts the run summary to a generic chat webhook.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/fgeck/couchdb-backup/internal/models"
	"github.com/rs/zerolog"
)

// Service defines the interface for webhook notification operations.
type Service interface {
	SendNotification(ctx context.Context, cfg models.WebhookConfig, text string) (*models.NotificationResult, error)
}

// HTTPClient allows mocking HTTP requests.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Impl implements the webhook Service interface.
type Impl struct {
	httpClient HTTPClient
	logger     zerolog.Logger
}

// New creates a new webhook service.
func New(logger zerolog.Logger) *Impl {
	return &Impl{
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		logger: logger,
	}
}

// NewWithClient creates a new webhook service with a custom HTTP client (for testing).
func NewWithClient(logger zerolog.Logger, httpClient HTTPClient) *Impl {
	return &Impl{
		httpClient: httpClient,
		logger:     logger,
	}
}

type payload struct {
	Text string `json:"text"`
}

// SendNotification POSTs {"text": text} to the configured URL. Any 2xx status is a
// successful delivery; other outcomes are reported through the result.
func (s *Impl) SendNotification(ctx context.Context, cfg models.WebhookConfig, text string) (*models.NotificationResult, error) {
	result := &models.NotificationResult{}

	s.logger.Info().Msg("sending webhook notification")

	body, err := json.Marshal(payload{Text: text})
	if err != nil {
		result.Error = fmt.Errorf("%w: failed to marshal payload: %w", models.ErrNotification, err)
		return result, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, cfg.URL, bytes.NewReader(body))
	if err != nil {
		result.Error = fmt.Errorf("%w: failed to create request: %w", models.ErrNotification, err)
		return result, nil
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		result.Error = fmt.Errorf("%w: failed to send webhook: %w", models.ErrNotification, err)
		return result, nil
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		result.Error = fmt.Errorf("%w: webhook returned status %d: %s",
			models.ErrNotification, resp.StatusCode, bytes.TrimSpace(respBody))
		return result, nil
	}

	result.MessageSent = true
	s.logger.Info().Int("status", resp.StatusCode).Msg("webhook notification sent successfully")

	return result, nil
}
