package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/marinahub/sentinel/internal/models"
)

// WebhookAlertSink forwards escalated alerts to an external HTTP endpoint.
// Delivery is best-effort; callers log and swallow any error it returns.
type WebhookAlertSink struct {
	url    string
	client *http.Client
	logger *slog.Logger
}

// NewWebhookAlertSink creates a new webhook sink. An empty URL yields a sink
// that silently drops alerts.
func NewWebhookAlertSink(url string, logger *slog.Logger) *WebhookAlertSink {
	return &WebhookAlertSink{
		url: url,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
		logger: logger,
	}
}

// Forward posts the alert as JSON
func (s *WebhookAlertSink) Forward(ctx context.Context, alert models.SecurityAlert) error {
	if s.url == "" {
		return nil
	}

	payload, err := json.Marshal(alert)
	if err != nil {
		return fmt.Errorf("failed to encode alert: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("webhook responded with status %d", resp.StatusCode)
	}

	s.logger.Info("alert forwarded to webhook",
		slog.String("alert_type", alert.AlertType),
		slog.String("severity", alert.Severity))
	return nil
}
