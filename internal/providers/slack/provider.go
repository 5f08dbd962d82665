package slack

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/Phillboard/mobul-sub000/internal/config"
	obstracing "github.com/Phillboard/mobul-sub000/internal/observability/tracing"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Provider posts ops alerts. Ledger gaps and vendor failures go through
// this; everything else stays in logs and metrics.
type Provider interface {
	PostMessage(ctx context.Context, channel string, message string) error
}

type NoOpProvider struct{}

func (p *NoOpProvider) PostMessage(ctx context.Context, channel string, message string) error {
	return nil
}

// WebhookProvider posts messages to a Slack incoming webhook.
type WebhookProvider struct {
	webhookURL string
	httpClient *http.Client
	log        *zap.Logger
}

func NewProvider(cfg config.Config, log *zap.Logger) Provider {
	webhookURL := strings.TrimSpace(cfg.Alerts.SlackWebhookURL)
	if webhookURL == "" {
		return &NoOpProvider{}
	}
	return &WebhookProvider{
		webhookURL: webhookURL,
		httpClient: obstracing.WrapHTTPClient(&http.Client{
			Timeout: 10 * time.Second,
		}),
		log: log.Named("providers.slack"),
	}
}

func (p *WebhookProvider) PostMessage(ctx context.Context, channel string, message string) error {
	payload := map[string]string{"text": message}
	if channel = strings.TrimSpace(channel); channel != "" {
		payload["channel"] = channel
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.webhookURL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("slack webhook returned %d", resp.StatusCode)
	}
	return nil
}

var Module = fx.Module("providers.slack",
	fx.Provide(NewProvider),
)
