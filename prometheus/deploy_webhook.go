package prometheus

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/bwmarrin/discordgo"
)

const (
	deployWebhookUsername = "Prometheus • Deploy Monitor"
	deployWebhookAvatar   = "https://i.imgur.com/Ju8D0NQ.png"
	deployWebhookFooter   = "Prometheus Bot • Production Deployment"
)

// Outbound webhook failure modes, distinguished so command handlers can give
// the operator an actionable message.
var (
	ErrWebhookNotConfigured = errors.New("deploy webhook URL not configured")
	ErrWebhookTimeout       = errors.New("deploy webhook request timed out")
	ErrWebhookNoResponse    = errors.New("no response from deploy webhook")
)

// WebhookHTTPError is a non-2xx response from the webhook endpoint.
type WebhookHTTPError struct {
	StatusCode int
	Status     string
}

func (e *WebhookHTTPError) Error() string {
	return fmt.Sprintf("deploy webhook returned %s", e.Status)
}

type webhookPayload struct {
	Username  string                    `json:"username"`
	AvatarURL string                    `json:"avatar_url"`
	Embeds    []*discordgo.MessageEmbed `json:"embeds"`
}

// DeployReporter posts status embeds to the Discord webhook the operator
// watches in production. Used by /deploytest to verify the pipeline's
// reporting path end to end.
type DeployReporter struct {
	webhookURL string
	client     *http.Client
	logger     *slog.Logger
}

func newDeployReporter(
	cfg *DeployConfig,
	client *http.Client,
	logger *slog.Logger,
) *DeployReporter {
	if logger == nil {
		logger = slog.Default()
	}
	if client == nil {
		client = &http.Client{Timeout: cfg.WebhookTimeout}
	}
	return &DeployReporter{
		webhookURL: cfg.WebhookURL,
		client:     client,
		logger:     logger.With(loggerNameKey, "deploy_reporter"),
	}
}

// SendUpdate posts one embed through the webhook. Timeouts, connection
// failures and HTTP errors come back as the sentinel/typed errors above.
func (r *DeployReporter) SendUpdate(
	ctx context.Context,
	title string,
	description string,
	color int,
	fields []*discordgo.MessageEmbedField,
) error {
	if r.webhookURL == "" {
		return ErrWebhookNotConfigured
	}

	payload := webhookPayload{
		Username:  deployWebhookUsername,
		AvatarURL: deployWebhookAvatar,
		Embeds: []*discordgo.MessageEmbed{
			{
				Title:       title,
				Description: description,
				Color:       color,
				Fields:      fields,
				Timestamp:   nowTimestamp(),
				Footer: &discordgo.MessageEmbedFooter{
					Text: deployWebhookFooter,
				},
			},
		},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshaling webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(
		ctx, http.MethodPost, r.webhookURL, bytes.NewReader(body),
	)
	if err != nil {
		return fmt.Errorf("building webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		var urlErr *url.Error
		switch {
		case errors.As(err, &urlErr) && urlErr.Timeout():
			return ErrWebhookTimeout
		case errors.Is(err, context.DeadlineExceeded):
			return ErrWebhookTimeout
		default:
			return fmt.Errorf("%w: %w", ErrWebhookNoResponse, err)
		}
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &WebhookHTTPError{
			StatusCode: resp.StatusCode,
			Status:     resp.Status,
		}
	}

	r.logger.Info("deploy webhook sent", "title", title)
	return nil
}
