// Package bot pushes alert notifications to the telegram bot service over a
// single HTTP POST per notification.
package bot

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/sentinel/internal/alert"
)

const httpTimeout = 10 * time.Second

// Notifier sends alert payloads to the bot endpoint. Delivery is
// best-effort; the caller decides what to do with errors.
type Notifier struct {
	url          string
	mediaBaseURL string
	client       *http.Client
	logger       log.Logger
}

// New creates a bot notifier. If url is empty, Send is a logged no-op.
func New(url, mediaBaseURL string, logger log.Logger) *Notifier {
	if logger == nil {
		logger = log.Nop()
	}
	return &Notifier{
		url:          url,
		mediaBaseURL: mediaBaseURL,
		client:       &http.Client{Timeout: httpTimeout},
		logger:       logger,
	}
}

// botResponse is the success envelope the bot replies with.
type botResponse struct {
	ErrorCode int `json:"error_code"`
}

// Send posts the notification to the configured bot endpoint. Success
// requires a 2xx status and error_code 0 in the response body.
func (n *Notifier) Send(ctx context.Context, msg *alert.Notification) error {
	if n.url == "" {
		n.logger.Info(ctx, "bot url not configured, skipping notification")
		return nil
	}

	body, err := json.Marshal(n.buildPayload(msg))
	if err != nil {
		return fmt.Errorf("bot: marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("bot: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req) //nolint:gosec // G704: url is from trusted config, not user input
	if err != nil {
		return fmt.Errorf("bot: post notification: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("bot: endpoint returned %d: %s", resp.StatusCode, string(respBody))
	}

	var br botResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 4096)).Decode(&br); err != nil {
		return fmt.Errorf("bot: decode response: %w", err)
	}
	if br.ErrorCode != 0 {
		return fmt.Errorf("bot: endpoint reported error_code %d", br.ErrorCode)
	}
	return nil
}

// buildPayload serializes the alert with its nested entities plus the
// recipient list and role flag, in the shape the bot consumes.
func (n *Notifier) buildPayload(msg *alert.Notification) map[string]any {
	a := msg.View.Alert

	payload := map[string]any{
		"id":                a.ID,
		"aibox_alert_id":    a.AIBoxAlertID,
		"alert_time":        a.AlertTime,
		"hazard_level":      a.HazardLevel,
		"status":            a.Status,
		"device":            msg.View.Device,
		"source":            msg.View.Source,
		"alg":               msg.View.Algorithm,
		"company":           msg.View.Company,
		"image":             n.mediaURL(a.ImagePath),
		"video":             n.mediaURL(a.VideoPath),
		"users_telegram_id": append([]int64{}, msg.TelegramIDs...),
		"for_security":      msg.ForSecurity,
	}

	if len(a.ReservedData) > 0 {
		payload["reserved_data"] = json.RawMessage(a.ReservedData)
	} else {
		payload["reserved_data"] = nil
	}

	return payload
}

// mediaURL joins a stored relative path with the configured media base URL.
// Returns nil for absent media so the field serializes as JSON null.
func (n *Notifier) mediaURL(relPath string) any {
	if relPath == "" {
		return nil
	}
	if n.mediaBaseURL == "" {
		return relPath
	}
	return strings.TrimSuffix(n.mediaBaseURL, "/") + "/" + relPath
}
