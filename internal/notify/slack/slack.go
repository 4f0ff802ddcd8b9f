// Package slack posts alert lifecycle notifications to Slack via incoming
// webhooks.
package slack

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/linnemanlabs/go-core/log"

	"github.com/Ved45ant/Intelligent-Alert-System/internal/eventlog"
)

const httpTimeout = 10 * time.Second

// notifiedTypes are the event types worth a channel message. CREATED and
// INFO are noise at fleet volume.
var notifiedTypes = map[eventlog.Type]bool{
	eventlog.TypeEscalated:  true,
	eventlog.TypeAutoClosed: true,
}

// Notifier forwards selected event log entries to a Slack webhook.
// Delivery is best-effort: a failed post is logged and dropped.
type Notifier struct {
	webhookURL string
	client     *http.Client
	logger     log.Logger
}

// New creates a new Slack notifier. If webhookURL is empty, Send is a no-op.
func New(webhookURL string, logger log.Logger) *Notifier {
	if logger == nil {
		logger = log.Nop()
	}
	return &Notifier{
		webhookURL: webhookURL,
		client:     &http.Client{Timeout: httpTimeout},
		logger:     logger,
	}
}

// Run consumes broker entries until the channel closes or ctx is done.
// Intended to be started as a goroutine against broker.Subscribe().
func (n *Notifier) Run(ctx context.Context, ch <-chan *eventlog.Entry) {
	for {
		select {
		case e, ok := <-ch:
			if !ok {
				return
			}
			if !notifiedTypes[e.Type] {
				continue
			}
			if err := n.Send(ctx, e); err != nil {
				n.logger.Warn(ctx, "slack notification failed", "alert_id", e.AlertID, "type", e.Type, "error", err)
			}
		case <-ctx.Done():
			return
		}
	}
}

// Send posts one event to the configured Slack webhook.
// If no webhook URL is configured, it returns nil immediately.
func (n *Notifier) Send(ctx context.Context, e *eventlog.Entry) error {
	if n.webhookURL == "" {
		return nil
	}

	body, err := json.Marshal(buildMessage(e))
	if err != nil {
		return fmt.Errorf("slack: marshal message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.webhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("slack: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req) //nolint:gosec // G704: webhookURL is from trusted config, not user input
	if err != nil {
		return fmt.Errorf("slack: post webhook: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("slack: webhook returned %d: %s", resp.StatusCode, string(respBody))
	}
	return nil
}

func buildMessage(e *eventlog.Entry) map[string]any {
	return map[string]any{
		"blocks": []map[string]any{
			headerBlock(e),
			{"type": "divider"},
			fieldsBlock(e),
			contextBlock(e),
		},
	}
}

func headerBlock(e *eventlog.Entry) map[string]any {
	var text string
	switch e.Type {
	case eventlog.TypeEscalated:
		text = fmt.Sprintf("\U0001f534 Alert Escalated: %s", e.AlertID)
	case eventlog.TypeAutoClosed:
		text = fmt.Sprintf("\U0001f7e2 Alert Auto-Closed: %s", e.AlertID)
	default:
		text = fmt.Sprintf("Alert %s: %s", e.Type, e.AlertID)
	}

	return map[string]any{
		"type": "header",
		"text": map[string]any{
			"type": "plain_text",
			"text": text,
		},
	}
}

func fieldsBlock(e *eventlog.Entry) map[string]any {
	fields := []map[string]any{
		{
			"type": "mrkdwn",
			"text": fmt.Sprintf("*Alert:* %s", e.AlertID),
		},
		{
			"type": "mrkdwn",
			"text": fmt.Sprintf("*Event:* %s", e.Type),
		},
	}
	if reason, ok := e.Payload["reason"].(string); ok && reason != "" {
		fields = append(fields, map[string]any{
			"type": "mrkdwn",
			"text": fmt.Sprintf("*Reason:* %s", reason),
		})
	}
	if by, ok := e.Payload["triggered_by"].(string); ok && by != "" {
		fields = append(fields, map[string]any{
			"type": "mrkdwn",
			"text": fmt.Sprintf("*Triggered by:* %s", by),
		})
	}

	return map[string]any{
		"type":   "section",
		"fields": fields,
	}
}

func contextBlock(e *eventlog.Entry) map[string]any {
	return map[string]any{
		"type": "context",
		"elements": []map[string]any{
			{
				"type": "mrkdwn",
				"text": fmt.Sprintf("alerts • event %s • %s", e.ID, e.Timestamp.UTC().Format("2006-01-02 15:04 UTC")),
			},
		},
	}
}
