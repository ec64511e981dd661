// Package slack mirrors PagerDuty trigger and resolve events to a Slack
// channel via incoming webhooks.
package slack

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"maps"
	"net/http"
	"slices"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/PagerDuty/go-pagerduty"
	"github.com/linnemanlabs/go-core/log"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/linnemanlabs/klaxon/issue"
)

const (
	maxHeaderLen  = 150
	maxDetailsLen = 3000
	httpTimeout   = 10 * time.Second
)

// Notifier posts one Slack message per event.
type Notifier struct {
	webhookURL string
	client     *http.Client
	logger     log.Logger
	now        func() time.Time
}

// New creates a new Slack notifier. If webhookURL is empty, Send is a no-op.
func New(webhookURL string, logger log.Logger) *Notifier {
	if logger == nil {
		logger = log.Nop()
	}
	return &Notifier{
		webhookURL: webhookURL,
		client: &http.Client{
			Timeout:   httpTimeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		logger: logger,
		now:    time.Now,
	}
}

// Send posts an event to the configured Slack webhook.
// If no webhook URL is configured, it returns nil immediately.
func (n *Notifier) Send(ctx context.Context, ev pagerduty.V2Event) error {
	if n.webhookURL == "" {
		return nil
	}

	msg := buildMessage(ev, n.now())

	body, err := json.Marshal(msg)
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

	n.logger.Debug(ctx, "mirrored event to slack", "action", ev.Action, "dedup_key", ev.DedupKey)
	return nil
}

func buildMessage(ev pagerduty.V2Event, ts time.Time) map[string]any {
	blocks := []map[string]any{headerBlock(ev)}
	if ev.Payload != nil {
		blocks = append(blocks,
			map[string]any{"type": "divider"},
			fieldsBlock(ev),
			map[string]any{"type": "divider"},
			detailsBlock(ev),
		)
	}
	blocks = append(blocks,
		map[string]any{"type": "divider"},
		contextBlock(ev, ts),
	)
	return map[string]any{"blocks": blocks}
}

func headerBlock(ev pagerduty.V2Event) map[string]any {
	title := "Resolved"
	subject := ev.DedupKey
	if ev.Action == issue.ActionTrigger {
		title = "Triggered"
		if ev.Payload != nil && ev.Payload.Summary != "" {
			subject = ev.Payload.Summary
		}
	}
	text := truncate(fmt.Sprintf("%s %s: %s", actionEmoji(ev.Action), title, subject), maxHeaderLen)

	return map[string]any{
		"type": "header",
		"text": map[string]any{
			"type": "plain_text",
			"text": text,
		},
	}
}

func fieldsBlock(ev pagerduty.V2Event) map[string]any {
	p := ev.Payload
	fields := []map[string]any{
		{
			"type": "mrkdwn",
			"text": fmt.Sprintf("*Source:* %s", p.Source),
		},
		{
			"type": "mrkdwn",
			"text": fmt.Sprintf("*Component:* %s", p.Component),
		},
		{
			"type": "mrkdwn",
			"text": fmt.Sprintf("*Severity:* %s", p.Severity),
		},
		{
			"type": "mrkdwn",
			"text": fmt.Sprintf("*Dedup key:* `%s`", ev.DedupKey),
		},
	}

	return map[string]any{
		"type":   "section",
		"fields": fields,
	}
}

func detailsBlock(ev pagerduty.V2Event) map[string]any {
	text := "_No dedup fields._"
	if details, ok := ev.Payload.Details.(map[string]string); ok && len(details) > 0 {
		var b strings.Builder
		for _, k := range slices.Sorted(maps.Keys(details)) {
			fmt.Fprintf(&b, "• *%s:* %s\n", k, details[k])
		}
		text = truncate(strings.TrimSuffix(b.String(), "\n"), maxDetailsLen)
	}

	return map[string]any{
		"type": "section",
		"text": map[string]any{
			"type": "mrkdwn",
			"text": fmt.Sprintf("*Dedup fields*\n\n%s", text),
		},
	}
}

func contextBlock(ev pagerduty.V2Event, ts time.Time) map[string]any {
	elements := []map[string]any{
		{
			"type": "mrkdwn",
			"text": fmt.Sprintf("klaxon • %s %s • %s", ev.Action, ev.DedupKey, ts.UTC().Format("2006-01-02 15:04 UTC")),
		},
	}

	return map[string]any{
		"type":     "context",
		"elements": elements,
	}
}

func actionEmoji(action string) string {
	switch action {
	case issue.ActionTrigger:
		return "\U0001f6a8" // police light
	case issue.ActionResolve:
		return "\u2705" // check mark
	default:
		return "\u2754" // question mark
	}
}

func truncate(s string, limit int) string {
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	return string([]rune(s)[:limit-3]) + "..."
}
