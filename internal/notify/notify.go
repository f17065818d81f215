// Package notify posts run outcomes to a Teams-compatible incoming
// webhook. Delivery is best effort and never affects the run result.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// Event describes one finished run.
type Event struct {
	Label       string
	DisplayName string
	Version     string
	Success     bool
	Message     string
}

// Notifier delivers run outcomes.
type Notifier interface {
	Notify(ctx context.Context, ev Event)
}

// Webhook posts MessageCard payloads to a single incoming-webhook URL.
type Webhook struct {
	url    string
	client *http.Client
	log    *zap.Logger
}

// NewWebhook creates a Webhook notifier. An empty URL yields a notifier
// that silently drops every event.
func NewWebhook(url string, logger *zap.Logger) *Webhook {
	return &Webhook{
		url:    url,
		client: &http.Client{Timeout: 15 * time.Second},
		log:    logger,
	}
}

// messageCard is the legacy connector card format Teams webhooks accept.
type messageCard struct {
	Type       string     `json:"@type"`
	Context    string     `json:"@context"`
	ThemeColor string     `json:"themeColor"`
	Summary    string     `json:"summary"`
	Title      string     `json:"title"`
	Sections   []cardSect `json:"sections"`
}

type cardSect struct {
	Facts []cardFact `json:"facts"`
	Text  string     `json:"text,omitempty"`
}

type cardFact struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

func (w *Webhook) Notify(ctx context.Context, ev Event) {
	if w.url == "" {
		return
	}

	color, verdict := "2DC72D", "succeeded"
	if !ev.Success {
		color, verdict = "C72D2D", "failed"
	}

	card := messageCard{
		Type:       "MessageCard",
		Context:    "http://schema.org/extensions",
		ThemeColor: color,
		Summary:    fmt.Sprintf("%s %s", ev.DisplayName, verdict),
		Title:      fmt.Sprintf("labelforge: %s %s", ev.DisplayName, verdict),
		Sections: []cardSect{{
			Facts: []cardFact{
				{Name: "Label", Value: ev.Label},
				{Name: "Version", Value: ev.Version},
			},
			Text: ev.Message,
		}},
	}

	body, err := json.Marshal(card)
	if err != nil {
		w.log.Warn("failed to encode webhook payload", zap.Error(err))
		return
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		w.log.Warn("failed to build webhook request", zap.Error(err))
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		w.log.Warn("webhook delivery failed", zap.String("label", ev.Label), zap.Error(err))
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		w.log.Warn("webhook rejected",
			zap.String("label", ev.Label),
			zap.Int("status", resp.StatusCode))
	}
}
