// Package notification reports operational events, e.g. aborted tasks, to
// a developer-facing webhook.
package notification

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// Webhook posts messages to a configured endpoint. Safe for concurrent use.
type Webhook struct {
	url   string
	token string
	http  *http.Client
}

func NewWebhook(url, token string) *Webhook {
	return &Webhook{
		url:   url,
		token: token,
		http:  &http.Client{Timeout: 10 * time.Second},
	}
}

type message struct {
	Subject string `json:"subject"`
	Content string `json:"content"`
}

func (w *Webhook) Notify(ctx context.Context, subject, content string) error {
	if w.url == "" {
		return fmt.Errorf("missing webhook url")
	}

	body, err := json.Marshal(message{Subject: subject, Content: content})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewBuffer(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if w.token != "" {
		req.Header.Set("Authorization", "Bearer "+w.token)
	}

	res, err := w.http.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode > 299 {
		var resp struct {
			Error string `json:"error,omitempty"`
		}
		if err := json.NewDecoder(res.Body).Decode(&resp); err == nil && resp.Error != "" {
			return fmt.Errorf("webhook: %s", resp.Error)
		}
		return fmt.Errorf("webhook: status %d", res.StatusCode)
	}
	return nil
}

// Noop discards every notification. Used when no webhook is configured.
type Noop struct{}

func (Noop) Notify(context.Context, string, string) error { return nil }
