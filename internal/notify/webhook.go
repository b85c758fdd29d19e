package notify

import (
	"context"
	"net/http"
	"time"
)

// Webhook posts messages as JSON to an arbitrary endpoint, optionally
// signed with a shared secret header.
type Webhook struct {
	url    string
	secret string
	client *http.Client
	now    func() time.Time
}

const SecretHeader = "X-Webhook-Secret"

func NewWebhook(url, secret string) *Webhook {
	return &Webhook{url: url, secret: secret, client: &http.Client{Timeout: 10 * time.Second}, now: time.Now}
}

type webhookPayload struct {
	Message
	Timestamp time.Time `json:"timestamp"`
}

func (w *Webhook) Send(ctx context.Context, m Message) error {
	var header http.Header
	if w.secret != "" {
		header = http.Header{SecretHeader: []string{w.secret}}
	}
	return postJSON(ctx, w.client, "webhook", w.url, webhookPayload{Message: m, Timestamp: w.now().UTC()}, header)
}
