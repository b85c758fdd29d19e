package notify

import (
	"context"
	"fmt"
	"html"
	"net/http"
	"strings"
)

const telegramAPI = "https://api.telegram.org"

// Telegram posts messages to a chat or channel through the Bot API.
type Telegram struct {
	token   string
	chatID  string
	baseURL string
	client  *http.Client
}

func NewTelegram(token, chatID string) *Telegram {
	return &Telegram{
		token:   token,
		chatID:  chatID,
		baseURL: telegramAPI,
		client:  defaultClient(),
	}
}

// WithBaseURL points the sink at another API host.
func (t *Telegram) WithBaseURL(u string) *Telegram {
	t.baseURL = strings.TrimRight(u, "/")
	return t
}

// Send does one attempt; retries belong to the caller.
func (t *Telegram) Send(ctx context.Context, m Message) error {
	url := fmt.Sprintf("%s/bot%s/sendMessage", t.baseURL, t.token)

	payload := map[string]any{
		"chat_id":                  t.chatID,
		"text":                     telegramText(m),
		"parse_mode":               "HTML",
		"disable_web_page_preview": m.URL == "",
	}
	return postJSON(ctx, t.client, "telegram", url, payload, nil)
}

func telegramText(m Message) string {
	var b strings.Builder
	if m.Title != "" {
		b.WriteString("<b>")
		b.WriteString(html.EscapeString(m.Title))
		b.WriteString("</b>\n\n")
	}
	b.WriteString(html.EscapeString(m.Body))
	if m.URL != "" {
		fmt.Fprintf(&b, "\n\n<a href=\"%s\">Read more</a>", html.EscapeString(m.URL))
	}

	text := b.String()
	// Bot API message limit
	if r := []rune(text); len(r) > 4000 {
		text = string(r[:4000])
	}
	return text
}
