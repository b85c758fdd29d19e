package notify

import (
	"context"
	"net/http"
)

// Discord posts to a channel webhook.
type Discord struct {
	webhookURL string
	username   string
	client     *http.Client
}

func NewDiscord(webhookURL, username string) *Discord {
	return &Discord{webhookURL: webhookURL, username: username, client: defaultClient()}
}

type discordEmbed struct {
	Title       string `json:"title,omitempty"`
	Description string `json:"description,omitempty"`
	URL         string `json:"url,omitempty"`
	Color       int    `json:"color"`
}

type discordPayload struct {
	Username string         `json:"username,omitempty"`
	Content  string         `json:"content,omitempty"`
	Embeds   []discordEmbed `json:"embeds"`
}

// Discord caps embed descriptions at 4096 characters.
const discordDescriptionLimit = 4096

func (d *Discord) Send(ctx context.Context, m Message) error {
	desc := m.Body
	if r := []rune(desc); len(r) > discordDescriptionLimit {
		desc = string(r[:discordDescriptionLimit])
	}

	payload := discordPayload{
		Username: d.username,
		Embeds: []discordEmbed{{
			Title:       m.Title,
			Description: desc,
			URL:         m.URL,
			Color:       DiscordColor(m.Level),
		}},
	}
	return postJSON(ctx, d.client, "discord", d.webhookURL, payload, nil)
}

// DiscordColor maps a level to an embed color.
func DiscordColor(l Level) int {
	switch l {
	case LevelCritical:
		return 0xE74C3C
	case LevelWarning:
		return 0xF1C40F
	default:
		return 0x3498DB
	}
}
