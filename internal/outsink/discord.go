package outsink

import (
	"context"
	"fmt"
	"strings"

	"github.com/bwmarrin/discordgo"

	"github.com/rakunlabs/loom/internal/wfexternal"
)

// DiscordConfig configures a DiscordSink. Either a bot Token+ChannelID
// pair or a webhook URL may be used; Token takes precedence.
type DiscordConfig struct {
	Token      string
	ChannelID  string
	WebhookURL string
}

// DiscordSink posts every output message to a Discord channel, either
// via a bot session or a webhook.
type DiscordSink struct {
	cfg     DiscordConfig
	session *discordgo.Session
}

// NewDiscordSink builds a DiscordSink. When cfg.Token is set it creates a
// bot session that Send opens and closes around each message; otherwise
// messages are posted through cfg.WebhookURL with no standing connection.
func NewDiscordSink(cfg DiscordConfig) (*DiscordSink, error) {
	s := &DiscordSink{cfg: cfg}
	if cfg.Token != "" {
		sess, err := discordgo.New("Bot " + cfg.Token)
		if err != nil {
			return nil, fmt.Errorf("outsink/discord: new session: %w", err)
		}
		s.session = sess
	}
	return s, nil
}

var _ Sink = (*DiscordSink)(nil)

func (s *DiscordSink) Send(ctx context.Context, msg wfexternal.OutputMessage) error {
	body, err := renderText(msg.Value)
	if err != nil {
		return fmt.Errorf("outsink/discord: %w", err)
	}
	content := fmt.Sprintf("**%s**\n%s", msg.Label, body)

	if s.session != nil {
		if err := s.session.Open(); err != nil {
			return fmt.Errorf("outsink/discord: open: %w", err)
		}
		defer s.session.Close()
		_, err := s.session.ChannelMessageSend(s.cfg.ChannelID, content)
		if err != nil {
			return fmt.Errorf("outsink/discord: send: %w", err)
		}
		return nil
	}

	if s.cfg.WebhookURL == "" {
		return fmt.Errorf("outsink/discord: neither token nor webhook configured")
	}
	webhookID, webhookToken, err := splitWebhookURL(s.cfg.WebhookURL)
	if err != nil {
		return fmt.Errorf("outsink/discord: %w", err)
	}
	sess, err := discordgo.New("")
	if err != nil {
		return fmt.Errorf("outsink/discord: new session: %w", err)
	}
	params := &discordgo.WebhookParams{Content: content}
	if _, err := sess.WebhookExecute(webhookID, webhookToken, true, params); err != nil {
		return fmt.Errorf("outsink/discord: webhook: %w", err)
	}
	return nil
}

// splitWebhookURL extracts the id and token from a standard Discord
// webhook URL (".../webhooks/{id}/{token}").
func splitWebhookURL(webhookURL string) (id, token string, err error) {
	trimmed := strings.TrimSuffix(webhookURL, "/")
	parts := strings.Split(trimmed, "/")
	if len(parts) < 2 {
		return "", "", fmt.Errorf("malformed webhook url %q", webhookURL)
	}
	return parts[len(parts)-2], parts[len(parts)-1], nil
}
