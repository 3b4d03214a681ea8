package feed

import (
	"context"
	"fmt"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"
)

// DiscordSink posts to one Discord channel as the bot. Discord bots cannot
// change their name per message, so the resident's name is part of the text.
type DiscordSink struct {
	session *discordgo.Session
	channel string
	logger  *zap.Logger
}

// NewDiscordSink creates a Discord sink. Only the REST API is used; the
// gateway websocket is never opened.
func NewDiscordSink(token, channel string, logger *zap.Logger) (*DiscordSink, error) {
	if channel == "" {
		return nil, fmt.Errorf("discord: channel is required")
	}
	session, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("discord session: %w", err)
	}
	return &DiscordSink{session: session, channel: channel, logger: logger}, nil
}

func (s *DiscordSink) Platform() string { return "discord" }

// Post sends p to the configured channel.
func (s *DiscordSink) Post(_ context.Context, p Post) error {
	content := p.Line()
	if p.Agent != "" {
		content = fmt.Sprintf("**[%s]** %s", p.Agent, p.Line())
	}
	if _, err := s.session.ChannelMessageSend(s.channel, content); err != nil {
		return fmt.Errorf("discord send: %w", err)
	}
	s.logger.Debug("discord post", zap.String("channel", s.channel), zap.String("agent", p.Agent))
	return nil
}

// Close releases the session.
func (s *DiscordSink) Close() error {
	return s.session.Close()
}
