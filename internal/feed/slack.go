package feed

import (
	"context"
	"fmt"

	"github.com/slack-go/slack"
	"go.uber.org/zap"
)

// SlackSink posts to one Slack channel with the bot token. Each message is
// shown under the resident's name.
type SlackSink struct {
	client  *slack.Client
	channel string
	logger  *zap.Logger
}

// NewSlackSink creates a Slack sink. opts are passed to slack.New, which lets
// tests point the client at a local server.
func NewSlackSink(botToken, channel string, logger *zap.Logger, opts ...slack.Option) (*SlackSink, error) {
	if botToken == "" {
		return nil, fmt.Errorf("slack: bot token is required")
	}
	if channel == "" {
		return nil, fmt.Errorf("slack: channel is required")
	}
	return &SlackSink{
		client:  slack.New(botToken, opts...),
		channel: channel,
		logger:  logger,
	}, nil
}

func (s *SlackSink) Platform() string { return "slack" }

// Post sends p to the configured channel.
func (s *SlackSink) Post(ctx context.Context, p Post) error {
	opts := []slack.MsgOption{slack.MsgOptionText(p.Line(), false)}
	if p.Agent != "" {
		opts = append(opts, slack.MsgOptionUsername(p.Agent))
	}
	if _, _, err := s.client.PostMessageContext(ctx, s.channel, opts...); err != nil {
		return fmt.Errorf("slack post: %w", err)
	}
	s.logger.Debug("slack post", zap.String("channel", s.channel), zap.String("agent", p.Agent))
	return nil
}

// Close is a no-op; the web API client holds no connection.
func (s *SlackSink) Close() error { return nil }
