package sink

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/bwmarrin/discordgo"

	"xdigest/pkg/logger"
)

// discordSession is the part of *discordgo.Session used for direct messages
type discordSession interface {
	UserChannelCreate(recipientID string, options ...discordgo.RequestOption) (*discordgo.Channel, error)
	ChannelMessageSend(channelID, content string, options ...discordgo.RequestOption) (*discordgo.Message, error)
	ChannelMessageSendComplex(channelID string, data *discordgo.MessageSend, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

// DiscordSink sends direct messages from a bot account. Recipients are user ids.
type DiscordSink struct {
	session discordSession
	logger  logger.Logger
}

// NewDiscordSink creates a sink for the bot identified by token. Only the
// REST API is used; no gateway connection is opened.
func NewDiscordSink(token string, log logger.Logger) (*DiscordSink, error) {
	if token == "" {
		return nil, fmt.Errorf("discord bot token is empty")
	}
	session, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("failed to create Discord session: %w", err)
	}
	return newDiscordSink(session, log), nil
}

func newDiscordSink(session discordSession, log logger.Logger) *DiscordSink {
	return &DiscordSink{
		session: session,
		logger:  logger.OrGlobal(log).WithField("component", "sink.discord"),
	}
}

func (s *DiscordSink) channel(ctx context.Context, recipient string) (string, error) {
	ch, err := s.session.UserChannelCreate(recipient, discordgo.WithContext(ctx))
	if err != nil {
		return "", fmt.Errorf("failed to open DM channel with %s: %w", recipient, err)
	}
	return ch.ID, nil
}

func (s *DiscordSink) SendText(ctx context.Context, recipient, text string) error {
	channelID, err := s.channel(ctx, recipient)
	if err != nil {
		return err
	}
	if _, err := s.session.ChannelMessageSend(channelID, text, discordgo.WithContext(ctx)); err != nil {
		return fmt.Errorf("failed to send Discord message: %w", err)
	}
	return nil
}

func (s *DiscordSink) SendDocument(ctx context.Context, recipient, path, caption string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open digest: %w", err)
	}
	defer f.Close()

	channelID, err := s.channel(ctx, recipient)
	if err != nil {
		return err
	}

	_, err = s.session.ChannelMessageSendComplex(channelID, &discordgo.MessageSend{
		Content: caption,
		Files: []*discordgo.File{{
			Name:        filepath.Base(path),
			ContentType: "text/plain; charset=utf-8",
			Reader:      f,
		}},
	}, discordgo.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("failed to send Discord file: %w", err)
	}

	s.logger.DebugWithFields("Digest sent", map[string]interface{}{
		"recipient": recipient,
		"file":      filepath.Base(path),
	})
	return nil
}
