package keepalive

import (
	"context"
	"fmt"

	"github.com/Soypete/clackbot/logging"
	"github.com/bwmarrin/discordgo"
)

// channelSender is the part of discordgo.Session the alerter uses.
type channelSender interface {
	ChannelMessageSend(channelID string, content string, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

// DiscordAlerter posts alerts to a Discord channel over the REST API.
type DiscordAlerter struct {
	session   channelSender
	channelID string
	userID    string // mentioned in every alert when set
	logger    *logging.Logger
}

// NewDiscordAlerter creates an alerter using the bot token. No gateway
// connection is opened.
func NewDiscordAlerter(token, channelID, userID string, logger *logging.Logger) (*DiscordAlerter, error) {
	if logger == nil {
		logger = logging.Default()
	}
	session, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("failed to create Discord session: %w", err)
	}
	logger.Info("Discord alerter initialized", "channelID", channelID, "userID", userID)
	return &DiscordAlerter{
		session:   session,
		channelID: channelID,
		userID:    userID,
		logger:    logger,
	}, nil
}

// SendAlert sends an alert message to the configured Discord channel
func (da *DiscordAlerter) SendAlert(ctx context.Context, target string, message string) error {
	alertMessage := formatAlert(da.userID, message)

	_, err := da.session.ChannelMessageSend(da.channelID, alertMessage, discordgo.WithContext(ctx))
	if err != nil {
		da.logger.Error("failed to send Discord alert", "error", err.Error(), "target", target, "channel_id", da.channelID)
		return fmt.Errorf("failed to send Discord message: %w", err)
	}

	da.logger.Info("Discord alert sent", "target", target, "channel_id", da.channelID)
	return nil
}

func formatAlert(userID, message string) string {
	if userID != "" {
		return fmt.Sprintf("<@%s> **Alert:** %s", userID, message)
	}
	return fmt.Sprintf("**Alert:** %s", message)
}
