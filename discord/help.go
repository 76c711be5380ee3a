package discord

import (
	"context"

	"github.com/bwmarrin/discordgo"
)

const helpText = "Clacks are earned by redeeming channel point rewards on Twitch and with /daily.\n" +
	"/link connects your Twitch account so redemptions are credited to you.\n" +
	"/balance shows your clacks and latest transactions.\n" +
	"/daily claims free clacks once every 24 hours."

func (c *Client) help(context.Context, *discordgo.InteractionCreate) (string, error) {
	c.logger.Debug("help command handled successfully")
	return helpText, nil
}
