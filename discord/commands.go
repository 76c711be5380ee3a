package discord

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/Soypete/clackbot/metrics"
	"github.com/Soypete/clackbot/rewards"
	"github.com/Soypete/clackbot/types"
	"github.com/bwmarrin/discordgo"
)

// recentTransactions is how many ledger entries /balance lists.
const recentTransactions = 5

// commandTimeout bounds the ledger work behind one interaction. Discord
// expects an answer within three seconds.
const commandTimeout = 2500 * time.Millisecond

var (
	errNoAuthor   = errors.New("interaction has no author")
	errLinkingOff = errors.New("account linking is not configured")
)

// commandHandler builds the reply for one slash command.
type commandHandler func(ctx context.Context, i *discordgo.InteractionCreate) (string, error)

// AddCommands lists the slash commands registered with Discord.
func AddCommands() []*discordgo.ApplicationCommand {
	return []*discordgo.ApplicationCommand{
		{
			Name:        "help",
			Description: "How to earn and check your clacks",
		},
		{
			Name:        "link",
			Description: "Link your Twitch account so channel point rewards reach you",
		},
		{
			Name:        "balance",
			Description: "Show your clacks and latest transactions",
		},
		{
			Name:        "daily",
			Description: "Claim your daily clacks",
		},
	}
}

// MakeCommandHandlers returns a map of command names to their respective functions
func (c *Client) MakeCommandHandlers() map[string]commandHandler {
	return map[string]commandHandler{
		"help":    c.help,
		"link":    c.link,
		"balance": c.balance,
		"daily":   c.daily,
	}
}

// respond runs h and sends its reply, visible only to the caller.
func (c *Client) respond(s *discordgo.Session, i *discordgo.InteractionCreate, name string, h commandHandler) {
	start := time.Now()
	metrics.DiscordCommandTotal.WithLabelValues(name).Inc()
	defer func() {
		metrics.DiscordCommandDuration.WithLabelValues(name).Observe(time.Since(start).Seconds())
	}()

	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	content, err := h(ctx, i)
	if err != nil {
		c.logger.Error("command failed", "command", name, "error", err.Error())
		metrics.DiscordCommandErrors.WithLabelValues(name).Inc()
		content = "Something went wrong, please try again later."
	}

	err = s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Content: content,
			Flags:   discordgo.MessageFlagsEphemeral,
		},
	})
	if err != nil {
		c.logger.Error("error responding to command", "command", name, "error", err.Error())
		metrics.DiscordCommandErrors.WithLabelValues(name).Inc()
		return
	}
	metrics.DiscordMessageSent.Add(1)
}

func (c *Client) link(_ context.Context, i *discordgo.InteractionCreate) (string, error) {
	if c.linker == nil {
		return "", errLinkingOff
	}
	author, err := interactionAuthor(i)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("Hello, %s! Please [click here to link your Twitch account](%s).",
		author.Username, c.linker.AuthURL(author.ID)), nil
}

func (c *Client) balance(ctx context.Context, i *discordgo.InteractionCreate) (string, error) {
	user, err := c.member(ctx, i)
	if err != nil {
		return "", err
	}
	txs, err := c.ledger.ListTransactions(ctx, user.ID, recentTransactions)
	if err != nil {
		return "", err
	}
	return balanceReply(user, txs), nil
}

func (c *Client) daily(ctx context.Context, i *discordgo.InteractionCreate) (string, error) {
	user, err := c.member(ctx, i)
	if err != nil {
		return "", err
	}
	now := c.now()
	claim, err := c.ledger.ClaimDaily(ctx, user.ID, rewards.DailyAmount(nil), now)
	if err != nil {
		return "", err
	}
	if claim.Claimed {
		c.logger.Info("daily clacks claimed", "userID", user.ID, "amount", claim.Amount)
	}
	return dailyReply(claim, now), nil
}

// member returns the ledger user behind an interaction, creating it on first use.
func (c *Client) member(ctx context.Context, i *discordgo.InteractionCreate) (types.User, error) {
	author, err := interactionAuthor(i)
	if err != nil {
		return types.User{}, err
	}
	return c.ledger.GetOrCreateDiscordUser(ctx, author.ID, author.Username, author.GlobalName)
}

// interactionAuthor handles both guild (Member) and direct message (User) interactions.
func interactionAuthor(i *discordgo.InteractionCreate) (*discordgo.User, error) {
	if i.Interaction == nil {
		return nil, errNoAuthor
	}
	if i.Member != nil && i.Member.User != nil {
		return i.Member.User, nil
	}
	if i.User != nil {
		return i.User, nil
	}
	return nil, errNoAuthor
}

func balanceReply(user types.User, txs []types.Transaction) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You have %d clacks.", user.Clacks)
	if !user.TwitchID.Valid {
		b.WriteString(" Use /link to connect your Twitch account and earn clacks with channel points.")
	}
	if len(txs) == 0 {
		return b.String()
	}

	b.WriteString("\nLatest transactions:")
	for _, tx := range txs {
		fmt.Fprintf(&b, "\n`%+d` %s (%s)", tx.Clacks, tx.Description, tx.CreatedAt.UTC().Format("2006-01-02"))
	}
	return b.String()
}

func dailyReply(claim types.DailyClaim, now time.Time) string {
	if claim.Claimed {
		return fmt.Sprintf("You claimed %d clacks! You now have %d clacks.", claim.Amount, claim.Balance)
	}
	hours := int(math.Ceil(claim.NextClaimAt.Sub(now).Hours()))
	if hours < 1 {
		hours = 1
	}
	unit := "hours"
	if hours == 1 {
		unit = "hour"
	}
	return fmt.Sprintf("You already claimed your daily clacks. Come back in %d %s.", hours, unit)
}
