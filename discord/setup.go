// Package discord serves the clacks slash commands and the account linking flow.
package discord

import (
	"context"
	"fmt"
	"time"

	"github.com/Soypete/clackbot/database"
	"github.com/Soypete/clackbot/logging"
	"github.com/bwmarrin/discordgo"
)

// Client is the Discord bot session and the ledger it reports on.
type Client struct {
	Session *discordgo.Session
	ledger  database.MemberLedger
	linker  *Linker
	logger  *logging.Logger
	now     func() time.Time
}

// NewClient builds the command handlers without connecting.
func NewClient(ledger database.MemberLedger, linker *Linker, logger *logging.Logger) *Client {
	if logger == nil {
		logger = logging.Default()
	}
	return &Client{
		ledger: ledger,
		linker: linker,
		logger: logger.WithComponent("discord"),
		now:    time.Now,
	}
}

// Setup opens the bot session and registers the slash commands.
func Setup(token string, ledger database.MemberLedger, linker *Linker, logger *logging.Logger) (*Client, error) {
	c := NewClient(ledger, linker, logger)

	session, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("error creating discord session: %w", err)
	}
	c.Session = session

	c.logger.Info("opening discord session")
	// opens websocket connection
	if err := session.Open(); err != nil {
		return nil, fmt.Errorf("error opening connection to discord: %w", err)
	}

	for _, v := range AddCommands() {
		if _, err := session.ApplicationCommandCreate(session.State.User.ID, "", v); err != nil {
			_ = session.Close()
			return nil, fmt.Errorf("error creating command %s: %w", v.Name, err)
		}
	}

	commandHandlers := c.MakeCommandHandlers()
	// after the commands are registered we can add the handlers
	session.AddHandler(func(s *discordgo.Session, i *discordgo.InteractionCreate) {
		if i.Type != discordgo.InteractionApplicationCommand {
			return
		}
		name := i.ApplicationCommandData().Name
		h, ok := commandHandlers[name]
		if !ok {
			c.logger.Warn("unknown command", "command", name)
			return
		}
		c.respond(s, i, name, h)
	})

	c.logger.Info("discord session ready", "commands", len(commandHandlers))
	return c, nil
}

// Close shuts the bot session.
func (c *Client) Close() {
	if c.Session == nil {
		return
	}
	if err := c.Session.Close(); err != nil {
		c.logger.Error("error closing discord session", "error", err.Error())
	}
}

// Run keeps the session open until ctx is done.
func (c *Client) Run(ctx context.Context) {
	<-ctx.Done()
	c.logger.Info("shutting down discord session")
	c.Close()
}
