package twitchirc

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/Soypete/clackbot/logging"
	"github.com/Soypete/clackbot/metrics"
	v2 "github.com/gempir/go-twitch-irc/v2"
	"github.com/pkg/errors"
)

// outboundCapacity bounds the number of chat lines waiting to be written.
const outboundCapacity = 100

// sayer is the write half of the IRC client.
type sayer interface {
	Say(channel, text string)
}

// Chat connects to one Twitch channel. Incoming lines are routed to the
// guessing game, outgoing lines go through a FIFO queue drained by a single
// writer so callers never touch the connection directly.
type Chat struct {
	channel     string
	botUsername string
	tokens      *TokenSource
	router      *Router
	logger      *logging.Logger

	sayer    sayer
	outbound chan string
}

// NewChat sets up the chat connection for channel. Nothing is dialed until Run.
func NewChat(channel, botUsername string, tokens *TokenSource, router *Router, logger *logging.Logger) *Chat {
	if logger == nil {
		logger = logging.Default()
	}
	if botUsername == "" {
		botUsername = channel
	}
	return &Chat{
		channel:     strings.ToLower(channel),
		botUsername: botUsername,
		tokens:      tokens,
		router:      router,
		logger:      logger.WithComponent("twitch_chat"),
		outbound:    make(chan string, outboundCapacity),
	}
}

// Send queues text for the channel. It blocks while the queue is full and
// returns early if ctx is cancelled.
func (c *Chat) Send(ctx context.Context, text string) error {
	select {
	case c.outbound <- text:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("chat message not queued: %w", ctx.Err())
	}
}

// Run connects to Twitch IRC and serves the reader and writer until ctx is
// cancelled or the connection fails.
func (c *Chat) Run(ctx context.Context) error {
	token, err := c.tokens.AccessToken()
	if err != nil {
		return errors.Wrap(err, "failed to get twitch chat token")
	}

	c.logger.Info("connecting to twitch IRC", "channel", c.channel)
	client := v2.NewClient(c.botUsername, "oauth:"+token)
	client.Join(c.channel)
	client.OnConnect(func() {
		metrics.TwitchConnectionCount.Add(1)
		c.logger.Info("connection to twitch IRC established")
	})
	client.OnPrivateMessage(func(msg v2.PrivateMessage) {
		c.handlePrivateMessage(ctx, msg)
	})
	c.sayer = client

	writerCtx, stopWriter := context.WithCancel(ctx)
	defer stopWriter()
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		c.runWriter(writerCtx)
	}()

	connErr := make(chan error, 1)
	go func() {
		connErr <- client.Connect()
	}()

	select {
	case <-ctx.Done():
		c.logger.Info("disconnecting from twitch IRC")
		if err := client.Disconnect(); err != nil {
			c.logger.Warn("twitch IRC disconnect", "error", err.Error())
		}
		<-writerDone
		return nil
	case err := <-connErr:
		stopWriter()
		<-writerDone
		if ctx.Err() != nil {
			return nil
		}
		return errors.Wrap(err, "twitch IRC connection closed")
	}
}

// runWriter drains the outbound queue in order. It stops when ctx is done or
// when the connection goes away.
func (c *Chat) runWriter(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			c.logger.Info("shutting down chat writer", "pending", len(c.outbound))
			return
		case text := <-c.outbound:
			c.logger.Debug("sending chat message", "length", len(text))
			c.sayer.Say(c.channel, text)
			metrics.TwitchMessageSentCount.Add(1)
		}
	}
}

func (c *Chat) handlePrivateMessage(ctx context.Context, msg v2.PrivateMessage) {
	metrics.TwitchMessageRecievedCount.Add(1)
	c.logger.Debug("received message", "user", msg.User.Name, "message", msg.Message)

	reply, ok := c.router.Handle(toMessage(msg))
	if !ok {
		return
	}
	if err := c.Send(ctx, reply); err != nil {
		c.logger.Error("failed to queue chat reply", "error", err.Error(), "user", msg.User.Name)
	}
}

func toMessage(msg v2.PrivateMessage) Message {
	badges := make([]string, 0, len(msg.User.Badges))
	for name := range msg.User.Badges {
		badges = append(badges, name)
	}
	sort.Strings(badges)

	return Message{
		Channel: msg.Channel,
		Sender:  msg.User.Name,
		Badges:  badges,
		Text:    msg.Message,
	}
}
