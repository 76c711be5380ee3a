package twitchirc

import (
	"fmt"
	"regexp"
	"slices"
	"strconv"
	"strings"

	"github.com/Soypete/clackbot/metrics"
	"github.com/Soypete/clackbot/wpm"
)

const (
	broadcasterBadge = "broadcaster"
	startCommand     = "!wpm start"
	commandPrefix    = "!wpm"

	StartAnnouncement = "A new WPM guessing game has started. Send your guess by using !wpm <guess>."
)

var guessPattern = regexp.MustCompile(`^!wpm (\d+)`)

// CommandKind is the interpretation of a chat line.
type CommandKind int

const (
	// CommandIgnore is any text that is not addressed to the bot.
	CommandIgnore CommandKind = iota
	CommandStart
	CommandGuess
	// CommandInvalid is a "!wpm" line the bot could not understand.
	CommandInvalid
)

// Command is a parsed chat line.
type Command struct {
	Kind  CommandKind
	Guess uint
}

// Message is a chat line as seen by the router.
type Message struct {
	Channel string
	Sender  string
	Badges  []string
	Text    string
}

// Parse interprets text sent by a user holding badges. It has no side effects.
func Parse(text string, badges []string) Command {
	if text == startCommand && slices.Contains(badges, broadcasterBadge) {
		return Command{Kind: CommandStart}
	}

	if !strings.HasPrefix(text, commandPrefix) {
		return Command{Kind: CommandIgnore}
	}

	match := guessPattern.FindStringSubmatch(text)
	if match == nil {
		return Command{Kind: CommandInvalid}
	}
	value, err := strconv.ParseUint(match[1], 10, 0)
	if err != nil {
		return Command{Kind: CommandInvalid}
	}
	return Command{Kind: CommandGuess, Guess: uint(value)}
}

// Router applies chat commands for one channel to the guessing game.
type Router struct {
	channel string
	game    *wpm.Game
}

func NewRouter(channel string, game *wpm.Game) *Router {
	return &Router{
		channel: strings.ToLower(channel),
		game:    game,
	}
}

// Handle applies msg and returns the chat reply, if any.
func (r *Router) Handle(msg Message) (string, bool) {
	if strings.ToLower(strings.TrimPrefix(msg.Channel, "#")) != r.channel {
		return "", false
	}

	cmd := Parse(msg.Text, msg.Badges)
	switch cmd.Kind {
	case CommandStart:
		r.game.Start()
		metrics.WPMRoundCount.Add(1)
		return StartAnnouncement, true
	case CommandGuess:
		if err := r.game.AddGuess(msg.Sender, cmd.Guess); err != nil {
			return fmt.Sprintf("%s %s", msg.Sender, err), true
		}
		metrics.WPMGuessCount.Add(1)
		return fmt.Sprintf("%s got your %d WPM guess", msg.Sender, cmd.Guess), true
	case CommandInvalid:
		return fmt.Sprintf("%s invalid guess, use !wpm <wpm estimate>", msg.Sender), true
	default:
		return "", false
	}
}

// FinishAnnouncement is the chat line announcing the result of a round.
func FinishAnnouncement(target uint, winner wpm.Guess, ok bool) string {
	if !ok {
		return fmt.Sprintf("typing test ended with %d WPM. forever alone: no guesses :-(", target)
	}
	return fmt.Sprintf("typing test ended with %d WPM. The winner is %s with a guess of %d WPM.", target, winner.User, winner.Value)
}
