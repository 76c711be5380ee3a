// Package wpm runs the typing speed guessing game played in Twitch chat.
package wpm

import (
	"errors"
	"sync"
)

// ErrNotRunning is returned when a guess or finish arrives outside of a round.
var ErrNotRunning = errors.New("there is no typing test going on at the moment")

// Guess is one chatter's estimate for the current round.
type Guess struct {
	User  string `json:"user"`
	Value uint   `json:"guess"`
}

// Game holds the state of a single guessing round. The zero value is an idle
// game ready to use.
type Game struct {
	mu         sync.RWMutex
	running    bool
	guesses    []Guess // arrival order, one entry per user
	lastWinner string
	hasWinner  bool
}

// NewGame returns an idle game.
func NewGame() *Game {
	return &Game{}
}

// Start opens a new round and discards any guesses left from the previous one.
func (g *Game) Start() {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.running = true
	g.guesses = g.guesses[:0]
}

// AddGuess records user's guess. A user guessing again replaces their earlier
// value but keeps their original position in the arrival order.
func (g *Game) AddGuess(user string, value uint) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if !g.running {
		return ErrNotRunning
	}

	for i := range g.guesses {
		if g.guesses[i].User == user {
			g.guesses[i].Value = value
			return nil
		}
	}
	g.guesses = append(g.guesses, Guess{User: user, Value: value})
	return nil
}

// Score closes the round against target and returns the winning guess. The
// closest guess wins and exact ties go to whoever guessed first. The round is
// closed even when nobody guessed, in which case ok is false.
func (g *Game) Score(target uint) (winner Guess, ok bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	return g.scoreLocked(target)
}

// Finish scores the round only if one is running.
func (g *Game) Finish(target uint) (winner Guess, ok bool, err error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if !g.running {
		return Guess{}, false, ErrNotRunning
	}
	winner, ok = g.scoreLocked(target)
	return winner, ok, nil
}

func (g *Game) scoreLocked(target uint) (Guess, bool) {
	g.running = false
	if len(g.guesses) == 0 {
		return Guess{}, false
	}

	best := 0
	bestDistance := Distance(target, g.guesses[0].Value)
	for i := 1; i < len(g.guesses); i++ {
		// strictly less keeps the earliest guess on ties
		if d := Distance(target, g.guesses[i].Value); d < bestDistance {
			best, bestDistance = i, d
		}
	}

	winner := g.guesses[best]
	g.guesses = g.guesses[:0]
	g.lastWinner = winner.User
	g.hasWinner = true
	return winner, true
}

// IsRunning reports whether a round is open.
func (g *Game) IsRunning() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()

	return g.running
}

// Guesses returns a copy of the current guesses in arrival order.
func (g *Game) Guesses() []Guess {
	g.mu.RLock()
	defer g.mu.RUnlock()

	out := make([]Guess, len(g.guesses))
	copy(out, g.guesses)
	return out
}

// LastWinner returns the winner of the most recently scored round.
func (g *Game) LastWinner() (string, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	return g.lastWinner, g.hasWinner
}

// Round is a consistent view of the game at one instant.
type Round struct {
	Running    bool
	Guesses    []Guess
	LastWinner string
	HasWinner  bool
}

// Snapshot reads the whole round under one lock, so a round finishing
// concurrently never shows up half applied.
func (g *Game) Snapshot() Round {
	g.mu.RLock()
	defer g.mu.RUnlock()

	guesses := make([]Guess, len(g.guesses))
	copy(guesses, g.guesses)
	return Round{
		Running:    g.running,
		Guesses:    guesses,
		LastWinner: g.lastWinner,
		HasWinner:  g.hasWinner,
	}
}

// Distance is the absolute difference between target and guess.
func Distance(target, guess uint) uint {
	if target > guess {
		return target - guess
	}
	return guess - target
}
