package wpm

import (
	"encoding/json"
	"sort"
)

// Player is a guess annotated with its distance to the live reading.
type Player struct {
	User     string
	Guess    uint
	Distance uint
}

// MarshalJSON writes a player as [user, guess, distance], the shape the
// overlay reads.
func (p Player) MarshalJSON() ([]byte, error) {
	return json.Marshal([]any{p.User, p.Guess, p.Distance})
}

// Standings is the live leaderboard shown on the stream overlay.
type Standings struct {
	Running    bool     `json:"running"`
	Players    []Player `json:"players"`
	LiveWPM    uint8    `json:"liveWpm"`
	LastWinner *string  `json:"lastWinner"`
}

// CurrentStandings ranks the round's guesses by distance to the live metric.
// Players at the same distance keep their guessing order.
func CurrentStandings(game *Game, live *LiveMetric) Standings {
	current := live.Get()
	round := game.Snapshot()

	players := make([]Player, 0, len(round.Guesses))
	for _, g := range round.Guesses {
		players = append(players, Player{
			User:     g.User,
			Guess:    g.Value,
			Distance: Distance(uint(current), g.Value),
		})
	}
	sort.SliceStable(players, func(i, j int) bool {
		return players[i].Distance < players[j].Distance
	})

	s := Standings{
		Running: round.Running,
		Players: players,
		LiveWPM: current,
	}
	if round.HasWinner {
		s.LastWinner = &round.LastWinner
	}
	return s
}
