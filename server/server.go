// Package server exposes the guessing game to the stream overlay and
// completes Discord account linking.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/Soypete/clackbot/discord"
	"github.com/Soypete/clackbot/logging"
	twitchirc "github.com/Soypete/clackbot/twitch"
	"github.com/Soypete/clackbot/types"
	"github.com/Soypete/clackbot/wpm"
)

// Announcer queues a line for Twitch chat.
type Announcer interface {
	Send(ctx context.Context, text string) error
}

// AccountLinker finishes the Discord OAuth flow.
type AccountLinker interface {
	Complete(ctx context.Context, code, state string) (types.User, error)
}

type Server struct {
	*http.Server
	game   *wpm.Game
	live   *wpm.LiveMetric
	chat   Announcer
	linker AccountLinker
	logger *logging.Logger
}

// New builds the HTTP server on addr. linker may be nil when Discord is not
// configured, in which case the callback route is not served.
func New(addr string, game *wpm.Game, live *wpm.LiveMetric, chat Announcer, linker AccountLinker, logger *logging.Logger) *Server {
	if logger == nil {
		logger = logging.Default()
	}
	s := &Server{
		game:   game,
		live:   live,
		chat:   chat,
		linker: linker,
		logger: logger.WithComponent("http"),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /standings", s.standings)
	mux.HandleFunc("GET /liveWpm", s.liveWpm)
	mux.HandleFunc("GET /setLiveWpm", s.setLiveWpm)
	mux.HandleFunc("GET /finishWpm", s.finishWpm)
	if linker != nil {
		mux.HandleFunc("GET /discord/callback", s.discordCallback)
	}

	s.Server = &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
	return s
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.Shutdown(shutdownCtx)
	}()

	s.logger.Info("listening", "addr", s.Addr)
	if err := s.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

func (s *Server) standings(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, wpm.CurrentStandings(s.game, s.live))
}

func (s *Server) liveWpm(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, s.live.Get())
}

// setLiveWpm records a reading from the typing test. Readings outside a round
// are accepted and dropped.
func (s *Server) setLiveWpm(w http.ResponseWriter, r *http.Request) {
	value, ok := wpmParam(r)
	if !ok || value > 255 {
		http.Error(w, wpm.ErrInvalidValue.Error(), http.StatusBadRequest)
		return
	}
	if !s.game.IsRunning() {
		w.WriteHeader(http.StatusOK)
		return
	}
	if err := s.live.Set(int(value)); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	s.logger.Debug("live wpm updated", "wpm", value)
	w.WriteHeader(http.StatusOK)
}

// finishWpm scores the round against the final reading and announces the
// result in chat. Finishing when no round runs is a no-op.
func (s *Server) finishWpm(w http.ResponseWriter, r *http.Request) {
	value, ok := wpmParam(r)
	if !ok {
		http.Error(w, wpm.ErrInvalidValue.Error(), http.StatusBadRequest)
		return
	}

	winner, found, err := s.game.Finish(value)
	if errors.Is(err, wpm.ErrNotRunning) {
		w.WriteHeader(http.StatusOK)
		return
	}
	if err != nil {
		s.logger.Error("failed to finish round", "error", err.Error())
		http.Error(w, "failed to finish round", http.StatusInternalServerError)
		return
	}

	s.logger.Info("round finished", "wpm", value, "winner", winner.User, "hasWinner", found)
	if err := s.chat.Send(r.Context(), twitchirc.FinishAnnouncement(value, winner, found)); err != nil {
		s.logger.Error("failed to announce winner", "error", err.Error())
	}
	w.WriteHeader(http.StatusOK)
}

func (s *Server) discordCallback(w http.ResponseWriter, r *http.Request) {
	code := r.URL.Query().Get("code")
	if code == "" {
		http.Error(w, "Invalid request: missing code", http.StatusBadRequest)
		return
	}

	user, err := s.linker.Complete(r.Context(), code, r.URL.Query().Get("state"))
	switch {
	case errors.Is(err, discord.ErrTwitchNotConnected):
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	case errors.Is(err, discord.ErrStateMismatch):
		http.Error(w, err.Error(), http.StatusForbidden)
		return
	case err != nil:
		s.logger.Error("discord callback failed", "error", err.Error())
		http.Error(w, "An error occurred while linking your account, please try again.", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = fmt.Fprintf(w, "Successfully linked your Twitch account %s. You can now close this window.", user.TwitchName.String)
}

func (s *Server) writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("failed to write response", "error", err.Error())
	}
}

// wpmParam reads ?wpm=N, falling back to ?value=N.
func wpmParam(r *http.Request) (uint, bool) {
	q := r.URL.Query()
	raw := q.Get("wpm")
	if raw == "" {
		raw = q.Get("value")
	}
	n, err := strconv.ParseUint(raw, 10, 32)
	if err != nil {
		return 0, false
	}
	return uint(n), true
}
