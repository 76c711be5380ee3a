package discord

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/Soypete/clackbot/logging"
	"github.com/Soypete/clackbot/types"
	"golang.org/x/oauth2"
)

const (
	DefaultAPIBaseURL = "https://discord.com/api"

	twitchConnection = "twitch"
)

var (
	// ErrTwitchNotConnected means the Discord account has no Twitch connection to link.
	ErrTwitchNotConnected = errors.New("could not find a Twitch account linked to your Discord account, please connect Twitch in your Discord settings first")
	// ErrStateMismatch means the callback has no state or was started by
	// another Discord user.
	ErrStateMismatch = errors.New("the link was requested by another Discord account")
)

// AccountStore persists linked identities.
type AccountStore interface {
	UpsertLinkedUser(ctx context.Context, account types.LinkedAccount) (types.User, error)
}

// Linker runs the Discord OAuth flow that ties a Discord account to the Twitch
// account connected to it.
type Linker struct {
	oauth      *oauth2.Config
	apiBaseURL string
	store      AccountStore
	logger     *logging.Logger
}

func NewLinker(clientID, clientSecret, redirectURI string, store AccountStore, logger *logging.Logger) *Linker {
	if logger == nil {
		logger = logging.Default()
	}
	l := &Linker{
		oauth: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			RedirectURL:  redirectURI,
			Scopes:       []string{"identify", "connections"},
		},
		store:  store,
		logger: logger.WithComponent("discord_link"),
	}
	return l.WithAPIBaseURL(DefaultAPIBaseURL)
}

// WithAPIBaseURL points the OAuth and REST calls at another server.
func (l *Linker) WithAPIBaseURL(baseURL string) *Linker {
	l.apiBaseURL = strings.TrimSuffix(baseURL, "/")
	l.oauth.Endpoint = oauth2.Endpoint{
		AuthURL:   l.apiBaseURL + "/oauth2/authorize",
		TokenURL:  l.apiBaseURL + "/oauth2/token",
		AuthStyle: oauth2.AuthStyleInParams,
	}
	return l
}

// AuthURL is the consent page a Discord user opens to start linking. state
// carries the requesting Discord user id back to the callback.
func (l *Linker) AuthURL(state string) string {
	return l.oauth.AuthCodeURL(state)
}

type discordUser struct {
	ID         string `json:"id"`
	Username   string `json:"username"`
	GlobalName string `json:"global_name"`
}

type connection struct {
	Type string `json:"type"`
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Complete exchanges the callback code, reads the Discord user and its
// connections, and links the Twitch connection to the user's ledger account.
func (l *Linker) Complete(ctx context.Context, code, state string) (types.User, error) {
	if state == "" {
		l.logger.Warn("link callback without state")
		return types.User{}, ErrStateMismatch
	}

	tok, err := l.oauth.Exchange(ctx, code)
	if err != nil {
		return types.User{}, fmt.Errorf("failed to exchange discord code: %w", err)
	}
	client := l.oauth.Client(ctx, tok)

	var me discordUser
	if err := l.get(ctx, client, "/users/@me", &me); err != nil {
		return types.User{}, err
	}
	if state != me.ID {
		l.logger.Warn("link state does not match discord user", "discordID", me.ID)
		return types.User{}, ErrStateMismatch
	}

	var conns []connection
	if err := l.get(ctx, client, "/users/@me/connections", &conns); err != nil {
		return types.User{}, err
	}

	twitch, ok := findConnection(conns, twitchConnection)
	if !ok {
		return types.User{}, ErrTwitchNotConnected
	}

	displayName := me.GlobalName
	if displayName == "" {
		displayName = me.Username
	}

	user, err := l.store.UpsertLinkedUser(ctx, types.LinkedAccount{
		Username:    me.Username,
		DiscordID:   me.ID,
		DiscordName: displayName,
		TwitchID:    twitch.ID,
		TwitchName:  twitch.Name,
	})
	if err != nil {
		return types.User{}, fmt.Errorf("failed to store linked account: %w", err)
	}

	l.logger.Info("twitch account linked", "discordID", me.ID, "twitchName", twitch.Name)
	return user, nil
}

func (l *Linker) get(ctx context.Context, client *http.Client, endpoint string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, l.apiBaseURL+endpoint, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("discord request %s failed: %w", endpoint, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read discord response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("discord %s returned status %d: %s", endpoint, resp.StatusCode, body)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to parse discord %s response: %w", endpoint, err)
	}
	return nil
}

func findConnection(conns []connection, kind string) (connection, bool) {
	for _, c := range conns {
		if c.Type == kind {
			return c, true
		}
	}
	return connection{}, false
}
