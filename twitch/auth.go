package twitchirc

import (
	"context"
	"sync"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/twitch"
)

// TokenConfig holds the credentials used for chat and Helix requests.
type TokenConfig struct {
	ClientID     string
	ClientSecret string
	AccessToken  string
	RefreshToken string
	// Endpoint defaults to the Twitch OAuth endpoint.
	Endpoint oauth2.Endpoint
}

// TokenSource hands out the current access token and remembers when it last
// changed, for the auth health endpoint.
type TokenSource struct {
	src oauth2.TokenSource

	mu          sync.Mutex
	tok         *oauth2.Token
	refreshedAt time.Time
}

// NewTokenSource returns a static token source, or a refreshing one when both
// a refresh token and a client secret are configured.
func NewTokenSource(ctx context.Context, cfg TokenConfig) *TokenSource {
	initial := &oauth2.Token{
		AccessToken:  cfg.AccessToken,
		RefreshToken: cfg.RefreshToken,
		TokenType:    "Bearer",
	}

	var src oauth2.TokenSource
	if cfg.RefreshToken != "" && cfg.ClientSecret != "" {
		endpoint := cfg.Endpoint
		if endpoint.TokenURL == "" {
			endpoint = twitch.Endpoint
		}
		conf := &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			Endpoint:     endpoint,
		}
		// the configured token has an unknown age, refresh it on first use.
		initial.Expiry = time.Now().Add(-time.Minute)
		src = conf.TokenSource(ctx, initial)
	} else {
		src = oauth2.StaticTokenSource(initial)
	}

	return &TokenSource{
		src:         src,
		tok:         initial,
		refreshedAt: time.Now(),
	}
}

// Token implements oauth2.TokenSource.
func (t *TokenSource) Token() (*oauth2.Token, error) {
	tok, err := t.src.Token()
	if err != nil {
		return nil, err
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.tok == nil || t.tok.AccessToken != tok.AccessToken {
		t.refreshedAt = time.Now()
	}
	t.tok = tok
	return tok, nil
}

// AccessToken returns the current access token string.
func (t *TokenSource) AccessToken() (string, error) {
	tok, err := t.Token()
	if err != nil {
		return "", err
	}
	return tok.AccessToken, nil
}

func (t *TokenSource) snapshot() (*oauth2.Token, time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.tok, t.refreshedAt
}
