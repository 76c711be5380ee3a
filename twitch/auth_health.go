package twitchirc

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/Soypete/clackbot/logging"
)

// AuthHealthResponse represents the JSON response for the auth health check endpoint
type AuthHealthResponse struct {
	HasToken         bool      `json:"has_token"`
	LastRefreshTime  time.Time `json:"last_refresh_time"`
	ExpirationTime   time.Time `json:"expiration_time"`
	IsExpired        bool      `json:"is_expired"`
	HoursUntilExpiry float64   `json:"hours_until_expiry"`
}

// tokens without an expiry are assumed to live this long after a refresh.
const tokenExpiryDuration = 12 * time.Hour

// AuthHealth returns the current auth token health status
func (t *TokenSource) AuthHealth() AuthHealthResponse {
	tok, refreshedAt := t.snapshot()

	hasToken := tok != nil && tok.AccessToken != ""
	expirationTime := refreshedAt.Add(tokenExpiryDuration)
	if tok != nil && !tok.Expiry.IsZero() && tok.Expiry.After(refreshedAt) {
		expirationTime = tok.Expiry
	}

	return AuthHealthResponse{
		HasToken:         hasToken,
		LastRefreshTime:  refreshedAt,
		ExpirationTime:   expirationTime,
		IsExpired:        time.Now().After(expirationTime),
		HoursUntilExpiry: time.Until(expirationTime).Hours(),
	}
}

// AuthHealthHandler returns an HTTP handler for the auth health check endpoint
func (t *TokenSource) AuthHealthHandler(logger *logging.Logger) http.HandlerFunc {
	if logger == nil {
		logger = logging.Default()
	}
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}

		health := t.AuthHealth()

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)

		if err := json.NewEncoder(w).Encode(health); err != nil {
			logger.Error("failed to encode auth health response", "error", err.Error())
		}
	}
}
