// Package config loads the bot's settings from the environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// DefaultEventSubURL is Twitch's EventSub websocket endpoint.
const DefaultEventSubURL = "wss://eventsub.wss.twitch.tv/ws"

type Config struct {
	// Twitch
	TwitchChannel      string
	TwitchBotUsername  string
	TwitchToken        string
	TwitchRefreshToken string
	TwitchClientID     string
	TwitchSecret       string
	EventSubURL        string

	// Database
	DatabaseURL string

	// HTTP
	Port        string
	MetricsAddr string

	// Rewards
	RedemptionPollInterval time.Duration
	CatalogSyncInterval    time.Duration
	RewardsConfig          string

	// Discord
	DiscordToken       string
	DiscordClientID    string
	DiscordSecret      string
	DiscordRedirectURI string
}

// Load reads an optional .env file and the process environment, applying
// defaults for optional keys. Required keys are checked by Validate.
func Load(envFiles ...string) (*Config, error) {
	_ = godotenv.Load(envFiles...)

	cfg := &Config{
		TwitchChannel:      strings.ToLower(strings.TrimPrefix(os.Getenv("TWITCH_CHANNEL"), "#")),
		TwitchToken:        strings.TrimPrefix(os.Getenv("TWITCH_TOKEN"), "oauth:"),
		TwitchRefreshToken: os.Getenv("TWITCH_REFRESH_TOKEN"),
		TwitchClientID:     os.Getenv("TWITCH_CLIENT_ID"),
		TwitchSecret:       os.Getenv("TWITCH_SECRET"),
		EventSubURL:        getEnv("TWITCH_EVENTSUB_WEBSOCKET_URL", DefaultEventSubURL),
		DatabaseURL:        os.Getenv("DATABASE_URL"),
		Port:               getEnv("PORT", "8080"),
		MetricsAddr:        getEnv("METRICS_ADDR", ":6060"),
		RewardsConfig:      os.Getenv("REWARDS_CONFIG"),
		DiscordToken:       os.Getenv("DISCORD_TOKEN"),
		DiscordClientID:    os.Getenv("DISCORD_CLIENT_ID"),
		DiscordSecret:      os.Getenv("DISCORD_SECRET"),
		DiscordRedirectURI: os.Getenv("DISCORD_REDIRECT_URI"),
	}
	cfg.TwitchBotUsername = getEnv("TWITCH_BOT_USERNAME", cfg.TwitchChannel)

	var err error
	cfg.RedemptionPollInterval, err = getEnvDuration("REDEMPTION_POLL_INTERVAL", 5*time.Second)
	if err != nil {
		return nil, err
	}
	cfg.CatalogSyncInterval, err = getEnvDuration("CATALOG_SYNC_INTERVAL", 10*time.Minute)
	if err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate reports every missing required key at once.
func (c *Config) Validate() error {
	var missing []string
	required := []struct {
		key   string
		value string
	}{
		{"TWITCH_CHANNEL", c.TwitchChannel},
		{"TWITCH_TOKEN", c.TwitchToken},
		{"TWITCH_CLIENT_ID", c.TwitchClientID},
		{"DATABASE_URL", c.DatabaseURL},
	}
	for _, r := range required {
		if r.value == "" {
			missing = append(missing, r.key)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required environment variables: %s", strings.Join(missing, ", "))
	}
	return nil
}

// DiscordEnabled reports whether a Discord bot token is configured.
func (c *Config) DiscordEnabled() bool {
	return c.DiscordToken != ""
}

// ListenAddr is the address of the public HTTP server.
func (c *Config) ListenAddr() string {
	return ":" + c.Port
}

// getEnv gets an environment variable with a default fallback
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvDuration accepts Go durations ("30s") or a bare number of seconds.
// Intervals feed tickers, so zero and negative values are rejected.
func getEnvDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	var d time.Duration
	if secs, err := strconv.Atoi(value); err == nil {
		d = time.Duration(secs) * time.Second
	} else if d, err = time.ParseDuration(value); err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("invalid %s: %q must be a positive duration", key, value)
	}
	return d, nil
}
