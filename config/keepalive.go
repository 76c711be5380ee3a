package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Keepalive configures the external watchdog.
type Keepalive struct {
	HealthURL     string
	AuthHealthURL string
	StandingsURL  string

	DiscordToken   string
	AlertChannelID string
	AlertUserID    string

	CheckInterval time.Duration
	AlertInterval time.Duration
}

// LoadKeepalive reads the watchdog settings. The URL defaults point at a bot
// running on the same host with default ports.
func LoadKeepalive(envFiles ...string) (*Keepalive, error) {
	_ = godotenv.Load(envFiles...)

	cfg := &Keepalive{
		HealthURL:      getEnv("CLACKBOT_HEALTH_URL", "http://localhost:6060/healthz"),
		AuthHealthURL:  getEnv("CLACKBOT_AUTH_HEALTH_URL", "http://localhost:6060/healthz/auth"),
		StandingsURL:   getEnv("CLACKBOT_STANDINGS_URL", "http://localhost:8080/standings"),
		DiscordToken:   os.Getenv("DISCORD_TOKEN"),
		AlertChannelID: os.Getenv("DISCORD_ALERT_CHANNEL_ID"),
		AlertUserID:    os.Getenv("DISCORD_ALERT_USER_ID"),
	}

	var err error
	cfg.CheckInterval, err = getEnvDuration("CHECK_INTERVAL", time.Minute)
	if err != nil {
		return nil, err
	}
	cfg.AlertInterval, err = getEnvDuration("ALERT_INTERVAL", time.Hour)
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate reports the missing alerting credentials.
func (k *Keepalive) Validate() error {
	var missing []string
	if k.DiscordToken == "" {
		missing = append(missing, "DISCORD_TOKEN")
	}
	if k.AlertChannelID == "" {
		missing = append(missing, "DISCORD_ALERT_CHANNEL_ID")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required environment variables: %s", strings.Join(missing, ", "))
	}
	return nil
}
