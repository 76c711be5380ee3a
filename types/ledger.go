package types

import (
	"database/sql"
	"time"

	"github.com/google/uuid"
)

// User is a community member holding a clacks balance. A user may be linked to
// a Twitch account, a Discord account, or both.
type User struct {
	ID          int64          `db:"id"`
	Username    string         `db:"username"`
	DiscordID   sql.NullString `db:"discord_id"`
	DiscordName sql.NullString `db:"discord_name"`
	TwitchID    sql.NullString `db:"twitch_id"`
	TwitchName  sql.NullString `db:"twitch_name"`
	Clacks      int            `db:"clacks"`
	LastDailyAt sql.NullTime   `db:"last_daily_at"`
	CreatedAt   time.Time      `db:"created_at"`
	ModifiedAt  time.Time      `db:"modified_at"`
}

// ChatName is the name used when addressing the user in Twitch chat.
func (u User) ChatName() string {
	if u.TwitchName.Valid && u.TwitchName.String != "" {
		return u.TwitchName.String
	}
	return u.Username
}

// Transaction is an append-only ledger entry. Balances are the sum of a
// user's transactions.
type Transaction struct {
	ID           uuid.UUID      `db:"id"`
	UserID       int64          `db:"user_id"`
	Description  string         `db:"description"`
	Clacks       int            `db:"clacks"`
	RedemptionID sql.NullString `db:"redemption_id"`
	CreatedAt    time.Time      `db:"created_at"`
}

// LinkedAccount is the identity pair produced by the Discord account linking flow.
type LinkedAccount struct {
	Username    string `db:"username"`
	DiscordID   string `db:"discord_id"`
	DiscordName string `db:"discord_name"`
	TwitchID    string `db:"twitch_id"`
	TwitchName  string `db:"twitch_name"`
}

// ExternalIDKind names the platform an external identity belongs to.
type ExternalIDKind string

const (
	ExternalIDTwitch  ExternalIDKind = "twitch"
	ExternalIDDiscord ExternalIDKind = "discord"
)

// DailyClaim is the outcome of a daily bonus claim.
type DailyClaim struct {
	Claimed     bool
	Amount      int
	Balance     int
	NextClaimAt time.Time
}
