package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/Soypete/clackbot/types"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

// ErrUserNotFound is returned when no user is linked to the requested identity.
var ErrUserNotFound = errors.New("user not found")

// DailyCooldown is how long a user waits between daily claims.
const DailyCooldown = 24 * time.Hour

const userColumns = `id, username, discord_id, discord_name, twitch_id, twitch_name, clacks, last_daily_at, created_at, modified_at`

// UserReader looks up users by their linked external identities.
type UserReader interface {
	FindUserByTwitchID(ctx context.Context, twitchID string) (types.User, error)
	FindUserByDiscordID(ctx context.Context, discordID string) (types.User, error)
}

// RedemptionLedger is the ledger surface used by the redemption reconciler.
type RedemptionLedger interface {
	UserReader
	CreditRedemption(ctx context.Context, userID int64, redemptionID, description string, amount int) (balance int, applied bool, err error)
}

// MemberLedger is the ledger surface used by the Discord commands and account linking.
type MemberLedger interface {
	UserReader
	ClaimDaily(ctx context.Context, userID int64, amount int, now time.Time) (types.DailyClaim, error)
	ListTransactions(ctx context.Context, userID int64, limit int) ([]types.Transaction, error)
	UpsertLinkedUser(ctx context.Context, account types.LinkedAccount) (types.User, error)
	GetOrCreateDiscordUser(ctx context.Context, discordID, username, displayName string) (types.User, error)
}

// FindUserByTwitchID returns the user linked to a Twitch account.
func (p *Postgres) FindUserByTwitchID(ctx context.Context, twitchID string) (types.User, error) {
	return p.FindUserByExternalID(ctx, types.ExternalIDTwitch, twitchID)
}

// FindUserByDiscordID returns the user linked to a Discord account.
func (p *Postgres) FindUserByDiscordID(ctx context.Context, discordID string) (types.User, error) {
	return p.FindUserByExternalID(ctx, types.ExternalIDDiscord, discordID)
}

// FindUserByExternalID returns the user linked to id on the given platform.
func (p *Postgres) FindUserByExternalID(ctx context.Context, kind types.ExternalIDKind, id string) (types.User, error) {
	var column string
	switch kind {
	case types.ExternalIDTwitch:
		column = "twitch_id"
	case types.ExternalIDDiscord:
		column = "discord_id"
	default:
		return types.User{}, fmt.Errorf("unknown external id kind %q", kind)
	}

	var user types.User
	query := "SELECT " + userColumns + " FROM users WHERE " + column + " = $1"
	err := p.connections.GetContext(ctx, &user, query, id)
	if errors.Is(err, sql.ErrNoRows) {
		return types.User{}, ErrUserNotFound
	}
	if err != nil {
		return types.User{}, fmt.Errorf("error finding user by %s: %w", column, err)
	}
	return user, nil
}

// CreditRedemption records a transaction for a reward redemption and adds
// amount to the user's balance in one database transaction. A redemption id is
// credited at most once; repeated calls leave the ledger unchanged and report
// applied=false along with the current balance.
func (p *Postgres) CreditRedemption(ctx context.Context, userID int64, redemptionID, description string, amount int) (int, bool, error) {
	tx, err := p.connections.BeginTxx(ctx, nil)
	if err != nil {
		return 0, false, fmt.Errorf("error starting redemption credit: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	query := `INSERT INTO transactions (id, user_id, description, clacks, redemption_id)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (redemption_id) DO NOTHING`
	res, err := tx.ExecContext(ctx, query, uuid.New(), userID, description, amount, redemptionID)
	if err != nil {
		return 0, false, fmt.Errorf("error inserting redemption transaction: %w", err)
	}
	inserted, err := res.RowsAffected()
	if err != nil {
		return 0, false, fmt.Errorf("error reading inserted rows: %w", err)
	}

	if inserted == 0 {
		p.logger.Debug("redemption already credited", "redemptionID", redemptionID, "userID", userID)
		var balance int
		if err := tx.GetContext(ctx, &balance, "SELECT clacks FROM users WHERE id = $1", userID); err != nil {
			return 0, false, fmt.Errorf("error reading balance: %w", err)
		}
		return balance, false, nil
	}

	balance, err := incrementBalance(ctx, tx, userID, amount)
	if err != nil {
		return 0, false, err
	}
	if err := tx.Commit(); err != nil {
		return 0, false, fmt.Errorf("error committing redemption credit: %w", err)
	}

	p.logger.Debug("redemption credited", "redemptionID", redemptionID, "userID", userID, "amount", amount)
	return balance, true, nil
}

// Credit records a transaction that is not tied to a redemption and updates the balance.
func (p *Postgres) Credit(ctx context.Context, userID int64, description string, amount int) (int, error) {
	tx, err := p.connections.BeginTxx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("error starting credit: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	balance, err := insertCredit(ctx, tx, userID, description, amount)
	if err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("error committing credit: %w", err)
	}
	return balance, nil
}

// ClaimDaily credits the daily bonus if the user has not claimed one within
// DailyCooldown. The cooldown check and the credit happen in one transaction.
func (p *Postgres) ClaimDaily(ctx context.Context, userID int64, amount int, now time.Time) (types.DailyClaim, error) {
	tx, err := p.connections.BeginTxx(ctx, nil)
	if err != nil {
		return types.DailyClaim{}, fmt.Errorf("error starting daily claim: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var claimedID int64
	query := `UPDATE users SET last_daily_at = $1, modified_at = $1
		WHERE id = $2 AND (last_daily_at IS NULL OR last_daily_at <= $3)
		RETURNING id`
	err = tx.GetContext(ctx, &claimedID, query, now, userID, now.Add(-DailyCooldown))
	if errors.Is(err, sql.ErrNoRows) {
		var last sql.NullTime
		if err := tx.GetContext(ctx, &last, "SELECT last_daily_at FROM users WHERE id = $1", userID); err != nil {
			return types.DailyClaim{}, fmt.Errorf("error reading last daily claim: %w", err)
		}
		return types.DailyClaim{NextClaimAt: last.Time.Add(DailyCooldown)}, nil
	}
	if err != nil {
		return types.DailyClaim{}, fmt.Errorf("error marking daily claim: %w", err)
	}

	balance, err := insertCredit(ctx, tx, userID, "Daily clacks", amount)
	if err != nil {
		return types.DailyClaim{}, err
	}
	if err := tx.Commit(); err != nil {
		return types.DailyClaim{}, fmt.Errorf("error committing daily claim: %w", err)
	}

	return types.DailyClaim{
		Claimed:     true,
		Amount:      amount,
		Balance:     balance,
		NextClaimAt: now.Add(DailyCooldown),
	}, nil
}

// ListTransactions returns a user's most recent ledger entries, newest first.
func (p *Postgres) ListTransactions(ctx context.Context, userID int64, limit int) ([]types.Transaction, error) {
	query := `SELECT id, user_id, description, clacks, redemption_id, created_at
		FROM transactions
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2`

	var txs []types.Transaction
	if err := p.connections.SelectContext(ctx, &txs, query, userID, limit); err != nil {
		return nil, fmt.Errorf("error listing transactions: %w", err)
	}
	return txs, nil
}

// UpsertLinkedUser creates or updates the user owning account.DiscordID with
// the linked Twitch identity.
func (p *Postgres) UpsertLinkedUser(ctx context.Context, account types.LinkedAccount) (types.User, error) {
	query := `INSERT INTO users (username, discord_id, discord_name, twitch_id, twitch_name)
		VALUES (:username, :discord_id, :discord_name, :twitch_id, :twitch_name)
		ON CONFLICT (discord_id) DO UPDATE SET
			username = EXCLUDED.username,
			discord_name = EXCLUDED.discord_name,
			twitch_id = EXCLUDED.twitch_id,
			twitch_name = EXCLUDED.twitch_name,
			modified_at = NOW()
		RETURNING ` + userColumns

	named, args, err := sqlx.Named(query, account)
	if err != nil {
		return types.User{}, fmt.Errorf("error binding linked user: %w", err)
	}

	var user types.User
	if err := p.connections.GetContext(ctx, &user, p.connections.Rebind(named), args...); err != nil {
		p.logger.Error("failed to upsert linked user", "error", err.Error(), "discordID", account.DiscordID)
		return types.User{}, fmt.Errorf("error upserting linked user: %w", err)
	}

	p.logger.Info("linked accounts", "userID", user.ID, "twitchName", account.TwitchName)
	return user, nil
}

// GetOrCreateDiscordUser returns the user for a Discord account, creating an
// unlinked one on first use. Existing rows are returned untouched.
func (p *Postgres) GetOrCreateDiscordUser(ctx context.Context, discordID, username, displayName string) (types.User, error) {
	query := `INSERT INTO users (username, discord_id, discord_name)
		VALUES ($1, $2, NULLIF($3, ''))
		ON CONFLICT (discord_id) DO UPDATE SET discord_id = EXCLUDED.discord_id
		RETURNING ` + userColumns

	var user types.User
	if err := p.connections.GetContext(ctx, &user, query, username, discordID, displayName); err != nil {
		return types.User{}, fmt.Errorf("error getting discord user: %w", err)
	}
	return user, nil
}

func insertCredit(ctx context.Context, tx *sqlx.Tx, userID int64, description string, amount int) (int, error) {
	query := `INSERT INTO transactions (id, user_id, description, clacks) VALUES ($1, $2, $3, $4)`
	if _, err := tx.ExecContext(ctx, query, uuid.New(), userID, description, amount); err != nil {
		return 0, fmt.Errorf("error inserting transaction: %w", err)
	}
	return incrementBalance(ctx, tx, userID, amount)
}

func incrementBalance(ctx context.Context, tx *sqlx.Tx, userID int64, amount int) (int, error) {
	var balance int
	query := `UPDATE users SET clacks = clacks + $1, modified_at = NOW() WHERE id = $2 RETURNING clacks`
	if err := tx.GetContext(ctx, &balance, query, amount, userID); err != nil {
		return 0, fmt.Errorf("error incrementing balance: %w", err)
	}
	return balance, nil
}
