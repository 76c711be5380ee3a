package database

import (
	"context"
	"database/sql"
	"errors"
	"io"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/Soypete/clackbot/logging"
	"github.com/Soypete/clackbot/types"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockPostgres(t *testing.T) (*Postgres, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	return &Postgres{
		connections: sqlx.NewDb(db, "sqlmock"),
		logger:      logging.NewLogger(logging.LogLevelError, io.Discard),
	}, mock
}

var userRowColumns = []string{"id", "username", "discord_id", "discord_name", "twitch_id", "twitch_name", "clacks", "last_daily_at", "created_at", "modified_at"}

func TestFindUserByTwitchID(t *testing.T) {
	postgres, mock := newMockPostgres(t)
	created := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	rows := sqlmock.NewRows(userRowColumns).
		AddRow(7, "soypete", "d-1", "soypete#0", "t-42", "soypete01", 120, nil, created, created)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT " + userColumns + " FROM users WHERE twitch_id = $1")).
		WithArgs("t-42").
		WillReturnRows(rows)

	user, err := postgres.FindUserByTwitchID(context.Background(), "t-42")
	require.NoError(t, err)
	assert.Equal(t, int64(7), user.ID)
	assert.Equal(t, 120, user.Clacks)
	assert.Equal(t, "soypete01", user.ChatName())
	assert.False(t, user.LastDailyAt.Valid)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFindUserNotFound(t *testing.T) {
	postgres, mock := newMockPostgres(t)

	mock.ExpectQuery(regexp.QuoteMeta("FROM users WHERE discord_id = $1")).
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)

	_, err := postgres.FindUserByDiscordID(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrUserNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFindUserByExternalIDUnknownKind(t *testing.T) {
	postgres, mock := newMockPostgres(t)

	_, err := postgres.FindUserByExternalID(context.Background(), types.ExternalIDKind("youtube"), "y-1")
	assert.ErrorContains(t, err, "unknown external id kind")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreditRedemption(t *testing.T) {
	tests := []struct {
		name        string
		inserted    int64
		wantBalance int
		wantApplied bool
	}{
		{name: "first delivery credits", inserted: 1, wantBalance: 110, wantApplied: true},
		{name: "repeat delivery is a no-op", inserted: 0, wantBalance: 100, wantApplied: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			postgres, mock := newMockPostgres(t)

			mock.ExpectBegin()
			mock.ExpectExec(regexp.QuoteMeta("INSERT INTO transactions (id, user_id, description, clacks, redemption_id)")).
				WithArgs(sqlmock.AnyArg(), int64(7), "Redeemed Twitch reward '10 Clacks'", 10, "r-1").
				WillReturnResult(sqlmock.NewResult(0, tt.inserted))
			if tt.wantApplied {
				mock.ExpectQuery(regexp.QuoteMeta("UPDATE users SET clacks = clacks + $1")).
					WithArgs(10, int64(7)).
					WillReturnRows(sqlmock.NewRows([]string{"clacks"}).AddRow(110))
				mock.ExpectCommit()
			} else {
				mock.ExpectQuery(regexp.QuoteMeta("SELECT clacks FROM users WHERE id = $1")).
					WithArgs(int64(7)).
					WillReturnRows(sqlmock.NewRows([]string{"clacks"}).AddRow(100))
				mock.ExpectRollback()
			}

			balance, applied, err := postgres.CreditRedemption(context.Background(), 7, "r-1", "Redeemed Twitch reward '10 Clacks'", 10)
			require.NoError(t, err)
			assert.Equal(t, tt.wantBalance, balance)
			assert.Equal(t, tt.wantApplied, applied)
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestCreditRedemptionRollsBackOnError(t *testing.T) {
	postgres, mock := newMockPostgres(t)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO transactions").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("UPDATE users SET clacks").
		WillReturnError(errors.New("connection reset"))
	mock.ExpectRollback()

	_, applied, err := postgres.CreditRedemption(context.Background(), 7, "r-2", "desc", 3)
	require.Error(t, err)
	assert.False(t, applied)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCredit(t *testing.T) {
	postgres, mock := newMockPostgres(t)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO transactions (id, user_id, description, clacks) VALUES ($1, $2, $3, $4)")).
		WithArgs(sqlmock.AnyArg(), int64(3), "manual adjustment", 5).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("UPDATE users SET clacks").
		WithArgs(5, int64(3)).
		WillReturnRows(sqlmock.NewRows([]string{"clacks"}).AddRow(25))
	mock.ExpectCommit()

	balance, err := postgres.Credit(context.Background(), 3, "manual adjustment", 5)
	require.NoError(t, err)
	assert.Equal(t, 25, balance)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestClaimDaily(t *testing.T) {
	now := time.Date(2024, 5, 2, 9, 0, 0, 0, time.UTC)

	t.Run("eligible", func(t *testing.T) {
		postgres, mock := newMockPostgres(t)

		mock.ExpectBegin()
		mock.ExpectQuery(regexp.QuoteMeta("UPDATE users SET last_daily_at = $1")).
			WithArgs(now, int64(9), now.Add(-DailyCooldown)).
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(9))
		mock.ExpectExec("INSERT INTO transactions").
			WithArgs(sqlmock.AnyArg(), int64(9), "Daily clacks", 4).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectQuery("UPDATE users SET clacks").
			WithArgs(4, int64(9)).
			WillReturnRows(sqlmock.NewRows([]string{"clacks"}).AddRow(54))
		mock.ExpectCommit()

		claim, err := postgres.ClaimDaily(context.Background(), 9, 4, now)
		require.NoError(t, err)
		assert.Equal(t, types.DailyClaim{Claimed: true, Amount: 4, Balance: 54, NextClaimAt: now.Add(DailyCooldown)}, claim)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("on cooldown", func(t *testing.T) {
		postgres, mock := newMockPostgres(t)
		last := now.Add(-2 * time.Hour)

		mock.ExpectBegin()
		mock.ExpectQuery(regexp.QuoteMeta("UPDATE users SET last_daily_at = $1")).
			WillReturnError(sql.ErrNoRows)
		mock.ExpectQuery(regexp.QuoteMeta("SELECT last_daily_at FROM users WHERE id = $1")).
			WithArgs(int64(9)).
			WillReturnRows(sqlmock.NewRows([]string{"last_daily_at"}).AddRow(last))
		mock.ExpectRollback()

		claim, err := postgres.ClaimDaily(context.Background(), 9, 4, now)
		require.NoError(t, err)
		assert.False(t, claim.Claimed)
		assert.Equal(t, last.Add(DailyCooldown), claim.NextClaimAt)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestListTransactions(t *testing.T) {
	postgres, mock := newMockPostgres(t)
	created := time.Date(2024, 5, 2, 9, 0, 0, 0, time.UTC)

	rows := sqlmock.NewRows([]string{"id", "user_id", "description", "clacks", "redemption_id", "created_at"}).
		AddRow("0b9d6d34-6a6c-4f57-a7c4-7c1b5ab0e1d2", 9, "Daily clacks", 4, nil, created).
		AddRow("5e0e3b5b-4f38-4a43-9d6e-0e0b8f5d6a11", 9, "Redeemed Twitch reward '3 Clacks'", 3, "r-9", created.Add(-time.Hour))
	mock.ExpectQuery(regexp.QuoteMeta("FROM transactions")).
		WithArgs(int64(9), 5).
		WillReturnRows(rows)

	txs, err := postgres.ListTransactions(context.Background(), 9, 5)
	require.NoError(t, err)
	require.Len(t, txs, 2)
	assert.Equal(t, "Daily clacks", txs[0].Description)
	assert.False(t, txs[0].RedemptionID.Valid)
	assert.Equal(t, "r-9", txs[1].RedemptionID.String)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertLinkedUser(t *testing.T) {
	postgres, mock := newMockPostgres(t)
	created := time.Date(2024, 5, 2, 9, 0, 0, 0, time.UTC)

	account := types.LinkedAccount{
		Username:    "purryoverlord",
		DiscordID:   "d-55",
		DiscordName: "purry",
		TwitchID:    "t-55",
		TwitchName:  "purryoverlord",
	}

	mock.ExpectQuery("INSERT INTO users").
		WithArgs(account.Username, account.DiscordID, account.DiscordName, account.TwitchID, account.TwitchName).
		WillReturnRows(sqlmock.NewRows(userRowColumns).
			AddRow(11, "purryoverlord", "d-55", "purry", "t-55", "purryoverlord", 0, nil, created, created))

	user, err := postgres.UpsertLinkedUser(context.Background(), account)
	require.NoError(t, err)
	assert.Equal(t, int64(11), user.ID)
	assert.Equal(t, "t-55", user.TwitchID.String)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetOrCreateDiscordUser(t *testing.T) {
	postgres, mock := newMockPostgres(t)
	created := time.Date(2024, 6, 9, 18, 30, 0, 0, time.UTC)

	mock.ExpectQuery("INSERT INTO users").
		WithArgs("misterkeebs", "d-77", "Mister Keebs").
		WillReturnRows(sqlmock.NewRows(userRowColumns).
			AddRow(12, "misterkeebs", "d-77", "Mister Keebs", nil, nil, 0, nil, created, created))

	user, err := postgres.GetOrCreateDiscordUser(context.Background(), "d-77", "misterkeebs", "Mister Keebs")
	require.NoError(t, err)
	assert.Equal(t, int64(12), user.ID)
	assert.False(t, user.TwitchID.Valid, "a fresh discord user is not linked yet")
	assert.NoError(t, mock.ExpectationsWereMet())
}
