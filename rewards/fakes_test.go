package rewards

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/Soypete/clackbot/database"
	"github.com/Soypete/clackbot/logging"
	"github.com/Soypete/clackbot/types"
)

func quietLogger() *logging.Logger {
	return logging.NewLogger(logging.LogLevelError, io.Discard)
}

// memLedger keeps balances in memory and refuses a second credit per redemption id.
type memLedger struct {
	mu       sync.Mutex
	users    map[string]types.User // by twitch id
	credited map[string]int        // redemption id -> amount
	findErr  error
}

func newMemLedger(users ...types.User) *memLedger {
	l := &memLedger{users: map[string]types.User{}, credited: map[string]int{}}
	for _, u := range users {
		l.users[u.TwitchID.String] = u
	}
	return l
}

func linkedUser(id int64, twitchID, twitchName string, clacks int) types.User {
	return types.User{
		ID:         id,
		Username:   twitchName,
		TwitchID:   sql.NullString{String: twitchID, Valid: true},
		TwitchName: sql.NullString{String: twitchName, Valid: true},
		Clacks:     clacks,
	}
}

func (l *memLedger) FindUserByTwitchID(_ context.Context, twitchID string) (types.User, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.findErr != nil {
		return types.User{}, l.findErr
	}
	u, ok := l.users[twitchID]
	if !ok {
		return types.User{}, database.ErrUserNotFound
	}
	return u, nil
}

func (l *memLedger) FindUserByDiscordID(context.Context, string) (types.User, error) {
	return types.User{}, database.ErrUserNotFound
}

func (l *memLedger) CreditRedemption(_ context.Context, userID int64, redemptionID, _ string, amount int) (int, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for key, u := range l.users {
		if u.ID != userID {
			continue
		}
		if _, done := l.credited[redemptionID]; done {
			return u.Clacks, false, nil
		}
		l.credited[redemptionID] = amount
		u.Clacks += amount
		l.users[key] = u
		return u.Clacks, true, nil
	}
	return 0, false, fmt.Errorf("no user %d", userID)
}

func (l *memLedger) link(u types.User) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.users[u.TwitchID.String] = u
}

func (l *memLedger) total() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	sum := 0
	for _, amount := range l.credited {
		sum += amount
	}
	return sum
}

func (l *memLedger) balance(twitchID string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.users[twitchID].Clacks
}

// fakeAPI is an in-memory channel point store.
type fakeAPI struct {
	mu         sync.Mutex
	rewards    []types.Reward
	pending    map[string][]types.Redemption
	fulfilled  []string
	creates    []types.RewardSettings
	fulfillErr error
	listErr    map[string]error
	createErr  map[string]error
	nextID     int
	// listRewardsFailures makes the next n ListRewards calls fail.
	listRewardsFailures int
}

func newFakeAPI(rewards ...types.Reward) *fakeAPI {
	return &fakeAPI{
		rewards:   rewards,
		pending:   map[string][]types.Redemption{},
		listErr:   map[string]error{},
		createErr: map[string]error{},
	}
}

func (f *fakeAPI) ListRewards(context.Context) ([]types.Reward, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listRewardsFailures > 0 {
		f.listRewardsFailures--
		return nil, errUpstream
	}
	return append([]types.Reward(nil), f.rewards...), nil
}

func (f *fakeAPI) CreateReward(_ context.Context, settings types.RewardSettings) (types.Reward, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.createErr[settings.Title]; err != nil {
		return types.Reward{}, err
	}
	f.nextID++
	f.creates = append(f.creates, settings)
	reward := types.Reward{ID: fmt.Sprintf("created-%d", f.nextID), Title: settings.Title, Cost: settings.Cost, Prompt: settings.Prompt}
	f.rewards = append(f.rewards, reward)
	return reward, nil
}

func (f *fakeAPI) ListPendingRedemptions(_ context.Context, rewardID string) ([]types.Redemption, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.listErr[rewardID]; err != nil {
		return nil, err
	}
	return append([]types.Redemption(nil), f.pending[rewardID]...), nil
}

func (f *fakeAPI) MarkFulfilled(_ context.Context, redemptionID, rewardID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fulfillErr != nil {
		return f.fulfillErr
	}
	f.fulfilled = append(f.fulfilled, redemptionID)
	kept := f.pending[rewardID][:0]
	for _, r := range f.pending[rewardID] {
		if r.ID != redemptionID {
			kept = append(kept, r)
		}
	}
	f.pending[rewardID] = kept
	return nil
}

func (f *fakeAPI) addPending(r types.Redemption) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pending[r.Reward.ID] = append(f.pending[r.Reward.ID], r)
}

func (f *fakeAPI) setFulfillErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fulfillErr = err
}

func (f *fakeAPI) fulfilledIDs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.fulfilled...)
}

func (f *fakeAPI) createCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.creates)
}

type recordingChat struct {
	mu    sync.Mutex
	lines []string
}

func (c *recordingChat) Send(_ context.Context, text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lines = append(c.lines, text)
	return nil
}

func (c *recordingChat) Lines() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.lines...)
}

var errUpstream = errors.New("twitch is down")

func redemption(id, rewardID, title, userID, login string) types.Redemption {
	return types.Redemption{
		ID:        id,
		UserID:    userID,
		UserLogin: login,
		UserName:  login,
		Status:    types.RedemptionUnfulfilled,
		Reward:    types.SimpleReward{ID: rewardID, Title: title},
	}
}
