package rewards

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Soypete/clackbot/database"
	"github.com/Soypete/clackbot/logging"
	"github.com/Soypete/clackbot/metrics"
	"github.com/Soypete/clackbot/twitch/eventsub"
	"github.com/Soypete/clackbot/types"
	"golang.org/x/sync/errgroup"
)

const (
	// pollConcurrency caps parallel pending-redemption fetches.
	pollConcurrency = 4
	// acknowledgedTTL is how long a fulfilled id short-circuits repeats.
	// Older repeats fall through to the ledger, which refuses a second credit.
	acknowledgedTTL = 10 * time.Minute
)

// RewardsAPI is the part of the Helix client the rewards package uses.
type RewardsAPI interface {
	ListRewards(ctx context.Context) ([]types.Reward, error)
	CreateReward(ctx context.Context, settings types.RewardSettings) (types.Reward, error)
	ListPendingRedemptions(ctx context.Context, rewardID string) ([]types.Redemption, error)
	MarkFulfilled(ctx context.Context, redemptionID, rewardID string) error
}

// ChatSender queues a message for the Twitch channel.
type ChatSender interface {
	Send(ctx context.Context, text string) error
}

// Path is the feed a redemption arrived through.
type Path string

const (
	PathPoll Path = "poll"
	PathPush Path = "push"
)

// Outcome is what reconciling one redemption did.
type Outcome string

const (
	OutcomeCredited  Outcome = "credited"
	OutcomeDuplicate Outcome = "duplicate"
	OutcomeInFlight  Outcome = "in_flight"
	OutcomeSkipped   Outcome = "skipped"
	OutcomeUnlinked  Outcome = "unlinked"
	OutcomeFailed    Outcome = "failed"
)

// Action is the effect Plan asks for.
type Action int

const (
	ActionSkip Action = iota
	ActionLinkAccount
	ActionCredit
)

// Decision is the effect reconciling a redemption should have.
type Decision struct {
	Action      Action
	Amount      int
	Description string
}

// Plan decides what to do with a redemption given the linked user, if any.
// It has no side effects; both feed paths go through it.
func Plan(r types.Redemption, user types.User, found bool) Decision {
	amount, ok := ExtractAmount(r.Reward.Title)
	if !ok {
		return Decision{Action: ActionSkip}
	}
	if !found {
		return Decision{Action: ActionLinkAccount, Amount: amount}
	}
	return Decision{
		Action:      ActionCredit,
		Amount:      amount,
		Description: fmt.Sprintf("Redeemed Twitch reward '%s'", r.Reward.Title),
	}
}

// Reconciler credits redemptions to the ledger exactly once, whether they
// arrive from polling, from EventSub, or from both.
type Reconciler struct {
	api     RewardsAPI
	ledger  database.RedemptionLedger
	chat    ChatSender
	catalog *CatalogSync
	logger  *logging.Logger
	now     func() time.Time

	mu           sync.Mutex
	inFlight     map[string]struct{}
	acknowledged map[string]time.Time
	notified     map[string]struct{}
}

func NewReconciler(api RewardsAPI, ledger database.RedemptionLedger, chat ChatSender, catalog *CatalogSync, logger *logging.Logger) *Reconciler {
	if logger == nil {
		logger = logging.Default()
	}
	return &Reconciler{
		api:          api,
		ledger:       ledger,
		chat:         chat,
		catalog:      catalog,
		logger:       logger.WithComponent("reconciler"),
		now:          time.Now,
		inFlight:     make(map[string]struct{}),
		acknowledged: make(map[string]time.Time),
		notified:     make(map[string]struct{}),
	}
}

// Reconcile applies one redemption. The ledger refuses a second credit for the
// same redemption id, so repeated calls only retry the acknowledgement.
func (r *Reconciler) Reconcile(ctx context.Context, path Path, red types.Redemption) (outcome Outcome, err error) {
	defer func() {
		metrics.RedemptionsTotal.WithLabelValues(string(path), string(outcome)).Inc()
	}()

	if !r.begin(red.ID) {
		return OutcomeInFlight, nil
	}
	defer r.end(red.ID)

	if r.isAcknowledged(red.ID) {
		return OutcomeDuplicate, nil
	}

	logger := r.logger.WithFields(map[string]interface{}{
		"path":         string(path),
		"redemptionID": red.ID,
		"reward":       red.Reward.Title,
		"twitchUser":   red.UserLogin,
	})

	if _, ok := ExtractAmount(red.Reward.Title); !ok {
		logger.Warn("skipping redemption", "error", ErrNoAmount.Error())
		return OutcomeSkipped, nil
	}

	user, err := r.ledger.FindUserByTwitchID(ctx, red.UserID)
	found := err == nil
	if err != nil && !errors.Is(err, database.ErrUserNotFound) {
		logger.Error("failed to look up redeemer", "error", err.Error())
		return OutcomeFailed, fmt.Errorf("failed to look up twitch user %s: %w", red.UserID, err)
	}

	decision := Plan(red, user, found)
	switch decision.Action {
	case ActionSkip:
		return OutcomeSkipped, nil
	case ActionLinkAccount:
		if r.firstNotice(red.ID) {
			logger.Info("redeemer has no linked account")
			r.say(ctx, linkAccountMessage(red))
		}
		return OutcomeUnlinked, nil
	}

	balance, applied, err := r.ledger.CreditRedemption(ctx, user.ID, red.ID, decision.Description, decision.Amount)
	if err != nil {
		logger.Error("failed to credit redemption", "error", err.Error())
		return OutcomeFailed, fmt.Errorf("failed to credit redemption %s: %w", red.ID, err)
	}

	if err := r.api.MarkFulfilled(ctx, red.ID, red.Reward.ID); err != nil {
		// the credit is recorded, a later poll retries the acknowledgement
		logger.Error("failed to mark redemption fulfilled", "error", err.Error(), "applied", applied)
		return OutcomeFailed, fmt.Errorf("failed to fulfill redemption %s: %w", red.ID, err)
	}
	r.acknowledge(red.ID)

	if !applied {
		logger.Info("redemption was already credited")
		return OutcomeDuplicate, nil
	}

	metrics.ClacksCredited.Add(float64(decision.Amount))
	logger.Info("redemption credited", "amount", decision.Amount, "balance", balance)
	r.say(ctx, confirmationMessage(user, red, decision.Amount, balance))
	return OutcomeCredited, nil
}

// PollOnce fetches pending redemptions of every known reward in parallel and
// reconciles them one at a time. Rewards whose fetch failed are retried on
// the next poll.
func (r *Reconciler) PollOnce(ctx context.Context) error {
	if err := r.ensureCatalog(ctx); err != nil {
		return err
	}
	rewardIDs := r.catalog.RewardIDs()
	pending := make([][]types.Redemption, len(rewardIDs))

	var g errgroup.Group
	g.SetLimit(pollConcurrency)
	for i, id := range rewardIDs {
		g.Go(func() error {
			redemptions, err := r.api.ListPendingRedemptions(ctx, id)
			if err != nil {
				r.logger.Error("failed to list pending redemptions", "rewardID", id, "error", err.Error())
				return fmt.Errorf("reward %s: %w", id, err)
			}
			pending[i] = redemptions
			return nil
		})
	}
	fetchErr := g.Wait()

	for _, redemptions := range pending {
		for _, red := range redemptions {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if _, err := r.Reconcile(ctx, PathPoll, red); err != nil {
				r.logger.Warn("redemption left for next poll", "redemptionID", red.ID, "error", err.Error())
			}
		}
	}
	return fetchErr
}

// RunPoller polls every interval until ctx is done.
func (r *Reconciler) RunPoller(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	r.logger.Info("redemption poller started", "interval", interval.String())
	for {
		select {
		case <-ctx.Done():
			r.logger.Info("redemption poller stopped")
			return
		case <-ticker.C:
			if err := r.PollOnce(ctx); err != nil && ctx.Err() == nil {
				r.logger.Error("redemption poll failed", "error", err.Error())
			}
		}
	}
}

// ProcessNotification reconciles redemptions pushed over EventSub.
func (r *Reconciler) ProcessNotification(ctx context.Context, n eventsub.Notification) {
	event, ok := n.Event.(eventsub.RedemptionAdd)
	if !ok {
		r.logger.Debug("ignoring notification", "type", n.Subscription.Type)
		return
	}

	red := event.Redemption()
	if err := r.ensureCatalog(ctx); err != nil {
		r.logger.Warn("pushed redemption left for the poller", "redemptionID", red.ID, "error", err.Error())
		return
	}
	if !r.catalog.Contains(red.Reward.ID) {
		r.logger.Debug("ignoring redemption of unmanaged reward", "rewardID", red.Reward.ID, "title", red.Reward.Title)
		return
	}

	if _, err := r.Reconcile(ctx, PathPush, red); err != nil {
		r.logger.Warn("pushed redemption left for the poller", "redemptionID", red.ID, "error", err.Error())
	}
}

// ensureCatalog retries the catalog sync when the rewards were never listed,
// so a failed startup sync does not wait for the periodic one.
func (r *Reconciler) ensureCatalog(ctx context.Context) error {
	if r.catalog.Synced() {
		return nil
	}
	r.logger.Info("reward catalog not loaded, syncing")
	if _, err := r.catalog.Sync(ctx); err != nil && !r.catalog.Synced() {
		return fmt.Errorf("reward catalog unavailable: %w", err)
	}
	return nil
}

// Name implements messagequeue.Consumer.
func (r *Reconciler) Name() string {
	return "redemption_reconciler"
}

func (r *Reconciler) begin(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, busy := r.inFlight[id]; busy {
		return false
	}
	r.inFlight[id] = struct{}{}
	return true
}

func (r *Reconciler) end(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.inFlight, id)
}

func (r *Reconciler) isAcknowledged(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.acknowledged[id]
	return ok
}

func (r *Reconciler) acknowledge(id string) {
	now := r.now()
	r.mu.Lock()
	defer r.mu.Unlock()
	for seen, at := range r.acknowledged {
		if now.Sub(at) > acknowledgedTTL {
			delete(r.acknowledged, seen)
		}
	}
	r.acknowledged[id] = now
	delete(r.notified, id)
}

// firstNotice reports whether the link reminder for id has not been sent yet.
func (r *Reconciler) firstNotice(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, sent := r.notified[id]; sent {
		return false
	}
	r.notified[id] = struct{}{}
	return true
}

func (r *Reconciler) say(ctx context.Context, text string) {
	if err := r.chat.Send(ctx, text); err != nil {
		r.logger.Error("failed to queue chat message", "error", err.Error())
	}
}

func confirmationMessage(user types.User, red types.Redemption, amount, balance int) string {
	return fmt.Sprintf("%s your \"%s\" reward has been processed! You've got credited %d clacks, you now have %d clacks.",
		user.ChatName(), red.Reward.Title, amount, balance)
}

func linkAccountMessage(red types.Redemption) string {
	return fmt.Sprintf("%s your \"%s\" reward is waiting for you! Link your Twitch account with /link on Discord and it will be credited.",
		red.UserLogin, red.Reward.Title)
}
