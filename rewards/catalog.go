package rewards

import (
	"context"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/Soypete/clackbot/logging"
	"github.com/Soypete/clackbot/metrics"
	"github.com/Soypete/clackbot/types"
	"gopkg.in/yaml.v3"
)

const (
	defaultBackgroundColor = "#6441A4"
	defaultImageURL1x      = "https://static-cdn.jtvnw.net/custom-reward-images/default-1.png"
	defaultImageURL2x      = "https://static-cdn.jtvnw.net/custom-reward-images/default-2.png"
	defaultImageURL4x      = "https://static-cdn.jtvnw.net/custom-reward-images/default-4.png"
)

// DesiredReward is a reward the channel should offer.
type DesiredReward struct {
	Title  string `yaml:"title"`
	Cost   int    `yaml:"cost"`
	Prompt string `yaml:"prompt"`
}

// CatalogConfig is the rewards file layout.
type CatalogConfig struct {
	Rewards []DesiredReward `yaml:"rewards"`
}

// DefaultCatalog is the reward list used when no rewards file is given.
func DefaultCatalog() []DesiredReward {
	return []DesiredReward{
		{Title: "3 Clacks", Cost: 100, Prompt: "3 Clacks"},
		{Title: "10 Clacks", Cost: 350, Prompt: "10 Clacks"},
		{Title: "20 Clacks", Cost: 600, Prompt: "20 Clacks"},
	}
}

// LoadCatalog reads the desired rewards from a YAML file.
func LoadCatalog(path string) ([]DesiredReward, error) {
	if path == "" {
		return nil, fmt.Errorf("rewards path cannot be empty")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read rewards file %s: %w", path, err)
	}

	var cfg CatalogConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse rewards YAML: %w", err)
	}

	if err := validateCatalog(cfg.Rewards); err != nil {
		return nil, fmt.Errorf("invalid rewards file: %w", err)
	}
	return cfg.Rewards, nil
}

func validateCatalog(rewards []DesiredReward) error {
	if len(rewards) == 0 {
		return fmt.Errorf("no rewards defined")
	}

	seen := make(map[string]bool, len(rewards))
	for i, r := range rewards {
		if r.Title == "" {
			return fmt.Errorf("reward %d: title is required", i)
		}
		if seen[r.Title] {
			return fmt.Errorf("reward %d: duplicate title %q", i, r.Title)
		}
		seen[r.Title] = true
		if r.Cost < 1 {
			return fmt.Errorf("reward %q: cost must be at least 1", r.Title)
		}
		if _, ok := ExtractAmount(r.Title); !ok {
			return fmt.Errorf("reward %q: %w", r.Title, ErrNoAmount)
		}
	}
	return nil
}

// NewRewardSettings is the create request for d with the default presentation:
// no stream caps and no cooldown.
func NewRewardSettings(d DesiredReward) types.RewardSettings {
	return types.RewardSettings{
		Title:           d.Title,
		Cost:            d.Cost,
		Prompt:          d.Prompt,
		IsEnabled:       true,
		BackgroundColor: defaultBackgroundColor,
		Image: &types.Image{
			URL1x: defaultImageURL1x,
			URL2x: defaultImageURL2x,
			URL4x: defaultImageURL4x,
		},
	}
}

// SyncResult contains statistics about a sync operation
type SyncResult struct {
	Existing int
	Created  []string
	Errors   []error
	Duration time.Duration
}

// CatalogSync makes sure every desired reward exists on the channel. It
// never updates or deletes rewards, and it remembers the channel's rewards
// so the reconciler knows which ones to poll.
type CatalogSync struct {
	api     RewardsAPI
	desired []DesiredReward
	logger  *logging.Logger

	mu     sync.RWMutex
	known  map[string]types.Reward
	synced bool
}

func NewCatalogSync(api RewardsAPI, desired []DesiredReward, logger *logging.Logger) *CatalogSync {
	if logger == nil {
		logger = logging.Default()
	}
	if len(desired) == 0 {
		desired = DefaultCatalog()
	}
	return &CatalogSync{
		api:     api,
		desired: desired,
		logger:  logger.WithComponent("catalog_sync"),
		known:   make(map[string]types.Reward),
	}
}

// Sync creates the desired rewards missing from the channel, matching by
// exact title. Running it again against the same channel creates nothing.
func (s *CatalogSync) Sync(ctx context.Context) (*SyncResult, error) {
	start := time.Now()
	result := &SyncResult{}

	remote, err := s.api.ListRewards(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list rewards: %w", err)
	}

	byTitle := make(map[string]bool, len(remote))
	for _, r := range remote {
		byTitle[r.Title] = true
	}

	for _, d := range s.desired {
		if byTitle[d.Title] {
			result.Existing++
			continue
		}

		s.logger.Info("creating reward", "title", d.Title, "cost", d.Cost)
		created, err := s.api.CreateReward(ctx, NewRewardSettings(d))
		if err != nil {
			s.logger.Error("failed to create reward", "title", d.Title, "error", err.Error())
			result.Errors = append(result.Errors, fmt.Errorf("create %q: %w", d.Title, err))
			continue
		}
		metrics.RewardsCreatedCount.Add(1)
		byTitle[created.Title] = true
		remote = append(remote, created)
		result.Created = append(result.Created, created.Title)
	}

	s.setKnown(remote)
	result.Duration = time.Since(start)

	s.logger.Info("reward catalog synced",
		"existing", result.Existing,
		"created", len(result.Created),
		"errors", len(result.Errors),
		"duration", result.Duration.String(),
	)

	if len(result.Errors) > 0 {
		return result, fmt.Errorf("failed to create %d of %d rewards", len(result.Errors), len(s.desired))
	}
	return result, nil
}

// RunPeriodic syncs every interval until ctx is done.
func (s *CatalogSync) RunPeriodic(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("stopping periodic catalog sync")
			return
		case <-ticker.C:
			if _, err := s.Sync(ctx); err != nil {
				s.logger.Error("periodic catalog sync failed", "error", err.Error())
			}
		}
	}
}

func (s *CatalogSync) setKnown(rewards []types.Reward) {
	known := make(map[string]types.Reward, len(rewards))
	for _, r := range rewards {
		known[r.ID] = r
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.known = known
	s.synced = true
}

// Synced reports whether the channel's rewards have been listed at least once.
func (s *CatalogSync) Synced() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.synced
}

// RewardIDs returns the ids of the channel's manageable rewards in a stable order.
func (s *CatalogSync) RewardIDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]string, 0, len(s.known))
	for id := range s.known {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Contains reports whether id belongs to the channel's manageable rewards.
func (s *CatalogSync) Contains(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.known[id]
	return ok
}
