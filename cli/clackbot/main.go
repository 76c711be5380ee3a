package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/Soypete/clackbot/config"
	database "github.com/Soypete/clackbot/database"
	"github.com/Soypete/clackbot/discord"
	"github.com/Soypete/clackbot/logging"
	"github.com/Soypete/clackbot/metrics"
	"github.com/Soypete/clackbot/rewards"
	"github.com/Soypete/clackbot/server"
	twitchirc "github.com/Soypete/clackbot/twitch"
	"github.com/Soypete/clackbot/twitch/eventsub"
	"github.com/Soypete/clackbot/twitch/helix"
	"github.com/Soypete/clackbot/twitch/messagequeue"
	"github.com/Soypete/clackbot/wpm"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
)

const (
	// restartDelay is the pause before reconnecting chat or EventSub.
	restartDelay = 5 * time.Second

	discordAuto = "auto"
	discordOff  = "off"
)

func main() {
	var logLevel string
	var rewardsPath string
	var discordMode string

	flag.StringVar(&logLevel, "errorLevel", "info", "Log level (debug, info, warn, error)")
	flag.StringVar(&rewardsPath, "rewards", "", "Path to the reward catalog file (overrides REWARDS_CONFIG)")
	flag.StringVar(&discordMode, "discordMode", discordAuto, "Discord bot: auto (on when DISCORD_TOKEN is set) or off")
	flag.Parse()

	// Initialize logger
	logger := logging.NewLogger(logging.LogLevel(logLevel), os.Stdout)

	if discordMode != discordAuto && discordMode != discordOff {
		logger.Error("invalid discordMode", "discordMode", discordMode)
		os.Exit(1)
	}

	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load config", "error", err.Error())
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		logger.Error("invalid config", "error", err.Error())
		os.Exit(1)
	}
	if rewardsPath != "" {
		cfg.RewardsConfig = rewardsPath
	}

	desired := rewards.DefaultCatalog()
	if cfg.RewardsConfig != "" {
		desired, err = rewards.LoadCatalog(cfg.RewardsConfig)
		if err != nil {
			logger.Error("failed to load reward catalog", "error", err.Error(), "path", cfg.RewardsConfig)
			os.Exit(1)
		}
		logger.Info("loaded reward catalog", "path", cfg.RewardsConfig, "rewards", len(desired))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// listen and serve for metrics server.
	metricsServer := metrics.SetupServer(cfg.MetricsAddr)

	db, err := database.NewPostgres(cfg.DatabaseURL, logger)
	if err != nil {
		logger.Error("failed to connect to postgres", "error", err.Error())
		os.Exit(1)
	}
	defer db.Close()

	tokens := twitchirc.NewTokenSource(ctx, twitchirc.TokenConfig{
		ClientID:     cfg.TwitchClientID,
		ClientSecret: cfg.TwitchSecret,
		AccessToken:  cfg.TwitchToken,
		RefreshToken: cfg.TwitchRefreshToken,
	})
	// Register auth health endpoint
	metricsServer.RegisterAuthHealthHandler(tokens.AuthHealthHandler(logger))
	logger.Debug("auth health endpoint registered at /healthz/auth")

	api := helix.NewClient(cfg.TwitchClientID, tokens, "", logger)
	broadcasterID, err := api.GetUserIDByLogin(ctx, cfg.TwitchChannel)
	if err != nil {
		logger.Error("failed to resolve broadcaster", "error", errors.Wrap(err, cfg.TwitchChannel).Error())
		os.Exit(1)
	}
	api.SetBroadcasterID(broadcasterID)
	logger.Info("resolved broadcaster", "channel", cfg.TwitchChannel, "broadcasterID", broadcasterID)

	game := wpm.NewGame()
	live := wpm.NewLiveMetric()
	chat := twitchirc.NewChat(cfg.TwitchChannel, cfg.TwitchBotUsername, tokens, twitchirc.NewRouter(cfg.TwitchChannel, game), logger)

	catalog := rewards.NewCatalogSync(api, desired, logger)
	if _, err := catalog.Sync(ctx); err != nil {
		// rewards that exist are still served, the periodic sync retries the rest
		logger.Error("initial reward catalog sync failed", "error", err.Error())
	}
	reconciler := rewards.NewReconciler(api, db, chat, catalog, logger)

	broker := messagequeue.NewBroker(messagequeue.DefaultQueueSize, logger)
	broker.Subscribe(reconciler)
	listener := eventsub.NewListener(cfg.EventSubURL, api, broker, logger)

	var linker *discord.Linker
	var accountLinker server.AccountLinker
	if cfg.DiscordClientID != "" && cfg.DiscordSecret != "" && cfg.DiscordRedirectURI != "" {
		linker = discord.NewLinker(cfg.DiscordClientID, cfg.DiscordSecret, cfg.DiscordRedirectURI, db, logger)
		accountLinker = linker
	} else {
		logger.Warn("discord account linking disabled, DISCORD_CLIENT_ID, DISCORD_SECRET and DISCORD_REDIRECT_URI are required")
	}
	httpServer := server.New(cfg.ListenAddr(), game, live, chat, accountLinker, logger)

	g, ctx := errgroup.WithContext(ctx)
	wg := &sync.WaitGroup{}
	broker.Start(ctx, wg)

	g.Go(func() error { return metricsServer.Run(ctx) })
	g.Go(func() error { return httpServer.Run(ctx) })
	g.Go(func() error {
		runChat(ctx, chat, logger)
		return nil
	})
	g.Go(func() error {
		listener.Supervise(ctx, restartDelay)
		return nil
	})
	g.Go(func() error {
		reconciler.RunPoller(ctx, cfg.RedemptionPollInterval)
		return nil
	})
	g.Go(func() error {
		catalog.RunPeriodic(ctx, cfg.CatalogSyncInterval)
		return nil
	})

	if discordMode == discordAuto && cfg.DiscordEnabled() {
		bot, err := discord.Setup(cfg.DiscordToken, db, linker, logger)
		if err != nil {
			logger.Error("failed to setup discord session", "error", err.Error())
		} else {
			g.Go(func() error {
				bot.Run(ctx)
				return nil
			})
		}
	}

	logger.Info("Press Ctrl+C to exit")
	if err := g.Wait(); err != nil {
		logger.Error("shutting down after failure", "error", err.Error())
	}
	wg.Wait()
	logger.Info("Shutting down")
}

// runChat keeps the IRC connection up until ctx is done.
func runChat(ctx context.Context, chat *twitchirc.Chat, logger *logging.Logger) {
	for {
		err := chat.Run(ctx)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			logger.Error("twitch chat failed, reconnecting", "error", err.Error(), "delay", restartDelay.String())
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(restartDelay):
		}
	}
}
