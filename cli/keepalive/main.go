package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/Soypete/clackbot/config"
	"github.com/Soypete/clackbot/keepalive"
	"github.com/Soypete/clackbot/logging"
)

func main() {
	var logLevel string
	flag.StringVar(&logLevel, "errorLevel", "info", "Log level (debug, info, warn, error)")
	flag.Parse()

	// Initialize logger
	logger := logging.NewLogger(logging.LogLevel(logLevel), os.Stdout)

	cfg, err := config.LoadKeepalive()
	if err != nil {
		logger.Error("failed to load config", "error", err.Error())
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		logger.Error("invalid config", "error", err.Error())
		os.Exit(1)
	}

	// Create Discord alerter to publish alerts
	alerter, err := keepalive.NewDiscordAlerter(cfg.DiscordToken, cfg.AlertChannelID, cfg.AlertUserID, logger)
	if err != nil {
		logger.Error("failed to create Discord alerter", "error", err.Error())
		os.Exit(1)
	}

	targets := []keepalive.Target{
		{
			Name:          "clackbot",
			HealthURL:     cfg.HealthURL,
			AuthHealthURL: cfg.AuthHealthURL,
		},
		{
			Name:      "clackbot overlay",
			HealthURL: cfg.StandingsURL,
		},
	}
	watchdog := keepalive.NewWatchdog(targets, cfg.CheckInterval, cfg.AlertInterval, alerter, logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("starting keepalive",
		"check_interval", cfg.CheckInterval.String(),
		"alert_interval", cfg.AlertInterval.String(),
		"targets", len(targets))

	if err := watchdog.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("keepalive error", "error", err.Error())
		os.Exit(1)
	}
	logger.Info("keepalive stopped")
}
