package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/user/dealtracker/internal/alerts"
	"github.com/user/dealtracker/internal/api"
	"github.com/user/dealtracker/internal/config"
	"github.com/user/dealtracker/internal/notifier"
	"github.com/user/dealtracker/internal/pipeline"
	"github.com/user/dealtracker/internal/resolver"
	"github.com/user/dealtracker/internal/scheduler"
	"github.com/user/dealtracker/internal/storage"
	"github.com/user/dealtracker/internal/telegram"
	"github.com/user/dealtracker/pkg/logger"
)

func main() {
	// Parse command-line flags
	configPath := flag.String("config", "", "Path to configuration file")
	runOnce := flag.String("run", "", "Run one stage ("+pipeline.StageUpdatePrices+", "+pipeline.StageDiscoverDeals+
		", "+pipeline.StageCheckAlerts+" or "+pipeline.StageCleanup+") and exit")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		// Try to initialize basic logger for error output
		logger.Init("debug", "")
		logger.Fatal().Err(err).Msg("Failed to load configuration")
	}

	// Initialize logger
	if err := logger.Init(cfg.Log.Level, cfg.Log.File); err != nil {
		panic("Failed to initialize logger: " + err.Error())
	}

	logger.Info().
		Str("region", cfg.Pipeline.Region).
		Dur("retention", cfg.Retention()).
		Msg("Starting deal tracker")

	// Initialize database
	db, err := storage.NewDatabase(cfg.Database.Path)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to initialize database")
	}
	defer db.Close()

	if err := db.Repository().SeedStores(context.Background(), storage.DefaultStores); err != nil {
		logger.Fatal().Err(err).Msg("Failed to seed stores")
	}
	logger.Info().Str("path", cfg.Database.Path).Msg("Database initialized")

	// Telegram is optional; without it alerts are only logged.
	var (
		bot    *telegram.Bot
		notify alerts.Notifier = notifier.LogNotifier{}
	)
	if cfg.Telegram.Token != "" {
		bot, err = telegram.NewBot(cfg.Telegram.Token, cfg.Telegram.Debug, db, cfg.Pipeline.Region)
		if err != nil {
			logger.Fatal().Err(err).Msg("Failed to initialize Telegram bot")
		}
		notify = notifier.NewNotifier(bot.GetAPI())
	} else {
		logger.Warn().Msg("No Telegram token configured, price alerts will only be logged")
	}

	// Pipeline and scheduler
	sources := pipeline.BuildSources(context.Background(), cfg, db)
	pipe := pipeline.New(db, cfg.Pipeline, sources, resolver.New(cfg.Providers.StoreMap), notify)
	defer pipe.Close()

	sched := scheduler.New()
	stages := pipe.Stages()
	intervals := map[string]time.Duration{
		pipeline.StageUpdatePrices:  cfg.Schedule.PriceUpdate,
		pipeline.StageDiscoverDeals: cfg.Schedule.DealDiscovery,
		pipeline.StageCheckAlerts:   cfg.Schedule.AlertCheck,
		pipeline.StageCleanup:       cfg.Schedule.Cleanup,
	}
	for name, interval := range intervals {
		if err := sched.Add(name, interval, stages[name]); err != nil {
			logger.Fatal().Err(err).Str("job", name).Msg("Failed to schedule job")
		}
	}

	if *runOnce != "" {
		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		if _, err := sched.RunNow(ctx, *runOnce); err != nil {
			logger.Error().Err(err).Str("job", *runOnce).Msg("Stage failed")
			os.Exit(1)
		}
		return
	}

	// Start HTTP server
	server := &http.Server{
		Addr:    cfg.ServerAddress(),
		Handler: api.NewHandler(db, cfg.Pipeline.Region, sched).Router(),
	}

	go func() {
		logger.Info().Str("address", cfg.ServerAddress()).Msg("Starting HTTP server")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("HTTP server error")
		}
	}()

	sched.Start()

	// Start Telegram bot
	if bot != nil {
		bot.Start()
	}

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	logger.Info().Msg("Shutting down...")

	// Graceful shutdown
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// Stop HTTP server
	if err := server.Shutdown(ctx); err != nil {
		logger.Error().Err(err).Msg("HTTP server shutdown error")
	}

	// Running stages are cancelled and rolled back
	sched.Stop()

	// Stop Telegram bot
	if bot != nil {
		bot.Stop()
	}

	logger.Info().Msg("Shutdown complete")
}
