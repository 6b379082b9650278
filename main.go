package main

import (
	"context"
	"database/sql"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	_ "github.com/lib/pq"

	"github.com/ProtocolCHecker/riskmon/alerts"
	"github.com/ProtocolCHecker/riskmon/catalog"
	"github.com/ProtocolCHecker/riskmon/config"
	"github.com/ProtocolCHecker/riskmon/dispatch"
	"github.com/ProtocolCHecker/riskmon/fetchers"
	"github.com/ProtocolCHecker/riskmon/logger"
	"github.com/ProtocolCHecker/riskmon/registry"
	"github.com/ProtocolCHecker/riskmon/store"
)

func main() {
	_ = godotenv.Load()

	cfg := config.Load()
	log := logger.New(cfg.LogLevel)
	log.Info().Msg("risk monitor starting")

	if cfg.DatabaseURL == "" {
		log.Fatal().Msg("DATABASE_URL is required")
	}

	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open database")
	}
	if err := db.Ping(); err != nil {
		log.Fatal().Err(err).Msg("failed to ping database")
	}
	defer db.Close()

	thresholds := catalog.NewThresholds()
	assetRegistry := registry.New(db)
	metricStore := store.New(db)
	alertEngine := alerts.NewEngine(db, thresholds, cfg.SuppressionWindow, log)

	clients := fetchers.NewClients(cfg.RPCURLs, cfg.SubgraphURL,
		cfg.QuoteAPIURL, cfg.QuoteAPIKey, cfg.ExplorerURL, cfg.ExplorerKey)
	defer clients.Close()

	fetcherList := []fetchers.Fetcher{
		fetchers.NewOracleFetcher(clients),
		fetchers.NewReserveFetcher(clients),
		fetchers.NewLiquidityFetcher(clients),
		fetchers.NewLendingFetcher(clients),
		fetchers.NewDistributionFetcher(clients),
		fetchers.NewMarketFetcher(clients),
	}

	dispatcher := dispatch.New(assetRegistry, metricStore, alertEngine, fetcherList, dispatch.Options{
		PoolSize:     cfg.WorkerPoolSize,
		UnitDeadline: cfg.UnitDeadline,
		MaxRetries:   cfg.MaxRetries,
		RetryBase:    cfg.RetryBase,
		RetryCap:     cfg.RetryCap,
	}, log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	worker := NewWorker(log)
	worker.Register(dispatch.NewJob(dispatcher, catalog.ClassCritical, cfg.CriticalInterval))
	worker.Register(dispatch.NewJob(dispatcher, catalog.ClassHigh, cfg.HighInterval))
	worker.Register(dispatch.NewJob(dispatcher, catalog.ClassMedium, cfg.MediumInterval))
	worker.Register(dispatch.NewJob(dispatcher, catalog.ClassDaily, cfg.DailyInterval))

	transport := alerts.NewService(cfg.TelegramBotToken, cfg.TelegramChatID, cfg.SlackWebhookURL)
	if transport.Configured() {
		worker.Register(alerts.NewNotifier(db, transport, cfg.CriticalInterval, cfg.NotifyRetryCap, log))
	} else {
		log.Warn().Msg("no notification transport configured, alerts stay pending")
	}

	worker.Start(ctx)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan

	log.Info().Str("signal", sig.String()).Msg("shutting down")
	cancel()
	worker.Wait()
	worker.Close()
	log.Info().Msg("monitors stopped gracefully")
}
