package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"family-custody/internal/chains"
	"family-custody/internal/config"
	"family-custody/internal/database"
	"family-custody/internal/emitters"
	"family-custody/internal/health"
	"family-custody/internal/logger"
	"family-custody/internal/models"
	"family-custody/internal/provider"
	"family-custody/internal/reconcile"
	"family-custody/internal/saga"
	"family-custody/internal/server"
)

func main() {
	defer func() {
		if r := recover(); r != nil {
			logger.GetLogger().Error().Interface("panic", r).Msg("Application panicked, recovering")
		}
	}()

	cfg, err := config.Load()
	if err != nil {
		logger.GetLogger().Fatal().Err(err).Msg("Failed to load configuration")
	}

	logger.Init(cfg.LogLevel)
	log := logger.GetLogger()

	if err := database.InitDB(cfg.Database); err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize database")
	}
	defer database.Close()

	if err := database.RunMigrations(cfg.Database); err != nil {
		log.Fatal().Err(err).Msg("Failed to run migrations")
	}
	store := database.NewStore()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	baseClient, err := chains.Dial(ctx, models.Base, cfg.Chains[models.Base].RpcEndpoint, cfg.SignerKey, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Base")
	}
	celoClient, err := chains.Dial(ctx, models.Celo, cfg.Chains[models.Celo].RpcEndpoint, cfg.SignerKey, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Celo")
	}
	sapphireClient, err := chains.Dial(ctx, models.Sapphire, cfg.Chains[models.Sapphire].RpcEndpoint, cfg.SignerKey, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Sapphire")
	}

	registry, err := chains.NewWalletRegistry(baseClient, cfg.Chains[models.Base].Contract)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to bind wallet registry contract")
	}
	vault, err := chains.NewFamilyVault(celoClient, cfg.Chains[models.Celo].Contract)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to bind family vault contract")
	}
	dataStore, err := chains.NewChildDataStore(sapphireClient, cfg.Chains[models.Sapphire].Contract)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to bind child data store contract")
	}

	walletProvider := provider.NewClient(cfg.Privy.BaseURL, cfg.Privy.AppID, cfg.Privy.AppSecret,
		cfg.Privy.RateLimit, cfg.HTTP.Timeout, log)

	kafkaEmitter := emitters.NewKafkaEmitter(cfg.Kafka.BrokerAddress, cfg.Kafka.Topic)
	defer kafkaEmitter.Close()
	emitter := &emitters.LogEmitter{Wrapped: kafkaEmitter}

	creator := saga.New(walletProvider, registry, vault, dataStore, store, log)
	reconciler := reconcile.New(vault, dataStore, walletProvider, store, store, emitter,
		cfg.Reconcile.LookbackBlocks, log)

	go reconciler.RunLoop(ctx, cfg.Reconcile.CheckInterval)

	health.WatchChain(ctx, models.Base, baseClient)
	health.WatchChain(ctx, models.Celo, celoClient)
	health.WatchChain(ctx, models.Sapphire, sapphireClient)
	health.SetReady(true)

	srv := server.New(creator, reconciler, store, emitter,
		cfg.Privy.WebhookSecret, cfg.Port, cfg.HTTP.Timeout, log)

	go func() {
		if err := srv.Start(); err != nil {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down")
	health.SetReady(false)
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown failed")
	}
}
