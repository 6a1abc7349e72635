// Package main is the gift protocol worker node: it drains the ingestion
// queue, runs the watchdog scans, and owns the database pool and bus client
// for the lifetime of the process.
package main

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"kithly/internal/bus"
	"kithly/internal/config"
	"kithly/internal/drainer"
	"kithly/internal/heartbeat"
	"kithly/internal/idempotency"
	"kithly/internal/repositories"
	"kithly/internal/reroute"
	"kithly/internal/statemachine"
	"kithly/internal/watchdog"
)

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.With().Str("service", "kithly-worker").Logger()

	config.LoadEnv()
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}

	db, err := repositories.Open(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("database unreachable")
	}
	defer func() {
		if err := repositories.Close(db); err != nil {
			log.Error().Err(err).Msg("failed to close database pool")
		}
	}()

	eventBus := bus.New(bus.NewClient(cfg.RedisAddr()))
	defer func() {
		if err := eventBus.Close(); err != nil {
			log.Error().Err(err).Msg("failed to close bus client")
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := eventBus.Ping(ctx); err != nil {
		log.Fatal().Err(err).Msg("event bus unreachable")
	}

	gifts := repositories.NewGiftRepository(db)
	shops := repositories.NewShopRepository(db)
	products := repositories.NewProductRepository(db)
	proofs := repositories.NewProofRepository(db)
	locks := repositories.NewInventoryLockRepository(db)

	guard := idempotency.NewGuard(gifts, cfg.IdempotencyWindow)
	machine := statemachine.New(gifts, proofs, cfg.EscrowTimeout)
	rerouter := reroute.New(gifts, shops, locks, eventBus, cfg.DefaultRadiusKM)

	ingest := drainer.New(eventBus, eventBus, eventBus, guard, gifts, products,
		cfg.AcceptanceWindow, cfg.DeadLetterQueue)
	dog := watchdog.New(gifts, locks, machine, rerouter, eventBus, watchdog.Config{
		Interval:           cfg.WatchdogInterval,
		BatchSize:          cfg.WatchdogBatchSize,
		ForceCallThreshold: cfg.ForceCallThreshold,
		RerouteThreshold:   cfg.RerouteThreshold,
	})

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		ingest.Run(ctx)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		dog.Run(ctx)
	}()

	var hb *heartbeat.Server
	if cfg.HeartbeatAddr != "" {
		hb = heartbeat.New(cfg.HeartbeatAddr, db, eventBus)
		wg.Add(1)
		go func() {
			defer wg.Done()
			hb.Run()
		}()
	}

	log.Info().Int("pool_size", cfg.DBPoolSize).Str("bus", cfg.RedisAddr()).
		Msg("worker node started")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.Info().Str("signal", sig.String()).Msg("shutting down")

	cancel()
	if hb != nil {
		hb.Shutdown()
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		log.Info().Msg("shutdown complete")
	case <-time.After(30 * time.Second):
		log.Warn().Msg("shutdown timed out with tasks still draining")
	}
}
