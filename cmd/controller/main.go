// Command controller wires the Order Execution Core into a running
// process: store, broker chain, execution engine, queue worker,
// reconciler, and lifecycle controller, with graceful shutdown on
// SIGINT/SIGTERM. Bootstrap structure grounded on cmd/main.go.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/web3guy0/polybot/internal/broker"
	"github.com/web3guy0/polybot/internal/clock"
	"github.com/web3guy0/polybot/internal/config"
	"github.com/web3guy0/polybot/internal/events"
	"github.com/web3guy0/polybot/internal/execution"
	"github.com/web3guy0/polybot/internal/lifecycle"
	"github.com/web3guy0/polybot/internal/processors"
	"github.com/web3guy0/polybot/internal/queue"
	"github.com/web3guy0/polybot/internal/ratelimit"
	"github.com/web3guy0/polybot/internal/reconcile"
	"github.com/web3guy0/polybot/internal/store"
	"github.com/web3guy0/polybot/internal/universe"
)

func main() {
	// ═══════════════════════════════════════════════════════════════
	// BOOTSTRAP
	// ═══════════════════════════════════════════════════════════════

	cfg, err := config.Load()
	if err != nil {
		// zerolog isn't configured yet; this one line goes to stderr raw.
		println("config: " + err.Error())
		os.Exit(1)
	}

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"})
	if cfg.Debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	} else {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}

	log.Info().Msg("order execution core starting")

	// ═══════════════════════════════════════════════════════════════
	// LAYER 1: STORE
	// ═══════════════════════════════════════════════════════════════

	var s store.Store
	switch cfg.StoreDriver {
	case config.StoreDriverMemory:
		s = store.NewMemoryStore()
	default:
		gs, err := store.Open(cfg.DatabaseURL)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to open store")
		}
		s = gs
	}
	log.Info().Str("driver", string(cfg.StoreDriver)).Msg("store ready")

	// ═══════════════════════════════════════════════════════════════
	// LAYER 2: BROKER (rate-limited + circuit-broken)
	// ═══════════════════════════════════════════════════════════════

	clk := clock.Real{}

	var bc broker.Client
	if cfg.BrokerDriver == config.BrokerDriverScripted {
		bc = broker.NewScriptedClient()
	} else {
		bc = broker.NewAlpacaAdapter(cfg.AlpacaKeyID, cfg.AlpacaSecret, cfg.AlpacaBaseURL)
	}

	limiter := ratelimit.NewLimiter(map[string]ratelimit.Rule{
		"createOrder|engine": {PerMinute: cfg.BrokerRateLimitRPS * 60, PerHour: cfg.BrokerRateLimitRPS * 3600, Cooldown: 0},
	})
	rateLimited := ratelimit.NewRateLimitedClient(bc, limiter, clk, "engine")
	breakered := ratelimit.NewBreakerClientWithSettings(rateLimited, "broker", ratelimit.BreakerSettings{
		MaxRequests:         cfg.BreakerMaxRequests,
		Interval:            cfg.BreakerInterval,
		Timeout:             cfg.BreakerTimeout,
		ConsecutiveFailures: 5,
		FailureRatio:        cfg.BreakerFailureRatio,
	})
	bc = breakered
	log.Info().Str("driver", string(cfg.BrokerDriver)).Msg("broker client ready")

	// ═══════════════════════════════════════════════════════════════
	// LAYER 3: ASSET UNIVERSE + EVENT SINKS
	// ═══════════════════════════════════════════════════════════════

	uc := universe.NewCache()
	if err := uc.Refresh(context.Background(), bc, cfg.AssetClass); err != nil {
		log.Warn().Err(err).Msg("initial asset universe sync failed, starting with an empty cache")
	}

	sinks := []events.Sink{events.LogSink{}}
	if cfg.TelegramToken != "" {
		if tg, err := events.NewTelegramSink(cfg.TelegramToken, cfg.TelegramChatID); err != nil {
			log.Warn().Err(err).Msg("telegram event sink unavailable")
		} else {
			sinks = append(sinks, tg)
			log.Info().Msg("telegram event sink ready")
		}
	}
	sink := events.Multi{Sinks: sinks}

	// ═══════════════════════════════════════════════════════════════
	// LAYER 4: EXECUTION ENGINE
	// ═══════════════════════════════════════════════════════════════

	engine := execution.NewEngine(bc, uc, clk, sink, execution.Config{
		MaxSubmitRetries: cfg.SubmitMaxRetries,
		SubmitTimeout:    cfg.SubmitTimeout,
		PollInterval:     cfg.PollInterval,
		MonitorBudget:    cfg.MonitorBudget,
	})
	log.Info().Msg("execution engine ready")

	// ═══════════════════════════════════════════════════════════════
	// LAYER 5: PROCESSORS + QUEUE WORKER
	// ═══════════════════════════════════════════════════════════════

	p := &processors.Processors{Store: s, Broker: bc, Engine: engine, Universe: uc, Events: sink, Clock: clk}
	worker := queue.NewWorker(s, clk, p.Register())
	worker.Interval = cfg.WorkerInterval
	worker.Types = processors.CoreTypes()
	log.Info().Msg("queue worker ready")

	// ═══════════════════════════════════════════════════════════════
	// LAYER 6: RECONCILER + LIFECYCLE CONTROLLER
	// ═══════════════════════════════════════════════════════════════

	reconciler := reconcile.NewReconciler(s, bc, clk)
	reconciler.SyncInterval = cfg.ReconcileSyncInterval
	reconciler.UnrealInterval = cfg.ReconcileUnrealInterval
	reconciler.StaleActiveAfter = cfg.ReconcileStaleAfter

	controller := lifecycle.NewController(s, worker, reconciler, p)

	// ═══════════════════════════════════════════════════════════════
	// START
	// ═══════════════════════════════════════════════════════════════

	ctx, cancel := context.WithCancel(context.Background())
	controller.Start(ctx)
	log.Info().Msg("order execution core running")

	// ═══════════════════════════════════════════════════════════════
	// GRACEFUL SHUTDOWN
	// ═══════════════════════════════════════════════════════════════

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Warn().Msg("shutdown signal received")
	cancel()

	stopped := make(chan struct{})
	go func() {
		controller.Stop()
		close(stopped)
	}()

	select {
	case <-stopped:
		log.Info().Msg("shutdown complete")
	case <-time.After(30 * time.Second):
		log.Warn().Msg("shutdown timed out; exiting anyway")
	}
}
