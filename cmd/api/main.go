package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/lotopoints/backend/api/routes"
	"github.com/lotopoints/backend/internal/bets"
	"github.com/lotopoints/backend/internal/idempotency"
	"github.com/lotopoints/backend/internal/ledger"
	"github.com/lotopoints/backend/internal/notify"
	"github.com/lotopoints/backend/internal/payout"
	"github.com/lotopoints/backend/internal/results"
	"github.com/lotopoints/backend/internal/reward"
	"github.com/lotopoints/backend/internal/settlement"
	"github.com/lotopoints/backend/internal/transfer"
	"github.com/lotopoints/backend/pkg/config"
	"github.com/lotopoints/backend/pkg/db"
	"github.com/lotopoints/backend/pkg/logger"
	"github.com/lotopoints/backend/pkg/metrics"
	"github.com/lotopoints/backend/pkg/migrate"
	"github.com/lotopoints/backend/pkg/outbox"
	"github.com/lotopoints/backend/pkg/redis"
)

func main() {
	logg := logger.New(logger.Options{ServiceName: "api"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: "api",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	dbClient, err := db.New(context.Background(), cfg.DB, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap database", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing database", err)
		}
	}()

	if err := migrate.MaybeRunDev(context.Background(), cfg, logg, dbClient); err != nil {
		logg.Error(context.Background(), "failed to run dev migrations", err)
		os.Exit(1)
	}

	redisClient, err := redis.New(context.Background(), cfg.Redis, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap redis", err)
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing redis", err)
		}
	}()

	ledgerMetrics := metrics.NewLedgerMetrics(prometheus.DefaultRegisterer)
	outboxService := outbox.NewService(outbox.NewRepository(dbClient.DB()), logg)

	guard, err := idempotency.NewGuard(redisClient, cfg.Idempotency, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to create idempotency guard", err)
		os.Exit(1)
	}

	accountRepo := ledger.NewAccountRepository(dbClient.DB())
	transactionRepo := ledger.NewTransactionRepository(dbClient.DB())
	betRepo := bets.NewRepository(dbClient.DB())
	resultRepo := results.NewRepository(dbClient.DB())
	settlementRepo := settlement.NewRepository(dbClient.DB())
	payoutRepo := payout.NewRepository(dbClient.DB())

	ledgerService, err := ledger.NewService(ledger.ServiceParams{
		Accounts:     accountRepo,
		Transactions: transactionRepo,
		Logger:       logg,
		Metrics:      ledgerMetrics,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create ledger service", err)
		os.Exit(1)
	}

	transferService, err := transfer.NewService(transfer.ServiceParams{
		Ledger:       ledgerService,
		Transactions: transactionRepo,
		TxRunner:     dbClient,
		Guard:        guard,
		Outbox:       outboxService,
		Notifier:     notify.NewLogSink(logg),
		Cache:        redisClient,
		Config:       cfg.Transfer,
		Logger:       logg,
		Metrics:      ledgerMetrics,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create transfer service", err)
		os.Exit(1)
	}

	betService, err := bets.NewService(bets.ServiceParams{
		Repo:         betRepo,
		Ledger:       ledgerService,
		Transactions: transactionRepo,
		TxRunner:     dbClient,
		Outbox:       outboxService,
		Logger:       logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create bet service", err)
		os.Exit(1)
	}

	calculator, err := reward.NewBaseRatioCalculator(cfg.Settlement.SpreadCount)
	if err != nil {
		logg.Error(context.Background(), "failed to create reward calculator", err)
		os.Exit(1)
	}

	settlementService, err := settlement.NewService(settlement.ServiceParams{
		Repo:         settlementRepo,
		Results:      resultRepo,
		Ledger:       ledgerService,
		Transactions: transactionRepo,
		TxRunner:     dbClient,
		Outbox:       outboxService,
		Calculator:   calculator,
		Config:       cfg.Settlement,
		Logger:       logg,
		Metrics:      ledgerMetrics,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create settlement service", err)
		os.Exit(1)
	}

	resultService, err := results.NewService(results.ServiceParams{
		Repo:     resultRepo,
		TxRunner: dbClient,
		Reverser: settlementService,
		Logger:   logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create result service", err)
		os.Exit(1)
	}

	payoutService, err := payout.NewService(payout.ServiceParams{
		Repo:         payoutRepo,
		Bets:         betRepo,
		Ledger:       ledgerService,
		Transactions: transactionRepo,
		TxRunner:     dbClient,
		Guard:        guard,
		Outbox:       outboxService,
		Logger:       logg,
		Metrics:      ledgerMetrics,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create payout service", err)
		os.Exit(1)
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	addr := ":" + port
	ctx := logg.WithFields(context.Background(), map[string]any{
		"env":  cfg.App.Env,
		"addr": addr,
	})
	logg.Info(ctx, "starting api server")

	server := &http.Server{
		Addr: addr,
		Handler: routes.NewRouter(cfg, logg, dbClient, redisClient, routes.Services{
			Ledger:     ledgerService,
			Transfer:   transferService,
			Bets:       betService,
			Results:    resultService,
			Settlement: settlementService,
			Payout:     payoutService,
		}),
	}

	shutdownCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			logg.Error(ctx, "api server stopped unexpectedly", err)
			os.Exit(1)
		}
	case <-shutdownCtx.Done():
		logg.Info(ctx, "shutdown signal received, draining requests")
		drainCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := server.Shutdown(drainCtx); err != nil {
			logg.Error(ctx, "graceful shutdown failed", err)
		}
	}
}
