package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/ledgerd/ledgerd/cmd/ledgerd/cli"
	"github.com/ledgerd/ledgerd/internal/app"
	"github.com/ledgerd/ledgerd/internal/ledger"
	"github.com/ledgerd/ledgerd/internal/periods"
	"github.com/ledgerd/ledgerd/internal/platform/cache"
	"github.com/ledgerd/ledgerd/internal/platform/db"
	"github.com/ledgerd/ledgerd/internal/sales"
	"github.com/ledgerd/ledgerd/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	pool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Warn("redis unavailable, balance cache disabled", slog.Any("error", err))
		redisClient = nil
	}
	defer func() {
		if redisClient == nil {
			return
		}
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	var balanceCache *periods.BalanceCache
	if redisClient != nil {
		balanceCache = periods.NewBalanceCache(redisClient, cfg.BalanceCacheTTL)
	}

	reconciler := ledger.NewReconciler(cfg.BalanceTolerance)

	periodsRepo := periods.NewRepository(pool)
	periodsService := periods.NewService(periodsRepo, reconciler, balanceCache, logger)
	guard := periods.NewGuard(periodsService)

	salesRepo := sales.NewRepository(pool)
	salesService := sales.NewService(salesRepo, guard, logger)

	if len(os.Args) > 1 {
		runCLI(ctx, logger, periodsService, os.Args[1:])
		return
	}

	jobClient, err := jobs.NewClient(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	if err != nil {
		logger.Error("init job client", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := jobClient.Close(); err != nil {
			logger.Warn("job client close", slog.Any("error", err))
		}
	}()

	inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()

	periodsHandler := periods.NewHandler(logger, periodsService, balanceCache)
	salesHandler := sales.NewHandler(logger, salesService, jobClient)
	jobHandler := jobs.NewHandler(inspector, logger)

	router := app.NewRouter(app.RouterParams{
		Logger:         logger,
		Config:         cfg,
		PeriodsHandler: periodsHandler,
		SalesHandler:   salesHandler,
		JobHandler:     jobHandler,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
}

func runCLI(ctx context.Context, logger *slog.Logger, service *periods.Service, args []string) {
	periodsCLI := cli.NewPeriodsCLI(service, os.Stdout)

	var err error
	switch args[0] {
	case "close-period":
		if len(args) < 2 {
			logger.Error("usage: ledgerd close-period <code>")
			os.Exit(2)
		}
		err = periodsCLI.Close(ctx, args[1])
	case "reopen-period":
		if len(args) < 2 {
			logger.Error("usage: ledgerd reopen-period <code>")
			os.Exit(2)
		}
		err = periodsCLI.Reopen(ctx, args[1])
	default:
		logger.Error("unknown command", slog.String("command", args[0]))
		os.Exit(2)
	}
	if err != nil {
		logger.Error("command failed", slog.Any("error", err))
		os.Exit(1)
	}
}
