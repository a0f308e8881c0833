package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/cuongbtq/queue-runner/internal/config"
	"github.com/cuongbtq/queue-runner/internal/ledger"
	"github.com/cuongbtq/queue-runner/internal/results"
	"github.com/cuongbtq/queue-runner/internal/secgate"
	"github.com/cuongbtq/queue-runner/internal/worker"
	"github.com/cuongbtq/queue-runner/shared/logger"
	"github.com/cuongbtq/queue-runner/shared/postgresql"
)

func main() {
	if err := run(); err != nil {
		// One-line diagnostic identifying the failing stage; exit non-zero.
		log.Fatal(err)
	}
}

func run() error {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables or flags")
	}

	cfg, err := config.FromArgs(os.Args[1:])
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	appLogger := logger.New(&logger.Config{
		Level:        cfg.Logging.Level,
		Format:       cfg.Logging.Format,
		Output:       cfg.Logging.Output,
		EnableSource: cfg.Logging.EnableCaller,
	})

	appLogger.Info("Starting queue runner",
		slog.Any("queues", cfg.Queues),
		slog.Duration("results_ttl", cfg.ResultsTTL),
		slog.String("conda_env", cfg.CondaEnv),
		slog.String("workdir", cfg.Workdir),
	)

	// Signal handling: first SIGINT/SIGTERM starts the drain.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := results.New(ctx, cfg.ResultsURI, cfg.ResultsTTL, appLogger)
	if err != nil {
		return fmt.Errorf("results store: %w", err)
	}
	defer store.Close()

	var rec worker.Recorder
	if cfg.LedgerDSN != "" {
		dbClient, err := postgresql.NewClient(cfg.LedgerDSN, appLogger)
		if err != nil {
			return fmt.Errorf("ledger: %w", err)
		}
		defer dbClient.Close()
		rec = ledger.New(dbClient.DB(), appLogger)
	}

	supervisor := worker.NewSupervisor(&worker.SupervisorConfig{
		Logger: appLogger,
		Config: cfg,
		Gate:   secgate.New(cfg.SecurityHook, cfg.AllowUnrestricted, appLogger),
		Executor: worker.NewExecutor(&worker.ExecutorConfig{
			Logger:     appLogger,
			Workdir:    cfg.Workdir,
			CondaEnv:   cfg.CondaEnv,
			ResultsTTL: cfg.ResultsTTL,
		}),
		Results: store,
		Ledger:  rec,
	})

	if err := supervisor.Run(ctx); err != nil {
		return fmt.Errorf("worker: %w", err)
	}

	appLogger.Info("Queue runner shutdown complete")
	return nil
}
