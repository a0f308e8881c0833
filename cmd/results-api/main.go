package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/cuongbtq/queue-runner/internal/api/handler"
	"github.com/cuongbtq/queue-runner/internal/api/router"
	"github.com/cuongbtq/queue-runner/internal/broker"
	"github.com/cuongbtq/queue-runner/internal/config"
	"github.com/cuongbtq/queue-runner/internal/results"
	"github.com/cuongbtq/queue-runner/shared/logger"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables or flags")
	}

	port := flag.Int("port", 8080, "HTTP listen port")
	logLevel := flag.String("log-level", "info", "Log level (debug, info, warn, error)")
	flag.Parse()

	brokerURI := os.Getenv(config.EnvBrokerURI)
	if brokerURI == "" {
		return fmt.Errorf("config: %w", config.ErrBrokerURIRequired)
	}
	resultsURI := os.Getenv(config.EnvResultsURI)
	if resultsURI == "" {
		resultsURI = brokerURI
	}

	appLogger := logger.New(&logger.Config{
		Level:  *logLevel,
		Format: "console",
		Output: "stderr",
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// The API never writes results, so the store TTL is irrelevant here.
	store, err := results.New(ctx, resultsURI, 0, appLogger)
	if err != nil {
		return fmt.Errorf("results store: %w", err)
	}
	defer store.Close()

	conn, err := broker.Dial(ctx, brokerURI, nil, appLogger)
	if err != nil {
		return fmt.Errorf("broker: %w", err)
	}
	defer conn.Close()

	r := router.SetupRouter(&handler.Dependencies{
		Logger: appLogger,
		Store:  store,
		Broker: conn,
	})

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", *port),
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errChan := make(chan error, 1)
	go func() {
		appLogger.Info("Results API listening",
			slog.Int("port", *port),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	select {
	case <-ctx.Done():
		appLogger.Info("Received signal, shutting down gracefully")
	case err := <-errChan:
		return fmt.Errorf("http server: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		appLogger.Warn("HTTP shutdown timeout exceeded, forcing exit")
		return err
	}

	appLogger.Info("Results API shutdown complete")
	return nil
}
