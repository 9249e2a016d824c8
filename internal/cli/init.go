// Package cli holds the start-up steps shared by cmd/welth,
// cmd/welth-worker and cmd/recurring-worker.
package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"welth/internal/amqp"
	"welth/internal/config"
	"welth/internal/log"
	"welth/internal/services"
	"welth/internal/storage"
)

// ShutdownTimeout bounds graceful shutdown in every binary.
const ShutdownTimeout = 30 * time.Second

// Bootstrap loads .env (if any) and the environment, then installs a
// default logger for component at LOG_LEVEL.
func Bootstrap(component string) (*config.Config, *log.Logger) {
	_ = godotenv.Load()

	cfg := config.Load()
	logger := log.New(log.Config{
		Level:     log.ParseLevel(cfg.LogLevel),
		Component: component,
		Output:    os.Stdout,
	})
	log.SetDefault(logger)
	return cfg, logger
}

// Must exits the process when a validation step fails.
func Must(logger *log.Logger, err error) {
	if err != nil {
		logger.Error("Configuration validation failed", log.FieldError, err)
		os.Exit(1)
	}
}

// OpenRepository opens and migrates the configured database or exits.
func OpenRepository(logger *log.Logger, cfg *config.Config) *storage.Repository {
	repo, err := storage.Open(cfg.DatabaseDSN())
	if err != nil {
		logger.Error("Failed to open database", log.FieldError, err)
		os.Exit(1)
	}
	logger.Info("Database ready", "dialect", repo.Dialect().String())
	return repo
}

// NewPublisher returns the AMQP ledger event publisher, or nil when AMQP is
// not configured or unreachable. The returned close func is never nil.
func NewPublisher(logger *log.Logger, cfg *config.Config) (services.EventPublisher, func()) {
	if cfg.AMQPURL == "" {
		logger.Info("AMQP disabled - ledger events will not be published")
		return nil, func() {}
	}
	client, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue)
	if err != nil {
		logger.Warn("Failed to initialize AMQP client, ledger events disabled", log.FieldError, err)
		return nil, func() {}
	}
	logger.Info("AMQP client initialized", "exchange", cfg.AMQPExchange, "queue", cfg.AMQPQueue)
	return client, func() { _ = client.Close() }
}

// SignalContext is cancelled on SIGINT or SIGTERM.
func SignalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

// ShutdownContext is the deadline for cleanup after a signal.
func ShutdownContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), ShutdownTimeout)
}
