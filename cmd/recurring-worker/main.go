package main

import (
	"os"

	"welth/internal/cli"
	"welth/internal/log"
	"welth/internal/services"
)

func main() {
	cfg, logger := cli.Bootstrap(log.ComponentRecurring)
	logger.Info("Starting recurring-worker", log.FieldOperation, log.OpStartup)
	cli.Must(logger, cfg.Validate())

	repo := cli.OpenRepository(logger, cfg)
	defer repo.Close()

	// Occurrences are announced so welth-worker mirrors them like any other
	// transaction.
	publisher, closePublisher := cli.NewPublisher(logger, cfg)
	defer closePublisher()

	processor := services.NewRecurringProcessor(repo, publisher, services.RecurringProcessorConfig{
		Interval: cfg.RecurringInterval,
	})

	ctx, stop := cli.SignalContext()
	defer stop()

	if err := processor.Start(ctx); err != nil {
		logger.Error("Failed to start recurring processor", log.FieldError, err)
		os.Exit(1)
	}

	<-ctx.Done()
	logger.Info("Shutdown signal received", log.FieldOperation, log.OpShutdown)

	shutdownCtx, cancel := cli.ShutdownContext()
	defer cancel()

	if err := processor.Stop(shutdownCtx); err != nil {
		logger.Error("Recurring processor did not stop cleanly", log.FieldError, err)
		os.Exit(1)
	}
	logger.Info("Recurring-worker shutdown complete")
}
