package main

import (
	"os"

	"welth/internal/amqp"
	"welth/internal/backend"
	"welth/internal/cli"
	"welth/internal/log"
	"welth/internal/worker"
)

func main() {
	cfg, logger := cli.Bootstrap(log.ComponentWorker)
	logger.Info("Starting welth-worker", log.FieldOperation, log.OpStartup, "mirror_backend", cfg.MirrorBackend)
	cli.Must(logger, cfg.ValidateMirror())

	ctx, stop := cli.SignalContext()
	defer stop()

	mirrorCfg, err := backend.FromAppConfig(cfg)
	if err != nil {
		logger.Error("Invalid mirror configuration", log.FieldError, err)
		os.Exit(1)
	}
	writer, err := backend.NewFactory(logger.WithComponent(log.ComponentSheets).Logger).NewLedgerWriter(ctx, mirrorCfg)
	if err != nil {
		logger.Error("Failed to initialize ledger mirror", log.FieldError, err)
		os.Exit(1)
	}

	amqpClient, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue)
	if err != nil {
		logger.Error("Failed to initialize AMQP client", log.FieldError, err)
		os.Exit(1)
	}
	defer amqpClient.Close()

	mirror := worker.NewLedgerMirror(writer.Writer)
	if err := mirror.Run(ctx, amqpClient); err != nil {
		logger.Error("Ledger mirror stopped with error", log.FieldError, err)
		os.Exit(1)
	}

	appended, failed := mirror.Stats()
	logger.Info("welth-worker shutdown complete", log.FieldOperation, log.OpShutdown, "appended", appended, "failed", failed)
}
