package main

import (
	"context"
	"errors"
	"os"

	"golang.org/x/sync/errgroup"

	"welth/internal/auth"
	"welth/internal/cli"
	apphttp "welth/internal/http"
	"welth/internal/log"
	"welth/internal/middleware/ratelimit"
	"welth/internal/middleware/security"
	"welth/internal/receipt"
	"welth/internal/services"
)

func main() {
	cfg, logger := cli.Bootstrap(log.ComponentApp)
	logger.Info("Starting welth API", log.FieldOperation, log.OpStartup, "port", cfg.Port)
	cli.Must(logger, cfg.ValidateAPI())

	ctx, stop := cli.SignalContext()
	defer stop()

	repo := cli.OpenRepository(logger, cfg)
	defer repo.Close()

	publisher, closePublisher := cli.NewPublisher(logger, cfg)
	defer closePublisher()

	var scanner services.ReceiptScanner
	if cfg.GeminiAPIKey != "" {
		model, err := receipt.NewGeminiModel(ctx, cfg.GeminiAPIKey, cfg.GeminiModel)
		if err != nil {
			logger.Error("Failed to initialize Gemini client", log.FieldError, err)
			os.Exit(1)
		}

		var archiver receipt.Archiver
		if cfg.ReceiptBucket != "" {
			gcs, err := receipt.NewGCSArchiver(ctx, cfg.ReceiptBucket)
			if err != nil {
				logger.Warn("Failed to initialize receipt archive, images will not be kept", log.FieldError, err)
			} else {
				defer gcs.Close()
				archiver = gcs
			}
		}
		scanner = receipt.NewExtractor(model, archiver, cfg.ReceiptTimeout)
		logger.Info("Receipt scanning enabled", "archive", archiver != nil)
	} else {
		logger.Info("Receipt scanning disabled - no GEMINI_API_KEY provided")
	}

	var webhooks apphttp.WebhookVerifier
	if cfg.ClerkWebhookSecret != "" {
		verifier, err := auth.NewWebhookVerifier(cfg.ClerkWebhookSecret)
		if err != nil {
			logger.Error("Invalid webhook secret", log.FieldError, err)
			os.Exit(1)
		}
		webhooks = verifier
	} else {
		logger.Warn("CLERK_WEBHOOK_SECRET not set - identity webhooks will be rejected")
	}

	srv := apphttp.NewServer(":"+cfg.Port, apphttp.Options{
		Ledger:   services.NewLedgerService(repo, publisher, scanner),
		Identity: services.NewIdentityService(repo),
		Webhooks: webhooks,
		Auth:     auth.NewAuthenticator(cfg.JWTSecret),
		DB:       repo,
		Limiter:  ratelimit.NewLimiter(ratelimit.Config{RequestsPerMinute: cfg.RateLimitPerMinute}),
		Detector: security.NewDetector(),
		Logger:   logger.WithComponent(log.ComponentHTTP),
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("HTTP server listening", "addr", srv.Addr)
		return srv.ListenAndServe()
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down HTTP server", log.FieldOperation, log.OpShutdown)

		shutdownCtx, cancel := cli.ShutdownContext()
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("Server stopped with error", log.FieldError, err)
		os.Exit(1)
	}

	m := srv.Metrics()
	logger.Info("Server stopped gracefully",
		"total_requests", m.TotalRequests,
		"server_failures", m.ServerFailures)
}
