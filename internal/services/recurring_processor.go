package services

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"welth/internal/amqp"
	"welth/internal/core"
	"welth/internal/log"
)

// RecurringStore finds and books due recurring templates.
type RecurringStore interface {
	DueRecurring(ctx context.Context, now time.Time, limit int) ([]core.Transaction, error)
	MaterializeRecurring(ctx context.Context, templateID string, now time.Time) (core.Transaction, bool, error)
}

// RecurringProcessorConfig holds configuration for the recurring processor
type RecurringProcessorConfig struct {
	// Interval is how often due templates are checked (default: 1h)
	Interval time.Duration

	// BatchSize is the max number of templates loaded per pass (default: 100)
	BatchSize int

	// MaxPasses bounds how many overdue periods are caught up per run (default: 12)
	MaxPasses int
}

func DefaultRecurringProcessorConfig() RecurringProcessorConfig {
	return RecurringProcessorConfig{
		Interval:  time.Hour,
		BatchSize: 100,
		MaxPasses: 12,
	}
}

// RecurringProcessor books occurrences of recurring transactions when they
// fall due. Each occurrence is created, applied to the balance and the
// template advanced in one database transaction.
type RecurringProcessor struct {
	store     RecurringStore
	publisher EventPublisher
	config    RecurringProcessorConfig

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

func NewRecurringProcessor(store RecurringStore, publisher EventPublisher, config RecurringProcessorConfig) *RecurringProcessor {
	def := DefaultRecurringProcessorConfig()
	if config.Interval <= 0 {
		config.Interval = def.Interval
	}
	if config.BatchSize <= 0 {
		config.BatchSize = def.BatchSize
	}
	if config.MaxPasses <= 0 {
		config.MaxPasses = def.MaxPasses
	}
	return &RecurringProcessor{
		store:     store,
		publisher: publisher,
		config:    config,
	}
}

// ProcessDue books every occurrence due at now and returns how many were
// created. A template several periods behind gets one occurrence per pass.
// Per-template failures are logged and skipped.
func (p *RecurringProcessor) ProcessDue(ctx context.Context, now time.Time) (int, error) {
	if p.store == nil {
		return 0, fmt.Errorf("processor not properly initialized")
	}

	created, failed := 0, 0
	for pass := 0; pass < p.config.MaxPasses; pass++ {
		due, err := p.store.DueRecurring(ctx, now, p.config.BatchSize)
		if err != nil {
			return created, fmt.Errorf("load due recurring transactions: %w", err)
		}

		booked := 0
		for _, tpl := range due {
			if err := ctx.Err(); err != nil {
				return created, err
			}

			occ, ok, err := p.store.MaterializeRecurring(ctx, tpl.ID, now)
			if err != nil {
				failed++
				slog.ErrorContext(ctx, "Failed to book recurring transaction",
					"template_id", tpl.ID,
					log.FieldError, err)
				continue
			}
			if !ok {
				continue
			}

			booked++
			slog.InfoContext(ctx, "Booked recurring transaction",
				"template_id", tpl.ID,
				log.FieldTransactionID, occ.ID,
				"date", occ.Date.Format("2006-01-02"),
				log.FieldAmountCents, occ.Amount.Cents,
				"interval", tpl.RecurringInterval)
			p.publish(ctx, occ)
		}

		created += booked
		if booked == 0 || failed > 0 {
			break
		}
	}

	slog.InfoContext(ctx, "Recurring processing complete",
		"created", created,
		"failed", failed,
		"processing_date", now.Format("2006-01-02"))
	return created, nil
}

func (p *RecurringProcessor) publish(ctx context.Context, t core.Transaction) {
	if p.publisher == nil {
		return
	}
	if err := p.publisher.PublishLedgerEvent(ctx, amqp.NewLedgerEvent(amqp.TransactionCreated, t)); err != nil {
		slog.ErrorContext(ctx, "Failed to publish ledger event",
			log.FieldTransactionID, t.ID,
			log.FieldError, err)
	}
}

// Start runs ProcessDue immediately and then on every tick until Stop or
// ctx cancellation. Returns an error if already running.
func (p *RecurringProcessor) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return fmt.Errorf("recurring processor is already running")
	}
	p.running = true
	p.stopCh = make(chan struct{})
	p.doneCh = make(chan struct{})
	p.mu.Unlock()

	go p.runLoop(ctx)

	slog.InfoContext(ctx, "Recurring processor started", "interval", p.config.Interval)
	return nil
}

// Stop signals the loop and waits for the current pass to finish.
func (p *RecurringProcessor) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	stopCh, doneCh := p.stopCh, p.doneCh
	p.mu.Unlock()

	close(stopCh)

	select {
	case <-doneCh:
		slog.InfoContext(ctx, "Recurring processor stopped gracefully")
	case <-ctx.Done():
		slog.WarnContext(ctx, "Recurring processor stop timed out")
		return ctx.Err()
	}

	p.mu.Lock()
	p.running = false
	p.mu.Unlock()
	return nil
}

func (p *RecurringProcessor) IsRunning() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

func (p *RecurringProcessor) runLoop(ctx context.Context) {
	defer close(p.doneCh)

	ticker := time.NewTicker(p.config.Interval)
	defer ticker.Stop()

	p.tick(ctx)
	for {
		select {
		case <-p.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.tick(ctx)
		}
	}
}

func (p *RecurringProcessor) tick(ctx context.Context) {
	if _, err := p.ProcessDue(ctx, time.Now().UTC()); err != nil {
		slog.ErrorContext(ctx, "Recurring processing failed", log.FieldError, err)
	}
}
