package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"

	"welth/internal/amqp"
	"welth/internal/log"
	"welth/internal/sheets"
)

// EventSource delivers ledger events until its context ends.
type EventSource interface {
	ConsumeLedgerEvents(ctx context.Context, handler func(context.Context, *amqp.LedgerEvent) error) error
}

// LedgerMirror copies ledger events into an append-only sheet. It works
// from the event snapshot alone and never reads the database.
type LedgerMirror struct {
	writer   sheets.LedgerWriter
	appended atomic.Int64
	failed   atomic.Int64
}

func NewLedgerMirror(writer sheets.LedgerWriter) *LedgerMirror {
	return &LedgerMirror{writer: writer}
}

// RowFor converts an event into the row the mirror appends. A deletion
// becomes a tombstone row carrying the last known values.
func RowFor(evt *amqp.LedgerEvent) sheets.LedgerRow {
	tx := evt.Transaction
	return sheets.LedgerRow{
		Date:          tx.Date,
		Type:          tx.Type,
		Amount:        tx.Amount,
		Category:      tx.Category,
		Description:   tx.Description,
		AccountID:     tx.AccountID,
		Event:         string(evt.Type),
		TransactionID: tx.ID,
	}
}

// HandleLedgerEvent appends one row for evt. Returning an error makes the
// consumer requeue the message.
func (m *LedgerMirror) HandleLedgerEvent(ctx context.Context, evt *amqp.LedgerEvent) error {
	if evt == nil {
		return errors.New("nil ledger event")
	}

	ref, err := m.writer.AppendLedgerRow(ctx, RowFor(evt))
	if err != nil {
		m.failed.Add(1)
		return fmt.Errorf("append %s row for %s: %w", evt.Type, evt.Transaction.ID, err)
	}
	m.appended.Add(1)

	slog.InfoContext(ctx, "Mirrored ledger event",
		log.FieldOperation, log.OpAppend,
		log.FieldEventType, evt.Type,
		log.FieldTransactionID, evt.Transaction.ID,
		log.FieldAmountCents, evt.Transaction.Amount.Cents,
		"sheets_ref", ref)
	return nil
}

// Run consumes from src until ctx is cancelled.
func (m *LedgerMirror) Run(ctx context.Context, src EventSource) error {
	slog.InfoContext(ctx, "Ledger mirror started")
	err := src.ConsumeLedgerEvents(ctx, m.HandleLedgerEvent)
	slog.InfoContext(ctx, "Ledger mirror stopped",
		"appended", m.appended.Load(),
		"failed", m.failed.Load())
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Stats reports appended and failed rows since start.
func (m *LedgerMirror) Stats() (appended, failed int64) {
	return m.appended.Load(), m.failed.Load()
}
