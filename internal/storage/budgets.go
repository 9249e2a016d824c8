package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"welth/internal/core"
	"welth/internal/log"
)

// GetBudget returns the user's budget, or nil when none was set.
func (r *Repository) GetBudget(ctx context.Context, userID string) (*core.Budget, error) {
	var (
		b    core.Budget
		sent sql.NullTime
	)
	err := r.db.QueryRowContext(ctx, r.rebind(`
		SELECT id, user_id, amount_cents, last_alert_sent, created_at, updated_at
		FROM budgets WHERE user_id = ?`), userID).
		Scan(&b.ID, &b.UserID, &b.Amount.Cents, &sent, &b.CreatedAt, &b.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get budget: %w", err)
	}
	if sent.Valid {
		v := sent.Time.UTC()
		b.LastAlertSent = &v
	}
	b.CreatedAt = b.CreatedAt.UTC()
	b.UpdatedAt = b.UpdatedAt.UTC()
	return &b, nil
}

// UpsertBudget sets the amount of the user's single budget.
func (r *Repository) UpsertBudget(ctx context.Context, userID string, amount core.Money) (core.Budget, error) {
	now := r.timestamp()
	_, err := r.db.ExecContext(ctx, r.rebind(`
		INSERT INTO budgets (id, user_id, amount_cents, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (user_id) DO UPDATE SET
			amount_cents = excluded.amount_cents,
			updated_at = excluded.updated_at`),
		newID(), userID, amount.Cents, now, now)
	if err != nil {
		return core.Budget{}, fmt.Errorf("upsert budget: %w", err)
	}

	b, err := r.GetBudget(ctx, userID)
	if err != nil {
		return core.Budget{}, err
	}
	if b == nil {
		return core.Budget{}, fmt.Errorf("upsert budget: row missing after write")
	}
	slog.InfoContext(ctx, "Budget updated", log.FieldUserID, userID, log.FieldAmountCents, amount.Cents)
	return *b, nil
}
