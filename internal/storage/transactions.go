package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"welth/internal/core"
	"welth/internal/log"
)

const transactionColumns = `id, user_id, account_id, type, amount_cents, description, category, date,
	receipt_url, is_recurring, recurring_interval, next_recurring_date, last_processed, status,
	created_at, updated_at`

func scanTransaction(row interface{ Scan(...any) error }) (core.Transaction, error) {
	var (
		t        core.Transaction
		interval sql.NullString
		next     sql.NullTime
		last     sql.NullTime
	)
	err := row.Scan(&t.ID, &t.UserID, &t.AccountID, &t.Type, &t.Amount.Cents, &t.Description, &t.Category, &t.Date,
		&t.ReceiptURL, &t.IsRecurring, &interval, &next, &last, &t.Status,
		&t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return core.Transaction{}, err
	}
	t.Date = t.Date.UTC()
	t.CreatedAt = t.CreatedAt.UTC()
	t.UpdatedAt = t.UpdatedAt.UTC()
	if interval.Valid {
		t.RecurringInterval = core.RecurringInterval(interval.String)
	}
	if next.Valid {
		v := next.Time.UTC()
		t.NextRecurringDate = &v
	}
	if last.Valid {
		v := last.Time.UTC()
		t.LastProcessed = &v
	}
	return t, nil
}

func nullInterval(i core.RecurringInterval) sql.NullString {
	return sql.NullString{String: string(i), Valid: i != ""}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

// adjustBalance applies delta cents to an account owned by userID with a
// single atomic increment. It never reads the balance first.
func (r *Repository) adjustBalance(ctx context.Context, q querier, userID, accountID string, delta int64, now time.Time) error {
	res, err := q.ExecContext(ctx, r.rebind(
		"UPDATE accounts SET balance_cents = balance_cents + ?, updated_at = ? WHERE id = ? AND user_id = ?"),
		delta, now, accountID, userID)
	if err != nil {
		return fmt.Errorf("adjust account balance: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("adjust account balance: %w", err)
	}
	if n == 0 {
		return core.NotFound("adjust account balance", "account not found")
	}
	return nil
}

func (r *Repository) insertTransaction(ctx context.Context, q querier, t core.Transaction) error {
	_, err := q.ExecContext(ctx, r.rebind(`
		INSERT INTO transactions (`+transactionColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		t.ID, t.UserID, t.AccountID, string(t.Type), t.Amount.Cents, t.Description, t.Category, t.Date.UTC(),
		t.ReceiptURL, t.IsRecurring, nullInterval(t.RecurringInterval), nullTime(t.NextRecurringDate), nullTime(t.LastProcessed), string(t.Status),
		t.CreatedAt, t.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert transaction: %w", err)
	}
	return nil
}

// CreateTransaction inserts t and applies its signed amount to the owning
// account in one database transaction. The account must belong to t.UserID.
func (r *Repository) CreateTransaction(ctx context.Context, t core.Transaction) (core.Transaction, error) {
	now := r.timestamp()
	t.ID = newID()
	t.CreatedAt, t.UpdatedAt = now, now
	if t.Status == "" {
		t.Status = core.StatusCompleted
	}

	err := r.inTx(ctx, func(tx *sql.Tx) error {
		if err := r.adjustBalance(ctx, tx, t.UserID, t.AccountID, t.Delta(), now); err != nil {
			return err
		}
		return r.insertTransaction(ctx, tx, t)
	})
	if err != nil {
		return core.Transaction{}, err
	}

	slog.InfoContext(ctx, "Transaction created",
		log.FieldTransactionID, t.ID,
		log.FieldAccountID, t.AccountID,
		log.FieldTxType, t.Type,
		log.FieldAmountCents, t.Amount.Cents,
		"recurring", t.IsRecurring)
	return t, nil
}

// GetTransaction returns a transaction owned by userID.
func (r *Repository) GetTransaction(ctx context.Context, userID, id string) (core.Transaction, error) {
	t, err := scanTransaction(r.db.QueryRowContext(ctx, r.rebind(
		"SELECT "+transactionColumns+" FROM transactions WHERE id = ? AND user_id = ?"), id, userID))
	if errors.Is(err, sql.ErrNoRows) {
		return core.Transaction{}, core.NotFound("get transaction", "transaction not found")
	}
	if err != nil {
		return core.Transaction{}, fmt.Errorf("get transaction: %w", err)
	}
	return t, nil
}

// TransactionFilter narrows ListTransactions. Zero values match everything.
type TransactionFilter struct {
	AccountID string
	From      time.Time
	To        time.Time
	Type      core.TransactionType
}

// ListTransactions returns the user's transactions, most recent date first.
func (r *Repository) ListTransactions(ctx context.Context, userID string, f TransactionFilter) ([]core.Transaction, error) {
	query := "SELECT " + transactionColumns + " FROM transactions WHERE user_id = ?"
	args := []any{userID}
	if f.AccountID != "" {
		query += " AND account_id = ?"
		args = append(args, f.AccountID)
	}
	if !f.From.IsZero() {
		query += " AND date >= ?"
		args = append(args, f.From.UTC())
	}
	if !f.To.IsZero() {
		query += " AND date < ?"
		args = append(args, f.To.UTC())
	}
	if f.Type != "" {
		query += " AND type = ?"
		args = append(args, string(f.Type))
	}
	query += " ORDER BY date DESC, created_at DESC"

	return r.queryTransactions(ctx, r.db, query, args...)
}

func (r *Repository) queryTransactions(ctx context.Context, q querier, query string, args ...any) ([]core.Transaction, error) {
	rows, err := q.QueryContext(ctx, r.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	defer rows.Close()

	out := []core.Transaction{}
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("scan transaction: %w", err)
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	return out, nil
}

// UpdateTransaction overwrites transaction id with upd. The old signed
// amount is reversed on the old account and the new one applied to the
// target account, together with the row update, in one database
// transaction. Both accounts must belong to userID.
func (r *Repository) UpdateTransaction(ctx context.Context, userID, id string, upd core.Transaction) (core.Transaction, error) {
	now := r.timestamp()
	var saved core.Transaction

	err := r.inTx(ctx, func(tx *sql.Tx) error {
		old, err := scanTransaction(tx.QueryRowContext(ctx, r.rebind(
			"SELECT "+transactionColumns+" FROM transactions WHERE id = ? AND user_id = ?"+r.forUpdate()), id, userID))
		if errors.Is(err, sql.ErrNoRows) {
			return core.NotFound("update transaction", "transaction not found")
		}
		if err != nil {
			return fmt.Errorf("load transaction: %w", err)
		}

		if old.AccountID == upd.AccountID {
			if err := r.adjustBalance(ctx, tx, userID, upd.AccountID, upd.Delta()-old.Delta(), now); err != nil {
				return err
			}
		} else {
			if err := r.adjustBalance(ctx, tx, userID, old.AccountID, -old.Delta(), now); err != nil {
				return err
			}
			if err := r.adjustBalance(ctx, tx, userID, upd.AccountID, upd.Delta(), now); err != nil {
				return err
			}
		}

		saved = upd
		saved.ID = old.ID
		saved.UserID = userID
		saved.CreatedAt = old.CreatedAt
		saved.UpdatedAt = now
		saved.LastProcessed = old.LastProcessed
		if saved.Status == "" {
			saved.Status = old.Status
		}

		_, err = tx.ExecContext(ctx, r.rebind(`
			UPDATE transactions SET
				account_id = ?, type = ?, amount_cents = ?, description = ?, category = ?, date = ?,
				receipt_url = ?, is_recurring = ?, recurring_interval = ?, next_recurring_date = ?,
				status = ?, updated_at = ?
			WHERE id = ? AND user_id = ?`),
			saved.AccountID, string(saved.Type), saved.Amount.Cents, saved.Description, saved.Category, saved.Date.UTC(),
			saved.ReceiptURL, saved.IsRecurring, nullInterval(saved.RecurringInterval), nullTime(saved.NextRecurringDate),
			string(saved.Status), saved.UpdatedAt,
			saved.ID, userID)
		if err != nil {
			return fmt.Errorf("update transaction: %w", err)
		}
		return nil
	})
	if err != nil {
		return core.Transaction{}, err
	}

	slog.InfoContext(ctx, "Transaction updated",
		log.FieldTransactionID, saved.ID,
		log.FieldAccountID, saved.AccountID,
		log.FieldAmountCents, saved.Amount.Cents)
	return saved, nil
}

// DeleteTransactions removes the transactions among ids that belong to
// userID and reverses their contributions, all in one database
// transaction. Ids that are missing or owned by someone else are skipped.
// It returns the deleted rows; none matching is a not-found error.
func (r *Repository) DeleteTransactions(ctx context.Context, userID string, ids []string) ([]core.Transaction, error) {
	if len(ids) == 0 {
		return nil, core.NotFound("delete transactions", "no transactions found to delete")
	}
	now := r.timestamp()
	var found []core.Transaction

	err := r.inTx(ctx, func(tx *sql.Tx) error {
		args := make([]any, 0, len(ids)+1)
		args = append(args, userID)
		for _, id := range ids {
			args = append(args, id)
		}

		var err error
		found, err = r.queryTransactions(ctx, tx,
			"SELECT "+transactionColumns+" FROM transactions WHERE user_id = ? AND id IN ("+placeholders(len(ids))+")"+r.forUpdate(),
			args...)
		if err != nil {
			return err
		}
		if len(found) == 0 {
			return core.NotFound("delete transactions", "no transactions found to delete")
		}

		reversal := map[string]int64{}
		for _, t := range found {
			reversal[t.AccountID] -= t.Delta()
		}
		accountIDs := make([]string, 0, len(reversal))
		for id := range reversal {
			accountIDs = append(accountIDs, id)
		}
		// Stable lock order across concurrent batches.
		sort.Strings(accountIDs)
		for _, accountID := range accountIDs {
			if err := r.adjustBalance(ctx, tx, userID, accountID, reversal[accountID], now); err != nil {
				return err
			}
		}

		delArgs := make([]any, 0, len(found)+1)
		delArgs = append(delArgs, userID)
		for _, t := range found {
			delArgs = append(delArgs, t.ID)
		}
		if _, err := tx.ExecContext(ctx, r.rebind(
			"DELETE FROM transactions WHERE user_id = ? AND id IN ("+placeholders(len(found))+")"), delArgs...); err != nil {
			return fmt.Errorf("delete transactions: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	slog.InfoContext(ctx, "Transactions deleted",
		log.FieldComponent, log.ComponentStorage,
		log.FieldOperation, log.OpDelete,
		"requested", len(ids), "deleted", len(found))
	return found, nil
}

// SumExpenses totals EXPENSE amounts of an account dated within [from, to).
func (r *Repository) SumExpenses(ctx context.Context, accountID string, from, to time.Time) (core.Money, error) {
	var total sql.NullInt64
	err := r.db.QueryRowContext(ctx, r.rebind(`
		SELECT SUM(amount_cents) FROM transactions
		WHERE account_id = ? AND type = 'EXPENSE' AND date >= ? AND date < ?`),
		accountID, from.UTC(), to.UTC()).Scan(&total)
	if err != nil {
		return core.Money{}, fmt.Errorf("sum expenses: %w", err)
	}
	return core.Money{Cents: total.Int64}, nil
}

// DueRecurring returns up to limit recurring templates whose next date is
// at or before now.
func (r *Repository) DueRecurring(ctx context.Context, now time.Time, limit int) ([]core.Transaction, error) {
	if limit <= 0 {
		limit = 100
	}
	return r.queryTransactions(ctx, r.db,
		"SELECT "+transactionColumns+` FROM transactions
		WHERE is_recurring = TRUE AND status = 'COMPLETED'
			AND next_recurring_date IS NOT NULL AND next_recurring_date <= ?
		ORDER BY next_recurring_date ASC
		LIMIT ?`, now.UTC(), limit)
}

// MaterializeRecurring books one occurrence of a recurring template: a new
// non-recurring transaction dated at the template's due date is created
// and applied to the balance, and the template moves to its next date.
// A template that is no longer due when locked is left untouched and
// reported with ok=false.
func (r *Repository) MaterializeRecurring(ctx context.Context, templateID string, now time.Time) (created core.Transaction, ok bool, err error) {
	ts := r.timestamp()

	err = r.inTx(ctx, func(tx *sql.Tx) error {
		tpl, err := scanTransaction(tx.QueryRowContext(ctx, r.rebind(
			"SELECT "+transactionColumns+" FROM transactions WHERE id = ?"+r.forUpdate()), templateID))
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("load recurring template: %w", err)
		}
		if !core.IsDue(tpl, now) {
			return nil
		}

		next, err := core.NextOccurrence(*tpl.NextRecurringDate, tpl.RecurringInterval)
		if err != nil {
			return core.Invalid("materialize recurring", err)
		}

		created = core.Transaction{
			ID:          newID(),
			UserID:      tpl.UserID,
			AccountID:   tpl.AccountID,
			Type:        tpl.Type,
			Amount:      tpl.Amount,
			Description: tpl.Description,
			Category:    tpl.Category,
			Date:        *tpl.NextRecurringDate,
			Status:      core.StatusCompleted,
			CreatedAt:   ts,
			UpdatedAt:   ts,
		}
		if err := r.adjustBalance(ctx, tx, tpl.UserID, tpl.AccountID, created.Delta(), ts); err != nil {
			return err
		}
		if err := r.insertTransaction(ctx, tx, created); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, r.rebind(
			"UPDATE transactions SET next_recurring_date = ?, last_processed = ?, updated_at = ? WHERE id = ?"),
			next.UTC(), ts, ts, tpl.ID); err != nil {
			return fmt.Errorf("advance recurring template: %w", err)
		}
		ok = true
		return nil
	})
	if err != nil {
		return core.Transaction{}, false, err
	}
	return created, ok, nil
}
