package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"welth/internal/core"
	"welth/internal/log"
)

func newID() string { return uuid.NewString() }

const accountColumns = "a.id, a.user_id, a.name, a.type, a.balance_cents, a.is_default, a.created_at, a.updated_at"

func scanAccount(row interface{ Scan(...any) error }, extra ...any) (core.Account, error) {
	var a core.Account
	dest := append([]any{&a.ID, &a.UserID, &a.Name, &a.Type, &a.Balance.Cents, &a.IsDefault, &a.CreatedAt, &a.UpdatedAt}, extra...)
	if err := row.Scan(dest...); err != nil {
		return core.Account{}, err
	}
	a.CreatedAt = a.CreatedAt.UTC()
	a.UpdatedAt = a.UpdatedAt.UTC()
	return a, nil
}

// CreateAccount stores a new account. A user's first account always
// becomes the default; otherwise a requested default clears the others.
func (r *Repository) CreateAccount(ctx context.Context, a core.Account) (core.Account, error) {
	now := r.timestamp()
	a.ID = newID()
	a.CreatedAt, a.UpdatedAt = now, now

	err := r.inTx(ctx, func(tx *sql.Tx) error {
		var existing int
		if err := tx.QueryRowContext(ctx, r.rebind("SELECT COUNT(*) FROM accounts WHERE user_id = ?"), a.UserID).Scan(&existing); err != nil {
			return fmt.Errorf("count accounts: %w", err)
		}

		if existing == 0 {
			a.IsDefault = true
		} else if a.IsDefault {
			if _, err := tx.ExecContext(ctx, r.rebind(
				"UPDATE accounts SET is_default = FALSE, updated_at = ? WHERE user_id = ? AND is_default = TRUE"),
				now, a.UserID); err != nil {
				return fmt.Errorf("clear default accounts: %w", err)
			}
		}

		_, err := tx.ExecContext(ctx, r.rebind(`
			INSERT INTO accounts (id, user_id, name, type, balance_cents, is_default, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`),
			a.ID, a.UserID, a.Name, string(a.Type), a.Balance.Cents, a.IsDefault, a.CreatedAt, a.UpdatedAt)
		if err != nil {
			return fmt.Errorf("insert account: %w", err)
		}
		return nil
	})
	if err != nil {
		return core.Account{}, err
	}

	slog.InfoContext(ctx, "Account created",
		log.FieldAccountID, a.ID,
		log.FieldUserID, a.UserID,
		"type", a.Type,
		"balance_cents", a.Balance.Cents,
		"is_default", a.IsDefault)
	return a, nil
}

// ListAccounts returns the user's accounts, newest first, with their
// transaction counts.
func (r *Repository) ListAccounts(ctx context.Context, userID string) ([]core.Account, error) {
	rows, err := r.db.QueryContext(ctx, r.rebind(`
		SELECT `+accountColumns+`,
			(SELECT COUNT(*) FROM transactions t WHERE t.account_id = a.id)
		FROM accounts a
		WHERE a.user_id = ?
		ORDER BY a.created_at DESC`), userID)
	if err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	defer rows.Close()

	accounts := []core.Account{}
	for rows.Next() {
		var count int
		a, err := scanAccount(rows, &count)
		if err != nil {
			return nil, fmt.Errorf("scan account: %w", err)
		}
		a.TransactionCount = count
		accounts = append(accounts, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	return accounts, nil
}

// GetAccount returns an account owned by userID.
func (r *Repository) GetAccount(ctx context.Context, userID, accountID string) (core.Account, error) {
	var count int
	a, err := scanAccount(r.db.QueryRowContext(ctx, r.rebind(`
		SELECT `+accountColumns+`,
			(SELECT COUNT(*) FROM transactions t WHERE t.account_id = a.id)
		FROM accounts a
		WHERE a.id = ? AND a.user_id = ?`), accountID, userID), &count)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Account{}, core.NotFound("get account", "account not found")
	}
	if err != nil {
		return core.Account{}, fmt.Errorf("get account: %w", err)
	}
	a.TransactionCount = count
	return a, nil
}

// DefaultAccount returns the user's default account.
func (r *Repository) DefaultAccount(ctx context.Context, userID string) (core.Account, error) {
	a, err := scanAccount(r.db.QueryRowContext(ctx, r.rebind(
		"SELECT "+accountColumns+" FROM accounts a WHERE a.user_id = ? AND a.is_default = TRUE"), userID))
	if errors.Is(err, sql.ErrNoRows) {
		return core.Account{}, core.NotFound("get default account", "no default account")
	}
	if err != nil {
		return core.Account{}, fmt.Errorf("get default account: %w", err)
	}
	return a, nil
}

// SetDefaultAccount makes accountID the user's only default account.
func (r *Repository) SetDefaultAccount(ctx context.Context, userID, accountID string) (core.Account, error) {
	now := r.timestamp()
	err := r.inTx(ctx, func(tx *sql.Tx) error {
		var id string
		err := tx.QueryRowContext(ctx, r.rebind("SELECT id FROM accounts WHERE id = ? AND user_id = ?"+r.forUpdate()),
			accountID, userID).Scan(&id)
		if errors.Is(err, sql.ErrNoRows) {
			return core.NotFound("set default account", "account not found")
		}
		if err != nil {
			return fmt.Errorf("find account: %w", err)
		}

		if _, err := tx.ExecContext(ctx, r.rebind(
			"UPDATE accounts SET is_default = FALSE, updated_at = ? WHERE user_id = ? AND is_default = TRUE AND id <> ?"),
			now, userID, accountID); err != nil {
			return fmt.Errorf("clear default accounts: %w", err)
		}
		if _, err := tx.ExecContext(ctx, r.rebind(
			"UPDATE accounts SET is_default = TRUE, updated_at = ? WHERE id = ?"),
			now, accountID); err != nil {
			return fmt.Errorf("set default account: %w", err)
		}
		return nil
	})
	if err != nil {
		return core.Account{}, err
	}
	return r.GetAccount(ctx, userID, accountID)
}
