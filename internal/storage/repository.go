package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"welth/internal/core"
	"welth/internal/log"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

// Dialect selects the SQL engine behind a Repository.
type Dialect int

const (
	SQLite Dialect = iota
	Postgres
)

func (d Dialect) String() string {
	if d == Postgres {
		return "postgres"
	}
	return "sqlite"
}

func (d Dialect) driverName() string {
	if d == Postgres {
		return "postgres"
	}
	return "sqlite"
}

// sqlitePragmas enables cascades, waits on locks instead of failing and
// takes the write lock when a transaction begins.
const sqlitePragmas = "_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_txlock=immediate&_time_format=sqlite"

// Repository is the ledger store. Every balance change goes through an
// atomic increment inside a database transaction.
type Repository struct {
	db      *sql.DB
	dialect Dialect
	now     func() time.Time
}

// querier is satisfied by *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Open picks the dialect from dsn: postgres:// and postgresql:// URLs go to
// PostgreSQL, anything else is treated as a SQLite file path.
func Open(dsn string) (*Repository, error) {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		return NewPostgresRepository(dsn)
	}
	return NewSQLiteRepository(dsn)
}

func NewSQLiteRepository(dbPath string) (*Repository, error) {
	if strings.TrimSpace(dbPath) == "" {
		return nil, core.Misconfigured("open sqlite database", "database path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}
	dsn := dbPath + "?" + sqlitePragmas
	return open(SQLite, dsn)
}

func NewPostgresRepository(url string) (*Repository, error) {
	return open(Postgres, url)
}

func open(d Dialect, dsn string) (*Repository, error) {
	db, err := sql.Open(d.driverName(), dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s database: %w", d, err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, &core.Error{Kind: core.ErrConfiguration, Op: "ping database", Err: err}
	}

	if err := RunMigrations(d, dsn); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &Repository{db: db, dialect: d, now: time.Now}, nil
}

func (r *Repository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

// Ping reports whether the database answers.
func (r *Repository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

func (r *Repository) Dialect() Dialect { return r.dialect }

// rebind rewrites ? placeholders to $n for PostgreSQL.
func (r *Repository) rebind(query string) string {
	if r.dialect != Postgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

// forUpdate locks selected rows on PostgreSQL. SQLite transactions already
// hold the write lock from BEGIN IMMEDIATE.
func (r *Repository) forUpdate() string {
	if r.dialect == Postgres {
		return " FOR UPDATE"
	}
	return ""
}

func (r *Repository) timestamp() time.Time {
	return r.now().UTC()
}

// inTx runs fn inside a database transaction, committing when fn succeeds.
func (r *Repository) inTx(ctx context.Context, fn func(tx *sql.Tx) error) (err error) {
	tx, err := r.db.BeginTx(ctx, &sql.TxOptions{Isolation: r.isolation()})
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if err = fn(tx); err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

func (r *Repository) isolation() sql.IsolationLevel {
	if r.dialect == Postgres {
		return sql.LevelReadCommitted
	}
	return sql.LevelDefault
}

func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

// Users

const userColumns = "id, clerk_user_id, email, name, image_url, created_at, updated_at"

func scanUser(row interface{ Scan(...any) error }) (core.User, error) {
	var u core.User
	if err := row.Scan(&u.ID, &u.ClerkUserID, &u.Email, &u.Name, &u.ImageURL, &u.CreatedAt, &u.UpdatedAt); err != nil {
		return core.User{}, err
	}
	u.CreatedAt = u.CreatedAt.UTC()
	u.UpdatedAt = u.UpdatedAt.UTC()
	return u, nil
}

// UserByClerkID returns the user for an identity-provider subject.
func (r *Repository) UserByClerkID(ctx context.Context, clerkID string) (core.User, error) {
	u, err := scanUser(r.db.QueryRowContext(ctx,
		r.rebind("SELECT "+userColumns+" FROM users WHERE clerk_user_id = ?"), clerkID))
	if errors.Is(err, sql.ErrNoRows) {
		return core.User{}, core.NotFound("get user", "user not found")
	}
	if err != nil {
		return core.User{}, fmt.Errorf("get user: %w", err)
	}
	return u, nil
}

// EnsureUser returns the user for clerkID, creating an empty one if needed.
func (r *Repository) EnsureUser(ctx context.Context, clerkID string) (core.User, error) {
	now := r.timestamp()
	_, err := r.db.ExecContext(ctx, r.rebind(`
		INSERT INTO users (id, clerk_user_id, email, name, image_url, created_at, updated_at)
		VALUES (?, ?, '', '', '', ?, ?)
		ON CONFLICT (clerk_user_id) DO NOTHING`),
		newID(), clerkID, now, now)
	if err != nil {
		return core.User{}, fmt.Errorf("ensure user: %w", err)
	}
	return r.UserByClerkID(ctx, clerkID)
}

// UpsertUser inserts or refreshes the profile of an identity-provider user.
func (r *Repository) UpsertUser(ctx context.Context, u core.User) (core.User, error) {
	now := r.timestamp()
	_, err := r.db.ExecContext(ctx, r.rebind(`
		INSERT INTO users (id, clerk_user_id, email, name, image_url, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (clerk_user_id) DO UPDATE SET
			email = excluded.email,
			name = excluded.name,
			image_url = excluded.image_url,
			updated_at = excluded.updated_at`),
		newID(), u.ClerkUserID, u.Email, u.Name, u.ImageURL, now, now)
	if err != nil {
		return core.User{}, fmt.Errorf("upsert user: %w", err)
	}

	saved, err := r.UserByClerkID(ctx, u.ClerkUserID)
	if err != nil {
		return core.User{}, err
	}
	slog.InfoContext(ctx, "User upserted", log.FieldUserID, saved.ID, "clerk_user_id", saved.ClerkUserID)
	return saved, nil
}

// DeleteUser removes a user and everything it owns in one transaction.
// It reports false when no such user exists.
func (r *Repository) DeleteUser(ctx context.Context, clerkID string) (bool, error) {
	deleted := false
	err := r.inTx(ctx, func(tx *sql.Tx) error {
		var userID string
		err := tx.QueryRowContext(ctx, r.rebind("SELECT id FROM users WHERE clerk_user_id = ?"), clerkID).Scan(&userID)
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("find user: %w", err)
		}

		for _, stmt := range []string{
			"DELETE FROM transactions WHERE user_id = ?",
			"DELETE FROM accounts WHERE user_id = ?",
			"DELETE FROM budgets WHERE user_id = ?",
			"DELETE FROM users WHERE id = ?",
		} {
			if _, err := tx.ExecContext(ctx, r.rebind(stmt), userID); err != nil {
				return fmt.Errorf("delete user data: %w", err)
			}
		}
		deleted = true
		return nil
	})
	if err != nil {
		return false, err
	}
	if deleted {
		slog.InfoContext(ctx, "User deleted with owned data", "clerk_user_id", clerkID)
	}
	return deleted, nil
}
