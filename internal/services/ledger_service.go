package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"welth/internal/amqp"
	"welth/internal/core"
	"welth/internal/log"
	"welth/internal/receipt"
	"welth/internal/storage"
)

// Store is the persistence the ledger service needs. *storage.Repository
// implements it.
type Store interface {
	EnsureUser(ctx context.Context, clerkID string) (core.User, error)
	UserByClerkID(ctx context.Context, clerkID string) (core.User, error)

	CreateAccount(ctx context.Context, a core.Account) (core.Account, error)
	ListAccounts(ctx context.Context, userID string) ([]core.Account, error)
	GetAccount(ctx context.Context, userID, accountID string) (core.Account, error)
	DefaultAccount(ctx context.Context, userID string) (core.Account, error)
	SetDefaultAccount(ctx context.Context, userID, accountID string) (core.Account, error)

	CreateTransaction(ctx context.Context, t core.Transaction) (core.Transaction, error)
	GetTransaction(ctx context.Context, userID, id string) (core.Transaction, error)
	ListTransactions(ctx context.Context, userID string, f storage.TransactionFilter) ([]core.Transaction, error)
	UpdateTransaction(ctx context.Context, userID, id string, upd core.Transaction) (core.Transaction, error)
	DeleteTransactions(ctx context.Context, userID string, ids []string) ([]core.Transaction, error)
	SumExpenses(ctx context.Context, accountID string, from, to time.Time) (core.Money, error)

	GetBudget(ctx context.Context, userID string) (*core.Budget, error)
	UpsertBudget(ctx context.Context, userID string, amount core.Money) (core.Budget, error)
}

// EventPublisher announces committed ledger changes. *amqp.Client
// implements it.
type EventPublisher interface {
	PublishLedgerEvent(ctx context.Context, evt *amqp.LedgerEvent) error
}

// ReceiptScanner reads an expense candidate off a receipt image.
type ReceiptScanner interface {
	Scan(ctx context.Context, image []byte, mimeType string) (receipt.Result, error)
}

// AccountInput is what a caller may set on a new account.
type AccountInput struct {
	Name      string
	Type      core.AccountType
	Balance   core.Money
	IsDefault bool
}

// TransactionInput is what a caller may set on a transaction.
type TransactionInput struct {
	Type              core.TransactionType
	Amount            core.Money
	Description       string
	Category          string
	Date              time.Time
	AccountID         string
	ReceiptURL        string
	IsRecurring       bool
	RecurringInterval core.RecurringInterval
}

// AccountDetail is an account with its transactions, newest first.
type AccountDetail struct {
	Account      core.Account       `json:"account"`
	Transactions []core.Transaction `json:"transactions"`
	Count        int                `json:"transactionCount"`
}

// Dashboard is everything the landing page shows.
type Dashboard struct {
	Accounts           []core.Account        `json:"accounts"`
	Transactions       []core.Transaction    `json:"transactions"`
	Budget             core.BudgetProgress   `json:"budget"`
	ExpensesByCategory []core.CategoryAmount `json:"expensesByCategory"`
}

// LedgerService runs every user-facing ledger operation on behalf of an
// authenticated subject. Writes are saved first and announced afterwards.
type LedgerService struct {
	store     Store
	publisher EventPublisher
	scanner   ReceiptScanner
	now       func() time.Time
}

// NewLedgerService wires the service. publisher and scanner may be nil,
// which disables events and receipt scanning respectively.
func NewLedgerService(store Store, publisher EventPublisher, scanner ReceiptScanner) *LedgerService {
	return &LedgerService{
		store:     store,
		publisher: publisher,
		scanner:   scanner,
		now:       time.Now,
	}
}

func (s *LedgerService) user(ctx context.Context, op, subject string) (core.User, error) {
	if strings.TrimSpace(subject) == "" {
		return core.User{}, core.Unauthorized(op)
	}
	u, err := s.store.UserByClerkID(ctx, subject)
	if err != nil {
		return core.User{}, err
	}
	return u, nil
}

// GetUserAccounts lists the caller's accounts. It never fails: a missing
// subject or a storage error yields an empty list. The user row is created
// on first access so sign-ups whose webhook was missed still work.
func (s *LedgerService) GetUserAccounts(ctx context.Context, subject string) []core.Account {
	if strings.TrimSpace(subject) == "" {
		return []core.Account{}
	}
	u, err := s.store.EnsureUser(ctx, subject)
	if err != nil {
		slog.ErrorContext(ctx, "Failed to resolve user for account list", log.FieldError, err)
		return []core.Account{}
	}
	accounts, err := s.store.ListAccounts(ctx, u.ID)
	if err != nil {
		slog.ErrorContext(ctx, "Failed to list accounts", log.FieldUserID, u.ID, log.FieldError, err)
		return []core.Account{}
	}
	if accounts == nil {
		accounts = []core.Account{}
	}
	return accounts
}

func (s *LedgerService) CreateAccount(ctx context.Context, subject string, in AccountInput) (core.Account, error) {
	const op = "create account"
	u, err := s.user(ctx, op, subject)
	if err != nil {
		return core.Account{}, err
	}

	a := core.Account{
		UserID:    u.ID,
		Name:      strings.TrimSpace(in.Name),
		Type:      in.Type,
		Balance:   in.Balance,
		IsDefault: in.IsDefault,
	}
	if err := a.Validate(); err != nil {
		return core.Account{}, core.Invalid(op, err)
	}
	return s.store.CreateAccount(ctx, a)
}

func (s *LedgerService) SetDefaultAccount(ctx context.Context, subject, accountID string) (core.Account, error) {
	u, err := s.user(ctx, "set default account", subject)
	if err != nil {
		return core.Account{}, err
	}
	return s.store.SetDefaultAccount(ctx, u.ID, accountID)
}

func (s *LedgerService) GetAccountWithTransactions(ctx context.Context, subject, accountID string) (AccountDetail, error) {
	u, err := s.user(ctx, "get account", subject)
	if err != nil {
		return AccountDetail{}, err
	}
	a, err := s.store.GetAccount(ctx, u.ID, accountID)
	if err != nil {
		return AccountDetail{}, err
	}
	txs, err := s.store.ListTransactions(ctx, u.ID, storage.TransactionFilter{AccountID: a.ID})
	if err != nil {
		return AccountDetail{}, fmt.Errorf("list account transactions: %w", err)
	}
	a.TransactionCount = len(txs)
	return AccountDetail{Account: a, Transactions: nonNil(txs), Count: len(txs)}, nil
}

func (s *LedgerService) CreateTransaction(ctx context.Context, subject string, in TransactionInput) (core.Transaction, error) {
	const op = "create transaction"
	u, err := s.user(ctx, op, subject)
	if err != nil {
		return core.Transaction{}, err
	}

	t, err := buildTransaction(op, u.ID, in)
	if err != nil {
		return core.Transaction{}, err
	}
	saved, err := s.store.CreateTransaction(ctx, t)
	if err != nil {
		return core.Transaction{}, err
	}

	s.publish(ctx, amqp.TransactionCreated, saved)
	return saved, nil
}

func (s *LedgerService) GetTransaction(ctx context.Context, subject, id string) (core.Transaction, error) {
	u, err := s.user(ctx, "get transaction", subject)
	if err != nil {
		return core.Transaction{}, err
	}
	return s.store.GetTransaction(ctx, u.ID, id)
}

func (s *LedgerService) UpdateTransaction(ctx context.Context, subject, id string, in TransactionInput) (core.Transaction, error) {
	const op = "update transaction"
	u, err := s.user(ctx, op, subject)
	if err != nil {
		return core.Transaction{}, err
	}

	t, err := buildTransaction(op, u.ID, in)
	if err != nil {
		return core.Transaction{}, err
	}
	saved, err := s.store.UpdateTransaction(ctx, u.ID, id, t)
	if err != nil {
		return core.Transaction{}, err
	}

	s.publish(ctx, amqp.TransactionUpdated, saved)
	return saved, nil
}

// ListTransactions returns the caller's transactions, newest first,
// optionally limited to one account.
func (s *LedgerService) ListTransactions(ctx context.Context, subject, accountID string) ([]core.Transaction, error) {
	u, err := s.user(ctx, "list transactions", subject)
	if err != nil {
		return nil, err
	}
	txs, err := s.store.ListTransactions(ctx, u.ID, storage.TransactionFilter{AccountID: accountID})
	if err != nil {
		return nil, err
	}
	return nonNil(txs), nil
}

// DeleteTransactions deletes the caller's transactions among ids and
// reports how many were deleted. Ids the caller does not own are skipped.
func (s *LedgerService) DeleteTransactions(ctx context.Context, subject string, ids []string) (int, error) {
	const op = "delete transactions"
	u, err := s.user(ctx, op, subject)
	if err != nil {
		return 0, err
	}
	deleted, err := s.store.DeleteTransactions(ctx, u.ID, ids)
	if err != nil {
		return 0, err
	}
	for _, t := range deleted {
		s.publish(ctx, amqp.TransactionDeleted, t)
	}
	return len(deleted), nil
}

// GetDashboardData loads accounts, transactions and budget progress
// concurrently. Like GetUserAccounts it creates the user on first access.
func (s *LedgerService) GetDashboardData(ctx context.Context, subject string) (Dashboard, error) {
	if strings.TrimSpace(subject) == "" {
		return Dashboard{}, core.Unauthorized("get dashboard")
	}
	u, err := s.store.EnsureUser(ctx, subject)
	if err != nil {
		return Dashboard{}, fmt.Errorf("resolve user: %w", err)
	}

	var d Dashboard
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		accounts, err := s.store.ListAccounts(gctx, u.ID)
		if err != nil {
			return fmt.Errorf("list accounts: %w", err)
		}
		d.Accounts = accounts
		return nil
	})
	g.Go(func() error {
		txs, err := s.store.ListTransactions(gctx, u.ID, storage.TransactionFilter{})
		if err != nil {
			return fmt.Errorf("list transactions: %w", err)
		}
		d.Transactions = txs
		return nil
	})
	g.Go(func() error {
		p, err := s.budgetProgress(gctx, u.ID)
		if err != nil {
			return err
		}
		d.Budget = p
		return nil
	})
	if err := g.Wait(); err != nil {
		return Dashboard{}, err
	}

	start, end := core.MonthBounds(s.now().UTC())
	d.Accounts = nonNil(d.Accounts)
	d.Transactions = nonNil(d.Transactions)
	d.ExpensesByCategory = nonNil(core.ExpensesByCategory(d.Transactions, start, end))
	return d, nil
}

// GetCurrentBudget returns the caller's budget and this month's expenses
// on the default account.
func (s *LedgerService) GetCurrentBudget(ctx context.Context, subject string) (core.BudgetProgress, error) {
	u, err := s.user(ctx, "get budget", subject)
	if err != nil {
		return core.BudgetProgress{}, err
	}
	return s.budgetProgress(ctx, u.ID)
}

func (s *LedgerService) budgetProgress(ctx context.Context, userID string) (core.BudgetProgress, error) {
	budget, err := s.store.GetBudget(ctx, userID)
	if err != nil {
		return core.BudgetProgress{}, err
	}
	p := core.BudgetProgress{Budget: budget}

	def, err := s.store.DefaultAccount(ctx, userID)
	if errors.Is(err, core.ErrNotFound) {
		return p, nil
	}
	if err != nil {
		return core.BudgetProgress{}, err
	}

	start, end := core.MonthBounds(s.now().UTC())
	spent, err := s.store.SumExpenses(ctx, def.ID, start, end)
	if err != nil {
		return core.BudgetProgress{}, err
	}
	p.CurrentExpenses = spent
	return p, nil
}

func (s *LedgerService) UpdateBudget(ctx context.Context, subject string, amount core.Money) (core.Budget, error) {
	const op = "update budget"
	u, err := s.user(ctx, op, subject)
	if err != nil {
		return core.Budget{}, err
	}
	if err := (core.Budget{Amount: amount}).Validate(); err != nil {
		return core.Budget{}, core.Invalid(op, err)
	}
	return s.store.UpsertBudget(ctx, u.ID, amount)
}

func (s *LedgerService) ScanReceipt(ctx context.Context, subject string, image []byte, mimeType string) (receipt.Result, error) {
	const op = "scan receipt"
	if strings.TrimSpace(subject) == "" {
		return receipt.Result{}, core.Unauthorized(op)
	}
	if s.scanner == nil {
		return receipt.Result{}, core.Misconfigured(op, "receipt scanning is not configured")
	}
	return s.scanner.Scan(ctx, image, mimeType)
}

// publish announces t after it was saved. Failures are logged only.
func (s *LedgerService) publish(ctx context.Context, typ amqp.EventType, t core.Transaction) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.PublishLedgerEvent(ctx, amqp.NewLedgerEvent(typ, t)); err != nil {
		slog.ErrorContext(ctx, "Failed to publish ledger event",
			log.FieldEventType, typ,
			log.FieldTransactionID, t.ID,
			log.FieldError, err)
	}
}

func buildTransaction(op, userID string, in TransactionInput) (core.Transaction, error) {
	t := core.Transaction{
		UserID:            userID,
		AccountID:         strings.TrimSpace(in.AccountID),
		Type:              in.Type,
		Amount:            in.Amount,
		Description:       strings.TrimSpace(in.Description),
		Category:          strings.TrimSpace(in.Category),
		Date:              in.Date,
		ReceiptURL:        in.ReceiptURL,
		IsRecurring:       in.IsRecurring,
		RecurringInterval: in.RecurringInterval,
	}
	if !t.IsRecurring {
		t.RecurringInterval = ""
	}
	if err := t.Validate(); err != nil {
		return core.Transaction{}, core.Invalid(op, err)
	}
	if err := core.ScheduleNext(&t); err != nil {
		return core.Transaction{}, core.Invalid(op, err)
	}
	return t, nil
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
