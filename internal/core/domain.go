package core

import (
	"errors"
	"strings"
	"time"
)

const (
	AccountCurrent    AccountType = "CURRENT"
	AccountSavings    AccountType = "SAVINGS"
	AccountInvestment AccountType = "INVESTMENT"
	AccountCredit     AccountType = "CREDIT"
)

const (
	Income  TransactionType = "INCOME"
	Expense TransactionType = "EXPENSE"
)

const (
	Daily   RecurringInterval = "DAILY"
	Weekly  RecurringInterval = "WEEKLY"
	Monthly RecurringInterval = "MONTHLY"
	Yearly  RecurringInterval = "YEARLY"
)

const (
	StatusPending   TransactionStatus = "PENDING"
	StatusCompleted TransactionStatus = "COMPLETED"
	StatusFailed    TransactionStatus = "FAILED"
)

type (
	AccountType       string
	TransactionType   string
	RecurringInterval string
	TransactionStatus string

	User struct {
		ID          string    `json:"id"`
		ClerkUserID string    `json:"clerkUserId"`
		Email       string    `json:"email"`
		Name        string    `json:"name"`
		ImageURL    string    `json:"imageUrl,omitempty"`
		CreatedAt   time.Time `json:"createdAt"`
		UpdatedAt   time.Time `json:"updatedAt"`
	}

	Account struct {
		ID               string      `json:"id"`
		UserID           string      `json:"userId"`
		Name             string      `json:"name"`
		Type             AccountType `json:"type"`
		Balance          Money       `json:"balance"`
		IsDefault        bool        `json:"isDefault"`
		TransactionCount int         `json:"transactionCount"`
		CreatedAt        time.Time   `json:"createdAt"`
		UpdatedAt        time.Time   `json:"updatedAt"`
	}

	Transaction struct {
		ID                string            `json:"id"`
		UserID            string            `json:"userId"`
		AccountID         string            `json:"accountId"`
		Type              TransactionType   `json:"type"`
		Amount            Money             `json:"amount"`
		Description       string            `json:"description"`
		Category          string            `json:"category"`
		Date              time.Time         `json:"date"`
		ReceiptURL        string            `json:"receiptUrl,omitempty"`
		IsRecurring       bool              `json:"isRecurring"`
		RecurringInterval RecurringInterval `json:"recurringInterval,omitempty"`
		NextRecurringDate *time.Time        `json:"nextRecurringDate,omitempty"`
		LastProcessed     *time.Time        `json:"lastProcessed,omitempty"`
		Status            TransactionStatus `json:"status"`
		CreatedAt         time.Time         `json:"createdAt"`
		UpdatedAt         time.Time         `json:"updatedAt"`
	}

	Budget struct {
		ID            string     `json:"id"`
		UserID        string     `json:"userId"`
		Amount        Money      `json:"amount"`
		LastAlertSent *time.Time `json:"lastAlertSent,omitempty"`
		CreatedAt     time.Time  `json:"createdAt"`
		UpdatedAt     time.Time  `json:"updatedAt"`
	}
)

var (
	ErrInvalidAmount          = errors.New("invalid amount")
	ErrInvalidAccountType     = errors.New("invalid account type")
	ErrInvalidTransactionType = errors.New("invalid transaction type")
	ErrInvalidInterval        = errors.New("invalid recurring interval")
	ErrEmptyName              = errors.New("empty name")
	ErrEmptyCategory          = errors.New("empty category")
	ErrEmptyAccount           = errors.New("empty account id")
	ErrZeroDate               = errors.New("date cannot be zero")
	ErrMissingInterval        = errors.New("recurring interval is required for recurring transactions")
)

func (t AccountType) Valid() bool {
	switch t {
	case AccountCurrent, AccountSavings, AccountInvestment, AccountCredit:
		return true
	}
	return false
}

func (t TransactionType) Valid() bool {
	return t == Income || t == Expense
}

func (i RecurringInterval) Valid() bool {
	switch i {
	case Daily, Weekly, Monthly, Yearly:
		return true
	}
	return false
}

// Sign returns +1 for income and -1 for expenses.
func (t TransactionType) Sign() int64 {
	if t == Expense {
		return -1
	}
	return 1
}

// Delta is the signed contribution of the transaction to its account balance, in cents.
func (t Transaction) Delta() int64 {
	return t.Type.Sign() * t.Amount.Cents
}

func (a Account) Validate() error {
	if strings.TrimSpace(a.Name) == "" {
		return ErrEmptyName
	}
	if len(a.Name) > 100 {
		return errors.New("name too long (max 100 characters)")
	}
	if !a.Type.Valid() {
		return ErrInvalidAccountType
	}
	return a.Balance.Validate()
}

func (t Transaction) Validate() error {
	if !t.Type.Valid() {
		return ErrInvalidTransactionType
	}
	if err := t.Amount.Validate(); err != nil {
		return err
	}
	if strings.TrimSpace(t.AccountID) == "" {
		return ErrEmptyAccount
	}
	if strings.TrimSpace(t.Category) == "" {
		return ErrEmptyCategory
	}
	if t.Date.IsZero() {
		return ErrZeroDate
	}
	if len(t.Description) > 500 {
		return errors.New("description too long (max 500 characters)")
	}
	if t.RecurringInterval != "" && !t.RecurringInterval.Valid() {
		return ErrInvalidInterval
	}
	if t.IsRecurring && t.RecurringInterval == "" {
		return ErrMissingInterval
	}
	return nil
}

func (b Budget) Validate() error {
	return b.Amount.Validate()
}
