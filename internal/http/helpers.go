package http

import (
	"errors"
	"strings"
	"time"

	"welth/internal/core"
	"welth/internal/services"
)

var errBadDate = errors.New("invalid date")

// parseDate accepts YYYY-MM-DD (midnight UTC) or an RFC 3339 timestamp.
func parseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if t, err := time.Parse(time.DateOnly, s); err == nil {
		return t, nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC(), nil
	}
	return time.Time{}, errBadDate
}

// sanitizeInput drops control characters other than tab and newlines and
// trims whitespace.
func sanitizeInput(s string) string {
	return strings.TrimSpace(strings.Map(func(r rune) rune {
		if r < 32 && r != '\t' && r != '\n' && r != '\r' {
			return -1
		}
		if r == 0x7f {
			return -1
		}
		return r
	}, s))
}

func (req TransactionRequest) input() (services.TransactionInput, []ValidationError) {
	date, err := parseDate(req.Date)
	if err != nil {
		return services.TransactionInput{}, []ValidationError{{
			Field:   "date",
			Message: "Must be a date in YYYY-MM-DD format",
			Type:    "datetime",
		}}
	}
	return services.TransactionInput{
		Type:              core.TransactionType(req.Type),
		Amount:            req.Amount,
		Description:       sanitizeInput(req.Description),
		Category:          sanitizeInput(req.Category),
		Date:              date,
		AccountID:         strings.TrimSpace(req.AccountID),
		ReceiptURL:        strings.TrimSpace(req.ReceiptURL),
		IsRecurring:       req.IsRecurring,
		RecurringInterval: core.RecurringInterval(req.RecurringInterval),
	}, nil
}

func (req CreateAccountRequest) input() services.AccountInput {
	return services.AccountInput{
		Name:      sanitizeInput(req.Name),
		Type:      core.AccountType(req.Type),
		Balance:   req.Balance,
		IsDefault: req.IsDefault,
	}
}
