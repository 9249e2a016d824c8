package sheets

import (
	"context"
	"time"

	"welth/internal/core"
)

// Header is the first row of a ledger sheet.
var Header = []string{"Date", "Type", "Amount", "Category", "Description", "Account", "Event", "Transaction"}

// LedgerRow is one line of the ledger mirror. Rows are only ever
// appended; a deletion is recorded as a tombstone row.
type LedgerRow struct {
	Date          time.Time
	Type          core.TransactionType
	Amount        core.Money
	Category      string
	Description   string
	AccountID     string
	Event         string
	TransactionID string
}

// Values returns the cells of r in Header order.
func (r LedgerRow) Values() []any {
	return []any{
		r.Date.UTC().Format(time.DateOnly),
		string(r.Type),
		r.Amount.String(),
		r.Category,
		r.Description,
		r.AccountID,
		r.Event,
		r.TransactionID,
	}
}

// LedgerWriter appends rows to the mirror and returns a reference to the
// written row.
type LedgerWriter interface {
	AppendLedgerRow(ctx context.Context, row LedgerRow) (rowRef string, err error)
}
