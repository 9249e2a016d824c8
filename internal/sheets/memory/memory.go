package memory

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"welth/internal/sheets"
)

// Store is an in-process ledger mirror used when no spreadsheet is
// configured and in tests.
type Store struct {
	mu   sync.Mutex
	rows []sheets.LedgerRow
}

var _ sheets.LedgerWriter = (*Store)(nil)

func New() *Store {
	return &Store{}
}

// AppendLedgerRow stores the row and returns a synthetic row reference.
func (s *Store) AppendLedgerRow(_ context.Context, row sheets.LedgerRow) (string, error) {
	if strings.TrimSpace(row.TransactionID) == "" {
		return "", errors.New("ledger row without transaction id")
	}
	if strings.TrimSpace(row.Event) == "" {
		return "", errors.New("ledger row without event")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows = append(s.rows, row)
	return fmt.Sprintf("mem:%d", len(s.rows)), nil
}

// Rows returns a copy of everything appended so far, oldest first.
func (s *Store) Rows() []sheets.LedgerRow {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]sheets.LedgerRow(nil), s.rows...)
}

// Len reports the number of appended rows.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.rows)
}
