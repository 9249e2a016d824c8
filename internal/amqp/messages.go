package amqp

import (
	"encoding/json"
	"fmt"
	"time"

	"welth/internal/core"
)

// EventType names a change to the ledger.
type EventType string

const (
	TransactionCreated EventType = "transaction.created"
	TransactionUpdated EventType = "transaction.updated"
	TransactionDeleted EventType = "transaction.deleted"
)

func (t EventType) Valid() bool {
	switch t {
	case TransactionCreated, TransactionUpdated, TransactionDeleted:
		return true
	}
	return false
}

// LedgerEvent announces a committed transaction change. It carries a
// snapshot of the transaction so consumers never need the database, which
// also covers deletions.
type LedgerEvent struct {
	Type        EventType        `json:"type"`
	Transaction core.Transaction `json:"transaction"`
	Timestamp   time.Time        `json:"timestamp"`
}

// NewLedgerEvent stamps an event for tx with the current time.
func NewLedgerEvent(t EventType, tx core.Transaction) *LedgerEvent {
	return &LedgerEvent{
		Type:        t,
		Transaction: tx,
		Timestamp:   time.Now().UTC(),
	}
}

// ToJSON converts the event to JSON bytes
func (e *LedgerEvent) ToJSON() ([]byte, error) {
	return json.Marshal(e)
}

// LedgerEventFromJSON decodes and sanity-checks an event.
func LedgerEventFromJSON(data []byte) (*LedgerEvent, error) {
	var evt LedgerEvent
	if err := json.Unmarshal(data, &evt); err != nil {
		return nil, err
	}
	if !evt.Type.Valid() {
		return nil, fmt.Errorf("unknown event type %q", evt.Type)
	}
	if evt.Transaction.ID == "" {
		return nil, fmt.Errorf("event without transaction id")
	}
	return &evt, nil
}
