package sheets

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Entry is one ledger row as mirrored to a spreadsheet.
type Entry struct {
	TxID        int64
	AccountID   int64
	Account     string
	Timestamp   time.Time
	Description string
	Amount      decimal.Decimal
	Currency    string
}

// Ports for outbound adapters.
type (
	// LedgerWriter appends ledger rows. Delivery is at-least-once: a writer
	// may see the same entry twice after a redelivered event.
	LedgerWriter interface {
		AppendEntries(ctx context.Context, entries []Entry) (rowRef string, err error)
	}

	// EntryLister returns everything mirrored so far.
	EntryLister interface {
		ListEntries(ctx context.Context) ([]Entry, error)
	}
)
