// Package window loads the transaction set a detector run examines.
package window

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/TRUSTSCOREAI/TRUSTSCORE/internal/domain"
)

// Window is a consistent, read-only view of one subject's transactions.
// Transactions are sorted by timestamp, oldest first.
type Window struct {
	Subject      string
	Now          int64
	Transactions []domain.Transaction
}

// Empty reports whether the window holds no transactions.
func (w Window) Empty() bool {
	return len(w.Transactions) == 0
}

// Since returns the tail of the window with timestamp >= ts.
func (w Window) Since(ts int64) []domain.Transaction {
	i := sort.Search(len(w.Transactions), func(i int) bool {
		return w.Transactions[i].Timestamp >= ts
	})
	return w.Transactions[i:]
}

// Last returns at most n of the most recent transactions.
func (w Window) Last(n int) []domain.Transaction {
	if n <= 0 || n >= len(w.Transactions) {
		return w.Transactions
	}
	return w.Transactions[len(w.Transactions)-n:]
}

// Side selects which counterparty column the subject is matched on.
type Side int

const (
	// Recipient loads payments received by the subject (services).
	Recipient Side = iota
	// Payer loads payments sent by the subject (agents).
	Payer
)

func (s Side) String() string {
	if s == Payer {
		return "payer"
	}
	return "recipient"
}

// Loader reads windows from the transaction store.
type Loader struct {
	store domain.TransactionStore
	now   func() time.Time
}

// NewLoader creates a loader. A nil clock uses time.Now.
func NewLoader(store domain.TransactionStore, clock func() time.Time) *Loader {
	if clock == nil {
		clock = time.Now
	}
	return &Loader{store: store, now: clock}
}

// Load pulls the full history of address in a single store query so every
// detector in a run sees the same snapshot.
func (l *Loader) Load(ctx context.Context, address string, side Side) (Window, error) {
	w := Window{Subject: address, Now: l.now().Unix()}

	var (
		txs []domain.Transaction
		err error
	)
	switch side {
	case Payer:
		txs, err = l.store.GetTransactionsFrom(ctx, address, 0)
	default:
		txs, err = l.store.GetTransactionsTo(ctx, address, 0)
	}
	if err != nil {
		return w, fmt.Errorf("load %s window for %s: %w", side, address, err)
	}

	// Detectors require ascending timestamps.
	sort.SliceStable(txs, func(i, j int) bool {
		return txs[i].Timestamp < txs[j].Timestamp
	})
	w.Transactions = txs
	return w, nil
}

// Now returns the loader's current unix time.
func (l *Loader) Now() int64 {
	return l.now().Unix()
}
