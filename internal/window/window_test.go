package window

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/TRUSTSCOREAI/TRUSTSCORE/internal/domain"
)

type stubStore struct {
	to, from []domain.Transaction
	err      error
	calls    int
}

func (s *stubStore) InsertTransactionIfAbsent(context.Context, *domain.Transaction) (bool, error) {
	return false, nil
}

func (s *stubStore) GetTransactionsTo(context.Context, string, int64) ([]domain.Transaction, error) {
	s.calls++
	return s.to, s.err
}

func (s *stubStore) GetTransactionsFrom(context.Context, string, int64) ([]domain.Transaction, error) {
	s.calls++
	return s.from, s.err
}

func (s *stubStore) ListServiceAddresses(context.Context) ([]string, error) { return nil, nil }
func (s *stubStore) ListAgentAddresses(context.Context) ([]string, error)   { return nil, nil }

func txAt(hash string, ts int64) domain.Transaction {
	return domain.Transaction{Hash: hash, Timestamp: ts}
}

func TestLoader(t *testing.T) {
	clock := func() time.Time { return time.Unix(10_000, 0) }

	t.Run("SortsAscending", func(t *testing.T) {
		store := &stubStore{to: []domain.Transaction{txAt("c", 300), txAt("a", 100), txAt("b", 200)}}
		w, err := NewLoader(store, clock).Load(context.Background(), "svc", Recipient)
		if err != nil {
			t.Fatalf("Load failed: %v", err)
		}
		if store.calls != 1 {
			t.Errorf("expected one store query, got %d", store.calls)
		}
		for i, want := range []string{"a", "b", "c"} {
			if w.Transactions[i].Hash != want {
				t.Errorf("position %d: expected %s, got %s", i, want, w.Transactions[i].Hash)
			}
		}
		if w.Now != 10_000 || w.Subject != "svc" {
			t.Errorf("unexpected window header: %+v", w)
		}
	})

	t.Run("PayerSide", func(t *testing.T) {
		store := &stubStore{from: []domain.Transaction{txAt("x", 1)}}
		w, err := NewLoader(store, clock).Load(context.Background(), "agent", Payer)
		if err != nil {
			t.Fatalf("Load failed: %v", err)
		}
		if len(w.Transactions) != 1 || w.Transactions[0].Hash != "x" {
			t.Errorf("expected payer transactions, got %+v", w.Transactions)
		}
	})

	t.Run("StoreError", func(t *testing.T) {
		boom := errors.New("boom")
		_, err := NewLoader(&stubStore{err: boom}, clock).Load(context.Background(), "svc", Recipient)
		if !errors.Is(err, boom) {
			t.Errorf("expected wrapped store error, got %v", err)
		}
	})
}

func TestWindowSlices(t *testing.T) {
	w := Window{Transactions: []domain.Transaction{txAt("a", 100), txAt("b", 200), txAt("c", 300)}}

	if got := w.Since(200); len(got) != 2 || got[0].Hash != "b" {
		t.Errorf("Since(200) = %+v", got)
	}
	if got := w.Since(301); len(got) != 0 {
		t.Errorf("Since(301) should be empty, got %+v", got)
	}
	if got := w.Last(1); len(got) != 1 || got[0].Hash != "c" {
		t.Errorf("Last(1) = %+v", got)
	}
	if got := w.Last(0); len(got) != 3 {
		t.Errorf("Last(0) should return everything, got %d", len(got))
	}
	if w.Empty() || !(Window{}).Empty() {
		t.Error("Empty reported incorrectly")
	}
}
