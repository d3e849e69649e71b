// Package ingest turns chain payment events into Transaction Store writes.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/TRUSTSCOREAI/TRUSTSCORE/internal/domain"
	"github.com/TRUSTSCOREAI/TRUSTSCORE/internal/metrics"
)

// Event is a payment observed by the chain watcher.
//
// Amount is in token units unless Decimals is set, in which case it is an
// integer count of base units (USDC uses 6).
type Event struct {
	Hash               string          `json:"txHash"`
	From               string          `json:"from"`
	To                 string          `json:"to"`
	Amount             decimal.Decimal `json:"amount"`
	Decimals           *int32          `json:"decimals,omitempty"`
	BlockHeight        int64           `json:"blockHeight"`
	Timestamp          int64           `json:"timestamp"`
	Facilitator        string          `json:"facilitator,omitempty"`
	AuthorizationNonce string          `json:"authorizationNonce,omitempty"`
}

// Outcome is what happened to one event.
type Outcome string

const (
	OutcomeStored    Outcome = "stored"
	OutcomeDuplicate Outcome = "duplicate"
	OutcomeRejected  Outcome = "rejected"
)

// Adapter validates, normalizes and stores events. Replays are suppressed
// by the store's insert-if-absent on the transaction hash.
type Adapter struct {
	store        domain.TransactionStore
	facilitators map[string]struct{}
	policy       *Policy
	now          func() time.Time
	logger       *slog.Logger
}

// NewAdapter builds an adapter from cfg. An empty facilitator allow-list
// accepts events from any intermediary.
func NewAdapter(store domain.TransactionStore, cfg domain.IngestConfig, logger *slog.Logger) (*Adapter, error) {
	policy, err := CompilePolicy(cfg.Policy)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}

	allowed := make(map[string]struct{}, len(cfg.Facilitators))
	for _, f := range cfg.Facilitators {
		allowed[normalizeFacilitator(f)] = struct{}{}
	}

	return &Adapter{
		store:        store,
		facilitators: allowed,
		policy:       policy,
		now:          time.Now,
		logger:       logger,
	}, nil
}

// Ingest stores ev once. Malformed or unauthorized events return
// OutcomeRejected with an error wrapping domain.ErrUpstreamIngestion;
// store failures wrap domain.ErrPersistence.
func (a *Adapter) Ingest(ctx context.Context, ev Event) (Outcome, error) {
	tx, err := a.normalize(ev)
	if err == nil {
		err = a.authorize(tx)
	}
	if err != nil {
		metrics.IngestEventsTotal.WithLabelValues(string(OutcomeRejected)).Inc()
		a.logger.Warn("discarding payment event",
			"tx_hash", ev.Hash,
			"facilitator", ev.Facilitator,
			"error", err,
		)
		return OutcomeRejected, err
	}

	inserted, err := a.store.InsertTransactionIfAbsent(ctx, tx)
	if err != nil {
		return "", err
	}

	outcome := OutcomeDuplicate
	if inserted {
		outcome = OutcomeStored
	}
	metrics.IngestEventsTotal.WithLabelValues(string(outcome)).Inc()
	a.logger.Debug("payment event ingested",
		"tx_hash", tx.Hash,
		"to", tx.To,
		"outcome", outcome,
	)
	return outcome, nil
}

func (a *Adapter) normalize(ev Event) (*domain.Transaction, error) {
	var errs []error

	hash, err := domain.NormalizeHash(ev.Hash)
	if err != nil {
		errs = append(errs, fmt.Errorf("hash: %w", err))
	}
	from, err := domain.NormalizeAddress(ev.From)
	if err != nil {
		errs = append(errs, fmt.Errorf("from: %w", err))
	}
	to, err := domain.NormalizeAddress(ev.To)
	if err != nil {
		errs = append(errs, fmt.Errorf("to: %w", err))
	}

	amount := ev.Amount
	if ev.Decimals != nil {
		switch {
		case *ev.Decimals < 0 || *ev.Decimals > 36:
			errs = append(errs, fmt.Errorf("decimals %d out of range", *ev.Decimals))
		case !amount.Equal(amount.Truncate(0)):
			errs = append(errs, fmt.Errorf("base-unit amount %s is fractional", amount))
		default:
			amount = amount.Shift(-*ev.Decimals)
		}
	}
	if amount.IsNegative() {
		errs = append(errs, fmt.Errorf("amount %s is negative", amount))
	}
	if ev.Timestamp <= 0 {
		errs = append(errs, fmt.Errorf("timestamp %d is not positive", ev.Timestamp))
	}
	if ev.BlockHeight < 0 {
		errs = append(errs, fmt.Errorf("block height %d is negative", ev.BlockHeight))
	}

	if len(errs) > 0 {
		return nil, fmt.Errorf("%w: %w", domain.ErrUpstreamIngestion, errors.Join(errs...))
	}

	return &domain.Transaction{
		Hash:               hash,
		From:               from,
		To:                 to,
		Amount:             amount,
		BlockHeight:        ev.BlockHeight,
		Timestamp:          ev.Timestamp,
		Facilitator:        normalizeFacilitator(ev.Facilitator),
		AuthorizationNonce: strings.TrimSpace(ev.AuthorizationNonce),
		CreatedAt:          a.now().Unix(),
	}, nil
}

func (a *Adapter) authorize(tx *domain.Transaction) error {
	if len(a.facilitators) > 0 {
		if _, ok := a.facilitators[tx.Facilitator]; !ok {
			return fmt.Errorf("%w: unrecognized facilitator %q", domain.ErrUpstreamIngestion, tx.Facilitator)
		}
	}

	allowed, err := a.policy.Allow(tx)
	if err != nil {
		return fmt.Errorf("%w: %w", domain.ErrUpstreamIngestion, err)
	}
	if !allowed {
		return fmt.Errorf("%w: rejected by policy %q", domain.ErrUpstreamIngestion, a.policy)
	}
	return nil
}

// normalizeFacilitator canonicalizes address identities and lowercases
// named ones.
func normalizeFacilitator(f string) string {
	if addr, err := domain.NormalizeAddress(f); err == nil {
		return addr
	}
	return strings.ToLower(strings.TrimSpace(f))
}
