// Package worker consumes chain payment events from the EventBus.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/TRUSTSCOREAI/TRUSTSCORE/internal/domain"
	"github.com/TRUSTSCOREAI/TRUSTSCORE/internal/ingest"
	"github.com/TRUSTSCOREAI/TRUSTSCORE/internal/metrics"
)

// Ingester stores one payment event.
type Ingester interface {
	Ingest(ctx context.Context, ev ingest.Event) (ingest.Outcome, error)
}

// Worker feeds bus messages into an Ingester. Malformed or rejected events
// are logged and dropped; they never stop the subscription.
type Worker struct {
	bus      domain.EventBus
	ingester Ingester
	logger   *slog.Logger

	mu            sync.Mutex
	subscriptions []domain.Subscription
	cancel        context.CancelFunc
}

// NewWorker creates a worker.
func NewWorker(bus domain.EventBus, ingester Ingester, logger *slog.Logger) *Worker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Worker{bus: bus, ingester: ingester, logger: logger}
}

// Start subscribes to the payment topic. The subscription ends when ctx is
// cancelled or Stop is called.
func (w *Worker) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.cancel != nil {
		return errors.New("worker already started")
	}

	ctx, cancel := context.WithCancel(ctx)
	sub, err := w.bus.Subscribe(ctx, domain.TopicPaymentObserved, w.handleMessage)
	if err != nil {
		cancel()
		return fmt.Errorf("subscribe %s: %w", domain.TopicPaymentObserved, err)
	}
	w.subscriptions = append(w.subscriptions, sub)
	w.cancel = cancel

	w.logger.Info("ingest worker started", "topic", domain.TopicPaymentObserved)
	return nil
}

func (w *Worker) handleMessage(ctx context.Context, msg *domain.Message) error {
	var ev ingest.Event
	if err := json.Unmarshal(msg.Payload, &ev); err != nil {
		metrics.IngestEventsTotal.WithLabelValues(string(ingest.OutcomeRejected)).Inc()
		w.logger.Warn("failed to parse payment event",
			"message_id", msg.ID,
			"error", err,
		)
		return nil
	}

	outcome, err := w.ingester.Ingest(ctx, ev)
	switch {
	case errors.Is(err, domain.ErrUpstreamIngestion):
		// Already logged by the adapter.
	case err != nil:
		w.logger.Error("failed to store payment event",
			"message_id", msg.ID,
			"tx_hash", ev.Hash,
			"error", err,
		)
	default:
		w.logger.Debug("payment event processed",
			"message_id", msg.ID,
			"tx_hash", ev.Hash,
			"outcome", outcome,
		)
	}
	return nil
}

// Stop unsubscribes and cancels the worker context.
func (w *Worker) Stop() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.cancel == nil {
		return nil
	}
	w.cancel()
	w.cancel = nil

	for _, sub := range w.subscriptions {
		if err := sub.Unsubscribe(); err != nil {
			w.logger.Error("failed to unsubscribe",
				"topic", sub.Topic(),
				"error", err,
			)
		}
	}
	w.subscriptions = nil

	w.logger.Info("ingest worker stopped")
	return nil
}

// Stats describes the active subscriptions.
type Stats struct {
	SubscriptionCount int      `json:"subscriptionCount"`
	Topics            []string `json:"topics"`
}

// GetStats returns current worker statistics.
func (w *Worker) GetStats() Stats {
	w.mu.Lock()
	defer w.mu.Unlock()

	topics := make([]string, len(w.subscriptions))
	for i, sub := range w.subscriptions {
		topics[i] = sub.Topic()
	}
	return Stats{
		SubscriptionCount: len(w.subscriptions),
		Topics:            topics,
	}
}
