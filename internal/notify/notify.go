// Package notify delivers newly created fraud flags to downstream sinks.
// Delivery is fire-and-forget: a failing sink is logged and counted, and
// never reported back to the caller that created the flag.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/TRUSTSCOREAI/TRUSTSCORE/internal/domain"
	"github.com/TRUSTSCOREAI/TRUSTSCORE/internal/metrics"
)

// EventFraudFlagged is the event type carried by every notification.
const EventFraudFlagged = "fraud.flagged"

// Sender delivers one notification.
type Sender interface {
	Send(ctx context.Context, payload []byte) error
	Name() string
}

// FlagEvent is the notification body.
type FlagEvent struct {
	Event     string           `json:"event"`
	Flag      domain.FraudFlag `json:"flag"`
	Timestamp int64            `json:"timestamp"`
}

// Notifier fans flags out to every sender in the background.
type Notifier struct {
	senders []Sender
	timeout time.Duration
	logger  *slog.Logger

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

// NewNotifier creates a notifier. Each delivery gets its own timeout.
func NewNotifier(senders []Sender, timeout time.Duration, logger *slog.Logger) *Notifier {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Notifier{
		senders: senders,
		timeout: timeout,
		logger:  logger.With("component", "notifier"),
	}
}

// New builds the senders enabled in cfg.
func New(cfg domain.NotifyConfig, bus domain.EventBus, logger *slog.Logger) *Notifier {
	var senders []Sender
	if cfg.Publish && bus != nil {
		senders = append(senders, NewBusSender(bus))
	}
	for _, url := range cfg.WebhookURLs {
		senders = append(senders, NewWebhookSender(url, cfg.WebhookSecret, cfg.Timeout))
	}
	return NewNotifier(senders, cfg.Timeout, logger)
}

// Notify schedules delivery of flag and returns immediately. The caller's
// cancellation does not abort delivery. Flags arriving after Wait has been
// called are dropped.
func (n *Notifier) Notify(ctx context.Context, flag domain.FraudFlag) {
	if len(n.senders) == 0 {
		return
	}

	payload, err := json.Marshal(FlagEvent{
		Event:     EventFraudFlagged,
		Flag:      flag,
		Timestamp: time.Now().Unix(),
	})
	if err != nil {
		n.logger.Error("failed to encode flag notification", "flag_id", flag.ID, "error", err)
		return
	}

	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		n.logger.Warn("notifier closed, dropping flag notification",
			"flag_id", flag.ID,
			"subject", flag.SubjectAddress,
		)
		return
	}
	n.wg.Add(len(n.senders))
	n.mu.Unlock()

	ctx = context.WithoutCancel(ctx)
	for _, s := range n.senders {
		go func(s Sender) {
			defer n.wg.Done()
			n.deliver(ctx, s, flag, payload)
		}(s)
	}
}

func (n *Notifier) deliver(ctx context.Context, s Sender, flag domain.FraudFlag, payload []byte) {
	ctx, cancel := context.WithTimeout(ctx, n.timeout)
	defer cancel()

	if err := s.Send(ctx, payload); err != nil {
		metrics.NotificationsTotal.WithLabelValues(s.Name(), "error").Inc()
		n.logger.Warn("flag notification failed",
			"sink", s.Name(),
			"flag_id", flag.ID,
			"subject", flag.SubjectAddress,
			"error", err,
		)
		return
	}
	metrics.NotificationsTotal.WithLabelValues(s.Name(), "ok").Inc()
	n.logger.Debug("flag notification sent",
		"sink", s.Name(),
		"flag_id", flag.ID,
	)
}

// Wait stops accepting new flags and blocks until in-flight deliveries
// finish or ctx is done.
func (n *Notifier) Wait(ctx context.Context) error {
	n.mu.Lock()
	n.closed = true
	n.mu.Unlock()

	done := make(chan struct{})
	go func() {
		n.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("notifications still in flight: %w", ctx.Err())
	}
}

// BusSender publishes notifications on the fraud-flagged topic.
type BusSender struct {
	bus domain.EventBus
}

// NewBusSender creates a BusSender.
func NewBusSender(bus domain.EventBus) *BusSender {
	return &BusSender{bus: bus}
}

// Send publishes payload.
func (b *BusSender) Send(ctx context.Context, payload []byte) error {
	return b.bus.Publish(ctx, domain.TopicFraudFlagged, payload)
}

// Name returns "bus".
func (b *BusSender) Name() string {
	return "bus"
}
