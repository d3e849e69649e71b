// Package bus provides the event bus implementations for TrustScore.
package bus

import (
	"errors"
	"fmt"
	"time"

	"github.com/TRUSTSCOREAI/TRUSTSCORE/internal/domain"
	"github.com/google/uuid"
)

// ErrClosed is returned by operations on a closed bus.
var ErrClosed = errors.New("bus is closed")

// New creates the event bus selected by cfg.Type.
//
//	channel: in-process fan-out
//	nats:    NATS core subjects
func New(cfg domain.EventBusConfig) (domain.EventBus, error) {
	switch cfg.Type {
	case "channel":
		return NewChannelBus(cfg.ChannelBufferSize), nil

	case "nats":
		return NewNATSBus(cfg)

	default:
		return nil, fmt.Errorf("%w: unsupported event bus type: %s", domain.ErrInvalidInput, cfg.Type)
	}
}

func newMessage(topic string, payload []byte) *domain.Message {
	return &domain.Message{
		ID:        uuid.New().String(),
		Topic:     topic,
		Payload:   payload,
		Metadata:  make(map[string]string),
		Timestamp: time.Now().UnixNano(),
	}
}
