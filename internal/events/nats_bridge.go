package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// Publisher is the subset of a NATS connection the bridge needs.
type Publisher interface {
	Publish(subject string, data []byte) error
}

// NATSBridge forwards ticket events to NATS subjects named
// "<prefix>.<event type>".
type NATSBridge struct {
	publisher Publisher
	prefix    string
	logger    *zap.Logger
}

// ConnectNATS dials the server with reconnects enabled.
func ConnectNATS(url, name string) (*nats.Conn, error) {
	conn, err := nats.Connect(url,
		nats.Name(name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}
	return conn, nil
}

// NewNATSBridge builds a bridge publishing through publisher.
func NewNATSBridge(publisher Publisher, prefix string, logger *zap.Logger) *NATSBridge {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NATSBridge{
		publisher: publisher,
		prefix:    strings.TrimSuffix(strings.TrimSpace(prefix), "."),
		logger:    logger,
	}
}

// Subject returns the subject an event type is published on.
func (b *NATSBridge) Subject(eventType EventType) string {
	if b.prefix == "" {
		return string(eventType)
	}
	return b.prefix + "." + string(eventType)
}

// Register subscribes the bridge to every ticket event.
func (b *NATSBridge) Register(dispatcher Dispatcher) {
	if b == nil || dispatcher == nil {
		return
	}
	dispatcher.Subscribe(EventTicketCreated, b.forward)
	dispatcher.Subscribe(EventTicketClaimed, b.forward)
}

func (b *NATSBridge) forward(ctx context.Context, event Event) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("context cancelled before publish: %w", err)
	}
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	subject := b.Subject(event.Type)
	if err := b.publisher.Publish(subject, data); err != nil {
		return fmt.Errorf("publish %s: %w", subject, err)
	}
	b.logger.Debug("event forwarded", zap.String("subject", subject), zap.String("event_id", event.ID))
	return nil
}
