package client

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
)

// EventPublisher publishes quote lifecycle events to NATS for consumption
// by downstream notification services.
//
// Subject convention: notifications.cq.<event_type>
// Event types: quote_submitted, decision_recorded, quote_approved,
//              quote_rejected, quote_recalled
//
// All publish operations are non-fatal: errors are logged but never
// propagated to the caller, so notification failures never interrupt
// quote operations.
type EventPublisher struct {
	conn *nats.Conn
	log  zerolog.Logger
}

// QuoteEvent is the JSON schema published to NATS.
type QuoteEvent struct {
	EventType    string                 `json:"event_type"`
	ActorID      string                 `json:"actor_id"`
	ResourceType string                 `json:"resource_type"`
	ResourceID   string                 `json:"resource_id"`
	ChainRootID  string                 `json:"chain_root_id"`
	Category     string                 `json:"category"`
	Payload      map[string]interface{} `json:"payload,omitempty"`
}

// NewEventPublisher creates a publisher backed by the given NATS
// connection. A nil connection disables publishing.
func NewEventPublisher(conn *nats.Conn, log zerolog.Logger) *EventPublisher {
	return &EventPublisher{conn: conn, log: log}
}

// PublishQuoteEvent publishes a quote approval event.
// Subject: notifications.cq.<eventType>
func (p *EventPublisher) PublishQuoteEvent(ctx context.Context, eventType, quoteID, rootID, actorID string, payload map[string]interface{}) {
	if p == nil || p.conn == nil {
		return
	}

	event := &QuoteEvent{
		EventType:    eventType,
		ActorID:      actorID,
		ResourceType: "quote",
		ResourceID:   quoteID,
		ChainRootID:  rootID,
		Category:     "cq_approval",
		Payload:      payload,
	}

	data, err := json.Marshal(event)
	if err != nil {
		p.log.Warn().Err(err).Str("event_type", eventType).Msg("events: failed to marshal event")
		return
	}

	subject := fmt.Sprintf("notifications.cq.%s", eventType)
	if err := p.conn.Publish(subject, data); err != nil {
		p.log.Warn().Err(err).
			Str("subject", subject).
			Str("quote_id", quoteID).
			Msg("events: failed to publish NATS event (non-fatal)")
		return
	}

	p.log.Debug().
		Str("subject", subject).
		Str("quote_id", quoteID).
		Msg("events: event published")
}
