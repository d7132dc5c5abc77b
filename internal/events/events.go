package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/bank_turns/backend/internal/models"
)

const (
	TurnsTopic             = "bank.turns"
	EventTurnCreated       = "turn.created"
	EventTurnStatusChanged = "turn.status_changed"
	EventTurnAbandoned     = "turn.abandoned"
)

type TurnEvent struct {
	EventType      string          `json:"event_type"`
	OccurredAt     time.Time       `json:"occurred_at"`
	TurnID         string          `json:"turn_id"`
	Priority       models.Priority `json:"priority"`
	CustomerID     string          `json:"customer_id,omitempty"`
	NewStatus      models.Status   `json:"new_status"`
	PreviousStatus models.Status   `json:"previous_status,omitempty"`
	ServiceType    string          `json:"service_type,omitempty"`
	WorkerID       string          `json:"worker_id,omitempty"`
	Reason         string          `json:"reason,omitempty"`
}

type Publisher interface {
	Publish(ctx context.Context, evt TurnEvent) error
}

func NewTurnEvent(eventType string, v models.TurnView, previous models.Status) TurnEvent {
	return TurnEvent{
		EventType:      eventType,
		OccurredAt:     time.Now().UTC(),
		TurnID:         v.ID,
		Priority:       v.Priority,
		CustomerID:     v.CustomerID,
		NewStatus:      v.Status,
		PreviousStatus: previous,
		ServiceType:    v.ServiceType,
		Reason:         v.FailReason,
	}
}

type NATSPublisher struct {
	conn  *nats.Conn
	topic string
}

func NewNATSPublisher(url string) (*NATSPublisher, error) {
	conn, err := nats.Connect(url, nats.Name("bank-turns"))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	return &NATSPublisher{conn: conn, topic: TurnsTopic}, nil
}

func (p *NATSPublisher) Publish(ctx context.Context, evt TurnEvent) error {
	b, err := json.Marshal(evt)
	if err != nil {
		return err
	}
	return p.conn.Publish(p.topic+"."+evt.EventType, b)
}

func (p *NATSPublisher) Close() error {
	if err := p.conn.Drain(); err != nil {
		p.conn.Close()
		return err
	}
	return nil
}

// NopPublisher drops every event.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, TurnEvent) error { return nil }
