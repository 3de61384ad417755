package events

import (
	"context"
	"errors"
	"time"
)

// Event types.
const (
	TypeChargePointConnected = "charge_point.connected"
	TypeChargePointBooted    = "charge_point.booted"
	TypeChargePointOffline   = "charge_point.offline"
	TypeConnectorStatus      = "connector.status"
	TypeTransactionStarted   = "transaction.started"
	TypeTransactionStopped   = "transaction.stopped"
)

// Event is a lifecycle fact emitted by the engine.
type Event struct {
	Type          string                 `json:"type"`
	ChargePointID string                 `json:"chargePointId"`
	ConnectorID   int                    `json:"connectorId,omitempty"`
	TransactionID *int64                 `json:"transactionId,omitempty"`
	Timestamp     time.Time              `json:"timestamp"`
	Data          map[string]interface{} `json:"data,omitempty"`
}

// New returns an event stamped with the current time.
func New(eventType, chargePointID string) Event {
	return Event{Type: eventType, ChargePointID: chargePointID, Timestamp: time.Now().UTC()}
}

// Publisher delivers events. Delivery is best effort.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
}

// Noop drops every event.
type Noop struct{}

func (Noop) Publish(context.Context, Event) error { return nil }

// Fanout publishes to every sink and joins their errors.
type Fanout []Publisher

func (f Fanout) Publish(ctx context.Context, event Event) error {
	var errs []error
	for _, p := range f {
		if err := p.Publish(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
