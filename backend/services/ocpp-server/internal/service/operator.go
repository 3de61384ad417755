package service

import (
	"context"
	"errors"
	"fmt"

	"evcharge/backend/services/ocpp-server/internal/models"
	"evcharge/backend/services/ocpp-server/internal/repository"
	"evcharge/backend/services/ocpp-server/internal/ws"
)

// Connections lists live device connections.
type Connections interface {
	Snapshot() []ws.ConnectionRecord
	Lookup(chargePointID string) (ws.ConnectionRecord, bool)
}

// OperatorStore is the read side of the store used by operator queries.
type OperatorStore interface {
	GetChargePoint(ctx context.Context, id string) (*models.ChargePoint, error)
	ListConnectors(ctx context.Context, chargePointID string) ([]models.Connector, error)
	ListActiveTransactions(ctx context.Context) ([]models.Transaction, error)
}

// ConnectedChargePoint is a live connection with its last reported status.
type ConnectedChargePoint struct {
	ws.ConnectionRecord
	Status string `json:"status,omitempty"`
}

// ChargePointView combines the live and durable views of one charge point.
type ChargePointView struct {
	ChargePointID string               `json:"chargePointId"`
	Connected     bool                 `json:"connected"`
	Connection    *ws.ConnectionRecord `json:"connection,omitempty"`
	Live          *StationRuntimeState `json:"live,omitempty"`
	Record        *models.ChargePoint  `json:"record,omitempty"`
	Connectors    []models.Connector   `json:"connectors"`
}

// Operator answers the read-only questions asked by dashboards and tooling.
type Operator struct {
	connections Connections
	state       *StationState
	store       OperatorStore
}

// NewOperator builds operator queries.
func NewOperator(connections Connections, state *StationState, store OperatorStore) *Operator {
	return &Operator{connections: connections, state: state, store: store}
}

// ListConnected returns connected charge points ordered by id.
func (o *Operator) ListConnected() []ConnectedChargePoint {
	records := o.connections.Snapshot()
	out := make([]ConnectedChargePoint, 0, len(records))
	for _, rec := range records {
		item := ConnectedChargePoint{ConnectionRecord: rec}
		if live, ok := o.state.Station(rec.ChargePointID); ok {
			item.Status = live.Status
		}
		out = append(out, item)
	}
	return out
}

// ChargePointStatus returns the live status of one charge point. It fails with
// repository.ErrNotFound when the charge point is neither connected nor stored.
func (o *Operator) ChargePointStatus(ctx context.Context, chargePointID string) (*ChargePointView, error) {
	view := &ChargePointView{ChargePointID: chargePointID, Connectors: []models.Connector{}}

	if rec, ok := o.connections.Lookup(chargePointID); ok {
		view.Connected = true
		view.Connection = &rec
		if live, ok := o.state.Station(chargePointID); ok {
			view.Live = &live
		}
	}

	record, err := o.store.GetChargePoint(ctx, chargePointID)
	switch {
	case err == nil:
		view.Record = record
	case errors.Is(err, repository.ErrNotFound):
		if !view.Connected {
			return nil, repository.ErrNotFound
		}
	default:
		return nil, fmt.Errorf("service: load charge point %s: %w", chargePointID, err)
	}

	connectors, err := o.store.ListConnectors(ctx, chargePointID)
	if err != nil {
		return nil, fmt.Errorf("service: list connectors of %s: %w", chargePointID, err)
	}
	if connectors != nil {
		view.Connectors = connectors
	}
	return view, nil
}

// ActiveTransactions lists transactions that have not been stopped.
func (o *Operator) ActiveTransactions(ctx context.Context) ([]models.Transaction, error) {
	txs, err := o.store.ListActiveTransactions(ctx)
	if err != nil {
		return nil, fmt.Errorf("service: list active transactions: %w", err)
	}
	if txs == nil {
		txs = []models.Transaction{}
	}
	return txs, nil
}
