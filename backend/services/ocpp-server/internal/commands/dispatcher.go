package commands

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"evcharge/backend/services/ocpp-server/internal/metrics"
	"evcharge/backend/services/ocpp-server/internal/ocpp"
	"evcharge/backend/services/ocpp-server/internal/ocpp/protocol"
	"evcharge/backend/services/ocpp-server/internal/ws"
)

// ErrInvalidCommand wraps argument validation failures.
var ErrInvalidCommand = errors.New("commands: invalid command")

// DefaultConnectorID is used by RemoteStart when no connector is given.
const DefaultConnectorID = 1

// Caller sends a central-system call and waits for its result.
type Caller interface {
	SendCall(ctx context.Context, chargePointID, action string, payload interface{}, timeout time.Duration) (json.RawMessage, error)
}

// Registry reports live connections.
type Registry interface {
	Lookup(chargePointID string) (ws.ConnectionRecord, bool)
}

// Dispatcher issues operator commands to charge points. Every command fails
// fast with ocpp.ErrDisconnected when the charge point is not connected.
type Dispatcher struct {
	caller   Caller
	registry Registry
	timeout  time.Duration
	logger   *zap.Logger
}

// NewDispatcher builds dispatcher. A non-positive timeout defers to the caller's default.
func NewDispatcher(caller Caller, registry Registry, timeout time.Duration, logger *zap.Logger) *Dispatcher {
	return &Dispatcher{caller: caller, registry: registry, timeout: timeout, logger: logger}
}

// RemoteStart asks the charge point to start a transaction for idTag.
// The transaction itself is created when the device sends StartTransaction.
func (d *Dispatcher) RemoteStart(ctx context.Context, chargePointID, idTag string, connectorID int) (bool, error) {
	if connectorID <= 0 {
		connectorID = DefaultConnectorID
	}
	req := protocol.RemoteStartTransactionRequest{ConnectorID: &connectorID, IdTag: idTag}
	return d.statusCommand(ctx, chargePointID, protocol.ActionRemoteStartTransaction, req, protocol.RemoteAccepted)
}

// RemoteStop asks the charge point to stop a running transaction.
func (d *Dispatcher) RemoteStop(ctx context.Context, chargePointID string, transactionID int64) (bool, error) {
	req := protocol.RemoteStopTransactionRequest{TransactionID: transactionID}
	return d.statusCommand(ctx, chargePointID, protocol.ActionRemoteStopTransaction, req, protocol.RemoteAccepted)
}

// UnlockConnector asks the charge point to release a connector.
func (d *Dispatcher) UnlockConnector(ctx context.Context, chargePointID string, connectorID int) (bool, error) {
	req := protocol.UnlockConnectorRequest{ConnectorID: connectorID}
	return d.statusCommand(ctx, chargePointID, protocol.ActionUnlockConnector, req, protocol.UnlockUnlocked)
}

// Reset asks the charge point to reboot. resetType is Soft or Hard.
func (d *Dispatcher) Reset(ctx context.Context, chargePointID, resetType string) (bool, error) {
	req := protocol.ResetRequest{Type: resetType}
	return d.statusCommand(ctx, chargePointID, protocol.ActionReset, req, protocol.RemoteAccepted)
}

// TriggerMessage asks the charge point to send one of its own messages now.
func (d *Dispatcher) TriggerMessage(ctx context.Context, chargePointID, requestedMessage string, connectorID *int) (bool, error) {
	req := protocol.TriggerMessageRequest{RequestedMessage: requestedMessage, ConnectorID: connectorID}
	return d.statusCommand(ctx, chargePointID, protocol.ActionTriggerMessage, req, protocol.RemoteAccepted)
}

// ChangeAvailability switches a connector, or the whole charge point with
// connector 0, in or out of service. A scheduled change counts as accepted.
func (d *Dispatcher) ChangeAvailability(ctx context.Context, chargePointID string, connectorID int, availabilityType string) (bool, error) {
	req := protocol.ChangeAvailabilityRequest{ConnectorID: connectorID, Type: availabilityType}
	return d.statusCommand(ctx, chargePointID, protocol.ActionChangeAvailability, req, protocol.RemoteAccepted, protocol.AvailabilityScheduled)
}

// Call sends an arbitrary action and returns the device's raw payload.
func (d *Dispatcher) Call(ctx context.Context, chargePointID, action string, payload json.RawMessage) (json.RawMessage, error) {
	if action == "" {
		return nil, fmt.Errorf("%w: action is required", ErrInvalidCommand)
	}
	if len(payload) == 0 {
		payload = json.RawMessage(`{}`)
	}
	if !json.Valid(payload) {
		return nil, fmt.Errorf("%w: payload is not valid JSON", ErrInvalidCommand)
	}
	if _, ok := d.registry.Lookup(chargePointID); !ok {
		return nil, ocpp.ErrDisconnected
	}
	return d.caller.SendCall(ctx, chargePointID, action, payload, d.timeout)
}

func (d *Dispatcher) statusCommand(ctx context.Context, chargePointID, action string, req interface{}, acceptedStatuses ...string) (bool, error) {
	if err := ocpp.ValidateStruct(req); err != nil {
		return false, fmt.Errorf("%w: %v", ErrInvalidCommand, err)
	}
	if _, ok := d.registry.Lookup(chargePointID); !ok {
		metrics.ObserveOutbound(action, metrics.OutcomeDisconnected)
		return false, ocpp.ErrDisconnected
	}

	raw, err := d.caller.SendCall(ctx, chargePointID, action, req, d.timeout)
	if err != nil {
		return false, err
	}

	var resp protocol.StatusResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return false, fmt.Errorf("commands: decode %s response: %w", action, err)
	}

	accepted := false
	for _, status := range acceptedStatuses {
		if resp.Status == status {
			accepted = true
			break
		}
	}
	metrics.ObserveCommand(action, accepted)
	d.logger.Info("remote command answered",
		zap.String("charge_point_id", chargePointID),
		zap.String("action", action),
		zap.String("status", resp.Status),
		zap.Bool("accepted", accepted),
	)
	return accepted, nil
}
