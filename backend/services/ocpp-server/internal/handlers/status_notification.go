package handlers

import (
	"context"
	"encoding/json"
	"errors"

	"go.uber.org/zap"

	"evcharge/backend/services/ocpp-server/internal/events"
	"evcharge/backend/services/ocpp-server/internal/ocpp"
	"evcharge/backend/services/ocpp-server/internal/ocpp/protocol"
	"evcharge/backend/services/ocpp-server/internal/repository"
	"evcharge/backend/services/ocpp-server/internal/service"
)

// NewStatusNotificationHandler applies a connector status report. Connector 0
// reports the charge point as a whole.
func NewStatusNotificationHandler(store repository.Store, state *service.StationState, publisher events.Publisher, logger *zap.Logger) ocpp.HandlerFunc {
	return func(ctx context.Context, chargePointID string, payload json.RawMessage) (interface{}, error) {
		req, err := ocpp.Decode[protocol.StatusNotificationRequest](payload)
		if err != nil {
			return nil, err
		}
		if req.ErrorCode == "" {
			req.ErrorCode = protocol.ErrorCodeNoError
		}
		at := reportedAt(req.Timestamp)

		if req.ConnectorID == 0 {
			status := protocol.ChargePointStatus(req.Status)
			if err := store.UpdateChargePointStatus(ctx, chargePointID, status, at); err != nil && !errors.Is(err, repository.ErrNotFound) {
				logger.Error("failed to update charge point status", zap.String("charge_point_id", chargePointID), zap.Error(err))
				return nil, err
			}
			state.UpdateStation(chargePointID, status)
			event := events.New(events.TypeConnectorStatus, chargePointID)
			event.Data = map[string]interface{}{"status": status, "errorCode": req.ErrorCode}
			publish(ctx, publisher, logger, event)
			return protocol.StatusNotificationResponse{}, nil
		}

		current := ""
		existing, err := store.GetConnector(ctx, chargePointID, req.ConnectorID)
		switch {
		case err == nil:
			current = existing.Status
		case errors.Is(err, repository.ErrNotFound):
		default:
			logger.Error("failed to load connector", zap.String("charge_point_id", chargePointID), zap.Int("connector_id", req.ConnectorID), zap.Error(err))
			return nil, err
		}

		next := protocol.NextConnectorStatus(current, req.Status, req.ErrorCode)
		if next != req.Status {
			logger.Info("connector stays faulted until NoError is reported",
				zap.String("charge_point_id", chargePointID),
				zap.Int("connector_id", req.ConnectorID),
				zap.String("reported", req.Status),
				zap.String("error_code", req.ErrorCode),
			)
		} else if !protocol.IsExpectedTransition(current, next) {
			logger.Debug("unexpected connector transition",
				zap.String("charge_point_id", chargePointID),
				zap.Int("connector_id", req.ConnectorID),
				zap.String("from", current),
				zap.String("to", next),
			)
		}

		if err := store.SetConnectorStatus(ctx, chargePointID, req.ConnectorID, next, req.ErrorCode, at); err != nil {
			logger.Error("failed to update connector status", zap.String("charge_point_id", chargePointID), zap.Int("connector_id", req.ConnectorID), zap.Error(err))
			return nil, err
		}
		state.UpdateConnector(chargePointID, req.ConnectorID, next, req.ErrorCode)

		event := events.New(events.TypeConnectorStatus, chargePointID)
		event.ConnectorID = req.ConnectorID
		event.Data = map[string]interface{}{"status": next, "errorCode": req.ErrorCode}
		if req.Info != "" {
			event.Data["info"] = req.Info
		}
		publish(ctx, publisher, logger, event)

		return protocol.StatusNotificationResponse{}, nil
	}
}
