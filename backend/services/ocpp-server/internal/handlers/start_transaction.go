package handlers

import (
	"context"
	"encoding/json"
	"errors"

	"go.uber.org/zap"

	"evcharge/backend/services/ocpp-server/internal/events"
	"evcharge/backend/services/ocpp-server/internal/models"
	"evcharge/backend/services/ocpp-server/internal/ocpp"
	"evcharge/backend/services/ocpp-server/internal/ocpp/protocol"
	"evcharge/backend/services/ocpp-server/internal/repository"
	"evcharge/backend/services/ocpp-server/internal/service"
)

// RejectedTransactionID is returned when no transaction was created.
const RejectedTransactionID int64 = -1

// NewStartTransactionHandler authorizes the idTag, refuses busy connectors and
// opens a transaction with the next id from the sequence.
func NewStartTransactionHandler(
	store repository.Store,
	authorizer Authorizer,
	ids *service.TransactionIDs,
	state *service.StationState,
	publisher events.Publisher,
	logger *zap.Logger,
) ocpp.HandlerFunc {
	return func(ctx context.Context, chargePointID string, payload json.RawMessage) (interface{}, error) {
		req, err := ocpp.Decode[protocol.StartTransactionRequest](payload)
		if err != nil {
			return nil, err
		}

		status, err := authorizationStatus(ctx, authorizer, req.IdTag)
		if err != nil {
			logger.Error("authorization check failed", zap.String("charge_point_id", chargePointID), zap.Error(err))
			return nil, err
		}
		if status != protocol.AuthorizationAccepted {
			logger.Info("start transaction rejected", zap.String("charge_point_id", chargePointID), zap.String("id_tag", req.IdTag))
			return rejectedStart(status), nil
		}

		busy, err := connectorBusy(ctx, store, chargePointID, req.ConnectorID)
		if err != nil {
			logger.Error("failed to check connector", zap.String("charge_point_id", chargePointID), zap.Int("connector_id", req.ConnectorID), zap.Error(err))
			return nil, err
		}
		if busy != nil {
			logger.Warn("connector already has an active transaction",
				zap.String("charge_point_id", chargePointID),
				zap.Int("connector_id", req.ConnectorID),
				zap.Int64("transaction_id", *busy),
			)
			return rejectedStart(protocol.AuthorizationConcurrentTx), nil
		}

		tx := &models.Transaction{
			ID:            ids.Next(),
			ChargePointID: chargePointID,
			ConnectorID:   req.ConnectorID,
			IDTag:         req.IdTag,
			MeterStart:    req.MeterStart,
			StartTime:     reportedAt(&req.Timestamp),
			Status:        models.TransactionActive,
		}
		if err := store.CreateTransaction(ctx, tx); err != nil {
			logger.Error("failed to create transaction", zap.String("charge_point_id", chargePointID), zap.Error(err))
			return nil, err
		}
		if err := store.SetConnectorTransaction(ctx, chargePointID, req.ConnectorID, &tx.ID); err != nil {
			logger.Error("failed to bind transaction to connector",
				zap.String("charge_point_id", chargePointID),
				zap.Int("connector_id", req.ConnectorID),
				zap.Int64("transaction_id", tx.ID),
				zap.Error(err),
			)
		}
		state.BindTransaction(chargePointID, req.ConnectorID, &tx.ID)

		event := events.New(events.TypeTransactionStarted, chargePointID)
		event.ConnectorID = req.ConnectorID
		event.TransactionID = &tx.ID
		event.Data = map[string]interface{}{"idTag": req.IdTag, "meterStart": req.MeterStart}
		publish(ctx, publisher, logger, event)

		logger.Info("transaction started",
			zap.String("charge_point_id", chargePointID),
			zap.Int("connector_id", req.ConnectorID),
			zap.Int64("transaction_id", tx.ID),
		)
		return protocol.StartTransactionResponse{
			TransactionID: tx.ID,
			IdTagInfo:     protocol.IdTagInfo{Status: protocol.AuthorizationAccepted},
		}, nil
	}
}

func rejectedStart(status string) protocol.StartTransactionResponse {
	return protocol.StartTransactionResponse{
		TransactionID: RejectedTransactionID,
		IdTagInfo:     protocol.IdTagInfo{Status: status},
	}
}

// connectorBusy returns the id of the active transaction bound to the connector, if any.
func connectorBusy(ctx context.Context, store repository.Store, chargePointID string, connectorID int) (*int64, error) {
	conn, err := store.GetConnector(ctx, chargePointID, connectorID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if conn.TransactionID == nil {
		return nil, nil
	}
	tx, err := store.GetTransaction(ctx, *conn.TransactionID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if tx.Status != models.TransactionActive {
		return nil, nil
	}
	return conn.TransactionID, nil
}
