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

const unknownTransaction = "unknown transaction"

// NewStopTransactionHandler closes an active transaction of this charge point
// and frees its connector. Stops for anything else are answered with
// GenericError and change nothing.
func NewStopTransactionHandler(
	store repository.Store,
	state *service.StationState,
	publisher events.Publisher,
	logger *zap.Logger,
) ocpp.HandlerFunc {
	return func(ctx context.Context, chargePointID string, payload json.RawMessage) (interface{}, error) {
		req, err := ocpp.Decode[protocol.StopTransactionRequest](payload)
		if err != nil {
			return nil, err
		}

		existing, err := store.GetTransaction(ctx, req.TransactionID)
		if err != nil && !errors.Is(err, repository.ErrNotFound) {
			logger.Error("failed to load transaction", zap.String("charge_point_id", chargePointID), zap.Error(err))
			return nil, err
		}
		if existing == nil || existing.ChargePointID != chargePointID || existing.Status != models.TransactionActive {
			logger.Warn("stop for unknown transaction",
				zap.String("charge_point_id", chargePointID),
				zap.Int64("transaction_id", req.TransactionID),
			)
			return nil, ocpp.NewCallError(protocol.ErrorGenericError, unknownTransaction)
		}

		tx, err := store.CloseTransaction(ctx, req.TransactionID, req.MeterStop, reportedAt(&req.Timestamp), req.Reason)
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ocpp.NewCallError(protocol.ErrorGenericError, unknownTransaction)
		}
		if err != nil {
			logger.Error("failed to close transaction", zap.String("charge_point_id", chargePointID), zap.Int64("transaction_id", req.TransactionID), zap.Error(err))
			return nil, err
		}

		if err := store.SetConnectorTransaction(ctx, chargePointID, tx.ConnectorID, nil); err != nil {
			logger.Error("failed to unbind connector",
				zap.String("charge_point_id", chargePointID),
				zap.Int("connector_id", tx.ConnectorID),
				zap.Error(err),
			)
		}
		state.BindTransaction(chargePointID, tx.ConnectorID, nil)

		energy, _ := tx.EnergyDelivered()
		if energy < 0 {
			logger.Warn("negative energy delivered",
				zap.String("charge_point_id", chargePointID),
				zap.Int64("transaction_id", tx.ID),
				zap.Int64("meter_start", tx.MeterStart),
				zap.Int64("meter_stop", req.MeterStop),
			)
		}

		for _, mv := range req.TransactionData {
			sample := meterSample(chargePointID, tx.ConnectorID, &tx.ID, mv)
			if err := store.AppendMeterSample(ctx, sample); err != nil {
				logger.Warn("failed to store transaction data", zap.String("charge_point_id", chargePointID), zap.Int64("transaction_id", tx.ID), zap.Error(err))
			}
		}

		event := events.New(events.TypeTransactionStopped, chargePointID)
		event.ConnectorID = tx.ConnectorID
		event.TransactionID = &tx.ID
		event.Data = map[string]interface{}{"meterStop": req.MeterStop, "energyWh": energy, "reason": req.Reason}
		publish(ctx, publisher, logger, event)

		logger.Info("transaction stopped",
			zap.String("charge_point_id", chargePointID),
			zap.Int64("transaction_id", tx.ID),
			zap.Int64("energy_wh", energy),
		)
		return protocol.StopTransactionResponse{
			IdTagInfo: &protocol.IdTagInfo{Status: protocol.AuthorizationAccepted},
		}, nil
	}
}
