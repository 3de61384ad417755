package handlers

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"

	"evcharge/backend/services/ocpp-server/internal/models"
	"evcharge/backend/services/ocpp-server/internal/ocpp"
	"evcharge/backend/services/ocpp-server/internal/ocpp/protocol"
	"evcharge/backend/services/ocpp-server/internal/repository"
)

// NewMeterValuesHandler appends the reported samples. No state changes.
func NewMeterValuesHandler(store repository.Store, logger *zap.Logger) ocpp.HandlerFunc {
	return func(ctx context.Context, chargePointID string, payload json.RawMessage) (interface{}, error) {
		req, err := ocpp.Decode[protocol.MeterValuesRequest](payload)
		if err != nil {
			return nil, err
		}

		for _, mv := range req.MeterValue {
			sample := meterSample(chargePointID, req.ConnectorID, req.TransactionID, mv)
			if err := store.AppendMeterSample(ctx, sample); err != nil {
				logger.Error("failed to store meter values", zap.String("charge_point_id", chargePointID), zap.Int("connector_id", req.ConnectorID), zap.Error(err))
				return nil, err
			}
		}

		return protocol.MeterValuesResponse{}, nil
	}
}

func meterSample(chargePointID string, connectorID int, transactionID *int64, mv protocol.MeterValue) *models.MeterSample {
	values := make([]models.SampledValue, 0, len(mv.SampledValue))
	for _, sv := range mv.SampledValue {
		measurand := sv.Measurand
		if measurand == "" {
			measurand = protocol.DefaultMeasurand
		}
		unit := sv.Unit
		if unit == "" {
			unit = protocol.DefaultUnit
		}
		values = append(values, models.SampledValue{
			Measurand: measurand,
			Value:     sv.Value,
			Unit:      unit,
			Context:   sv.Context,
			Phase:     sv.Phase,
			Location:  sv.Location,
		})
	}
	var txID *int64
	if transactionID != nil {
		id := *transactionID
		txID = &id
	}
	return &models.MeterSample{
		ChargePointID: chargePointID,
		ConnectorID:   connectorID,
		TransactionID: txID,
		Timestamp:     reportedAt(&mv.Timestamp),
		Values:        values,
	}
}
