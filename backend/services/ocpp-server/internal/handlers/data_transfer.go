package handlers

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"

	"evcharge/backend/services/ocpp-server/internal/ocpp"
	"evcharge/backend/services/ocpp-server/internal/ocpp/protocol"
)

// NewDataTransferHandler logs vendor data. No vendor extensions are known.
func NewDataTransferHandler(logger *zap.Logger) ocpp.HandlerFunc {
	return func(ctx context.Context, chargePointID string, payload json.RawMessage) (interface{}, error) {
		req, err := ocpp.Decode[protocol.DataTransferRequest](payload)
		if err != nil {
			return nil, err
		}
		logger.Info("data transfer received",
			zap.String("charge_point_id", chargePointID),
			zap.String("vendor_id", req.VendorID),
			zap.String("message_id", req.MessageID),
		)
		return protocol.DataTransferResponse{Status: protocol.DataTransferUnknownVendorID}, nil
	}
}
