package handlers

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"evcharge/backend/services/ocpp-server/internal/events"
	"evcharge/backend/services/ocpp-server/internal/models"
	"evcharge/backend/services/ocpp-server/internal/ocpp"
	"evcharge/backend/services/ocpp-server/internal/ocpp/protocol"
	"evcharge/backend/services/ocpp-server/internal/repository"
	"evcharge/backend/services/ocpp-server/internal/service"
)

// NewBootNotificationHandler records the device identity and accepts it.
// Admission already happened when the connection was opened.
func NewBootNotificationHandler(
	store repository.Store,
	state *service.StationState,
	heartbeats Heartbeats,
	interval time.Duration,
	publisher events.Publisher,
	logger *zap.Logger,
) ocpp.HandlerFunc {
	return func(ctx context.Context, chargePointID string, payload json.RawMessage) (interface{}, error) {
		req, err := ocpp.Decode[protocol.BootNotificationRequest](payload)
		if err != nil {
			return nil, err
		}

		now := time.Now().UTC()
		serial := req.ChargePointSerialNumber
		if serial == "" {
			serial = req.ChargeBoxSerialNumber
		}
		cp := &models.ChargePoint{
			ID:              chargePointID,
			Vendor:          req.ChargePointVendor,
			Model:           req.ChargePointModel,
			SerialNumber:    serial,
			FirmwareVersion: req.FirmwareVersion,
			Status:          models.ChargePointAvailable,
			LastBoot:        now,
			LastHeartbeat:   now,
		}
		if err := store.UpsertChargePoint(ctx, cp); err != nil {
			logger.Error("failed to upsert charge point", zap.String("charge_point_id", chargePointID), zap.Error(err))
			return nil, err
		}

		state.UpdateStation(chargePointID, models.ChargePointAvailable)
		heartbeats.Touch(chargePointID, now)

		event := events.New(events.TypeChargePointBooted, chargePointID)
		event.Data = map[string]interface{}{
			"vendor":          req.ChargePointVendor,
			"model":           req.ChargePointModel,
			"firmwareVersion": req.FirmwareVersion,
		}
		publish(ctx, publisher, logger, event)

		logger.Info("charge point booted",
			zap.String("charge_point_id", chargePointID),
			zap.String("vendor", req.ChargePointVendor),
			zap.String("model", req.ChargePointModel),
		)
		return protocol.BootNotificationResponse{
			CurrentTime: now,
			Interval:    int(interval / time.Second),
			Status:      protocol.RegistrationAccepted,
		}, nil
	}
}
