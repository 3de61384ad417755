package handlers

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"evcharge/backend/services/ocpp-server/internal/ocpp"
	"evcharge/backend/services/ocpp-server/internal/ocpp/protocol"
	"evcharge/backend/services/ocpp-server/internal/repository"
)

// NewHeartbeatHandler refreshes the last-heartbeat timestamp and returns server time.
func NewHeartbeatHandler(store repository.Store, heartbeats Heartbeats, logger *zap.Logger) ocpp.HandlerFunc {
	return func(ctx context.Context, chargePointID string, payload json.RawMessage) (interface{}, error) {
		if _, err := ocpp.Decode[protocol.HeartbeatRequest](payload); err != nil {
			return nil, err
		}

		now := time.Now().UTC()
		heartbeats.Touch(chargePointID, now)
		if err := store.UpdateHeartbeat(ctx, chargePointID, now); err != nil {
			logger.Warn("failed to persist heartbeat", zap.String("charge_point_id", chargePointID), zap.Error(err))
		}

		return protocol.HeartbeatResponse{
			CurrentTime: now,
		}, nil
	}
}
