package handlers

import (
	"context"
	"time"

	"go.uber.org/zap"

	"evcharge/backend/services/ocpp-server/internal/events"
)

// Authorizer answers whether an idTag is entitled to charge.
type Authorizer interface {
	IsAuthorized(ctx context.Context, idTag string) (bool, error)
}

// Heartbeats records proof of life on the charge point's live connection.
type Heartbeats interface {
	Touch(chargePointID string, at time.Time)
}

func publish(ctx context.Context, publisher events.Publisher, logger *zap.Logger, event events.Event) {
	if publisher == nil {
		return
	}
	if err := publisher.Publish(ctx, event); err != nil {
		logger.Warn("failed to publish event",
			zap.String("charge_point_id", event.ChargePointID),
			zap.String("event", event.Type),
			zap.Error(err),
		)
	}
}

// reportedAt prefers the device timestamp and falls back to now.
func reportedAt(ts *time.Time) time.Time {
	if ts == nil || ts.IsZero() {
		return time.Now().UTC()
	}
	return ts.UTC()
}
