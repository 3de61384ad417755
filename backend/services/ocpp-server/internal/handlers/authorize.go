package handlers

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"

	"evcharge/backend/services/ocpp-server/internal/ocpp"
	"evcharge/backend/services/ocpp-server/internal/ocpp/protocol"
)

// NewAuthorizeHandler checks an idTag. It never touches connector or transaction state.
func NewAuthorizeHandler(authorizer Authorizer, logger *zap.Logger) ocpp.HandlerFunc {
	return func(ctx context.Context, chargePointID string, payload json.RawMessage) (interface{}, error) {
		req, err := ocpp.Decode[protocol.AuthorizeRequest](payload)
		if err != nil {
			return nil, err
		}

		status, err := authorizationStatus(ctx, authorizer, req.IdTag)
		if err != nil {
			logger.Error("authorization check failed", zap.String("charge_point_id", chargePointID), zap.Error(err))
			return nil, err
		}
		logger.Debug("idTag checked", zap.String("charge_point_id", chargePointID), zap.String("id_tag", req.IdTag), zap.String("status", status))

		return protocol.AuthorizeResponse{
			IdTagInfo: protocol.IdTagInfo{Status: status},
		}, nil
	}
}

func authorizationStatus(ctx context.Context, authorizer Authorizer, idTag string) (string, error) {
	ok, err := authorizer.IsAuthorized(ctx, idTag)
	if err != nil {
		return "", err
	}
	if !ok {
		return protocol.AuthorizationInvalid, nil
	}
	return protocol.AuthorizationAccepted, nil
}
