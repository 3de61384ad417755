package repository

import (
	"context"
	"errors"
	"time"

	"evcharge/backend/services/ocpp-server/internal/models"
)

// ErrNotFound is returned when a record does not exist or is not in the required state.
var ErrNotFound = errors.New("repository: not found")

// Store is the durable side of the engine. Implementations provide their own
// atomicity for single-record updates.
type Store interface {
	IsKnownChargePoint(ctx context.Context, id string) (bool, error)
	GetChargePoint(ctx context.Context, id string) (*models.ChargePoint, error)
	UpsertChargePoint(ctx context.Context, cp *models.ChargePoint) error
	UpdateChargePointStatus(ctx context.Context, id, status string, at time.Time) error
	UpdateHeartbeat(ctx context.Context, id string, at time.Time) error

	GetConnector(ctx context.Context, chargePointID string, connectorID int) (*models.Connector, error)
	ListConnectors(ctx context.Context, chargePointID string) ([]models.Connector, error)
	SetConnectorStatus(ctx context.Context, chargePointID string, connectorID int, status, errorCode string, at time.Time) error
	SetConnectorTransaction(ctx context.Context, chargePointID string, connectorID int, transactionID *int64) error

	CreateTransaction(ctx context.Context, tx *models.Transaction) error
	GetTransaction(ctx context.Context, id int64) (*models.Transaction, error)
	// CloseTransaction completes an active transaction and returns it.
	// ErrNotFound means there is no active transaction with that id.
	CloseTransaction(ctx context.Context, id, meterStop int64, stopTime time.Time, reason string) (*models.Transaction, error)
	ListActiveTransactions(ctx context.Context) ([]models.Transaction, error)
	MaxTransactionID(ctx context.Context) (int64, error)

	AppendMeterSample(ctx context.Context, sample *models.MeterSample) error
	IsAuthorized(ctx context.Context, idTag string) (bool, error)
	AppendLog(ctx context.Context, entry models.LogEntry) error
}
