package models

import "time"

// Charge point lifecycle statuses.
const (
	ChargePointOffline     = "Offline"
	ChargePointAvailable   = "Available"
	ChargePointCharging    = "Charging"
	ChargePointUnavailable = "Unavailable"
	ChargePointFaulted     = "Faulted"
)

// ChargePoint is the durable record of a physical charging device.
type ChargePoint struct {
	ID              string    `db:"id" json:"id" bson:"chargePointId"`
	Vendor          string    `db:"vendor" json:"vendor" bson:"vendor"`
	Model           string    `db:"model" json:"model" bson:"model"`
	SerialNumber    string    `db:"serial_number" json:"serialNumber" bson:"serialNumber"`
	FirmwareVersion string    `db:"firmware_version" json:"firmwareVersion" bson:"firmwareVersion"`
	ConnectorCount  int       `db:"connector_count" json:"connectorCount" bson:"numberOfConnectors"`
	Status          string    `db:"status" json:"status" bson:"status"`
	AuthKeyHash     string    `db:"auth_key_hash" json:"-" bson:"authKeyHash,omitempty"`
	Active          bool      `db:"active" json:"active" bson:"active"`
	LastHeartbeat   time.Time `db:"last_heartbeat" json:"lastHeartbeat" bson:"lastHeartbeat"`
	LastBoot        time.Time `db:"last_boot" json:"lastBoot" bson:"lastBoot"`
	CreatedAt       time.Time `db:"created_at" json:"createdAt" bson:"registeredAt"`
	UpdatedAt       time.Time `db:"updated_at" json:"updatedAt" bson:"updatedAt"`
}

// Connector is an addressable outlet of a charge point. Ids start at 1.
type Connector struct {
	ChargePointID string    `db:"charge_point_id" json:"chargePointId" bson:"chargePointId"`
	ConnectorID   int       `db:"connector_id" json:"connectorId" bson:"connectorId"`
	Status        string    `db:"status" json:"status" bson:"status"`
	ErrorCode     string    `db:"error_code" json:"errorCode" bson:"errorCode"`
	TransactionID *int64    `db:"transaction_id" json:"transactionId,omitempty" bson:"currentTransaction"`
	UpdatedAt     time.Time `db:"updated_at" json:"updatedAt" bson:"lastStatusUpdate"`
}
