package models

import "time"

// SampledValue is a single (measurand, value, unit) reading.
type SampledValue struct {
	Measurand string `json:"measurand" bson:"measurand"`
	Value     string `json:"value" bson:"value"`
	Unit      string `json:"unit" bson:"unit"`
	Context   string `json:"context,omitempty" bson:"context,omitempty"`
	Phase     string `json:"phase,omitempty" bson:"phase,omitempty"`
	Location  string `json:"location,omitempty" bson:"location,omitempty"`
}

// MeterSample is an immutable, append-only meter reading.
type MeterSample struct {
	ChargePointID string         `db:"charge_point_id" json:"chargePointId" bson:"chargePointId"`
	ConnectorID   int            `db:"connector_id" json:"connectorId" bson:"connectorId"`
	TransactionID *int64         `db:"transaction_id" json:"transactionId,omitempty" bson:"transactionId"`
	Timestamp     time.Time      `db:"sampled_at" json:"timestamp" bson:"timestamp"`
	Values        []SampledValue `db:"sampled_values" json:"sampledValues" bson:"sampledValues"`
}
