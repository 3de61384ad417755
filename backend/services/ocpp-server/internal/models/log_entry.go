package models

import (
	"encoding/json"
	"time"
)

// Log directions.
const (
	DirectionIncoming = "incoming"
	DirectionOutgoing = "outgoing"
)

// LogEntry is one raw protocol frame as seen on the wire.
type LogEntry struct {
	ChargePointID string          `db:"charge_point_id" json:"chargePointId" bson:"chargePointId"`
	Direction     string          `db:"direction" json:"direction" bson:"direction"`
	MessageType   int             `db:"message_type" json:"messageType" bson:"messageType"`
	MessageID     string          `db:"message_id" json:"messageId" bson:"messageId"`
	Action        string          `db:"action" json:"action" bson:"action"`
	Payload       json.RawMessage `db:"payload" json:"payload" bson:"payload"`
	Timestamp     time.Time       `db:"created_at" json:"timestamp" bson:"timestamp"`
}
