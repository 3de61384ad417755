package models

import "time"

// Transaction statuses.
const (
	TransactionActive    = "active"
	TransactionCompleted = "completed"
)

// Transaction is one charging session bound to a connector.
type Transaction struct {
	ID            int64      `db:"id" json:"transactionId" bson:"transactionId"`
	ChargePointID string     `db:"charge_point_id" json:"chargePointId" bson:"chargePointId"`
	ConnectorID   int        `db:"connector_id" json:"connectorId" bson:"connectorId"`
	IDTag         string     `db:"id_tag" json:"idTag" bson:"idTag"`
	MeterStart    int64      `db:"meter_start" json:"meterStart" bson:"meterStart"`
	StartTime     time.Time  `db:"start_time" json:"startTime" bson:"startTimestamp"`
	MeterStop     *int64     `db:"meter_stop" json:"meterStop,omitempty" bson:"meterStop,omitempty"`
	StopTime      *time.Time `db:"stop_time" json:"stopTime,omitempty" bson:"stopTimestamp,omitempty"`
	StopReason    *string    `db:"stop_reason" json:"stopReason,omitempty" bson:"stopReason,omitempty"`
	Status        string     `db:"status" json:"status" bson:"status"`
}

// EnergyDelivered returns meterStop - meterStart in Wh. ok is false while the
// transaction is still open.
func (t *Transaction) EnergyDelivered() (wh int64, ok bool) {
	if t.MeterStop == nil {
		return 0, false
	}
	return *t.MeterStop - t.MeterStart, true
}
