package protocol

import "time"

// IdTagInfo is attached to Authorize, StartTransaction and StopTransaction responses.
type IdTagInfo struct {
	Status      string     `json:"status"`
	ExpiryDate  *time.Time `json:"expiryDate,omitempty"`
	ParentIdTag string     `json:"parentIdTag,omitempty"`
}

// BootNotificationRequest is sent by the charge point after (re)start.
type BootNotificationRequest struct {
	ChargePointVendor       string `json:"chargePointVendor" validate:"required,max=20"`
	ChargePointModel        string `json:"chargePointModel" validate:"required,max=20"`
	ChargePointSerialNumber string `json:"chargePointSerialNumber,omitempty" validate:"max=25"`
	ChargeBoxSerialNumber   string `json:"chargeBoxSerialNumber,omitempty" validate:"max=25"`
	FirmwareVersion         string `json:"firmwareVersion,omitempty" validate:"max=50"`
	Iccid                   string `json:"iccid,omitempty" validate:"max=20"`
	Imsi                    string `json:"imsi,omitempty" validate:"max=20"`
	MeterType               string `json:"meterType,omitempty" validate:"max=25"`
	MeterSerialNumber       string `json:"meterSerialNumber,omitempty" validate:"max=25"`
}

// BootNotificationResponse tells the device whether it is registered and how often to heartbeat.
type BootNotificationResponse struct {
	CurrentTime time.Time `json:"currentTime"`
	Interval    int       `json:"interval"`
	Status      string    `json:"status"`
}

// HeartbeatRequest has no fields.
type HeartbeatRequest struct{}

// HeartbeatResponse returns server time.
type HeartbeatResponse struct {
	CurrentTime time.Time `json:"currentTime"`
}

// StatusNotificationRequest reports connector (or, with connectorId 0, charge point) status.
type StatusNotificationRequest struct {
	ConnectorID     int        `json:"connectorId" validate:"gte=0"`
	ErrorCode       string     `json:"errorCode,omitempty"`
	Info            string     `json:"info,omitempty" validate:"max=50"`
	Status          string     `json:"status" validate:"required,oneof=Available Preparing Charging SuspendedEV SuspendedEVSE Finishing Reserved Unavailable Faulted"`
	Timestamp       *time.Time `json:"timestamp,omitempty"`
	VendorID        string     `json:"vendorId,omitempty" validate:"max=255"`
	VendorErrorCode string     `json:"vendorErrorCode,omitempty" validate:"max=50"`
}

// StatusNotificationResponse is empty.
type StatusNotificationResponse struct{}

// AuthorizeRequest asks whether an idTag may charge.
type AuthorizeRequest struct {
	IdTag string `json:"idTag" validate:"required,max=20"`
}

// AuthorizeResponse carries the authorization verdict.
type AuthorizeResponse struct {
	IdTagInfo IdTagInfo `json:"idTagInfo"`
}

// StartTransactionRequest opens a charging session on a connector.
type StartTransactionRequest struct {
	ConnectorID   int       `json:"connectorId" validate:"gt=0"`
	IdTag         string    `json:"idTag" validate:"required,max=20"`
	MeterStart    int64     `json:"meterStart"`
	ReservationID *int      `json:"reservationId,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
}

// StartTransactionResponse returns the assigned transaction id, or -1 when rejected.
type StartTransactionResponse struct {
	TransactionID int64     `json:"transactionId"`
	IdTagInfo     IdTagInfo `json:"idTagInfo"`
}

// StopTransactionRequest closes a charging session.
type StopTransactionRequest struct {
	TransactionID   int64        `json:"transactionId"`
	IdTag           string       `json:"idTag,omitempty" validate:"max=20"`
	MeterStop       int64        `json:"meterStop"`
	Timestamp       time.Time    `json:"timestamp"`
	Reason          string       `json:"reason,omitempty"`
	TransactionData []MeterValue `json:"transactionData,omitempty" validate:"dive"`
}

// StopTransactionResponse acknowledges the stop.
type StopTransactionResponse struct {
	IdTagInfo *IdTagInfo `json:"idTagInfo,omitempty"`
}

// SampledValue is one reading within a MeterValue.
type SampledValue struct {
	Value     string `json:"value" validate:"required"`
	Context   string `json:"context,omitempty"`
	Format    string `json:"format,omitempty"`
	Measurand string `json:"measurand,omitempty"`
	Phase     string `json:"phase,omitempty"`
	Location  string `json:"location,omitempty"`
	Unit      string `json:"unit,omitempty"`
}

// MeterValue groups sampled values taken at one point in time.
type MeterValue struct {
	Timestamp    time.Time      `json:"timestamp"`
	SampledValue []SampledValue `json:"sampledValue" validate:"required,min=1,dive"`
}

// MeterValuesRequest carries periodic or clock-aligned samples.
type MeterValuesRequest struct {
	ConnectorID   int          `json:"connectorId" validate:"gte=0"`
	TransactionID *int64       `json:"transactionId,omitempty"`
	MeterValue    []MeterValue `json:"meterValue" validate:"required,min=1,dive"`
}

// MeterValuesResponse is empty.
type MeterValuesResponse struct{}

// DataTransferRequest carries vendor-specific data.
type DataTransferRequest struct {
	VendorID  string `json:"vendorId" validate:"required,max=255"`
	MessageID string `json:"messageId,omitempty" validate:"max=50"`
	Data      string `json:"data,omitempty"`
}

// DataTransferResponse answers a DataTransfer.
type DataTransferResponse struct {
	Status string `json:"status"`
	Data   string `json:"data,omitempty"`
}

// RemoteStartTransactionRequest asks the device to start a session.
type RemoteStartTransactionRequest struct {
	ConnectorID *int   `json:"connectorId,omitempty"`
	IdTag       string `json:"idTag" validate:"required,max=20"`
}

// RemoteStopTransactionRequest asks the device to stop a session.
type RemoteStopTransactionRequest struct {
	TransactionID int64 `json:"transactionId"`
}

// UnlockConnectorRequest asks the device to release a connector.
type UnlockConnectorRequest struct {
	ConnectorID int `json:"connectorId" validate:"gt=0"`
}

// ResetRequest asks the device to reboot.
type ResetRequest struct {
	Type string `json:"type" validate:"required,oneof=Soft Hard"`
}

// TriggerMessageRequest asks the device to send a specific message.
type TriggerMessageRequest struct {
	RequestedMessage string `json:"requestedMessage" validate:"required,oneof=BootNotification DiagnosticsStatusNotification FirmwareStatusNotification Heartbeat MeterValues StatusNotification"`
	ConnectorID      *int   `json:"connectorId,omitempty"`
}

// ChangeAvailabilityRequest switches a connector (0 for the whole charge point) in or out of service.
type ChangeAvailabilityRequest struct {
	ConnectorID int    `json:"connectorId" validate:"gte=0"`
	Type        string `json:"type" validate:"required,oneof=Operative Inoperative"`
}

// StatusResponse is the common shape of remote command confirmations.
type StatusResponse struct {
	Status string `json:"status"`
}
