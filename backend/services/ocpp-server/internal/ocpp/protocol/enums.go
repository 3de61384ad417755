package protocol

// Subprotocol negotiated on the websocket handshake.
const Subprotocol16 = "ocpp1.6"

// MessageType values as per OCPP-J.
const (
	MessageTypeCall       = 2
	MessageTypeCallResult = 3
	MessageTypeCallError  = 4
)

// Actions initiated by the charge point.
const (
	ActionBootNotification   = "BootNotification"
	ActionHeartbeat          = "Heartbeat"
	ActionStatusNotification = "StatusNotification"
	ActionAuthorize          = "Authorize"
	ActionStartTransaction   = "StartTransaction"
	ActionStopTransaction    = "StopTransaction"
	ActionMeterValues        = "MeterValues"
	ActionDataTransfer       = "DataTransfer"
)

// Actions initiated by the central system.
const (
	ActionRemoteStartTransaction = "RemoteStartTransaction"
	ActionRemoteStopTransaction  = "RemoteStopTransaction"
	ActionUnlockConnector        = "UnlockConnector"
	ActionReset                  = "Reset"
	ActionTriggerMessage         = "TriggerMessage"
	ActionChangeAvailability     = "ChangeAvailability"
)

// CallError codes.
const (
	ErrorNotImplemented                = "NotImplemented"
	ErrorNotSupported                  = "NotSupported"
	ErrorInternalError                 = "InternalError"
	ErrorProtocolError                 = "ProtocolError"
	ErrorSecurityError                 = "SecurityError"
	ErrorFormatViolation               = "FormatViolation"
	ErrorPropertyConstraintViolation   = "PropertyConstraintViolation"
	ErrorOccurrenceConstraintViolation = "OccurrenceConstraintViolation"
	ErrorTypeConstraintViolation       = "TypeConstraintViolation"
	ErrorGenericError                  = "GenericError"
)

// Registration status values.
const (
	RegistrationAccepted = "Accepted"
	RegistrationPending  = "Pending"
	RegistrationRejected = "Rejected"
)

// Authorization status values (idTagInfo.status).
const (
	AuthorizationAccepted     = "Accepted"
	AuthorizationBlocked      = "Blocked"
	AuthorizationExpired      = "Expired"
	AuthorizationInvalid      = "Invalid"
	AuthorizationConcurrentTx = "ConcurrentTx"
)

// StatusNotification status values.
const (
	ConnectorAvailable     = "Available"
	ConnectorPreparing     = "Preparing"
	ConnectorCharging      = "Charging"
	ConnectorSuspendedEV   = "SuspendedEV"
	ConnectorSuspendedEVSE = "SuspendedEVSE"
	ConnectorFinishing     = "Finishing"
	ConnectorReserved      = "Reserved"
	ConnectorUnavailable   = "Unavailable"
	ConnectorFaulted       = "Faulted"
)

// ChargePointErrorCode value meaning "no fault".
const ErrorCodeNoError = "NoError"

// Remote command response statuses.
const (
	RemoteAccepted        = "Accepted"
	RemoteRejected        = "Rejected"
	UnlockUnlocked        = "Unlocked"
	UnlockFailed          = "UnlockFailed"
	UnlockNotSupported    = "NotSupported"
	TriggerNotImplemented = "NotImplemented"
	AvailabilityScheduled = "Scheduled"
)

// Reset types.
const (
	ResetSoft = "Soft"
	ResetHard = "Hard"
)

// Availability types.
const (
	AvailabilityOperative   = "Operative"
	AvailabilityInoperative = "Inoperative"
)

// DataTransfer statuses.
const (
	DataTransferAccepted        = "Accepted"
	DataTransferRejected        = "Rejected"
	DataTransferUnknownVendorID = "UnknownVendorId"
)

// Default measurand and unit when a sampled value omits them.
const (
	DefaultMeasurand = "Energy.Active.Import.Register"
	DefaultUnit      = "Wh"
)
