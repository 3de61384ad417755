package protocol

// expectedTransitions lists the connector moves a well-behaved device makes.
// Faulted is reachable from anywhere and handled separately.
var expectedTransitions = map[string][]string{
	ConnectorUnavailable:   {ConnectorAvailable},
	ConnectorAvailable:     {ConnectorPreparing, ConnectorCharging, ConnectorReserved, ConnectorUnavailable},
	ConnectorPreparing:     {ConnectorAvailable, ConnectorCharging, ConnectorFinishing},
	ConnectorCharging:      {ConnectorPreparing, ConnectorSuspendedEV, ConnectorSuspendedEVSE, ConnectorFinishing, ConnectorAvailable},
	ConnectorSuspendedEV:   {ConnectorCharging, ConnectorSuspendedEVSE, ConnectorFinishing},
	ConnectorSuspendedEVSE: {ConnectorCharging, ConnectorSuspendedEV, ConnectorFinishing},
	ConnectorFinishing:     {ConnectorAvailable, ConnectorPreparing},
	ConnectorReserved:      {ConnectorAvailable, ConnectorPreparing, ConnectorUnavailable},
}

// NextConnectorStatus returns the status a connector holds after a
// StatusNotification. A Faulted connector stays Faulted until the device
// reports NoError.
func NextConnectorStatus(current, reported, errorCode string) string {
	if current == ConnectorFaulted && reported != ConnectorFaulted && errorCode != ErrorCodeNoError {
		return ConnectorFaulted
	}
	return reported
}

// IsExpectedTransition reports whether from -> to follows the normal connector graph.
// An empty from (first report) and repeats are always expected.
func IsExpectedTransition(from, to string) bool {
	if from == "" || from == to || to == ConnectorFaulted {
		return true
	}
	if from == ConnectorFaulted {
		return true
	}
	for _, s := range expectedTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// ChargePointStatus maps a connectorId 0 status report onto the charge point lifecycle.
func ChargePointStatus(reported string) string {
	switch reported {
	case ConnectorFaulted:
		return ConnectorFaulted
	case ConnectorUnavailable:
		return ConnectorUnavailable
	case ConnectorCharging, ConnectorSuspendedEV, ConnectorSuspendedEVSE:
		return ConnectorCharging
	default:
		return ConnectorAvailable
	}
}
