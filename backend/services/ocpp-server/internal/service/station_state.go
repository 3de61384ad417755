package service

import "sync"

// ConnectorState holds the last reported connector info.
type ConnectorState struct {
	Status        string `json:"status"`
	ErrorCode     string `json:"errorCode"`
	TransactionID *int64 `json:"transactionId,omitempty"`
}

// StationRuntimeState keeps runtime info per connected charge point.
type StationRuntimeState struct {
	Status     string                 `json:"status"`
	Connectors map[int]ConnectorState `json:"connectors"`
}

// StationState mirrors what connected charge points last reported. Entries are
// dropped on disconnect; the durable record lives in the store.
type StationState struct {
	mu       sync.RWMutex
	stations map[string]*StationRuntimeState
}

// NewStationState returns state store.
func NewStationState() *StationState {
	return &StationState{
		stations: make(map[string]*StationRuntimeState),
	}
}

func (s *StationState) stationLocked(chargePointID string) *StationRuntimeState {
	state, ok := s.stations[chargePointID]
	if !ok {
		state = &StationRuntimeState{Connectors: make(map[int]ConnectorState)}
		s.stations[chargePointID] = state
	}
	return state
}

// UpdateStation updates charge point status.
func (s *StationState) UpdateStation(chargePointID, status string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stationLocked(chargePointID).Status = status
}

// UpdateConnector updates connector-level status and error code.
func (s *StationState) UpdateConnector(chargePointID string, connectorID int, status, errorCode string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	state := s.stationLocked(chargePointID)
	conn := state.Connectors[connectorID]
	conn.Status = status
	conn.ErrorCode = errorCode
	state.Connectors[connectorID] = conn
}

// BindTransaction sets or clears the connector's transaction.
func (s *StationState) BindTransaction(chargePointID string, connectorID int, transactionID *int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	state := s.stationLocked(chargePointID)
	conn := state.Connectors[connectorID]
	if transactionID == nil {
		conn.TransactionID = nil
	} else {
		id := *transactionID
		conn.TransactionID = &id
	}
	state.Connectors[connectorID] = conn
}

// Connector returns the mirrored connector state.
func (s *StationState) Connector(chargePointID string, connectorID int) (ConnectorState, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	state, ok := s.stations[chargePointID]
	if !ok {
		return ConnectorState{}, false
	}
	conn, ok := state.Connectors[connectorID]
	return conn, ok
}

// Station returns a copy of one charge point's mirror.
func (s *StationState) Station(chargePointID string) (StationRuntimeState, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.stations[chargePointID]
	if !ok {
		return StationRuntimeState{}, false
	}
	return copyState(st), true
}

// Drop forgets a charge point.
func (s *StationState) Drop(chargePointID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.stations, chargePointID)
}

// Snapshot returns a copy of current state map.
func (s *StationState) Snapshot() map[string]StationRuntimeState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result := make(map[string]StationRuntimeState, len(s.stations))
	for id, st := range s.stations {
		result[id] = copyState(st)
	}
	return result
}

func copyState(st *StationRuntimeState) StationRuntimeState {
	out := StationRuntimeState{
		Status:     st.Status,
		Connectors: make(map[int]ConnectorState, len(st.Connectors)),
	}
	for cid, conn := range st.Connectors {
		if conn.TransactionID != nil {
			id := *conn.TransactionID
			conn.TransactionID = &id
		}
		out.Connectors[cid] = conn
	}
	return out
}
