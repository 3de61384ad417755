package ws

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"evcharge/backend/services/ocpp-server/internal/metrics"
	"evcharge/backend/services/ocpp-server/internal/ocpp"
)

// ConnectionRecord is the registry view of one live connection.
type ConnectionRecord struct {
	ChargePointID string    `json:"chargePointId"`
	RemoteAddr    string    `json:"remoteAddr"`
	ConnectedAt   time.Time `json:"connectedAt"`
	LastHeartbeat time.Time `json:"lastHeartbeat"`
}

// Hooks are invoked outside the registry lock.
type Hooks struct {
	// OnConnect runs after a connection is registered.
	OnConnect func(chargePointID string)
	// OnDisconnect runs once when a charge point's current connection is removed.
	OnDisconnect func(chargePointID, reason string)
}

// Manager tracks one connection per charge point. A new connection for an
// already registered id supersedes and closes the old one.
type Manager struct {
	mu           sync.RWMutex
	connections  map[string]*Connection
	pingInterval time.Duration
	hooks        Hooks
	logger       *zap.Logger
}

// NewManager builds connection manager.
func NewManager(pingInterval time.Duration, hooks Hooks, logger *zap.Logger) *Manager {
	if pingInterval <= 0 {
		pingInterval = 30 * time.Second
	}
	return &Manager{
		connections:  make(map[string]*Connection),
		pingInterval: pingInterval,
		hooks:        hooks,
		logger:       logger,
	}
}

// Register adds conn, closing any connection it supersedes.
func (m *Manager) Register(conn *Connection) {
	id := conn.ChargePointID()

	m.mu.Lock()
	previous := m.connections[id]
	m.connections[id] = conn
	count := len(m.connections)
	m.mu.Unlock()

	metrics.SetConnected(count)
	if previous != nil && previous != conn {
		m.logger.Info("superseding existing connection", zap.String("charge_point_id", id))
		previous.Close(websocket.CloseGoingAway, "superseded by new connection")
	}
	if m.hooks.OnConnect != nil {
		m.hooks.OnConnect(id)
	}
}

// Lookup returns the live connection record.
func (m *Manager) Lookup(chargePointID string) (ConnectionRecord, bool) {
	m.mu.RLock()
	conn, ok := m.connections[chargePointID]
	m.mu.RUnlock()
	if !ok {
		return ConnectionRecord{}, false
	}
	return conn.Record(), true
}

// Remove drops conn if it is still the charge point's current connection.
func (m *Manager) Remove(chargePointID string, conn *Connection, reason string) bool {
	m.mu.Lock()
	current, ok := m.connections[chargePointID]
	if !ok || current != conn {
		m.mu.Unlock()
		return false
	}
	delete(m.connections, chargePointID)
	count := len(m.connections)
	m.mu.Unlock()

	metrics.SetConnected(count)
	m.logger.Info("charge point disconnected", zap.String("charge_point_id", chargePointID), zap.String("reason", reason))
	if m.hooks.OnDisconnect != nil {
		m.hooks.OnDisconnect(chargePointID, reason)
	}
	return true
}

// Evict removes the charge point's connection and closes it with the given code.
// Teardown has completed when Evict returns.
func (m *Manager) Evict(chargePointID string, code int, reason string) bool {
	m.mu.RLock()
	conn, ok := m.connections[chargePointID]
	m.mu.RUnlock()
	if !ok {
		return false
	}
	removed := m.Remove(chargePointID, conn, reason)
	conn.Close(code, reason)
	return removed
}

// Touch records a heartbeat for the charge point's live connection.
func (m *Manager) Touch(chargePointID string, at time.Time) {
	m.mu.RLock()
	conn, ok := m.connections[chargePointID]
	m.mu.RUnlock()
	if ok {
		conn.Touch(at)
	}
}

// Send writes a frame to the charge point. It implements ocpp.Sender.
func (m *Manager) Send(chargePointID string, frame []byte) error {
	m.mu.RLock()
	conn, ok := m.connections[chargePointID]
	m.mu.RUnlock()
	if !ok {
		return ocpp.ErrDisconnected
	}
	return conn.Send(frame)
}

// Snapshot lists live connections ordered by charge point id.
func (m *Manager) Snapshot() []ConnectionRecord {
	m.mu.RLock()
	records := make([]ConnectionRecord, 0, len(m.connections))
	for _, conn := range m.connections {
		records = append(records, conn.Record())
	}
	m.mu.RUnlock()
	sort.Slice(records, func(i, j int) bool { return records[i].ChargePointID < records[j].ChargePointID })
	return records
}

// Count returns the number of live connections.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.connections)
}

// CloseAll evicts every connection.
func (m *Manager) CloseAll(code int, reason string) {
	m.mu.RLock()
	ids := make([]string, 0, len(m.connections))
	for id := range m.connections {
		ids = append(ids, id)
	}
	m.mu.RUnlock()
	for _, id := range ids {
		m.Evict(id, code, reason)
	}
}

// Start begins ping loop to keep connections active.
func (m *Manager) Start(ctx context.Context) {
	ticker := time.NewTicker(m.pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.mu.RLock()
			conns := make([]*Connection, 0, len(m.connections))
			for _, conn := range m.connections {
				conns = append(conns, conn)
			}
			m.mu.RUnlock()
			for _, conn := range conns {
				if err := conn.Ping(); err != nil {
					m.logger.Debug("ping failed", zap.String("charge_point_id", conn.ChargePointID()), zap.Error(err))
				}
			}
		}
	}
}
