package liveness

import (
	"context"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"evcharge/backend/services/ocpp-server/internal/metrics"
	"evcharge/backend/services/ocpp-server/internal/ws"
)

// TimeoutReason is the close reason sent to evicted charge points.
const TimeoutReason = "Heartbeat timeout"

// Registry is the part of the connection registry the monitor needs.
type Registry interface {
	Snapshot() []ws.ConnectionRecord
	Lookup(chargePointID string) (ws.ConnectionRecord, bool)
	Evict(chargePointID string, code int, reason string) bool
}

var _ Registry = (*ws.Manager)(nil)

// Monitor closes connections whose last heartbeat is older than the timeout.
type Monitor struct {
	registry Registry
	interval time.Duration
	timeout  time.Duration
	now      func() time.Time
	logger   *zap.Logger
}

// NewMonitor builds a monitor sweeping every interval. timeout is the
// staleness threshold, usually a multiple of the heartbeat interval.
func NewMonitor(registry Registry, interval, timeout time.Duration, logger *zap.Logger) *Monitor {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Monitor{
		registry: registry,
		interval: interval,
		timeout:  timeout,
		now:      time.Now,
		logger:   logger,
	}
}

// Run sweeps until ctx is cancelled.
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	m.logger.Info("liveness monitor started", zap.Duration("interval", m.interval), zap.Duration("timeout", m.timeout))
	for {
		select {
		case <-ctx.Done():
			m.logger.Info("liveness monitor stopped")
			return
		case <-ticker.C:
			m.Sweep()
		}
	}
}

// Sweep evicts every stale connection once and returns the evicted ids.
func (m *Monitor) Sweep() []string {
	now := m.now()
	var evicted []string
	for _, record := range m.registry.Snapshot() {
		if !m.stale(record, now) {
			continue
		}
		// a heartbeat may have arrived since the snapshot
		current, ok := m.registry.Lookup(record.ChargePointID)
		if !ok || !m.stale(current, now) {
			continue
		}
		if !m.registry.Evict(record.ChargePointID, websocket.CloseGoingAway, TimeoutReason) {
			continue
		}
		metrics.CountEviction()
		m.logger.Warn("evicted stale charge point",
			zap.String("charge_point_id", record.ChargePointID),
			zap.Time("last_heartbeat", current.LastHeartbeat),
			zap.Duration("silence", now.Sub(current.LastHeartbeat)),
		)
		evicted = append(evicted, record.ChargePointID)
	}
	return evicted
}

func (m *Monitor) stale(record ws.ConnectionRecord, now time.Time) bool {
	return now.Sub(record.LastHeartbeat) > m.timeout
}
