package liveness

import (
	"context"
	"errors"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"evcharge/backend/services/ocpp-server/internal/auth"
	"evcharge/backend/services/ocpp-server/internal/models"
	"evcharge/backend/services/ocpp-server/internal/ocpp/protocol"
	"evcharge/backend/services/ocpp-server/internal/repository"
	"evcharge/backend/services/ocpp-server/internal/ws"
)

type fakeRegistry struct {
	mu      sync.Mutex
	records map[string]ws.ConnectionRecord
	evicted []string
	codes   []int

	// refreshed is applied on Lookup to simulate a heartbeat racing the sweep
	refreshed map[string]time.Time
}

func newFakeRegistry(records ...ws.ConnectionRecord) *fakeRegistry {
	r := &fakeRegistry{records: make(map[string]ws.ConnectionRecord), refreshed: make(map[string]time.Time)}
	for _, rec := range records {
		r.records[rec.ChargePointID] = rec
	}
	return r
}

func (r *fakeRegistry) Snapshot() []ws.ConnectionRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]ws.ConnectionRecord, 0, len(r.records))
	for _, rec := range r.records {
		out = append(out, rec)
	}
	return out
}

func (r *fakeRegistry) Lookup(id string) (ws.ConnectionRecord, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[id]
	if at, refreshed := r.refreshed[id]; ok && refreshed {
		rec.LastHeartbeat = at
		r.records[id] = rec
	}
	return rec, ok
}

func (r *fakeRegistry) Evict(id string, code int, _ string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.records[id]; !ok {
		return false
	}
	delete(r.records, id)
	r.evicted = append(r.evicted, id)
	r.codes = append(r.codes, code)
	return true
}

func (r *fakeRegistry) evictions() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.evicted...)
}

func TestSweepEvictsStaleConnections(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	registry := newFakeRegistry(
		ws.ConnectionRecord{ChargePointID: "CP-stale", LastHeartbeat: now.Add(-26 * time.Minute)},
		ws.ConnectionRecord{ChargePointID: "CP-fresh", LastHeartbeat: now.Add(-time.Minute)},
		ws.ConnectionRecord{ChargePointID: "CP-edge", LastHeartbeat: now.Add(-25 * time.Minute)},
	)
	monitor := NewMonitor(registry, time.Minute, 25*time.Minute, zap.NewNop())
	monitor.now = func() time.Time { return now }

	evicted := monitor.Sweep()
	if len(evicted) != 1 || evicted[0] != "CP-stale" {
		t.Fatalf("expected only CP-stale evicted, got %v", evicted)
	}
	if registry.codes[0] != websocket.CloseGoingAway {
		t.Fatalf("expected close code %d, got %d", websocket.CloseGoingAway, registry.codes[0])
	}
	if _, ok := registry.Lookup("CP-fresh"); !ok {
		t.Fatalf("fresh connection must survive")
	}
	if _, ok := registry.Lookup("CP-edge"); !ok {
		t.Fatalf("connection exactly at the threshold must survive")
	}
}

func TestSweepSkipsConnectionRefreshedDuringSweep(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	registry := newFakeRegistry(ws.ConnectionRecord{ChargePointID: "CP-1", LastHeartbeat: now.Add(-time.Hour)})
	registry.refreshed["CP-1"] = now
	monitor := NewMonitor(registry, time.Minute, 5*time.Minute, zap.NewNop())
	monitor.now = func() time.Time { return now }

	if evicted := monitor.Sweep(); len(evicted) != 0 {
		t.Fatalf("expected no eviction, got %v", evicted)
	}
}

func TestRunSweepsPeriodically(t *testing.T) {
	registry := newFakeRegistry(ws.ConnectionRecord{ChargePointID: "CP-1", LastHeartbeat: time.Now().Add(-time.Hour)})
	monitor := NewMonitor(registry, 10*time.Millisecond, time.Minute, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		monitor.Run(ctx)
		close(done)
	}()

	deadline := time.Now().Add(time.Second)
	for len(registry.evictions()) == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("stale connection was not evicted")
		}
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("monitor did not stop")
	}
}

type silentProcessor struct{}

func (silentProcessor) Process(context.Context, string, []byte) ([]byte, error) { return nil, nil }

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("%s", msg)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func chargePointStatus(t *testing.T, store *repository.MemoryStore, id string) string {
	t.Helper()
	cp, err := store.GetChargePoint(context.Background(), id)
	if err != nil {
		t.Fatalf("get charge point: %v", err)
	}
	return cp.Status
}

func TestSweepMarksEvictedChargePointOffline(t *testing.T) {
	store := repository.NewMemoryStore([]string{"CP-1"}, nil)
	manager := ws.NewManager(time.Minute, ws.Hooks{
		OnConnect: func(id string) {
			_ = store.UpdateChargePointStatus(context.Background(), id, models.ChargePointAvailable, time.Now().UTC())
		},
		OnDisconnect: func(id, _ string) {
			_ = store.UpdateChargePointStatus(context.Background(), id, models.ChargePointOffline, time.Now().UTC())
		},
	}, zap.NewNop())
	server := ws.NewServer(manager, silentProcessor{}, auth.NewAdmission(store, false), ws.Options{}, zap.NewNop())

	r := chi.NewRouter()
	r.Get("/ocpp/{"+ws.ChargePointIDParam+"}", server.HandleWS)
	ts := httptest.NewServer(r)
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ocpp/CP-1"
	dialer := websocket.Dialer{Subprotocols: []string{protocol.Subprotocol16}, HandshakeTimeout: time.Second}
	conn, _, err := dialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	waitFor(t, func() bool { return manager.Count() == 1 }, "charge point was not registered")
	if got := chargePointStatus(t, store, "CP-1"); got != models.ChargePointAvailable {
		t.Fatalf("expected Available after connect, got %s", got)
	}

	monitor := NewMonitor(manager, time.Minute, 5*time.Minute, zap.NewNop())
	monitor.now = func() time.Time { return time.Now().Add(time.Hour) }

	evicted := monitor.Sweep()
	if len(evicted) != 1 || evicted[0] != "CP-1" {
		t.Fatalf("expected CP-1 evicted, got %v", evicted)
	}
	if manager.Count() != 0 {
		t.Fatalf("expected no live connections, got %d", manager.Count())
	}
	if got := chargePointStatus(t, store, "CP-1"); got != models.ChargePointOffline {
		t.Fatalf("expected Offline after eviction, got %s", got)
	}

	_ = conn.SetReadDeadline(time.Now().Add(time.Second))
	_, _, err = conn.ReadMessage()
	var closeErr *websocket.CloseError
	if !errors.As(err, &closeErr) || closeErr.Code != websocket.CloseGoingAway {
		t.Fatalf("expected going-away close, got %v", err)
	}
}
