package ws

import (
	"context"
	"encoding/binary"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"evcharge/backend/services/ocpp-server/internal/ocpp"
)

type fakeSocket struct {
	mu         sync.Mutex
	incoming   chan []byte
	written    [][]byte
	closeCodes []int
	closed     chan struct{}
	closeOnce  sync.Once
}

func newFakeSocket() *fakeSocket {
	return &fakeSocket{incoming: make(chan []byte, 16), closed: make(chan struct{})}
}

func (f *fakeSocket) SetReadLimit(int64)                        {}
func (f *fakeSocket) SetReadDeadline(time.Time) error           { return nil }
func (f *fakeSocket) SetWriteDeadline(time.Time) error          { return nil }
func (f *fakeSocket) SetPongHandler(func(appData string) error) {}

func (f *fakeSocket) ReadMessage() (int, []byte, error) {
	select {
	case msg := <-f.incoming:
		return websocket.TextMessage, msg, nil
	case <-f.closed:
		return 0, nil, errors.New("use of closed connection")
	}
}

func (f *fakeSocket) WriteMessage(_ int, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.written = append(f.written, append([]byte(nil), data...))
	return nil
}

func (f *fakeSocket) WriteControl(messageType int, data []byte, _ time.Time) error {
	if messageType == websocket.CloseMessage && len(data) >= 2 {
		f.mu.Lock()
		f.closeCodes = append(f.closeCodes, int(binary.BigEndian.Uint16(data[:2])))
		f.mu.Unlock()
	}
	return nil
}

func (f *fakeSocket) Close() error {
	f.closeOnce.Do(func() { close(f.closed) })
	return nil
}

func (f *fakeSocket) isClosed() bool {
	select {
	case <-f.closed:
		return true
	default:
		return false
	}
}

func (f *fakeSocket) writtenCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.written)
}

func (f *fakeSocket) writtenAt(i int) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return string(f.written[i])
}

func (f *fakeSocket) firstCloseCode() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.closeCodes) == 0 {
		return 0
	}
	return f.closeCodes[0]
}

type echoProcessor struct {
	mu    sync.Mutex
	order []string
}

func (p *echoProcessor) Process(_ context.Context, _ string, raw []byte) ([]byte, error) {
	p.mu.Lock()
	p.order = append(p.order, string(raw))
	p.mu.Unlock()
	return append([]byte("ack:"), raw...), nil
}

type hookRecorder struct {
	mu           sync.Mutex
	connected    []string
	disconnected []string
}

func (h *hookRecorder) hooks() Hooks {
	return Hooks{
		OnConnect: func(id string) {
			h.mu.Lock()
			h.connected = append(h.connected, id)
			h.mu.Unlock()
		},
		OnDisconnect: func(id, _ string) {
			h.mu.Lock()
			h.disconnected = append(h.disconnected, id)
			h.mu.Unlock()
		},
	}
}

func (h *hookRecorder) disconnects() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.disconnected)
}

func startConnection(t *testing.T, manager *Manager, id string, processor MessageProcessor) (*Connection, *fakeSocket) {
	t.Helper()
	sock := newFakeSocket()
	conn := NewConnection(id, "127.0.0.1:1", sock, processor, Options{WriteTimeout: 50 * time.Millisecond}, zap.NewNop(), func(c *Connection) {
		manager.Remove(c.ChargePointID(), c, "connection closed")
	})
	manager.Register(conn)
	go conn.Start(context.Background())
	return conn, sock
}

func TestConnectionProcessesFramesInOrder(t *testing.T) {
	manager := NewManager(time.Minute, Hooks{}, zap.NewNop())
	processor := &echoProcessor{}
	_, sock := startConnection(t, manager, "CP-1", processor)

	for _, frame := range []string{"one", "two", "three"} {
		sock.incoming <- []byte(frame)
	}
	waitFor(t, time.Second, func() bool { return sock.writtenCount() == 3 })

	for i, want := range []string{"ack:one", "ack:two", "ack:three"} {
		if got := sock.writtenAt(i); got != want {
			t.Fatalf("frame %d: expected %s, got %s", i, want, got)
		}
	}
}

func TestManagerSupersedesPreviousConnection(t *testing.T) {
	hooks := &hookRecorder{}
	manager := NewManager(time.Minute, hooks.hooks(), zap.NewNop())

	first, firstSock := startConnection(t, manager, "CP-1", &echoProcessor{})
	second, secondSock := startConnection(t, manager, "CP-1", &echoProcessor{})

	waitFor(t, time.Second, firstSock.isClosed)
	if code := firstSock.firstCloseCode(); code != websocket.CloseGoingAway {
		t.Fatalf("expected close code %d, got %d", websocket.CloseGoingAway, code)
	}
	if secondSock.isClosed() {
		t.Fatalf("new connection must stay open")
	}

	if manager.Remove("CP-1", first, "late close") {
		t.Fatalf("stale connection must not remove the current one")
	}
	if manager.Count() != 1 {
		t.Fatalf("expected 1 connection, got %d", manager.Count())
	}
	if hooks.disconnects() != 0 {
		t.Fatalf("superseding must not run the disconnect hook")
	}

	if err := manager.Send("CP-1", []byte("hello")); err != nil {
		t.Fatalf("send to current connection: %v", err)
	}
	waitFor(t, time.Second, func() bool { return secondSock.writtenCount() == 1 })

	second.Close(websocket.CloseNormalClosure, "")
	waitFor(t, time.Second, func() bool { return hooks.disconnects() == 1 })
	if _, ok := manager.Lookup("CP-1"); ok {
		t.Fatalf("closed connection must be removed")
	}
}

func TestManagerEvict(t *testing.T) {
	hooks := &hookRecorder{}
	manager := NewManager(time.Minute, hooks.hooks(), zap.NewNop())
	_, sock := startConnection(t, manager, "CP-1", &echoProcessor{})

	if !manager.Evict("CP-1", websocket.CloseGoingAway, "Heartbeat timeout") {
		t.Fatalf("expected eviction")
	}
	if hooks.disconnects() != 1 {
		t.Fatalf("teardown must have run when Evict returns")
	}
	waitFor(t, time.Second, sock.isClosed)
	if code := sock.firstCloseCode(); code != websocket.CloseGoingAway {
		t.Fatalf("expected close code %d, got %d", websocket.CloseGoingAway, code)
	}

	time.Sleep(20 * time.Millisecond)
	if hooks.disconnects() != 1 {
		t.Fatalf("teardown must run exactly once, got %d", hooks.disconnects())
	}
	if manager.Evict("CP-1", websocket.CloseGoingAway, "again") {
		t.Fatalf("second eviction must be a no-op")
	}
}

func TestManagerSendUnknown(t *testing.T) {
	manager := NewManager(time.Minute, Hooks{}, zap.NewNop())
	if err := manager.Send("CP-404", []byte("x")); !errors.Is(err, ocpp.ErrDisconnected) {
		t.Fatalf("expected ErrDisconnected, got %v", err)
	}
}

func TestManagerTouchAndSnapshot(t *testing.T) {
	manager := NewManager(time.Minute, Hooks{}, zap.NewNop())
	startConnection(t, manager, "CP-2", &echoProcessor{})
	startConnection(t, manager, "CP-1", &echoProcessor{})

	at := time.Now().Add(time.Hour).UTC()
	manager.Touch("CP-1", at)

	records := manager.Snapshot()
	if len(records) != 2 || records[0].ChargePointID != "CP-1" || records[1].ChargePointID != "CP-2" {
		t.Fatalf("unexpected snapshot %+v", records)
	}
	if !records[0].LastHeartbeat.Equal(at) {
		t.Fatalf("expected heartbeat %s, got %s", at, records[0].LastHeartbeat)
	}
}

func waitFor(t *testing.T, timeout time.Duration, condition func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if condition() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met within %s", timeout)
}
