package ws

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"evcharge/backend/services/ocpp-server/internal/ocpp"
)

// MessageProcessor handles raw OCPP messages.
type MessageProcessor interface {
	Process(ctx context.Context, chargePointID string, raw []byte) ([]byte, error)
}

// socket is the part of *websocket.Conn a Connection uses.
type socket interface {
	SetReadLimit(limit int64)
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	SetPongHandler(h func(appData string) error)
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	Close() error
}

// Options tune a connection.
type Options struct {
	WriteTimeout time.Duration
	PongWait     time.Duration
	ReadLimit    int64
}

func (o Options) withDefaults() Options {
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = 15 * time.Second
	}
	if o.PongWait <= 0 {
		o.PongWait = 60 * time.Second
	}
	if o.ReadLimit <= 0 {
		o.ReadLimit = 1024 * 1024
	}
	return o
}

// Connection represents an active charge point WebSocket connection.
// Frames are read and processed one at a time, so a charge point's calls are
// handled in arrival order.
type Connection struct {
	chargePointID string
	remoteAddr    string
	ws            socket
	send          chan []byte
	done          chan struct{}
	closeOnce     sync.Once
	logger        *zap.Logger
	processor     MessageProcessor
	opts          Options
	connectedAt   time.Time
	lastHeartbeat atomic.Int64
	onClose       func(*Connection)
}

// NewConnection builds connection wrapper.
func NewConnection(chargePointID, remoteAddr string, ws socket, processor MessageProcessor, opts Options, logger *zap.Logger, onClose func(*Connection)) *Connection {
	now := time.Now().UTC()
	c := &Connection{
		chargePointID: chargePointID,
		remoteAddr:    remoteAddr,
		ws:            ws,
		send:          make(chan []byte, 16),
		done:          make(chan struct{}),
		logger:        logger.With(zap.String("charge_point_id", chargePointID)),
		processor:     processor,
		opts:          opts.withDefaults(),
		connectedAt:   now,
		onClose:       onClose,
	}
	c.lastHeartbeat.Store(now.UnixNano())
	return c
}

// ChargePointID returns identifier.
func (c *Connection) ChargePointID() string {
	return c.chargePointID
}

// Record returns the connection's registry view.
func (c *Connection) Record() ConnectionRecord {
	return ConnectionRecord{
		ChargePointID: c.chargePointID,
		RemoteAddr:    c.remoteAddr,
		ConnectedAt:   c.connectedAt,
		LastHeartbeat: c.LastHeartbeat(),
	}
}

// LastHeartbeat returns the last time the device proved it is alive.
func (c *Connection) LastHeartbeat() time.Time {
	return time.Unix(0, c.lastHeartbeat.Load()).UTC()
}

// Touch records a heartbeat.
func (c *Connection) Touch(at time.Time) {
	c.lastHeartbeat.Store(at.UnixNano())
}

// Start launches the write pump and blocks in the read pump until the connection ends.
func (c *Connection) Start(ctx context.Context) {
	go c.writePump(ctx)
	c.readPump(ctx)
}

func (c *Connection) readPump(ctx context.Context) {
	defer c.cleanup()
	c.ws.SetReadLimit(c.opts.ReadLimit)
	_ = c.ws.SetReadDeadline(time.Now().Add(c.opts.PongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(c.opts.PongWait))
	})

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		messageType, message, err := c.ws.ReadMessage()
		if err != nil {
			c.logger.Info("connection read closed", zap.Error(err))
			return
		}
		_ = c.ws.SetReadDeadline(time.Now().Add(c.opts.PongWait))
		if messageType != websocket.TextMessage {
			c.logger.Warn("ignoring non-text frame", zap.Int("frame_type", messageType))
			continue
		}

		response, err := c.processor.Process(ctx, c.chargePointID, message)
		if err != nil {
			c.logger.Warn("failed to process message", zap.Error(err))
			continue
		}
		if response != nil {
			if err := c.Send(response); err != nil {
				c.logger.Warn("failed to queue response", zap.Error(err))
				return
			}
		}
	}
}

func (c *Connection) writePump(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.done:
			return
		case msg := <-c.send:
			if err := c.write(websocket.TextMessage, msg); err != nil {
				c.logger.Info("connection write failed", zap.Error(err))
				_ = c.ws.Close()
				return
			}
		}
	}
}

// Send enqueues a frame for writing. It fails with ocpp.ErrDisconnected once
// the connection is closed or when the buffer stays full past the write timeout.
func (c *Connection) Send(msg []byte) error {
	select {
	case <-c.done:
		return ocpp.ErrDisconnected
	default:
	}

	timer := time.NewTimer(c.opts.WriteTimeout)
	defer timer.Stop()

	select {
	case c.send <- msg:
		return nil
	case <-c.done:
		return ocpp.ErrDisconnected
	case <-timer.C:
		return fmt.Errorf("%w: send buffer full", ocpp.ErrDisconnected)
	}
}

// Ping sends a websocket ping. Safe to call concurrently with the write pump.
func (c *Connection) Ping() error {
	return c.ws.WriteControl(websocket.PingMessage, []byte("ping"), time.Now().Add(c.opts.WriteTimeout))
}

// Close sends a close frame with the given code and drops the socket.
func (c *Connection) Close(code int, reason string) {
	c.closeOnce.Do(func() {
		close(c.done)
		msg := websocket.FormatCloseMessage(code, reason)
		_ = c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(c.opts.WriteTimeout))
		_ = c.ws.Close()
	})
}

func (c *Connection) write(messageType int, data []byte) error {
	_ = c.ws.SetWriteDeadline(time.Now().Add(c.opts.WriteTimeout))
	return c.ws.WriteMessage(messageType, data)
}

func (c *Connection) cleanup() {
	c.Close(websocket.CloseNormalClosure, "")
	if c.onClose != nil {
		c.onClose(c)
	}
}
