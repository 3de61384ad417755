package service

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"evcharge/backend/services/ocpp-server/internal/models"
)

const logWriteTimeout = 5 * time.Second

// LogWriter persists protocol frames.
type LogWriter interface {
	AppendLog(ctx context.Context, entry models.LogEntry) error
}

// MessageLog writes frames in the background so persistence never delays a
// protocol response. A full queue drops entries.
type MessageLog struct {
	writer  LogWriter
	entries chan models.LogEntry
	logger  *zap.Logger

	mu     sync.RWMutex
	closed bool
	done   chan struct{}
}

// NewMessageLog starts the writer goroutine.
func NewMessageLog(writer LogWriter, size int, logger *zap.Logger) *MessageLog {
	if size <= 0 {
		size = 1024
	}
	l := &MessageLog{
		writer:  writer,
		entries: make(chan models.LogEntry, size),
		logger:  logger,
		done:    make(chan struct{}),
	}
	go l.run()
	return l
}

// Record enqueues an entry without blocking.
func (l *MessageLog) Record(entry models.LogEntry) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.closed {
		return
	}
	select {
	case l.entries <- entry:
	default:
		l.logger.Warn("message log queue full, dropping entry",
			zap.String("charge_point_id", entry.ChargePointID),
			zap.String("message_id", entry.MessageID),
		)
	}
}

// Close stops accepting entries and waits for the queue to drain or ctx to end.
func (l *MessageLog) Close(ctx context.Context) error {
	l.mu.Lock()
	if !l.closed {
		l.closed = true
		close(l.entries)
	}
	l.mu.Unlock()

	select {
	case <-l.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (l *MessageLog) run() {
	defer close(l.done)
	for entry := range l.entries {
		ctx, cancel := context.WithTimeout(context.Background(), logWriteTimeout)
		if err := l.writer.AppendLog(ctx, entry); err != nil {
			l.logger.Warn("failed to persist ocpp message",
				zap.String("charge_point_id", entry.ChargePointID),
				zap.String("message_id", entry.MessageID),
				zap.Error(err),
			)
		}
		cancel()
	}
}
