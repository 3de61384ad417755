package ocpp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"evcharge/backend/services/ocpp-server/internal/metrics"
	"evcharge/backend/services/ocpp-server/internal/models"
	"evcharge/backend/services/ocpp-server/internal/ocpp/protocol"
)

var idGenerator = uuid.NewString

// Sender writes a frame to the live connection of a charge point. It returns
// an error wrapping ErrDisconnected when there is none.
type Sender interface {
	Send(chargePointID string, frame []byte) error
}

// FrameRecorder receives every frame for the message log. Record must not block.
type FrameRecorder interface {
	Record(entry models.LogEntry)
}

// Caller issues central-system calls and correlates their responses.
type Caller struct {
	sender   Sender
	pending  *PendingCalls
	recorder FrameRecorder
	timeout  time.Duration
	logger   *zap.Logger
}

// NewCaller builds Caller. timeout is used when SendCall gets a non-positive one.
func NewCaller(sender Sender, pending *PendingCalls, recorder FrameRecorder, timeout time.Duration, logger *zap.Logger) *Caller {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Caller{
		sender:   sender,
		pending:  pending,
		recorder: recorder,
		timeout:  timeout,
		logger:   logger,
	}
}

// DefaultTimeout returns the timeout applied when none is given.
func (c *Caller) DefaultTimeout() time.Duration {
	return c.timeout
}

// SendCall writes a CALL and waits for the matching CALLRESULT payload.
// It fails with ErrDisconnected, ErrTimeout or *RemoteError.
func (c *Caller) SendCall(ctx context.Context, chargePointID, action string, payload interface{}, timeout time.Duration) (json.RawMessage, error) {
	if timeout <= 0 {
		timeout = c.timeout
	}

	uniqueID := idGenerator()
	frame, err := BuildCall(uniqueID, action, payload)
	if err != nil {
		return nil, fmt.Errorf("ocpp: encode %s: %w", action, err)
	}

	done := c.pending.Add(uniqueID, chargePointID, action, timeout)
	if err := c.sender.Send(chargePointID, frame); err != nil {
		c.pending.Discard(uniqueID)
		metrics.ObserveOutbound(action, metrics.OutcomeDisconnected)
		if !errors.Is(err, ErrDisconnected) {
			err = fmt.Errorf("%w: %v", ErrDisconnected, err)
		}
		return nil, err
	}

	c.logger.Debug("ocpp call sent",
		zap.String("charge_point_id", chargePointID),
		zap.String("action", action),
		zap.String("message_id", uniqueID),
	)
	c.record(chargePointID, protocol.MessageTypeCall, uniqueID, action, frame)

	outcome := <-done
	metrics.ObserveOutbound(action, outcomeLabel(outcome.Err))
	if outcome.Err != nil {
		c.logger.Info("ocpp call failed",
			zap.String("charge_point_id", chargePointID),
			zap.String("action", action),
			zap.String("message_id", uniqueID),
			zap.Error(outcome.Err),
		)
		return nil, outcome.Err
	}
	return outcome.Payload, nil
}

// HandleResult resolves the pending call a CALLRESULT answers.
func (c *Caller) HandleResult(chargePointID string, msg *Message) {
	if _, ok := c.pending.Resolve(chargePointID, msg.UniqueID, msg.Payload); !ok {
		c.unmatched(chargePointID, msg)
	}
}

// HandleError rejects the pending call a CALLERROR answers.
func (c *Caller) HandleError(chargePointID string, msg *Message) {
	remote := &RemoteError{
		Code:        msg.ErrorCode,
		Description: msg.ErrorDescription,
		Details:     msg.ErrorDetails,
	}
	if _, ok := c.pending.Reject(chargePointID, msg.UniqueID, remote); !ok {
		c.unmatched(chargePointID, msg)
	}
}

// FailAll rejects the charge point's calls in flight with ErrDisconnected.
func (c *Caller) FailAll(chargePointID string) int {
	return c.pending.FailAll(chargePointID, ErrDisconnected)
}

func (c *Caller) unmatched(chargePointID string, msg *Message) {
	metrics.CountUnmatched()
	c.logger.Warn("discarding response without pending call",
		zap.String("charge_point_id", chargePointID),
		zap.String("message_id", msg.UniqueID),
		zap.Int("message_type", msg.MessageType),
	)
}

func (c *Caller) record(chargePointID string, messageType int, uniqueID, action string, frame []byte) {
	if c.recorder == nil {
		return
	}
	c.recorder.Record(models.LogEntry{
		ChargePointID: chargePointID,
		Direction:     models.DirectionOutgoing,
		MessageType:   messageType,
		MessageID:     uniqueID,
		Action:        action,
		Payload:       frame,
		Timestamp:     time.Now().UTC(),
	})
}

func outcomeLabel(err error) string {
	var remote *RemoteError
	switch {
	case err == nil:
		return metrics.OutcomeResult
	case errors.Is(err, ErrTimeout):
		return metrics.OutcomeTimeout
	case errors.Is(err, ErrDisconnected):
		return metrics.OutcomeDisconnected
	case errors.As(err, &remote):
		return metrics.OutcomeRemoteError
	default:
		return metrics.OutcomeError
	}
}
