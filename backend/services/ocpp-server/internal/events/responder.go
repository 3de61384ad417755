package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"evcharge/backend/services/ocpp-server/internal/commands"
	"evcharge/backend/services/ocpp-server/internal/ocpp"
	"evcharge/backend/services/ocpp-server/internal/ocpp/protocol"
)

// Reply error codes.
const (
	ErrCodeInvalid      = "command.invalid"
	ErrCodeUnknown      = "command.action.unknown"
	ErrCodeDisconnected = "charge_point.disconnected"
	ErrCodeTimeout      = "request.timeout"
	ErrCodeRemote       = "charge_point.error"
	ErrCodeInternal     = "internal"
)

// Commands is the set of operator commands reachable over NATS.
type Commands interface {
	RemoteStart(ctx context.Context, chargePointID, idTag string, connectorID int) (bool, error)
	RemoteStop(ctx context.Context, chargePointID string, transactionID int64) (bool, error)
	UnlockConnector(ctx context.Context, chargePointID string, connectorID int) (bool, error)
	Reset(ctx context.Context, chargePointID, resetType string) (bool, error)
	TriggerMessage(ctx context.Context, chargePointID, requestedMessage string, connectorID *int) (bool, error)
	ChangeAvailability(ctx context.Context, chargePointID string, connectorID int, availabilityType string) (bool, error)
}

var _ Commands = (*commands.Dispatcher)(nil)

// CommandRequest is the body of a command request message.
type CommandRequest struct {
	Action        string          `json:"action" validate:"required"`
	ChargePointID string          `json:"chargePointId" validate:"required"`
	Payload       json.RawMessage `json:"payload"`
}

// ReplyError describes why a command did not produce a decision.
type ReplyError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// CommandReply is sent back to the requester.
type CommandReply struct {
	Accepted bool        `json:"accepted"`
	Error    *ReplyError `json:"error,omitempty"`
}

// CommandResponder answers operator commands sent as NATS requests.
type CommandResponder struct {
	conn     *nats.Conn
	subject  string
	commands Commands
	timeout  time.Duration
	validate *validator.Validate
	logger   *zap.Logger
	sub      *nats.Subscription
}

// NewCommandResponder builds responder. timeout bounds each command.
func NewCommandResponder(conn *nats.Conn, subject string, cmds Commands, timeout time.Duration, logger *zap.Logger) *CommandResponder {
	return &CommandResponder{
		conn:     conn,
		subject:  subject,
		commands: cmds,
		timeout:  timeout,
		validate: validator.New(),
		logger:   logger,
	}
}

// Start subscribes to the command subject.
func (r *CommandResponder) Start() error {
	sub, err := r.conn.Subscribe(r.subject, func(m *nats.Msg) {
		go r.respond(m)
	})
	if err != nil {
		return fmt.Errorf("events: subscribe %s: %w", r.subject, err)
	}
	r.sub = sub
	r.logger.Info("listening for commands", zap.String("subject", r.subject))
	return nil
}

// Stop drains the subscription.
func (r *CommandResponder) Stop() error {
	if r.sub == nil {
		return nil
	}
	return r.sub.Drain()
}

func (r *CommandResponder) respond(m *nats.Msg) {
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()

	reply := r.Handle(ctx, m.Data)
	data, err := json.Marshal(reply)
	if err != nil {
		r.logger.Error("failed to encode command reply", zap.Error(err))
		return
	}
	if err := m.Respond(data); err != nil {
		r.logger.Warn("failed to send command reply", zap.Error(err))
	}
}

// Handle decodes and executes one command request.
func (r *CommandResponder) Handle(ctx context.Context, data []byte) CommandReply {
	var req CommandRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return failure(ErrCodeInvalid, err.Error())
	}
	if err := r.validate.Struct(req); err != nil {
		return failure(ErrCodeInvalid, err.Error())
	}
	if len(req.Payload) == 0 {
		req.Payload = json.RawMessage(`{}`)
	}

	accepted, err := r.execute(ctx, req)
	if err != nil {
		r.logger.Info("command failed",
			zap.String("charge_point_id", req.ChargePointID),
			zap.String("action", req.Action),
			zap.Error(err),
		)
		return replyFor(err)
	}
	return CommandReply{Accepted: accepted}
}

func (r *CommandResponder) execute(ctx context.Context, req CommandRequest) (bool, error) {
	cp := req.ChargePointID
	switch req.Action {
	case protocol.ActionRemoteStartTransaction:
		body, err := decode[protocol.RemoteStartTransactionRequest](req.Payload)
		if err != nil {
			return false, err
		}
		connectorID := 0
		if body.ConnectorID != nil {
			connectorID = *body.ConnectorID
		}
		return r.commands.RemoteStart(ctx, cp, body.IdTag, connectorID)
	case protocol.ActionRemoteStopTransaction:
		body, err := decode[protocol.RemoteStopTransactionRequest](req.Payload)
		if err != nil {
			return false, err
		}
		return r.commands.RemoteStop(ctx, cp, body.TransactionID)
	case protocol.ActionUnlockConnector:
		body, err := decode[protocol.UnlockConnectorRequest](req.Payload)
		if err != nil {
			return false, err
		}
		return r.commands.UnlockConnector(ctx, cp, body.ConnectorID)
	case protocol.ActionReset:
		body, err := decode[protocol.ResetRequest](req.Payload)
		if err != nil {
			return false, err
		}
		return r.commands.Reset(ctx, cp, body.Type)
	case protocol.ActionTriggerMessage:
		body, err := decode[protocol.TriggerMessageRequest](req.Payload)
		if err != nil {
			return false, err
		}
		return r.commands.TriggerMessage(ctx, cp, body.RequestedMessage, body.ConnectorID)
	case protocol.ActionChangeAvailability:
		body, err := decode[protocol.ChangeAvailabilityRequest](req.Payload)
		if err != nil {
			return false, err
		}
		return r.commands.ChangeAvailability(ctx, cp, body.ConnectorID, body.Type)
	default:
		return false, errUnknownAction
	}
}

var errUnknownAction = errors.New("events: unknown command action")

func decode[T any](payload json.RawMessage) (T, error) {
	var body T
	if err := json.Unmarshal(payload, &body); err != nil {
		return body, fmt.Errorf("%w: %v", commands.ErrInvalidCommand, err)
	}
	return body, nil
}

func replyFor(err error) CommandReply {
	var remote *ocpp.RemoteError
	switch {
	case errors.Is(err, errUnknownAction):
		return failure(ErrCodeUnknown, err.Error())
	case errors.Is(err, commands.ErrInvalidCommand):
		return failure(ErrCodeInvalid, err.Error())
	case errors.Is(err, ocpp.ErrDisconnected):
		return failure(ErrCodeDisconnected, err.Error())
	case errors.Is(err, ocpp.ErrTimeout):
		return failure(ErrCodeTimeout, err.Error())
	case errors.As(err, &remote):
		return failure(ErrCodeRemote, remote.Error())
	default:
		return failure(ErrCodeInternal, err.Error())
	}
}

func failure(code, message string) CommandReply {
	return CommandReply{Error: &ReplyError{Code: code, Message: message}}
}
