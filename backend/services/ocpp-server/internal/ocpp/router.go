package ocpp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"evcharge/backend/services/ocpp-server/internal/metrics"
	"evcharge/backend/services/ocpp-server/internal/models"
	"evcharge/backend/services/ocpp-server/internal/ocpp/protocol"
)

// HandlerFunc processes message payload and returns response body.
type HandlerFunc func(ctx context.Context, chargePointID string, payload json.RawMessage) (interface{}, error)

// Router dispatches OCPP actions to handlers. Registration happens at startup only.
type Router struct {
	handlers map[string]HandlerFunc
}

// NewRouter returns router.
func NewRouter() *Router {
	return &Router{handlers: make(map[string]HandlerFunc)}
}

// Register attaches handler to action.
func (r *Router) Register(action string, handler HandlerFunc) {
	r.handlers[action] = handler
}

// Route executes handler for message. Unknown actions yield a NotImplemented CallError.
func (r *Router) Route(ctx context.Context, chargePointID string, msg *Message) (interface{}, error) {
	handler, ok := r.handlers[msg.Action]
	if !ok {
		return nil, NewCallError(protocol.ErrorNotImplemented, fmt.Sprintf("action %s is not supported", msg.Action))
	}
	return handler(ctx, chargePointID, msg.Payload)
}

// ResponseHandler receives CALLRESULT and CALLERROR frames.
type ResponseHandler interface {
	HandleResult(chargePointID string, msg *Message)
	HandleError(chargePointID string, msg *Message)
}

// Processor ties together parsing, routing, and response encoding.
type Processor struct {
	parser    *Parser
	router    *Router
	responses ResponseHandler
	recorder  FrameRecorder
	logger    *zap.Logger
}

// NewProcessor builds Processor.
func NewProcessor(parser *Parser, router *Router, responses ResponseHandler, recorder FrameRecorder, logger *zap.Logger) *Processor {
	return &Processor{
		parser:    parser,
		router:    router,
		responses: responses,
		recorder:  recorder,
		logger:    logger,
	}
}

// Process handles raw message and returns response frame bytes. A nil frame
// with nil error means nothing is to be written back.
func (p *Processor) Process(ctx context.Context, chargePointID string, raw []byte) ([]byte, error) {
	p.logger.Debug("ocpp frame received", zap.String("charge_point_id", chargePointID), zap.ByteString("frame", raw))

	msg, err := p.parser.Parse(raw)
	if err != nil {
		metrics.CountMalformed()
		var malformed *MalformedError
		if !errors.As(err, &malformed) || malformed.MessageID == "" {
			p.record(chargePointID, models.DirectionIncoming, 0, "", "", raw)
			return nil, err
		}
		p.logger.Warn("malformed ocpp frame",
			zap.String("charge_point_id", chargePointID),
			zap.String("message_id", malformed.MessageID),
			zap.String("reason", malformed.Reason),
		)
		p.record(chargePointID, models.DirectionIncoming, 0, malformed.MessageID, "", raw)
		return p.reply(chargePointID, malformed.MessageID, "", nil, NewCallError(protocol.ErrorFormatViolation, malformed.Reason))
	}

	p.record(chargePointID, models.DirectionIncoming, msg.MessageType, msg.UniqueID, msg.Action, raw)

	switch msg.MessageType {
	case protocol.MessageTypeCallResult:
		p.responses.HandleResult(chargePointID, msg)
		return nil, nil
	case protocol.MessageTypeCallError:
		p.responses.HandleError(chargePointID, msg)
		return nil, nil
	}

	responsePayload, err := p.route(ctx, chargePointID, msg)
	return p.reply(chargePointID, msg.UniqueID, msg.Action, responsePayload, err)
}

func (p *Processor) route(ctx context.Context, chargePointID string, msg *Message) (resp interface{}, err error) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("ocpp handler panicked",
				zap.String("charge_point_id", chargePointID),
				zap.String("action", msg.Action),
				zap.Any("panic", r),
			)
			resp, err = nil, fmt.Errorf("ocpp: handler panic: %v", r)
		}
	}()
	return p.router.Route(ctx, chargePointID, msg)
}

func (p *Processor) reply(chargePointID, uniqueID, action string, payload interface{}, handlerErr error) ([]byte, error) {
	var (
		frame []byte
		err   error
	)
	if handlerErr != nil {
		code, description := callErrorFor(handlerErr)
		if code == protocol.ErrorInternalError {
			p.logger.Error("ocpp handler failed",
				zap.String("charge_point_id", chargePointID),
				zap.String("action", action),
				zap.String("message_id", uniqueID),
				zap.Error(handlerErr),
			)
		} else {
			p.logger.Info("ocpp call answered with error",
				zap.String("charge_point_id", chargePointID),
				zap.String("action", action),
				zap.String("message_id", uniqueID),
				zap.String("code", code),
				zap.String("description", description),
			)
		}
		metrics.ObserveInbound(action, code)
		frame, err = BuildCallError(uniqueID, code, description)
	} else {
		if payload == nil {
			payload = struct{}{}
		}
		metrics.ObserveInbound(action, "ok")
		frame, err = BuildCallResult(uniqueID, payload)
	}
	if err != nil {
		p.logger.Error("encode ocpp response failed", zap.String("charge_point_id", chargePointID), zap.Error(err))
		frame, err = BuildCallError(uniqueID, protocol.ErrorInternalError, "response encoding failed")
		if err != nil {
			return nil, err
		}
	}

	messageType := protocol.MessageTypeCallResult
	if handlerErr != nil {
		messageType = protocol.MessageTypeCallError
	}
	p.record(chargePointID, models.DirectionOutgoing, messageType, uniqueID, action, frame)
	return frame, nil
}

func (p *Processor) record(chargePointID, direction string, messageType int, uniqueID, action string, frame []byte) {
	if p.recorder == nil {
		return
	}
	p.recorder.Record(models.LogEntry{
		ChargePointID: chargePointID,
		Direction:     direction,
		MessageType:   messageType,
		MessageID:     uniqueID,
		Action:        action,
		Payload:       frame,
		Timestamp:     time.Now().UTC(),
	})
}

func callErrorFor(err error) (string, string) {
	var callErr *CallError
	if errors.As(err, &callErr) {
		return callErr.Code, callErr.Description
	}
	return protocol.ErrorInternalError, "internal error"
}

var validate = validator.New()

// Decode unmarshals and validates a handler payload. Failures are returned as
// *CallError carrying the matching OCPP error code.
func Decode[T any](payload json.RawMessage) (T, error) {
	var target T
	if err := json.Unmarshal(payload, &target); err != nil {
		var zero T
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) {
			return zero, NewCallError(protocol.ErrorTypeConstraintViolation, err.Error())
		}
		return zero, NewCallError(protocol.ErrorFormatViolation, err.Error())
	}
	if err := validate.Struct(target); err != nil {
		var zero T
		var invalid *validator.InvalidValidationError
		if errors.As(err, &invalid) {
			return zero, err
		}
		return zero, NewCallError(protocol.ErrorPropertyConstraintViolation, err.Error())
	}
	return target, nil
}

// ValidateStruct checks validate tags on v.
func ValidateStruct(v interface{}) error {
	return validate.Struct(v)
}
