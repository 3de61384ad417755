package ocpp

import (
	"bytes"
	"encoding/json"
	"fmt"

	"evcharge/backend/services/ocpp-server/internal/ocpp/protocol"
)

// Message represents a parsed OCPP-J frame.
type Message struct {
	MessageType      int
	UniqueID         string
	Action           string
	Payload          json.RawMessage
	ErrorCode        string
	ErrorDescription string
	ErrorDetails     json.RawMessage
}

// Parser decodes raw JSON OCPP frames.
type Parser struct{}

// NewParser returns parser.
func NewParser() *Parser {
	return &Parser{}
}

// Parse decodes []byte into Message struct. Every failure is a *MalformedError.
func (p *Parser) Parse(data []byte) (*Message, error) {
	var array []json.RawMessage
	if err := json.Unmarshal(data, &array); err != nil {
		return nil, &MalformedError{Reason: "frame is not a JSON array"}
	}

	var uniqueID string
	if len(array) > 1 {
		if err := json.Unmarshal(array[1], &uniqueID); err != nil {
			uniqueID = ""
		}
	}
	malformed := func(format string, args ...interface{}) error {
		return &MalformedError{MessageID: uniqueID, Reason: fmt.Sprintf(format, args...)}
	}

	if len(array) < 3 {
		return nil, malformed("frame has %d elements", len(array))
	}

	var msgType int
	if err := json.Unmarshal(array[0], &msgType); err != nil {
		return nil, malformed("message type is not a number")
	}
	if uniqueID == "" {
		return nil, malformed("message id must be a non-empty string")
	}

	msg := &Message{MessageType: msgType, UniqueID: uniqueID}

	switch msgType {
	case protocol.MessageTypeCall:
		if len(array) != 4 {
			return nil, malformed("CALL frame has %d elements", len(array))
		}
		if err := json.Unmarshal(array[2], &msg.Action); err != nil || msg.Action == "" {
			return nil, malformed("action must be a non-empty string")
		}
		if !isObject(array[3]) {
			return nil, malformed("CALL payload must be an object")
		}
		msg.Payload = array[3]
	case protocol.MessageTypeCallResult:
		if len(array) != 3 {
			return nil, malformed("CALLRESULT frame has %d elements", len(array))
		}
		if !isObject(array[2]) {
			return nil, malformed("CALLRESULT payload must be an object")
		}
		msg.Payload = array[2]
	case protocol.MessageTypeCallError:
		if len(array) != 5 {
			return nil, malformed("CALLERROR frame has %d elements", len(array))
		}
		if err := json.Unmarshal(array[2], &msg.ErrorCode); err != nil || msg.ErrorCode == "" {
			return nil, malformed("error code must be a non-empty string")
		}
		if err := json.Unmarshal(array[3], &msg.ErrorDescription); err != nil {
			return nil, malformed("error description must be a string")
		}
		if !isObject(array[4]) {
			return nil, malformed("error details must be an object")
		}
		msg.ErrorDetails = array[4]
	default:
		return nil, malformed("unsupported message type %d", msgType)
	}

	return msg, nil
}

func isObject(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) > 0 && trimmed[0] == '{'
}

// BuildCall builds a CALL frame.
func BuildCall(uniqueID, action string, payload interface{}) ([]byte, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	frame := []interface{}{protocol.MessageTypeCall, uniqueID, action, json.RawMessage(body)}
	return json.Marshal(frame)
}

// BuildCallResult builds standard CALLRESULT payload.
func BuildCallResult(uniqueID string, payload interface{}) ([]byte, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	frame := []interface{}{protocol.MessageTypeCallResult, uniqueID, json.RawMessage(body)}
	return json.Marshal(frame)
}

// BuildCallError builds CALLERROR payload.
func BuildCallError(uniqueID, code, description string) ([]byte, error) {
	frame := []interface{}{protocol.MessageTypeCallError, uniqueID, code, description, map[string]string{}}
	return json.Marshal(frame)
}
