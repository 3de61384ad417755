package ocpp

import (
	"encoding/json"
	"errors"
	"fmt"
)

var (
	// ErrDisconnected is returned when the target charge point has no live connection.
	ErrDisconnected = errors.New("ocpp: charge point disconnected")
	// ErrTimeout is returned when a call got no response within its deadline.
	ErrTimeout = errors.New("ocpp: call timed out")
	// ErrMalformedMessage is wrapped by every frame decoding failure.
	ErrMalformedMessage = errors.New("ocpp: malformed message")
)

// RemoteError is a CallError received from a charge point in reply to our call.
type RemoteError struct {
	Code        string
	Description string
	Details     json.RawMessage
}

func (e *RemoteError) Error() string {
	if e.Description == "" {
		return fmt.Sprintf("ocpp: remote error %s", e.Code)
	}
	return fmt.Sprintf("ocpp: remote error %s: %s", e.Code, e.Description)
}

// CallError is raised by a handler to answer a call with a specific error code.
type CallError struct {
	Code        string
	Description string
}

// NewCallError builds a handler error.
func NewCallError(code, description string) *CallError {
	return &CallError{Code: code, Description: description}
}

func (e *CallError) Error() string {
	return fmt.Sprintf("ocpp: %s: %s", e.Code, e.Description)
}

// MalformedError describes a frame that does not match any OCPP-J shape.
// MessageID is set when the id could still be read from the frame.
type MalformedError struct {
	MessageID string
	Reason    string
}

func (e *MalformedError) Error() string {
	return fmt.Sprintf("ocpp: malformed message: %s", e.Reason)
}

func (e *MalformedError) Unwrap() error {
	return ErrMalformedMessage
}
