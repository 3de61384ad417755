package ocpp

import (
	"encoding/json"
	"sync"
	"time"
)

// CallOutcome is the single resolution of a pending call.
type CallOutcome struct {
	Payload json.RawMessage
	Err     error
}

type pendingCall struct {
	chargePointID string
	action        string
	createdAt     time.Time
	timer         *time.Timer
	done          chan CallOutcome
}

// PendingCalls tracks outbound calls awaiting a CallResult or CallError.
// Each entry completes exactly once: by result, by error, by timeout, or by FailAll.
type PendingCalls struct {
	mu    sync.Mutex
	calls map[string]*pendingCall
}

// NewPendingCalls returns an empty table.
func NewPendingCalls() *PendingCalls {
	return &PendingCalls{calls: make(map[string]*pendingCall)}
}

// Add records a call and arms its timeout. The returned channel receives
// exactly one outcome.
func (p *PendingCalls) Add(uniqueID, chargePointID, action string, timeout time.Duration) <-chan CallOutcome {
	call := &pendingCall{
		chargePointID: chargePointID,
		action:        action,
		createdAt:     time.Now(),
		done:          make(chan CallOutcome, 1),
	}

	p.mu.Lock()
	p.calls[uniqueID] = call
	call.timer = time.AfterFunc(timeout, func() {
		p.complete(uniqueID, "", CallOutcome{Err: ErrTimeout})
	})
	p.mu.Unlock()

	return call.done
}

// Resolve completes the call with a device payload. It returns the call's
// action and false when no call with that id is pending for the charge point.
func (p *PendingCalls) Resolve(chargePointID, uniqueID string, payload json.RawMessage) (string, bool) {
	return p.complete(uniqueID, chargePointID, CallOutcome{Payload: payload})
}

// Reject completes the call with an error.
func (p *PendingCalls) Reject(chargePointID, uniqueID string, err error) (string, bool) {
	return p.complete(uniqueID, chargePointID, CallOutcome{Err: err})
}

// Discard drops a call without delivering an outcome.
func (p *PendingCalls) Discard(uniqueID string) {
	p.mu.Lock()
	call, ok := p.calls[uniqueID]
	delete(p.calls, uniqueID)
	p.mu.Unlock()
	if ok {
		call.timer.Stop()
	}
}

// FailAll rejects every call addressed to the charge point and returns how many were failed.
func (p *PendingCalls) FailAll(chargePointID string, err error) int {
	p.mu.Lock()
	var failed []*pendingCall
	for id, call := range p.calls {
		if call.chargePointID == chargePointID {
			failed = append(failed, call)
			delete(p.calls, id)
		}
	}
	p.mu.Unlock()

	for _, call := range failed {
		call.timer.Stop()
		call.done <- CallOutcome{Err: err}
	}
	return len(failed)
}

// Len returns the number of calls in flight.
func (p *PendingCalls) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.calls)
}

func (p *PendingCalls) complete(uniqueID, chargePointID string, outcome CallOutcome) (string, bool) {
	p.mu.Lock()
	call, ok := p.calls[uniqueID]
	if !ok || (chargePointID != "" && call.chargePointID != chargePointID) {
		p.mu.Unlock()
		return "", false
	}
	delete(p.calls, uniqueID)
	p.mu.Unlock()

	call.timer.Stop()
	call.done <- outcome
	return call.action, true
}
