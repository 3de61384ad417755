package commands

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	"evcharge/backend/services/ocpp-server/internal/ocpp"
	"evcharge/backend/services/ocpp-server/internal/ws"
)

type sentCall struct {
	chargePointID string
	action        string
	payload       []byte
}

type fakeCaller struct {
	reply json.RawMessage
	err   error
	calls []sentCall
}

func (f *fakeCaller) SendCall(_ context.Context, chargePointID, action string, payload interface{}, _ time.Duration) (json.RawMessage, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	f.calls = append(f.calls, sentCall{chargePointID: chargePointID, action: action, payload: data})
	return f.reply, f.err
}

type fakeRegistry map[string]bool

func (f fakeRegistry) Lookup(id string) (ws.ConnectionRecord, bool) {
	if !f[id] {
		return ws.ConnectionRecord{}, false
	}
	return ws.ConnectionRecord{ChargePointID: id}, true
}

func newDispatcher(caller *fakeCaller) *Dispatcher {
	return NewDispatcher(caller, fakeRegistry{"CP-1": true}, time.Second, zap.NewNop())
}

func TestRemoteStartDefaultsToConnectorOne(t *testing.T) {
	caller := &fakeCaller{reply: json.RawMessage(`{"status":"Accepted"}`)}
	accepted, err := newDispatcher(caller).RemoteStart(context.Background(), "CP-1", "TAG1", 0)
	if err != nil {
		t.Fatalf("remote start: %v", err)
	}
	if !accepted {
		t.Fatalf("expected accepted")
	}
	if len(caller.calls) != 1 || caller.calls[0].action != "RemoteStartTransaction" {
		t.Fatalf("unexpected calls %+v", caller.calls)
	}
	if got := string(caller.calls[0].payload); got != `{"connectorId":1,"idTag":"TAG1"}` {
		t.Fatalf("unexpected payload %s", got)
	}
}

func TestCommandDecisions(t *testing.T) {
	ctx := context.Background()
	one := 1
	cases := []struct {
		name   string
		status string
		run    func(d *Dispatcher) (bool, error)
		want   bool
	}{
		{"remote stop accepted", "Accepted", func(d *Dispatcher) (bool, error) { return d.RemoteStop(ctx, "CP-1", 7) }, true},
		{"remote stop rejected", "Rejected", func(d *Dispatcher) (bool, error) { return d.RemoteStop(ctx, "CP-1", 7) }, false},
		{"unlock unlocked", "Unlocked", func(d *Dispatcher) (bool, error) { return d.UnlockConnector(ctx, "CP-1", 1) }, true},
		{"unlock accepted is not unlocked", "Accepted", func(d *Dispatcher) (bool, error) { return d.UnlockConnector(ctx, "CP-1", 1) }, false},
		{"reset hard", "Accepted", func(d *Dispatcher) (bool, error) { return d.Reset(ctx, "CP-1", "Hard") }, true},
		{"trigger heartbeat", "Accepted", func(d *Dispatcher) (bool, error) { return d.TriggerMessage(ctx, "CP-1", "Heartbeat", nil) }, true},
		{"trigger not implemented", "NotImplemented", func(d *Dispatcher) (bool, error) {
			return d.TriggerMessage(ctx, "CP-1", "MeterValues", &one)
		}, false},
		{"availability scheduled", "Scheduled", func(d *Dispatcher) (bool, error) {
			return d.ChangeAvailability(ctx, "CP-1", 0, "Inoperative")
		}, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			caller := &fakeCaller{reply: json.RawMessage(`{"status":"` + tc.status + `"}`)}
			got, err := tc.run(newDispatcher(caller))
			if err != nil {
				t.Fatalf("unexpected error %v", err)
			}
			if got != tc.want {
				t.Fatalf("expected %v, got %v", tc.want, got)
			}
		})
	}
}

func TestCommandsFailFastWhenDisconnected(t *testing.T) {
	caller := &fakeCaller{reply: json.RawMessage(`{"status":"Accepted"}`)}
	d := newDispatcher(caller)
	ctx := context.Background()

	if _, err := d.RemoteStart(ctx, "CP-404", "TAG1", 1); !errors.Is(err, ocpp.ErrDisconnected) {
		t.Fatalf("expected ErrDisconnected, got %v", err)
	}
	if _, err := d.Reset(ctx, "CP-404", "Soft"); !errors.Is(err, ocpp.ErrDisconnected) {
		t.Fatalf("expected ErrDisconnected, got %v", err)
	}
	if _, err := d.Call(ctx, "CP-404", "GetConfiguration", nil); !errors.Is(err, ocpp.ErrDisconnected) {
		t.Fatalf("expected ErrDisconnected, got %v", err)
	}
	if len(caller.calls) != 0 {
		t.Fatalf("no call may be sent to a disconnected charge point")
	}
}

func TestCommandsPropagateCallFailures(t *testing.T) {
	ctx := context.Background()
	for _, failure := range []error{ocpp.ErrTimeout, &ocpp.RemoteError{Code: "InternalError"}} {
		caller := &fakeCaller{err: failure}
		_, err := newDispatcher(caller).UnlockConnector(ctx, "CP-1", 2)
		if !errors.Is(err, failure) {
			t.Fatalf("expected %v, got %v", failure, err)
		}
	}
}

func TestCommandValidation(t *testing.T) {
	caller := &fakeCaller{reply: json.RawMessage(`{"status":"Accepted"}`)}
	d := newDispatcher(caller)
	ctx := context.Background()

	if _, err := d.Reset(ctx, "CP-1", "Medium"); !errors.Is(err, ErrInvalidCommand) {
		t.Fatalf("expected ErrInvalidCommand, got %v", err)
	}
	if _, err := d.RemoteStart(ctx, "CP-1", "", 1); !errors.Is(err, ErrInvalidCommand) {
		t.Fatalf("expected ErrInvalidCommand for empty idTag, got %v", err)
	}
	if _, err := d.UnlockConnector(ctx, "CP-1", 0); !errors.Is(err, ErrInvalidCommand) {
		t.Fatalf("expected ErrInvalidCommand for connector 0, got %v", err)
	}
	if _, err := d.Call(ctx, "CP-1", "DataTransfer", json.RawMessage(`{broken`)); !errors.Is(err, ErrInvalidCommand) {
		t.Fatalf("expected ErrInvalidCommand for bad payload, got %v", err)
	}
	if len(caller.calls) != 0 {
		t.Fatalf("invalid commands must not reach the device")
	}
}

func TestGenericCallReturnsRawPayload(t *testing.T) {
	caller := &fakeCaller{reply: json.RawMessage(`{"configurationKey":[]}`)}
	raw, err := newDispatcher(caller).Call(context.Background(), "CP-1", "GetConfiguration", nil)
	if err != nil {
		t.Fatalf("call: %v", err)
	}
	if string(raw) != `{"configurationKey":[]}` {
		t.Fatalf("unexpected payload %s", raw)
	}
	if string(caller.calls[0].payload) != `{}` {
		t.Fatalf("expected empty object payload, got %s", caller.calls[0].payload)
	}
}
