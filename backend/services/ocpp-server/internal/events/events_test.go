package events

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"evcharge/backend/services/ocpp-server/internal/clients"
	"evcharge/backend/services/ocpp-server/internal/ocpp"
)

func TestWebhookPublisherPostsEvent(t *testing.T) {
	var mu sync.Mutex
	var received Event
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		mu.Lock()
		_ = json.Unmarshal(body, &received)
		mu.Unlock()
		if r.Header.Get("Content-Type") != "application/json" {
			w.WriteHeader(http.StatusUnsupportedMediaType)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	publisher := NewWebhookPublisher(clients.NewWebhookClient(srv.URL, time.Second, zap.NewNop()))
	txID := int64(12)
	event := New(TypeTransactionStarted, "CP-1")
	event.ConnectorID = 1
	event.TransactionID = &txID
	if err := publisher.Publish(context.Background(), event); err != nil {
		t.Fatalf("publish: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if received.Type != TypeTransactionStarted || received.ChargePointID != "CP-1" || received.TransactionID == nil || *received.TransactionID != 12 {
		t.Fatalf("unexpected event %+v", received)
	}
}

func TestWebhookPublisherReportsFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	publisher := NewWebhookPublisher(clients.NewWebhookClient(srv.URL, time.Second, zap.NewNop()))
	if err := publisher.Publish(context.Background(), New(TypeChargePointOffline, "CP-1")); err == nil {
		t.Fatalf("expected error on 502")
	}
}

type recordingPublisher struct {
	events []Event
	err    error
}

func (p *recordingPublisher) Publish(_ context.Context, e Event) error {
	p.events = append(p.events, e)
	return p.err
}

func TestFanoutPublishesToEverySink(t *testing.T) {
	failing := &recordingPublisher{err: errors.New("down")}
	ok := &recordingPublisher{}
	err := Fanout{failing, ok, Noop{}}.Publish(context.Background(), New(TypeChargePointBooted, "CP-1"))
	if err == nil {
		t.Fatalf("expected joined error")
	}
	if len(failing.events) != 1 || len(ok.events) != 1 {
		t.Fatalf("every sink must receive the event")
	}
}

type fakeCommands struct {
	accepted bool
	err      error
	last     string
	args     []interface{}
}

func (f *fakeCommands) record(action string, args ...interface{}) (bool, error) {
	f.last = action
	f.args = args
	return f.accepted, f.err
}

func (f *fakeCommands) RemoteStart(_ context.Context, cp, idTag string, connectorID int) (bool, error) {
	return f.record("RemoteStart", cp, idTag, connectorID)
}

func (f *fakeCommands) RemoteStop(_ context.Context, cp string, transactionID int64) (bool, error) {
	return f.record("RemoteStop", cp, transactionID)
}

func (f *fakeCommands) UnlockConnector(_ context.Context, cp string, connectorID int) (bool, error) {
	return f.record("UnlockConnector", cp, connectorID)
}

func (f *fakeCommands) Reset(_ context.Context, cp, resetType string) (bool, error) {
	return f.record("Reset", cp, resetType)
}

func (f *fakeCommands) TriggerMessage(_ context.Context, cp, requested string, _ *int) (bool, error) {
	return f.record("TriggerMessage", cp, requested)
}

func (f *fakeCommands) ChangeAvailability(_ context.Context, cp string, connectorID int, availabilityType string) (bool, error) {
	return f.record("ChangeAvailability", cp, connectorID, availabilityType)
}

func TestCommandResponderHandle(t *testing.T) {
	cmds := &fakeCommands{accepted: true}
	responder := NewCommandResponder(nil, "ocpp.commands", cmds, time.Second, zap.NewNop())
	ctx := context.Background()

	reply := responder.Handle(ctx, []byte(`{"action":"RemoteStartTransaction","chargePointId":"CP-1","payload":{"idTag":"TAG1","connectorId":2}}`))
	if !reply.Accepted || reply.Error != nil {
		t.Fatalf("unexpected reply %+v", reply)
	}
	if cmds.last != "RemoteStart" || cmds.args[1] != "TAG1" || cmds.args[2] != 2 {
		t.Fatalf("unexpected dispatch %s %v", cmds.last, cmds.args)
	}

	reply = responder.Handle(ctx, []byte(`{"action":"Reset","chargePointId":"CP-1","payload":{"type":"Soft"}}`))
	if !reply.Accepted || cmds.last != "Reset" {
		t.Fatalf("unexpected reply %+v via %s", reply, cmds.last)
	}
}

func TestCommandResponderErrors(t *testing.T) {
	ctx := context.Background()
	cases := []struct {
		name string
		err  error
		body string
		code string
	}{
		{"not json", nil, `{`, ErrCodeInvalid},
		{"missing charge point", nil, `{"action":"Reset"}`, ErrCodeInvalid},
		{"unknown action", nil, `{"action":"Fly","chargePointId":"CP-1"}`, ErrCodeUnknown},
		{"bad payload", nil, `{"action":"UnlockConnector","chargePointId":"CP-1","payload":{"connectorId":"one"}}`, ErrCodeInvalid},
		{"disconnected", ocpp.ErrDisconnected, `{"action":"RemoteStopTransaction","chargePointId":"CP-1","payload":{"transactionId":3}}`, ErrCodeDisconnected},
		{"timeout", ocpp.ErrTimeout, `{"action":"TriggerMessage","chargePointId":"CP-1","payload":{"requestedMessage":"Heartbeat"}}`, ErrCodeTimeout},
		{"remote", &ocpp.RemoteError{Code: "NotSupported"}, `{"action":"ChangeAvailability","chargePointId":"CP-1","payload":{"connectorId":0,"type":"Operative"}}`, ErrCodeRemote},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			responder := NewCommandResponder(nil, "ocpp.commands", &fakeCommands{err: tc.err}, time.Second, zap.NewNop())
			reply := responder.Handle(ctx, []byte(tc.body))
			if reply.Accepted || reply.Error == nil || reply.Error.Code != tc.code {
				t.Fatalf("expected error code %s, got %+v", tc.code, reply)
			}
		})
	}
}

func TestNATSSubject(t *testing.T) {
	p := NewNATSPublisher(nil, "")
	if got := p.Subject(TypeConnectorStatus); got != "ocpp.events.connector.status" {
		t.Fatalf("unexpected subject %s", got)
	}
}
