package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"evcharge/backend/services/ocpp-server/internal/events"
	"evcharge/backend/services/ocpp-server/internal/models"
	"evcharge/backend/services/ocpp-server/internal/ocpp"
	"evcharge/backend/services/ocpp-server/internal/ocpp/protocol"
	"evcharge/backend/services/ocpp-server/internal/repository"
	"evcharge/backend/services/ocpp-server/internal/service"
)

type touchRecorder struct {
	mu      sync.Mutex
	touched map[string]time.Time
}

func (r *touchRecorder) Touch(id string, at time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.touched == nil {
		r.touched = make(map[string]time.Time)
	}
	r.touched[id] = at
}

type eventRecorder struct {
	mu     sync.Mutex
	events []events.Event
}

func (r *eventRecorder) Publish(_ context.Context, e events.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

func (r *eventRecorder) types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.Type)
	}
	return out
}

type fixture struct {
	store      *repository.MemoryStore
	state      *service.StationState
	ids        *service.TransactionIDs
	heartbeats *touchRecorder
	events     *eventRecorder
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := repository.NewMemoryStore([]string{"CP-1", "CP-2"}, []string{"TAG1"})
	ids, err := service.NewTransactionIDs(context.Background(), store)
	if err != nil {
		t.Fatalf("seed ids: %v", err)
	}
	return &fixture{
		store:      store,
		state:      service.NewStationState(),
		ids:        ids,
		heartbeats: &touchRecorder{},
		events:     &eventRecorder{},
	}
}

func call[T any](t *testing.T, h ocpp.HandlerFunc, cp, payload string) T {
	t.Helper()
	resp, err := h(context.Background(), cp, json.RawMessage(payload))
	if err != nil {
		t.Fatalf("handler error: %v", err)
	}
	out, ok := resp.(T)
	if !ok {
		t.Fatalf("unexpected response type %T", resp)
	}
	return out
}

func expectCallError(t *testing.T, err error, code string) {
	t.Helper()
	var callErr *ocpp.CallError
	if !errors.As(err, &callErr) || callErr.Code != code {
		t.Fatalf("expected CallError %s, got %v", code, err)
	}
}

func TestBootNotification(t *testing.T) {
	f := newFixture(t)
	h := NewBootNotificationHandler(f.store, f.state, f.heartbeats, 300*time.Second, f.events, zap.NewNop())

	resp := call[protocol.BootNotificationResponse](t, h, "CP-1", `{"chargePointVendor":"V","chargePointModel":"M","chargePointSerialNumber":"S-1"}`)
	if resp.Status != protocol.RegistrationAccepted || resp.Interval != 300 || resp.CurrentTime.IsZero() {
		t.Fatalf("unexpected response %+v", resp)
	}

	cp, err := f.store.GetChargePoint(context.Background(), "CP-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if cp.Vendor != "V" || cp.Model != "M" || cp.SerialNumber != "S-1" || cp.Status != models.ChargePointAvailable || cp.LastBoot.IsZero() {
		t.Fatalf("unexpected record %+v", cp)
	}
	if live, _ := f.state.Station("CP-1"); live.Status != models.ChargePointAvailable {
		t.Fatalf("mirror not updated: %+v", live)
	}
	if _, ok := f.heartbeats.touched["CP-1"]; !ok {
		t.Fatalf("boot must count as proof of life")
	}
	if got := f.events.types(); len(got) != 1 || got[0] != events.TypeChargePointBooted {
		t.Fatalf("unexpected events %v", got)
	}

	_, err = h(context.Background(), "CP-1", json.RawMessage(`{"chargePointVendor":"V"}`))
	expectCallError(t, err, protocol.ErrorPropertyConstraintViolation)
}

func TestHeartbeat(t *testing.T) {
	f := newFixture(t)
	h := NewHeartbeatHandler(f.store, f.heartbeats, zap.NewNop())

	resp := call[protocol.HeartbeatResponse](t, h, "CP-1", `{}`)
	cp, _ := f.store.GetChargePoint(context.Background(), "CP-1")
	if !cp.LastHeartbeat.Equal(resp.CurrentTime) {
		t.Fatalf("expected stored heartbeat %s, got %s", resp.CurrentTime, cp.LastHeartbeat)
	}
	if !f.heartbeats.touched["CP-1"].Equal(resp.CurrentTime) {
		t.Fatalf("expected live heartbeat refresh")
	}

	// unknown charge points still get an answer
	call[protocol.HeartbeatResponse](t, h, "CP-9", `{}`)
}

func TestStatusNotificationFaultedRequiresNoError(t *testing.T) {
	f := newFixture(t)
	h := NewStatusNotificationHandler(f.store, f.state, f.events, zap.NewNop())
	ctx := context.Background()

	steps := []struct {
		payload   string
		status    string
		errorCode string
	}{
		{`{"connectorId":1,"errorCode":"NoError","status":"Available"}`, "Available", "NoError"},
		{`{"connectorId":1,"errorCode":"GroundFailure","status":"Faulted"}`, "Faulted", "GroundFailure"},
		{`{"connectorId":1,"errorCode":"OverVoltage","status":"Available"}`, "Faulted", "OverVoltage"},
		{`{"connectorId":1,"errorCode":"NoError","status":"Available"}`, "Available", "NoError"},
		{`{"connectorId":1,"errorCode":"NoError","status":"Finishing"}`, "Finishing", "NoError"},
	}
	for i, step := range steps {
		call[protocol.StatusNotificationResponse](t, h, "CP-1", step.payload)
		conn, err := f.store.GetConnector(ctx, "CP-1", 1)
		if err != nil {
			t.Fatalf("step %d: %v", i, err)
		}
		if conn.Status != step.status || conn.ErrorCode != step.errorCode {
			t.Fatalf("step %d: expected %s/%s, got %s/%s", i, step.status, step.errorCode, conn.Status, conn.ErrorCode)
		}
		live, _ := f.state.Connector("CP-1", 1)
		if live.Status != step.status {
			t.Fatalf("step %d: mirror has %s", i, live.Status)
		}
	}
}

func TestStatusNotificationWithoutErrorCode(t *testing.T) {
	f := newFixture(t)
	h := NewStatusNotificationHandler(f.store, f.state, f.events, zap.NewNop())
	ctx := context.Background()

	call[protocol.StatusNotificationResponse](t, h, "CP-1", `{"connectorId":1,"status":"Available"}`)
	conn, err := f.store.GetConnector(ctx, "CP-1", 1)
	if err != nil {
		t.Fatalf("get connector: %v", err)
	}
	if conn.Status != "Available" || conn.ErrorCode != protocol.ErrorCodeNoError {
		t.Fatalf("expected Available/NoError, got %s/%s", conn.Status, conn.ErrorCode)
	}

	call[protocol.StatusNotificationResponse](t, h, "CP-1", `{"connectorId":1,"errorCode":"GroundFailure","status":"Faulted"}`)
	call[protocol.StatusNotificationResponse](t, h, "CP-1", `{"connectorId":1,"status":"Available"}`)
	conn, _ = f.store.GetConnector(ctx, "CP-1", 1)
	if conn.Status != "Available" {
		t.Fatalf("an omitted error code must clear Faulted, got %s", conn.Status)
	}
}

func TestStatusNotificationConnectorZero(t *testing.T) {
	f := newFixture(t)
	h := NewStatusNotificationHandler(f.store, f.state, nil, zap.NewNop())

	call[protocol.StatusNotificationResponse](t, h, "CP-1", `{"connectorId":0,"errorCode":"NoError","status":"Unavailable"}`)
	cp, _ := f.store.GetChargePoint(context.Background(), "CP-1")
	if cp.Status != models.ChargePointUnavailable {
		t.Fatalf("expected charge point Unavailable, got %s", cp.Status)
	}
	if conns, _ := f.store.ListConnectors(context.Background(), "CP-1"); len(conns) != 0 {
		t.Fatalf("connector 0 must not create a connector, got %+v", conns)
	}

	_, err := h(context.Background(), "CP-1", json.RawMessage(`{"connectorId":1,"errorCode":"NoError","status":"Sleeping"}`))
	expectCallError(t, err, protocol.ErrorPropertyConstraintViolation)
}

func TestAuthorize(t *testing.T) {
	f := newFixture(t)
	h := NewAuthorizeHandler(f.store, zap.NewNop())

	if resp := call[protocol.AuthorizeResponse](t, h, "CP-1", `{"idTag":"TAG1"}`); resp.IdTagInfo.Status != protocol.AuthorizationAccepted {
		t.Fatalf("expected Accepted, got %s", resp.IdTagInfo.Status)
	}
	if resp := call[protocol.AuthorizeResponse](t, h, "CP-1", `{"idTag":"NOPE"}`); resp.IdTagInfo.Status != protocol.AuthorizationInvalid {
		t.Fatalf("expected Invalid, got %s", resp.IdTagInfo.Status)
	}

	_, err := NewAuthorizeHandler(failingAuthorizer{}, zap.NewNop())(context.Background(), "CP-1", json.RawMessage(`{"idTag":"TAG1"}`))
	if err == nil {
		t.Fatalf("expected store failure to surface")
	}
}

type failingAuthorizer struct{}

func (failingAuthorizer) IsAuthorized(context.Context, string) (bool, error) {
	return false, errors.New("store down")
}

func TestStartTransaction(t *testing.T) {
	f := newFixture(t)
	f.store.AddTransaction(models.Transaction{ID: 40, ChargePointID: "CP-2", Status: models.TransactionCompleted})
	ids, _ := service.NewTransactionIDs(context.Background(), f.store)
	h := NewStartTransactionHandler(f.store, f.store, ids, f.state, f.events, zap.NewNop())
	ctx := context.Background()

	rejected := call[protocol.StartTransactionResponse](t, h, "CP-1", `{"connectorId":1,"idTag":"NOPE","meterStart":0,"timestamp":"2024-05-01T10:00:00Z"}`)
	if rejected.TransactionID != -1 || rejected.IdTagInfo.Status != protocol.AuthorizationInvalid {
		t.Fatalf("unexpected rejection %+v", rejected)
	}
	if active, _ := f.store.ListActiveTransactions(ctx); len(active) != 0 {
		t.Fatalf("rejected start must not create a transaction")
	}

	started := call[protocol.StartTransactionResponse](t, h, "CP-1", `{"connectorId":1,"idTag":"TAG1","meterStart":100,"timestamp":"2024-05-01T10:00:00Z"}`)
	if started.TransactionID != 41 || started.IdTagInfo.Status != protocol.AuthorizationAccepted {
		t.Fatalf("unexpected start %+v", started)
	}
	tx, err := f.store.GetTransaction(ctx, 41)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if tx.Status != models.TransactionActive || tx.MeterStart != 100 || tx.ConnectorID != 1 || tx.IDTag != "TAG1" {
		t.Fatalf("unexpected transaction %+v", tx)
	}
	if !tx.StartTime.Equal(time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)) {
		t.Fatalf("expected device timestamp, got %s", tx.StartTime)
	}
	conn, _ := f.store.GetConnector(ctx, "CP-1", 1)
	if conn.TransactionID == nil || *conn.TransactionID != 41 {
		t.Fatalf("connector not bound: %+v", conn)
	}

	busy := call[protocol.StartTransactionResponse](t, h, "CP-1", `{"connectorId":1,"idTag":"TAG1","meterStart":0,"timestamp":"2024-05-01T10:01:00Z"}`)
	if busy.TransactionID != -1 || busy.IdTagInfo.Status != protocol.AuthorizationConcurrentTx {
		t.Fatalf("expected ConcurrentTx, got %+v", busy)
	}

	other := call[protocol.StartTransactionResponse](t, h, "CP-1", `{"connectorId":2,"idTag":"TAG1","meterStart":0,"timestamp":"2024-05-01T10:02:00Z"}`)
	if other.TransactionID != 42 {
		t.Fatalf("expected next id 42, got %d", other.TransactionID)
	}
	if got := f.events.types(); len(got) != 2 || got[0] != events.TypeTransactionStarted {
		t.Fatalf("unexpected events %v", got)
	}
}

func TestStopTransaction(t *testing.T) {
	f := newFixture(t)
	start := NewStartTransactionHandler(f.store, f.store, f.ids, f.state, f.events, zap.NewNop())
	stop := NewStopTransactionHandler(f.store, f.state, f.events, zap.NewNop())
	ctx := context.Background()

	started := call[protocol.StartTransactionResponse](t, start, "CP-1", `{"connectorId":1,"idTag":"TAG1","meterStart":100,"timestamp":"2024-05-01T10:00:00Z"}`)

	_, err := stop(ctx, "CP-2", json.RawMessage(`{"transactionId":1,"meterStop":150,"timestamp":"2024-05-01T11:00:00Z"}`))
	expectCallError(t, err, protocol.ErrorGenericError)

	payload := `{"transactionId":1,"meterStop":150,"timestamp":"2024-05-01T11:00:00Z","reason":"Local",
		"transactionData":[{"timestamp":"2024-05-01T10:30:00Z","sampledValue":[{"value":"125"}]}]}`
	resp := call[protocol.StopTransactionResponse](t, stop, "CP-1", payload)
	if resp.IdTagInfo == nil || resp.IdTagInfo.Status != protocol.AuthorizationAccepted {
		t.Fatalf("unexpected response %+v", resp)
	}

	tx, _ := f.store.GetTransaction(ctx, started.TransactionID)
	if tx.Status != models.TransactionCompleted || tx.StopReason == nil || *tx.StopReason != "Local" {
		t.Fatalf("unexpected closed transaction %+v", tx)
	}
	if energy, ok := tx.EnergyDelivered(); !ok || energy != 50 {
		t.Fatalf("expected 50 Wh, got %d", energy)
	}
	conn, _ := f.store.GetConnector(ctx, "CP-1", 1)
	if conn.TransactionID != nil {
		t.Fatalf("connector must be unbound")
	}
	samples := f.store.MeterSamples()
	if len(samples) != 1 || samples[0].TransactionID == nil || *samples[0].TransactionID != 1 || samples[0].Values[0].Measurand != protocol.DefaultMeasurand {
		t.Fatalf("unexpected samples %+v", samples)
	}

	_, err = stop(ctx, "CP-1", json.RawMessage(`{"transactionId":1,"meterStop":160,"timestamp":"2024-05-01T11:05:00Z"}`))
	expectCallError(t, err, protocol.ErrorGenericError)
}

func TestStopUnknownTransactionLeavesConnectorsAlone(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	bound := int64(5)
	_ = f.store.SetConnectorStatus(ctx, "CP-1", 1, "Charging", "NoError", time.Now())
	_ = f.store.SetConnectorTransaction(ctx, "CP-1", 1, &bound)
	stop := NewStopTransactionHandler(f.store, f.state, f.events, zap.NewNop())

	_, err := stop(ctx, "CP-1", json.RawMessage(`{"transactionId":999,"meterStop":1,"timestamp":"2024-05-01T11:00:00Z"}`))
	expectCallError(t, err, protocol.ErrorGenericError)

	conn, _ := f.store.GetConnector(ctx, "CP-1", 1)
	if conn.Status != "Charging" || conn.TransactionID == nil || *conn.TransactionID != 5 {
		t.Fatalf("connector changed: %+v", conn)
	}
	if len(f.events.types()) != 0 {
		t.Fatalf("no event may be published")
	}
}

func TestStopWithEqualMetersDeliversZero(t *testing.T) {
	f := newFixture(t)
	start := NewStartTransactionHandler(f.store, f.store, f.ids, f.state, nil, zap.NewNop())
	stop := NewStopTransactionHandler(f.store, f.state, nil, zap.NewNop())

	started := call[protocol.StartTransactionResponse](t, start, "CP-1", `{"connectorId":1,"idTag":"TAG1","meterStart":777,"timestamp":"2024-05-01T10:00:00Z"}`)
	call[protocol.StopTransactionResponse](t, stop, "CP-1", `{"transactionId":1,"meterStop":777,"timestamp":"2024-05-01T10:00:01Z"}`)

	tx, _ := f.store.GetTransaction(context.Background(), started.TransactionID)
	if energy, ok := tx.EnergyDelivered(); !ok || energy != 0 {
		t.Fatalf("expected 0 Wh, got %d", energy)
	}
}

func TestMeterValues(t *testing.T) {
	f := newFixture(t)
	h := NewMeterValuesHandler(f.store, zap.NewNop())

	call[protocol.MeterValuesResponse](t, h, "CP-1", `{"connectorId":2,"transactionId":7,"meterValue":[
		{"timestamp":"2024-05-01T10:00:00Z","sampledValue":[{"value":"10","measurand":"Power.Active.Import","unit":"W"},{"value":"1200"}]},
		{"timestamp":"2024-05-01T10:01:00Z","sampledValue":[{"value":"1300"}]}]}`)

	samples := f.store.MeterSamples()
	if len(samples) != 2 {
		t.Fatalf("expected 2 samples, got %d", len(samples))
	}
	first := samples[0]
	if first.ConnectorID != 2 || first.TransactionID == nil || *first.TransactionID != 7 || len(first.Values) != 2 {
		t.Fatalf("unexpected sample %+v", first)
	}
	if first.Values[0].Unit != "W" || first.Values[1].Unit != protocol.DefaultUnit {
		t.Fatalf("unexpected values %+v", first.Values)
	}

	_, err := h(context.Background(), "CP-1", json.RawMessage(`{"connectorId":1,"meterValue":[]}`))
	expectCallError(t, err, protocol.ErrorPropertyConstraintViolation)
}

func TestDataTransfer(t *testing.T) {
	h := NewDataTransferHandler(zap.NewNop())
	resp := call[protocol.DataTransferResponse](t, h, "CP-1", `{"vendorId":"acme","messageId":"x","data":"y"}`)
	if resp.Status != protocol.DataTransferUnknownVendorID {
		t.Fatalf("unexpected status %s", resp.Status)
	}
}
