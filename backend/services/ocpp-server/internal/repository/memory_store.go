package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"evcharge/backend/services/ocpp-server/internal/models"
)

type connectorKey struct {
	chargePointID string
	connectorID   int
}

// MemoryStore keeps everything in process memory. Used for tests and local runs.
type MemoryStore struct {
	mu           sync.RWMutex
	chargePoints map[string]*models.ChargePoint
	connectors   map[connectorKey]*models.Connector
	transactions map[int64]*models.Transaction
	samples      []models.MeterSample
	idTags       map[string]bool
	logs         []models.LogEntry
}

// NewMemoryStore returns a store pre-provisioned with the given charge points and idTags.
func NewMemoryStore(chargePointIDs, idTags []string) *MemoryStore {
	s := &MemoryStore{
		chargePoints: make(map[string]*models.ChargePoint),
		connectors:   make(map[connectorKey]*models.Connector),
		transactions: make(map[int64]*models.Transaction),
		idTags:       make(map[string]bool),
	}
	now := time.Now().UTC()
	for _, id := range chargePointIDs {
		s.chargePoints[id] = &models.ChargePoint{
			ID:        id,
			Status:    models.ChargePointOffline,
			Active:    true,
			CreatedAt: now,
			UpdatedAt: now,
		}
	}
	for _, tag := range idTags {
		s.idTags[tag] = true
	}
	return s
}

// AddChargePoint provisions or replaces a charge point record.
func (s *MemoryStore) AddChargePoint(cp models.ChargePoint) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.chargePoints[cp.ID] = &cp
}

// AddTransaction stores a transaction as is.
func (s *MemoryStore) AddTransaction(tx models.Transaction) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.transactions[tx.ID] = &tx
}

// SetAuthorized grants or revokes an idTag.
func (s *MemoryStore) SetAuthorized(idTag string, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.idTags[idTag] = ok
}

func (s *MemoryStore) IsKnownChargePoint(_ context.Context, id string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cp, ok := s.chargePoints[id]
	return ok && cp.Active, nil
}

func (s *MemoryStore) GetChargePoint(_ context.Context, id string) (*models.ChargePoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cp, ok := s.chargePoints[id]
	if !ok {
		return nil, ErrNotFound
	}
	copyCP := *cp
	return &copyCP, nil
}

func (s *MemoryStore) UpsertChargePoint(_ context.Context, cp *models.ChargePoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	existing, ok := s.chargePoints[cp.ID]
	if !ok {
		stored := *cp
		stored.Active = true
		stored.CreatedAt = now
		stored.UpdatedAt = now
		s.chargePoints[cp.ID] = &stored
		return nil
	}
	existing.Vendor = cp.Vendor
	existing.Model = cp.Model
	existing.SerialNumber = cp.SerialNumber
	existing.FirmwareVersion = cp.FirmwareVersion
	if cp.ConnectorCount > 0 {
		existing.ConnectorCount = cp.ConnectorCount
	}
	existing.Status = cp.Status
	existing.LastBoot = cp.LastBoot
	existing.LastHeartbeat = cp.LastHeartbeat
	existing.UpdatedAt = now
	return nil
}

func (s *MemoryStore) UpdateChargePointStatus(_ context.Context, id, status string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp, ok := s.chargePoints[id]
	if !ok {
		return ErrNotFound
	}
	cp.Status = status
	cp.UpdatedAt = at
	return nil
}

func (s *MemoryStore) UpdateHeartbeat(_ context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp, ok := s.chargePoints[id]
	if !ok {
		return ErrNotFound
	}
	cp.LastHeartbeat = at
	cp.UpdatedAt = at
	return nil
}

func (s *MemoryStore) GetConnector(_ context.Context, chargePointID string, connectorID int) (*models.Connector, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.connectors[connectorKey{chargePointID, connectorID}]
	if !ok {
		return nil, ErrNotFound
	}
	return copyConnector(c), nil
}

func (s *MemoryStore) ListConnectors(_ context.Context, chargePointID string) ([]models.Connector, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.Connector
	for key, c := range s.connectors {
		if key.chargePointID == chargePointID {
			out = append(out, *copyConnector(c))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ConnectorID < out[j].ConnectorID })
	return out, nil
}

func (s *MemoryStore) SetConnectorStatus(_ context.Context, chargePointID string, connectorID int, status, errorCode string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.connectorLocked(chargePointID, connectorID)
	c.Status = status
	c.ErrorCode = errorCode
	c.UpdatedAt = at
	return nil
}

func (s *MemoryStore) SetConnectorTransaction(_ context.Context, chargePointID string, connectorID int, transactionID *int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.connectorLocked(chargePointID, connectorID)
	if transactionID == nil {
		c.TransactionID = nil
	} else {
		id := *transactionID
		c.TransactionID = &id
	}
	c.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *MemoryStore) connectorLocked(chargePointID string, connectorID int) *models.Connector {
	key := connectorKey{chargePointID, connectorID}
	c, ok := s.connectors[key]
	if !ok {
		c = &models.Connector{
			ChargePointID: chargePointID,
			ConnectorID:   connectorID,
			Status:        "Unavailable",
			ErrorCode:     "NoError",
		}
		s.connectors[key] = c
	}
	return c
}

func (s *MemoryStore) CreateTransaction(_ context.Context, tx *models.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored := *tx
	s.transactions[tx.ID] = &stored
	return nil
}

func (s *MemoryStore) GetTransaction(_ context.Context, id int64) (*models.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	tx, ok := s.transactions[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyTransaction(tx), nil
}

func (s *MemoryStore) CloseTransaction(_ context.Context, id, meterStop int64, stopTime time.Time, reason string) (*models.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tx, ok := s.transactions[id]
	if !ok || tx.Status != models.TransactionActive {
		return nil, ErrNotFound
	}
	stop := meterStop
	at := stopTime
	tx.MeterStop = &stop
	tx.StopTime = &at
	if reason != "" {
		r := reason
		tx.StopReason = &r
	}
	tx.Status = models.TransactionCompleted
	return copyTransaction(tx), nil
}

func (s *MemoryStore) ListActiveTransactions(_ context.Context) ([]models.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.Transaction
	for _, tx := range s.transactions {
		if tx.Status == models.TransactionActive {
			out = append(out, *copyTransaction(tx))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryStore) MaxTransactionID(_ context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var maxID int64
	for id := range s.transactions {
		if id > maxID {
			maxID = id
		}
	}
	return maxID, nil
}

func (s *MemoryStore) AppendMeterSample(_ context.Context, sample *models.MeterSample) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored := *sample
	stored.Values = append([]models.SampledValue(nil), sample.Values...)
	s.samples = append(s.samples, stored)
	return nil
}

// MeterSamples returns a copy of everything appended so far.
func (s *MemoryStore) MeterSamples() []models.MeterSample {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]models.MeterSample(nil), s.samples...)
}

func (s *MemoryStore) IsAuthorized(_ context.Context, idTag string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.idTags[idTag], nil
}

func (s *MemoryStore) AppendLog(_ context.Context, entry models.LogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logs = append(s.logs, entry)
	return nil
}

// Logs returns a copy of the recorded frames.
func (s *MemoryStore) Logs() []models.LogEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]models.LogEntry(nil), s.logs...)
}

func copyConnector(c *models.Connector) *models.Connector {
	out := *c
	if c.TransactionID != nil {
		id := *c.TransactionID
		out.TransactionID = &id
	}
	return &out
}

func copyTransaction(tx *models.Transaction) *models.Transaction {
	out := *tx
	if tx.MeterStop != nil {
		v := *tx.MeterStop
		out.MeterStop = &v
	}
	if tx.StopTime != nil {
		v := *tx.StopTime
		out.StopTime = &v
	}
	if tx.StopReason != nil {
		v := *tx.StopReason
		out.StopReason = &v
	}
	return &out
}
