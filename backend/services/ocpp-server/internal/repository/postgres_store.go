package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"evcharge/backend/services/ocpp-server/internal/models"
)

// PostgresSchema creates the tables PostgresStore needs.
const PostgresSchema = `
CREATE TABLE IF NOT EXISTS charge_points (
	id               TEXT PRIMARY KEY,
	vendor           TEXT NOT NULL DEFAULT '',
	model            TEXT NOT NULL DEFAULT '',
	serial_number    TEXT NOT NULL DEFAULT '',
	firmware_version TEXT NOT NULL DEFAULT '',
	connector_count  INT NOT NULL DEFAULT 0,
	status           TEXT NOT NULL DEFAULT 'Offline',
	auth_key_hash    TEXT NOT NULL DEFAULT '',
	active           BOOLEAN NOT NULL DEFAULT TRUE,
	last_heartbeat   TIMESTAMPTZ,
	last_boot        TIMESTAMPTZ,
	created_at       TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at       TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE TABLE IF NOT EXISTS connectors (
	charge_point_id TEXT NOT NULL REFERENCES charge_points(id),
	connector_id    INT NOT NULL,
	status          TEXT NOT NULL DEFAULT 'Unavailable',
	error_code      TEXT NOT NULL DEFAULT 'NoError',
	transaction_id  BIGINT,
	updated_at      TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	PRIMARY KEY (charge_point_id, connector_id)
);
CREATE TABLE IF NOT EXISTS transactions (
	id              BIGINT PRIMARY KEY,
	charge_point_id TEXT NOT NULL,
	connector_id    INT NOT NULL,
	id_tag          TEXT NOT NULL,
	meter_start     BIGINT NOT NULL,
	start_time      TIMESTAMPTZ NOT NULL,
	meter_stop      BIGINT,
	stop_time       TIMESTAMPTZ,
	stop_reason     TEXT,
	status          TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS transactions_active_idx ON transactions (status) WHERE status = 'active';
CREATE TABLE IF NOT EXISTS meter_samples (
	id              BIGSERIAL PRIMARY KEY,
	charge_point_id TEXT NOT NULL,
	connector_id    INT NOT NULL,
	transaction_id  BIGINT,
	sampled_at      TIMESTAMPTZ NOT NULL,
	sampled_values  JSONB NOT NULL
);
CREATE TABLE IF NOT EXISTS id_tags (
	id_tag     TEXT PRIMARY KEY,
	status     TEXT NOT NULL DEFAULT 'Accepted',
	expires_at TIMESTAMPTZ
);
CREATE TABLE IF NOT EXISTS ocpp_messages (
	id              BIGSERIAL PRIMARY KEY,
	charge_point_id TEXT NOT NULL,
	direction       TEXT NOT NULL,
	message_type    INT NOT NULL,
	message_id      TEXT NOT NULL,
	action          TEXT NOT NULL,
	payload         JSONB,
	created_at      TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
`

// PostgresStore implements Store on PostgreSQL.
type PostgresStore struct {
	db *pgxpool.Pool
}

// NewPostgresStore returns store.
func NewPostgresStore(db *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{db: db}
}

// EnsureSchema creates missing tables.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, PostgresSchema); err != nil {
		return fmt.Errorf("repository: ensure schema: %w", err)
	}
	return nil
}

func (s *PostgresStore) IsKnownChargePoint(ctx context.Context, id string) (bool, error) {
	var known bool
	err := s.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM charge_points WHERE id = $1 AND active)`, id).Scan(&known)
	return known, err
}

func (s *PostgresStore) GetChargePoint(ctx context.Context, id string) (*models.ChargePoint, error) {
	const query = `
		SELECT id, vendor, model, serial_number, firmware_version, connector_count, status, auth_key_hash,
		       active, COALESCE(last_heartbeat, 'epoch'), COALESCE(last_boot, 'epoch'), created_at, updated_at
		FROM charge_points
		WHERE id = $1
	`
	var cp models.ChargePoint
	err := s.db.QueryRow(ctx, query, id).Scan(
		&cp.ID, &cp.Vendor, &cp.Model, &cp.SerialNumber, &cp.FirmwareVersion, &cp.ConnectorCount, &cp.Status,
		&cp.AuthKeyHash, &cp.Active, &cp.LastHeartbeat, &cp.LastBoot, &cp.CreatedAt, &cp.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &cp, nil
}

// UpsertChargePoint stores or updates charge point identity. The auth key hash is never overwritten.
func (s *PostgresStore) UpsertChargePoint(ctx context.Context, cp *models.ChargePoint) error {
	const query = `
		INSERT INTO charge_points (id, vendor, model, serial_number, firmware_version, connector_count, status, last_heartbeat, last_boot, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NOW(), NOW())
		ON CONFLICT (id) DO UPDATE SET
			vendor = EXCLUDED.vendor,
			model = EXCLUDED.model,
			serial_number = EXCLUDED.serial_number,
			firmware_version = EXCLUDED.firmware_version,
			connector_count = GREATEST(charge_points.connector_count, EXCLUDED.connector_count),
			status = EXCLUDED.status,
			last_heartbeat = EXCLUDED.last_heartbeat,
			last_boot = EXCLUDED.last_boot,
			updated_at = NOW()
	`
	if cp.LastHeartbeat.IsZero() {
		cp.LastHeartbeat = time.Now().UTC()
	}
	_, err := s.db.Exec(ctx, query,
		cp.ID,
		cp.Vendor,
		cp.Model,
		cp.SerialNumber,
		cp.FirmwareVersion,
		cp.ConnectorCount,
		cp.Status,
		cp.LastHeartbeat,
		cp.LastBoot,
	)
	return err
}

func (s *PostgresStore) UpdateChargePointStatus(ctx context.Context, id, status string, at time.Time) error {
	tag, err := s.db.Exec(ctx, `UPDATE charge_points SET status = $2, updated_at = $3 WHERE id = $1`, id, status, at)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) UpdateHeartbeat(ctx context.Context, id string, at time.Time) error {
	tag, err := s.db.Exec(ctx, `UPDATE charge_points SET last_heartbeat = $2, updated_at = $2 WHERE id = $1`, id, at)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) GetConnector(ctx context.Context, chargePointID string, connectorID int) (*models.Connector, error) {
	const query = `
		SELECT charge_point_id, connector_id, status, error_code, transaction_id, updated_at
		FROM connectors
		WHERE charge_point_id = $1 AND connector_id = $2
	`
	var c models.Connector
	err := s.db.QueryRow(ctx, query, chargePointID, connectorID).Scan(
		&c.ChargePointID, &c.ConnectorID, &c.Status, &c.ErrorCode, &c.TransactionID, &c.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &c, nil
}

func (s *PostgresStore) ListConnectors(ctx context.Context, chargePointID string) ([]models.Connector, error) {
	rows, err := s.db.Query(ctx, `
		SELECT charge_point_id, connector_id, status, error_code, transaction_id, updated_at
		FROM connectors
		WHERE charge_point_id = $1
		ORDER BY connector_id
	`, chargePointID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Connector
	for rows.Next() {
		var c models.Connector
		if err := rows.Scan(&c.ChargePointID, &c.ConnectorID, &c.Status, &c.ErrorCode, &c.TransactionID, &c.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *PostgresStore) SetConnectorStatus(ctx context.Context, chargePointID string, connectorID int, status, errorCode string, at time.Time) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO connectors (charge_point_id, connector_id, status, error_code, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (charge_point_id, connector_id) DO UPDATE SET
			status = EXCLUDED.status,
			error_code = EXCLUDED.error_code,
			updated_at = EXCLUDED.updated_at
	`, chargePointID, connectorID, status, errorCode, at)
	return err
}

func (s *PostgresStore) SetConnectorTransaction(ctx context.Context, chargePointID string, connectorID int, transactionID *int64) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO connectors (charge_point_id, connector_id, transaction_id, updated_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (charge_point_id, connector_id) DO UPDATE SET
			transaction_id = EXCLUDED.transaction_id,
			updated_at = NOW()
	`, chargePointID, connectorID, transactionID)
	return err
}

func (s *PostgresStore) CreateTransaction(ctx context.Context, tx *models.Transaction) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO transactions (id, charge_point_id, connector_id, id_tag, meter_start, start_time, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, tx.ID, tx.ChargePointID, tx.ConnectorID, tx.IDTag, tx.MeterStart, tx.StartTime, tx.Status)
	return err
}

const transactionColumns = `id, charge_point_id, connector_id, id_tag, meter_start, start_time, meter_stop, stop_time, stop_reason, status`

func scanTransaction(row pgx.Row) (*models.Transaction, error) {
	var tx models.Transaction
	err := row.Scan(&tx.ID, &tx.ChargePointID, &tx.ConnectorID, &tx.IDTag, &tx.MeterStart, &tx.StartTime,
		&tx.MeterStop, &tx.StopTime, &tx.StopReason, &tx.Status)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &tx, nil
}

func (s *PostgresStore) GetTransaction(ctx context.Context, id int64) (*models.Transaction, error) {
	return scanTransaction(s.db.QueryRow(ctx, `SELECT `+transactionColumns+` FROM transactions WHERE id = $1`, id))
}

// CloseTransaction only touches rows still active, so concurrent stops cannot both succeed.
func (s *PostgresStore) CloseTransaction(ctx context.Context, id, meterStop int64, stopTime time.Time, reason string) (*models.Transaction, error) {
	var stopReason *string
	if reason != "" {
		stopReason = &reason
	}
	return scanTransaction(s.db.QueryRow(ctx, `
		UPDATE transactions
		SET meter_stop = $2, stop_time = $3, stop_reason = $4, status = $5
		WHERE id = $1 AND status = $6
		RETURNING `+transactionColumns,
		id, meterStop, stopTime, stopReason, models.TransactionCompleted, models.TransactionActive,
	))
}

func (s *PostgresStore) ListActiveTransactions(ctx context.Context) ([]models.Transaction, error) {
	rows, err := s.db.Query(ctx, `SELECT `+transactionColumns+` FROM transactions WHERE status = $1 ORDER BY id`, models.TransactionActive)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Transaction
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *tx)
	}
	return out, rows.Err()
}

func (s *PostgresStore) MaxTransactionID(ctx context.Context) (int64, error) {
	var id int64
	err := s.db.QueryRow(ctx, `SELECT COALESCE(MAX(id), 0) FROM transactions`).Scan(&id)
	return id, err
}

func (s *PostgresStore) AppendMeterSample(ctx context.Context, sample *models.MeterSample) error {
	values, err := json.Marshal(sample.Values)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(ctx, `
		INSERT INTO meter_samples (charge_point_id, connector_id, transaction_id, sampled_at, sampled_values)
		VALUES ($1, $2, $3, $4, $5)
	`, sample.ChargePointID, sample.ConnectorID, sample.TransactionID, sample.Timestamp, values)
	return err
}

func (s *PostgresStore) IsAuthorized(ctx context.Context, idTag string) (bool, error) {
	var ok bool
	err := s.db.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM id_tags
			WHERE id_tag = $1 AND status = 'Accepted' AND (expires_at IS NULL OR expires_at > NOW())
		)
	`, idTag).Scan(&ok)
	return ok, err
}

// AppendLog stores raw OCPP messages.
func (s *PostgresStore) AppendLog(ctx context.Context, entry models.LogEntry) error {
	const query = `
		INSERT INTO ocpp_messages (charge_point_id, direction, message_type, message_id, action, payload, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	var payload []byte
	if json.Valid(entry.Payload) {
		payload = entry.Payload
	} else {
		quoted, err := json.Marshal(string(entry.Payload))
		if err != nil {
			return err
		}
		payload = quoted
	}
	_, err := s.db.Exec(ctx, query, entry.ChargePointID, entry.Direction, entry.MessageType, entry.MessageID, entry.Action, payload, entry.Timestamp)
	return err
}
