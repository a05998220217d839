package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const (
	defaultLimit = 50
	maxLimit     = 500
)

// SQLiteRepository implements Repository on the tables created by the
// history migration. Timestamps are stored as Unix milliseconds.
type SQLiteRepository struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLiteRepository creates a repository on an open, migrated database.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db, now: time.Now}
}

// RecordReadings inserts one row per attribute in a single transaction.
func (r *SQLiteRepository) RecordReadings(ctx context.Context, deviceID string, attrs map[string]any) error {
	if deviceID == "" {
		return ErrDeviceRequired
	}
	if len(attrs) == 0 {
		return nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting readings transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	stmt, err := tx.PrepareContext(ctx,
		"INSERT INTO apparatus_readings (device_id, attribute, value, recorded_at) VALUES (?, ?, ?, ?)")
	if err != nil {
		return fmt.Errorf("preparing reading insert: %w", err)
	}
	defer stmt.Close()

	at := r.now().UTC().UnixMilli()
	for name, value := range attrs {
		encoded, err := json.Marshal(value)
		if err != nil {
			return fmt.Errorf("marshalling %s.%s: %w", deviceID, name, err)
		}
		if _, err := stmt.ExecContext(ctx, deviceID, name, string(encoded), at); err != nil {
			return fmt.Errorf("inserting reading: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing readings: %w", err)
	}
	return nil
}

// GetReadings returns up to limit readings for a device, newest first.
// limit defaults to 50 and is capped at 500.
func (r *SQLiteRepository) GetReadings(ctx context.Context, deviceID string, limit int) ([]Reading, error) {
	if deviceID == "" {
		return nil, ErrDeviceRequired
	}
	limit = clampLimit(limit)

	rows, err := r.db.QueryContext(ctx,
		`SELECT id, device_id, attribute, value, recorded_at
		 FROM apparatus_readings
		 WHERE device_id = ?
		 ORDER BY recorded_at DESC, id DESC
		 LIMIT ?`,
		deviceID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("querying readings: %w", err)
	}
	defer rows.Close()

	readings := make([]Reading, 0, limit)
	for rows.Next() {
		var rd Reading
		var value string
		var at int64
		if err := rows.Scan(&rd.ID, &rd.DeviceID, &rd.Attribute, &value, &at); err != nil {
			return nil, fmt.Errorf("scanning reading: %w", err)
		}
		if err := json.Unmarshal([]byte(value), &rd.Value); err != nil {
			return nil, fmt.Errorf("unmarshalling reading %d: %w", rd.ID, err)
		}
		rd.RecordedAt = time.UnixMilli(at).UTC()
		readings = append(readings, rd)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating readings: %w", err)
	}
	return readings, nil
}

// RecordCommand inserts a command record.
func (r *SQLiteRepository) RecordCommand(ctx context.Context, rec *CommandRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = r.now().UTC()
	}

	fields := "{}"
	if rec.Fields != nil {
		b, err := json.Marshal(rec.Fields)
		if err != nil {
			return fmt.Errorf("marshalling command fields: %w", err)
		}
		fields = string(b)
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO command_log
		 (id, descriptor_id, channel, command, fields, outcome, transaction_id, error, source, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.DescriptorID, rec.Channel, rec.Command, fields,
		rec.Outcome, int64(rec.TransactionID), rec.Error, rec.Source,
		rec.CreatedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("inserting command: %w", err)
	}
	return nil
}

// ListCommands returns up to limit commands, newest first.
func (r *SQLiteRepository) ListCommands(ctx context.Context, limit int) ([]CommandRecord, error) {
	limit = clampLimit(limit)

	rows, err := r.db.QueryContext(ctx,
		`SELECT id, descriptor_id, channel, command, fields, outcome, transaction_id, error, source, created_at
		 FROM command_log
		 ORDER BY created_at DESC
		 LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("querying commands: %w", err)
	}
	defer rows.Close()

	records := make([]CommandRecord, 0, limit)
	for rows.Next() {
		var rec CommandRecord
		var fields string
		var txID, at int64
		if err := rows.Scan(&rec.ID, &rec.DescriptorID, &rec.Channel, &rec.Command, &fields,
			&rec.Outcome, &txID, &rec.Error, &rec.Source, &at); err != nil {
			return nil, fmt.Errorf("scanning command: %w", err)
		}
		if err := json.Unmarshal([]byte(fields), &rec.Fields); err != nil {
			return nil, fmt.Errorf("unmarshalling command %s: %w", rec.ID, err)
		}
		rec.TransactionID = uint32(txID) //nolint:gosec // stored from a uint32
		rec.CreatedAt = time.UnixMilli(at).UTC()
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating commands: %w", err)
	}
	return records, nil
}

// Prune deletes readings and commands older than olderThan.
func (r *SQLiteRepository) Prune(ctx context.Context, olderThan time.Duration) (int64, error) {
	if olderThan <= 0 {
		return 0, fmt.Errorf("history: olderThan must be positive")
	}
	cutoff := r.now().UTC().Add(-olderThan).UnixMilli()

	var total int64
	for _, query := range []string{
		"DELETE FROM apparatus_readings WHERE recorded_at < ?",
		"DELETE FROM command_log WHERE created_at < ?",
	} {
		result, err := r.db.ExecContext(ctx, query, cutoff)
		if err != nil {
			return total, fmt.Errorf("pruning history: %w", err)
		}
		n, err := result.RowsAffected()
		if err != nil {
			return total, fmt.Errorf("checking rows affected: %w", err)
		}
		total += n
	}
	return total, nil
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return defaultLimit
	}
	if limit > maxLimit {
		return maxLimit
	}
	return limit
}
