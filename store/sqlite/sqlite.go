/*
Package sqlite provides a SQLite-backed implementation of the attendance
storage interfaces.

PURPOSE:
  Implements RecordStore and EntityStore using SQLite. Monthly records
  are stored as JSON documents in a row keyed by the unique
  (tenant, target_model, target_id, year, month) tuple; the same pattern
  applies to PostgreSQL with only dialect differences.

ATOMICITY:
  Update runs read-mutate-write inside one IMMEDIATE transaction and
  additionally guards the write with a version check, so a lost race
  surfaces as ErrConcurrentModification instead of a silent overwrite.
  This is the atomicity contract the engine documents in
  attendance/store.go.

KEY TABLES:
  monthly_records:  One JSON document per (tenant, target, year, month)
  target_entities:  Attendance projection columns of the host entity

INDEXES:
  - Primary keys enforce the uniqueness tuples
  - idx_entities_active_expected serves the occupancy query and the
    auto-checkout sweep (isActive + expectedCheckOutAt < T)

WAL MODE:
  The database is opened with WAL so readers do not block the writer.

SEE ALSO:
  - attendance/store.go: Interface definitions
  - attendance/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/warp/attendance-engine/attendance"
)

// Store implements attendance.RecordStore and attendance.EntityStore.
type Store struct {
	db *sql.DB
}

// New creates a SQLite store at the given path. Use ":memory:" for an
// in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS monthly_records (
		tenant_id    TEXT NOT NULL,
		target_model TEXT NOT NULL,
		target_id    TEXT NOT NULL,
		year         INTEGER NOT NULL,
		month        INTEGER NOT NULL,
		doc          TEXT NOT NULL,
		version      INTEGER NOT NULL DEFAULT 0,
		updated_at   TEXT NOT NULL,
		PRIMARY KEY (tenant_id, target_model, target_id, year, month)
	);

	CREATE INDEX IF NOT EXISTS idx_records_tenant_month
		ON monthly_records(tenant_id, year, month);

	CREATE TABLE IF NOT EXISTS target_entities (
		tenant_id            TEXT NOT NULL,
		target_model         TEXT NOT NULL,
		target_id            TEXT NOT NULL,
		attendance_enabled   INTEGER NOT NULL DEFAULT 1,
		stats_json           TEXT NOT NULL,
		session_json         TEXT NOT NULL,
		session_active       INTEGER NOT NULL DEFAULT 0,
		session_expected_out TEXT,
		updated_at           TEXT NOT NULL,
		PRIMARY KEY (tenant_id, target_model, target_id)
	);

	-- Serves occupancy reads and the auto-checkout sweep.
	CREATE INDEX IF NOT EXISTS idx_entities_active_expected
		ON target_entities(tenant_id, session_active, session_expected_out);
	`
	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// RECORD STORE
// =============================================================================

func (s *Store) FindOrCreate(ctx context.Context, ref attendance.RecordRef) (*attendance.MonthlyRecord, error) {
	record, err := s.Get(ctx, ref)
	if err == nil {
		return record, nil
	}
	if !errors.Is(err, attendance.ErrRecordNotFound) {
		return nil, err
	}

	fresh := attendance.NewMonthlyRecord(ref, time.Now().UTC())
	doc, err := json.Marshal(fresh)
	if err != nil {
		return nil, fmt.Errorf("encode record: %w", err)
	}

	// INSERT OR IGNORE keeps creation atomic under concurrent callers:
	// whoever loses the race reads the winner's row.
	_, err = s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO monthly_records
			(tenant_id, target_model, target_id, year, month, doc, version, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, 0, ?)`,
		ref.TenantID, ref.TargetModel, ref.TargetID, ref.Year, int(ref.Month),
		string(doc), fresh.UpdatedAt.Format(time.RFC3339Nano))
	if err != nil {
		return nil, err
	}
	return s.Get(ctx, ref)
}

func (s *Store) Get(ctx context.Context, ref attendance.RecordRef) (*attendance.MonthlyRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT doc, version FROM monthly_records
		WHERE tenant_id = ? AND target_model = ? AND target_id = ? AND year = ? AND month = ?`,
		ref.TenantID, ref.TargetModel, ref.TargetID, ref.Year, int(ref.Month))

	var doc string
	var version int64
	if err := row.Scan(&doc, &version); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, attendance.ErrRecordNotFound
		}
		return nil, err
	}
	return decodeRecord(doc, version)
}

func (s *Store) Update(ctx context.Context, ref attendance.RecordRef, mutate func(*attendance.MonthlyRecord) error) (*attendance.MonthlyRecord, error) {
	if _, err := s.FindOrCreate(ctx, ref); err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx, `
		SELECT doc, version FROM monthly_records
		WHERE tenant_id = ? AND target_model = ? AND target_id = ? AND year = ? AND month = ?`,
		ref.TenantID, ref.TargetModel, ref.TargetID, ref.Year, int(ref.Month))

	var doc string
	var version int64
	if err := row.Scan(&doc, &version); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, attendance.ErrRecordNotFound
		}
		return nil, err
	}

	record, err := decodeRecord(doc, version)
	if err != nil {
		return nil, err
	}
	if err := mutate(record); err != nil {
		return nil, err
	}
	record.Version = version + 1

	encoded, err := json.Marshal(record)
	if err != nil {
		return nil, fmt.Errorf("encode record: %w", err)
	}

	result, err := tx.ExecContext(ctx, `
		UPDATE monthly_records SET doc = ?, version = ?, updated_at = ?
		WHERE tenant_id = ? AND target_model = ? AND target_id = ? AND year = ? AND month = ?
		  AND version = ?`,
		string(encoded), record.Version, record.UpdatedAt.Format(time.RFC3339Nano),
		ref.TenantID, ref.TargetModel, ref.TargetID, ref.Year, int(ref.Month),
		version)
	if err != nil {
		return nil, err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		return nil, attendance.ErrConcurrentModification
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return record, nil
}

func (s *Store) ListForTarget(ctx context.Context, target attendance.TargetKey) ([]*attendance.MonthlyRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT doc, version FROM monthly_records
		WHERE tenant_id = ? AND target_model = ? AND target_id = ?
		ORDER BY year, month`,
		target.TenantID, target.TargetModel, target.TargetID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanRecords(rows)
}

func (s *Store) ListForMonth(ctx context.Context, tenantID, targetModel string, year int, month time.Month) ([]*attendance.MonthlyRecord, error) {
	query := `
		SELECT doc, version FROM monthly_records
		WHERE tenant_id = ? AND year = ? AND month = ?`
	args := []any{tenantID, year, int(month)}
	if targetModel != "" {
		query += ` AND target_model = ?`
		args = append(args, targetModel)
	}
	query += ` ORDER BY target_id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanRecords(rows)
}

func scanRecords(rows *sql.Rows) ([]*attendance.MonthlyRecord, error) {
	var result []*attendance.MonthlyRecord
	for rows.Next() {
		var doc string
		var version int64
		if err := rows.Scan(&doc, &version); err != nil {
			return nil, err
		}
		record, err := decodeRecord(doc, version)
		if err != nil {
			return nil, err
		}
		result = append(result, record)
	}
	return result, rows.Err()
}

func decodeRecord(doc string, version int64) (*attendance.MonthlyRecord, error) {
	var record attendance.MonthlyRecord
	if err := json.Unmarshal([]byte(doc), &record); err != nil {
		return nil, fmt.Errorf("decode record: %w", err)
	}
	record.Version = version
	return &record, nil
}

// =============================================================================
// ENTITY STORE
// =============================================================================

// UpsertEntity creates or replaces a target entity row. Entities are
// externally owned; this is the provisioning hook the host calls.
func (s *Store) UpsertEntity(ctx context.Context, entity attendance.TargetEntity) error {
	stats, err := json.Marshal(entity.Stats)
	if err != nil {
		return err
	}
	session, err := json.Marshal(entity.Session)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO target_entities
			(tenant_id, target_model, target_id, attendance_enabled, stats_json,
			 session_json, session_active, session_expected_out, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(tenant_id, target_model, target_id) DO UPDATE SET
			attendance_enabled = excluded.attendance_enabled,
			stats_json = excluded.stats_json,
			session_json = excluded.session_json,
			session_active = excluded.session_active,
			session_expected_out = excluded.session_expected_out,
			updated_at = excluded.updated_at`,
		entity.Key.TenantID, entity.Key.TargetModel, entity.Key.TargetID,
		boolToInt(entity.AttendanceEnabled), string(stats),
		string(session), boolToInt(entity.Session.IsActive),
		expectedOut(entity.Session), time.Now().UTC().Format(time.RFC3339Nano))
	return err
}

func (s *Store) GetEntity(ctx context.Context, key attendance.TargetKey) (*attendance.TargetEntity, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT attendance_enabled, stats_json, session_json FROM target_entities
		WHERE tenant_id = ? AND target_model = ? AND target_id = ?`,
		key.TenantID, key.TargetModel, key.TargetID)

	var enabled int
	var statsJSON, sessionJSON string
	if err := row.Scan(&enabled, &statsJSON, &sessionJSON); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, attendance.ErrMemberNotFound
		}
		return nil, err
	}

	entity := &attendance.TargetEntity{Key: key, AttendanceEnabled: enabled != 0}
	if err := json.Unmarshal([]byte(statsJSON), &entity.Stats); err != nil {
		return nil, fmt.Errorf("decode stats: %w", err)
	}
	if err := json.Unmarshal([]byte(sessionJSON), &entity.Session); err != nil {
		return nil, fmt.Errorf("decode session: %w", err)
	}
	return entity, nil
}

func (s *Store) SaveProjection(ctx context.Context, entity *attendance.TargetEntity) error {
	stats, err := json.Marshal(entity.Stats)
	if err != nil {
		return err
	}
	session, err := json.Marshal(entity.Session)
	if err != nil {
		return err
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE target_entities SET
			stats_json = ?, session_json = ?, session_active = ?,
			session_expected_out = ?, updated_at = ?
		WHERE tenant_id = ? AND target_model = ? AND target_id = ?`,
		string(stats), string(session), boolToInt(entity.Session.IsActive),
		expectedOut(entity.Session), time.Now().UTC().Format(time.RFC3339Nano),
		entity.Key.TenantID, entity.Key.TargetModel, entity.Key.TargetID)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return attendance.ErrMemberNotFound
	}
	return nil
}

func (s *Store) ListActiveSessions(ctx context.Context, filter attendance.ActiveSessionFilter) ([]*attendance.TargetEntity, error) {
	query := `
		SELECT tenant_id, target_model, target_id, attendance_enabled, stats_json, session_json
		FROM target_entities
		WHERE tenant_id = ? AND session_active = 1`
	args := []any{filter.TenantID}
	if filter.TargetModel != "" {
		query += ` AND target_model = ?`
		args = append(args, filter.TargetModel)
	}
	if filter.ExpiredBefore != nil {
		query += ` AND session_expected_out IS NOT NULL AND session_expected_out < ?`
		args = append(args, filter.ExpiredBefore.UTC().Format(time.RFC3339Nano))
	}
	query += ` ORDER BY target_id`
	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []*attendance.TargetEntity
	for rows.Next() {
		var key attendance.TargetKey
		var enabled int
		var statsJSON, sessionJSON string
		if err := rows.Scan(&key.TenantID, &key.TargetModel, &key.TargetID, &enabled, &statsJSON, &sessionJSON); err != nil {
			return nil, err
		}
		entity := &attendance.TargetEntity{Key: key, AttendanceEnabled: enabled != 0}
		if err := json.Unmarshal([]byte(statsJSON), &entity.Stats); err != nil {
			return nil, fmt.Errorf("decode stats: %w", err)
		}
		if err := json.Unmarshal([]byte(sessionJSON), &entity.Session); err != nil {
			return nil, fmt.Errorf("decode session: %w", err)
		}
		result = append(result, entity)
	}
	return result, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func expectedOut(session attendance.CurrentSession) any {
	if session.ExpectedCheckOutAt == nil {
		return nil
	}
	return session.ExpectedCheckOutAt.UTC().Format(time.RFC3339Nano)
}
