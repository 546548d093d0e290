package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// CachedRecord is a server-authoritative entry/exit record kept for
// offline reads. ID is the server record id.
type CachedRecord struct {
	ID         int64
	PersonType string
	PersonRef  int64
	Action     string
	Timestamp  time.Time
	ClientID   string
	RecordedBy string
	PhotoPath  string
}

// UpsertRecords inserts or refreshes cached records keyed by server id
// in one transaction. Returns the number of records written.
func (s *Store) UpsertRecords(ctx context.Context, records []CachedRecord) (int, error) {
	if len(records) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("upsert records: begin tx: %w", err)
	}
	defer tx.Rollback()

	now := s.nowMillis()
	for _, r := range records {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO cached_records
			(id, person_type, person_ref, action, timestamp, client_id, recorded_by, photo_path, cached_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				person_type = excluded.person_type,
				person_ref  = excluded.person_ref,
				action      = excluded.action,
				timestamp   = excluded.timestamp,
				client_id   = excluded.client_id,
				recorded_by = excluded.recorded_by,
				photo_path  = excluded.photo_path,
				cached_at   = excluded.cached_at
		`,
			r.ID,
			r.PersonType,
			r.PersonRef,
			r.Action,
			toMillis(r.Timestamp),
			r.ClientID,
			r.RecordedBy,
			r.PhotoPath,
			now,
		)
		if err != nil {
			return 0, fmt.Errorf("upsert record %d: %w", r.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("upsert records: commit: %w", err)
	}
	return len(records), nil
}

// ListCachedRecords returns cached records newest first. limit <= 0
// returns everything.
func (s *Store) ListCachedRecords(ctx context.Context, limit int) ([]CachedRecord, error) {
	query := `
		SELECT id, person_type, person_ref, action, timestamp, client_id, recorded_by, photo_path
		FROM cached_records
		ORDER BY timestamp DESC, id DESC`
	var args []any
	if limit > 0 {
		query += "\n\t\tLIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query cached records: %w", err)
	}
	defer rows.Close()

	records := []CachedRecord{}
	for rows.Next() {
		var (
			r  CachedRecord
			ts int64
		)
		if err := rows.Scan(&r.ID, &r.PersonType, &r.PersonRef, &r.Action, &ts, &r.ClientID, &r.RecordedBy, &r.PhotoPath); err != nil {
			return nil, fmt.Errorf("scan cached record: %w", err)
		}
		r.Timestamp = fromMillis(ts)
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate cached records: %w", err)
	}
	return records, nil
}

// GetSetting returns the persisted value for key and whether it exists.
func (s *Store) GetSetting(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM settings WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get setting %q: %w", key, err)
	}
	return value, true, nil
}

// SetSetting persists value under key, replacing any previous value.
func (s *Store) SetSetting(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO settings (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, key, value)
	if err != nil {
		return fmt.Errorf("set setting %q: %w", key, err)
	}
	return nil
}
