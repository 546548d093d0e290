package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/anshul1007/vermillion/internal/payload"
)

// ActionRow is one row of the queued_actions table.
// Type and Status are stored as plain strings; the queue package owns
// their enumerations.
type ActionRow struct {
	ID        int64
	Type      string
	Payload   payload.Object
	ClientID  string
	Status    string
	Attempts  int
	LastError string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// ActionFilter narrows ListActions. Zero values mean "no constraint".
type ActionFilter struct {
	Status  string
	AfterID int64
	Limit   int
}

// ActionPatch holds the fields UpdateAction may change. Nil fields are
// left untouched.
type ActionPatch struct {
	Status    *string
	Attempts  *int
	LastError *string
	Payload   payload.Object
}

// AddAction appends an action to the queue and returns its handle.
// CreatedAt/UpdatedAt are stamped from the store clock; an empty Status
// defaults to "pending".
func (s *Store) AddAction(ctx context.Context, row ActionRow) (int64, error) {
	payloadJSON, err := marshalPayload(row.Payload)
	if err != nil {
		return 0, fmt.Errorf("add action: %w", err)
	}

	status := row.Status
	if status == "" {
		status = "pending"
	}
	now := s.nowMillis()

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO queued_actions
		(action_type, payload, client_id, status, attempts, last_error, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`,
		row.Type,
		payloadJSON,
		nullString(row.ClientID),
		status,
		row.Attempts,
		row.LastError,
		now,
		now,
	)
	if err != nil {
		return 0, fmt.Errorf("add action: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("add action: last insert id: %w", err)
	}
	return id, nil
}

// GetAction returns the action with the given handle.
// Returns ErrNotFound if it does not exist.
func (s *Store) GetAction(ctx context.Context, id int64) (ActionRow, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, action_type, payload, client_id, status, attempts, last_error, created_at, updated_at
		FROM queued_actions
		WHERE id = ?
	`, id)

	a, err := scanAction(row)
	if errors.Is(err, sql.ErrNoRows) {
		return ActionRow{}, fmt.Errorf("get action %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return ActionRow{}, fmt.Errorf("get action %d: %w", id, err)
	}
	return a, nil
}

// ListActions returns actions in insertion order (ORDER BY id ASC).
// Returns an empty slice (not nil) when nothing matches.
func (s *Store) ListActions(ctx context.Context, f ActionFilter) ([]ActionRow, error) {
	var (
		where []string
		args  []any
	)
	if f.Status != "" {
		where = append(where, "status = ?")
		args = append(args, f.Status)
	}
	if f.AfterID > 0 {
		where = append(where, "id > ?")
		args = append(args, f.AfterID)
	}

	query := `
		SELECT id, action_type, payload, client_id, status, attempts, last_error, created_at, updated_at
		FROM queued_actions`
	if len(where) > 0 {
		query += "\n\t\tWHERE " + strings.Join(where, " AND ")
	}
	query += "\n\t\tORDER BY id ASC"
	if f.Limit > 0 {
		query += "\n\t\tLIMIT ?"
		args = append(args, f.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query actions: %w", err)
	}
	defer rows.Close()

	actions := []ActionRow{}
	for rows.Next() {
		a, err := scanAction(rows)
		if err != nil {
			return nil, err
		}
		actions = append(actions, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate actions: %w", err)
	}
	return actions, nil
}

// UpdateAction applies patch to the action and bumps updated_at.
// Returns ErrNotFound if the action does not exist.
func (s *Store) UpdateAction(ctx context.Context, id int64, patch ActionPatch) error {
	sets := []string{"updated_at = ?"}
	args := []any{s.nowMillis()}

	if patch.Status != nil {
		sets = append(sets, "status = ?")
		args = append(args, *patch.Status)
	}
	if patch.Attempts != nil {
		sets = append(sets, "attempts = ?")
		args = append(args, *patch.Attempts)
	}
	if patch.LastError != nil {
		sets = append(sets, "last_error = ?")
		args = append(args, *patch.LastError)
	}
	if patch.Payload != nil {
		payloadJSON, err := marshalPayload(patch.Payload)
		if err != nil {
			return fmt.Errorf("update action %d: %w", id, err)
		}
		sets = append(sets, "payload = ?")
		args = append(args, payloadJSON)
	}
	args = append(args, id)

	res, err := s.db.ExecContext(ctx,
		"UPDATE queued_actions SET "+strings.Join(sets, ", ")+" WHERE id = ?",
		args...,
	)
	if err != nil {
		return fmt.Errorf("update action %d: %w", id, err)
	}
	return requireAffected(res, fmt.Sprintf("update action %d", id))
}

// DeleteAction removes an acknowledged action.
// Returns ErrNotFound if the action does not exist.
func (s *Store) DeleteAction(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM queued_actions WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete action %d: %w", id, err)
	}
	return requireAffected(res, fmt.Sprintf("delete action %d", id))
}

// ResetActions moves every action in status from back to pending with
// attempts cleared. Returns the number of rows reset.
func (s *Store) ResetActions(ctx context.Context, from string) (int, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE queued_actions
		SET status = 'pending', attempts = 0, last_error = '', updated_at = ?
		WHERE status = ?
	`, s.nowMillis(), from)
	if err != nil {
		return 0, fmt.Errorf("reset actions: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("reset actions: rows affected: %w", err)
	}
	return int(n), nil
}

// CountActions returns the number of queued actions per status.
func (s *Store) CountActions(ctx context.Context) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT status, COUNT(*) FROM queued_actions GROUP BY status
	`)
	if err != nil {
		return nil, fmt.Errorf("count actions: %w", err)
	}
	defer rows.Close()

	counts := map[string]int{}
	for rows.Next() {
		var (
			status string
			n      int
		)
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("count actions: scan: %w", err)
		}
		counts[status] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("count actions: iterate: %w", err)
	}
	return counts, nil
}

// RewritePayloads offers every queued payload to fn inside a single
// transaction and persists only the rows fn reports as changed. fn
// receives a private copy of the row. Returns the number of rewritten
// rows.
//
// This is the primitive behind identifier remapping: a provisional id
// may be referenced by several queued actions and all of them must move
// to the server id together.
func (s *Store) RewritePayloads(ctx context.Context, fn func(ActionRow) (payload.Object, bool)) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("rewrite payloads: begin tx: %w", err)
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx, `
		SELECT id, action_type, payload, client_id, status, attempts, last_error, created_at, updated_at
		FROM queued_actions
		ORDER BY id ASC
	`)
	if err != nil {
		return 0, fmt.Errorf("rewrite payloads: query: %w", err)
	}

	type update struct {
		id   int64
		json string
	}
	var updates []update
	for rows.Next() {
		a, err := scanAction(rows)
		if err != nil {
			rows.Close()
			return 0, fmt.Errorf("rewrite payloads: %w", err)
		}
		next, changed := fn(a)
		if !changed {
			continue
		}
		data, err := marshalPayload(next)
		if err != nil {
			rows.Close()
			return 0, fmt.Errorf("rewrite payloads: action %d: %w", a.ID, err)
		}
		updates = append(updates, update{id: a.ID, json: data})
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return 0, fmt.Errorf("rewrite payloads: iterate: %w", err)
	}
	rows.Close()

	now := s.nowMillis()
	for _, u := range updates {
		if _, err := tx.ExecContext(ctx, `
			UPDATE queued_actions SET payload = ?, updated_at = ? WHERE id = ?
		`, u.json, now, u.id); err != nil {
			return 0, fmt.Errorf("rewrite payloads: update %d: %w", u.id, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("rewrite payloads: commit: %w", err)
	}
	return len(updates), nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAction(r rowScanner) (ActionRow, error) {
	var (
		a           ActionRow
		payloadJSON string
		clientID    sql.NullString
		created     int64
		updated     int64
	)
	if err := r.Scan(
		&a.ID,
		&a.Type,
		&payloadJSON,
		&clientID,
		&a.Status,
		&a.Attempts,
		&a.LastError,
		&created,
		&updated,
	); err != nil {
		return ActionRow{}, err
	}

	obj, err := unmarshalPayload(payloadJSON)
	if err != nil {
		return ActionRow{}, fmt.Errorf("action %d: %w", a.ID, err)
	}
	a.Payload = obj
	a.ClientID = clientID.String
	a.CreatedAt = fromMillis(created)
	a.UpdatedAt = fromMillis(updated)
	return a, nil
}

func requireAffected(res sql.Result, op string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: rows affected: %w", op, err)
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", op, ErrNotFound)
	}
	return nil
}
