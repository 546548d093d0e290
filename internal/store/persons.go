package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Local person statuses.
const (
	PersonPending = "pending"
	PersonSynced  = "synced"
)

// LocalPerson maps a provisional client identity to the server identity
// assigned once its RegisterPerson action is acknowledged.
type LocalPerson struct {
	ClientID   string
	ServerID   *int64
	PersonType string
	Name       string
	Phone      string
	Status     string
	CreatedAt  time.Time
}

// AddPerson records a person registered offline.
// Uses ON CONFLICT(client_id) DO NOTHING so re-adding the same client id
// is a no-op. Returns whether a new row was inserted.
func (s *Store) AddPerson(ctx context.Context, p LocalPerson) (bool, error) {
	status := p.Status
	if status == "" {
		status = PersonPending
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO local_persons
		(client_id, server_id, person_type, name, phone, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(client_id) DO NOTHING
	`,
		p.ClientID,
		nullInt64(p.ServerID),
		p.PersonType,
		p.Name,
		p.Phone,
		status,
		s.nowMillis(),
	)
	if err != nil {
		return false, fmt.Errorf("add person: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("add person: rows affected: %w", err)
	}
	return n > 0, nil
}

// GetPerson returns the local person with the given client id.
// Returns ErrNotFound if none exists.
func (s *Store) GetPerson(ctx context.Context, clientID string) (LocalPerson, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT client_id, server_id, person_type, name, phone, status, created_at
		FROM local_persons
		WHERE client_id = ?
	`, clientID)

	p, err := scanPerson(row)
	if errors.Is(err, sql.ErrNoRows) {
		return LocalPerson{}, fmt.Errorf("get person %q: %w", clientID, ErrNotFound)
	}
	if err != nil {
		return LocalPerson{}, fmt.Errorf("get person %q: %w", clientID, err)
	}
	return p, nil
}

// ListPersons returns every local person in registration order.
func (s *Store) ListPersons(ctx context.Context) ([]LocalPerson, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT client_id, server_id, person_type, name, phone, status, created_at
		FROM local_persons
		ORDER BY created_at ASC, client_id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query persons: %w", err)
	}
	defer rows.Close()

	persons := []LocalPerson{}
	for rows.Next() {
		p, err := scanPerson(rows)
		if err != nil {
			return nil, fmt.Errorf("scan person: %w", err)
		}
		persons = append(persons, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate persons: %w", err)
	}
	return persons, nil
}

// SetPersonServerID records the server-assigned id and marks the person
// synced. Returns ErrNotFound if no local person has clientID.
func (s *Store) SetPersonServerID(ctx context.Context, clientID string, serverID int64) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE local_persons SET server_id = ?, status = ? WHERE client_id = ?
	`, serverID, PersonSynced, clientID)
	if err != nil {
		return fmt.Errorf("set person server id: %w", err)
	}
	return requireAffected(res, fmt.Sprintf("set person %q server id", clientID))
}

func scanPerson(r rowScanner) (LocalPerson, error) {
	var (
		p        LocalPerson
		serverID sql.NullInt64
		created  int64
	)
	if err := r.Scan(&p.ClientID, &serverID, &p.PersonType, &p.Name, &p.Phone, &p.Status, &created); err != nil {
		return LocalPerson{}, err
	}
	p.ServerID = int64Ptr(serverID)
	p.CreatedAt = fromMillis(created)
	return p, nil
}
