package ingest

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/anshul1007/vermillion/internal/blob"
	"github.com/anshul1007/vermillion/internal/payload"
)

//go:embed schema.sql
var schemaSQL string

// PhotoURLPrefix is the public path under which stored photos are served.
const PhotoURLPrefix = "/photos/"

// Service is the authoritative ingestion endpoint logic.
//
// Concurrency: the database has a single connection and every create
// runs in an IMMEDIATE transaction, so the clientId check, the presence
// check and the insert are serialized. UNIQUE(client_id) remains the
// final guard.
type Service struct {
	db     *sql.DB
	photos *blob.Store
	now    func() time.Time
	logger *slog.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithClock overrides the server clock used for default timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) {
		s.logger = l
	}
}

// Open opens (or creates) the server database at path. Photos are kept
// in the given blob store.
func Open(path string, photos *blob.Store, opts ...Option) (*Service, error) {
	db, err := sql.Open("sqlite3", "file:"+path+"?_txlock=immediate")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = FULL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	s := &Service{
		db:     db,
		photos: photos,
		now:    time.Now,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Close closes the database.
func (s *Service) Close() error {
	return s.db.Close()
}

// CreateRecord ingests one entry/exit record.
//
// Order of checks:
//  1. clientId match: return the stored record unchanged (created=false)
//  2. validation and person existence
//  3. presence: Entry while Inside is rejected with OPEN_SESSION_EXISTS;
//     Exit is accepted in any state
//  4. insert
func (s *Service) CreateRecord(ctx context.Context, in RecordInput, recordedBy string) (rec Record, created bool, err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Record{}, false, fmt.Errorf("create record: begin tx: %w", err)
	}
	defer tx.Rollback()

	if in.ClientID != "" {
		existing, err := recordByClientID(ctx, tx, in.ClientID)
		if err == nil {
			s.logger.Info("duplicate record create", "client_id", in.ClientID, "record_id", existing.ID)
			return existing, false, nil
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return Record{}, false, fmt.Errorf("create record: %w", err)
		}
	}

	ref, err := normalizeRecord(&in)
	if err != nil {
		return Record{}, false, err
	}
	if err := requirePerson(ctx, tx, in.PersonType, ref); err != nil {
		return Record{}, false, err
	}

	if in.Action == ActionEntry {
		state, _, err := presence(ctx, tx, in.PersonType, ref)
		if err != nil {
			return Record{}, false, fmt.Errorf("create record: %w", err)
		}
		if state == Inside {
			return Record{}, false, reject(CodeOpenSessionExists,
				"%s %d already has an open session", in.PersonType, ref)
		}
	}
	// Exit is accepted whether the person is Inside or Outside.

	ts := s.now()
	if in.Timestamp != nil {
		ts = *in.Timestamp
	}

	res, err := tx.ExecContext(ctx, `
		INSERT INTO entry_exit_records
		(person_type, person_ref, action, timestamp, client_id, recorded_by, photo_path, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(client_id) DO NOTHING
	`,
		in.PersonType,
		ref,
		in.Action,
		ts.UnixMilli(),
		nullString(in.ClientID),
		recordedBy,
		in.PhotoPath,
		s.now().UnixMilli(),
	)
	if err != nil {
		return Record{}, false, fmt.Errorf("create record: insert: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return Record{}, false, fmt.Errorf("create record: rows affected: %w", err)
	}
	if n == 0 {
		existing, err := recordByClientID(ctx, tx, in.ClientID)
		if err != nil {
			return Record{}, false, fmt.Errorf("create record: select existing: %w", err)
		}
		return existing, false, tx.Commit()
	}

	id, err := res.LastInsertId()
	if err != nil {
		return Record{}, false, fmt.Errorf("create record: last insert id: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return Record{}, false, fmt.Errorf("create record: commit: %w", err)
	}

	rec = Record{
		ID:         id,
		PersonType: in.PersonType,
		PersonRef:  ref,
		Action:     in.Action,
		Timestamp:  time.UnixMilli(ts.UnixMilli()).UTC(),
		ClientID:   in.ClientID,
		RecordedBy: recordedBy,
		PhotoPath:  in.PhotoPath,
	}
	s.logger.Info("record created",
		"id", rec.ID,
		"person_type", rec.PersonType,
		"person_ref", rec.PersonRef,
		"action", rec.Action,
		"client_id", rec.ClientID,
	)
	return rec, true, nil
}

// RegisterPerson creates a person, deduplicated by clientId the same way
// records are.
func (s *Service) RegisterPerson(ctx context.Context, in PersonInput) (p Person, created bool, err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Person{}, false, fmt.Errorf("register person: begin tx: %w", err)
	}
	defer tx.Rollback()

	if in.ClientID != "" {
		existing, err := personByClientID(ctx, tx, in.ClientID)
		if err == nil {
			return existing, false, nil
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return Person{}, false, fmt.Errorf("register person: %w", err)
		}
	}

	in.Name = strings.TrimSpace(in.Name)
	if !validPersonType(in.PersonType) {
		return Person{}, false, reject(CodeValidation, "personType must be %s or %s", Labour, Visitor)
	}
	if in.Name == "" {
		return Person{}, false, reject(CodeValidation, "name is required")
	}

	res, err := tx.ExecContext(ctx, `
		INSERT INTO persons (person_type, name, phone, photo_path, client_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(client_id) DO NOTHING
	`, in.PersonType, in.Name, in.Phone, in.PhotoPath, nullString(in.ClientID), s.now().UnixMilli())
	if err != nil {
		return Person{}, false, fmt.Errorf("register person: insert: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return Person{}, false, fmt.Errorf("register person: rows affected: %w", err)
	}
	if n == 0 {
		existing, err := personByClientID(ctx, tx, in.ClientID)
		if err != nil {
			return Person{}, false, fmt.Errorf("register person: select existing: %w", err)
		}
		return existing, false, tx.Commit()
	}

	id, err := res.LastInsertId()
	if err != nil {
		return Person{}, false, fmt.Errorf("register person: last insert id: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return Person{}, false, fmt.Errorf("register person: commit: %w", err)
	}

	p = Person{
		ID:         id,
		PersonType: in.PersonType,
		Name:       in.Name,
		Phone:      in.Phone,
		PhotoPath:  in.PhotoPath,
		ClientID:   in.ClientID,
	}
	s.logger.Info("person registered", "id", p.ID, "person_type", p.PersonType, "client_id", p.ClientID)
	return p, true, nil
}

// StorePhoto keeps an uploaded photo and returns its public path.
// Uploading the same bytes twice returns the same path.
func (s *Service) StorePhoto(ctx context.Context, data []byte, ext string) (string, error) {
	if len(data) == 0 {
		return "", reject(CodeValidation, "image is empty")
	}
	h, _, err := s.photos.Put(data, ext)
	if err != nil {
		return "", fmt.Errorf("store photo: %w", err)
	}
	return PhotoURLPrefix + blob.RelPath(h.String(), ext), nil
}

// PhotoFile resolves a public photo path to a file on disk.
func (s *Service) PhotoFile(publicPath string) (string, error) {
	rel := strings.TrimPrefix(publicPath, PhotoURLPrefix)
	return s.photos.Open(rel)
}

// ListRecords returns records with timestamp >= since, newest first.
// limit <= 0 means no limit.
func (s *Service) ListRecords(ctx context.Context, since time.Time, limit int) ([]Record, error) {
	query := `
		SELECT id, person_type, person_ref, action, timestamp, client_id, recorded_by, photo_path
		FROM entry_exit_records
		WHERE timestamp >= ?
		ORDER BY timestamp DESC, id DESC`
	args := []any{since.UnixMilli()}
	if since.IsZero() {
		args[0] = int64(0)
	}
	if limit > 0 {
		query += "\n\t\tLIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}
	defer rows.Close()

	records := []Record{}
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("list records: %w", err)
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list records: iterate: %w", err)
	}
	return records, nil
}

// Presence returns the current state of a person and the record that
// determines it (nil when Outside with no history).
func (s *Service) Presence(ctx context.Context, personType string, personRef int64) (Presence, *Record, error) {
	return presence(ctx, s.db, personType, personRef)
}

// GetPerson returns a person by server id.
func (s *Service) GetPerson(ctx context.Context, id int64) (Person, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, person_type, name, phone, photo_path, client_id FROM persons WHERE id = ?
	`, id)
	p, err := scanPerson(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Person{}, reject(CodePersonNotFound, "person %d does not exist", id)
	}
	return p, err
}

// ApplyBatch applies operations in order. Each operation succeeds or
// fails on its own; a failure does not stop the rest.
func (s *Service) ApplyBatch(ctx context.Context, ops []Operation, recordedBy string) []Outcome {
	out := make([]Outcome, 0, len(ops))
	for _, op := range ops {
		o := Outcome{ClientID: op.ClientID}
		o.Result, o.Err = s.applyOne(ctx, op, recordedBy)
		if o.Err != nil {
			s.logger.Warn("batch operation failed",
				"client_id", op.ClientID,
				"entity", op.EntityType,
				"error", o.Err,
			)
		}
		out = append(out, o)
	}
	return out
}

func (s *Service) applyOne(ctx context.Context, op Operation, recordedBy string) (any, error) {
	if op.OperationType != OpCreate {
		return nil, reject(CodeValidation, "unsupported operationType %q", op.OperationType)
	}

	data := op.Data
	if data == nil {
		data = payload.Object{}
	}
	if _, ok := data.GetString("clientId"); !ok && op.ClientID != "" {
		data = data.Clone()
		data["clientId"] = payload.String(op.ClientID)
	}

	switch op.EntityType {
	case EntityRecord:
		var in RecordInput
		if err := decodeInto(data, &in); err != nil {
			return nil, err
		}
		rec, _, err := s.CreateRecord(ctx, in, recordedBy)
		if err != nil {
			return nil, err
		}
		return rec, nil

	case EntityPerson:
		var in PersonInput
		if err := decodeInto(data, &in); err != nil {
			return nil, err
		}
		p, _, err := s.RegisterPerson(ctx, in)
		if err != nil {
			return nil, err
		}
		return p, nil

	default:
		return nil, reject(CodeValidation, "unsupported entityType %q", op.EntityType)
	}
}

func decodeInto(data payload.Object, v any) error {
	raw, err := payload.MarshalCanonical(data)
	if err != nil {
		return reject(CodeValidation, "invalid data: %v", err)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return reject(CodeValidation, "invalid data: %v", err)
	}
	return nil
}

// normalizeRecord validates in and returns the effective person ref.
func normalizeRecord(in *RecordInput) (int64, error) {
	if !validPersonType(in.PersonType) {
		return 0, reject(CodeValidation, "personType must be %s or %s", Labour, Visitor)
	}
	if in.Action != ActionEntry && in.Action != ActionExit {
		return 0, reject(CodeValidation, "action must be %s or %s", ActionEntry, ActionExit)
	}
	if in.LabourID != nil && in.VisitorID != nil {
		return 0, reject(CodeValidation, "labourId and visitorId are mutually exclusive")
	}

	ref := in.PersonRef
	switch {
	case in.LabourID != nil:
		if in.PersonType != Labour {
			return 0, reject(CodeValidation, "labourId requires personType %s", Labour)
		}
		ref = *in.LabourID
	case in.VisitorID != nil:
		if in.PersonType != Visitor {
			return 0, reject(CodeValidation, "visitorId requires personType %s", Visitor)
		}
		ref = *in.VisitorID
	}
	if ref <= 0 {
		return 0, reject(CodeValidation, "personRef is required")
	}
	return ref, nil
}

func validPersonType(t string) bool {
	return t == Labour || t == Visitor
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func requirePerson(ctx context.Context, q queryer, personType string, id int64) error {
	var one int
	err := q.QueryRowContext(ctx, `
		SELECT 1 FROM persons WHERE id = ? AND person_type = ?
	`, id, personType).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return reject(CodePersonNotFound, "%s %d does not exist", personType, id)
	}
	if err != nil {
		return fmt.Errorf("lookup person: %w", err)
	}
	return nil
}

// presence derives the state from the latest record by timestamp, ties
// broken by id.
func presence(ctx context.Context, q queryer, personType string, personRef int64) (Presence, *Record, error) {
	row := q.QueryRowContext(ctx, `
		SELECT id, person_type, person_ref, action, timestamp, client_id, recorded_by, photo_path
		FROM entry_exit_records
		WHERE person_type = ? AND person_ref = ?
		ORDER BY timestamp DESC, id DESC
		LIMIT 1
	`, personType, personRef)

	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Outside, nil, nil
	}
	if err != nil {
		return "", nil, fmt.Errorf("presence: %w", err)
	}
	if rec.Action == ActionEntry {
		return Inside, &rec, nil
	}
	return Outside, &rec, nil
}

func recordByClientID(ctx context.Context, q queryer, clientID string) (Record, error) {
	row := q.QueryRowContext(ctx, `
		SELECT id, person_type, person_ref, action, timestamp, client_id, recorded_by, photo_path
		FROM entry_exit_records
		WHERE client_id = ?
	`, clientID)
	return scanRecord(row)
}

func personByClientID(ctx context.Context, q queryer, clientID string) (Person, error) {
	row := q.QueryRowContext(ctx, `
		SELECT id, person_type, name, phone, photo_path, client_id FROM persons WHERE client_id = ?
	`, clientID)
	return scanPerson(row)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(r rowScanner) (Record, error) {
	var (
		rec      Record
		ts       int64
		clientID sql.NullString
	)
	if err := r.Scan(&rec.ID, &rec.PersonType, &rec.PersonRef, &rec.Action, &ts, &clientID, &rec.RecordedBy, &rec.PhotoPath); err != nil {
		return Record{}, err
	}
	rec.Timestamp = time.UnixMilli(ts).UTC()
	rec.ClientID = clientID.String
	return rec, nil
}

func scanPerson(r rowScanner) (Person, error) {
	var (
		p        Person
		clientID sql.NullString
	)
	if err := r.Scan(&p.ID, &p.PersonType, &p.Name, &p.Phone, &p.PhotoPath, &clientID); err != nil {
		return Person{}, err
	}
	p.ClientID = clientID.String
	return p, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
