package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/anshul1007/vermillion/internal/payload"
)

// Photo is one staged capture. Path names the blob on local disk;
// RemoteURL is set once the server has acknowledged the upload.
type Photo struct {
	ID          int64
	Filename    string
	Path        string
	ContentHash string
	MIME        string
	Size        int64
	Metadata    payload.Object
	RemoteURL   *string
	Uploaded    bool
	CreatedAt   time.Time
}

// AddPhoto inserts a photo keyed by ContentHash.
// Returns the ID and whether a new record was inserted. If a photo with
// the same hash already exists, returns its ID and inserted=false.
func (s *Store) AddPhoto(ctx context.Context, p Photo) (id int64, inserted bool, err error) {
	metaJSON, err := marshalPayload(p.Metadata)
	if err != nil {
		return 0, false, fmt.Errorf("add photo: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, false, fmt.Errorf("add photo: begin tx: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, `
		INSERT INTO photos
		(filename, path, content_hash, mime, size, metadata, remote_url, uploaded, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(content_hash) DO NOTHING
	`,
		p.Filename,
		p.Path,
		p.ContentHash,
		p.MIME,
		p.Size,
		metaJSON,
		nullStringPtr(p.RemoteURL),
		p.Uploaded,
		s.nowMillis(),
	)
	if err != nil {
		return 0, false, fmt.Errorf("add photo: insert: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return 0, false, fmt.Errorf("add photo: rows affected: %w", err)
	}

	if rowsAffected > 0 {
		id, err = result.LastInsertId()
		if err != nil {
			return 0, false, fmt.Errorf("add photo: last insert id: %w", err)
		}
		inserted = true
	} else {
		err = tx.QueryRowContext(ctx, `
			SELECT id FROM photos WHERE content_hash = ?
		`, p.ContentHash).Scan(&id)
		if err != nil {
			return 0, false, fmt.Errorf("add photo: select existing: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, false, fmt.Errorf("add photo: commit: %w", err)
	}
	return id, inserted, nil
}

const photoColumns = `id, filename, path, content_hash, mime, size, metadata, remote_url, uploaded, created_at`

// GetPhoto returns the photo with the given handle.
// Returns ErrNotFound if it does not exist.
func (s *Store) GetPhoto(ctx context.Context, id int64) (Photo, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+photoColumns+` FROM photos WHERE id = ?`, id)
	return scanPhotoRow(row, fmt.Sprintf("get photo %d", id))
}

// FindPhotoByHash returns the photo whose original bytes hashed to hash.
// Returns ErrNotFound if none exists.
func (s *Store) FindPhotoByHash(ctx context.Context, hash string) (Photo, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+photoColumns+` FROM photos WHERE content_hash = ?`, hash)
	return scanPhotoRow(row, "find photo by hash")
}

// FindPhotoByRemoteURL returns the uploaded photo whose server path is url.
// Returns ErrNotFound if none exists.
func (s *Store) FindPhotoByRemoteURL(ctx context.Context, url string) (Photo, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+photoColumns+` FROM photos
		WHERE remote_url = ?
		ORDER BY id ASC
		LIMIT 1
	`, url)
	return scanPhotoRow(row, "find photo by remote url")
}

// ListPhotos returns photos in capture order. With pendingOnly set, only
// photos that have not been uploaded are returned.
func (s *Store) ListPhotos(ctx context.Context, pendingOnly bool) ([]Photo, error) {
	query := `SELECT ` + photoColumns + ` FROM photos`
	if pendingOnly {
		query += ` WHERE uploaded = 0`
	}
	query += ` ORDER BY id ASC`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query photos: %w", err)
	}
	defer rows.Close()

	photos := []Photo{}
	for rows.Next() {
		p, err := scanPhoto(rows)
		if err != nil {
			return nil, err
		}
		photos = append(photos, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate photos: %w", err)
	}
	return photos, nil
}

// MarkPhotoUploaded flips uploaded and records the server path.
// Returns ErrNotFound if the photo does not exist.
func (s *Store) MarkPhotoUploaded(ctx context.Context, id int64, remoteURL string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE photos SET uploaded = 1, remote_url = ? WHERE id = ?
	`, remoteURL, id)
	if err != nil {
		return fmt.Errorf("mark photo %d uploaded: %w", id, err)
	}
	return requireAffected(res, fmt.Sprintf("mark photo %d uploaded", id))
}

func scanPhotoRow(row *sql.Row, op string) (Photo, error) {
	p, err := scanPhoto(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Photo{}, fmt.Errorf("%s: %w", op, ErrNotFound)
	}
	if err != nil {
		return Photo{}, fmt.Errorf("%s: %w", op, err)
	}
	return p, nil
}

func scanPhoto(r rowScanner) (Photo, error) {
	var (
		p        Photo
		metaJSON string
		remote   sql.NullString
		created  int64
	)
	if err := r.Scan(
		&p.ID,
		&p.Filename,
		&p.Path,
		&p.ContentHash,
		&p.MIME,
		&p.Size,
		&metaJSON,
		&remote,
		&p.Uploaded,
		&created,
	); err != nil {
		return Photo{}, err
	}

	meta, err := unmarshalPayload(metaJSON)
	if err != nil {
		return Photo{}, fmt.Errorf("photo %d: %w", p.ID, err)
	}
	p.Metadata = meta
	p.RemoteURL = stringPtr(remote)
	p.CreatedAt = fromMillis(created)
	return p, nil
}

func nullStringPtr(p *string) sql.NullString {
	if p == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *p, Valid: true}
}
