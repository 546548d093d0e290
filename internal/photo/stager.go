package photo

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"strings"

	"github.com/gabriel-vasile/mimetype"

	"github.com/anshul1007/vermillion/internal/blob"
	"github.com/anshul1007/vermillion/internal/payload"
	"github.com/anshul1007/vermillion/internal/store"
)

// LocalRefPrefix marks a photo handle that only exists on this device.
const LocalRefPrefix = "local-photo:"

// LocalRef returns the handle queued payloads use to reference photo id.
func LocalRef(id int64) string {
	return LocalRefPrefix + strconv.FormatInt(id, 10)
}

// ParseLocalRef extracts the photo id from a local handle.
func ParseLocalRef(ref string) (int64, bool) {
	rest, ok := strings.CutPrefix(ref, LocalRefPrefix)
	if !ok {
		return 0, false
	}
	id, err := strconv.ParseInt(rest, 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

// SaveResult is returned by Save.
type SaveResult struct {
	ID           int64  `json:"id"`
	LocalRef     string `json:"localRef"`
	Deduplicated bool   `json:"deduplicated"`
}

// Stager saves captured photos locally and tracks their upload state.
type Stager struct {
	store  *store.Store
	blobs  *blob.Store
	opts   CompressOptions
	logger *slog.Logger
}

// Option configures a Stager.
type Option func(*Stager)

// WithCompression overrides the compression policy.
func WithCompression(opts CompressOptions) Option {
	return func(s *Stager) {
		s.opts = opts
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Stager) {
		s.logger = l
	}
}

// NewStager creates a Stager over the device store and a blob directory.
func NewStager(s *store.Store, blobs *blob.Store, opts ...Option) *Stager {
	st := &Stager{
		store:  s,
		blobs:  blobs,
		opts:   DefaultCompressOptions(),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(st)
	}
	return st
}

// Save stages a capture. The hash is taken over the bytes as captured,
// so saving the same capture twice returns the same handle with
// Deduplicated set. A compression failure never blocks the save: the
// original bytes are stored instead.
func (s *Stager) Save(ctx context.Context, data []byte, filename string, meta payload.Object) (SaveResult, error) {
	if len(data) == 0 {
		return SaveResult{}, errors.New("save photo: empty blob")
	}

	hash := blob.Sum(blob.CaptureDomain, data).String()

	existing, err := s.store.FindPhotoByHash(ctx, hash)
	if err == nil {
		return SaveResult{ID: existing.ID, LocalRef: LocalRef(existing.ID), Deduplicated: true}, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return SaveResult{}, fmt.Errorf("save photo: %w", err)
	}

	stored, changed, err := Compress(data, s.opts)
	if err != nil {
		s.logger.Warn("photo compression failed, keeping original",
			"filename", filename,
			"size", len(data),
			"error", err,
		)
		stored, changed = data, false
	}

	mime := mimetype.Detect(stored)
	_, path, err := s.blobs.Put(stored, mime.Extension())
	if err != nil {
		return SaveResult{}, fmt.Errorf("save photo: %w", err)
	}

	id, inserted, err := s.store.AddPhoto(ctx, store.Photo{
		Filename:    filename,
		Path:        path,
		ContentHash: hash,
		MIME:        mime.String(),
		Size:        int64(len(stored)),
		Metadata:    meta,
	})
	if err != nil {
		return SaveResult{}, fmt.Errorf("save photo: %w", err)
	}

	s.logger.Debug("photo staged",
		"id", id,
		"filename", filename,
		"original_size", len(data),
		"stored_size", len(stored),
		"compressed", changed,
	)
	return SaveResult{ID: id, LocalRef: LocalRef(id), Deduplicated: !inserted}, nil
}

// Get returns the photo record.
func (s *Stager) Get(ctx context.Context, id int64) (store.Photo, error) {
	return s.store.GetPhoto(ctx, id)
}

// Data returns the stored bytes of a photo and its record.
func (s *Stager) Data(ctx context.Context, id int64) ([]byte, store.Photo, error) {
	p, err := s.store.GetPhoto(ctx, id)
	if err != nil {
		return nil, store.Photo{}, err
	}
	data, err := s.blobs.Read(p.Path)
	if err != nil {
		return nil, p, fmt.Errorf("photo %d: %w", id, err)
	}
	return data, p, nil
}

// DataURL returns the photo as a "data:<mime>;base64,..." URL.
func (s *Stager) DataURL(ctx context.Context, id int64) (string, error) {
	data, p, err := s.Data(ctx, id)
	if err != nil {
		return "", err
	}
	return EncodeDataURL(p.MIME, data), nil
}

// MarkUploaded records the server path for a photo.
func (s *Stager) MarkUploaded(ctx context.Context, id int64, remotePath string) error {
	return s.store.MarkPhotoUploaded(ctx, id, remotePath)
}

// FindByRemoteURL returns the local copy of an uploaded photo, if any.
func (s *Stager) FindByRemoteURL(ctx context.Context, remote string) (store.Photo, bool, error) {
	p, err := s.store.FindPhotoByRemoteURL(ctx, remote)
	if errors.Is(err, store.ErrNotFound) {
		return store.Photo{}, false, nil
	}
	if err != nil {
		return store.Photo{}, false, err
	}
	return p, true, nil
}

// Pending returns photos that still need uploading, oldest first.
func (s *Stager) Pending(ctx context.Context) ([]store.Photo, error) {
	return s.store.ListPhotos(ctx, true)
}

// Resolve turns an image source into something displayable without a
// network fetch when possible:
//   - a local handle resolves to a data URL
//   - a remote URL with a local copy resolves to a data URL
//   - anything else is returned unchanged
func (s *Stager) Resolve(ctx context.Context, src string) (string, error) {
	if strings.HasPrefix(src, "data:") {
		return src, nil
	}

	if id, ok := ParseLocalRef(src); ok {
		return s.DataURL(ctx, id)
	}

	candidates := []string{src}
	if u, err := url.Parse(src); err == nil && u.Host != "" && u.Path != "" {
		candidates = append(candidates, u.Path)
	}

	for _, c := range candidates {
		p, found, err := s.FindByRemoteURL(ctx, c)
		if err != nil {
			return "", fmt.Errorf("resolve image: %w", err)
		}
		if !found {
			continue
		}
		dataURL, err := s.DataURL(ctx, p.ID)
		if err != nil {
			// the local copy is gone; the remote URL still works
			s.logger.Warn("local photo copy unreadable", "id", p.ID, "error", err)
			return src, nil
		}
		return dataURL, nil
	}
	return src, nil
}

// EncodeDataURL builds a base64 data URL.
func EncodeDataURL(mime string, data []byte) string {
	return "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(data)
}

// DecodeDataURL parses a base64 data URL, or plain base64 when the
// "data:" prefix is absent. The MIME type is sniffed when not declared.
func DecodeDataURL(s string) (mime string, data []byte, err error) {
	raw := s
	if rest, ok := strings.CutPrefix(s, "data:"); ok {
		header, body, found := strings.Cut(rest, ",")
		if !found {
			return "", nil, errors.New("data url: missing comma")
		}
		if !strings.HasSuffix(header, ";base64") {
			return "", nil, errors.New("data url: only base64 encoding is supported")
		}
		mime = strings.TrimSuffix(header, ";base64")
		raw = body
	}

	data, err = base64.StdEncoding.DecodeString(raw)
	if err != nil {
		return "", nil, fmt.Errorf("data url: %w", err)
	}
	if mime == "" {
		mime = mimetype.Detect(data).String()
	}
	return mime, data, nil
}
