// Package blob stores immutable byte blobs on disk, addressed by their
// BLAKE3 hash. Identical bytes are stored once.
package blob

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// ErrNotFound is returned when no blob exists for a hash.
var ErrNotFound = errors.New("blob not found")

// Store lays blobs out as baseDir/{h[0:2]}/{h[2:4]}/{h}{ext}.
type Store struct {
	baseDir string
}

// NewStore creates the base directory if needed.
func NewStore(baseDir string) (*Store, error) {
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("create blob dir: %w", err)
	}
	return &Store{baseDir: baseDir}, nil
}

// Dir returns the base directory.
func (s *Store) Dir() string {
	return s.baseDir
}

// RelPath returns the slash-separated path of a blob relative to the base
// directory, e.g. "ab/cd/abcd...ef.jpg".
func RelPath(hash, ext string) string {
	return hash[0:2] + "/" + hash[2:4] + "/" + hash + ext
}

// Path returns the native path of a blob.
func (s *Store) Path(hash, ext string) string {
	return filepath.Join(s.baseDir, filepath.FromSlash(RelPath(hash, ext)))
}

// Put writes data and returns its hash and native path. If the blob
// already exists it is not rewritten. The write goes to a temp file
// first and is renamed into place, so readers never see a partial blob.
func (s *Store) Put(data []byte, ext string) (Hash, string, error) {
	h := Sum(BlobDomain, data)
	path := s.Path(h.String(), ext)

	if _, err := os.Stat(path); err == nil {
		return h, path, nil
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return h, "", fmt.Errorf("create blob shard: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".blob-*")
	if err != nil {
		return h, "", fmt.Errorf("create temp blob: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath) // no-op after a successful rename

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return h, "", fmt.Errorf("write blob: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return h, "", fmt.Errorf("sync blob: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return h, "", fmt.Errorf("close blob: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return h, "", fmt.Errorf("rename blob: %w", err)
	}
	return h, path, nil
}

// Read returns the bytes stored at a native path previously returned by
// Put.
func (s *Store) Read(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("read %s: %w", path, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return data, nil
}

// Open resolves a relative blob path (as returned by RelPath) to a native
// path inside the store. Paths that escape the base directory are
// rejected.
func (s *Store) Open(rel string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash(rel))
	if clean == "." || filepath.IsAbs(clean) || clean == ".." || len(clean) > 2 && clean[:3] == ".."+string(filepath.Separator) {
		return "", fmt.Errorf("open %q: %w", rel, ErrNotFound)
	}
	path := filepath.Join(s.baseDir, clean)
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", fmt.Errorf("open %q: %w", rel, ErrNotFound)
		}
		return "", fmt.Errorf("open %q: %w", rel, err)
	}
	return path, nil
}
