package blob

import (
	"encoding/hex"
	"fmt"

	"github.com/zeebo/blake3"
)

// Hash is a 32-byte BLAKE3 digest.
type Hash [32]byte

// String returns the lowercase hex form used in file names and columns.
func (h Hash) String() string {
	return hex.EncodeToString(h[:])
}

// ParseHash parses the hex form produced by Hash.String.
func ParseHash(s string) (Hash, error) {
	var h Hash
	b, err := hex.DecodeString(s)
	if err != nil {
		return h, fmt.Errorf("parse hash: %w", err)
	}
	if len(b) != len(h) {
		return h, fmt.Errorf("parse hash: want %d bytes, got %d", len(h), len(b))
	}
	copy(h[:], b)
	return h, nil
}

// Domain is a 32-byte key for BLAKE3 keyed hashing. The same bytes hash
// differently in different domains, so a capture hash can never collide
// with a stored-blob hash.
type Domain [32]byte

// Domain keys are the ASCII domain name zero-padded to 32 bytes.
// Changing one invalidates every hash already recorded in that domain.
var (
	// CaptureDomain hashes photo bytes exactly as captured; used for
	// dedup on save.
	CaptureDomain = Domain{
		'v', 'e', 'r', 'm', 'i', 'l', 'l', 'i', 'o', 'n', '.', 'p', 'h', 'o', 't', 'o',
		'.', 'c', 'a', 'p', 't', 'u', 'r', 'e', 0, 0, 0, 0, 0, 0, 0, 0,
	}

	// BlobDomain addresses bytes as stored on disk.
	BlobDomain = Domain{
		'v', 'e', 'r', 'm', 'i', 'l', 'l', 'i', 'o', 'n', '.', 'b', 'l', 'o', 'b', 0,
		0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0,
	}
)

// Sum computes the keyed hash of data in domain d.
func Sum(d Domain, data []byte) Hash {
	h, err := blake3.NewKeyed(d[:])
	if err != nil {
		// NewKeyed only fails for keys that are not 32 bytes.
		panic("blob: invalid domain key: " + err.Error())
	}
	h.Write(data)
	var out Hash
	copy(out[:], h.Sum(nil))
	return out
}
