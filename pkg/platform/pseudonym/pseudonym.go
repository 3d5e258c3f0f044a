// Package pseudonym derives keyed, non-reversible identifiers for personal data
// that must stay correlatable (source context, redaction markers, audit subjects)
// without being stored in the clear.
package pseudonym

import (
	"encoding/hex"
	"fmt"

	"golang.org/x/crypto/blake2b"
)

// separator keeps ("ab","c") and ("a","bc") from hashing to the same value.
const separator = 0x1f

// Hasher computes keyed BLAKE2b-256 digests.
type Hasher struct {
	key []byte
}

// New builds a Hasher keyed by pepper. blake2b accepts keys up to 64 bytes.
func New(pepper []byte) (*Hasher, error) {
	if len(pepper) < 16 {
		return nil, fmt.Errorf("pseudonym pepper must be at least 16 bytes, got %d", len(pepper))
	}
	if len(pepper) > blake2b.Size {
		return nil, fmt.Errorf("pseudonym pepper must be at most %d bytes, got %d", blake2b.Size, len(pepper))
	}
	key := make([]byte, len(pepper))
	copy(key, pepper)
	return &Hasher{key: key}, nil
}

// Sum returns the hex digest of parts.
func (h *Hasher) Sum(parts ...string) string {
	mac, err := blake2b.New256(h.key)
	if err != nil {
		// key length is validated in New
		panic(err)
	}
	for i, p := range parts {
		if i > 0 {
			mac.Write([]byte{separator})
		}
		mac.Write([]byte(p))
	}
	return hex.EncodeToString(mac.Sum(nil))
}
