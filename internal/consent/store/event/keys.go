// Package event stores consent events and subject redaction markers.
package event

import (
	"context"

	id "consentledger/pkg/domain"
)

// Hasher derives keyed digests. *pseudonym.Hasher satisfies it.
type Hasher interface {
	Sum(parts ...string) string
}

// PurposeChecker reports whether a purpose is registered.
type PurposeChecker interface {
	Exists(ctx context.Context, purposeID id.PurposeID) (bool, error)
}

// subjectKey is the keyed digest used for redaction markers and lock rows, so
// neither outlives the identifier it protects.
func subjectKey(h Hasher, subject id.SubjectID) string {
	return h.Sum("subject", subject.String())
}

// fnv64 hashes s with FNV-1a. Used to pick lock shards and advisory lock keys.
func fnv64(s string) uint64 {
	const (
		offset = 14695981039346656037
		prime  = 1099511628211
	)
	h := uint64(offset)
	for i := 0; i < len(s); i++ {
		h ^= uint64(s[i])
		h *= prime
	}
	return h
}
