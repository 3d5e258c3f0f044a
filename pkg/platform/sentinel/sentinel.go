package sentinel

import "errors"

// Sentinel errors for infrastructure facts. Stores and infrastructure layers return
// these (optionally wrapped) so services can translate them into domain errors.
//
// These represent factual states about resources, not validation failures:
// - ErrNotFound: entity does not exist in store
// - ErrAlreadyExists: entity with the same key is already stored
// - ErrOutOfOrder: write would place an event before the latest one for its key
// - ErrUnknownReference: write references a parent row that does not exist
// - ErrRedacted: subject identity was redacted and accepts no further writes
// - ErrConflict: another writer holds the resource exclusively
// - ErrUnavailable: service or resource temporarily unavailable
//
// For validation errors (bad input, missing fields), use pkg/domain-errors directly.
var (
	ErrNotFound         = errors.New("not found")
	ErrAlreadyExists    = errors.New("already exists")
	ErrOutOfOrder       = errors.New("out of order")
	ErrUnknownReference = errors.New("unknown reference")
	ErrRedacted         = errors.New("redacted")
	ErrConflict         = errors.New("conflict")
	ErrUnavailable      = errors.New("unavailable")
)
