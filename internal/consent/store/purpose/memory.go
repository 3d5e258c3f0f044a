// Package purpose stores the purpose catalog and its version change log.
package purpose

import (
	"context"
	"slices"
	"strings"
	"sync"

	"consentledger/internal/consent/models"
	id "consentledger/pkg/domain"
	"consentledger/pkg/platform/sentinel"
	"consentledger/pkg/platform/tx"
)

// InMemory is a process-local purpose store.
type InMemory struct {
	mu       sync.RWMutex
	purposes map[id.PurposeID]*models.Purpose
	changes  map[id.PurposeID][]models.VersionChange
}

func NewInMemory() *InMemory {
	return &InMemory{
		purposes: make(map[id.PurposeID]*models.Purpose),
		changes:  make(map[id.PurposeID][]models.VersionChange),
	}
}

func (s *InMemory) InitializeSchema(context.Context) error { return nil }

func (s *InMemory) Create(ctx context.Context, p *models.Purpose) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.purposes[p.ID]; ok {
		return sentinel.ErrAlreadyExists
	}
	stored := *p
	s.purposes[p.ID] = &stored
	purposeID := p.ID
	tx.OnRollback(ctx, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.purposes, purposeID)
		delete(s.changes, purposeID)
	})
	return nil
}

func (s *InMemory) FindByID(_ context.Context, purposeID id.PurposeID) (*models.Purpose, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.purposes[purposeID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	out := *p
	return &out, nil
}

func (s *InMemory) Exists(_ context.Context, purposeID id.PurposeID) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.purposes[purposeID]
	return ok, nil
}

// List returns every purpose ordered by ID.
func (s *InMemory) List(_ context.Context) ([]*models.Purpose, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*models.Purpose, 0, len(s.purposes))
	for _, p := range s.purposes {
		cp := *p
		out = append(out, &cp)
	}
	slices.SortFunc(out, func(a, b *models.Purpose) int {
		return strings.Compare(string(a.ID), string(b.ID))
	})
	return out, nil
}

// Execute runs fn against a copy of the purpose while holding the write lock.
// If fn succeeds the copy replaces the stored purpose and any returned change
// is appended to the version log. Both are undone if the surrounding in-memory
// transaction fails.
func (s *InMemory) Execute(ctx context.Context, purposeID id.PurposeID, fn func(p *models.Purpose) (*models.VersionChange, error)) (*models.Purpose, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.purposes[purposeID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	working := *current
	change, err := fn(&working)
	if err != nil {
		return nil, err
	}
	logLen := len(s.changes[purposeID])
	s.purposes[purposeID] = &working
	if change != nil {
		s.changes[purposeID] = append(s.changes[purposeID], *change)
	}
	tx.OnRollback(ctx, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.purposes[purposeID] = current
		s.changes[purposeID] = s.changes[purposeID][:logLen]
	})
	out := working
	return &out, nil
}

// ListVersionChanges returns the change log for a purpose, oldest first.
func (s *InMemory) ListVersionChanges(_ context.Context, purposeID id.PurposeID) ([]models.VersionChange, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.purposes[purposeID]; !ok {
		return nil, sentinel.ErrNotFound
	}
	return slices.Clone(s.changes[purposeID]), nil
}
