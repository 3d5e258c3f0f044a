package event

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"consentledger/internal/consent/models"
	id "consentledger/pkg/domain"
	"consentledger/pkg/platform/sentinel"
	"consentledger/pkg/platform/tx"
	"consentledger/pkg/requestcontext"
)

// numShards spreads pair and subject locks so unrelated writers rarely share one.
const numShards = 128

// InMemory is a process-local event store.
//
// Locking order: subject shard (read for appends, write for redaction), then
// pair shard, then mu. Appends for different pairs only meet on mu, which is
// held for map access alone. Same-pair appends serialize on the pair shard.
type InMemory struct {
	subjectShards [numShards]sync.RWMutex
	pairShards    [numShards]sync.Mutex

	mu         sync.RWMutex
	events     map[id.SubjectID][]*models.Event
	redactions map[string]*models.Redaction
	seq        int64

	purposes PurposeChecker
	hasher   Hasher
}

func NewInMemory(purposes PurposeChecker, hasher Hasher) *InMemory {
	return &InMemory{
		events:     make(map[id.SubjectID][]*models.Event),
		redactions: make(map[string]*models.Redaction),
		purposes:   purposes,
		hasher:     hasher,
	}
}

func (s *InMemory) InitializeSchema(context.Context) error { return nil }

func (s *InMemory) subjectShard(subject id.SubjectID) *sync.RWMutex {
	return &s.subjectShards[fnv64(string(subject))%numShards]
}

func (s *InMemory) pairShard(subject id.SubjectID, purpose id.PurposeID) *sync.Mutex {
	return &s.pairShards[fnv64(string(subject)+"\x1f"+string(purpose))%numShards]
}

// Append stores e, assigning ID (if unset) and Seq.
func (s *InMemory) Append(ctx context.Context, e *models.Event) (id.EventID, error) {
	ok, err := s.purposes.Exists(ctx, e.PurposeID)
	if err != nil {
		return id.EventID{}, fmt.Errorf("check purpose: %w", err)
	}
	if !ok {
		return id.EventID{}, fmt.Errorf("append consent event: %w: purpose %s", sentinel.ErrUnknownReference, e.PurposeID)
	}

	subjectLock := s.subjectShard(e.SubjectID)
	subjectLock.RLock()
	defer subjectLock.RUnlock()
	pairLock := s.pairShard(e.SubjectID, e.PurposeID)
	pairLock.Lock()
	defer pairLock.Unlock()

	if err := ctx.Err(); err != nil {
		return id.EventID{}, fmt.Errorf("append consent event: %w: %w", sentinel.ErrUnavailable, err)
	}

	// The pair lock keeps the check and the insert atomic for this pair while
	// other pairs interleave between them.
	s.mu.RLock()
	_, redacted := s.redactions[subjectKey(s.hasher, e.SubjectID)]
	latest := latestFor(s.events[e.SubjectID], e.PurposeID)
	s.mu.RUnlock()
	if redacted {
		return id.EventID{}, sentinel.ErrRedacted
	}
	if latest != nil && e.Timestamp.Before(latest.Timestamp) {
		return id.EventID{}, sentinel.ErrOutOfOrder
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if e.ID.IsNil() {
		e.ID = id.NewEventID()
	}
	s.seq++
	e.Seq = s.seq
	stored := *e
	history := s.events[e.SubjectID]
	pos, _ := slices.BinarySearchFunc(history, &stored, compareEvents)
	s.events[e.SubjectID] = slices.Insert(history, pos, &stored)
	subject, eventID := e.SubjectID, e.ID
	tx.OnRollback(ctx, func() { s.removeEvent(subject, eventID) })
	return e.ID, nil
}

// removeEvent drops a rolled-back append. An event already moved by a
// redaction is left under its token.
func (s *InMemory) removeEvent(subject id.SubjectID, eventID id.EventID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	history := s.events[subject]
	i := slices.IndexFunc(history, func(e *models.Event) bool { return e.ID == eventID })
	if i < 0 {
		return
	}
	history = slices.Delete(history, i, i+1)
	if len(history) == 0 {
		delete(s.events, subject)
		return
	}
	s.events[subject] = history
}

// QueryLatest returns the latest event for the pair, or nil when there is none.
func (s *InMemory) QueryLatest(_ context.Context, subject id.SubjectID, purpose id.PurposeID) (*models.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if latest := latestFor(s.events[subject], purpose); latest != nil {
		out := *latest
		return &out, nil
	}
	return nil, nil
}

// QueryLatestForPurposes returns the latest event per purpose among purposes.
// Purposes without events are absent from the map.
func (s *InMemory) QueryLatestForPurposes(_ context.Context, subject id.SubjectID, purposes []id.PurposeID) (map[id.PurposeID]*models.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[id.PurposeID]*models.Event, len(purposes))
	for _, p := range purposes {
		if latest := latestFor(s.events[subject], p); latest != nil {
			cp := *latest
			out[p] = &cp
		}
	}
	return out, nil
}

// QueryHistory returns the subject's events oldest first.
func (s *InMemory) QueryHistory(_ context.Context, subject id.SubjectID) ([]*models.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	history := s.events[subject]
	out := make([]*models.Event, 0, len(history))
	for _, e := range history {
		cp := *e
		out = append(out, &cp)
	}
	return out, nil
}

// RedactSubject moves every event of subject under token, rewriting SubjectID
// and SourceContext, and records the redaction marker. It holds the subject
// lock exclusively, so appends for the subject wait until it returns.
func (s *InMemory) RedactSubject(ctx context.Context, subject id.SubjectID, token string) (int, error) {
	subjectLock := s.subjectShard(subject)
	subjectLock.Lock()
	defer subjectLock.Unlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	key := subjectKey(s.hasher, subject)
	if _, redacted := s.redactions[key]; redacted {
		return 0, sentinel.ErrRedacted
	}
	tokenID := id.SubjectID(token)
	if len(s.events[tokenID]) > 0 {
		return 0, fmt.Errorf("redact subject: %w: token already in use", sentinel.ErrAlreadyExists)
	}

	history := s.events[subject]
	rewritten := make([]*models.Event, 0, len(history))
	for _, e := range history {
		cp := *e
		cp.SubjectID = tokenID
		cp.SourceContext = token
		rewritten = append(rewritten, &cp)
	}
	delete(s.events, subject)
	if len(rewritten) > 0 {
		s.events[tokenID] = rewritten
	}
	s.redactions[key] = &models.Redaction{
		SubjectHash: key,
		Token:       token,
		RedactedAt:  requestcontext.Now(ctx),
		Rows:        len(rewritten),
	}
	tx.OnRollback(ctx, func() { s.restoreSubject(subject, tokenID, key, history) })
	return len(rewritten), nil
}

// restoreSubject reverses a rolled-back redaction. Subject appends are refused
// while the marker exists, so history is still the subject's full log.
func (s *InMemory) restoreSubject(subject, token id.SubjectID, key string, history []*models.Event) {
	lock := s.subjectShard(subject)
	lock.Lock()
	defer lock.Unlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.events, token)
	delete(s.redactions, key)
	if len(history) > 0 {
		s.events[subject] = history
	}
}

// FindRedaction returns the marker for subject or sentinel.ErrNotFound.
func (s *InMemory) FindRedaction(_ context.Context, subject id.SubjectID) (*models.Redaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.redactions[subjectKey(s.hasher, subject)]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	out := *r
	return &out, nil
}

func latestFor(history []*models.Event, purpose id.PurposeID) *models.Event {
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].PurposeID == purpose {
			return history[i]
		}
	}
	return nil
}

func compareEvents(a, b *models.Event) int {
	if c := a.Timestamp.Compare(b.Timestamp); c != 0 {
		return c
	}
	switch {
	case a.Seq < b.Seq:
		return -1
	case a.Seq > b.Seq:
		return 1
	}
	return 0
}
