package event

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"consentledger/internal/consent/models"
	id "consentledger/pkg/domain"
	"consentledger/pkg/platform/pseudonym"
	"consentledger/pkg/platform/sentinel"
	"consentledger/pkg/platform/tx"
)

type purposeSet map[id.PurposeID]bool

func (p purposeSet) Exists(_ context.Context, purposeID id.PurposeID) (bool, error) {
	return p[purposeID], nil
}

type EventStoreSuite struct {
	suite.Suite
	store *InMemory
	ctx   context.Context
	t0    time.Time
}

func TestEventStoreSuite(t *testing.T) {
	suite.Run(t, new(EventStoreSuite))
}

func (s *EventStoreSuite) SetupTest() {
	hasher, err := pseudonym.New([]byte("0123456789abcdef-test-pepper"))
	s.Require().NoError(err)
	s.store = NewInMemory(purposeSet{"marketing": true, "analytics": true}, hasher)
	s.ctx = context.Background()
	s.t0 = time.Date(2026, 2, 1, 9, 0, 0, 0, time.UTC)
}

func (s *EventStoreSuite) event(subject id.SubjectID, purpose id.PurposeID, granted bool, at time.Time) *models.Event {
	return &models.Event{
		SubjectID:      subject,
		PurposeID:      purpose,
		PurposeVersion: 1,
		Granted:        granted,
		Timestamp:      at,
		SourceContext:  "desktop:abc",
	}
}

func (s *EventStoreSuite) TestAppend() {
	s.Run("assigns id and increasing seq", func() {
		first := s.event("s1", "marketing", true, s.t0)
		eventID, err := s.store.Append(s.ctx, first)
		s.Require().NoError(err)
		s.False(eventID.IsNil())
		s.Equal(eventID, first.ID)

		second := s.event("s1", "analytics", true, s.t0)
		_, err = s.store.Append(s.ctx, second)
		s.Require().NoError(err)
		s.Greater(second.Seq, first.Seq)
	})

	s.Run("rejects unknown purpose", func() {
		_, err := s.store.Append(s.ctx, s.event("s1", "unknown", true, s.t0))
		s.ErrorIs(err, sentinel.ErrUnknownReference)
	})

	s.Run("rejects backdated event and leaves the store unchanged", func() {
		before, err := s.store.QueryHistory(s.ctx, "s1")
		s.Require().NoError(err)

		_, err = s.store.Append(s.ctx, s.event("s1", "marketing", false, s.t0.Add(-time.Second)))
		s.ErrorIs(err, sentinel.ErrOutOfOrder)

		after, err := s.store.QueryHistory(s.ctx, "s1")
		s.Require().NoError(err)
		s.Equal(before, after)
	})

	s.Run("backdating is per pair", func() {
		_, err := s.store.Append(s.ctx, s.event("s2", "marketing", true, s.t0.Add(-time.Hour)))
		s.NoError(err)
	})
}

func (s *EventStoreSuite) TestQueryLatest() {
	s.Run("none yields nil without error", func() {
		latest, err := s.store.QueryLatest(s.ctx, "nobody", "marketing")
		s.Require().NoError(err)
		s.Nil(latest)
	})

	s.Run("equal timestamps resolve to the later insertion", func() {
		_, err := s.store.Append(s.ctx, s.event("s1", "marketing", true, s.t0))
		s.Require().NoError(err)
		_, err = s.store.Append(s.ctx, s.event("s1", "marketing", false, s.t0))
		s.Require().NoError(err)

		latest, err := s.store.QueryLatest(s.ctx, "s1", "marketing")
		s.Require().NoError(err)
		s.False(latest.Granted)
	})

	s.Run("latest per purpose", func() {
		_, err := s.store.Append(s.ctx, s.event("s1", "analytics", true, s.t0.Add(time.Minute)))
		s.Require().NoError(err)

		latest, err := s.store.QueryLatestForPurposes(s.ctx, "s1", []id.PurposeID{"marketing", "analytics", "newsletter"})
		s.Require().NoError(err)
		s.Len(latest, 2)
		s.False(latest["marketing"].Granted)
		s.True(latest["analytics"].Granted)
	})
}

func (s *EventStoreSuite) TestQueryHistoryOrdered() {
	_, err := s.store.Append(s.ctx, s.event("s1", "marketing", true, s.t0.Add(2*time.Minute)))
	s.Require().NoError(err)
	_, err = s.store.Append(s.ctx, s.event("s1", "analytics", true, s.t0))
	s.Require().NoError(err)
	_, err = s.store.Append(s.ctx, s.event("s1", "analytics", false, s.t0.Add(time.Minute)))
	s.Require().NoError(err)

	history, err := s.store.QueryHistory(s.ctx, "s1")
	s.Require().NoError(err)
	s.Require().Len(history, 3)
	s.Equal(s.t0, history[0].Timestamp)
	s.Equal(s.t0.Add(time.Minute), history[1].Timestamp)
	s.Equal(s.t0.Add(2*time.Minute), history[2].Timestamp)

	empty, err := s.store.QueryHistory(s.ctx, "nobody")
	s.Require().NoError(err)
	s.Empty(empty)
}

func (s *EventStoreSuite) TestRedactSubject() {
	for i := range 3 {
		_, err := s.store.Append(s.ctx, s.event("s1", "marketing", i%2 == 0, s.t0.Add(time.Duration(i)*time.Minute)))
		s.Require().NoError(err)
	}
	_, err := s.store.Append(s.ctx, s.event("s2", "marketing", true, s.t0))
	s.Require().NoError(err)

	n, err := s.store.RedactSubject(s.ctx, "s1", "anon_token")
	s.Require().NoError(err)
	s.Equal(3, n)

	s.Run("original identity has no history", func() {
		history, err := s.store.QueryHistory(s.ctx, "s1")
		s.Require().NoError(err)
		s.Empty(history)
	})

	s.Run("token addresses the redacted history", func() {
		history, err := s.store.QueryHistory(s.ctx, "anon_token")
		s.Require().NoError(err)
		s.Require().Len(history, 3)
		for i, e := range history {
			s.Equal(id.SubjectID("anon_token"), e.SubjectID)
			s.Equal("anon_token", e.SourceContext)
			s.Equal(id.PurposeID("marketing"), e.PurposeID)
			s.Equal(s.t0.Add(time.Duration(i)*time.Minute), e.Timestamp)
		}
	})

	s.Run("other subjects are untouched", func() {
		history, err := s.store.QueryHistory(s.ctx, "s2")
		s.Require().NoError(err)
		s.Len(history, 1)
	})

	s.Run("marker is recorded without the raw id", func() {
		marker, err := s.store.FindRedaction(s.ctx, "s1")
		s.Require().NoError(err)
		s.Equal("anon_token", marker.Token)
		s.Equal(3, marker.Rows)
		s.NotContains(marker.SubjectHash, "s1")

		_, err = s.store.FindRedaction(s.ctx, "s2")
		s.ErrorIs(err, sentinel.ErrNotFound)
	})

	s.Run("redacted subject accepts no further events", func() {
		_, err := s.store.Append(s.ctx, s.event("s1", "marketing", true, s.t0.Add(time.Hour)))
		s.ErrorIs(err, sentinel.ErrRedacted)
	})

	s.Run("second redaction reports ErrRedacted", func() {
		_, err := s.store.RedactSubject(s.ctx, "s1", "anon_other")
		s.ErrorIs(err, sentinel.ErrRedacted)
	})
}

// TestConcurrentSamePairAppends verifies the no-backdating check cannot be
// raced: every accepted event is at or after every earlier-sequenced event.
func (s *EventStoreSuite) TestConcurrentSamePairAppends() {
	const writers = 50
	var (
		wg       sync.WaitGroup
		accepted atomic.Int32
	)
	for i := range writers {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			at := s.t0.Add(time.Duration(i%10) * time.Second)
			if _, err := s.store.Append(s.ctx, s.event("s1", "marketing", true, at)); err == nil {
				accepted.Add(1)
			} else {
				s.ErrorIs(err, sentinel.ErrOutOfOrder)
			}
		}(i)
	}
	wg.Wait()

	history, err := s.store.QueryHistory(s.ctx, "s1")
	s.Require().NoError(err)
	s.Len(history, int(accepted.Load()))

	for _, e := range history {
		for _, other := range history {
			if other.Seq < e.Seq {
				s.False(e.Timestamp.Before(other.Timestamp), "event seq %d backdated before seq %d", e.Seq, other.Seq)
			}
		}
	}
}

// TestRedactionExcludesAppends runs appends against a subject while it is
// being redacted: each append lands either entirely before the redaction (and
// is rewritten) or fails with ErrRedacted.
func (s *EventStoreSuite) TestRedactionExcludesAppends() {
	const writers = 40
	var (
		wg       sync.WaitGroup
		accepted atomic.Int32
		start    = make(chan struct{})
	)
	for i := range writers {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			purpose := id.PurposeID("marketing")
			if i%2 == 0 {
				purpose = "analytics"
			}
			e := s.event("s1", purpose, true, s.t0.Add(time.Duration(i)*time.Millisecond))
			_, err := s.store.Append(s.ctx, e)
			if err == nil {
				accepted.Add(1)
				return
			}
			s.True(isOneOf(err, sentinel.ErrRedacted, sentinel.ErrOutOfOrder), "unexpected error %v", err)
		}(i)
	}

	var redacted int
	wg.Add(1)
	go func() {
		defer wg.Done()
		<-start
		n, err := s.store.RedactSubject(s.ctx, "s1", "anon_concurrent")
		s.NoError(err)
		redacted = n
	}()
	close(start)
	wg.Wait()

	original, err := s.store.QueryHistory(s.ctx, "s1")
	s.Require().NoError(err)
	s.Empty(original, "no event may land under the original id after redaction")
	s.Equal(int(accepted.Load()), redacted, "every accepted append is rewritten")
}

func (s *EventStoreSuite) TestRollbackUndoesWrites() {
	runner := tx.NewShardedRunner(time.Second)
	errEmit := errors.New("emit failed")

	s.Run("append", func() {
		_, err := s.store.Append(s.ctx, s.event("s1", "marketing", true, s.t0))
		s.Require().NoError(err)

		err = runner.RunInTx(s.ctx, func(ctx context.Context) error {
			if _, err := s.store.Append(ctx, s.event("s1", "marketing", false, s.t0.Add(time.Minute))); err != nil {
				return err
			}
			return errEmit
		})
		s.ErrorIs(err, errEmit)

		history, err := s.store.QueryHistory(s.ctx, "s1")
		s.Require().NoError(err)
		s.Require().Len(history, 1)
		s.True(history[0].Granted)
	})

	s.Run("redaction", func() {
		err := runner.RunInTx(s.ctx, func(ctx context.Context) error {
			if _, err := s.store.RedactSubject(ctx, "s1", "anon_rolled-back"); err != nil {
				return err
			}
			return errEmit
		})
		s.ErrorIs(err, errEmit)

		_, err = s.store.FindRedaction(s.ctx, "s1")
		s.ErrorIs(err, sentinel.ErrNotFound)
		history, err := s.store.QueryHistory(s.ctx, "s1")
		s.Require().NoError(err)
		s.Len(history, 1)
		tokenHistory, err := s.store.QueryHistory(s.ctx, "anon_rolled-back")
		s.Require().NoError(err)
		s.Empty(tokenHistory)

		_, err = s.store.Append(s.ctx, s.event("s1", "marketing", false, s.t0.Add(2*time.Minute)))
		s.NoError(err)
	})
}

func isOneOf(err error, targets ...error) bool {
	for _, t := range targets {
		if errors.Is(err, t) {
			return true
		}
	}
	return false
}
