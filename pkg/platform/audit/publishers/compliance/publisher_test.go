package compliance

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	audit "consentledger/pkg/platform/audit"
	"consentledger/pkg/platform/audit/store/memory"
)

type failingStore struct {
	audit.Store
}

func (failingStore) Append(context.Context, audit.Event) error {
	return errors.New("outbox unavailable")
}

func TestPublisher_Emit(t *testing.T) {
	ctx := context.Background()

	t.Run("persists compliance events with a timestamp", func(t *testing.T) {
		store := memory.NewInMemoryStore()
		pub := New(store)
		fixed := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
		pub.now = func() time.Time { return fixed }

		err := pub.Emit(ctx, audit.ComplianceEvent{
			SubjectHash:    "abc",
			Action:         audit.EventConsentGranted,
			Purpose:        "marketing",
			PurposeVersion: 2,
			Decision:       "granted",
		})
		require.NoError(t, err)

		events, err := store.ListBySubject(ctx, "abc")
		require.NoError(t, err)
		require.Len(t, events, 1)
		assert.Equal(t, audit.CategoryCompliance, events[0].Category)
		assert.Equal(t, fixed, events[0].Timestamp)
		assert.Equal(t, 2, events[0].PurposeVersion)
	})

	t.Run("rejects non-compliance actions", func(t *testing.T) {
		pub := New(memory.NewInMemoryStore())
		err := pub.Emit(ctx, audit.ComplianceEvent{Action: audit.EventAnonymizationDenied})
		require.Error(t, err)
	})

	t.Run("fails closed when the store fails", func(t *testing.T) {
		pub := New(failingStore{})
		err := pub.Emit(ctx, audit.ComplianceEvent{Action: audit.EventSubjectAnonymized})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "outbox unavailable")
	})
}
