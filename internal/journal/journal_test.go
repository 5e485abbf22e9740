package journal

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/micro-ha/ble-radar/internal/events"
	"github.com/micro-ha/ble-radar/internal/model"
)

type memoryStore struct {
	entries []model.JournalEntry
	err     error
}

func (s *memoryStore) AppendJournal(_ context.Context, entry model.JournalEntry) error {
	if s.err != nil {
		return s.err
	}
	s.entries = append(s.entries, entry)
	return nil
}

func (s *memoryStore) ListJournal(_ context.Context, limit int) ([]model.JournalEntry, error) {
	if limit > len(s.entries) {
		limit = len(s.entries)
	}
	return s.entries[:limit], nil
}

func TestReportStoresAndPublishes(t *testing.T) {
	store := &memoryStore{}
	hub := events.NewHub(1, nil)
	ch, cancel := hub.Subscribe()
	defer cancel()
	j := New(store, hub, nil)

	err := j.Report(context.Background(), model.NewErrorReport("title", "details"))

	require.NoError(t, err)
	require.Len(t, store.entries, 1)
	entry := store.entries[0]
	_, parseErr := uuid.Parse(entry.ID)
	assert.NoError(t, parseErr)
	assert.False(t, entry.CreatedAt.IsZero())

	event := <-ch
	assert.Equal(t, events.KindJournal, event.Kind)
	assert.Equal(t, entry, event.Payload)
}

func TestReportDoesNotPublishOnStoreFailure(t *testing.T) {
	store := &memoryStore{err: errors.New("locked")}
	hub := events.NewHub(1, nil)
	ch, cancel := hub.Subscribe()
	defer cancel()
	j := New(store, hub, nil)

	err := j.Report(context.Background(), model.NewErrorReport("title", ""))

	assert.ErrorIs(t, err, store.err)
	assert.Empty(t, ch)
}
