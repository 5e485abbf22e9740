// Package journal records user visible reports and pushes them to live
// subscribers.
package journal

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/micro-ha/ble-radar/internal/events"
	"github.com/micro-ha/ble-radar/internal/model"
)

// Store persists journal entries.
type Store interface {
	AppendJournal(ctx context.Context, entry model.JournalEntry) error
	ListJournal(ctx context.Context, limit int) ([]model.JournalEntry, error)
}

// Publisher fans entries out to subscribers.
type Publisher interface {
	Publish(event events.Event)
}

// Journal is the report sink shared by the radar and the planner.
type Journal struct {
	store     Store
	publisher Publisher
	logger    *slog.Logger
	now       func() time.Time
}

func New(store Store, publisher Publisher, logger *slog.Logger) *Journal {
	if logger == nil {
		logger = slog.Default()
	}
	return &Journal{
		store:     store,
		publisher: publisher,
		logger:    logger.With("component", "journal"),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Report stamps entry with an id and time, stores it and publishes it.
func (j *Journal) Report(ctx context.Context, entry model.JournalEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = j.now()
	}
	if err := j.store.AppendJournal(ctx, entry); err != nil {
		return fmt.Errorf("append journal entry: %w", err)
	}
	j.logger.Info("journal entry",
		"kind", entry.Kind,
		"profile", entry.ProfileName,
		"devices", len(entry.Addresses),
		"title", entry.Title,
	)
	if j.publisher != nil {
		j.publisher.Publish(events.Event{Kind: events.KindJournal, At: entry.CreatedAt, Payload: entry})
	}
	return nil
}

// List returns the newest entries first.
func (j *Journal) List(ctx context.Context, limit int) ([]model.JournalEntry, error) {
	return j.store.ListJournal(ctx, limit)
}
