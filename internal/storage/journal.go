package storage

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/micro-ha/ble-radar/internal/model"
)

// AppendJournal stores one journal entry.
func (r *Repository) AppendJournal(ctx context.Context, entry model.JournalEntry) error {
	addresses := entry.Addresses
	if addresses == nil {
		addresses = []string{}
	}
	addressesJSON, err := encodeJSON(addresses)
	if err != nil {
		return err
	}
	var lat, lng, locationMs any
	if entry.Location != nil {
		lat, lng, locationMs = entry.Location.Latitude, entry.Location.Longitude, toMillis(entry.Location.Time)
	}
	var profileID any
	if entry.ProfileID != nil {
		profileID = *entry.ProfileID
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO journal (id, created_ms, kind, profile_id, profile_name, addresses_json, latitude, longitude, location_ms, title, details)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ID, toMillis(entry.CreatedAt), string(entry.Kind), profileID, entry.ProfileName, addressesJSON,
		lat, lng, locationMs, entry.Title, entry.Details)
	return err
}

// ListJournal returns the newest entries first.
func (r *Repository) ListJournal(ctx context.Context, limit int) ([]model.JournalEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, created_ms, kind, profile_id, profile_name, addresses_json, latitude, longitude, location_ms, title, details
		FROM journal
		ORDER BY created_ms DESC, rowid DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.JournalEntry
	for rows.Next() {
		var (
			entry                      model.JournalEntry
			createdMs                  int64
			kind, addressesJSON        string
			profileID, locationMs      sql.NullInt64
			profileName, title, detail sql.NullString
			lat, lng                   sql.NullFloat64
		)
		if err := rows.Scan(&entry.ID, &createdMs, &kind, &profileID, &profileName, &addressesJSON,
			&lat, &lng, &locationMs, &title, &detail); err != nil {
			return nil, err
		}
		entry.CreatedAt = fromMillis(createdMs)
		entry.Kind = model.JournalKind(kind)
		if profileID.Valid {
			id := profileID.Int64
			entry.ProfileID = &id
		}
		entry.ProfileName = profileName.String
		entry.Title = title.String
		entry.Details = detail.String
		if err := decodeJSON(addressesJSON, &entry.Addresses); err != nil {
			return nil, fmt.Errorf("journal %s addresses: %w", entry.ID, err)
		}
		if len(entry.Addresses) == 0 {
			entry.Addresses = nil
		}
		if lat.Valid && lng.Valid {
			entry.Location = &model.Location{Latitude: lat.Float64, Longitude: lng.Float64, Time: fromMillis(locationMs.Int64)}
		}
		out = append(out, entry)
	}
	return out, rows.Err()
}
