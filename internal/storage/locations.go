package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/micro-ha/ble-radar/internal/model"
)

// SaveLocation records a location and links it to the given addresses.
func (r *Repository) SaveLocation(ctx context.Context, location model.Location, addresses []string) (model.Location, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return model.Location{}, err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`INSERT INTO locations (latitude, longitude, time_ms) VALUES (?, ?, ?)`,
		location.Latitude, location.Longitude, toMillis(location.Time))
	if err != nil {
		return model.Location{}, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return model.Location{}, err
	}
	location.ID = id

	if len(addresses) > 0 {
		stmt, err := tx.PrepareContext(ctx, `INSERT OR IGNORE INTO device_to_location (address, location_id) VALUES (?, ?)`)
		if err != nil {
			return model.Location{}, err
		}
		defer stmt.Close()
		for _, address := range addresses {
			if _, err := stmt.ExecContext(ctx, address, id); err != nil {
				return model.Location{}, fmt.Errorf("link %s to location %d: %w", address, id, err)
			}
		}
	}
	if err := tx.Commit(); err != nil {
		return model.Location{}, err
	}
	return location, nil
}

// LocationsForDevice returns locations linked to address within [from, to].
func (r *Repository) LocationsForDevice(ctx context.Context, address string, from, to time.Time) ([]model.Location, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT l.id, l.latitude, l.longitude, l.time_ms
		FROM locations l
		JOIN device_to_location dl ON dl.location_id = l.id
		WHERE dl.address = ? AND l.time_ms BETWEEN ? AND ?
		ORDER BY l.time_ms`, address, toMillis(from), toMillis(to))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Location
	for rows.Next() {
		var (
			location model.Location
			timeMs   int64
		)
		if err := rows.Scan(&location.ID, &location.Latitude, &location.Longitude, &timeMs); err != nil {
			return nil, err
		}
		location.Time = fromMillis(timeMs)
		out = append(out, location)
	}
	return out, rows.Err()
}
