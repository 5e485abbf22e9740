package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/micro-ha/ble-radar/internal/model"
	"github.com/micro-ha/ble-radar/internal/pkg/utils"
)

const profileColumns = `id, name, description, active, cooldown_ms, filter_json`

// ListProfiles returns every profile ordered by id.
func (r *Repository) ListProfiles(ctx context.Context) ([]model.RadarProfile, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+profileColumns+` FROM radar_profiles ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.RadarProfile
	for rows.Next() {
		profile, err := scanProfile(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, profile)
	}
	return out, rows.Err()
}

// GetProfile returns ErrNotFound for an unknown id.
func (r *Repository) GetProfile(ctx context.Context, id int64) (model.RadarProfile, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+profileColumns+` FROM radar_profiles WHERE id = ?`, id)
	profile, err := scanProfile(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.RadarProfile{}, ErrNotFound
	}
	return profile, err
}

// CreateProfile inserts a profile and returns it with its new id.
func (r *Repository) CreateProfile(ctx context.Context, profile model.RadarProfile) (model.RadarProfile, error) {
	filterJSON, err := model.EncodeFilter(profile.Filter)
	if err != nil {
		return model.RadarProfile{}, err
	}
	now := utils.NowUTC().Format(time.RFC3339Nano)
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO radar_profiles (name, description, active, cooldown_ms, filter_json, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		profile.Name, profile.Description, profile.Active, profile.Cooldown.Milliseconds(), string(filterJSON), now, now)
	if err != nil {
		if utils.IsUniqueConstraintError(err) {
			return model.RadarProfile{}, ErrDuplicateProfile
		}
		return model.RadarProfile{}, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return model.RadarProfile{}, err
	}
	profile.ID = id
	return profile, nil
}

// UpdateProfile replaces a stored profile.
func (r *Repository) UpdateProfile(ctx context.Context, profile model.RadarProfile) error {
	filterJSON, err := model.EncodeFilter(profile.Filter)
	if err != nil {
		return err
	}
	res, err := r.db.ExecContext(ctx, `
		UPDATE radar_profiles
		SET name = ?, description = ?, active = ?, cooldown_ms = ?, filter_json = ?, updated_at = ?
		WHERE id = ?`,
		profile.Name, profile.Description, profile.Active, profile.Cooldown.Milliseconds(), string(filterJSON),
		utils.NowUTC().Format(time.RFC3339Nano), profile.ID)
	if err != nil {
		if utils.IsUniqueConstraintError(err) {
			return ErrDuplicateProfile
		}
		return err
	}
	return requireAffected(res)
}

// DeleteProfile removes a profile and, by cascade, its detect log.
func (r *Repository) DeleteProfile(ctx context.Context, id int64) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM radar_profiles WHERE id = ?`, id)
	if err != nil {
		return err
	}
	return requireAffected(res)
}

// SaveProfileDetects appends match events in one transaction.
func (r *Repository) SaveProfileDetects(ctx context.Context, detects []model.ProfileDetect) error {
	if len(detects) == 0 {
		return nil
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO profile_detects (profile_id, triggered_ms, address) VALUES (?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, detect := range detects {
		if _, err := stmt.ExecContext(ctx, detect.ProfileID, toMillis(detect.TriggeredAt), detect.Address); err != nil {
			return fmt.Errorf("insert detect for profile %d: %w", detect.ProfileID, err)
		}
	}
	return tx.Commit()
}

// LatestProfileDetect returns nil when the profile never matched.
func (r *Repository) LatestProfileDetect(ctx context.Context, profileID int64) (*model.ProfileDetect, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT profile_id, triggered_ms, address FROM profile_detects
		WHERE profile_id = ?
		ORDER BY triggered_ms DESC, id DESC
		LIMIT 1`, profileID)
	var (
		detect      model.ProfileDetect
		triggeredMs int64
	)
	if err := row.Scan(&detect.ProfileID, &triggeredMs, &detect.Address); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	detect.TriggeredAt = fromMillis(triggeredMs)
	return &detect, nil
}

// ListProfileDetects returns the newest detects of a profile.
func (r *Repository) ListProfileDetects(ctx context.Context, profileID int64, limit int) ([]model.ProfileDetect, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT profile_id, triggered_ms, address FROM profile_detects
		WHERE profile_id = ?
		ORDER BY triggered_ms DESC, id DESC
		LIMIT ?`, profileID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.ProfileDetect
	for rows.Next() {
		var (
			detect      model.ProfileDetect
			triggeredMs int64
		)
		if err := rows.Scan(&detect.ProfileID, &triggeredMs, &detect.Address); err != nil {
			return nil, err
		}
		detect.TriggeredAt = fromMillis(triggeredMs)
		out = append(out, detect)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProfile(row rowScanner) (model.RadarProfile, error) {
	var (
		profile    model.RadarProfile
		cooldownMs int64
		filterJSON string
	)
	if err := row.Scan(&profile.ID, &profile.Name, &profile.Description, &profile.Active, &cooldownMs, &filterJSON); err != nil {
		return model.RadarProfile{}, err
	}
	profile.Cooldown = time.Duration(cooldownMs) * time.Millisecond
	node, err := model.DecodeFilter([]byte(filterJSON))
	if err != nil {
		return model.RadarProfile{}, fmt.Errorf("profile %d filter: %w", profile.ID, err)
	}
	profile.Filter = node
	return profile, nil
}
