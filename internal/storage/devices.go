package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/micro-ha/ble-radar/internal/model"
	"github.com/micro-ha/ble-radar/internal/pkg/utils"
)

const deviceColumns = `address, name, custom_name, first_detect_ms, last_detect_ms, detect_count, favorite,
	tags_json, manufacturer_json, rssi, address_type, device_class, paired, connectable,
	service_uuids_json, raw_advertisement, metadata_json`

// DevicesByAddresses loads the stored records for addresses. Missing
// addresses are absent from the result.
func (r *Repository) DevicesByAddresses(ctx context.Context, addresses []string) (map[string]model.DeviceRecord, error) {
	result := make(map[string]model.DeviceRecord, len(addresses))
	for _, batch := range utils.SplitToBatches(addresses, maxQueryVariables) {
		args := make([]any, len(batch))
		for i, address := range batch {
			args[i] = address
		}
		rows, err := r.db.QueryContext(ctx,
			`SELECT `+deviceColumns+` FROM devices WHERE address IN (`+placeholders(len(batch))+`)`,
			args...)
		if err != nil {
			return nil, err
		}
		devices, err := scanDevices(rows)
		if err != nil {
			return nil, err
		}
		for _, device := range devices {
			result[device.Address] = device
		}
	}
	return result, nil
}

// GetDevice returns ErrNotFound for an unknown address.
func (r *Repository) GetDevice(ctx context.Context, address string) (model.DeviceRecord, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+deviceColumns+` FROM devices WHERE address = ?`, address)
	if err != nil {
		return model.DeviceRecord{}, err
	}
	devices, err := scanDevices(rows)
	if err != nil {
		return model.DeviceRecord{}, err
	}
	if len(devices) == 0 {
		return model.DeviceRecord{}, ErrNotFound
	}
	return devices[0], nil
}

// ListDevices returns every device, most recently seen first.
func (r *Repository) ListDevices(ctx context.Context) ([]model.DeviceRecord, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+deviceColumns+` FROM devices ORDER BY last_detect_ms DESC, address`)
	if err != nil {
		return nil, err
	}
	return scanDevices(rows)
}

// SaveScanBatch upserts merged devices and AirDrop contacts in one
// transaction. Nothing is written if any row fails. User fields and
// fetched metadata of an existing row are never overwritten here: they
// have their own writers which may commit between the merge read and
// this write.
func (r *Repository) SaveScanBatch(ctx context.Context, devices []model.DeviceRecord, contacts []model.AirdropContact) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	deviceStmt, err := tx.PrepareContext(ctx, `
		INSERT INTO devices (`+deviceColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(address) DO UPDATE SET
			name=excluded.name,
			first_detect_ms=excluded.first_detect_ms,
			last_detect_ms=excluded.last_detect_ms,
			detect_count=excluded.detect_count,
			manufacturer_json=excluded.manufacturer_json,
			rssi=excluded.rssi,
			address_type=excluded.address_type,
			device_class=excluded.device_class,
			paired=excluded.paired,
			connectable=excluded.connectable,
			service_uuids_json=excluded.service_uuids_json,
			raw_advertisement=excluded.raw_advertisement,
			metadata_json=COALESCE(devices.metadata_json, excluded.metadata_json)`)
	if err != nil {
		return err
	}
	defer deviceStmt.Close()

	for _, device := range devices {
		args, err := deviceArgs(device)
		if err != nil {
			return fmt.Errorf("encode device %s: %w", device.Address, err)
		}
		if _, err := deviceStmt.ExecContext(ctx, args...); err != nil {
			return fmt.Errorf("upsert device %s: %w", device.Address, err)
		}
	}

	if len(contacts) > 0 {
		contactStmt, err := tx.PrepareContext(ctx, `
			INSERT INTO airdrop_contacts (sha256, associated_address, last_detect_ms)
			VALUES (?, ?, ?)
			ON CONFLICT(sha256) DO UPDATE SET
				associated_address=excluded.associated_address,
				last_detect_ms=excluded.last_detect_ms`)
		if err != nil {
			return err
		}
		defer contactStmt.Close()

		for _, contact := range contacts {
			if _, err := contactStmt.ExecContext(ctx, contact.SHA256, contact.AssociatedAddress, toMillis(contact.LastDetectionAt)); err != nil {
				return fmt.Errorf("upsert airdrop contact %d: %w", contact.SHA256, err)
			}
		}
	}
	return tx.Commit()
}

// SaveDeviceMetadata replaces only the metadata column so a concurrent merge
// of the same device is not overwritten with stale values.
func (r *Repository) SaveDeviceMetadata(ctx context.Context, address string, metadata model.DeviceMetadata) error {
	raw, err := encodeJSON(metadata)
	if err != nil {
		return err
	}
	res, err := r.db.ExecContext(ctx, `UPDATE devices SET metadata_json = ? WHERE address = ?`, raw, address)
	if err != nil {
		return err
	}
	return requireAffected(res)
}

// UpdateDeviceUserFields applies user edits and returns the updated record.
func (r *Repository) UpdateDeviceUserFields(ctx context.Context, address string, fields model.DeviceUserFields) (model.DeviceRecord, error) {
	sets := make([]string, 0, 3)
	args := make([]any, 0, 4)
	if fields.CustomName != nil {
		sets = append(sets, "custom_name = ?")
		args = append(args, strings.TrimSpace(*fields.CustomName))
	}
	if fields.Favorite != nil {
		sets = append(sets, "favorite = ?")
		args = append(args, *fields.Favorite)
	}
	if fields.Tags != nil {
		raw, err := encodeJSON(model.NormalizeTags(fields.Tags))
		if err != nil {
			return model.DeviceRecord{}, err
		}
		sets = append(sets, "tags_json = ?")
		args = append(args, raw)
	}
	if len(sets) > 0 {
		args = append(args, address)
		res, err := r.db.ExecContext(ctx, `UPDATE devices SET `+strings.Join(sets, ", ")+` WHERE address = ?`, args...)
		if err != nil {
			return model.DeviceRecord{}, err
		}
		if err := requireAffected(res); err != nil {
			return model.DeviceRecord{}, err
		}
	}
	return r.GetDevice(ctx, address)
}

// DeleteDevice purges a device and its location links.
func (r *Repository) DeleteDevice(ctx context.Context, address string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM device_to_location WHERE address = ?`, address); err != nil {
		return err
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM devices WHERE address = ?`, address)
	if err != nil {
		return err
	}
	if err := requireAffected(res); err != nil {
		return err
	}
	return tx.Commit()
}

func deviceArgs(device model.DeviceRecord) ([]any, error) {
	tags := device.Tags
	if tags == nil {
		tags = []string{}
	}
	tagsJSON, err := encodeJSON(tags)
	if err != nil {
		return nil, err
	}
	uuids := device.ServiceUUIDs
	if uuids == nil {
		uuids = []string{}
	}
	uuidsJSON, err := encodeJSON(uuids)
	if err != nil {
		return nil, err
	}
	var manufacturerJSON, metadataJSON any
	if device.Manufacturer != nil {
		if manufacturerJSON, err = encodeJSON(device.Manufacturer); err != nil {
			return nil, err
		}
	}
	if device.Metadata != nil {
		if metadataJSON, err = encodeJSON(device.Metadata); err != nil {
			return nil, err
		}
	}
	return []any{
		device.Address,
		device.Name,
		device.CustomName,
		toMillis(device.FirstDetectAt),
		toMillis(device.LastDetectAt),
		device.DetectCount,
		device.Favorite,
		tagsJSON,
		manufacturerJSON,
		nullableInt(device.RSSI),
		nullableInt(device.AddressType),
		nullableInt(device.DeviceClass),
		device.Paired,
		device.Connectable,
		uuidsJSON,
		device.RawAdvertisement,
		metadataJSON,
	}, nil
}

func scanDevices(rows *sql.Rows) ([]model.DeviceRecord, error) {
	defer rows.Close()

	var out []model.DeviceRecord
	for rows.Next() {
		var (
			device                         model.DeviceRecord
			firstMs, lastMs                int64
			tagsJSON, uuidsJSON            string
			manufacturerJSON, metadataJSON sql.NullString
			rssi, addressType, deviceClass sql.NullInt64
		)
		if err := rows.Scan(
			&device.Address,
			&device.Name,
			&device.CustomName,
			&firstMs,
			&lastMs,
			&device.DetectCount,
			&device.Favorite,
			&tagsJSON,
			&manufacturerJSON,
			&rssi,
			&addressType,
			&deviceClass,
			&device.Paired,
			&device.Connectable,
			&uuidsJSON,
			&device.RawAdvertisement,
			&metadataJSON,
		); err != nil {
			return nil, err
		}
		device.FirstDetectAt = fromMillis(firstMs)
		device.LastDetectAt = fromMillis(lastMs)
		device.RSSI = intPtr(rssi)
		device.AddressType = intPtr(addressType)
		device.DeviceClass = intPtr(deviceClass)
		if err := decodeJSON(tagsJSON, &device.Tags); err != nil {
			return nil, fmt.Errorf("device %s tags: %w", device.Address, err)
		}
		if err := decodeJSON(uuidsJSON, &device.ServiceUUIDs); err != nil {
			return nil, fmt.Errorf("device %s service uuids: %w", device.Address, err)
		}
		if len(device.ServiceUUIDs) == 0 {
			device.ServiceUUIDs = nil
		}
		if manufacturerJSON.Valid {
			device.Manufacturer = &model.ManufacturerInfo{}
			if err := decodeJSON(manufacturerJSON.String, device.Manufacturer); err != nil {
				return nil, fmt.Errorf("device %s manufacturer: %w", device.Address, err)
			}
		}
		if metadataJSON.Valid {
			device.Metadata = &model.DeviceMetadata{}
			if err := decodeJSON(metadataJSON.String, device.Metadata); err != nil {
				return nil, fmt.Errorf("device %s metadata: %w", device.Address, err)
			}
		}
		out = append(out, device)
	}
	return out, rows.Err()
}

func requireAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// IsNotFound reports whether err wraps ErrNotFound or sql.ErrNoRows.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound) || errors.Is(err, sql.ErrNoRows)
}
