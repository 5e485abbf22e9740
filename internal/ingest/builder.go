package ingest

import (
	"strings"
	"time"

	"github.com/micro-ha/ble-radar/internal/model"
)

// ManufacturerDecoder turns raw advertisement bytes into manufacturer info.
type ManufacturerDecoder interface {
	Decode(raw []byte, address string, at time.Time) *model.ManufacturerInfo
}

// Builder converts radio snapshots into fresh device records.
type Builder struct {
	decoder ManufacturerDecoder
}

func NewBuilder(decoder ManufacturerDecoder) *Builder {
	return &Builder{decoder: decoder}
}

// Build returns a record for a first sighting of the snapshot's address.
func (b *Builder) Build(snapshot model.DeviceSnapshot) model.DeviceRecord {
	address := model.NormalizeAddress(snapshot.Address)
	record := model.DeviceRecord{
		Address:          address,
		Name:             strings.TrimSpace(snapshot.Name),
		FirstDetectAt:    snapshot.ScannedAt,
		LastDetectAt:     snapshot.ScannedAt,
		DetectCount:      1,
		Tags:             []string{},
		RSSI:             snapshot.RSSI,
		AddressType:      snapshot.AddressType,
		DeviceClass:      snapshot.DeviceClass,
		Paired:           snapshot.Paired,
		Connectable:      snapshot.Connectable,
		ServiceUUIDs:     normalizeUUIDs(snapshot.ServiceUUIDs),
		RawAdvertisement: snapshot.RawAdvertisement,
	}
	if b.decoder != nil && len(snapshot.RawAdvertisement) > 0 {
		record.Manufacturer = b.decoder.Decode(snapshot.RawAdvertisement, address, snapshot.ScannedAt)
	}
	return record
}

func normalizeUUIDs(uuids []string) []string {
	if len(uuids) == 0 {
		return nil
	}
	out := make([]string, 0, len(uuids))
	for _, id := range uuids {
		id = strings.ToLower(strings.TrimSpace(id))
		if id != "" {
			out = append(out, id)
		}
	}
	return out
}
