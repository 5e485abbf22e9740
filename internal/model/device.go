package model

import (
	"math"
	"sort"
	"strings"
	"time"
)

// AppleCompanyID and MicrosoftCompanyID are Bluetooth SIG company identifiers.
const (
	AppleCompanyID     = 0x004C
	MicrosoftCompanyID = 0x0006
)

// DistanceTxPower is the reference RSSI at one meter used by Distance.
const DistanceTxPower = -59.0

// DeviceSnapshot is one radio observation of an address in a scan cycle.
type DeviceSnapshot struct {
	Address          string
	Name             string
	ScannedAt        time.Time
	RawAdvertisement []byte
	RSSI             *int
	AddressType      *int
	DeviceClass      *int
	Paired           bool
	ServiceUUIDs     []string
	Connectable      bool
}

// AirdropContact is a contact hash decoded from Apple advertisement data.
type AirdropContact struct {
	SHA256            int       `json:"sha256"`
	AssociatedAddress string    `json:"associated_address"`
	LastDetectionAt   time.Time `json:"last_detection_at"`
}

// ManufacturerInfo is the decoded manufacturer specific data of a device.
type ManufacturerInfo struct {
	ID              int              `json:"id"`
	Name            string           `json:"name"`
	AirdropContacts []AirdropContact `json:"airdrop_contacts,omitempty"`
}

// DeviceRecord is the persistent identity of an address.
type DeviceRecord struct {
	Address          string            `json:"address"`
	Name             string            `json:"name,omitempty"`
	CustomName       string            `json:"custom_name,omitempty"`
	FirstDetectAt    time.Time         `json:"first_detect_at"`
	LastDetectAt     time.Time         `json:"last_detect_at"`
	DetectCount      int               `json:"detect_count"`
	Favorite         bool              `json:"favorite"`
	Tags             []string          `json:"tags"`
	Manufacturer     *ManufacturerInfo `json:"manufacturer,omitempty"`
	RSSI             *int              `json:"rssi,omitempty"`
	AddressType      *int              `json:"address_type,omitempty"`
	DeviceClass      *int              `json:"device_class,omitempty"`
	Paired           bool              `json:"paired"`
	Connectable      bool              `json:"connectable"`
	ServiceUUIDs     []string          `json:"service_uuids,omitempty"`
	RawAdvertisement []byte            `json:"raw_advertisement,omitempty"`
	Metadata         *DeviceMetadata   `json:"metadata,omitempty"`
}

// MergeWithNewDetected folds a fresh observation of the same address into r.
// Volatile fields take the newer values, user fields and first detection stay.
func (r DeviceRecord) MergeWithNewDetected(latest DeviceRecord) DeviceRecord {
	merged := r
	merged.Name = latest.Name
	merged.RSSI = latest.RSSI
	merged.Manufacturer = latest.Manufacturer
	merged.AddressType = latest.AddressType
	merged.DeviceClass = latest.DeviceClass
	merged.Paired = latest.Paired
	merged.Connectable = latest.Connectable
	merged.ServiceUUIDs = latest.ServiceUUIDs
	merged.RawAdvertisement = latest.RawAdvertisement
	merged.LastDetectAt = latest.LastDetectAt
	merged.DetectCount = r.DetectCount + 1
	if merged.Metadata == nil {
		merged.Metadata = latest.Metadata
	}
	return merged
}

// ResolvedName is the best known name without the user override.
func (r DeviceRecord) ResolvedName() string {
	if r.Metadata != nil {
		if name := r.Metadata.DisplayName(); name != "" {
			return name
		}
	}
	return r.Name
}

// DisplayName prefers the custom name, then the resolved name, then the address.
func (r DeviceRecord) DisplayName() string {
	if r.CustomName != "" {
		return r.CustomName
	}
	if name := r.ResolvedName(); name != "" {
		return name
	}
	return r.Address
}

// KnownLifetime is the span between first and last detection.
func (r DeviceRecord) KnownLifetime() time.Duration {
	return r.LastDetectAt.Sub(r.FirstDetectAt)
}

// Distance estimates meters to the device from RSSI. Nil when RSSI is unknown.
func (r DeviceRecord) Distance() *float64 {
	if r.RSSI == nil {
		return nil
	}
	ratio := float64(*r.RSSI) / DistanceTxPower
	var d float64
	if ratio < 1 {
		d = math.Pow(ratio, 10)
	} else {
		d = 0.89976*math.Pow(ratio, 7.7095) + 0.111
	}
	return &d
}

// HasTag reports tag membership ignoring case.
func (r DeviceRecord) HasTag(tag string) bool {
	for _, t := range r.Tags {
		if strings.EqualFold(t, tag) {
			return true
		}
	}
	return false
}

// ManufacturerID returns the company id or -1 when unknown.
func (r DeviceRecord) ManufacturerID() int {
	if r.Manufacturer == nil {
		return -1
	}
	return r.Manufacturer.ID
}

// NormalizeTags trims, deduplicates and sorts a tag list.
func NormalizeTags(tags []string) []string {
	seen := make(map[string]struct{}, len(tags))
	out := make([]string, 0, len(tags))
	for _, tag := range tags {
		tag = strings.TrimSpace(tag)
		if tag == "" {
			continue
		}
		key := strings.ToLower(tag)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, tag)
	}
	sort.Slice(out, func(i, j int) bool {
		return strings.ToLower(out[i]) < strings.ToLower(out[j])
	})
	return out
}

// NormalizeAddress upper-cases a colon separated hardware address.
func NormalizeAddress(address string) string {
	replacer := strings.NewReplacer("-", ":", ".", ":")
	return strings.ToUpper(strings.TrimSpace(replacer.Replace(address)))
}

// SavedDeviceHandle carries a merged record with the timestamps it had
// before the merge that produced it.
type SavedDeviceHandle struct {
	Device                  DeviceRecord
	PreviouslySeenAt        time.Time
	AirdropPreviouslySeenAt map[int]time.Time
}

// Adjusted returns the record as it looked before the current batch for
// time-window evaluation.
func (h SavedDeviceHandle) Adjusted() DeviceRecord {
	device := h.Device
	device.LastDetectAt = h.PreviouslySeenAt
	if device.Manufacturer != nil && len(device.Manufacturer.AirdropContacts) > 0 {
		manufacturer := *device.Manufacturer
		contacts := make([]AirdropContact, len(manufacturer.AirdropContacts))
		for i, contact := range manufacturer.AirdropContacts {
			if previous, ok := h.AirdropPreviouslySeenAt[contact.SHA256]; ok {
				contact.LastDetectionAt = previous
			} else {
				contact.LastDetectionAt = h.PreviouslySeenAt
			}
			contacts[i] = contact
		}
		manufacturer.AirdropContacts = contacts
		device.Manufacturer = &manufacturer
	}
	return device
}

// DeviceUserFields are the user owned parts of a record. Nil leaves a field unchanged.
type DeviceUserFields struct {
	CustomName *string  `json:"custom_name"`
	Favorite   *bool    `json:"favorite"`
	Tags       []string `json:"tags"`
}
