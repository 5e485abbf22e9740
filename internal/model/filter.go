package model

import (
	"encoding/json"
	"fmt"
	"time"
)

// FilterKind names a filter node variant in its JSON form.
type FilterKind string

const (
	FilterKindAnd                  FilterKind = "and"
	FilterKindOr                   FilterKind = "or"
	FilterKindNot                  FilterKind = "not"
	FilterKindName                 FilterKind = "name"
	FilterKindAddress              FilterKind = "address"
	FilterKindManufacturer         FilterKind = "manufacturer"
	FilterKindMinRSSI              FilterKind = "min_rssi"
	FilterKindMaxRSSI              FilterKind = "max_rssi"
	FilterKindMaxDistance          FilterKind = "max_distance"
	FilterKindLastDetectionWithin  FilterKind = "last_detection_within"
	FilterKindFirstDetectionWithin FilterKind = "first_detection_within"
	FilterKindMinLifetime          FilterKind = "min_lifetime"
	FilterKindMinDetectCount       FilterKind = "min_detect_count"
	FilterKindFavorite             FilterKind = "favorite"
	FilterKindTag                  FilterKind = "tag"
	FilterKindPaired               FilterKind = "paired"
	FilterKindDeviceClass          FilterKind = "device_class"
	FilterKindServiceUUID          FilterKind = "service_uuid"
	FilterKindAirdropContact       FilterKind = "airdrop_contact"
	FilterKindAddressType          FilterKind = "address_type"
	FilterKindSeenNearLocation     FilterKind = "seen_near_location"
)

// FilterNode is a node of a profile expression tree. The set of
// implementations is closed to this package.
type FilterNode interface {
	Kind() FilterKind
	filterNode()
}

type (
	// AndFilter matches when every child matches. Empty is true.
	AndFilter struct{ Children []FilterNode }
	// OrFilter matches when any child matches. Empty is false.
	OrFilter struct{ Children []FilterNode }
	// NotFilter negates its child.
	NotFilter struct{ Child FilterNode }

	// NameFilter is a case-insensitive substring match on the resolved,
	// advertised and custom names.
	NameFilter struct{ Value string }
	// AddressFilter matches the address exactly, ignoring case.
	AddressFilter struct{ Address string }
	// ManufacturerFilter matches the company id when ID is set, otherwise a
	// case-insensitive substring of the company name.
	ManufacturerFilter struct {
		ID   *int
		Name string
	}
	MinRSSIFilter     struct{ RSSI int }
	MaxRSSIFilter     struct{ RSSI int }
	MaxDistanceFilter struct{ Meters float64 }
	// LastDetectionWithinFilter matches when the device was seen no longer
	// than Window ago.
	LastDetectionWithinFilter  struct{ Window time.Duration }
	FirstDetectionWithinFilter struct{ Window time.Duration }
	MinLifetimeFilter          struct{ Lifetime time.Duration }
	MinDetectCountFilter       struct{ Count int }
	FavoriteFilter             struct{ Favorite bool }
	TagFilter                  struct{ Tag string }
	PairedFilter               struct{ Paired bool }
	DeviceClassFilter          struct{ Class DeviceClass }
	// ServiceUUIDFilter matches a full or 16-bit service UUID.
	ServiceUUIDFilter struct{ UUID string }
	// AirdropContactFilter matches a device carrying the contact hash whose
	// previous sighting is at least MinLostTime old.
	AirdropContactFilter struct {
		SHA256      int
		MinLostTime time.Duration
	}
	AddressTypeFilter struct{ Types []AddressType }
	// SeenNearLocationFilter matches when the device was recorded within
	// RadiusMeters of the point between From and To.
	SeenNearLocationFilter struct {
		Latitude     float64
		Longitude    float64
		RadiusMeters float64
		From         time.Time
		To           time.Time
	}
)

func (AndFilter) Kind() FilterKind                  { return FilterKindAnd }
func (OrFilter) Kind() FilterKind                   { return FilterKindOr }
func (NotFilter) Kind() FilterKind                  { return FilterKindNot }
func (NameFilter) Kind() FilterKind                 { return FilterKindName }
func (AddressFilter) Kind() FilterKind              { return FilterKindAddress }
func (ManufacturerFilter) Kind() FilterKind         { return FilterKindManufacturer }
func (MinRSSIFilter) Kind() FilterKind              { return FilterKindMinRSSI }
func (MaxRSSIFilter) Kind() FilterKind              { return FilterKindMaxRSSI }
func (MaxDistanceFilter) Kind() FilterKind          { return FilterKindMaxDistance }
func (LastDetectionWithinFilter) Kind() FilterKind  { return FilterKindLastDetectionWithin }
func (FirstDetectionWithinFilter) Kind() FilterKind { return FilterKindFirstDetectionWithin }
func (MinLifetimeFilter) Kind() FilterKind          { return FilterKindMinLifetime }
func (MinDetectCountFilter) Kind() FilterKind       { return FilterKindMinDetectCount }
func (FavoriteFilter) Kind() FilterKind             { return FilterKindFavorite }
func (TagFilter) Kind() FilterKind                  { return FilterKindTag }
func (PairedFilter) Kind() FilterKind               { return FilterKindPaired }
func (DeviceClassFilter) Kind() FilterKind          { return FilterKindDeviceClass }
func (ServiceUUIDFilter) Kind() FilterKind          { return FilterKindServiceUUID }
func (AirdropContactFilter) Kind() FilterKind       { return FilterKindAirdropContact }
func (AddressTypeFilter) Kind() FilterKind          { return FilterKindAddressType }
func (SeenNearLocationFilter) Kind() FilterKind     { return FilterKindSeenNearLocation }

func (AndFilter) filterNode()                  {}
func (OrFilter) filterNode()                   {}
func (NotFilter) filterNode()                  {}
func (NameFilter) filterNode()                 {}
func (AddressFilter) filterNode()              {}
func (ManufacturerFilter) filterNode()         {}
func (MinRSSIFilter) filterNode()              {}
func (MaxRSSIFilter) filterNode()              {}
func (MaxDistanceFilter) filterNode()          {}
func (LastDetectionWithinFilter) filterNode()  {}
func (FirstDetectionWithinFilter) filterNode() {}
func (MinLifetimeFilter) filterNode()          {}
func (MinDetectCountFilter) filterNode()       {}
func (FavoriteFilter) filterNode()             {}
func (TagFilter) filterNode()                  {}
func (PairedFilter) filterNode()               {}
func (DeviceClassFilter) filterNode()          {}
func (ServiceUUIDFilter) filterNode()          {}
func (AirdropContactFilter) filterNode()       {}
func (AddressTypeFilter) filterNode()          {}
func (SeenNearLocationFilter) filterNode()     {}

// filterJSON is the wire form shared by every variant.
type filterJSON struct {
	Type      FilterKind        `json:"type"`
	Children  []json.RawMessage `json:"children,omitempty"`
	Child     json.RawMessage   `json:"child,omitempty"`
	Value     *string           `json:"value,omitempty"`
	ID        *int              `json:"id,omitempty"`
	RSSI      *int              `json:"rssi,omitempty"`
	Count     *int              `json:"count,omitempty"`
	Meters    *float64          `json:"meters,omitempty"`
	WindowMs  *int64            `json:"window_ms,omitempty"`
	Enabled   *bool             `json:"enabled,omitempty"`
	SHA256    *int              `json:"sha256,omitempty"`
	Types     []AddressType     `json:"types,omitempty"`
	Latitude  *float64          `json:"latitude,omitempty"`
	Longitude *float64          `json:"longitude,omitempty"`
	FromMs    *int64            `json:"from_ms,omitempty"`
	ToMs      *int64            `json:"to_ms,omitempty"`
}

// EncodeFilter serializes a filter tree.
func EncodeFilter(node FilterNode) ([]byte, error) {
	if node == nil {
		return nil, fmt.Errorf("encode filter: nil node")
	}
	out := filterJSON{Type: node.Kind()}
	switch n := node.(type) {
	case AndFilter:
		children, err := encodeChildren(n.Children)
		if err != nil {
			return nil, err
		}
		out.Children = children
	case OrFilter:
		children, err := encodeChildren(n.Children)
		if err != nil {
			return nil, err
		}
		out.Children = children
	case NotFilter:
		child, err := EncodeFilter(n.Child)
		if err != nil {
			return nil, err
		}
		out.Child = child
	case NameFilter:
		out.Value = &n.Value
	case AddressFilter:
		out.Value = &n.Address
	case ManufacturerFilter:
		out.ID = n.ID
		if n.Name != "" {
			out.Value = &n.Name
		}
	case MinRSSIFilter:
		out.RSSI = &n.RSSI
	case MaxRSSIFilter:
		out.RSSI = &n.RSSI
	case MaxDistanceFilter:
		out.Meters = &n.Meters
	case LastDetectionWithinFilter:
		out.WindowMs = millis(n.Window)
	case FirstDetectionWithinFilter:
		out.WindowMs = millis(n.Window)
	case MinLifetimeFilter:
		out.WindowMs = millis(n.Lifetime)
	case MinDetectCountFilter:
		out.Count = &n.Count
	case FavoriteFilter:
		out.Enabled = &n.Favorite
	case TagFilter:
		out.Value = &n.Tag
	case PairedFilter:
		out.Enabled = &n.Paired
	case DeviceClassFilter:
		class := string(n.Class)
		out.Value = &class
	case ServiceUUIDFilter:
		out.Value = &n.UUID
	case AirdropContactFilter:
		out.SHA256 = &n.SHA256
		out.WindowMs = millis(n.MinLostTime)
	case AddressTypeFilter:
		out.Types = n.Types
	case SeenNearLocationFilter:
		out.Latitude = &n.Latitude
		out.Longitude = &n.Longitude
		out.Meters = &n.RadiusMeters
		from, to := n.From.UnixMilli(), n.To.UnixMilli()
		out.FromMs = &from
		out.ToMs = &to
	default:
		return nil, fmt.Errorf("encode filter: unsupported node %T", node)
	}
	return json.Marshal(out)
}

// DecodeFilter parses a filter tree and validates required fields.
func DecodeFilter(data []byte) (FilterNode, error) {
	var in filterJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return nil, err
	}
	missing := func(field string) error {
		return fmt.Errorf("filter %q: missing %s", in.Type, field)
	}
	switch in.Type {
	case FilterKindAnd:
		children, err := decodeChildren(in.Children)
		if err != nil {
			return nil, err
		}
		return AndFilter{Children: children}, nil
	case FilterKindOr:
		children, err := decodeChildren(in.Children)
		if err != nil {
			return nil, err
		}
		return OrFilter{Children: children}, nil
	case FilterKindNot:
		if len(in.Child) == 0 {
			return nil, missing("child")
		}
		child, err := DecodeFilter(in.Child)
		if err != nil {
			return nil, err
		}
		return NotFilter{Child: child}, nil
	case FilterKindName:
		if in.Value == nil {
			return nil, missing("value")
		}
		return NameFilter{Value: *in.Value}, nil
	case FilterKindAddress:
		if in.Value == nil {
			return nil, missing("value")
		}
		return AddressFilter{Address: *in.Value}, nil
	case FilterKindManufacturer:
		if in.ID == nil && in.Value == nil {
			return nil, missing("id or value")
		}
		node := ManufacturerFilter{ID: in.ID}
		if in.Value != nil {
			node.Name = *in.Value
		}
		return node, nil
	case FilterKindMinRSSI:
		if in.RSSI == nil {
			return nil, missing("rssi")
		}
		return MinRSSIFilter{RSSI: *in.RSSI}, nil
	case FilterKindMaxRSSI:
		if in.RSSI == nil {
			return nil, missing("rssi")
		}
		return MaxRSSIFilter{RSSI: *in.RSSI}, nil
	case FilterKindMaxDistance:
		if in.Meters == nil {
			return nil, missing("meters")
		}
		return MaxDistanceFilter{Meters: *in.Meters}, nil
	case FilterKindLastDetectionWithin:
		if in.WindowMs == nil {
			return nil, missing("window_ms")
		}
		return LastDetectionWithinFilter{Window: duration(*in.WindowMs)}, nil
	case FilterKindFirstDetectionWithin:
		if in.WindowMs == nil {
			return nil, missing("window_ms")
		}
		return FirstDetectionWithinFilter{Window: duration(*in.WindowMs)}, nil
	case FilterKindMinLifetime:
		if in.WindowMs == nil {
			return nil, missing("window_ms")
		}
		return MinLifetimeFilter{Lifetime: duration(*in.WindowMs)}, nil
	case FilterKindMinDetectCount:
		if in.Count == nil {
			return nil, missing("count")
		}
		return MinDetectCountFilter{Count: *in.Count}, nil
	case FilterKindFavorite:
		return FavoriteFilter{Favorite: in.Enabled == nil || *in.Enabled}, nil
	case FilterKindTag:
		if in.Value == nil {
			return nil, missing("value")
		}
		return TagFilter{Tag: *in.Value}, nil
	case FilterKindPaired:
		return PairedFilter{Paired: in.Enabled == nil || *in.Enabled}, nil
	case FilterKindDeviceClass:
		if in.Value == nil {
			return nil, missing("value")
		}
		class := DeviceClass(*in.Value)
		if !class.Valid() {
			return nil, fmt.Errorf("filter %q: unknown device class %q", in.Type, *in.Value)
		}
		return DeviceClassFilter{Class: class}, nil
	case FilterKindServiceUUID:
		if in.Value == nil {
			return nil, missing("value")
		}
		return ServiceUUIDFilter{UUID: *in.Value}, nil
	case FilterKindAirdropContact:
		if in.SHA256 == nil {
			return nil, missing("sha256")
		}
		node := AirdropContactFilter{SHA256: *in.SHA256}
		if in.WindowMs != nil {
			node.MinLostTime = duration(*in.WindowMs)
		}
		return node, nil
	case FilterKindAddressType:
		if len(in.Types) == 0 {
			return nil, missing("types")
		}
		return AddressTypeFilter{Types: in.Types}, nil
	case FilterKindSeenNearLocation:
		if in.Latitude == nil || in.Longitude == nil {
			return nil, missing("latitude/longitude")
		}
		if in.Meters == nil {
			return nil, missing("meters")
		}
		if in.FromMs == nil || in.ToMs == nil {
			return nil, missing("from_ms/to_ms")
		}
		return SeenNearLocationFilter{
			Latitude:     *in.Latitude,
			Longitude:    *in.Longitude,
			RadiusMeters: *in.Meters,
			From:         time.UnixMilli(*in.FromMs).UTC(),
			To:           time.UnixMilli(*in.ToMs).UTC(),
		}, nil
	default:
		return nil, fmt.Errorf("unknown filter type %q", in.Type)
	}
}

func encodeChildren(children []FilterNode) ([]json.RawMessage, error) {
	out := make([]json.RawMessage, 0, len(children))
	for _, child := range children {
		raw, err := EncodeFilter(child)
		if err != nil {
			return nil, err
		}
		out = append(out, raw)
	}
	return out, nil
}

func decodeChildren(raw []json.RawMessage) ([]FilterNode, error) {
	out := make([]FilterNode, 0, len(raw))
	for _, item := range raw {
		child, err := DecodeFilter(item)
		if err != nil {
			return nil, err
		}
		out = append(out, child)
	}
	return out, nil
}

func millis(d time.Duration) *int64 {
	ms := d.Milliseconds()
	return &ms
}

func duration(ms int64) time.Duration {
	return time.Duration(ms) * time.Millisecond
}
