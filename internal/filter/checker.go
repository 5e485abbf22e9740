// Package filter evaluates radar profile filter trees against devices.
package filter

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/micro-ha/ble-radar/internal/location"
	"github.com/micro-ha/ble-radar/internal/model"
)

// LocationHistory answers where a device was recorded in a time window.
type LocationHistory interface {
	LocationsForDevice(ctx context.Context, address string, from, to time.Time) ([]model.Location, error)
}

// Checker evaluates filter nodes. It is safe for concurrent use.
type Checker struct {
	history LocationHistory
	now     func() time.Time
}

func NewChecker(history LocationHistory) *Checker {
	return &Checker{history: history, now: func() time.Time { return time.Now().UTC() }}
}

// WithClock returns a copy of c that reads time from now.
func (c *Checker) WithClock(now func() time.Time) *Checker {
	out := *c
	out.now = now
	return &out
}

// Check reports whether device satisfies node. Composite nodes short-circuit.
func (c *Checker) Check(ctx context.Context, device model.DeviceRecord, node model.FilterNode) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	switch n := node.(type) {
	case model.AndFilter:
		for _, child := range n.Children {
			ok, err := c.Check(ctx, device, child)
			if err != nil || !ok {
				return false, err
			}
		}
		return true, nil
	case model.OrFilter:
		for _, child := range n.Children {
			ok, err := c.Check(ctx, device, child)
			if err != nil {
				return false, err
			}
			if ok {
				return true, nil
			}
		}
		return false, nil
	case model.NotFilter:
		ok, err := c.Check(ctx, device, n.Child)
		if err != nil {
			return false, err
		}
		return !ok, nil
	case model.NameFilter:
		return containsFold(n.Value, device.ResolvedName(), device.Name, device.CustomName), nil
	case model.AddressFilter:
		return strings.EqualFold(model.NormalizeAddress(n.Address), device.Address), nil
	case model.ManufacturerFilter:
		if device.Manufacturer == nil {
			return false, nil
		}
		if n.ID != nil {
			return device.Manufacturer.ID == *n.ID, nil
		}
		return containsFold(n.Name, device.Manufacturer.Name), nil
	case model.MinRSSIFilter:
		return device.RSSI != nil && *device.RSSI >= n.RSSI, nil
	case model.MaxRSSIFilter:
		return device.RSSI != nil && *device.RSSI <= n.RSSI, nil
	case model.MaxDistanceFilter:
		distance := device.Distance()
		return distance != nil && *distance <= n.Meters, nil
	case model.LastDetectionWithinFilter:
		return c.now().Sub(device.LastDetectAt) <= n.Window, nil
	case model.FirstDetectionWithinFilter:
		return c.now().Sub(device.FirstDetectAt) <= n.Window, nil
	case model.MinLifetimeFilter:
		return device.KnownLifetime() >= n.Lifetime, nil
	case model.MinDetectCountFilter:
		return device.DetectCount >= n.Count, nil
	case model.FavoriteFilter:
		return device.Favorite == n.Favorite, nil
	case model.TagFilter:
		return device.HasTag(strings.TrimSpace(n.Tag)), nil
	case model.PairedFilter:
		return device.Paired == n.Paired, nil
	case model.DeviceClassFilter:
		return device.DeviceClass != nil && device.Class() == n.Class, nil
	case model.ServiceUUIDFilter:
		for _, id := range device.ServiceUUIDs {
			if model.SameUUID(id, n.UUID) {
				return true, nil
			}
		}
		return false, nil
	case model.AirdropContactFilter:
		return c.checkAirdrop(device, n), nil
	case model.AddressTypeFilter:
		actual := device.ClassifyAddress()
		for _, t := range n.Types {
			if t == actual {
				return true, nil
			}
		}
		return false, nil
	case model.SeenNearLocationFilter:
		return c.checkSeenNear(ctx, device, n)
	default:
		return false, fmt.Errorf("unknown filter node %T", node)
	}
}

// checkAirdrop matches a carried contact that was not seen for at least
// MinLostTime before this sighting.
func (c *Checker) checkAirdrop(device model.DeviceRecord, n model.AirdropContactFilter) bool {
	if device.Manufacturer == nil {
		return false
	}
	now := c.now()
	for _, contact := range device.Manufacturer.AirdropContacts {
		if contact.SHA256 == n.SHA256 && now.Sub(contact.LastDetectionAt) >= n.MinLostTime {
			return true
		}
	}
	return false
}

func (c *Checker) checkSeenNear(ctx context.Context, device model.DeviceRecord, n model.SeenNearLocationFilter) (bool, error) {
	if n.To.Before(device.FirstDetectAt) || n.From.After(device.LastDetectAt) {
		return false, nil
	}
	if c.history == nil {
		return false, nil
	}
	from := n.From
	if device.FirstDetectAt.After(from) {
		from = device.FirstDetectAt
	}
	to := n.To
	if device.LastDetectAt.Before(to) {
		to = device.LastDetectAt
	}
	points, err := c.history.LocationsForDevice(ctx, device.Address, from, to)
	if err != nil {
		return false, fmt.Errorf("location history for %s: %w", device.Address, err)
	}
	for _, point := range points {
		if location.Haversine(n.Latitude, n.Longitude, point.Latitude, point.Longitude) <= n.RadiusMeters {
			return true, nil
		}
	}
	return false, nil
}

func containsFold(needle string, haystacks ...string) bool {
	needle = strings.ToLower(strings.TrimSpace(needle))
	if needle == "" {
		return false
	}
	for _, haystack := range haystacks {
		if strings.Contains(strings.ToLower(haystack), needle) {
			return true
		}
	}
	return false
}
