// Package location provides location sources and great-circle distance.
package location

import (
	"context"
	"math"
	"time"

	"github.com/micro-ha/ble-radar/internal/model"
)

const earthRadiusMeters = 6371008.8

// Haversine returns the great-circle distance in meters between two points
// given in degrees.
func Haversine(lat1, lng1, lat2, lng2 float64) float64 {
	rlat1 := lat1 * math.Pi / 180
	rlat2 := lat2 * math.Pi / 180
	dlat := (lat2 - lat1) * math.Pi / 180
	dlng := (lng2 - lng1) * math.Pi / 180

	a := math.Sin(dlat/2)*math.Sin(dlat/2) + math.Cos(rlat1)*math.Cos(rlat2)*math.Sin(dlng/2)*math.Sin(dlng/2)
	return 2 * earthRadiusMeters * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
}

// Static reports a fixed position, stamped with the time of each call.
type Static struct {
	Latitude  float64
	Longitude float64
	now       func() time.Time
}

func NewStatic(lat, lng float64) *Static {
	return &Static{Latitude: lat, Longitude: lng, now: func() time.Time { return time.Now().UTC() }}
}

func (s *Static) FreshLocation(ctx context.Context) (*model.Location, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &model.Location{Latitude: s.Latitude, Longitude: s.Longitude, Time: s.now()}, nil
}

// None never knows the position.
type None struct{}

func (None) FreshLocation(context.Context) (*model.Location, error) {
	return nil, nil
}
