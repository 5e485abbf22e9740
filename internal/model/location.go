package model

import "time"

// Location is a position fix recorded alongside detections.
type Location struct {
	ID        int64     `json:"id,omitempty"`
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`
	Time      time.Time `json:"time"`
}
