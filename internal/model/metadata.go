package model

import "strings"

// DeviceMetadata holds values read from the device over GATT.
type DeviceMetadata struct {
	DeviceName       string `json:"device_name,omitempty"`
	ManufacturerName string `json:"manufacturer_name,omitempty"`
	ModelNumber      string `json:"model_number,omitempty"`
	SerialNumber     string `json:"serial_number,omitempty"`
	BatteryLevel     *int   `json:"battery_level,omitempty"`
}

// IsEmpty reports whether no field was ever read.
func (m *DeviceMetadata) IsEmpty() bool {
	if m == nil {
		return true
	}
	return m.DeviceName == "" &&
		m.ManufacturerName == "" &&
		m.ModelNumber == "" &&
		m.SerialNumber == "" &&
		m.BatteryLevel == nil
}

// DisplayName prefers the model number when it already contains the
// advertised device name ("Pixel" inside "Pixel 8 Pro").
func (m *DeviceMetadata) DisplayName() string {
	if m == nil {
		return ""
	}
	if m.DeviceName != "" && strings.Contains(m.ModelNumber, m.DeviceName) {
		return m.ModelNumber
	}
	if m.DeviceName != "" {
		return m.DeviceName
	}
	return m.ModelNumber
}

// Clone returns a deep copy.
func (m *DeviceMetadata) Clone() *DeviceMetadata {
	if m == nil {
		return nil
	}
	out := *m
	if m.BatteryLevel != nil {
		level := *m.BatteryLevel
		out.BatteryLevel = &level
	}
	return &out
}
