package model

import (
	"strconv"
	"strings"
)

const bluetoothBaseSuffix = "-0000-1000-8000-00805f9b34fb"

// ShortUUID extracts the 16-bit form of a UUID written either short or in
// the Bluetooth base form.
func ShortUUID(v string) (uint16, bool) {
	v = strings.ToLower(strings.TrimSpace(v))
	v = strings.TrimPrefix(v, "0x")
	switch {
	case len(v) == 4:
	case len(v) == 8 && strings.HasPrefix(v, "0000"):
		v = v[4:]
	case len(v) == 36 && strings.HasPrefix(v, "0000") && strings.HasSuffix(v, bluetoothBaseSuffix):
		v = v[4:8]
	default:
		return 0, false
	}
	n, err := strconv.ParseUint(v, 16, 16)
	if err != nil {
		return 0, false
	}
	return uint16(n), true
}

// SameUUID compares UUIDs ignoring case and short or base form.
func SameUUID(a, b string) bool {
	if sa, ok := ShortUUID(a); ok {
		if sb, ok := ShortUUID(b); ok {
			return sa == sb
		}
	}
	return strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b))
}
