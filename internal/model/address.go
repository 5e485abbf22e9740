package model

import (
	"strconv"
	"strings"
	"time"
)

// AddressType classifies a BLE device address.
type AddressType string

const (
	AddressTypePublic               AddressType = "public"
	AddressTypeResolvablePrivate    AddressType = "resolvable_private"
	AddressTypeNonResolvablePrivate AddressType = "non_resolvable_private"
	AddressTypeStaticRandom         AddressType = "static_random"
	AddressTypeInvalid              AddressType = "invalid"
)

// PublicAddressLifetime is how long a rotating-looking address has to stay
// visible before it is treated as public.
const PublicAddressLifetime = 12 * time.Hour

// ClassifyAddress resolves the address type from the two most significant
// bits of the first octet.
func (r DeviceRecord) ClassifyAddress() AddressType {
	first, _, _ := strings.Cut(r.Address, ":")
	msb, err := strconv.ParseUint(first, 16, 8)
	if err != nil || len(first) != 2 {
		return AddressTypeInvalid
	}
	switch msb >> 6 {
	case 0b00:
		id := r.ManufacturerID()
		vendorRotates := id == AppleCompanyID || id == MicrosoftCompanyID
		if r.KnownLifetime() > PublicAddressLifetime || (!vendorRotates && msb&0b110000 == 0) {
			return AddressTypePublic
		}
		return AddressTypeNonResolvablePrivate
	case 0b01:
		return AddressTypeResolvablePrivate
	case 0b11:
		return AddressTypeStaticRandom
	default:
		return AddressTypeInvalid
	}
}
