package model

// DeviceClass is the major category of a classic Bluetooth class-of-device code.
type DeviceClass string

const (
	DeviceClassUncategorized DeviceClass = "uncategorized"
	DeviceClassMisc          DeviceClass = "misc"
	DeviceClassComputer      DeviceClass = "computer"
	DeviceClassPhone         DeviceClass = "phone"
	DeviceClassNetworking    DeviceClass = "networking"
	DeviceClassAudioVideo    DeviceClass = "audio_video"
	DeviceClassPeripheral    DeviceClass = "peripheral"
	DeviceClassImaging       DeviceClass = "imaging"
	DeviceClassWearable      DeviceClass = "wearable"
	DeviceClassToy           DeviceClass = "toy"
	DeviceClassHealth        DeviceClass = "health"
)

// Valid reports whether c is one of the known categories.
func (c DeviceClass) Valid() bool {
	switch c {
	case DeviceClassUncategorized, DeviceClassMisc, DeviceClassComputer, DeviceClassPhone,
		DeviceClassNetworking, DeviceClassAudioVideo, DeviceClassPeripheral, DeviceClassImaging,
		DeviceClassWearable, DeviceClassToy, DeviceClassHealth:
		return true
	}
	return false
}

const deviceClassMajorMask = 0x1F00

// ClassifyDeviceClass maps a class-of-device code to its major category.
func ClassifyDeviceClass(code int) DeviceClass {
	switch code & deviceClassMajorMask {
	case 0x0000:
		return DeviceClassMisc
	case 0x0100:
		return DeviceClassComputer
	case 0x0200:
		return DeviceClassPhone
	case 0x0300:
		return DeviceClassNetworking
	case 0x0400:
		return DeviceClassAudioVideo
	case 0x0500:
		return DeviceClassPeripheral
	case 0x0600:
		return DeviceClassImaging
	case 0x0700:
		return DeviceClassWearable
	case 0x0800:
		return DeviceClassToy
	case 0x0900:
		return DeviceClassHealth
	default:
		return DeviceClassUncategorized
	}
}

// Class returns the device's major class or uncategorized when unknown.
func (r DeviceRecord) Class() DeviceClass {
	if r.DeviceClass == nil {
		return DeviceClassUncategorized
	}
	return ClassifyDeviceClass(*r.DeviceClass)
}
