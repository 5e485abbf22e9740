package gatt

import (
	"strconv"
	"strings"

	"github.com/micro-ha/ble-radar/internal/model"
	"github.com/micro-ha/ble-radar/internal/radio"
)

// CharacteristicType is a characteristic the session knows how to decode.
type CharacteristicType uint16

const (
	CharacteristicDeviceName       CharacteristicType = 0x2A00
	CharacteristicManufacturerName CharacteristicType = 0x2A29
	CharacteristicModelNumber      CharacteristicType = 0x2A24
	CharacteristicSerialNumber     CharacteristicType = 0x2A25
	CharacteristicBatteryLevel     CharacteristicType = 0x2A19
)

var relevantServices = map[uint16]string{
	0x1800: "Generic Access",
	0x180A: "Device Information",
	0x180F: "Battery Service",
}

var relevantCharacteristics = map[CharacteristicType]string{
	CharacteristicDeviceName:       "Device Name",
	CharacteristicManufacturerName: "Manufacturer Name String",
	CharacteristicModelNumber:      "Model Number String",
	CharacteristicSerialNumber:     "Serial Number String",
	CharacteristicBatteryLevel:     "Battery Level",
}

// IsRelevantService reports whether a service carries metadata we read.
func IsRelevantService(uuid string) bool {
	short, ok := model.ShortUUID(uuid)
	if !ok {
		return false
	}
	_, ok = relevantServices[short]
	return ok
}

// LookupCharacteristic returns the known type of a characteristic UUID.
func LookupCharacteristic(uuid string) (CharacteristicType, bool) {
	short, ok := model.ShortUUID(uuid)
	if !ok {
		return 0, false
	}
	t := CharacteristicType(short)
	_, ok = relevantCharacteristics[t]
	return t, ok
}

func (t CharacteristicType) String() string {
	if name, ok := relevantCharacteristics[t]; ok {
		return name
	}
	return "0x" + strconv.FormatUint(uint64(t), 16)
}

// RelevantCharacteristics picks readable characteristics of relevant
// services in discovery order.
func RelevantCharacteristics(services []radio.Service) []radio.Characteristic {
	var out []radio.Characteristic
	for _, service := range services {
		if !IsRelevantService(service.UUID) {
			continue
		}
		for _, characteristic := range service.Characteristics {
			if _, ok := LookupCharacteristic(characteristic.UUID); ok {
				out = append(out, characteristic)
			}
		}
	}
	return out
}

// applyValue decodes value into the metadata field of its characteristic.
func applyValue(metadata *model.DeviceMetadata, uuid string, value []byte) {
	t, ok := LookupCharacteristic(uuid)
	if !ok {
		return
	}
	switch t {
	case CharacteristicDeviceName:
		metadata.DeviceName = decodeString(value)
	case CharacteristicManufacturerName:
		metadata.ManufacturerName = decodeString(value)
	case CharacteristicModelNumber:
		metadata.ModelNumber = decodeString(value)
	case CharacteristicSerialNumber:
		metadata.SerialNumber = decodeString(value)
	case CharacteristicBatteryLevel:
		if len(value) > 0 {
			level := int(value[0])
			metadata.BatteryLevel = &level
		}
	}
}

func decodeString(value []byte) string {
	if i := strings.IndexByte(string(value), 0); i >= 0 {
		value = value[:i]
	}
	return strings.TrimSpace(string(value))
}
