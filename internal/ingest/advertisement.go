package ingest

import (
	"encoding/binary"
	"time"

	"github.com/micro-ha/ble-radar/internal/model"
)

const (
	adTypeManufacturerData = 0xFF

	appleTypeAirdrop    = 0x05
	airdropMinLength    = 17
	airdropHashesOffset = 9
	airdropHashCount    = 4
)

// ADStructure is one length-type-value element of an advertisement payload.
type ADStructure struct {
	Type byte
	Data []byte
}

// ParseAdvertisement splits a raw payload into AD structures. Parsing stops
// at a zero length element or at truncated input.
func ParseAdvertisement(raw []byte) []ADStructure {
	var out []ADStructure
	for i := 0; i < len(raw); {
		length := int(raw[i])
		if length == 0 || i+1+length > len(raw) {
			break
		}
		out = append(out, ADStructure{Type: raw[i+1], Data: raw[i+2 : i+1+length]})
		i += 1 + length
	}
	return out
}

// CompanyLookup resolves a company identifier to a name.
type CompanyLookup interface {
	Lookup(id int) string
}

// Decoder extracts manufacturer info and AirDrop contacts from advertisements.
type Decoder struct {
	companies CompanyLookup
}

func NewDecoder(companies CompanyLookup) *Decoder {
	return &Decoder{companies: companies}
}

// Decode returns nil when the payload carries no manufacturer specific data.
func (d *Decoder) Decode(raw []byte, address string, at time.Time) *model.ManufacturerInfo {
	for _, ad := range ParseAdvertisement(raw) {
		if ad.Type != adTypeManufacturerData || len(ad.Data) < 2 {
			continue
		}
		id := int(binary.LittleEndian.Uint16(ad.Data[:2]))
		info := &model.ManufacturerInfo{ID: id, Name: d.lookup(id)}
		if id == model.AppleCompanyID {
			info.AirdropContacts = decodeAirdrop(ad.Data[2:], address, at)
		}
		return info
	}
	return nil
}

func (d *Decoder) lookup(id int) string {
	if d.companies == nil {
		return ""
	}
	return d.companies.Lookup(id)
}

// decodeAirdrop walks Apple continuity TLVs looking for the AirDrop message.
func decodeAirdrop(payload []byte, address string, at time.Time) []model.AirdropContact {
	var contacts []model.AirdropContact
	for i := 0; i+2 <= len(payload); {
		msgType, length := payload[i], int(payload[i+1])
		start, end := i+2, i+2+length
		if end > len(payload) {
			break
		}
		if msgType == appleTypeAirdrop && length >= airdropMinLength {
			value := payload[start:end]
			for h := 0; h < airdropHashCount; h++ {
				offset := airdropHashesOffset + h*2
				hash := int(binary.BigEndian.Uint16(value[offset : offset+2]))
				if hash == 0 || containsContact(contacts, hash) {
					continue
				}
				contacts = append(contacts, model.AirdropContact{
					SHA256:            hash,
					AssociatedAddress: address,
					LastDetectionAt:   at,
				})
			}
		}
		i = end
	}
	return contacts
}

func containsContact(contacts []model.AirdropContact, hash int) bool {
	for _, c := range contacts {
		if c.SHA256 == hash {
			return true
		}
	}
	return false
}
