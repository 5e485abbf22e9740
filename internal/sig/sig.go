// Package sig resolves Bluetooth SIG assigned company identifiers.
package sig

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

//go:embed data/company_ids.json
var embeddedCompanies []byte

// Companies maps company identifiers to names.
type Companies struct {
	names map[int]string
}

func LoadEmbedded() (*Companies, error) {
	return Load(embeddedCompanies)
}

// Load parses a JSON object keyed by hex ("0x004C") or decimal company ids.
func Load(data []byte) (*Companies, error) {
	raw := map[string]string{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}
	names := make(map[int]string, len(raw))
	for key, name := range raw {
		id, err := parseID(key)
		if err != nil {
			return nil, fmt.Errorf("company id %q: %w", key, err)
		}
		names[id] = strings.TrimSpace(name)
	}
	return &Companies{names: names}, nil
}

// Lookup returns the company name or "Unknown".
func (c *Companies) Lookup(id int) string {
	if c == nil {
		return "Unknown"
	}
	if name, ok := c.names[id]; ok && name != "" {
		return name
	}
	return "Unknown"
}

func parseID(v string) (int, error) {
	v = strings.TrimSpace(v)
	lower := strings.ToLower(v)
	if strings.HasPrefix(lower, "0x") {
		id, err := strconv.ParseUint(lower[2:], 16, 16)
		return int(id), err
	}
	id, err := strconv.ParseUint(v, 10, 16)
	return int(id), err
}
