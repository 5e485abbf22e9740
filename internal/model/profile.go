package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// RadarProfile is a named filter that raises a report when a device matches.
type RadarProfile struct {
	ID          int64
	Name        string
	Description string
	Active      bool
	Cooldown    time.Duration
	Filter      FilterNode
}

// ProfileDetect is one (profile, device) match event.
type ProfileDetect struct {
	ProfileID   int64     `json:"profile_id"`
	TriggeredAt time.Time `json:"triggered_at"`
	Address     string    `json:"address"`
}

type profileJSON struct {
	ID          int64           `json:"id"`
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Active      bool            `json:"active"`
	CooldownMs  int64           `json:"cooldown_ms"`
	Filter      json.RawMessage `json:"filter"`
}

// Validate checks fields required to store a profile.
func (p RadarProfile) Validate() error {
	if strings.TrimSpace(p.Name) == "" {
		return errors.New("profile name is required")
	}
	if p.Cooldown < 0 {
		return errors.New("profile cooldown must not be negative")
	}
	if p.Filter == nil {
		return errors.New("profile filter is required")
	}
	return nil
}

func (p RadarProfile) MarshalJSON() ([]byte, error) {
	out := profileJSON{
		ID:          p.ID,
		Name:        p.Name,
		Description: p.Description,
		Active:      p.Active,
		CooldownMs:  p.Cooldown.Milliseconds(),
	}
	if p.Filter != nil {
		raw, err := EncodeFilter(p.Filter)
		if err != nil {
			return nil, err
		}
		out.Filter = raw
	}
	return json.Marshal(out)
}

func (p *RadarProfile) UnmarshalJSON(data []byte) error {
	var in profileJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	p.ID = in.ID
	p.Name = in.Name
	p.Description = in.Description
	p.Active = in.Active
	p.Cooldown = time.Duration(in.CooldownMs) * time.Millisecond
	p.Filter = nil
	if len(in.Filter) > 0 && string(in.Filter) != "null" {
		node, err := DecodeFilter(in.Filter)
		if err != nil {
			return fmt.Errorf("decode filter: %w", err)
		}
		p.Filter = node
	}
	return nil
}
