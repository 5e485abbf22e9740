package model

import "time"

// JournalKind distinguishes journal entries.
type JournalKind string

const (
	JournalKindProfileReport JournalKind = "profile_report"
	JournalKindError         JournalKind = "error"
)

// JournalEntry is a user visible report of a radar match or a diagnostic.
type JournalEntry struct {
	ID          string      `json:"id"`
	CreatedAt   time.Time   `json:"created_at"`
	Kind        JournalKind `json:"kind"`
	ProfileID   *int64      `json:"profile_id,omitempty"`
	ProfileName string      `json:"profile_name,omitempty"`
	Addresses   []string    `json:"addresses,omitempty"`
	Location    *Location   `json:"location,omitempty"`
	Title       string      `json:"title,omitempty"`
	Details     string      `json:"details,omitempty"`
}

// NewProfileReport builds a match report for a profile.
func NewProfileReport(profile RadarProfile, addresses []string, location *Location) JournalEntry {
	id := profile.ID
	return JournalEntry{
		Kind:        JournalKindProfileReport,
		ProfileID:   &id,
		ProfileName: profile.Name,
		Addresses:   addresses,
		Location:    location,
	}
}

// NewErrorReport builds a diagnostic entry.
func NewErrorReport(title, details string) JournalEntry {
	return JournalEntry{Kind: JournalKindError, Title: title, Details: details}
}
