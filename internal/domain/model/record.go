package model

import "time"

// DisplayTimeLayout is the layout used for the human-readable sent and fetched
// dates shown in the popup, overlay and desktop notifications.
const DisplayTimeLayout = "1/2/2006, 3:04:05 PM"

// VerificationRecord is the single latest verification code the coordinator
// tracks. A new record replaces the stored one only when Code differs.
type VerificationRecord struct {
	Service   string
	Code      string
	SentAt    time.Time
	FetchedAt time.Time
	// IsShown is flipped by the content overlay once the code was displayed.
	// The coordinator writes it false on replacement and never reads it.
	IsShown bool
}

// SentDate returns SentAt formatted for display in the local time zone.
func (r VerificationRecord) SentDate() string {
	if r.SentAt.IsZero() {
		return ""
	}
	return r.SentAt.Local().Format(DisplayTimeLayout)
}

// FetchedDate returns FetchedAt formatted for display in the local time zone.
func (r VerificationRecord) FetchedDate() string {
	if r.FetchedAt.IsZero() {
		return ""
	}
	return r.FetchedAt.Local().Format(DisplayTimeLayout)
}
