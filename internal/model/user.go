package model

import "time"

// Notification kinds a user can toggle individually.
const (
	KindHourly          = "hourly"
	KindMidnightReset   = "midnight_reset"
	KindEveningReminder = "evening_reminder"
)

// Preferences holds a user's notification settings.
type Preferences struct {
	HourlyEnabled   bool     `json:"hourly_enabled"`
	QuietHoursStart int      `json:"quiet_hours_start"` // local hour 0-23
	QuietHoursEnd   int      `json:"quiet_hours_end"`   // local hour 0-23, may wrap past midnight
	WeekendEnabled  bool     `json:"weekend_enabled"`
	EnabledKinds    []string `json:"enabled_kinds"`
}

// User is the read-only view of a user this subsystem works with.
// The user directory owns the record; we never write it.
type User struct {
	ID          string      `json:"id"`
	Timezone    string      `json:"timezone"` // IANA zone name
	PushAddress string      `json:"push_address,omitempty"`
	Email       string      `json:"email,omitempty"`
	Language    string      `json:"language,omitempty"`
	Preferences Preferences `json:"preferences"`
	LastSeenAt  time.Time   `json:"last_seen_at"`
}

// KindEnabled reports whether the user opted in to the given notification kind.
// An empty EnabledKinds list means all kinds are enabled.
func (u User) KindEnabled(kind string) bool {
	if len(u.Preferences.EnabledKinds) == 0 {
		return true
	}

	for _, k := range u.Preferences.EnabledKinds {
		if k == kind {
			return true
		}
	}

	return false
}
