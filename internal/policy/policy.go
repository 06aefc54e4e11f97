// Package policy holds the single notification eligibility check shared by
// the global scheduler and the job execution path, so the two can never
// drift apart.
package policy

import (
	"time"

	"github.com/haneulk/tarot-timer/internal/model"
)

// InQuietHours reports whether the local hour falls inside the user's quiet
// window. Both bounds are inclusive and the window may wrap past midnight
// (e.g. 22 to 8 covers 22,23,0,...,8).
func InQuietHours(hour, start, end int) bool {
	if start <= end {
		return hour >= start && hour <= end
	}

	return hour >= start || hour <= end
}

// isWeekend reports whether the local time falls on Saturday or Sunday.
func isWeekend(local time.Time) bool {
	wd := local.Weekday()
	return wd == time.Saturday || wd == time.Sunday
}

// HourlyCapable reports whether hourly card notifications can ever fire for
// the user, independent of the clock. Registration paths use it to avoid
// keeping live hourly jobs for users every firing would skip.
func HourlyCapable(u model.User) bool {
	if !u.Preferences.HourlyEnabled || !u.KindEnabled(model.KindHourly) {
		return false
	}

	return u.PushAddress != ""
}

// Eligible decides whether an hourly card notification may fire for the user
// at the given local time. A false result is a skip, never an error.
func Eligible(u model.User, local time.Time) bool {
	if !HourlyCapable(u) {
		return false
	}

	p := u.Preferences

	if InQuietHours(local.Hour(), p.QuietHoursStart, p.QuietHoursEnd) {
		return false
	}

	if !p.WeekendEnabled && isWeekend(local) {
		return false
	}

	return true
}

// ReminderEligible decides whether the evening save reminder may fire.
// Reminders respect quiet hours and kind opt-out but ignore the hourly
// toggle; a user may want the daily reminder without hourly cards.
// Email is an acceptable fallback address for reminders.
func ReminderEligible(u model.User, local time.Time) bool {
	if !u.KindEnabled(model.KindEveningReminder) {
		return false
	}

	if u.PushAddress == "" && u.Email == "" {
		return false
	}

	return !InQuietHours(local.Hour(), u.Preferences.QuietHoursStart, u.Preferences.QuietHoursEnd)
}

// ResetEligible decides whether the midnight "new day" notification may fire.
// The reset itself always happens; only the notification is gated.
func ResetEligible(u model.User) bool {
	return u.KindEnabled(model.KindMidnightReset) && u.PushAddress != ""
}
