package queue

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/haneulk/tarot-timer/internal/model"
)

// Kind identifies the recurring job type.
type Kind string

const (
	KindHourly          Kind = model.KindHourly
	KindMidnightReset   Kind = model.KindMidnightReset
	KindEveningReminder Kind = model.KindEveningReminder
)

// JobKey builds the deterministic registration key for (kind, user, slot).
// At most one live registration may exist per key; re-registering the same
// key replaces the previous entry.
func JobKey(kind Kind, userID string, hour int) string {
	if kind == KindHourly {
		return fmt.Sprintf("%s:%s:%d", kind, userID, hour)
	}

	return fmt.Sprintf("%s:%s", kind, userID)
}

// ResetMarkKey is the cache key holding the last local date a user's
// midnight reset ran. The scheduler gates resets on it.
func ResetMarkKey(userID string) string {
	return "reset:" + userID
}

// ReminderMarkKey is the cache key holding the last local date a user's
// evening reminder was delivered. It collapses duplicate firings when both
// the recurrence and the backstop tick cover the same window.
func ReminderMarkKey(userID string) string {
	return "reminder:" + userID
}

// Job is a live recurring registration. The recurrence fires daily at Hour
// in the owner's Timezone.
type Job struct {
	Key         string    `json:"key"`
	Kind        Kind      `json:"kind"`
	UserID      string    `json:"user_id"`
	Hour        int       `json:"hour"`
	Timezone    string    `json:"timezone"`
	LastFiredAt time.Time `json:"last_fired_at,omitempty"`

	// lastFire is the local date+hour of the most recent firing, used to
	// fire at most once per local-time window (covers DST repeats too).
	lastFire string
}

// Message is a single firing of a job, published to the broker and consumed
// by the executor workers.
type Message struct {
	RunID      uuid.UUID `json:"run_id"`
	Key        string    `json:"key"`
	Kind       Kind      `json:"kind"`
	UserID     string    `json:"user_id"`
	Hour       int       `json:"hour"`
	Timezone   string    `json:"timezone"`
	Date       string    `json:"date,omitempty"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}

// Stats is a snapshot of queue health for operational introspection.
type Stats struct {
	Waiting    int64 `json:"waiting"`
	Active     int64 `json:"active"`
	Completed  int64 `json:"completed"`
	Failed     int64 `json:"failed"`
	Delayed    int64 `json:"delayed"`
	Repeatable int64 `json:"repeatable"`
}

// FailureRecord is one exhausted job run kept for diagnostics.
type FailureRecord struct {
	RunID    uuid.UUID `json:"run_id"`
	Key      string    `json:"key"`
	Kind     Kind      `json:"kind"`
	UserID   string    `json:"user_id"`
	Hour     int       `json:"hour"`
	Error    string    `json:"error"`
	FailedAt time.Time `json:"failed_at"`
}
