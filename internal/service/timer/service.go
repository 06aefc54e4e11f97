package timer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/haneulk/tarot-timer/internal/draw"
	"github.com/haneulk/tarot-timer/internal/model"
	"github.com/haneulk/tarot-timer/internal/queue"
)

var ErrInvalidTimezone = errors.New("invalid timezone")

type userDirectory interface {
	GetUser(ctx context.Context, userID string) (model.User, error)
}

type sessionStore interface {
	HasSavedToday(ctx context.Context, userID, localDate string) (bool, error)
	MarkSaved(ctx context.Context, userID, localDate, memo string) error
}

type jobQueue interface {
	RegisterHourly(userID, timezone string) error
	RegisterMidnightReset(userID, timezone string) error
	RegisterEveningReminder(userID string, hour int, timezone string) error
	CancelAll(userID string) error
	HasHourly(userID string) bool
	TriggerMidnightReset(userID, timezone, date string) error
	Stats() queue.Stats
	Failures() []queue.FailureRecord
}

// Service ties the draw engine, the user directory and the job queue
// together behind the operations the API exposes.
type Service struct {
	users        userDirectory
	sessions     sessionStore
	queue        jobQueue
	reminderHour int
	now          func() time.Time
}

func NewService(users userDirectory, sessions sessionStore, queue jobQueue, reminderHour int) *Service {
	return &Service{
		users:        users,
		sessions:     sessions,
		queue:        queue,
		reminderHour: reminderHour,
		now:          time.Now,
	}
}

// Enroll registers the user's full recurring job set: 24 hourly cards, the
// midnight reset and the evening reminder. Enrolling twice is idempotent.
func (s *Service) Enroll(ctx context.Context, userID string) error {
	user, err := s.users.GetUser(ctx, userID)
	if err != nil {
		return fmt.Errorf("enroll: %w", err)
	}

	if _, err := time.LoadLocation(user.Timezone); err != nil {
		return fmt.Errorf("enroll %s: %w: %q", userID, ErrInvalidTimezone, user.Timezone)
	}

	if err := s.queue.RegisterHourly(user.ID, user.Timezone); err != nil {
		return fmt.Errorf("enroll %s: %w", userID, err)
	}
	if err := s.queue.RegisterMidnightReset(user.ID, user.Timezone); err != nil {
		return fmt.Errorf("enroll %s: %w", userID, err)
	}
	if err := s.queue.RegisterEveningReminder(user.ID, s.reminderHour, user.Timezone); err != nil {
		return fmt.Errorf("enroll %s: %w", userID, err)
	}

	return nil
}

// Unenroll removes every registration the user owns.
func (s *Service) Unenroll(ctx context.Context, userID string) error {
	if err := s.queue.CancelAll(userID); err != nil {
		return fmt.Errorf("unenroll %s: %w", userID, err)
	}

	return nil
}

// Enrolled reports whether the user's hourly job set is fully registered.
func (s *Service) Enrolled(userID string) bool {
	return s.queue.HasHourly(userID)
}

// TriggerMidnightReset publishes an immediate reset for the user, the manual
// counterpart of the scheduled midnight window.
func (s *Service) TriggerMidnightReset(ctx context.Context, userID string) error {
	user, err := s.users.GetUser(ctx, userID)
	if err != nil {
		return fmt.Errorf("trigger reset: %w", err)
	}

	loc, err := time.LoadLocation(user.Timezone)
	if err != nil {
		return fmt.Errorf("trigger reset %s: %w: %q", userID, ErrInvalidTimezone, user.Timezone)
	}

	date := s.now().In(loc).Format(draw.DateLayout)

	if err := s.queue.TriggerMidnightReset(user.ID, user.Timezone, date); err != nil {
		return fmt.Errorf("trigger reset %s: %w", userID, err)
	}

	return nil
}

// CardAt returns the user's card for the given hour. An empty isoDate means
// today in the user's timezone.
func (s *Service) CardAt(ctx context.Context, userID string, hour int, isoDate string) (model.Card, error) {
	if isoDate == "" {
		var err error
		if isoDate, err = s.localDate(ctx, userID); err != nil {
			return model.Card{}, err
		}
	}

	return draw.CardAt(userID, hour, isoDate)
}

// DailyDraw returns the user's full card set for the given date. An empty
// isoDate means today in the user's timezone.
func (s *Service) DailyDraw(ctx context.Context, userID, isoDate string) ([]model.Card, error) {
	if isoDate == "" {
		var err error
		if isoDate, err = s.localDate(ctx, userID); err != nil {
			return nil, err
		}
	}

	return draw.DailyDraw(userID, isoDate, draw.SlotsPerDay)
}

// SaveSession records that the user saved today's reading. The evening
// reminder skips users with a saved session.
func (s *Service) SaveSession(ctx context.Context, userID, memo string) error {
	localDate, err := s.localDate(ctx, userID)
	if err != nil {
		return err
	}

	if err := s.sessions.MarkSaved(ctx, userID, localDate, memo); err != nil {
		return fmt.Errorf("save session %s: %w", userID, err)
	}

	return nil
}

// QueueStats returns a snapshot of queue health.
func (s *Service) QueueStats() queue.Stats {
	return s.queue.Stats()
}

// RecentFailures returns the retained failed job runs.
func (s *Service) RecentFailures() []queue.FailureRecord {
	return s.queue.Failures()
}

func (s *Service) localDate(ctx context.Context, userID string) (string, error) {
	user, err := s.users.GetUser(ctx, userID)
	if err != nil {
		return "", fmt.Errorf("get user %s: %w", userID, err)
	}

	loc, err := time.LoadLocation(user.Timezone)
	if err != nil {
		return "", fmt.Errorf("user %s: %w: %q", userID, ErrInvalidTimezone, user.Timezone)
	}

	return s.now().In(loc).Format(draw.DateLayout), nil
}
