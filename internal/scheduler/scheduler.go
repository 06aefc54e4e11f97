// Package scheduler runs the periodic passes that keep the job queue in
// line with the user directory: self-healing hourly registrations, the
// local-midnight reset window, the evening reminder backstop and daily
// maintenance.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/wb-go/wbf/retry"
	"github.com/wb-go/wbf/zlog"

	"github.com/haneulk/tarot-timer/internal/draw"
	"github.com/haneulk/tarot-timer/internal/model"
	"github.com/haneulk/tarot-timer/internal/policy"
	"github.com/haneulk/tarot-timer/internal/queue"
)

// directory lists the users the scheduler works over.
type directory interface {
	ActiveUsers(ctx context.Context) ([]model.User, error)
}

// jobs is the queue surface the scheduler drives.
type jobs interface {
	RegisterHourly(userID, timezone string) error
	RegisterMidnightReset(userID, timezone string) error
	RegisterEveningReminder(userID string, hour int, timezone string) error
	CancelAll(userID string) error
	CancelHourly(userID string) error
	HasHourly(userID string) bool
	Owners() []string
	TriggerMidnightReset(userID, timezone, date string) error
	TriggerEveningReminder(userID string, hour int, timezone string) error
	Stats() queue.Stats
	PruneFailures(before time.Time) int
}

// marks persists the midnight trigger marks so a restart inside the window
// cannot re-trigger a served reset.
type marks interface {
	SetWithRetry(ctx context.Context, strategy retry.Strategy, key string, value interface{}) error
	GetWithRetry(ctx context.Context, strategy retry.Strategy, key string) (string, error)
}

// Config tunes the scheduler passes; zero values fall back to defaults.
type Config struct {
	HourlyTick        time.Duration // self-heal pass cadence
	MidnightTick      time.Duration // midnight window pass cadence
	ReminderTick      time.Duration // reminder backstop pass cadence
	MaintenanceTick   time.Duration // maintenance pass cadence
	MinuteTolerance   int           // minutes around the hour a pass still counts
	ReminderHour      int           // local hour of the evening reminder
	WorkerCount       int           // concurrent per-user workers per pass
	FailureRetention  time.Duration // how long failure records are kept
	InactiveRetention time.Duration // drop registrations of users idle this long
	MarkStore         retry.Strategy
	Now               func() time.Time
}

func (c *Config) defaults() {
	if c.HourlyTick <= 0 {
		c.HourlyTick = time.Hour
	}
	if c.MidnightTick <= 0 {
		c.MidnightTick = 5 * time.Minute
	}
	if c.ReminderTick <= 0 {
		c.ReminderTick = 5 * time.Minute
	}
	if c.MaintenanceTick <= 0 {
		c.MaintenanceTick = 24 * time.Hour
	}
	if c.MinuteTolerance <= 0 {
		c.MinuteTolerance = 5
	}
	if c.ReminderHour <= 0 || c.ReminderHour > 23 {
		c.ReminderHour = 21
	}
	if c.WorkerCount <= 0 {
		c.WorkerCount = 10
	}
	if c.FailureRetention <= 0 {
		c.FailureRetention = 30 * 24 * time.Hour
	}
	if c.InactiveRetention <= 0 {
		c.InactiveRetention = 30 * 24 * time.Hour
	}
	if c.MarkStore.Attempts <= 0 {
		c.MarkStore = retry.Strategy{Attempts: 2, Delay: time.Second}
	}
	if c.Now == nil {
		c.Now = time.Now
	}
}

// Scheduler drives the reconciliation passes.
type Scheduler struct {
	cfg       Config
	directory directory
	jobs      jobs
	marks     marks

	mu           sync.Mutex
	lastReminder map[string]string // user id -> local date already triggered

	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// New creates a scheduler over the given directory and queue.
func New(dir directory, jobs jobs, marks marks, cfg Config) *Scheduler {
	cfg.defaults()

	return &Scheduler{
		cfg:          cfg,
		directory:    dir,
		jobs:         jobs,
		marks:        marks,
		lastReminder: make(map[string]string),
		stop:         make(chan struct{}),
	}
}

// Start launches the four passes. Each runs once immediately, then on its
// own ticker.
func (s *Scheduler) Start(ctx context.Context) {
	s.loop(ctx, s.cfg.HourlyTick, s.selfHealPass)
	s.loop(ctx, s.cfg.MidnightTick, s.midnightPass)
	s.loop(ctx, s.cfg.ReminderTick, s.reminderPass)
	s.loop(ctx, s.cfg.MaintenanceTick, s.maintenancePass)
}

// Stop halts all passes and waits for them to drain.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() { close(s.stop) })
	s.wg.Wait()
}

func (s *Scheduler) loop(ctx context.Context, interval time.Duration, pass func(ctx context.Context)) {
	s.wg.Add(1)

	go func() {
		defer s.wg.Done()

		pass(ctx)

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-s.stop:
				return
			case <-ticker.C:
				pass(ctx)
			}
		}
	}()
}

// forEachUser fans the pass body out over the active users with a bounded
// worker pool. A panic in one user's body never takes down the pass.
func (s *Scheduler) forEachUser(ctx context.Context, pass string, body func(ctx context.Context, u model.User)) {
	users, err := s.directory.ActiveUsers(ctx)
	if err != nil {
		zlog.Logger.Error().Err(err).Str("pass", pass).Msg("failed to list active users")
		return
	}

	sem := make(chan struct{}, s.cfg.WorkerCount)
	var wg sync.WaitGroup

	for _, u := range users {
		wg.Add(1)
		sem <- struct{}{}

		go func(u model.User) {
			defer wg.Done()
			defer func() { <-sem }()
			defer func() {
				if r := recover(); r != nil {
					zlog.Logger.Error().
						Str("pass", pass).
						Str("user_id", u.ID).
						Msgf("pass panicked: %v", r)
				}
			}()

			body(ctx, u)
		}(u)
	}

	wg.Wait()
}

// selfHealPass re-registers the full job set for any user whose hourly
// registrations went missing or partial, and tears down the hourly set for
// users who can no longer receive hourly cards. Resets and reminders for
// those users stay covered by the midnight and reminder pass backstops.
func (s *Scheduler) selfHealPass(ctx context.Context) {
	s.forEachUser(ctx, "self_heal", func(_ context.Context, u model.User) {
		if !policy.HourlyCapable(u) {
			if !s.jobs.HasHourly(u.ID) {
				return
			}

			if err := s.jobs.CancelHourly(u.ID); err != nil {
				zlog.Logger.Error().Err(err).Str("user_id", u.ID).Msg("failed to cancel hourly jobs")
				return
			}

			zlog.Logger.Info().Str("user_id", u.ID).Msg("cancelled hourly jobs for opted-out user")
			return
		}

		if s.jobs.HasHourly(u.ID) {
			return
		}

		if err := s.registerAll(u); err != nil {
			zlog.Logger.Error().Err(err).Str("user_id", u.ID).Msg("failed to re-register jobs")
			return
		}

		zlog.Logger.Info().Str("user_id", u.ID).Msg("re-registered missing job set")
	})
}

func (s *Scheduler) registerAll(u model.User) error {
	if err := s.jobs.RegisterHourly(u.ID, u.Timezone); err != nil {
		return fmt.Errorf("hourly: %w", err)
	}
	if err := s.jobs.RegisterMidnightReset(u.ID, u.Timezone); err != nil {
		return fmt.Errorf("midnight reset: %w", err)
	}
	if err := s.jobs.RegisterEveningReminder(u.ID, s.cfg.ReminderHour, u.Timezone); err != nil {
		return fmt.Errorf("evening reminder: %w", err)
	}

	return nil
}

// midnightPass triggers resets for users whose local clock sits inside the
// midnight window. A few minutes before midnight the reset targets the
// coming day, a few minutes after it targets the current one; the trigger
// carries the target date so the executor resets that day regardless of
// which side of midnight it runs on, and the persisted trigger mark makes
// the window fire once per date.
func (s *Scheduler) midnightPass(ctx context.Context) {
	now := s.cfg.Now()

	s.forEachUser(ctx, "midnight", func(ctx context.Context, u model.User) {
		loc, err := time.LoadLocation(u.Timezone)
		if err != nil {
			zlog.Logger.Warn().Err(err).Str("user_id", u.ID).Msg("invalid user timezone")
			return
		}

		local := now.In(loc)

		var resetDate string
		switch {
		case local.Hour() == 0 && local.Minute() <= s.cfg.MinuteTolerance:
			resetDate = local.Format(draw.DateLayout)
		case local.Hour() == 23 && local.Minute() >= 60-s.cfg.MinuteTolerance:
			resetDate = local.AddDate(0, 0, 1).Format(draw.DateLayout)
		default:
			return
		}

		key := resetTriggerKey(u.ID)

		mark, err := s.marks.GetWithRetry(ctx, s.cfg.MarkStore, key)
		if err == nil && mark == resetDate {
			return
		}

		if err := s.marks.SetWithRetry(ctx, s.cfg.MarkStore, key, resetDate); err != nil {
			zlog.Logger.Error().Err(err).Str("user_id", u.ID).Msg("failed to store reset trigger mark")
			return
		}

		if err := s.jobs.TriggerMidnightReset(u.ID, u.Timezone, resetDate); err != nil {
			zlog.Logger.Error().Err(err).Str("user_id", u.ID).Msg("failed to trigger midnight reset")
			return
		}

		zlog.Logger.Info().
			Str("user_id", u.ID).
			Str("date", resetDate).
			Msg("midnight reset triggered")
	})
}

// resetTriggerKey is separate from the executor's served mark: this one
// records that a trigger was published, the other that the reset ran.
func resetTriggerKey(userID string) string {
	return "reset:trigger:" + userID
}

// reminderPass is the backstop for the evening reminder recurrence. The
// executor holds the saved-session gate and the per-day delivery mark, so a
// trigger here can never double-deliver.
func (s *Scheduler) reminderPass(ctx context.Context) {
	now := s.cfg.Now()

	s.forEachUser(ctx, "reminder", func(_ context.Context, u model.User) {
		loc, err := time.LoadLocation(u.Timezone)
		if err != nil {
			return
		}

		local := now.In(loc)
		if local.Hour() != s.cfg.ReminderHour || local.Minute() >= s.cfg.MinuteTolerance {
			return
		}

		today := local.Format(draw.DateLayout)

		s.mu.Lock()
		done := s.lastReminder[u.ID] == today
		if !done {
			s.lastReminder[u.ID] = today
		}
		s.mu.Unlock()

		if done {
			return
		}

		if err := s.jobs.TriggerEveningReminder(u.ID, s.cfg.ReminderHour, u.Timezone); err != nil {
			zlog.Logger.Error().Err(err).Str("user_id", u.ID).Msg("failed to trigger evening reminder")
		}
	})
}

// maintenancePass prunes old failure records, drops registrations owned by
// users no longer in the directory and logs a queue health snapshot.
func (s *Scheduler) maintenancePass(ctx context.Context) {
	now := s.cfg.Now()

	removed := s.jobs.PruneFailures(now.Add(-s.cfg.FailureRetention))

	users, err := s.directory.ActiveUsers(ctx)
	if err != nil {
		zlog.Logger.Error().Err(err).Msg("failed to list active users for maintenance")
		return
	}

	active := make(map[string]bool, len(users))
	for _, u := range users {
		if !u.LastSeenAt.IsZero() && now.Sub(u.LastSeenAt) > s.cfg.InactiveRetention {
			continue
		}
		active[u.ID] = true
	}

	stale := 0
	for _, owner := range s.jobs.Owners() {
		if active[owner] {
			continue
		}

		if err := s.jobs.CancelAll(owner); err != nil {
			zlog.Logger.Error().Err(err).Str("user_id", owner).Msg("failed to cancel stale registrations")
			continue
		}
		stale++
	}

	s.mu.Lock()
	for id := range s.lastReminder {
		if !active[id] {
			delete(s.lastReminder, id)
		}
	}
	s.mu.Unlock()

	stats := s.jobs.Stats()
	zlog.Logger.Info().
		Int("pruned_failures", removed).
		Int("stale_owners", stale).
		Int64("waiting", stats.Waiting).
		Int64("active", stats.Active).
		Int64("completed", stats.Completed).
		Int64("failed", stats.Failed).
		Int64("repeatable", stats.Repeatable).
		Msg("maintenance pass finished")
}
