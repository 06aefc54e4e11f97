package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/wb-go/wbf/retry"
	"github.com/wb-go/wbf/zlog"

	"github.com/haneulk/tarot-timer/internal/draw"
	"github.com/haneulk/tarot-timer/internal/message"
	"github.com/haneulk/tarot-timer/internal/model"
	"github.com/haneulk/tarot-timer/internal/policy"
)

// directory looks up the owner of a firing.
type directory interface {
	GetUser(ctx context.Context, userID string) (model.User, error)
}

// marks persists idempotency marks keyed per user.
type marks interface {
	SetWithRetry(ctx context.Context, strategy retry.Strategy, key string, value interface{}) error
	GetWithRetry(ctx context.Context, strategy retry.Strategy, key string) (string, error)
}

// sessions answers whether a user already saved today's reading.
type sessions interface {
	HasSavedToday(ctx context.Context, userID, localDate string) (bool, error)
}

// Dispatcher delivers one rendered payload over a single channel.
type Dispatcher interface {
	Send(to string, payload message.Payload) error
}

// registrar re-registers recurring jobs after a reset run.
type registrar interface {
	RegisterHourly(userID, timezone string) error
}

// Executor runs job firings: it revalidates against the owner's local clock
// and preferences, renders the payload and delivers it with retries. A skip
// is a successful run.
type Executor struct {
	directory   directory
	marks       marks
	sessions    sessions
	dispatchers map[string]Dispatcher
	registrar   registrar
	delivery    retry.Strategy
	markStore   retry.Strategy
	now         func() time.Time
}

// NewExecutor creates the job executor. The dispatchers map is keyed by
// channel name ("push", "email").
func NewExecutor(
	dir directory,
	marks marks,
	sess sessions,
	dispatchers map[string]Dispatcher,
	reg registrar,
	delivery retry.Strategy,
	markStore retry.Strategy,
) *Executor {
	return &Executor{
		directory:   dir,
		marks:       marks,
		sessions:    sess,
		dispatchers: dispatchers,
		registrar:   reg,
		delivery:    delivery,
		markStore:   markStore,
		now:         time.Now,
	}
}

// Handle executes a single firing by kind.
func (e *Executor) Handle(ctx context.Context, msg Message) error {
	switch msg.Kind {
	case KindHourly:
		return e.handleHourly(ctx, msg)
	case KindMidnightReset:
		return e.handleMidnightReset(ctx, msg)
	case KindEveningReminder:
		return e.handleEveningReminder(ctx, msg)
	default:
		return fmt.Errorf("unknown job kind %q", msg.Kind)
	}
}

func (e *Executor) handleHourly(ctx context.Context, msg Message) error {
	user, err := e.directory.GetUser(ctx, msg.UserID)
	if err != nil {
		return fmt.Errorf("failed to get user %s: %w", msg.UserID, err)
	}

	local, err := e.localNow(user.Timezone)
	if err != nil {
		return err
	}

	// A firing delayed past its hour is stale; delivering it now would show
	// the wrong card.
	if local.Hour() != msg.Hour {
		zlog.Logger.Info().
			Str("user_id", msg.UserID).
			Int("job_hour", msg.Hour).
			Int("local_hour", local.Hour()).
			Msg("stale hourly firing, skipping")
		return nil
	}

	if !policy.Eligible(user, local) {
		return nil
	}

	card, err := draw.CardAt(user.ID, msg.Hour, local.Format(draw.DateLayout))
	if err != nil {
		if errors.Is(err, draw.ErrCardNotFound) {
			return nil
		}
		return fmt.Errorf("failed to draw card for %s: %w", msg.UserID, err)
	}

	payload := message.HourlyCard(user.ID, msg.Hour, card)

	return e.deliver(user, "push", user.PushAddress, payload)
}

func (e *Executor) handleMidnightReset(ctx context.Context, msg Message) error {
	user, err := e.directory.GetUser(ctx, msg.UserID)
	if err != nil {
		return fmt.Errorf("failed to get user %s: %w", msg.UserID, err)
	}

	local, err := e.localNow(user.Timezone)
	if err != nil {
		return err
	}

	// A firing published just before midnight carries the upcoming day as its
	// target; without it we would compare against yesterday's served mark and
	// drop the new day's reset.
	resetDate := msg.Date
	if resetDate == "" {
		resetDate = local.Format(draw.DateLayout)
	}

	mark, err := e.marks.GetWithRetry(ctx, e.markStore, ResetMarkKey(user.ID))
	if err != nil && !errors.Is(err, redis.Nil) {
		zlog.Logger.Warn().Err(err).Str("user_id", user.ID).Msg("failed to read reset mark")
	}
	if err == nil && mark == resetDate {
		zlog.Logger.Info().
			Str("user_id", user.ID).
			Str("date", resetDate).
			Msg("midnight reset already served, skipping")
		return nil
	}

	// The new day's deck exists as soon as the seed does; regenerating here
	// just warms the path and validates the date.
	if _, err := draw.DailyDraw(user.ID, resetDate, draw.SlotsPerDay); err != nil {
		return fmt.Errorf("failed to regenerate daily draw for %s: %w", user.ID, err)
	}

	if err := e.marks.SetWithRetry(ctx, e.markStore, ResetMarkKey(user.ID), resetDate); err != nil {
		return fmt.Errorf("failed to store reset mark for %s: %w", user.ID, err)
	}

	if policy.ResetEligible(user) {
		payload := message.MidnightReset(user.ID, resetDate)
		if err := e.deliver(user, "push", user.PushAddress, payload); err != nil {
			return err
		}
	}

	if err := e.registrar.RegisterHourly(user.ID, user.Timezone); err != nil {
		return fmt.Errorf("failed to re-register hourly jobs for %s: %w", user.ID, err)
	}

	return nil
}

func (e *Executor) handleEveningReminder(ctx context.Context, msg Message) error {
	user, err := e.directory.GetUser(ctx, msg.UserID)
	if err != nil {
		return fmt.Errorf("failed to get user %s: %w", msg.UserID, err)
	}

	local, err := e.localNow(user.Timezone)
	if err != nil {
		return err
	}

	if local.Hour() != msg.Hour {
		zlog.Logger.Info().
			Str("user_id", msg.UserID).
			Int("job_hour", msg.Hour).
			Int("local_hour", local.Hour()).
			Msg("stale reminder firing, skipping")
		return nil
	}

	if !policy.ReminderEligible(user, local) {
		return nil
	}

	today := local.Format(draw.DateLayout)

	mark, err := e.marks.GetWithRetry(ctx, e.markStore, ReminderMarkKey(user.ID))
	if err != nil && !errors.Is(err, redis.Nil) {
		zlog.Logger.Warn().Err(err).Str("user_id", user.ID).Msg("failed to read reminder mark")
	}
	if err == nil && mark == today {
		return nil
	}

	saved, err := e.sessions.HasSavedToday(ctx, user.ID, today)
	if err != nil {
		return fmt.Errorf("failed to check saved session for %s: %w", user.ID, err)
	}
	if saved {
		return nil
	}

	payload := message.SaveReminder(user.ID)

	if user.PushAddress != "" {
		if err := e.deliver(user, "push", user.PushAddress, payload); err != nil {
			return err
		}
	} else {
		if err := e.deliver(user, "email", user.Email, payload); err != nil {
			return err
		}
	}

	return e.marks.SetWithRetry(ctx, e.markStore, ReminderMarkKey(user.ID), today)
}

func (e *Executor) deliver(user model.User, channel, to string, payload message.Payload) error {
	d, ok := e.dispatchers[channel]
	if !ok {
		return fmt.Errorf("no dispatcher for channel %q", channel)
	}

	err := retry.Do(func() error {
		return d.Send(to, payload)
	}, e.delivery)
	if err != nil {
		return fmt.Errorf("failed to send %s to user %s: %w", channel, user.ID, err)
	}

	zlog.Logger.Info().
		Str("user_id", user.ID).
		Str("channel", channel).
		Msg("job payload delivered")

	return nil
}

func (e *Executor) localNow(tz string) (time.Time, error) {
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid timezone %q: %w", tz, err)
	}

	return e.now().In(loc), nil
}
