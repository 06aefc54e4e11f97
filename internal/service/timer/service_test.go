package timer

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/haneulk/tarot-timer/internal/draw"
	"github.com/haneulk/tarot-timer/internal/model"
	"github.com/haneulk/tarot-timer/internal/queue"
)

type fakeUsers struct {
	users map[string]model.User
}

func (f *fakeUsers) GetUser(_ context.Context, userID string) (model.User, error) {
	u, ok := f.users[userID]
	if !ok {
		return model.User{}, errors.New("user not found")
	}

	return u, nil
}

type fakeSessions struct {
	saved map[string]string // user id -> local date
}

func (f *fakeSessions) HasSavedToday(_ context.Context, userID, localDate string) (bool, error) {
	return f.saved[userID] == localDate, nil
}

func (f *fakeSessions) MarkSaved(_ context.Context, userID, localDate, _ string) error {
	if f.saved == nil {
		f.saved = make(map[string]string)
	}
	f.saved[userID] = localDate
	return nil
}

type fakeQueue struct {
	hourly     map[string]bool
	resets     []string
	resetDates []string
	cancelled  []string
	reminders  []string
	stats      queue.Stats
	failures   []queue.FailureRecord
}

func newFakeQueue() *fakeQueue {
	return &fakeQueue{hourly: make(map[string]bool)}
}

func (f *fakeQueue) RegisterHourly(userID, _ string) error {
	f.hourly[userID] = true
	return nil
}

func (f *fakeQueue) RegisterMidnightReset(_, _ string) error { return nil }

func (f *fakeQueue) RegisterEveningReminder(userID string, _ int, _ string) error {
	f.reminders = append(f.reminders, userID)
	return nil
}

func (f *fakeQueue) CancelAll(userID string) error {
	f.cancelled = append(f.cancelled, userID)
	delete(f.hourly, userID)
	return nil
}

func (f *fakeQueue) HasHourly(userID string) bool { return f.hourly[userID] }

func (f *fakeQueue) TriggerMidnightReset(userID, _, date string) error {
	f.resets = append(f.resets, userID)
	f.resetDates = append(f.resetDates, date)
	return nil
}

func (f *fakeQueue) Stats() queue.Stats { return f.stats }

func (f *fakeQueue) Failures() []queue.FailureRecord { return f.failures }

func newTestService(q *fakeQueue) *Service {
	users := &fakeUsers{users: map[string]model.User{
		"u1":  {ID: "u1", Timezone: "Asia/Seoul", PushAddress: "token"},
		"bad": {ID: "bad", Timezone: "Not/AZone"},
	}}

	s := NewService(users, &fakeSessions{}, q, 21)
	s.now = func() time.Time {
		return time.Date(2024, 1, 15, 3, 0, 0, 0, time.UTC) // 12:00 in Seoul
	}

	return s
}

func TestEnroll(t *testing.T) {
	q := newFakeQueue()
	s := newTestService(q)

	require.NoError(t, s.Enroll(context.Background(), "u1"))
	assert.True(t, s.Enrolled("u1"))
	assert.Equal(t, []string{"u1"}, q.reminders)
}

func TestEnrollUnknownUser(t *testing.T) {
	s := newTestService(newFakeQueue())

	require.Error(t, s.Enroll(context.Background(), "ghost"))
}

func TestEnrollInvalidTimezone(t *testing.T) {
	s := newTestService(newFakeQueue())

	err := s.Enroll(context.Background(), "bad")
	require.ErrorIs(t, err, ErrInvalidTimezone)
}

func TestUnenroll(t *testing.T) {
	q := newFakeQueue()
	s := newTestService(q)

	require.NoError(t, s.Enroll(context.Background(), "u1"))
	require.NoError(t, s.Unenroll(context.Background(), "u1"))

	assert.False(t, s.Enrolled("u1"))
	assert.Equal(t, []string{"u1"}, q.cancelled)
}

func TestTriggerMidnightReset(t *testing.T) {
	q := newFakeQueue()
	s := newTestService(q)

	require.NoError(t, s.TriggerMidnightReset(context.Background(), "u1"))
	assert.Equal(t, []string{"u1"}, q.resets)
	// The user's local date in Seoul, not the UTC one.
	assert.Equal(t, []string{"2024-01-15"}, q.resetDates)
}

func TestCardAtDefaultsToLocalToday(t *testing.T) {
	s := newTestService(newFakeQueue())

	card, err := s.CardAt(context.Background(), "u1", 10, "")
	require.NoError(t, err)

	want, err := draw.CardAt("u1", 10, "2024-01-15")
	require.NoError(t, err)
	assert.Equal(t, want, card)
}

func TestCardAtExplicitDate(t *testing.T) {
	s := newTestService(newFakeQueue())

	card, err := s.CardAt(context.Background(), "u1", 0, "2024-02-01")
	require.NoError(t, err)

	want, err := draw.CardAt("u1", 0, "2024-02-01")
	require.NoError(t, err)
	assert.Equal(t, want, card)
}

func TestDailyDraw(t *testing.T) {
	s := newTestService(newFakeQueue())

	cards, err := s.DailyDraw(context.Background(), "u1", "")
	require.NoError(t, err)
	assert.Len(t, cards, 22)
}

func TestSaveSession(t *testing.T) {
	s := newTestService(newFakeQueue())

	require.NoError(t, s.SaveSession(context.Background(), "u1", "good day"))

	saved, err := s.sessions.HasSavedToday(context.Background(), "u1", "2024-01-15")
	require.NoError(t, err)
	assert.True(t, saved)
}

func TestQueueStats(t *testing.T) {
	q := newFakeQueue()
	q.stats = queue.Stats{Completed: 7, Repeatable: 26}

	s := newTestService(q)
	assert.Equal(t, q.stats, s.QueueStats())
}
