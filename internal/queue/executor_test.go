package queue

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wb-go/wbf/retry"

	"github.com/haneulk/tarot-timer/internal/message"
	"github.com/haneulk/tarot-timer/internal/model"
)

type fakeDirectory struct {
	users map[string]model.User
	err   error
}

func (f *fakeDirectory) GetUser(_ context.Context, userID string) (model.User, error) {
	if f.err != nil {
		return model.User{}, f.err
	}

	u, ok := f.users[userID]
	if !ok {
		return model.User{}, errors.New("user not found")
	}

	return u, nil
}

type fakeMarks struct {
	values map[string]string
	getErr error
}

func (f *fakeMarks) SetWithRetry(_ context.Context, _ retry.Strategy, key string, value interface{}) error {
	if f.values == nil {
		f.values = make(map[string]string)
	}
	f.values[key] = value.(string)
	return nil
}

func (f *fakeMarks) GetWithRetry(_ context.Context, _ retry.Strategy, key string) (string, error) {
	if f.getErr != nil {
		return "", f.getErr
	}

	v, ok := f.values[key]
	if !ok {
		return "", errors.New("mark not found")
	}

	return v, nil
}

type fakeDispatcher struct {
	sent     []message.Payload
	to       []string
	failures int
}

func (f *fakeDispatcher) Send(to string, payload message.Payload) error {
	if f.failures > 0 {
		f.failures--
		return errors.New("delivery failed")
	}

	f.to = append(f.to, to)
	f.sent = append(f.sent, payload)
	return nil
}

type fakeSessions struct {
	saved map[string]bool
	err   error
}

func (f *fakeSessions) HasSavedToday(_ context.Context, userID, _ string) (bool, error) {
	if f.err != nil {
		return false, f.err
	}

	return f.saved[userID], nil
}

type fakeRegistrar struct {
	registered []string
}

func (f *fakeRegistrar) RegisterHourly(userID, _ string) error {
	f.registered = append(f.registered, userID)
	return nil
}

func testUser() model.User {
	return model.User{
		ID:          "u1",
		Timezone:    "UTC",
		PushAddress: "ExponentPushToken[abc]",
		Email:       "u1@example.com",
		Preferences: model.Preferences{
			HourlyEnabled:   true,
			QuietHoursStart: 23,
			QuietHoursEnd:   7,
			WeekendEnabled:  true,
		},
	}
}

type execFixture struct {
	exec      *Executor
	push      *fakeDispatcher
	email     *fakeDispatcher
	marks     *fakeMarks
	sessions  *fakeSessions
	registrar *fakeRegistrar
	directory *fakeDirectory
}

func newExecFixture(t *testing.T, user model.User, now time.Time) *execFixture {
	t.Helper()

	f := &execFixture{
		push:      &fakeDispatcher{},
		email:     &fakeDispatcher{},
		marks:     &fakeMarks{},
		sessions:  &fakeSessions{saved: make(map[string]bool)},
		registrar: &fakeRegistrar{},
		directory: &fakeDirectory{users: map[string]model.User{user.ID: user}},
	}

	f.exec = NewExecutor(
		f.directory,
		f.marks,
		f.sessions,
		map[string]Dispatcher{"push": f.push, "email": f.email},
		f.registrar,
		retry.Strategy{Attempts: 3, Delay: time.Millisecond},
		retry.Strategy{Attempts: 2, Delay: time.Millisecond},
	)
	f.exec.now = func() time.Time { return now }

	return f
}

// Monday 2024-01-15, 10:00 UTC.
var mondayTen = time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC)

func TestHandleHourlyDelivers(t *testing.T) {
	f := newExecFixture(t, testUser(), mondayTen)

	msg := Message{Kind: KindHourly, UserID: "u1", Hour: 10, Timezone: "UTC"}
	require.NoError(t, f.exec.Handle(context.Background(), msg))

	require.Len(t, f.push.sent, 1)
	assert.Equal(t, []string{"ExponentPushToken[abc]"}, f.push.to)
	assert.Contains(t, f.push.sent[0].Title, "10시")
	assert.Equal(t, "10", f.push.sent[0].Data["hour"])
}

func TestHandleHourlyStaleFiringSkips(t *testing.T) {
	f := newExecFixture(t, testUser(), mondayTen)

	// Job was queued for hour 9 but only executes at 10.
	msg := Message{Kind: KindHourly, UserID: "u1", Hour: 9, Timezone: "UTC"}
	require.NoError(t, f.exec.Handle(context.Background(), msg))
	assert.Empty(t, f.push.sent)
}

func TestHandleHourlyQuietHoursSkips(t *testing.T) {
	// 23:30 local is inside the 23-7 quiet window.
	now := time.Date(2024, 1, 15, 23, 30, 0, 0, time.UTC)
	f := newExecFixture(t, testUser(), now)

	msg := Message{Kind: KindHourly, UserID: "u1", Hour: 23, Timezone: "UTC"}
	require.NoError(t, f.exec.Handle(context.Background(), msg))
	assert.Empty(t, f.push.sent)
}

func TestHandleHourlyWeekendSkips(t *testing.T) {
	user := testUser()
	user.Preferences.WeekendEnabled = false

	// Saturday 2024-01-13.
	now := time.Date(2024, 1, 13, 10, 0, 0, 0, time.UTC)
	f := newExecFixture(t, user, now)

	msg := Message{Kind: KindHourly, UserID: "u1", Hour: 10, Timezone: "UTC"}
	require.NoError(t, f.exec.Handle(context.Background(), msg))
	assert.Empty(t, f.push.sent)
}

func TestHandleHourlyNoCardForOverflowHour(t *testing.T) {
	// Hours past the deck size have no card; the run succeeds without delivery.
	user := testUser()
	user.Preferences.QuietHoursStart = 1
	user.Preferences.QuietHoursEnd = 2

	now := time.Date(2024, 1, 15, 22, 0, 0, 0, time.UTC)
	f := newExecFixture(t, user, now)

	msg := Message{Kind: KindHourly, UserID: "u1", Hour: 22, Timezone: "UTC"}
	require.NoError(t, f.exec.Handle(context.Background(), msg))
	assert.Empty(t, f.push.sent)
}

func TestHandleHourlyRetriesDelivery(t *testing.T) {
	f := newExecFixture(t, testUser(), mondayTen)
	f.push.failures = 2

	msg := Message{Kind: KindHourly, UserID: "u1", Hour: 10, Timezone: "UTC"}
	require.NoError(t, f.exec.Handle(context.Background(), msg))
	assert.Len(t, f.push.sent, 1)
}

func TestHandleHourlyExhaustedRetriesFails(t *testing.T) {
	f := newExecFixture(t, testUser(), mondayTen)
	f.push.failures = 3

	msg := Message{Kind: KindHourly, UserID: "u1", Hour: 10, Timezone: "UTC"}
	require.Error(t, f.exec.Handle(context.Background(), msg))
	assert.Empty(t, f.push.sent)
}

func TestHandleMidnightReset(t *testing.T) {
	now := time.Date(2024, 1, 15, 0, 1, 0, 0, time.UTC)
	f := newExecFixture(t, testUser(), now)

	msg := Message{Kind: KindMidnightReset, UserID: "u1", Timezone: "UTC"}
	require.NoError(t, f.exec.Handle(context.Background(), msg))

	assert.Equal(t, "2024-01-15", f.marks.values[ResetMarkKey("u1")])
	require.Len(t, f.push.sent, 1)
	assert.Equal(t, "2024-01-15", f.push.sent[0].Data["date"])
	assert.Equal(t, []string{"u1"}, f.registrar.registered)
}

func TestHandleMidnightResetAlreadyServed(t *testing.T) {
	now := time.Date(2024, 1, 15, 0, 1, 0, 0, time.UTC)
	f := newExecFixture(t, testUser(), now)
	f.marks.values = map[string]string{ResetMarkKey("u1"): "2024-01-15"}

	msg := Message{Kind: KindMidnightReset, UserID: "u1", Timezone: "UTC"}
	require.NoError(t, f.exec.Handle(context.Background(), msg))

	assert.Empty(t, f.push.sent)
	assert.Empty(t, f.registrar.registered)
}

func TestHandleMidnightResetBeforeMidnightTargetsCarriedDate(t *testing.T) {
	// Fired at 23:57 for the coming day; yesterday's served mark must not
	// suppress the new day's reset, and the mark advances to the target date.
	now := time.Date(2024, 1, 14, 23, 57, 0, 0, time.UTC)
	f := newExecFixture(t, testUser(), now)
	f.marks.values = map[string]string{ResetMarkKey("u1"): "2024-01-14"}

	msg := Message{Kind: KindMidnightReset, UserID: "u1", Timezone: "UTC", Date: "2024-01-15"}
	require.NoError(t, f.exec.Handle(context.Background(), msg))

	assert.Equal(t, "2024-01-15", f.marks.values[ResetMarkKey("u1")])
	require.Len(t, f.push.sent, 1)
	assert.Equal(t, "2024-01-15", f.push.sent[0].Data["date"])
	assert.Equal(t, []string{"u1"}, f.registrar.registered)
}

func TestHandleMidnightResetCarriedDateAlreadyServed(t *testing.T) {
	now := time.Date(2024, 1, 14, 23, 58, 0, 0, time.UTC)
	f := newExecFixture(t, testUser(), now)
	f.marks.values = map[string]string{ResetMarkKey("u1"): "2024-01-15"}

	msg := Message{Kind: KindMidnightReset, UserID: "u1", Timezone: "UTC", Date: "2024-01-15"}
	require.NoError(t, f.exec.Handle(context.Background(), msg))

	assert.Empty(t, f.push.sent)
	assert.Empty(t, f.registrar.registered)
}

func TestHandleMidnightResetNewDayAfterStaleMark(t *testing.T) {
	now := time.Date(2024, 1, 16, 0, 1, 0, 0, time.UTC)
	f := newExecFixture(t, testUser(), now)
	f.marks.values = map[string]string{ResetMarkKey("u1"): "2024-01-15"}

	msg := Message{Kind: KindMidnightReset, UserID: "u1", Timezone: "UTC"}
	require.NoError(t, f.exec.Handle(context.Background(), msg))

	assert.Equal(t, "2024-01-16", f.marks.values[ResetMarkKey("u1")])
	assert.Len(t, f.push.sent, 1)
}

func TestHandleEveningReminderPush(t *testing.T) {
	now := time.Date(2024, 1, 15, 21, 0, 0, 0, time.UTC)
	f := newExecFixture(t, testUser(), now)

	msg := Message{Kind: KindEveningReminder, UserID: "u1", Hour: 21, Timezone: "UTC"}
	require.NoError(t, f.exec.Handle(context.Background(), msg))

	assert.Len(t, f.push.sent, 1)
	assert.Empty(t, f.email.sent)
	assert.Equal(t, "2024-01-15", f.marks.values[ReminderMarkKey("u1")])
}

func TestHandleEveningReminderAlreadySaved(t *testing.T) {
	now := time.Date(2024, 1, 15, 21, 0, 0, 0, time.UTC)
	f := newExecFixture(t, testUser(), now)
	f.sessions.saved["u1"] = true

	msg := Message{Kind: KindEveningReminder, UserID: "u1", Hour: 21, Timezone: "UTC"}
	require.NoError(t, f.exec.Handle(context.Background(), msg))
	assert.Empty(t, f.push.sent)
}

func TestHandleEveningReminderAlreadyDelivered(t *testing.T) {
	now := time.Date(2024, 1, 15, 21, 0, 0, 0, time.UTC)
	f := newExecFixture(t, testUser(), now)
	f.marks.values = map[string]string{ReminderMarkKey("u1"): "2024-01-15"}

	msg := Message{Kind: KindEveningReminder, UserID: "u1", Hour: 21, Timezone: "UTC"}
	require.NoError(t, f.exec.Handle(context.Background(), msg))
	assert.Empty(t, f.push.sent)
}

func TestHandleEveningReminderEmailFallback(t *testing.T) {
	user := testUser()
	user.PushAddress = ""

	now := time.Date(2024, 1, 15, 21, 0, 0, 0, time.UTC)
	f := newExecFixture(t, user, now)

	msg := Message{Kind: KindEveningReminder, UserID: "u1", Hour: 21, Timezone: "UTC"}
	require.NoError(t, f.exec.Handle(context.Background(), msg))

	assert.Empty(t, f.push.sent)
	require.Len(t, f.email.sent, 1)
	assert.Equal(t, []string{"u1@example.com"}, f.email.to)
}

func TestHandleUnknownKind(t *testing.T) {
	f := newExecFixture(t, testUser(), mondayTen)

	msg := Message{Kind: Kind("mystery"), UserID: "u1"}
	require.Error(t, f.exec.Handle(context.Background(), msg))
}

func TestHandleUserLookupError(t *testing.T) {
	f := newExecFixture(t, testUser(), mondayTen)
	f.directory.err = errors.New("db down")

	msg := Message{Kind: KindHourly, UserID: "u1", Hour: 10, Timezone: "UTC"}
	require.Error(t, f.exec.Handle(context.Background(), msg))
}
