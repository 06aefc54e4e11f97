// Package queue maintains per-user recurring job registrations and executes
// their firings through the message broker.
//
// Registrations live in an explicit registry owned by the Queue value; job
// keys are deterministic, so re-registering is an idempotent replace and
// correctness never depends on locking between callers. When the broker is
// unreachable the queue degrades to a no-op implementation of the same
// interface: every operation succeeds without effect and Stats reports
// zeros.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/wb-go/wbf/rabbitmq"
	"github.com/wb-go/wbf/retry"
	"github.com/wb-go/wbf/zlog"
)

const (
	ExchangeName = "tarot-jobs-exchange"
	MainQueue    = "tarot-jobs-queue"
	DLQName      = "tarot-jobs-dlq"
	RoutingKey   = "tarot-jobs"
)

// Handler executes one job firing. Skips return nil; only exhausted
// deliveries surface an error.
type Handler interface {
	Handle(ctx context.Context, msg Message) error
}

// broker abstracts the message transport so the recurrence logic can be
// exercised without a live RabbitMQ.
type broker interface {
	Publish(body []byte) error
	Consume(out chan []byte) error
}

type rabbitBroker struct {
	publisher *rabbitmq.Publisher
	consumer  *rabbitmq.Consumer
	strategy  retry.Strategy
}

func (b *rabbitBroker) Publish(body []byte) error {
	return b.publisher.PublishWithRetry(body, RoutingKey, "application/json", b.strategy)
}

func (b *rabbitBroker) Consume(out chan []byte) error {
	return b.consumer.ConsumeWithRetry(out, b.strategy)
}

// Options tunes queue behavior; zero values fall back to defaults.
type Options struct {
	PollInterval    time.Duration  // recurrence check cadence
	MinuteTolerance int            // minutes past the hour a firing is still on time
	WorkerCount     int            // concurrent executor workers
	HistoryLimit    int            // retained failure records
	Broker          retry.Strategy // publish/consume retry strategy
	Now             func() time.Time
}

func (o *Options) defaults() {
	if o.PollInterval <= 0 {
		o.PollInterval = 30 * time.Second
	}
	if o.MinuteTolerance <= 0 {
		o.MinuteTolerance = 5
	}
	if o.WorkerCount <= 0 {
		o.WorkerCount = 10
	}
	if o.HistoryLimit <= 0 {
		o.HistoryLimit = 100
	}
	if o.Broker.Attempts <= 0 {
		o.Broker = retry.Strategy{Attempts: 3, Delay: time.Second}
	}
	if o.Now == nil {
		o.Now = time.Now
	}
}

// Queue is the job queue. Construct with New (broker-backed) or NewDisabled
// (degraded no-op mode) and drive the lifecycle with Start/Stop.
type Queue struct {
	opts     Options
	broker   broker
	disabled bool

	mu   sync.Mutex
	jobs map[string]*Job

	waiting   atomic.Int64
	active    atomic.Int64
	completed atomic.Int64
	failed    atomic.Int64

	histMu  sync.Mutex
	history []FailureRecord

	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// New declares the exchange, main queue and DLQ on the given channel and
// returns a broker-backed queue.
func New(ch *rabbitmq.Channel, opts Options) (*Queue, error) {
	opts.defaults()

	exchange := rabbitmq.NewExchange(ExchangeName, "direct")
	if err := exchange.BindToChannel(ch); err != nil {
		return nil, fmt.Errorf("failed to bind to exchange: %w", err)
	}

	qm := rabbitmq.NewQueueManager(ch)

	if _, err := qm.DeclareQueue(DLQName, rabbitmq.QueueConfig{Durable: true}); err != nil {
		return nil, fmt.Errorf("failed to declare DLQ queue: %w", err)
	}

	mainArgs := map[string]interface{}{
		"x-dead-letter-exchange":    "",
		"x-dead-letter-routing-key": DLQName,
	}

	mainQ, err := qm.DeclareQueue(MainQueue, rabbitmq.QueueConfig{
		Durable: true,
		Args:    mainArgs,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to declare main queue: %w", err)
	}

	if err := ch.QueueBind(mainQ.Name, RoutingKey, exchange.Name(), false, nil); err != nil {
		return nil, fmt.Errorf("failed to bind the exchange to the main queue: %w", err)
	}

	b := &rabbitBroker{
		publisher: rabbitmq.NewPublisher(ch, exchange.Name()),
		consumer:  rabbitmq.NewConsumer(ch, rabbitmq.NewConsumerConfig(mainQ.Name)),
		strategy:  opts.Broker,
	}

	return newWithBroker(b, opts), nil
}

// NewDisabled returns a queue in degraded no-op mode. Every operation keeps
// its contract and returns a well-formed empty result. Logged once, here,
// rather than on every call.
func NewDisabled(opts Options) *Queue {
	opts.defaults()

	zlog.Logger.Warn().Msg("job broker unreachable, queue running in degraded no-op mode")

	q := newWithBroker(nil, opts)
	q.disabled = true

	return q
}

func newWithBroker(b broker, opts Options) *Queue {
	return &Queue{
		opts:   opts,
		broker: b,
		jobs:   make(map[string]*Job),
		stop:   make(chan struct{}),
	}
}

// Start launches the recurrence pump and the executor worker pool. It
// returns immediately; Stop shuts both down.
func (q *Queue) Start(ctx context.Context, handler Handler) {
	if q.disabled {
		return
	}

	raw := make(chan []byte, q.opts.WorkerCount*10)

	go func() {
		if err := q.broker.Consume(raw); err != nil {
			zlog.Logger.Error().Err(err).Msg("failed to consume job messages")
		}
	}()

	q.wg.Add(1)
	go q.pump(ctx)

	q.wg.Add(q.opts.WorkerCount)
	for i := 0; i < q.opts.WorkerCount; i++ {
		go q.worker(ctx, i, raw, handler)
	}
}

// Stop halts the pump and workers. In-flight executions finish their run.
func (q *Queue) Stop() {
	q.stopOnce.Do(func() { close(q.stop) })
	q.wg.Wait()
}

func (q *Queue) worker(ctx context.Context, id int, raw <-chan []byte, handler Handler) {
	defer q.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case <-q.stop:
			return
		case body, ok := <-raw:
			if !ok {
				zlog.Logger.Printf("job worker-%d channel closed, shutting down", id)
				return
			}

			var msg Message
			if err := json.Unmarshal(body, &msg); err != nil {
				zlog.Logger.Error().Err(err).Msg("failed to unmarshal job message")
				continue
			}

			q.decWaiting()
			q.active.Add(1)

			err := handler.Handle(ctx, msg)

			q.active.Add(-1)

			if err != nil {
				q.failed.Add(1)
				q.recordFailure(msg, err)
				zlog.Logger.Error().
					Err(err).
					Str("job_key", msg.Key).
					Str("user_id", msg.UserID).
					Msg("job run exhausted retries")
				continue
			}

			q.completed.Add(1)
		}
	}
}

// decWaiting decrements the waiting counter without going below zero. The
// broker may hold a backlog published before a restart, so consumed messages
// can outnumber this process's publishes.
func (q *Queue) decWaiting() {
	for {
		w := q.waiting.Load()
		if w <= 0 {
			return
		}
		if q.waiting.CompareAndSwap(w, w-1) {
			return
		}
	}
}

// pump checks every registration on PollInterval and publishes a firing for
// each job whose owner's local time sits inside the job's hour window. The
// lastFire mark keeps a window from firing twice, including repeated local
// hours around DST transitions.
func (q *Queue) pump(ctx context.Context) {
	defer q.wg.Done()

	ticker := time.NewTicker(q.opts.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-q.stop:
			return
		case <-ticker.C:
			q.fireDue()
		}
	}
}

// firing pairs a due job with the local date of its window, so the executor
// acts on the day the firing was meant for even when it runs late.
type firing struct {
	job  *Job
	date string
}

func (q *Queue) fireDue() {
	now := q.opts.Now()

	q.mu.Lock()
	due := make([]firing, 0)
	for _, j := range q.jobs {
		local, ok := q.localTime(now, j.Timezone)
		if !ok {
			continue
		}

		if local.Hour() != j.Hour || local.Minute() >= q.opts.MinuteTolerance {
			continue
		}

		window := fireWindow(local)
		if j.lastFire == window {
			continue
		}

		j.lastFire = window
		j.LastFiredAt = now
		due = append(due, firing{job: j, date: local.Format("2006-01-02")})
	}
	q.mu.Unlock()

	for _, f := range due {
		if err := q.publish(f.job, f.date); err != nil {
			zlog.Logger.Error().Err(err).Str("job_key", f.job.Key).Msg("failed to publish job firing")
		}
	}
}

func (q *Queue) localTime(now time.Time, tz string) (time.Time, bool) {
	loc, err := time.LoadLocation(tz)
	if err != nil {
		zlog.Logger.Warn().Err(err).Str("timezone", tz).Msg("invalid timezone on registration")
		return time.Time{}, false
	}

	return now.In(loc), true
}

func fireWindow(local time.Time) string {
	return fmt.Sprintf("%s-%02d", local.Format("2006-01-02"), local.Hour())
}

func (q *Queue) publish(j *Job, date string) error {
	msg := Message{
		RunID:      uuid.New(),
		Key:        j.Key,
		Kind:       j.Kind,
		UserID:     j.UserID,
		Hour:       j.Hour,
		Timezone:   j.Timezone,
		Date:       date,
		EnqueuedAt: q.opts.Now(),
	}

	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal job message: %w", err)
	}

	if err := q.broker.Publish(body); err != nil {
		return fmt.Errorf("failed to publish job message: %w", err)
	}

	q.waiting.Add(1)

	return nil
}

// RegisterHourly upserts the 24 hourly card jobs for a user. Calling it again
// replaces the existing registrations; the live set stays at 24.
func (q *Queue) RegisterHourly(userID, timezone string) error {
	if q.disabled {
		return nil
	}

	if _, err := time.LoadLocation(timezone); err != nil {
		return fmt.Errorf("invalid timezone %q: %w", timezone, err)
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	for hour := 0; hour < 24; hour++ {
		q.upsert(&Job{
			Key:      JobKey(KindHourly, userID, hour),
			Kind:     KindHourly,
			UserID:   userID,
			Hour:     hour,
			Timezone: timezone,
		})
	}

	return nil
}

// CancelHourly removes every hourly registration for a user. A partial
// pre-existing set is still fully cleared; absent keys are not an error.
func (q *Queue) CancelHourly(userID string) error {
	if q.disabled {
		return nil
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	for hour := 0; hour < 24; hour++ {
		delete(q.jobs, JobKey(KindHourly, userID, hour))
	}

	return nil
}

// RegisterMidnightReset upserts the user's daily local-midnight reset job.
func (q *Queue) RegisterMidnightReset(userID, timezone string) error {
	if q.disabled {
		return nil
	}

	if _, err := time.LoadLocation(timezone); err != nil {
		return fmt.Errorf("invalid timezone %q: %w", timezone, err)
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	q.upsert(&Job{
		Key:      JobKey(KindMidnightReset, userID, 0),
		Kind:     KindMidnightReset,
		UserID:   userID,
		Hour:     0,
		Timezone: timezone,
	})

	return nil
}

// RegisterEveningReminder upserts the user's evening save-reminder job at the
// given local hour.
func (q *Queue) RegisterEveningReminder(userID string, hour int, timezone string) error {
	if q.disabled {
		return nil
	}

	if hour < 0 || hour > 23 {
		return fmt.Errorf("invalid reminder hour %d", hour)
	}

	if _, err := time.LoadLocation(timezone); err != nil {
		return fmt.Errorf("invalid timezone %q: %w", timezone, err)
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	q.upsert(&Job{
		Key:      JobKey(KindEveningReminder, userID, 0),
		Kind:     KindEveningReminder,
		UserID:   userID,
		Hour:     hour,
		Timezone: timezone,
	})

	return nil
}

// upsert replaces any job under the same key, carrying over the firing mark
// so a re-registration cannot refire an already-served window.
func (q *Queue) upsert(j *Job) {
	if prev, ok := q.jobs[j.Key]; ok {
		j.lastFire = prev.lastFire
		j.LastFiredAt = prev.LastFiredAt
	}

	q.jobs[j.Key] = j
}

// CancelAll removes every registration owned by the user.
func (q *Queue) CancelAll(userID string) error {
	if q.disabled {
		return nil
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	for key, j := range q.jobs {
		if j.UserID == userID {
			delete(q.jobs, key)
		}
	}

	return nil
}

// HasHourly reports whether the user's hourly set is fully registered. A
// partial set counts as missing so the self-healing pass re-registers it.
func (q *Queue) HasHourly(userID string) bool {
	if q.disabled {
		return false
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	count := 0
	for hour := 0; hour < 24; hour++ {
		if _, ok := q.jobs[JobKey(KindHourly, userID, hour)]; ok {
			count++
		}
	}

	return count == 24
}

// Owners returns the distinct user ids with at least one live registration.
func (q *Queue) Owners() []string {
	if q.disabled {
		return nil
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	seen := make(map[string]bool)
	owners := make([]string, 0)
	for _, j := range q.jobs {
		if !seen[j.UserID] {
			seen[j.UserID] = true
			owners = append(owners, j.UserID)
		}
	}

	return owners
}

// TriggerMidnightReset publishes an immediate midnight-reset firing for the
// user, bypassing the recurrence. Used by the reconciliation ticks and the
// manual entrypoint. date names the local day being reset; the pre-midnight
// tick passes the upcoming day so the executor does not act on yesterday.
func (q *Queue) TriggerMidnightReset(userID, timezone, date string) error {
	if q.disabled {
		return nil
	}

	return q.publish(&Job{
		Key:      JobKey(KindMidnightReset, userID, 0),
		Kind:     KindMidnightReset,
		UserID:   userID,
		Hour:     0,
		Timezone: timezone,
	}, date)
}

// TriggerEveningReminder publishes an immediate save-reminder firing.
func (q *Queue) TriggerEveningReminder(userID string, hour int, timezone string) error {
	if q.disabled {
		return nil
	}

	return q.publish(&Job{
		Key:      JobKey(KindEveningReminder, userID, 0),
		Kind:     KindEveningReminder,
		UserID:   userID,
		Hour:     hour,
		Timezone: timezone,
	}, "")
}

// Stats returns a snapshot of queue health. Delayed counts registrations
// waiting on a future local-time window. In degraded mode every field is
// zero.
func (q *Queue) Stats() Stats {
	if q.disabled {
		return Stats{}
	}

	now := q.opts.Now()

	q.mu.Lock()
	repeatable := int64(len(q.jobs))

	var delayed int64
	for _, j := range q.jobs {
		local, ok := q.localTime(now, j.Timezone)
		if !ok || local.Hour() != j.Hour {
			delayed++
		}
	}
	q.mu.Unlock()

	return Stats{
		Waiting:    q.waiting.Load(),
		Active:     q.active.Load(),
		Completed:  q.completed.Load(),
		Failed:     q.failed.Load(),
		Delayed:    delayed,
		Repeatable: repeatable,
	}
}

func (q *Queue) recordFailure(msg Message, err error) {
	q.histMu.Lock()
	defer q.histMu.Unlock()

	q.history = append(q.history, FailureRecord{
		RunID:    msg.RunID,
		Key:      msg.Key,
		Kind:     msg.Kind,
		UserID:   msg.UserID,
		Hour:     msg.Hour,
		Error:    err.Error(),
		FailedAt: q.opts.Now(),
	})

	if len(q.history) > q.opts.HistoryLimit {
		q.history = q.history[len(q.history)-q.opts.HistoryLimit:]
	}
}

// Failures returns a copy of the retained failure history, newest last.
func (q *Queue) Failures() []FailureRecord {
	q.histMu.Lock()
	defer q.histMu.Unlock()

	out := make([]FailureRecord, len(q.history))
	copy(out, q.history)

	return out
}

// PruneFailures drops history entries older than the cutoff and returns how
// many were removed.
func (q *Queue) PruneFailures(before time.Time) int {
	q.histMu.Lock()
	defer q.histMu.Unlock()

	kept := q.history[:0]
	for _, r := range q.history {
		if !r.FailedAt.Before(before) {
			kept = append(kept, r)
		}
	}

	removed := len(q.history) - len(kept)
	q.history = kept

	return removed
}
