package main

import (
	"context"
	"errors"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/wb-go/wbf/dbpg"
	"github.com/wb-go/wbf/rabbitmq"
	"github.com/wb-go/wbf/redis"
	"github.com/wb-go/wbf/zlog"

	timerhandler "github.com/haneulk/tarot-timer/internal/api/handlers/timer"
	"github.com/haneulk/tarot-timer/internal/api/router"
	"github.com/haneulk/tarot-timer/internal/api/server"
	"github.com/haneulk/tarot-timer/internal/config"
	"github.com/haneulk/tarot-timer/internal/dispatch"
	"github.com/haneulk/tarot-timer/internal/queue"
	"github.com/haneulk/tarot-timer/internal/repository/sessions"
	"github.com/haneulk/tarot-timer/internal/repository/userdir"
	"github.com/haneulk/tarot-timer/internal/scheduler"
	timersvc "github.com/haneulk/tarot-timer/internal/service/timer"
	"github.com/haneulk/tarot-timer/pkg/email"
	"github.com/haneulk/tarot-timer/pkg/push"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	zlog.Init()
	cfg := config.Must()
	val := validator.New()

	queueOpts := queue.Options{
		PollInterval:    cfg.Scheduler.PollInterval,
		MinuteTolerance: cfg.Scheduler.MinuteTolerance,
		WorkerCount:     cfg.Workers.Count,
	}

	// The broker being down must not take the draw engine and the API down
	// with it; fall back to the degraded no-op queue instead.
	var (
		q           *queue.Queue
		closeBroker = func() {}
	)

	conn, err := rabbitmq.Connect(cfg.RabbitMQ.URL(), cfg.RabbitMQ.Retries, cfg.RabbitMQ.Pause)
	if err != nil {
		zlog.Logger.Warn().Err(err).Msg("failed to connect to rabbitmq")
		q = queue.NewDisabled(queueOpts)
	} else {
		ch, err := conn.Channel()
		if err != nil {
			zlog.Logger.Fatal().Err(err).Msg("failed to open channel")
		}

		q, err = queue.New(ch, queueOpts)
		if err != nil {
			zlog.Logger.Fatal().Err(err).Msg("failed to create job queue")
		}

		closeBroker = func() {
			if err := ch.Close(); err != nil {
				zlog.Logger.Error().Err(err).Msg("failed to close RabbitMQ channel")
			}
			if err := conn.Close(); err != nil {
				zlog.Logger.Error().Err(err).Msg("failed to close RabbitMQ connection")
			}
		}
	}

	opts := &dbpg.Options{
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
	}

	slaveDSNs := make([]string, 0, len(cfg.Database.Slaves))
	for _, s := range cfg.Database.Slaves {
		slaveDSNs = append(slaveDSNs, s.DSN())
	}

	db, err := dbpg.New(cfg.Database.Master.DSN(), slaveDSNs, opts)
	if err != nil {
		zlog.Logger.Fatal().Err(err).Msg("failed to connect to database")
	}

	userRepo := userdir.NewRepository(db)
	sessRepo := sessions.NewRepository(db)

	dbNum, err := strconv.Atoi(cfg.Redis.Database)
	if err != nil {
		zlog.Logger.Fatal().Err(err).Msg("failed to parse redis database")
	}

	rdb := redis.New(cfg.Redis.Address, cfg.Redis.Password, dbNum)

	if err = rdb.Ping(ctx).Err(); err != nil {
		zlog.Logger.Fatal().Err(err).Msg("failed to connect to redis")
	}

	pushClient := push.NewClient(cfg.Push.Endpoint)
	emailClient := email.NewClient(
		cfg.Email.SMTPHost,
		cfg.Email.SMTPPort,
		cfg.Email.Username,
		cfg.Email.Password,
		cfg.Email.From,
	)

	dispatchers := map[string]queue.Dispatcher{
		"push":  dispatch.NewPush(pushClient),
		"email": dispatch.NewEmail(emailClient),
	}

	executor := queue.NewExecutor(userRepo, rdb, sessRepo, dispatchers, q, cfg.Delivery, cfg.MarkStore)
	q.Start(ctx, executor)

	sched := scheduler.New(userRepo, q, rdb, scheduler.Config{
		HourlyTick:        cfg.Scheduler.HourlyTick,
		MidnightTick:      cfg.Scheduler.MidnightTick,
		ReminderTick:      cfg.Scheduler.ReminderTick,
		MaintenanceTick:   cfg.Scheduler.MaintenanceTick,
		MinuteTolerance:   cfg.Scheduler.MinuteTolerance,
		ReminderHour:      cfg.Scheduler.ReminderHour,
		WorkerCount:       cfg.Workers.Count,
		FailureRetention:  time.Duration(cfg.Scheduler.RetentionDays) * 24 * time.Hour,
		InactiveRetention: time.Duration(cfg.Scheduler.RetentionDays) * 24 * time.Hour,
		MarkStore:         cfg.MarkStore,
	})
	sched.Start(ctx)

	service := timersvc.NewService(userRepo, sessRepo, q, cfg.Scheduler.ReminderHour)
	handler := timerhandler.NewHandler(service, val)

	r := router.New(handler)
	s := server.New(cfg.Server.HTTPPort, r)

	go func() {
		if err := s.ListenAndServe(); err != nil {
			zlog.Logger.Fatal().Err(err).Msg("failed to start server")
		}
	}()

	<-ctx.Done()
	zlog.Logger.Info().Msg("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	zlog.Logger.Info().Msg("shutting down server")
	if err := s.Shutdown(shutdownCtx); err != nil {
		zlog.Logger.Error().Err(err).Msg("failed to shutdown server")
	}

	if errors.Is(shutdownCtx.Err(), context.DeadlineExceeded) {
		zlog.Logger.Info().Msg("timeout exceeded, forcing shutdown")
	}

	sched.Stop()
	q.Stop()

	if err := db.Master.Close(); err != nil {
		zlog.Logger.Printf("failed to close master DB: %v", err)
	}

	for i, s := range db.Slaves {
		if err := s.Close(); err != nil {
			zlog.Logger.Printf("failed to close slave DB %d: %v", i, err)
		}
	}

	closeBroker()
}
