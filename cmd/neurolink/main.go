package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/wb-go/wbf/dbpg"
	"github.com/wb-go/wbf/redis"
	"github.com/wb-go/wbf/zlog"

	"github.com/orbita/neurolink/internal/api/handlers/notification"
	"github.com/orbita/neurolink/internal/api/router"
	"github.com/orbita/neurolink/internal/api/server"
	"github.com/orbita/neurolink/internal/config"
	"github.com/orbita/neurolink/internal/engagement"
	"github.com/orbita/neurolink/internal/genai"
	"github.com/orbita/neurolink/internal/guard"
	"github.com/orbita/neurolink/internal/priority"
	"github.com/orbita/neurolink/internal/queue"
	notifrepo "github.com/orbita/neurolink/internal/repository/notification"
	taskrepo "github.com/orbita/neurolink/internal/repository/task"
	userrepo "github.com/orbita/neurolink/internal/repository/user"
	"github.com/orbita/neurolink/internal/scheduler"
	notifsvc "github.com/orbita/neurolink/internal/service/notification"
	"github.com/orbita/neurolink/internal/transport"
	"github.com/orbita/neurolink/pkg/email"
	"github.com/orbita/neurolink/pkg/telegram"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	zlog.Init()
	cfg := config.Must()
	val := validator.New()

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

	rdb := redis.New(cfg.Redis.Address, cfg.Redis.Password, cfg.Redis.Database)
	if err = rdb.Ping(ctx).Err(); err != nil {
		zlog.Logger.Fatal().Err(err).Msg("failed to connect to redis")
	}

	notifications := notifrepo.NewRepository(db)
	users := userrepo.NewRepository(db)
	tasks := taskrepo.NewRepository(db)

	emailClient := email.NewClient(
		cfg.Email.SMTPHost,
		cfg.Email.SMTPPort,
		cfg.Email.Username,
		cfg.Email.Password,
		cfg.Email.From,
	)
	telegramClient := telegram.NewClient(cfg.Telegram.Token)

	transports := map[string]queue.Transport{
		"email":    transport.NewEmail(emailClient),
		"telegram": transport.NewTelegram(telegramClient),
	}

	calculator := priority.NewCalculator(priority.DefaultWeights())
	engine := genai.NewEngine(genai.Config{
		APIURL:  cfg.AI.APIURL,
		Token:   cfg.AI.Token,
		Model:   cfg.AI.Model,
		Timeout: cfg.AI.Timeout,
		Retry:   cfg.Retry,
	})
	processor := engagement.NewProcessor(tasks, notifications, rdb, cfg.Retry)
	duplicates := guard.NewDuplicateGuard(notifications, cfg.Queue.Cooldown)
	limiter := guard.NewRateLimiter(notifications, users)

	manager := queue.NewManager(
		notifications, users, tasks,
		engine, processor, duplicates, limiter,
		calculator, transports,
		queue.Options{
			BatchSize:   cfg.Queue.BatchSize,
			MaxAttempts: cfg.Queue.MaxAttempts,
		},
	)

	loc, err := time.LoadLocation(cfg.Scheduler.Timezone)
	if err != nil {
		zlog.Logger.Fatal().Err(err).Msg("failed to load scheduler timezone")
	}

	jobs, err := scheduler.New(manager, tasks, notifications, users, scheduler.Options{
		Location:      loc,
		DrainSpec:     cfg.Scheduler.DrainSpec,
		DeadlineSpec:  cfg.Scheduler.DeadlineSpec,
		OverdueSpec:   cfg.Scheduler.OverdueSpec,
		CleanupSpec:   cfg.Scheduler.CleanupSpec,
		InsightSpec:   cfg.Scheduler.InsightSpec,
		RetentionDays: cfg.Queue.RetentionDays,
	})
	if err != nil {
		zlog.Logger.Fatal().Err(err).Msg("failed to create scheduler")
	}
	jobs.Start()

	service := notifsvc.New(manager, notifications, tasks, users, calculator, rdb, cfg.Retry)
	handler := notification.NewHandler(service, val)

	r := router.New(handler)
	s := server.New(cfg.Server.HTTPPort, r)

	go func() {
		if err := s.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
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

	jobs.Stop()

	if err := db.Master.Close(); err != nil {
		zlog.Logger.Error().Err(err).Msg("failed to close master DB")
	}
	for i, slave := range db.Slaves {
		if err := slave.Close(); err != nil {
			zlog.Logger.Error().Err(err).Int("slave", i).Msg("failed to close slave DB")
		}
	}
}
