package worker

import (
	"context"
	"fmt"

	"github.com/hibiken/asynq"
	"github.com/makkenzo/device-licensing-api/internal/config"
	"github.com/makkenzo/device-licensing-api/internal/events"
	"github.com/makkenzo/device-licensing-api/internal/storage"
	"github.com/makkenzo/device-licensing-api/internal/tasks"
	"go.uber.org/zap"
)

func RedisConnOpt(cfg *config.Config) asynq.RedisClientOpt {
	return asynq.RedisClientOpt{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	}
}

// NewServeMux registers every task handler the worker serves.
func NewServeMux(cfg *config.Config, store storage.Store, publisher events.Publisher, logger *zap.Logger) *asynq.ServeMux {
	mux := asynq.NewServeMux()

	purgeHandler := tasks.NewPurgeHandler(store, cfg.Worker.TokenRetention, cfg.Worker.UsageRetention, logger)
	mux.HandleFunc(tasks.TypeTokenPurge, purgeHandler.ProcessTokenPurge)
	mux.HandleFunc(tasks.TypeUsagePurge, purgeHandler.ProcessUsagePurge)

	alertHandler := tasks.NewAlertNotifyHandler(publisher, logger)
	mux.HandleFunc(tasks.TypeAlertNotify, alertHandler.ProcessTask)

	return mux
}

// RunWorkers runs the asynq server and the purge scheduler until ctx is cancelled or either of
// them fails.
func RunWorkers(ctx context.Context, cfg *config.Config, store storage.Store, publisher events.Publisher, logger *zap.Logger) error {
	errChan := make(chan error, 2)
	redisConnOpts := RedisConnOpt(cfg)

	concurrency := cfg.Worker.Concurrency
	if concurrency <= 0 {
		concurrency = 10
	}

	srv := asynq.NewServer(
		redisConnOpts,
		asynq.Config{
			Concurrency: concurrency,
			Queues: map[string]int{
				tasks.QueueCritical: 6,
				tasks.QueueDefault:  3,
				tasks.QueueLow:      1,
			},
			ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
				log := logger.Named("AsynqServerErrorHandler")
				log.Error("Asynq task processing failed",
					zap.String("task_type", task.Type()),
					zap.ByteString("payload", task.Payload()),
					zap.Error(err),
				)
			}),
			Logger: NewAsynqLoggerAdapter(logger.Named("AsynqServer")),
		},
	)

	mux := NewServeMux(cfg, store, publisher, logger)

	if err := srv.Start(mux); err != nil {
		return fmt.Errorf("asynq server error: %w", err)
	}
	logger.Info("Asynq Server started.")

	scheduler := asynq.NewScheduler(
		redisConnOpts,
		&asynq.SchedulerOpts{
			Logger: NewAsynqLoggerAdapter(logger.Named("AsynqScheduler")),
		},
	)

	if err := registerPeriodicTasks(scheduler, cfg.Worker.PurgeSchedule, logger); err != nil {
		srv.Shutdown()
		return err
	}

	go func() {
		logger.Info("Starting Asynq Scheduler...")
		if err := scheduler.Run(); err != nil {
			logger.Error("Asynq Scheduler run failed", zap.Error(err))
			errChan <- fmt.Errorf("asynq scheduler error: %w", err)
		}
	}()

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-errChan:
	}

	logger.Info("Shutting down Asynq Scheduler...")
	scheduler.Shutdown()
	logger.Info("Asynq Scheduler stopped.")

	logger.Info("Shutting down Asynq Server...")
	srv.Shutdown()
	logger.Info("Asynq Server stopped.")

	return runErr
}

type periodicRegistrar interface {
	Register(cronspec string, task *asynq.Task, opts ...asynq.Option) (string, error)
}

func registerPeriodicTasks(scheduler periodicRegistrar, schedule string, logger *zap.Logger) error {
	if schedule == "" {
		schedule = "@every 6h"
	}

	builders := map[string]func(...asynq.Option) (*asynq.Task, error){
		tasks.TypeTokenPurge: tasks.NewTokenPurgeTask,
		tasks.TypeUsagePurge: tasks.NewUsagePurgeTask,
	}

	for name, build := range builders {
		task, err := build()
		if err != nil {
			logger.Error("Failed to create periodic task", zap.String("task_type", name), zap.Error(err))
			return fmt.Errorf("scheduler task creation error: %w", err)
		}

		entryID, err := scheduler.Register(schedule, task)
		if err != nil {
			logger.Error("Could not register periodic task", zap.String("task_type", name), zap.Error(err))
			return fmt.Errorf("scheduler registration error: %w", err)
		}
		logger.Info("Registered periodic task",
			zap.String("task_type", name),
			zap.String("entry_id", entryID),
			zap.String("schedule", schedule),
		)
	}
	return nil
}

type asynqLoggerAdapter struct {
	logger *zap.Logger
}

func NewAsynqLoggerAdapter(logger *zap.Logger) *asynqLoggerAdapter {
	return &asynqLoggerAdapter{logger: logger.WithOptions(zap.AddCallerSkip(1))}
}

func (l *asynqLoggerAdapter) Debug(args ...interface{}) {
	l.logger.Debug(fmt.Sprint(args...))
}
func (l *asynqLoggerAdapter) Info(args ...interface{}) {
	l.logger.Info(fmt.Sprint(args...))
}
func (l *asynqLoggerAdapter) Warn(args ...interface{}) {
	l.logger.Warn(fmt.Sprint(args...))
}
func (l *asynqLoggerAdapter) Error(args ...interface{}) {
	l.logger.Error(fmt.Sprint(args...))
}
func (l *asynqLoggerAdapter) Fatal(args ...interface{}) {
	l.logger.Fatal(fmt.Sprint(args...))
}
