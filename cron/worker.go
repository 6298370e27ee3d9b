package cron

import (
	"context"
	"fmt"
	"time"

	"sakhi/config"
	"sakhi/services/settlement"
	"sakhi/utils"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"
)

const (
	TypeSettlementSweep = "settlement:sweep"
	TypeBookingExpire   = "booking:expire"
)

func redisOpts() asynq.RedisClientOpt {
	return asynq.RedisClientOpt{
		Addr:     config.AppConfig.RedisAddr,
		Password: config.AppConfig.RedisPassword,
		DB:       config.AppConfig.RedisWorkerDB,
	}
}

// InitSettlementWorker runs the async settlement worker and its scheduler in
// the background. The scheduler enqueues a sweep and an expiry pass every
// settlement interval; the worker drains them. Both tasks are idempotent, so
// overlapping runs after a crash or redeploy are harmless.
func InitSettlementWorker(engine *settlement.Engine) {
	logger := utils.GetLogger()

	srv := asynq.NewServer(
		redisOpts(),
		asynq.Config{
			Concurrency: 2,
			Queues: map[string]int{
				"default": 1,
			},
		},
	)

	mux := asynq.NewServeMux()
	mux.HandleFunc(TypeSettlementSweep, handleSweepTask(engine))
	mux.HandleFunc(TypeBookingExpire, handleExpireTask(engine))

	go func() {
		logger.Info("settlement worker starting")
		const maxAttempts = 5

		for attempts := 1; attempts <= maxAttempts; attempts++ {
			if err := srv.Run(mux); err != nil {
				logger.Error("settlement worker failed to start",
					zap.Int("attempt", attempts), zap.Error(err))
				if attempts == maxAttempts {
					logger.Fatal("settlement worker exhausted retries")
				}
				time.Sleep(time.Duration(attempts*2) * time.Second)
			} else {
				break
			}
		}
	}()

	go runScheduler(logger)
}

func runScheduler(logger *zap.Logger) {
	interval := config.AppConfig.SettlementIntervalSecs
	if interval <= 0 {
		interval = 60
	}
	spec := fmt.Sprintf("@every %ds", interval)

	scheduler := asynq.NewScheduler(redisOpts(), &asynq.SchedulerOpts{})
	if _, err := scheduler.Register(spec, asynq.NewTask(TypeSettlementSweep, nil)); err != nil {
		logger.Fatal("failed to register settlement sweep", zap.Error(err))
	}
	if _, err := scheduler.Register(spec, asynq.NewTask(TypeBookingExpire, nil)); err != nil {
		logger.Fatal("failed to register booking expiry", zap.Error(err))
	}

	logger.Info("settlement scheduler starting", zap.String("interval", spec))
	if err := scheduler.Run(); err != nil {
		logger.Error("settlement scheduler stopped", zap.Error(err))
	}
}

func handleSweepTask(engine *settlement.Engine) asynq.HandlerFunc {
	return func(ctx context.Context, _ *asynq.Task) error {
		settled, err := engine.Sweep(ctx)
		if err != nil {
			utils.GetLogger().Error("settlement sweep failed", zap.Error(err))
			return err
		}
		if settled > 0 {
			utils.GetLogger().Info("settlement sweep complete", zap.Int("settled", settled))
		}
		return nil
	}
}

func handleExpireTask(engine *settlement.Engine) asynq.HandlerFunc {
	return func(ctx context.Context, _ *asynq.Task) error {
		expired, err := engine.ExpireStale(ctx)
		if err != nil {
			utils.GetLogger().Error("booking expiry pass failed", zap.Error(err))
			return err
		}
		if expired > 0 {
			utils.GetLogger().Info("stale accepted bookings expired", zap.Int("expired", expired))
		}
		return nil
	}
}
