package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"

	"github.com/schoolledger/schoolledger/internal/app"
	jobmetrics "github.com/schoolledger/schoolledger/internal/jobs"
	"github.com/schoolledger/schoolledger/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping worker startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	rt, err := app.NewRuntime(ctx, cfg, logger)
	if err != nil {
		logger.Error("open runtime", slog.Any("error", err))
		os.Exit(1)
	}
	defer rt.Close()

	metrics := jobmetrics.NewMetrics(nil)
	promotionJob := jobs.NewAutoPromotionJob(rt.Promotion, logger, metrics)
	totalsJob := jobs.NewRefreshTotalsJob(rt.Billing, logger, metrics)

	promotionTask, err := jobs.NewAutoPromotionTask("")
	if err != nil {
		logger.Error("build promotion task", slog.Any("error", err))
		os.Exit(1)
	}
	totalsTask, err := jobs.NewRefreshTotalsTask("")
	if err != nil {
		logger.Error("build totals task", slog.Any("error", err))
		os.Exit(1)
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts: asynq.RedisClientOpt{Addr: cfg.RedisAddr},
		Logger:    logger,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskAutoPromotion, Handler: promotionJob.Handle},
			{Type: jobs.TaskRefreshTotals, Handler: totalsJob.Handle},
		},
		Cron: []jobs.CronRegistration{
			{Spec: cfg.PromotionCron, Task: promotionTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
			{Spec: cfg.TotalsRefreshCron, Task: totalsTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
		},
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("worker run", slog.Any("error", err))
		os.Exit(1)
	}
}
