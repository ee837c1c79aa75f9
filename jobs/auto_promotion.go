package jobs

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/schoolledger/schoolledger/internal/jobs"
	"github.com/schoolledger/schoolledger/internal/promotion"
	"github.com/schoolledger/schoolledger/internal/shared"
)

// AutoPromoter is the promotion behaviour the job drives.
type AutoPromoter interface {
	RunAutomatic(ctx context.Context) (promotion.AutoRunResult, error)
}

// AutoPromotionJob asks the promotion service to run its yearly pass. On any
// day other than the configured one the service answers with a no-op.
type AutoPromotionJob struct {
	Service AutoPromoter
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// NewAutoPromotionJob constructs the job handler.
func NewAutoPromotionJob(service AutoPromoter, logger *slog.Logger, metrics *jobmetrics.Metrics) *AutoPromotionJob {
	return &AutoPromotionJob{Service: service, Logger: logger, Metrics: metrics}
}

// Handle executes the automatic promotion check.
func (j *AutoPromotionJob) Handle(ctx context.Context, task *asynq.Task) error {
	if j == nil || j.Service == nil {
		return errors.New("auto promotion: dependencies not configured")
	}
	payload, err := decodePayload(task)
	if err != nil {
		return asynq.SkipRetry
	}

	tracker := j.metrics().Track(TaskAutoPromotion)
	var resultErr error
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	start := time.Now()
	ctx = shared.ContextWithActor(ctx, payload.actor())
	res, err := j.Service.RunAutomatic(ctx)
	if err != nil {
		resultErr = err
		j.log().Error("automatic promotion", slog.Any("error", err))
		return resultErr
	}
	if !res.Ran {
		j.log().Info("automatic promotion skipped", slog.String("reason", res.Message))
		return resultErr
	}
	if res.Result != nil {
		touched := len(res.Result.Promoted) + len(res.Result.Transferred) + len(res.Result.Pending)
		j.metrics().AddStudents(TaskAutoPromotion, touched)
		if len(res.Result.Errors) > 0 {
			j.log().Warn("automatic promotion finished with errors", slog.Any("errors", res.Result.Errors))
		}
	}
	j.log().Info("automatic promotion finished", slog.String("summary", res.Message), slog.Duration("duration", time.Since(start)))
	return resultErr
}

func (j *AutoPromotionJob) metrics() *jobmetrics.Metrics {
	if j != nil && j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}

func (j *AutoPromotionJob) log() *slog.Logger {
	if j != nil && j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskAutoPromotion))
	}
	return slog.Default().With(slog.String("job", TaskAutoPromotion))
}
