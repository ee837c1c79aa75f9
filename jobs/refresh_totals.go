package jobs

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/schoolledger/schoolledger/internal/jobs"
	"github.com/schoolledger/schoolledger/internal/shared"
)

// TotalsRefresher recomputes stored totals and reports how many changed.
type TotalsRefresher interface {
	RefreshAllTotals(ctx context.Context) (int, error)
}

// RefreshTotalsJob keeps stored totalPaid/totalOwed in step with the calendar.
type RefreshTotalsJob struct {
	Service TotalsRefresher
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// NewRefreshTotalsJob constructs the job handler.
func NewRefreshTotalsJob(service TotalsRefresher, logger *slog.Logger, metrics *jobmetrics.Metrics) *RefreshTotalsJob {
	return &RefreshTotalsJob{Service: service, Logger: logger, Metrics: metrics}
}

// Handle executes the totals refresh.
func (j *RefreshTotalsJob) Handle(ctx context.Context, task *asynq.Task) error {
	if j == nil || j.Service == nil {
		return errors.New("refresh totals: dependencies not configured")
	}
	payload, err := decodePayload(task)
	if err != nil {
		return asynq.SkipRetry
	}

	tracker := j.metrics().Track(TaskRefreshTotals)
	var resultErr error
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	start := time.Now()
	changed, err := j.Service.RefreshAllTotals(shared.ContextWithActor(ctx, payload.actor()))
	if err != nil {
		resultErr = err
		j.log().Error("refresh totals", slog.Any("error", err))
		return resultErr
	}
	j.metrics().AddStudents(TaskRefreshTotals, changed)
	j.log().Info("refreshed student totals", slog.Int("changed", changed), slog.Duration("duration", time.Since(start)))
	return resultErr
}

func (j *RefreshTotalsJob) metrics() *jobmetrics.Metrics {
	if j != nil && j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}

func (j *RefreshTotalsJob) log() *slog.Logger {
	if j != nil && j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskRefreshTotals))
	}
	return slog.Default().With(slog.String("job", TaskRefreshTotals))
}
