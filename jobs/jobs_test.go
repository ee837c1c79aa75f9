package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	jobmetrics "github.com/schoolledger/schoolledger/internal/jobs"
	"github.com/schoolledger/schoolledger/internal/promotion"
	"github.com/schoolledger/schoolledger/internal/shared"
)

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

type fakePromoter struct {
	result promotion.AutoRunResult
	err    error
	actor  string
}

func (f *fakePromoter) RunAutomatic(ctx context.Context) (promotion.AutoRunResult, error) {
	f.actor = shared.ActorFromContext(ctx)
	return f.result, f.err
}

type fakeRefresher struct {
	changed int
	err     error
	calls   int
}

func (f *fakeRefresher) RefreshAllTotals(ctx context.Context) (int, error) {
	f.calls++
	return f.changed, f.err
}

func TestTasksCarryRequester(t *testing.T) {
	task, err := NewAutoPromotionTask("ops")
	require.NoError(t, err)
	require.Equal(t, TaskAutoPromotion, task.Type())

	payload, err := decodePayload(task)
	require.NoError(t, err)
	require.Equal(t, "ops", payload.actor())

	task, err = NewRefreshTotalsTask("")
	require.NoError(t, err)
	require.Equal(t, TaskRefreshTotals, task.Type())
	payload, err = decodePayload(task)
	require.NoError(t, err)
	require.Equal(t, "scheduler", payload.actor())
}

func TestAutoPromotionJob(t *testing.T) {
	metrics := jobmetrics.NewMetrics(prometheus.NewRegistry())
	promoter := &fakePromoter{result: promotion.AutoRunResult{
		Ran:     true,
		Message: "promoted 1",
		Result:  &promotion.RunResult{Promoted: []promotion.Movement{{}}},
	}}
	job := NewAutoPromotionJob(promoter, discard(), metrics)

	task, err := NewAutoPromotionTask("")
	require.NoError(t, err)
	require.NoError(t, job.Handle(t.Context(), task))
	require.Equal(t, "scheduler", promoter.actor)

	promoter.result = promotion.AutoRunResult{Message: "not the promotion date"}
	require.NoError(t, job.Handle(t.Context(), task))

	boom := errors.New("store down")
	promoter.err = boom
	require.ErrorIs(t, job.Handle(t.Context(), task), boom)

	bad := asynq.NewTask(TaskAutoPromotion, []byte("{"))
	require.ErrorIs(t, job.Handle(t.Context(), bad), asynq.SkipRetry)

	var empty *AutoPromotionJob
	require.Error(t, empty.Handle(t.Context(), task))
}

func TestRefreshTotalsJob(t *testing.T) {
	refresher := &fakeRefresher{changed: 3}
	job := NewRefreshTotalsJob(refresher, discard(), jobmetrics.NewMetrics(prometheus.NewRegistry()))

	task, err := NewRefreshTotalsTask("cli")
	require.NoError(t, err)
	require.NoError(t, job.Handle(t.Context(), task))
	require.Equal(t, 1, refresher.calls)

	refresher.err = errors.New("boom")
	require.Error(t, job.Handle(t.Context(), task))
}

type fakeInspector struct {
	info *asynq.QueueInfo
	err  error
}

func (f fakeInspector) GetQueueInfo(string) (*asynq.QueueInfo, error) { return f.info, f.err }

func TestHealthHandler(t *testing.T) {
	serve := func(h *Handler) *httptest.ResponseRecorder {
		r := chi.NewRouter()
		h.MountRoutes(r)
		rr := httptest.NewRecorder()
		r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health", nil))
		return rr
	}

	rr := serve(NewHandler(fakeInspector{info: &asynq.QueueInfo{Queue: QueueDefault, Pending: 2, Retry: 1}}, discard()))
	require.Equal(t, http.StatusOK, rr.Code)
	var got queueHealth
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &got))
	require.Equal(t, queueHealth{Queue: QueueDefault, Pending: 2, Retry: 1}, got)

	rr = serve(NewHandler(fakeInspector{err: errors.New("redis down")}, discard()))
	require.Equal(t, http.StatusServiceUnavailable, rr.Code)

	rr = serve(NewHandler(nil, discard()))
	require.Equal(t, http.StatusOK, rr.Code)
}
