package expenses

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/schoolledger/schoolledger/internal/calendar"
	"github.com/schoolledger/schoolledger/internal/shared"
	"github.com/schoolledger/schoolledger/internal/store"
)

func TestSummarizeByCategoryAndMonth(t *testing.T) {
	expenses := []Expense{
		{Category: "Fuel", Amount: 40.10, Date: calendar.Date(2024, time.January, 3)},
		{Category: "Fuel", Amount: 19.95, Date: calendar.Date(2024, time.January, 20)},
		{Category: "Stationery", Amount: 120, Date: calendar.Date(2024, time.March, 1)},
		{Category: " ", Amount: 5, Date: calendar.Date(2024, time.March, 2)},
		{Category: "Fuel", Amount: 999, Date: calendar.Date(2023, time.December, 30)},
	}
	sum := Summarize(expenses, 2024)
	require.Equal(t, 185.05, sum.Total)
	require.Equal(t, 4, sum.Count)
	require.Equal(t, []CategoryTotal{
		{Category: "Stationery", Total: 120, Count: 1},
		{Category: "Fuel", Total: 60.05, Count: 2},
		{Category: DefaultCategory, Total: 5, Count: 1},
	}, sum.ByCategory)
	require.Len(t, sum.ByMonth, 12)
	require.Equal(t, MonthTotal{Month: 1, MonthName: "January", Total: 60.05}, sum.ByMonth[0])
	require.Equal(t, 125.0, sum.ByMonth[2].Total)
	require.Zero(t, sum.ByMonth[11].Total)
}

func newTestService(t *testing.T) (*Service, *shared.AuditLogger) {
	t.Helper()
	kv := store.NewMemoryKV()
	audit := shared.NewAuditLogger(kv, 0)
	svc := NewService(NewRepository(kv), audit, slog.New(slog.NewTextHandler(io.Discard, nil))).
		WithNow(func() time.Time { return time.Date(2024, time.June, 1, 9, 0, 0, 0, time.UTC) })
	return svc, audit
}

func TestServiceLifecycle(t *testing.T) {
	svc, audit := newTestService(t)
	ctx := context.Background()

	_, err := svc.Create(ctx, Input{Title: "", Amount: 10, Date: calendar.Date(2024, time.May, 1)})
	require.ErrorIs(t, err, ErrInvalidExpense)
	_, err = svc.Create(ctx, Input{Title: "Diesel", Amount: -1, Date: calendar.Date(2024, time.May, 1)})
	require.ErrorIs(t, err, ErrInvalidExpense)

	first, err := svc.Create(ctx, Input{Title: " Diesel ", Amount: 80, Date: calendar.Date(2024, time.May, 1)})
	require.NoError(t, err)
	require.Equal(t, "Diesel", first.Title)
	require.Equal(t, DefaultCategory, first.Category)
	second, err := svc.Create(ctx, Input{Category: "Repairs", Title: "Roof", Amount: 300, Date: calendar.Date(2024, time.May, 20)})
	require.NoError(t, err)

	list, err := svc.List(ctx, Filter{Year: 2024})
	require.NoError(t, err)
	require.Equal(t, []string{second.ID, first.ID}, []string{list[0].ID, list[1].ID})

	list, err = svc.List(ctx, Filter{Category: "repairs"})
	require.NoError(t, err)
	require.Len(t, list, 1)

	updated, err := svc.Update(ctx, first.ID, Input{Category: "Fuel", Title: "Diesel", Amount: 85, Date: calendar.Date(2024, time.May, 2)})
	require.NoError(t, err)
	require.Equal(t, 85.0, updated.Amount)
	require.Equal(t, first.CreatedAt, updated.CreatedAt)

	sum, err := svc.Summary(ctx, 0)
	require.NoError(t, err)
	require.Equal(t, 2024, sum.Year)
	require.Equal(t, 385.0, sum.Total)

	require.NoError(t, svc.Delete(ctx, second.ID))
	require.ErrorIs(t, svc.Delete(ctx, second.ID), ErrNotFound)
	_, err = svc.Update(ctx, "missing", Input{Title: "x", Amount: 1, Date: calendar.Date(2024, time.May, 2)})
	require.ErrorIs(t, err, ErrNotFound)

	entries, err := audit.List(ctx, first.ID, 0)
	require.NoError(t, err)
	require.Equal(t, "expense.update", entries[0].Action)
}

func TestHandler(t *testing.T) {
	svc, _ := newTestService(t)
	r := chi.NewRouter()
	NewHandler(slog.New(slog.NewTextHandler(io.Discard, nil)), svc).MountRoutes(r)

	post := func(body string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/expenses", strings.NewReader(body))
		rr := httptest.NewRecorder()
		r.ServeHTTP(rr, req)
		return rr
	}
	rr := post(`{"title":"Chalk","amount":12.5,"date":"2024-02-10","category":"Stationery"}`)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	require.Equal(t, http.StatusBadRequest, post(`{"title":"Chalk","amount":0,"date":"2024-02-10"}`).Code)
	require.Equal(t, http.StatusBadRequest, post(`{"title":"Chalk","amount":3,"date":"10/02/2024"}`).Code)

	req := httptest.NewRequest(http.MethodGet, "/expenses/summary?year=2024", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"total":12.5`)

	req = httptest.NewRequest(http.MethodDelete, "/expenses/nope", nil)
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	require.Equal(t, http.StatusNotFound, rec.Code)
}
