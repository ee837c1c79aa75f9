package reports

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/schoolledger/schoolledger/internal/billing"
	"github.com/schoolledger/schoolledger/internal/expenses"
	"github.com/schoolledger/schoolledger/internal/extrabilling"
	"github.com/schoolledger/schoolledger/internal/platform/cache"
	"github.com/schoolledger/schoolledger/internal/store"
	"github.com/schoolledger/schoolledger/report"
)

type countingStudents struct {
	*billing.Repository
	loads atomic.Int32
}

func (c *countingStudents) LoadStudents(ctx context.Context) ([]billing.Student, error) {
	c.loads.Add(1)
	return c.Repository.LoadStudents(ctx)
}

type fakePDF struct {
	calls atomic.Int32
	err   error
}

func (f *fakePDF) RenderHTML(ctx context.Context, html string, opts report.Options) ([]byte, error) {
	f.calls.Add(1)
	if f.err != nil {
		return nil, f.err
	}
	return []byte("%PDF " + html[:15]), nil
}

func newTestService(t *testing.T) (*Service, *countingStudents, store.KV) {
	t.Helper()
	snap := fixture(t)
	ctx := t.Context()
	kv := store.NewMemoryKV()

	students := &countingStudents{Repository: billing.NewRepository(kv)}
	require.NoError(t, students.SaveStudents(ctx, snap.Students))
	require.NoError(t, students.SaveSettings(ctx, snap.Settings))
	charges := extrabilling.NewRepository(kv)
	require.NoError(t, charges.SaveCharges(ctx, snap.Charges))
	spend := expenses.NewRepository(kv)
	require.NoError(t, spend.SaveExpenses(ctx, snap.Expenses))

	svc := NewService(students, charges, spend, slog.New(slog.NewTextHandler(io.Discard, nil))).
		WithNow(func() time.Time { return asOf })
	return svc, students, kv
}

func TestServiceCachesUntilBump(t *testing.T) {
	svc, students, _ := newTestService(t)
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	c := cache.NewCache(client, "test", time.Minute)
	svc.WithCache(c)
	ctx := t.Context()

	first, err := svc.ClassBreakdown(ctx)
	require.NoError(t, err)
	second, err := svc.ClassBreakdown(ctx)
	require.NoError(t, err)
	require.Equal(t, first, second)
	require.Equal(t, int32(1), students.loads.Load())
	require.True(t, mr.Exists("reports:classes:2024-03-10:1"))

	require.NoError(t, c.Bump(ctx))
	_, err = svc.ClassBreakdown(ctx)
	require.NoError(t, err)
	require.Equal(t, int32(2), students.loads.Load())

	_, err = svc.Statement(ctx, "missing")
	require.ErrorIs(t, err, billing.ErrStudentNotFound)
}

func TestServiceFinanceDefaultsToCurrentYear(t *testing.T) {
	svc, _, _ := newTestService(t)
	sum, err := svc.Finance(t.Context(), 0)
	require.NoError(t, err)
	require.Equal(t, 2024, sum.Year)
	require.Equal(t, 290.0, sum.Net)

	rows, err := svc.Outstanding(t.Context())
	require.NoError(t, err)
	require.Len(t, rows, 3)
}

func TestStatementPDF(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := t.Context()

	_, err := svc.StatementPDF(ctx, "s2")
	require.ErrorIs(t, err, ErrPDFUnavailable)

	pdf := &fakePDF{}
	svc.WithPDF(pdf)
	out, err := svc.StatementPDF(ctx, "s2")
	require.NoError(t, err)
	require.Equal(t, "%PDF <!DOCTYPE html>", string(out))
	require.Equal(t, int32(1), pdf.calls.Load())

	_, err = svc.StatementPDF(ctx, "missing")
	require.ErrorIs(t, err, billing.ErrStudentNotFound)
	require.Equal(t, int32(1), pdf.calls.Load())
}

func TestHandler(t *testing.T) {
	svc, _, _ := newTestService(t)
	r := chi.NewRouter()
	NewHandler(slog.New(slog.NewTextHandler(io.Discard, nil)), svc).MountRoutes(r)

	get := func(path string) *httptest.ResponseRecorder {
		rr := httptest.NewRecorder()
		r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, path, nil))
		return rr
	}

	rr := get("/reports/classes")
	require.Equal(t, http.StatusOK, rr.Code)
	require.Contains(t, rr.Body.String(), `"className":"Grade 3"`)

	rr = get("/reports/outstanding?format=csv")
	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, "text/csv; charset=utf-8", rr.Header().Get("Content-Type"))
	require.Contains(t, rr.Header().Get("Content-Disposition"), "outstanding.csv")
	require.Contains(t, rr.Body.String(), "Student ID,Name,Class")

	require.Equal(t, http.StatusBadRequest, get("/reports/finance?year=abc").Code)
	rr = get("/reports/finance?year=2024&format=csv")
	require.Equal(t, http.StatusOK, rr.Code)
	require.Contains(t, rr.Header().Get("Content-Disposition"), "finance-2024.csv")

	require.Equal(t, http.StatusNotFound, get("/reports/students/missing/statement").Code)
	rr = get("/reports/students/s1/statement.html")
	require.Equal(t, http.StatusOK, rr.Code)
	require.Contains(t, rr.Body.String(), "Museum trip")
	require.Equal(t, http.StatusServiceUnavailable, get("/reports/students/s1/statement.pdf").Code)

	svc.WithPDF(&fakePDF{err: errors.New("gotenberg down")})
	require.Equal(t, http.StatusBadGateway, get("/reports/students/s1/statement.pdf").Code)
	require.Equal(t, http.StatusNotFound, get("/reports/students/missing/statement.pdf").Code)

	svc.WithPDF(&fakePDF{})
	rr = get("/reports/students/s1/statement.pdf")
	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, "application/pdf", rr.Header().Get("Content-Type"))
}
