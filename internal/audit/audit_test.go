package audit

import (
	"context"
	"encoding/csv"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/schoolledger/schoolledger/internal/shared"
	"github.com/schoolledger/schoolledger/internal/store"
)

func seeded(t *testing.T) *shared.AuditLogger {
	t.Helper()
	ctx := context.Background()
	logger := shared.NewAuditLogger(store.NewMemoryKV(), 0)
	entries := []shared.AuditLog{
		{Actor: "bursar", Action: "payment.record", Entity: "student", EntityID: "s1", At: time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)},
		{Actor: "bursar", Action: "payment.skip", Entity: "student", EntityID: "s2", At: time.Date(2024, 3, 2, 9, 0, 0, 0, time.UTC)},
		{Actor: "head", Action: "expense.create", Entity: "expense", EntityID: "e1", At: time.Date(2024, 3, 3, 9, 0, 0, 0, time.UTC)},
		{Actor: "system", Action: "promotion.run", Entity: "promotion", EntityID: "run", At: time.Date(2025, 1, 1, 0, 5, 0, 0, time.UTC)},
	}
	for _, e := range entries {
		require.NoError(t, logger.Record(ctx, e))
	}
	return logger
}

func TestTimelineFiltersAndPages(t *testing.T) {
	svc := NewService(seeded(t))
	ctx := context.Background()

	res, err := svc.Timeline(ctx, TimelineFilters{Action: "payment.", PageSize: 1, Page: 2})
	require.NoError(t, err)
	require.Equal(t, shared.Pagination{Page: 2, PerPage: 1, Total: 2, TotalPages: 2}, res.Paging)
	require.Equal(t, "s1", res.Rows[0].EntityID)

	res, err = svc.Timeline(ctx, TimelineFilters{From: time.Date(2024, 3, 2, 0, 0, 0, 0, time.UTC), To: time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC)})
	require.NoError(t, err)
	require.Len(t, res.Rows, 2)

	res, err = svc.Timeline(ctx, TimelineFilters{Actor: "HEAD"})
	require.NoError(t, err)
	require.Len(t, res.Rows, 1)

	res, err = svc.Timeline(ctx, TimelineFilters{Page: 9})
	require.NoError(t, err)
	require.Empty(t, res.Rows)
}

func TestHandler(t *testing.T) {
	r := chi.NewRouter()
	NewHandler(slog.New(slog.NewTextHandler(io.Discard, nil)), NewService(seeded(t))).MountRoutes(r)
	get := func(path string) *httptest.ResponseRecorder {
		rr := httptest.NewRecorder()
		r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, path, nil))
		return rr
	}

	rr := get("/audit?entity=student&to=2024-03-01")
	require.Equal(t, http.StatusOK, rr.Code)
	require.Contains(t, rr.Body.String(), `"entityId":"s1"`)
	require.NotContains(t, rr.Body.String(), `"entityId":"s2"`)

	require.Equal(t, http.StatusBadRequest, get("/audit?from=01-03-2024").Code)
	require.Equal(t, http.StatusBadRequest, get("/audit?pageSize=1000").Code)

	rr = get("/audit/export.csv?entityId=e1")
	require.Equal(t, http.StatusOK, rr.Code)
	records, err := csv.NewReader(rr.Body).ReadAll()
	require.NoError(t, err)
	require.Equal(t, []string{"2024-03-03T09:00:00Z", "head", "expense.create", "expense", "e1"}, records[1])
}
