package e2e

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/schoolledger/schoolledger/internal/app"
	"github.com/schoolledger/schoolledger/internal/audit"
	"github.com/schoolledger/schoolledger/internal/billing"
	"github.com/schoolledger/schoolledger/internal/promotion"
	"github.com/schoolledger/schoolledger/internal/reports"
	"github.com/schoolledger/schoolledger/internal/store"
	_ "github.com/schoolledger/schoolledger/internal/testing/guard"
	"github.com/schoolledger/schoolledger/jobs"
)

type client struct {
	t *testing.T
	h http.Handler
}

func (c client) do(method, path, body string) *httptest.ResponseRecorder {
	c.t.Helper()
	var rdr io.Reader
	if body != "" {
		rdr = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, rdr)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(app.ActorHeader, "bursar")
	rr := httptest.NewRecorder()
	c.h.ServeHTTP(rr, req)
	return rr
}

func (c client) decode(rr *httptest.ResponseRecorder, want int, dest any) {
	c.t.Helper()
	require.Equal(c.t, want, rr.Code, rr.Body.String())
	if dest != nil {
		require.NoError(c.t, json.Unmarshal(rr.Body.Bytes(), dest))
	}
}

func newClient(t *testing.T, now time.Time) client {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg := &app.Config{
		AppEnv:             "test",
		StoreDriver:        app.StoreMemory,
		StorePrefix:        "e2e",
		RateLimitPerMinute: 1000,
		ReportCacheTTL:     time.Minute,
		ReportLocale:       "en",
		AuditRetention:     500,
		IdempotencyTTL:     time.Hour,
	}
	rt := app.BuildRuntime(cfg, logger, store.NewMemoryKV(), nil)
	clock := func() time.Time { return now }
	rt.Billing.WithNow(clock)
	rt.Promotion.WithNow(clock)
	rt.Expenses.WithNow(clock)
	rt.ExtraBilling.WithNow(clock)
	rt.Reports.WithNow(clock)
	return client{t: t, h: app.RouterFor(cfg, logger, rt, jobs.NewHandler(nil, logger))}
}

func TestSchoolYearThroughAPI(t *testing.T) {
	c := newClient(t, time.Date(2024, time.March, 10, 9, 0, 0, 0, time.UTC))

	c.decode(c.do(http.MethodPut, "/api/settings", `{
		"schoolName":"Hillside Academy","currency":"USD","billingCycle":"MONTHLY",
		"classGroups":[{"id":"primary","name":"Primary","standardFee":50}],
		"paymentDueDate":5,"transportDueDate":5,"autoPromotionDate":"01-01"}`), http.StatusOK, nil)

	var st billing.Student
	c.decode(c.do(http.MethodPost, "/api/students", `{
		"fullName":"Tariro Moyo","admissionDate":"2024-01-08","classGroup":"primary",
		"className":"Grade 3","academicYear":2024,"parentName":"Grace Moyo"}`), http.StatusCreated, &st)
	require.Len(t, st.FeePayments, 12)

	c.decode(c.do(http.MethodPost, "/api/students/"+st.ID+"/payments/1", `{"amount":50}`), http.StatusOK, &st)
	require.True(t, st.FeePayments[0].Paid)

	c.decode(c.do(http.MethodPost, "/api/students/"+st.ID+"/payments/1", `{"amount":-5}`), http.StatusBadRequest, nil)
	c.decode(c.do(http.MethodPost, "/api/students/"+st.ID+"/payments/13", `{"amount":5}`), http.StatusNotFound, nil)

	var owed []reports.OutstandingRow
	c.decode(c.do(http.MethodGet, "/api/reports/outstanding", ""), http.StatusOK, &owed)
	require.Len(t, owed, 1)
	require.InDelta(t, 100, owed[0].Total, billing.Tolerance)

	rr := c.do(http.MethodGet, "/api/reports/students/"+st.ID+"/statement.html", "")
	require.Equal(t, http.StatusOK, rr.Code)
	require.Contains(t, rr.Body.String(), "Tariro Moyo")
	require.Contains(t, rr.Body.String(), "Hillside Academy")

	rr = c.do(http.MethodGet, "/api/reports/outstanding?format=csv", "")
	require.Equal(t, http.StatusOK, rr.Code)
	require.Contains(t, rr.Body.String(), "Tariro Moyo")

	var run promotion.RunResult
	c.decode(c.do(http.MethodPost, "/api/promotion/run", `{}`), http.StatusOK, &run)
	require.Len(t, run.Promoted, 1)
	require.Equal(t, "Grade 4", run.Promoted[0].To)

	c.decode(c.do(http.MethodGet, "/api/students/"+st.ID, ""), http.StatusOK, &st)
	require.Equal(t, "Grade 4", st.ClassName)

	var trail audit.Result
	c.decode(c.do(http.MethodGet, "/api/audit?actor=bursar", ""), http.StatusOK, &trail)
	require.NotEmpty(t, trail.Rows)
	for _, row := range trail.Rows {
		require.Equal(t, "bursar", row.Actor)
	}
}

func TestPDFStatementWithoutGotenberg(t *testing.T) {
	c := newClient(t, time.Date(2024, time.March, 10, 9, 0, 0, 0, time.UTC))
	c.decode(c.do(http.MethodPut, "/api/settings", `{"classGroups":[{"id":"primary","name":"Primary","standardFee":50}]}`), http.StatusOK, nil)

	var st billing.Student
	c.decode(c.do(http.MethodPost, "/api/students", `{"fullName":"Farai Ncube","admissionDate":"2024-01-08","className":"Grade 7","classGroup":"primary"}`), http.StatusCreated, &st)

	rr := c.do(http.MethodGet, "/api/reports/students/"+st.ID+"/statement.pdf", "")
	require.Equal(t, http.StatusServiceUnavailable, rr.Code)
}
