package app

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/require"

	"github.com/schoolledger/schoolledger/internal/shared"
	"github.com/schoolledger/schoolledger/internal/store"
	_ "github.com/schoolledger/schoolledger/internal/testing/guard"
	"github.com/schoolledger/schoolledger/jobs"
)

func testConfig() *Config {
	return &Config{
		AppEnv:             "test",
		StoreDriver:        StoreMemory,
		StorePrefix:        "test",
		RateLimitPerMinute: 1000,
		ReportCacheTTL:     time.Minute,
		ReportLocale:       "en",
		AuditRetention:     100,
	}
}

func newTestServer(t *testing.T) (http.Handler, *Runtime) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg := testConfig()
	rt := BuildRuntime(cfg, logger, store.NewMemoryKV(), nil)
	return RouterFor(cfg, logger, rt, jobs.NewHandler(nil, logger)), rt
}

func TestRouterServesHealthAndMetrics(t *testing.T) {
	h, _ := newTestServer(t)

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	require.JSONEq(t, `{"status":"ok"}`, rr.Body.String())
	require.Equal(t, "DENY", rr.Header().Get("X-Frame-Options"))

	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	require.Contains(t, rr.Body.String(), "schoolledger_http_requests_total")
}

func TestRouterMountsAPIAndRecordsActor(t *testing.T) {
	h, rt := newTestServer(t)

	settings := `{"schoolName":"Hillside","currency":"USD","billingCycle":"MONTHLY","classGroups":[{"id":"primary","name":"Primary","standardFee":50}],"paymentDueDate":5,"transportDueDate":5,"autoPromotionDate":"01-01"}`
	req := httptest.NewRequest(http.MethodPut, "/api/settings", strings.NewReader(settings))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(ActorHeader, "bursar")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	logs, err := rt.Audit.List(t.Context(), "", 10)
	require.NoError(t, err)
	require.NotEmpty(t, logs)
	require.Equal(t, "bursar", logs[0].Actor)

	for _, path := range []string{"/api/students", "/api/summary", "/api/expenses", "/api/extra-charges", "/api/reports/classes", "/api/audit", "/api/promotion/rules", "/api/jobs/health"} {
		rr = httptest.NewRecorder()
		h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, path, nil))
		require.Equal(t, http.StatusOK, rr.Code, path+": "+rr.Body.String())
	}

	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/report/pdf/ping", nil))
	require.Equal(t, http.StatusServiceUnavailable, rr.Code)
}

func TestActorMiddleware(t *testing.T) {
	var got string
	h := actorMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = shared.ActorFromContext(r.Context())
	}))

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, "system", got)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(ActorHeader, "  "+strings.Repeat("a", 80)+" ")
	h.ServeHTTP(httptest.NewRecorder(), req)
	require.Len(t, got, 64)

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(ActorHeader, strings.Repeat("é", 70))
	h.ServeHTTP(httptest.NewRecorder(), req)
	require.True(t, utf8.ValidString(got))
	require.Equal(t, 64, utf8.RuneCountInString(got))
	require.Equal(t, strings.Repeat("é", 64), got)
}

func TestConfigValidate(t *testing.T) {
	cfg := testConfig()
	cfg.StoreDriver = " Redis "
	require.NoError(t, cfg.Validate())
	require.Equal(t, StoreRedis, cfg.StoreDriver)

	cfg.StoreDriver = "sqlite"
	require.Error(t, cfg.Validate())

	cfg = testConfig()
	cfg.AppEnv = "production"
	require.ErrorContains(t, cfg.Validate(), "memory store")

	cfg = testConfig()
	cfg.RateLimitPerMinute = 0
	require.Error(t, cfg.Validate())
}

func TestLoadConfigReadsDotEnv(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("STORE_DRIVER=memory\nREPORT_LOCALE=fr\n"), 0o600))
	t.Setenv("STORE_DRIVER", "")
	require.NoError(t, os.Unsetenv("STORE_DRIVER"))
	t.Setenv("REPORT_LOCALE", "")
	require.NoError(t, os.Unsetenv("REPORT_LOCALE"))

	cfg, err := LoadConfig()
	require.NoError(t, err)
	require.Equal(t, StoreMemory, cfg.StoreDriver)
	require.Equal(t, "fr", cfg.ReportLocale)
	require.Equal(t, "5 0 * * *", cfg.PromotionCron)
	require.False(t, cfg.IsProduction())
}

func TestNewLoggerFormats(t *testing.T) {
	require.IsType(t, &slog.JSONHandler{}, NewLogger(&Config{LogFormat: "json"}).Handler())
	require.IsType(t, &slog.TextHandler{}, NewLogger(nil).Handler())

	var buf strings.Builder
	logger := newLogger(&Config{LogFormat: "json", LogLevel: "warn", AppEnv: "staging"}, &buf)
	logger.Info("hidden")
	logger.Warn("shown")
	require.NotContains(t, buf.String(), "hidden")
	require.Contains(t, buf.String(), `"msg":"shown"`)
	require.Contains(t, buf.String(), `"service":"schoolledger"`)
	require.Contains(t, buf.String(), `"env":"staging"`)

	require.Equal(t, slog.LevelInfo, logLevel("loud"))
	require.Equal(t, slog.LevelDebug, logLevel(" DEBUG "))
}

func TestIdempotencyKeyRejectsReplay(t *testing.T) {
	h, _ := newTestServer(t)

	post := func(body string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/api/expenses", strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set(IdempotencyHeader, "exp-1")
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)
		return rr
	}

	rr := post(`{"category":"Utilities","title":"Water"}`)
	require.Equal(t, http.StatusBadRequest, rr.Code)

	rr = post(`{"category":"Utilities","title":"Water","amount":20,"date":"2024-02-01"}`)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())

	rr = post(`{"category":"Utilities","title":"Water","amount":20,"date":"2024-02-01"}`)
	require.Equal(t, http.StatusConflict, rr.Code)
}
