package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/schoolledger/schoolledger/internal/audit"
	"github.com/schoolledger/schoolledger/internal/billing"
	"github.com/schoolledger/schoolledger/internal/expenses"
	"github.com/schoolledger/schoolledger/internal/extrabilling"
	"github.com/schoolledger/schoolledger/internal/observability"
	"github.com/schoolledger/schoolledger/internal/promotion"
	"github.com/schoolledger/schoolledger/internal/reports"
	"github.com/schoolledger/schoolledger/internal/shared"
	"github.com/schoolledger/schoolledger/jobs"
	"github.com/schoolledger/schoolledger/report"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger              *slog.Logger
	Config              *Config
	BillingHandler      *billing.Handler
	PromotionHandler    *promotion.Handler
	ExpensesHandler     *expenses.Handler
	ExtraBillingHandler *extrabilling.Handler
	ReportsHandler      *reports.Handler
	AuditHandler        *audit.Handler
	ReportHandler       *report.Handler
	JobHandler          *jobs.Handler
	Metrics             *observability.Metrics
	Idempotency         *shared.IdempotencyStore
}

// NewRouter constructs the chi.Router with schoolledger defaults.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:  params.Logger,
		Config:  params.Config,
		Metrics: params.Metrics,
	}) {
		r.Use(mw)
	}

	if !InTestMode() {
		r.Use(chimw.Logger)
	}

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	r.Route("/api", func(r chi.Router) {
		r.Use(idempotencyMiddleware(params.Idempotency, params.Logger))
		if params.BillingHandler != nil {
			params.BillingHandler.MountRoutes(r)
		}
		if params.PromotionHandler != nil {
			params.PromotionHandler.MountRoutes(r)
		}
		if params.ExpensesHandler != nil {
			params.ExpensesHandler.MountRoutes(r)
		}
		if params.ExtraBillingHandler != nil {
			params.ExtraBillingHandler.MountRoutes(r)
		}
		if params.ReportsHandler != nil {
			params.ReportsHandler.MountRoutes(r)
		}
		if params.AuditHandler != nil {
			params.AuditHandler.MountRoutes(r)
		}
		if params.ReportHandler != nil {
			r.Route("/report", params.ReportHandler.MountRoutes)
		}
		if params.JobHandler != nil {
			r.Route("/jobs", params.JobHandler.MountRoutes)
		}
	})

	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}
	return r
}

// RouterFor builds the full router over rt. jobHandler may be nil when no
// queue inspector is available.
func RouterFor(cfg *Config, logger *slog.Logger, rt *Runtime, jobHandler *jobs.Handler) http.Handler {
	return NewRouter(RouterParams{
		Logger:              logger,
		Config:              cfg,
		BillingHandler:      billing.NewHandler(logger, rt.Billing),
		PromotionHandler:    promotion.NewHandler(logger, rt.Promotion),
		ExpensesHandler:     expenses.NewHandler(logger, rt.Expenses),
		ExtraBillingHandler: extrabilling.NewHandler(logger, rt.ExtraBilling),
		ReportsHandler:      reports.NewHandler(logger, rt.Reports),
		AuditHandler:        audit.NewHandler(logger, rt.AuditTrail),
		ReportHandler:       report.NewHandler(rt.PDF, logger),
		JobHandler:          jobHandler,
		Metrics:             rt.Metrics,
		Idempotency:         rt.Idempotency,
	})
}
