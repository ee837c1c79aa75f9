package reports

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"sync"

	"github.com/go-chi/chi/v5"

	"github.com/schoolledger/schoolledger/internal/billing"
	"github.com/schoolledger/schoolledger/internal/platform/httpx"
)

// Handler exposes report endpoints. JSON is the default; format=csv streams
// a CSV attachment instead.
type Handler struct {
	logger  *slog.Logger
	service *Service
	csvPool sync.Pool
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	h := &Handler{logger: logger, service: service}
	h.csvPool.New = func() any { return new(bytes.Buffer) }
	return h
}

// MountRoutes registers report routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/reports", func(r chi.Router) {
		r.Get("/classes", h.classes)
		r.Get("/outstanding", h.outstanding)
		r.Get("/finance", h.finance)
		r.Get("/students/{id}/statement", h.statement)
		r.Get("/students/{id}/statement.html", h.statementHTML)
		r.Get("/students/{id}/statement.pdf", h.statementPDF)
	})
}

func (h *Handler) classes(w http.ResponseWriter, r *http.Request) {
	rows, err := h.service.ClassBreakdown(r.Context())
	if err != nil {
		h.respondError(w, "class breakdown", err)
		return
	}
	if wantsCSV(r) {
		h.writeCSV(w, "class-breakdown.csv", func(out io.Writer) error { return WriteClassBreakdownCSV(out, rows) })
		return
	}
	httpx.JSON(w, http.StatusOK, rows)
}

func (h *Handler) outstanding(w http.ResponseWriter, r *http.Request) {
	rows, err := h.service.Outstanding(r.Context())
	if err != nil {
		h.respondError(w, "outstanding report", err)
		return
	}
	if wantsCSV(r) {
		h.writeCSV(w, "outstanding.csv", func(out io.Writer) error { return WriteOutstandingCSV(out, rows) })
		return
	}
	httpx.JSON(w, http.StatusOK, rows)
}

func (h *Handler) finance(w http.ResponseWriter, r *http.Request) {
	year := 0
	if raw := r.URL.Query().Get("year"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v < 1900 || v > 9999 {
			httpx.RespondError(w, httpx.Wrap(httpx.ErrValidation, fmt.Errorf("invalid year %q", raw)))
			return
		}
		year = v
	}
	sum, err := h.service.Finance(r.Context(), year)
	if err != nil {
		h.respondError(w, "finance summary", err)
		return
	}
	if wantsCSV(r) {
		h.writeCSV(w, fmt.Sprintf("finance-%d.csv", sum.Year), func(out io.Writer) error { return WriteFinanceSummaryCSV(out, sum) })
		return
	}
	httpx.JSON(w, http.StatusOK, sum)
}

func (h *Handler) statement(w http.ResponseWriter, r *http.Request) {
	st, err := h.service.Statement(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.respondError(w, "statement", err)
		return
	}
	httpx.JSON(w, http.StatusOK, st)
}

func (h *Handler) statementHTML(w http.ResponseWriter, r *http.Request) {
	html, err := h.service.StatementHTML(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.respondError(w, "statement html", err)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if _, err := w.Write(html); err != nil {
		h.logger.Warn("stream statement html", slog.Any("error", err))
	}
}

func (h *Handler) statementPDF(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	pdf, err := h.service.StatementPDF(r.Context(), id)
	switch {
	case errors.Is(err, ErrPDFUnavailable):
		httpx.Problem(w, http.StatusServiceUnavailable, "PDF Unavailable", err.Error())
		return
	case errors.Is(err, billing.ErrStudentNotFound):
		httpx.RespondError(w, httpx.Wrap(httpx.ErrNotFound, err))
		return
	case err != nil:
		h.logger.Error("render statement pdf", slog.String("student_id", id), slog.Any("error", err))
		httpx.Problem(w, http.StatusBadGateway, "PDF Rendering Failed", "")
		return
	}
	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=\"statement-%s.pdf\"", id))
	if _, err := w.Write(pdf); err != nil {
		h.logger.Warn("stream statement pdf", slog.Any("error", err))
	}
}

func (h *Handler) writeCSV(w http.ResponseWriter, filename string, write func(io.Writer) error) {
	buf := h.csvPool.Get().(*bytes.Buffer)
	buf.Reset()
	defer h.csvPool.Put(buf)
	if err := write(buf); err != nil {
		h.respondError(w, "write csv", err)
		return
	}
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=\"%s\"", filename))
	if _, err := buf.WriteTo(w); err != nil {
		h.logger.Warn("stream csv", slog.Any("error", err))
	}
}

func (h *Handler) respondError(w http.ResponseWriter, op string, err error) {
	if errors.Is(err, billing.ErrStudentNotFound) {
		httpx.RespondError(w, httpx.Wrap(httpx.ErrNotFound, err))
		return
	}
	h.logger.Error(op, slog.Any("error", err))
	httpx.RespondError(w, err)
}

func wantsCSV(r *http.Request) bool {
	return r.URL.Query().Get("format") == "csv"
}
