package billing

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/schoolledger/schoolledger/internal/platform/httpx"
)

// Handler manages student billing endpoints.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	validator *validator.Validate
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validator: validator.New()}
}

// MountRoutes registers billing routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/students", func(r chi.Router) {
		r.Get("/", h.listStudents)
		r.Post("/", h.createStudent)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", h.getStudent)
			r.Put("/", h.updateStudent)
			r.Delete("/", h.deleteStudent)
			r.Get("/totals", h.totals)
			r.Get("/outstanding", h.outstanding)
			r.Get("/validation", h.validate)

			r.Post("/payments/{period}", h.recordPayment)
			r.Post("/payments/{period}/skip", h.skipPeriod)
			r.Post("/payments/{period}/transport-waiver", h.waiveTransport)

			r.Post("/transport/activate", h.activateTransport)
			r.Post("/transport/deactivate", h.deactivateTransport)
			r.Post("/transport/{month}/payment", h.recordTransportPayment)
			r.Post("/transport/{month}/skip", h.skipTransportMonth)
			r.Post("/transport/{month}/waive", h.waiveTransportMonth)
		})
	})
	r.Get("/validation", h.validateAll)
	r.Get("/summary", h.summary)
	r.Get("/settings", h.getSettings)
	r.Put("/settings", h.updateSettings)
}

func (h *Handler) listStudents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	students, err := h.service.ListStudents(r.Context(), StudentFilter{
		ClassGroup: q.Get("classGroup"),
		ClassName:  q.Get("className"),
		Query:      q.Get("q"),
	})
	if err != nil {
		h.respondError(w, "list students", err)
		return
	}
	httpx.JSON(w, http.StatusOK, students)
}

func (h *Handler) getStudent(w http.ResponseWriter, r *http.Request) {
	st, err := h.service.GetStudent(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.respondError(w, "get student", err)
		return
	}
	httpx.JSON(w, http.StatusOK, st)
}

func (h *Handler) createStudent(w http.ResponseWriter, r *http.Request) {
	var req StudentRequest
	if err := httpx.DecodeValid(r, h.validator, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	st, err := h.service.CreateStudent(r.Context(), req.Input())
	if err != nil {
		h.respondError(w, "create student", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, st)
}

func (h *Handler) updateStudent(w http.ResponseWriter, r *http.Request) {
	var req StudentRequest
	if err := httpx.DecodeValid(r, h.validator, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	st, err := h.service.UpdateStudent(r.Context(), chi.URLParam(r, "id"), req.Input())
	if err != nil {
		h.respondError(w, "update student", err)
		return
	}
	httpx.JSON(w, http.StatusOK, st)
}

func (h *Handler) deleteStudent(w http.ResponseWriter, r *http.Request) {
	if err := h.service.DeleteStudent(r.Context(), chi.URLParam(r, "id")); err != nil {
		h.respondError(w, "delete student", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) recordPayment(w http.ResponseWriter, r *http.Request) {
	period, ok := intParam(w, r, "period")
	if !ok {
		return
	}
	var req PaymentRequest
	if err := httpx.DecodeValid(r, h.validator, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	st, err := h.service.RecordPayment(r.Context(), chi.URLParam(r, "id"), period, *req.Amount)
	h.respondStudent(w, "record payment", st, err)
}

func (h *Handler) skipPeriod(w http.ResponseWriter, r *http.Request) {
	period, ok := intParam(w, r, "period")
	if !ok {
		return
	}
	var req SkipRequest
	if err := httpx.DecodeValid(r, h.validator, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	st, err := h.service.SetPeriodSkipped(r.Context(), chi.URLParam(r, "id"), period, *req.Skip)
	h.respondStudent(w, "skip period", st, err)
}

func (h *Handler) waiveTransport(w http.ResponseWriter, r *http.Request) {
	period, ok := intParam(w, r, "period")
	if !ok {
		return
	}
	var req WaiveRequest
	if err := httpx.DecodeValid(r, h.validator, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	st, err := h.service.SetTransportWaiver(r.Context(), chi.URLParam(r, "id"), period, *req.Waive)
	h.respondStudent(w, "waive transport", st, err)
}

func (h *Handler) activateTransport(w http.ResponseWriter, r *http.Request) {
	var req ActivateTransportRequest
	if err := httpx.DecodeValid(r, h.validator, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	st, err := h.service.ActivateTransport(r.Context(), chi.URLParam(r, "id"), req.Fee, parseDate(req.ActivationDate))
	h.respondStudent(w, "activate transport", st, err)
}

func (h *Handler) deactivateTransport(w http.ResponseWriter, r *http.Request) {
	st, err := h.service.DeactivateTransport(r.Context(), chi.URLParam(r, "id"))
	h.respondStudent(w, "deactivate transport", st, err)
}

func (h *Handler) recordTransportPayment(w http.ResponseWriter, r *http.Request) {
	month, ok := intParam(w, r, "month")
	if !ok {
		return
	}
	var req PaymentRequest
	if err := httpx.DecodeValid(r, h.validator, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	st, err := h.service.RecordTransportPayment(r.Context(), chi.URLParam(r, "id"), month, *req.Amount)
	h.respondStudent(w, "record transport payment", st, err)
}

func (h *Handler) skipTransportMonth(w http.ResponseWriter, r *http.Request) {
	month, ok := intParam(w, r, "month")
	if !ok {
		return
	}
	var req SkipRequest
	if err := httpx.DecodeValid(r, h.validator, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	st, err := h.service.SetTransportMonthSkipped(r.Context(), chi.URLParam(r, "id"), month, *req.Skip)
	h.respondStudent(w, "skip transport month", st, err)
}

func (h *Handler) waiveTransportMonth(w http.ResponseWriter, r *http.Request) {
	month, ok := intParam(w, r, "month")
	if !ok {
		return
	}
	var req WaiveRequest
	if err := httpx.DecodeValid(r, h.validator, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	st, err := h.service.SetTransportMonthWaived(r.Context(), chi.URLParam(r, "id"), month, *req.Waive)
	h.respondStudent(w, "waive transport month", st, err)
}

func (h *Handler) totals(w http.ResponseWriter, r *http.Request) {
	totals, err := h.service.Totals(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.respondError(w, "student totals", err)
		return
	}
	httpx.JSON(w, http.StatusOK, totals)
}

func (h *Handler) outstanding(w http.ResponseWriter, r *http.Request) {
	out, err := h.service.Outstanding(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.respondError(w, "student outstanding", err)
		return
	}
	httpx.JSON(w, http.StatusOK, out)
}

func (h *Handler) validate(w http.ResponseWriter, r *http.Request) {
	report, err := h.service.Validate(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.respondError(w, "validate student", err)
		return
	}
	httpx.JSON(w, http.StatusOK, report)
}

func (h *Handler) validateAll(w http.ResponseWriter, r *http.Request) {
	reports, err := h.service.ValidateAll(r.Context())
	if err != nil {
		h.respondError(w, "validate students", err)
		return
	}
	httpx.JSON(w, http.StatusOK, reports)
}

func (h *Handler) summary(w http.ResponseWriter, r *http.Request) {
	summary, err := h.service.Summary(r.Context())
	if err != nil {
		h.respondError(w, "school summary", err)
		return
	}
	httpx.JSON(w, http.StatusOK, summary)
}

func (h *Handler) getSettings(w http.ResponseWriter, r *http.Request) {
	settings, err := h.service.Settings(r.Context())
	if err != nil {
		h.respondError(w, "get settings", err)
		return
	}
	httpx.JSON(w, http.StatusOK, settings)
}

func (h *Handler) updateSettings(w http.ResponseWriter, r *http.Request) {
	var req AppSettings
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, httpx.Wrap(httpx.ErrValidation, err))
		return
	}
	settings, err := h.service.UpdateSettings(r.Context(), req)
	if err != nil {
		h.respondError(w, "update settings", err)
		return
	}
	httpx.JSON(w, http.StatusOK, settings)
}

func (h *Handler) respondStudent(w http.ResponseWriter, op string, st Student, err error) {
	if err != nil {
		h.respondError(w, op, err)
		return
	}
	httpx.JSON(w, http.StatusOK, st)
}

func (h *Handler) respondError(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, ErrStudentNotFound), errors.Is(err, ErrPeriodNotFound):
		httpx.RespondError(w, httpx.Wrap(httpx.ErrNotFound, err))
	case errors.Is(err, ErrInvalidAmount), errors.Is(err, ErrInvalidDate),
		errors.Is(err, ErrInvalidStudent), errors.Is(err, ErrInvalidSettings),
		errors.Is(err, ErrPeriodSkipped):
		httpx.RespondError(w, httpx.Wrap(httpx.ErrValidation, err))
	case errors.Is(err, ErrCycleChangeWithPayments):
		httpx.RespondError(w, httpx.Wrap(httpx.ErrConflict, err))
	default:
		h.logger.Error(op, slog.Any("error", err))
		httpx.RespondError(w, err)
	}
}

func intParam(w http.ResponseWriter, r *http.Request, name string) (int, bool) {
	v, err := strconv.Atoi(chi.URLParam(r, name))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid "+name)
		return 0, false
	}
	return v, true
}
