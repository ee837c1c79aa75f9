package extrabilling

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/schoolledger/schoolledger/internal/billing"
	"github.com/schoolledger/schoolledger/internal/platform/httpx"
)

// Handler exposes extra billing endpoints.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	validator *validator.Validate
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validator: validator.New()}
}

// MountRoutes registers extra billing routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/extra-charges", func(r chi.Router) {
		r.Get("/", h.list)
		r.Post("/", h.create)
		r.Get("/balances", h.balances)
		r.Post("/{id}/payment", h.pay)
		r.Delete("/{id}", h.delete)
	})
}

// ChargeRequest bills a student or a whole class.
type ChargeRequest struct {
	StudentID string  `json:"studentId" validate:"required_without=ClassName,excluded_with=ClassName"`
	ClassName string  `json:"className" validate:"max=100"`
	Title     string  `json:"title" validate:"required,max=200"`
	Amount    float64 `json:"amount" validate:"gt=0"`
	DueDate   string  `json:"dueDate" validate:"omitempty,datetime=2006-01-02"`
}

// PaymentRequest records an amount against a charge.
type PaymentRequest struct {
	Amount *float64 `json:"amount" validate:"required,gte=0"`
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	out, err := h.service.List(r.Context(), Filter{StudentID: q.Get("studentId"), OpenOnly: q.Get("open") == "true"})
	if err != nil {
		h.respondError(w, "list charges", err)
		return
	}
	httpx.JSON(w, http.StatusOK, out)
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	var req ChargeRequest
	if err := httpx.DecodeValid(r, h.validator, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	var due time.Time
	if req.DueDate != "" {
		due, _ = time.Parse("2006-01-02", req.DueDate)
	}
	out, err := h.service.Create(r.Context(), Input{
		StudentID: req.StudentID,
		ClassName: req.ClassName,
		Title:     req.Title,
		Amount:    req.Amount,
		DueDate:   due,
	})
	if err != nil {
		h.respondError(w, "create charge", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, out)
}

func (h *Handler) pay(w http.ResponseWriter, r *http.Request) {
	var req PaymentRequest
	if err := httpx.DecodeValid(r, h.validator, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	c, err := h.service.RecordPayment(r.Context(), chi.URLParam(r, "id"), *req.Amount)
	if err != nil {
		h.respondError(w, "record charge payment", err)
		return
	}
	httpx.JSON(w, http.StatusOK, c)
}

func (h *Handler) delete(w http.ResponseWriter, r *http.Request) {
	if err := h.service.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		h.respondError(w, "delete charge", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) balances(w http.ResponseWriter, r *http.Request) {
	out, err := h.service.Balances(r.Context())
	if err != nil {
		h.respondError(w, "charge balances", err)
		return
	}
	httpx.JSON(w, http.StatusOK, out)
}

func (h *Handler) respondError(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, ErrNotFound), errors.Is(err, billing.ErrStudentNotFound), errors.Is(err, ErrNoStudents):
		httpx.RespondError(w, httpx.Wrap(httpx.ErrNotFound, err))
	case errors.Is(err, ErrInvalidCharge), errors.Is(err, billing.ErrInvalidAmount):
		httpx.RespondError(w, httpx.Wrap(httpx.ErrValidation, err))
	default:
		h.logger.Error(op, slog.Any("error", err))
		httpx.RespondError(w, err)
	}
}
