package promotion

import (
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/schoolledger/schoolledger/internal/billing"
	"github.com/schoolledger/schoolledger/internal/platform/httpx"
)

// Handler exposes promotion endpoints.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	validator *validator.Validate
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validator: validator.New()}
}

// MountRoutes registers promotion routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/promotion", func(r chi.Router) {
		r.Get("/preview", h.preview)
		r.Post("/run", h.run)
		r.Post("/run/automatic", h.runAutomatic)
		r.Get("/runs", h.runs)
		r.Get("/schedule", h.schedule)
		r.Get("/rules", h.rules)
		r.Put("/rules", h.saveRules)
		r.Post("/students/{id}/transfer", h.transfer)
		r.Get("/transferred", h.listTransferred)
		r.Post("/transferred/{id}/restore", h.restoreTransferred)
		r.Get("/pending", h.listPending)
		r.Post("/pending/{id}/restore", h.restorePending)
	})
}

// RunRequest is the optional body of a manual run.
type RunRequest struct {
	RetainHistory bool `json:"retainHistory"`
}

// TransferRequest removes one student.
type TransferRequest struct {
	Reason        string `json:"reason" validate:"required,max=500"`
	RetainHistory bool   `json:"retainHistory"`
}

// RestorePendingRequest optionally overrides the target class.
type RestorePendingRequest struct {
	ClassName string `json:"className" validate:"max=100"`
}

func (h *Handler) preview(w http.ResponseWriter, r *http.Request) {
	res, err := h.service.Preview(r.Context(), r.URL.Query().Get("retainHistory") == "true")
	if err != nil {
		h.respondError(w, "preview promotion", err)
		return
	}
	httpx.JSON(w, http.StatusOK, res)
}

func (h *Handler) run(w http.ResponseWriter, r *http.Request) {
	var req RunRequest
	if err := decodeOptional(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	res, err := h.service.Run(r.Context(), RunOptions{RetainHistory: req.RetainHistory})
	if err != nil {
		h.respondError(w, "run promotion", err)
		return
	}
	httpx.JSON(w, http.StatusOK, res)
}

func (h *Handler) runAutomatic(w http.ResponseWriter, r *http.Request) {
	res, err := h.service.RunAutomatic(r.Context())
	if err != nil {
		h.respondError(w, "automatic promotion", err)
		return
	}
	httpx.JSON(w, http.StatusOK, res)
}

func (h *Handler) runs(w http.ResponseWriter, r *http.Request) {
	runs, err := h.service.Runs(r.Context())
	if err != nil {
		h.respondError(w, "promotion runs", err)
		return
	}
	httpx.JSON(w, http.StatusOK, runs)
}

func (h *Handler) schedule(w http.ResponseWriter, r *http.Request) {
	sched, err := h.service.NextRun(r.Context())
	if err != nil {
		h.respondError(w, "promotion schedule", err)
		return
	}
	httpx.JSON(w, http.StatusOK, sched)
}

func (h *Handler) rules(w http.ResponseWriter, r *http.Request) {
	rules, err := h.service.Rules(r.Context())
	if err != nil {
		h.respondError(w, "promotion rules", err)
		return
	}
	httpx.JSON(w, http.StatusOK, rules)
}

func (h *Handler) saveRules(w http.ResponseWriter, r *http.Request) {
	var rules []Rule
	if err := httpx.DecodeJSON(r, &rules); err != nil {
		httpx.RespondError(w, httpx.Wrap(httpx.ErrValidation, err))
		return
	}
	saved, err := h.service.SaveRules(r.Context(), rules)
	if err != nil {
		h.respondError(w, "save promotion rules", err)
		return
	}
	httpx.JSON(w, http.StatusOK, saved)
}

func (h *Handler) transfer(w http.ResponseWriter, r *http.Request) {
	var req TransferRequest
	if err := httpx.DecodeValid(r, h.validator, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	t, err := h.service.TransferStudent(r.Context(), chi.URLParam(r, "id"), req.Reason, req.RetainHistory)
	if err != nil {
		h.respondError(w, "transfer student", err)
		return
	}
	httpx.JSON(w, http.StatusOK, t)
}

func (h *Handler) listTransferred(w http.ResponseWriter, r *http.Request) {
	out, err := h.service.ListTransferred(r.Context())
	if err != nil {
		h.respondError(w, "list transferred", err)
		return
	}
	httpx.JSON(w, http.StatusOK, out)
}

func (h *Handler) restoreTransferred(w http.ResponseWriter, r *http.Request) {
	st, err := h.service.RestoreTransferred(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.respondError(w, "restore transferred", err)
		return
	}
	httpx.JSON(w, http.StatusOK, st)
}

func (h *Handler) listPending(w http.ResponseWriter, r *http.Request) {
	out, err := h.service.ListPending(r.Context())
	if err != nil {
		h.respondError(w, "list pending", err)
		return
	}
	httpx.JSON(w, http.StatusOK, out)
}

func (h *Handler) restorePending(w http.ResponseWriter, r *http.Request) {
	var req RestorePendingRequest
	if err := decodeOptional(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.RespondError(w, httpx.ValidationError(err))
		return
	}
	st, err := h.service.RestorePending(r.Context(), chi.URLParam(r, "id"), req.ClassName)
	if err != nil {
		h.respondError(w, "restore pending", err)
		return
	}
	httpx.JSON(w, http.StatusOK, st)
}

func (h *Handler) respondError(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, ErrNotFound), errors.Is(err, billing.ErrStudentNotFound):
		httpx.RespondError(w, httpx.Wrap(httpx.ErrNotFound, err))
	case errors.Is(err, ErrInvalidClass), errors.Is(err, ErrInvalidRule):
		httpx.RespondError(w, httpx.Wrap(httpx.ErrValidation, err))
	default:
		h.logger.Error(op, slog.Any("error", err))
		httpx.RespondError(w, err)
	}
}

// decodeOptional accepts an empty body.
func decodeOptional(r *http.Request, target any) error {
	if err := httpx.DecodeJSON(r, target); err != nil && !errors.Is(err, io.EOF) {
		return httpx.Wrap(httpx.ErrValidation, err)
	}
	return nil
}
