package http

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"

	apierrors "idxwatch/internal/errors"
	"idxwatch/pkg/contracts/domain"
)

// ValidationHandler serves the table catalog and run endpoints with
// RFC 7807 error responses.
type ValidationHandler struct {
	service      ValidationServiceInterface
	logger       *slog.Logger
	errorHandler *apierrors.ErrorHandler
}

// NewValidationHandler creates a validation handler.
func NewValidationHandler(service ValidationServiceInterface, logger *slog.Logger, errorHandler *apierrors.ErrorHandler) *ValidationHandler {
	return &ValidationHandler{
		service:      service,
		logger:       logger.With(slog.String("component", "validation_handler")),
		errorHandler: errorHandler,
	}
}

// Routes returns the validation routes.
func (h *ValidationHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(render.SetContentType(render.ContentTypeJSON))

	r.Get("/tables", h.GetTables)
	r.Post("/run-all", h.RunAll)

	r.Route("/run/{table}", func(r chi.Router) {
		r.Use(h.TableCtx)
		r.Post("/", h.RunTable)
	})

	return r
}

// TableCtx validates the table parameter before the run handler fires.
func (h *ValidationHandler) TableCtx(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		name := chi.URLParam(r, "table")
		if _, err := domain.ParseTableKind(name); err != nil {
			h.errorHandler.HandleError(w, r, apierrors.TableNotFoundError(name))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// GetTables handles GET /api/validation/tables.
func (h *ValidationHandler) GetTables(w http.ResponseWriter, r *http.Request) {
	tables := h.service.Tables()
	render.JSON(w, r, map[string]interface{}{
		"status": "success",
		"data":   tables,
		"count":  len(tables),
	})
}

// RunTable handles POST /api/validation/run/{table}. Optional start and end
// query parameters bound the validated rows; both take YYYY-MM-DD.
func (h *ValidationHandler) RunTable(w http.ResponseWriter, r *http.Request) {
	reqID := middleware.GetReqID(r.Context())
	kind, _ := domain.ParseTableKind(chi.URLParam(r, "table"))

	rng, err := parseDateRange(r)
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}

	h.logger.InfoContext(r.Context(), "validation run requested",
		slog.String("request_id", reqID),
		slog.String("table", string(kind)),
		slog.String("range", rng.String()),
	)

	res, err := h.service.RunOne(r.Context(), kind, rng)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "validation run failed",
			slog.String("request_id", reqID),
			slog.String("table", string(kind)),
			slog.String("error", err.Error()),
		)
		h.errorHandler.HandleError(w, r, err)
		return
	}

	render.JSON(w, r, map[string]interface{}{
		"status": "success",
		"data":   res,
	})
}

// RunAll handles POST /api/validation/run-all. The same optional start and
// end query parameters as single-table runs bound every table's rows.
func (h *ValidationHandler) RunAll(w http.ResponseWriter, r *http.Request) {
	reqID := middleware.GetReqID(r.Context())

	rng, err := parseDateRange(r)
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}

	h.logger.InfoContext(r.Context(), "full validation run requested",
		slog.String("request_id", reqID),
		slog.String("range", rng.String()),
	)

	summary, err := h.service.RunAll(r.Context(), rng)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "full validation run failed",
			slog.String("request_id", reqID),
			slog.String("error", err.Error()),
		)
		h.errorHandler.HandleError(w, r, err)
		return
	}

	render.JSON(w, r, map[string]interface{}{
		"status": "success",
		"data":   summary,
		"counts": summary.Counts(),
	})
}

// parseDateRange reads the optional start and end query parameters.
func parseDateRange(r *http.Request) (domain.DateRange, error) {
	var rng domain.DateRange

	parse := func(param string) (*time.Time, error) {
		raw := r.URL.Query().Get(param)
		if raw == "" {
			return nil, nil
		}
		t, err := time.Parse("2006-01-02", raw)
		if err != nil {
			return nil, apierrors.ErrValidation(param, "must be a date in YYYY-MM-DD form")
		}
		return &t, nil
	}

	start, err := parse("start")
	if err != nil {
		return rng, err
	}
	end, err := parse("end")
	if err != nil {
		return rng, err
	}

	if start != nil && end != nil && end.Before(*start) {
		return rng, apierrors.ErrValidation("end", "must not be before start")
	}

	rng.Start, rng.End = start, end
	return rng, nil
}
