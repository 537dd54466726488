package http

import (
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"

	apierrors "idxwatch/internal/errors"
	"idxwatch/internal/exporter"
	"idxwatch/pkg/contracts/domain"
)

// dataSourceHeader tells clients whether a response was served from the
// primary store or the degraded local cache.
const dataSourceHeader = "X-Data-Source"

// maxTrendDays caps the trend window a client can request.
const maxTrendDays = 90

// DashboardHandler serves the aggregated result views and the Excel
// export.
type DashboardHandler struct {
	service      DashboardServiceInterface
	logger       *slog.Logger
	errorHandler *apierrors.ErrorHandler
}

// NewDashboardHandler creates a dashboard handler.
func NewDashboardHandler(service DashboardServiceInterface, logger *slog.Logger, errorHandler *apierrors.ErrorHandler) *DashboardHandler {
	return &DashboardHandler{
		service:      service,
		logger:       logger.With(slog.String("component", "dashboard_handler")),
		errorHandler: errorHandler,
	}
}

// Routes returns the dashboard routes.
func (h *DashboardHandler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Group(func(r chi.Router) {
		r.Use(render.SetContentType(render.ContentTypeJSON))
		r.Get("/results", h.GetResults)
		r.Get("/stats", h.GetStats)
		r.Get("/trends", h.GetTrends)
	})

	r.Get("/export", h.Export)

	return r
}

// GetResults handles GET /api/dashboard/results. The optional table query
// parameter restricts the listing to one table kind.
func (h *DashboardHandler) GetResults(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", 0)
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}
	table, err := queryTable(r)
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}

	results, fromCache, err := h.service.Recent(r.Context(), table, limit)
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}

	markDataSource(w, fromCache)
	render.JSON(w, r, map[string]interface{}{
		"status":     "success",
		"data":       results,
		"count":      len(results),
		"from_cache": fromCache,
	})
}

// GetStats handles GET /api/dashboard/stats.
func (h *DashboardHandler) GetStats(w http.ResponseWriter, r *http.Request) {
	stats, fromCache, err := h.service.Stats(r.Context())
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}

	markDataSource(w, fromCache)
	render.JSON(w, r, map[string]interface{}{
		"status":     "success",
		"data":       stats,
		"from_cache": fromCache,
	})
}

// GetTrends handles GET /api/dashboard/trends.
func (h *DashboardHandler) GetTrends(w http.ResponseWriter, r *http.Request) {
	days, err := queryInt(r, "days", 0)
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}
	if days > maxTrendDays {
		h.errorHandler.HandleError(w, r, apierrors.ErrValidation("days", fmt.Sprintf("must not exceed %d", maxTrendDays)))
		return
	}

	trends, fromCache, err := h.service.Trends(r.Context(), days)
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}

	markDataSource(w, fromCache)
	render.JSON(w, r, map[string]interface{}{
		"status":     "success",
		"data":       trends,
		"from_cache": fromCache,
	})
}

// Export handles GET /api/dashboard/export, streaming the recent results
// as an Excel workbook, or as a flat anomaly CSV when format=csv.
func (h *DashboardHandler) Export(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", 0)
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}

	format := r.URL.Query().Get("format")
	switch format {
	case "", "xlsx", "csv":
	default:
		h.errorHandler.HandleError(w, r,
			apierrors.ErrValidation("format", "must be xlsx or csv"))
		return
	}

	results, fromCache, err := h.service.Recent(r.Context(), "", limit)
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}

	stamp := time.Now().UTC().Format("20060102-150405")
	markDataSource(w, fromCache)

	if format == "csv" {
		w.Header().Set("Content-Type", "text/csv; charset=utf-8")
		w.Header().Set("Content-Disposition",
			fmt.Sprintf(`attachment; filename="validation-anomalies-%s.csv"`, stamp))
		if err := exporter.WriteCSV(w, results); err != nil {
			h.logger.ErrorContext(r.Context(), "csv export failed",
				slog.String("error", err.Error()))
		}
		return
	}

	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition",
		fmt.Sprintf(`attachment; filename="validation-results-%s.xlsx"`, stamp))

	if err := exporter.WriteWorkbook(w, results); err != nil {
		// Headers are out; log instead of emitting a half-JSON problem
		// into an xlsx stream.
		h.logger.ErrorContext(r.Context(), "workbook export failed",
			slog.String("error", err.Error()))
	}
}

func markDataSource(w http.ResponseWriter, fromCache bool) {
	if fromCache {
		w.Header().Set(dataSourceHeader, "cache")
		return
	}
	w.Header().Set(dataSourceHeader, "store")
}

// queryTable reads the optional table filter parameter.
func queryTable(r *http.Request) (domain.TableKind, error) {
	raw := r.URL.Query().Get("table")
	if raw == "" {
		return "", nil
	}
	kind, err := domain.ParseTableKind(raw)
	if err != nil {
		return "", apierrors.TableNotFoundError(raw)
	}
	return kind, nil
}

// queryInt reads an optional non-negative integer query parameter.
func queryInt(r *http.Request, param string, def int) (int, error) {
	raw := r.URL.Query().Get(param)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, apierrors.ErrValidation(param, "must be a non-negative integer")
	}
	return n, nil
}
