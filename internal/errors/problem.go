package errors

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/render"
)

// Sentinel errors surfaced by the validation pipeline.
var (
	ErrSourceUnavailable = errors.New("dataset source unavailable")
	ErrStoreUnavailable  = errors.New("result store unavailable")
	ErrUnknownTable      = errors.New("unknown table kind")
)

// ProblemDetails implements RFC 7807 Problem Details for HTTP APIs
type ProblemDetails struct {
	Type     string `json:"type"`
	Title    string `json:"title"`
	Status   int    `json:"status"`
	Detail   string `json:"detail,omitempty"`
	Instance string `json:"instance,omitempty"`

	// Additional fields for extensibility
	Extensions map[string]interface{} `json:"-"`
}

// Render implements the render.Renderer interface
func (pd *ProblemDetails) Render(w http.ResponseWriter, r *http.Request) error {
	render.Status(r, pd.Status)
	return nil
}

// MarshalJSON custom marshaler to include extensions
func (pd *ProblemDetails) MarshalJSON() ([]byte, error) {
	data := make(map[string]interface{})

	data["type"] = pd.Type
	data["title"] = pd.Title
	data["status"] = pd.Status

	if pd.Detail != "" {
		data["detail"] = pd.Detail
	}
	if pd.Instance != "" {
		data["instance"] = pd.Instance
	}

	for k, v := range pd.Extensions {
		data[k] = v
	}

	return json.Marshal(data)
}

// NewProblemDetails creates a new RFC 7807 compliant error
func NewProblemDetails(status int, problemType, title, detail, instance string) *ProblemDetails {
	return &ProblemDetails{
		Type:       problemType,
		Title:      title,
		Status:     status,
		Detail:     detail,
		Instance:   instance,
		Extensions: make(map[string]interface{}),
	}
}

// WithExtension adds an extension field to the problem details
func (pd *ProblemDetails) WithExtension(key string, value interface{}) *ProblemDetails {
	pd.Extensions[key] = value
	return pd
}

// MapValidationError maps validation pipeline errors to HTTP problem details.
func MapValidationError(err error, traceID string) render.Renderer {
	instance := fmt.Sprintf("/api/validation#trace-%s", traceID)

	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return NewProblemDetails(
			apiErr.StatusCode,
			"/errors/"+apiErr.ErrorCode,
			http.StatusText(apiErr.StatusCode),
			apiErr.Message,
			instance,
		).WithExtension("trace_id", traceID).
			WithExtension("error_code", apiErr.ErrorCode)
	}

	switch {
	case errors.Is(err, ErrUnknownTable):
		return NewProblemDetails(
			http.StatusNotFound,
			"/errors/table-not-found",
			"Unknown Table",
			"The requested table kind is not registered.",
			instance,
		).WithExtension("trace_id", traceID).
			WithExtension("error_code", "TABLE_NOT_FOUND")

	case errors.Is(err, ErrSourceUnavailable):
		return NewProblemDetails(
			http.StatusBadGateway,
			"/errors/source-unavailable",
			"Source Unavailable",
			"The upstream dataset source could not be reached.",
			instance,
		).WithExtension("trace_id", traceID).
			WithExtension("error_code", "SOURCE_UNAVAILABLE")

	case errors.Is(err, ErrStoreUnavailable):
		return NewProblemDetails(
			http.StatusServiceUnavailable,
			"/errors/store-unavailable",
			"Store Unavailable",
			"The result store could not be reached. Recent results may be served from the local cache.",
			instance,
		).WithExtension("trace_id", traceID).
			WithExtension("error_code", "STORE_UNAVAILABLE")

	default:
		return NewProblemDetails(
			http.StatusInternalServerError,
			"/errors/internal-error",
			"Internal Server Error",
			"An unexpected error occurred while processing your request.",
			instance,
		).WithExtension("trace_id", traceID).
			WithExtension("error_code", "INTERNAL_ERROR")
	}
}
