package errors

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAPIError(t *testing.T) {
	err := New(http.StatusBadRequest, "INVALID_REQUEST", "bad input")
	assert.Equal(t, "bad input", err.Error())
	assert.Equal(t, http.StatusBadRequest, err.StatusCode)

	withDetails := NewWithDetails(http.StatusNotFound, "NOT_FOUND", "missing", "daily_prices")
	assert.Equal(t, "daily_prices", withDetails.Details)
}

func TestAppError(t *testing.T) {
	cause := fmt.Errorf("connection refused")
	err := NewStorageError("persist result", cause)

	assert.Equal(t, ErrTypeStorage, err.Type)
	assert.Contains(t, err.Error(), "STORAGE")
	assert.Contains(t, err.Error(), "connection refused")
	assert.ErrorIs(t, err, cause)

	err.WithContext("table", "dividends")
	assert.Equal(t, "dividends", err.Context["table"])
}

func TestProblemDetailsMarshalJSON(t *testing.T) {
	pd := NewProblemDetails(http.StatusBadGateway, TypeSourceDown, "Source Unavailable", "connection refused", "/api/validation/run/daily_prices")
	pd.WithExtension("trace_id", "abc-123")

	data, err := json.Marshal(pd)
	require.NoError(t, err)

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &decoded))

	assert.Equal(t, TypeSourceDown, decoded["type"])
	assert.Equal(t, float64(http.StatusBadGateway), decoded["status"])
	assert.Equal(t, "abc-123", decoded["trace_id"])
	assert.Equal(t, "connection refused", decoded["detail"])
}

func TestErrorToProblem(t *testing.T) {
	handler := NewErrorHandler(slog.New(slog.NewTextHandler(os.Stdout, nil)), false)
	req := httptest.NewRequest(http.MethodGet, "/api/validation/run/daily_prices", nil)

	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantType   string
	}{
		{"unknown table", fmt.Errorf("lookup: %w", ErrUnknownTable), http.StatusNotFound, TypeTableNotFound},
		{"source down", fmt.Errorf("fetch: %w", ErrSourceUnavailable), http.StatusBadGateway, TypeSourceDown},
		{"store down", fmt.Errorf("persist: %w", ErrStoreUnavailable), http.StatusServiceUnavailable, TypeStoreDown},
		{"timeout", context.DeadlineExceeded, http.StatusGatewayTimeout, TypeTimeout},
		{"api error", TableNotFoundError("bogus"), http.StatusNotFound, TypeTableNotFound},
		{"generic", fmt.Errorf("boom"), http.StatusInternalServerError, TypeInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			problem := handler.ErrorToProblem(tt.err, req)
			assert.Equal(t, tt.wantStatus, problem.Status)
			assert.Equal(t, tt.wantType, problem.Type)
		})
	}
}

func TestHandleErrorWritesProblemJSON(t *testing.T) {
	handler := NewErrorHandler(slog.New(slog.NewTextHandler(os.Stdout, nil)), false)

	req := httptest.NewRequest(http.MethodPost, "/api/validation/run-all", nil)
	rec := httptest.NewRecorder()

	handler.HandleError(rec, req, ErrSourceUnavailable)

	assert.Equal(t, http.StatusBadGateway, rec.Code)

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &decoded))
	assert.Equal(t, TypeSourceDown, decoded["type"])
}

func TestMapValidationError(t *testing.T) {
	renderer := MapValidationError(fmt.Errorf("fetch: %w", ErrSourceUnavailable), "trace-1")
	pd, ok := renderer.(*ProblemDetails)
	require.True(t, ok)
	assert.Equal(t, http.StatusBadGateway, pd.Status)
	assert.Equal(t, "trace-1", pd.Extensions["trace_id"])

	renderer = MapValidationError(fmt.Errorf("surprise"), "trace-2")
	pd = renderer.(*ProblemDetails)
	assert.Equal(t, http.StatusInternalServerError, pd.Status)
}

func TestHandlePanic(t *testing.T) {
	handler := NewErrorHandler(slog.New(slog.NewTextHandler(os.Stdout, nil)), false)

	req := httptest.NewRequest(http.MethodGet, "/api/dashboard/stats", nil)
	rec := httptest.NewRecorder()

	handler.HandlePanic(rec, req, "something broke")

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}
