package errors

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/render"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"nil", nil, ""},
		{"missing key", ErrMissingLicenseKey, CodeMissingLicenseKey},
		{"unknown", fmt.Errorf("activate: %w", ErrUnknownLicense), CodeUnknownLicense},
		{"claimed", fmt.Errorf("activate: %w", ErrLicenseAlreadyClaimed), CodeLicenseAlreadyClaimed},
		{"race", ErrConditionRaceExhausted, CodeConditionRaceExhausted},
		{"store", fmt.Errorf("find: %w", ErrStoreUnavailable), CodeStoreUnavailable},
		{"invalid", ErrInvalidInput, CodeInvalidInput},
		{"webhook secret", ErrWebhookUnauthorized, CodeWebhookUnauthorized},
		{"deadline", context.DeadlineExceeded, CodeTimeout},
		{"other", fmt.Errorf("boom"), CodeInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Code(tt.err))
		})
	}
}

func TestRetriable(t *testing.T) {
	assert.True(t, Retriable(ErrConditionRaceExhausted))
	assert.True(t, Retriable(fmt.Errorf("x: %w", ErrStoreUnavailable)))
	assert.False(t, Retriable(ErrLicenseAlreadyClaimed))
	assert.False(t, Retriable(ErrUnknownLicense))
}

func TestMapLicenseError(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantType   string
		wantCode   string
	}{
		{"unknown license", ErrUnknownLicense, http.StatusNotFound, TypeLicenseUnknown, CodeUnknownLicense},
		{"claimed", ErrLicenseAlreadyClaimed, http.StatusConflict, TypeLicenseClaimed, CodeLicenseAlreadyClaimed},
		{"race exhausted", ErrConditionRaceExhausted, http.StatusServiceUnavailable, TypeLicenseContended, CodeConditionRaceExhausted},
		{"store unavailable", ErrStoreUnavailable, http.StatusServiceUnavailable, TypeServiceDown, CodeStoreUnavailable},
		{"invalid input", fmt.Errorf("%w: user_id is required", ErrInvalidInput), http.StatusBadRequest, TypeValidation, CodeInvalidInput},
		{"missing key", ErrMissingLicenseKey, http.StatusBadRequest, TypeLicenseMissingKey, CodeMissingLicenseKey},
		{"timeout", context.DeadlineExceeded, http.StatusGatewayTimeout, TypeTimeout, CodeTimeout},
		{"unexpected", fmt.Errorf("boom"), http.StatusInternalServerError, TypeInternal, CodeInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			problem := MapLicenseError(tt.err, "trace-1")

			assert.Equal(t, tt.wantStatus, problem.Status)
			assert.Equal(t, tt.wantType, problem.Type)
			assert.Equal(t, tt.wantCode, problem.Extensions["error"])
			assert.Equal(t, false, problem.Extensions["success"])
			assert.Equal(t, "trace-1", problem.Extensions["trace_id"])
		})
	}
}

func TestProblemDetails_RenderSetsRetryAfter(t *testing.T) {
	r := httptest.NewRequest(http.MethodPost, "/api/license/activate", nil)
	w := httptest.NewRecorder()

	err := render.Render(w, r, MapLicenseError(ErrConditionRaceExhausted, "t"))
	require.NoError(t, err)

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, "1", w.Header().Get("Retry-After"))

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "ConditionRaceExhausted", body["error"])
	assert.Equal(t, true, body["retriable"])
	assert.Equal(t, float64(503), body["status"])
}

func TestProblemDetails_ExtensionsCannotOverrideStandardFields(t *testing.T) {
	problem := NewProblemDetails(http.StatusConflict, TypeLicenseClaimed, "Claimed", "", "").
		WithExtension("status", 200)

	data, err := json.Marshal(problem)
	require.NoError(t, err)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &body))
	assert.Equal(t, float64(http.StatusConflict), body["status"])
	assert.NotContains(t, body, "detail")
}

func TestErrorHandler_Recoverer(t *testing.T) {
	handler := NewErrorHandler(slog.New(slog.NewTextHandler(io.Discard, nil)), true)

	panicky := handler.Recoverer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("kaboom")
	}))

	w := httptest.NewRecorder()
	panicky.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, w.Body.String(), "kaboom")
}

func TestErrorHandler_NotFoundAndMethodNotAllowed(t *testing.T) {
	handler := NewErrorHandler(slog.New(slog.NewTextHandler(io.Discard, nil)), false)

	w := httptest.NewRecorder()
	handler.NotFound(w, httptest.NewRequest(http.MethodGet, "/nope", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = httptest.NewRecorder()
	handler.MethodNotAllowed(w, httptest.NewRequest(http.MethodDelete, "/api/health", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
	assert.Contains(t, w.Body.String(), "DELETE")
}
