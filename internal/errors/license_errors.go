package errors

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/render"
)

// License domain errors. Wrap with %w and test with errors.Is.
var (
	ErrMissingLicenseKey      = errors.New("missing license key")
	ErrUnknownLicense         = errors.New("unknown license")
	ErrLicenseAlreadyClaimed  = errors.New("license already claimed")
	ErrStoreUnavailable       = errors.New("license store unavailable")
	ErrConditionRaceExhausted = errors.New("activation condition race exhausted")
	ErrInvalidInput           = errors.New("invalid input")
	ErrWebhookUnauthorized    = errors.New("webhook secret mismatch")
)

// Taxonomy names reported to clients in the "error" field.
const (
	CodeMissingLicenseKey      = "MissingLicenseKey"
	CodeUnknownLicense         = "UnknownLicense"
	CodeLicenseAlreadyClaimed  = "LicenseAlreadyClaimed"
	CodeStoreUnavailable       = "StoreUnavailable"
	CodeConditionRaceExhausted = "ConditionRaceExhausted"
	CodeInvalidInput           = "InvalidInput"
	CodeWebhookUnauthorized    = "WebhookUnauthorized"
	CodeTimeout                = "Timeout"
	CodeInternal               = "InternalError"
)

// Code returns the taxonomy name for err.
func Code(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrMissingLicenseKey):
		return CodeMissingLicenseKey
	case errors.Is(err, ErrUnknownLicense):
		return CodeUnknownLicense
	case errors.Is(err, ErrLicenseAlreadyClaimed):
		return CodeLicenseAlreadyClaimed
	case errors.Is(err, ErrConditionRaceExhausted):
		return CodeConditionRaceExhausted
	case errors.Is(err, ErrStoreUnavailable):
		return CodeStoreUnavailable
	case errors.Is(err, ErrInvalidInput):
		return CodeInvalidInput
	case errors.Is(err, ErrWebhookUnauthorized):
		return CodeWebhookUnauthorized
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return CodeTimeout
	default:
		return CodeInternal
	}
}

// Retriable reports whether the caller may retry the same request unchanged.
func Retriable(err error) bool {
	return errors.Is(err, ErrConditionRaceExhausted) || errors.Is(err, ErrStoreUnavailable)
}

// ProblemDetails implements RFC 7807 Problem Details for HTTP APIs
type ProblemDetails struct {
	Type     string `json:"type"`
	Title    string `json:"title"`
	Status   int    `json:"status"`
	Detail   string `json:"detail,omitempty"`
	Instance string `json:"instance,omitempty"`

	Extensions map[string]interface{} `json:"-"`
}

// Render implements the render.Renderer interface
func (pd *ProblemDetails) Render(w http.ResponseWriter, r *http.Request) error {
	if ra, ok := pd.Extensions["retry_after"]; ok {
		w.Header().Set("Retry-After", fmt.Sprint(ra))
	}
	render.Status(r, pd.Status)
	return nil
}

// MarshalJSON flattens extensions into the top-level object
func (pd *ProblemDetails) MarshalJSON() ([]byte, error) {
	data := make(map[string]interface{}, 5+len(pd.Extensions))
	for k, v := range pd.Extensions {
		data[k] = v
	}

	data["type"] = pd.Type
	data["title"] = pd.Title
	data["status"] = pd.Status
	if pd.Detail != "" {
		data["detail"] = pd.Detail
	}
	if pd.Instance != "" {
		data["instance"] = pd.Instance
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

// MapLicenseError maps domain errors to HTTP problem details. Every problem
// carries success=false and the taxonomy name so clients of the old JSON
// envelope keep working.
func MapLicenseError(err error, traceID string) *ProblemDetails {
	instance := fmt.Sprintf("/api/license#trace-%s", traceID)

	var problem *ProblemDetails
	switch code := Code(err); code {
	case CodeInvalidInput:
		problem = NewProblemDetails(
			http.StatusBadRequest,
			TypeValidation,
			"Invalid Request",
			err.Error(),
			instance,
		)
	case CodeMissingLicenseKey:
		problem = NewProblemDetails(
			http.StatusBadRequest,
			TypeLicenseMissingKey,
			"License Key Required",
			"A license key must be provided.",
			instance,
		)
	case CodeUnknownLicense:
		problem = NewProblemDetails(
			http.StatusNotFound,
			TypeLicenseUnknown,
			"Unknown License",
			"No license exists for the provided key. Check the key from your purchase receipt.",
			instance,
		)
	case CodeLicenseAlreadyClaimed:
		problem = NewProblemDetails(
			http.StatusConflict,
			TypeLicenseClaimed,
			"License Already Claimed",
			"This license has already been activated by another account.",
			instance,
		)
	case CodeConditionRaceExhausted:
		problem = NewProblemDetails(
			http.StatusServiceUnavailable,
			TypeLicenseContended,
			"Activation Contended",
			"The license was modified concurrently. Please retry.",
			instance,
		).WithExtension("retry_after", 1)
	case CodeStoreUnavailable:
		problem = NewProblemDetails(
			http.StatusServiceUnavailable,
			TypeServiceDown,
			"License Store Unavailable",
			"The license store is temporarily unreachable. Please retry.",
			instance,
		).WithExtension("retry_after", 5)
	case CodeTimeout:
		problem = NewProblemDetails(
			http.StatusGatewayTimeout,
			TypeTimeout,
			"Request Timeout",
			"The request took too long to process and was cancelled.",
			instance,
		)
	default:
		problem = NewProblemDetails(
			http.StatusInternalServerError,
			TypeInternal,
			"Internal Server Error",
			"An unexpected error occurred while processing your request.",
			instance,
		)
	}

	return problem.
		WithExtension("success", false).
		WithExtension("error", Code(err)).
		WithExtension("retriable", Retriable(err)).
		WithExtension("trace_id", traceID)
}

var _ render.Renderer = (*ProblemDetails)(nil)
