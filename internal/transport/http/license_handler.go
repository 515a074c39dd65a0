package http

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"

	licenseErrors "licensed/internal/errors"
	"licensed/internal/infrastructure"
	"licensed/internal/license"
	"licensed/internal/middleware"
	"licensed/internal/services"
	"licensed/pkg/contracts/domain"
)

const (
	maxMultipartMemory = 1 << 20

	// DefaultWebhookBodyLimit bounds a single storefront notification.
	DefaultWebhookBodyLimit = 1 << 20
)

// LicenseHandler serves the storefront webhook and the client-facing
// activation and entitlement endpoints.
type LicenseHandler struct {
	service        services.LicenseService
	validator      *middleware.RequestValidator
	webhookSecret  string
	maxWebhookBody int64
	logger         *slog.Logger
	now            func() time.Time
}

// LicenseHandlerOption configures a LicenseHandler
type LicenseHandlerOption func(*LicenseHandler)

// WithWebhookBodyLimit caps notification bodies. Larger bodies are reported
// in the envelope, never with a 413.
func WithWebhookBodyLimit(limit int64) LicenseHandlerOption {
	return func(h *LicenseHandler) {
		if limit > 0 {
			h.maxWebhookBody = limit
		}
	}
}

// NewLicenseHandler creates a new license handler. An empty webhookSecret
// accepts every notification.
func NewLicenseHandler(service services.LicenseService, webhookSecret string, logger *slog.Logger, opts ...LicenseHandlerOption) *LicenseHandler {
	if logger == nil {
		logger = infrastructure.GetLogger()
	}
	h := &LicenseHandler{
		service:        service,
		validator:      middleware.NewRequestValidator(),
		webhookSecret:  webhookSecret,
		maxWebhookBody: DefaultWebhookBodyLimit,
		logger:         logger.With(slog.String("handler", "license")),
		now:            time.Now,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// WebhookRoutes registers the storefront notification endpoints at path.
// They must stay outside status-producing middleware such as rate limits
// and body-size guards: any non-2xx answer makes the storefront redeliver.
func (h *LicenseHandler) WebhookRoutes(r chi.Router, path string) {
	r.Get(path, h.WebhookStatus)
	r.Post(path, h.Webhook)
}

// Routes mounts under /api/license and serves activation and entitlement.
// activation is applied to the activate route only.
func (h *LicenseHandler) Routes(activation ...func(http.Handler) http.Handler) chi.Router {
	r := chi.NewRouter()

	r.With(activation...).
		With(middleware.ContentTypeValidator("application/json")).
		Post("/activate", h.Activate)
	r.Get("/check", h.Check)

	return r
}

// Webhook handles POST /api/license/webhook. Storefronts retry anything but
// 2xx, so every outcome is 200 with the envelope telling success apart.
func (h *LicenseHandler) Webhook(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if !h.secretMatches(r) {
		h.logger.WarnContext(ctx, "webhook secret mismatch",
			slog.String("remote_addr", r.RemoteAddr))
		render.JSON(w, r, h.softFailure(r, licenseErrors.ErrWebhookUnauthorized))
		return
	}

	if r.ContentLength > h.maxWebhookBody {
		h.logger.WarnContext(ctx, "notification body too large",
			slog.Int64("content_length", r.ContentLength),
			slog.Int64("limit", h.maxWebhookBody))
		render.JSON(w, r, h.softFailure(r, h.errBodyTooLarge()))
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, h.maxWebhookBody)

	n, err := parseNotification(r)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			err = h.errBodyTooLarge()
		}
		h.logger.WarnContext(ctx, "unparseable notification",
			slog.String("content_type", r.Header.Get("Content-Type")),
			slog.String("error", err.Error()))
		render.JSON(w, r, h.softFailure(r, err))
		return
	}

	render.JSON(w, r, h.service.Ingest(ctx, n))
}

// WebhookStatus handles GET /api/license/webhook so storefront setup pages
// can verify the URL.
func (h *LicenseHandler) WebhookStatus(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, domain.WebhookStatus{
		Message:   "license webhook is ready; send purchase notifications with POST",
		Endpoint:  r.URL.Path,
		Timestamp: h.now().UTC(),
	})
}

// Activate handles POST /api/license/activate
func (h *LicenseHandler) Activate(w http.ResponseWriter, r *http.Request) {
	var req domain.ActivationRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		h.problem(w, r, fmt.Errorf("%w: request body must be a JSON object", licenseErrors.ErrInvalidInput))
		return
	}
	req.UserID = strings.TrimSpace(req.UserID)
	req.LicenseKey = strings.TrimSpace(req.LicenseKey)

	if err := h.validator.Struct(req); err != nil {
		h.problem(w, r, err)
		return
	}

	resp, err := h.service.Activate(r.Context(), req)
	if err != nil {
		h.problem(w, r, err)
		return
	}
	render.JSON(w, r, resp)
}

// Check handles GET /api/license/check?user_id=
func (h *LicenseHandler) Check(w http.ResponseWriter, r *http.Request) {
	resp, err := h.service.CheckEntitlement(r.Context(), strings.TrimSpace(r.URL.Query().Get("user_id")))
	if err != nil {
		h.problem(w, r, err)
		return
	}
	render.JSON(w, r, resp)
}

func (h *LicenseHandler) secretMatches(r *http.Request) bool {
	if h.webhookSecret == "" {
		return true
	}
	got := r.URL.Query().Get("secret")
	return subtle.ConstantTimeCompare([]byte(got), []byte(h.webhookSecret)) == 1
}

func (h *LicenseHandler) errBodyTooLarge() error {
	return fmt.Errorf("%w: notification body exceeds %d bytes", licenseErrors.ErrInvalidInput, h.maxWebhookBody)
}

func (h *LicenseHandler) problem(w http.ResponseWriter, r *http.Request, err error) {
	traceID := middleware.GetReqID(r.Context())
	problem := licenseErrors.MapLicenseError(err, traceID)
	problem.Instance = r.URL.Path

	if problem.Status >= http.StatusInternalServerError {
		h.logger.ErrorContext(r.Context(), "license request failed",
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()))
	}
	render.Render(w, r, problem)
}

func (h *LicenseHandler) softFailure(r *http.Request, err error) *domain.IngestResponse {
	return &domain.IngestResponse{
		Success:   false,
		Error:     licenseErrors.Code(err),
		Detail:    err.Error(),
		TraceID:   middleware.GetReqID(r.Context()),
		Timestamp: h.now().UTC(),
	}
}

// parseNotification flattens a form or JSON body into a Notification.
func parseNotification(r *http.Request) (license.Notification, error) {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))

	switch mediaType {
	case "application/json":
		return decodeJSONNotification(r)
	case "multipart/form-data":
		if err := r.ParseMultipartForm(maxMultipartMemory); err != nil {
			return nil, fmt.Errorf("%w: %w", licenseErrors.ErrInvalidInput, err)
		}
	default:
		if err := r.ParseForm(); err != nil {
			return nil, fmt.Errorf("%w: %w", licenseErrors.ErrInvalidInput, err)
		}
	}

	n := make(license.Notification, len(r.PostForm))
	for k, vs := range r.PostForm {
		if len(vs) > 0 {
			n[k] = vs[0]
		}
	}
	return n, nil
}

func decodeJSONNotification(r *http.Request) (license.Notification, error) {
	var raw map[string]interface{}
	dec := json.NewDecoder(r.Body)
	dec.UseNumber()
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("%w: body is not a JSON object: %w", licenseErrors.ErrInvalidInput, err)
	}

	n := make(license.Notification, len(raw))
	for k, v := range raw {
		switch val := v.(type) {
		case nil:
		case string:
			n[k] = val
		case json.Number:
			n[k] = val.String()
		case bool:
			n[k] = strconv.FormatBool(val)
		default:
			// nested objects survive as compact JSON in metadata
			b, err := json.Marshal(val)
			if err != nil {
				continue
			}
			n[k] = string(b)
		}
	}
	return n, nil
}
