package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	licenseErrors "licensed/internal/errors"
	"licensed/internal/infrastructure"
	"licensed/internal/license"
	"licensed/internal/middleware"
	"licensed/pkg/contracts/domain"
)

type mockLicenseService struct{ mock.Mock }

func (m *mockLicenseService) Ingest(ctx context.Context, n license.Notification) *domain.IngestResponse {
	return m.Called(ctx, n).Get(0).(*domain.IngestResponse)
}

func (m *mockLicenseService) Activate(ctx context.Context, req domain.ActivationRequest) (*domain.ActivationResponse, error) {
	args := m.Called(ctx, req)
	resp, _ := args.Get(0).(*domain.ActivationResponse)
	return resp, args.Error(1)
}

func (m *mockLicenseService) CheckEntitlement(ctx context.Context, userID string) (*domain.EntitlementResponse, error) {
	args := m.Called(ctx, userID)
	resp, _ := args.Get(0).(*domain.EntitlementResponse)
	return resp, args.Error(1)
}

func newTestRouter(t *testing.T, secret string, opts ...LicenseHandlerOption) (*mockLicenseService, http.Handler) {
	t.Helper()
	svc := &mockLicenseService{}
	t.Cleanup(func() { svc.AssertExpectations(t) })

	h := NewLicenseHandler(svc, secret, infrastructure.NewDiscardLogger(), opts...)
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Route("/api", func(r chi.Router) {
		h.WebhookRoutes(r, "/license/webhook")
		r.Mount("/license", h.Routes())
	})
	return svc, r
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body), rec.Body.String())
	return body
}

func TestWebhook_FormNotification(t *testing.T) {
	svc, router := newTestRouter(t, "")

	form := url.Values{
		"license_key":       {"ABCD-1234-5678-9999"},
		"sale_id":           {"sale-1"},
		"product_permalink": {"6screen"},
		"price":             {"199"},
	}
	want := license.Notification{
		"license_key":       "ABCD-1234-5678-9999",
		"sale_id":           "sale-1",
		"product_permalink": "6screen",
		"price":             "199",
	}
	svc.On("Ingest", mock.Anything, want).Return(&domain.IngestResponse{
		Success: true, Message: "license created", Tier: "premium", MaxScreens: 6,
	}).Once()

	req := httptest.NewRequest(http.MethodPost, "/api/license/webhook", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, "premium", body["tier"])
}

func TestWebhook_JSONNotification(t *testing.T) {
	svc, router := newTestRouter(t, "")

	svc.On("Ingest", mock.Anything, license.Notification{
		"license_key": "KEY-0001",
		"price":       "1.99",
		"test":        "true",
		"variants":    `{"screens":"4"}`,
	}).Return(&domain.IngestResponse{Success: true}).Once()

	body := `{"license_key":"KEY-0001","price":1.99,"test":true,"refunded":null,"variants":{"screens":"4"}}`
	req := httptest.NewRequest(http.MethodPost, "/api/license/webhook", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json; charset=utf-8")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestWebhook_MalformedJSONIsSoftFailure(t *testing.T) {
	_, router := newTestRouter(t, "")

	req := httptest.NewRequest(http.MethodPost, "/api/license/webhook", strings.NewReader(`["not","an","object"]`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, false, body["success"])
	assert.Equal(t, licenseErrors.CodeInvalidInput, body["error"])
	assert.NotEmpty(t, body["trace_id"])
}

func TestWebhook_SoftFailuresStay200(t *testing.T) {
	svc, router := newTestRouter(t, "")
	svc.On("Ingest", mock.Anything, license.Notification{"email": "buyer@example.com"}).Return(&domain.IngestResponse{
		Success:        false,
		Error:          licenseErrors.CodeMissingLicenseKey,
		ReceivedFields: []string{"email"},
	}).Once()

	req := httptest.NewRequest(http.MethodPost, "/api/license/webhook",
		strings.NewReader(url.Values{"email": {"buyer@example.com"}}.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, licenseErrors.CodeMissingLicenseKey, body["error"])
	assert.Equal(t, []interface{}{"email"}, body["received_fields"])
}

func TestWebhook_Secret(t *testing.T) {
	svc, router := newTestRouter(t, "s3cret")
	svc.On("Ingest", mock.Anything, license.Notification{"license_key": "KEY-0001"}).
		Return(&domain.IngestResponse{Success: true}).Once()

	send := func(query string) map[string]interface{} {
		req := httptest.NewRequest(http.MethodPost, "/api/license/webhook"+query,
			strings.NewReader("license_key=KEY-0001"))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		require.Equal(t, http.StatusOK, rec.Code)
		return decode(t, rec)
	}

	body := send("?secret=wrong")
	assert.Equal(t, false, body["success"])
	assert.Equal(t, licenseErrors.CodeWebhookUnauthorized, body["error"])

	body = send("")
	assert.Equal(t, licenseErrors.CodeWebhookUnauthorized, body["error"])

	body = send("?secret=s3cret")
	assert.Equal(t, true, body["success"])
}

func TestWebhook_OversizedBodyIsSoftFailure(t *testing.T) {
	body := url.Values{
		"license_key": {"KEY-0001"},
		"padding":     {strings.Repeat("x", 4096)},
	}.Encode()

	tests := []struct {
		name          string
		contentLength int64
	}{
		{"declared length", int64(len(body))},
		{"chunked", -1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, router := newTestRouter(t, "", WithWebhookBodyLimit(1024))

			req := httptest.NewRequest(http.MethodPost, "/api/license/webhook", strings.NewReader(body))
			req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
			req.ContentLength = tt.contentLength
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, req)

			assert.Equal(t, http.StatusOK, rec.Code)
			resp := decode(t, rec)
			assert.Equal(t, false, resp["success"])
			assert.Equal(t, licenseErrors.CodeInvalidInput, resp["error"])
			assert.Contains(t, resp["detail"], "exceeds 1024 bytes")
		})
	}
}

func TestWebhook_BodyWithinLimit(t *testing.T) {
	svc, router := newTestRouter(t, "", WithWebhookBodyLimit(1024))
	svc.On("Ingest", mock.Anything, license.Notification{"license_key": "KEY-0001"}).
		Return(&domain.IngestResponse{Success: true}).Once()

	req := httptest.NewRequest(http.MethodPost, "/api/license/webhook", strings.NewReader("license_key=KEY-0001"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.ContentLength = -1
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, decode(t, rec)["success"])
}

func TestWebhookStatus(t *testing.T) {
	_, router := newTestRouter(t, "")

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/license/webhook", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "/api/license/webhook", body["endpoint"])
	assert.Contains(t, body["message"], "ready")
}

func TestActivate_Success(t *testing.T) {
	svc, router := newTestRouter(t, "")
	activatedAt := time.Date(2024, 7, 1, 10, 0, 0, 0, time.UTC)
	svc.On("Activate", mock.Anything, domain.ActivationRequest{UserID: "user-1", LicenseKey: "ABCD-1234"}).
		Return(&domain.ActivationResponse{
			Success: true, LicenseKey: "ABCD****1234", Tier: "standard", MaxScreens: 4, ActivatedAt: activatedAt,
		}, nil).Once()

	req := httptest.NewRequest(http.MethodPost, "/api/license/activate",
		strings.NewReader(`{"user_id":" user-1 ","license_key":"ABCD-1234"}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, float64(4), body["max_screens"])
	assert.Equal(t, "ABCD****1234", body["license_key"])
}

func TestActivate_Problems(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
		retriable  bool
	}{
		{"unknown", licenseErrors.ErrUnknownLicense, http.StatusNotFound, licenseErrors.CodeUnknownLicense, false},
		{"claimed", licenseErrors.ErrLicenseAlreadyClaimed, http.StatusConflict, licenseErrors.CodeLicenseAlreadyClaimed, false},
		{"contended", licenseErrors.ErrConditionRaceExhausted, http.StatusServiceUnavailable, licenseErrors.CodeConditionRaceExhausted, true},
		{"store down", licenseErrors.ErrStoreUnavailable, http.StatusServiceUnavailable, licenseErrors.CodeStoreUnavailable, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, router := newTestRouter(t, "")
			svc.On("Activate", mock.Anything, mock.Anything).Return(nil, tt.err).Once()

			req := httptest.NewRequest(http.MethodPost, "/api/license/activate",
				strings.NewReader(`{"user_id":"user-2","license_key":"ABCD-1234"}`))
			req.Header.Set("Content-Type", "application/json")
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, req)

			assert.Equal(t, tt.wantStatus, rec.Code)
			body := decode(t, rec)
			assert.Equal(t, tt.wantCode, body["error"])
			assert.Equal(t, tt.retriable, body["retriable"])
			assert.Equal(t, false, body["success"])
			assert.Equal(t, "/api/license/activate", body["instance"])
			if tt.wantStatus == http.StatusServiceUnavailable {
				assert.NotEmpty(t, rec.Header().Get("Retry-After"))
			}
		})
	}
}

func TestActivate_InvalidRequests(t *testing.T) {
	tests := []struct {
		name        string
		body        string
		contentType string
		wantStatus  int
	}{
		{"malformed json", `{"user_id":`, "application/json", http.StatusBadRequest},
		{"missing user", `{"license_key":"ABCD-1234"}`, "application/json", http.StatusBadRequest},
		{"blank key", `{"user_id":"u","license_key":"   "}`, "application/json", http.StatusBadRequest},
		{"form body", "user_id=u&license_key=ABCD-1234", "application/x-www-form-urlencoded", http.StatusUnsupportedMediaType},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, router := newTestRouter(t, "")

			req := httptest.NewRequest(http.MethodPost, "/api/license/activate", strings.NewReader(tt.body))
			req.Header.Set("Content-Type", tt.contentType)
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, req)

			assert.Equal(t, tt.wantStatus, rec.Code)
			if tt.wantStatus == http.StatusBadRequest {
				assert.Equal(t, licenseErrors.CodeInvalidInput, decode(t, rec)["error"])
			}
		})
	}
}

func TestCheck(t *testing.T) {
	svc, router := newTestRouter(t, "")
	svc.On("CheckEntitlement", mock.Anything, "user-1").Return(&domain.EntitlementResponse{
		UserID: "user-1", Valid: true, MaxScreens: 6, Tier: "premium", Licenses: 1,
	}, nil).Once()
	svc.On("CheckEntitlement", mock.Anything, "").Return(nil,
		licenseErrors.ErrInvalidInput).Once()

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/license/check?user_id=user-1", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, true, body["valid"])
	assert.Equal(t, float64(6), body["max_screens"])

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/license/check", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
