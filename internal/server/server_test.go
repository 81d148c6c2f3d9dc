package server

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	auditdomain "github.com/smallbiznis/keygate/internal/audit/domain"
	"github.com/smallbiznis/keygate/internal/clock"
	"github.com/smallbiznis/keygate/internal/config"
	licensedomain "github.com/smallbiznis/keygate/internal/license/domain"
	productdomain "github.com/smallbiznis/keygate/internal/product/domain"
	"github.com/smallbiznis/keygate/internal/ratelimit"
	settingsdomain "github.com/smallbiznis/keygate/internal/settings/domain"
	updatedomain "github.com/smallbiznis/keygate/internal/update/domain"
)

type fakeLicenseService struct {
	validateFn   func(req licensedomain.ValidateRequest) (*licensedomain.ValidateResponse, error)
	deactivateFn func(req licensedomain.DeactivateRequest) (*licensedomain.DeactivateResponse, error)

	mu            sync.Mutex
	validateCalls int
	lastValidate  licensedomain.ValidateRequest
}

func (f *fakeLicenseService) Validate(ctx context.Context, req licensedomain.ValidateRequest) (*licensedomain.ValidateResponse, error) {
	_ = ctx
	f.mu.Lock()
	f.validateCalls++
	f.lastValidate = req
	f.mu.Unlock()
	if f.validateFn != nil {
		return f.validateFn(req)
	}
	return &licensedomain.ValidateResponse{Valid: true, Message: "license is valid", Status: licensedomain.StatusActive}, nil
}

func (f *fakeLicenseService) Deactivate(ctx context.Context, req licensedomain.DeactivateRequest) (*licensedomain.DeactivateResponse, error) {
	_ = ctx
	if f.deactivateFn != nil {
		return f.deactivateFn(req)
	}
	return &licensedomain.DeactivateResponse{Success: true, Message: "license deactivated"}, nil
}

func (f *fakeLicenseService) Create(ctx context.Context, req licensedomain.CreateRequest) (*licensedomain.Response, error) {
	_ = ctx
	return &licensedomain.Response{CustomerEmail: req.CustomerEmail}, nil
}

func (f *fakeLicenseService) Get(ctx context.Context, id string) (*licensedomain.Response, error) {
	_ = ctx
	return &licensedomain.Response{ID: id}, nil
}

func (f *fakeLicenseService) List(ctx context.Context, req licensedomain.ListRequest) (*licensedomain.ListResponse, error) {
	_ = ctx
	_ = req
	return &licensedomain.ListResponse{Page: 1, PerPage: 20}, nil
}

func (f *fakeLicenseService) UpdateLicense(ctx context.Context, id string, req licensedomain.UpdateRequest) (*licensedomain.Response, error) {
	_ = ctx
	_ = req
	return &licensedomain.Response{ID: id}, nil
}

func (f *fakeLicenseService) Delete(ctx context.Context, id string) error {
	_ = ctx
	_ = id
	return nil
}

func (f *fakeLicenseService) ListActivations(ctx context.Context, licenseID string) ([]licensedomain.ActivationResponse, error) {
	_ = ctx
	_ = licenseID
	return nil, nil
}

type fakeUpdateService struct {
	checkFn func(req updatedomain.CheckRequest) (*updatedomain.CheckResponse, error)
}

func (f *fakeUpdateService) Check(ctx context.Context, req updatedomain.CheckRequest) (*updatedomain.CheckResponse, error) {
	_ = ctx
	if f.checkFn != nil {
		return f.checkFn(req)
	}
	return &updatedomain.CheckResponse{Version: "1.0.0", Update: false, Message: "latest version installed"}, nil
}

type fakeProductService struct{}

func (f *fakeProductService) Create(ctx context.Context, req productdomain.CreateRequest) (*productdomain.Response, error) {
	_ = ctx
	return &productdomain.Response{Name: req.Name}, nil
}

func (f *fakeProductService) Get(ctx context.Context, id string) (*productdomain.Response, error) {
	_ = ctx
	return &productdomain.Response{ID: id}, nil
}

func (f *fakeProductService) List(ctx context.Context, req productdomain.ListRequest) ([]productdomain.Response, error) {
	_ = ctx
	_ = req
	return nil, nil
}

func (f *fakeProductService) Update(ctx context.Context, req productdomain.UpdateRequest) (*productdomain.Response, error) {
	_ = ctx
	return &productdomain.Response{ID: req.ID}, nil
}

func (f *fakeProductService) Delete(ctx context.Context, id string) error {
	_ = ctx
	_ = id
	return nil
}

type fakeSettingsService struct {
	updateFn func(req settingsdomain.UpdateRequest) (settingsdomain.Settings, error)
}

func (f *fakeSettingsService) Get(ctx context.Context) (settingsdomain.Settings, error) {
	_ = ctx
	return settingsdomain.Defaults(), nil
}

func (f *fakeSettingsService) Update(ctx context.Context, req settingsdomain.UpdateRequest) (settingsdomain.Settings, error) {
	_ = ctx
	if f.updateFn != nil {
		return f.updateFn(req)
	}
	return settingsdomain.Defaults(), nil
}

func (f *fakeSettingsService) IssuancePolicy(ctx context.Context) (settingsdomain.IssuancePolicy, error) {
	_ = ctx
	return settingsdomain.IssuancePolicy{ExpiryDays: 365, DefaultActivationLimit: 5}, nil
}

type fakeAuditService struct {
	mu      sync.Mutex
	entries []auditdomain.Entry
	listErr error
}

func (f *fakeAuditService) Record(ctx context.Context, entry auditdomain.Entry) {
	_ = ctx
	f.mu.Lock()
	f.entries = append(f.entries, entry)
	f.mu.Unlock()
}

func (f *fakeAuditService) List(ctx context.Context, req auditdomain.ListRequest) (auditdomain.ListResponse, error) {
	_ = ctx
	_ = req
	if f.listErr != nil {
		return auditdomain.ListResponse{}, f.listErr
	}
	return auditdomain.ListResponse{}, nil
}

type serverFixture struct {
	srv        *Server
	licenseSvc *fakeLicenseService
	updateSvc  *fakeUpdateService
	auditSvc   *fakeAuditService
	clk        *clock.FakeClock
}

func newServerFixture(t *testing.T) *serverFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	licenseSvc := &fakeLicenseService{}
	updateSvc := &fakeUpdateService{}
	auditSvc := &fakeAuditService{}
	clk := clock.NewFakeClock(time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC))

	engine := gin.New()
	engine.Use(ErrorHandlingMiddleware())

	cfg := config.Config{
		AdminToken: "test-admin-token",
		RateLimit: config.RateLimitConfig{
			ValidateMax:   2,
			DeactivateMax: 2,
			UpdateMax:     2,
			WindowSeconds: 60,
		},
	}

	srv := NewServer(ServerParams{
		Gin:         engine,
		Cfg:         cfg,
		LicenseSvc:  licenseSvc,
		ProductSvc:  &fakeProductService{},
		UpdateSvc:   updateSvc,
		SettingsSvc: &fakeSettingsService{},
		AuditSvc:    auditSvc,
		Limiter:     ratelimit.NewMemoryFixedWindow(clk),
	})

	return &serverFixture{
		srv:        srv,
		licenseSvc: licenseSvc,
		updateSvc:  updateSvc,
		auditSvc:   auditSvc,
		clk:        clk,
	}
}

func (f *serverFixture) do(method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	var reader *bytes.Buffer
	if body != "" {
		reader = bytes.NewBufferString(body)
	} else {
		reader = bytes.NewBuffer(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp := httptest.NewRecorder()
	f.srv.Engine().ServeHTTP(resp, req)
	return resp
}

func adminHeaders() map[string]string {
	return map[string]string{"Authorization": "Bearer test-admin-token"}
}

func TestValidateLicenseReturnsValidationResult(t *testing.T) {
	f := newServerFixture(t)

	resp := f.do(http.MethodPost, "/api/v1/validate", `{"license_key":"abcd-1234","site_url":" https://example.com ","product_id":7}`, nil)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", resp.Code, resp.Body.String())
	}
	if !strings.Contains(resp.Body.String(), `"valid":true`) {
		t.Fatalf("expected valid response, got %s", resp.Body.String())
	}
	if f.licenseSvc.lastValidate.SiteURL != "https://example.com" {
		t.Fatalf("expected trimmed site url, got %q", f.licenseSvc.lastValidate.SiteURL)
	}
	if f.licenseSvc.lastValidate.ProductID != 7 {
		t.Fatalf("expected product id 7, got %d", f.licenseSvc.lastValidate.ProductID)
	}
}

func TestValidateLicenseMalformedBodyReturns400(t *testing.T) {
	f := newServerFixture(t)

	resp := f.do(http.MethodPost, "/api/v1/validate", `{"license_key":`, nil)

	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", resp.Code)
	}
	if f.licenseSvc.validateCalls != 0 {
		t.Fatal("expected service not to be called on malformed body")
	}
}

func TestValidateLicenseErrorStatusMapping(t *testing.T) {
	cases := []struct {
		name       string
		err        error
		wantStatus int
		wantType   string
	}{
		{"missing parameters", licensedomain.ErrMissingParameters, http.StatusBadRequest, "missing_parameters"},
		{"invalid site url", licensedomain.ErrInvalidSiteURL, http.StatusBadRequest, "invalid_site_url"},
		{"license not found", licensedomain.ErrLicenseNotFound, http.StatusNotFound, "license_not_found"},
		{"product mismatch", licensedomain.ErrProductMismatch, http.StatusForbidden, "product_mismatch"},
		{"inactive or expired", licensedomain.ErrLicenseInactiveOrExpired, http.StatusForbidden, "license_inactive_or_expired"},
		{"activation limit", licensedomain.ErrActivationLimitReached, http.StatusForbidden, "activation_limit_reached"},
		{"store failure", context.DeadlineExceeded, http.StatusInternalServerError, "store_unavailable"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newServerFixture(t)
			f.licenseSvc.validateFn = func(licensedomain.ValidateRequest) (*licensedomain.ValidateResponse, error) {
				return nil, tc.err
			}

			resp := f.do(http.MethodPost, "/api/v1/validate", `{"license_key":"K","site_url":"https://example.com","product_id":1}`, nil)

			if resp.Code != tc.wantStatus {
				t.Fatalf("expected status %d, got %d: %s", tc.wantStatus, resp.Code, resp.Body.String())
			}
			if !strings.Contains(resp.Body.String(), tc.wantType) {
				t.Fatalf("expected error type %q in %s", tc.wantType, resp.Body.String())
			}
		})
	}
}

func TestDeactivateLicenseActivationNotFound(t *testing.T) {
	f := newServerFixture(t)
	f.licenseSvc.deactivateFn = func(licensedomain.DeactivateRequest) (*licensedomain.DeactivateResponse, error) {
		return nil, licensedomain.ErrActivationNotFound
	}

	resp := f.do(http.MethodPost, "/api/v1/deactivate", `{"license_key":"K","site_url":"https://example.com"}`, nil)

	if resp.Code != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d", resp.Code)
	}
	if !strings.Contains(resp.Body.String(), "activation_not_found") {
		t.Fatalf("expected activation_not_found, got %s", resp.Body.String())
	}
}

func TestCheckUpdateReportsNewVersion(t *testing.T) {
	f := newServerFixture(t)
	f.updateSvc.checkFn = func(req updatedomain.CheckRequest) (*updatedomain.CheckResponse, error) {
		if req.Version != "1.9.0" {
			t.Fatalf("expected version 1.9.0, got %q", req.Version)
		}
		return &updatedomain.CheckResponse{
			Version:     "1.10.0",
			Update:      true,
			DownloadURL: "https://downloads.example.com/p/1.10.0.zip",
		}, nil
	}

	resp := f.do(http.MethodGet, "/api/v1/update?license_key=abcd&version=1.9.0&product_id=7", "", nil)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", resp.Code, resp.Body.String())
	}
	if !strings.Contains(resp.Body.String(), `"update":true`) {
		t.Fatalf("expected update true, got %s", resp.Body.String())
	}
}

func TestRateLimitExceededReturns429(t *testing.T) {
	f := newServerFixture(t)
	body := `{"license_key":"K","site_url":"https://example.com","product_id":1}`

	for i := 0; i < 2; i++ {
		resp := f.do(http.MethodPost, "/api/v1/validate", body, nil)
		if resp.Code != http.StatusOK {
			t.Fatalf("request %d: expected status 200, got %d", i+1, resp.Code)
		}
	}

	resp := f.do(http.MethodPost, "/api/v1/validate", body, nil)
	if resp.Code != http.StatusTooManyRequests {
		t.Fatalf("expected status 429, got %d", resp.Code)
	}
	if resp.Header().Get("Retry-After") == "" {
		t.Fatal("expected Retry-After header on 429")
	}
	if resp.Header().Get("X-RateLimit-Remaining") != "0" {
		t.Fatalf("expected zero remaining, got %q", resp.Header().Get("X-RateLimit-Remaining"))
	}
	if f.licenseSvc.validateCalls != 2 {
		t.Fatalf("expected 2 service calls, got %d", f.licenseSvc.validateCalls)
	}
}

func TestRateLimitWindowResetsAfterExpiry(t *testing.T) {
	f := newServerFixture(t)
	body := `{"license_key":"K","site_url":"https://example.com","product_id":1}`

	for i := 0; i < 3; i++ {
		f.do(http.MethodPost, "/api/v1/validate", body, nil)
	}

	f.clk.Advance(61 * time.Second)

	resp := f.do(http.MethodPost, "/api/v1/validate", body, nil)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected status 200 after window expiry, got %d", resp.Code)
	}
}

func TestAdminAuthRequired(t *testing.T) {
	f := newServerFixture(t)

	resp := f.do(http.MethodGet, "/admin/settings", "", nil)
	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected status 401 without token, got %d", resp.Code)
	}

	resp = f.do(http.MethodGet, "/admin/settings", "", map[string]string{"Authorization": "Bearer wrong-token"})
	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected status 401 with wrong token, got %d", resp.Code)
	}

	resp = f.do(http.MethodGet, "/admin/settings", "", adminHeaders())
	if resp.Code != http.StatusOK {
		t.Fatalf("expected status 200 with valid token, got %d: %s", resp.Code, resp.Body.String())
	}
}

func TestAdminAuthDisabledWhenTokenUnset(t *testing.T) {
	gin.SetMode(gin.TestMode)

	engine := gin.New()
	engine.Use(ErrorHandlingMiddleware())
	srv := NewServer(ServerParams{
		Gin:         engine,
		Cfg:         config.Config{},
		LicenseSvc:  &fakeLicenseService{},
		ProductSvc:  &fakeProductService{},
		UpdateSvc:   &fakeUpdateService{},
		SettingsSvc: &fakeSettingsService{},
		AuditSvc:    &fakeAuditService{},
		Limiter:     ratelimit.NewMemoryFixedWindow(clock.NewFakeClock(time.Now())),
	})

	req := httptest.NewRequest(http.MethodGet, "/admin/settings", nil)
	req.Header.Set("Authorization", "Bearer ")
	resp := httptest.NewRecorder()
	srv.Engine().ServeHTTP(resp, req)

	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected status 401 when no admin token configured, got %d", resp.Code)
	}
}

func TestAuditTrailRecordsPublicRequests(t *testing.T) {
	f := newServerFixture(t)

	resp := f.do(http.MethodPost, "/api/v1/validate", `{"license_key":"abcd-1234","site_url":"https://example.com","product_id":7}`, nil)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", resp.Code)
	}

	f.auditSvc.mu.Lock()
	defer f.auditSvc.mu.Unlock()
	if len(f.auditSvc.entries) != 1 {
		t.Fatalf("expected 1 audit entry, got %d", len(f.auditSvc.entries))
	}
	entry := f.auditSvc.entries[0]
	if entry.Endpoint != "/api/v1/validate" {
		t.Fatalf("expected endpoint /api/v1/validate, got %q", entry.Endpoint)
	}
	if entry.ResponseCode != http.StatusOK {
		t.Fatalf("expected response code 200, got %d", entry.ResponseCode)
	}
	if entry.LicenseKey != "ABCD1234" {
		t.Fatalf("expected normalized license key, got %q", entry.LicenseKey)
	}
	if entry.Request["site_url"] != "https://example.com" {
		t.Fatalf("expected request snapshot, got %v", entry.Request)
	}
}

func TestAuditTrailRecordsRejectedRequests(t *testing.T) {
	f := newServerFixture(t)
	f.licenseSvc.validateFn = func(licensedomain.ValidateRequest) (*licensedomain.ValidateResponse, error) {
		return nil, licensedomain.ErrLicenseNotFound
	}

	f.do(http.MethodPost, "/api/v1/validate", `{"license_key":"K","site_url":"https://example.com","product_id":1}`, nil)

	f.auditSvc.mu.Lock()
	defer f.auditSvc.mu.Unlock()
	if len(f.auditSvc.entries) != 1 {
		t.Fatalf("expected 1 audit entry, got %d", len(f.auditSvc.entries))
	}
	if f.auditSvc.entries[0].ResponseCode != http.StatusNotFound {
		t.Fatalf("expected recorded 404, got %d", f.auditSvc.entries[0].ResponseCode)
	}
}

func TestListAuditLogsRejectsBadTimeParam(t *testing.T) {
	f := newServerFixture(t)

	resp := f.do(http.MethodGet, "/admin/audit-logs?start_at=not-a-time", "", adminHeaders())

	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", resp.Code)
	}
	if !strings.Contains(resp.Body.String(), "invalid_time_range") {
		t.Fatalf("expected invalid_time_range, got %s", resp.Body.String())
	}
}

func TestUpdateSettingsReturnsUpdatedValues(t *testing.T) {
	f := newServerFixture(t)

	resp := f.do(http.MethodPatch, "/admin/settings", `{"max_activations":10}`, adminHeaders())

	if resp.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", resp.Code, resp.Body.String())
	}
	if !strings.Contains(resp.Body.String(), "max_activations") {
		t.Fatalf("expected settings payload, got %s", resp.Body.String())
	}
}

func TestCreateLicenseReturns201(t *testing.T) {
	f := newServerFixture(t)

	resp := f.do(http.MethodPost, "/admin/licenses", `{"product_id":7,"customer_email":"a@example.com"}`, adminHeaders())

	if resp.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d: %s", resp.Code, resp.Body.String())
	}
	if !strings.Contains(resp.Body.String(), "a@example.com") {
		t.Fatalf("expected created license in body, got %s", resp.Body.String())
	}
}
