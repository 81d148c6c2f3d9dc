package domain

import (
	"context"
	"errors"
	"time"
)

// Service is the license lifecycle engine: the public validate/deactivate
// operations plus admin CRUD over licenses and their activations.
type Service interface {
	Validate(ctx context.Context, req ValidateRequest) (*ValidateResponse, error)
	Deactivate(ctx context.Context, req DeactivateRequest) (*DeactivateResponse, error)

	Create(ctx context.Context, req CreateRequest) (*Response, error)
	Get(ctx context.Context, id string) (*Response, error)
	List(ctx context.Context, req ListRequest) (*ListResponse, error)
	UpdateLicense(ctx context.Context, id string, req UpdateRequest) (*Response, error)
	Delete(ctx context.Context, id string) error
	ListActivations(ctx context.Context, licenseID string) ([]ActivationResponse, error)
}

// Notifier delivers license lifecycle notifications to the customer.
// Implementations are best-effort: failures must be logged, never returned.
type Notifier interface {
	LicenseCreated(ctx context.Context, license *License)
	LicenseActivated(ctx context.Context, license *License, siteURL string)
}

// ValidateRequest carries the public validate call parameters. ProductID is
// the caller-reported product, matched against the license.
type ValidateRequest struct {
	LicenseKey string
	SiteURL    string
	ProductID  int64
	IPAddress  string
	UserAgent  string
}

type ValidateResponse struct {
	Valid     bool       `json:"valid"`
	Message   string     `json:"message"`
	ExpiresAt *time.Time `json:"expires_at"`
	Status    Status     `json:"status"`
}

type DeactivateRequest struct {
	LicenseKey string
	SiteURL    string
}

type DeactivateResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// CreateRequest issues a new license. ExpiresAt nil (or zero) defers to the
// issuance policy; ActivationLimit <= 0 defers to the configured default.
type CreateRequest struct {
	ProductID       int64      `json:"product_id"`
	CustomerEmail   string     `json:"customer_email"`
	CustomerName    *string    `json:"customer_name"`
	Status          Status     `json:"status"`
	ActivationLimit int        `json:"activation_limit"`
	ExpiresAt       *time.Time `json:"expires_at"`
}

type UpdateRequest struct {
	CustomerEmail   *string    `json:"customer_email"`
	CustomerName    *string    `json:"customer_name"`
	Status          *Status    `json:"status"`
	ActivationLimit *int       `json:"activation_limit"`
	ExpiresAt       *time.Time `json:"expires_at"`
	ClearExpiry     bool       `json:"clear_expiry"`
}

type ListRequest struct {
	Status    string
	ProductID string
	Search    string
	Page      int
	PerPage   int
}

type Response struct {
	ID              string     `json:"id"`
	LicenseKey      string     `json:"license_key"`
	ProductID       string     `json:"product_id"`
	CustomerEmail   string     `json:"customer_email"`
	CustomerName    *string    `json:"customer_name,omitempty"`
	Status          Status     `json:"status"`
	ActivationLimit int        `json:"activation_limit"`
	Activations     int64      `json:"activations"`
	ExpiresAt       *time.Time `json:"expires_at,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

type ListResponse struct {
	Licenses []Response `json:"licenses"`
	Total    int64      `json:"total"`
	Page     int        `json:"page"`
	PerPage  int        `json:"per_page"`
}

type ActivationResponse struct {
	ID          string    `json:"id"`
	LicenseID   string    `json:"license_id"`
	SiteURL     string    `json:"site_url"`
	SiteName    *string   `json:"site_name,omitempty"`
	IPAddress   string    `json:"ip_address"`
	UserAgent   string    `json:"user_agent"`
	Status      string    `json:"status"`
	ActivatedAt time.Time `json:"activated_at"`
	LastCheckAt time.Time `json:"last_check_at"`
}

var (
	ErrMissingParameters        = errors.New("missing_parameters")
	ErrInvalidSiteURL           = errors.New("invalid_site_url")
	ErrLicenseNotFound          = errors.New("license_not_found")
	ErrProductMismatch          = errors.New("product_mismatch")
	ErrLicenseInactiveOrExpired = errors.New("license_inactive_or_expired")
	ErrActivationLimitReached   = errors.New("activation_limit_reached")
	ErrActivationNotFound       = errors.New("activation_not_found")
	ErrInvalidEmail             = errors.New("invalid_email")
	ErrInvalidStatus            = errors.New("invalid_status")
	ErrInvalidID                = errors.New("invalid_id")
)
