package domain

import (
	"context"
	"errors"
	"time"
)

// Setting is one persisted option row. Options are stored as strings and
// parsed into the typed Settings view on read.
type Setting struct {
	Key       string    `gorm:"primaryKey;column:key;type:text"`
	Value     string    `gorm:"column:value;type:text;not null"`
	UpdatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (Setting) TableName() string { return "settings" }

const (
	KeyMaxUploadSizeMB          = "max_upload_size_mb"
	KeyLicenseExpiryDays        = "license_expiry_days"
	KeyMaxActivations           = "max_activations"
	KeyEnableAutoUpdates        = "enable_auto_updates"
	KeyUpdateCheckIntervalHours = "update_check_interval_hours"
)

// Settings is the recognized option set. Unknown keys submitted by admins
// are rejected, not stored.
type Settings struct {
	MaxUploadSizeMB          int  `json:"max_upload_size_mb"`
	LicenseExpiryDays        int  `json:"license_expiry_days"`
	MaxActivations           int  `json:"max_activations"`
	EnableAutoUpdates        bool `json:"enable_auto_updates"`
	UpdateCheckIntervalHours int  `json:"update_check_interval_hours"`
}

// Defaults returns the option values used before any admin writes.
func Defaults() Settings {
	return Settings{
		MaxUploadSizeMB:          50,
		LicenseExpiryDays:        365,
		MaxActivations:           5,
		EnableAutoUpdates:        true,
		UpdateCheckIntervalHours: 12,
	}
}

// Clamped coerces every option into its allowed range. LicenseExpiryDays
// keeps zero as a valid value meaning "licenses never expire".
func (s Settings) Clamped() Settings {
	s.MaxUploadSizeMB = clamp(s.MaxUploadSizeMB, 1, 1000)
	s.LicenseExpiryDays = clamp(s.LicenseExpiryDays, 0, 3650)
	s.MaxActivations = clamp(s.MaxActivations, 1, 100)
	s.UpdateCheckIntervalHours = clamp(s.UpdateCheckIntervalHours, 1, 168)
	return s
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// IssuancePolicy is the slice of settings the license issuance path needs,
// read fresh per create call and passed in explicitly.
type IssuancePolicy struct {
	ExpiryDays             int
	DefaultActivationLimit int
}

// UpdateRequest patches a subset of options. Nil fields are left unchanged.
type UpdateRequest struct {
	MaxUploadSizeMB          *int  `json:"max_upload_size_mb"`
	LicenseExpiryDays        *int  `json:"license_expiry_days"`
	MaxActivations           *int  `json:"max_activations"`
	EnableAutoUpdates        *bool `json:"enable_auto_updates"`
	UpdateCheckIntervalHours *int  `json:"update_check_interval_hours"`
}

type Service interface {
	Get(ctx context.Context) (Settings, error)
	Update(ctx context.Context, req UpdateRequest) (Settings, error)
	IssuancePolicy(ctx context.Context) (IssuancePolicy, error)
}

var ErrStoreUnavailable = errors.New("store_unavailable")
