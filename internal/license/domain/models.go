package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// Status is the lifecycle state of a license. Only StatusActive licenses
// can validate or activate.
type Status string

const (
	StatusActive   Status = "active"
	StatusInactive Status = "inactive"
	StatusExpired  Status = "expired"
	StatusBlocked  Status = "blocked"
)

// ValidStatus reports whether s is one of the recognized license states.
func ValidStatus(s Status) bool {
	switch s {
	case StatusActive, StatusInactive, StatusExpired, StatusBlocked:
		return true
	default:
		return false
	}
}

// License grants rights to use a product, bounded by a usability window and
// an activation quota.
type License struct {
	ID              snowflake.ID `gorm:"primaryKey"`
	LicenseKey      string       `gorm:"column:license_key;type:text;not null;uniqueIndex:ux_licenses_key"`
	ProductID       snowflake.ID `gorm:"column:product_id;not null;index"`
	CustomerEmail   string       `gorm:"column:customer_email;type:text;not null"`
	CustomerName    *string      `gorm:"column:customer_name;type:text"`
	Status          Status       `gorm:"type:text;not null;default:active"`
	ActivationLimit int          `gorm:"column:activation_limit;not null;default:1"`
	ExpiresAt       *time.Time   `gorm:"column:expires_at"`
	CreatedAt       time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt       time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (License) TableName() string { return "licenses" }

// UsableAt reports whether the license may validate or activate at the
// given instant: status active and not past its expiry.
func (l *License) UsableAt(now time.Time) bool {
	if l.Status != StatusActive {
		return false
	}
	if l.ExpiresAt != nil && !l.ExpiresAt.After(now) {
		return false
	}
	return true
}

// ActivationStatus is the state of a single site binding. Deactivation
// deletes the row outright, so active is the only state ever persisted.
type ActivationStatus string

const ActivationActive ActivationStatus = "active"

// Activation binds a license to one site. The composite unique index on
// (license_id, site_url) is what makes repeated validation from the same
// site idempotent under concurrent retries.
type Activation struct {
	ID          snowflake.ID     `gorm:"primaryKey"`
	LicenseID   snowflake.ID     `gorm:"column:license_id;not null;uniqueIndex:ux_activations_license_site,priority:1"`
	SiteURL     string           `gorm:"column:site_url;type:text;not null;uniqueIndex:ux_activations_license_site,priority:2"`
	SiteName    *string          `gorm:"column:site_name;type:text"`
	IPAddress   string           `gorm:"column:ip_address;type:text"`
	UserAgent   string           `gorm:"column:user_agent;type:text"`
	Status      ActivationStatus `gorm:"type:text;not null;default:active"`
	ActivatedAt time.Time        `gorm:"column:activated_at;not null;default:CURRENT_TIMESTAMP"`
	LastCheckAt time.Time        `gorm:"column:last_check_at;not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (Activation) TableName() string { return "activations" }
