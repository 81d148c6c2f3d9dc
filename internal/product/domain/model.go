package domain

import (
	"time"

	"gorm.io/datatypes"
)

// Product is a distributable the update resolver serves releases for.
// Version is the latest published release.
type Product struct {
	ID          int64             `json:"id" gorm:"primaryKey"`
	Slug        string            `json:"slug" gorm:"type:text;not null;uniqueIndex:ux_products_slug"`
	Name        string            `json:"name" gorm:"type:text;not null"`
	Description *string           `json:"description,omitempty" gorm:"type:text"`
	Version     string            `json:"version" gorm:"type:text;not null"`
	DownloadURL string            `json:"download_url" gorm:"column:download_url;type:text"`
	Changelog   *string           `json:"changelog,omitempty" gorm:"type:text"`
	Active      bool              `json:"active" gorm:"not null;default:true"`
	Metadata    datatypes.JSONMap `json:"metadata,omitempty" gorm:"type:jsonb"`
	CreatedAt   time.Time         `json:"created_at" gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt   time.Time         `json:"updated_at" gorm:"not null;default:CURRENT_TIMESTAMP"`
}

func (Product) TableName() string { return "products" }
