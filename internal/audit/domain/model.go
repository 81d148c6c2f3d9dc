package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// APIRequestLog is one append-only record of a public endpoint outcome.
// Rows are never updated or deleted by the application.
type APIRequestLog struct {
	ID             snowflake.ID      `json:"id" gorm:"primaryKey"`
	Endpoint       string            `json:"endpoint" gorm:"type:text;not null;index"`
	Method         string            `json:"method" gorm:"type:text;not null"`
	LicenseKey     *string           `json:"license_key,omitempty" gorm:"column:license_key;type:text;index"`
	IPAddress      *string           `json:"ip_address,omitempty" gorm:"column:ip_address;type:text"`
	UserAgent      *string           `json:"user_agent,omitempty" gorm:"column:user_agent;type:text"`
	Request        datatypes.JSONMap `json:"request,omitempty" gorm:"type:jsonb"`
	ResponseCode   int               `json:"response_code" gorm:"column:response_code;not null"`
	ResponseTimeMS int64             `json:"response_time_ms" gorm:"column:response_time_ms;not null"`
	CreatedAt      time.Time         `json:"created_at" gorm:"not null;default:CURRENT_TIMESTAMP;index"`
}

func (APIRequestLog) TableName() string { return "api_request_logs" }
