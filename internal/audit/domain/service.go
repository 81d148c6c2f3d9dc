package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/keygate/pkg/db/pagination"
	"gorm.io/gorm"
)

// Entry is what a caller records about one handled request. The service
// fills in identity, timestamps, and context fields.
type Entry struct {
	Endpoint       string
	Method         string
	LicenseKey     string
	IPAddress      string
	UserAgent      string
	Request        map[string]any
	ResponseCode   int
	ResponseTimeMS int64
}

type ListRequest struct {
	pagination.Pagination
	Endpoint     string
	LicenseKey   string
	ResponseCode int
	StartAt      *time.Time
	EndAt        *time.Time
}

type ListResponse struct {
	pagination.PageInfo
	Logs []APIRequestLog `json:"logs"`
}

// Service appends and reads the audit trail. Record is best-effort: it
// never returns an error and never blocks the caller's response.
type Service interface {
	Record(ctx context.Context, entry Entry)
	List(ctx context.Context, req ListRequest) (ListResponse, error)
}

type Cursor struct {
	ID        snowflake.ID
	CreatedAt time.Time
}

type ListFilter struct {
	Endpoint     string
	LicenseKey   string
	ResponseCode int
	StartAt      *time.Time
	EndAt        *time.Time
	Cursor       *Cursor
	Limit        int
}

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, entry *APIRequestLog) error
	List(ctx context.Context, db *gorm.DB, filter ListFilter) ([]*APIRequestLog, error)
}

var (
	ErrInvalidPageToken = errors.New("invalid_page_token")
	ErrInvalidTimeRange = errors.New("invalid_time_range")
)
