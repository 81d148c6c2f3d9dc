package repository

import (
	"context"
	"strings"

	auditdomain "github.com/smallbiznis/keygate/internal/audit/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() auditdomain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, entry *auditdomain.APIRequestLog) error {
	if entry == nil {
		return nil
	}
	return db.WithContext(ctx).Exec(
		`INSERT INTO api_request_logs (
			id, endpoint, method, license_key, ip_address, user_agent,
			request, response_code, response_time_ms, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ID,
		entry.Endpoint,
		entry.Method,
		entry.LicenseKey,
		entry.IPAddress,
		entry.UserAgent,
		entry.Request,
		entry.ResponseCode,
		entry.ResponseTimeMS,
		entry.CreatedAt,
	).Error
}

func (r *repo) List(ctx context.Context, db *gorm.DB, filter auditdomain.ListFilter) ([]*auditdomain.APIRequestLog, error) {
	stmt := db.WithContext(ctx).Model(&auditdomain.APIRequestLog{})

	if endpoint := strings.TrimSpace(filter.Endpoint); endpoint != "" {
		stmt = stmt.Where("endpoint = ?", endpoint)
	}
	if key := strings.TrimSpace(filter.LicenseKey); key != "" {
		stmt = stmt.Where("license_key = ?", key)
	}
	if filter.ResponseCode != 0 {
		stmt = stmt.Where("response_code = ?", filter.ResponseCode)
	}
	if filter.StartAt != nil {
		stmt = stmt.Where("created_at >= ?", filter.StartAt.UTC())
	}
	if filter.EndAt != nil {
		stmt = stmt.Where("created_at <= ?", filter.EndAt.UTC())
	}
	if filter.Cursor != nil {
		stmt = stmt.Where("(created_at < ?) OR (created_at = ? AND id < ?)",
			filter.Cursor.CreatedAt,
			filter.Cursor.CreatedAt,
			filter.Cursor.ID,
		)
	}

	stmt = stmt.Order("created_at desc, id desc")
	if filter.Limit > 0 {
		stmt = stmt.Limit(filter.Limit + 1)
	}

	var logs []*auditdomain.APIRequestLog
	if err := stmt.Find(&logs).Error; err != nil {
		return nil, err
	}
	return logs, nil
}
