package repository

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	licensedomain "github.com/smallbiznis/keygate/internal/license/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() licensedomain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, license *licensedomain.License) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO licenses (id, license_key, product_id, customer_email, customer_name, status, activation_limit, expires_at, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		license.ID,
		license.LicenseKey,
		license.ProductID,
		license.CustomerEmail,
		license.CustomerName,
		license.Status,
		license.ActivationLimit,
		license.ExpiresAt,
		license.CreatedAt,
		license.UpdatedAt,
	).Error
}

func (r *repo) Update(ctx context.Context, db *gorm.DB, license *licensedomain.License) error {
	return db.WithContext(ctx).Exec(
		`UPDATE licenses
		 SET customer_email = ?, customer_name = ?, status = ?, activation_limit = ?, expires_at = ?, updated_at = ?
		 WHERE id = ?`,
		license.CustomerEmail,
		license.CustomerName,
		license.Status,
		license.ActivationLimit,
		license.ExpiresAt,
		license.UpdatedAt,
		license.ID,
	).Error
}

func (r *repo) Delete(ctx context.Context, db *gorm.DB, id snowflake.ID) error {
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Exec(`DELETE FROM activations WHERE license_id = ?`, id).Error; err != nil {
			return err
		}
		return tx.Exec(`DELETE FROM licenses WHERE id = ?`, id).Error
	})
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*licensedomain.License, error) {
	var license licensedomain.License
	err := db.WithContext(ctx).Raw(
		`SELECT * FROM licenses WHERE id = ?`, id,
	).Scan(&license).Error
	if err != nil {
		return nil, err
	}
	if license.ID == 0 {
		return nil, nil
	}
	return &license, nil
}

func (r *repo) FindByKey(ctx context.Context, db *gorm.DB, key string) (*licensedomain.License, error) {
	var license licensedomain.License
	err := db.WithContext(ctx).Raw(
		`SELECT * FROM licenses WHERE license_key = ?`, key,
	).Scan(&license).Error
	if err != nil {
		return nil, err
	}
	if license.ID == 0 {
		return nil, nil
	}
	return &license, nil
}

func (r *repo) List(ctx context.Context, db *gorm.DB, filter licensedomain.ListFilter) ([]licensedomain.License, int64, error) {
	stmt := db.WithContext(ctx).Model(&licensedomain.License{})

	if filter.Status != "" {
		stmt = stmt.Where("status = ?", filter.Status)
	}
	if filter.ProductID != 0 {
		stmt = stmt.Where("product_id = ?", filter.ProductID)
	}
	if search := strings.TrimSpace(filter.Search); search != "" {
		pattern := "%" + search + "%"
		stmt = stmt.Where("license_key LIKE ? OR customer_email LIKE ? OR customer_name LIKE ?", pattern, pattern, pattern)
	}

	var total int64
	if err := stmt.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var licenses []licensedomain.License
	stmt = stmt.Order("created_at DESC")
	if filter.Limit > 0 {
		stmt = stmt.Limit(filter.Limit)
	}
	if filter.Offset > 0 {
		stmt = stmt.Offset(filter.Offset)
	}
	if err := stmt.Find(&licenses).Error; err != nil {
		return nil, 0, err
	}
	return licenses, total, nil
}

func (r *repo) InsertActivation(ctx context.Context, db *gorm.DB, activation *licensedomain.Activation) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO activations (id, license_id, site_url, site_name, ip_address, user_agent, status, activated_at, last_check_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		activation.ID,
		activation.LicenseID,
		activation.SiteURL,
		activation.SiteName,
		activation.IPAddress,
		activation.UserAgent,
		activation.Status,
		activation.ActivatedAt,
		activation.LastCheckAt,
	).Error
}

func (r *repo) DeleteActivation(ctx context.Context, db *gorm.DB, id snowflake.ID) error {
	return db.WithContext(ctx).Exec(`DELETE FROM activations WHERE id = ?`, id).Error
}

func (r *repo) FindActivation(ctx context.Context, db *gorm.DB, licenseID snowflake.ID, siteURL string) (*licensedomain.Activation, error) {
	var activation licensedomain.Activation
	err := db.WithContext(ctx).Raw(
		`SELECT * FROM activations WHERE license_id = ? AND site_url = ?`,
		licenseID,
		siteURL,
	).Scan(&activation).Error
	if err != nil {
		return nil, err
	}
	if activation.ID == 0 {
		return nil, nil
	}
	return &activation, nil
}

func (r *repo) ListActivations(ctx context.Context, db *gorm.DB, licenseID snowflake.ID) ([]licensedomain.Activation, error) {
	var activations []licensedomain.Activation
	err := db.WithContext(ctx).Raw(
		`SELECT * FROM activations WHERE license_id = ? ORDER BY activated_at DESC`,
		licenseID,
	).Scan(&activations).Error
	if err != nil {
		return nil, err
	}
	return activations, nil
}

func (r *repo) CountActiveActivations(ctx context.Context, db *gorm.DB, licenseID snowflake.ID) (int64, error) {
	var count int64
	err := db.WithContext(ctx).Model(&licensedomain.Activation{}).
		Where("license_id = ? AND status = ?", licenseID, licensedomain.ActivationActive).
		Count(&count).Error
	if err != nil {
		return 0, err
	}
	return count, nil
}

func (r *repo) TouchActivation(ctx context.Context, db *gorm.DB, id snowflake.ID, at time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE activations SET last_check_at = ? WHERE id = ?`,
		at,
		id,
	).Error
}
