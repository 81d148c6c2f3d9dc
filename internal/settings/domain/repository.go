package domain

import (
	"context"

	"gorm.io/gorm"
)

type Repository interface {
	Load(ctx context.Context, db *gorm.DB) (map[string]string, error)
	Save(ctx context.Context, db *gorm.DB, values map[string]string) error
}
