package repository

import (
	"context"
	"time"

	settingsdomain "github.com/smallbiznis/keygate/internal/settings/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct{}

func Provide() settingsdomain.Repository {
	return &repo{}
}

func (r *repo) Load(ctx context.Context, db *gorm.DB) (map[string]string, error) {
	var rows []settingsdomain.Setting
	if err := db.WithContext(ctx).Find(&rows).Error; err != nil {
		return nil, err
	}
	values := make(map[string]string, len(rows))
	for _, row := range rows {
		values[row.Key] = row.Value
	}
	return values, nil
}

func (r *repo) Save(ctx context.Context, db *gorm.DB, values map[string]string) error {
	if len(values) == 0 {
		return nil
	}
	now := time.Now().UTC()
	rows := make([]settingsdomain.Setting, 0, len(values))
	for key, value := range values {
		rows = append(rows, settingsdomain.Setting{Key: key, Value: value, UpdatedAt: now})
	}
	return db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
	}).Create(&rows).Error
}
