package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

// ListFilter narrows admin license listings.
type ListFilter struct {
	Status    Status
	ProductID snowflake.ID
	Search    string
	Limit     int
	Offset    int
}

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, license *License) error
	Update(ctx context.Context, db *gorm.DB, license *License) error
	// Delete removes the license and all of its activations.
	Delete(ctx context.Context, db *gorm.DB, id snowflake.ID) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*License, error)
	FindByKey(ctx context.Context, db *gorm.DB, key string) (*License, error)
	List(ctx context.Context, db *gorm.DB, filter ListFilter) ([]License, int64, error)

	InsertActivation(ctx context.Context, db *gorm.DB, activation *Activation) error
	DeleteActivation(ctx context.Context, db *gorm.DB, id snowflake.ID) error
	FindActivation(ctx context.Context, db *gorm.DB, licenseID snowflake.ID, siteURL string) (*Activation, error)
	ListActivations(ctx context.Context, db *gorm.DB, licenseID snowflake.ID) ([]Activation, error)
	CountActiveActivations(ctx context.Context, db *gorm.DB, licenseID snowflake.ID) (int64, error)
	TouchActivation(ctx context.Context, db *gorm.DB, id snowflake.ID, at time.Time) error
}
