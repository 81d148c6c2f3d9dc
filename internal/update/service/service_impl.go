package service

import (
	"context"

	goversion "github.com/hashicorp/go-version"
	"github.com/smallbiznis/keygate/internal/clock"
	licensedomain "github.com/smallbiznis/keygate/internal/license/domain"
	"github.com/smallbiznis/keygate/internal/observability/metrics"
	productdomain "github.com/smallbiznis/keygate/internal/product/domain"
	updatedomain "github.com/smallbiznis/keygate/internal/update/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB          *gorm.DB
	Log         *zap.Logger
	Clock       clock.Clock
	LicenseRepo licensedomain.Repository
	ProductRepo productdomain.Repository
	Metrics     *metrics.Metrics
}

type service struct {
	db          *gorm.DB
	log         *zap.Logger
	clock       clock.Clock
	licenseRepo licensedomain.Repository
	productRepo productdomain.Repository
	metrics     *metrics.Metrics
}

func New(p Params) updatedomain.Service {
	return &service{
		db:          p.DB,
		log:         p.Log.Named("update.service"),
		clock:       p.Clock,
		licenseRepo: p.LicenseRepo,
		productRepo: p.ProductRepo,
		metrics:     p.Metrics,
	}
}

// Check runs the validate parameter and usability sequence read-only, then
// compares versions semantically. It never creates or touches activations.
func (s *service) Check(ctx context.Context, req updatedomain.CheckRequest) (*updatedomain.CheckResponse, error) {
	key := licensedomain.NormalizeKey(req.LicenseKey)
	if key == "" || req.Version == "" || req.ProductID <= 0 {
		return nil, licensedomain.ErrMissingParameters
	}

	current, err := goversion.NewVersion(req.Version)
	if err != nil {
		return nil, updatedomain.ErrInvalidVersion
	}

	license, err := s.licenseRepo.FindByKey(ctx, s.db, key)
	if err != nil {
		return nil, err
	}
	if license == nil {
		return nil, licensedomain.ErrLicenseNotFound
	}
	if int64(license.ProductID) != req.ProductID {
		return nil, licensedomain.ErrProductMismatch
	}
	if !license.UsableAt(s.clock.Now()) {
		return nil, licensedomain.ErrLicenseInactiveOrExpired
	}

	product, err := s.productRepo.FindByID(ctx, s.db, req.ProductID)
	if err != nil {
		return nil, err
	}
	if product == nil {
		return nil, productdomain.ErrNotFound
	}

	latest, err := goversion.NewVersion(product.Version)
	if err != nil {
		s.log.Error("product has unparseable version",
			zap.Int64("product_id", product.ID),
			zap.String("version", product.Version),
			zap.Error(err))
		return nil, updatedomain.ErrInvalidVersion
	}

	if current.GreaterThanOrEqual(latest) {
		s.metrics.RecordUpdateCheck(ctx, false)
		return &updatedomain.CheckResponse{
			Version: product.Version,
			Update:  false,
			Message: "up to date",
		}, nil
	}

	s.metrics.RecordUpdateCheck(ctx, true)
	resp := &updatedomain.CheckResponse{
		Version:     product.Version,
		Update:      true,
		DownloadURL: product.DownloadURL,
	}
	if product.Changelog != nil {
		resp.Changelog = *product.Changelog
	}
	return resp, nil
}
