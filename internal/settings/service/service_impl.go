package service

import (
	"context"
	"strconv"

	settingsdomain "github.com/smallbiznis/keygate/internal/settings/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB   *gorm.DB
	Log  *zap.Logger
	Repo settingsdomain.Repository
}

type service struct {
	db   *gorm.DB
	log  *zap.Logger
	repo settingsdomain.Repository
}

func New(p Params) settingsdomain.Service {
	return &service{
		db:   p.DB,
		log:  p.Log,
		repo: p.Repo,
	}
}

func (s *service) Get(ctx context.Context) (settingsdomain.Settings, error) {
	values, err := s.repo.Load(ctx, s.db)
	if err != nil {
		s.log.Error("load settings", zap.Error(err))
		return settingsdomain.Settings{}, settingsdomain.ErrStoreUnavailable
	}
	return fromValues(values), nil
}

func (s *service) Update(ctx context.Context, req settingsdomain.UpdateRequest) (settingsdomain.Settings, error) {
	current, err := s.Get(ctx)
	if err != nil {
		return settingsdomain.Settings{}, err
	}

	if req.MaxUploadSizeMB != nil {
		current.MaxUploadSizeMB = *req.MaxUploadSizeMB
	}
	if req.LicenseExpiryDays != nil {
		current.LicenseExpiryDays = *req.LicenseExpiryDays
	}
	if req.MaxActivations != nil {
		current.MaxActivations = *req.MaxActivations
	}
	if req.EnableAutoUpdates != nil {
		current.EnableAutoUpdates = *req.EnableAutoUpdates
	}
	if req.UpdateCheckIntervalHours != nil {
		current.UpdateCheckIntervalHours = *req.UpdateCheckIntervalHours
	}
	current = current.Clamped()

	if err := s.repo.Save(ctx, s.db, toValues(current)); err != nil {
		s.log.Error("save settings", zap.Error(err))
		return settingsdomain.Settings{}, settingsdomain.ErrStoreUnavailable
	}
	return current, nil
}

// IssuancePolicy reads the settings fresh so license creation always sees
// the latest expiry and activation defaults.
func (s *service) IssuancePolicy(ctx context.Context) (settingsdomain.IssuancePolicy, error) {
	current, err := s.Get(ctx)
	if err != nil {
		return settingsdomain.IssuancePolicy{}, err
	}
	return settingsdomain.IssuancePolicy{
		ExpiryDays:             current.LicenseExpiryDays,
		DefaultActivationLimit: current.MaxActivations,
	}, nil
}

func fromValues(values map[string]string) settingsdomain.Settings {
	current := settingsdomain.Defaults()
	if v, ok := parseInt(values, settingsdomain.KeyMaxUploadSizeMB); ok {
		current.MaxUploadSizeMB = v
	}
	if v, ok := parseInt(values, settingsdomain.KeyLicenseExpiryDays); ok {
		current.LicenseExpiryDays = v
	}
	if v, ok := parseInt(values, settingsdomain.KeyMaxActivations); ok {
		current.MaxActivations = v
	}
	if v, ok := parseBool(values, settingsdomain.KeyEnableAutoUpdates); ok {
		current.EnableAutoUpdates = v
	}
	if v, ok := parseInt(values, settingsdomain.KeyUpdateCheckIntervalHours); ok {
		current.UpdateCheckIntervalHours = v
	}
	return current.Clamped()
}

func toValues(s settingsdomain.Settings) map[string]string {
	return map[string]string{
		settingsdomain.KeyMaxUploadSizeMB:          strconv.Itoa(s.MaxUploadSizeMB),
		settingsdomain.KeyLicenseExpiryDays:        strconv.Itoa(s.LicenseExpiryDays),
		settingsdomain.KeyMaxActivations:           strconv.Itoa(s.MaxActivations),
		settingsdomain.KeyEnableAutoUpdates:        strconv.FormatBool(s.EnableAutoUpdates),
		settingsdomain.KeyUpdateCheckIntervalHours: strconv.Itoa(s.UpdateCheckIntervalHours),
	}
}

func parseInt(values map[string]string, key string) (int, bool) {
	raw, ok := values[key]
	if !ok {
		return 0, false
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, false
	}
	return v, true
}

func parseBool(values map[string]string, key string) (bool, bool) {
	raw, ok := values[key]
	if !ok {
		return false, false
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, false
	}
	return v, true
}
