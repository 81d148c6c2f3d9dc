package service

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"net/url"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/keygate/internal/clock"
	licensedomain "github.com/smallbiznis/keygate/internal/license/domain"
	"github.com/smallbiznis/keygate/internal/observability/logger"
	"github.com/smallbiznis/keygate/internal/observability/metrics"
	"github.com/smallbiznis/keygate/internal/ratelimit"
	settingsdomain "github.com/smallbiznis/keygate/internal/settings/domain"
	"github.com/smallbiznis/keygate/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	activationLockTTL   = 5 * time.Second
	activationLockRetry = 25 * time.Millisecond
)

// ActivationLocker serializes the activation quota check per license.
// *ratelimit.Locker satisfies it in production.
type ActivationLocker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (string, bool, error)
	Release(ctx context.Context, key, token string) error
}

type Params struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	GenID    *snowflake.Node
	Clock    clock.Clock
	Repo     licensedomain.Repository
	Settings settingsdomain.Service
	Notifier licensedomain.Notifier
	Metrics  *metrics.Metrics
	Locker   *ratelimit.Locker `optional:"true"`
}

type service struct {
	db       *gorm.DB
	log      *zap.Logger
	genID    *snowflake.Node
	clock    clock.Clock
	repo     licensedomain.Repository
	settings settingsdomain.Service
	notifier licensedomain.Notifier
	metrics  *metrics.Metrics
	locker   ActivationLocker
}

func New(p Params) licensedomain.Service {
	svc := &service{
		db:       p.DB,
		log:      p.Log,
		genID:    p.GenID,
		clock:    p.Clock,
		repo:     p.Repo,
		settings: p.Settings,
		notifier: p.Notifier,
		metrics:  p.Metrics,
	}
	if p.Locker != nil {
		svc.locker = p.Locker
	}
	return svc
}

// Validate runs the activation decision sequence. Every failure is
// terminal for its step; nothing falls through to a later check.
func (s *service) Validate(ctx context.Context, req licensedomain.ValidateRequest) (*licensedomain.ValidateResponse, error) {
	resp, err := s.validate(ctx, req)
	s.metrics.RecordValidation(ctx, validationOutcome(err))
	return resp, err
}

func (s *service) validate(ctx context.Context, req licensedomain.ValidateRequest) (*licensedomain.ValidateResponse, error) {
	key := licensedomain.NormalizeKey(req.LicenseKey)
	if key == "" || req.SiteURL == "" || req.ProductID <= 0 {
		return nil, licensedomain.ErrMissingParameters
	}
	if !isAbsoluteURL(req.SiteURL) {
		return nil, licensedomain.ErrInvalidSiteURL
	}

	license, err := s.repo.FindByKey(ctx, s.db, key)
	if err != nil {
		return nil, s.storeErr(ctx, "find license", err)
	}
	if license == nil {
		return nil, licensedomain.ErrLicenseNotFound
	}
	if int64(license.ProductID) != req.ProductID {
		return nil, licensedomain.ErrProductMismatch
	}

	now := s.clock.Now()
	if !license.UsableAt(now) {
		return nil, licensedomain.ErrLicenseInactiveOrExpired
	}

	activation, err := s.repo.FindActivation(ctx, s.db, license.ID, req.SiteURL)
	if err != nil {
		return nil, s.storeErr(ctx, "find activation", err)
	}
	if activation != nil {
		if err := s.repo.TouchActivation(ctx, s.db, activation.ID, now); err != nil {
			return nil, s.storeErr(ctx, "touch activation", err)
		}
		return &licensedomain.ValidateResponse{
			Valid:     true,
			Message:   "license is valid",
			ExpiresAt: license.ExpiresAt,
			Status:    license.Status,
		}, nil
	}

	if err := s.activate(ctx, license, req, now); err != nil {
		return nil, err
	}
	return &licensedomain.ValidateResponse{
		Valid:     true,
		Message:   "license activated",
		ExpiresAt: license.ExpiresAt,
		Status:    license.Status,
	}, nil
}

// activate performs the count-then-insert under a per-license lock when
// one is configured, which makes the quota hard: a contended acquisition
// waits out the holder rather than counting concurrently. Without the
// lock the quota is soft: two sites racing the count can both land, and
// the limit is enforced eventually rather than atomically.
func (s *service) activate(ctx context.Context, license *licensedomain.License, req licensedomain.ValidateRequest, now time.Time) error {
	if s.locker != nil {
		lockKey := fmt.Sprintf("lock:activation:%d", license.ID)
		if token, ok := s.acquireActivationLock(ctx, lockKey); ok {
			defer func() {
				if err := s.locker.Release(ctx, lockKey, token); err != nil {
					logger.FromContext(ctx).Warn("activation lock release", zap.Error(err))
				}
			}()
		}
	}

	count, err := s.repo.CountActiveActivations(ctx, s.db, license.ID)
	if err != nil {
		return s.storeErr(ctx, "count activations", err)
	}
	if count >= int64(license.ActivationLimit) {
		return licensedomain.ErrActivationLimitReached
	}

	activation := &licensedomain.Activation{
		ID:          s.genID.Generate(),
		LicenseID:   license.ID,
		SiteURL:     req.SiteURL,
		IPAddress:   req.IPAddress,
		UserAgent:   req.UserAgent,
		Status:      licensedomain.ActivationActive,
		ActivatedAt: now,
		LastCheckAt: now,
	}
	if err := s.repo.InsertActivation(ctx, s.db, activation); err != nil {
		// A concurrent validate from the same site won the insert. That
		// request already holds the binding, so this one degrades to the
		// refresh path.
		if db.IsDuplicateKeyErr(err) {
			existing, findErr := s.repo.FindActivation(ctx, s.db, license.ID, req.SiteURL)
			if findErr == nil && existing != nil {
				return s.touchQuiet(ctx, existing.ID, now)
			}
		}
		return s.storeErr(ctx, "insert activation", err)
	}

	s.metrics.RecordActivationCreated(ctx)
	s.notifier.LicenseActivated(ctx, license, req.SiteURL)
	return nil
}

// acquireActivationLock retries a contended lock until the holder's TTL
// would have elapsed; by then an unreleased lock has expired and the next
// attempt wins. Lock infrastructure failures log and fall back to the
// unlocked soft quota so a redis outage never blocks validation.
func (s *service) acquireActivationLock(ctx context.Context, key string) (string, bool) {
	deadline := time.Now().Add(activationLockTTL)
	for {
		token, ok, err := s.locker.TryLock(ctx, key, activationLockTTL)
		if err != nil {
			logger.FromContext(ctx).Warn("activation lock unavailable", zap.Error(err))
			return "", false
		}
		if ok {
			return token, true
		}
		if time.Now().After(deadline) {
			logger.FromContext(ctx).Warn("activation lock held past its ttl", zap.String("key", key))
			return "", false
		}
		select {
		case <-ctx.Done():
			return "", false
		case <-time.After(activationLockRetry):
		}
	}
}

func (s *service) touchQuiet(ctx context.Context, id snowflake.ID, now time.Time) error {
	if err := s.repo.TouchActivation(ctx, s.db, id, now); err != nil {
		return s.storeErr(ctx, "touch activation", err)
	}
	return nil
}

func (s *service) Deactivate(ctx context.Context, req licensedomain.DeactivateRequest) (*licensedomain.DeactivateResponse, error) {
	key := licensedomain.NormalizeKey(req.LicenseKey)
	if key == "" || req.SiteURL == "" {
		return nil, licensedomain.ErrMissingParameters
	}

	license, err := s.repo.FindByKey(ctx, s.db, key)
	if err != nil {
		return nil, s.storeErr(ctx, "find license", err)
	}
	if license == nil {
		return nil, licensedomain.ErrLicenseNotFound
	}

	activation, err := s.repo.FindActivation(ctx, s.db, license.ID, req.SiteURL)
	if err != nil {
		return nil, s.storeErr(ctx, "find activation", err)
	}
	if activation == nil {
		return nil, licensedomain.ErrActivationNotFound
	}

	if err := s.repo.DeleteActivation(ctx, s.db, activation.ID); err != nil {
		return nil, s.storeErr(ctx, "delete activation", err)
	}
	s.metrics.RecordActivationRemoved(ctx)

	return &licensedomain.DeactivateResponse{
		Success: true,
		Message: "license deactivated",
	}, nil
}

func (s *service) Create(ctx context.Context, req licensedomain.CreateRequest) (*licensedomain.Response, error) {
	if req.ProductID <= 0 {
		return nil, licensedomain.ErrMissingParameters
	}
	if _, err := mail.ParseAddress(req.CustomerEmail); err != nil {
		return nil, licensedomain.ErrInvalidEmail
	}

	status := req.Status
	if status == "" {
		status = licensedomain.StatusActive
	}
	if !licensedomain.ValidStatus(status) {
		return nil, licensedomain.ErrInvalidStatus
	}

	policy, err := s.settings.IssuancePolicy(ctx)
	if err != nil {
		return nil, err
	}

	limit := req.ActivationLimit
	if limit <= 0 {
		limit = policy.DefaultActivationLimit
	}
	if limit <= 0 {
		limit = 1
	}

	now := s.clock.Now()
	expiresAt := req.ExpiresAt
	if expiresAt == nil || expiresAt.IsZero() {
		expiresAt = nil
		if policy.ExpiryDays > 0 {
			t := now.AddDate(0, 0, policy.ExpiryDays)
			expiresAt = &t
		}
	}

	key, err := licensedomain.GenerateKey()
	if err != nil {
		return nil, s.storeErr(ctx, "generate key", err)
	}

	license := &licensedomain.License{
		ID:              s.genID.Generate(),
		LicenseKey:      key,
		ProductID:       snowflake.ID(req.ProductID),
		CustomerEmail:   req.CustomerEmail,
		CustomerName:    req.CustomerName,
		Status:          status,
		ActivationLimit: limit,
		ExpiresAt:       expiresAt,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := s.repo.Insert(ctx, s.db, license); err != nil {
		return nil, s.storeErr(ctx, "insert license", err)
	}

	s.notifier.LicenseCreated(ctx, license)
	return s.toResponse(ctx, license)
}

func (s *service) Get(ctx context.Context, id string) (*licensedomain.Response, error) {
	license, err := s.findByStringID(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.toResponse(ctx, license)
}

func (s *service) List(ctx context.Context, req licensedomain.ListRequest) (*licensedomain.ListResponse, error) {
	page := req.Page
	if page <= 0 {
		page = 1
	}
	perPage := req.PerPage
	if perPage <= 0 {
		perPage = 20
	}
	if perPage > 100 {
		perPage = 100
	}

	filter := licensedomain.ListFilter{
		Search: req.Search,
		Limit:  perPage,
		Offset: (page - 1) * perPage,
	}
	if req.Status != "" {
		status := licensedomain.Status(req.Status)
		if !licensedomain.ValidStatus(status) {
			return nil, licensedomain.ErrInvalidStatus
		}
		filter.Status = status
	}
	if req.ProductID != "" {
		productID, err := snowflake.ParseString(req.ProductID)
		if err != nil {
			return nil, licensedomain.ErrInvalidID
		}
		filter.ProductID = productID
	}

	licenses, total, err := s.repo.List(ctx, s.db, filter)
	if err != nil {
		return nil, s.storeErr(ctx, "list licenses", err)
	}

	out := make([]licensedomain.Response, 0, len(licenses))
	for i := range licenses {
		resp, err := s.toResponse(ctx, &licenses[i])
		if err != nil {
			return nil, err
		}
		out = append(out, *resp)
	}
	return &licensedomain.ListResponse{
		Licenses: out,
		Total:    total,
		Page:     page,
		PerPage:  perPage,
	}, nil
}

func (s *service) UpdateLicense(ctx context.Context, id string, req licensedomain.UpdateRequest) (*licensedomain.Response, error) {
	license, err := s.findByStringID(ctx, id)
	if err != nil {
		return nil, err
	}

	if req.CustomerEmail != nil {
		if _, err := mail.ParseAddress(*req.CustomerEmail); err != nil {
			return nil, licensedomain.ErrInvalidEmail
		}
		license.CustomerEmail = *req.CustomerEmail
	}
	if req.CustomerName != nil {
		license.CustomerName = req.CustomerName
	}
	if req.Status != nil {
		if !licensedomain.ValidStatus(*req.Status) {
			return nil, licensedomain.ErrInvalidStatus
		}
		license.Status = *req.Status
	}
	if req.ActivationLimit != nil {
		limit := *req.ActivationLimit
		if limit <= 0 {
			limit = 1
		}
		license.ActivationLimit = limit
	}
	if req.ClearExpiry {
		license.ExpiresAt = nil
	} else if req.ExpiresAt != nil {
		license.ExpiresAt = req.ExpiresAt
	}
	license.UpdatedAt = s.clock.Now()

	if err := s.repo.Update(ctx, s.db, license); err != nil {
		return nil, s.storeErr(ctx, "update license", err)
	}
	return s.toResponse(ctx, license)
}

func (s *service) Delete(ctx context.Context, id string) error {
	license, err := s.findByStringID(ctx, id)
	if err != nil {
		return err
	}
	if err := s.repo.Delete(ctx, s.db, license.ID); err != nil {
		return s.storeErr(ctx, "delete license", err)
	}
	return nil
}

func (s *service) ListActivations(ctx context.Context, licenseID string) ([]licensedomain.ActivationResponse, error) {
	license, err := s.findByStringID(ctx, licenseID)
	if err != nil {
		return nil, err
	}
	activations, err := s.repo.ListActivations(ctx, s.db, license.ID)
	if err != nil {
		return nil, s.storeErr(ctx, "list activations", err)
	}

	out := make([]licensedomain.ActivationResponse, 0, len(activations))
	for _, a := range activations {
		out = append(out, licensedomain.ActivationResponse{
			ID:          a.ID.String(),
			LicenseID:   a.LicenseID.String(),
			SiteURL:     a.SiteURL,
			SiteName:    a.SiteName,
			IPAddress:   a.IPAddress,
			UserAgent:   a.UserAgent,
			Status:      string(a.Status),
			ActivatedAt: a.ActivatedAt,
			LastCheckAt: a.LastCheckAt,
		})
	}
	return out, nil
}

func (s *service) findByStringID(ctx context.Context, id string) (*licensedomain.License, error) {
	parsed, err := snowflake.ParseString(id)
	if err != nil {
		return nil, licensedomain.ErrInvalidID
	}
	license, err := s.repo.FindByID(ctx, s.db, parsed)
	if err != nil {
		return nil, s.storeErr(ctx, "find license", err)
	}
	if license == nil {
		return nil, licensedomain.ErrLicenseNotFound
	}
	return license, nil
}

func (s *service) toResponse(ctx context.Context, license *licensedomain.License) (*licensedomain.Response, error) {
	count, err := s.repo.CountActiveActivations(ctx, s.db, license.ID)
	if err != nil {
		return nil, s.storeErr(ctx, "count activations", err)
	}
	return &licensedomain.Response{
		ID:              license.ID.String(),
		LicenseKey:      license.LicenseKey,
		ProductID:       license.ProductID.String(),
		CustomerEmail:   license.CustomerEmail,
		CustomerName:    license.CustomerName,
		Status:          license.Status,
		ActivationLimit: license.ActivationLimit,
		Activations:     count,
		ExpiresAt:       license.ExpiresAt,
		CreatedAt:       license.CreatedAt,
		UpdatedAt:       license.UpdatedAt,
	}, nil
}

func (s *service) storeErr(ctx context.Context, op string, err error) error {
	logger.FromContext(ctx).Error(op, zap.Error(err))
	return fmt.Errorf("%s: %w", op, err)
}

func isAbsoluteURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return u.IsAbs() && u.Host != ""
}

func validationOutcome(err error) string {
	switch {
	case err == nil:
		return "valid"
	case errors.Is(err, licensedomain.ErrMissingParameters):
		return "missing_parameters"
	case errors.Is(err, licensedomain.ErrInvalidSiteURL):
		return "invalid_site_url"
	case errors.Is(err, licensedomain.ErrLicenseNotFound):
		return "license_not_found"
	case errors.Is(err, licensedomain.ErrProductMismatch):
		return "product_mismatch"
	case errors.Is(err, licensedomain.ErrLicenseInactiveOrExpired):
		return "license_inactive_or_expired"
	case errors.Is(err, licensedomain.ErrActivationLimitReached):
		return "activation_limit_reached"
	default:
		return "error"
	}
}
