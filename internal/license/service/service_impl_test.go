package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/keygate/internal/clock"
	licensedomain "github.com/smallbiznis/keygate/internal/license/domain"
	"github.com/smallbiznis/keygate/internal/license/repository"
	settingsdomain "github.com/smallbiznis/keygate/internal/settings/domain"
	"github.com/smallbiznis/keygate/pkg/db"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type settingsStub struct {
	policy settingsdomain.IssuancePolicy
}

func (s *settingsStub) Get(context.Context) (settingsdomain.Settings, error) {
	return settingsdomain.Defaults(), nil
}

func (s *settingsStub) Update(context.Context, settingsdomain.UpdateRequest) (settingsdomain.Settings, error) {
	return settingsdomain.Defaults(), nil
}

func (s *settingsStub) IssuancePolicy(context.Context) (settingsdomain.IssuancePolicy, error) {
	return s.policy, nil
}

type notifierStub struct {
	mu        sync.Mutex
	created   int
	activated []string
}

func (n *notifierStub) LicenseCreated(context.Context, *licensedomain.License) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.created++
}

func (n *notifierStub) LicenseActivated(_ context.Context, _ *licensedomain.License, siteURL string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.activated = append(n.activated, siteURL)
}

func (n *notifierStub) activatedSites() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.activated...)
}

type testEnv struct {
	svc      licensedomain.Service
	db       *gorm.DB
	clock    *clock.FakeClock
	notifier *notifierStub
	node     *snowflake.Node
}

func newTestEnv(t *testing.T, policy settingsdomain.IssuancePolicy) *testEnv {
	t.Helper()

	conn, err := db.NewTest()
	require.NoError(t, err)
	require.NoError(t, conn.AutoMigrate(&licensedomain.License{}, &licensedomain.Activation{}))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	clk := clock.NewFakeClock(time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC))
	notifier := &notifierStub{}

	svc := New(Params{
		DB:       conn,
		Log:      zap.NewNop(),
		GenID:    node,
		Clock:    clk,
		Repo:     repository.Provide(),
		Settings: &settingsStub{policy: policy},
		Notifier: notifier,
	})

	return &testEnv{svc: svc, db: conn, clock: clk, notifier: notifier, node: node}
}

func (e *testEnv) seedLicense(t *testing.T, key string, productID int64, status licensedomain.Status, limit int, expiresAt *time.Time) *licensedomain.License {
	t.Helper()

	now := e.clock.Now()
	license := &licensedomain.License{
		ID:              e.node.Generate(),
		LicenseKey:      key,
		ProductID:       snowflake.ID(productID),
		CustomerEmail:   "customer@example.com",
		Status:          status,
		ActivationLimit: limit,
		ExpiresAt:       expiresAt,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	require.NoError(t, e.db.Create(license).Error)
	return license
}

func (e *testEnv) countActivations(t *testing.T, licenseID snowflake.ID) int64 {
	t.Helper()

	var count int64
	require.NoError(t, e.db.Model(&licensedomain.Activation{}).Where("license_id = ?", licenseID).Count(&count).Error)
	return count
}

func validateReq(key, site string, productID int64) licensedomain.ValidateRequest {
	return licensedomain.ValidateRequest{
		LicenseKey: key,
		SiteURL:    site,
		ProductID:  productID,
		IPAddress:  "203.0.113.10",
		UserAgent:  "keygate-test/1.0",
	}
}

func TestValidateRejectsMissingParameters(t *testing.T) {
	env := newTestEnv(t, settingsdomain.IssuancePolicy{ExpiryDays: 365, DefaultActivationLimit: 5})
	ctx := context.Background()

	_, err := env.svc.Validate(ctx, validateReq("", "https://shop.example.com", 7))
	require.ErrorIs(t, err, licensedomain.ErrMissingParameters)

	_, err = env.svc.Validate(ctx, validateReq("ABCD1234", "", 7))
	require.ErrorIs(t, err, licensedomain.ErrMissingParameters)

	_, err = env.svc.Validate(ctx, validateReq("ABCD1234", "https://shop.example.com", 0))
	require.ErrorIs(t, err, licensedomain.ErrMissingParameters)

	// A key of pure punctuation normalizes to empty.
	_, err = env.svc.Validate(ctx, validateReq("----", "https://shop.example.com", 7))
	require.ErrorIs(t, err, licensedomain.ErrMissingParameters)
}

func TestValidateRejectsMalformedSiteURL(t *testing.T) {
	env := newTestEnv(t, settingsdomain.IssuancePolicy{ExpiryDays: 365, DefaultActivationLimit: 5})

	_, err := env.svc.Validate(context.Background(), validateReq("ABCD1234", "not a url", 7))
	require.ErrorIs(t, err, licensedomain.ErrInvalidSiteURL)

	_, err = env.svc.Validate(context.Background(), validateReq("ABCD1234", "/relative/path", 7))
	require.ErrorIs(t, err, licensedomain.ErrInvalidSiteURL)
}

func TestValidateUnknownKey(t *testing.T) {
	env := newTestEnv(t, settingsdomain.IssuancePolicy{ExpiryDays: 365, DefaultActivationLimit: 5})

	_, err := env.svc.Validate(context.Background(), validateReq("NOPE9999", "https://shop.example.com", 7))
	require.ErrorIs(t, err, licensedomain.ErrLicenseNotFound)
}

func TestValidateNormalizesKeyBeforeLookup(t *testing.T) {
	env := newTestEnv(t, settingsdomain.IssuancePolicy{ExpiryDays: 365, DefaultActivationLimit: 5})
	license := env.seedLicense(t, "ABCD1234", 7, licensedomain.StatusActive, 2, nil)

	resp, err := env.svc.Validate(context.Background(), validateReq("abcd-1234", "https://shop.example.com", 7))
	require.NoError(t, err)
	require.True(t, resp.Valid)
	require.Equal(t, int64(1), env.countActivations(t, license.ID))
}

func TestValidateProductMismatch(t *testing.T) {
	env := newTestEnv(t, settingsdomain.IssuancePolicy{ExpiryDays: 365, DefaultActivationLimit: 5})
	license := env.seedLicense(t, "ABCD1234", 7, licensedomain.StatusActive, 2, nil)

	_, err := env.svc.Validate(context.Background(), validateReq("ABCD1234", "https://shop.example.com", 8))
	require.ErrorIs(t, err, licensedomain.ErrProductMismatch)
	require.Equal(t, int64(0), env.countActivations(t, license.ID))
}

func TestValidateUnusableLicenseNeverActivates(t *testing.T) {
	env := newTestEnv(t, settingsdomain.IssuancePolicy{ExpiryDays: 365, DefaultActivationLimit: 5})
	ctx := context.Background()

	for _, status := range []licensedomain.Status{
		licensedomain.StatusInactive,
		licensedomain.StatusExpired,
		licensedomain.StatusBlocked,
	} {
		license := env.seedLicense(t, "KEY"+strings.ToUpper(string(status)), 7, status, 2, nil)
		_, err := env.svc.Validate(ctx, validateReq(license.LicenseKey, "https://shop.example.com", 7))
		require.ErrorIs(t, err, licensedomain.ErrLicenseInactiveOrExpired, "status %s", status)
		require.Equal(t, int64(0), env.countActivations(t, license.ID))
	}

	// Active status but past expiry is just as unusable.
	expired := env.clock.Now().Add(-time.Hour)
	license := env.seedLicense(t, "EXPIREDKEY", 7, licensedomain.StatusActive, 2, &expired)
	_, err := env.svc.Validate(ctx, validateReq("EXPIREDKEY", "https://shop.example.com", 7))
	require.ErrorIs(t, err, licensedomain.ErrLicenseInactiveOrExpired)
	require.Equal(t, int64(0), env.countActivations(t, license.ID))
}

func TestValidateRevalidationIsIdempotent(t *testing.T) {
	env := newTestEnv(t, settingsdomain.IssuancePolicy{ExpiryDays: 365, DefaultActivationLimit: 5})
	license := env.seedLicense(t, "ABCD1234", 7, licensedomain.StatusActive, 2, nil)
	ctx := context.Background()

	resp, err := env.svc.Validate(ctx, validateReq("ABCD1234", "https://shop.example.com", 7))
	require.NoError(t, err)
	require.True(t, resp.Valid)

	env.clock.Advance(10 * time.Minute)

	resp, err = env.svc.Validate(ctx, validateReq("ABCD1234", "https://shop.example.com", 7))
	require.NoError(t, err)
	require.True(t, resp.Valid)
	require.Equal(t, int64(1), env.countActivations(t, license.ID))

	var activation licensedomain.Activation
	require.NoError(t, env.db.Where("license_id = ?", license.ID).First(&activation).Error)
	require.Equal(t, env.clock.Now(), activation.LastCheckAt.UTC())
	require.Equal(t, env.clock.Now().Add(-10*time.Minute), activation.ActivatedAt.UTC())

	// Only the first call was an activation.
	require.Equal(t, []string{"https://shop.example.com"}, env.notifier.activatedSites())
}

func TestValidateQuotaBoundary(t *testing.T) {
	env := newTestEnv(t, settingsdomain.IssuancePolicy{ExpiryDays: 365, DefaultActivationLimit: 5})
	license := env.seedLicense(t, "ABCD1234", 7, licensedomain.StatusActive, 2, nil)
	ctx := context.Background()

	_, err := env.svc.Validate(ctx, validateReq("ABCD1234", "https://site-a.example.com", 7))
	require.NoError(t, err)
	_, err = env.svc.Validate(ctx, validateReq("ABCD1234", "https://site-b.example.com", 7))
	require.NoError(t, err)

	// Third distinct site is over quota.
	_, err = env.svc.Validate(ctx, validateReq("ABCD1234", "https://site-c.example.com", 7))
	require.ErrorIs(t, err, licensedomain.ErrActivationLimitReached)
	require.Equal(t, int64(2), env.countActivations(t, license.ID))

	// A bound site keeps validating even while the license is at its limit.
	resp, err := env.svc.Validate(ctx, validateReq("ABCD1234", "https://site-a.example.com", 7))
	require.NoError(t, err)
	require.True(t, resp.Valid)
	require.Equal(t, int64(2), env.countActivations(t, license.ID))
}

func TestDeactivateFreesQuota(t *testing.T) {
	env := newTestEnv(t, settingsdomain.IssuancePolicy{ExpiryDays: 365, DefaultActivationLimit: 5})
	license := env.seedLicense(t, "ABCD1234", 7, licensedomain.StatusActive, 1, nil)
	ctx := context.Background()

	_, err := env.svc.Validate(ctx, validateReq("ABCD1234", "https://site-a.example.com", 7))
	require.NoError(t, err)
	_, err = env.svc.Validate(ctx, validateReq("ABCD1234", "https://site-b.example.com", 7))
	require.ErrorIs(t, err, licensedomain.ErrActivationLimitReached)

	resp, err := env.svc.Deactivate(ctx, licensedomain.DeactivateRequest{
		LicenseKey: "abcd 1234",
		SiteURL:    "https://site-a.example.com",
	})
	require.NoError(t, err)
	require.True(t, resp.Success)
	require.Equal(t, int64(0), env.countActivations(t, license.ID))

	// The freed slot is immediately reusable.
	_, err = env.svc.Validate(ctx, validateReq("ABCD1234", "https://site-b.example.com", 7))
	require.NoError(t, err)
	require.Equal(t, int64(1), env.countActivations(t, license.ID))
}

func TestDeactivateFailsClosed(t *testing.T) {
	env := newTestEnv(t, settingsdomain.IssuancePolicy{ExpiryDays: 365, DefaultActivationLimit: 5})
	env.seedLicense(t, "ABCD1234", 7, licensedomain.StatusActive, 2, nil)
	ctx := context.Background()

	_, err := env.svc.Deactivate(ctx, licensedomain.DeactivateRequest{LicenseKey: "", SiteURL: "https://x.example.com"})
	require.ErrorIs(t, err, licensedomain.ErrMissingParameters)

	_, err = env.svc.Deactivate(ctx, licensedomain.DeactivateRequest{LicenseKey: "UNKNOWN1", SiteURL: "https://x.example.com"})
	require.ErrorIs(t, err, licensedomain.ErrLicenseNotFound)

	_, err = env.svc.Deactivate(ctx, licensedomain.DeactivateRequest{LicenseKey: "ABCD1234", SiteURL: "https://never-activated.example.com"})
	require.ErrorIs(t, err, licensedomain.ErrActivationNotFound)
}

func TestValidateConcurrentSameSiteSingleActivation(t *testing.T) {
	env := newTestEnv(t, settingsdomain.IssuancePolicy{ExpiryDays: 365, DefaultActivationLimit: 5})
	license := env.seedLicense(t, "ABCD1234", 7, licensedomain.StatusActive, 3, nil)
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make(chan error, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := env.svc.Validate(ctx, validateReq("ABCD1234", "https://shop.example.com", 7))
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		require.NoError(t, err)
	}
	require.Equal(t, int64(1), env.countActivations(t, license.ID))
}

func TestCreateAppliesIssuancePolicy(t *testing.T) {
	env := newTestEnv(t, settingsdomain.IssuancePolicy{ExpiryDays: 365, DefaultActivationLimit: 5})
	ctx := context.Background()

	resp, err := env.svc.Create(ctx, licensedomain.CreateRequest{
		ProductID:     7,
		CustomerEmail: "alice@example.com",
	})
	require.NoError(t, err)
	require.Len(t, resp.LicenseKey, 32)
	require.Equal(t, resp.LicenseKey, licensedomain.NormalizeKey(resp.LicenseKey))
	require.Equal(t, licensedomain.StatusActive, resp.Status)
	require.Equal(t, 5, resp.ActivationLimit)
	require.NotNil(t, resp.ExpiresAt)
	require.Equal(t, env.clock.Now().AddDate(0, 0, 365), resp.ExpiresAt.UTC())
	require.Equal(t, 1, env.notifier.created)
}

func TestCreateZeroExpiryDaysMeansNeverExpires(t *testing.T) {
	env := newTestEnv(t, settingsdomain.IssuancePolicy{ExpiryDays: 0, DefaultActivationLimit: 5})

	resp, err := env.svc.Create(context.Background(), licensedomain.CreateRequest{
		ProductID:     7,
		CustomerEmail: "alice@example.com",
	})
	require.NoError(t, err)
	require.Nil(t, resp.ExpiresAt)
}

func TestCreateExplicitExpiryWins(t *testing.T) {
	env := newTestEnv(t, settingsdomain.IssuancePolicy{ExpiryDays: 365, DefaultActivationLimit: 5})

	explicit := env.clock.Now().AddDate(0, 1, 0)
	resp, err := env.svc.Create(context.Background(), licensedomain.CreateRequest{
		ProductID:     7,
		CustomerEmail: "alice@example.com",
		ExpiresAt:     &explicit,
	})
	require.NoError(t, err)
	require.NotNil(t, resp.ExpiresAt)
	require.Equal(t, explicit, resp.ExpiresAt.UTC())
}

func TestCreateValidatesInput(t *testing.T) {
	env := newTestEnv(t, settingsdomain.IssuancePolicy{ExpiryDays: 365, DefaultActivationLimit: 5})
	ctx := context.Background()

	_, err := env.svc.Create(ctx, licensedomain.CreateRequest{ProductID: 0, CustomerEmail: "alice@example.com"})
	require.ErrorIs(t, err, licensedomain.ErrMissingParameters)

	_, err = env.svc.Create(ctx, licensedomain.CreateRequest{ProductID: 7, CustomerEmail: "not-an-email"})
	require.ErrorIs(t, err, licensedomain.ErrInvalidEmail)

	_, err = env.svc.Create(ctx, licensedomain.CreateRequest{ProductID: 7, CustomerEmail: "alice@example.com", Status: "frozen"})
	require.ErrorIs(t, err, licensedomain.ErrInvalidStatus)
}

func TestCreateCoercesNonPositiveLimit(t *testing.T) {
	env := newTestEnv(t, settingsdomain.IssuancePolicy{ExpiryDays: 365, DefaultActivationLimit: 0})

	resp, err := env.svc.Create(context.Background(), licensedomain.CreateRequest{
		ProductID:       7,
		CustomerEmail:   "alice@example.com",
		ActivationLimit: -3,
	})
	require.NoError(t, err)
	require.Equal(t, 1, resp.ActivationLimit)
}

func TestAdminLifecycle(t *testing.T) {
	env := newTestEnv(t, settingsdomain.IssuancePolicy{ExpiryDays: 365, DefaultActivationLimit: 5})
	ctx := context.Background()

	created, err := env.svc.Create(ctx, licensedomain.CreateRequest{
		ProductID:     7,
		CustomerEmail: "alice@example.com",
	})
	require.NoError(t, err)

	got, err := env.svc.Get(ctx, created.ID)
	require.NoError(t, err)
	require.Equal(t, created.LicenseKey, got.LicenseKey)

	newStatus := licensedomain.StatusBlocked
	updated, err := env.svc.UpdateLicense(ctx, created.ID, licensedomain.UpdateRequest{Status: &newStatus})
	require.NoError(t, err)
	require.Equal(t, licensedomain.StatusBlocked, updated.Status)

	// A blocked license stops validating.
	_, err = env.svc.Validate(ctx, validateReq(created.LicenseKey, "https://shop.example.com", 7))
	require.ErrorIs(t, err, licensedomain.ErrLicenseInactiveOrExpired)

	list, err := env.svc.List(ctx, licensedomain.ListRequest{Status: "blocked"})
	require.NoError(t, err)
	require.Equal(t, int64(1), list.Total)

	require.NoError(t, env.svc.Delete(ctx, created.ID))
	_, err = env.svc.Get(ctx, created.ID)
	require.ErrorIs(t, err, licensedomain.ErrLicenseNotFound)
}

func TestDeleteCascadesActivations(t *testing.T) {
	env := newTestEnv(t, settingsdomain.IssuancePolicy{ExpiryDays: 365, DefaultActivationLimit: 5})
	license := env.seedLicense(t, "ABCD1234", 7, licensedomain.StatusActive, 2, nil)
	ctx := context.Background()

	_, err := env.svc.Validate(ctx, validateReq("ABCD1234", "https://shop.example.com", 7))
	require.NoError(t, err)

	require.NoError(t, env.svc.Delete(ctx, license.ID.String()))
	require.Equal(t, int64(0), env.countActivations(t, license.ID))
}

func TestGetInvalidID(t *testing.T) {
	env := newTestEnv(t, settingsdomain.IssuancePolicy{ExpiryDays: 365, DefaultActivationLimit: 5})

	_, err := env.svc.Get(context.Background(), "not-a-number")
	require.True(t, errors.Is(err, licensedomain.ErrInvalidID))
}

type lockerStub struct {
	mu      sync.Mutex
	held    map[string]string
	tries   int
	denials int
}

func (l *lockerStub) TryLock(_ context.Context, key string, _ time.Duration) (string, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.tries++
	if l.held == nil {
		l.held = make(map[string]string)
	}
	if _, taken := l.held[key]; taken {
		l.denials++
		return "", false, nil
	}
	token := fmt.Sprintf("tok-%d", l.tries)
	l.held[key] = token
	return token, true, nil
}

func (l *lockerStub) Release(_ context.Context, key, token string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held[key] == token {
		delete(l.held, key)
	}
	return nil
}

func (l *lockerStub) heldCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.held)
}

type failingLocker struct{}

func (failingLocker) TryLock(context.Context, string, time.Duration) (string, bool, error) {
	return "", false, errors.New("redis: connection refused")
}

func (failingLocker) Release(context.Context, string, string) error { return nil }

func TestValidateLockedQuotaHoldsUnderConcurrency(t *testing.T) {
	env := newTestEnv(t, settingsdomain.IssuancePolicy{ExpiryDays: 365, DefaultActivationLimit: 5})
	lk := &lockerStub{}
	env.svc.(*service).locker = lk
	license := env.seedLicense(t, "LOCKQUOTA", 7, licensedomain.StatusActive, 3, nil)

	var wg sync.WaitGroup
	var mu sync.Mutex
	limitHits := 0
	for i := 0; i < 10; i++ {
		site := fmt.Sprintf("https://site-%d.example.com", i)
		wg.Add(1)
		go func(site string) {
			defer wg.Done()
			_, err := env.svc.Validate(context.Background(), validateReq("LOCKQUOTA", site, 7))
			if errors.Is(err, licensedomain.ErrActivationLimitReached) {
				mu.Lock()
				limitHits++
				mu.Unlock()
			} else if err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		}(site)
	}
	wg.Wait()

	require.Equal(t, int64(3), env.countActivations(t, license.ID))
	require.Equal(t, 7, limitHits)
	require.Equal(t, 0, lk.heldCount())
}

func TestValidateWaitsForContendedActivationLock(t *testing.T) {
	env := newTestEnv(t, settingsdomain.IssuancePolicy{ExpiryDays: 365, DefaultActivationLimit: 5})
	lk := &lockerStub{}
	env.svc.(*service).locker = lk
	license := env.seedLicense(t, "LOCKWAIT", 7, licensedomain.StatusActive, 1, nil)

	lockKey := fmt.Sprintf("lock:activation:%d", license.ID)
	token, ok, err := lk.TryLock(context.Background(), lockKey, activationLockTTL)
	require.NoError(t, err)
	require.True(t, ok)
	go func() {
		time.Sleep(80 * time.Millisecond)
		_ = lk.Release(context.Background(), lockKey, token)
	}()

	resp, err := env.svc.Validate(context.Background(), validateReq("LOCKWAIT", "https://example.com", 7))
	require.NoError(t, err)
	require.True(t, resp.Valid)
	require.Greater(t, lk.denials, 0)
	require.Equal(t, int64(1), env.countActivations(t, license.ID))
}

func TestValidateProceedsWhenLockInfrastructureFails(t *testing.T) {
	env := newTestEnv(t, settingsdomain.IssuancePolicy{ExpiryDays: 365, DefaultActivationLimit: 5})
	env.svc.(*service).locker = failingLocker{}
	license := env.seedLicense(t, "LOCKDOWN", 7, licensedomain.StatusActive, 1, nil)

	resp, err := env.svc.Validate(context.Background(), validateReq("LOCKDOWN", "https://example.com", 7))
	require.NoError(t, err)
	require.True(t, resp.Valid)
	require.Equal(t, int64(1), env.countActivations(t, license.ID))
}
