package email

import (
	"context"
	"time"

	licensedomain "github.com/smallbiznis/keygate/internal/license/domain"
	"go.uber.org/zap"
)

const sendTimeout = 10 * time.Second

// Notifier delivers license lifecycle emails through the configured
// Provider. Sends run detached from the request and failures are only
// logged; a broken mail server must never fail a validation.
type Notifier struct {
	provider Provider
	log      *zap.Logger
}

func NewNotifier(provider Provider, log *zap.Logger) licensedomain.Notifier {
	return &Notifier{
		provider: provider,
		log:      log.Named("email.notifier"),
	}
}

func (n *Notifier) LicenseCreated(ctx context.Context, license *licensedomain.License) {
	data := map[string]any{
		"subject":          "Your license key",
		"license_key":      license.LicenseKey,
		"activation_limit": license.ActivationLimit,
	}
	if license.CustomerName != nil {
		data["customer_name"] = *license.CustomerName
	}
	if license.ExpiresAt != nil {
		data["expires_at"] = license.ExpiresAt.Format("2 January 2006")
	}
	n.send(ctx, license.CustomerEmail, "license_created", data)
}

func (n *Notifier) LicenseActivated(ctx context.Context, license *licensedomain.License, siteURL string) {
	data := map[string]any{
		"subject":    "Your license was activated",
		"key_suffix": keySuffix(license.LicenseKey),
		"site_url":   siteURL,
	}
	if license.CustomerName != nil {
		data["customer_name"] = *license.CustomerName
	}
	n.send(ctx, license.CustomerEmail, "license_activated", data)
}

func (n *Notifier) send(ctx context.Context, to, templateName string, data map[string]any) {
	bg := context.WithoutCancel(ctx)
	go func() {
		sendCtx, cancel := context.WithTimeout(bg, sendTimeout)
		defer cancel()
		if err := n.provider.SendTemplate(sendCtx, []string{to}, templateName, data); err != nil {
			n.log.Warn("email send failed",
				zap.String("template", templateName),
				zap.Error(err))
		}
	}()
}

func keySuffix(key string) string {
	if len(key) <= 4 {
		return key
	}
	return key[len(key)-4:]
}
