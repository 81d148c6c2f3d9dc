package migration

import (
	auditdomain "github.com/smallbiznis/keygate/internal/audit/domain"
	"github.com/smallbiznis/keygate/internal/config"
	licensedomain "github.com/smallbiznis/keygate/internal/license/domain"
	productdomain "github.com/smallbiznis/keygate/internal/product/domain"
	settingsdomain "github.com/smallbiznis/keygate/internal/settings/domain"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

var Module = fx.Module("migrations",
	fx.Invoke(func(conn *gorm.DB, cfg config.Config) error {
		if cfg.DBType != "postgres" {
			// Versioned migrations are written for postgres. Other
			// dialects are for local development and get the schema
			// straight from the models.
			return conn.AutoMigrate(
				&productdomain.Product{},
				&licensedomain.License{},
				&licensedomain.Activation{},
				&auditdomain.APIRequestLog{},
				&settingsdomain.Setting{},
			)
		}

		sqlDB, err := conn.DB()
		if err != nil {
			return err
		}
		return RunMigrations(sqlDB)
	}),
)
