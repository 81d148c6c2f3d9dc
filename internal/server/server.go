package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/smallbiznis/keygate/internal/audit"
	auditdomain "github.com/smallbiznis/keygate/internal/audit/domain"
	"github.com/smallbiznis/keygate/internal/clock"
	"github.com/smallbiznis/keygate/internal/config"
	"github.com/smallbiznis/keygate/internal/license"
	licensedomain "github.com/smallbiznis/keygate/internal/license/domain"
	"github.com/smallbiznis/keygate/internal/observability"
	obsmiddleware "github.com/smallbiznis/keygate/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/keygate/internal/observability/metrics"
	obstracing "github.com/smallbiznis/keygate/internal/observability/tracing"
	"github.com/smallbiznis/keygate/internal/product"
	productdomain "github.com/smallbiznis/keygate/internal/product/domain"
	"github.com/smallbiznis/keygate/internal/providers/email"
	"github.com/smallbiznis/keygate/internal/ratelimit"
	"github.com/smallbiznis/keygate/internal/settings"
	settingsdomain "github.com/smallbiznis/keygate/internal/settings/domain"
	"github.com/smallbiznis/keygate/internal/update"
	updatedomain "github.com/smallbiznis/keygate/internal/update/domain"
	"go.uber.org/fx"
)

var Module = fx.Module("http.server",
	config.Module,
	clock.Module,
	fx.Provide(registerGin),
	audit.Module,
	email.Module,
	license.Module,
	product.Module,
	ratelimit.Module,
	settings.Module,
	update.Module,
	fx.Invoke(NewServer),
	fx.Invoke(run),
)

func NewEngine(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obsmiddleware.GinMiddleware(obsmiddleware.MiddlewareConfig{
		Debug:           obsCfg.Debug(),
		ErrorClassifier: classifyErrorForLog,
	}))
	r.Use(obstracing.GinMiddleware())
	r.Use(obsmetrics.GinMiddleware(httpMetrics))
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func registerGin(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	return NewEngine(obsCfg, httpMetrics)
}

func run(lc fx.Lifecycle, r *gin.Engine, cfg config.Config) {
	srv := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: r,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					panic(err)
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}

type Server struct {
	engine      *gin.Engine
	cfg         config.Config
	licenseSvc  licensedomain.Service
	productSvc  productdomain.Service
	updateSvc   updatedomain.Service
	settingsSvc settingsdomain.Service
	auditSvc    auditdomain.Service
	limiter     ratelimit.Limiter
	obsMetrics  *obsmetrics.Metrics
}

type ServerParams struct {
	fx.In

	Gin         *gin.Engine
	Cfg         config.Config
	LicenseSvc  licensedomain.Service
	ProductSvc  productdomain.Service
	UpdateSvc   updatedomain.Service
	SettingsSvc settingsdomain.Service
	AuditSvc    auditdomain.Service
	Limiter     ratelimit.Limiter
	ObsMetrics  *obsmetrics.Metrics `optional:"true"`
}

func NewServer(p ServerParams) *Server {
	svc := &Server{
		engine:      p.Gin,
		cfg:         p.Cfg,
		licenseSvc:  p.LicenseSvc,
		productSvc:  p.ProductSvc,
		updateSvc:   p.UpdateSvc,
		settingsSvc: p.SettingsSvc,
		auditSvc:    p.AuditSvc,
		limiter:     p.Limiter,
		obsMetrics:  p.ObsMetrics,
	}

	svc.registerPublicRoutes()
	svc.registerAdminRoutes()

	return svc
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerPublicRoutes() {
	window := time.Duration(s.cfg.RateLimit.WindowSeconds) * time.Second

	api := s.engine.Group("/api/v1")
	api.Use(s.AuditTrail())

	api.POST("/validate", s.RateLimit("validate", s.cfg.RateLimit.ValidateMax, window), s.ValidateLicense)
	api.POST("/deactivate", s.RateLimit("deactivate", s.cfg.RateLimit.DeactivateMax, window), s.DeactivateLicense)
	api.GET("/update", s.RateLimit("update", s.cfg.RateLimit.UpdateMax, window), s.CheckUpdate)
}

func (s *Server) registerAdminRoutes() {
	admin := s.engine.Group("/admin")
	admin.Use(s.AdminAuthRequired())

	admin.GET("/licenses", s.ListLicenses)
	admin.POST("/licenses", s.CreateLicense)
	admin.GET("/licenses/:id", s.GetLicense)
	admin.PATCH("/licenses/:id", s.UpdateLicense)
	admin.DELETE("/licenses/:id", s.DeleteLicense)
	admin.GET("/licenses/:id/activations", s.ListLicenseActivations)

	admin.GET("/products", s.ListProducts)
	admin.POST("/products", s.CreateProduct)
	admin.GET("/products/:id", s.GetProduct)
	admin.PATCH("/products/:id", s.UpdateProduct)
	admin.DELETE("/products/:id", s.DeleteProduct)

	admin.GET("/settings", s.GetSettings)
	admin.PATCH("/settings", s.UpdateSettings)

	admin.GET("/audit-logs", s.ListAuditLogs)
}
