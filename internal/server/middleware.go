package server

import (
	"crypto/subtle"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	auditdomain "github.com/smallbiznis/keygate/internal/audit/domain"
	"github.com/smallbiznis/keygate/internal/observability/logger"
	"go.uber.org/zap"
)

const (
	auditLicenseKey = "audit_license_key"
	auditRequest    = "audit_request"
)

// RateLimit rejects callers over the per-IP budget before any license or
// activation lookup happens. The limiter failing (redis down) fails open:
// availability of validation beats strict throttling.
func (s *Server) RateLimit(endpoint string, limit int, window time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := endpoint + ":ip:" + c.ClientIP()

		res, err := s.limiter.Allow(c.Request.Context(), key, limit, window)
		if err != nil {
			logger.FromContext(c.Request.Context()).Warn("rate limiter unavailable", zap.Error(err))
			c.Next()
			return
		}

		c.Header("X-RateLimit-Limit", strconv.Itoa(res.Limit))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(res.Remaining))
		if !res.Allowed {
			retryAfter := int(res.RetryAfter.Round(time.Second).Seconds())
			if retryAfter < 1 {
				retryAfter = 1
			}
			c.Header("Retry-After", strconv.Itoa(retryAfter))
			s.obsMetrics.RecordRateLimitDenied(c.Request.Context(), endpoint)
			AbortWithError(c, ErrRateLimited)
			return
		}

		c.Next()
	}
}

// AuditTrail appends one entry per public request, whatever the outcome.
// It runs outside the rate limiter so 429s are recorded too.
func (s *Server) AuditTrail() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		entry := auditdomain.Entry{
			Endpoint:       c.FullPath(),
			Method:         c.Request.Method,
			IPAddress:      c.ClientIP(),
			UserAgent:      c.Request.UserAgent(),
			ResponseCode:   c.Writer.Status(),
			ResponseTimeMS: time.Since(start).Milliseconds(),
		}
		if key, ok := c.Get(auditLicenseKey); ok {
			entry.LicenseKey, _ = key.(string)
		}
		if snapshot, ok := c.Get(auditRequest); ok {
			entry.Request, _ = snapshot.(map[string]any)
		}

		s.auditSvc.Record(c.Request.Context(), entry)
	}
}

// AdminAuthRequired gates the admin surface behind a static bearer token.
// An unset token disables the whole admin API.
func (s *Server) AdminAuthRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := s.cfg.AdminToken
		if token == "" {
			AbortWithError(c, ErrUnauthorized)
			return
		}

		presented := strings.TrimSpace(strings.TrimPrefix(c.GetHeader("Authorization"), "Bearer"))
		if presented == "" || subtle.ConstantTimeCompare([]byte(presented), []byte(token)) != 1 {
			AbortWithError(c, ErrUnauthorized)
			return
		}

		c.Next()
	}
}

func setAuditLicenseKey(c *gin.Context, key string) {
	if key != "" {
		c.Set(auditLicenseKey, key)
	}
}

func setAuditRequest(c *gin.Context, snapshot map[string]any) {
	if len(snapshot) > 0 {
		c.Set(auditRequest, snapshot)
	}
}
