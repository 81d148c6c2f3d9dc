package server

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	licensedomain "github.com/smallbiznis/keygate/internal/license/domain"
	updatedomain "github.com/smallbiznis/keygate/internal/update/domain"
)

type validateLicenseRequest struct {
	LicenseKey string `json:"license_key"`
	SiteURL    string `json:"site_url"`
	ProductID  int64  `json:"product_id"`
}

func (s *Server) ValidateLicense(c *gin.Context) {
	var req validateLicenseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, licensedomain.ErrMissingParameters)
		return
	}

	setAuditLicenseKey(c, licensedomain.NormalizeKey(req.LicenseKey))
	setAuditRequest(c, map[string]any{
		"site_url":   req.SiteURL,
		"product_id": req.ProductID,
	})

	resp, err := s.licenseSvc.Validate(c.Request.Context(), licensedomain.ValidateRequest{
		LicenseKey: req.LicenseKey,
		SiteURL:    strings.TrimSpace(req.SiteURL),
		ProductID:  req.ProductID,
		IPAddress:  c.ClientIP(),
		UserAgent:  c.Request.UserAgent(),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

type deactivateLicenseRequest struct {
	LicenseKey string `json:"license_key"`
	SiteURL    string `json:"site_url"`
}

func (s *Server) DeactivateLicense(c *gin.Context) {
	var req deactivateLicenseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, licensedomain.ErrMissingParameters)
		return
	}

	setAuditLicenseKey(c, licensedomain.NormalizeKey(req.LicenseKey))
	setAuditRequest(c, map[string]any{"site_url": req.SiteURL})

	resp, err := s.licenseSvc.Deactivate(c.Request.Context(), licensedomain.DeactivateRequest{
		LicenseKey: req.LicenseKey,
		SiteURL:    strings.TrimSpace(req.SiteURL),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

func (s *Server) CheckUpdate(c *gin.Context) {
	var query struct {
		LicenseKey string `form:"license_key"`
		Version    string `form:"version"`
		ProductID  int64  `form:"product_id"`
	}
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, licensedomain.ErrMissingParameters)
		return
	}

	setAuditLicenseKey(c, licensedomain.NormalizeKey(query.LicenseKey))
	setAuditRequest(c, map[string]any{
		"version":    query.Version,
		"product_id": query.ProductID,
	})

	resp, err := s.updateSvc.Check(c.Request.Context(), updatedomain.CheckRequest{
		LicenseKey: query.LicenseKey,
		Version:    strings.TrimSpace(query.Version),
		ProductID:  query.ProductID,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

type createLicenseRequest struct {
	ProductID       int64      `json:"product_id"`
	CustomerEmail   string     `json:"customer_email"`
	CustomerName    *string    `json:"customer_name"`
	Status          string     `json:"status"`
	ActivationLimit int        `json:"activation_limit"`
	ExpiresAt       *time.Time `json:"expires_at"`
}

func (s *Server) CreateLicense(c *gin.Context) {
	var req createLicenseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	resp, err := s.licenseSvc.Create(c.Request.Context(), licensedomain.CreateRequest{
		ProductID:       req.ProductID,
		CustomerEmail:   strings.TrimSpace(req.CustomerEmail),
		CustomerName:    req.CustomerName,
		Status:          licensedomain.Status(strings.TrimSpace(req.Status)),
		ActivationLimit: req.ActivationLimit,
		ExpiresAt:       req.ExpiresAt,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"data": resp})
}

func (s *Server) GetLicense(c *gin.Context) {
	resp, err := s.licenseSvc.Get(c.Request.Context(), strings.TrimSpace(c.Param("id")))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) ListLicenses(c *gin.Context) {
	var query struct {
		Status    string `form:"status"`
		ProductID string `form:"product_id"`
		Search    string `form:"search"`
		Page      int    `form:"page"`
		PerPage   int    `form:"per_page"`
	}
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	resp, err := s.licenseSvc.List(c.Request.Context(), licensedomain.ListRequest{
		Status:    strings.TrimSpace(query.Status),
		ProductID: strings.TrimSpace(query.ProductID),
		Search:    strings.TrimSpace(query.Search),
		Page:      query.Page,
		PerPage:   query.PerPage,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

type updateLicenseRequest struct {
	CustomerEmail   *string    `json:"customer_email"`
	CustomerName    *string    `json:"customer_name"`
	Status          *string    `json:"status"`
	ActivationLimit *int       `json:"activation_limit"`
	ExpiresAt       *time.Time `json:"expires_at"`
	ClearExpiry     bool       `json:"clear_expiry"`
}

func (s *Server) UpdateLicense(c *gin.Context) {
	var req updateLicenseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	var status *licensedomain.Status
	if req.Status != nil {
		v := licensedomain.Status(strings.TrimSpace(*req.Status))
		status = &v
	}

	resp, err := s.licenseSvc.UpdateLicense(c.Request.Context(), strings.TrimSpace(c.Param("id")), licensedomain.UpdateRequest{
		CustomerEmail:   req.CustomerEmail,
		CustomerName:    req.CustomerName,
		Status:          status,
		ActivationLimit: req.ActivationLimit,
		ExpiresAt:       req.ExpiresAt,
		ClearExpiry:     req.ClearExpiry,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) DeleteLicense(c *gin.Context) {
	if err := s.licenseSvc.Delete(c.Request.Context(), strings.TrimSpace(c.Param("id"))); err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"deleted": true})
}

func (s *Server) ListLicenseActivations(c *gin.Context) {
	resp, err := s.licenseSvc.ListActivations(c.Request.Context(), strings.TrimSpace(c.Param("id")))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}
