package domain

import (
	"context"
	"errors"
)

// Service resolves whether a licensed site is running the latest release.
type Service interface {
	Check(ctx context.Context, req CheckRequest) (*CheckResponse, error)
}

type CheckRequest struct {
	LicenseKey string
	Version    string
	ProductID  int64
}

// CheckResponse reports the product's current version. DownloadURL and
// Changelog are only set when Update is true.
type CheckResponse struct {
	Version     string `json:"version"`
	Update      bool   `json:"update"`
	Message     string `json:"message,omitempty"`
	DownloadURL string `json:"download_url,omitempty"`
	Changelog   string `json:"changelog,omitempty"`
}

var ErrInvalidVersion = errors.New("invalid_version")
