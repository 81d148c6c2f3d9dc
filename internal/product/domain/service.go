package domain

import (
	"context"
	"errors"
	"time"
)

type Service interface {
	Create(ctx context.Context, req CreateRequest) (*Response, error)
	Get(ctx context.Context, id string) (*Response, error)
	List(ctx context.Context, req ListRequest) ([]Response, error)
	Update(ctx context.Context, req UpdateRequest) (*Response, error)
	Delete(ctx context.Context, id string) error
}

type CreateRequest struct {
	Name        string         `json:"name"`
	Slug        string         `json:"slug"`
	Description *string        `json:"description"`
	Version     string         `json:"version"`
	DownloadURL string         `json:"download_url"`
	Changelog   *string        `json:"changelog"`
	Active      *bool          `json:"active"`
	Metadata    map[string]any `json:"metadata"`
}

type UpdateRequest struct {
	ID          string         `json:"-"`
	Name        *string        `json:"name"`
	Description *string        `json:"description"`
	Version     *string        `json:"version"`
	DownloadURL *string        `json:"download_url"`
	Changelog   *string        `json:"changelog"`
	Active      *bool          `json:"active"`
	Metadata    map[string]any `json:"metadata"`
}

type ListRequest struct {
	Name   string
	Active *bool
}

type Response struct {
	ID          string         `json:"id"`
	Slug        string         `json:"slug"`
	Name        string         `json:"name"`
	Description *string        `json:"description,omitempty"`
	Version     string         `json:"version"`
	DownloadURL string         `json:"download_url"`
	Changelog   *string        `json:"changelog,omitempty"`
	Active      bool           `json:"active"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

var (
	ErrInvalidName    = errors.New("invalid_product_name")
	ErrInvalidVersion = errors.New("invalid_product_version")
	ErrInvalidID      = errors.New("invalid_product_id")
	ErrNotFound       = errors.New("product_not_found")
	ErrSlugTaken      = errors.New("product_slug_taken")
)
