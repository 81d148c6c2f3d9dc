package service

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gosimple/slug"
	goversion "github.com/hashicorp/go-version"
	"github.com/smallbiznis/keygate/internal/clock"
	productdomain "github.com/smallbiznis/keygate/internal/product/domain"
	"github.com/smallbiznis/keygate/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Clock clock.Clock
	Repo  productdomain.Repository
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	clock clock.Clock
	repo  productdomain.Repository
}

func New(p Params) productdomain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("product.service"),
		genID: p.GenID,
		clock: p.Clock,
		repo:  p.Repo,
	}
}

func (s *Service) Create(ctx context.Context, req productdomain.CreateRequest) (*productdomain.Response, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, productdomain.ErrInvalidName
	}

	version := strings.TrimSpace(req.Version)
	if version == "" {
		version = "1.0.0"
	}
	if _, err := goversion.NewVersion(version); err != nil {
		return nil, productdomain.ErrInvalidVersion
	}

	productSlug := strings.TrimSpace(req.Slug)
	if productSlug == "" {
		productSlug = slug.Make(name)
	} else {
		productSlug = slug.Make(productSlug)
	}

	description := strings.TrimSpace(ptrToString(req.Description))
	var descriptionPtr *string
	if description != "" {
		descriptionPtr = &description
	}

	active := true
	if req.Active != nil {
		active = *req.Active
	}

	now := s.clock.Now()
	p := &productdomain.Product{
		ID:          s.genID.Generate().Int64(),
		Slug:        productSlug,
		Name:        name,
		Description: descriptionPtr,
		Version:     version,
		DownloadURL: strings.TrimSpace(req.DownloadURL),
		Changelog:   req.Changelog,
		Active:      active,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if req.Metadata != nil {
		p.Metadata = datatypes.JSONMap(req.Metadata)
	}

	if err := s.repo.Create(ctx, s.db, p); err != nil {
		if db.IsDuplicateKeyErr(err) {
			return nil, productdomain.ErrSlugTaken
		}
		return nil, err
	}

	resp := s.toResponse(p)
	return &resp, nil
}

func (s *Service) Get(ctx context.Context, id string) (*productdomain.Response, error) {
	item, err := s.findByStringID(ctx, id)
	if err != nil {
		return nil, err
	}
	resp := s.toResponse(item)
	return &resp, nil
}

func (s *Service) List(ctx context.Context, req productdomain.ListRequest) ([]productdomain.Response, error) {
	items, err := s.repo.List(ctx, s.db, productdomain.ListFilter{
		Name:   strings.TrimSpace(req.Name),
		Active: req.Active,
	})
	if err != nil {
		return nil, err
	}

	resp := make([]productdomain.Response, 0, len(items))
	for i := range items {
		resp = append(resp, s.toResponse(&items[i]))
	}
	return resp, nil
}

func (s *Service) Update(ctx context.Context, req productdomain.UpdateRequest) (*productdomain.Response, error) {
	item, err := s.findByStringID(ctx, req.ID)
	if err != nil {
		return nil, err
	}

	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if name == "" {
			return nil, productdomain.ErrInvalidName
		}
		item.Name = name
	}
	if req.Description != nil {
		description := strings.TrimSpace(*req.Description)
		if description == "" {
			item.Description = nil
		} else {
			item.Description = &description
		}
	}
	if req.Version != nil {
		version := strings.TrimSpace(*req.Version)
		if _, err := goversion.NewVersion(version); err != nil {
			return nil, productdomain.ErrInvalidVersion
		}
		item.Version = version
	}
	if req.DownloadURL != nil {
		item.DownloadURL = strings.TrimSpace(*req.DownloadURL)
	}
	if req.Changelog != nil {
		item.Changelog = req.Changelog
	}
	if req.Active != nil {
		item.Active = *req.Active
	}
	if req.Metadata != nil {
		item.Metadata = datatypes.JSONMap(req.Metadata)
	}

	item.UpdatedAt = s.clock.Now()
	if err := s.repo.Update(ctx, s.db, item); err != nil {
		return nil, err
	}

	resp := s.toResponse(item)
	return &resp, nil
}

func (s *Service) Delete(ctx context.Context, id string) error {
	item, err := s.findByStringID(ctx, id)
	if err != nil {
		return err
	}
	return s.repo.Delete(ctx, s.db, item.ID)
}

func (s *Service) findByStringID(ctx context.Context, id string) (*productdomain.Product, error) {
	productID, err := snowflake.ParseString(strings.TrimSpace(id))
	if err != nil {
		return nil, productdomain.ErrInvalidID
	}
	item, err := s.repo.FindByID(ctx, s.db, productID.Int64())
	if err != nil {
		return nil, err
	}
	if item == nil {
		return nil, productdomain.ErrNotFound
	}
	return item, nil
}

func (s *Service) toResponse(p *productdomain.Product) productdomain.Response {
	resp := productdomain.Response{
		ID:          snowflake.ID(p.ID).String(),
		Slug:        p.Slug,
		Name:        p.Name,
		Description: p.Description,
		Version:     p.Version,
		DownloadURL: p.DownloadURL,
		Changelog:   p.Changelog,
		Active:      p.Active,
		CreatedAt:   p.CreatedAt,
		UpdatedAt:   p.UpdatedAt,
	}
	if len(p.Metadata) > 0 {
		resp.Metadata = map[string]any(p.Metadata)
	}
	return resp
}

func ptrToString(value *string) string {
	if value == nil {
		return ""
	}
	return *value
}
