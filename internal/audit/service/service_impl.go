package service

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/smallbiznis/keygate/internal/audit/domain"
	"github.com/smallbiznis/keygate/internal/clock"
	"github.com/smallbiznis/keygate/internal/requestcontext"
	"github.com/smallbiznis/keygate/pkg/db/pagination"
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
	Repo  auditdomain.Repository
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	clock clock.Clock
	repo  auditdomain.Repository
}

func New(p Params) auditdomain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("audit.service"),
		genID: p.GenID,
		clock: p.Clock,
		repo:  p.Repo,
	}
}

// Record appends one entry off the request path. Insert failures are
// logged and dropped; the audit trail is diagnostic, not authoritative.
func (s *Service) Record(ctx context.Context, entry auditdomain.Entry) {
	row := s.buildRow(ctx, entry)

	bg := context.WithoutCancel(ctx)
	go func() {
		if err := s.repo.Insert(bg, s.db, row); err != nil {
			s.log.Warn("audit write failed",
				zap.String("endpoint", row.Endpoint),
				zap.Error(err))
		}
	}()
}

func (s *Service) buildRow(ctx context.Context, entry auditdomain.Entry) *auditdomain.APIRequestLog {
	row := &auditdomain.APIRequestLog{
		ID:             s.genID.Generate(),
		Endpoint:       strings.TrimSpace(entry.Endpoint),
		Method:         strings.ToUpper(strings.TrimSpace(entry.Method)),
		ResponseCode:   entry.ResponseCode,
		ResponseTimeMS: entry.ResponseTimeMS,
		CreatedAt:      s.clock.Now(),
	}

	if key := strings.TrimSpace(entry.LicenseKey); key != "" {
		row.LicenseKey = &key
	}

	ip := entry.IPAddress
	if ip == "" {
		ip = requestcontext.IPAddressFromContext(ctx)
	}
	if ip != "" {
		row.IPAddress = &ip
	}

	ua := entry.UserAgent
	if ua == "" {
		ua = requestcontext.UserAgentFromContext(ctx)
	}
	if ua != "" {
		row.UserAgent = &ua
	}

	payload := map[string]any{}
	for key, value := range entry.Request {
		if key == "" {
			continue
		}
		payload[key] = value
	}
	if requestID := requestcontext.RequestIDFromContext(ctx); requestID != "" {
		payload["request_id"] = requestID
	}
	if len(payload) > 0 {
		row.Request = datatypes.JSONMap(payload)
	}
	return row
}

func (s *Service) List(ctx context.Context, req auditdomain.ListRequest) (auditdomain.ListResponse, error) {
	if req.StartAt != nil && req.EndAt != nil && req.StartAt.After(*req.EndAt) {
		return auditdomain.ListResponse{}, auditdomain.ErrInvalidTimeRange
	}

	var cursor *auditdomain.Cursor
	if strings.TrimSpace(req.PageToken) != "" {
		decoded, err := pagination.DecodeCursor(req.PageToken)
		if err != nil {
			return auditdomain.ListResponse{}, auditdomain.ErrInvalidPageToken
		}
		createdAt, err := time.Parse(time.RFC3339Nano, decoded.CreatedAt)
		if err != nil {
			return auditdomain.ListResponse{}, auditdomain.ErrInvalidPageToken
		}
		id, err := snowflake.ParseString(strings.TrimSpace(decoded.ID))
		if err != nil || id == 0 {
			return auditdomain.ListResponse{}, auditdomain.ErrInvalidPageToken
		}
		cursor = &auditdomain.Cursor{ID: id, CreatedAt: createdAt}
	}

	pageSize := req.PageSize
	if pageSize <= 0 {
		pageSize = 50
	}
	if pageSize > 250 {
		pageSize = 250
	}

	items, err := s.repo.List(ctx, s.db, auditdomain.ListFilter{
		Endpoint:     req.Endpoint,
		LicenseKey:   req.LicenseKey,
		ResponseCode: req.ResponseCode,
		StartAt:      req.StartAt,
		EndAt:        req.EndAt,
		Cursor:       cursor,
		Limit:        pageSize,
	})
	if err != nil {
		return auditdomain.ListResponse{}, err
	}

	pageInfo := pagination.BuildCursorPageInfo(items, int32(pageSize), func(item *auditdomain.APIRequestLog) string {
		token, err := pagination.EncodeCursor(pagination.Cursor{
			ID:        item.ID.String(),
			CreatedAt: item.CreatedAt.Format(time.RFC3339Nano),
		})
		if err != nil {
			return ""
		}
		return token
	})
	if pageInfo != nil && pageInfo.HasMore && len(items) > pageSize {
		items = items[:pageSize]
	}

	logs := make([]auditdomain.APIRequestLog, 0, len(items))
	for _, item := range items {
		if item == nil {
			continue
		}
		logs = append(logs, *item)
	}

	resp := auditdomain.ListResponse{Logs: logs}
	if pageInfo != nil {
		resp.PageInfo = *pageInfo
	}
	return resp, nil
}
