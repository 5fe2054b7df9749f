package service

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/smallbiznis/coursemart/internal/audit/domain"
	"github.com/smallbiznis/coursemart/internal/audit/masking"
	"github.com/smallbiznis/coursemart/internal/clock"
	"github.com/smallbiznis/coursemart/pkg/db/pagination"
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

func NewService(p Params) auditdomain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("audit.service"),
		genID: p.GenID,
		clock: p.Clock,
		repo:  p.Repo,
	}
}

func (s *Service) Record(ctx context.Context, req auditdomain.RecordRequest) (auditdomain.SupportAction, error) {
	action := strings.TrimSpace(req.Action)
	if action == "" {
		return auditdomain.SupportAction{}, auditdomain.ErrInvalidAction
	}
	actorType := req.ActorType
	if actorType == "" {
		actorType = auditdomain.ActorTypeSystem
	}
	if actorType != auditdomain.ActorTypeSystem && req.ActorID == nil {
		return auditdomain.SupportAction{}, auditdomain.ErrInvalidActor
	}

	metadata := masking.MaskMetadata(req.Metadata)

	entry := auditdomain.SupportAction{
		ID:        s.genID.Generate(),
		ActorType: actorType,
		ActorID:   req.ActorID,
		Action:    action,
		UserID:    req.UserID,
		CourseID:  req.CourseID,
		IssueType: req.IssueType,
		Metadata:  datatypes.JSONMap(metadata),
		CreatedAt: s.clock.Now(),
	}
	if err := s.repo.Insert(ctx, s.db, &entry); err != nil {
		s.log.Warn("failed to write support action", zap.String("action", action), zap.Error(err))
		return auditdomain.SupportAction{}, err
	}
	return entry, nil
}

func (s *Service) List(ctx context.Context, req auditdomain.ListRequest) (auditdomain.ListResponse, error) {
	cursor, err := req.Cursor()
	if err != nil {
		return auditdomain.ListResponse{}, auditdomain.ErrInvalidPageToken
	}
	var before *snowflake.ID
	if cursor != nil {
		id, err := snowflake.ParseString(strings.TrimSpace(cursor.ID))
		if err != nil || id == 0 {
			return auditdomain.ListResponse{}, auditdomain.ErrInvalidPageToken
		}
		before = &id
	}

	limit := req.Limit()
	items, err := s.repo.List(ctx, s.db, auditdomain.ListFilter{
		Action:   req.Action,
		UserID:   req.UserID,
		BeforeID: before,
		Limit:    limit,
	})
	if err != nil {
		return auditdomain.ListResponse{}, err
	}

	items, pageInfo := pagination.Trim(items, limit, func(item auditdomain.SupportAction) string {
		return item.ID.String()
	})
	return auditdomain.ListResponse{PageInfo: pageInfo, Actions: items}, nil
}
