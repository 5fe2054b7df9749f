package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/coursemart/pkg/db/pagination"
)

type RecordRequest struct {
	ActorType ActorType
	ActorID   *snowflake.ID
	Action    string
	UserID    snowflake.ID
	CourseID  snowflake.ID
	IssueType string
	Metadata  map[string]any
}

type ListRequest struct {
	pagination.Pagination
	Action string
	UserID *snowflake.ID
}

type ListResponse struct {
	pagination.PageInfo
	Actions []SupportAction `json:"actions"`
}

type Service interface {
	Record(ctx context.Context, req RecordRequest) (SupportAction, error)
	List(ctx context.Context, req ListRequest) (ListResponse, error)
}

var (
	ErrInvalidAction    = errors.New("invalid_action")
	ErrInvalidActor     = errors.New("invalid_actor")
	ErrInvalidPageToken = errors.New("invalid_page_token")
)
