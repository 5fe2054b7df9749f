package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	bnpldomain "github.com/smallbiznis/coursemart/internal/bnpl/domain"
	userdomain "github.com/smallbiznis/coursemart/internal/user/domain"
)

type Mode string

const (
	ModeFull    Mode = "full"
	ModePreview Mode = "preview"
)

type Reason string

const (
	ReasonAnonymous          Reason = "anonymous"
	ReasonIdentityUnverified Reason = "identity_unverified"
	ReasonEntitlementMissing Reason = "entitlement_missing"
	ReasonPreviewOnly        Reason = "preview_only"
	ReasonBnplRestricted     Reason = "bnpl_restricted"
	ReasonBnplSuspended      Reason = "bnpl_suspended"
)

type CourseDecision struct {
	CourseID        snowflake.ID               `json:"courseId"`
	Mode            Mode                       `json:"mode"`
	Reason          Reason                     `json:"reason,omitempty"`
	AccessLevel     bnpldomain.AccessLevel     `json:"accessLevel"`
	FinancialStatus bnpldomain.FinancialStatus `json:"financialStatus"`
	OverdueDays     int                        `json:"overdueDays"`
}

type LessonContent struct {
	ID      snowflake.ID `json:"id"`
	Order   int          `json:"order"`
	Title   string       `json:"title"`
	Content string       `json:"content,omitempty"`
}

type LessonDecision struct {
	LessonID             snowflake.ID   `json:"lessonId"`
	CourseID             snowflake.ID   `json:"courseId"`
	Allowed              bool           `json:"allowed"`
	Mode                 Mode           `json:"mode"`
	Reason               Reason         `json:"reason,omitempty"`
	ReadOnly             bool           `json:"readOnly"`
	PreviouslyOpened     bool           `json:"previouslyOpened"`
	ResolvedFromSnapshot bool           `json:"resolvedFromSnapshot"`
	Lesson               *LessonContent `json:"lesson,omitempty"`
}

// Service answers "may this actor see this course or lesson". Course access
// and the BNPL access level must both pass for lesson content.
type Service interface {
	ResolveCourseAccess(ctx context.Context, actor userdomain.Actor, courseID snowflake.ID) (CourseDecision, error)
	ResolveLessonAccess(ctx context.Context, actor userdomain.Actor, lessonID snowflake.ID) (LessonDecision, error)
	// OpenLesson resolves access and records the opening when allowed.
	OpenLesson(ctx context.Context, actor userdomain.Actor, lessonID snowflake.ID) (LessonDecision, error)
}

var ErrLessonNotFound = errors.New("lesson_not_found")
