package service

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/coursemart/internal/access/domain"
	bnpldomain "github.com/smallbiznis/coursemart/internal/bnpl/domain"
	catalogdomain "github.com/smallbiznis/coursemart/internal/catalog/domain"
	entitlementdomain "github.com/smallbiznis/coursemart/internal/entitlement/domain"
	identitydomain "github.com/smallbiznis/coursemart/internal/identity/domain"
	purchasedomain "github.com/smallbiznis/coursemart/internal/purchase/domain"
	userdomain "github.com/smallbiznis/coursemart/internal/user/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const previewLessonOrder = 1

type Params struct {
	fx.In

	Log          *zap.Logger
	Catalog      catalogdomain.Service
	Identity     identitydomain.Service
	Entitlements entitlementdomain.Service
	Purchases    purchasedomain.Service
}

type Service struct {
	log          *zap.Logger
	catalog      catalogdomain.Service
	identity     identitydomain.Service
	entitlements entitlementdomain.Service
	purchases    purchasedomain.Service
}

func New(p Params) domain.Service {
	return &Service{
		log:          p.Log.Named("access.service"),
		catalog:      p.Catalog,
		identity:     p.Identity,
		entitlements: p.Entitlements,
		purchases:    p.Purchases,
	}
}

func (s *Service) ResolveCourseAccess(ctx context.Context, actor userdomain.Actor, courseID snowflake.ID) (domain.CourseDecision, error) {
	decision := domain.CourseDecision{
		CourseID:        courseID,
		Mode:            domain.ModePreview,
		AccessLevel:     bnpldomain.AccessFull,
		FinancialStatus: bnpldomain.FinancialOK,
	}

	switch {
	case actor.Anonymous():
		decision.Reason = domain.ReasonAnonymous
		return decision, nil
	case actor.Role() == userdomain.RoleTeacher:
		decision.Mode = domain.ModeFull
		return decision, nil
	}

	userID := actor.UserID()
	ent, err := s.entitlements.FindCourseEntitlement(ctx, userID, courseID)
	if err != nil {
		return domain.CourseDecision{}, err
	}
	if ent == nil {
		decision.Reason = domain.ReasonEntitlementMissing
		return decision, nil
	}
	verified, err := s.identity.IsUserVerified(ctx, userID)
	if err != nil {
		return domain.CourseDecision{}, err
	}
	if !verified || ent.State != entitlementdomain.StateActive {
		decision.Reason = domain.ReasonIdentityUnverified
		return decision, nil
	}

	decision.Mode = domain.ModeFull
	purchase, err := s.purchases.FindForUserCourse(ctx, userID, courseID)
	if err != nil {
		return domain.CourseDecision{}, err
	}
	if purchase != nil {
		view := s.purchases.View(*purchase)
		decision.AccessLevel = view.AccessLevel
		decision.FinancialStatus = view.FinancialStatus
		decision.OverdueDays = view.OverdueDays
	}
	return decision, nil
}

func (s *Service) ResolveLessonAccess(ctx context.Context, actor userdomain.Actor, lessonID snowflake.ID) (domain.LessonDecision, error) {
	lesson, fromSnapshot, err := s.findLesson(ctx, actor, lessonID)
	if err != nil {
		return domain.LessonDecision{}, err
	}

	course, err := s.ResolveCourseAccess(ctx, actor, lesson.courseID)
	if err != nil {
		return domain.LessonDecision{}, err
	}
	decision := domain.LessonDecision{
		LessonID:             lessonID,
		CourseID:             lesson.courseID,
		Mode:                 course.Mode,
		Reason:               course.Reason,
		ResolvedFromSnapshot: fromSnapshot,
	}

	if course.Mode != domain.ModeFull {
		if lesson.content.Order == previewLessonOrder {
			decision.Allowed = true
			decision.Lesson = &lesson.content
		}
		return decision, nil
	}

	if course.AccessLevel != bnpldomain.AccessFull {
		opened, err := s.purchases.OpenedLessons(ctx, actor.UserID(), lesson.courseID)
		if err != nil {
			return domain.LessonDecision{}, err
		}
		decision.PreviouslyOpened = opened[lessonID]
		switch course.AccessLevel {
		case bnpldomain.AccessRestrictedNewContent:
			decision.Reason = domain.ReasonBnplRestricted
		case bnpldomain.AccessSuspendedReadonly:
			decision.Reason = domain.ReasonBnplSuspended
			decision.ReadOnly = true
		}
		if !decision.PreviouslyOpened {
			return decision, nil
		}
	}

	decision.Allowed = true
	decision.Lesson = &lesson.content
	return decision, nil
}

func (s *Service) OpenLesson(ctx context.Context, actor userdomain.Actor, lessonID snowflake.ID) (domain.LessonDecision, error) {
	decision, err := s.ResolveLessonAccess(ctx, actor, lessonID)
	if err != nil {
		return domain.LessonDecision{}, err
	}
	if !decision.Allowed || decision.ReadOnly || actor.Anonymous() || decision.Mode != domain.ModeFull {
		return decision, nil
	}
	if err := s.purchases.RecordLessonOpen(ctx, actor.UserID(), decision.CourseID, lessonID); err != nil {
		return domain.LessonDecision{}, err
	}
	decision.PreviouslyOpened = true
	return decision, nil
}

type resolvedLesson struct {
	courseID snowflake.ID
	content  domain.LessonContent
}

// findLesson prefers the live published lesson and falls back to the frozen
// copy in one of the actor's purchases.
func (s *Service) findLesson(ctx context.Context, actor userdomain.Actor, lessonID snowflake.ID) (resolvedLesson, bool, error) {
	live, err := s.catalog.GetLesson(ctx, lessonID)
	switch {
	case err == nil && live.Published:
		return resolvedLesson{
			courseID: live.CourseID,
			content: domain.LessonContent{
				ID:      live.ID,
				Order:   live.Order,
				Title:   live.Title,
				Content: live.Content,
			},
		}, false, nil
	case err == nil, errors.Is(err, catalogdomain.ErrLessonNotFound):
	default:
		return resolvedLesson{}, false, err
	}

	if actor.Anonymous() {
		return resolvedLesson{}, false, domain.ErrLessonNotFound
	}
	userID := actor.UserID()
	purchases, err := s.purchases.List(ctx, purchasedomain.ListFilter{UserID: &userID})
	if err != nil {
		return resolvedLesson{}, false, err
	}
	for _, purchase := range purchases {
		snap, ok := purchase.SnapshotLesson(lessonID)
		if !ok {
			continue
		}
		s.log.Debug("lesson resolved from purchase snapshot",
			zap.String("lesson_id", lessonID.String()),
			zap.String("purchase_id", purchase.ID.String()),
		)
		return resolvedLesson{
			courseID: purchase.CourseID,
			content: domain.LessonContent{
				ID:      snap.ID,
				Order:   snap.Order,
				Title:   snap.Title,
				Content: snap.Content,
			},
		}, true, nil
	}
	return resolvedLesson{}, false, domain.ErrLessonNotFound
}
