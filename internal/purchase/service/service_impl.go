package service

import (
	"context"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	bnpldomain "github.com/smallbiznis/coursemart/internal/bnpl/domain"
	catalogdomain "github.com/smallbiznis/coursemart/internal/catalog/domain"
	"github.com/smallbiznis/coursemart/internal/clock"
	"github.com/smallbiznis/coursemart/internal/config"
	"github.com/smallbiznis/coursemart/internal/lock"
	outboxdomain "github.com/smallbiznis/coursemart/internal/outbox/domain"
	"github.com/smallbiznis/coursemart/internal/purchase/domain"
	userdomain "github.com/smallbiznis/coursemart/internal/user/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	PaymentMethodBnpl = "bnpl"

	lockTTL = 10 * time.Second
)

type Params struct {
	fx.In

	DB      *gorm.DB
	Log     *zap.Logger
	GenID   *snowflake.Node
	Clock   clock.Clock
	Policy  *config.PolicyConfigHolder
	Locker  lock.Locker
	Repo    domain.Repository
	Catalog catalogdomain.Service
	Users   userdomain.Service
	Outbox  outboxdomain.Service
}

type Service struct {
	db      *gorm.DB
	log     *zap.Logger
	genID   *snowflake.Node
	clock   clock.Clock
	policy  *config.PolicyConfigHolder
	locker  lock.Locker
	repo    domain.Repository
	catalog catalogdomain.Service
	users   userdomain.Service
	outbox  outboxdomain.Service
}

func New(p Params) domain.Service {
	return &Service{
		db:      p.DB,
		log:     p.Log.Named("purchase.service"),
		genID:   p.GenID,
		clock:   p.Clock,
		policy:  p.Policy,
		locker:  p.Locker,
		repo:    p.Repo,
		catalog: p.Catalog,
		users:   p.Users,
		outbox:  p.Outbox,
	}
}

func (s *Service) bnplPolicy() bnpldomain.Policy {
	return bnpldomain.PolicyFrom(s.policy.Get().Bnpl)
}

func userCourseKey(userID, courseID snowflake.ID) string {
	return fmt.Sprintf("purchase:%s:%s", userID, courseID)
}

func (s *Service) Materialize(ctx context.Context, req domain.MaterializeRequest) (domain.Purchase, bool, error) {
	var (
		purchase domain.Purchase
		created  bool
	)
	err := lock.WithLock(ctx, s.locker, userCourseKey(req.UserID, req.CourseID), lockTTL, func(ctx context.Context) error {
		existing, err := s.repo.FindOldestForUserCourse(ctx, s.db, req.UserID, req.CourseID)
		if err != nil {
			return err
		}
		if existing != nil {
			purchase = *existing
			return nil
		}

		course, lessons, err := s.snapshots(ctx, req.CourseID)
		if err != nil {
			return err
		}

		now := s.clock.Now()
		var plan *bnpldomain.Plan
		if req.PaymentMethod == PaymentMethodBnpl {
			built, err := bnpldomain.BuildPlan(req.Price, now, req.BnplInstallments, s.bnplPolicy())
			if err != nil {
				return err
			}
			plan = &built
		}

		purchase = domain.Purchase{
			ID:                   s.genID.Generate(),
			UserID:               req.UserID,
			CourseID:             req.CourseID,
			CheckoutID:           req.CheckoutID,
			Price:                req.Price,
			Currency:             req.Currency,
			PaymentMethod:        req.PaymentMethod,
			PurchasedAt:          now,
			Bnpl:                 datatypes.NewJSONType(plan),
			CourseSnapshot:       datatypes.NewJSONType(course),
			LessonsSnapshot:      datatypes.NewJSONSlice(lessons),
			PurchasedTestItemIDs: datatypes.NewJSONSlice([]string{}),
			CreatedAt:            now,
			UpdatedAt:            now,
		}
		if err := s.repo.Insert(ctx, s.db, &purchase); err != nil {
			return err
		}
		created = true
		return nil
	})
	if err != nil {
		return domain.Purchase{}, false, err
	}
	if created {
		s.log.Info("purchase materialized",
			zap.String("purchase_id", purchase.ID.String()),
			zap.String("user_id", purchase.UserID.String()),
			zap.String("course_id", purchase.CourseID.String()),
			zap.String("payment_method", purchase.PaymentMethod),
		)
	}
	return purchase, created, nil
}

func (s *Service) snapshots(ctx context.Context, courseID snowflake.ID) (domain.CourseSnapshot, []domain.LessonSnapshot, error) {
	course, err := s.catalog.GetCourse(ctx, courseID)
	if err != nil {
		return domain.CourseSnapshot{}, nil, err
	}
	lessons, err := s.catalog.ListLessons(ctx, courseID)
	if err != nil {
		return domain.CourseSnapshot{}, nil, err
	}
	snapshot := domain.CourseSnapshot{
		ID:          course.ID,
		Slug:        course.Slug,
		Title:       course.Title,
		Description: course.Description,
		TeacherID:   course.TeacherID,
	}
	frozen := make([]domain.LessonSnapshot, 0, len(lessons))
	for _, lesson := range lessons {
		if !lesson.Published {
			continue
		}
		frozen = append(frozen, domain.LessonSnapshot{
			ID:      lesson.ID,
			Order:   lesson.Order,
			Title:   lesson.Title,
			Content: lesson.Content,
		})
	}
	return snapshot, frozen, nil
}

func (s *Service) RefreshSnapshots(ctx context.Context, courseID snowflake.ID) (int64, error) {
	course, lessons, err := s.snapshots(ctx, courseID)
	if err != nil {
		return 0, err
	}
	updated, err := s.repo.UpdateSnapshots(ctx, s.db, courseID, course, lessons, s.clock.Now())
	if err != nil {
		return 0, err
	}
	s.log.Info("purchase snapshots refreshed", zap.String("course_id", courseID.String()), zap.Int64("purchases", updated))
	return updated, nil
}

func (s *Service) Get(ctx context.Context, id snowflake.ID) (domain.Purchase, error) {
	purchase, err := s.repo.FindByID(ctx, s.db, id)
	if err != nil {
		return domain.Purchase{}, err
	}
	if purchase == nil {
		return domain.Purchase{}, domain.ErrNotFound
	}
	return *purchase, nil
}

func (s *Service) FindForUserCourse(ctx context.Context, userID, courseID snowflake.ID) (*domain.Purchase, error) {
	return s.repo.FindOldestForUserCourse(ctx, s.db, userID, courseID)
}

func (s *Service) List(ctx context.Context, filter domain.ListFilter) ([]domain.Purchase, error) {
	return s.repo.List(ctx, s.db, filter)
}

func (s *Service) View(p domain.Purchase) domain.View {
	return domain.NewView(p, s.clock.Now(), s.bnplPolicy())
}

func (s *Service) PayInstallment(ctx context.Context, userID, purchaseID snowflake.ID) (domain.View, error) {
	return s.mutatePlan(ctx, userID, purchaseID, func(plan bnpldomain.Plan, now time.Time) (bnpldomain.Plan, int64, error) {
		next, item, err := bnpldomain.PayInstallment(plan, now)
		return next, item.Amount, err
	})
}

func (s *Service) PayRemaining(ctx context.Context, userID, purchaseID snowflake.ID) (domain.View, error) {
	return s.mutatePlan(ctx, userID, purchaseID, bnpldomain.PayRemaining)
}

type planMutation func(plan bnpldomain.Plan, now time.Time) (bnpldomain.Plan, int64, error)

func (s *Service) mutatePlan(ctx context.Context, userID, purchaseID snowflake.ID, mutate planMutation) (domain.View, error) {
	var (
		updated domain.Purchase
		amount  int64
	)
	err := lock.WithLock(ctx, s.locker, "purchase:"+purchaseID.String(), lockTTL, func(ctx context.Context) error {
		purchase, err := s.Get(ctx, purchaseID)
		if err != nil {
			return err
		}
		if purchase.UserID != userID {
			return domain.ErrNotOwner
		}
		plan := purchase.Plan()
		if plan == nil {
			return bnpldomain.ErrNoPlan
		}

		now := s.clock.Now()
		next, paid, err := mutate(bnpldomain.MarkOverdue(*plan, now), now)
		if err != nil {
			return err
		}
		if err := s.repo.UpdatePlan(ctx, s.db, purchase.ID, &next, now); err != nil {
			return err
		}
		purchase.Bnpl = datatypes.NewJSONType(&next)
		purchase.UpdatedAt = now
		updated = purchase
		amount = paid
		return nil
	})
	if err != nil {
		return domain.View{}, err
	}

	s.notifyPlanPayment(ctx, updated, amount)
	return s.View(updated), nil
}

func (s *Service) notifyPlanPayment(ctx context.Context, purchase domain.Purchase, amount int64) {
	plan := purchase.Plan()
	user, err := s.users.GetByID(ctx, purchase.UserID)
	if err != nil {
		s.log.Warn("bnpl notification skipped", zap.String("purchase_id", purchase.ID.String()), zap.Error(err))
		return
	}
	data := map[string]any{
		"courseTitle":       purchase.CourseSnapshot.Data().Title,
		"amount":            amount,
		"currency":          purchase.Currency,
		"paidCount":         plan.PaidCount,
		"installmentsCount": plan.InstallmentsCount,
	}
	req := outboxdomain.EnqueueRequest{
		Template:       outboxdomain.TemplateBnplInstallmentPaid,
		DedupeKey:      fmt.Sprintf("bnpl_installment_paid:%s:%d", purchase.ID, plan.PaidCount),
		RecipientEmail: user.Email,
		Data:           data,
	}
	if plan.LastKnownStatus == bnpldomain.PlanCompleted {
		req.Template = outboxdomain.TemplateBnplCompleted
		req.DedupeKey = fmt.Sprintf("bnpl_completed:%s", purchase.ID)
	}
	if _, err := s.outbox.Enqueue(ctx, req); err != nil {
		s.log.Warn("bnpl notification enqueue failed", zap.String("purchase_id", purchase.ID.String()), zap.Error(err))
	}
}

func (s *Service) Delete(ctx context.Context, id snowflake.ID) error {
	return s.repo.Delete(ctx, s.db, id)
}

func (s *Service) RemoveAccessData(ctx context.Context, userID, courseID snowflake.ID) (int64, error) {
	var removed int64
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		purchases, err := s.repo.DeleteForUserCourse(ctx, tx, userID, courseID)
		if err != nil {
			return err
		}
		if _, err := s.repo.DeleteProgress(ctx, tx, userID, courseID); err != nil {
			return err
		}
		removed = purchases
		return nil
	})
	return removed, err
}

func (s *Service) RecordLessonOpen(ctx context.Context, userID, courseID, lessonID snowflake.ID) error {
	_, err := s.repo.InsertProgress(ctx, s.db, &domain.LessonProgress{
		ID:       s.genID.Generate(),
		UserID:   userID,
		CourseID: courseID,
		LessonID: lessonID,
		OpenedAt: s.clock.Now(),
	})
	return err
}

func (s *Service) OpenedLessons(ctx context.Context, userID, courseID snowflake.ID) (map[snowflake.ID]bool, error) {
	items, err := s.repo.ListProgress(ctx, s.db, userID, courseID)
	if err != nil {
		return nil, err
	}
	opened := make(map[snowflake.ID]bool, len(items))
	for _, item := range items {
		opened[item.LessonID] = true
	}
	return opened, nil
}
