package service_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/coursemart/internal/entitlement/domain"
	"github.com/smallbiznis/coursemart/internal/entitlement/repository"
	"github.com/smallbiznis/coursemart/internal/entitlement/service"
	identitydomain "github.com/smallbiznis/coursemart/internal/identity/domain"
	purchasedomain "github.com/smallbiznis/coursemart/internal/purchase/domain"
	"github.com/smallbiznis/coursemart/internal/testutil/harness"
	userdomain "github.com/smallbiznis/coursemart/internal/user/domain"
	"gorm.io/gorm"
)

func TestPendingEntitlementActivatesAfterVerification(t *testing.T) {
	h := harness.New(t)
	ctx := h.Ctx()
	teacher := h.CreateUser(t, "teacher@example.com", userdomain.RoleTeacher, true)
	student := h.CreateUser(t, "student@example.com", userdomain.RoleStudent, false)
	course, _ := h.PublishedCourse(t, teacher, "Algebra", 3000, 2)

	ent, err := h.Entitlements.UpsertCourseEntitlement(ctx, domain.UpsertCourseRequest{
		UserID: student.ID, CourseID: course.ID, SourceID: 99, Activate: false,
	})
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if ent.State != domain.StatePendingActivation {
		t.Fatalf("expected pending_activation, got %s", ent.State)
	}

	if _, err := h.Entitlements.ActivatePendingEntitlements(ctx, student.ID); !errors.Is(err, domain.ErrIdentityUnverified) {
		t.Fatalf("expected identity_unverified before verification, got %v", err)
	}

	userID := student.ID
	if _, err := h.Identity.Upsert(ctx, identitydomain.UpsertRequest{
		Email: student.Email, UserID: &userID, State: identitydomain.StateVerified,
	}); err != nil {
		t.Fatalf("verify: %v", err)
	}

	activated, err := h.Entitlements.ActivatePendingEntitlements(ctx, student.ID)
	if err != nil {
		t.Fatalf("activate: %v", err)
	}
	if activated != 1 {
		t.Fatalf("expected 1 activation, got %d", activated)
	}
	again, err := h.Entitlements.ActivatePendingEntitlements(ctx, student.ID)
	if err != nil {
		t.Fatalf("activate again: %v", err)
	}
	if again != 0 {
		t.Fatalf("expected second activation to be a no-op, got %d", again)
	}

	live, err := h.Entitlements.FindCourseEntitlement(ctx, student.ID, course.ID)
	if err != nil || live == nil {
		t.Fatalf("find: %v %v", live, err)
	}
	if live.State != domain.StateActive || live.ID != ent.ID {
		t.Fatalf("expected same record active, got %+v", live)
	}
}

func TestUpsertKeepsSingleLiveRecord(t *testing.T) {
	h := harness.New(t)
	ctx := h.Ctx()
	teacher := h.CreateUser(t, "teacher@example.com", userdomain.RoleTeacher, true)
	student := h.CreateUser(t, "student@example.com", userdomain.RoleStudent, true)
	course, _ := h.PublishedCourse(t, teacher, "Biology", 3000, 1)

	first, err := h.Entitlements.UpsertCourseEntitlement(ctx, domain.UpsertCourseRequest{
		UserID: student.ID, CourseID: course.ID, SourceID: 1,
	})
	if err != nil {
		t.Fatalf("first upsert: %v", err)
	}
	second, err := h.Entitlements.UpsertCourseEntitlement(ctx, domain.UpsertCourseRequest{
		UserID: student.ID, CourseID: course.ID, SourceID: 2, Activate: true,
	})
	if err != nil {
		t.Fatalf("second upsert: %v", err)
	}
	if first.ID != second.ID {
		t.Fatalf("expected the same record, got %s and %s", first.ID, second.ID)
	}
	if second.State != domain.StateActive || second.SourceID != 2 {
		t.Fatalf("expected active with refreshed source, got %+v", second)
	}

	items, err := h.Entitlements.List(ctx, domain.ListFilter{UserID: &student.ID})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(items) != 1 {
		t.Fatalf("expected one entitlement, got %d", len(items))
	}
}

func TestRevokeCourseAccessRemovesPurchaseAndIsTerminal(t *testing.T) {
	h := harness.New(t)
	ctx := h.Ctx()
	teacher := h.CreateUser(t, "teacher@example.com", userdomain.RoleTeacher, true)
	student := h.CreateUser(t, "student@example.com", userdomain.RoleStudent, true)
	course, lessons := h.PublishedCourse(t, teacher, "Chemistry", 3000, 1)

	if _, err := h.Entitlements.UpsertCourseEntitlement(ctx, domain.UpsertCourseRequest{
		UserID: student.ID, CourseID: course.ID, SourceID: 5, Activate: true,
	}); err != nil {
		t.Fatalf("grant: %v", err)
	}
	if _, _, err := h.Purchases.Materialize(ctx, purchasedomain.MaterializeRequest{
		UserID: student.ID, CourseID: course.ID, Price: 3000, Currency: "RUB", PaymentMethod: "mock",
	}); err != nil {
		t.Fatalf("materialize: %v", err)
	}
	if err := h.Purchases.RecordLessonOpen(ctx, student.ID, course.ID, lessons[0].ID); err != nil {
		t.Fatalf("open lesson: %v", err)
	}

	res, err := h.Entitlements.RevokeCourseAccess(ctx, student.ID, course.ID, "refund")
	if err != nil {
		t.Fatalf("revoke: %v", err)
	}
	if res.Entitlement == nil || res.Entitlement.State != domain.StateRevoked {
		t.Fatalf("expected revoked entitlement, got %+v", res.Entitlement)
	}
	if res.PurchasesRemoved != 1 {
		t.Fatalf("expected one purchase removed, got %d", res.PurchasesRemoved)
	}

	purchase, err := h.Purchases.FindForUserCourse(ctx, student.ID, course.ID)
	if err != nil || purchase != nil {
		t.Fatalf("expected purchase gone, got %v %v", purchase, err)
	}
	opened, err := h.Purchases.OpenedLessons(ctx, student.ID, course.ID)
	if err != nil || len(opened) != 0 {
		t.Fatalf("expected progress cleared, got %v %v", opened, err)
	}
	live, err := h.Entitlements.FindCourseEntitlement(ctx, student.ID, course.ID)
	if err != nil || live != nil {
		t.Fatalf("expected no live entitlement, got %v %v", live, err)
	}
}

func TestTransitionGraph(t *testing.T) {
	if err := domain.Transition(domain.StateRevoked, domain.StateActive); err == nil {
		t.Fatalf("expected revoked to be terminal")
	}
	if err := domain.Transition(domain.StatePendingActivation, domain.StateActive); err != nil {
		t.Fatalf("pending to active: %v", err)
	}
}

// racingRepo lets another writer move the record to revoked right before the
// service issues its own state update.
type racingRepo struct {
	domain.Repository
	db *gorm.DB
}

func (r racingRepo) UpdateState(ctx context.Context, db *gorm.DB, id snowflake.ID, from, to domain.State, now time.Time) (bool, error) {
	if err := r.db.Model(&domain.Entitlement{}).Where("id = ?", id).Update("state", domain.StateRevoked).Error; err != nil {
		return false, err
	}
	return r.Repository.UpdateState(ctx, db, id, from, to, now)
}

func racingService(t *testing.T, h *harness.Harness) domain.Service {
	t.Helper()
	node, err := snowflake.NewNode(901)
	if err != nil {
		t.Fatalf("node: %v", err)
	}
	return service.New(service.Params{
		DB: h.DB, Log: h.Log, GenID: node, Clock: h.Clock, Locker: h.Locker,
		Repo:     racingRepo{Repository: repository.Provide(), db: h.DB},
		Identity: h.Identity, Purchases: h.Purchases, Users: h.Users, Outbox: h.Outbox, Catalog: h.Catalog,
	})
}

func TestLostStateUpdateReportsConcurrentUpdate(t *testing.T) {
	h := harness.New(t)
	ctx := h.Ctx()
	teacher := h.CreateUser(t, "teacher@example.com", userdomain.RoleTeacher, true)
	student := h.CreateUser(t, "student@example.com", userdomain.RoleStudent, true)
	course, _ := h.PublishedCourse(t, teacher, "Physics", 3000, 1)

	if _, err := h.Entitlements.UpsertCourseEntitlement(ctx, domain.UpsertCourseRequest{
		UserID: student.ID, CourseID: course.ID, SourceID: 7, Activate: false,
	}); err != nil {
		t.Fatalf("grant: %v", err)
	}
	if _, _, err := h.Purchases.Materialize(ctx, purchasedomain.MaterializeRequest{
		UserID: student.ID, CourseID: course.ID, Price: 3000, Currency: "RUB", PaymentMethod: "mock",
	}); err != nil {
		t.Fatalf("materialize: %v", err)
	}

	racing := racingService(t, h)
	_, err := racing.UpsertCourseEntitlement(ctx, domain.UpsertCourseRequest{
		UserID: student.ID, CourseID: course.ID, SourceID: 8, Activate: true,
	})
	if !errors.Is(err, domain.ErrConcurrentUpdate) {
		t.Fatalf("expected concurrent update on activation, got %v", err)
	}
	live, err := h.Entitlements.FindCourseEntitlement(ctx, student.ID, course.ID)
	if err != nil || live != nil {
		t.Fatalf("expected the other writer's revocation to stand, got %v %v", live, err)
	}

	if _, err := h.Entitlements.UpsertCourseEntitlement(ctx, domain.UpsertCourseRequest{
		UserID: student.ID, CourseID: course.ID, SourceID: 9, Activate: true,
	}); err != nil {
		t.Fatalf("regrant: %v", err)
	}
	if _, err := racing.RevokeCourseAccess(ctx, student.ID, course.ID, "refund"); !errors.Is(err, domain.ErrConcurrentUpdate) {
		t.Fatalf("expected concurrent update on revoke, got %v", err)
	}
	purchase, err := h.Purchases.FindForUserCourse(ctx, student.ID, course.ID)
	if err != nil || purchase == nil {
		t.Fatalf("expected purchase untouched after a lost revoke, got %v %v", purchase, err)
	}
}
