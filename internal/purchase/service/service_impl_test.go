package service

import (
	"context"
	"testing"
	"time"

	bnpldomain "github.com/smallbiznis/coursemart/internal/bnpl/domain"
	catalogdomain "github.com/smallbiznis/coursemart/internal/catalog/domain"
	catalogrepo "github.com/smallbiznis/coursemart/internal/catalog/repository"
	catalogsvc "github.com/smallbiznis/coursemart/internal/catalog/service"
	"github.com/smallbiznis/coursemart/internal/clock"
	"github.com/smallbiznis/coursemart/internal/config"
	"github.com/smallbiznis/coursemart/internal/lock"
	outboxdomain "github.com/smallbiznis/coursemart/internal/outbox/domain"
	outboxrepo "github.com/smallbiznis/coursemart/internal/outbox/repository"
	outboxsvc "github.com/smallbiznis/coursemart/internal/outbox/service"
	"github.com/smallbiznis/coursemart/internal/providers/email"
	"github.com/smallbiznis/coursemart/internal/purchase/domain"
	"github.com/smallbiznis/coursemart/internal/purchase/repository"
	"github.com/smallbiznis/coursemart/internal/testutil"
	userdomain "github.com/smallbiznis/coursemart/internal/user/domain"
	userrepo "github.com/smallbiznis/coursemart/internal/user/repository"
	usersvc "github.com/smallbiznis/coursemart/internal/user/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fixture struct {
	svc     domain.Service
	catalog catalogdomain.Service
	outbox  outboxdomain.Service
	clock   *clock.FakeClock
	student userdomain.User
	course  catalogdomain.Course
	lesson  catalogdomain.Lesson
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	ctx := context.Background()
	db := testutil.OpenDB(t,
		&domain.Purchase{}, &domain.LessonProgress{},
		&catalogdomain.Course{}, &catalogdomain.Lesson{},
		&userdomain.User{}, &outboxdomain.Message{},
	)
	node := testutil.Node(t)
	clk := clock.NewFakeClock(time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC))
	log := zap.NewNop()
	policy := config.NewStaticPolicyHolder(config.DefaultPolicyConfig())

	users := usersvc.New(usersvc.Params{DB: db, Log: log, GenID: node, Clock: clk, Repo: userrepo.Provide()})
	catalog := catalogsvc.New(catalogsvc.Params{DB: db, Log: log, GenID: node, Clock: clk, Repo: catalogrepo.Provide()})
	outbox := outboxsvc.New(outboxsvc.Params{
		DB: db, Log: log, GenID: node, Clock: clk, Policy: policy,
		Provider: email.NewLogProvider(log), Repo: outboxrepo.Provide(),
	})
	svc := New(Params{
		DB: db, Log: log, GenID: node, Clock: clk, Policy: policy,
		Locker: lock.NewLocalLocker(), Repo: repository.Provide(),
		Catalog: catalog, Users: users, Outbox: outbox,
	})

	teacher, err := users.Create(ctx, userdomain.CreateUserRequest{Email: "teach@example.com", Role: userdomain.RoleTeacher})
	require.NoError(t, err)
	student, err := users.Create(ctx, userdomain.CreateUserRequest{Email: "stud@example.com", EmailVerified: true})
	require.NoError(t, err)
	course, err := catalog.CreateCourse(ctx, catalogdomain.CreateCourseRequest{TeacherID: teacher.ID, Title: "Physics", Price: 4000, Currency: "USD"})
	require.NoError(t, err)
	lesson, err := catalog.AddLesson(ctx, teacher.ID, catalogdomain.CreateLessonRequest{CourseID: course.ID, Title: "Motion", Content: "v1"})
	require.NoError(t, err)
	_, err = catalog.AddLesson(ctx, teacher.ID, catalogdomain.CreateLessonRequest{CourseID: course.ID, Title: "Draft", Draft: true})
	require.NoError(t, err)

	return fixture{svc: svc, catalog: catalog, outbox: outbox, clock: clk, student: student, course: course, lesson: lesson}
}

func (f fixture) materialize(t *testing.T, method string) domain.Purchase {
	t.Helper()
	purchase, _, err := f.svc.Materialize(context.Background(), domain.MaterializeRequest{
		UserID:        f.student.ID,
		CourseID:      f.course.ID,
		Price:         f.course.Price,
		Currency:      f.course.Currency,
		PaymentMethod: method,
	})
	require.NoError(t, err)
	return purchase
}

func TestMaterializeIsIdempotentAndFreezesContent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first := f.materialize(t, "card")
	again, created, err := f.svc.Materialize(ctx, domain.MaterializeRequest{UserID: f.student.ID, CourseID: f.course.ID, PaymentMethod: "card"})
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, again.ID)

	stored, err := f.svc.Get(ctx, first.ID)
	require.NoError(t, err)
	assert.Nil(t, stored.Plan())
	assert.Equal(t, "Physics", stored.CourseSnapshot.Data().Title)
	require.Len(t, stored.LessonsSnapshot, 1)
	snap, ok := stored.SnapshotLesson(f.lesson.ID)
	assert.True(t, ok)
	assert.Equal(t, "v1", snap.Content)

	view := f.svc.View(stored)
	assert.Nil(t, view.BnplInstallmentsCount)
	assert.Equal(t, bnpldomain.AccessFull, view.AccessLevel)
}

func TestBnplPaymentsKeepViewInSync(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	purchase := f.materialize(t, PaymentMethodBnpl)
	require.NotNil(t, purchase.Plan())

	view, err := f.svc.PayInstallment(ctx, f.student.ID, purchase.ID)
	require.NoError(t, err)
	require.NotNil(t, view.BnplPaidCount)
	assert.Equal(t, 2, *view.BnplPaidCount)
	assert.Equal(t, view.Plan().PaidCount, *view.BnplPaidCount)
	assert.Equal(t, *view.Plan().NextPaymentDate, *view.BnplNextPaymentDate)

	_, err = f.svc.PayInstallment(ctx, 999, purchase.ID)
	assert.ErrorIs(t, err, domain.ErrNotOwner)

	view, err = f.svc.PayRemaining(ctx, f.student.ID, purchase.ID)
	require.NoError(t, err)
	assert.Equal(t, 4, *view.BnplPaidCount)
	assert.Equal(t, bnpldomain.PlanCompleted, view.BnplStatus)
	assert.Nil(t, view.BnplNextPaymentDate)

	_, err = f.svc.PayRemaining(ctx, f.student.ID, purchase.ID)
	assert.ErrorIs(t, err, bnpldomain.ErrPlanCompleted)

	queued, err := f.outbox.List(ctx, outboxdomain.ListFilter{RecipientEmail: f.student.Email})
	require.NoError(t, err)
	templates := map[outboxdomain.Template]int{}
	for _, msg := range queued {
		templates[msg.Template]++
	}
	assert.Equal(t, 1, templates[outboxdomain.TemplateBnplInstallmentPaid])
	assert.Equal(t, 1, templates[outboxdomain.TemplateBnplCompleted])
}

func TestViewReportsRestrictedAccess(t *testing.T) {
	f := newFixture(t)
	purchase := f.materialize(t, PaymentMethodBnpl)

	f.clock.Advance(25 * 24 * time.Hour)
	view := f.svc.View(purchase)
	assert.Equal(t, bnpldomain.FinancialRestricted, view.FinancialStatus)
	assert.Equal(t, 11, view.OverdueDays)
	assert.Equal(t, bnpldomain.AccessRestrictedNewContent, view.AccessLevel)
}

func TestRefreshSnapshotsAndRemoveAccessData(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	purchase := f.materialize(t, "mock")

	_, err := f.catalog.AddLesson(ctx, f.course.TeacherID, catalogdomain.CreateLessonRequest{CourseID: f.course.ID, Title: "Energy"})
	require.NoError(t, err)
	updated, err := f.svc.RefreshSnapshots(ctx, f.course.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), updated)

	stored, err := f.svc.Get(ctx, purchase.ID)
	require.NoError(t, err)
	assert.Len(t, stored.LessonsSnapshot, 2)

	require.NoError(t, f.svc.RecordLessonOpen(ctx, f.student.ID, f.course.ID, f.lesson.ID))
	require.NoError(t, f.svc.RecordLessonOpen(ctx, f.student.ID, f.course.ID, f.lesson.ID))
	opened, err := f.svc.OpenedLessons(ctx, f.student.ID, f.course.ID)
	require.NoError(t, err)
	assert.True(t, opened[f.lesson.ID])

	removed, err := f.svc.RemoveAccessData(ctx, f.student.ID, f.course.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)
	opened, err = f.svc.OpenedLessons(ctx, f.student.ID, f.course.ID)
	require.NoError(t, err)
	assert.Empty(t, opened)
	_, err = f.svc.Get(ctx, purchase.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
