package service_test

import (
	"testing"
	"time"

	"github.com/smallbiznis/coursemart/internal/access/domain"
	bnpldomain "github.com/smallbiznis/coursemart/internal/bnpl/domain"
	checkoutdomain "github.com/smallbiznis/coursemart/internal/checkout/domain"
	checkoutflowdomain "github.com/smallbiznis/coursemart/internal/checkoutflow/domain"
	"github.com/smallbiznis/coursemart/internal/testutil/harness"
	userdomain "github.com/smallbiznis/coursemart/internal/user/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAnonymousSeesPreviewLessonOnly(t *testing.T) {
	h := harness.New(t)
	teacher := h.CreateUser(t, "teacher@example.com", userdomain.RoleTeacher, true)
	course, lessons := h.PublishedCourse(t, teacher, "History", 3000, 2)

	decision, err := h.Access.ResolveCourseAccess(h.Ctx(), userdomain.Actor{}, course.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ModePreview, decision.Mode)
	assert.Equal(t, domain.ReasonAnonymous, decision.Reason)

	first, err := h.Access.OpenLesson(h.Ctx(), userdomain.Actor{}, lessons[0].ID)
	require.NoError(t, err)
	assert.True(t, first.Allowed)
	require.NotNil(t, first.Lesson)
	assert.False(t, first.PreviouslyOpened)

	second, err := h.Access.ResolveLessonAccess(h.Ctx(), userdomain.Actor{}, lessons[1].ID)
	require.NoError(t, err)
	assert.False(t, second.Allowed)
	assert.Nil(t, second.Lesson)
}

func TestTeacherAlwaysHasFullAccess(t *testing.T) {
	h := harness.New(t)
	teacher := h.CreateUser(t, "teacher@example.com", userdomain.RoleTeacher, true)
	course, _ := h.PublishedCourse(t, teacher, "Music", 3000, 1)

	decision, err := h.Access.ResolveCourseAccess(h.Ctx(), harness.Actor(teacher), course.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ModeFull, decision.Mode)
}

func TestBuyerGetsFullAccessAndProgressIsRecorded(t *testing.T) {
	h := harness.New(t)
	teacher := h.CreateUser(t, "teacher@example.com", userdomain.RoleTeacher, true)
	student := h.CreateUser(t, "student@example.com", userdomain.RoleStudent, true)
	course, lessons := h.PublishedCourse(t, teacher, "Art", 3000, 2)
	actor := harness.Actor(student)

	before, err := h.Access.ResolveCourseAccess(h.Ctx(), actor, course.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ReasonEntitlementMissing, before.Reason)

	_, err = h.Flow.StartCheckout(h.Ctx(), actor, checkoutflowdomain.StartRequest{
		CourseID: course.ID, Method: checkoutdomain.MethodMock, ConsentAccepted: true,
	})
	require.NoError(t, err)

	after, err := h.Access.ResolveCourseAccess(h.Ctx(), actor, course.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ModeFull, after.Mode)
	assert.Equal(t, bnpldomain.AccessFull, after.AccessLevel)

	opened, err := h.Access.OpenLesson(h.Ctx(), actor, lessons[1].ID)
	require.NoError(t, err)
	assert.True(t, opened.Allowed)
	assert.True(t, opened.PreviouslyOpened)
	assert.Equal(t, "content", opened.Lesson.Content)
}

func TestOverdueBnplRestrictsNewLessons(t *testing.T) {
	h := harness.New(t)
	teacher := h.CreateUser(t, "teacher@example.com", userdomain.RoleTeacher, true)
	student := h.CreateUser(t, "student@example.com", userdomain.RoleStudent, true)
	course, lessons := h.PublishedCourse(t, teacher, "Drama", 4000, 3)
	actor := harness.Actor(student)

	installments := 4
	_, err := h.Flow.StartCheckout(h.Ctx(), actor, checkoutflowdomain.StartRequest{
		CourseID: course.ID, Method: checkoutdomain.MethodBnpl, BnplInstallmentsCount: &installments, ConsentAccepted: true,
	})
	require.NoError(t, err)

	_, err = h.Access.OpenLesson(h.Ctx(), actor, lessons[0].ID)
	require.NoError(t, err)

	// second installment is due on day 14; five days later the plan is restricted
	h.Clock.Advance(19 * 24 * time.Hour)

	decision, err := h.Access.ResolveCourseAccess(h.Ctx(), actor, course.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ModeFull, decision.Mode)
	assert.Equal(t, bnpldomain.AccessRestrictedNewContent, decision.AccessLevel)
	assert.Equal(t, 5, decision.OverdueDays)

	seen, err := h.Access.ResolveLessonAccess(h.Ctx(), actor, lessons[0].ID)
	require.NoError(t, err)
	assert.True(t, seen.Allowed)
	assert.True(t, seen.PreviouslyOpened)

	fresh, err := h.Access.OpenLesson(h.Ctx(), actor, lessons[2].ID)
	require.NoError(t, err)
	assert.False(t, fresh.Allowed)
	assert.Equal(t, domain.ReasonBnplRestricted, fresh.Reason)

	opened, err := h.Purchases.OpenedLessons(h.Ctx(), student.ID, course.ID)
	require.NoError(t, err)
	assert.Len(t, opened, 1)
}
