package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/smallbiznis/coursemart/internal/catalog/domain"
	"github.com/smallbiznis/coursemart/internal/catalog/repository"
	"github.com/smallbiznis/coursemart/internal/clock"
	"github.com/smallbiznis/coursemart/internal/testutil"
	"go.uber.org/zap"
)

func newTestService(t *testing.T) domain.Service {
	t.Helper()
	return New(Params{
		DB:    testutil.OpenDB(t, &domain.Course{}, &domain.Lesson{}),
		Log:   zap.NewNop(),
		GenID: testutil.Node(t),
		Clock: clock.NewFakeClock(time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)),
		Repo:  repository.Provide(),
	})
}

func TestCreateCourseSlugsAreUnique(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	first, err := svc.CreateCourse(ctx, domain.CreateCourseRequest{TeacherID: 7, Title: "Go for Teachers!", Price: 1200, Currency: "usd"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	second, err := svc.CreateCourse(ctx, domain.CreateCourseRequest{TeacherID: 7, Title: "Go for teachers", Price: 1200, Currency: "USD"})
	if err != nil {
		t.Fatalf("create second: %v", err)
	}
	if first.Slug != "go-for-teachers" || second.Slug != "go-for-teachers-2" {
		t.Fatalf("unexpected slugs %q %q", first.Slug, second.Slug)
	}
	if first.Currency != "USD" || first.Published {
		t.Fatalf("unexpected course %+v", first)
	}
}

func TestCreateCourseValidation(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	cases := []struct {
		req  domain.CreateCourseRequest
		want error
	}{
		{domain.CreateCourseRequest{Title: "x", Price: 1, Currency: "USD"}, domain.ErrInvalidTeacher},
		{domain.CreateCourseRequest{TeacherID: 1, Price: 1, Currency: "USD"}, domain.ErrInvalidTitle},
		{domain.CreateCourseRequest{TeacherID: 1, Title: "x", Currency: "USD"}, domain.ErrInvalidPrice},
		{domain.CreateCourseRequest{TeacherID: 1, Title: "x", Price: 1, Currency: "US"}, domain.ErrInvalidCurrency},
	}
	for _, tc := range cases {
		if _, err := svc.CreateCourse(ctx, tc.req); !errors.Is(err, tc.want) {
			t.Fatalf("expected %v, got %v", tc.want, err)
		}
	}
}

func TestLessonsOrderAndPublish(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	course, err := svc.CreateCourse(ctx, domain.CreateCourseRequest{TeacherID: 7, Title: "Algebra", Price: 500, Currency: "EUR"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := svc.AddLesson(ctx, 8, domain.CreateLessonRequest{CourseID: course.ID, Title: "Intro"}); !errors.Is(err, domain.ErrNotCourseOwner) {
		t.Fatalf("expected ErrNotCourseOwner, got %v", err)
	}
	first, err := svc.AddLesson(ctx, 7, domain.CreateLessonRequest{CourseID: course.ID, Title: "Intro"})
	if err != nil {
		t.Fatalf("add lesson: %v", err)
	}
	second, err := svc.AddLesson(ctx, 7, domain.CreateLessonRequest{CourseID: course.ID, Title: "Groups", Draft: true})
	if err != nil {
		t.Fatalf("add lesson: %v", err)
	}
	if first.Order != 1 || second.Order != 2 || second.Published {
		t.Fatalf("unexpected lessons %+v %+v", first, second)
	}

	published, err := svc.Publish(ctx, 7, course.ID)
	if err != nil {
		t.Fatalf("publish: %v", err)
	}
	if !published.Published || published.PublishedAt == nil {
		t.Fatalf("expected published course")
	}
	listed, err := svc.ListCourses(ctx, true)
	if err != nil || len(listed) != 1 {
		t.Fatalf("expected one published course, got %d %v", len(listed), err)
	}
}
