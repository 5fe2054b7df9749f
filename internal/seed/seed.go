package seed

import (
	"context"
	"errors"
	"fmt"

	"github.com/bwmarrin/snowflake"
	"github.com/gosimple/slug"
	catalogdomain "github.com/smallbiznis/coursemart/internal/catalog/domain"
	identitydomain "github.com/smallbiznis/coursemart/internal/identity/domain"
	userdomain "github.com/smallbiznis/coursemart/internal/user/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const (
	TeacherEmail = "teacher@coursemart.local"
	SupportEmail = "support@coursemart.local"
	StudentEmail = "student@coursemart.local"
)

type demoCourse struct {
	Title       string
	Description string
	Price       int64
	Lessons     []string
}

var demoCourses = []demoCourse{
	{
		Title:       "Practical Go Services",
		Description: "Build and operate HTTP services in Go.",
		Price:       4990,
		Lessons:     []string{"Project layout", "HTTP handlers", "Persistence", "Background jobs"},
	},
	{
		Title:       "Payments Engineering Basics",
		Description: "Idempotency, webhooks and reconciliation.",
		Price:       7990,
		Lessons:     []string{"Idempotency keys", "Webhook signatures", "Event ledgers", "Reconciliation"},
	},
}

type Params struct {
	fx.In

	Log      *zap.Logger
	Users    userdomain.Service
	Identity identitydomain.Service
	Catalog  catalogdomain.Service
}

type Seeder struct {
	log      *zap.Logger
	users    userdomain.Service
	identity identitydomain.Service
	catalog  catalogdomain.Service
}

func New(p Params) *Seeder {
	return &Seeder{
		log:      p.Log.Named("seed"),
		users:    p.Users,
		identity: p.Identity,
		catalog:  p.Catalog,
	}
}

type Result struct {
	Users   []userdomain.User      `json:"users"`
	Courses []catalogdomain.Course `json:"courses"`
}

// EnsureDemo creates the demo accounts and a published catalogue. Existing
// accounts and courses with the same slug are left untouched.
func (s *Seeder) EnsureDemo(ctx context.Context) (Result, error) {
	var res Result

	teacher, err := s.ensureUser(ctx, TeacherEmail, "Demo Teacher", userdomain.RoleTeacher, true)
	if err != nil {
		return res, err
	}
	support, err := s.ensureUser(ctx, SupportEmail, "Demo Support", userdomain.RoleSupport, true)
	if err != nil {
		return res, err
	}
	student, err := s.ensureUser(ctx, StudentEmail, "Demo Student", userdomain.RoleStudent, true)
	if err != nil {
		return res, err
	}
	res.Users = []userdomain.User{teacher, support, student}

	existing, err := s.catalog.ListCourses(ctx, false)
	if err != nil {
		return res, err
	}
	bySlug := make(map[string]catalogdomain.Course, len(existing))
	for _, course := range existing {
		bySlug[course.Slug] = course
	}

	for _, demo := range demoCourses {
		if course, ok := bySlug[slug.Make(demo.Title)]; ok {
			res.Courses = append(res.Courses, course)
			continue
		}
		course, err := s.createCourse(ctx, teacher.ID, demo)
		if err != nil {
			return res, fmt.Errorf("seed course %q: %w", demo.Title, err)
		}
		res.Courses = append(res.Courses, course)
	}

	s.log.Info("demo data ready",
		zap.Int("users", len(res.Users)),
		zap.Int("courses", len(res.Courses)),
	)
	return res, nil
}

func (s *Seeder) ensureUser(ctx context.Context, email, name string, role userdomain.Role, verified bool) (userdomain.User, error) {
	user, err := s.users.GetByEmail(ctx, email)
	switch {
	case err == nil:
	case errors.Is(err, userdomain.ErrNotFound):
		user, err = s.users.Create(ctx, userdomain.CreateUserRequest{
			Email:         email,
			Name:          name,
			Phone:         "+10000000000",
			Role:          role,
			EmailVerified: verified,
		})
		if err != nil {
			return userdomain.User{}, err
		}
	default:
		return userdomain.User{}, err
	}
	if !verified {
		return user, nil
	}

	userID := user.ID
	if _, err := s.identity.Upsert(ctx, identitydomain.UpsertRequest{
		Email:  user.Email,
		UserID: &userID,
		State:  identitydomain.StateVerified,
	}); err != nil {
		return userdomain.User{}, err
	}
	return user, nil
}

func (s *Seeder) createCourse(ctx context.Context, teacherID snowflake.ID, demo demoCourse) (catalogdomain.Course, error) {
	course, err := s.catalog.CreateCourse(ctx, catalogdomain.CreateCourseRequest{
		TeacherID:   teacherID,
		Title:       demo.Title,
		Description: demo.Description,
		Price:       demo.Price,
		Currency:    "RUB",
	})
	if err != nil {
		return catalogdomain.Course{}, err
	}
	for i, title := range demo.Lessons {
		_, err := s.catalog.AddLesson(ctx, teacherID, catalogdomain.CreateLessonRequest{
			CourseID: course.ID,
			Title:    title,
			Content:  fmt.Sprintf("%s: lesson %d.", demo.Title, i+1),
			Order:    i + 1,
		})
		if err != nil {
			return catalogdomain.Course{}, err
		}
	}
	return s.catalog.Publish(ctx, teacherID, course.ID)
}
