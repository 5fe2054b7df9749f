package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gosimple/slug"
	"github.com/smallbiznis/coursemart/internal/catalog/domain"
	"github.com/smallbiznis/coursemart/internal/clock"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Clock clock.Clock
	Repo  domain.Repository
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	clock clock.Clock
	repo  domain.Repository
}

func New(p Params) domain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("catalog.service"),
		genID: p.GenID,
		clock: p.Clock,
		repo:  p.Repo,
	}
}

func (s *Service) CreateCourse(ctx context.Context, req domain.CreateCourseRequest) (domain.Course, error) {
	if req.TeacherID == 0 {
		return domain.Course{}, domain.ErrInvalidTeacher
	}
	title := strings.TrimSpace(req.Title)
	if title == "" {
		return domain.Course{}, domain.ErrInvalidTitle
	}
	if req.Price <= 0 {
		return domain.Course{}, domain.ErrInvalidPrice
	}
	currency := strings.ToUpper(strings.TrimSpace(req.Currency))
	if len(currency) != 3 {
		return domain.Course{}, domain.ErrInvalidCurrency
	}

	courseSlug, err := s.uniqueSlug(ctx, title)
	if err != nil {
		return domain.Course{}, err
	}

	now := s.clock.Now()
	course := domain.Course{
		ID:          s.genID.Generate(),
		Slug:        courseSlug,
		Title:       title,
		Description: strings.TrimSpace(req.Description),
		TeacherID:   req.TeacherID,
		Price:       req.Price,
		Currency:    currency,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.repo.InsertCourse(ctx, s.db, &course); err != nil {
		return domain.Course{}, err
	}
	return course, nil
}

func (s *Service) uniqueSlug(ctx context.Context, title string) (string, error) {
	base := slug.Make(title)
	if base == "" {
		base = "course"
	}
	candidate := base
	for i := 2; ; i++ {
		exists, err := s.repo.SlugExists(ctx, s.db, candidate)
		if err != nil {
			return "", err
		}
		if !exists {
			return candidate, nil
		}
		candidate = fmt.Sprintf("%s-%d", base, i)
	}
}

func (s *Service) AddLesson(ctx context.Context, teacherID snowflake.ID, req domain.CreateLessonRequest) (domain.Lesson, error) {
	course, err := s.ownedCourse(ctx, teacherID, req.CourseID)
	if err != nil {
		return domain.Lesson{}, err
	}
	title := strings.TrimSpace(req.Title)
	if title == "" {
		return domain.Lesson{}, domain.ErrInvalidTitle
	}

	order := req.Order
	if order <= 0 {
		order, err = s.repo.NextLessonOrder(ctx, s.db, course.ID)
		if err != nil {
			return domain.Lesson{}, err
		}
	}

	now := s.clock.Now()
	lesson := domain.Lesson{
		ID:        s.genID.Generate(),
		CourseID:  course.ID,
		Order:     order,
		Title:     title,
		Content:   req.Content,
		Published: !req.Draft,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.repo.InsertLesson(ctx, s.db, &lesson); err != nil {
		return domain.Lesson{}, err
	}
	return lesson, nil
}

func (s *Service) Publish(ctx context.Context, teacherID, courseID snowflake.ID) (domain.Course, error) {
	course, err := s.ownedCourse(ctx, teacherID, courseID)
	if err != nil {
		return domain.Course{}, err
	}
	now := s.clock.Now()
	if err := s.repo.MarkPublished(ctx, s.db, course.ID, now); err != nil {
		return domain.Course{}, err
	}
	course.Published = true
	course.PublishedAt = &now
	course.UpdatedAt = now
	s.log.Info("course published", zap.String("course_id", course.ID.String()))
	return course, nil
}

func (s *Service) ownedCourse(ctx context.Context, teacherID, courseID snowflake.ID) (domain.Course, error) {
	course, err := s.GetCourse(ctx, courseID)
	if err != nil {
		return domain.Course{}, err
	}
	if course.TeacherID != teacherID {
		return domain.Course{}, domain.ErrNotCourseOwner
	}
	return course, nil
}

func (s *Service) GetCourse(ctx context.Context, id snowflake.ID) (domain.Course, error) {
	course, err := s.repo.FindCourse(ctx, s.db, id)
	if err != nil {
		return domain.Course{}, err
	}
	if course == nil {
		return domain.Course{}, domain.ErrCourseNotFound
	}
	return *course, nil
}

func (s *Service) ListCourses(ctx context.Context, publishedOnly bool) ([]domain.Course, error) {
	return s.repo.ListCourses(ctx, s.db, publishedOnly)
}

func (s *Service) GetLesson(ctx context.Context, id snowflake.ID) (domain.Lesson, error) {
	lesson, err := s.repo.FindLesson(ctx, s.db, id)
	if err != nil {
		return domain.Lesson{}, err
	}
	if lesson == nil {
		return domain.Lesson{}, domain.ErrLessonNotFound
	}
	return *lesson, nil
}

func (s *Service) ListLessons(ctx context.Context, courseID snowflake.ID) ([]domain.Lesson, error) {
	return s.repo.ListLessons(ctx, s.db, courseID)
}
