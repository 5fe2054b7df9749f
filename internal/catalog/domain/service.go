package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
)

type CreateCourseRequest struct {
	TeacherID   snowflake.ID
	Title       string
	Description string
	Price       int64
	Currency    string
}

type CreateLessonRequest struct {
	CourseID snowflake.ID
	Title    string
	Content  string
	Order    int
	Draft    bool
}

type Service interface {
	CreateCourse(ctx context.Context, req CreateCourseRequest) (Course, error)
	AddLesson(ctx context.Context, teacherID snowflake.ID, req CreateLessonRequest) (Lesson, error)
	Publish(ctx context.Context, teacherID, courseID snowflake.ID) (Course, error)
	GetCourse(ctx context.Context, id snowflake.ID) (Course, error)
	ListCourses(ctx context.Context, publishedOnly bool) ([]Course, error)
	GetLesson(ctx context.Context, id snowflake.ID) (Lesson, error)
	ListLessons(ctx context.Context, courseID snowflake.ID) ([]Lesson, error)
}

var (
	ErrInvalidTitle    = errors.New("invalid_title")
	ErrInvalidPrice    = errors.New("invalid_price")
	ErrInvalidCurrency = errors.New("invalid_currency")
	ErrInvalidTeacher  = errors.New("invalid_teacher")
	ErrNotCourseOwner  = errors.New("not_course_owner")
	ErrCourseNotFound  = errors.New("course_not_found")
	ErrLessonNotFound  = errors.New("lesson_not_found")
)
