package server

import (
	"net/http"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	catalogdomain "github.com/smallbiznis/coursemart/internal/catalog/domain"
	"github.com/smallbiznis/coursemart/internal/observability/logger"
	"go.uber.org/zap"
)

type createCourseRequest struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Price       int64  `json:"price"`
	Currency    string `json:"currency"`
}

type addLessonRequest struct {
	Title   string `json:"title"`
	Content string `json:"content"`
	Order   int    `json:"order"`
	Draft   bool   `json:"draft"`
}

// lessonOutline is the public shape of a lesson; content goes through the
// access endpoints.
type lessonOutline struct {
	ID    snowflake.ID `json:"id"`
	Order int          `json:"order"`
	Title string       `json:"title"`
}

type courseDetail struct {
	catalogdomain.Course
	Lessons []lessonOutline `json:"lessons"`
}

func (s *Server) CreateCourse(c *gin.Context) {
	var req createCourseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	course, err := s.catalog.CreateCourse(c.Request.Context(), catalogdomain.CreateCourseRequest{
		TeacherID:   actorFromContext(c).UserID(),
		Title:       strings.TrimSpace(req.Title),
		Description: strings.TrimSpace(req.Description),
		Price:       req.Price,
		Currency:    strings.TrimSpace(req.Currency),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"data": course})
}

func (s *Server) AddLesson(c *gin.Context) {
	courseID, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req addLessonRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	lesson, err := s.catalog.AddLesson(c.Request.Context(), actorFromContext(c).UserID(), catalogdomain.CreateLessonRequest{
		CourseID: courseID,
		Title:    strings.TrimSpace(req.Title),
		Content:  req.Content,
		Order:    req.Order,
		Draft:    req.Draft,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"data": lesson})
}

// PublishCourse publishes the course and refreshes the snapshots held by
// existing purchases.
func (s *Server) PublishCourse(c *gin.Context) {
	courseID, ok := pathID(c, "id")
	if !ok {
		return
	}
	ctx := c.Request.Context()

	course, err := s.catalog.Publish(ctx, actorFromContext(c).UserID(), courseID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	refreshed, err := s.purchases.RefreshSnapshots(ctx, course.ID)
	if err != nil {
		logger.FromContext(ctx).Warn("purchase snapshot refresh failed",
			zap.String("course_id", course.ID.String()),
			zap.Error(err),
		)
	}

	c.JSON(http.StatusOK, gin.H{"data": course, "refreshedPurchases": refreshed})
}

func (s *Server) ListCourses(c *gin.Context) {
	courses, err := s.catalog.ListCourses(c.Request.Context(), true)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": courses})
}

func (s *Server) GetCourse(c *gin.Context) {
	courseID, ok := pathID(c, "id")
	if !ok {
		return
	}
	ctx := c.Request.Context()

	course, err := s.catalog.GetCourse(ctx, courseID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	actor := actorFromContext(c)
	if !course.Published && actor.UserID() != course.TeacherID && !actor.IsStaff() {
		AbortWithError(c, catalogdomain.ErrCourseNotFound)
		return
	}

	lessons, err := s.catalog.ListLessons(ctx, course.ID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	outline := make([]lessonOutline, 0, len(lessons))
	for _, lesson := range lessons {
		if !lesson.Published && actor.UserID() != course.TeacherID {
			continue
		}
		outline = append(outline, lessonOutline{ID: lesson.ID, Order: lesson.Order, Title: lesson.Title})
	}

	c.JSON(http.StatusOK, gin.H{"data": courseDetail{Course: course, Lessons: outline}})
}
