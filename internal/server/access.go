package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	accessdomain "github.com/smallbiznis/coursemart/internal/access/domain"
)

func (s *Server) ListCourseAccess(c *gin.Context) {
	ctx := c.Request.Context()
	actor := actorFromContext(c)

	courses, err := s.catalog.ListCourses(ctx, true)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	decisions := make([]accessdomain.CourseDecision, 0, len(courses))
	for _, course := range courses {
		decision, err := s.access.ResolveCourseAccess(ctx, actor, course.ID)
		if err != nil {
			AbortWithError(c, err)
			return
		}
		decisions = append(decisions, decision)
	}
	c.JSON(http.StatusOK, gin.H{"data": decisions})
}

func (s *Server) GetCourseAccess(c *gin.Context) {
	courseID, ok := pathID(c, "id")
	if !ok {
		return
	}
	decision, err := s.access.ResolveCourseAccess(c.Request.Context(), actorFromContext(c), courseID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": decision})
}

func (s *Server) GetLessonAccess(c *gin.Context) {
	lessonID, ok := pathID(c, "id")
	if !ok {
		return
	}
	decision, err := s.access.ResolveLessonAccess(c.Request.Context(), actorFromContext(c), lessonID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": decision})
}

// OpenLesson records the opening when access is granted. A denied decision
// is still a 200 so clients can render the reason.
func (s *Server) OpenLesson(c *gin.Context) {
	lessonID, ok := pathID(c, "id")
	if !ok {
		return
	}
	decision, err := s.access.OpenLesson(c.Request.Context(), actorFromContext(c), lessonID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": decision})
}
