package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	auditdomain "github.com/smallbiznis/coursemart/internal/audit/domain"
	outboxdomain "github.com/smallbiznis/coursemart/internal/outbox/domain"
	reconciliationdomain "github.com/smallbiznis/coursemart/internal/reconciliation/domain"
	userdomain "github.com/smallbiznis/coursemart/internal/user/domain"
	"github.com/smallbiznis/coursemart/pkg/db/pagination"
)

type runReconciliationRequest struct {
	UserID          flexibleID `json:"userId"`
	CourseID        flexibleID `json:"courseId"`
	DryRun          *bool      `json:"dryRun"`
	IncludeHighRisk bool       `json:"includeHighRisk"`
}

type listOutboxQuery struct {
	Status string `form:"status"`
	Email  string `form:"email"`
	Limit  int    `form:"limit"`
}

type listSupportActionsQuery struct {
	pagination.Pagination
	Action string `form:"action"`
}

func (s *Server) ListReconciliationIssues(c *gin.Context) {
	userID, ok := queryID(c, "userId")
	if !ok {
		return
	}
	courseID, ok := queryID(c, "courseId")
	if !ok {
		return
	}

	issues, err := s.reconciliation.Scan(c.Request.Context(), reconciliationdomain.ScanFilter{
		UserID:   userID,
		CourseID: courseID,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": issues})
}

// RunReconciliation applies fixes. It is a dry run unless dryRun=false is
// sent explicitly.
func (s *Server) RunReconciliation(c *gin.Context) {
	var req runReconciliationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	userID, err := parseOptionalSnowflakeID(string(req.UserID))
	if err != nil {
		AbortWithError(c, newValidationError("userId", "invalid_user_id", "invalid userId"))
		return
	}
	courseID, err := parseOptionalSnowflakeID(string(req.CourseID))
	if err != nil {
		AbortWithError(c, newValidationError("courseId", "invalid_course_id", "invalid courseId"))
		return
	}
	dryRun := true
	if req.DryRun != nil {
		dryRun = *req.DryRun
	}

	actor := actorFromContext(c)
	actorID := actor.UserID()
	result, err := s.reconciliation.Run(c.Request.Context(), reconciliationdomain.RunRequest{
		Filter:          reconciliationdomain.ScanFilter{UserID: userID, CourseID: courseID},
		DryRun:          dryRun,
		IncludeHighRisk: req.IncludeHighRisk,
		ActorType:       auditActorType(actor),
		ActorID:         &actorID,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": result})
}

func (s *Server) SelfHealAccess(c *gin.Context) {
	result, err := s.reconciliation.SelfHeal(c.Request.Context(), actorFromContext(c))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": result})
}

func (s *Server) ListOutbox(c *gin.Context) {
	var query listOutboxQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	messages, err := s.outbox.List(c.Request.Context(), outboxdomain.ListFilter{
		Status:         outboxdomain.Status(strings.TrimSpace(query.Status)),
		RecipientEmail: strings.TrimSpace(query.Email),
		Limit:          query.Limit,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": messages})
}

func (s *Server) RetryOutbox(c *gin.Context) {
	messageID, ok := pathID(c, "id")
	if !ok {
		return
	}
	message, err := s.outbox.Retry(c.Request.Context(), messageID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": message})
}

func (s *Server) ListSupportActions(c *gin.Context) {
	var query listSupportActionsQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	userID, ok := queryID(c, "userId")
	if !ok {
		return
	}

	resp, err := s.auditSvc.List(c.Request.Context(), auditdomain.ListRequest{
		Pagination: query.Pagination,
		Action:     strings.TrimSpace(query.Action),
		UserID:     userID,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": resp.Actions, "page_info": resp.PageInfo})
}

func auditActorType(actor userdomain.Actor) auditdomain.ActorType {
	switch actor.Role() {
	case userdomain.RoleSupport:
		return auditdomain.ActorTypeSupport
	case userdomain.RoleTeacher:
		return auditdomain.ActorTypeTeacher
	case userdomain.RoleStudent:
		return auditdomain.ActorTypeStudent
	default:
		return auditdomain.ActorTypeSystem
	}
}
