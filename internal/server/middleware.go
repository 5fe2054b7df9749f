package server

import (
	"errors"
	"math"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	obscontext "github.com/smallbiznis/coursemart/internal/observability/context"
	"github.com/smallbiznis/coursemart/internal/observability/logger"
	userdomain "github.com/smallbiznis/coursemart/internal/user/domain"
	"go.uber.org/zap"
)

const (
	// HeaderUserID is set by the upstream auth proxy for logged-in users.
	HeaderUserID = "X-User-Id"

	contextActorKey = "actor"
)

// ResolveActor loads the calling user from X-User-Id. A missing header means
// an anonymous actor; an unknown id is rejected.
func (s *Server) ResolveActor() gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := strings.TrimSpace(c.GetHeader(HeaderUserID))
		if raw == "" {
			c.Set(contextActorKey, userdomain.Actor{})
			c.Next()
			return
		}

		id, err := parseOptionalSnowflakeID(raw)
		if err != nil || id == nil {
			AbortWithError(c, ErrUnauthorized)
			return
		}
		user, err := s.users.GetByID(c.Request.Context(), *id)
		if err != nil {
			if errors.Is(err, userdomain.ErrNotFound) {
				AbortWithError(c, ErrUnauthorized)
				return
			}
			AbortWithError(c, err)
			return
		}

		c.Set(contextActorKey, userdomain.Actor{User: &user})
		c.Request = c.Request.WithContext(obscontext.WithActor(c.Request.Context(), string(user.Role), user.ID.String()))
		c.Next()
	}
}

func actorFromContext(c *gin.Context) userdomain.Actor {
	if v, ok := c.Get(contextActorKey); ok {
		if actor, ok := v.(userdomain.Actor); ok {
			return actor
		}
	}
	return userdomain.Actor{}
}

// RequireUser rejects anonymous callers.
func RequireUser() gin.HandlerFunc {
	return func(c *gin.Context) {
		if actorFromContext(c).Anonymous() {
			AbortWithError(c, ErrUnauthorized)
			return
		}
		c.Next()
	}
}

func (s *Server) authorize(object string, action string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := s.authzSvc.Authorize(c.Request.Context(), actorFromContext(c), object, action); err != nil {
			AbortWithError(c, err)
			return
		}
		c.Next()
	}
}

// PublicRateLimit budgets requests per client address for one endpoint.
func (s *Server) PublicRateLimit(endpoint string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !s.publicLimiter.Enabled() {
			c.Next()
			return
		}

		ctx := c.Request.Context()
		res, err := s.publicLimiter.Allow(ctx, endpoint, c.ClientIP())
		if err != nil {
			// Limiter errors never block a request.
			logger.FromContext(ctx).Warn("rate limit check failed",
				zap.String("endpoint", endpoint),
				zap.Error(err),
			)
			c.Next()
			return
		}
		if !res.Allowed {
			if res.RetryAfter > 0 {
				c.Header("Retry-After", strconv.Itoa(int(math.Ceil(res.RetryAfter.Seconds()))))
			}
			s.obsMetrics.RecordRateLimited(ctx, endpoint)
			AbortWithError(c, ErrRateLimited)
			return
		}
		c.Next()
	}
}
