package server

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	idempotencydomain "github.com/smallbiznis/coursemart/internal/idempotency/domain"
	"github.com/smallbiznis/coursemart/internal/lock"
	"github.com/smallbiznis/coursemart/internal/observability/logger"
	"go.uber.org/zap"
)

const (
	HeaderIdempotencyKey      = "X-Idempotency-Key"
	HeaderIdempotencyReplayed = "Idempotent-Replayed"

	idempotencyLockTTL = 30 * time.Second
)

type captureWriter struct {
	gin.ResponseWriter
	body bytes.Buffer
}

func (w *captureWriter) Write(b []byte) (int, error) {
	w.body.Write(b)
	return w.ResponseWriter.Write(b)
}

func (w *captureWriter) WriteString(s string) (int, error) {
	w.body.WriteString(s)
	return w.ResponseWriter.WriteString(s)
}

// Idempotent replays the stored response for a repeated X-Idempotency-Key.
// The same key with a different method, path or body is a conflict. Requests
// without the header pass through untouched.
func (s *Server) Idempotent(endpoint string) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := strings.TrimSpace(c.GetHeader(HeaderIdempotencyKey))
		if key == "" {
			c.Next()
			return
		}

		body, err := io.ReadAll(c.Request.Body)
		if err != nil {
			AbortWithError(c, invalidRequestError())
			return
		}
		c.Request.Body = io.NopCloser(bytes.NewReader(body))

		ctx := c.Request.Context()
		fp := idempotencydomain.Fingerprint{
			Key:      key,
			Method:   c.Request.Method,
			Path:     c.Request.URL.Path,
			BodyHash: idempotencydomain.BodyHash(body),
		}

		if s.replay(c, endpoint, fp) {
			return
		}

		err = lock.TryWithLock(ctx, s.locker, "idempotency:"+key, idempotencyLockTTL, func(ctx context.Context) error {
			// A concurrent request may have finished while we waited for the lease.
			if s.replay(c, endpoint, fp) {
				return nil
			}

			writer := &captureWriter{ResponseWriter: c.Writer}
			c.Writer = writer
			c.Next()

			status := writer.Status()
			if len(c.Errors) > 0 || !writer.Written() || status >= http.StatusInternalServerError {
				return nil
			}
			if err := s.idempotency.Save(context.WithoutCancel(ctx), fp, idempotencydomain.Response{
				StatusCode:  status,
				ContentType: writer.Header().Get("Content-Type"),
				Body:        writer.body.Bytes(),
			}); err != nil {
				logger.FromContext(ctx).Warn("idempotency save failed",
					zap.String("endpoint", endpoint),
					zap.Error(err),
				)
			}
			return nil
		})
		if errors.Is(err, lock.ErrNotAcquired) {
			AbortWithError(c, idempotencydomain.ErrInFlight)
			return
		}
		if err != nil {
			AbortWithError(c, err)
		}
	}
}

// replay writes the stored response and reports whether the request is done,
// either replayed or aborted with an error.
func (s *Server) replay(c *gin.Context, endpoint string, fp idempotencydomain.Fingerprint) bool {
	ctx := c.Request.Context()
	record, err := s.idempotency.Lookup(ctx, fp)
	if err != nil {
		AbortWithError(c, err)
		return true
	}
	if record == nil {
		return false
	}

	s.obsMetrics.RecordIdempotencyReplay(ctx, endpoint)
	contentType := record.ContentType
	if contentType == "" {
		contentType = "application/json; charset=utf-8"
	}
	c.Header(HeaderIdempotencyReplayed, "true")
	c.Data(record.StatusCode, contentType, record.ResponseBody)
	c.Abort()
	return true
}
