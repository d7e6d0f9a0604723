package devserver

import (
	"crypto/subtle"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/crypto/bcrypt"

	"github.com/sukryu/gorm-oso/pkg/errors"
)

// ErrorMiddleware renders the last handler error as
// {"error": {"code", "message", "reason"}}.
func ErrorMiddleware(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) == 0 {
			return
		}
		err := c.Errors.Last().Err

		var se *errors.StatusError
		if !errors.As(err, &se) {
			logger.Error("unhandled error", "path", c.Request.URL.Path, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": errors.ErrInternal})
			return
		}

		if se.Code >= http.StatusInternalServerError {
			logger.Error("request failed", "path", c.Request.URL.Path, "error", se)
		} else {
			logger.Warn("request rejected", "path", c.Request.URL.Path, "error", se)
		}
		c.JSON(se.Code, gin.H{"error": se})
	}
}

func RequestLogger(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		logger.Info("request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"latency", time.Since(start),
			"request_id", c.GetHeader("X-Request-ID"),
		)
	}
}

// APIKeyAuth checks the bearer token against a bcrypt hash. The last
// accepted key is remembered so steady traffic pays for one comparison.
func APIKeyAuth(hash []byte) gin.HandlerFunc {
	var (
		mu       sync.Mutex
		accepted []byte
	)

	return func(c *gin.Context) {
		key, ok := strings.CutPrefix(c.GetHeader("Authorization"), "Bearer ")
		if !ok || key == "" {
			c.Error(errors.ErrUnauthorized.WithReason("missing bearer token"))
			c.Abort()
			return
		}

		mu.Lock()
		known := accepted != nil && subtle.ConstantTimeCompare(accepted, []byte(key)) == 1
		mu.Unlock()
		if known {
			c.Next()
			return
		}

		if err := bcrypt.CompareHashAndPassword(hash, []byte(key)); err != nil {
			c.Error(errors.ErrUnauthorized.WithReason("invalid api key"))
			c.Abort()
			return
		}

		mu.Lock()
		accepted = []byte(key)
		mu.Unlock()
		c.Next()
	}
}
