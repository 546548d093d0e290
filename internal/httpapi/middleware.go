package httpapi

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/klauspost/compress/gzip"

	"github.com/anshul1007/vermillion/internal/api"
)

const userKey = "user"

// requestLogger logs one line per request.
func requestLogger(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Info("http request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration", time.Since(start),
		)
	}
}

// limitBody caps the request body size. Reads past the limit fail and
// are reported as PAYLOAD_TOO_LARGE by the handlers.
func limitBody(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.Body != nil && maxBytes > 0 {
			c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		}
		c.Next()
	}
}

// inflate replaces a gzip request body with its decompressed stream.
func inflate() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !strings.EqualFold(c.GetHeader("Content-Encoding"), "gzip") {
			c.Next()
			return
		}
		zr, err := gzip.NewReader(c.Request.Body)
		if err != nil {
			fail(c, http.StatusBadRequest, api.CodeValidation, "invalid gzip body")
			return
		}
		defer zr.Close()
		c.Request.Body = zr
		c.Request.Header.Del("Content-Encoding")
		c.Next()
	}
}

// requireAuth checks the bearer token and stores the user in the context.
func requireAuth(tokens *Tokens) gin.HandlerFunc {
	return func(c *gin.Context) {
		tok, ok := strings.CutPrefix(c.GetHeader("Authorization"), "Bearer ")
		if !ok || tok == "" {
			fail(c, http.StatusUnauthorized, api.CodeUnauthorized, "missing bearer token")
			return
		}
		user, ok := tokens.User(tok)
		if !ok {
			fail(c, http.StatusUnauthorized, api.CodeUnauthorized, "invalid or expired token")
			return
		}
		c.Set(userKey, user)
		c.Next()
	}
}
