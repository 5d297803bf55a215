package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/mwantia/imghost/pkg/log"
)

const (
	requestIDHeader = "X-Request-ID"
	tokenHeader     = "X-API-Token"
	tokenKey        = "api_token"
)

// RequestLogger logs one line per request and tags it with a request id.
func RequestLogger(logger log.LoggerService) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		id := c.GetHeader(requestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		c.Header(requestIDHeader, id)

		c.Next()

		logger.Debug("%s %s %d %s [%s]",
			c.Request.Method, c.Request.URL.Path, c.Writer.Status(), time.Since(start), id)
	}
}

func HandlePanics(logger log.LoggerService) gin.RecoveryFunc {
	return func(c *gin.Context, recovered any) {
		logger.Error("Recovered from panic in %s %s: %v", c.Request.Method, c.Request.URL.Path, recovered)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"message": "internal server error",
		})
	}
}

// requestToken reads X-API-Token or an Authorization bearer token.
func requestToken(c *gin.Context) string {
	if token := strings.TrimSpace(c.GetHeader(tokenHeader)); token != "" {
		return token
	}

	scheme, token, found := strings.Cut(c.GetHeader("Authorization"), " ")
	if found && strings.EqualFold(scheme, "Bearer") {
		return strings.TrimSpace(token)
	}
	return ""
}

func (s *Server) requireToken() gin.HandlerFunc {
	return func(c *gin.Context) {
		cfg := s.Holder.Current().Config.API
		if !cfg.Enabled {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"success": false,
				"message": "api access is disabled",
			})
			return
		}

		entry, ok := cfg.Valid(requestToken(c), time.Now())
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"success": false,
				"message": "invalid or expired api token",
			})
			return
		}

		c.Set(tokenKey, entry.Name)
		c.Next()
	}
}
