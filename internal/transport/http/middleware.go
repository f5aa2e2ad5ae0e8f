package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/doubtline/internal/auth"
)

// ContextKeyIdentity is the context key for the resolved *auth.Identity.
// It is absent for guests.
const ContextKeyIdentity = "identity"

// ErrorResponse represents an error response body.
type ErrorResponse struct {
	Error string `json:"error"`
}

// IdentityMiddleware resolves the caller. A nil identity continues as guest;
// a resolver error rejects the request.
func IdentityMiddleware(resolver auth.Resolver, logger *zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := resolver.Resolve(c.Request)
		if err != nil {
			logger.Debug().Err(err).Str("path", c.Request.URL.Path).Msg("identity rejected")
			c.AbortWithStatusJSON(http.StatusUnauthorized, ErrorResponse{Error: "unauthorized"})
			return
		}
		if id != nil {
			c.Set(ContextKeyIdentity, id)
		}
		c.Next()
	}
}

// identityFrom returns the identity set by IdentityMiddleware, or nil.
func identityFrom(c *gin.Context) *auth.Identity {
	v, ok := c.Get(ContextKeyIdentity)
	if !ok {
		return nil
	}
	id, _ := v.(*auth.Identity)
	return id
}

// LoggerMiddleware creates a middleware that logs HTTP requests.
func LoggerMiddleware(logger *zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		logger.Debug().
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Msg("http request")
	}
}
