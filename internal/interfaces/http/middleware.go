package http

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"saldobot/internal/infrastructure"
	"saldobot/internal/usecases"
)

type Middleware struct {
	auth    *usecases.AuthUsecase
	limiter *infrastructure.KeyedLimiter
}

// NewMiddleware wires optional JWT auth and per-client rate limiting.
// A nil auth or limiter disables that check.
func NewMiddleware(auth *usecases.AuthUsecase, limiter *infrastructure.KeyedLimiter) *Middleware {
	return &Middleware{
		auth:    auth,
		limiter: limiter,
	}
}

// AuthRequired validates the Bearer token when API auth is enabled
func (m *Middleware) AuthRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !m.auth.Enabled() {
			c.Next()
			return
		}

		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Authorization header required"})
			return
		}

		tokenString := strings.TrimPrefix(authHeader, "Bearer ")
		subject, err := m.auth.Verify(tokenString)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid token"})
			return
		}

		c.Set("subject", subject)
		c.Next()
	}
}

// RateLimitPerClient limits requests per authenticated subject, or per client IP
// when auth is off
func (m *Middleware) RateLimitPerClient() gin.HandlerFunc {
	return func(c *gin.Context) {
		if m.limiter == nil {
			c.Next()
			return
		}

		key := c.ClientIP()
		if subject := c.GetString("subject"); subject != "" {
			key = "sub:" + subject
		}

		if !m.limiter.Allow(key) {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "Rate limit exceeded"})
			return
		}

		c.Next()
	}
}

// CORSMiddleware allows Cross-Origin requests
func (m *Middleware) CORSMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, Authorization, accept, origin, Cache-Control, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	}
}

// SecurityHeaders adds security headers to prevent common attacks
func SecurityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		// Prevent MIME type sniffing
		c.Writer.Header().Set("X-Content-Type-Options", "nosniff")
		// Prevent clickjacking
		c.Writer.Header().Set("X-Frame-Options", "DENY")
		c.Writer.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		c.Writer.Header().Set("Content-Security-Policy", "default-src 'none'; img-src 'self'")

		c.Next()
	}
}

// RequestSizeLimiter limits request body size to prevent DoS
func RequestSizeLimiter(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		c.Next()
	}
}
